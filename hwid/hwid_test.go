package hwid

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFusesLayout(t *testing.T) {
	f := Fuses{
		ReadMAC0: func() uint32 { return 0x0b1c2d3e },
		ReadMAC1: func() uint32 { return 0xdead04e9 },
	}
	mac, err := f.HardwareAddr()
	require.NoError(t, err)
	assert.Equal(t, [6]byte{0x04, 0xe9, 0x0b, 0x1c, 0x2d, 0x3e}, mac)
}

func TestFlashSerialLayout(t *testing.T) {
	fs := FlashSerial{
		Prefix:     [3]byte{0x04, 0xe9, 0xe5},
		ReadSerial: func() (uint32, error) { return 0xff123456, nil },
	}
	mac, err := fs.HardwareAddr()
	require.NoError(t, err)
	assert.Equal(t, [6]byte{0x04, 0xe9, 0xe5, 0x12, 0x34, 0x56}, mac)
}

func TestFlashSerialReadError(t *testing.T) {
	errBusy := errors.New("flash busy")
	fs := FlashSerial{
		Prefix:     [3]byte{0x02},
		ReadSerial: func() (uint32, error) { return 0, errBusy },
	}
	_, err := fs.HardwareAddr()
	assert.ErrorIs(t, err, errBusy)
}

func TestUnsupportedFailsLoudly(t *testing.T) {
	for _, src := range []Source{Unsupported{}, Fuses{}, FlashSerial{}} {
		mac, err := src.HardwareAddr()
		assert.ErrorIs(t, err, ErrUnsupported, "%v", src)
		assert.Equal(t, [6]byte{}, mac)
	}
}

func TestInvalidAddr(t *testing.T) {
	zero := Fuses{
		ReadMAC0: func() uint32 { return 0 },
		ReadMAC1: func() uint32 { return 0 },
	}
	_, err := zero.HardwareAddr()
	assert.ErrorIs(t, err, ErrInvalidAddr)

	multicast := FlashSerial{
		Prefix:     [3]byte{0x01, 0x00, 0x5e},
		ReadSerial: func() (uint32, error) { return 1, nil },
	}
	_, err = multicast.HardwareAddr()
	assert.ErrorIs(t, err, ErrInvalidAddr)
}

func TestAppendNotice(t *testing.T) {
	got := AppendNotice(nil, [6]byte{0x04, 0xe9, 0xe5, 0x0b, 0x1c, 0x2d})
	assert.Equal(t, "MAC: 04:e9:e5:0b:1c:2d", string(got))
}

// fuseWord stands in for a memory-mapped fuse shadow register.
type fuseWord uint32

func (w *fuseWord) Get() uint32 { return uint32(*w) }

func TestFusesFromRegisters(t *testing.T) {
	// Teensy 4.1 OCOTP contents as programmed by PJRC.
	mac0, mac1 := fuseWord(0x1234abcd), fuseWord(0x000004e9)
	f := Fuses{ReadMAC0: mac0.Get, ReadMAC1: mac1.Get}
	mac, err := f.HardwareAddr()
	require.NoError(t, err)
	assert.Equal(t, [6]byte{0x04, 0xe9, 0x12, 0x34, 0xab, 0xcd}, mac)
	assert.Equal(t, "fuses", f.String())

	// Registers are read on every call, not captured once.
	mac0 = 0x1234abce
	mac, err = f.HardwareAddr()
	require.NoError(t, err)
	assert.Equal(t, byte(0xce), mac[5])
}

func TestDefaultOnHost(t *testing.T) {
	src := Default()
	assert.IsType(t, Unsupported{}, src)
	_, err := src.HardwareAddr()
	assert.ErrorIs(t, err, ErrUnsupported)
}
