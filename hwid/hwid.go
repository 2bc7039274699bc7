// Package hwid derives the 6-byte Ethernet hardware address of a board from
// chip-specific identifier sources.
//
// Each supported chip family provides a [Source]. The one compiled into the
// firmware is returned by Default and chosen by build tags. Chips without a
// known identifier source get [Unsupported], which fails instead of handing
// out an uninitialized address.
//
//   - RP2040, RP2350: [FlashSerial] over the QSPI flash unique ID.
//   - i.MX RT1062 (Teensy 4.x): [Fuses] over the OCOTP MAC0/MAC1 words.
package hwid

import (
	"encoding/binary"
	"errors"

	"github.com/soypat/lneto/ethernet"
)

var (
	ErrUnsupported = errors.New("hwid: no hardware address source for this chip")
	ErrInvalidAddr = errors.New("hwid: derived address is zero or multicast")
)

// Source derives a device-unique hardware address.
type Source interface {
	HardwareAddr() ([6]byte, error)
}

// Fuses derives the address from two fixed-function fuse words holding a
// factory-programmed MAC. MAC1 carries the two most significant address bytes
// in its low half-word, MAC0 carries the remaining four, most significant first.
type Fuses struct {
	ReadMAC0 func() uint32
	ReadMAC1 func() uint32
}

func (f Fuses) HardwareAddr() (mac [6]byte, err error) {
	if f.ReadMAC0 == nil || f.ReadMAC1 == nil {
		return mac, ErrUnsupported
	}
	hi := f.ReadMAC1()
	lo := f.ReadMAC0()
	mac[0] = byte(hi >> 8)
	mac[1] = byte(hi)
	binary.BigEndian.PutUint32(mac[2:], lo)
	return mac, validate(mac)
}

func (f Fuses) String() string { return "fuses" }

// FlashSerial derives the address from a chip serial number obtained through
// a privileged read (flash controller command or flash unique ID). The low 24
// bits of the serial are appended to Prefix, most significant byte first.
type FlashSerial struct {
	Prefix [3]byte
	// ReadSerial performs the chip-specific serial read. It may need to mask
	// interrupts while the flash is busy; that is up to the implementation.
	ReadSerial func() (uint32, error)
}

func (fs FlashSerial) HardwareAddr() (mac [6]byte, err error) {
	if fs.ReadSerial == nil {
		return mac, ErrUnsupported
	}
	sn, err := fs.ReadSerial()
	if err != nil {
		return mac, err
	}
	copy(mac[:3], fs.Prefix[:])
	mac[3] = byte(sn >> 16)
	mac[4] = byte(sn >> 8)
	mac[5] = byte(sn)
	return mac, validate(mac)
}

func (fs FlashSerial) String() string { return "flash serial" }

// Unsupported is the Source for chips with no known identifier source.
type Unsupported struct{}

func (Unsupported) HardwareAddr() ([6]byte, error) { return [6]byte{}, ErrUnsupported }

func (Unsupported) String() string { return "unsupported" }

// AppendNotice appends the console notice for a derived address, i.e:
//
//	MAC: 04:e9:e5:0b:1c:2d
func AppendNotice(dst []byte, mac [6]byte) []byte {
	dst = append(dst, "MAC: "...)
	return ethernet.AppendAddr(dst, mac)
}

func validate(mac [6]byte) error {
	if mac == [6]byte{} || mac[0]&1 != 0 {
		return ErrInvalidAddr
	}
	return nil
}
