package netsetup

import (
	"bytes"
	"errors"
	"log/slog"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/soypat/ethdiag/hwid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIface struct {
	hw       HardwareStatus
	link     LinkStatus
	lease    Lease
	err      error
	requests int
	gotMAC   [6]byte
}

func (f *fakeIface) HardwareStatus() HardwareStatus { return f.hw }
func (f *fakeIface) LinkStatus() LinkStatus         { return f.link }

func (f *fakeIface) RequestAddress(mac [6]byte) (Lease, error) {
	f.requests++
	f.gotMAC = mac
	return f.lease, f.err
}

var testSource = hwid.FlashSerial{
	Prefix:     [3]byte{0x04, 0xe9, 0xe5},
	ReadSerial: func() (uint32, error) { return 0x0b1c2d, nil },
}

func lines(buf *bytes.Buffer) []string {
	return strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
}

func TestBringUpSuccess(t *testing.T) {
	want := netip.MustParseAddr("192.168.1.42")
	iface := &fakeIface{
		hw:   HardwarePresent,
		link: LinkOn,
		lease: Lease{
			Addr:     want,
			Router:   netip.MustParseAddr("192.168.1.1"),
			Duration: time.Hour,
		},
	}
	var out bytes.Buffer
	res, err := BringUp(iface, Config{Console: &out, Source: testSource})
	require.NoError(t, err)
	assert.Equal(t, want, res.Addr)
	assert.Equal(t, [6]byte{0x04, 0xe9, 0xe5, 0x0b, 0x1c, 0x2d}, res.HardwareAddr)
	assert.Equal(t, res.HardwareAddr, iface.gotMAC)
	assert.Equal(t, []string{
		"MAC: 04:e9:e5:0b:1c:2d",
		"Starting Ethernet system with DHCP. Please wait...",
		"Got DHCP address 192.168.1.42",
		"Starting iperf server",
	}, lines(&out))
}

func TestBringUpLogsAddressSource(t *testing.T) {
	iface := &fakeIface{
		hw:    HardwarePresent,
		link:  LinkOn,
		lease: Lease{Addr: netip.MustParseAddr("10.0.0.7")},
	}
	var logbuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logbuf, nil))
	_, err := BringUp(iface, Config{Console: &bytes.Buffer{}, Source: testSource, Logger: logger})
	require.NoError(t, err)
	logs := logbuf.String()
	assert.Contains(t, logs, `msg="hardware address derived" source="flash serial" mac=04:e9:e5:0b:1c:2d`)
	assert.Contains(t, logs, `msg="bring-up complete" mac=04:e9:e5:0b:1c:2d addr=10.0.0.7`)
}

func TestSourceName(t *testing.T) {
	assert.Equal(t, "fuses", sourceName(hwid.Fuses{}))
	assert.Equal(t, "flash serial", sourceName(testSource))
	assert.Equal(t, "unsupported", sourceName(hwid.Unsupported{}))
	assert.Equal(t, "unknown", sourceName(bareSource{}))
}

type bareSource struct{}

func (bareSource) HardwareAddr() ([6]byte, error) { return [6]byte{0x02, 0, 0, 0, 0, 1}, nil }

func TestBringUpHardwareAbsent(t *testing.T) {
	iface := &fakeIface{hw: HardwareAbsent, err: errors.New("timeout")}
	var out bytes.Buffer
	_, err := BringUp(iface, Config{Console: &out, Source: testSource})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoHardware)
	assert.Zero(t, iface.requests, "must not request an address without hardware")
	assert.Contains(t, out.String(), "Ethernet shield was not found")
	assert.NotContains(t, out.String(), "cable is not connected")

	var fe *FatalError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, ErrNoHardware, fe.Kind)
}

func TestBringUpLinkDown(t *testing.T) {
	errTimeout := errors.New("dhcp timeout")
	iface := &fakeIface{hw: HardwarePresent, link: LinkOff, err: errTimeout}
	var out bytes.Buffer
	_, err := BringUp(iface, Config{Console: &out, Source: testSource})
	assert.ErrorIs(t, err, ErrLinkDown)
	assert.ErrorIs(t, err, errTimeout)
	assert.Equal(t, 1, iface.requests)
	assert.Equal(t, []string{
		"MAC: 04:e9:e5:0b:1c:2d",
		"Starting Ethernet system with DHCP. Please wait...",
		"Failed to configure Ethernet using DHCP",
		"Ethernet cable is not connected.",
	}, lines(&out))
}

func TestBringUpDHCPFailureWithLink(t *testing.T) {
	iface := &fakeIface{hw: HardwarePresent, link: LinkOn, err: errors.New("no offer")}
	var out bytes.Buffer
	_, err := BringUp(iface, Config{Console: &out, Source: testSource})
	assert.ErrorIs(t, err, ErrDHCP)
	assert.NotErrorIs(t, err, ErrLinkDown)
	assert.Contains(t, out.String(), "Failed to configure Ethernet using DHCP")
}

func TestBringUpInvalidLease(t *testing.T) {
	iface := &fakeIface{hw: HardwarePresent, link: LinkOn}
	_, err := BringUp(iface, Config{Source: testSource})
	assert.ErrorIs(t, err, ErrDHCP)
}

func TestBringUpUnsupportedSource(t *testing.T) {
	iface := &fakeIface{hw: HardwarePresent, link: LinkOn}
	var out bytes.Buffer
	_, err := BringUp(iface, Config{Console: &out, Source: hwid.Unsupported{}})
	assert.ErrorIs(t, err, ErrNoHardwareAddr)
	assert.ErrorIs(t, err, hwid.ErrUnsupported)
	assert.Zero(t, iface.requests)
	assert.Equal(t, "ERROR: could not get MAC\n", out.String())
}

func TestFatalErrorMessage(t *testing.T) {
	fe := &FatalError{Kind: ErrLinkDown}
	assert.Equal(t, "netsetup: ethernet cable is not connected", fe.Error())
	fe.Err = errors.New("timeout")
	assert.Equal(t, "netsetup: ethernet cable is not connected: timeout", fe.Error())
}
