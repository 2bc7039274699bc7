// Package netsetup sequences network bring-up at startup: derive the hardware
// address, lease an IP address over DHCP and report progress on the console.
//
// Failure is fatal by contract. BringUp never hands back a partially
// configured network; it returns a [*FatalError] and leaves halting to the
// caller (see [Halt]).
package netsetup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"time"

	"github.com/soypat/ethdiag/hwid"
	"github.com/soypat/lneto/ethernet"
)

// HardwareStatus reports whether the Ethernet controller/PHY answered.
type HardwareStatus uint8

const (
	HardwareUnknown HardwareStatus = iota // unknown
	HardwarePresent                       // present
	HardwareAbsent                        // absent
)

// LinkStatus is the physical-layer connectivity of the interface.
type LinkStatus uint8

const (
	LinkUnknown LinkStatus = iota // unknown
	LinkOn                        // on
	LinkOff                       // off
)

// Lease is the outcome of a successful DHCP exchange.
type Lease struct {
	Addr   netip.Addr
	Router netip.Addr
	// Duration is the lease time granted by the server.
	Duration time.Duration
}

// Interface is the network interface driven by BringUp. Timeout and retry
// policy of RequestAddress belong to the implementation.
type Interface interface {
	HardwareStatus() HardwareStatus
	LinkStatus() LinkStatus
	RequestAddress(mac [6]byte) (Lease, error)
}

// Config holds the collaborators of BringUp.
type Config struct {
	// Console receives operator-facing progress lines.
	Console io.Writer
	// Source derives the hardware address. Required.
	Source hwid.Source
	// Logger is optional.
	Logger *slog.Logger
}

// Result holds the startup values every later network operation depends on.
// Both fields are populated whenever BringUp returns a nil error.
type Result struct {
	HardwareAddr [6]byte
	Addr         netip.Addr
	Lease        Lease
}

var (
	ErrNoHardwareAddr = errors.New("could not get MAC")
	ErrNoHardware     = errors.New("ethernet hardware not found")
	ErrLinkDown       = errors.New("ethernet cable is not connected")
	ErrDHCP           = errors.New("DHCP failed")
)

// FatalError is returned by BringUp. Kind is one of the package's sentinel
// errors and Err the underlying cause, if any.
type FatalError struct {
	Kind error
	Err  error
}

func (fe *FatalError) Error() string {
	if fe.Err == nil {
		return "netsetup: " + fe.Kind.Error()
	}
	return "netsetup: " + fe.Kind.Error() + ": " + fe.Err.Error()
}

func (fe *FatalError) Unwrap() []error {
	if fe.Err == nil {
		return []error{fe.Kind}
	}
	return []error{fe.Kind, fe.Err}
}

// BringUp derives the hardware address and leases a network address with it.
// Hardware presence is checked before any DHCP traffic is attempted. If the
// DHCP exchange fails the link status decides the reported diagnostic.
func BringUp(iface Interface, cfg Config) (Result, error) {
	var res Result
	if cfg.Source == nil {
		return res, errors.New("netsetup: nil hardware address source")
	}
	c := console{w: cfg.Console}
	mac, err := cfg.Source.HardwareAddr()
	if err != nil {
		c.line("ERROR: could not get MAC")
		return res, fatal(cfg.Logger, ErrNoHardwareAddr, err)
	}
	c.write(hwid.AppendNotice(c.buf[:0], mac))
	res.HardwareAddr = mac
	if cfg.Logger != nil {
		cfg.Logger.LogAttrs(context.Background(), slog.LevelInfo, "hardware address derived",
			slog.String("source", sourceName(cfg.Source)),
			slog.String("mac", string(ethernet.AppendAddr(nil, mac))),
		)
	}

	c.line("Starting Ethernet system with DHCP. Please wait...")
	if iface.HardwareStatus() == HardwareAbsent {
		c.line("Failed to configure Ethernet using DHCP")
		c.line("Ethernet shield was not found. Sorry, can't run without hardware. :(")
		return res, fatal(cfg.Logger, ErrNoHardware, nil)
	}

	lease, err := iface.RequestAddress(mac)
	if err == nil && !lease.Addr.IsValid() {
		err = errors.New("lease without address")
	}
	if err != nil {
		c.line("Failed to configure Ethernet using DHCP")
		if iface.LinkStatus() == LinkOff {
			c.line("Ethernet cable is not connected.")
			return res, fatal(cfg.Logger, ErrLinkDown, err)
		}
		return res, fatal(cfg.Logger, ErrDHCP, err)
	}
	res.Addr = lease.Addr
	res.Lease = lease

	c.write(lease.Addr.AppendTo(append(c.buf[:0], "Got DHCP address "...)))
	c.line("Starting iperf server")
	if cfg.Logger != nil {
		cfg.Logger.LogAttrs(context.Background(), slog.LevelInfo, "bring-up complete",
			slog.String("mac", string(ethernet.AppendAddr(nil, mac))),
			slog.String("addr", lease.Addr.String()),
			slog.String("router", lease.Router.String()),
			slog.Duration("lease", lease.Duration),
		)
	}
	return res, nil
}

// Halt parks the calling goroutine forever. It is the firmware's response to
// a FatalError: the device stays out of service until it is reset.
func Halt() {
	for {
		time.Sleep(time.Millisecond)
	}
}

// sourceName names the identifier source for logs.
func sourceName(src hwid.Source) string {
	if s, ok := src.(fmt.Stringer); ok {
		return s.String()
	}
	return "unknown"
}

func fatal(log *slog.Logger, kind, err error) error {
	fe := &FatalError{Kind: kind, Err: err}
	if log != nil {
		log.LogAttrs(context.Background(), slog.LevelError, "bring-up failed", slog.String("err", fe.Error()))
	}
	return fe
}

type console struct {
	w   io.Writer
	buf [64]byte
}

func (c *console) line(s string) {
	c.write(append(c.buf[:0], s...))
}

func (c *console) write(b []byte) {
	if c.w == nil {
		return
	}
	c.w.Write(append(b, '\n'))
}
