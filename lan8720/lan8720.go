// Package lan8720 drives the LAN8720 10/100 Ethernet PHY used by the
// diagnostic firmware.
//
// The PHY is managed over MDIO and moves frames over RMII. Frame movement is
// abstracted behind [RMIISingle] so the board file only has to provide the
// RMII state machines; on RP2040/RP2350 those run on PIO.
package lan8720

import (
	"errors"
	"time"

	"github.com/soypat/lneto/phy"
)

// ErrNoPHY is joined to the error returned by Configure when the PHY does not
// respond on the MDIO bus, which on this board means the breakout is missing
// or unpowered.
var ErrNoPHY = errors.New("lan8720: PHY not responding on MDIO")

// Config holds the configuration parameters for initializing a LAN8720 device.
type Config struct {
	// PHYAddr is the MDIO address of the PHY, 0-31. Breakouts strap it to 1.
	PHYAddr uint8
	// Advertisement is the autonegotiation mode.
	Advertisement phy.ANAR
}

// RMIISingle moves one frame at a time in each direction.
type RMIISingle interface {
	RMIIRxSingle
	RMIITxSingle
}

// RMIITxSingle transmits frames over RMII. Preamble, SFD and CRC are the
// implementation's job.
type RMIITxSingle interface {
	// IsSending returns true while a frame transmission is in progress.
	IsSending() bool
	// SendFrame transmits a complete Ethernet frame. Fails if busy.
	SendFrame(frame []byte) error
}

// RMIIRxSingle receives frames over RMII. After each frame the receiver stops
// until StartRxSingle is called again, so the frame can be processed without
// being overrun.
type RMIIRxSingle interface {
	// StopRx aborts any ongoing reception.
	StopRx() error
	// StartRxSingle arms reception of a single frame. On arrival the callback
	// set with SetRxHandler is called.
	StartRxSingle() error
	// SetRxHandler sets the receive buffer and the callback invoked with the
	// received portion of rxbuf. Must be called before StartRxSingle.
	SetRxHandler(rxbuf []byte, callback func(buf []byte)) (err error)
	// InRx returns true while armed and waiting for a frame.
	InRx() bool
}

// PHY is a LAN8720 PHY. Use Configure before anything else.
type PHY struct {
	phy.Device
	configured bool
}

// Configure resets the PHY at cfg.PHYAddr and starts autonegotiation with the
// requested advertisement. A PHY that fails to reset is reported with ErrNoPHY.
func (d *PHY) Configure(mdio phy.MDIOBus, cfg Config) (err error) {
	if cfg.Advertisement == 0 {
		return errors.New("invalid advertisement")
	}
	d.configured = false
	p := &d.Device
	p.ConfigureAs22(mdio, cfg.PHYAddr)
	err = p.ResetPHY()
	if err != nil {
		return errors.Join(ErrNoPHY, err)
	}
	err = p.SetAdvertisement(cfg.Advertisement)
	if err != nil {
		return err
	}
	err = p.EnableAutoNegotiation(true)
	if err != nil {
		return err
	}
	d.configured = true
	return nil
}

// Present reports whether Configure succeeded, i.e: the PHY answered.
func (d *PHY) Present() bool { return d.configured }

// WaitAutoNegotiation waits up to timeout for autonegotiation to complete and
// returns the negotiated link mode. Give the LAN8720 at least 2 seconds.
func (d *PHY) WaitAutoNegotiation(timeout time.Duration) (phy.LinkMode, error) {
	deadline := time.Now().Add(timeout)
	linkUp, err := d.Device.WaitForLinkWithDeadline(deadline)
	if err != nil {
		return phy.LinkDown, err
	}
	if !linkUp {
		return phy.LinkDown, errors.New("auto-negotiation timeout")
	}
	return d.Device.NegotiatedLink()
}

// LinkMode returns the current negotiated link without waiting. Any MDIO
// failure reads as phy.LinkDown.
func (d *PHY) LinkMode() phy.LinkMode {
	if !d.configured {
		return phy.LinkDown
	}
	link, err := d.Device.NegotiatedLink()
	if err != nil {
		return phy.LinkDown
	}
	return link
}

// DeviceSingle is a LAN8720 PHY together with its single-frame RMII.
type DeviceSingle struct {
	PHY
	RMIISingle
}

func (ds *DeviceSingle) Configure(mdio phy.MDIOBus, rmii RMIISingle, cfg Config) error {
	ds.RMIISingle = rmii
	return ds.PHY.Configure(mdio, cfg)
}

// pinsOverlap reports whether any two of the pin bitmasks share a pin.
func pinsOverlap(masks ...uint64) bool {
	var seen uint64
	for _, m := range masks {
		if seen&m != 0 {
			return true
		}
		seen |= m
	}
	return false
}
