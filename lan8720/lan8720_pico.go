//go:build rp2040 || rp2350

package lan8720

import (
	"errors"
	"machine"
	"time"

	"github.com/soypat/lneto/phy"
	pio "github.com/tinygo-org/pio/rp2-pio"
	"github.com/tinygo-org/pio/rp2-pio/piolib"
)

// PicoConfig holds configuration for creating a LAN8720 device on RP2040/RP2350.
type PicoConfig struct {
	// PIO runs the RMII state machines. Use pio.PIO0 or pio.PIO1.
	PIO       *pio.PIO
	PHYConfig Config
	// MDC and MDIO are bit-banged from the CPU.
	MDC      machine.Pin
	MDIO     machine.Pin
	TxConfig piolib.RMIITxConfig
	RxConfig piolib.RMIIRxConfig
}

// picoRMII adapts piolib.RMIITx and piolib.RMIIRx to RMIISingle.
type picoRMII struct {
	tx piolib.RMIITx
	rx piolib.RMIIRx
}

func (p *picoRMII) IsSending() bool              { return p.tx.IsSending() }
func (p *picoRMII) SendFrame(frame []byte) error { return p.tx.SendFrame(frame) }
func (p *picoRMII) StopRx() error                { return p.rx.StopRx() }
func (p *picoRMII) StartRxSingle() error         { return p.rx.StartRx() }
func (p *picoRMII) InRx() bool                   { return p.rx.InRx() }

func (p *picoRMII) SetRxHandler(rxbuf []byte, callback func(buf []byte)) error {
	return p.rx.SetRxIRQHandler(rxbuf, callback)
}

// NewPicoLAN8720Single configures PIO RMII and bit-banged MDIO, then resets the
// PHY. An absent PHY yields an error matching ErrNoPHY.
func NewPicoLAN8720Single(cfg PicoConfig) (*DeviceSingle, error) {
	mdiomsk := uint64(1)<<cfg.MDC | uint64(1)<<cfg.MDIO
	txmsk := uint64(0b111) << cfg.TxConfig.TxBase
	rxmsk := uint64(0b111) << cfg.RxConfig.RxBase
	if pinsOverlap(mdiomsk, txmsk, rxmsk) {
		return nil, errors.New("aliased pins, check pin definitions")
	}
	mdio := makeMDIO(cfg.MDC, cfg.MDIO)

	rmii := &picoRMII{}
	err := rmii.rx.Configure(cfg.PIO, cfg.RxConfig)
	if err != nil {
		return nil, err
	}
	err = rmii.tx.Configure(cfg.PIO, cfg.TxConfig)
	if err != nil {
		return nil, err
	}

	var dev DeviceSingle
	err = dev.Configure(mdio, rmii, cfg.PHYConfig)
	if err != nil {
		return nil, err
	}
	return &dev, nil
}

func makeMDIO(pinMDC, pinMDIO machine.Pin) *phy.MDIOBitBang {
	const mdioDelay = 340 * time.Nanosecond // max MDIO turnaround

	pinMDIO.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	pinMDC.Configure(machine.PinConfig{Mode: machine.PinOutput})
	pinMDC.Low()
	clock := func() {
		time.Sleep(mdioDelay)
		pinMDC.High()
		time.Sleep(mdioDelay)
		pinMDC.Low()
	}

	var bus phy.MDIOBitBang
	bus.Configure(
		func(outBit bool) {
			// Open drain: release for 1, drive low for 0.
			if outBit {
				pinMDIO.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
			} else {
				pinMDIO.Low()
				pinMDIO.Configure(machine.PinConfig{Mode: machine.PinOutput})
			}
			clock()
		},
		func() bool {
			clock()
			return pinMDIO.Get()
		},
		func(setOut bool) {
			if setOut {
				pinMDIO.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
			} else {
				pinMDIO.Configure(machine.PinConfig{Mode: machine.PinInput})
			}
		},
	)
	return &bus
}
