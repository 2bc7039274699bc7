//go:build rp2040 || rp2350

// Command ethdiag is the Ethernet diagnostic firmware for a Raspberry Pi Pico
// wired to a LAN8720 breakout. It leases an address over DHCP and, on command
// from the serial console, runs an iperf2-compatible throughput sink on port 5001.
//
//	tinygo flash -target=pico -scheduler=tasks -monitor ./cmd/ethdiag
//
// Console commands:
//
//	h  show the help page
//	1  run the iperf2 server (does not return, reset the board to leave)
package main

// WARNING: default -scheduler=cores unsupported, compile with -scheduler=tasks set!

import (
	"errors"
	"log/slog"
	"machine"
	"time"

	"github.com/soypat/ethdiag/console"
	"github.com/soypat/ethdiag/hwid"
	"github.com/soypat/ethdiag/iperf"
	"github.com/soypat/ethdiag/lan8720"
	"github.com/soypat/ethdiag/lannet"
	"github.com/soypat/ethdiag/netsetup"
	"github.com/soypat/lneto/phy"
	pio "github.com/tinygo-org/pio/rp2-pio"
	"github.com/tinygo-org/pio/rp2-pio/piolib"
)

const (
	linkmode  = phy.Link100FDX
	loopSleep = 5 * time.Millisecond
	// Print every frame on the console. Slows the link down considerably.
	printPcap = false

	dhcpTimeout = 7 * time.Second
	dhcpRetries = 3

	// MDIO pins:
	pinMDIO = machine.GPIO0
	pinMDC  = machine.GPIO1
	// Reference clock: (50MHz from PHY)
	// Mistakenly spelled as Retclk on breakout.
	pinRefClk = machine.GPIO2
	// RX pins: GPIO 3, 4, 5 (RXD0, RXD1, CRS_DV)
	pinRxBase = machine.GPIO3
	// TX pins: GPIO 7, 8, 9 (TXD0, TXD1, TX_EN)
	pinTxBase = machine.GPIO7
)

var requestedIP = [4]byte{192, 168, 1, 99}

func main() {
	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	led.Low()
	// No way to detect the console on every target; give the monitor time to attach.
	time.Sleep(2 * time.Second)
	logger := slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	baud := 1e6 * linkmode.SpeedMbps()
	dev, err := lan8720.NewPicoLAN8720Single(lan8720.PicoConfig{
		PHYConfig: lan8720.Config{
			PHYAddr:       1,
			Advertisement: phy.NewANAR().With100M(),
		},
		PIO:  pio.PIO0,
		MDC:  pinMDC,
		MDIO: pinMDIO,
		TxConfig: piolib.RMIITxConfig{
			Baud:     uint32(baud),
			TxBuffer: make([]byte, lannet.MFU),
			TxBase:   pinTxBase,
			RefClk:   pinRefClk,
		},
		RxConfig: piolib.RMIIRxConfig{
			Baud:           uint32(baud),
			RxBase:         pinRxBase,
			IRQ:            0,
			IRQSourceIndex: 0,
		},
	})
	if err != nil && !errors.Is(err, lan8720.ErrNoPHY) {
		panic("lan8720 config: " + err.Error())
	}

	board := lannet.NewBoard(dev, lannet.BoardConfig{
		Stack: lannet.StackConfig{
			Hostname:          "ethdiag",
			MaxTCPPorts:       1,
			Logger:            logger,
			PcapOutput:        serialWriter{},
			EnableRxPcapPrint: printPcap,
			EnableTxPcapPrint: printPcap,
		},
		RequestedAddr: requestedIP,
		DHCPTimeout:   dhcpTimeout,
		DHCPRetries:   dhcpRetries,
		PollPeriod:    loopSleep,
	})
	res, err := netsetup.BringUp(board, netsetup.Config{
		Console: machine.Serial,
		Source:  hwid.Default(),
		Logger:  logger,
	})
	if err != nil {
		netsetup.Halt()
	}

	listener, err := board.Stack().ListenTCP(iperf.DefaultPort, lannet.ListenerConfig{})
	if err != nil {
		panic("iperf listen: " + err.Error())
	}
	sink, err := iperf.NewSink(iperf.Config{
		Acceptor:  listener,
		Console:   machine.Serial,
		Addr:      res.Addr,
		Indicator: led,
		Logger:    logger,
	})
	if err != nil {
		panic("iperf sink: " + err.Error())
	}
	dispatcher, err := console.NewDispatcher(console.Config{
		Port:           machine.Serial,
		Output:         machine.Serial,
		Indicator:      led,
		Title:          "Pico LAN8720 Ethernet diagnostics",
		ThroughputTest: sink.Serve,
		PollPeriod:     loopSleep,
		Logger:         logger,
	})
	if err != nil {
		panic("console: " + err.Error())
	}
	dispatcher.Usage()
	dispatcher.Run()
}

// serialWriter chunks writes so the USB CDC buffer is not overrun by pcap lines.
type serialWriter struct{}

func (serialWriter) Write(b []byte) (int, error) {
	const chunkSize = 256
	const sleep = 30 * time.Millisecond
	total := len(b)
	for len(b) > 0 {
		n := min(len(b), chunkSize)
		machine.Serial.Write(b[:n])
		b = b[n:]
		if len(b) > 0 {
			time.Sleep(sleep)
		}
	}
	return total, nil
}
