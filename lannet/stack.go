// Package lannet glues the LAN8720 driver to lneto's networking stack and
// exposes the pieces the diagnostic firmware needs: a frame pump, DHCP
// bring-up behind netsetup.Interface and a TCP listener behind iperf.Acceptor.
package lannet

import (
	"context"
	"errors"
	"hash/crc32"
	"io"
	"log/slog"
	"net/netip"
	"time"

	"github.com/soypat/ethdiag/lan8720"
	"github.com/soypat/lneto/ethernet"
	"github.com/soypat/lneto/x/xnet"
)

const (
	MTU = 1500
	MFU = MTU + ethernet.MaxOverheadSize
)

// Stack wraps the LAN8720 device with lneto's networking stack.
type Stack struct {
	s       xnet.StackAsync
	dev     lan8720.RMIISingle
	log     *slog.Logger
	sendbuf []byte
	rxbuf   []byte
	rxgot   int
	pcap    xnet.CapturePrinter
	// pcap printing is enabled per direction when PcapOutput is set.
	enableRxPcap bool
	enableTxPcap bool
}

type StackConfig struct {
	StaticAddress netip.Addr
	Hostname      string
	MaxTCPPorts   int
	RandSeed      int64
	Logger        *slog.Logger
	// PcapOutput receives a one-line breakdown of every frame in the enabled
	// directions. Serial ports need a writer that chunks output.
	PcapOutput        io.Writer
	EnableRxPcapPrint bool
	EnableTxPcapPrint bool
}

// crcTable is the IEEE CRC-32 table used for Ethernet FCS calculation.
var crcTable = crc32.MakeTable(crc32.IEEE)

// NewStack resets the lneto stack for hardware address mac and arms reception
// of the first frame on dev.
func NewStack(dev lan8720.RMIISingle, mac [6]byte, cfg StackConfig) (*Stack, error) {
	if dev == nil {
		return nil, errors.New("lannet: nil device")
	}
	if cfg.Hostname == "" {
		cfg.Hostname = "ethdiag"
	}
	if cfg.MaxTCPPorts <= 0 {
		cfg.MaxTCPPorts = 1
	}
	stack := &Stack{
		dev:          dev,
		log:          cfg.Logger,
		sendbuf:      make([]byte, MFU),
		rxbuf:        make([]byte, MFU),
		enableRxPcap: cfg.EnableRxPcapPrint && cfg.PcapOutput != nil,
		enableTxPcap: cfg.EnableTxPcapPrint && cfg.PcapOutput != nil,
	}
	if stack.enableRxPcap || stack.enableTxPcap {
		stack.pcap.Configure(cfg.PcapOutput, xnet.CapturePrinterConfig{
			TimePrecision: 3,
			Now:           time.Now,
		})
	}

	err := stack.s.Reset(xnet.StackConfig{
		StaticAddress:   cfg.StaticAddress,
		Hostname:        cfg.Hostname,
		MaxTCPConns:     cfg.MaxTCPPorts,
		RandSeed:        time.Now().UnixNano() ^ cfg.RandSeed,
		HardwareAddress: mac,
		MTU:             MTU,
		EthernetTxCRC32Update: func(crc uint32, b []byte) uint32 {
			return crc32.Update(crc, crcTable, b)
		},
	})
	if err != nil {
		return nil, err
	}

	// The RMII interrupt only records the frame length; demuxing happens in RecvAndSend.
	err = dev.SetRxHandler(stack.rxbuf, func(buf []byte) {
		stack.rxgot = len(buf)
	})
	if err != nil {
		return nil, err
	}
	err = dev.StartRxSingle()
	if err != nil {
		return nil, err
	}
	return stack, nil
}

func (stack *Stack) Hostname() string {
	return stack.s.Hostname()
}

func (stack *Stack) LnetoStack() *xnet.StackAsync {
	return &stack.s
}

// RecvAndSend demuxes the pending received frame, if any, re-arms reception
// and transmits at most one outgoing frame.
func (stack *Stack) RecvAndSend() (send, recv int, err error) {
	dev := stack.dev
	if stack.rxgot > 0 {
		n := stack.rxgot
		stack.rxgot = 0 // Reset before processing to avoid reprocessing.
		recv = n
		if stack.enableRxPcap {
			stack.pcap.PrintPacket("RX", stack.rxbuf[:n])
		}
		err = stack.s.Demux(stack.rxbuf[:n], 0)
		if err != nil {
			stack.logerr("RecvAndSend:Demux", slog.Int("plen", n), slog.String("err", err.Error()))
		}
		rxerr := dev.StartRxSingle()
		if rxerr != nil {
			stack.logerr("RecvAndSend:StartRxSingle", slog.String("err", rxerr.Error()))
		}
	}

	send, err = stack.s.Encapsulate(stack.sendbuf, -1, 0)
	if err != nil {
		stack.logerr("RecvAndSend:Encapsulate", slog.Int("plen", send), slog.String("err", err.Error()))
		return send, recv, err
	}
	if send == 0 {
		return send, recv, nil
	}
	if stack.enableTxPcap {
		stack.pcap.PrintPacket("TX", stack.sendbuf[:send])
	}
	err = dev.SendFrame(stack.sendbuf[:send])
	if err != nil {
		stack.logerr("RecvAndSend:SendFrame", slog.Int("plen", send), slog.String("err", err.Error()))
	}
	return send, recv, err
}

// PumpForever runs RecvAndSend in a loop, sleeping idle between passes
// that moved no frames. Run it in its own goroutine.
func (stack *Stack) PumpForever(idle time.Duration) {
	for {
		send, recv, _ := stack.RecvAndSend()
		if send == 0 && recv == 0 {
			time.Sleep(idle)
		}
	}
}

func (stack *Stack) logerr(msg string, attrs ...slog.Attr) {
	if stack.log != nil {
		stack.log.LogAttrs(context.Background(), slog.LevelError, msg, attrs...)
	}
}
