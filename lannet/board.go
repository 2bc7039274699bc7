package lannet

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/soypat/ethdiag/lan8720"
	"github.com/soypat/ethdiag/netsetup"
	"github.com/soypat/lneto/ethernet"
	"github.com/soypat/lneto/phy"
)

// BoardConfig controls how Board leases an address. The zero value of each
// field selects the default noted.
type BoardConfig struct {
	Stack StackConfig
	// RequestedAddr is sent as the DHCP requested IP option. Optional.
	RequestedAddr [4]byte
	// LinkTimeout bounds autonegotiation. 2s.
	LinkTimeout time.Duration
	// DHCPTimeout is per attempt. 7s.
	DHCPTimeout time.Duration
	// DHCPRetries defaults to 3.
	DHCPRetries int
	// PollPeriod is the stack pump idle sleep and DHCP poll period. 5ms.
	PollPeriod time.Duration
}

// Board is the firmware's network interface: the LAN8720 and, once an
// address was requested, the lneto stack running on it.
type Board struct {
	dev   *lan8720.DeviceSingle
	stack *Stack
	cfg   BoardConfig
	log   *slog.Logger
}

var _ netsetup.Interface = (*Board)(nil)

// NewBoard returns a Board over dev. A nil dev stands for a PHY that could not
// be configured; the Board then reports netsetup.HardwareAbsent.
func NewBoard(dev *lan8720.DeviceSingle, cfg BoardConfig) *Board {
	if cfg.LinkTimeout <= 0 {
		cfg.LinkTimeout = 2 * time.Second
	}
	if cfg.DHCPTimeout <= 0 {
		cfg.DHCPTimeout = 7 * time.Second
	}
	if cfg.DHCPRetries <= 0 {
		cfg.DHCPRetries = 3
	}
	if cfg.PollPeriod <= 0 {
		cfg.PollPeriod = 5 * time.Millisecond
	}
	return &Board{dev: dev, cfg: cfg, log: cfg.Stack.Logger}
}

func (b *Board) HardwareStatus() netsetup.HardwareStatus {
	if b.dev == nil || !b.dev.Present() {
		return netsetup.HardwareAbsent
	}
	return netsetup.HardwarePresent
}

func (b *Board) LinkStatus() netsetup.LinkStatus {
	if b.dev == nil || b.dev.LinkMode() == phy.LinkDown {
		return netsetup.LinkOff
	}
	return netsetup.LinkOn
}

// RequestAddress waits for the link, starts the stack with hardware address
// mac and runs DHCP on it. The stack pump keeps running in the background
// after a successful lease.
func (b *Board) RequestAddress(mac [6]byte) (netsetup.Lease, error) {
	if b.dev == nil {
		return netsetup.Lease{}, lan8720.ErrNoPHY
	}
	if b.stack != nil {
		return netsetup.Lease{}, errors.New("lannet: address already requested")
	}
	link, err := b.dev.WaitAutoNegotiation(b.cfg.LinkTimeout)
	if err != nil {
		return netsetup.Lease{}, err
	}
	b.logattrs(slog.LevelInfo, "link established", slog.String("link", link.String()))

	stack, err := NewStack(b.dev, mac, b.cfg.Stack)
	if err != nil {
		return netsetup.Lease{}, err
	}
	b.stack = stack
	go stack.PumpForever(b.cfg.PollPeriod)

	llstack := stack.LnetoStack()
	rstack := llstack.StackRetrying(b.cfg.PollPeriod)
	results, err := rstack.DoDHCPv4(b.cfg.RequestedAddr, b.cfg.DHCPTimeout, b.cfg.DHCPRetries)
	if err != nil {
		return netsetup.Lease{}, err
	}
	err = llstack.AssimilateDHCPResults(results)
	if err != nil {
		return netsetup.Lease{}, err
	}
	// Clients on the local segment are reachable without a gateway, so a
	// failed gateway lookup only limits off-link clients.
	gatewayHW, err := rstack.DoResolveHardwareAddress6(results.Router, 500*time.Millisecond, 4)
	if err != nil {
		b.logattrs(slog.LevelWarn, "gateway ARP resolve failed", slog.String("err", err.Error()))
	} else {
		llstack.SetGateway6(gatewayHW)
	}
	b.logattrs(slog.LevelInfo, "DHCP complete",
		slog.String("hostname", stack.Hostname()),
		slog.String("ourIP", results.AssignedAddr.String()),
		slog.String("subnet", results.Subnet.String()),
		slog.String("router", results.Router.String()),
		slog.String("server", results.ServerAddr.String()),
		slog.String("gatewayhw", string(ethernet.AppendAddr(nil, gatewayHW))),
		slog.Uint64("lease[seconds]", uint64(results.TLease)),
	)
	return netsetup.Lease{
		Addr:     results.AssignedAddr,
		Router:   results.Router,
		Duration: time.Duration(results.TLease) * time.Second,
	}, nil
}

// Stack returns the running stack, nil before a successful RequestAddress.
func (b *Board) Stack() *Stack { return b.stack }

func (b *Board) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if b.log != nil {
		b.log.LogAttrs(context.Background(), level, msg, attrs...)
	}
}
