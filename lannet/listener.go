package lannet

import (
	"errors"
	"net/netip"
	"time"

	"github.com/soypat/ethdiag/iperf"
	"github.com/soypat/lneto/tcp"
	"github.com/soypat/lneto/x/xnet"
)

// ListenerConfig sizes the connection pool behind a Listener.
type ListenerConfig struct {
	// RxBufSize bounds the advertised receive window. 8192.
	RxBufSize int
	// EstablishedTimeout is how long an established connection may live. 1h.
	EstablishedTimeout time.Duration
	// ClosingTimeout bounds the closing handshake. 5s.
	ClosingTimeout time.Duration
}

// Listener is a single-connection TCP listener on the lneto stack. It
// implements iperf.Acceptor.
type Listener struct {
	l    tcp.Listener
	pool *xnet.TCPPool
}

var _ iperf.Acceptor = (*Listener)(nil)

// ListenTCP registers a listener on port backed by a pool of one connection,
// so a second client is never established while the first is served.
func (stack *Stack) ListenTCP(port uint16, cfg ListenerConfig) (*Listener, error) {
	if cfg.RxBufSize <= 0 {
		cfg.RxBufSize = 8192
	}
	if cfg.EstablishedTimeout <= 0 {
		cfg.EstablishedTimeout = time.Hour
	}
	if cfg.ClosingTimeout <= 0 {
		cfg.ClosingTimeout = 5 * time.Second
	}
	pool, err := xnet.NewTCPPool(xnet.TCPPoolConfig{
		PoolSize:           1,
		QueueSize:          1,
		TxBufSize:          128,
		RxBufSize:          cfg.RxBufSize,
		EstablishedTimeout: cfg.EstablishedTimeout,
		ClosingTimeout:     cfg.ClosingTimeout,
	})
	if err != nil {
		return nil, err
	}
	ln := &Listener{pool: pool}
	err = ln.l.Reset(port, pool)
	if err != nil {
		return nil, err
	}
	err = stack.s.RegisterListener(&ln.l)
	if err != nil {
		return nil, err
	}
	return ln, nil
}

// TryAccept returns iperf.ErrNoConn when no connection is ready, expiring
// stale pool connections on the way.
func (ln *Listener) TryAccept() (iperf.Conn, error) {
	if ln.l.NumberOfReadyToAccept() == 0 {
		ln.pool.CheckTimeouts()
		return nil, iperf.ErrNoConn
	}
	conn, _, err := ln.l.TryAccept()
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, errors.New("lannet: accepted nil connection")
	}
	return tcpConn{c: conn}, nil
}

type tcpConn struct {
	c *tcp.Conn
}

func (tc tcpConn) Read(b []byte) (int, error) { return tc.c.Read(b) }

func (tc tcpConn) Close() error { return tc.c.Close() }

// Connected is true only while established; after the peer's FIN the sink
// drains what is left in the receive buffer.
func (tc tcpConn) Connected() bool { return tc.c.State() == tcp.StateEstablished }

func (tc tcpConn) RemoteAddr() netip.AddrPort {
	addr, _ := netip.AddrFromSlice(tc.c.RemoteAddr())
	return netip.AddrPortFrom(addr, tc.c.RemotePort())
}
