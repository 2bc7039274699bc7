package iperf

import (
	"net"
	"net/netip"
)

// NetAcceptor adapts a standard library listener, for running the sink on a
// host. TryAccept blocks in Accept.
type NetAcceptor struct {
	Listener net.Listener
}

func (na NetAcceptor) TryAccept() (Conn, error) {
	c, err := na.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return &netConn{c: c}, nil
}

type netConn struct {
	c      net.Conn
	closed bool
}

func (nc *netConn) Read(b []byte) (int, error) {
	n, err := nc.c.Read(b)
	if err != nil {
		nc.closed = true
	}
	return n, err
}

func (nc *netConn) Connected() bool { return !nc.closed }

func (nc *netConn) Close() error { return nc.c.Close() }

func (nc *netConn) RemoteAddr() netip.AddrPort {
	if tcp, ok := nc.c.RemoteAddr().(*net.TCPAddr); ok {
		return tcp.AddrPort()
	}
	return netip.AddrPort{}
}
