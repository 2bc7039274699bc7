// Package iperf implements an iperf2-compatible TCP throughput sink.
//
// The sink serves exactly one connection at a time and discards everything it
// receives. There is no handshake and this side measures nothing beyond a byte
// count, so any iperf2 client in its default mode works:
//
//	iperf -c 192.168.1.99
//
// Connections arriving while a client is being served wait in the transport's
// accept queue or get refused by it; the sink never services them concurrently.
package iperf

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"strconv"
	"time"
)

const (
	// DefaultPort is the iperf2 well-known port.
	DefaultPort = 5001
	// ReadBufferSize is the largest chunk read from a connection at once.
	ReadBufferSize = 1024

	defaultPollPeriod = time.Millisecond
)

// ErrNoConn is returned by Acceptor.TryAccept when no connection is pending.
var ErrNoConn = errors.New("iperf: no pending connection")

// Conn is an accepted inbound stream.
type Conn interface {
	io.Reader
	Close() error
	// Connected reports whether the peer is still connected. Data may remain
	// buffered for reading after Connected returns false.
	Connected() bool
	RemoteAddr() netip.AddrPort
}

// Acceptor hands out inbound connections without blocking.
type Acceptor interface {
	TryAccept() (Conn, error)
}

// Indicator is a visible signal set while a client is connected.
type Indicator interface {
	Set(on bool)
}

type Config struct {
	Acceptor Acceptor
	// Console receives operator-facing connect/disconnect lines.
	Console io.Writer
	// Addr is the address clients should connect to, shown in the banner.
	Addr netip.Addr
	// Port is the listening port shown in the banner. Defaults to DefaultPort.
	Port      uint16
	Indicator Indicator
	// PollPeriod is the sleep between polls when there is nothing to do.
	PollPeriod time.Duration
	Logger     *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Stats describes one served connection.
type Stats struct {
	Remote   netip.AddrPort
	Bytes    int64
	Reads    int
	Duration time.Duration
}

// RateMbps returns the average receive rate in megabits per second.
func (st Stats) RateMbps() float64 {
	if st.Duration <= 0 {
		return 0
	}
	return float64(st.Bytes) * 8 / st.Duration.Seconds() / 1e6
}

// Sink is the throughput sink server.
type Sink struct {
	acc  Acceptor
	out  io.Writer
	addr netip.Addr
	port uint16
	led  Indicator
	poll time.Duration
	log  *slog.Logger
	now  func() time.Time
	buf  [ReadBufferSize]byte
	line []byte
}

func NewSink(cfg Config) (*Sink, error) {
	if cfg.Acceptor == nil {
		return nil, errors.New("iperf: nil acceptor")
	}
	if cfg.Console == nil {
		cfg.Console = io.Discard
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.PollPeriod <= 0 {
		cfg.PollPeriod = defaultPollPeriod
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Sink{
		acc:  cfg.Acceptor,
		out:  cfg.Console,
		addr: cfg.Addr,
		port: cfg.Port,
		led:  cfg.Indicator,
		poll: cfg.PollPeriod,
		log:  cfg.Logger,
		now:  cfg.Now,
		line: make([]byte, 0, 64),
	}, nil
}

// Serve prints the banner and serves clients one after the other. It never returns.
func (s *Sink) Serve() {
	s.Banner()
	for {
		if _, ok := s.Poll(); !ok {
			time.Sleep(s.poll)
		}
	}
}

// Banner tells the operator how to start a client.
func (s *Sink) Banner() {
	s.println("Waiting for client")
	b := append(s.line[:0], "Start client like iperf -c "...)
	b = s.addr.AppendTo(b)
	if s.port != DefaultPort {
		b = append(b, " -p "...)
		b = strconv.AppendUint(b, uint64(s.port), 10)
	}
	s.writeln(b)
}

// Poll checks once for a pending connection and, if there is one, serves it
// until the peer disconnects.
func (s *Sink) Poll() (Stats, bool) {
	conn, err := s.acc.TryAccept()
	if err != nil {
		if !errors.Is(err, ErrNoConn) {
			s.logattrs(slog.LevelError, "iperf:accept", slog.String("err", err.Error()))
		}
		return Stats{}, false
	}
	return s.ServeConn(conn), true
}

// ServeConn reads and discards everything conn delivers, in chunks of at most
// ReadBufferSize bytes. Once the peer disconnects, bytes still buffered are
// drained before conn is closed. Read errors are treated as no data.
func (s *Sink) ServeConn(conn Conn) Stats {
	st := Stats{Remote: conn.RemoteAddr()}
	start := s.now()
	s.indicate(true)
	b := append(s.line[:0], "New client "...)
	s.writeln(st.Remote.AppendTo(b))

	for conn.Connected() {
		if s.drain(conn, &st) == 0 {
			time.Sleep(s.poll)
		}
	}
	for s.drain(conn, &st) > 0 {
	}
	conn.Close()
	st.Duration = s.now().Sub(start)

	s.println("Client disconnected")
	s.indicate(false)
	s.logattrs(slog.LevelInfo, "iperf:disconnect",
		slog.String("remote", st.Remote.String()),
		slog.Int64("bytes", st.Bytes),
		slog.Int("reads", st.Reads),
		slog.Duration("duration", st.Duration),
		slog.String("rate[Mbps]", strconv.FormatFloat(st.RateMbps(), 'f', 2, 64)),
	)
	return st
}

func (s *Sink) drain(conn Conn, st *Stats) int {
	n, _ := conn.Read(s.buf[:])
	if n > 0 {
		st.Bytes += int64(n)
		st.Reads++
	}
	return n
}

func (s *Sink) println(msg string) {
	s.writeln(append(s.line[:0], msg...))
}

func (s *Sink) writeln(b []byte) {
	b = append(b, '\n')
	s.out.Write(b)
	s.line = b[:0]
}

func (s *Sink) indicate(on bool) {
	if s.led != nil {
		s.led.Set(on)
	}
}

func (s *Sink) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if s.log != nil {
		s.log.LogAttrs(context.Background(), level, msg, attrs...)
	}
}
