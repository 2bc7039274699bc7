package iperf

import (
	"bytes"
	"errors"
	"io"
	"net"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn delivers its data in writes of the given sizes. The peer stays
// connected for connectedPolls calls to Connected.
type fakeConn struct {
	pending       [][]byte
	connectedPoll int
	maxReadLen    int
	readErr       error
	closed        bool
}

func newFakeConn(total int, writeSize int, connectedPolls int) *fakeConn {
	fc := &fakeConn{connectedPoll: connectedPolls}
	for total > 0 {
		n := min(total, writeSize)
		fc.pending = append(fc.pending, bytes.Repeat([]byte{'x'}, n))
		total -= n
	}
	return fc
}

func (fc *fakeConn) Read(b []byte) (int, error) {
	fc.maxReadLen = max(fc.maxReadLen, len(b))
	if len(fc.pending) == 0 {
		return 0, fc.readErr
	}
	n := copy(b, fc.pending[0])
	fc.pending[0] = fc.pending[0][n:]
	if len(fc.pending[0]) == 0 {
		fc.pending = fc.pending[1:]
	}
	return n, nil
}

func (fc *fakeConn) Connected() bool {
	fc.connectedPoll--
	return fc.connectedPoll >= 0
}

func (fc *fakeConn) Close() error {
	fc.closed = true
	return nil
}

func (fc *fakeConn) RemoteAddr() netip.AddrPort {
	return netip.MustParseAddrPort("192.168.1.10:40000")
}

type queueAcceptor struct {
	conns []Conn
	err   error
}

func (qa *queueAcceptor) TryAccept() (Conn, error) {
	if len(qa.conns) == 0 {
		if qa.err != nil {
			return nil, qa.err
		}
		return nil, ErrNoConn
	}
	c := qa.conns[0]
	qa.conns = qa.conns[1:]
	return c, nil
}

type fakeLED struct{ history []bool }

func (l *fakeLED) Set(on bool) { l.history = append(l.history, on) }

func newTestSink(t *testing.T, acc Acceptor, out *bytes.Buffer) *Sink {
	t.Helper()
	s, err := NewSink(Config{
		Acceptor:   acc,
		Console:    out,
		Addr:       netip.MustParseAddr("192.168.1.99"),
		PollPeriod: time.Microsecond,
	})
	require.NoError(t, err)
	return s
}

func TestServeConnDrainsAllBytes(t *testing.T) {
	for _, total := range []int{0, 1, 1023, 1024, 1025, 4096, 100_000} {
		for _, writeSize := range []int{1, 512, 1500, 64 * 1024} {
			if total > 10_000 && writeSize == 1 {
				continue
			}
			var out bytes.Buffer
			s := newTestSink(t, &queueAcceptor{}, &out)
			fc := newFakeConn(total, writeSize, 3)
			st := s.ServeConn(fc)
			assert.EqualValues(t, total, st.Bytes, "total=%d write=%d", total, writeSize)
			assert.Empty(t, fc.pending)
			assert.True(t, fc.closed)
			assert.LessOrEqual(t, fc.maxReadLen, ReadBufferSize)
			assert.True(t, strings.HasSuffix(out.String(), "Client disconnected\n"))
		}
	}
}

func TestServeConnDrainsAfterDisconnect(t *testing.T) {
	var out bytes.Buffer
	s := newTestSink(t, &queueAcceptor{}, &out)
	// Peer already gone, data still buffered.
	fc := newFakeConn(5000, 5000, 0)
	st := s.ServeConn(fc)
	assert.EqualValues(t, 5000, st.Bytes)
	assert.Equal(t, 5, st.Reads) // 4*1024 + 904
	assert.True(t, fc.closed)
}

func TestServeConnReadErrorIsNoData(t *testing.T) {
	var out bytes.Buffer
	s := newTestSink(t, &queueAcceptor{}, &out)
	fc := newFakeConn(10, 10, 5)
	fc.readErr = errors.New("transient")
	st := s.ServeConn(fc)
	assert.EqualValues(t, 10, st.Bytes)
}

func TestServeConnConsoleAndIndicator(t *testing.T) {
	var out bytes.Buffer
	led := &fakeLED{}
	s, err := NewSink(Config{
		Acceptor:  &queueAcceptor{},
		Console:   &out,
		Indicator: led,
	})
	require.NoError(t, err)
	s.ServeConn(newFakeConn(1, 1, 1))
	assert.Equal(t, "New client 192.168.1.10:40000\nClient disconnected\n", out.String())
	assert.Equal(t, []bool{true, false}, led.history)
}

func TestPollServesOneConnection(t *testing.T) {
	first := newFakeConn(2048, 1024, 2)
	second := newFakeConn(10, 10, 1)
	acc := &queueAcceptor{conns: []Conn{first, second}}
	var out bytes.Buffer
	s := newTestSink(t, acc, &out)

	st, ok := s.Poll()
	require.True(t, ok)
	assert.EqualValues(t, 2048, st.Bytes)
	assert.False(t, second.closed, "second client waits until the first is done")

	st, ok = s.Poll()
	require.True(t, ok)
	assert.EqualValues(t, 10, st.Bytes)

	_, ok = s.Poll()
	assert.False(t, ok)
}

func TestPollAcceptError(t *testing.T) {
	var out bytes.Buffer
	s := newTestSink(t, &queueAcceptor{err: errors.New("pool exhausted")}, &out)
	_, ok := s.Poll()
	assert.False(t, ok)
	assert.Zero(t, out.Len())
}

func TestBanner(t *testing.T) {
	var out bytes.Buffer
	s := newTestSink(t, &queueAcceptor{}, &out)
	s.Banner()
	assert.Equal(t, "Waiting for client\nStart client like iperf -c 192.168.1.99\n", out.String())

	out.Reset()
	s, err := NewSink(Config{
		Acceptor: &queueAcceptor{},
		Console:  &out,
		Addr:     netip.MustParseAddr("10.0.0.2"),
		Port:     6000,
	})
	require.NoError(t, err)
	s.Banner()
	assert.Equal(t, "Waiting for client\nStart client like iperf -c 10.0.0.2 -p 6000\n", out.String())
}

func TestStatsRate(t *testing.T) {
	st := Stats{Bytes: 12_500_000, Duration: time.Second}
	assert.InDelta(t, 100.0, st.RateMbps(), 1e-9)
	assert.Zero(t, Stats{Bytes: 1}.RateMbps())
}

func TestNetAcceptorLoopback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	const total = 256*1024 + 17
	errc := make(chan error, 1)
	go func() {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			errc <- err
			return
		}
		payload := bytes.Repeat([]byte("iperf"), total/5+1)[:total]
		_, err = conn.Write(payload)
		conn.Close()
		errc <- err
	}()

	var out bytes.Buffer
	s := newTestSink(t, NetAcceptor{Listener: ln}, &out)
	st, ok := s.Poll()
	require.True(t, ok)
	require.NoError(t, <-errc)
	assert.EqualValues(t, total, st.Bytes)
	assert.True(t, st.Remote.Addr().IsLoopback())
}

// notifyAcceptor hands out conns in order and, once they are used up, signals
// every further accept attempt on idle.
type notifyAcceptor struct {
	conns []Conn
	idle  chan struct{}
}

func (na *notifyAcceptor) TryAccept() (Conn, error) {
	if len(na.conns) > 0 {
		c := na.conns[0]
		na.conns = na.conns[1:]
		return c, nil
	}
	select {
	case na.idle <- struct{}{}:
	default:
	}
	return nil, ErrNoConn
}

func TestServeKeepsWaitingAfterClient(t *testing.T) {
	fc := newFakeConn(3000, 1024, 2)
	acc := &notifyAcceptor{conns: []Conn{fc}, idle: make(chan struct{})}
	s, err := NewSink(Config{
		Acceptor:   acc,
		Console:    io.Discard,
		Addr:       netip.MustParseAddr("192.168.1.99"),
		PollPeriod: time.Microsecond,
	})
	require.NoError(t, err)

	returned := make(chan struct{})
	go func() {
		s.Serve() // Never returns; the goroutine outlives the test.
		close(returned)
	}()
	select {
	case <-acc.idle:
	case <-time.After(time.Second):
		t.Fatal("sink did not poll for a new client")
	}
	assert.True(t, fc.closed)
	assert.Empty(t, fc.pending)

	// Still accepting, still not returned.
	for i := 0; i < 3; i++ {
		select {
		case <-acc.idle:
		case <-returned:
			t.Fatal("Serve returned")
		case <-time.After(time.Second):
			t.Fatal("sink stopped polling")
		}
	}
	select {
	case <-returned:
		t.Fatal("Serve returned")
	default:
	}
}
