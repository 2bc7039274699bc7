// Package console implements the single-character command dispatcher that
// runs over the board's serial console.
package console

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

// Port is the console input. machine.Serial satisfies it.
type Port interface {
	// Buffered returns the number of bytes ready to be read without blocking.
	Buffered() int
	ReadByte() (byte, error)
}

// Indicator is a visible busy signal, usually an LED. machine.Pin satisfies it.
type Indicator interface {
	Set(on bool)
}

const (
	CmdHelp           = 'h'
	CmdThroughputTest = '1'

	defaultPollPeriod = 5 * time.Millisecond
)

type Config struct {
	Port Port
	// Output receives the usage text.
	Output io.Writer
	// Indicator is optional. It is set while a command runs.
	Indicator Indicator
	// Title is the first line of the usage text.
	Title string
	// ThroughputTest runs on CmdThroughputTest. It is allowed to never return.
	ThroughputTest func()
	// PollPeriod is how long Run sleeps when no input is pending.
	PollPeriod time.Duration
	Logger     *slog.Logger
}

// Dispatcher polls the console and runs one command per received byte.
type Dispatcher struct {
	port  Port
	out   io.Writer
	led   Indicator
	title string
	test  func()
	poll  time.Duration
	log   *slog.Logger
}

func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.Port == nil || cfg.Output == nil {
		return nil, errors.New("console: nil port or output")
	}
	if cfg.ThroughputTest == nil {
		return nil, errors.New("console: nil throughput test")
	}
	if cfg.Title == "" {
		cfg.Title = "Ethernet diagnostics"
	}
	if cfg.PollPeriod <= 0 {
		cfg.PollPeriod = defaultPollPeriod
	}
	return &Dispatcher{
		port:  cfg.Port,
		out:   cfg.Output,
		led:   cfg.Indicator,
		title: cfg.Title,
		test:  cfg.ThroughputTest,
		poll:  cfg.PollPeriod,
		log:   cfg.Logger,
	}, nil
}

// Usage prints the help page.
func (d *Dispatcher) Usage() {
	var buf [96]byte
	b := append(buf[:0], d.title...)
	b = append(b, "\n h: show this help page\n 1: run iperf2 server\n"...)
	d.out.Write(b)
}

// Poll consumes at most one command from the console and runs it to
// completion. If a second byte is already pending it is discarded; bytes
// beyond that stay buffered for the next call. Poll reports whether a
// command was dispatched.
func (d *Dispatcher) Poll() bool {
	if d.port.Buffered() == 0 {
		return false
	}
	cmd, err := d.port.ReadByte()
	if err != nil {
		return false
	}
	if d.port.Buffered() > 0 {
		d.port.ReadByte()
	}
	d.indicate(true)
	d.dispatch(cmd)
	d.indicate(false)
	return true
}

// Run polls the console forever.
func (d *Dispatcher) Run() {
	for {
		if !d.Poll() {
			time.Sleep(d.poll)
		}
	}
}

func (d *Dispatcher) dispatch(cmd byte) {
	if d.log != nil {
		d.log.LogAttrs(context.Background(), slog.LevelDebug, "console:dispatch", slog.Int("cmd", int(cmd)))
	}
	switch cmd {
	case CmdThroughputTest:
		d.test()
	default:
		// CmdHelp and anything unrecognized.
		d.Usage()
	}
}

func (d *Dispatcher) indicate(on bool) {
	if d.led != nil {
		d.led.Set(on)
	}
}
