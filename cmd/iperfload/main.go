// iperfload drives the ethdiag throughput sink from a host, the way an iperf2
// client would, and adds connection patterns that exercise its
// one-client-at-a-time accept loop.
//
// Usage:
//
//	go run ./cmd/iperfload <addr>
//	go run ./cmd/iperfload -pattern cycle -n 20 -bytes 65536 192.168.1.99
//	go run ./cmd/iperfload -profile load.yaml
package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

type stats struct {
	attempted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	timeouts  atomic.Int64
	bytes     atomic.Int64
}

func (s *stats) String() string {
	return fmt.Sprintf("attempted=%d succeeded=%d failed=%d timeouts=%d sent=%s",
		s.attempted.Load(), s.succeeded.Load(), s.failed.Load(), s.timeouts.Load(), fmtBytes(s.bytes.Load()))
}

type pattern struct {
	name string
	desc string
	fn   func(addr string, s *stats, r Run)
}

var patterns = []pattern{
	{"stream", "Single connection, send for the run duration (iperf -c)", stream},
	{"cycle", "Sequential connect, send bytes, close", cycle},
	{"parallel", "Concurrent connections; the sink serves them one by one", parallel},
}

func findPattern(name string) *pattern {
	for i := range patterns {
		if patterns[i].name == name {
			return &patterns[i]
		}
	}
	return nil
}

func main() {
	var r Run
	flag.StringVar(&r.Pattern, "pattern", "stream", "pattern to run (stream, cycle, parallel)")
	flag.DurationVar(&r.Duration, "t", 10*time.Second, "stream duration")
	flag.IntVar(&r.N, "n", 10, "connections for cycle and parallel")
	flag.IntVar(&r.Concurrency, "c", 4, "concurrency for parallel")
	flag.Int64Var(&r.Bytes, "bytes", 1<<20, "bytes sent per connection for cycle and parallel")
	flag.IntVar(&r.BufLen, "l", defaultBufLen, "length of each write")
	profilePath := flag.String("profile", "", "YAML profile with a target and a list of runs")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <addr>\n\nLoad an iperf2 sink.\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nPatterns:\n")
		for _, p := range patterns {
			fmt.Fprintf(os.Stderr, "  %-9s %s\n", p.name, p.desc)
		}
	}
	flag.Parse()

	var prof Profile
	if *profilePath != "" {
		var err error
		prof, err = loadProfile(*profilePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load profile: %v\n", err)
			os.Exit(1)
		}
	} else {
		if flag.NArg() < 1 {
			flag.Usage()
			os.Exit(1)
		}
		if err := r.normalize(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		prof = Profile{Target: withDefaultPort(flag.Arg(0)), Runs: []Run{r}}
	}

	conn, err := net.DialTimeout("tcp", prof.Target, 3*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot reach %s: %v\n", prof.Target, err)
		os.Exit(1)
	}
	conn.Close()
	fmt.Printf("target: %s\n\n", prof.Target)

	start := time.Now()
	for _, r := range prof.Runs {
		p := findPattern(r.Pattern)
		fmt.Printf("--- %s (t=%s n=%d c=%d bytes=%d l=%d) ---\n", p.name, r.Duration, r.N, r.Concurrency, r.Bytes, r.BufLen)
		var s stats
		p.fn(prof.Target, &s, r)
		fmt.Printf("    %s\n\n", &s)
	}
	fmt.Printf("done in %s\n", time.Since(start).Round(time.Millisecond))
}

// stream is the plain iperf2 client: one connection, write until the
// duration elapses, report the rate.
func stream(addr string, s *stats, r Run) {
	s.attempted.Add(1)
	start := time.Now()
	n, err := send(addr, r.BufLen, func(sent int64) bool { return time.Since(start) < r.Duration })
	s.bytes.Add(n)
	if err != nil {
		s.failed.Add(1)
		countTimeout(err, s)
		return
	}
	s.succeeded.Add(1)
	fmt.Println("    " + report(n, time.Since(start)))
}

// cycle connects, sends r.Bytes and closes, sequentially. Exercises the
// sink's return to the accept loop after every disconnect.
func cycle(addr string, s *stats, r Run) {
	for range r.N {
		sendFixed(addr, s, r)
	}
}

// parallel dials r.Concurrency connections at once. The sink accepts one;
// the others wait in the transport's queue or get refused.
func parallel(addr string, s *stats, r Run) {
	run(r.Concurrency, r.N, func() { sendFixed(addr, s, r) })
}

func sendFixed(addr string, s *stats, r Run) {
	s.attempted.Add(1)
	n, err := send(addr, r.BufLen, func(sent int64) bool { return sent < r.Bytes })
	s.bytes.Add(n)
	if err != nil {
		s.failed.Add(1)
		countTimeout(err, s)
		return
	}
	s.succeeded.Add(1)
}

// send writes buflen-sized chunks while more returns true. The last chunk is
// never cut short, so callers bounding by bytes may overshoot by one chunk.
func send(addr string, buflen int, more func(sent int64) bool) (int64, error) {
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	buf := make([]byte, buflen)
	for i := range buf {
		buf[i] = '0' + byte(i%10)
	}
	var sent int64
	for more(sent) {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		n, err := conn.Write(buf)
		sent += int64(n)
		if err != nil {
			return sent, err
		}
	}
	return sent, nil
}

// run executes fn n times across the given number of goroutines.
func run(concurrency, n int, fn func()) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)
	for range n {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			fn()
		}()
	}
	wg.Wait()
}

func countTimeout(err error, s *stats) {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		s.timeouts.Add(1)
	}
}

// report formats a result the way iperf2 prints interval lines.
func report(n int64, d time.Duration) string {
	mbps := 0.0
	if d > 0 {
		mbps = float64(n) * 8 / d.Seconds() / 1e6
	}
	return fmt.Sprintf("0.0-%.1f sec  %s  %.2f Mbits/sec", d.Seconds(), fmtBytes(n), mbps)
}

func fmtBytes(b int64) string {
	const unit = 1024
	switch {
	case b >= unit*unit:
		return strconv.FormatFloat(float64(b)/(unit*unit), 'f', 2, 64) + " MBytes"
	case b >= unit:
		return strconv.FormatFloat(float64(b)/unit, 'f', 2, 64) + " KBytes"
	}
	return strconv.FormatInt(b, 10) + " Bytes"
}
