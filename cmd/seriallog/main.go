// seriallog summarizes a serial console capture of the ethdiag firmware:
// bring-up outcome, throughput sink sessions and, when pcap printing was
// enabled, frame counts per protocol.
//
// Usage:
//
//	seriallog capture.log
//	tinygo monitor | tee capture.log | seriallog
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

func main() {
	var input io.Reader = os.Stdin
	if len(os.Args) > 1 {
		f, err := os.Open(os.Args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "open: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		input = f
	}
	lines, err := readLines(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read: %v\n", err)
		os.Exit(1)
	}
	sum := Summarize(Parse(lines))
	printBringUp(os.Stdout, sum.BringUp)
	printSessions(os.Stdout, sum.Sessions)
	printFrames(os.Stdout, sum.Frames)
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024) // handle long pcap lines
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

func printBringUp(w io.Writer, b BringUp) {
	fmt.Fprintln(w, "=== Bring-up ===")
	fmt.Fprintf(w, "  MAC:     %s\n", orNone(b.MAC))
	fmt.Fprintf(w, "  Address: %s\n", orNone(b.Addr))
	if b.Failure != "" {
		fmt.Fprintf(w, "  FAILED:  %s\n", b.Failure)
	}
	fmt.Fprintln(w)
}

func printSessions(w io.Writer, sessions []Session) {
	fmt.Fprintln(w, "=== iperf sessions ===")
	if len(sessions) == 0 {
		fmt.Fprintln(w, "  none")
		fmt.Fprintln(w)
		return
	}
	fmt.Fprintf(w, "  %-4s  %-22s  %12s  %10s  %10s\n", "#", "Remote", "Bytes", "Duration", "Mbit/s")
	fmt.Fprintln(w, strings.Repeat("-", 68))
	var total int64
	for i, s := range sessions {
		state := ""
		if !s.Closed {
			state = "  (open at end of log)"
		}
		fmt.Fprintf(w, "  %-4d  %-22s  %12d  %10s  %10.2f%s\n", i+1, s.Remote, s.Bytes, s.Duration, s.RateMbps, state)
		total += s.Bytes
	}
	fmt.Fprintf(w, "  total %d bytes over %d sessions\n\n", total, len(sessions))
}

func printFrames(w io.Writer, frames []FrameCount) {
	if len(frames) == 0 {
		return
	}
	fmt.Fprintln(w, "=== Frames ===")
	fmt.Fprintf(w, "  %-12s  %8s  %12s\n", "Frame", "Count", "Bytes")
	fmt.Fprintln(w, strings.Repeat("-", 38))
	for _, fc := range frames {
		fmt.Fprintf(w, "  %-12s  %8d  %12d\n", fc.Key, fc.Count, fc.Bytes)
	}
	fmt.Fprintln(w)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
