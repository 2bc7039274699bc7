package main

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// BringUp is the startup outcome found in the log.
type BringUp struct {
	MAC     string
	Addr    string
	Failure string // last diagnostic line of a failed bring-up
}

// Session is one client served by the throughput sink.
type Session struct {
	Remote   string
	Line     int // line where the client connected
	Bytes    int64
	Duration time.Duration
	RateMbps float64
	Closed   bool
}

// FrameCount aggregates pcap lines per direction and protocol.
type FrameCount struct {
	Key   string // e.g. "RX TCP"
	Count int
	Bytes int64
}

// Summary is everything seriallog reports.
type Summary struct {
	BringUp  BringUp
	Sessions []Session
	Frames   []FrameCount
}

var bringUpFailures = []string{
	"ERROR: could not get MAC",
	"Ethernet shield was not found",
	"Ethernet cable is not connected",
	"Failed to configure Ethernet using DHCP",
}

// Summarize walks the parsed entries once.
func Summarize(entries []Entry) Summary {
	var sum Summary
	frames := make(map[string]*FrameCount)
	var cur *Session
	for _, e := range entries {
		switch e.Kind {
		case KindPcap:
			key := e.Direction + " " + e.Proto
			fc := frames[key]
			if fc == nil {
				fc = &FrameCount{Key: key}
				frames[key] = fc
			}
			fc.Count++
			fc.Bytes += int64(e.FrameLen)

		case KindConsole:
			line := strings.TrimSpace(e.Raw)
			switch {
			case strings.HasPrefix(line, "MAC: "):
				sum.BringUp.MAC = strings.TrimPrefix(line, "MAC: ")
			case strings.HasPrefix(line, "Got DHCP address "):
				sum.BringUp.Addr = strings.TrimPrefix(line, "Got DHCP address ")
			case strings.HasPrefix(line, "New client "):
				sum.Sessions = append(sum.Sessions, Session{
					Remote: strings.TrimPrefix(line, "New client "),
					Line:   e.Line,
				})
				cur = &sum.Sessions[len(sum.Sessions)-1]
			case line == "Client disconnected":
				if cur != nil {
					cur.Closed = true
				}
			default:
				for _, f := range bringUpFailures {
					if strings.HasPrefix(line, f) {
						sum.BringUp.Failure = line
					}
				}
			}

		case KindSlog:
			if e.LogMsg != "iperf:disconnect" || cur == nil {
				continue
			}
			cur.Bytes, _ = strconv.ParseInt(e.Attrs["bytes"], 10, 64)
			cur.Duration, _ = time.ParseDuration(e.Attrs["duration"])
			cur.RateMbps, _ = strconv.ParseFloat(e.Attrs["rate[Mbps]"], 64)
			cur = nil
		}
	}
	for _, fc := range frames {
		sum.Frames = append(sum.Frames, *fc)
	}
	sort.Slice(sum.Frames, func(i, j int) bool {
		if sum.Frames[i].Count != sum.Frames[j].Count {
			return sum.Frames[i].Count > sum.Frames[j].Count
		}
		return sum.Frames[i].Key < sum.Frames[j].Key
	})
	return sum
}
