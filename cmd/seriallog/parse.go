package main

import (
	"regexp"
	"strconv"
	"strings"
)

// EntryKind classifies each line of a captured serial log.
type EntryKind uint8

const (
	KindSlog    EntryKind = iota // time=YYYY-... level=LEVEL msg=... (slog text format)
	KindPcap                     // NN.NNN RX|TX<len> Ethernet ...
	KindConsole                  // plain operator-facing console line
	KindUnknown                  // blank lines
)

func (k EntryKind) String() string {
	switch k {
	case KindSlog:
		return "SLOG"
	case KindPcap:
		return "PCAP"
	case KindConsole:
		return "CONSOLE"
	default:
		return "UNKNOWN"
	}
}

// Entry is one parsed line from the log.
type Entry struct {
	Line int       // 1-based line number in the file
	Kind EntryKind // what type of line this is
	Raw  string    // original line text

	// KindPcap fields:
	BootTime  float64 // seconds since boot
	Direction string  // "RX" or "TX"
	FrameLen  int
	Proto     string // highest-layer protocol mentioned
	DstPort   int    // TCP/UDP destination port, 0 if N/A

	// KindSlog fields:
	LogLevel string
	LogMsg   string
	Attrs    map[string]string
}

var (
	reSlogHead  = regexp.MustCompile(`^time=\S+\s+level=(\S+)\s+msg=`)
	rePcap      = regexp.MustCompile(`^(\d+\.\d+)\s+(RX|TX)(\d+)\s+`)
	reDstPort   = regexp.MustCompile(`\(Destination port\)=(\d+)`)
	reProtoHigh = regexp.MustCompile(`\|\s+(DHCPv4|DNS|TCP|UDP|ARP|ICMP)\b`)
)

// Parse classifies every line.
func Parse(lines []string) []Entry {
	entries := make([]Entry, 0, len(lines))
	for i, line := range lines {
		entries = append(entries, parseLine(line, i+1))
	}
	return entries
}

func parseLine(line string, lineNum int) Entry {
	e := Entry{Line: lineNum, Raw: line}
	if m := rePcap.FindStringSubmatch(line); m != nil {
		e.Kind = KindPcap
		e.BootTime, _ = strconv.ParseFloat(m[1], 64)
		e.Direction = m[2]
		e.FrameLen, _ = strconv.Atoi(m[3])
		e.Proto = "ETH"
		if pm := reProtoHigh.FindAllStringSubmatch(line, -1); len(pm) > 0 {
			e.Proto = pm[len(pm)-1][1]
		}
		if pm := reDstPort.FindStringSubmatch(line); pm != nil {
			e.DstPort, _ = strconv.Atoi(pm[1])
		}
		return e
	}
	if m := reSlogHead.FindStringSubmatchIndex(line); m != nil {
		e.Kind = KindSlog
		e.LogLevel = line[m[2]:m[3]]
		var rest string
		e.LogMsg, rest = nextValue(line[m[1]:])
		e.Attrs = parseAttrs(rest)
		return e
	}
	if strings.TrimSpace(line) == "" {
		e.Kind = KindUnknown
		return e
	}
	e.Kind = KindConsole
	return e
}

// parseAttrs parses space separated key=value pairs. Values may be quoted.
func parseAttrs(s string) map[string]string {
	attrs := make(map[string]string)
	for {
		s = strings.TrimLeft(s, " ")
		if s == "" {
			return attrs
		}
		key, after, ok := strings.Cut(s, "=")
		if !ok || strings.Contains(key, " ") {
			return attrs
		}
		var val string
		val, s = nextValue(after)
		attrs[key] = val
	}
}

// nextValue splits the leading, possibly quoted, value off s.
func nextValue(s string) (value, rest string) {
	if strings.HasPrefix(s, `"`) {
		for i := 1; i < len(s); i++ {
			switch s[i] {
			case '\\':
				i++
			case '"':
				v, err := strconv.Unquote(s[:i+1])
				if err != nil {
					v = s[1:i]
				}
				return v, s[i+1:]
			}
		}
		return s[1:], ""
	}
	value, rest, _ = strings.Cut(s, " ")
	return value, rest
}
