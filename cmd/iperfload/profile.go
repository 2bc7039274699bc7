package main

import (
	"errors"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is a sequence of load runs against one target, loaded from YAML:
//
//	target: 192.168.1.99
//	runs:
//	  - pattern: stream
//	    duration: 10s
//	  - pattern: cycle
//	    n: 20
//	    bytes: 65536
type Profile struct {
	Target string `yaml:"target"`
	Runs   []Run  `yaml:"runs"`
}

// Run describes one load pattern execution.
type Run struct {
	Pattern string `yaml:"pattern"`
	// Duration bounds stream runs.
	Duration time.Duration `yaml:"duration"`
	// N is the number of connections for cycle and parallel runs.
	N int `yaml:"n"`
	// Concurrency is the number of simultaneous dialers.
	Concurrency int `yaml:"concurrency"`
	// Bytes is sent per connection for cycle and parallel runs.
	Bytes int64 `yaml:"bytes"`
	// BufLen is the size of each write, iperf's -l.
	BufLen int `yaml:"buflen"`
}

const defaultBufLen = 128 * 1024

func loadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, err
	}
	return parseProfile(data)
}

func parseProfile(data []byte) (Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, err
	}
	if p.Target == "" {
		return p, errors.New("profile: missing target")
	}
	p.Target = withDefaultPort(p.Target)
	if len(p.Runs) == 0 {
		return p, errors.New("profile: no runs")
	}
	for i := range p.Runs {
		if err := p.Runs[i].normalize(); err != nil {
			return p, err
		}
	}
	return p, nil
}

func (r *Run) normalize() error {
	if findPattern(r.Pattern) == nil {
		return errors.New("unknown pattern: " + r.Pattern)
	}
	if r.Duration <= 0 {
		r.Duration = 10 * time.Second
	}
	if r.N <= 0 {
		r.N = 10
	}
	if r.Concurrency <= 0 {
		r.Concurrency = 1
	}
	if r.Bytes <= 0 {
		r.Bytes = 1 << 20
	}
	if r.BufLen <= 0 {
		r.BufLen = defaultBufLen
	}
	return nil
}

// withDefaultPort appends the iperf2 port to addr unless it already carries
// one. Bare IPv6 literals are bracketed.
func withDefaultPort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, "5001")
}
