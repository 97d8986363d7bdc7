// Package rtt measures per-peer round-trip time via periodic PIN/PON
// exchanges and exposes the cluster-wide expected RTT the Role Engine uses
// to size MEDIUM and SLOW patience timers.
package rtt

import (
	"sync"
	"time"
)

// pingInterval matches the original's 20-second LoopingCall(send_ping, 20).
const pingInterval = 20 * time.Second

// Sender transmits a PIN to a single peer, stamped with the time it was
// sent. Implemented by package transport.
type Sender interface {
	SendPing(peerIndex int64, sentAt time.Time) error
}

// Prober maintains one RTT sample per peer and derives expected_rtt as the
// maximum sample across all peers plus one second, mirroring the
// original's conservative "slowest peer plus margin" estimate.
type Prober struct {
	mu      sync.Mutex
	samples map[int64]time.Duration

	expected time.Duration

	sender Sender
	peers  []int64

	stop chan struct{}
}

// NewProber constructs a Prober for the given peer indices. The initial
// expected RTT is one second, matching the original's expected_rtt = 1
// seed before any PON has been observed.
func NewProber(sender Sender, peers []int64) *Prober {
	return &Prober{
		samples:  make(map[int64]time.Duration),
		expected: time.Second,
		sender:   sender,
		peers:    peers,
		stop:     make(chan struct{}),
	}
}

// ExpectedRTT implements role.RTTSource.
func (p *Prober) ExpectedRTT() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.expected
}

// Run starts the ping loop; it blocks until Stop is called, so callers
// should run it in its own goroutine.
func (p *Prober) Run() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case now := <-ticker.C:
			p.pingAll(now)
		}
	}
}

func (p *Prober) pingAll(now time.Time) {
	for _, peer := range p.peers {
		_ = p.sender.SendPing(peer, now)
	}
}

// Stop terminates the ping loop.
func (p *Prober) Stop() {
	close(p.stop)
}

// ObservePong records a PON received from peerIndex for a PIN sent at
// sentAt, updating that peer's sample and recomputing expected_rtt as the
// maximum sample over all peers plus one second.
func (p *Prober) ObservePong(peerIndex int64, sentAt, now time.Time) {
	sample := now.Sub(sentAt)
	if sample < 0 {
		sample = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples[peerIndex] = sample

	max := time.Duration(0)
	for _, d := range p.samples {
		if d > max {
			max = d
		}
	}
	p.expected = max + time.Second
}
