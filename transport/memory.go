package transport

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Network is a shared in-process registry of replica inboxes, letting a
// whole cluster of Memory transports exchange messages via channels
// instead of sockets. Grounded on the channel-registry shape sketched for
// the pack's in-memory Paxos transport harness.
type Network struct {
	mu      sync.Mutex
	inboxes map[int64]chan Envelope
	// partitioned[a][b] true means a cannot currently reach b.
	partitioned map[int64]map[int64]bool
}

// NewNetwork returns an empty registry.
func NewNetwork() *Network {
	return &Network{
		inboxes:     make(map[int64]chan Envelope),
		partitioned: make(map[int64]map[int64]bool),
	}
}

// Partition makes every message from a to b (and b to a) silently dropped,
// simulating a network partition between two replicas for tests.
func (net *Network) Partition(a, b int64) {
	net.mu.Lock()
	defer net.mu.Unlock()
	net.setPartitioned(a, b, true)
	net.setPartitioned(b, a, true)
}

// Heal reverses a prior Partition between a and b.
func (net *Network) Heal(a, b int64) {
	net.mu.Lock()
	defer net.mu.Unlock()
	net.setPartitioned(a, b, false)
	net.setPartitioned(b, a, false)
}

func (net *Network) setPartitioned(from, to int64, v bool) {
	m, ok := net.partitioned[from]
	if !ok {
		m = make(map[int64]bool)
		net.partitioned[from] = m
	}
	m[to] = v
}

func (net *Network) blocked(from, to int64) bool {
	m, ok := net.partitioned[from]
	return ok && m[to]
}

func (net *Network) register(index int64) chan Envelope {
	net.mu.Lock()
	defer net.mu.Unlock()
	ch := make(chan Envelope, 256)
	net.inboxes[index] = ch
	return ch
}

func (net *Network) deliver(from, to int64, env Envelope) {
	net.mu.Lock()
	if net.blocked(from, to) {
		net.mu.Unlock()
		return
	}
	ch, ok := net.inboxes[to]
	net.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- env:
	default:
		// Inbox full: drop rather than block the sender, matching the
		// transport contract's backpressure-at-the-transport note (§5).
	}
}

// Memory is the in-memory Transport implementation used by tests: every
// replica in a simulated cluster shares one Network, so no sockets or
// goroutine-based servers are needed to exercise the Pipeline Coordinator
// end to end.
type Memory struct {
	net    *Network
	self   int64
	peers  []int64
	inbox  chan Envelope
}

// NewMemory attaches a replica at selfIndex to net, given the indices of
// every other replica in the cluster.
func NewMemory(net *Network, selfIndex int64, peers []int64) *Memory {
	return &Memory{
		net:   net,
		self:  selfIndex,
		peers: peers,
		inbox: net.register(selfIndex),
	}
}

func (m *Memory) SelfIndex() int64      { return m.self }
func (m *Memory) PeerIndices() []int64  { return m.peers }
func (m *Memory) Inbound() <-chan Envelope { return m.inbox }

func (m *Memory) Broadcast(kind Kind, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transport: marshal %s: %w", kind, err)
	}
	for _, peer := range m.peers {
		m.net.deliver(m.self, peer, Envelope{From: m.self, Kind: kind, Payload: raw})
	}
	if SelfDelivers(kind) {
		m.net.deliver(m.self, m.self, Envelope{From: m.self, Kind: kind, Payload: raw})
	}
	return nil
}

func (m *Memory) Respond(peerIndex int64, kind Kind, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transport: marshal %s: %w", kind, err)
	}
	m.net.deliver(m.self, peerIndex, Envelope{From: m.self, Kind: kind, Payload: raw})
	return nil
}

func (m *Memory) Close() error {
	return nil
}
