// Package role implements the Role Engine of §4.2: each replica's current
// eagerness to propose the next block (QUICK, MEDIUM, SLOW) and the patience
// timer duration that eagerness implies.
package role

import (
	"math/rand"
	"time"

	"github.com/pichain/pichain/core"
)

// epsilon is the safety margin added on top of the measured RTT so that a
// MEDIUM or SLOW replica's patience reliably exceeds a QUICK replica's
// round trip, preserving the role hierarchy's convergence argument.
const epsilon = 0.001

// RTTSource supplies the current expected round-trip time to a peer set, as
// measured by package rtt. Kept as a narrow interface so Engine is testable
// without a real network.
type RTTSource interface {
	ExpectedRTT() time.Duration
}

// Engine tracks this replica's role and computes patience durations per
// §4.2. It is not safe for concurrent use; it is owned by the Pipeline
// Coordinator's single event loop.
type Engine struct {
	peerCount int
	rtt       RTTSource
	rnd       *rand.Rand

	state Role

	// slowTimeout caches the random draw for the current SLOW stretch so
	// that repeated patience() calls while still SLOW return a stable
	// value, matching the original's memoized slow_timeout.
	slowTimeout   time.Duration
	slowTimeoutOK bool
}

// Role mirrors core.Role for callers that only need the role package.
type Role = core.Role

const (
	Quick  = core.RoleQuick
	Medium = core.RoleMedium
	Slow   = core.RoleSlow
)

// NewEngine constructs a Role Engine for a cluster of peerCount replicas.
// isFirst selects the initial QUICK seed (exactly one replica, by
// convention replica 0, starts QUICK; every other replica starts SLOW).
func NewEngine(peerCount int, rtt RTTSource, isFirst bool, rnd *rand.Rand) *Engine {
	initial := Slow
	if isFirst {
		initial = Quick
	}
	return &Engine{
		peerCount: peerCount,
		rtt:       rtt,
		rnd:       rnd,
		state:     initial,
	}
}

// State returns the current role.
func (e *Engine) State() Role {
	return e.state
}

// Patience returns the duration a replica in the current role must wait,
// since its queue's head transaction last changed, before it is entitled
// to create a new block.
func (e *Engine) Patience() time.Duration {
	switch e.state {
	case Quick:
		return 0
	case Medium:
		rtt := e.rtt.ExpectedRTT()
		return time.Duration((1 + epsilon) * float64(rtt))
	default:
		if e.slowTimeoutOK {
			return e.slowTimeout
		}
		rtt := float64(e.rtt.ExpectedRTT())
		lo := (2 + epsilon) * rtt
		span := float64(e.peerCount) * rtt * 0.5
		patience := time.Duration(lo + e.rnd.Float64()*span)
		e.slowTimeout = patience
		e.slowTimeoutOK = true
		return patience
	}
}

// Promote is called when this replica locally creates a block: it moves
// one step towards QUICK (never past it) and clears any cached SLOW
// timeout, since the role just changed.
func (e *Engine) Promote() {
	if e.state == Quick {
		return
	}
	e.state--
	e.clearSlowTimeout()
}

// Demote is called when an inbound block shows this replica is behind (the
// local head is Less than the new block) or was created by a
// QUICK peer; either signals this replica should back off entirely to
// SLOW rather than stepping down gradually.
func (e *Engine) Demote() {
	if e.state == Slow {
		return
	}
	e.state = Slow
}

// ShouldDemote reports whether receipt of an inbound block with the given
// fork-choice comparison against the local head, and creator role,
// warrants a demotion per §4.2: head < block, or the block's creator was
// QUICK.
func (e *Engine) ShouldDemote(headLessThanBlock bool, creatorState Role) bool {
	return headLessThanBlock || creatorState == Quick
}

func (e *Engine) clearSlowTimeout() {
	e.slowTimeoutOK = false
}
