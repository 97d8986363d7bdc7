// Package pipeline implements the Pipeline Coordinator of §4.4: the
// single-threaded event loop that owns transaction intake, the patience
// timer, block creation and head movement, commit application, and
// recovery from missing ancestors.
package pipeline

import (
	"encoding/json"
	"time"

	"github.com/pichain/pichain/config"
	"github.com/pichain/pichain/core"
	"github.com/pichain/pichain/paxos"
	"github.com/pichain/pichain/pichainlog"
	"github.com/pichain/pichain/role"
	"github.com/pichain/pichain/rtt"
	"github.com/pichain/pichain/transport"
)

// Coordinator is the single goroutine that serializes every state change
// to the Block Store, Role Engine, and Paxos Driver. It is not safe for
// concurrent use from outside its own Run loop; Submit is the one
// exception, delivered over a channel precisely so external callers never
// touch core state directly.
type Coordinator struct {
	tree   *core.BlockTree
	engine *role.Engine
	driver *paxos.Driver
	tr     transport.Transport
	prober *rtt.Prober
	cfg    *config.Config

	self int64
	n    int64

	known   map[int64]struct{}
	pending []*core.Transaction

	timer    *time.Timer
	armedFor *core.Transaction

	commitTimer    *time.Timer
	commitDeadline *core.Block

	syncMode bool

	onCommit func([]string)

	submitCh chan string
	stopCh   chan struct{}
}

// New constructs a Coordinator. tree, engine, and driver must already be
// wired to the same genesis; tr is the transport this replica uses to
// broadcast and respond; prober supplies PIN/PON round-trip samples to
// engine.
func New(cfg *config.Config, tree *core.BlockTree, engine *role.Engine, driver *paxos.Driver, tr transport.Transport, prober *rtt.Prober) *Coordinator {
	return &Coordinator{
		tree:    tree,
		engine:  engine,
		driver:  driver,
		tr:      tr,
		prober:  prober,
		cfg:     cfg,
		self:    tr.SelfIndex(),
		n:       cfg.PeerCount(),
		known:   make(map[int64]struct{}),
		submitCh: make(chan string, 256),
		stopCh:   make(chan struct{}),
	}
}

// OnCommit registers the host callback invoked once per committed block
// with the ordered list of committed command contents.
func (c *Coordinator) OnCommit(cb func([]string)) {
	c.onCommit = cb
}

// Submit enqueues command for ordering. Safe to call from any goroutine.
func (c *Coordinator) Submit(command string) {
	select {
	case c.submitCh <- command:
	case <-c.stopCh:
	}
}

// Stop terminates Run.
func (c *Coordinator) Stop() {
	close(c.stopCh)
}

// Run is the event loop; it blocks until Stop is called, so callers run
// it in its own goroutine.
func (c *Coordinator) Run() {
	for {
		var timerC <-chan time.Time
		if c.timer != nil {
			timerC = c.timer.C
		}
		var commitTimerC <-chan time.Time
		if c.commitTimer != nil {
			commitTimerC = c.commitTimer.C
		}

		select {
		case <-c.stopCh:
			return

		case command := <-c.submitCh:
			seq, err := c.tree.NextCounter()
			if err != nil {
				pichainlog.Pipeline.Error().Err(err).Msg("persist submitted txn counter")
			}
			txn := core.NewTransaction(c.self, seq, command)
			_ = c.tr.Broadcast(transport.KindTxn, txn)

		case env := <-c.tr.Inbound():
			c.dispatch(env)

		case <-timerC:
			armed := c.armedFor
			c.timer = nil
			c.armedFor = nil
			c.onTimeout(armed)

		case <-commitTimerC:
			deadline := c.commitDeadline
			c.commitTimer = nil
			c.commitDeadline = nil
			c.onCommitTimeout(deadline)
		}
	}
}

func (c *Coordinator) dispatch(env transport.Envelope) {
	switch env.Kind {
	case transport.KindTry, transport.KindTryOk, transport.KindPropose, transport.KindProposeAck, transport.KindCommit:
		c.handlePaxos(env)
	case transport.KindBlock:
		var b core.Block
		if err := json.Unmarshal(env.Payload, &b); err != nil {
			pichainlog.Pipeline.Warn().Err(err).Msg("decode BLK")
			return
		}
		c.receiveBlock(&b)
	case transport.KindTxn:
		var txn core.Transaction
		if err := json.Unmarshal(env.Payload, &txn); err != nil {
			pichainlog.Pipeline.Warn().Err(err).Msg("decode TXN")
			return
		}
		c.receiveTransaction(&txn)
	case transport.KindReqBlocks:
		var req RequestBlocks
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return
		}
		c.handleRequestBlocks(req, env.From)
	case transport.KindRespBlocks:
		var resp RespondBlocks
		if err := json.Unmarshal(env.Payload, &resp); err != nil {
			return
		}
		c.handleRespondBlocks(resp)
	case transport.KindAckCommit:
		var ack AckCommit
		if err := json.Unmarshal(env.Payload, &ack); err != nil {
			return
		}
		c.handleAckCommit(ack, env.From)
	case transport.KindPing:
		var ping Ping
		if err := json.Unmarshal(env.Payload, &ping); err != nil {
			return
		}
		_ = c.tr.Respond(env.From, transport.KindPong, Pong{SentAt: ping.SentAt})
	case transport.KindPong:
		var pong Pong
		if err := json.Unmarshal(env.Payload, &pong); err != nil {
			return
		}
		c.prober.ObservePong(env.From, pong.SentAt, time.Now())
	}
}

func (c *Coordinator) handlePaxos(env transport.Envelope) {
	var msg paxos.Message
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		pichainlog.Pipeline.Warn().Err(err).Msg("decode paxos message")
		return
	}

	out := c.driver.Handle(&msg, c.tree)
	c.applyCommits(out.Commits)

	if out.Respond != nil {
		_ = c.tr.Respond(env.From, transport.Kind(out.Respond.Kind), out.Respond)
	}
	if out.Broadcast != nil {
		_ = c.tr.Broadcast(transport.Kind(out.Broadcast.Kind), out.Broadcast)
	}
}
