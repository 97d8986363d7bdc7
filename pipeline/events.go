package pipeline

import (
	"time"

	"github.com/pichain/pichain/config"
	"github.com/pichain/pichain/core"
	"github.com/pichain/pichain/pichainlog"
	"github.com/pichain/pichain/role"
	"github.com/pichain/pichain/transport"
)

// receiveTransaction is receive_transaction: a fresh transaction joins the
// pending queue and, if it is the only one pending, arms the patience
// timer; an already-seen transaction is dropped silently.
func (c *Coordinator) receiveTransaction(txn *core.Transaction) {
	if _, seen := c.known[txn.TxnID]; seen {
		return
	}
	c.known[txn.TxnID] = struct{}{}
	c.pending = append(c.pending, txn)
	if len(c.pending) == 1 {
		c.armTimer(txn)
	}
}

// onTimeout is timeout_over: fires only if txn is still the reason a
// timer was armed (argument-identity cancellation via membership check
// instead of explicit timer cancellation) and still pending.
func (c *Coordinator) onTimeout(txn *core.Transaction) {
	if txn == nil || !c.pendingContains(txn.TxnID) {
		return
	}

	b := c.createBlock()
	c.moveTo(b)
	_ = c.tr.Broadcast(transport.KindBlock, b)

	if c.engine.State() == role.Quick && !c.driver.CommitRunning() {
		try := c.driver.StartRound(b, c.tree.Committed())
		_ = c.tr.Broadcast(transport.Kind(try.Kind), try)
		c.commitDeadline = b
		c.commitTimer = time.NewTimer(maxCommitTime(c.cfg))
	}
}

// onCommitTimeout is the MAX_COMMIT_TIME watchdog: if this replica's own
// proposer round for deadline has not reached a decision in time, it
// yields the round rather than blocking its own future proposals forever.
// Identity-by-argument applies as with onTimeout: CommitRunning can only
// still be true here for deadline's own round, since a new round cannot
// start while one is already running.
func (c *Coordinator) onCommitTimeout(deadline *core.Block) {
	if deadline == nil || !c.driver.CommitRunning() {
		return
	}
	c.driver.AbortRound()
	c.engine.Demote()
}

// createBlock is create_block: moves up to MaxTxnCount pending
// transactions, oldest first, into a new block extending head (the rest
// stay pending), promotes this replica's role, and tags the block with
// the post-promotion role.
func (c *Coordinator) createBlock() *core.Block {
	head := c.tree.Head()
	seq, err := c.tree.NextCounter()
	if err != nil {
		pichainlog.Pipeline.Error().Err(err).Msg("persist counter")
	}

	txs := c.pending
	if limit := c.cfg.MaxTxnCount; limit > 0 && len(txs) > limit {
		c.pending = txs[limit:]
		txs = txs[:limit]
	} else {
		c.pending = nil
	}

	c.engine.Promote()
	b := core.NewBlock(c.self, seq, head, txs, c.engine.State())

	if ok, err := c.tree.Add(b); err != nil {
		pichainlog.Pipeline.Error().Err(err).Msg("persist created block")
	} else if !ok {
		pichainlog.Pipeline.Error().Msg("created block missing its own parent")
	}

	return b
}

// receiveBlock is receive_block.
func (c *Coordinator) receiveBlock(b *core.Block) {
	if !c.reachGenesis(b) {
		return
	}

	if c.engine.ShouldDemote(c.tree.Head().Less(b), b.CreatorState) {
		c.engine.Demote()
	}

	if !c.tree.Valid(b) {
		return
	}

	c.moveTo(b)
	c.readjustTimeout()
}

// moveTo is move_to_block: re-homes head to target, re-broadcasting any
// transactions stranded on a discarded fork and marking target's own
// transactions known so they are never re-proposed.
func (c *Coordinator) moveTo(target *core.Block) {
	if !c.reachGenesis(target) {
		return
	}

	head := c.tree.Head()
	if c.tree.Ancestor(target, head) || target.BlockID == head.BlockID {
		return
	}

	common, err := c.tree.CommonAncestor(head, target)
	if err != nil {
		pichainlog.Pipeline.Error().Err(err).Msg("move_to: no common ancestor")
		return
	}

	toBroadcast := make(map[int64]*core.Transaction)
	b := head
	for b.BlockID != common.BlockID {
		for _, tx := range b.Txs {
			toBroadcast[tx.TxnID] = tx
		}
		parent, ok := c.tree.Get(*b.ParentBlockID)
		if !ok {
			break
		}
		b = parent
	}

	b = target
	for b.BlockID != common.BlockID {
		for _, tx := range b.Txs {
			c.known[tx.TxnID] = struct{}{}
			c.removePending(tx.TxnID)
			delete(toBroadcast, tx.TxnID)
		}
		parent, ok := c.tree.Get(*b.ParentBlockID)
		if !ok {
			break
		}
		b = parent
	}

	if err := c.tree.SetHead(target); err != nil {
		pichainlog.Pipeline.Error().Err(err).Msg("persist head")
	}

	for _, tx := range toBroadcast {
		_ = c.tr.Broadcast(transport.KindTxn, tx)
	}
	c.readjustTimeout()
}

// applyCommits runs commit for each block paxos.Outcome.Commits named, in
// order, guarding against re-commits the Driver did not itself suppress.
func (c *Coordinator) applyCommits(blocks []*core.Block) {
	for _, b := range blocks {
		c.commit(b)
	}
}

// commit is commit().
func (c *Coordinator) commit(b *core.Block) {
	if !c.reachGenesis(b) {
		return
	}
	if !c.tree.ShouldCommit(b) {
		return
	}

	if err := c.tree.MoveCommitted(b); err != nil {
		pichainlog.Pipeline.Error().Err(err).Msg("persist committed block")
	}
	c.moveTo(b)

	_ = c.tr.Broadcast(transport.KindAckCommit, AckCommit{BlockID: b.BlockID})

	if c.onCommit != nil {
		commands := make([]string, len(b.Txs))
		for i, tx := range b.Txs {
			commands[i] = tx.Content
		}
		c.onCommit(commands)
	}
}

// reachGenesis is reach_genesis_block: walks b's parent chain down to the
// current genesis pointer (which may have advanced past the original
// root via the ACM high-watermark, §4.1), entering sync mode and
// requesting the first missing ancestor if the chain is incomplete.
func (c *Coordinator) reachGenesis(b *core.Block) bool {
	if ok, err := c.tree.Add(b); err != nil {
		pichainlog.Pipeline.Error().Err(err).Msg("persist block")
	} else if !ok {
		c.syncMode = true
		_ = c.tr.Broadcast(transport.KindReqBlocks, RequestBlocks{BlockID: *b.ParentBlockID})
		return false
	}

	cur := b
	genesis := c.tree.Genesis()
	for cur.BlockID != genesis.BlockID {
		if cur.ParentBlockID == nil {
			// Reached a different root than our current genesis: the
			// chains have diverged below the watermark and cannot be
			// reconciled; treat as unreachable rather than looping.
			return false
		}
		parent, ok := c.tree.Get(*cur.ParentBlockID)
		if !ok {
			c.syncMode = true
			_ = c.tr.Broadcast(transport.KindReqBlocks, RequestBlocks{BlockID: *cur.ParentBlockID})
			return false
		}
		cur = parent
	}
	return true
}

func (c *Coordinator) handleRequestBlocks(req RequestBlocks, sender int64) {
	b, ok := c.tree.Get(req.BlockID)
	if !ok {
		return
	}
	blocks := []*core.Block{b}
	genesis := c.tree.Genesis()
	for i := int64(0); i < c.cfg.RecoveryBlocksCount && b.BlockID != genesis.BlockID; i++ {
		if b.ParentBlockID == nil {
			break
		}
		parent, ok := c.tree.Get(*b.ParentBlockID)
		if !ok {
			break
		}
		b = parent
		if b.BlockID != genesis.BlockID {
			blocks = append(blocks, b)
		}
	}
	_ = c.tr.Respond(sender, transport.KindRespBlocks, RespondBlocks{Blocks: blocks})
}

func (c *Coordinator) handleRespondBlocks(resp RespondBlocks) {
	if !c.syncMode {
		return
	}
	for _, b := range resp.Blocks {
		if _, err := c.tree.Add(b); err != nil {
			pichainlog.Pipeline.Error().Err(err).Msg("persist recovered block")
		}
	}
	c.syncMode = false
}

func (c *Coordinator) handleAckCommit(ack AckCommit, sender int64) {
	b, ok := c.tree.Get(ack.BlockID)
	if !ok {
		return
	}
	c.tree.RecordAck(ack.BlockID, sender)
	if err := c.tree.MaybeAdvanceGenesis(b, c.n, c.cfg.RecoveryBlocksCount); err != nil {
		pichainlog.Pipeline.Error().Err(err).Msg("advance genesis")
		return
	}
	c.driver.SetGenesis(c.tree.Genesis())
}

// readjustTimeout is readjust_timeout: re-arms the patience timer for the
// new oldest pending transaction whenever the queue head changed.
func (c *Coordinator) readjustTimeout() {
	if len(c.pending) == 0 {
		return
	}
	if c.armedFor != nil && c.armedFor.TxnID == c.pending[0].TxnID {
		return
	}
	c.armTimer(c.pending[0])
}

func (c *Coordinator) armTimer(txn *core.Transaction) {
	c.armedFor = txn
	delay := c.engine.Patience()
	accum := accumulationTime(c.cfg)
	if c.engine.State() == role.Quick || delay < accum {
		delay = accum
	}
	c.timer = time.NewTimer(delay)
}

func (c *Coordinator) pendingContains(txnID int64) bool {
	for _, tx := range c.pending {
		if tx.TxnID == txnID {
			return true
		}
	}
	return false
}

func (c *Coordinator) removePending(txnID int64) {
	for i, tx := range c.pending {
		if tx.TxnID == txnID {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

func accumulationTime(cfg *config.Config) time.Duration {
	return time.Duration(cfg.AccumulationTimeMS) * time.Millisecond
}

func maxCommitTime(cfg *config.Config) time.Duration {
	return time.Duration(cfg.MaxCommitTimeMS) * time.Millisecond
}
