package paxos

import "github.com/pichain/pichain/core"

// Tree is the subset of core.BlockTree the Paxos Driver needs: whether a
// candidate commit is new information, and the currently committed block
// (used to catch a lagging peer up on TRY).
type Tree interface {
	ShouldCommit(candidate *core.Block) bool
	Committed() *core.Block
}

// Outcome is everything a single inbound Message can cause: at most one
// unicast response, at most one broadcast, and zero or more blocks that
// just became committed (in commit order) for the caller to apply to the
// Block Store and report to the host callback.
type Outcome struct {
	Respond   *Message
	Broadcast *Message
	Commits   []*core.Block
}

// Driver is both the acceptor (server role, fields prefixed s_ in the
// original) and the proposer (client role, fields prefixed c_) a replica
// runs simultaneously. Majority is ⌊n/2⌋+1 computed from n.
type Driver struct {
	n int64

	// acceptor state
	sMaxBlock  *core.Block
	sSuppBlock *core.Block
	sPropBlock *core.Block

	// proposer state
	commitRunning bool
	cRequestSeq   int64
	cVotes        int64
	cSuppBlock    *core.Block
	cPropBlock    *core.Block
	cComBlock     *core.Block
	cNewBlock     *core.Block

	genesis *core.Block
}

// NewDriver constructs a Driver for a cluster of n replicas, with acceptor
// state reset to genesis as the original initializes s_max_block.
func NewDriver(n int64, genesis *core.Block) *Driver {
	return &Driver{
		n:         n,
		sMaxBlock: genesis,
		genesis:   genesis,
	}
}

func (d *Driver) majorityReached(votes int64) bool {
	return votes > d.n/2
}

// CommitRunning reports whether this replica is mid-round as proposer, so
// the Pipeline Coordinator knows whether a QUICK timeout may start a new
// round.
func (d *Driver) CommitRunning() bool {
	return d.commitRunning
}

// StartRound begins a new proposer round for newBlock, the block this
// replica just created locally. It returns the initial TRY to broadcast.
// Only a QUICK replica with no round already running may call this.
func (d *Driver) StartRound(newBlock *core.Block, lastCommitted *core.Block) *Message {
	d.commitRunning = true
	d.cVotes = 0
	d.cRequestSeq++
	d.cSuppBlock = nil
	d.cPropBlock = nil
	d.cNewBlock = newBlock

	return &Message{
		Kind:               KindTry,
		RequestSeq:         d.cRequestSeq,
		NewBlock:           newBlock,
		LastCommittedBlock: lastCommitted,
	}
}

// Handle applies an inbound Paxos message per the exact branch logic of
// §4.3, given tree for the commit catch-up and validity checks.
func (d *Driver) Handle(msg *Message, tree Tree) Outcome {
	switch msg.Kind {
	case KindTry:
		return d.handleTry(msg, tree)
	case KindTryOk:
		return d.handleTryOk(msg)
	case KindPropose:
		return d.handlePropose(msg)
	case KindProposeAck:
		return d.handleProposeAck(msg)
	case KindCommit:
		return d.handleCommit(msg, tree)
	default:
		return Outcome{}
	}
}

func (d *Driver) handleTry(msg *Message, tree Tree) Outcome {
	var out Outcome

	// Make sure the sender's last committed block is also committed here;
	// a lagging proposer is caught up before its proposal is evaluated.
	if msg.LastCommittedBlock != nil && tree.ShouldCommit(msg.LastCommittedBlock) {
		out.Commits = append(out.Commits, msg.LastCommittedBlock)
	}

	if blockLess(d.sMaxBlock, msg.NewBlock) {
		d.sMaxBlock = msg.NewBlock

		out.Respond = &Message{
			Kind:       KindTryOk,
			RequestSeq: msg.RequestSeq,
			PropBlock:  d.sPropBlock,
			SuppBlock:  d.sSuppBlock,
		}
	}
	return out
}

func (d *Driver) handleTryOk(msg *Message) Outcome {
	if msg.RequestSeq != d.cRequestSeq {
		return Outcome{}
	}

	if msg.SuppBlock != nil {
		if d.cSuppBlock == nil || blockLess(d.cSuppBlock, msg.SuppBlock) {
			d.cSuppBlock = msg.SuppBlock
			d.cPropBlock = msg.PropBlock
		}
	}

	d.cVotes++
	if !d.majorityReached(d.cVotes) {
		return Outcome{}
	}

	d.cVotes = 0
	d.cRequestSeq++

	d.cComBlock = d.cNewBlock
	if d.cPropBlock != nil {
		d.cComBlock = d.cPropBlock
	}

	return Outcome{
		Broadcast: &Message{
			Kind:       KindPropose,
			RequestSeq: d.cRequestSeq,
			ComBlock:   d.cComBlock,
			NewBlock:   d.cNewBlock,
		},
	}
}

func (d *Driver) handlePropose(msg *Message) Outcome {
	if msg.NewBlock.DepthOrZero() != d.sMaxBlock.DepthOrZero() {
		return Outcome{}
	}

	d.sPropBlock = msg.ComBlock
	d.sSuppBlock = msg.NewBlock

	return Outcome{
		Respond: &Message{
			Kind:       KindProposeAck,
			RequestSeq: msg.RequestSeq,
			ComBlock:   msg.ComBlock,
		},
	}
}

func (d *Driver) handleProposeAck(msg *Message) Outcome {
	if msg.RequestSeq != d.cRequestSeq {
		return Outcome{}
	}

	d.cVotes++
	if !d.majorityReached(d.cVotes) {
		return Outcome{}
	}

	d.cRequestSeq++
	d.commitRunning = false

	return Outcome{
		Broadcast: &Message{
			Kind:       KindCommit,
			RequestSeq: d.cRequestSeq,
			ComBlock:   msg.ComBlock,
		},
		Commits: []*core.Block{msg.ComBlock},
	}
}

func (d *Driver) handleCommit(msg *Message, tree Tree) Outcome {
	var out Outcome

	if tree.ShouldCommit(msg.ComBlock) {
		out.Commits = append(out.Commits, msg.ComBlock)
	}

	d.sSuppBlock = nil
	d.sPropBlock = nil
	d.sMaxBlock = d.genesis
	d.commitRunning = false

	return out
}

// blockLess reports whether a < b, treating a nil a as less than anything
// and a nil b as greater than nothing (never true).
func blockLess(a, b *core.Block) bool {
	if b == nil {
		return false
	}
	if a == nil {
		return true
	}
	return a.Less(b)
}

// SetGenesis updates the genesis block the acceptor resets to on COMMIT.
// Called by the Pipeline Coordinator once at startup and again whenever
// MaybeAdvanceGenesis moves genesis forward (§4.1).
func (d *Driver) SetGenesis(g *core.Block) {
	d.genesis = g
}

// AbortRound clears commit_running once MAX_COMMIT_TIME elapses without a
// decision, letting this replica yield the proposer role on a contended
// round instead of blocking its own future rounds forever. Acceptor state
// is untouched: other replicas' in-flight votes are unaffected.
func (d *Driver) AbortRound() {
	d.commitRunning = false
}
