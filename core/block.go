package core

// GenesisCreatorID is the sentinel creator id used by the root block.
const GenesisCreatorID int64 = -1

// Block is an immutable node in the replicated log tree. Once constructed it
// is never mutated; updates (depth resolution, persistence) only fill in
// fields that were left unset at construction time.
type Block struct {
	BlockID       int64          `json:"block_id"`
	CreatorID     int64          `json:"creator_id"`
	Seq           int64          `json:"seq"`
	ParentBlockID *int64         `json:"parent_block_id"`
	Txs           []*Transaction `json:"txs"`
	Depth         *int64         `json:"depth"`
	CreatorState  Role           `json:"creator_state"`
}

// NewGenesis returns the cluster-wide root block: depth 0, no parent,
// no transactions. Every replica constructs an identical Genesis at
// process start.
func NewGenesis() *Block {
	depth := int64(0)
	return &Block{
		BlockID:       MakeID(GenesisCreatorID, 0),
		CreatorID:     GenesisCreatorID,
		Seq:           0,
		ParentBlockID: nil,
		Txs:           nil,
		Depth:         &depth,
	}
}

// IsGenesis reports whether b is the root block.
func (b *Block) IsGenesis() bool {
	return b.CreatorID == GenesisCreatorID
}

// NewBlock constructs a block extending parent with txs, created by
// creatorID at sequence seq while in role creatorState. Depth is computed
// immediately since parent is known at local-creation time.
func NewBlock(creatorID, seq int64, parent *Block, txs []*Transaction, creatorState Role) *Block {
	parentID := parent.BlockID
	depth := parent.DepthOrZero() + int64(len(txs))
	return &Block{
		BlockID:       MakeID(creatorID, seq),
		CreatorID:     creatorID,
		Seq:           seq,
		ParentBlockID: &parentID,
		Txs:           txs,
		Depth:         &depth,
		CreatorState:  creatorState,
	}
}

// DepthOrZero returns the block's depth, or 0 if it has not yet been
// resolved (only possible for a block whose parent was not yet known when
// it was added to the tree).
func (b *Block) DepthOrZero() int64 {
	if b.Depth == nil {
		return 0
	}
	return *b.Depth
}

// DepthKnown reports whether Depth has been resolved.
func (b *Block) DepthKnown() bool {
	return b.Depth != nil
}

// Less implements the total ordering on blocks: a < b iff a.depth < b.depth,
// ties broken by creator_id.
func (b *Block) Less(other *Block) bool {
	bd, od := b.DepthOrZero(), other.DepthOrZero()
	if bd != od {
		return bd < od
	}
	return b.CreatorID < other.CreatorID
}

// GreaterOrEqual is the negation of other.Less(b); provided for readability
// at call sites that phrase the fork-choice check as "b >= other".
func (b *Block) GreaterOrEqual(other *Block) bool {
	return !b.Less(other)
}
