package pipeline

import (
	"time"

	"github.com/pichain/pichain/core"
)

// RequestBlocks (RQB) asks for a missing block by id, sent when a parent
// walk hits a gap during reach_genesis.
type RequestBlocks struct {
	BlockID int64 `json:"block_id"`
}

// RespondBlocks (RSB) answers a RequestBlocks with the requested block
// plus up to RecoveryBlocksCount ancestors, so a multi-block gap can close
// in one round trip.
type RespondBlocks struct {
	Blocks []*core.Block `json:"blocks"`
}

// AckCommit (ACM) announces that the sender has locally committed
// blockID, feeding the genesis high-watermark in core.BlockTree.
type AckCommit struct {
	BlockID int64 `json:"block_id"`
}

// Ping (PIN) carries the sender's send time for RTT estimation.
type Ping struct {
	SentAt time.Time `json:"sent_at"`
}

// Pong (PON) echoes the SentAt from the triggering Ping.
type Pong struct {
	SentAt time.Time `json:"sent_at"`
}
