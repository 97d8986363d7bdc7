// Package paxos implements the single-decree Paxos Driver of §4.3: the
// proposer and acceptor state machines that commit one block at a time,
// and the five message kinds they exchange.
package paxos

import "github.com/pichain/pichain/core"

// Kind identifies a Paxos message's branch in the state machine.
type Kind string

const (
	KindTry         Kind = "TRY"
	KindTryOk       Kind = "TRY_OK"
	KindPropose     Kind = "PROPOSE"
	KindProposeAck  Kind = "PROPOSE_ACK"
	KindCommit      Kind = "COMMIT"
)

// Message is the single wire shape carrying all five Paxos kinds, mirroring
// the original's PaxosMessage: each kind only populates the fields its
// branch needs, the rest stay nil.
type Message struct {
	Kind       Kind         `json:"kind"`
	RequestSeq int64        `json:"request_seq"`

	NewBlock            *core.Block `json:"new_block,omitempty"`
	PropBlock           *core.Block `json:"prop_block,omitempty"`
	SuppBlock           *core.Block `json:"supp_block,omitempty"`
	ComBlock            *core.Block `json:"com_block,omitempty"`
	LastCommittedBlock  *core.Block `json:"last_committed_block,omitempty"`
}
