// Package transport implements the §6 transport contract: a reliable,
// length-delimited, peer-identified message stream with a HEL/ACK
// handshake, automatic reconnection, and broadcast/respond primitives with
// self-delivery semantics for TXN/PAM/ACM kinds.
package transport

import "encoding/json"

// Kind labels a transport-level message. PAM (Paxos message) itself is not
// a wire kind — TRY/TRY_OK/PROPOSE/PROPOSE_ACK/COMMIT are the five
// concrete Paxos kinds the self-delivery rule applies to.
type Kind string

const (
	KindHello      Kind = "HEL"
	KindAck        Kind = "ACK"
	KindTry        Kind = "TRY"
	KindTryOk      Kind = "TRY_OK"
	KindPropose    Kind = "PROPOSE"
	KindProposeAck Kind = "PROPOSE_ACK"
	KindCommit     Kind = "COMMIT"
	KindBlock      Kind = "BLK"
	KindTxn        Kind = "TXN"
	KindReqBlocks  Kind = "RQB"
	KindRespBlocks Kind = "RSB"
	KindPing       Kind = "PIN"
	KindPong       Kind = "PON"
	KindAckCommit  Kind = "ACM"
)

// selfDeliverKinds is the set of message kinds that self-broadcast per §6:
// TXN, ACM, and every Paxos kind, since the proposer must count its own
// TRY_OK/PROPOSE_ACK vote.
var selfDeliverKinds = map[Kind]bool{
	KindTry:        true,
	KindTryOk:      true,
	KindPropose:    true,
	KindProposeAck: true,
	KindCommit:     true,
	KindTxn:        true,
	KindAckCommit:  true,
}

// SelfDelivers reports whether broadcasting k must also deliver it to the
// sender itself.
func SelfDelivers(k Kind) bool {
	return selfDeliverKinds[k]
}

// Envelope is one inbound message as delivered to the core event loop:
// the peer index it came from (or this replica's own index, for
// self-delivered broadcasts), the kind, and the raw JSON payload to be
// unmarshaled by the handler appropriate to Kind.
type Envelope struct {
	From    int64           `json:"from"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Transport is the capability the Pipeline Coordinator depends on,
// satisfied by both the real TCP implementation and the in-memory test
// harness. It carries no framing or dialing detail — only the contract.
type Transport interface {
	// Broadcast sends payload, tagged kind, to every connected peer, and
	// for kinds in selfDeliverKinds also enqueues it as if received from
	// this replica's own index.
	Broadcast(kind Kind, payload any) error

	// Respond unicasts payload, tagged kind, back to peerIndex — used to
	// reply to the sender of a just-handled message.
	Respond(peerIndex int64, kind Kind, payload any) error

	// Inbound is the channel the event loop selects on for incoming
	// envelopes, including self-delivered broadcasts.
	Inbound() <-chan Envelope

	// SelfIndex is this replica's own node index, resolved at
	// construction (TCP) or assignment (memory harness).
	SelfIndex() int64

	// PeerIndices returns every other replica's index, in stable order.
	PeerIndices() []int64

	Close() error
}
