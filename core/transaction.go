package core

// Transaction is the atomic unit submitted by a client: an opaque command
// string to be ordered and, once its block commits, delivered to the host.
// Equality and hashing are by TxnID only.
type Transaction struct {
	CreatorID int64  `json:"creator_id"`
	Seq       int64  `json:"seq"`
	TxnID     int64  `json:"txn_id"`
	Content   string `json:"content"`
}

// NewTransaction builds a Transaction for creatorID at sequence seq.
func NewTransaction(creatorID, seq int64, content string) *Transaction {
	return &Transaction{
		CreatorID: creatorID,
		Seq:       seq,
		TxnID:     MakeID(creatorID, seq),
		Content:   content,
	}
}

// MakeID derives a globally unique block/transaction id from a creator index
// and a per-creator monotonic sequence number: the low 16 bits identify the
// creator, the remaining bits carry the sequence.
func MakeID(creatorID, seq int64) int64 {
	return creatorID | (seq << 16)
}
