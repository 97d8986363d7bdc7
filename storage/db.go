// Package storage provides the abstract byte map the Block Store persists
// through (§4.1, §6): a generic key-value interface plus a LevelDB-backed
// implementation for durability, an in-memory implementation for tests,
// and a checksum-verifying decorator.
package storage

import "github.com/pichain/pichain/core"

// Batch is an atomic write buffer. All operations are applied together
// via Write() or discarded together on error, preventing partial commits.
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)
	Write() error
	Reset()
}

// DB is the generic key-value store interface. It structurally satisfies
// core.KVStore (Get/Put/Delete), so any DB can back a core.BlockTree
// directly without either package importing the other's concrete types.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	NewIterator(prefix []byte) Iterator
	NewBatch() Batch
	Close() error
}

// Iterator walks key-value pairs matching a prefix, in key order.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}

// ErrNotFound re-exports core.ErrNotFound so storage callers that never
// otherwise need package core can still recognize a missing key.
var ErrNotFound = core.ErrNotFound
