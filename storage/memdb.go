package storage

import (
	"bytes"
	"sort"
	"sync"
)

// MemDB is an in-memory DB used by tests: the in-memory transport harness
// runs whole clusters in one process, and each simulated replica needs its
// own independent, fast Block Store backing. Adapted from the teacher's
// dirty/deleted write-buffer bookkeeping (storage/statedb.go), trimmed to
// the generic byte map a Block Store actually needs.
type MemDB struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemDB returns an empty in-memory DB.
func NewMemDB() *MemDB {
	return &MemDB{data: make(map[string][]byte)}
}

func (m *MemDB) Get(key []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (m *MemDB) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[string(key)] = cp
	return nil
}

func (m *MemDB) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *MemDB) NewIterator(prefix []byte) Iterator {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for k := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	return &memIterator{db: m, keys: keys, pos: -1}
}

func (m *MemDB) NewBatch() Batch {
	return &memBatch{db: m}
}

func (m *MemDB) Close() error { return nil }

type memIterator struct {
	db   *MemDB
	keys []string
	pos  int
}

func (it *memIterator) Next() bool {
	it.pos++
	return it.pos < len(it.keys)
}

func (it *memIterator) Key() []byte {
	return []byte(it.keys[it.pos])
}

func (it *memIterator) Value() []byte {
	it.db.mu.Lock()
	defer it.db.mu.Unlock()
	return it.db.data[it.keys[it.pos]]
}

func (it *memIterator) Release()     {}
func (it *memIterator) Error() error { return nil }

type memBatch struct {
	db      *MemDB
	puts    map[string][]byte
	deletes map[string]struct{}
}

func (b *memBatch) Put(key, value []byte) {
	if b.puts == nil {
		b.puts = make(map[string][]byte)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	b.puts[string(key)] = cp
	delete(b.deletes, string(key))
}

func (b *memBatch) Delete(key []byte) {
	if b.deletes == nil {
		b.deletes = make(map[string]struct{})
	}
	b.deletes[string(key)] = struct{}{}
	delete(b.puts, string(key))
}

func (b *memBatch) Reset() {
	b.puts = nil
	b.deletes = nil
}

func (b *memBatch) Write() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	for k, v := range b.puts {
		b.db.data[k] = v
	}
	for k := range b.deletes {
		delete(b.db.data, k)
	}
	return nil
}
