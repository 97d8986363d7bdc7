// Package kvstore is an example distributed key-value database built on
// top of the piChain host API, mirroring the original project's
// examples/distributed_db.py: "put" commands are submitted as opaque
// transaction strings and applied to a local map once their block
// commits; Get reads that local map without submitting anything.
package kvstore

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pichain/pichain/node"
)

// Store is a replicated key-value map: every replica applies the same
// committed command sequence, so every replica's map converges to the
// same state without further coordination.
type Store struct {
	n *node.Node

	mu   sync.RWMutex
	data map[string]string

	// onPut, if set, is notified with (key, value) after a "put" commits
	// locally, letting a caller answer a pending client request.
	onPut func(key, value string)
}

// New wraps n, registering the commit handler that applies put commands.
// The caller is still responsible for n.Start.
func New(n *node.Node) *Store {
	s := &Store{
		n:    n,
		data: make(map[string]string),
	}
	n.OnCommit(s.applyCommitted)
	return s
}

// Put submits a "put key value" command for ordering. The value is not
// visible via Get until the command's block commits; use OnPut to be
// notified.
func (s *Store) Put(key, value string) error {
	if strings.ContainsAny(key, " \n") || strings.ContainsAny(value, " \n") {
		return fmt.Errorf("kvstore: key/value must not contain spaces or newlines")
	}
	s.n.Submit(fmt.Sprintf("put %s %s", key, value))
	return nil
}

// Get returns the locally applied value for key, if any. Since
// application happens only after commit, Get may briefly lag a Put
// issued by this same replica.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// OnPut registers a callback invoked after each "put" command commits
// locally, mirroring the original's broadcast-on-commit notification.
func (s *Store) OnPut(cb func(key, value string)) {
	s.onPut = cb
}

func (s *Store) applyCommitted(commands []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, command := range commands {
		fields := strings.Fields(command)
		if len(fields) < 3 || fields[0] != "put" {
			continue
		}
		key, value := fields[1], fields[2]
		s.data[key] = value
		if s.onPut != nil {
			s.onPut(key, value)
		}
	}
}
