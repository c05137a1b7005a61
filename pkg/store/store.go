// Package store is the State Store: the sole owner of persisted rows.
// Every other component reaches the database exclusively through this
// package's transactional operations; nothing else issues ent queries.
package store

import (
	"github.com/raworc/tsbx/ent"
)

// Store wraps the ent client with the transactional contract operations
// the rest of the system is built against.
type Store struct {
	client *ent.Client
}

// New builds a Store around an already-migrated ent client.
func New(client *ent.Client) *Store {
	return &Store{client: client}
}

// Client exposes the underlying ent client for components (like the
// orchestrator) that need to compose multi-entity transactions of their
// own without reopening the connection pool.
func (s *Store) Client() *ent.Client {
	return s.client
}
