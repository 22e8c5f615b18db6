// Package storage provides key-value persistence for the session core. The
// core persists each room's message history under a messages:<room> key and
// only ever reads and writes whole values, so the interface is a minimal
// get/set by string key. Three backends are provided: in-memory (tests and
// ephemeral sessions), Redis, and PostgreSQL.
package storage

import "context"

// Store is the persistence surface consumed by the session core. Get returns
// (nil, nil) for keys that have never been written; callers treat missing and
// corrupt values the same way, degrading to an empty history.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}
