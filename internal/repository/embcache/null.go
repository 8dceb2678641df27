package embcache

import (
	"context"
	"time"

	"ragdex/internal/db"
)

// NullStore is a no-op cache backend: every read misses and every write is
// discarded. Wired in when the backing store is unavailable so embedding
// requests keep working without caching.
type NullStore struct{}

func (NullStore) Get(_ context.Context, _ string) ([]byte, error) {
	return nil, db.ErrKeyNotFound
}

func (NullStore) Set(_ context.Context, _ string, _ []byte) error { return nil }

func (NullStore) SetWithTTL(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	return nil
}
