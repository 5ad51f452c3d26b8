package kvstore

import (
	"context"
	"time"
)

// Member is one element of a sorted collection.
type Member struct {
	Value string
	Score int64
}

// Store is an expiring key-value store with a sorted-collection extension.
// The pgx implementation is in pg_store.go; the in-memory one in memory_store.go.
//
// Every operation is individually atomic per key; callers never rely on
// multi-key transactions.
type Store interface {
	// Get returns domain.ErrNotFound when the key is absent or expired.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value under key. A zero ttl means the key never expires.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// ZAdd inserts member into the sorted collection at key, or updates its score.
	ZAdd(ctx context.Context, key string, score int64, member string) error
	// ZRange returns every live member ordered by score ascending, ties by value.
	ZRange(ctx context.Context, key string) ([]Member, error)
	// ZRem removes exactly the given members; others are untouched.
	ZRem(ctx context.Context, key string, members ...string) error
	ZCard(ctx context.Context, key string) (int, error)

	// Expire sets a ttl on every entry stored under key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// Purger is implemented by stores that keep expired rows until swept.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}
