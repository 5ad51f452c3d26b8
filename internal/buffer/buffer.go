// Package buffer holds pending notifications between intake and flush.
//
// Items live in a sorted collection scored by ingestion time, so Drain
// returns them in FIFO order. Clear removes only the members a preceding
// Drain observed: an item enqueued while a flush is in progress is either
// part of that flush or stays for the next one, but is never lost.
package buffer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/modqueue-notifier/internal/domain"
	"github.com/notifyhub/modqueue-notifier/internal/kvstore"
)

const (
	Key = "notification_queue"

	// DefaultTTL bounds worst-case staleness if flush never runs.
	DefaultTTL = 10 * time.Minute
)

// envelope is the serialized member. Seq makes every member unique even when
// the same item is enqueued twice within one clock tick.
type envelope struct {
	Seq        string           `json:"seq"`
	EnqueuedAt time.Time        `json:"enqueued_at"`
	Item       domain.QueueItem `json:"item"`
}

// Entry is one drained notification plus the raw member needed to clear it.
type Entry struct {
	Item       domain.QueueItem
	EnqueuedAt time.Time

	member string
	valid  bool
}

type Buffer struct {
	store  kvstore.Store
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// New returns a Buffer whose safety TTL is ttl (DefaultTTL when zero).
func New(store kvstore.Store, ttl time.Duration, logger *zap.Logger) *Buffer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Buffer{store: store, ttl: ttl, now: time.Now, logger: logger}
}

// WithClock replaces the ingestion clock. Used by tests for distinct timestamps.
func (b *Buffer) WithClock(now func() time.Time) *Buffer {
	b.now = now
	return b
}

// Enqueue appends item with the current instant as its ordering key and
// refreshes the collection's safety TTL.
func (b *Buffer) Enqueue(ctx context.Context, item domain.QueueItem) error {
	at := b.now().UTC()
	member, err := json.Marshal(envelope{Seq: uuid.NewString(), EnqueuedAt: at, Item: item})
	if err != nil {
		return fmt.Errorf("encode buffered item: %w", err)
	}
	if err := b.store.ZAdd(ctx, Key, at.UnixNano(), string(member)); err != nil {
		return fmt.Errorf("buffer item: %w", err)
	}
	if err := b.store.Expire(ctx, Key, b.ttl); err != nil {
		// The item is buffered; only the safety net is missing.
		b.logger.Warn("failed to refresh buffer ttl", zap.Error(err))
	}
	return nil
}

// Drain returns every buffered entry in ingestion order without removing
// anything. Pair it with Clear once delivery has been attempted.
func (b *Buffer) Drain(ctx context.Context) ([]Entry, error) {
	members, err := b.store.ZRange(ctx, Key)
	if err != nil {
		return nil, fmt.Errorf("drain buffer: %w", err)
	}

	entries := make([]Entry, 0, len(members))
	for _, m := range members {
		var env envelope
		if err := json.Unmarshal([]byte(m.Value), &env); err != nil {
			// Kept so Clear removes it; otherwise it would block every flush.
			b.logger.Error("dropping undecodable buffered item", zap.Error(err))
			entries = append(entries, Entry{member: m.Value})
			continue
		}
		entries = append(entries, Entry{
			Item:       env.Item,
			EnqueuedAt: env.EnqueuedAt,
			member:     m.Value,
			valid:      true,
		})
	}
	return entries, nil
}

// Clear removes exactly the given entries.
func (b *Buffer) Clear(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	members := make([]string, len(entries))
	for i, e := range entries {
		members[i] = e.member
	}
	if err := b.store.ZRem(ctx, Key, members...); err != nil {
		return fmt.Errorf("clear buffer: %w", err)
	}
	return nil
}

// Depth reports how many notifications are waiting.
func (b *Buffer) Depth(ctx context.Context) (int, error) {
	return b.store.ZCard(ctx, Key)
}

// Items returns the decodable items of entries, preserving order.
func Items(entries []Entry) []domain.QueueItem {
	out := make([]domain.QueueItem, 0, len(entries))
	for _, e := range entries {
		if e.valid {
			out = append(out, e.Item)
		}
	}
	return out
}
