// Package dedup records which queue items have already been handled so that
// repeated detections and backup scans do not notify twice.
package dedup

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/notifyhub/modqueue-notifier/internal/domain"
	"github.com/notifyhub/modqueue-notifier/internal/kvstore"
)

const (
	keyPrefix = "processed:"
	sentinel  = "1"

	// MarkTTL bounds how long an item stays suppressed. After it lapses an
	// item still sitting in the queue may be notified again.
	MarkTTL = 24 * time.Hour
)

// Tracker is safe for concurrent use; all state lives in the store.
type Tracker struct {
	store  kvstore.Store
	logger *zap.Logger
}

func NewTracker(store kvstore.Store, logger *zap.Logger) *Tracker {
	return &Tracker{store: store, logger: logger}
}

// Key returns the store key holding the mark for id.
func Key(id string) string { return keyPrefix + id }

// IsProcessed fails open: a store error is reported as "not processed" so the
// item is retried rather than silently dropped.
func (t *Tracker) IsProcessed(ctx context.Context, id string) bool {
	_, err := t.store.Get(ctx, Key(id))
	switch {
	case err == nil:
		return true
	case errors.Is(err, domain.ErrNotFound):
		return false
	default:
		t.logger.Warn("dedup lookup failed, treating as unprocessed",
			zap.String("item_id", id), zap.Error(err))
		return false
	}
}

// MarkProcessed never fails; a lost mark only risks a duplicate notification.
func (t *Tracker) MarkProcessed(ctx context.Context, id string) {
	if err := t.store.Set(ctx, Key(id), sentinel, MarkTTL); err != nil {
		t.logger.Error("failed to mark item processed",
			zap.String("item_id", id), zap.Error(err))
	}
}

// AreProcessed checks ids concurrently. The result is index-aligned with ids.
func (t *Tracker) AreProcessed(ctx context.Context, ids []string) []bool {
	out := make([]bool, len(ids))
	var g errgroup.Group
	g.SetLimit(16)
	for i, id := range ids {
		g.Go(func() error {
			out[i] = t.IsProcessed(ctx, id)
			return nil
		})
	}
	_ = g.Wait() // IsProcessed never errors
	return out
}
