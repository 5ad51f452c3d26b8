// Package overflow decides when the queue is large enough, and the last
// alert old enough, to page moderators again.
package overflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/modqueue-notifier/internal/domain"
	"github.com/notifyhub/modqueue-notifier/internal/kvstore"
)

// Key stores the epoch milliseconds of the last alert that reached at
// least one platform.
const Key = "last_overflow_alert"

const DefaultCooldown = time.Hour

type Gate struct {
	store  kvstore.Store
	logger *zap.Logger
	now    func() time.Time
}

func NewGate(store kvstore.Store, logger *zap.Logger) *Gate {
	return &Gate{store: store, logger: logger, now: time.Now}
}

// WithClock overrides the time source.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// ShouldAlert reports whether count exceeds threshold and no alert was
// sent within cooldown. A store failure suppresses the alert.
func (g *Gate) ShouldAlert(ctx context.Context, count, threshold int, cooldown time.Duration) bool {
	if count <= threshold {
		return false
	}

	v, err := g.store.Get(ctx, Key)
	if errors.Is(err, domain.ErrNotFound) {
		return true
	}
	if err != nil {
		g.logger.Warn("overflow gate read failed, suppressing alert", zap.Error(err))
		return false
	}

	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		g.logger.Warn("discarding malformed overflow timestamp", zap.String("value", v))
		return true
	}
	return g.now().Sub(time.UnixMilli(ms)) >= cooldown
}

// RecordAlertSent stamps now as the last alert. The record expires with the
// cooldown.
func (g *Gate) RecordAlertSent(ctx context.Context, now time.Time, cooldown time.Duration) error {
	if err := g.store.Set(ctx, Key, strconv.FormatInt(now.UnixMilli(), 10), cooldown); err != nil {
		return fmt.Errorf("record overflow alert: %w", err)
	}
	return nil
}
