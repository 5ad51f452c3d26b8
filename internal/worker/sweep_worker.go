package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/modqueue-notifier/internal/kvstore"
)

// SweepWorker deletes expired rows from a store that only hides them on
// read. Without it the postgres tables grow by one dedup mark per item.
type SweepWorker struct {
	purger   kvstore.Purger
	interval time.Duration
	logger   *zap.Logger
}

func NewSweepWorker(purger kvstore.Purger, interval time.Duration, logger *zap.Logger) *SweepWorker {
	return &SweepWorker{purger: purger, interval: interval, logger: logger}
}

// Run ticks every interval and purges expired entries.
// Stops cleanly when ctx is cancelled.
func (sw *SweepWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.logger.Info("sweep worker started", zap.Duration("interval", sw.interval))

	for {
		select {
		case <-ctx.Done():
			sw.logger.Info("sweep worker stopping")
			return
		case <-ticker.C:
			sw.sweep(ctx)
		}
	}
}

func (sw *SweepWorker) sweep(ctx context.Context) {
	n, err := sw.purger.PurgeExpired(ctx)
	if err != nil {
		sw.logger.Error("sweep error", zap.Error(err))
		return
	}
	if n > 0 {
		sw.logger.Info("purged expired entries", zap.Int64("count", n))
	}
}
