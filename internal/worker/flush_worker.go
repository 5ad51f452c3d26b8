package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/modqueue-notifier/internal/domain"
	"github.com/notifyhub/modqueue-notifier/internal/service"
)

// Flusher is the part of the pipeline the flush worker drives.
type Flusher interface {
	OnFlushTick(ctx context.Context, s domain.Settings) service.FlushResult
}

// FlushWorker drains the notification buffer on a fixed interval.
// Settings are re-read on every tick so a reload takes effect on the next
// flush without a restart.
type FlushWorker struct {
	pipeline Flusher
	settings func() domain.Settings
	interval time.Duration
	logger   *zap.Logger
}

func NewFlushWorker(
	pipeline Flusher,
	settings func() domain.Settings,
	interval time.Duration,
	logger *zap.Logger,
) *FlushWorker {
	return &FlushWorker{pipeline: pipeline, settings: settings, interval: interval, logger: logger}
}

// Run ticks every interval and flushes whatever is buffered.
// Stops cleanly when ctx is cancelled.
func (fw *FlushWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(fw.interval)
	defer ticker.Stop()

	fw.logger.Info("flush worker started", zap.Duration("interval", fw.interval))

	for {
		select {
		case <-ctx.Done():
			fw.logger.Info("flush worker stopping")
			return
		case <-ticker.C:
			fw.tick(ctx)
		}
	}
}

func (fw *FlushWorker) tick(ctx context.Context) {
	res := fw.pipeline.OnFlushTick(ctx, fw.settings())
	if res.Items > 0 {
		fw.logger.Debug("flushed buffered notifications",
			zap.Int("items", res.Items),
			zap.Duration("elapsed", res.Duration),
		)
	}
}
