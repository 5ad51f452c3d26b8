package ratelimiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/notifyhub/modqueue-notifier/internal/domain"
)

// PlatformLimiters holds one token bucket per platform. With burst 1 the
// first request of a flush goes out immediately and each following request
// group waits a full interval behind the previous one.
type PlatformLimiters struct {
	limiters map[domain.Platform]*rate.Limiter
}

// New spaces requests to the same platform by at least interval.
// A zero interval disables spacing.
func New(interval time.Duration) *PlatformLimiters {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}

	return &PlatformLimiters{
		limiters: map[domain.Platform]*rate.Limiter{
			domain.PlatformDiscord: rate.NewLimiter(limit, 1),
			domain.PlatformSlack:   rate.NewLimiter(limit, 1),
		},
	}
}

// Wait blocks until the platform's limiter grants a token.
// Returns a non-nil error only if ctx is cancelled while waiting.
// Unknown platforms are not limited.
func (pl *PlatformLimiters) Wait(ctx context.Context, p domain.Platform) error {
	l, ok := pl.limiters[p]
	if !ok {
		return ctx.Err()
	}
	return l.Wait(ctx)
}
