package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/notifyhub/modqueue-notifier/internal/buffer"
	"github.com/notifyhub/modqueue-notifier/internal/cache"
	"github.com/notifyhub/modqueue-notifier/internal/dedup"
	"github.com/notifyhub/modqueue-notifier/internal/domain"
	"github.com/notifyhub/modqueue-notifier/internal/kvstore"
	"github.com/notifyhub/modqueue-notifier/internal/overflow"
	"github.com/notifyhub/modqueue-notifier/internal/provider"
	"github.com/notifyhub/modqueue-notifier/internal/render"
)

// LastCheckKey records when the last backup scan ran. Informational only.
const LastCheckKey = "last_check"

// Limiter spaces consecutive requests to one platform.
type Limiter interface {
	Wait(ctx context.Context, p domain.Platform) error
}

// Deps are the collaborators a Pipeline is built from.
type Deps struct {
	Store      kvstore.Store
	Dedup      *dedup.Tracker
	Cache      *cache.Cache
	Buffer     *buffer.Buffer
	Gate       *overflow.Gate
	Dispatcher provider.Dispatcher
	Limiter    Limiter
	Hooks      Hooks
}

// Pipeline owns the four entry points of the notifier: item intake, backup
// scan, flush and overflow observation. Every entry point reports its outcome
// as a result value and never returns an error; a panic inside one is logged
// and converted into a failed result.
//
// Settings are passed into each call and never stored.
type Pipeline struct {
	store      kvstore.Store
	dedup      *dedup.Tracker
	cache      *cache.Cache
	buf        *buffer.Buffer
	gate       *overflow.Gate
	dispatcher provider.Dispatcher
	limiter    Limiter
	hooks      Hooks
	logger     *zap.Logger
	now        func() time.Time

	// flushing prevents two overlapping flushes in this process from
	// draining and sending the same entries.
	flushing atomic.Bool
}

func NewPipeline(d Deps, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		store:      d.Store,
		dedup:      d.Dedup,
		cache:      d.Cache,
		buf:        d.Buffer,
		gate:       d.Gate,
		dispatcher: d.Dispatcher,
		limiter:    d.Limiter,
		hooks:      d.Hooks.withDefaults(),
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock overrides the time source used for staleness and timestamps.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// OnItemDetected runs one raw item through intake.
func (p *Pipeline) OnItemDetected(ctx context.Context, raw domain.RawItem, s domain.Settings) (res IntakeResult) {
	res.ID = raw.ID
	defer p.catch("item intake", func() { res.Outcome = OutcomeFailed })

	if raw.ID == "" {
		res.Outcome = OutcomeInvalid
		p.hooks.OnSkipped(res.Outcome)
		return res
	}
	if p.dedup.IsProcessed(ctx, raw.ID) {
		res.Outcome = OutcomeDuplicate
		p.hooks.OnSkipped(res.Outcome)
		return res
	}

	res.Outcome = p.intake(ctx, raw, s)
	return res
}

// OnBackupScan re-runs intake for every item not yet processed. Items are
// buffered in input order.
func (p *Pipeline) OnBackupScan(ctx context.Context, raws []domain.RawItem, s domain.Settings) (res ScanResult) {
	res.Scanned = len(raws)
	defer p.catch("backup scan", func() {})

	ids := make([]string, len(raws))
	for i, r := range raws {
		ids[i] = r.ID
	}
	processed := p.dedup.AreProcessed(ctx, ids)

	res.Items = make([]IntakeResult, 0, len(raws))
	seen := make(map[string]struct{}, len(raws))
	for i, raw := range raws {
		r := IntakeResult{ID: raw.ID}
		_, repeated := seen[raw.ID]
		switch {
		case raw.ID == "":
			r.Outcome = OutcomeInvalid
			p.hooks.OnSkipped(r.Outcome)
		case processed[i] || repeated:
			r.Outcome = OutcomeDuplicate
			p.hooks.OnSkipped(r.Outcome)
		default:
			seen[raw.ID] = struct{}{}
			r.Outcome = p.safeIntake(ctx, raw, s)
		}
		if r.Outcome == OutcomeBuffered {
			res.Buffered++
		}
		res.Items = append(res.Items, r)
	}

	stamp := p.now().UTC().Format(time.RFC3339)
	if err := p.store.Set(ctx, LastCheckKey, stamp, 0); err != nil {
		p.logger.Warn("failed to record last check", zap.Error(err))
	}

	p.logger.Info("backup scan complete",
		zap.Int("scanned", res.Scanned),
		zap.Int("buffered", res.Buffered),
	)
	return res
}

// safeIntake isolates a panic to the one item that caused it.
func (p *Pipeline) safeIntake(ctx context.Context, raw domain.RawItem, s domain.Settings) (out Outcome) {
	defer p.catch("scan item", func() { out = OutcomeFailed })
	return p.intake(ctx, raw, s)
}

// intake normalizes, filters and buffers raw. The dedup mark is written on
// every path that saw a valid id, whether or not anything was buffered.
func (p *Pipeline) intake(ctx context.Context, raw domain.RawItem, s domain.Settings) Outcome {
	log := p.logger.With(zap.String("item_id", raw.ID))
	defer p.dedup.MarkProcessed(ctx, raw.ID)

	item, err := domain.Normalize(raw, s.Subreddit, p.now(), s.StaleThresholdMinutes)
	if err != nil {
		outcome := OutcomeInvalid
		if errors.Is(err, domain.ErrUnknownKind) {
			outcome = OutcomeUnknownKind
		}
		log.Warn("skipping item", zap.Error(err))
		p.hooks.OnSkipped(outcome)
		return outcome
	}

	if !s.ShouldNotify(item) {
		log.Debug("notifications disabled for item",
			zap.String("kind", string(item.Kind)),
			zap.Bool("stale", item.IsStale),
		)
		p.hooks.OnSkipped(OutcomeFiltered)
		return OutcomeFiltered
	}

	if item.NeedsParentTitle() {
		title := domain.UnknownPostTitle
		if item.ParentID != "" {
			title = p.cache.Title(ctx, item.ParentID)
		}
		item = item.WithParentTitle(title)
	}

	if err := p.buf.Enqueue(ctx, item); err != nil {
		log.Error("failed to buffer item", zap.Error(err))
		p.hooks.OnSkipped(OutcomeBufferFailed)
		return OutcomeBufferFailed
	}

	p.hooks.OnEnqueued(item.Kind)
	log.Info("item buffered",
		zap.String("kind", string(item.Kind)),
		zap.Bool("stale", item.IsStale),
	)
	return OutcomeBuffered
}

// OnFlushTick drains the buffer, delivers its items to every enabled
// platform and clears exactly the drained entries. Delivery is best-effort:
// entries are cleared even when a platform failed.
func (p *Pipeline) OnFlushTick(ctx context.Context, s domain.Settings) (res FlushResult) {
	start := time.Now()
	defer p.catch("flush", func() {})

	if !p.flushing.CompareAndSwap(false, true) {
		p.logger.Debug("flush already in progress")
		res.Skipped = true
		return res
	}
	defer p.flushing.Store(false)

	// Drained entries are cleared at the end, so every group must be
	// attempted even if the caller is shutting down.
	ctx = context.WithoutCancel(ctx)

	entries, err := p.buf.Drain(ctx)
	if err != nil {
		p.logger.Error("failed to drain buffer", zap.Error(err))
		return res
	}
	if len(entries) == 0 {
		return res
	}

	items := buffer.Items(entries)
	res.Items = len(items)
	res.RenderedAt = p.now().UTC()

	if len(items) > 0 {
		res.Platforms = p.deliverBatch(ctx, items, s, res.RenderedAt)
	}

	if err := p.buf.Clear(ctx, entries); err != nil {
		p.logger.Error("failed to clear flushed entries",
			zap.Int("entries", len(entries)), zap.Error(err))
	} else {
		res.Cleared = len(entries)
	}

	res.Duration = time.Since(start)
	p.hooks.OnFlushed(res.Items, res.Duration)
	if depth, err := p.buf.Depth(ctx); err == nil {
		p.hooks.OnDepth(depth)
	}

	p.logger.Info("flush complete",
		zap.Int("items", res.Items),
		zap.Int("cleared", res.Cleared),
		zap.Duration("elapsed", res.Duration),
	)
	return res
}

func (p *Pipeline) deliverBatch(ctx context.Context, items []domain.QueueItem, s domain.Settings, now time.Time) map[domain.Platform]PlatformResult {
	platforms := s.EnabledPlatforms()
	if len(platforms) == 0 {
		p.logger.Warn("no platform enabled, dropping batch", zap.Int("items", len(items)))
		return nil
	}

	deco := render.Decoration{GifURL: p.cache.Gif(ctx, s.GiphyAPIKey, s.GiphyTag)}

	var payloads = map[domain.Platform][]any{}
	for _, pl := range platforms {
		switch pl {
		case domain.PlatformDiscord:
			for _, b := range render.DiscordBatches(items, deco, s, now) {
				payloads[pl] = append(payloads[pl], b)
			}
		case domain.PlatformSlack:
			for _, m := range render.SlackMessages(items, deco, now) {
				payloads[pl] = append(payloads[pl], m)
			}
		}
	}

	var (
		mu  sync.Mutex
		out = make(map[domain.Platform]PlatformResult, len(payloads))
		g   errgroup.Group
	)
	for pl, list := range payloads {
		g.Go(func() error {
			r := p.sendAll(ctx, pl, s.Endpoint(pl), list)
			mu.Lock()
			out[pl] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// sendAll delivers payloads to one platform in order, spaced by the limiter.
// A failed request does not stop the remaining ones.
func (p *Pipeline) sendAll(ctx context.Context, pl domain.Platform, endpoint string, payloads []any) (res PlatformResult) {
	defer p.catch(fmt.Sprintf("deliver to %s", pl), func() {})

	for _, payload := range payloads {
		if err := p.limiter.Wait(ctx, pl); err != nil {
			p.logger.Warn("delivery interrupted",
				zap.String("platform", string(pl)), zap.Error(err))
			return res
		}
		res.Requests++
		ok := p.dispatcher.Deliver(ctx, endpoint, payload)
		if ok {
			res.Succeeded++
		}
		p.hooks.OnDelivered(pl, ok)
	}
	return res
}

// OnQueueSizeObserved pages moderators when the queue holds more than the
// configured threshold and the last alert is older than the cooldown.
// The cooldown restarts only if at least one platform accepted the alert.
func (p *Pipeline) OnQueueSizeObserved(ctx context.Context, count int, s domain.Settings) (res OverflowResult) {
	res.Count = count
	defer p.catch("overflow check", func() { res.Reason = ReasonFailed })

	cooldown := s.OverflowCooldown
	if cooldown <= 0 {
		cooldown = overflow.DefaultCooldown
	}

	switch {
	case count < 0:
		res.Reason = ReasonInvalidCount
		return res
	case !s.EnableOverflowAlerts:
		res.Reason = ReasonDisabled
		return res
	case count <= s.OverflowThreshold:
		res.Reason = ReasonBelowThreshold
		return res
	case !p.gate.ShouldAlert(ctx, count, s.OverflowThreshold, cooldown):
		res.Reason = ReasonCooldown
		return res
	}

	now := p.now()
	payloads := render.RenderOverflow(count, s, now)
	if len(payloads) == 0 {
		p.logger.Warn("overflow detected but no platform enabled", zap.Int("count", count))
		res.Reason = ReasonNoPlatforms
		return res
	}
	res.Alerted = true

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	res.Platforms = make(map[domain.Platform]bool, len(payloads))
	for pl, payload := range payloads {
		g.Go(func() error {
			defer p.catch(fmt.Sprintf("overflow alert to %s", pl), func() {})
			ok := p.dispatcher.Deliver(ctx, s.Endpoint(pl), payload)
			p.hooks.OnDelivered(pl, ok)
			mu.Lock()
			res.Platforms[pl] = ok
			if ok {
				res.Sent = true
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if res.Sent {
		if err := p.gate.RecordAlertSent(ctx, now, cooldown); err != nil {
			p.logger.Error("failed to record overflow alert", zap.Error(err))
		}
	}
	p.hooks.OnOverflow(res.Sent)

	p.logger.Info("overflow alert dispatched",
		zap.Int("count", count),
		zap.Int("threshold", s.OverflowThreshold),
		zap.Bool("sent", res.Sent),
	)
	return res
}

// Depth returns the number of buffered entries awaiting the next flush.
func (p *Pipeline) Depth(ctx context.Context) (int, error) {
	n, err := p.buf.Depth(ctx)
	if err != nil {
		return 0, fmt.Errorf("buffer depth: %w", err)
	}
	p.hooks.OnDepth(n)
	return n, nil
}

// catch logs a panic from the calling entry point and runs onPanic so the
// caller can mark its result as failed.
func (p *Pipeline) catch(op string, onPanic func()) {
	if r := recover(); r != nil {
		p.logger.Error("recovered from panic",
			zap.String("op", op),
			zap.Any("panic", r),
			zap.Stack("stack"),
		)
		onPanic()
	}
}
