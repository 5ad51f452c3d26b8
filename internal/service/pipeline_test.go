package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/modqueue-notifier/internal/buffer"
	"github.com/notifyhub/modqueue-notifier/internal/cache"
	"github.com/notifyhub/modqueue-notifier/internal/dedup"
	"github.com/notifyhub/modqueue-notifier/internal/domain"
	"github.com/notifyhub/modqueue-notifier/internal/kvstore"
	"github.com/notifyhub/modqueue-notifier/internal/overflow"
	"github.com/notifyhub/modqueue-notifier/internal/ratelimiter"
	"github.com/notifyhub/modqueue-notifier/internal/render"
	"github.com/notifyhub/modqueue-notifier/internal/service"
)

const (
	discordURL = "https://discord.test/hook"
	slackURL   = "https://slack.test/hook"
)

// --- fakes ---

type delivery struct {
	endpoint string
	payload  any
}

type fakeDispatcher struct {
	mu        sync.Mutex
	sent      []delivery
	fail      map[string]bool
	panicking bool
	onDeliver func()
}

func (f *fakeDispatcher) Deliver(_ context.Context, endpoint string, payload any) bool {
	if f.panicking {
		panic("dispatcher exploded")
	}
	if f.onDeliver != nil {
		f.onDeliver()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, delivery{endpoint, payload})
	return !f.fail[endpoint]
}

func (f *fakeDispatcher) to(endpoint string) []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []delivery
	for _, d := range f.sent {
		if d.endpoint == endpoint {
			out = append(out, d)
		}
	}
	return out
}

type fakeTitles struct{ title string }

func (f fakeTitles) FetchTitle(context.Context, string) (string, error) {
	if f.title == "" {
		return "", errors.New("not found")
	}
	return f.title, nil
}

type fakeGifs struct{}

func (fakeGifs) RandomGif(context.Context, string, string) (string, error) {
	return "https://gif.test/a.gif", nil
}

type events struct {
	mu        sync.Mutex
	enqueued  int
	skipped   map[service.Outcome]int
	delivered map[domain.Platform]int
	overflow  []bool
}

func (e *events) hooks() service.Hooks {
	e.skipped = map[service.Outcome]int{}
	e.delivered = map[domain.Platform]int{}
	return service.Hooks{
		OnEnqueued: func(domain.Kind) { e.mu.Lock(); e.enqueued++; e.mu.Unlock() },
		OnSkipped:  func(o service.Outcome) { e.mu.Lock(); e.skipped[o]++; e.mu.Unlock() },
		OnDelivered: func(p domain.Platform, ok bool) {
			e.mu.Lock()
			defer e.mu.Unlock()
			if ok {
				e.delivered[p]++
			}
		},
		OnOverflow: func(sent bool) { e.mu.Lock(); e.overflow = append(e.overflow, sent); e.mu.Unlock() },
	}
}

// --- helpers ---

// ticking gives every buffer append a distinct, increasing score.
func ticking(start time.Time) func() time.Time {
	var mu sync.Mutex
	t := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

type harness struct {
	p     *service.Pipeline
	store *kvstore.MemoryStore
	disp  *fakeDispatcher
	ev    *events
	now   *time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := &harness{
		store: kvstore.NewMemoryStore(),
		disp:  &fakeDispatcher{fail: map[string]bool{}},
		ev:    &events{},
		now:   &now,
	}
	clock := func() time.Time { return *h.now }
	h.store.Now = clock

	logger := zap.NewNop()
	h.p = service.NewPipeline(service.Deps{
		Store:      h.store,
		Dedup:      dedup.NewTracker(h.store, logger),
		Cache:      cache.New(h.store, fakeTitles{title: "Parent post"}, fakeGifs{}, logger),
		Buffer:     buffer.New(h.store, 0, logger).WithClock(ticking(now)),
		Gate:       overflow.NewGate(h.store, logger).WithClock(clock),
		Dispatcher: h.disp,
		Limiter:    ratelimiter.New(0),
		Hooks:      h.ev.hooks(),
	}, logger).WithClock(clock)
	return h
}

func settings() domain.Settings {
	return domain.Settings{
		Subreddit:                     "test",
		Discord:                       domain.DiscordSettings{Enabled: true, WebhookURL: discordURL, RoleID: "99"},
		Slack:                         domain.SlackSettings{Enabled: true, WebhookURL: slackURL},
		StaleThresholdMinutes:         45,
		OverflowThreshold:             5,
		OverflowCooldown:              time.Hour,
		GiphyAPIKey:                   "key",
		EnableSubmissionNotifications: true,
		EnableCommentNotifications:    true,
		EnableStaleAlerts:             true,
		EnableOverflowAlerts:          true,
	}
}

func post(id string) domain.RawItem {
	return domain.RawItem{ID: id, Title: "title " + id, Author: "alice", Permalink: "/r/test/comments/" + id}
}

// --- intake ---

func TestOnItemDetected_BuffersThenDedups(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if r := h.p.OnItemDetected(ctx, post("t3_a"), settings()); r.Outcome != service.OutcomeBuffered {
		t.Fatalf("expected buffered, got %s", r.Outcome)
	}
	if r := h.p.OnItemDetected(ctx, post("t3_a"), settings()); r.Outcome != service.OutcomeDuplicate {
		t.Fatalf("expected duplicate on second detection, got %s", r.Outcome)
	}
	if n, _ := h.p.Depth(ctx); n != 1 {
		t.Fatalf("expected 1 buffered item, got %d", n)
	}
	if h.ev.enqueued != 1 || h.ev.skipped[service.OutcomeDuplicate] != 1 {
		t.Fatalf("unexpected hook counts: enqueued=%d skipped=%v", h.ev.enqueued, h.ev.skipped)
	}
}

func TestOnItemDetected_UnknownKindMarkedAndSkipped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	r := h.p.OnItemDetected(ctx, domain.RawItem{ID: "t5_sub"}, settings())
	if r.Outcome != service.OutcomeUnknownKind {
		t.Fatalf("expected unknown_kind, got %s", r.Outcome)
	}
	if _, err := h.store.Get(ctx, dedup.Key("t5_sub")); err != nil {
		t.Fatalf("expected unknown item to be marked processed: %v", err)
	}
	if n, _ := h.p.Depth(ctx); n != 0 {
		t.Fatalf("expected nothing buffered, got %d", n)
	}
}

func TestOnItemDetected_DisabledTypeStillMarked(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := settings()
	s.EnableSubmissionNotifications = false

	if r := h.p.OnItemDetected(ctx, post("t3_off"), s); r.Outcome != service.OutcomeFiltered {
		t.Fatalf("expected filtered, got %s", r.Outcome)
	}
	if r := h.p.OnItemDetected(ctx, post("t3_off"), settings()); r.Outcome != service.OutcomeDuplicate {
		t.Fatalf("expected filtered item to stay processed, got %s", r.Outcome)
	}
}

func TestOnItemDetected_CommentResolvesParentTitle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	raw := domain.RawItem{ID: "t1_c", Author: "bob", LinkID: "t3_parent"}
	if r := h.p.OnItemDetected(ctx, raw, settings()); r.Outcome != service.OutcomeBuffered {
		t.Fatalf("expected buffered, got %s", r.Outcome)
	}

	h.p.OnFlushTick(ctx, settings())
	sent := h.disp.to(slackURL)
	if len(sent) != 1 {
		t.Fatalf("expected one slack message, got %d", len(sent))
	}
	msg := sent[0].payload.(render.SlackPayload)
	if msg.Text != `bob has commented on "Parent post"` {
		t.Fatalf("expected resolved parent title, got %q", msg.Text)
	}
}

func TestOnItemDetected_StaleUsesStaleToggle(t *testing.T) {
	h := newHarness(t)
	s := settings()
	s.EnableStaleAlerts = false

	raw := post("t3_old")
	raw.CreatedUTC = h.now.Add(-46 * time.Minute).Unix()
	if r := h.p.OnItemDetected(context.Background(), raw, s); r.Outcome != service.OutcomeFiltered {
		t.Fatalf("expected stale item filtered by stale toggle, got %s", r.Outcome)
	}
}

func TestOnItemDetected_BufferFailureStillMarks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.SetFailures(kvstore.Failures{ZAdd: errors.New("store down")})

	if r := h.p.OnItemDetected(ctx, post("t3_x"), settings()); r.Outcome != service.OutcomeBufferFailed {
		t.Fatalf("expected buffer_failed, got %s", r.Outcome)
	}
	if _, err := h.store.Get(ctx, dedup.Key("t3_x")); err != nil {
		t.Fatalf("expected mark despite buffer failure: %v", err)
	}
}

// --- backup scan ---

func TestOnBackupScan_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	items := []domain.RawItem{post("t3_1"), post("t3_2"), {ID: "t1_3", Author: "c", LinkTitle: "p"}}

	first := h.p.OnBackupScan(ctx, items, settings())
	second := h.p.OnBackupScan(ctx, items, settings())

	if first.Buffered != 3 || second.Buffered != 0 {
		t.Fatalf("expected 3 then 0 buffered, got %d then %d", first.Buffered, second.Buffered)
	}
	for _, r := range second.Items {
		if r.Outcome != service.OutcomeDuplicate {
			t.Fatalf("expected every item duplicate on rescan, got %+v", second.Items)
		}
	}
	if n, _ := h.p.Depth(ctx); n != 3 {
		t.Fatalf("expected 3 buffered entries, got %d", n)
	}

	stamp, err := h.store.Get(ctx, service.LastCheckKey)
	if err != nil || stamp != "2024-05-01T12:00:00Z" {
		t.Fatalf("expected last_check stamp, got %q (%v)", stamp, err)
	}
}

func TestOnBackupScan_SkipsAlreadyDetected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.p.OnItemDetected(ctx, post("t3_seen"), settings())
	res := h.p.OnBackupScan(ctx, []domain.RawItem{post("t3_seen"), post("t3_new")}, settings())

	if res.Buffered != 1 || res.Items[0].Outcome != service.OutcomeDuplicate {
		t.Fatalf("unexpected scan result %+v", res)
	}
}

func TestOnBackupScan_RepeatedIDBufferedOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.p.OnBackupScan(ctx, []domain.RawItem{post("t3_a"), post("t3_a")}, settings())
	if res.Buffered != 1 {
		t.Fatalf("expected 1 buffered, got %d", res.Buffered)
	}
	if res.Items[1].Outcome != service.OutcomeDuplicate {
		t.Fatalf("expected second occurrence duplicate, got %s", res.Items[1].Outcome)
	}
	if n, _ := h.p.Depth(ctx); n != 1 {
		t.Fatalf("expected 1 buffered entry, got %d", n)
	}
}

// --- flush ---

func TestOnFlushTick_CancelledMidFlushStillSendsEveryGroup(t *testing.T) {
	h := newHarness(t)
	s := settings()
	s.Slack.Enabled = false

	raws := make([]domain.RawItem, 23)
	for i := range raws {
		raws[i] = post("t3_" + string(rune('a'+i)))
	}
	h.p.OnBackupScan(context.Background(), raws, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.disp.onDeliver = cancel

	res := h.p.OnFlushTick(ctx, s)
	if got := len(h.disp.to(discordURL)); got != 3 {
		t.Fatalf("expected all 3 discord groups sent after cancel, got %d", got)
	}
	if res.Items != 23 || res.Cleared != 23 {
		t.Fatalf("unexpected flush result %+v", res)
	}
	if n, _ := h.p.Depth(context.Background()); n != 0 {
		t.Fatalf("expected empty buffer, got %d", n)
	}
}

func TestOnFlushTick_BatchesPerPlatform(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	raws := make([]domain.RawItem, 23)
	for i := range raws {
		raws[i] = post("t3_" + string(rune('a'+i)))
	}
	h.p.OnBackupScan(ctx, raws, settings())

	res := h.p.OnFlushTick(ctx, settings())
	if res.Items != 23 || res.Cleared != 23 {
		t.Fatalf("expected 23 items flushed and cleared, got %+v", res)
	}
	if got := len(h.disp.to(discordURL)); got != 3 {
		t.Fatalf("expected 3 discord requests, got %d", got)
	}
	if got := len(h.disp.to(slackURL)); got != 23 {
		t.Fatalf("expected 23 slack requests, got %d", got)
	}
	if res.Platforms[domain.PlatformDiscord].Succeeded != 3 {
		t.Fatalf("unexpected discord result %+v", res.Platforms[domain.PlatformDiscord])
	}

	first := h.disp.to(discordURL)[0].payload.(render.DiscordPayload)
	if first.Embeds[0].Thumbnail == nil || first.Embeds[0].Thumbnail.URL != "https://gif.test/a.gif" {
		t.Fatalf("expected shared gif decoration, got %+v", first.Embeds[0].Thumbnail)
	}
	if first.Embeds[0].Title != "title t3_a" {
		t.Fatalf("expected FIFO order, first embed %q", first.Embeds[0].Title)
	}

	if n, _ := h.p.Depth(ctx); n != 0 {
		t.Fatalf("expected empty buffer after flush, got %d", n)
	}
}

func TestOnFlushTick_EmptyBufferSendsNothing(t *testing.T) {
	h := newHarness(t)
	res := h.p.OnFlushTick(context.Background(), settings())
	if res.Items != 0 || len(h.disp.sent) != 0 {
		t.Fatalf("expected no-op flush, got %+v with %d sends", res, len(h.disp.sent))
	}
}

func TestOnFlushTick_PlatformFailureStillClears(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.disp.fail[discordURL] = true

	h.p.OnItemDetected(ctx, post("t3_a"), settings())
	res := h.p.OnFlushTick(ctx, settings())

	if res.Platforms[domain.PlatformDiscord].Succeeded != 0 || res.Platforms[domain.PlatformSlack].Succeeded != 1 {
		t.Fatalf("unexpected platform results %+v", res.Platforms)
	}
	if n, _ := h.p.Depth(ctx); n != 0 {
		t.Fatalf("expected buffer cleared despite failure, got %d", n)
	}
}

func TestOnFlushTick_NoPlatformsStillClears(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := settings()

	h.p.OnItemDetected(ctx, post("t3_a"), s)
	s.Discord.Enabled = false
	s.Slack.Enabled = false

	res := h.p.OnFlushTick(ctx, s)
	if res.Cleared != 1 || len(h.disp.sent) != 0 {
		t.Fatalf("expected clear without sends, got %+v and %d sends", res, len(h.disp.sent))
	}
}

func TestOnFlushTick_PanicIsContained(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.disp.panicking = true

	h.p.OnItemDetected(ctx, post("t3_a"), settings())
	res := h.p.OnFlushTick(ctx, settings())
	if res.Items != 1 {
		t.Fatalf("expected flush to report the drained item, got %+v", res)
	}
}

// --- overflow ---

func TestOnQueueSizeObserved_CooldownCycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	r1 := h.p.OnQueueSizeObserved(ctx, 6, settings())
	if !r1.Alerted || !r1.Sent {
		t.Fatalf("expected first alert to be sent, got %+v", r1)
	}
	d := h.disp.to(discordURL)[0].payload.(render.DiscordPayload)
	if d.Content != "<@&99>" {
		t.Fatalf("expected role mention, got %q", d.Content)
	}

	r2 := h.p.OnQueueSizeObserved(ctx, 6, settings())
	if r2.Alerted || r2.Reason != service.ReasonCooldown {
		t.Fatalf("expected cooldown suppression, got %+v", r2)
	}

	*h.now = h.now.Add(time.Hour)
	r3 := h.p.OnQueueSizeObserved(ctx, 6, settings())
	if !r3.Sent {
		t.Fatalf("expected alert after cooldown, got %+v", r3)
	}
}

func TestOnQueueSizeObserved_AllPlatformsFailDoesNotStartCooldown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.disp.fail[discordURL] = true
	h.disp.fail[slackURL] = true

	r1 := h.p.OnQueueSizeObserved(ctx, 10, settings())
	if !r1.Alerted || r1.Sent {
		t.Fatalf("expected attempted but unsent alert, got %+v", r1)
	}

	h.disp.fail = map[string]bool{}
	if r2 := h.p.OnQueueSizeObserved(ctx, 10, settings()); !r2.Sent {
		t.Fatalf("expected retry on next observation, got %+v", r2)
	}
	if len(h.ev.overflow) != 2 || h.ev.overflow[0] || !h.ev.overflow[1] {
		t.Fatalf("unexpected overflow hook events %v", h.ev.overflow)
	}
}

func TestOnQueueSizeObserved_PanicIsContained(t *testing.T) {
	h := newHarness(t)
	h.disp.panicking = true

	res := h.p.OnQueueSizeObserved(context.Background(), 10, settings())
	if !res.Alerted || res.Sent {
		t.Fatalf("expected attempted but unsent alert, got %+v", res)
	}
}

func TestOnQueueSizeObserved_Guards(t *testing.T) {
	tests := []struct {
		name   string
		count  int
		mutate func(*domain.Settings)
		reason string
	}{
		{"below threshold", 5, nil, service.ReasonBelowThreshold},
		{"disabled", 50, func(s *domain.Settings) { s.EnableOverflowAlerts = false }, service.ReasonDisabled},
		{"negative", -1, nil, service.ReasonInvalidCount},
		{"no platforms", 50, func(s *domain.Settings) { s.Discord.Enabled = false; s.Slack.Enabled = false }, service.ReasonNoPlatforms},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			s := settings()
			if tc.mutate != nil {
				tc.mutate(&s)
			}
			r := h.p.OnQueueSizeObserved(context.Background(), tc.count, s)
			if r.Alerted || r.Reason != tc.reason {
				t.Fatalf("expected reason %q, got %+v", tc.reason, r)
			}
			if len(h.disp.sent) != 0 {
				t.Fatalf("expected no deliveries, got %d", len(h.disp.sent))
			}
		})
	}
}
