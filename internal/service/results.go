package service

import (
	"time"

	"github.com/notifyhub/modqueue-notifier/internal/domain"
)

// Outcome classifies what intake did with one item.
type Outcome string

const (
	OutcomeBuffered     Outcome = "buffered"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeFiltered     Outcome = "filtered"
	OutcomeUnknownKind  Outcome = "unknown_kind"
	OutcomeInvalid      Outcome = "invalid"
	OutcomeBufferFailed Outcome = "buffer_failed"
	OutcomeFailed       Outcome = "failed"
)

type IntakeResult struct {
	ID      string  `json:"id"`
	Outcome Outcome `json:"outcome"`
}

type ScanResult struct {
	Scanned  int            `json:"scanned"`
	Buffered int            `json:"buffered"`
	Items    []IntakeResult `json:"items"`
}

// PlatformResult counts requests sent to one platform during a flush.
type PlatformResult struct {
	Requests  int `json:"requests"`
	Succeeded int `json:"succeeded"`
}

type FlushResult struct {
	Items      int                                `json:"items"`
	Cleared    int                                `json:"cleared"`
	Skipped    bool                               `json:"skipped,omitempty"`
	Platforms  map[domain.Platform]PlatformResult `json:"platforms,omitempty"`
	Duration   time.Duration                      `json:"duration_ns"`
	RenderedAt time.Time                          `json:"rendered_at,omitzero"`
}

type OverflowResult struct {
	Count     int                      `json:"count"`
	Alerted   bool                     `json:"alerted"`
	Sent      bool                     `json:"sent"`
	Reason    string                   `json:"reason,omitempty"`
	Platforms map[domain.Platform]bool `json:"platforms,omitempty"`
}

// Reasons an overflow observation did not page anyone.
const (
	ReasonDisabled       = "disabled"
	ReasonBelowThreshold = "below_threshold"
	ReasonCooldown       = "cooldown"
	ReasonNoPlatforms    = "no_platforms"
	ReasonInvalidCount   = "invalid_count"
	ReasonFailed         = "failed"
)

// Hooks receive structured pipeline events. Every field is optional.
// main wires them to Prometheus; tests use them to assert on behavior.
type Hooks struct {
	OnEnqueued  func(kind domain.Kind)
	OnSkipped   func(outcome Outcome)
	OnDelivered func(platform domain.Platform, ok bool)
	OnFlushed   func(items int, elapsed time.Duration)
	OnDepth     func(depth int)
	OnOverflow  func(sent bool)
}

func (h Hooks) withDefaults() Hooks {
	if h.OnEnqueued == nil {
		h.OnEnqueued = func(domain.Kind) {}
	}
	if h.OnSkipped == nil {
		h.OnSkipped = func(Outcome) {}
	}
	if h.OnDelivered == nil {
		h.OnDelivered = func(domain.Platform, bool) {}
	}
	if h.OnFlushed == nil {
		h.OnFlushed = func(int, time.Duration) {}
	}
	if h.OnDepth == nil {
		h.OnDepth = func(int) {}
	}
	if h.OnOverflow == nil {
		h.OnOverflow = func(bool) {}
	}
	return h
}
