package domain

import (
	"strings"
	"time"
)

// Kind is the provenance of a queue item. It is decided once by Normalize
// and carried explicitly afterwards; nothing downstream re-inspects the id.
type Kind string

const (
	KindSubmission Kind = "submission"
	KindComment    Kind = "comment"
)

const (
	PrefixSubmission = "t3_"
	PrefixComment    = "t1_"
)

// Fallback text substituted for missing fields on an inbound item.
const (
	UnknownAuthor    = "Unknown"
	UntitledPost     = "Untitled Post"
	UnknownPostTitle = "Unknown Post"
)

const redditBaseURL = "https://reddit.com"

// RawItem is the shape handed to us by the event source or backup scan.
// Any field may be missing; Normalize substitutes fallbacks.
type RawItem struct {
	ID          string `json:"id"`
	Title       string `json:"title,omitempty"`
	Author      string `json:"author,omitempty"`
	Permalink   string `json:"permalink,omitempty"`
	CreatedUTC  int64  `json:"created_utc,omitempty"`
	LinkID      string `json:"link_id,omitempty"`
	LinkTitle   string `json:"link_title,omitempty"`
	ParentTitle string `json:"parent_title,omitempty"`
}

// QueueItem is the normalized, immutable unit of notification.
type QueueItem struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"created_at"`
	IsStale     bool      `json:"is_stale"`
	ParentID    string    `json:"parent_id,omitempty"`
	ParentTitle string    `json:"parent_title,omitempty"`
}

// KindOf classifies an id by its provenance prefix.
func KindOf(id string) (Kind, error) {
	switch {
	case strings.HasPrefix(id, PrefixSubmission):
		return KindSubmission, nil
	case strings.HasPrefix(id, PrefixComment):
		return KindComment, nil
	}
	return "", ErrUnknownKind
}

// Normalize converts a raw item into a QueueItem. Staleness is evaluated
// against now; a missing creation time is treated as now.
//
// A comment without a link or parent title keeps an empty ParentTitle so the
// caller can resolve it through the title cache (see WithParentTitle).
func Normalize(raw RawItem, subreddit string, now time.Time, staleThresholdMinutes int) (QueueItem, error) {
	if raw.ID == "" {
		return QueueItem{}, ErrMissingID
	}
	kind, err := KindOf(raw.ID)
	if err != nil {
		return QueueItem{}, err
	}

	createdAt := now
	if raw.CreatedUTC > 0 {
		createdAt = time.Unix(raw.CreatedUTC, 0).UTC()
	}

	item := QueueItem{
		ID:        raw.ID,
		Kind:      kind,
		Author:    fallback(raw.Author, UnknownAuthor),
		URL:       itemURL(raw, kind, subreddit),
		CreatedAt: createdAt,
		IsStale:   IsStale(createdAt, now, staleThresholdMinutes),
	}

	switch kind {
	case KindSubmission:
		item.Title = fallback(raw.Title, UntitledPost)
	case KindComment:
		item.ParentID = raw.LinkID
		item.ParentTitle = raw.LinkTitle
		if item.ParentTitle == "" {
			item.ParentTitle = raw.ParentTitle
		}
	}
	return item, nil
}

// NeedsParentTitle reports whether a comment still lacks its parent title.
func (q QueueItem) NeedsParentTitle() bool {
	return q.Kind == KindComment && q.ParentTitle == ""
}

// WithParentTitle returns a copy with the parent title set.
// An empty title is replaced with UnknownPostTitle.
func (q QueueItem) WithParentTitle(title string) QueueItem {
	q.ParentTitle = fallback(title, UnknownPostTitle)
	return q
}

// IsStale reports whether an item created at createdAt has waited strictly
// longer than thresholdMinutes.
func IsStale(createdAt, now time.Time, thresholdMinutes int) bool {
	return now.Sub(createdAt) > time.Duration(thresholdMinutes)*time.Minute
}

func itemURL(raw RawItem, kind Kind, subreddit string) string {
	if raw.Permalink != "" {
		return redditBaseURL + raw.Permalink
	}
	prefix := PrefixSubmission
	if kind == KindComment {
		prefix = PrefixComment
	}
	return redditBaseURL + "/r/" + subreddit + "/comments/" + strings.TrimPrefix(raw.ID, prefix)
}

func fallback(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
