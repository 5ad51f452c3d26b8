package kvstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/notifyhub/modqueue-notifier/internal/domain"
)

type memEntry struct {
	value     string
	expiresAt time.Time // zero = never
}

type memSorted struct {
	members   map[string]int64
	expiresAt time.Time
}

// MemoryStore is a hand-written, in-memory Store. It backs the "memory"
// store backend and every unit test; no mock-generation library needed.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]*memEntry
	sorted map[string]*memSorted

	// Now is the clock used for expiry. Tests replace it to move time.
	Now func() time.Time

	fail Failures
}

// Failures are per-operation error overrides used by tests to simulate a
// broken store. A nil field means the operation behaves normally.
type Failures struct {
	Get    error
	Set    error
	ZAdd   error
	ZRange error
	ZRem   error
}

// SetFailures replaces the active error overrides. Safe to call while other
// goroutines use the store.
func (m *MemoryStore) SetFailures(f Failures) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = f
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]*memEntry),
		sorted: make(map[string]*memSorted),
		Now:    time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.fail.Get != nil {
		return "", m.fail.Get
	}
	e, ok := m.values[key]
	if !ok || m.expired(e.expiresAt) {
		return "", domain.ErrNotFound
	}
	return e.value, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail.Set != nil {
		return m.fail.Set
	}
	m.values[key] = &memEntry{value: value, expiresAt: m.deadline(ttl)}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	delete(m.sorted, key)
	return nil
}

func (m *MemoryStore) ZAdd(_ context.Context, key string, score int64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail.ZAdd != nil {
		return m.fail.ZAdd
	}
	s := m.liveSortedLocked(key)
	if s == nil {
		s = &memSorted{members: make(map[string]int64)}
		m.sorted[key] = s
	}
	s.members[member] = score
	return nil
}

func (m *MemoryStore) ZRange(_ context.Context, key string) ([]Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.fail.ZRange != nil {
		return nil, m.fail.ZRange
	}
	s, ok := m.sorted[key]
	if !ok || m.expired(s.expiresAt) {
		return nil, nil
	}
	out := make([]Member, 0, len(s.members))
	for v, score := range s.members {
		out = append(out, Member{Value: v, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].Value < out[j].Value
	})
	return out, nil
}

func (m *MemoryStore) ZRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail.ZRem != nil {
		return m.fail.ZRem
	}
	s, ok := m.sorted[key]
	if !ok {
		return nil
	}
	for _, v := range members {
		delete(s.members, v)
	}
	if len(s.members) == 0 {
		delete(m.sorted, key)
	}
	return nil
}

func (m *MemoryStore) ZCard(_ context.Context, key string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sorted[key]
	if !ok || m.expired(s.expiresAt) {
		return 0, nil
	}
	return len(s.members), nil
}

func (m *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	deadline := m.deadline(ttl)
	if e, ok := m.values[key]; ok {
		e.expiresAt = deadline
	}
	if s, ok := m.sorted[key]; ok {
		s.expiresAt = deadline
	}
	return nil
}

// PurgeExpired drops every expired key and returns how many were removed.
func (m *MemoryStore) PurgeExpired(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, e := range m.values {
		if m.expired(e.expiresAt) {
			delete(m.values, k)
			n++
		}
	}
	for k, s := range m.sorted {
		if m.expired(s.expiresAt) {
			delete(m.sorted, k)
			n++
		}
	}
	return n, nil
}

// ---- helpers ----

// liveSortedLocked returns the collection at key, discarding it first if it
// has expired. Must be called with mu held.
func (m *MemoryStore) liveSortedLocked(key string) *memSorted {
	s, ok := m.sorted[key]
	if !ok {
		return nil
	}
	if m.expired(s.expiresAt) {
		delete(m.sorted, key)
		return nil
	}
	return s
}

func (m *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.Now().Add(ttl)
}

func (m *MemoryStore) expired(at time.Time) bool {
	return !at.IsZero() && !m.Now().Before(at)
}

// compile-time checks
var (
	_ Store  = (*MemoryStore)(nil)
	_ Purger = (*MemoryStore)(nil)
)
