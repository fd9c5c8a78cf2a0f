// Package tabs persists per-tab cookie state in a quota-limited key-value
// backend, evicting the least recently focused tabs under quota pressure.
package tabs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/artpar/cookielens/internal/cookies"
	"github.com/artpar/cookielens/internal/metrics"
)

// Common errors.
var (
	ErrNotFound      = errors.New("tab entry not found")
	ErrTabRemoved    = errors.New("tab was removed")
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	ErrStoreClosed   = errors.New("tab store is closed")
)

// Backend is a quota-limited key-value store. Sizes are measured with
// ItemSize.
type Backend interface {
	// Snapshot returns every stored item.
	Snapshot(ctx context.Context) (map[string][]byte, error)

	// BytesInUse returns the total size of all stored items.
	BytesInUse(ctx context.Context) (int64, error)

	// Commit stores set and deletes remove as a single atomic operation.
	Commit(ctx context.Context, set map[string][]byte, remove []string) error

	// Quota returns the byte limit.
	Quota() int64

	// Close releases the backend.
	Close() error
}

// Usage summarizes the store's quota consumption.
type Usage struct {
	BytesInUse int64 `json:"bytes_in_use"`
	Quota      int64 `json:"quota"`
	Tabs       int   `json:"tabs"`
}

// Store is the single writer for a backend. Every mutation is serialized, so
// concurrent writers never read stale snapshots.
type Store struct {
	mu      sync.Mutex
	backend Backend
	removed map[string]struct{}
	closed  bool

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// NewStore creates a Store over backend.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		removed: make(map[string]struct{}),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write replaces the entry for tabID with update applied to its current value
// (an empty entry if there is none). When the result would exceed the quota,
// other tabs are evicted least recently focused first; tabs that were never
// focused go before any that were. If evicting every other tab is not enough,
// nothing is written and ErrQuotaExceeded is returned.
//
// Writes to a tab removed with Remove fail with ErrTabRemoved.
func (s *Store) Write(ctx context.Context, tabID string, update func(Entry) Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, gone := s.removed[tabID]; gone {
		return ErrTabRemoved
	}
	return s.write(ctx, tabID, update)
}

func (s *Store) write(ctx context.Context, tabID string, update func(Entry) Entry) error {
	inUse, err := s.backend.BytesInUse(ctx)
	if err != nil {
		return fmt.Errorf("failed to read bytes in use: %w", err)
	}
	snapshot, err := s.backend.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to read storage snapshot: %w", err)
	}

	current, exists := snapshot[tabID]
	rest := inUse - ItemSize(tabID, current)

	entry := NewEntry("")
	if exists {
		decoded, err := Decode(current)
		if err != nil {
			s.logger.Warn("Discarding unreadable tab entry", zap.String("tab", tabID), zap.Error(err))
		} else {
			entry = decoded
		}
	}
	if entry.Cookies == nil {
		entry.Cookies = make(map[string]cookies.Record)
	}

	next := update(entry)
	data, err := Encode(next)
	if err != nil {
		return err
	}

	quota := s.backend.Quota()
	future := rest + ItemSize(tabID, data)

	var evicted []string
	if future > quota {
		for _, victim := range evictionOrder(snapshot, tabID) {
			if future <= quota {
				break
			}
			future -= ItemSize(victim, snapshot[victim])
			evicted = append(evicted, victim)
		}
		if future > quota {
			s.metrics.QuotaFailure()
			return fmt.Errorf("%w: tab %s needs %d bytes, quota is %d", ErrQuotaExceeded, tabID, future, quota)
		}
	}

	if err := s.backend.Commit(ctx, map[string][]byte{tabID: data}, evicted); err != nil {
		return fmt.Errorf("failed to commit tab %s: %w", tabID, err)
	}

	for _, victim := range evicted {
		s.logger.Info("Evicted tab under quota pressure",
			zap.String("tab", victim),
			zap.String("for", tabID))
	}
	s.metrics.StoreWrite(future, len(snapshot)+boolInt(!exists)-len(evicted), len(evicted))
	return nil
}

// evictionOrder returns every key except keep, least recently focused first.
// Entries without a focus time come first. Unreadable entries are treated as
// never focused.
func evictionOrder(snapshot map[string][]byte, keep string) []string {
	type candidate struct {
		key       string
		focusedAt *int64
	}
	candidates := make([]candidate, 0, len(snapshot))
	for key, value := range snapshot {
		if key == keep {
			continue
		}
		c := candidate{key: key}
		if e, err := Decode(value); err == nil {
			c.focusedAt = e.FocusedAt
		}
		candidates = append(candidates, c)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].focusedAt, candidates[j].focusedAt
		switch {
		case a == nil && b == nil:
			return candidates[i].key < candidates[j].key
		case a == nil:
			return true
		case b == nil:
			return false
		case *a != *b:
			return *a < *b
		default:
			return candidates[i].key < candidates[j].key
		}
	})

	keys := make([]string, len(candidates))
	for i, c := range candidates {
		keys[i] = c.key
	}
	return keys
}

// Create starts a fresh entry for a tab, clearing any earlier removal.
func (s *Store) Create(ctx context.Context, tabID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	delete(s.removed, tabID)
	return s.write(ctx, tabID, func(Entry) Entry {
		return NewEntry(url)
	})
}

// Remove deletes a tab's entry. Removal wins over writes still in flight:
// later writes for the tab fail with ErrTabRemoved until Create is called.
func (s *Store) Remove(ctx context.Context, tabID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	s.removed[tabID] = struct{}{}
	if err := s.backend.Commit(ctx, nil, []string{tabID}); err != nil {
		return fmt.Errorf("failed to remove tab %s: %w", tabID, err)
	}
	return nil
}

// Focus records that tabID became the active tab at the given time.
func (s *Store) Focus(ctx context.Context, tabID string, at time.Time) error {
	ms := at.UnixMilli()
	return s.Write(ctx, tabID, func(e Entry) Entry {
		e.FocusedAt = &ms
		return e
	})
}

// Navigate records a top-level navigation. Cookies are cleared when the page
// changes.
func (s *Store) Navigate(ctx context.Context, tabID, url string) error {
	return s.Write(ctx, tabID, func(e Entry) Entry {
		if e.URL != url {
			e.Cookies = make(map[string]cookies.Record)
		}
		e.URL = url
		return e
	})
}

// SetPanelState records whether the devtools panel and popup are open.
func (s *Store) SetPanelState(ctx context.Context, tabID string, devTools, popup bool) error {
	return s.Write(ctx, tabID, func(e Entry) Entry {
		e.DevToolsOpen = devTools
		e.PopupOpen = popup
		return e
	})
}

// Get returns a tab's entry.
func (s *Store) Get(ctx context.Context, tabID string) (Entry, error) {
	snapshot, err := s.snapshot(ctx)
	if err != nil {
		return Entry{}, err
	}
	data, ok := snapshot[tabID]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, tabID)
	}
	return Decode(data)
}

// List returns every readable entry keyed by tab id.
func (s *Store) List(ctx context.Context) (map[string]Entry, error) {
	snapshot, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Entry, len(snapshot))
	for key, data := range snapshot {
		e, err := Decode(data)
		if err != nil {
			s.logger.Warn("Skipping unreadable tab entry", zap.String("tab", key), zap.Error(err))
			continue
		}
		out[key] = e
	}
	return out, nil
}

// Clear deletes every entry. Tabs are not marked removed.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	snapshot, err := s.backend.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to read storage snapshot: %w", err)
	}
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	if err := s.backend.Commit(ctx, nil, keys); err != nil {
		return fmt.Errorf("failed to clear storage: %w", err)
	}
	return nil
}

// Usage reports quota consumption.
func (s *Store) Usage(ctx context.Context) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Usage{}, ErrStoreClosed
	}
	inUse, err := s.backend.BytesInUse(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to read bytes in use: %w", err)
	}
	snapshot, err := s.backend.Snapshot(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to read storage snapshot: %w", err)
	}
	return Usage{BytesInUse: inUse, Quota: s.backend.Quota(), Tabs: len(snapshot)}, nil
}

// Close closes the backend.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.backend.Close()
}

func (s *Store) snapshot(ctx context.Context) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	snapshot, err := s.backend.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage snapshot: %w", err)
	}
	return snapshot, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
