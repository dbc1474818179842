// Package store implements the bounded, time-ordered alert cache (C2):
// an ordered sequence with a secondary alertId index, an admission
// filter, and FIFO/TTL eviction.
package store

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/polarityio/dataminr-pulse-limited/core"
	"github.com/polarityio/dataminr-pulse-limited/model"
)

// Store owns the ordered alert sequence, its alertId index, and the
// lists catalog. All operations are synchronous from a caller's point
// of view and guarded by one mutex — spec.md doesn't call for finer
// granularity, and the working set is small (CacheMaxItems, typically
// 100).
type Store struct {
	mu sync.Mutex

	sequence []model.Alert
	byID     map[string]*model.Alert

	lists []model.List

	maxItems   int
	maxAgeMs   int64
	typeFilter map[string]struct{} // lowercased; empty means admit all

	logger core.Logger
}

// New creates a Store bounded by maxItems/maxAgeMs, admitting only
// alert types in typeFilter (case-insensitive; empty slice admits all).
func New(maxItems int, maxAgeMs int64, typeFilter []string, logger core.Logger) *Store {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	filter := make(map[string]struct{}, len(typeFilter))
	for _, t := range typeFilter {
		filter[strings.ToLower(t)] = struct{}{}
	}
	return &Store{
		byID:       make(map[string]*model.Alert),
		maxItems:   maxItems,
		maxAgeMs:   maxAgeMs,
		typeFilter: filter,
		logger:     logger,
	}
}

func (s *Store) admits(a model.Alert, nowMs int64) bool {
	if len(s.typeFilter) > 0 {
		if _, ok := s.typeFilter[a.TypeName()]; !ok {
			return false
		}
	}
	if a.AlertID != "" {
		if _, exists := s.byID[a.AlertID]; exists {
			return false // I5: first-write-wins
		}
	}
	if s.maxAgeMs > 0 && nowMs-a.AlertTimestamp > s.maxAgeMs {
		return false
	}
	return true
}

// Add admits surviving alerts into the store and returns {added, total}.
// Survivors are prepended to the sequence head; a bounded head-scan
// (first 10 items) detects an out-of-order insert before paying for a
// full sort — the common case is the vendor already returning
// newest-first pages, prepended in that order.
func (s *Store) Add(alerts []model.Alert) (added int, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()

	survivors := make([]model.Alert, 0, len(alerts))
	for _, a := range alerts {
		if !s.admits(a, now) {
			continue
		}
		survivors = append(survivors, a)
		if a.AlertID != "" {
			cp := a
			s.byID[a.AlertID] = &cp
		}
	}

	if len(survivors) > 0 {
		s.sequence = append(survivors, s.sequence...)
		added = len(survivors)
	}

	if needsSort(s.sequence) {
		sort.SliceStable(s.sequence, func(i, j int) bool {
			return s.sequence[i].AlertTimestamp > s.sequence[j].AlertTimestamp
		})
	}

	if s.maxItems > 0 && len(s.sequence) > s.maxItems {
		evicted := s.sequence[s.maxItems:]
		s.sequence = s.sequence[:s.maxItems]
		for _, a := range evicted {
			if a.AlertID != "" {
				delete(s.byID, a.AlertID)
			}
		}
	}

	total = len(s.sequence)
	if registry := core.GetGlobalMetricsRegistry(); registry != nil {
		registry.Counter("store_alerts_added", "count", strconv.Itoa(added))
		registry.Gauge("store_size", float64(total))
	}
	return added, total
}

// needsSort bounded-scans the first 10 items for a descending-order
// violation; a full sequence scan is unnecessary because only the
// freshly-prepended head can be out of order.
func needsSort(seq []model.Alert) bool {
	limit := len(seq)
	if limit > 10 {
		limit = 10
	}
	for i := 1; i < limit; i++ {
		if seq[i-1].AlertTimestamp < seq[i].AlertTimestamp {
			return true
		}
	}
	return false
}

// GetAll returns the sequence filtered by alertTimestamp > since (when
// given) and by listIDs/types (read-time filters; both optional, never
// mutating). An opportunistic cleanup pass trims aged tail items first.
func (s *Store) GetAll(since *int64, listIDs []string, types []string) []model.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trimAgedLocked()

	var typeSet map[string]struct{}
	if len(types) > 0 {
		typeSet = make(map[string]struct{}, len(types))
		for _, t := range types {
			typeSet[strings.ToLower(t)] = struct{}{}
		}
	}
	var listSet map[string]struct{}
	if len(listIDs) > 0 {
		listSet = make(map[string]struct{}, len(listIDs))
		for _, id := range listIDs {
			listSet[id] = struct{}{}
		}
	}

	out := make([]model.Alert, 0, len(s.sequence))
	for _, a := range s.sequence {
		if since != nil && a.AlertTimestamp <= *since {
			continue
		}
		if typeSet != nil {
			if _, ok := typeSet[a.TypeName()]; !ok {
				continue
			}
		}
		if listSet != nil && !a.MatchesListID(listSet) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// trimAgedLocked drops sequence tail entries past maxAgeMs. Caller
// holds s.mu. Only the tail is checked: the sequence is kept sorted
// newest-first, so age violations accumulate at the end.
func (s *Store) trimAgedLocked() {
	if s.maxAgeMs <= 0 || len(s.sequence) == 0 {
		return
	}
	now := time.Now().UnixMilli()
	cut := len(s.sequence)
	for cut > 0 && now-s.sequence[cut-1].AlertTimestamp > s.maxAgeMs {
		cut--
	}
	if cut == len(s.sequence) {
		return
	}
	for _, a := range s.sequence[cut:] {
		if a.AlertID != "" {
			delete(s.byID, a.AlertID)
		}
	}
	s.sequence = s.sequence[:cut]
}

// GetByID is an O(1) mapping lookup; explicit-fetch semantics bypass
// the TTL filter GetAll applies.
func (s *Store) GetByID(id string) (model.Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return model.Alert{}, false
	}
	return *a, true
}

// LatestTimestamp returns the newest alert's timestamp, if any.
func (s *Store) LatestTimestamp() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sequence) == 0 {
		return 0, false
	}
	return s.sequence[0].AlertTimestamp, true
}

// Lists returns the current lists catalog.
func (s *Store) Lists() []model.List {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.List, len(s.lists))
	copy(out, s.lists)
	return out
}

// SetLists atomically replaces the lists catalog. A nil/empty
// replacement is a no-op: a failed refresh must preserve the last
// known-good catalog rather than clearing it.
func (s *Store) SetLists(lists []model.List) {
	if len(lists) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists = lists
}

// Clear drops the sequence and mapping atomically.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequence = nil
	s.byID = make(map[string]*model.Alert)
}

// Len reports the current sequence length without copying it.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sequence)
}

