// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"container/list"
	"sort"
	"sync"
	"time"

	"github.com/codelore/codelore/services/cgrag/datatypes"
)

// Session is one conversation's cached state.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Two near-simultaneous
// follow-ups on the same session serialize on the session's lock, so
// neither the LRU cache nor the unresolvable set can be corrupted.
type Session struct {
	mu sync.Mutex

	// ID is the external session identifier (sess_<uuid>).
	ID string

	// CreatedAt is when the session was allocated.
	CreatedAt time.Time

	// lastAccess is bumped by Touch on every use.
	lastAccess time.Time

	// evidence is the LRU cache of prior evidence, keyed by cache key.
	evidence map[string]*list.Element
	lru      *list.List
	maxItems int

	// unresolvable holds normalized gap strings proven unanswerable.
	// Gaps themselves are not persisted, only this outcome.
	unresolvable map[string]bool

	clock Clock
}

// evidenceEntry is one cached evidence item with its key.
type evidenceEntry struct {
	key  string
	item datatypes.EvidenceItem
}

func newSession(id string, maxItems int, clock Clock) *Session {
	now := clock.Now()
	return &Session{
		ID:           id,
		CreatedAt:    now,
		lastAccess:   now,
		evidence:     make(map[string]*list.Element),
		lru:          list.New(),
		maxItems:     maxItems,
		unresolvable: make(map[string]bool),
		clock:        clock,
	}
}

// Touch refreshes the last-access time.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAccess = s.clock.Now()
}

// IsExpired reports whether more than ttl has elapsed since last access.
// Immediately after Touch it is always false.
func (s *Session) IsExpired(ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.Now().Sub(s.lastAccess) > ttl
}

// LastAccess returns the last-access time.
func (s *Session) LastAccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

// CacheEvidence stores an item under a key, evicting the least recently
// used entry once the cap is exceeded. Re-adding an existing key
// refreshes its recency and replaces the value.
func (s *Session) CacheEvidence(key string, item datatypes.EvidenceItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAccess = s.clock.Now()

	if elem, ok := s.evidence[key]; ok {
		elem.Value.(*evidenceEntry).item = item
		s.lru.MoveToFront(elem)
		return
	}

	elem := s.lru.PushFront(&evidenceEntry{key: key, item: item})
	s.evidence[key] = elem

	for s.lru.Len() > s.maxItems {
		oldest := s.lru.Back()
		if oldest == nil {
			break
		}
		s.lru.Remove(oldest)
		delete(s.evidence, oldest.Value.(*evidenceEntry).key)
	}
}

// CachedEvidence returns the item under key, refreshing its recency.
func (s *Session) CachedEvidence(key string) (datatypes.EvidenceItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.evidence[key]
	if !ok {
		return datatypes.EvidenceItem{}, false
	}
	s.lastAccess = s.clock.Now()
	s.lru.MoveToFront(elem)
	return elem.Value.(*evidenceEntry).item, true
}

// CachedCount returns the number of cached evidence items.
func (s *Session) CachedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// MarkUnresolvable records a gap (already normalized) as permanently
// unanswerable for this conversation.
func (s *Session) MarkUnresolvable(normalizedGap string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAccess = s.clock.Now()
	s.unresolvable[normalizedGap] = true
}

// IsUnresolvable reports whether a normalized gap was already proven
// unanswerable.
func (s *Session) IsUnresolvable(normalizedGap string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unresolvable[normalizedGap]
}

// UnresolvableGaps returns a sorted copy of the unresolvable set.
func (s *Session) UnresolvableGaps() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.unresolvable))
	for gap := range s.unresolvable {
		out = append(out, gap)
	}
	sort.Strings(out)
	return out
}
