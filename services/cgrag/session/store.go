// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codelore/codelore/services/cgrag/datatypes"
)

// Store configuration defaults.
const (
	// DefaultTTL is how long a session survives without access.
	DefaultTTL = 30 * time.Minute

	// DefaultMaxCachedItems caps each session's evidence cache.
	DefaultMaxCachedItems = 50

	// DefaultSweepInterval is how often the background sweep runs.
	DefaultSweepInterval = 5 * time.Minute
)

// Store manages session lifecycles: lazy creation, TTL expiry, and the
// periodic cleanup sweep.
//
// # Thread Safety
//
// Safe for concurrent use. The store lock covers only the session map;
// per-session state is guarded by each session's own lock so unrelated
// conversations never contend.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	ttl      time.Duration
	maxItems int
	clock    Clock
	logger   *slog.Logger
	onSize   func(int)
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithTTL sets the session time-to-live.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMaxCachedItems caps each session's evidence cache.
func WithMaxCachedItems(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.maxItems = n
		}
	}
}

// WithClock injects a clock; tests use a fake they advance by hand.
func WithClock(clock Clock) StoreOption {
	return func(s *Store) { s.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

// WithSizeHook registers a callback invoked with the live session count
// whenever it changes. Used to feed the active-sessions gauge. The
// callback runs under the store lock and must not call back into the
// store.
func WithSizeHook(fn func(int)) StoreOption {
	return func(s *Store) { s.onSize = fn }
}

// NewStore creates a session store with the given options.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		ttl:      DefaultTTL,
		maxItems: DefaultMaxCachedItems,
		clock:    SystemClock{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate returns the live session for id, refreshing its
// last-access time. An empty or unknown id, or an id whose session has
// expired, allocates a fresh session with a new id.
//
// An expired session must not be reused: its cached evidence may
// describe a codebase state the conversation no longer shares.
func (s *Store) GetOrCreate(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if sess, ok := s.sessions[id]; ok {
			if !sess.IsExpired(s.ttl) {
				sess.Touch()
				return sess
			}
			delete(s.sessions, id)
			s.logger.Debug("Session expired, allocating replacement", "session_id", id)
		}
	}

	sess := newSession(datatypes.NewSessionID(), s.maxItems, s.clock)
	s.sessions[sess.ID] = sess
	s.logger.Debug("Session created", "session_id", sess.ID)
	s.notifySize()
	return sess
}

// Get returns the live, non-expired session for id without creating one.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.IsExpired(s.ttl) {
		return nil, false
	}
	return sess, true
}

// Len returns the number of live sessions (expired but unswept included).
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// TTL returns the configured session time-to-live.
func (s *Store) TTL() time.Duration { return s.ttl }

// CleanupExpired removes every session past TTL and returns the count.
// Safe under concurrent and periodic invocation; a session touched
// between the check and the delete simply survives to the next sweep.
func (s *Store) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.IsExpired(s.ttl) {
			delete(s.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("Expired sessions removed", "count", removed, "remaining", len(s.sessions))
		s.notifySize()
	}
	return removed
}

// notifySize reports the current session count. Callers hold s.mu.
func (s *Store) notifySize() {
	if s.onSize != nil {
		s.onSize(len(s.sessions))
	}
}

// RunSweeper runs CleanupExpired on a ticker until ctx is cancelled.
// Meant to run in its own goroutine from the service wiring.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CleanupExpired()
		}
	}
}
