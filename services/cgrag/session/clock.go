// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session owns the per-conversation state of the CGRAG engine:
// a TTL-bounded store of sessions, each with an LRU evidence cache and
// the set of gaps already proven unresolvable.
//
// Sessions are the only cross-request shared mutable state in the
// engine, and all mutation happens under per-session locks.
package session

import "time"

// Clock abstracts time for deterministic TTL tests. Production uses
// SystemClock; tests inject a fake they can advance by hand.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }
