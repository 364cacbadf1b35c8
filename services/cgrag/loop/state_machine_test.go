// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package loop

import "testing"

func TestTransition_LegalCycle(t *testing.T) {
	state := StateRetrieving
	for _, next := range []State{
		StateGenerating, StateExtractingGaps, StateResolving,
		StateRetrieving, StateGenerating, StateExtractingGaps, StateDone,
	} {
		state = transition(state, next)
	}
	if state != StateDone {
		t.Errorf("final state = %s, want done", state)
	}
}

func TestTransition_EveryStateCanFinish(t *testing.T) {
	for _, from := range []State{StateRetrieving, StateGenerating, StateExtractingGaps, StateResolving} {
		if got := transition(from, StateDone); got != StateDone {
			t.Errorf("transition(%s, done) = %s", from, got)
		}
	}
}

func TestTransition_InvalidEdgePanics(t *testing.T) {
	cases := []struct {
		name       string
		from, next State
	}{
		{"skipping generation", StateRetrieving, StateExtractingGaps},
		{"resolving before extraction", StateGenerating, StateResolving},
		{"leaving done", StateDone, StateRetrieving},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("transition(%s, %s) did not panic", tc.from, tc.next)
				}
			}()
			transition(tc.from, tc.next)
		})
	}
}
