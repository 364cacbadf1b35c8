// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package loop

import "fmt"

// State is one phase of the answer loop. Passes run strictly
// sequentially: Retrieving feeds Generating feeds ExtractingGaps, which
// either terminates or cycles through Resolving back to Retrieving.
type State int

const (
	StateRetrieving State = iota
	StateGenerating
	StateExtractingGaps
	StateResolving
	StateDone
)

// String returns the state name for logs and span attributes.
func (s State) String() string {
	switch s {
	case StateRetrieving:
		return "retrieving"
	case StateGenerating:
		return "generating"
	case StateExtractingGaps:
		return "extracting_gaps"
	case StateResolving:
		return "resolving"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// validTransitions encodes the state machine's edges. Done is terminal.
var validTransitions = map[State][]State{
	StateRetrieving:     {StateGenerating, StateDone},
	StateGenerating:     {StateExtractingGaps, StateDone},
	StateExtractingGaps: {StateResolving, StateDone},
	StateResolving:      {StateRetrieving, StateDone},
	StateDone:           {},
}

// transition moves the machine to next, panicking on an edge the
// machine does not have. Transitions are driven only by loop code, so a
// bad edge is a programming error, not an input error.
func transition(current, next State) State {
	for _, allowed := range validTransitions[current] {
		if next == allowed {
			return next
		}
	}
	panic(fmt.Sprintf("invalid answer loop transition %s -> %s", current, next))
}
