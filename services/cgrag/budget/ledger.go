// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package budget accounts token spend across the phases of one question.
//
// A ledger is created per request and thrown away with it. Budgets are
// ceilings on context assembly, not hard failures: exceeding one drops
// the lowest-priority evidence, never the question.
package budget

import (
	"fmt"
	"sync"

	"github.com/codelore/codelore/services/cgrag/datatypes"
)

// Phase identifies a budgeted span of the answer loop.
type Phase string

const (
	// PhaseInitial is the mode retriever's first evidence bundle.
	PhaseInitial Phase = "initial_retrieval"

	// PhaseGeneration is prompt + completion tokens across passes.
	PhaseGeneration Phase = "generation"

	// PhaseGapResolution is evidence fetched for stated gaps.
	PhaseGapResolution Phase = "gap_resolution"
)

// Default ceilings, tuned for mid-size local models.
const (
	DefaultTotalBudget         = 24000
	DefaultInitialBudget       = 8000
	DefaultGenerationBudget    = 12000
	DefaultGapResolutionBudget = 4000

	// DefaultPerGapBudget caps what one resolved gap may contribute.
	DefaultPerGapBudget = 600
)

// Config sets the ceilings for one ledger.
type Config struct {
	Total         int
	Initial       int
	Generation    int
	GapResolution int
	PerGap        int

	// ModeSplits optionally scales the initial budget per mode,
	// e.g. {"analytical": 1.25}. Missing modes use 1.0.
	ModeSplits map[datatypes.QueryMode]float64
}

// DefaultConfig returns the default ceilings.
func DefaultConfig() Config {
	return Config{
		Total:         DefaultTotalBudget,
		Initial:       DefaultInitialBudget,
		Generation:    DefaultGenerationBudget,
		GapResolution: DefaultGapResolutionBudget,
		PerGap:        DefaultPerGapBudget,
	}
}

// Validate checks the ceilings are usable.
func (c Config) Validate() error {
	if c.Total <= 0 {
		return fmt.Errorf("total budget must be positive")
	}
	if c.Initial <= 0 || c.Generation <= 0 || c.GapResolution <= 0 {
		return fmt.Errorf("phase budgets must be positive")
	}
	if c.PerGap <= 0 {
		return fmt.Errorf("per-gap budget must be positive")
	}
	return nil
}

// Ledger tracks token spend per phase against the configured ceilings.
//
// # Thread Safety
//
// Safe for concurrent use. Within one answer loop all charges happen
// sequentially.
type Ledger struct {
	mu     sync.Mutex
	config Config
	spent  map[Phase]int
}

// NewLedger creates a ledger; a zero config gets defaults.
func NewLedger(config Config) *Ledger {
	if config.Total == 0 {
		config = DefaultConfig()
	}
	return &Ledger{
		config: config,
		spent:  make(map[Phase]int),
	}
}

// Charge records spend against a phase. It always succeeds; budget
// enforcement happens at assembly time via Remaining, not by rejecting
// already-spent tokens.
func (l *Ledger) Charge(phase Phase, tokens int) {
	if tokens <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spent[phase] += tokens
}

// Spent returns tokens charged to a phase so far.
func (l *Ledger) Spent(phase Phase) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spent[phase]
}

// TotalSpent returns all tokens charged so far.
func (l *Ledger) TotalSpent() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, n := range l.spent {
		total += n
	}
	return total
}

// Remaining returns the unspent budget for a phase, floored at zero and
// additionally capped by the remaining total budget.
func (l *Ledger) Remaining(phase Phase) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	ceiling := l.ceiling(phase)
	phaseLeft := ceiling - l.spent[phase]
	if phaseLeft < 0 {
		phaseLeft = 0
	}

	total := 0
	for _, n := range l.spent {
		total += n
	}
	totalLeft := l.config.Total - total
	if totalLeft < 0 {
		totalLeft = 0
	}

	if totalLeft < phaseLeft {
		return totalLeft
	}
	return phaseLeft
}

// Exhausted reports whether the overall budget is spent.
func (l *Ledger) Exhausted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, n := range l.spent {
		total += n
	}
	return total >= l.config.Total
}

// InitialBudgetFor returns the initial-retrieval ceiling for a mode,
// applying the configured per-mode split.
func (l *Ledger) InitialBudgetFor(mode datatypes.QueryMode) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	budget := l.config.Initial
	if split, ok := l.config.ModeSplits[mode]; ok && split > 0 {
		budget = int(float64(budget) * split)
	}
	return budget
}

// PerGapBudget returns the cap on a single resolved gap's evidence.
func (l *Ledger) PerGapBudget() int {
	return l.config.PerGap
}

func (l *Ledger) ceiling(phase Phase) int {
	switch phase {
	case PhaseInitial:
		return l.config.Initial
	case PhaseGeneration:
		return l.config.Generation
	case PhaseGapResolution:
		return l.config.GapResolution
	default:
		return 0
	}
}
