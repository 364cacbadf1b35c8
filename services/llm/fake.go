// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"sync"
)

// FakeClient returns scripted responses in order. Once the script is
// exhausted it keeps returning the last entry. Intended for tests.
type FakeClient struct {
	mu        sync.Mutex
	Responses []string
	Err       error

	// GenerateFunc, when set, overrides the scripted behavior.
	GenerateFunc func(ctx context.Context, prompt string, params GenerationParams) (string, error)

	calls   int
	Prompts []string
}

// Generate implements the Client interface.
func (f *FakeClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Prompts = append(f.Prompts, prompt)
	f.calls++
	if f.GenerateFunc != nil {
		return f.GenerateFunc(ctx, prompt, params)
	}
	if f.Err != nil {
		return "", f.Err
	}
	if len(f.Responses) == 0 {
		return "", nil
	}
	idx := f.calls - 1
	if idx >= len(f.Responses) {
		idx = len(f.Responses) - 1
	}
	return f.Responses[idx], nil
}

// Calls returns how many times Generate was invoked.
func (f *FakeClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
