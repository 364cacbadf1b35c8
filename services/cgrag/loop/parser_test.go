// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package loop

import (
	"reflect"
	"testing"
)

func TestParsePass(t *testing.T) {
	t.Run("answer and no gaps", func(t *testing.T) {
		got := ParsePass("ANSWER:\nThe cache is write-through.\nMISSING:\nNONE")
		if got.Answer != "The cache is write-through." {
			t.Errorf("Answer = %q", got.Answer)
		}
		if got.Gaps != nil {
			t.Errorf("Gaps = %v, want none", got.Gaps)
		}
	})

	t.Run("bulleted gaps are stripped and deduplicated", func(t *testing.T) {
		got := ParsePass("ANSWER:\nPartial.\nMISSING:\n- verify_token in auth/token.py\n* config loading\n- verify_token in auth/token.py\n1) config loading")
		want := []string{"verify_token in auth/token.py", "config loading"}
		if !reflect.DeepEqual(got.Gaps, want) {
			t.Errorf("Gaps = %v, want %v", got.Gaps, want)
		}
	})

	t.Run("missing before answer is tolerated", func(t *testing.T) {
		got := ParsePass("MISSING:\n- the session store\nANSWER:\nSwapped sections.")
		if got.Answer != "Swapped sections." {
			t.Errorf("Answer = %q", got.Answer)
		}
		if len(got.Gaps) != 1 || got.Gaps[0] != "the session store" {
			t.Errorf("Gaps = %v", got.Gaps)
		}
	})

	t.Run("no markers means whole text is the answer", func(t *testing.T) {
		got := ParsePass("The model ignored the format entirely.")
		if got.Answer != "The model ignored the format entirely." {
			t.Errorf("Answer = %q", got.Answer)
		}
		if got.Gaps != nil {
			t.Errorf("Gaps = %v, want none", got.Gaps)
		}
	})

	t.Run("marker mid-sentence does not split", func(t *testing.T) {
		got := ParsePass("The prompt asks for an ANSWER: section but the model wrote prose.")
		if got.Gaps != nil {
			t.Errorf("Gaps = %v, want none", got.Gaps)
		}
		if got.Answer == "" {
			t.Error("Answer is empty")
		}
	})

	t.Run("missing only", func(t *testing.T) {
		got := ParsePass("Nothing conclusive yet.\nMISSING:\n- the retry policy")
		if got.Answer != "Nothing conclusive yet." {
			t.Errorf("Answer = %q", got.Answer)
		}
		if len(got.Gaps) != 1 || got.Gaps[0] != "the retry policy" {
			t.Errorf("Gaps = %v", got.Gaps)
		}
	})

	t.Run("none is case-insensitive", func(t *testing.T) {
		got := ParsePass("ANSWER:\nDone.\nMISSING:\nnone")
		if got.Gaps != nil {
			t.Errorf("Gaps = %v, want none", got.Gaps)
		}
	})
}
