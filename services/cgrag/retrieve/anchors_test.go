// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieve

import (
	"reflect"
	"testing"
)

func TestExtractAnchors_ErrorTypes(t *testing.T) {
	a := ExtractAnchors("Why does validate_input raise ValueError and sometimes TimeoutException?")

	if !reflect.DeepEqual(a.ErrorTypes, []string{"ValueError", "TimeoutException"}) {
		t.Errorf("ErrorTypes = %v", a.ErrorTypes)
	}
	// validate_input has no parens here, so it is not a call mention.
	if len(a.Calls) != 0 {
		t.Errorf("Calls = %v, want empty", a.Calls)
	}
}

func TestExtractAnchors_Quoted(t *testing.T) {
	a := ExtractAnchors(`The log says "invalid payload format" right before the crash`)

	if len(a.Quoted) != 1 || a.Quoted[0] != "invalid payload format" {
		t.Errorf("Quoted = %v", a.Quoted)
	}
}

func TestExtractAnchors_Frames(t *testing.T) {
	a := ExtractAnchors("The trace points at app/handlers.py:42:handle_request and db/repo.py:17")

	if len(a.Frames) != 2 {
		t.Fatalf("Frames = %v, want 2", a.Frames)
	}
	if a.Frames[0].Path != "app/handlers.py" || a.Frames[0].Line != 42 || a.Frames[0].Function != "handle_request" {
		t.Errorf("first frame = %+v", a.Frames[0])
	}
	if a.Frames[1].Path != "db/repo.py" || a.Frames[1].Line != 17 || a.Frames[1].Function != "" {
		t.Errorf("second frame = %+v", a.Frames[1])
	}
}

func TestExtractAnchors_CallMentions(t *testing.T) {
	a := ExtractAnchors("What happens after process_order() calls charge_card()?")

	if !reflect.DeepEqual(a.Calls, []string{"process_order", "charge_card"}) {
		t.Errorf("Calls = %v", a.Calls)
	}
}

func TestExtractAnchors_DeduplicatesFirstSeen(t *testing.T) {
	a := ExtractAnchors("ValueError here, ValueError there, always ValueError")

	if len(a.ErrorTypes) != 1 {
		t.Errorf("ErrorTypes = %v, want single entry", a.ErrorTypes)
	}
}

func TestExtractAnchors_Empty(t *testing.T) {
	a := ExtractAnchors("How does the billing module work?")
	if !a.Empty() {
		t.Errorf("anchors = %+v, want empty", a)
	}
}

func TestExtractSubject(t *testing.T) {
	t.Run("identifiers rank first", func(t *testing.T) {
		got := ExtractSubject("How does process_order handle discounts?")
		if len(got) == 0 || got[0] != "process_order" {
			t.Errorf("subjects = %v, want process_order first", got)
		}
	})

	t.Run("stopwords are dropped", func(t *testing.T) {
		got := ExtractSubject("Please trace the flow of a request through checkout")
		for _, tok := range got {
			if tok == "the" || tok == "of" || tok == "trace" {
				t.Errorf("stopword %q survived: %v", tok, got)
			}
		}
		if len(got) != 1 || got[0] != "checkout" {
			t.Errorf("subjects = %v, want [checkout]", got)
		}
	})

	t.Run("camel case counts as identifier", func(t *testing.T) {
		got := ExtractSubject("What does OrderService cache?")
		if len(got) == 0 || got[0] != "OrderService" {
			t.Errorf("subjects = %v, want OrderService first", got)
		}
	})

	t.Run("sentence-initial capital is a plain word", func(t *testing.T) {
		if looksLikeIdentifier("Trace") {
			t.Error("Trace misread as identifier")
		}
		if !looksLikeIdentifier("ValueError") {
			t.Error("ValueError not recognized as identifier")
		}
		if !looksLikeIdentifier("snake_case") {
			t.Error("snake_case not recognized as identifier")
		}
	})
}
