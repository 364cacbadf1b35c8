// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package index

import (
	"context"
	"testing"
)

func mustUpsert(t *testing.T, ix *CodeIndex, path, hash string, symbols []IndexedSymbol, refs []Reference) {
	t.Helper()
	if err := ix.UpsertFile(path, hash, symbols, refs); err != nil {
		t.Fatalf("UpsertFile(%s) failed: %v", path, err)
	}
}

func fn(path, name string, start, end int) IndexedSymbol {
	return IndexedSymbol{
		Path:      path,
		Name:      name,
		Kind:      KindFunction,
		StartLine: start,
		EndLine:   end,
	}
}

func TestUpsertFile_ReplacesByPath(t *testing.T) {
	ix := NewCodeIndex()

	mustUpsert(t, ix, "api/auth.py", "hash1", []IndexedSymbol{
		fn("api/auth.py", "login", 10, 30),
		fn("api/auth.py", "logout", 40, 50),
	}, nil)

	if got := ix.SymbolCount(); got != 2 {
		t.Fatalf("SymbolCount = %d, want 2", got)
	}

	// Re-upsert with a changed hash and a different symbol set. The old
	// set must be gone; indexing is replace-by-path, not merge.
	mustUpsert(t, ix, "api/auth.py", "hash2", []IndexedSymbol{
		fn("api/auth.py", "login", 12, 35),
	}, nil)

	if got := ix.SymbolCount(); got != 1 {
		t.Errorf("SymbolCount after re-upsert = %d, want 1", got)
	}
	if syms := ix.Lookup("logout", ""); len(syms) != 0 {
		t.Errorf("Lookup(logout) after replace = %d results, want 0", len(syms))
	}
	if hash, ok := ix.FileHash("api/auth.py"); !ok || hash != "hash2" {
		t.Errorf("FileHash = %q, %v, want hash2, true", hash, ok)
	}
}

func TestUpsertFile_IdenticalBatchIsIdempotent(t *testing.T) {
	ix := NewCodeIndex()
	batch := []IndexedSymbol{fn("svc/pay.py", "charge", 1, 20)}

	mustUpsert(t, ix, "svc/pay.py", "h", batch, nil)
	mustUpsert(t, ix, "svc/pay.py", "h", batch, nil)

	if got := ix.SymbolCount(); got != 1 {
		t.Errorf("SymbolCount after double upsert = %d, want 1", got)
	}
	if syms := ix.Lookup("charge", ""); len(syms) != 1 {
		t.Errorf("Lookup(charge) = %d results, want exactly 1", len(syms))
	}
}

func TestUpsertFile_RejectsInvalidSymbol(t *testing.T) {
	ix := NewCodeIndex()
	bad := IndexedSymbol{Path: "a.py", Name: "", Kind: KindFunction}
	if err := ix.UpsertFile("a.py", "h", []IndexedSymbol{bad}, nil); err == nil {
		t.Fatal("UpsertFile with empty name succeeded, want error")
	}
}

func TestRemoveFile(t *testing.T) {
	ix := NewCodeIndex()
	mustUpsert(t, ix, "a.py", "h", []IndexedSymbol{fn("a.py", "f", 1, 5)}, nil)

	ix.RemoveFile("a.py")

	if got := ix.SymbolCount(); got != 0 {
		t.Errorf("SymbolCount after remove = %d, want 0", got)
	}
	if _, ok := ix.FileHash("a.py"); ok {
		t.Error("FileHash still present after remove")
	}

	// Removing an unknown path is a no-op, not a panic or error.
	ix.RemoveFile("never/indexed.py")
}

func TestRecomputeCallers(t *testing.T) {
	ix := NewCodeIndex()

	handler := fn("api/routes.py", "create_order", 1, 20)
	handler.Calls = []CallTarget{{TargetID: SymbolID("svc/orders.py", "process")}}
	mustUpsert(t, ix, "api/routes.py", "h1", []IndexedSymbol{handler}, nil)

	process := fn("svc/orders.py", "process", 1, 40)
	process.Calls = []CallTarget{{TargetID: SymbolID("db/repo.py", "save")}}
	mustUpsert(t, ix, "svc/orders.py", "h2", []IndexedSymbol{process}, nil)

	save := fn("db/repo.py", "save", 1, 15)
	mustUpsert(t, ix, "db/repo.py", "h3", []IndexedSymbol{save}, nil)

	ix.RecomputeCallers()

	got := ix.Get(SymbolID("svc/orders.py", "process"))
	if got == nil || len(got.Callers) != 1 || got.Callers[0] != SymbolID("api/routes.py", "create_order") {
		t.Fatalf("process.Callers = %v, want [api/routes.py::create_order]", got.Callers)
	}

	// Removing the caller's file and recomputing drops the edge.
	ix.RemoveFile("api/routes.py")
	ix.RecomputeCallers()

	got = ix.Get(SymbolID("svc/orders.py", "process"))
	if got == nil || len(got.Callers) != 0 {
		t.Errorf("process.Callers after caller removal = %v, want empty", got.Callers)
	}
}

func TestRecomputeCallers_ResolvesUnambiguousNames(t *testing.T) {
	ix := NewCodeIndex()

	caller := fn("a.py", "caller", 1, 10)
	caller.Calls = []CallTarget{{Name: "helper"}} // unresolved by the parser
	mustUpsert(t, ix, "a.py", "h1", []IndexedSymbol{caller}, nil)
	mustUpsert(t, ix, "b.py", "h2", []IndexedSymbol{fn("b.py", "helper", 1, 5)}, nil)

	ix.RecomputeCallers()

	helper := ix.Get(SymbolID("b.py", "helper"))
	if helper == nil || len(helper.Callers) != 1 {
		t.Fatalf("helper.Callers = %v, want one entry", helper.Callers)
	}

	// A second "helper" makes the bare name ambiguous; the edge must not
	// be guessed.
	mustUpsert(t, ix, "c.py", "h3", []IndexedSymbol{fn("c.py", "helper", 1, 5)}, nil)
	ix.RecomputeCallers()

	helper = ix.Get(SymbolID("b.py", "helper"))
	if len(helper.Callers) != 0 {
		t.Errorf("helper.Callers with ambiguous name = %v, want empty", helper.Callers)
	}
}

func TestLookup(t *testing.T) {
	ix := NewCodeIndex()
	mustUpsert(t, ix, "services/auth/login.py", "h1",
		[]IndexedSymbol{fn("services/auth/login.py", "validate", 1, 10)}, nil)
	mustUpsert(t, ix, "services/pay/charge.py", "h2",
		[]IndexedSymbol{fn("services/pay/charge.py", "validate", 1, 10)}, nil)

	t.Run("without hint returns all matches", func(t *testing.T) {
		if got := ix.Lookup("validate", ""); len(got) != 2 {
			t.Errorf("Lookup(validate) = %d results, want 2", len(got))
		}
	})

	t.Run("case insensitive", func(t *testing.T) {
		if got := ix.Lookup("Validate", ""); len(got) != 2 {
			t.Errorf("Lookup(Validate) = %d results, want 2", len(got))
		}
	})

	t.Run("hint narrows to one file", func(t *testing.T) {
		got := ix.Lookup("validate", "services/auth/login.py")
		if len(got) != 1 || got[0].Path != "services/auth/login.py" {
			t.Errorf("Lookup with exact hint = %v, want the auth symbol", got)
		}
	})

	t.Run("hint matches path suffix", func(t *testing.T) {
		got := ix.Lookup("validate", "auth/login.py")
		if len(got) != 1 || got[0].Path != "services/auth/login.py" {
			t.Errorf("Lookup with suffix hint = %v, want the auth symbol", got)
		}
	})

	t.Run("unknown name is empty not error", func(t *testing.T) {
		if got := ix.Lookup("no_such_symbol", ""); len(got) != 0 {
			t.Errorf("Lookup(no_such_symbol) = %d results, want 0", len(got))
		}
	})
}

func TestFindByException(t *testing.T) {
	ix := NewCodeIndex()
	ctx := context.Background()

	raiser := fn("svc/input.py", "validate_input", 5, 25)
	raiser.Raises = []string{"ValueError"}
	mustUpsert(t, ix, "svc/input.py", "h", []IndexedSymbol{raiser}, nil)

	got := ix.FindByException(ctx, "ValueError")
	if len(got) != 1 || got[0].Name != "validate_input" {
		t.Fatalf("FindByException(ValueError) = %v, want validate_input", got)
	}

	if got := ix.FindByException(ctx, "KeyError"); len(got) != 0 {
		t.Errorf("FindByException(KeyError) = %d results, want 0", len(got))
	}
}

func TestFindByErrorText(t *testing.T) {
	ix := NewCodeIndex()
	ctx := context.Background()

	sym := fn("svc/input.py", "parse", 1, 30)
	sym.ErrorStrings = []string{"invalid payload format", "missing field"}
	mustUpsert(t, ix, "svc/input.py", "h", []IndexedSymbol{sym}, nil)

	if got := ix.FindByErrorText(ctx, "payload format"); len(got) != 1 {
		t.Errorf("FindByErrorText(payload format) = %d results, want 1", len(got))
	}
	if got := ix.FindByErrorText(ctx, "CONNECTION refused"); len(got) != 0 {
		t.Errorf("FindByErrorText(connection refused) = %d results, want 0", len(got))
	}
}

func TestFindByMutation(t *testing.T) {
	ix := NewCodeIndex()
	ctx := context.Background()

	sym := fn("svc/cart.py", "add_item", 1, 20)
	sym.Mutates = []string{"self.items", "session.cart_total"}
	mustUpsert(t, ix, "svc/cart.py", "h", []IndexedSymbol{sym}, nil)

	if got := ix.FindByMutation(ctx, "cart_total"); len(got) != 1 {
		t.Errorf("FindByMutation(cart_total) = %d results, want 1", len(got))
	}
	if got := ix.FindByMutation(ctx, "inventory"); len(got) != 0 {
		t.Errorf("FindByMutation(inventory) = %d results, want 0", len(got))
	}
}

func TestFindByName(t *testing.T) {
	ix := NewCodeIndex()
	ctx := context.Background()

	cls := IndexedSymbol{Path: "svc/order.py", Name: "OrderService", Kind: KindClass, StartLine: 1, EndLine: 100}
	mustUpsert(t, ix, "svc/order.py", "h", []IndexedSymbol{
		cls,
		fn("svc/order.py", "order_total", 40, 60),
	}, nil)

	t.Run("substring match", func(t *testing.T) {
		if got := ix.FindByName(ctx, "order", ""); len(got) != 2 {
			t.Errorf("FindByName(order) = %d results, want 2", len(got))
		}
	})

	t.Run("kind filter", func(t *testing.T) {
		got := ix.FindByName(ctx, "order", KindClass)
		if len(got) != 1 || got[0].Name != "OrderService" {
			t.Errorf("FindByName(order, class) = %v, want OrderService", got)
		}
	})
}

func TestSymbolsInFile_ReturnsCopies(t *testing.T) {
	ix := NewCodeIndex()
	mustUpsert(t, ix, "a.py", "h", []IndexedSymbol{fn("a.py", "f", 1, 5)}, nil)

	syms := ix.SymbolsInFile("a.py")
	if len(syms) != 1 {
		t.Fatalf("SymbolsInFile = %d results, want 1", len(syms))
	}
	syms[0].Name = "mutated"

	if got := ix.Lookup("f", ""); len(got) != 1 {
		t.Error("caller mutation leaked into the index")
	}
}

func TestReplaceAll(t *testing.T) {
	ix := NewCodeIndex()
	mustUpsert(t, ix, "old.py", "h1", []IndexedSymbol{fn("old.py", "gone", 1, 5)}, nil)

	fresh := NewCodeIndex()
	if err := fresh.UpsertFile("new.py", "h2", []IndexedSymbol{fn("new.py", "kept", 1, 5)}, nil); err != nil {
		t.Fatal(err)
	}

	ix.ReplaceAll(fresh)

	if got := ix.Lookup("gone", ""); len(got) != 0 {
		t.Error("old symbol survived ReplaceAll")
	}
	if got := ix.Lookup("kept", ""); len(got) != 1 {
		t.Error("new symbol missing after ReplaceAll")
	}
}
