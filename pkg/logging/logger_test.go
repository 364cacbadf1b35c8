// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"nonsense", LevelInfo},
		{"", LevelInfo},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Stderr: &buf})

	logger.Info("hidden")
	logger.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record emitted at warn level")
	}
	if !strings.Contains(out, "visible") {
		t.Error("warn record missing")
	}
}

func TestJSONOutputCarriesServiceAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Service: "cgrag", JSON: true, Stderr: &buf})

	logger.With("session_id", "abc").Info("question received", "passes", 3)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if record["service"] != "cgrag" {
		t.Errorf("service = %v", record["service"])
	}
	if record["session_id"] != "abc" {
		t.Errorf("session_id = %v", record["session_id"])
	}
	if record["msg"] != "question received" {
		t.Errorf("msg = %v", record["msg"])
	}
}

func TestFileLogging(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	logger := New(Config{Service: "cgrag", LogDir: dir, Stderr: &buf})

	logger.Info("persisted")
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("log dir has %d files, want 1", len(entries))
	}
	if !strings.HasPrefix(entries[0].Name(), "cgrag_") {
		t.Errorf("log file name = %q", entries[0].Name())
	}
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "persisted") {
		t.Error("record missing from log file")
	}
	// The stderr stream got it too.
	if !strings.Contains(buf.String(), "persisted") {
		t.Error("record missing from stderr stream")
	}
}

func TestUnwritableLogDirDegradesToStderr(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{LogDir: string([]byte{0}), Stderr: &buf})
	defer logger.Close()

	logger.Info("still works")
	if !strings.Contains(buf.String(), "still works") {
		t.Error("stderr logging lost after file setup failure")
	}
}

func TestClose_NoFileIsNoop(t *testing.T) {
	if err := Default().Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}
