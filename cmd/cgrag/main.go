// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command cgrag runs the Codelore question answering engine.
//
// It serves the HTTP API in `serve` mode and answers a single question
// from the terminal in `ask` mode. Configuration comes from environment
// variables.
//
// # Environment Variables
//
//   - CGRAG_PORT: HTTP server port (default: 12230)
//   - LLM_BACKEND: LLM provider - ollama, openai (default: ollama)
//   - WEAVIATE_SERVICE_URL: Weaviate vector DB URL (optional)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: codelore-otel-collector:4317)
//   - CGRAG_SNAPSHOT_PATH: code index snapshot file (optional)
//   - CGRAG_SOURCE_ROOT: repository root for source excerpts (optional)
//   - CGRAG_LOG_LEVEL: debug, info, warn, error (default: info)
//   - CGRAG_LOG_DIR: directory for JSON log files (optional)
//
// # Usage
//
//	# Build
//	go build -o cgrag ./cmd/cgrag
//
//	# Serve the HTTP API
//	./cgrag serve
//
//	# Ask one question
//	./cgrag ask "How does payment processing work?"
package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/codelore/codelore/pkg/logging"
)

func main() {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("CGRAG_LOG_LEVEL")),
		Service: "cgrag",
		LogDir:  os.Getenv("CGRAG_LOG_DIR"),
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
