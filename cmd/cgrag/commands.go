// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/codelore/codelore/services/cgrag"
	"github.com/codelore/codelore/services/cgrag/datatypes"
	"github.com/codelore/codelore/services/cgrag/loop"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	modeOverride string
	maxPasses    int
	asJSON       bool

	rootCmd = &cobra.Command{
		Use:   "cgrag",
		Short: "Code-aware question answering for your repository",
		Long: `cgrag answers natural-language questions about a codebase by
combining a symbol index, a call graph, and documentation search with
an iterative retrieval loop.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Run:   runServe,
	}

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAsk,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	}
)

func init() {
	askCmd.Flags().StringVar(&modeOverride, "mode", "",
		"force a retrieval mode (conceptual, diagnostic, exploratory, analytical)")
	askCmd.Flags().IntVar(&maxPasses, "max-passes", 0,
		"cap the answer loop passes for this question")
	askCmd.Flags().BoolVar(&asJSON, "json", false,
		"print the full response as JSON")

	rootCmd.AddCommand(serveCmd, askCmd, versionCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := configFromEnv()

	slog.Info("Starting cgrag",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"weaviate_url", cfg.WeaviateURL,
		"snapshot", cfg.SnapshotPath,
	)

	svc, err := cgrag.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}

	if err := svc.Run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func runAsk(cmd *cobra.Command, args []string) {
	cfg := configFromEnv()
	cfg.GinMode = "release"

	svc, err := cgrag.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}

	req := datatypes.AskRequest{
		Question: strings.Join(args, " "),
		Options: datatypes.AskOptions{
			ModeOverride: modeOverride,
			MaxPasses:    maxPasses,
		},
	}
	if err := req.Validate(); err != nil {
		log.Fatalf("Invalid question: %v", err)
	}

	resp, err := svc.Ask(cmd.Context(), req)
	if err != nil {
		log.Fatalf("Failed to answer: %v", err)
	}

	if asJSON {
		out, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(out))
		return
	}

	fmt.Println(resp.Answer)
	if resp.Disclaimer != "" {
		fmt.Printf("\n%s\n", resp.Disclaimer)
	}
	if len(resp.Citations) > 0 {
		fmt.Println("\nSources:")
		for _, c := range resp.Citations {
			if c.LineRange != "" {
				fmt.Printf("  - %s:%s\n", c.Path, c.LineRange)
			} else {
				fmt.Printf("  - %s\n", c.Path)
			}
		}
	}
	fmt.Printf("\nConfidence: %s (passes: %d)\n", resp.Confidence, resp.CGRAG.PassesUsed)
}

// configFromEnv builds the service configuration from environment
// variables.
func configFromEnv() cgrag.Config {
	return cgrag.Config{
		Port:         getEnvInt("CGRAG_PORT", 12230),
		LLMBackend:   os.Getenv("LLM_BACKEND"),
		WeaviateURL:  os.Getenv("WEAVIATE_SERVICE_URL"),
		OTelEndpoint: getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "codelore-otel-collector:4317"),
		SnapshotPath: os.Getenv("CGRAG_SNAPSHOT_PATH"),
		SourceRoot:   os.Getenv("CGRAG_SOURCE_ROOT"),
		SessionTTL:   getEnvDuration("CGRAG_SESSION_TTL", 0),
		Loop: loop.Config{
			MaxPasses: getEnvInt("CGRAG_MAX_PASSES", 0),
			Deadline:  getEnvDuration("CGRAG_DEADLINE", 0),
		},
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns the environment variable as a duration or a
// default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
