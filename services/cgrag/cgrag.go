// Copyright (C) 2025 Codelore (oss@codelore.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cgrag provides the code-aware question answering service.
//
// This package contains the main Service type that wires together all
// components of the engine: the code index, call graph navigator, mode
// retrievers, gap resolver, session store, answer loop, HTTP routing,
// and observability infrastructure.
//
// # Usage
//
//	cfg := cgrag.Config{Port: 12230, SnapshotPath: "./index.json"}
//	svc, err := cgrag.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package cgrag

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/codelore/codelore/services/cgrag/budget"
	"github.com/codelore/codelore/services/cgrag/classify"
	"github.com/codelore/codelore/services/cgrag/datatypes"
	"github.com/codelore/codelore/services/cgrag/docs"
	"github.com/codelore/codelore/services/cgrag/gaps"
	"github.com/codelore/codelore/services/cgrag/graph"
	"github.com/codelore/codelore/services/cgrag/index"
	"github.com/codelore/codelore/services/cgrag/issues"
	"github.com/codelore/codelore/services/cgrag/loop"
	"github.com/codelore/codelore/services/cgrag/observability"
	"github.com/codelore/codelore/services/cgrag/retrieve"
	"github.com/codelore/codelore/services/cgrag/routes"
	"github.com/codelore/codelore/services/cgrag/session"
	"github.com/codelore/codelore/services/cgrag/source"
	"github.com/codelore/codelore/services/llm"
)

// Service defines the contract for the question answering service.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and
// should only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Ask answers one question without going through HTTP. Used by the
	// one-shot CLI.
	Ask(ctx context.Context, req datatypes.AskRequest) (datatypes.AskResponse, error)

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// Config holds service configuration options.
//
// # Description
//
// Config centralizes all configuration for the cgrag service. Values
// can be populated from environment variables, flags, or
// programmatically for testing. All fields have defaults applied by
// New().
type Config struct {
	// Port is the HTTP server port. Default: 12230
	Port int

	// LLMBackend selects the provider: "ollama" or "openai".
	// Empty uses the LLM_BACKEND environment variable.
	LLMBackend string

	// WeaviateURL is the vector database URL. If empty, documentation
	// search and the issue store are disabled and answers come from
	// the code index alone.
	WeaviateURL string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "codelore-otel-collector:4317"
	OTelEndpoint string

	// DisableMetrics skips Prometheus metric registration. Metrics are
	// on by default.
	DisableMetrics bool

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	// Empty uses the GIN_MODE environment variable.
	GinMode string

	// SnapshotPath is the code index snapshot file. If empty the
	// service starts with an empty index.
	SnapshotPath string

	// DisableSnapshotWatch turns off reloading the index when the
	// snapshot file changes. Watching is on whenever SnapshotPath is
	// set.
	DisableSnapshotWatch bool

	// SourceRoot is the repository root for raw source reads. If empty
	// source fetching is disabled.
	SourceRoot string

	// SessionTTL is how long an idle session survives. Default: 30m.
	SessionTTL time.Duration

	// SessionSweepInterval is how often expired sessions are purged.
	// Default: 5m.
	SessionSweepInterval time.Duration

	// MaxSourceLines bounds source excerpts per symbol.
	MaxSourceLines int

	// Budget configures token accounting. Zero value uses defaults.
	Budget budget.Config

	// Loop configures the answer loop (max passes, deadline).
	Loop loop.Config

	// Flags disables individual retrieval capabilities.
	Flags retrieve.Flags

	// DisableGapResolution stops the loop after its first pass.
	DisableGapResolution bool
}

// service implements Service for production use.
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns; background goroutines (index refresher, session sweeper)
// are cancelled via bgCancel when Run returns.
type service struct {
	config         Config
	router         *gin.Engine
	engine         *loop.Engine
	codeIndex      *index.CodeIndex
	sessions       *session.Store
	weaviateClient *weaviate.Client
	tracerCleanup  func(context.Context)
	bgCancel       context.CancelFunc
}

// New creates a ready-to-run service.
//
// # Description
//
// New initializes every component in dependency order:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing and Prometheus metrics
//  3. Creates the Weaviate client if a URL is configured (optional;
//     failure degrades to index-only answers)
//  4. Loads the code index snapshot and starts the file watcher
//  5. Starts the session store and its expiry sweeper
//  6. Creates the LLM client, classifier, resolver, and answer loop
//  7. Sets up HTTP routes
//
// Weaviate and the snapshot are optional: the service comes up in a
// degraded mode without them rather than failing.
func New(cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if !s.config.DisableMetrics {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics")
	}

	if err := s.initWeaviate(); err != nil {
		slog.Warn("Weaviate initialization failed, documentation search disabled",
			"error", err)
		// Not fatal - answers come from the code index alone.
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.initIndex(bgCtx)
	s.initSessions(bgCtx)

	if err := s.initEngine(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize answer loop: %w", err)
	}

	s.initRouter()

	return s, nil
}

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting cgrag server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Ask answers one question without going through HTTP.
func (s *service) Ask(ctx context.Context, req datatypes.AskRequest) (datatypes.AskResponse, error) {
	return s.engine.Ask(ctx, req)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12230
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "codelore-otel-collector:4317"
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = session.DefaultTTL
	}
	if cfg.SessionSweepInterval == 0 {
		cfg.SessionSweepInterval = 5 * time.Minute
	}
	if cfg.MaxSourceLines == 0 {
		cfg.MaxSourceLines = retrieve.DefaultMaxSourceLines
	}
	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// Uses an insecure gRPC connection, appropriate for internal networks.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("cgrag-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initWeaviate initializes the optional Weaviate client.
//
// Returns nil without a client when no URL is configured; the caller
// treats a missing client as documentation-search-disabled.
func (s *service) initWeaviate() error {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")

	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		slog.Info("Weaviate URL not configured, documentation search disabled")
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	s.weaviateClient, err = weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	slog.Info("Weaviate client initialized", "url", weaviateURL)
	return nil
}

// initIndex loads the snapshot (if any) and starts the file watcher.
func (s *service) initIndex(ctx context.Context) {
	if s.config.SnapshotPath == "" {
		s.codeIndex = index.NewCodeIndex()
		slog.Info("No index snapshot configured, starting empty")
		return
	}

	ix, err := index.LoadSnapshot(s.config.SnapshotPath)
	if err != nil {
		slog.Warn("Failed to load index snapshot, starting empty",
			"path", s.config.SnapshotPath, "error", err)
		ix = index.NewCodeIndex()
	} else {
		slog.Info("Loaded index snapshot",
			"path", s.config.SnapshotPath, "symbols", ix.SymbolCount())
	}
	s.codeIndex = ix

	if !s.config.DisableSnapshotWatch {
		refresher := index.NewRefresher(s.codeIndex, s.config.SnapshotPath)
		go func() {
			if err := refresher.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Index refresher stopped", "error", err)
			}
		}()
	}
}

// initSessions starts the session store and its expiry sweeper.
func (s *service) initSessions(ctx context.Context) {
	s.sessions = session.NewStore(
		session.WithTTL(s.config.SessionTTL),
		session.WithSizeHook(observability.SetActiveSessions),
	)
	go s.sessions.RunSweeper(ctx, s.config.SessionSweepInterval)
}

// initEngine builds the LLM client, classifier, resolver, retrieval
// dependencies, and the answer loop.
func (s *service) initEngine() error {
	client, err := s.newLLMClient()
	if err != nil {
		return err
	}

	classifier, err := classify.NewClassifier(client, classify.DefaultConfig())
	if err != nil {
		return err
	}

	var searcher docs.Searcher
	var issueStore issues.Store
	if s.weaviateClient != nil {
		embedder, err := docs.NewHTTPEmbedder()
		if err != nil {
			slog.Warn("Embedding service not configured, semantic search disabled",
				"error", err)
			embedder = nil
		}
		searcher = docs.NewWeaviateSearcher(s.weaviateClient, embedder)
		issueStore = issues.NewWeaviateStore(s.weaviateClient)
	}

	var reader *source.Reader
	if s.config.SourceRoot != "" {
		reader = source.NewReader(s.config.SourceRoot)
	}

	deps := retrieve.Deps{
		Index:          s.codeIndex,
		Graph:          graph.NewNavigator(s.codeIndex),
		Docs:           searcher,
		Issues:         issueStore,
		Source:         reader,
		Flags:          s.config.Flags,
		MaxSourceLines: s.config.MaxSourceLines,
	}

	var resolver *gaps.Resolver
	if !s.config.DisableGapResolution {
		resolver = gaps.NewResolver(s.codeIndex, searcher, reader,
			gaps.WithMaxSourceLines(s.config.MaxSourceLines))
	}

	loopCfg := s.config.Loop
	if loopCfg.MaxPasses == 0 {
		loopCfg = loop.DefaultConfig()
		loopCfg.Deadline = s.config.Loop.Deadline
	}
	loopCfg.Budget = s.config.Budget
	if loopCfg.Budget.Total == 0 {
		loopCfg.Budget = budget.DefaultConfig()
	}
	loopCfg.DisableGapResolution = s.config.DisableGapResolution

	engine, err := loop.NewEngine(client, classifier, resolver, s.sessions, deps, loopCfg)
	if err != nil {
		return err
	}
	s.engine = engine
	return nil
}

// newLLMClient creates the configured LLM backend.
func (s *service) newLLMClient() (llm.Client, error) {
	switch strings.ToLower(s.config.LLMBackend) {
	case "":
		return llm.NewClientFromEnv()
	case "ollama":
		return llm.NewOllamaClient()
	case "openai":
		return llm.NewOpenAIClient()
	default:
		return nil, fmt.Errorf("unknown LLM backend: %s", s.config.LLMBackend)
	}
}

// initRouter sets up the Gin engine with middleware and routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("cgrag-service"))
	routes.SetupRoutes(s.router, s.engine, s.codeIndex, s.sessions)
}

// cleanup releases background resources.
func (s *service) cleanup() {
	if s.bgCancel != nil {
		s.bgCancel()
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}
