// Package app wires all feedback-service subsystems into a running
// application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems (LLM gateway, vector store, grammar dictionary, lexical
// index, morphological analyzer, event bus), Run serves HTTP until the
// context is cancelled, and Shutdown tears everything down in order.
//
// For testing, inject a double via the functional option WithOrchestrator,
// which replaces the whole pipeline. Without it, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/mingdodev/korean-writing-feedback-rag/internal/config"
	"github.com/mingdodev/korean-writing-feedback-rag/internal/contextfeedback"
	"github.com/mingdodev/korean-writing-feedback-rag/internal/domain"
	"github.com/mingdodev/korean-writing-feedback-rag/internal/events"
	"github.com/mingdodev/korean-writing-feedback-rag/internal/grammardict"
	"github.com/mingdodev/korean-writing-feedback-rag/internal/grammarfeedback"
	"github.com/mingdodev/korean-writing-feedback-rag/internal/health"
	"github.com/mingdodev/korean-writing-feedback-rag/internal/httpapi"
	"github.com/mingdodev/korean-writing-feedback-rag/internal/lexical"
	"github.com/mingdodev/korean-writing-feedback-rag/internal/llmgw"
	"github.com/mingdodev/korean-writing-feedback-rag/internal/morph"
	"github.com/mingdodev/korean-writing-feedback-rag/internal/observe"
	"github.com/mingdodev/korean-writing-feedback-rag/internal/orchestrator"
	"github.com/mingdodev/korean-writing-feedback-rag/internal/sentence"
	"github.com/mingdodev/korean-writing-feedback-rag/internal/vectorstore"
)

// processor is the subset of orchestrator.Orchestrator the HTTP layer uses.
type processor interface {
	Process(ctx context.Context, userID string, req domain.FeedbackRequest) (domain.FeedbackResponse, error)
}

// App owns all subsystem lifetimes and serves the feedback HTTP API.
type App struct {
	cfg *config.Config

	llm              *llmgw.Client
	vectorStore      *vectorstore.Store
	vectorRetriever  *vectorstore.Retriever
	grammarDict      *grammardict.Lookup
	lexicalRetriever *lexical.Retriever
	events           *events.Publisher

	orchestrator processor
	health       *health.Handler
	metrics      *observe.Metrics
	server       *http.Server

	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithOrchestrator injects a processor instead of wiring one from config.
// Intended for tests that want to skip real network dependencies entirely.
func WithOrchestrator(p processor) Option {
	return func(a *App) { a.orchestrator = p }
}

// New creates an App by wiring all subsystems together. Use WithOrchestrator
// to inject a test double in place of the whole pipeline.
//
// New performs all initialisation synchronously: LLM gateway construction,
// vector store connection + embedder, grammar dictionary pool, lexical
// index client, morphological analyzer client, sentence splitter, the two
// feedback services, the orchestrator, the event publisher, and the HTTP
// server (routes registered but not yet listening).
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	a.metrics = observe.DefaultMetrics()

	if a.orchestrator == nil {
		if err := a.wirePipeline(ctx); err != nil {
			return nil, fmt.Errorf("app: wire pipeline: %w", err)
		}
	}

	a.initHealth()
	a.initServer()

	return a, nil
}

// wirePipeline constructs every real subsystem from cfg and assembles the
// orchestrator. Called only when no orchestrator was injected via options.
func (a *App) wirePipeline(ctx context.Context) error {
	a.llm = llmgw.New(a.cfg.LLM.APIKey, a.cfg.LLM.URL, a.metrics)

	store, err := vectorstore.NewStore(ctx, a.cfg.VectorStore.DSN, a.cfg.VectorStore.Table, a.cfg.VectorStore.EmbeddingDimensions)
	if err != nil {
		return fmt.Errorf("vector store: %w", err)
	}
	a.vectorStore = store
	a.closers = append(a.closers, func() error { store.Close(); return nil })

	embedder := vectorstore.NewHTTPEmbedder(a.cfg.Embedding.URL, a.cfg.Embedding.APIKey, a.cfg.Embedding.Model)
	vectorRetriever := vectorstore.NewRetriever(store, embedder, a.metrics)
	a.vectorRetriever = vectorRetriever

	dict, err := grammardict.New(ctx, a.cfg.GrammarDict.DSN, a.metrics)
	if err != nil {
		return fmt.Errorf("grammar dictionary: %w", err)
	}
	a.grammarDict = dict
	a.closers = append(a.closers, func() error { dict.Close(); return nil })

	analyzer := morph.New(a.cfg.Morph.BaseURL)
	lexicalRetriever := lexical.New(a.cfg.Lexical.BaseURL, a.cfg.Lexical.Collection, a.cfg.Lexical.User, a.cfg.Lexical.Pass, analyzer, a.metrics)
	a.lexicalRetriever = lexicalRetriever

	splitter := sentence.New(analyzer)
	contextSvc := contextfeedback.New(a.llm)
	grammarSvc := grammarfeedback.New(vectorRetriever, lexicalRetriever, dict, a.llm, slog.Default())

	var fallback *events.FallbackSink
	if a.cfg.EventBus.FallbackPath != "" {
		fallback = events.NewFallbackSink(a.cfg.EventBus.FallbackPath)
	}
	pub := events.New(a.cfg.EventBus.BootstrapServers, a.cfg.EventBus.Topic, fallback, slog.Default(), a.metrics)
	a.events = pub
	a.closers = append(a.closers, pub.Close)

	a.orchestrator = orchestrator.New(splitter, contextSvc, grammarSvc, pub, slog.Default(), a.metrics)
	return nil
}

// initHealth builds the /healthz and /readyz handler, probing the vector
// store and grammar dictionary pools, plus the retrieval circuit breakers,
// when they were wired for real.
func (a *App) initHealth() {
	var checkers []health.Checker
	if a.vectorStore != nil {
		checkers = append(checkers, health.Checker{Name: "vector_store", Check: a.vectorStore.Ping})
	}
	if a.grammarDict != nil {
		checkers = append(checkers, health.Checker{Name: "grammar_dict", Check: a.grammarDict.Ping})
	}
	if a.vectorRetriever != nil {
		checkers = append(checkers, health.Checker{Name: "vector_retriever_circuit", Check: a.vectorRetriever.Healthy})
	}
	if a.lexicalRetriever != nil {
		checkers = append(checkers, health.Checker{Name: "lexical_retriever_circuit", Check: a.lexicalRetriever.Healthy})
	}
	a.health = health.New(checkers...)
}

// initServer registers all HTTP routes, wrapped in the observability
// middleware, on a fresh [http.ServeMux].
func (a *App) initServer() {
	mux := http.NewServeMux()
	a.health.Register(mux)
	httpapi.New(a.orchestrator, slog.Default()).Register(mux, a.cfg.Server.BasePath)

	a.server = &http.Server{
		Addr:    a.cfg.Server.ListenAddr,
		Handler: observe.Middleware(a.metrics)(mux),
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server stops with an error other than [http.ErrServerClosed].
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", a.cfg.Server.ListenAddr)
		if err := a.server.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Shutdown tears down the HTTP server and all subsystems in reverse-init
// order. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				slog.Warn("http server shutdown error", "err", err)
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			closer := a.closers[i]
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
