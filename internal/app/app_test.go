package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/mingdodev/korean-writing-feedback-rag/internal/app"
	"github.com/mingdodev/korean-writing-feedback-rag/internal/config"
	"github.com/mingdodev/korean-writing-feedback-rag/internal/domain"
)

// testConfig returns a minimal config sufficient for New() when an
// orchestrator is injected (no real network dependencies are touched).
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			LogLevel:   config.LogInfo,
			BasePath:   "/api",
		},
	}
}

type fakeProcessor struct {
	resp domain.FeedbackResponse
	err  error
}

func (f *fakeProcessor) Process(ctx context.Context, userID string, req domain.FeedbackRequest) (domain.FeedbackResponse, error) {
	return f.resp, f.err
}

func TestNew_WithInjectedOrchestrator(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	application, err := app.New(context.Background(), cfg, app.WithOrchestrator(&fakeProcessor{}))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if application == nil {
		t.Fatal("New() returned nil app")
	}
}

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	application, err := app.New(context.Background(), cfg, app.WithOrchestrator(&fakeProcessor{}))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	application, err := app.New(context.Background(), cfg, app.WithOrchestrator(&fakeProcessor{
		resp: domain.FeedbackResponse{ContextFeedback: domain.ContextFeedback{Feedback: "ok"}},
	}))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}
