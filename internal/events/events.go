// Package events implements the event publisher (C9): a best-effort,
// fire-and-forget publication of corrected-sentence events to a Kafka
// topic, with an optional local fallback sink for publish failures.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/mingdodev/korean-writing-feedback-rag/internal/domain"
	"github.com/mingdodev/korean-writing-feedback-rag/internal/observe"
)

// Publisher publishes corrected-sentence events to Kafka. Publish failures
// are logged and, if a fallback sink is configured, appended there instead
// of propagating an error — publication must never poison the request that
// produced the events.
type Publisher struct {
	writer   *kafka.Writer
	fallback *FallbackSink
	logger   *slog.Logger
	metrics  *observe.Metrics
}

// New creates a Publisher writing to topic on the given bootstrap servers
// (a comma-separated list of broker addresses). fallback may be nil.
// metrics may be nil, in which case publish outcomes are not recorded.
func New(bootstrapServers, topic string, fallback *FallbackSink, logger *slog.Logger, metrics *observe.Metrics) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(splitServers(bootstrapServers)...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		fallback: fallback,
		logger:   logger,
		metrics:  metrics,
	}
}

// Publish writes events to Kafka. It never returns an error: on failure it
// logs a warning and, if configured, appends the events to the fallback
// sink instead. Intended to be called from a background goroutine.
func (p *Publisher) Publish(ctx context.Context, events []domain.GrammarFeedbackEvent) {
	if len(events) == 0 {
		return
	}

	messages := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			p.logger.Warn("marshal grammar feedback event failed", slog.Any("error", err))
			continue
		}
		messages = append(messages, kafka.Message{Value: payload})
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		p.logger.Warn("publish grammar feedback events failed", slog.Any("error", err), slog.Int("count", len(events)))
		if p.fallback != nil {
			if err := p.fallback.Append(events); err != nil {
				p.logger.Warn("fallback sink append failed", slog.Any("error", err))
				p.recordOutcome(ctx, "dropped")
				return
			}
			p.recordOutcome(ctx, "fallback")
			return
		}
		p.recordOutcome(ctx, "dropped")
		return
	}
	p.recordOutcome(ctx, "ok")
}

func (p *Publisher) recordOutcome(ctx context.Context, status string) {
	if p.metrics != nil {
		p.metrics.RecordPublishOutcome(ctx, status)
	}
}

// Close flushes and closes the underlying Kafka writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// FallbackSink persists events that failed to publish as append-only JSON
// lines in a local file.
type FallbackSink struct {
	mu   sync.Mutex
	path string
}

// NewFallbackSink creates a FallbackSink writing to path. The file is
// created if it does not exist.
func NewFallbackSink(path string) *FallbackSink {
	return &FallbackSink{path: path}
}

// Append writes events to the sink, one JSON object per line.
func (s *FallbackSink) Append(events []domain.GrammarFeedbackEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("events: open fallback file: %w", err)
	}
	defer f.Close()

	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("events: marshal: %w", err)
		}
		data = append(data, '\n')
		if _, err := f.Write(data); err != nil {
			return fmt.Errorf("events: write: %w", err)
		}
	}
	return nil
}

func splitServers(bootstrapServers string) []string {
	var servers []string
	for _, s := range strings.Split(bootstrapServers, ",") {
		if s = strings.TrimSpace(s); s != "" {
			servers = append(servers, s)
		}
	}
	return servers
}
