// Package orchestrator implements the feedback orchestrator (C8): it fans
// out one context-feedback call and N per-candidate-sentence grammar calls
// concurrently, with per-task error isolation, then assembles the final
// response and schedules background event publication.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mingdodev/korean-writing-feedback-rag/internal/domain"
	"github.com/mingdodev/korean-writing-feedback-rag/internal/observe"
)

// contextFailureFeedback is substituted when the context-feedback task
// fails; the orchestrator itself never fails a request over it.
const contextFailureFeedback = "문맥 피드백 생성에 실패했습니다."

// Splitter is the C5 dependency.
type Splitter interface {
	Split(ctx context.Context, contents string) ([]domain.Sentence, error)
}

// ContextGenerator is the C6 dependency.
type ContextGenerator interface {
	Generate(ctx context.Context, req domain.FeedbackRequest) (domain.ContextFeedback, error)
}

// GrammarFeedbacker is the C7 dependency.
type GrammarFeedbacker interface {
	Feedback(ctx context.Context, originalSentence string) (domain.GrammarFeedback, error)
}

// Publisher is the C9 dependency; Publish is called fire-and-forget on its
// own goroutine, started just before Process returns the response. The call
// is not awaited and no panic recovery wraps it.
type Publisher interface {
	Publish(ctx context.Context, events []domain.GrammarFeedbackEvent)
}

// Orchestrator wires together the splitter, context generator, grammar
// feedback service, and event publisher into the end-to-end request flow.
type Orchestrator struct {
	splitter Splitter
	context  ContextGenerator
	grammar  GrammarFeedbacker
	events   Publisher
	logger   *slog.Logger
	metrics  *observe.Metrics
}

// New creates an Orchestrator from its four collaborators. metrics may be
// nil, in which case request latency and sentence-candidacy counts are not
// recorded.
func New(splitter Splitter, context ContextGenerator, grammar GrammarFeedbacker, events Publisher, logger *slog.Logger, metrics *observe.Metrics) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{splitter: splitter, context: context, grammar: grammar, events: events, logger: logger, metrics: metrics}
}

// Process runs the full feedback pipeline for req and returns the assembled
// response. userID identifies the caller for published events.
func (o *Orchestrator) Process(ctx context.Context, userID string, req domain.FeedbackRequest) (domain.FeedbackResponse, error) {
	if o.metrics != nil {
		start := time.Now()
		defer func() { o.metrics.OrchestrationDuration.Record(ctx, time.Since(start).Seconds()) }()
	}

	sentences, err := o.splitter.Split(ctx, req.Contents)
	if err != nil {
		return domain.FeedbackResponse{}, err
	}

	var contextFeedback domain.ContextFeedback
	var grammarResults []grammarOutcome

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		cf, err := o.context.Generate(ctx, req)
		if err != nil {
			o.logger.Warn("context feedback generation failed", slog.Any("error", err))
			cf = domain.ContextFeedback{Feedback: contextFailureFeedback}
		}
		contextFeedback = cf
	}()

	candidateIdx := make([]int, 0, len(sentences))
	for i, sent := range sentences {
		if sent.IsErrorCandidate {
			candidateIdx = append(candidateIdx, i)
		}
		if o.metrics != nil {
			o.metrics.RecordSentenceProcessed(ctx, sent.IsErrorCandidate)
		}
	}
	grammarResults = make([]grammarOutcome, len(candidateIdx))

	for slot, sentIdx := range candidateIdx {
		wg.Add(1)
		go func(slot, sentIdx int) {
			defer wg.Done()
			fb, err := o.grammar.Feedback(ctx, sentences[sentIdx].OriginalSentence)
			grammarResults[slot] = grammarOutcome{sentenceIdx: sentIdx, feedback: fb, err: err}
		}(slot, sentIdx)
	}

	wg.Wait()

	events := make([]domain.GrammarFeedbackEvent, 0, len(grammarResults))
	for _, result := range grammarResults {
		sent := &sentences[result.sentenceIdx]
		if result.err != nil {
			o.logger.Warn("grammar feedback failed for sentence",
				slog.Int("sentenceId", sent.SentenceID), slog.Any("error", result.err))
			continue
		}

		fb := result.feedback
		isError := len(fb.Feedbacks) > 0
		sent.IsError = isError
		if isError {
			feedback := fb
			sent.GrammarFeedback = &feedback
			events = append(events, domain.GrammarFeedbackEvent{
				UserID:        userID,
				Timestamp:     time.Now().UTC().Format(time.RFC3339),
				SentenceID:    sent.SentenceID,
				OriginalText:  sent.OriginalSentence,
				CorrectedText: fb.CorrectedSentence,
				Feedbacks:     fb.Feedbacks,
			})
		} else {
			sent.GrammarFeedback = nil
		}
	}

	response := domain.FeedbackResponse{
		ContextFeedback: contextFeedback,
		Sentences:       sentences,
	}

	if len(events) > 0 {
		go o.events.Publish(context.WithoutCancel(ctx), events)
	}

	return response, nil
}

type grammarOutcome struct {
	sentenceIdx int
	feedback    domain.GrammarFeedback
	err         error
}
