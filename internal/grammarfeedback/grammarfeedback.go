// Package grammarfeedback implements the grammar feedback service (C7): a
// five-step retrieval-augmented protocol that corrects a single candidate
// sentence and explains the correction.
package grammarfeedback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mingdodev/korean-writing-feedback-rag/internal/domain"
	"github.com/mingdodev/korean-writing-feedback-rag/internal/llmgw"
)

// similarityThreshold is the minimum vector-search similarity below which
// the lexical retriever is also consulted.
const similarityThreshold = 0.60

// maxVectorResults bounds the vector retriever's result count.
const maxVectorResults = 5

// VectorRetriever is the C2 dependency: embeds and searches for nearest
// neighboring error examples, returning the top hit's similarity.
type VectorRetriever interface {
	Search(ctx context.Context, sentence string, topK int) ([]domain.ErrorExample, float64, error)
}

// LexicalRetriever is the C3 dependency: searches for structurally similar
// error examples by standardized morphology.
type LexicalRetriever interface {
	Search(ctx context.Context, sentence string) ([]domain.ErrorExample, error)
}

// DictionaryLookup is the C4 dependency: resolves grammar elements to
// dictionary explanations.
type DictionaryLookup interface {
	Search(ctx context.Context, grammarElements []string) ([]domain.GrammarDBInfo, error)
}

const firstStageSystemPrompt = `당신은 한국어 문법 교정 전문가입니다.
입력 문장에서 실제로 존재하는 문법 오류만 교정하세요. 오류인지 애매한 경우에는 is_error를 false로 두세요.
문장의 종결 어미 스타일은 특이하더라도 절대로 바꾸지 마세요.
errors 필드에는 교정한 문법 요소(조사, 어미, 서술격 조사 등)만 기록하고, 단어나 구 전체를 적지 마세요.
반드시 JSON 형식으로만 응답하세요.`

const secondStageSystemPrompt = `당신은 한국어 문법 교정을 설명하는 도우미입니다.
원문과 교정문을 비교하여 달라진 부분을 찾아, 각 교정 사항마다 정확히 하나의 피드백 항목을 작성하세요.
여러 교정 사항을 하나의 항목으로 합치지 마세요.
제공된 문법 사전 정보 또는 해당 교정 자체에 대한 일반 지식에 근거하지 않은 문법 규칙을 지어내지 마세요.
반드시 JSON 형식으로만 응답하세요.`

// Service runs the per-sentence grammar correction and explanation pipeline.
type Service struct {
	vector     VectorRetriever
	lexical    LexicalRetriever
	dictionary DictionaryLookup
	llm        *llmgw.Client
	logger     *slog.Logger
}

// New creates a Service wired to its four collaborators.
func New(vector VectorRetriever, lexical LexicalRetriever, dictionary DictionaryLookup, llm *llmgw.Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{vector: vector, lexical: lexical, dictionary: dictionary, llm: llm, logger: logger}
}

// Feedback runs the full protocol for a single sentence's text.
func (s *Service) Feedback(ctx context.Context, originalSentence string) (domain.GrammarFeedback, error) {
	examples, err := s.gatherExamples(ctx, originalSentence)
	if err != nil {
		return domain.GrammarFeedback{}, err
	}

	correction, err := s.correct(ctx, originalSentence, examples)
	if err != nil {
		return domain.GrammarFeedback{}, err
	}

	if !correction.IsError {
		return domain.GrammarFeedback{CorrectedSentence: originalSentence, Feedbacks: nil}, nil
	}

	dbInfo, err := s.dictionary.Search(ctx, correction.Errors)
	if err != nil {
		s.logger.Warn("grammar dictionary lookup failed, proceeding without it",
			slog.String("sentence", originalSentence), slog.Any("error", err))
		dbInfo = nil
	}

	feedback, err := s.explain(ctx, originalSentence, correction.CorrectedSentence, dbInfo)
	if err != nil {
		return domain.GrammarFeedback{}, err
	}
	return feedback, nil
}

// gatherExamples performs the vector retrieve and, if its result is empty
// or insufficiently similar, a lexical fallback merged in by original
// sentence text.
func (s *Service) gatherExamples(ctx context.Context, sentence string) ([]domain.ErrorExample, error) {
	examples, similarity, err := s.vector.Search(ctx, sentence, maxVectorResults)
	if err != nil {
		s.logger.Warn("vector search failed, continuing with lexical fallback only",
			slog.String("sentence", sentence), slog.Any("error", err))
		examples, similarity = nil, 0
	}

	if len(examples) != 0 && similarity >= similarityThreshold {
		return examples, nil
	}

	lexExamples, err := s.lexical.Search(ctx, sentence)
	if err != nil {
		s.logger.Warn("lexical fallback search failed, continuing with vector results only",
			slog.String("sentence", sentence), slog.Any("error", err))
		return examples, nil
	}

	seen := make(map[string]struct{}, len(examples))
	for _, ex := range examples {
		seen[ex.OriginalSentence] = struct{}{}
	}
	for _, ex := range lexExamples {
		if _, ok := seen[ex.OriginalSentence]; ok {
			continue
		}
		seen[ex.OriginalSentence] = struct{}{}
		examples = append(examples, ex)
	}
	return examples, nil
}

func (s *Service) correct(ctx context.Context, originalSentence string, examples []domain.ErrorExample) (domain.CorrectionOutput, error) {
	payload, err := json.Marshal(struct {
		OriginalSentence string               `json:"original_sentence"`
		ErrorExamples    []domain.ErrorExample `json:"error_examples"`
	}{OriginalSentence: originalSentence, ErrorExamples: examples})
	if err != nil {
		return domain.CorrectionOutput{}, fmt.Errorf("marshal correction input: %w", err)
	}

	messages := []llmgw.Message{
		{Role: llmgw.RoleSystem, Content: firstStageSystemPrompt},
		{Role: llmgw.RoleUser, Content: string(payload)},
	}

	var out domain.CorrectionOutput
	if err := s.llm.ChatStructured(ctx, messages, correctionOutputSchema, &out); err != nil {
		return domain.CorrectionOutput{}, err
	}
	return out, nil
}

func (s *Service) explain(ctx context.Context, originalSentence, correctedSentence string, dbInfo []domain.GrammarDBInfo) (domain.GrammarFeedback, error) {
	payload, err := json.Marshal(struct {
		OriginalSentence  string                  `json:"original_sentence"`
		CorrectedSentence string                  `json:"corrected_sentence"`
		GrammarDBInfo     []domain.GrammarDBInfo `json:"grammar_db_info"`
	}{OriginalSentence: originalSentence, CorrectedSentence: correctedSentence, GrammarDBInfo: dbInfo})
	if err != nil {
		return domain.GrammarFeedback{}, fmt.Errorf("marshal explanation input: %w", err)
	}

	messages := []llmgw.Message{
		{Role: llmgw.RoleSystem, Content: secondStageSystemPrompt},
		{Role: llmgw.RoleUser, Content: string(payload)},
	}

	var out domain.GrammarFeedback
	if err := s.llm.ChatStructured(ctx, messages, grammarFeedbackSchema, &out); err != nil {
		return domain.GrammarFeedback{}, err
	}
	return out, nil
}

var correctionOutputSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"is_error":           map[string]any{"type": "boolean"},
		"corrected_sentence": map[string]any{"type": "string"},
		"errors": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
	"required": []string{"is_error", "corrected_sentence", "errors"},
}

var grammarFeedbackSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"corrected_sentence": map[string]any{"type": "string"},
		"feedbacks": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"corrects": map[string]any{"type": "string"},
					"reason":   map[string]any{"type": "string"},
				},
				"required": []string{"corrects", "reason"},
			},
		},
	},
	"required": []string{"corrected_sentence", "feedbacks"},
}
