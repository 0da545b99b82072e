// Package contextfeedback implements the context feedback service (C6): a
// single holistic feedback paragraph for the whole composition.
package contextfeedback

import (
	"context"
	"fmt"

	"github.com/mingdodev/korean-writing-feedback-rag/internal/domain"
	"github.com/mingdodev/korean-writing-feedback-rag/internal/llmgw"
)

const systemPrompt = `당신은 한국어 학습자의 글쓰기를 돕는 첨삭 도우미입니다.
제목과 본문을 읽고, 주제와 내용의 일치, 글의 논리적 흐름, 잘 쓴 점, 그리고 한두 가지의
발전적인 제안을 담아 3~5문장의 총평을 작성하세요.
문법, 맞춤법, 띄어쓰기에 대해서는 절대로 언급하지 마세요.
글쓴이를 "학습자"라고 부르지 마세요.`

// Service issues a single free-form completion call against the LLM
// gateway to produce holistic feedback on a composition.
type Service struct {
	llm *llmgw.Client
}

// New creates a Service backed by llm.
func New(llm *llmgw.Client) *Service {
	return &Service{llm: llm}
}

// Generate produces context feedback for the given title and body.
func (s *Service) Generate(ctx context.Context, req domain.FeedbackRequest) (domain.ContextFeedback, error) {
	messages := []llmgw.Message{
		{Role: llmgw.RoleSystem, Content: systemPrompt},
		{Role: llmgw.RoleUser, Content: fmt.Sprintf("제목: %s\n\n본문:\n%s", req.Title, req.Contents)},
	}
	content, err := s.llm.Chat(ctx, messages)
	if err != nil {
		return domain.ContextFeedback{}, fmt.Errorf("contextfeedback: generate: %w", err)
	}
	return domain.ContextFeedback{Feedback: content}, nil
}
