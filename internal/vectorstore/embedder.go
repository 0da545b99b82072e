package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mingdodev/korean-writing-feedback-rag/internal/errs"
)

// Embedder turns a sentence into a dense embedding using a fixed
// sentence-encoder model. Implementations must be safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// HTTPEmbedder is an Embedder backed by a CLOVA Studio-style embedding
// endpoint: a bearer-authenticated JSON POST returning a status envelope
// wrapping the embedding vector, the same envelope shape the chat-completion
// gateway validates.
type HTTPEmbedder struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewHTTPEmbedder creates an HTTPEmbedder targeting baseURL with the given
// model identifier.
func NewHTTPEmbedder(baseURL, apiKey, model string) *HTTPEmbedder {
	return &HTTPEmbedder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type embeddingRequest struct {
	Text string `json:"text"`
}

type embeddingEnvelope struct {
	Status struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"status"`
	Result struct {
		Embedding []float32 `json:"embedding"`
	} `json:"result"`
}

const embeddingSuccessCode = "20000"

// Embed calls the embedding endpoint and returns the dense vector for text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(embeddingRequest{Text: text})
	if err != nil {
		return nil, &errs.RetrievalError{Backend: "vector", Err: fmt.Errorf("marshal embedding request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, &errs.RetrievalError{Backend: "vector", Err: fmt.Errorf("build embedding request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("X-NCP-CLOVASTUDIO-REQUEST-ID", e.model)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, &errs.RetrievalError{Backend: "vector", Err: fmt.Errorf("embedding request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &errs.RetrievalError{Backend: "vector", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var env embeddingEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, &errs.RetrievalError{Backend: "vector", Err: fmt.Errorf("decode embedding response: %w", err)}
	}
	if env.Status.Code != embeddingSuccessCode {
		return nil, &errs.RetrievalError{Backend: "vector", Err: fmt.Errorf("embedding status %s: %s", env.Status.Code, env.Status.Message)}
	}
	return env.Result.Embedding, nil
}
