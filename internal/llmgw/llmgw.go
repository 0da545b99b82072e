// Package llmgw implements the LLM gateway (C1): a single rate-limited,
// retrying HTTP client against a chat-completion endpoint, offering both
// free-form and JSON-schema-constrained completions.
package llmgw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/mingdodev/korean-writing-feedback-rag/internal/errs"
	"github.com/mingdodev/korean-writing-feedback-rag/internal/observe"
)

const (
	defaultTopP              = 1.0
	defaultTopK              = 0
	defaultMaxTokens          = 1024
	defaultTemperature        = 0.1
	defaultRepetitionPenalty  = 1.0

	rateLimitPerWindow = 60
	rateLimitWindow    = 60 * time.Second

	retryMaxAttempts  = 3
	retryInitialDelay = 2 * time.Second
	retryMaxDelay     = 60 * time.Second
	retryMultiplier   = 2

	statusSuccessCode = "20000"
)

// Role is a chat message's role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Client is the rate-limited, retrying chat-completion gateway.
type Client struct {
	apiKey     string
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *observe.Metrics
}

// New creates a Client targeting url, authenticated with apiKey. The
// limiter is configured as one token refill per second with a burst of 60,
// approximating "at most 60 calls per rolling 60-second window". metrics
// may be nil, in which case call latency and outcome counts are not
// recorded.
func New(apiKey, url string, metrics *observe.Metrics) *Client {
	return &Client{
		apiKey:     apiKey,
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(rateLimitWindow/rateLimitPerWindow), rateLimitPerWindow),
		metrics:    metrics,
	}
}

type samplingParams struct {
	TopP                float64 `json:"topP"`
	TopK                int     `json:"topK"`
	MaxCompletionTokens int     `json:"maxCompletionTokens"`
	Temperature         float64 `json:"temperature"`
	RepetitionPenalty   float64 `json:"repetitionPenalty"`
}

func defaultSampling() samplingParams {
	return samplingParams{
		TopP:                defaultTopP,
		TopK:                defaultTopK,
		MaxCompletionTokens: defaultMaxTokens,
		Temperature:         defaultTemperature,
		RepetitionPenalty:   defaultRepetitionPenalty,
	}
}

type responseFormat struct {
	Type   string `json:"type"`
	Schema any    `json:"schema,omitempty"`
}

type chatRequest struct {
	Messages       []Message       `json:"messages"`
	ResponseFormat *responseFormat `json:"responseFormat,omitempty"`
	samplingParams
}

type statusEnvelope struct {
	Status struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"status"`
	Result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"result"`
}

// Chat issues a free-form completion call over messages.
func (c *Client) Chat(ctx context.Context, messages []Message) (string, error) {
	req := chatRequest{Messages: messages, samplingParams: defaultSampling()}
	return c.callTracked(ctx, "chat", req)
}

// ChatStructured issues a JSON-schema-constrained completion call and
// decodes the model's returned content string into out, which must be a
// pointer. The schema is sent only as the requested response format: the
// content is decoded with encoding/json and is not validated against the
// schema. A parse failure is reported as an LLMError with reason
// LLMReasonSchema.
func (c *Client) ChatStructured(ctx context.Context, messages []Message, schema any, out any) error {
	req := chatRequest{
		Messages:       messages,
		ResponseFormat: &responseFormat{Type: "json", Schema: schema},
		samplingParams: defaultSampling(),
	}
	content, err := c.callTracked(ctx, "chat_structured", req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(content), out); err != nil {
		schemaErr := &errs.LLMError{Reason: errs.LLMReasonSchema, Err: fmt.Errorf("decode structured content: %w", err)}
		if c.metrics != nil {
			c.metrics.RecordLLMCall(ctx, "chat_structured", "error")
		}
		return schemaErr
	}
	return nil
}

// callTracked wraps call with latency and outcome recording, when metrics
// are configured.
func (c *Client) callTracked(ctx context.Context, operation string, req chatRequest) (string, error) {
	start := time.Now()
	content, err := c.call(ctx, req)
	if c.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		c.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("operation", operation)))
		c.metrics.RecordLLMCall(ctx, operation, status)
	}
	return content, err
}

// call performs the rate-limited, retrying HTTP round trip and returns the
// envelope's result content string.
func (c *Client) call(ctx context.Context, req chatRequest) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", &errs.LLMError{Reason: errs.LLMReasonTransport, Err: fmt.Errorf("rate limiter: %w", err)}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", &errs.LLMError{Reason: errs.LLMReasonTransport, Err: fmt.Errorf("marshal request: %w", err)}
	}

	delay := retryInitialDelay
	var lastErr error
	for attempt := 1; attempt <= retryMaxAttempts; attempt++ {
		content, retryable, err := c.attempt(ctx, payload)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if !retryable || attempt == retryMaxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", &errs.LLMError{Reason: errs.LLMReasonTransport, Err: ctx.Err()}
		case <-timer.C:
		}

		delay *= retryMultiplier
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
	return "", lastErr
}

// attempt performs a single HTTP round trip. retryable reports whether the
// failure is eligible for retry (HTTP 429 only).
func (c *Client) attempt(ctx context.Context, payload []byte) (content string, retryable bool, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", false, &errs.LLMError{Reason: errs.LLMReasonTransport, Err: fmt.Errorf("build request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", false, &errs.LLMError{Reason: errs.LLMReasonTransport, Err: fmt.Errorf("do request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", true, &errs.LLMError{Reason: errs.LLMReasonHTTPStatus, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, &errs.LLMError{Reason: errs.LLMReasonHTTPStatus, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var env statusEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", false, &errs.LLMError{Reason: errs.LLMReasonTransport, Err: fmt.Errorf("decode response: %w", err)}
	}
	if env.Status.Code != statusSuccessCode {
		return "", false, &errs.LLMError{Reason: errs.LLMReasonStatusEnvelope, Err: fmt.Errorf("status %s: %s", env.Status.Code, env.Status.Message)}
	}
	return env.Result.Message.Content, false, nil
}
