package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mingdodev/korean-writing-feedback-rag/internal/domain"
)

type fakeProcessor struct {
	resp       domain.FeedbackResponse
	err        error
	capturedID string
}

func (f *fakeProcessor) Process(ctx context.Context, userID string, req domain.FeedbackRequest) (domain.FeedbackResponse, error) {
	f.capturedID = userID
	return f.resp, f.err
}

func newRequest(body string) *http.Request {
	req := httptest.NewRequest("POST", "/api/feedback", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestPostFeedback_HappyPath(t *testing.T) {
	proc := &fakeProcessor{resp: domain.FeedbackResponse{
		ContextFeedback: domain.ContextFeedback{Feedback: "잘 썼습니다."},
		Sentences: []domain.Sentence{
			{SentenceID: 0, OriginalSentence: "문장.", IsError: false, GrammarFeedback: nil},
		},
	}}
	h := New(proc, nil)
	mux := http.NewServeMux()
	h.Register(mux, "/api")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, newRequest(`{"title":"하루","contents":"문장."}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	var got domain.FeedbackResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ContextFeedback.Feedback != "잘 썼습니다." {
		t.Errorf("context feedback = %q", got.ContextFeedback.Feedback)
	}
}

func TestPostFeedback_MalformedBody(t *testing.T) {
	h := New(&fakeProcessor{}, nil)
	mux := http.NewServeMux()
	h.Register(mux, "/api")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, newRequest(`not json`))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPostFeedback_MissingFields(t *testing.T) {
	h := New(&fakeProcessor{}, nil)
	mux := http.NewServeMux()
	h.Register(mux, "/api")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, newRequest(`{"title":"","contents":""}`))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPostFeedback_ProcessorErrorReturns500(t *testing.T) {
	proc := &fakeProcessor{err: context.DeadlineExceeded}
	h := New(proc, nil)
	mux := http.NewServeMux()
	h.Register(mux, "/api")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, newRequest(`{"title":"t","contents":"c"}`))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestSessionMiddleware_SetsCookieWhenAbsent(t *testing.T) {
	proc := &fakeProcessor{}
	h := New(proc, nil)
	mux := http.NewServeMux()
	h.Register(mux, "/api")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, newRequest(`{"title":"t","contents":"c"}`))

	cookies := rec.Result().Cookies()
	var found *http.Cookie
	for _, c := range cookies {
		if c.Name == sessionCookieName {
			found = c
		}
	}
	if found == nil {
		t.Fatal("user_session_id cookie was not set")
	}
	if found.MaxAge != sessionCookieMaxAge {
		t.Errorf("MaxAge = %d, want %d", found.MaxAge, sessionCookieMaxAge)
	}
	if proc.capturedID != found.Value {
		t.Errorf("processor saw userID %q, want cookie value %q", proc.capturedID, found.Value)
	}
}

func TestSessionMiddleware_ReusesExistingCookie(t *testing.T) {
	proc := &fakeProcessor{}
	h := New(proc, nil)
	mux := http.NewServeMux()
	h.Register(mux, "/api")

	req := newRequest(`{"title":"t","contents":"c"}`)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "existing-id"})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if proc.capturedID != "existing-id" {
		t.Errorf("processor saw userID %q, want %q", proc.capturedID, "existing-id")
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("middleware should not re-set an already-present session cookie")
	}
}
