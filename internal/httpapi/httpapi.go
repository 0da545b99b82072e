// Package httpapi implements the HTTP transport (C10): route registration
// for the feedback endpoint, the user-session cookie, and request/response
// JSON marshalling.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/mingdodev/korean-writing-feedback-rag/internal/domain"
)

// sessionCookieName is the cookie that carries a stable per-browser user
// identifier across requests. It is never used for authentication — only to
// tag published events with a user_id.
const sessionCookieName = "user_session_id"

// sessionCookieMaxAge is one year, in seconds.
const sessionCookieMaxAge = 365 * 24 * 60 * 60

// Processor runs one feedback request end to end.
type Processor interface {
	Process(ctx context.Context, userID string, req domain.FeedbackRequest) (domain.FeedbackResponse, error)
}

// feedbackRequestBody is the wire shape of POST /api/feedback.
type feedbackRequestBody struct {
	Title    string `json:"title"`
	Contents string `json:"contents"`
}

// errorBody is the wire shape of a 4xx/5xx error response.
type errorBody struct {
	Error string `json:"error"`
}

// Handler serves the feedback API.
type Handler struct {
	processor Processor
	logger    *slog.Logger
}

// New creates a Handler backed by processor.
func New(processor Processor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{processor: processor, logger: logger}
}

// Register adds the feedback route under basePath to mux, wrapped in the
// session-cookie middleware.
func (h *Handler) Register(mux *http.ServeMux, basePath string) {
	mux.Handle("POST "+basePath+"/feedback", sessionMiddleware(http.HandlerFunc(h.postFeedback)))
}

// postFeedback handles POST /api/feedback. Malformed bodies return 4xx;
// any other failure during processing still returns 200 with partial
// results, per the orchestrator's per-task error isolation — only a
// sentence-split failure propagates as a 500.
func (h *Handler) postFeedback(w http.ResponseWriter, r *http.Request) {
	var body feedbackRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if body.Title == "" || body.Contents == "" {
		writeError(w, http.StatusBadRequest, "title and contents are required")
		return
	}

	userID, _ := r.Context().Value(sessionIDKey{}).(string)

	resp, err := h.processor.Process(r.Context(), userID, domain.FeedbackRequest{
		Title:    body.Title,
		Contents: body.Contents,
	})
	if err != nil {
		h.logger.Error("feedback processing failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "feedback processing failed")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// sessionIDKey is the context key the session middleware stores the
// resolved session id under.
type sessionIDKey struct{}

// sessionMiddleware reads the user_session_id cookie, minting and setting a
// new UUID v4 value when absent, and injects it into the request context.
func sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sessionID string
		if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
			sessionID = c.Value
		} else {
			sessionID = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookieName,
				Value:    sessionID,
				MaxAge:   sessionCookieMaxAge,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}

		ctx := context.WithValue(r.Context(), sessionIDKey{}, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
