package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/helix/internal/engine"
	"github.com/hyperengineering/helix/internal/snapshot"
	"github.com/hyperengineering/helix/internal/types"
	"github.com/hyperengineering/helix/internal/validation"
)

// Handler implements the API handlers
type Handler struct {
	engine   *engine.Engine
	uploader snapshot.Uploader
	apiKey   string
	version  string
}

// NewHandler creates a new Handler over the session engine.
func NewHandler(e *engine.Engine, uploader snapshot.Uploader, apiKey, version string) *Handler {
	return &Handler{
		engine:   e,
		uploader: uploader,
		apiKey:   apiKey,
		version:  version,
	}
}

// StartSessionRequest is the body of POST /api/v1/sessions.
type StartSessionRequest struct {
	UserID string `json:"user_id"`
}

// SessionResponse summarizes a session for the client. Questions are pulled
// one at a time through the question endpoint, not inlined here.
type SessionResponse struct {
	SessionID     string    `json:"session_id"`
	UserID        string    `json:"user_id"`
	StitchID      string    `json:"stitch_id"`
	QuestionCount int       `json:"question_count"`
	Points        int       `json:"points"`
	Status        string    `json:"status"`
	StartedAt     time.Time `json:"started_at"`
}

func sessionResponse(sess *types.SessionState) SessionResponse {
	return SessionResponse{
		SessionID:     sess.SessionID,
		UserID:        sess.UserID,
		StitchID:      sess.StitchID,
		QuestionCount: len(sess.Questions),
		Points:        sess.Points,
		Status:        string(sess.Status),
		StartedAt:     sess.StartedAt,
	}
}

// QuestionResponse is one question with its session-scoped index.
type QuestionResponse struct {
	Index    int            `json:"index"`
	Question types.Question `json:"question"`
}

// AnswerRequest is the body of POST /api/v1/sessions/{id}/answers.
type AnswerRequest struct {
	QuestionIndex  int    `json:"question_index"`
	Answer         string `json:"answer"`
	ResponseTimeMs int64  `json:"response_time_ms"`
}

// SnapshotURLResponse carries a pre-signed snapshot download URL.
type SnapshotURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	health, err := h.engine.Health(r.Context(), h.version)
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, health)
}

// StartSession handles POST /api/v1/sessions
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	var c validation.Collector
	c.Add(validation.ValidateUserID("user_id", req.UserID))
	if c.HasErrors() {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", c.Errors())
		return
	}

	sess, err := h.engine.StartSession(r.Context(), req.UserID)
	if err != nil {
		slog.Error("start session failed",
			"component", "api",
			"user_id", req.UserID,
			"error", err,
		)
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse(sess))
}

// NextQuestion handles GET /api/v1/sessions/{id}/question
func (h *Handler) NextQuestion(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	question, index, err := h.engine.NextQuestion(r.Context(), sessionID)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, QuestionResponse{Index: index, Question: question})
}

// SubmitAnswer handles POST /api/v1/sessions/{id}/answers
func (h *Handler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	var req AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	var c validation.Collector
	c.Add(validation.ValidateRequired("answer", req.Answer))
	c.Add(validation.ValidateMaxLength("answer", req.Answer, 64))
	c.Add(validation.ValidateNonNegativeInt("response_time_ms", req.ResponseTimeMs))
	if c.HasErrors() {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", c.Errors())
		return
	}

	resp, err := h.engine.SubmitAnswer(r.Context(), sessionID, req.QuestionIndex, req.Answer, req.ResponseTimeMs)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// CompleteSession handles POST /api/v1/sessions/{id}/complete
func (h *Handler) CompleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	score, err := h.engine.CompleteSession(r.Context(), sessionID)
	if err != nil {
		slog.Error("complete session failed",
			"component", "api",
			"session_id", sessionID,
			"error", err,
		)
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

// AbandonSession handles POST /api/v1/sessions/{id}/abandon
func (h *Handler) AbandonSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	if err := h.engine.AbandonSession(r.Context(), sessionID); err != nil {
		MapDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SessionScore handles GET /api/v1/sessions/{id}/score
func (h *Handler) SessionScore(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	score, err := h.engine.SessionScore(r.Context(), sessionID)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

// SnapshotURL handles GET /api/v1/users/{id}/snapshot-url
func (h *Handler) SnapshotURL(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if err := validation.ValidateUserID("id", userID); err != nil {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{*err})
		return
	}

	url, expiry, err := h.uploader.PresignedURL(r.Context(), userID)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SnapshotURLResponse{URL: url, ExpiresAt: expiry})
}

// sessionIDParam extracts and validates the session id path parameter.
func sessionIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	sessionID := chi.URLParam(r, "id")
	if err := validation.ValidateULID("id", sessionID); err != nil {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{*err})
		return "", false
	}
	return sessionID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "component", "api", "error", err)
	}
}
