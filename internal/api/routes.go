package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	// Rate limiter for answer submission: burst of 20, refill 1 per 200ms.
	// Sustained 5/second is well above any human answer cadence.
	answerRateLimiter := NewAnswerRateLimiter(20, 200*time.Millisecond)

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes (no auth required)
		r.Get("/health", h.Health)

		// Protected routes (auth required)
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))
			r.Post("/sessions", h.StartSession)
			r.Route("/sessions/{id}", func(r chi.Router) {
				r.Get("/question", h.NextQuestion)
				// Answer submission has additional rate limiting
				r.With(answerRateLimiter.Middleware).Post("/answers", h.SubmitAnswer)
				r.Post("/complete", h.CompleteSession)
				r.Post("/abandon", h.AbandonSession)
				r.Get("/score", h.SessionScore)
			})
			r.Get("/users/{id}/snapshot-url", h.SnapshotURL)
		})
	})

	return r
}
