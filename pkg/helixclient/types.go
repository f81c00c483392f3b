package helixclient

import (
	"fmt"
	"time"
)

// Config holds the Helix client configuration
type Config struct {
	BaseURL string        // Helix service URL, e.g. http://localhost:8080
	APIKey  string        // API key for authentication
	Timeout time.Duration // HTTP timeout (default: 30 seconds)
}

// Session describes one practice session as the service reports it.
type Session struct {
	SessionID     string    `json:"session_id"`
	UserID        string    `json:"user_id"`
	StitchID      string    `json:"stitch_id"`
	QuestionCount int       `json:"question_count"`
	Points        int       `json:"points"`
	Status        string    `json:"status"`
	StartedAt     time.Time `json:"started_at"`
}

// Question is one served question with its single distractor.
type Question struct {
	FactID        string `json:"fact_id"`
	Statement     string `json:"statement"`
	CorrectAnswer string `json:"correct_answer"`
	Distractor    string `json:"distractor"`
	BoundaryLevel int    `json:"boundary_level"`
}

// ServedQuestion pairs a question with the index the answer must reference.
type ServedQuestion struct {
	Index    int      `json:"index"`
	Question Question `json:"question"`
}

// Answer is one answer submission.
type Answer struct {
	QuestionIndex  int    `json:"question_index"`
	Answer         string `json:"answer"`
	ResponseTimeMs int64  `json:"response_time_ms"`
}

// AnswerResult reports how an answer was graded.
type AnswerResult struct {
	QuestionIndex  int    `json:"question_index"`
	Answer         string `json:"answer"`
	Correct        bool   `json:"correct"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Attempt        int    `json:"attempt"`
	Points         int    `json:"points"`
}

// Score is the final score of a completed session.
type Score struct {
	BasePoints      int     `json:"base_points"`
	Multiplier      float64 `json:"multiplier"`
	TotalPoints     int     `json:"total_points"`
	WinningCategory string  `json:"winning_category"`
}

// Health reports service status and curriculum counts.
type Health struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	StitchCount  int64  `json:"stitch_count"`
	FactCount    int64  `json:"fact_count"`
	SessionCount int64  `json:"session_count"`
}

// SnapshotURL is a presigned download location for a user-state snapshot.
type SnapshotURL struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// APIError is an RFC 7807 problem response from the service.
type APIError struct {
	StatusCode int    `json:"status"`
	Type       string `json:"type"`
	Title      string `json:"title"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("helix: %s (%d): %s", e.Title, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("helix: %s (%d)", e.Title, e.StatusCode)
}
