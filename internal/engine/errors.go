package engine

import "errors"

var (
	// ErrSessionNotActive indicates an operation that requires a live
	// session hit one already completed or abandoned.
	ErrSessionNotActive = errors.New("engine: session not active")

	// ErrSessionNotComplete indicates a score was requested for a session
	// that has not been completed.
	ErrSessionNotComplete = errors.New("engine: session not complete")

	// ErrNoActiveStitch indicates the active tube has nothing at position 1,
	// which happens only with an empty curriculum.
	ErrNoActiveStitch = errors.New("engine: active tube is empty")

	// ErrInvalidQuestionIndex indicates an answer referenced a question
	// index outside the session's question set.
	ErrInvalidQuestionIndex = errors.New("engine: invalid question index")
)
