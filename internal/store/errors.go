package store

import "errors"

var (
	// ErrNotFound indicates a stitch, fact, or recipe does not exist.
	// Fatal for the requesting unit only; assembly excludes it and continues.
	ErrNotFound = errors.New("resource not found")

	// ErrPositionConflict indicates two stitches claim one logical position.
	// Resolved last-writer-wins at compression time and flagged for
	// reconciliation.
	ErrPositionConflict = errors.New("position conflict")

	// ErrStateCorruption indicates a persisted user state failed schema
	// validation on load. Recovery reinitializes from the default curriculum.
	ErrStateCorruption = errors.New("user state corrupted")

	// ErrInvalidSkipNumber indicates an out-of-range skip number write.
	// The prior valid value is retained.
	ErrInvalidSkipNumber = errors.New("invalid skip number")

	// ErrInvalidBoundaryLevel indicates an out-of-range boundary level write.
	// The prior valid value is retained.
	ErrInvalidBoundaryLevel = errors.New("invalid boundary level")
)
