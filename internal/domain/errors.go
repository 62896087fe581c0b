package domain

import "errors"

var (
	// ErrInvalidAction is returned when an inbound action fails schema validation.
	ErrInvalidAction = errors.New("invalid action")
	// ErrInvalidQuiz is returned when quiz content is structurally malformed.
	ErrInvalidQuiz = errors.New("invalid quiz")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrTestNotFound is returned when no snapshot exists for a test id.
	ErrTestNotFound = errors.New("test not found")
	// ErrTestNotStarted is returned when actions arrive before the test starts.
	ErrTestNotStarted = errors.New("test not started")
	// ErrTestNotCompleted is returned when a result is requested for a live test.
	ErrTestNotCompleted = errors.New("test not completed")
	// ErrConflict signals lock contention; the caller should retry the whole request.
	ErrConflict = errors.New("concurrent reconciliation in progress")
)
