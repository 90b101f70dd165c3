package service

import "errors"

// Service-level sentinel errors. Handlers map these onto HTTP statuses;
// callers inside the process test them with errors.Is.
var (
	// ErrTaskNotFound indicates the referenced task does not exist.
	ErrTaskNotFound = errors.New("task not found")

	// ErrEpisodeNotFound indicates the referenced episode does not exist.
	ErrEpisodeNotFound = errors.New("episode not found")

	// ErrNoEligibleTasks indicates no queued task is currently due.
	ErrNoEligibleTasks = errors.New("no eligible tasks")

	// ErrInvalidTransition indicates an outcome report arrived for a task
	// that is not in the running state (or lost its claim in the meantime).
	ErrInvalidTransition = errors.New("task is not in a reportable state")

	// ErrInvalidInput indicates the caller supplied malformed parameters.
	ErrInvalidInput = errors.New("invalid input")

	// ErrBatchTooLarge indicates a bulk retry selection exceeds the
	// configured batch cap.
	ErrBatchTooLarge = errors.New("bulk retry batch exceeds the configured cap")

	// ErrRateLimited indicates the actor triggered a bulk retry too soon
	// after their previous one.
	ErrRateLimited = errors.New("bulk retry rate limit exceeded")
)
