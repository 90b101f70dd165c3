package api

import (
	"errors"
	"net/http"

	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/service"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/service/auth"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Authentication errors
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized

	// Not found errors
	case errors.Is(err, service.ErrTaskNotFound),
		errors.Is(err, service.ErrEpisodeNotFound),
		errors.Is(err, store.ErrTaskNotFound):
		return http.StatusNotFound

	// State conflicts
	case errors.Is(err, service.ErrInvalidTransition):
		return http.StatusConflict

	// Guardrails
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests

	case errors.Is(err, service.ErrBatchTooLarge):
		return http.StatusUnprocessableEntity

	// Bad request errors
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid):
		return "Invalid token"

	case errors.Is(err, auth.ErrInvalidCredentials):
		return "Invalid credentials"

	case errors.Is(err, service.ErrTaskNotFound),
		errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"

	case errors.Is(err, service.ErrEpisodeNotFound):
		return "Episode not found"

	case errors.Is(err, service.ErrInvalidTransition):
		return "Task is not in a state that allows this operation"

	case errors.Is(err, service.ErrRateLimited):
		return "A bulk retry from this actor ran too recently, try again shortly"

	case errors.Is(err, service.ErrBatchTooLarge):
		return "Selection exceeds the bulk retry batch cap"

	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, store.ErrInvalidEntity):
		return "Invalid request data"

	default:
		return "An unexpected error occurred"
	}
}
