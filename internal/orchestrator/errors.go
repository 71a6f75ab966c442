package orchestrator

import "errors"

// Sentinel errors for the pre-first-byte failure modes spec §4.7 names.
// internal/apierr maps these to the error envelope's UPPER_SNAKE codes and
// HTTP statuses; RunTurn itself only needs errors.Is to work against them.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrValidation       = errors.New("validation error")
	ErrModelNotFound    = errors.New("model not found")
)
