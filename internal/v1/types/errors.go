package types

import "fmt"

// Stable, machine-readable error kinds surfaced at the protocol boundary.
const (
	CodeAuthFailed       = "AUTH_FAILED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeNotInRoom        = "NOT_IN_ROOM"
	CodeNotHost          = "NOT_HOST"
	CodeNotFound         = "NOT_FOUND"
	CodeInactive         = "INACTIVE"
	CodeFull             = "FULL"
	CodeBadPassword      = "BAD_PASSWORD"
	CodeValidation       = "VALIDATION"
	CodeGameInProgress   = "GAME_IN_PROGRESS"
	CodeNotEnoughReady   = "NOT_ENOUGH_READY"
	CodeNoGamesAvailable = "NO_GAMES_AVAILABLE"
	CodeQueueFull        = "QUEUE_FULL"
	CodeCodeExhaustion   = "CODE_EXHAUSTION"
	CodeInternal         = "INTERNAL"
)

// ProtocolError is an error with a stable protocol code. Validation errors
// additionally carry the offending field.
type ProtocolError struct {
	Code    string `json:"error"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e *ProtocolError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

var (
	ErrAuthFailed       = &ProtocolError{Code: CodeAuthFailed}
	ErrRateLimited      = &ProtocolError{Code: CodeRateLimited}
	ErrNotInRoom        = &ProtocolError{Code: CodeNotInRoom}
	ErrNotHost          = &ProtocolError{Code: CodeNotHost}
	ErrNotFound         = &ProtocolError{Code: CodeNotFound}
	ErrInactive         = &ProtocolError{Code: CodeInactive}
	ErrFull             = &ProtocolError{Code: CodeFull}
	ErrBadPassword      = &ProtocolError{Code: CodeBadPassword}
	ErrGameInProgress   = &ProtocolError{Code: CodeGameInProgress}
	ErrNotEnoughReady   = &ProtocolError{Code: CodeNotEnoughReady}
	ErrNoGamesAvailable = &ProtocolError{Code: CodeNoGamesAvailable}
	ErrQueueFull        = &ProtocolError{Code: CodeQueueFull}
	ErrCodeExhaustion   = &ProtocolError{Code: CodeCodeExhaustion}
	ErrInternal         = &ProtocolError{Code: CodeInternal}
)

// NewValidationError builds a VALIDATION error with field details.
func NewValidationError(field, message string) *ProtocolError {
	return &ProtocolError{Code: CodeValidation, Field: field, Message: message}
}

// CodeOf extracts the protocol code from err, falling back to INTERNAL for
// unexpected errors.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if pe, ok := err.(*ProtocolError); ok {
		return pe.Code
	}
	return CodeInternal
}
