package pacing

import (
	"errors"
	"fmt"
)

// Error represents a pacing configuration or usage error.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Strategy names the strategy involved, if any.
	Strategy string
}

// ErrorCode categorizes pacing errors.
type ErrorCode string

const (
	// ErrCodeInvalidConfig indicates a missing callback or a bad strategy setting.
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"

	// ErrCodeQueueFull indicates a Queue strategy at MaxSize.
	ErrCodeQueueFull ErrorCode = "QUEUE_FULL"

	// ErrCodeClosed indicates Mutate after Close.
	ErrCodeClosed ErrorCode = "CLOSED"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Strategy != "" {
		msg = fmt.Sprintf("%s (strategy=%s)", msg, e.Strategy)
	}
	return msg
}

// IsInvalidConfig returns true if err reports a bad configuration.
func IsInvalidConfig(err error) bool {
	return hasCode(err, ErrCodeInvalidConfig)
}

// IsQueueFull returns true if err reports a rejected call on a full queue.
func IsQueueFull(err error) bool {
	return hasCode(err, ErrCodeQueueFull)
}

// IsClosed returns true if err reports a call on a closed PacedMutations.
func IsClosed(err error) bool {
	return hasCode(err, ErrCodeClosed)
}

func hasCode(err error, code ErrorCode) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}
