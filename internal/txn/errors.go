package txn

import (
	"errors"
	"fmt"
)

// Error represents a transaction usage or persistence error.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// TxID identifies the affected transaction.
	TxID string

	// Err is the underlying cause (the MutationFn error for PERSIST_FAILED).
	Err error
}

// ErrorCode categorizes transaction errors.
type ErrorCode string

const (
	// ErrCodeMissingMutationFn indicates a transaction created without a MutationFn.
	ErrCodeMissingMutationFn ErrorCode = "MISSING_MUTATION_FN"

	// ErrCodeNotPendingMutate indicates a mutation applied to a non-pending transaction.
	ErrCodeNotPendingMutate ErrorCode = "NOT_PENDING_MUTATE"

	// ErrCodeNotPendingCommit indicates Commit on a non-pending transaction.
	ErrCodeNotPendingCommit ErrorCode = "NOT_PENDING_COMMIT"

	// ErrCodeAlreadyCompleted indicates Rollback of a completed transaction.
	ErrCodeAlreadyCompleted ErrorCode = "ALREADY_COMPLETED_ROLLBACK"

	// ErrCodePersistFailed indicates the MutationFn returned an error.
	ErrCodePersistFailed ErrorCode = "PERSIST_FAILED"

	// ErrCodeRolledBack indicates an explicit or cascaded rollback.
	ErrCodeRolledBack ErrorCode = "ROLLED_BACK"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.TxID != "" {
		msg = fmt.Sprintf("%s (tx=%s)", msg, e.TxID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsPersistError returns true if err reports a failed MutationFn.
// Uses errors.As to handle wrapped errors.
func IsPersistError(err error) bool {
	return hasCode(err, ErrCodePersistFailed)
}

// IsRolledBack returns true if err reports an explicit or cascaded rollback.
func IsRolledBack(err error) bool {
	return hasCode(err, ErrCodeRolledBack)
}

// IsNotPending returns true if err reports an operation on a transaction
// that already left the pending state.
func IsNotPending(err error) bool {
	return hasCode(err, ErrCodeNotPendingMutate) || hasCode(err, ErrCodeNotPendingCommit)
}

func hasCode(err error, code ErrorCode) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Code == code
	}
	return false
}
