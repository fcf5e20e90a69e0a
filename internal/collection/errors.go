package collection

import (
	"errors"
	"fmt"
)

// Error represents a collection configuration or usage error.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Collection identifies the affected collection.
	Collection string

	// Key is the offending row key, rendered with ir.KeyString.
	Key string
}

// ErrorCode categorizes collection errors.
type ErrorCode string

const (
	// Configuration errors, returned by New.
	ErrCodeMissingGetKey    ErrorCode = "MISSING_GET_KEY"
	ErrCodeMissingSync      ErrorCode = "MISSING_SYNC"
	ErrCodeInvalidAutoIndex ErrorCode = "INVALID_AUTO_INDEX"
	ErrCodeInvalidRowUpdate ErrorCode = "INVALID_ROW_UPDATE_MODE"

	// Mutation usage errors, returned synchronously.
	ErrCodeInvalidKey        ErrorCode = "INVALID_KEY"
	ErrCodeDuplicateKey      ErrorCode = "DUPLICATE_KEY"
	ErrCodeKeyNotFound       ErrorCode = "KEY_NOT_FOUND"
	ErrCodeKeyChange         ErrorCode = "KEY_UPDATE_NOT_ALLOWED"
	ErrCodeMissingHandler    ErrorCode = "MISSING_HANDLER"
	ErrCodeInvalidWhere      ErrorCode = "INVALID_WHERE"
	ErrCodeMissingOrderIndex ErrorCode = "MISSING_ORDER_INDEX"

	// Sync writer errors.
	ErrCodeSyncNoOpenBatch    ErrorCode = "SYNC_NO_OPEN_BATCH"
	ErrCodeSyncBatchOpen      ErrorCode = "SYNC_BATCH_ALREADY_OPEN"
	ErrCodeSyncDuplicateKey   ErrorCode = "SYNC_DUPLICATE_KEY"
	ErrCodeSyncStopped        ErrorCode = "SYNC_STOPPED"
	ErrCodeSyncInvalidMessage ErrorCode = "SYNC_INVALID_MESSAGE"
)

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Collection != "" && e.Key != "":
		return fmt.Sprintf("%s: %s (collection=%s, key=%s)", e.Code, e.Message, e.Collection, e.Key)
	case e.Collection != "":
		return fmt.Sprintf("%s: %s (collection=%s)", e.Code, e.Message, e.Collection)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsConfigError returns true if err reports an invalid collection configuration.
// Uses errors.As to handle wrapped errors.
func IsConfigError(err error) bool {
	var ce *Error
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Code {
	case ErrCodeMissingGetKey, ErrCodeMissingSync, ErrCodeInvalidAutoIndex,
		ErrCodeInvalidRowUpdate:
		return true
	}
	return false
}

// HasCode returns true if err is a collection error with the given code.
func HasCode(err error, code ErrorCode) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}
