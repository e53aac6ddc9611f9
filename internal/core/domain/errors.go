package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not found")
	ErrTemporary          = errors.New("temporary failure")
	ErrNoRelevantContext  = errors.New("no relevant context")
	ErrAllTiersExhausted  = errors.New("all generation tiers exhausted")
	ErrCacheUnavailable   = errors.New("cache unavailable")
	ErrCompressionAborted = errors.New("compression aborted")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

// NewError builds a typed error without an underlying cause.
func NewError(kind error, operation, message string) error {
	return fmt.Errorf("%s: %w: %s", operation, kind, message)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ErrorCode is the stable machine-readable name of an error kind.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case IsKind(err, ErrInvalidInput):
		return "invalid_input"
	case IsKind(err, ErrUnauthorized):
		return "unauthorized"
	case IsKind(err, ErrNoRelevantContext):
		return "no_relevant_context"
	case IsKind(err, ErrAllTiersExhausted):
		return "all_tiers_exhausted"
	case IsKind(err, ErrNotFound):
		return "not_found"
	case IsKind(err, ErrTemporary):
		return "temporary"
	default:
		return "internal"
	}
}
