package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrLeaseLost means the caller no longer holds the job's lock
	ErrLeaseLost = errors.New("job lease lost")
)

// ValidationError reports a malformed payload. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PermanentError marks a failure that retrying cannot fix
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// TransientError marks a failure caused by a flaky dependency
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// AuthError is raised once a forced token refresh did not help
type AuthError struct {
	Provider string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed: %v", e.Provider, e.Err)
}
func (e *AuthError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsRetryable decides the store transition for a handler error.
// Unclassified errors are retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	var permanent *PermanentError
	var validation *ValidationError
	var auth *AuthError
	switch {
	case errors.As(err, &permanent), errors.As(err, &validation), errors.As(err, &auth):
		return false
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return true
	}
	return true
}

// ErrorText renders err for storage in a text column: invalid UTF-8 is
// replaced and the result is cut to at most limit bytes on a rune boundary.
func ErrorText(err error, limit int) string {
	if err == nil {
		return "unknown error"
	}
	msg := strings.ToValidUTF8(err.Error(), "\uFFFD")
	if limit <= 0 || len(msg) <= limit {
		return msg
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
