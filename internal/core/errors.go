package core

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrEmptyName          = errors.New("empty category name")
	ErrNameTooLong        = errors.New("category name too long (max 100 characters)")
	ErrEmptyDescription   = errors.New("empty description")
	ErrDescriptionTooLong = errors.New("description too long (max 200 characters)")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrNotFound           = errors.New("not found")
	ErrNotAuthenticated   = errors.New("not authenticated")
)

// ValidationError rejects user input before any store is touched.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// PersistenceError is a local storage failure. It is recoverable: callers may retry.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("local store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// RemoteErrorClass separates transport failures from rejected credentials.
type RemoteErrorClass string

const (
	RemoteNetwork RemoteErrorClass = "network"
	RemoteAuth    RemoteErrorClass = "auth"
)

// RemoteError wraps a failed remote store call.
type RemoteError struct {
	Op    string
	Class RemoteErrorClass
	Err   error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s (%s): %v", e.Op, e.Class, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

func NewNetworkError(op string, err error) error {
	return &RemoteError{Op: op, Class: RemoteNetwork, Err: err}
}

func NewAuthError(op string, err error) error {
	return &RemoteError{Op: op, Class: RemoteAuth, Err: err}
}

// DecodeError describes a single remote document that could not be decoded.
type DecodeError struct {
	Kind       Kind
	DocumentID string
	Err        error
}

func (e *DecodeError) Error() string {
	id := e.DocumentID
	if id == "" {
		id = "<unknown>"
	}
	return fmt.Sprintf("decode %s/%s: %v", e.Kind, id, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsRetryable reports whether a failed sync attempt is worth repeating.
// Validation and decode failures never are; remote failures of either class are,
// since auth errors clear up once the session token is refreshed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	var de *DecodeError
	if errors.As(err, &de) {
		return false
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return true
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrNotAuthenticated)
}
