package auth

import (
	"errors"
	"fmt"

	"cyberfolio/internal/ratelimit"
)

const (
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeForbiddenAdmin     = "FORBIDDEN_ADMIN"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeStoreUnavailable   = "STORE_UNAVAILABLE"
	CodeBadRequest         = "BAD_REQUEST"
)

var (
	ErrInvalidCredentials = errors.New("invalid admin credentials")
	ErrMissingCredentials = errors.New("identifier and password are required")
	ErrNoSession          = errors.New("session not found")
)

// StoreUnavailableError wraps a backing store failure. It must never be read as "not authenticated".
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable: %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

func storeUnavailable(op string, err error) error {
	return &StoreUnavailableError{Op: op, Err: err}
}

type RateLimitedError struct {
	Decision ratelimit.Decision
}

func (e *RateLimitedError) Error() string {
	return "too many login attempts"
}
