package store

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable wraps storage-layer I/O failures. A write that
	// hits it was not persisted; it is never reported as success.
	ErrStoreUnavailable = errors.New("store unavailable")

	ErrDuplicateUsername     = errors.New("username already taken")
	ErrInsufficientCredits   = errors.New("insufficient credits")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired reset token")
	ErrAccountNotFound       = errors.New("account not found")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrSelfDelete            = errors.New("account cannot delete itself")
	ErrDeliveryNotFound      = errors.New("no delivery entry for reference")
)

// unavailable tags a low-level storage error without hiding its cause;
// both ErrStoreUnavailable and the cause stay reachable via errors.Is.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
