package ratchet

import (
	"errors"
	"fmt"
)

// Decryption failures. They are returned as-is so callers can match them
// with errors.Is.
var (
	ErrRemoteIdentityChanged = errors.New("ratchet: remote identity changed")
	ErrInvalidSignature      = errors.New("ratchet: invalid signature")
	ErrInvalidMessage        = errors.New("ratchet: invalid message")
	ErrDuplicateMessage      = errors.New("ratchet: duplicate message")
	ErrTooDistantFuture      = errors.New("ratchet: message too distant in the future")
	ErrOutdatedMessage       = errors.New("ratchet: outdated message")
)

// DecodeError reports bytes that could not be decoded into What.
type DecodeError struct {
	What string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("ratchet: decode %s: %v", e.What, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError reports a value that could not be serialized.
type EncodeError struct {
	What string
	Err  error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("ratchet: encode %s: %v", e.What, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// PreKeyNotFoundError is returned when a prekey message references a prekey
// the store does not have (or no longer hands out).
type PreKeyNotFoundError struct {
	ID PreKeyID
}

func (e *PreKeyNotFoundError) Error() string {
	return fmt.Sprintf("ratchet: prekey %d not found", e.ID)
}

// PreKeyStoreError wraps a failure of the PreKeyStore during decryption.
type PreKeyStoreError struct {
	Err error
}

func (e *PreKeyStoreError) Error() string {
	return fmt.Sprintf("ratchet: prekey store: %v", e.Err)
}

func (e *PreKeyStoreError) Unwrap() error { return e.Err }
