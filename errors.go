package cryptobox

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when no saved session exists for an id.
	ErrSessionNotFound = errors.New("cryptobox: session not found")

	// ErrIdentity covers identity bootstrap conflicts: a public-only store
	// opened without key material, or an external identity that does not
	// match the stored one.
	ErrIdentity = errors.New("cryptobox: identity error")

	// ErrInvalidUTF8 is returned for string arguments that are not valid UTF-8.
	ErrInvalidUTF8 = errors.New("cryptobox: invalid utf-8")

	// ErrClosed is returned for operations on a closed Box or Session.
	ErrClosed = errors.New("cryptobox: closed")
)

// NulByteError is returned for a string argument with an embedded NUL byte.
type NulByteError struct {
	Pos int
}

func (e *NulByteError) Error() string {
	return fmt.Sprintf("cryptobox: nul byte at position %d", e.Pos)
}
