package cryptobox

import (
	"strings"
	"unicode/utf8"
)

// checkText validates a string argument before it is used as a store key or
// path: it must be UTF-8 without embedded NUL bytes.
func checkText(s string) error {
	if i := strings.IndexByte(s, 0); i >= 0 {
		return &NulByteError{Pos: i}
	}
	if !utf8.ValidString(s) {
		return ErrInvalidUTF8
	}
	return nil
}
