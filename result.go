package cryptobox

import (
	"errors"
	"strconv"

	"github.com/gwillem/cryptobox-go/internal/ratchet"
	"github.com/gwillem/cryptobox-go/internal/store"
)

// Result is the stable numeric outcome reported across the C boundary.
// Values never change once published.
type Result int

const (
	Success               Result = 0
	StorageError          Result = 1
	SessionNotFound       Result = 2
	DecodeError           Result = 3
	RemoteIdentityChanged Result = 4
	InvalidSignature      Result = 5
	InvalidMessage        Result = 6
	DuplicateMessage      Result = 7
	TooDistantFuture      Result = 8
	OutdatedMessage       Result = 9
	Utf8Error             Result = 10
	NulError              Result = 11
	EncodeError           Result = 12
	IdentityError         Result = 13
	PreKeyNotFound        Result = 14
)

var resultNames = [...]string{
	Success:               "Success",
	StorageError:          "StorageError",
	SessionNotFound:       "SessionNotFound",
	DecodeError:           "DecodeError",
	RemoteIdentityChanged: "RemoteIdentityChanged",
	InvalidSignature:      "InvalidSignature",
	InvalidMessage:        "InvalidMessage",
	DuplicateMessage:      "DuplicateMessage",
	TooDistantFuture:      "TooDistantFuture",
	OutdatedMessage:       "OutdatedMessage",
	Utf8Error:             "Utf8Error",
	NulError:              "NulError",
	EncodeError:           "EncodeError",
	IdentityError:         "IdentityError",
	PreKeyNotFound:        "PreKeyNotFound",
}

func (r Result) String() string {
	if r >= 0 && int(r) < len(resultNames) {
		return resultNames[r]
	}
	return "Result(" + strconv.Itoa(int(r)) + ")"
}

// ResultOf collapses err into a Result. Storage failures are checked first
// because a store may wrap a decode error of a corrupt record. Errors of no
// known kind are reported as StorageError.
func ResultOf(err error) Result {
	var (
		storeErr  *store.Error
		pkStore   *ratchet.PreKeyStoreError
		pkMissing *ratchet.PreKeyNotFoundError
		decodeErr *ratchet.DecodeError
		encodeErr *ratchet.EncodeError
		nulErr    *NulByteError
	)
	switch {
	case err == nil:
		return Success
	case errors.As(err, &storeErr), errors.As(err, &pkStore), errors.Is(err, ErrClosed):
		return StorageError
	case errors.Is(err, ErrSessionNotFound):
		return SessionNotFound
	case errors.As(err, &pkMissing):
		return PreKeyNotFound
	case errors.Is(err, ErrIdentity):
		return IdentityError
	case errors.As(err, &nulErr):
		return NulError
	case errors.Is(err, ErrInvalidUTF8):
		return Utf8Error
	case errors.Is(err, ratchet.ErrRemoteIdentityChanged):
		return RemoteIdentityChanged
	case errors.Is(err, ratchet.ErrInvalidSignature):
		return InvalidSignature
	case errors.Is(err, ratchet.ErrInvalidMessage):
		return InvalidMessage
	case errors.Is(err, ratchet.ErrDuplicateMessage):
		return DuplicateMessage
	case errors.Is(err, ratchet.ErrTooDistantFuture):
		return TooDistantFuture
	case errors.Is(err, ratchet.ErrOutdatedMessage):
		return OutdatedMessage
	case errors.As(err, &decodeErr):
		return DecodeError
	case errors.As(err, &encodeErr):
		return EncodeError
	default:
		return StorageError
	}
}
