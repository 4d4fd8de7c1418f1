// Command libcbox builds the cryptobox C library:
//
//	go build -buildmode=c-shared -o libcbox.so ./cmd/libcbox
//
// Boxes, sessions and vecs are opaque 64-bit handles. Every fallible call
// returns a cbox_result and writes its out parameter only on CBOX_SUCCESS.
// Vecs must be released with cbox_vec_free. Logging goes to stderr and is
// configured by the YAML file named in CBOX_CONFIG.
package main

/*
#include <stdint.h>
#include <stdlib.h>
#include <string.h>

typedef uint64_t cbox_t;
typedef uint64_t cbox_session_t;
typedef uint64_t cbox_vec_t;
typedef int cbox_result;

typedef enum {
	CBOX_IDENTITY_COMPLETE = 0,
	CBOX_IDENTITY_PUBLIC = 1
} cbox_identity_mode;

#define CBOX_LAST_PREKEY_ID 0xFFFF
*/
import "C"

import (
	"math"
	"os"
	"sync"
	"unsafe"

	cryptobox "github.com/gwillem/cryptobox-go"
	"github.com/gwillem/cryptobox-go/internal/config"
	"github.com/gwillem/cryptobox-go/internal/ffi"
	"github.com/gwillem/cryptobox-go/internal/handle"
)

type cAllocator struct{}

func (cAllocator) Alloc(b []byte) unsafe.Pointer {
	p := C.malloc(C.size_t(max(len(b), 1)))
	if p == nil {
		panic("libcbox: out of memory")
	}
	if len(b) > 0 {
		C.memcpy(p, unsafe.Pointer(&b[0]), C.size_t(len(b)))
	}
	return p
}

func (cAllocator) Free(p unsafe.Pointer) { C.free(p) }

var lib = sync.OnceValue(func() *ffi.Lib {
	cfg := config.Default()
	var loadErr error
	if path := os.Getenv("CBOX_CONFIG"); path != "" {
		if c, err := config.Load(path); err != nil {
			loadErr = err
		} else {
			cfg = c
		}
	}
	logger := config.NewLogger(os.Stderr, cfg.Logging)
	if loadErr != nil {
		logger.Warn("ignoring CBOX_CONFIG", "err", loadErr)
	}
	return ffi.New(cAllocator{}, logger)
})

// goBytes copies a caller buffer. ok is false for a NULL pointer with a
// non-zero length or a length Go cannot address.
func goBytes(p *C.uint8_t, n C.size_t) ([]byte, bool) {
	if n == 0 {
		return nil, true
	}
	if p == nil || uint64(n) > math.MaxInt32 {
		return nil, false
	}
	return C.GoBytes(unsafe.Pointer(p), C.int(n)), true
}

func goString(s *C.char) (string, bool) {
	if s == nil {
		return "", false
	}
	return C.GoString(s), true
}

func result(r cryptobox.Result) C.cbox_result { return C.cbox_result(r) }

var decodeError = result(cryptobox.DecodeError)

//export cbox_file_open
func cbox_file_open(path *C.char, out *C.cbox_t) C.cbox_result {
	dir, ok := goString(path)
	if !ok {
		return decodeError
	}
	h, r := lib().Open(dir)
	if r == cryptobox.Success {
		*out = C.cbox_t(h)
	}
	return result(r)
}

//export cbox_file_open_with
func cbox_file_open_with(path *C.char, ident *C.uint8_t, identLen C.size_t, mode C.cbox_identity_mode, out *C.cbox_t) C.cbox_result {
	dir, ok := goString(path)
	if !ok {
		return decodeError
	}
	id, ok := goBytes(ident, identLen)
	if !ok {
		return decodeError
	}
	h, r := lib().OpenWith(dir, id, cryptobox.IdentityMode(mode))
	if r == cryptobox.Success {
		*out = C.cbox_t(h)
	}
	return result(r)
}

//export cbox_identity_copy
func cbox_identity_copy(b C.cbox_t, out *C.cbox_vec_t) C.cbox_result {
	v, r := lib().CopyIdentity(handle.Handle(b))
	if r == cryptobox.Success {
		*out = C.cbox_vec_t(v)
	}
	return result(r)
}

//export cbox_new_prekey
func cbox_new_prekey(b C.cbox_t, id C.uint16_t, out *C.cbox_vec_t) C.cbox_result {
	v, r := lib().NewPrekey(handle.Handle(b), uint16(id))
	if r == cryptobox.Success {
		*out = C.cbox_vec_t(v)
	}
	return result(r)
}

//export cbox_close
func cbox_close(b C.cbox_t) {
	lib().CloseBox(handle.Handle(b))
}

// cbox_random_bytes ignores b; it is kept for callers that always pass
// their box.
//
//export cbox_random_bytes
func cbox_random_bytes(b C.cbox_t, n C.size_t, out *C.cbox_vec_t) C.cbox_result {
	if uint64(n) > math.MaxInt32 {
		return decodeError
	}
	v, r := lib().RandomBytes(int(n))
	if r == cryptobox.Success {
		*out = C.cbox_vec_t(v)
	}
	return result(r)
}

//export cbox_last_prekey_id
func cbox_last_prekey_id() C.uint16_t {
	return C.uint16_t(lib().LastPrekeyID())
}

//export cbox_session_init_from_prekey
func cbox_session_init_from_prekey(b C.cbox_t, sid *C.char, bundle *C.uint8_t, bundleLen C.size_t, out *C.cbox_session_t) C.cbox_result {
	id, ok := goString(sid)
	if !ok {
		return decodeError
	}
	pkb, ok := goBytes(bundle, bundleLen)
	if !ok {
		return decodeError
	}
	s, r := lib().SessionFromPrekey(handle.Handle(b), id, pkb)
	if r == cryptobox.Success {
		*out = C.cbox_session_t(s)
	}
	return result(r)
}

//export cbox_session_init_from_message
func cbox_session_init_from_message(b C.cbox_t, sid *C.char, cipher *C.uint8_t, cipherLen C.size_t, out *C.cbox_session_t, plain *C.cbox_vec_t) C.cbox_result {
	id, ok := goString(sid)
	if !ok {
		return decodeError
	}
	msg, ok := goBytes(cipher, cipherLen)
	if !ok {
		return decodeError
	}
	s, v, r := lib().SessionFromMessage(handle.Handle(b), id, msg)
	if r == cryptobox.Success {
		*out = C.cbox_session_t(s)
		*plain = C.cbox_vec_t(v)
	}
	return result(r)
}

//export cbox_session_get
func cbox_session_get(b C.cbox_t, sid *C.char, out *C.cbox_session_t) C.cbox_result {
	id, ok := goString(sid)
	if !ok {
		return decodeError
	}
	s, r := lib().Session(handle.Handle(b), id)
	if r == cryptobox.Success {
		*out = C.cbox_session_t(s)
	}
	return result(r)
}

// cbox_session_id returns the session id, owned by the session. It is
// valid until cbox_session_close and NULL for an invalid handle.
//
//export cbox_session_id
func cbox_session_id(s C.cbox_session_t) *C.char {
	p, r := lib().SessionID(handle.Handle(s))
	if r != cryptobox.Success {
		return nil
	}
	return (*C.char)(p)
}

//export cbox_session_save
func cbox_session_save(s C.cbox_session_t) C.cbox_result {
	return result(lib().SaveSession(handle.Handle(s)))
}

//export cbox_session_close
func cbox_session_close(s C.cbox_session_t) {
	lib().CloseSession(handle.Handle(s))
}

//export cbox_session_delete
func cbox_session_delete(b C.cbox_t, sid *C.char) C.cbox_result {
	id, ok := goString(sid)
	if !ok {
		return decodeError
	}
	return result(lib().DeleteSession(handle.Handle(b), id))
}

//export cbox_encrypt
func cbox_encrypt(s C.cbox_session_t, plain *C.uint8_t, plainLen C.size_t, out *C.cbox_vec_t) C.cbox_result {
	msg, ok := goBytes(plain, plainLen)
	if !ok {
		return decodeError
	}
	v, r := lib().Encrypt(handle.Handle(s), msg)
	if r == cryptobox.Success {
		*out = C.cbox_vec_t(v)
	}
	return result(r)
}

//export cbox_decrypt
func cbox_decrypt(s C.cbox_session_t, cipher *C.uint8_t, cipherLen C.size_t, out *C.cbox_vec_t) C.cbox_result {
	msg, ok := goBytes(cipher, cipherLen)
	if !ok {
		return decodeError
	}
	v, r := lib().Decrypt(handle.Handle(s), msg)
	if r == cryptobox.Success {
		*out = C.cbox_vec_t(v)
	}
	return result(r)
}

//export cbox_fingerprint_local
func cbox_fingerprint_local(b C.cbox_t, out *C.cbox_vec_t) C.cbox_result {
	v, r := lib().Fingerprint(handle.Handle(b))
	if r == cryptobox.Success {
		*out = C.cbox_vec_t(v)
	}
	return result(r)
}

//export cbox_fingerprint_remote
func cbox_fingerprint_remote(s C.cbox_session_t, out *C.cbox_vec_t) C.cbox_result {
	v, r := lib().RemoteFingerprint(handle.Handle(s))
	if r == cryptobox.Success {
		*out = C.cbox_vec_t(v)
	}
	return result(r)
}

//export cbox_vec_data
func cbox_vec_data(v C.cbox_vec_t) *C.uint8_t {
	return (*C.uint8_t)(lib().VecData(handle.Handle(v)))
}

//export cbox_vec_len
func cbox_vec_len(v C.cbox_vec_t) C.size_t {
	return C.size_t(lib().VecLen(handle.Handle(v)))
}

//export cbox_vec_free
func cbox_vec_free(v C.cbox_vec_t) {
	lib().VecFree(handle.Handle(v))
}

func main() {}
