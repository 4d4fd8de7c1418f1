// Package ffi holds the logic behind the libcbox C API. Boxes, sessions and
// buffers cross the boundary as generation-checked handles, every call
// reports a cryptobox.Result, and memory handed to the caller comes from an
// Allocator. A stale or unknown handle is reported as DecodeError instead of
// being dereferenced.
package ffi

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"unsafe"

	cryptobox "github.com/gwillem/cryptobox-go"
	"github.com/gwillem/cryptobox-go/internal/handle"
)

type sessionEntry struct {
	sess *cryptobox.Session
	box  handle.Handle

	mu sync.Mutex
	// cid is the NUL-terminated session id, allocated on first request.
	cid    unsafe.Pointer
	closed bool
}

// cString returns the session id as a C string, allocating it on first use.
// It reports false once the entry has been released.
func (e *sessionEntry) cString(alloc Allocator) (unsafe.Pointer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, false
	}
	if e.cid == nil {
		e.cid = alloc.Alloc(append([]byte(e.sess.ID()), 0))
	}
	return e.cid, true
}

// release frees the session id string. Later cString calls fail.
func (e *sessionEntry) release(alloc Allocator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	if e.cid != nil {
		alloc.Free(e.cid)
		e.cid = nil
	}
}

type vec struct {
	p unsafe.Pointer
	n int
}

// Lib is one instance of the C API. It is safe for concurrent use;
// individual boxes and sessions serialize their own operations.
type Lib struct {
	alloc    Allocator
	logger   *slog.Logger
	boxes    handle.Table[*cryptobox.Box]
	sessions handle.Table[*sessionEntry]
	vecs     handle.Table[vec]
}

// New returns a Lib allocating through alloc. A nil logger discards.
func New(alloc Allocator, logger *slog.Logger) *Lib {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Lib{alloc: alloc, logger: logger}
}

// fail logs a failed call and returns its result.
func (l *Lib) fail(op string, err error) cryptobox.Result {
	r := cryptobox.ResultOf(err)
	level := slog.LevelDebug
	switch r {
	case cryptobox.StorageError, cryptobox.IdentityError:
		level = slog.LevelError
	}
	l.logger.Log(context.Background(), level, "cbox call failed", "op", op, "result", r, "err", err)
	return r
}

func (l *Lib) badHandle(op, kind string, h handle.Handle) cryptobox.Result {
	l.logger.Warn("invalid handle", "op", op, "kind", kind, "handle", uint64(h))
	return cryptobox.DecodeError
}

func (l *Lib) box(op string, h handle.Handle) (*cryptobox.Box, cryptobox.Result) {
	b, ok := l.boxes.Get(h)
	if !ok {
		return nil, l.badHandle(op, "box", h)
	}
	return b, cryptobox.Success
}

func (l *Lib) session(op string, h handle.Handle) (*sessionEntry, cryptobox.Result) {
	e, ok := l.sessions.Get(h)
	if !ok {
		return nil, l.badHandle(op, "session", h)
	}
	if _, ok := l.boxes.Get(e.box); !ok {
		l.logger.Warn("session used after its box was closed", "op", op, "sid", e.sess.ID())
	}
	return e, cryptobox.Success
}

func (l *Lib) newVec(b []byte) handle.Handle {
	return l.vecs.Insert(vec{p: l.alloc.Alloc(b), n: len(b)})
}

// LastPrekeyID returns the reserved last-resort prekey id.
func (l *Lib) LastPrekeyID() uint16 { return cryptobox.LastPrekeyID }
