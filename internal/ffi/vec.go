package ffi

import (
	"unsafe"

	"github.com/gwillem/cryptobox-go/internal/handle"
)

// VecData returns the address of the buffer's bytes, or nil for an invalid
// handle. The memory stays valid until VecFree.
func (l *Lib) VecData(h handle.Handle) unsafe.Pointer {
	v, ok := l.vecs.Get(h)
	if !ok {
		l.badHandle("vec_data", "vec", h)
		return nil
	}
	return v.p
}

// VecLen returns the buffer length, or 0 for an invalid handle.
func (l *Lib) VecLen(h handle.Handle) int {
	v, ok := l.vecs.Get(h)
	if !ok {
		l.badHandle("vec_len", "vec", h)
		return 0
	}
	return v.n
}

// VecBytes returns a Go copy of the buffer.
func (l *Lib) VecBytes(h handle.Handle) ([]byte, bool) {
	v, ok := l.vecs.Get(h)
	if !ok {
		return nil, false
	}
	return append([]byte{}, unsafe.Slice((*byte)(v.p), v.n)...), true
}

// VecFree releases the buffer. Releasing it again is detected and logged.
func (l *Lib) VecFree(h handle.Handle) {
	v, ok := l.vecs.Remove(h)
	if !ok {
		l.logger.Warn("vec released twice or never issued", "handle", uint64(h))
		return
	}
	l.alloc.Free(v.p)
}
