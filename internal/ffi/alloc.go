package ffi

import (
	"runtime"
	"sync"
	"unsafe"
)

// Allocator provides memory that is handed to the foreign caller. Memory
// returned by Alloc must stay valid, and must not move, until it is passed
// to Free.
type Allocator interface {
	// Alloc returns a copy of b. The result is never nil, even for an
	// empty b.
	Alloc(b []byte) unsafe.Pointer
	Free(p unsafe.Pointer)
}

// GoAllocator hands out pinned Go memory. It serves tests and Go hosts that
// read boundary buffers without a C allocator.
type GoAllocator struct {
	mu   sync.Mutex
	live map[unsafe.Pointer]*runtime.Pinner
}

func NewGoAllocator() *GoAllocator {
	return &GoAllocator{live: make(map[unsafe.Pointer]*runtime.Pinner)}
}

func (a *GoAllocator) Alloc(b []byte) unsafe.Pointer {
	buf := make([]byte, max(len(b), 1))
	copy(buf, b)
	p := unsafe.Pointer(&buf[0])

	pinner := new(runtime.Pinner)
	pinner.Pin(p)

	a.mu.Lock()
	a.live[p] = pinner
	a.mu.Unlock()
	return p
}

func (a *GoAllocator) Free(p unsafe.Pointer) {
	a.mu.Lock()
	pinner, ok := a.live[p]
	delete(a.live, p)
	a.mu.Unlock()
	if ok {
		pinner.Unpin()
	}
}

// Live returns the number of allocations not yet freed.
func (a *GoAllocator) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}
