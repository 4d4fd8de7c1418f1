// Package handle issues opaque 64-bit handles for Go values that are owned by
// a foreign caller. A handle packs a slot index (low 32 bits) with the slot's
// generation (high 32 bits), so a handle that was already removed, or that
// never existed, is reported instead of resolving to a reused slot.
package handle

import "sync"

// Handle is an opaque reference handed across the C boundary. Zero is never
// issued.
type Handle uint64

func pack(idx, gen uint32) Handle { return Handle(uint64(gen)<<32 | uint64(idx)) }

func (h Handle) index() uint32      { return uint32(h) }
func (h Handle) generation() uint32 { return uint32(h >> 32) }

type slot[T any] struct {
	gen   uint32
	live  bool
	value T
}

// Table maps handles to values. It is safe for concurrent use.
type Table[T any] struct {
	mu    sync.Mutex
	slots []slot[T]
	free  []uint32
	n     int
}

// Insert stores v and returns its handle.
func (t *Table[T]) Insert(v T) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		idx = uint32(len(t.slots))
		t.slots = append(t.slots, slot[T]{})
	}
	s := &t.slots[idx]
	s.gen++
	if s.gen == 0 {
		// Generation zero is reserved so Handle(0) never resolves.
		s.gen = 1
	}
	s.live = true
	s.value = v
	t.n++
	return pack(idx, s.gen)
}

func (t *Table[T]) lookup(h Handle) *slot[T] {
	idx := h.index()
	if int(idx) >= len(t.slots) {
		return nil
	}
	s := &t.slots[idx]
	if !s.live || s.gen != h.generation() {
		return nil
	}
	return s
}

// Get returns the value for h. ok is false for unknown or removed handles.
func (t *Table[T]) Get(h Handle) (v T, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s := t.lookup(h); s != nil {
		return s.value, true
	}
	return v, false
}

// Remove deletes h and returns the value it referred to. ok is false for
// unknown or already removed handles, which makes double frees detectable.
func (t *Table[T]) Remove(h Handle) (v T, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.lookup(h)
	if s == nil {
		return v, false
	}
	v = s.value
	var zero T
	s.value = zero
	s.live = false
	t.free = append(t.free, h.index())
	t.n--
	return v, true
}

// Len returns the number of live handles.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

// Each calls fn for every live handle. fn must not call back into t.
func (t *Table[T]) Each(fn func(h Handle, v T)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		if s := &t.slots[i]; s.live {
			fn(pack(uint32(i), s.gen), s.value)
		}
	}
}
