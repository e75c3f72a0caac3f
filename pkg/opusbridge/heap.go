package opusbridge

import "sync"

// arena is a fixed-size linear heap with a first-fit free list. It backs the
// Module heap for the native binding: the native side only ever sees offsets
// into this one buffer, which keeps the alloc/free pairing auditable.
type arena struct {
	mu   sync.Mutex
	buf  []byte
	free []span
}

type span struct {
	off  int32
	size int32
}

const arenaAlign = 8

func newArena(size int32) *arena {
	// Offset 0 is reserved as the null offset, so the first usable byte
	// starts at arenaAlign.
	return &arena{
		buf:  make([]byte, size),
		free: []span{{off: arenaAlign, size: size - arenaAlign}},
	}
}

func (a *arena) Alloc(n int32) int32 {
	if n <= 0 {
		return 0
	}
	n = (n + arenaAlign - 1) &^ (arenaAlign - 1)

	a.mu.Lock()
	defer a.mu.Unlock()

	for i, s := range a.free {
		if s.size < n+arenaAlign {
			continue
		}
		// Carve from the front, keeping the allocation size in the
		// aligned word right before the returned offset.
		off := s.off + arenaAlign
		putSize(a.buf, s.off, n)
		rest := span{off: s.off + arenaAlign + n, size: s.size - arenaAlign - n}
		if rest.size > 0 {
			a.free[i] = rest
		} else {
			a.free = append(a.free[:i], a.free[i+1:]...)
		}
		return off
	}
	return 0
}

func (a *arena) Free(off int32) {
	if off == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	head := off - arenaAlign
	size := getSize(a.buf, head)
	freed := span{off: head, size: size + arenaAlign}

	// Insert sorted by offset, then coalesce with both neighbors.
	i := 0
	for i < len(a.free) && a.free[i].off < freed.off {
		i++
	}
	a.free = append(a.free, span{})
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = freed

	if i+1 < len(a.free) && freed.off+freed.size == a.free[i+1].off {
		a.free[i].size += a.free[i+1].size
		a.free = append(a.free[:i+1], a.free[i+2:]...)
	}
	if i > 0 && a.free[i-1].off+a.free[i-1].size == a.free[i].off {
		a.free[i-1].size += a.free[i].size
		a.free = append(a.free[:i], a.free[i+1:]...)
	}
}

func (a *arena) Heap() []byte {
	return a.buf
}

func putSize(buf []byte, off, n int32) {
	buf[off] = byte(n)
	buf[off+1] = byte(n >> 8)
	buf[off+2] = byte(n >> 16)
	buf[off+3] = byte(n >> 24)
}

func getSize(buf []byte, off int32) int32 {
	return int32(buf[off]) | int32(buf[off+1])<<8 | int32(buf[off+2])<<16 | int32(buf[off+3])<<24
}
