// Package memlib models the heap-growth primitive of a process: a region of
// at most MaxHeap bytes whose break only moves upward.
//
// The whole region is reserved with an anonymous mapping when the heap is
// created, so offsets handed out by Sbrk stay valid for the heap's lifetime.
package memlib

import (
	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
)

// DefaultMaxHeap is the default size of the reserved region (20 MiB).
const DefaultMaxHeap = 20 * (1 << 20)

var ErrExhausted = errors.New("heap exhausted")
var ErrClosed = errors.New("heap closed")

func New(maxHeap uint32) (*Heap, error) {
	if maxHeap == 0 {
		maxHeap = DefaultMaxHeap
	}

	mem, err := mmap.MapRegion(nil, int(maxHeap), mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to reserve %d bytes for heap", maxHeap)
	}

	return &Heap{mem: mem, max: maxHeap}, nil
}

type Heap struct {
	mem mmap.MMap
	brk uint32
	max uint32
}

// Sbrk moves the break up by incr bytes and returns the old break, which is
// the offset of the first new byte.
func (h *Heap) Sbrk(incr uint32) (uint32, error) {
	if h.mem == nil {
		return 0, ErrClosed
	}
	if incr > h.max-h.brk {
		return 0, errors.Wrapf(ErrExhausted, "sbrk(%d) with break at %d of %d", incr, h.brk, h.max)
	}

	old := h.brk
	h.brk += incr
	return old, nil
}

// Bytes returns the region between offset 0 and the break.
func (h *Heap) Bytes() []byte {
	return h.mem[:h.brk:h.brk]
}

func (h *Heap) Size() uint32 {
	return h.brk
}

func (h *Heap) Max() uint32 {
	return h.max
}

// Reset moves the break back to zero. Contents are not cleared.
func (h *Heap) Reset() {
	h.brk = 0
}

func (h *Heap) Close() error {
	if h.mem == nil {
		return nil
	}
	err := h.mem.Unmap()
	h.mem = nil
	h.brk = 0
	return errors.Wrap(err, "failed to unmap heap")
}
