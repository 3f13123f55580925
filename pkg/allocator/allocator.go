// Package allocator implements a segregated-fit malloc/free/realloc over a
// single growable heap region.
//
// Blocks carry boundary tags at both ends, so neighbours can be found from a
// payload address alone and adjacent free blocks are merged on release. Free
// blocks are indexed by power-of-two size class in circular doubly-linked
// lists threaded through their own payload.
//
// An Allocator is not safe for concurrent use.
package allocator

import (
	"math"

	"go-malloc/util/helpers"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// maxRequest keeps adjusted sizes from overflowing 32 bits.
const maxRequest = math.MaxUint32 - 2*dsize

// New lays out the bucket sentinels and the prologue/epilogue on heap and
// extends it by one chunk.
func New(heap Heap, opts *Options) (*Allocator, error) {
	a := &Allocator{
		heap: heap,
		opts: opts.withDefaults(),
	}
	a.log = a.opts.Logger

	if err := a.init(); err != nil {
		return nil, errors.Wrap(err, "failed to init allocator")
	}
	return a, nil
}

type Allocator struct {
	heap Heap
	mem  []byte
	opts Options
	log  *logrus.Entry

	// base is the offset of the reserved zone, prologue is the payload of the
	// 8-byte allocated block that precedes every real block.
	base     Ptr
	prologue Ptr

	stats Stats
}

type Stats struct {
	Allocs          int
	Frees           int
	Reallocs        int
	InPlaceReallocs int
	Extensions      int
	ExtendedBytes   uint64
}

func (a *Allocator) Stats() Stats {
	return a.stats
}

// HeapSize is the number of bytes currently below the heap break.
func (a *Allocator) HeapSize() uint32 {
	return uint32(len(a.mem))
}

// Payload returns the writable payload of the allocated block at p.
func (a *Allocator) Payload(p Ptr) []byte {
	size := a.size(p)
	return a.mem[p : uint32(p)+size-dsize : uint32(p)+size-dsize]
}

// Alloc returns a block with at least size writable payload bytes, aligned
// to 8. A zero size returns Nil and no error.
func (a *Allocator) Alloc(size uint32) (Ptr, error) {
	if size == 0 {
		return Nil, nil
	}
	if size > maxRequest {
		return Nil, errors.Wrapf(ErrOutOfMemory, "request of %d bytes", size)
	}

	bp, err := a.alloc(adjust(size))
	if err != nil {
		return Nil, errors.Wrapf(err, "failed to allocate %d bytes", size)
	}

	a.stats.Allocs++
	a.tracef("alloc(%d) = %d", size, bp)
	a.debugCheck("alloc")
	return bp, nil
}

// Free releases the block at p. Freeing Nil does nothing; freeing anything
// that is not a live block corrupts the heap.
func (a *Allocator) Free(p Ptr) {
	if p == Nil {
		return
	}

	a.release(p)
	a.stats.Frees++
	a.tracef("free(%d)", p)
	a.debugCheck("free")
}

// Realloc resizes the block at p to hold size bytes, moving it only when it
// cannot grow in place. Nil p behaves like Alloc, zero size like Free. On
// error p is left allocated and untouched.
func (a *Allocator) Realloc(p Ptr, size uint32) (Ptr, error) {
	if p == Nil {
		return a.Alloc(size)
	}
	if size == 0 {
		a.Free(p)
		return Nil, nil
	}
	if size > maxRequest {
		return Nil, errors.Wrapf(ErrOutOfMemory, "request of %d bytes", size)
	}

	asize := adjust(size)
	cur := a.size(p)
	delta := int64(asize) - int64(cur)

	bp := p
	switch {
	case delta > 0:
		var err error
		if bp, err = a.grow(p, cur, asize); err != nil {
			return Nil, errors.Wrapf(err, "failed to reallocate %d to %d bytes", p, size)
		}
	case delta > -minBlockSize:
		// the sliver would be too small to become a block of its own
	default:
		a.truncate(p, cur, asize)
	}

	a.stats.Reallocs++
	a.tracef("realloc(%d, %d) = %d", p, size, bp)
	a.debugCheck("realloc")
	return bp, nil
}

func (a *Allocator) init() error {
	start, err := a.sbrk(reservedSize + 4*wsize)
	if err != nil {
		return err
	}
	if start%dsize != 0 {
		return errors.Wrapf(ErrMisalignedHeap, "break at %d", start)
	}

	a.base = Ptr(start)
	a.initBuckets()

	listp := start + reservedSize
	a.setWord(listp, 0)
	a.setWord(listp+wsize, pack(dsize, true))
	a.setWord(listp+2*wsize, pack(dsize, true))
	a.setWord(listp+3*wsize, pack(0, true))
	a.prologue = Ptr(listp + dsize)

	if _, err := a.extendHeap(a.opts.ChunkSize); err != nil {
		return err
	}

	a.log.WithFields(logrus.Fields{
		"chunk":     a.opts.ChunkSize,
		"order":     a.opts.Order,
		"threshold": a.opts.AlignLeftThreshold,
	}).Debug("allocator initialized")
	a.debugCheck("init")
	return nil
}

func (a *Allocator) sbrk(incr uint32) (uint32, error) {
	old, err := a.heap.Sbrk(incr)
	if err != nil {
		return 0, errors.Wrap(ErrOutOfMemory, err.Error())
	}
	a.mem = a.heap.Bytes()
	return old, nil
}

// extendHeap grows the heap by n bytes (rounded up to 8), turns the new space
// into a free block that takes over the old epilogue's header, and merges it
// with a free block right before it.
func (a *Allocator) extendHeap(n uint32) (Ptr, error) {
	size := helpers.AlignUp(n, dsize)
	old, err := a.sbrk(size)
	if err != nil {
		return Nil, err
	}

	bp := Ptr(old)
	a.setTags(bp, size, false)
	a.setWord(hdrp(a.next(bp)), pack(0, true))

	a.stats.Extensions++
	a.stats.ExtendedBytes += uint64(size)
	a.log.WithFields(logrus.Fields{
		"bytes": size,
		"heap":  len(a.mem),
	}).Debug("heap extended")

	return a.coalesce(bp), nil
}

func (a *Allocator) alloc(asize uint32) (Ptr, error) {
	bp, ok := a.findFit(asize)
	if !ok {
		var err error
		if bp, err = a.extendHeap(helpers.Max(asize, a.opts.ChunkSize)); err != nil {
			return Nil, err
		}
	}
	return a.place(bp, asize, asize < a.opts.AlignLeftThreshold), nil
}

// place carves an allocated block of asize bytes out of the free block bp.
// When left is set the allocation takes the low end and the remainder
// trails it, otherwise the remainder keeps bp and the allocation takes the
// high end. A remainder too small for a block is absorbed.
func (a *Allocator) place(bp Ptr, asize uint32, left bool) Ptr {
	size := a.size(bp)
	rsize := size - asize
	if rsize < minBlockSize {
		asize, rsize = size, 0
	}

	a.remove(bp)
	if left {
		a.setTags(bp, asize, true)
		if rsize != 0 {
			rbp := a.next(bp)
			a.setTags(rbp, rsize, false)
			a.insert(rbp)
		}
		return bp
	}

	if rsize != 0 {
		a.setTags(bp, rsize, false)
		a.insert(bp)
		bp = a.next(bp)
	}
	a.setTags(bp, asize, true)
	return bp
}

func (a *Allocator) release(bp Ptr) Ptr {
	a.setTags(bp, a.size(bp), false)
	return a.coalesce(bp)
}

// coalesce merges the free block bp with its free physical neighbours and
// links the result into the index. bp must be tagged free and must not be
// linked yet.
func (a *Allocator) coalesce(bp Ptr) Ptr {
	prev, next := a.prev(bp), a.next(bp)
	prevAlloc, nextAlloc := a.allocated(prev), a.allocated(next)
	size := a.size(bp)

	switch {
	case prevAlloc && nextAlloc:
	case prevAlloc && !nextAlloc:
		a.remove(next)
		size += a.size(next)
		a.setTags(bp, size, false)
	case !prevAlloc && nextAlloc:
		a.remove(prev)
		size += a.size(prev)
		a.setTags(prev, size, false)
		bp = prev
	default:
		a.remove(prev)
		a.remove(next)
		size += a.size(prev) + a.size(next)
		a.setTags(prev, size, false)
		bp = prev
	}

	a.insert(bp)
	return bp
}

// grow enlarges bp from size to asize bytes. The following block is used in
// place when it is free and big enough, otherwise the payload moves.
func (a *Allocator) grow(bp Ptr, size, asize uint32) (Ptr, error) {
	next := a.next(bp)
	if a.allocated(next) || a.size(next) < asize-size {
		return a.move(bp, size, asize)
	}

	nsize := a.size(next)
	a.remove(next)
	if rest := size + nsize - asize; rest >= minBlockSize {
		a.setTags(bp, asize, true)
		rbp := a.next(bp)
		a.setTags(rbp, rest, false)
		a.coalesce(rbp)
	} else {
		a.setTags(bp, size+nsize, true)
	}

	a.stats.InPlaceReallocs++
	return bp, nil
}

// move releases bp first so the search can reuse its space merged with its
// neighbours, then copies the payload to the new block. Releasing overwrites
// the first two payload words with list links, so they are saved and put
// back after placement.
func (a *Allocator) move(bp Ptr, size, asize uint32) (Ptr, error) {
	w0, w1 := a.word(uint32(bp)), a.word(uint32(bp)+wsize)
	freed := a.release(bp)

	nbp, ok := a.findFit(asize)
	if !ok {
		var err error
		if nbp, err = a.extendHeap(helpers.Max(asize, a.opts.ChunkSize)); err != nil {
			a.reclaim(freed, bp, size, w0, w1)
			return Nil, err
		}
	}

	// source and destination may overlap; copy has memmove semantics
	copy(a.mem[uint32(nbp)+dsize:uint32(nbp)+size-dsize], a.mem[uint32(bp)+dsize:uint32(bp)+size-dsize])
	nbp = a.place(nbp, asize, true)
	a.setWord(uint32(nbp), w0)
	a.setWord(uint32(nbp)+wsize, w1)
	return nbp, nil
}

// reclaim undoes the release done by move: the free block freed, which
// contains bp, is split back into its free left part, the allocated block bp
// and its free right part.
func (a *Allocator) reclaim(freed, bp Ptr, size uint32, w0, w1 uint32) {
	end := uint32(freed) + a.size(freed)
	a.remove(freed)

	if left := uint32(bp - freed); left > 0 {
		a.setTags(freed, left, false)
		a.insert(freed)
	}
	a.setTags(bp, size, true)
	a.setWord(uint32(bp), w0)
	a.setWord(uint32(bp)+wsize, w1)

	if right := end - uint32(bp) - size; right > 0 {
		rbp := a.next(bp)
		a.setTags(rbp, right, false)
		a.insert(rbp)
	}
}

// truncate shrinks bp to asize bytes and frees the tail.
func (a *Allocator) truncate(bp Ptr, size, asize uint32) {
	a.setTags(bp, asize, true)
	tail := a.next(bp)
	a.setTags(tail, size-asize, false)
	a.coalesce(tail)
}

func (a *Allocator) tracef(format string, args ...interface{}) {
	if a.log.Logger.IsLevelEnabled(logrus.TraceLevel) {
		a.log.Tracef(format, args...)
	}
}

func (a *Allocator) debugCheck(op string) {
	if !a.opts.CheckHeap {
		return
	}
	if err := a.Check(); err != nil {
		a.log.WithError(err).Errorf("heap check failed after %s", op)
		panic(errors.Wrapf(err, "after %s", op))
	}
}
