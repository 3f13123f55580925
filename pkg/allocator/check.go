package allocator

// Block describes one block found by Walk.
type Block struct {
	Ptr       Ptr
	Size      uint32
	Allocated bool
}

// Walk calls fn for every block between the prologue and the epilogue in
// address order until fn returns false. It trusts the tags; run Check first
// on a heap that may be corrupted.
func (a *Allocator) Walk(fn func(b Block) bool) {
	for bp := a.next(a.prologue); a.size(bp) > 0; bp = a.next(bp) {
		if !fn(Block{Ptr: bp, Size: a.size(bp), Allocated: a.allocated(bp)}) {
			return
		}
	}
}

// Check walks the heap and every free list and reports the first broken
// invariant as an error wrapping ErrInvariantViolation.
func (a *Allocator) Check() error {
	end := uint32(len(a.mem))
	overhead := uint32(a.base) + reservedSize + wsize + dsize + wsize
	if end < overhead {
		return violation("heap of %d bytes is smaller than its fixed overhead", end)
	}

	pro := pack(dsize, true)
	if a.word(hdrp(a.prologue)) != pro || a.word(uint32(a.prologue)) != pro {
		return violation("prologue at %d is damaged", a.prologue)
	}

	var (
		total    uint32
		free     int
		prevFree bool
		bp       = a.next(a.prologue)
	)
	for {
		if hdrp(bp)+wsize > end {
			return violation("block %d runs past the heap end %d", bp, end)
		}
		hdr := a.word(hdrp(bp))
		size := tagSize(hdr)
		if size == 0 {
			break
		}

		switch {
		case uint32(bp)%dsize != 0:
			return violation("block %d is not 8-byte aligned", bp)
		case size < minBlockSize:
			return violation("block %d has size %d below the minimum", bp, size)
		case hdr&^(sizeMask|allocBit) != 0:
			return violation("block %d has reserved tag bits set: %#x", bp, hdr)
		case uint32(bp)+size > end:
			return violation("block %d of size %d runs past the heap end %d", bp, size, end)
		}
		if ftr := a.word(uint32(bp) + size - dsize); ftr != hdr {
			return violation("block %d header %#x differs from footer %#x", bp, hdr, ftr)
		}

		if !tagAllocated(hdr) {
			if prevFree {
				return violation("free block %d follows another free block", bp)
			}
			free++
		}
		prevFree = !tagAllocated(hdr)
		total += size
		bp += Ptr(size)
	}

	if hdrp(bp) != end-wsize || !a.allocated(bp) {
		return violation("epilogue at %d is not the last allocated word of the heap (%d)", hdrp(bp), end)
	}
	if total+overhead != end {
		return violation("blocks cover %d bytes, expected %d", total, end-overhead)
	}

	listed := 0
	for k := 0; k < numBuckets; k++ {
		head := a.sentinel(k)
		prev := head
		for bp := a.linkNext(head); bp != head; bp = a.linkNext(bp) {
			switch {
			case bp <= a.prologue || uint32(bp)+dsize > end:
				return violation("bucket %d links to %d outside the heap", k, bp)
			case a.linkPrev(bp) != prev:
				return violation("bucket %d: block %d prev link %d, expected %d", k, bp, a.linkPrev(bp), prev)
			case a.allocated(bp):
				return violation("bucket %d holds allocated block %d", k, bp)
			case bucketFor(a.size(bp)) != k:
				return violation("bucket %d holds block %d of size %d", k, bp, a.size(bp))
			case a.opts.Order == AddressOrdered && prev != head && bp <= prev:
				return violation("bucket %d is not address ordered at %d", k, bp)
			}

			listed++
			if listed > free {
				return violation("free lists hold more blocks than the heap's %d free blocks", free)
			}
			prev = bp
		}
		if a.linkPrev(head) != prev {
			return violation("bucket %d tail is %d, expected %d", k, a.linkPrev(head), prev)
		}
	}
	if listed != free {
		return violation("free lists hold %d blocks, heap has %d free blocks", listed, free)
	}

	return nil
}
