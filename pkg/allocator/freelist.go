package allocator

import "math/bits"

// Free blocks of size [2^k, 2^(k+1)) are kept in bucket k. Bucket k's
// sentinel lives in the reserved zone at base+8k and has the same shape as a
// free block's payload: a next link followed by a prev link. Lists are
// circular, so an empty bucket's sentinel points at itself.
//
//	bp      bp+4
//	| next | prev | ...
const numBuckets = 32

const reservedSize = numBuckets * dsize

func bucketFor(size uint32) int {
	k := bits.Len32(size) - 1
	if k < 0 {
		return 0
	}
	if k >= numBuckets {
		return numBuckets - 1
	}
	return k
}

func (a *Allocator) sentinel(k int) Ptr {
	return a.base + Ptr(k*dsize)
}

func (a *Allocator) linkNext(bp Ptr) Ptr {
	return Ptr(a.word(uint32(bp)))
}

func (a *Allocator) linkPrev(bp Ptr) Ptr {
	return Ptr(a.word(uint32(bp) + wsize))
}

func (a *Allocator) setLinkNext(bp, next Ptr) {
	a.setWord(uint32(bp), uint32(next))
}

func (a *Allocator) setLinkPrev(bp, prev Ptr) {
	a.setWord(uint32(bp)+wsize, uint32(prev))
}

func (a *Allocator) initBuckets() {
	for k := 0; k < numBuckets; k++ {
		s := a.sentinel(k)
		a.setLinkNext(s, s)
		a.setLinkPrev(s, s)
	}
}

// insert links a free block into the bucket matching its current size.
func (a *Allocator) insert(bp Ptr) {
	head := a.sentinel(bucketFor(a.size(bp)))

	at := head
	if a.opts.Order == AddressOrdered {
		for n := a.linkNext(at); n != head && n < bp; n = a.linkNext(at) {
			at = n
		}
	}

	next := a.linkNext(at)
	a.setLinkNext(bp, next)
	a.setLinkPrev(bp, at)
	a.setLinkPrev(next, bp)
	a.setLinkNext(at, bp)
}

func (a *Allocator) remove(bp Ptr) {
	prev, next := a.linkPrev(bp), a.linkNext(bp)
	a.setLinkNext(prev, next)
	a.setLinkPrev(next, prev)
}

// findFit returns the first block of at least asize bytes, starting from
// asize's own bucket and moving to larger ones.
func (a *Allocator) findFit(asize uint32) (Ptr, bool) {
	for k := bucketFor(asize); k < numBuckets; k++ {
		head := a.sentinel(k)
		for bp := a.linkNext(head); bp != head; bp = a.linkNext(bp) {
			if a.size(bp) >= asize {
				return bp, true
			}
		}
	}
	return Nil, false
}
