package allocator

import (
	"encoding/binary"
	"fmt"

	"go-malloc/util/helpers"
)

// Every block is framed by two identical boundary tags:
//
//	bp-4          bp                     bp+size-8
//	| header |    payload ...           | footer |
//
// A tag packs the block size (a multiple of 8) with the allocated flag in
// bit 0. Bits 1 and 2 are always zero.

var bin = binary.LittleEndian

// Ptr is the payload address of a block, as a byte offset into the heap.
type Ptr uint32

// Nil is the null address. No payload ever starts at offset 0.
const Nil Ptr = 0

const (
	wsize        = 4
	dsize        = 8
	minBlockSize = 2 * dsize

	allocFlag = 0
	allocBit  = 1 << allocFlag
	sizeMask  = ^uint32(0x7)
)

func pack(size uint32, allocated bool) uint32 {
	if size&^sizeMask != 0 {
		panic(fmt.Sprintf("block size %d is not a multiple of %d", size, dsize))
	}
	tag := size
	helpers.SetBit(&tag, allocFlag, allocated)
	return tag
}

func tagSize(tag uint32) uint32 {
	return tag & sizeMask
}

func tagAllocated(tag uint32) bool {
	return helpers.GetBit(tag, allocFlag)
}

func (a *Allocator) word(off uint32) uint32 {
	return bin.Uint32(a.mem[off : off+wsize])
}

func (a *Allocator) setWord(off uint32, v uint32) {
	bin.PutUint32(a.mem[off:off+wsize], v)
}

func hdrp(bp Ptr) uint32 {
	return uint32(bp) - wsize
}

func (a *Allocator) ftrp(bp Ptr) uint32 {
	return uint32(bp) + a.size(bp) - dsize
}

func (a *Allocator) size(bp Ptr) uint32 {
	return tagSize(a.word(hdrp(bp)))
}

func (a *Allocator) allocated(bp Ptr) bool {
	return tagAllocated(a.word(hdrp(bp)))
}

// setTags writes both tags of the block at bp. The footer position follows
// from the new size, not from whatever the header held before.
func (a *Allocator) setTags(bp Ptr, size uint32, allocated bool) {
	tag := pack(size, allocated)
	a.setWord(hdrp(bp), tag)
	a.setWord(uint32(bp)+size-dsize, tag)
}

func (a *Allocator) next(bp Ptr) Ptr {
	return bp + Ptr(a.size(bp))
}

// prev locates the previous block through its footer, the word just below
// bp's header.
func (a *Allocator) prev(bp Ptr) Ptr {
	return bp - Ptr(tagSize(a.word(uint32(bp)-dsize)))
}

// adjust returns the block size needed to hold n payload bytes.
func adjust(n uint32) uint32 {
	if n <= dsize {
		return minBlockSize
	}
	return dsize * ((n + dsize + (dsize - 1)) / dsize)
}
