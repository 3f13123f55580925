package allocator

import (
	"testing"

	"go-malloc/pkg/memlib"

	"github.com/stretchr/testify/require"
)

// With default options the first real block starts right after the 256-byte
// bucket zone, the padding word and the prologue.
const firstBlock = Ptr(reservedSize + 2*dsize)

func newTestAllocator(t *testing.T, maxHeap uint32, opts *Options) *Allocator {
	t.Helper()

	h, err := memlib.New(maxHeap)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, h.Close()) })

	a, err := New(h, opts)
	require.NoError(t, err)
	require.NoError(t, a.Check())
	return a
}

func mustAlloc(t *testing.T, a *Allocator, n uint32) Ptr {
	t.Helper()
	p, err := a.Alloc(n)
	require.NoError(t, err)
	require.NotEqual(t, Nil, p)
	require.NoError(t, a.Check())
	return p
}

func fill(a *Allocator, p Ptr, n uint32, seed byte) {
	buf := a.Payload(p)[:n]
	for i := range buf {
		buf[i] = seed + byte(i*7)
	}
}

func requireFilled(t *testing.T, a *Allocator, p Ptr, n uint32, seed byte) {
	t.Helper()
	buf := a.Payload(p)[:n]
	for i := range buf {
		if buf[i] != seed+byte(i*7) {
			t.Fatalf("payload of %d differs at byte %d: %d != %d", p, i, buf[i], seed+byte(i*7))
		}
	}
}

func bucketMembers(a *Allocator, k int) []Ptr {
	var members []Ptr
	head := a.sentinel(k)
	for bp := a.linkNext(head); bp != head; bp = a.linkNext(bp) {
		members = append(members, bp)
	}
	return members
}

func blocks(a *Allocator) []Block {
	var list []Block
	a.Walk(func(b Block) bool {
		list = append(list, b)
		return true
	})
	return list
}

func freeBlockContaining(a *Allocator, p Ptr) (Block, bool) {
	for _, b := range blocks(a) {
		if !b.Allocated && b.Ptr <= p && p < b.Ptr+Ptr(b.Size) {
			return b, true
		}
	}
	return Block{}, false
}
