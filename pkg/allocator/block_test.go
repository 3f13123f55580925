package allocator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPack(t *testing.T) {
	require.Equal(t, uint32(0x10), pack(16, false))
	require.Equal(t, uint32(0x11), pack(16, true))
	require.Equal(t, uint32(0x1), pack(0, true))

	tag := pack(4096, true)
	require.Equal(t, uint32(4096), tagSize(tag))
	require.True(t, tagAllocated(tag))

	tag = pack(24, false)
	require.Equal(t, uint32(24), tagSize(tag))
	require.False(t, tagAllocated(tag))

	require.Panics(t, func() { pack(20, false) })
	require.Panics(t, func() { pack(7, true) })
}

func TestAdjust(t *testing.T) {
	tests := []struct {
		n, want uint32
	}{
		{1, 16},
		{8, 16},
		{9, 24},
		{16, 24},
		{17, 32},
		{90, 104},
		{100, 112},
		{200, 208},
		{1000, 1008},
		{math.MaxUint32 - 2*dsize, math.MaxUint32 - 7},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, adjust(tt.n), "adjust(%d)", tt.n)
	}
}

func TestNeighbours(t *testing.T) {
	a := newTestAllocator(t, 0, nil)

	p := mustAlloc(t, a, 40)
	q := mustAlloc(t, a, 40)
	require.Equal(t, firstBlock, p)
	require.Equal(t, p+48, q)

	require.Equal(t, uint32(48), a.size(p))
	require.Equal(t, uint32(p)+40, a.ftrp(p))
	require.Equal(t, a.word(hdrp(p)), a.word(a.ftrp(p)))
	require.Equal(t, q, a.next(p))
	require.Equal(t, p, a.prev(q))
	require.Equal(t, a.prologue, a.prev(p))
	require.True(t, a.allocated(a.prologue))
}
