package allocator

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

type live struct {
	size uint32
	seed byte
}

func requireDisjoint(t *testing.T, a *Allocator, blocks map[Ptr]live) {
	t.Helper()

	ptrs := make([]Ptr, 0, len(blocks))
	for p := range blocks {
		ptrs = append(ptrs, p)
	}
	sort.Slice(ptrs, func(i, j int) bool { return ptrs[i] < ptrs[j] })

	for i := 1; i < len(ptrs); i++ {
		prevEnd := uint32(ptrs[i-1]) + uint32(len(a.Payload(ptrs[i-1])))
		require.LessOrEqual(t, prevEnd, uint32(ptrs[i]), "blocks %d and %d overlap", ptrs[i-1], ptrs[i])
	}
}

func requireCoalesced(t *testing.T, a *Allocator) {
	t.Helper()
	prevFree := false
	a.Walk(func(b Block) bool {
		require.False(t, prevFree && !b.Allocated, "free block %d follows a free block", b.Ptr)
		prevFree = !b.Allocated
		return true
	})
}

func randomSize(rnd *rand.Rand) uint32 {
	switch rnd.Intn(10) {
	case 0:
		return uint32(rnd.Intn(20000) + 1)
	case 1, 2, 3:
		return uint32(rnd.Intn(1000) + 1)
	}
	return uint32(rnd.Intn(120) + 1)
}

func TestRandomOperations(t *testing.T) {
	for _, order := range []ListOrder{AddressOrdered, LIFO} {
		t.Run(order.String(), func(t *testing.T) {
			a := newTestAllocator(t, 0, &Options{Order: order})
			rnd := rand.New(rand.NewSource(42))
			blocks := map[Ptr]live{}
			ptrs := []Ptr{}

			pick := func() (int, Ptr) {
				i := rnd.Intn(len(ptrs))
				return i, ptrs[i]
			}
			drop := func(i int) {
				ptrs[i] = ptrs[len(ptrs)-1]
				ptrs = ptrs[:len(ptrs)-1]
			}

			for step := 0; step < 3000; step++ {
				op := rnd.Intn(10)
				switch {
				case op < 5 || len(ptrs) == 0:
					n := randomSize(rnd)
					p := mustAlloc(t, a, n)
					_, dup := blocks[p]
					require.False(t, dup, "address %d handed out twice", p)

					seed := byte(step)
					fill(a, p, n, seed)
					blocks[p] = live{n, seed}
					ptrs = append(ptrs, p)

				case op < 8:
					i, p := pick()
					requireFilled(t, a, p, blocks[p].size, blocks[p].seed)
					a.Free(p)
					delete(blocks, p)
					drop(i)

				default:
					i, p := pick()
					old := blocks[p]
					n := randomSize(rnd)

					q, err := a.Realloc(p, n)
					require.NoError(t, err)
					keep := old.size
					if n < keep {
						keep = n
					}
					requireFilled(t, a, q, keep, old.seed)

					delete(blocks, p)
					drop(i)
					seed := byte(step)
					fill(a, q, n, seed)
					blocks[q] = live{n, seed}
					ptrs = append(ptrs, q)
				}

				require.NoError(t, a.Check(), "step %d", step)
				if step%50 == 0 {
					requireDisjoint(t, a, blocks)
					requireCoalesced(t, a)
					for p, l := range blocks {
						requireFilled(t, a, p, l.size, l.seed)
					}
				}
			}

			for _, p := range ptrs {
				a.Free(p)
			}
			require.NoError(t, a.Check())

			all := 0
			a.Walk(func(b Block) bool {
				all++
				require.False(t, b.Allocated)
				return true
			})
			require.Equal(t, 1, all)
		})
	}
}

func TestConservation(t *testing.T) {
	a := newTestAllocator(t, 0, nil)
	rnd := rand.New(rand.NewSource(7))
	overhead := uint32(reservedSize + 4*wsize)

	var ptrs []Ptr
	for i := 0; i < 500; i++ {
		if len(ptrs) > 0 && rnd.Intn(3) == 0 {
			j := rnd.Intn(len(ptrs))
			a.Free(ptrs[j])
			ptrs = append(ptrs[:j], ptrs[j+1:]...)
		} else {
			ptrs = append(ptrs, mustAlloc(t, a, randomSize(rnd)))
		}

		var total uint32
		a.Walk(func(b Block) bool {
			total += b.Size
			return true
		})
		require.Equal(t, a.HeapSize(), total+overhead)
		require.Equal(t, uint64(a.HeapSize()-overhead), a.Stats().ExtendedBytes)
	}
}
