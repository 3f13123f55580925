package driver

import (
	"slices"

	"go-malloc/pkg/allocator"
	"go-malloc/pkg/trace"
	"go-malloc/util/helpers"

	"github.com/pkg/errors"
)

// ErrInvalid marks a trace run that produced a wrong result. The allocator
// itself kept working; its answer broke a contract the driver checks.
var ErrInvalid = errors.New("invalid allocator result")

type span struct {
	lo, hi uint32
}

// replay runs the operations of one trace against an allocator, tracking the
// block handed out for every id.
type replay struct {
	a     *allocator.Allocator
	ptrs  []allocator.Ptr
	sizes []uint32

	// validation state, unused when validate is off
	validate bool
	check    bool
	live     []span
	payload  uint64
	peak     uint64
}

// newReplay sizes the id tables from the ids the operations use, not from
// the header's declared count.
func newReplay(a *allocator.Allocator, t *trace.Trace, validate, check bool) *replay {
	ids := 0
	for _, op := range t.Ops {
		ids = helpers.Max(ids, op.ID+1)
	}
	return &replay{
		a:        a,
		ptrs:     make([]allocator.Ptr, ids),
		sizes:    make([]uint32, ids),
		validate: validate,
		check:    check,
	}
}

func (r *replay) run(ops []trace.Op) error {
	for i, op := range ops {
		if err := r.step(op); err != nil {
			return errors.Wrapf(err, "op %d (%s id %d size %d)", i, op.Kind, op.ID, op.Size)
		}
		if r.check {
			if err := r.a.Check(); err != nil {
				return errors.Wrapf(err, "op %d", i)
			}
		}
	}
	return nil
}

func (r *replay) step(op trace.Op) error {
	switch op.Kind {
	case trace.Alloc:
		p, err := r.a.Alloc(op.Size)
		if err != nil {
			return err
		}
		return r.placed(op.ID, p, op.Size)

	case trace.Realloc:
		old, oldSize := r.ptrs[op.ID], r.sizes[op.ID]
		if r.validate {
			r.forget(op.ID)
		}
		p, err := r.a.Realloc(old, op.Size)
		if err != nil {
			return err
		}
		if r.validate && p != allocator.Nil {
			if err := r.verify(op.ID, p, helpers.Min(oldSize, op.Size)); err != nil {
				return err
			}
		}
		return r.placed(op.ID, p, op.Size)

	case trace.Free:
		if r.validate {
			if err := r.verify(op.ID, r.ptrs[op.ID], r.sizes[op.ID]); err != nil {
				return err
			}
			r.forget(op.ID)
		}
		r.a.Free(r.ptrs[op.ID])
		r.ptrs[op.ID], r.sizes[op.ID] = allocator.Nil, 0
		return nil
	}
	return errors.Errorf("unknown operation %q", byte(op.Kind))
}

// placed records that id now lives at p. With validation on it checks the
// block against the heap bounds and every other live block, then fills the
// payload with the id's pattern.
func (r *replay) placed(id int, p allocator.Ptr, size uint32) error {
	r.ptrs[id], r.sizes[id] = p, size
	if !r.validate {
		return nil
	}
	if p == allocator.Nil {
		if size != 0 {
			return errors.Wrap(ErrInvalid, "nil block for a non-empty request")
		}
		return nil
	}

	lo, hi := uint32(p), uint32(p)+size
	switch {
	case lo%8 != 0:
		return errors.Wrapf(ErrInvalid, "block %d is not 8-byte aligned", p)
	case hi > r.a.HeapSize() || hi < lo:
		return errors.Wrapf(ErrInvalid, "block [%d, %d) lies outside the heap of %d bytes", lo, hi, r.a.HeapSize())
	}

	i, _ := r.find(lo)
	if i > 0 && r.live[i-1].hi > lo {
		return errors.Wrapf(ErrInvalid, "block [%d, %d) overlaps [%d, %d)", lo, hi, r.live[i-1].lo, r.live[i-1].hi)
	}
	if i < len(r.live) && r.live[i].lo < hi {
		return errors.Wrapf(ErrInvalid, "block [%d, %d) overlaps [%d, %d)", lo, hi, r.live[i].lo, r.live[i].hi)
	}
	if n := len(r.a.Payload(p)); uint32(n) < size {
		return errors.Wrapf(ErrInvalid, "block %d has %d payload bytes, %d requested", p, n, size)
	}
	r.live = slices.Insert(r.live, i, span{lo, hi})

	r.payload += uint64(size)
	r.peak = helpers.Max(r.peak, r.payload)

	buf := r.a.Payload(p)[:size]
	for j := range buf {
		buf[j] = pattern(id, j)
	}
	return nil
}

func (r *replay) forget(id int) {
	p := r.ptrs[id]
	if p == allocator.Nil {
		return
	}
	if i, ok := r.find(uint32(p)); ok {
		r.live = slices.Delete(r.live, i, i+1)
	}
	r.payload -= uint64(r.sizes[id])
}

// find returns the position of the live span starting at lo, or where it
// would be inserted.
func (r *replay) find(lo uint32) (int, bool) {
	return slices.BinarySearchFunc(r.live, lo, func(s span, lo uint32) int {
		switch {
		case s.lo < lo:
			return -1
		case s.lo > lo:
			return 1
		}
		return 0
	})
}

func (r *replay) verify(id int, p allocator.Ptr, n uint32) error {
	if p == allocator.Nil || n == 0 {
		return nil
	}
	payload := r.a.Payload(p)
	if uint32(len(payload)) < n {
		return errors.Wrapf(ErrInvalid, "block %d has %d payload bytes, %d expected", p, len(payload), n)
	}
	buf := payload[:n]
	for j := range buf {
		if buf[j] != pattern(id, j) {
			return errors.Wrapf(ErrInvalid, "payload of id %d at %d changed at byte %d", id, p, j)
		}
	}
	return nil
}

func pattern(id, i int) byte {
	return byte(id*31 + i)
}
