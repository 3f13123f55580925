package allocator

import (
	"go-malloc/util/helpers"
	"go-malloc/util/logger"

	"github.com/sirupsen/logrus"
)

const (
	DefaultChunkSize          = 1 << 13
	DefaultAlignLeftThreshold = 96
)

// ListOrder is the ordering of blocks inside one free-list bucket.
type ListOrder int

const (
	// AddressOrdered keeps each bucket sorted by ascending address.
	AddressOrdered ListOrder = iota
	// LIFO pushes released blocks at the head of their bucket.
	LIFO
)

func (o ListOrder) String() string {
	switch o {
	case AddressOrdered:
		return "address"
	case LIFO:
		return "lifo"
	}
	return "unknown"
}

// Heap is the growth primitive the allocator manages. Sbrk returns the old
// break; Bytes returns everything below the current break.
type Heap interface {
	Sbrk(incr uint32) (uint32, error)
	Bytes() []byte
}

type Options struct {
	// ChunkSize is the minimum number of bytes requested from the heap on
	// every extension.
	ChunkSize uint32

	// Requests whose adjusted size is below AlignLeftThreshold are carved from
	// the low end of a free block, larger ones from the high end. Zero selects
	// the default; 1 places everything at the high end.
	AlignLeftThreshold uint32

	Order ListOrder

	// CheckHeap runs Check after every mutating call and panics on failure.
	CheckHeap bool

	Logger *logrus.Entry
}

func (o *Options) withDefaults() Options {
	var opts Options
	if o != nil {
		opts = *o
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	opts.ChunkSize = helpers.AlignUp(opts.ChunkSize, dsize)
	if opts.AlignLeftThreshold == 0 {
		opts.AlignLeftThreshold = DefaultAlignLeftThreshold
	}
	if opts.Logger == nil {
		opts.Logger = logger.For("malloc")
	}
	return opts
}
