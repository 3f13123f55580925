package config

import (
	"go-malloc/pkg/allocator"

	"github.com/pkg/errors"
)

type AllocatorConfig struct {
	ChunkSize          uint32
	AlignLeftThreshold uint32
	// Order is "address" or "lifo".
	Order     string
	CheckHeap bool
}

func NewAllocatorConfig() *AllocatorConfig {
	return &AllocatorConfig{
		ChunkSize:          allocator.DefaultChunkSize,
		AlignLeftThreshold: allocator.DefaultAlignLeftThreshold,
		Order:              allocator.AddressOrdered.String(),
	}
}

func (c *AllocatorConfig) Options() (allocator.Options, error) {
	opts := allocator.Options{
		ChunkSize:          c.ChunkSize,
		AlignLeftThreshold: c.AlignLeftThreshold,
		CheckHeap:          c.CheckHeap,
	}
	switch c.Order {
	case allocator.AddressOrdered.String():
		opts.Order = allocator.AddressOrdered
	case allocator.LIFO.String():
		opts.Order = allocator.LIFO
	default:
		return opts, errors.Errorf("unknown free list order %q", c.Order)
	}
	return opts, nil
}
