package config

import (
	"runtime"
	"time"

	"go-malloc/pkg/driver"
	"go-malloc/pkg/memlib"

	"github.com/pkg/errors"
)

type DriverConfig struct {
	TraceDir         string
	TraceFiles       []string
	MaxHeap          uint32
	Parallelism      int
	TimingRuns       int
	CheckEveryOp     bool
	ProgressInterval time.Duration
}

func NewDriverConfig() *DriverConfig {
	return &DriverConfig{
		TraceDir:    "./traces",
		MaxHeap:     memlib.DefaultMaxHeap,
		Parallelism: runtime.NumCPU(),
		TimingRuns:  3,
	}
}

// Options builds driver options around the allocator options of ac.
func (c *DriverConfig) Options(ac *AllocatorConfig) (*driver.Options, error) {
	aopts, err := ac.Options()
	if err != nil {
		return nil, errors.Wrap(err, "invalid allocator config")
	}
	if c.TraceDir == "" && len(c.TraceFiles) == 0 {
		return nil, errors.New("no traces given")
	}
	return &driver.Options{
		Allocator:        aopts,
		MaxHeap:          c.MaxHeap,
		Parallelism:      c.Parallelism,
		TimingRuns:       c.TimingRuns,
		CheckEveryOp:     c.CheckEveryOp,
		ProgressInterval: c.ProgressInterval,
	}, nil
}
