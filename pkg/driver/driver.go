// Package driver replays allocation traces against the allocator, validates
// every result and scores space utilization and throughput.
package driver

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"go-malloc/pkg/allocator"
	"go-malloc/pkg/memlib"
	"go-malloc/pkg/trace"
	"go-malloc/util/helpers"
	"go-malloc/util/logger"
	"go-malloc/util/timer"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// UtilWeight is the share of the score given to space utilization, the
	// rest goes to throughput.
	UtilWeight = 0.60
	// ReferenceKops is the throughput that earns the full throughput share.
	ReferenceKops = 600.0
)

type Options struct {
	Allocator allocator.Options
	// MaxHeap bounds every trace's heap, 0 means memlib.DefaultMaxHeap.
	MaxHeap uint32
	// Parallelism is the number of traces evaluated at once.
	Parallelism int
	// TimingRuns is how many times each trace is replayed for throughput;
	// the fastest run counts.
	TimingRuns int
	// CheckEveryOp runs the allocator's consistency check after every
	// operation of the validation run.
	CheckEveryOp bool
	// ProgressInterval enables periodic progress logging when positive.
	ProgressInterval time.Duration
	Logger           *logrus.Entry
}

func (o *Options) withDefaults() Options {
	opts := Options{}
	if o != nil {
		opts = *o
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	if opts.TimingRuns < 1 {
		opts.TimingRuns = 1
	}
	if opts.Logger == nil {
		opts.Logger = logger.For("driver")
	}
	return opts
}

type Result struct {
	Name   string
	Weight int
	Ops    int

	// Valid is false when the allocator failed or returned a wrong result;
	// Err then says why and the measurements below are not filled in.
	Valid bool
	Err   error

	Util        float64
	PeakPayload uint64
	HeapSize    uint32
	Elapsed     time.Duration

	// free blocks left in the heap after the last operation
	FreeBlocks  int
	LargestFree uint32

	Stats allocator.Stats
}

// Kops is the throughput in thousands of operations per second.
func (r Result) Kops() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Ops) / r.Elapsed.Seconds() / 1e3
}

// Evaluate replays t once with validation to measure utilization and then
// TimingRuns more times without it to measure throughput. Each replay gets a
// fresh heap. The error is set only when the heap itself cannot be set up.
func Evaluate(t *trace.Trace, opts *Options) (Result, error) {
	o := opts.withDefaults()
	res := Result{Name: t.Name, Weight: t.Weight, Ops: len(t.Ops)}

	heap, err := memlib.New(o.MaxHeap)
	if err != nil {
		return res, errors.Wrap(err, "failed to create heap")
	}
	defer closeHeap(heap, o.Logger.WithField("trace", t.Name))

	aopts := o.Allocator
	if aopts.Logger == nil {
		aopts.Logger = logger.For("malloc")
	}
	aopts.Logger = aopts.Logger.WithField("trace", t.Name)

	a, err := allocator.New(heap, &aopts)
	if err != nil {
		res.Err = err
		return res, nil
	}
	r := newReplay(a, t, true, o.CheckEveryOp)
	if res.Err = r.run(t.Ops); res.Err != nil {
		return res, nil
	}

	res.HeapSize = a.HeapSize()
	res.PeakPayload = r.peak
	res.Util = float64(r.peak) / float64(res.HeapSize)
	res.Stats = a.Stats()
	a.Walk(func(b allocator.Block) bool {
		if !b.Allocated {
			res.FreeBlocks++
			res.LargestFree = helpers.Max(res.LargestFree, b.Size)
		}
		return true
	})

	aopts.CheckHeap = false
	res.Elapsed, res.Err = timer.Measure(o.TimingRuns, func() error {
		heap.Reset()
		a, err := allocator.New(heap, &aopts)
		if err != nil {
			return err
		}
		return newReplay(a, t, false, false).run(t.Ops)
	})
	res.Valid = res.Err == nil
	return res, nil
}

func closeHeap(heap io.Closer, log *logrus.Entry) {
	if err := heap.Close(); err != nil {
		log.WithError(err).Error("failed to release heap")
	}
}

// Run evaluates traces in parallel and returns their results in the same
// order. Invalid traces do not stop the run; a failure to set up a heap or a
// cancelled ctx does.
func Run(ctx context.Context, traces []*trace.Trace, opts *Options) ([]Result, error) {
	o := opts.withDefaults()
	results := make([]Result, len(traces))

	var done int32
	if o.ProgressInterval > 0 {
		stop := timer.SetInterval(o.ProgressInterval, func() {
			o.Logger.Infof("%d/%d traces evaluated", atomic.LoadInt32(&done), len(traces))
		})
		defer stop()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.Parallelism)
	for i, t := range traces {
		i, t := i, t
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			res, err := Evaluate(t, &o)
			if err != nil {
				return errors.Wrapf(err, "trace %s", t.Name)
			}
			results[i] = res
			atomic.AddInt32(&done, 1)

			log := o.Logger.WithField("trace", t.Name)
			if !res.Valid {
				log.WithError(res.Err).Warn("trace failed")
				return nil
			}
			log.WithFields(logrus.Fields{
				"util": res.Util,
				"kops": res.Kops(),
				"heap": res.HeapSize,
			}).Info("trace evaluated")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Load opens every trace in dir, then every file in files. A missing dir
// entry or an unparsable trace is an error. Traces from dir come in name
// order.
func Load(dir string, files []string) ([]*trace.Trace, error) {
	var paths []string
	if dir != "" {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read trace directory")
		}
		for _, e := range entries {
			if !e.IsDir() && trace.IsTrace(e.Name()) {
				paths = append(paths, filepath.Join(dir, e.Name()))
			}
		}
		sort.Strings(paths)
	}
	paths = append(paths, files...)

	traces := make([]*trace.Trace, 0, len(paths))
	for _, path := range paths {
		t, err := trace.Open(path)
		if err != nil {
			return nil, err
		}
		traces = append(traces, t)
	}
	return traces, nil
}

type Summary struct {
	Traces int
	Valid  bool
	Util   float64
	Kops   float64
	Score  float64
}

// Summarize averages utilization and totals throughput over the traces with
// a positive weight. The score is 0 if any trace is invalid.
func Summarize(results []Result) Summary {
	s := Summary{Traces: len(results), Valid: true}

	var (
		util    float64
		weights int
		ops     int
		elapsed time.Duration
	)
	for _, r := range results {
		if !r.Valid {
			s.Valid = false
			continue
		}
		if r.Weight <= 0 {
			continue
		}
		util += r.Util * float64(r.Weight)
		weights += r.Weight
		ops += r.Ops * r.Weight
		elapsed += r.Elapsed * time.Duration(r.Weight)
	}

	if weights > 0 {
		s.Util = util / float64(weights)
	}
	if elapsed > 0 {
		s.Kops = float64(ops) / elapsed.Seconds() / 1e3
	}
	if s.Valid {
		s.Score = 100 * (UtilWeight*s.Util + (1-UtilWeight)*helpers.Min(s.Kops/ReferenceKops, 1))
	}
	return s
}
