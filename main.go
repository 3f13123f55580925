package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-malloc/config"
	"go-malloc/pkg/driver"
	"go-malloc/util/logger"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	cfg     = config.New()
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "mdriver",
	Short: "Evaluate the segregated-fit allocator against allocation traces",
	Long: `mdriver replays malloc lab traces (.rep, optionally .gz or .zst compressed)
against the allocator, checks every result for alignment, overlap and payload
integrity, and scores space utilization and throughput.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&cfg.Driver.TraceDir, "trace-dir", "t", cfg.Driver.TraceDir, "Directory to read traces from")
	f.StringSliceVarP(&cfg.Driver.TraceFiles, "file", "f", nil, "Evaluate only these trace files")
	f.IntVarP(&cfg.Driver.Parallelism, "jobs", "j", cfg.Driver.Parallelism, "Traces evaluated in parallel")
	f.IntVar(&cfg.Driver.TimingRuns, "runs", cfg.Driver.TimingRuns, "Timed replays per trace, the fastest counts")
	f.Uint32Var(&cfg.Driver.MaxHeap, "max-heap", cfg.Driver.MaxHeap, "Maximum heap size in bytes per trace")
	f.BoolVarP(&cfg.Driver.CheckEveryOp, "check", "c", false, "Check heap consistency after every operation")
	f.DurationVar(&cfg.Driver.ProgressInterval, "progress", 0, "Log progress at this interval (0 disables)")

	f.Uint32Var(&cfg.Allocator.ChunkSize, "chunk", cfg.Allocator.ChunkSize, "Minimum heap extension in bytes")
	f.Uint32Var(&cfg.Allocator.AlignLeftThreshold, "threshold", cfg.Allocator.AlignLeftThreshold, "Blocks below this size are placed at the low end of a free block")
	f.StringVar(&cfg.Allocator.Order, "order", cfg.Allocator.Order, "Free list order: address or lifo")
	f.BoolVar(&cfg.Allocator.CheckHeap, "check-heap", false, "Panic on the first inconsistency found inside the allocator")

	f.StringVarP(&cfg.LogLevel, "log-level", "l", cfg.LogLevel, "Log level (trace, debug, info, warn, error)")
	f.BoolVarP(&verbose, "verbose", "V", false, "Shorthand for --log-level debug")
}

func run(cmd *cobra.Command, _ []string) error {
	if verbose {
		cfg.LogLevel = "debug"
	}
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return err
	}
	if len(cfg.Driver.TraceFiles) > 0 && !cmd.Flags().Changed("trace-dir") {
		cfg.Driver.TraceDir = ""
	}

	opts, err := cfg.Driver.Options(cfg.Allocator)
	if err != nil {
		return err
	}

	log := logger.For("mdriver")
	traces, err := driver.Load(cfg.Driver.TraceDir, cfg.Driver.TraceFiles)
	if err != nil {
		return errors.Wrap(err, "failed to load traces")
	}
	if len(traces) == 0 {
		return errors.Errorf("no traces found in %s", cfg.Driver.TraceDir)
	}
	log.Infof("evaluating %d traces with %d jobs", len(traces), opts.Parallelism)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	results, err := driver.Run(ctx, traces, opts)
	if err != nil {
		return errors.Wrap(err, "evaluation aborted")
	}
	log.Debugf("evaluation took %s", time.Since(start))

	s := driver.Summarize(results)
	if err := driver.Report(os.Stdout, results, s); err != nil {
		return err
	}
	if !s.Valid {
		return errors.New("some traces failed")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
