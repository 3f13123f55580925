package driver

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/pkg/errors"
)

// Report writes one row per trace followed by the totals and the score.
func Report(w io.Writer, results []Result, s Summary) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "trace\tvalid\tutil\tops\tsecs\tKops\theap\tfree blocks\tlargest free\textends\t")

	for _, r := range results {
		if !r.Valid {
			fmt.Fprintf(tw, "%s\tno\t-\t%d\t-\t-\t-\t-\t-\t-\t\n", r.Name, r.Ops)
			continue
		}
		fmt.Fprintf(tw, "%s\tyes\t%.1f%%\t%d\t%.6f\t%.0f\t%d\t%d\t%d\t%d\t\n",
			r.Name, r.Util*100, r.Ops, r.Elapsed.Seconds(), r.Kops(),
			r.HeapSize, r.FreeBlocks, r.LargestFree, r.Stats.Extensions)
	}
	if err := tw.Flush(); err != nil {
		return errors.Wrap(err, "failed to write report")
	}

	for _, r := range results {
		if !r.Valid {
			fmt.Fprintf(w, "%s: %v\n", r.Name, r.Err)
		}
	}

	if !s.Valid {
		_, err := fmt.Fprintf(w, "\nTerminated with errors in %d traces: no score\n", s.Traces-countValid(results))
		return errors.Wrap(err, "failed to write report")
	}
	_, err := fmt.Fprintf(w, "\nAvg util %.1f%%, %.0f Kops, score %.1f/100\n", s.Util*100, s.Kops, s.Score)
	return errors.Wrap(err, "failed to write report")
}

func countValid(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Valid {
			n++
		}
	}
	return n
}
