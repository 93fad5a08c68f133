// Command hiveprofile is the profiler CLI spec.md §6 calls "the one
// user-facing entry in the core": it reads worker activity from the hive
// database over the window given, buckets it into the activity profile, and
// either writes a TSV to stdout or renders a chart to the file named by
// --output. Flag wiring follows the teacher's cobra usage
// (RevCBH-choo/internal/cli/jobs.go: cmd.RunE + cmd.Flags().*Var), adapted
// from a single subcommand to this package's one root command.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gohive/queen/internal/data/db"
	"github.com/gohive/queen/internal/data/repos"
	"github.com/gohive/queen/internal/hive/profiler"
	"github.com/gohive/queen/internal/platform/dbctx"
	"github.com/gohive/queen/internal/platform/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "hiveprofile:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		url             string
		startDate       string
		endDate         string
		granularity     int
		skipNoActivity  int
		top             string
		output          string
	)

	cmd := &cobra.Command{
		Use:   "hiveprofile",
		Short: "Report per-analysis worker activity over a time window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				return fmt.Errorf("--url is required")
			}

			log, err := logger.New("prod")
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer log.Sync()

			svc, err := db.OpenURL(log, url)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}

			opts := profiler.Options{
				GranularityMinutes:    granularity,
				SkipNoActivityMinutes: skipNoActivity,
			}
			if startDate != "" {
				t, err := parseDate(startDate)
				if err != nil {
					return fmt.Errorf("--start_date: %w", err)
				}
				opts.Start = &t
			}
			if endDate != "" {
				t, err := parseDate(endDate)
				if err != nil {
					return fmt.Errorf("--end_date: %w", err)
				}
				opts.End = &t
			}

			r := repos.New(svc.DB(), svc.Dialect(), log)
			dbc := dbctx.Background()

			result, err := profiler.Compute(dbc, r, opts)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			result.Buckets = profiler.Compress(result.Buckets, result.GranularityMinutes, skipNoActivity)

			topSpec, err := parseTopSpec(top)
			if err != nil {
				return fmt.Errorf("--top: %w", err)
			}
			sel := profiler.SelectTop(result.Analyses, topSpec)

			if output == "" {
				return profiler.WriteTSV(os.Stdout, result, sel)
			}
			return profiler.RenderChart(output, result, sel)
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "database connection URL (required)")
	cmd.Flags().StringVar(&startDate, "start_date", "", "RFC3339 start of the activity window (default: earliest worker birth)")
	cmd.Flags().StringVar(&endDate, "end_date", "", "RFC3339 end of the activity window (default: latest worker death, counting a live worker's birth)")
	cmd.Flags().IntVar(&granularity, "granularity", profiler.DefaultGranularityMinutes, "bucket width in minutes")
	cmd.Flags().IntVar(&skipNoActivity, "skip_no_activity", profiler.DefaultSkipNoActivityMinutes, "collapse idle gaps longer than this many minutes")
	cmd.Flags().StringVar(&top, "top", "10", "number of analyses to plot individually, or a fraction < 1 (e.g. 0.9)")
	cmd.Flags().StringVar(&output, "output", "", "output file (extension selects png/svg/jpg/gif); absent writes TSV to stdout")

	return cmd
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q, want RFC3339 or YYYY-MM-DD", s)
}

// parseTopSpec implements spec.md §4.4's "int or fraction" --top: an integer
// selects a fixed count, a value below 1 selects a cumulative-share fraction.
func parseTopSpec(s string) (profiler.TopSpec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return profiler.TopSpec{N: 10}, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return profiler.TopSpec{}, fmt.Errorf("must be positive, got %d", n)
		}
		return profiler.TopSpec{N: n}, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return profiler.TopSpec{}, fmt.Errorf("not an int or float: %q", s)
	}
	if f <= 0 || f >= 1 {
		return profiler.TopSpec{}, fmt.Errorf("fraction must satisfy 0 < f < 1, got %v", f)
	}
	return profiler.TopSpec{Fraction: f}, nil
}
