// Package profiler reconstructs historical worker-per-analysis concurrency
// over a time range from birth/death timestamps (spec.md §4.4). It is the
// one user-facing entry point of the core (the `hiveprofile` CLI) and the
// only component here that never touches sync_lock, analysis_stats, or the
// scheduler: it is a read-only report over worker and analysis_base.
package profiler

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/gohive/queen/internal/data/repos"
	"github.com/gohive/queen/internal/platform/dbctx"
)

// DefaultGranularityMinutes matches the CLI's --granularity default
// (spec.md §6).
const DefaultGranularityMinutes = 5

// DefaultSkipNoActivityMinutes matches the CLI's --skip_no_activity default
// (spec.md §6).
const DefaultSkipNoActivityMinutes = 120

// Options configures one profiling pass. Start/End are optional; when either
// is nil, it is derived from MIN(born)/MAX(died) across the worker table
// (spec.md §4.4).
type Options struct {
	Start                 *time.Time
	End                   *time.Time
	GranularityMinutes    int
	SkipNoActivityMinutes int
}

func (o Options) granularity() int {
	if o.GranularityMinutes <= 0 {
		return DefaultGranularityMinutes
	}
	return o.GranularityMinutes
}

func (o Options) skipThreshold() int {
	if o.SkipNoActivityMinutes <= 0 {
		return DefaultSkipNoActivityMinutes
	}
	return o.SkipNoActivityMinutes
}

// Bucket is one [Start, End) window's average concurrent-worker count per
// analysis_id (spec.md §4.4).
type Bucket struct {
	Start      time.Time
	End        time.Time
	ByAnalysis map[int64]float64
	// Collapsed marks a bucket that stands in for a run of empty buckets
	// compressed by the skip-run rule, rather than a real observation.
	Collapsed bool
}

// Empty reports whether every analysis was idle during this bucket. The
// chart renderer draws its "NOTHING" marker when every bucket is Empty
// (spec.md §4.4).
func (b Bucket) Empty() bool {
	for _, v := range b.ByAnalysis {
		if v > 1e-9 {
			return false
		}
	}
	return true
}

// AnalysisTotal is one analysis' aggregate worker-time across every bucket,
// the ranking key for both TSV columns and chart stack order (spec.md §4.4).
type AnalysisTotal struct {
	AnalysisID int64
	LogicName  string
	Total      float64
}

// Result is one completed profiling pass.
type Result struct {
	Start              time.Time
	End                time.Time
	GranularityMinutes int
	Buckets            []Bucket
	// Analyses is sorted by decreasing Total, ties broken by case-insensitive
	// LogicName (spec.md §4.4).
	Analyses []AnalysisTotal
}

// Compute runs the full algorithm in spec.md §4.4: resolve bounds, bucket
// every worker's [born, died) interval, and rank analyses by total
// worker-time. It does not apply skip-run compression or top-N selection —
// those are separate passes (Compress, SelectTop) so a caller can render the
// same Result multiple ways.
func Compute(dbc dbctx.Context, r *repos.Repos, opts Options) (*Result, error) {
	granularity := opts.granularity()
	bucketDur := time.Duration(granularity) * time.Minute

	start, end, err := resolveBounds(dbc, r, opts)
	if err != nil {
		return nil, err
	}
	if !end.After(start) {
		return &Result{Start: start, End: end, GranularityMinutes: granularity}, nil
	}

	intervals, err := r.Worker.ListActivityIntervals(dbc, start, end)
	if err != nil {
		return nil, fmt.Errorf("profiler: list activity intervals: %w", err)
	}

	numBuckets := int(math.Ceil(end.Sub(start).Seconds() / bucketDur.Seconds()))
	buckets := make([]Bucket, numBuckets)
	for i := range buckets {
		buckets[i] = Bucket{
			Start:      start.Add(time.Duration(i) * bucketDur),
			End:        start.Add(time.Duration(i+1) * bucketDur),
			ByAnalysis: map[int64]float64{},
		}
	}

	totals := map[int64]float64{}
	bucketSeconds := bucketDur.Seconds()

	for _, iv := range intervals {
		wStart := iv.Born
		if wStart.Before(start) {
			wStart = start
		}
		wEnd := end
		if iv.Died != nil && iv.Died.Before(end) {
			wEnd = *iv.Died
		}
		if !wEnd.After(wStart) {
			continue
		}

		firstBucket := int(math.Floor(wStart.Sub(start).Seconds() / bucketSeconds))
		lastBucket := int(math.Ceil(wEnd.Sub(start).Seconds()/bucketSeconds)) - 1
		if firstBucket < 0 {
			firstBucket = 0
		}
		if lastBucket >= numBuckets {
			lastBucket = numBuckets - 1
		}

		for i := firstBucket; i <= lastBucket; i++ {
			d1, d2 := buckets[i].Start, buckets[i].End
			overlapStart := maxTime(wStart, d1)
			overlapEnd := minTime(wEnd, d2)
			overlap := overlapEnd.Sub(overlapStart).Seconds()
			if overlap <= 0 {
				continue
			}
			contribution := overlap / bucketSeconds
			buckets[i].ByAnalysis[iv.AnalysisID] += contribution
			totals[iv.AnalysisID] += contribution
		}
	}

	logicNames, err := analysisLogicNames(dbc, r)
	if err != nil {
		return nil, err
	}

	analyses := make([]AnalysisTotal, 0, len(totals))
	for id, total := range totals {
		name := logicNames[id]
		if name == "" {
			name = fmt.Sprintf("analysis_%d", id)
		}
		analyses = append(analyses, AnalysisTotal{AnalysisID: id, LogicName: name, Total: total})
	}
	sortAnalysisTotals(analyses)

	return &Result{
		Start:              start,
		End:                end,
		GranularityMinutes: granularity,
		Buckets:            buckets,
		Analyses:           analyses,
	}, nil
}

func sortAnalysisTotals(a []AnalysisTotal) {
	sort.Slice(a, func(i, j int) bool {
		if a[i].Total != a[j].Total {
			return a[i].Total > a[j].Total
		}
		return strings.ToLower(a[i].LogicName) < strings.ToLower(a[j].LogicName)
	})
}

func analysisLogicNames(dbc dbctx.Context, r *repos.Repos) (map[int64]string, error) {
	all, err := r.Analysis.List(dbc)
	if err != nil {
		return nil, fmt.Errorf("profiler: list analyses: %w", err)
	}
	out := make(map[int64]string, len(all))
	for _, a := range all {
		out[a.AnalysisID] = a.LogicName
	}
	return out, nil
}

func resolveBounds(dbc dbctx.Context, r *repos.Repos, opts Options) (time.Time, time.Time, error) {
	if opts.Start != nil && opts.End != nil {
		return *opts.Start, *opts.End, nil
	}
	minBorn, maxDied, ok, err := r.Worker.BornDiedBounds(dbc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("profiler: born/died bounds: %w", err)
	}
	start := minBorn
	end := maxDied
	if opts.Start != nil {
		start = *opts.Start
	}
	if opts.End != nil {
		end = *opts.End
	}
	if !ok {
		return start, end, nil
	}
	return start, end, nil
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

// Compress applies spec.md §4.4's skip-run rule: a run of consecutive empty
// buckets shorter than skipThresholdMinutes is left as-is; a longer run is
// collapsed to a short head and tail (keepEdge buckets on each side) with a
// single synthetic Collapsed bucket standing in for what was dropped, so a
// quiet weekend doesn't stretch the chart's x-axis to uselessness.
func Compress(buckets []Bucket, granularityMinutes, skipThresholdMinutes int) []Bucket {
	const keepEdge = 2
	if granularityMinutes <= 0 || len(buckets) == 0 {
		return buckets
	}
	thresholdBuckets := int(math.Ceil(float64(skipThresholdMinutes) / float64(granularityMinutes)))
	if thresholdBuckets <= keepEdge*2 {
		return buckets
	}

	out := make([]Bucket, 0, len(buckets))
	i := 0
	for i < len(buckets) {
		if !buckets[i].Empty() {
			out = append(out, buckets[i])
			i++
			continue
		}
		runStart := i
		for i < len(buckets) && buckets[i].Empty() {
			i++
		}
		runLen := i - runStart
		if runLen < thresholdBuckets {
			out = append(out, buckets[runStart:i]...)
			continue
		}

		out = append(out, buckets[runStart:runStart+keepEdge]...)
		out = append(out, Bucket{
			Start:      buckets[runStart+keepEdge].Start,
			End:        buckets[i-keepEdge].Start,
			ByAnalysis: map[int64]float64{},
			Collapsed:  true,
		})
		out = append(out, buckets[i-keepEdge:i]...)
	}
	return out
}
