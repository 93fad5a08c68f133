package profiler_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gohive/queen/internal/hive/profiler"
)

func emptyBucket(i int) profiler.Bucket {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * 5 * time.Minute)
	return profiler.Bucket{Start: start, End: start.Add(5 * time.Minute), ByAnalysis: map[int64]float64{}}
}

func activeBucket(i int) profiler.Bucket {
	b := emptyBucket(i)
	b.ByAnalysis[1] = 1.0
	return b
}

func TestCompress_ShortEmptyRunLeftAsIs(t *testing.T) {
	// granularity=5min, skip_no_activity=120min => thresholdBuckets=24, so a
	// run of 3 empty buckets (well under threshold) must not be collapsed.
	buckets := []profiler.Bucket{activeBucket(0), emptyBucket(1), emptyBucket(2), emptyBucket(3), activeBucket(4)}
	out := profiler.Compress(buckets, 5, 120)
	require.Len(t, out, 5, "a short empty run under the skip threshold must not be collapsed")
}

func TestCompress_LongEmptyRunCollapsesToEdgesPlusOneSynthetic(t *testing.T) {
	// thresholdBuckets = ceil(30/5) = 6. A run of 10 empty buckets exceeds
	// it and collapses to 2 kept edge + 1 synthetic + 2 kept edge, flanked
	// by the untouched active buckets on either side.
	buckets := make([]profiler.Bucket, 0, 12)
	buckets = append(buckets, activeBucket(0))
	for i := 1; i <= 10; i++ {
		buckets = append(buckets, emptyBucket(i))
	}
	buckets = append(buckets, activeBucket(11))

	out := profiler.Compress(buckets, 5, 30)
	require.Len(t, out, 1+2+1+2+1, "head active + 2 kept edge + 1 synthetic + 2 kept edge + tail active")

	var collapsedCount int
	for _, b := range out {
		if b.Collapsed {
			collapsedCount++
		}
	}
	require.Equal(t, 1, collapsedCount)
}

func TestCompress_ThresholdBelowTwiceKeepEdgeIsNoOp(t *testing.T) {
	// thresholdBuckets = ceil(10/5) = 2, which is <= keepEdge*2 (4), so
	// Compress must return the buckets unchanged rather than collapsing.
	buckets := make([]profiler.Bucket, 0, 8)
	buckets = append(buckets, activeBucket(0))
	for i := 1; i <= 6; i++ {
		buckets = append(buckets, emptyBucket(i))
	}
	out := profiler.Compress(buckets, 5, 10)
	require.Len(t, out, len(buckets))
}

func TestCompress_NoEmptyRunsIsNoOp(t *testing.T) {
	buckets := []profiler.Bucket{activeBucket(0), activeBucket(1), activeBucket(2)}
	out := profiler.Compress(buckets, 5, 30)
	require.Equal(t, buckets, out)
}
