package profiler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gohive/queen/internal/data/repos"
	"github.com/gohive/queen/internal/data/repos/testutil"
	"github.com/gohive/queen/internal/domain"
	"github.com/gohive/queen/internal/hive/profiler"
	"github.com/gohive/queen/internal/platform/dbctx"
	"github.com/gohive/queen/internal/platform/sqldialect"
)

func newTestRepos(t *testing.T) (*repos.Repos, dbctx.Context) {
	t.Helper()
	log := testutil.Logger(t)
	gdb := testutil.DB(t)
	return repos.New(gdb, sqldialect.New(sqldialect.SQLite), log), dbctx.Context{Ctx: context.Background(), Tx: gdb}
}

func TestCompute_BucketsConcurrencyAcrossTwoWorkers(t *testing.T) {
	r, dbc := newTestRepos(t)

	a := &domain.Analysis{LogicName: "ingest", HiveCapacity: 5, BatchSize: 1}
	rc := &domain.ResourceClass{Name: "ingest_rc"}
	require.NoError(t, r.ResourceClass.Upsert(dbc, rc))
	a.ResourceClassID = rc.ResourceClassID
	require.NoError(t, r.Analysis.Upsert(dbc, a))
	aid := a.AnalysisID

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	died1 := t0.Add(5 * time.Minute)
	_, err := r.Worker.Create(dbc, &domain.Worker{
		MeadowType: "LOCAL", MeadowName: "local", Host: "h1", ProcessID: "p1",
		ResourceClassID: rc.ResourceClassID, AnalysisID: &aid,
		Born: t0, LastCheckIn: t0, Died: &died1, Status: domain.WorkerDead,
	})
	require.NoError(t, err)

	born2 := t0.Add(5 * time.Minute)
	died2 := t0.Add(10 * time.Minute)
	_, err = r.Worker.Create(dbc, &domain.Worker{
		MeadowType: "LOCAL", MeadowName: "local", Host: "h2", ProcessID: "p2",
		ResourceClassID: rc.ResourceClassID, AnalysisID: &aid,
		Born: born2, LastCheckIn: born2, Died: &died2, Status: domain.WorkerDead,
	})
	require.NoError(t, err)

	end := t0.Add(10 * time.Minute)
	result, err := profiler.Compute(dbc, r, profiler.Options{
		Start:              &t0,
		End:                &end,
		GranularityMinutes: 5,
	})
	require.NoError(t, err)
	require.Len(t, result.Buckets, 2)

	require.InDelta(t, 1.0, result.Buckets[0].ByAnalysis[aid], 1e-9)
	require.InDelta(t, 1.0, result.Buckets[1].ByAnalysis[aid], 1e-9)

	require.Len(t, result.Analyses, 1)
	require.Equal(t, aid, result.Analyses[0].AnalysisID)
	require.InDelta(t, 2.0, result.Analyses[0].Total, 1e-9)
}

func TestCompute_OverlappingWorkersSumWithinOneBucket(t *testing.T) {
	r, dbc := newTestRepos(t)

	a := &domain.Analysis{LogicName: "ingest", HiveCapacity: 5, BatchSize: 1}
	rc := &domain.ResourceClass{Name: "ingest_rc"}
	require.NoError(t, r.ResourceClass.Upsert(dbc, rc))
	a.ResourceClassID = rc.ResourceClassID
	require.NoError(t, r.Analysis.Upsert(dbc, a))
	aid := a.AnalysisID

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := t0.Add(5 * time.Minute)

	for i := 0; i < 3; i++ {
		died := end
		_, err := r.Worker.Create(dbc, &domain.Worker{
			MeadowType: "LOCAL", MeadowName: "local", Host: "h", ProcessID: string(rune('a' + i)),
			ResourceClassID: rc.ResourceClassID, AnalysisID: &aid,
			Born: t0, LastCheckIn: t0, Died: &died, Status: domain.WorkerDead,
		})
		require.NoError(t, err)
	}

	result, err := profiler.Compute(dbc, r, profiler.Options{
		Start:              &t0,
		End:                &end,
		GranularityMinutes: 5,
	})
	require.NoError(t, err)
	require.Len(t, result.Buckets, 1)
	require.InDelta(t, 3.0, result.Buckets[0].ByAnalysis[aid], 1e-9, "3 fully-overlapping workers must sum to 3.0 average concurrency")
}

func TestCompute_EmptyWindowWhenNoWorkers(t *testing.T) {
	r, dbc := newTestRepos(t)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := t0.Add(5 * time.Minute)

	result, err := profiler.Compute(dbc, r, profiler.Options{Start: &t0, End: &end, GranularityMinutes: 5})
	require.NoError(t, err)
	require.Len(t, result.Buckets, 1)
	require.True(t, result.Buckets[0].Empty())
	require.Empty(t, result.Analyses)
}
