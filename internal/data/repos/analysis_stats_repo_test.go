package repos

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gohive/queen/internal/data/repos/testutil"
	"github.com/gohive/queen/internal/domain"
	"github.com/gohive/queen/internal/platform/dbctx"
	"github.com/gohive/queen/internal/platform/sqldialect"
)

func newTestRepos(t *testing.T) (*Repos, dbctx.Context) {
	t.Helper()
	log := testutil.Logger(t)
	gdb := testutil.DB(t)
	return New(gdb, sqldialect.New(sqldialect.SQLite), log), dbctx.Context{Ctx: context.Background(), Tx: gdb}
}

func seedAnalysis(t *testing.T, r *Repos, dbc dbctx.Context, logicName string, hiveCapacity, batchSize int) *domain.Analysis {
	t.Helper()
	rc := &domain.ResourceClass{Name: logicName + "_rc"}
	require.NoError(t, r.ResourceClass.Upsert(dbc, rc))
	got, err := r.ResourceClass.GetByName(dbc, rc.Name)
	require.NoError(t, err)

	a := &domain.Analysis{LogicName: logicName, ResourceClassID: got.ResourceClassID, HiveCapacity: hiveCapacity, BatchSize: batchSize}
	require.NoError(t, r.Analysis.Upsert(dbc, a))
	got2, err := r.Analysis.GetByLogicName(dbc, logicName)
	require.NoError(t, err)

	_, err = r.AnalysisStats.GetOrCreate(dbc, got2.AnalysisID)
	require.NoError(t, err)

	return got2
}

// TestRecomputeCounts_DoneFoldsPassedOn pins down the bug fix: done_job_count
// must be DONE + PASSED_ON (spec.md §4.2), and semaphored_job_count must only
// count JobSemaphored, not every in-flight status.
func TestRecomputeCounts_DoneFoldsPassedOn(t *testing.T) {
	r, dbc := newTestRepos(t)
	a := seedAnalysis(t, r, dbc, "ingest", 10, 5)

	jobs := []*domain.Job{
		{AnalysisID: a.AnalysisID, Status: domain.JobReady},
		{AnalysisID: a.AnalysisID, Status: domain.JobReady},
		{AnalysisID: a.AnalysisID, Status: domain.JobSemaphored},
		{AnalysisID: a.AnalysisID, Status: domain.JobDone},
		{AnalysisID: a.AnalysisID, Status: domain.JobPassedOn},
		{AnalysisID: a.AnalysisID, Status: domain.JobFailed},
		{AnalysisID: a.AnalysisID, Status: domain.JobClaimed},
		{AnalysisID: a.AnalysisID, Status: domain.JobRun},
	}
	_, err := r.Job.CreateBatch(dbc, jobs)
	require.NoError(t, err)

	require.NoError(t, r.AnalysisStats.RecomputeCounts(dbc, a.AnalysisID))

	stats, err := r.AnalysisStats.GetByAnalysisID(dbc, a.AnalysisID)
	require.NoError(t, err)

	require.Equal(t, 8, stats.TotalJobCount)
	require.Equal(t, 2, stats.ReadyJobCount)
	require.Equal(t, 1, stats.SemaphoredJobCount, "only SEMAPHORED should count, not every in-flight status")
	require.Equal(t, 2, stats.DoneJobCount, "DONE + PASSED_ON")
	require.Equal(t, 1, stats.FailedJobCount)
}

func TestSyncLock_AcquireReleaseReclaim(t *testing.T) {
	r, dbc := newTestRepos(t)
	a := seedAnalysis(t, r, dbc, "analyze", 5, 1)

	now := time.Now()
	acquired, err := r.AnalysisStats.TryAcquireSyncLock(dbc, a.AnalysisID, now)
	require.NoError(t, err)
	require.True(t, acquired)

	acquiredAgain, err := r.AnalysisStats.TryAcquireSyncLock(dbc, a.AnalysisID, now)
	require.NoError(t, err)
	require.False(t, acquiredAgain, "a second acquire must fail while the lock is held")

	reclaimed, err := r.AnalysisStats.ReclaimStaleLock(dbc, a.AnalysisID, 10*time.Minute, now.Add(time.Minute))
	require.NoError(t, err)
	require.False(t, reclaimed, "lock younger than the TTL must not be reclaimed")

	reclaimed, err = r.AnalysisStats.ReclaimStaleLock(dbc, a.AnalysisID, 10*time.Minute, now.Add(11*time.Minute))
	require.NoError(t, err)
	require.True(t, reclaimed, "lock older than the TTL must be reclaimed")

	require.NoError(t, r.AnalysisStats.ReleaseSyncLock(dbc, a.AnalysisID))
	acquiredAfterRelease, err := r.AnalysisStats.TryAcquireSyncLock(dbc, a.AnalysisID, now.Add(12*time.Minute))
	require.NoError(t, err)
	require.True(t, acquiredAfterRelease)
}
