package queen_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gohive/queen/internal/domain"
)

func TestSynchronizeAnalysisStats_ComputesRequiredWorkers(t *testing.T) {
	q, r, dbc := newTestQueen(t)
	a := seedAnalysis(t, r, dbc, "ingest", 10, 5)
	seedJobs(t, r, dbc, a.AnalysisID, domain.JobReady, 23)

	stats, err := q.SynchronizeAnalysisStats(dbc, a.AnalysisID)
	require.NoError(t, err)

	// ceil(23/5) = 5, unfulfilled capacity = 10 - 0 = 10, so required = 5.
	require.Equal(t, 5, stats.NumRequiredWorkers)
	require.Equal(t, 23, stats.ReadyJobCount)
	require.Equal(t, domain.AnalysisReady, stats.Status)
	require.False(t, stats.SyncLock, "synchronize must release the lock it held")
}

func TestSynchronizeAnalysisStats_ClampsToUnfulfilledCapacity(t *testing.T) {
	q, r, dbc := newTestQueen(t)
	a := seedAnalysis(t, r, dbc, "analyze", 3, 1)
	seedJobs(t, r, dbc, a.AnalysisID, domain.JobReady, 100)

	stats, err := q.SynchronizeAnalysisStats(dbc, a.AnalysisID)
	require.NoError(t, err)

	// ceil(100/1)=100, but hive_capacity=3 and num_running_workers=0, so
	// required is clamped to 3 (spec.md §4.2's formula).
	require.Equal(t, 3, stats.NumRequiredWorkers)
}

func TestSynchronizeAnalysisStats_DoneWhenNoReadyJobsRemain(t *testing.T) {
	q, r, dbc := newTestQueen(t)
	a := seedAnalysis(t, r, dbc, "summarize", 5, 1)
	seedJobs(t, r, dbc, a.AnalysisID, domain.JobDone, 4)
	seedJobs(t, r, dbc, a.AnalysisID, domain.JobPassedOn, 1)

	stats, err := q.SynchronizeAnalysisStats(dbc, a.AnalysisID)
	require.NoError(t, err)

	require.Equal(t, domain.AnalysisDone, stats.Status)
	require.Equal(t, 5, stats.DoneJobCount)
	require.Equal(t, 0, stats.NumRequiredWorkers)
}

func TestSafeSynchronizeAnalysisStats_SkipsWhenLockHeldAndFresh(t *testing.T) {
	q, r, dbc := newTestQueen(t)
	a := seedAnalysis(t, r, dbc, "ingest", 5, 1)

	acquired, err := r.AnalysisStats.TryAcquireSyncLock(dbc, a.AnalysisID, time.Now())
	require.NoError(t, err)
	require.True(t, acquired)

	stats, err := q.SafeSynchronizeAnalysisStats(dbc, a.AnalysisID)
	require.NoError(t, err)
	require.True(t, stats.SyncLock, "a fresh lock held by another coordinator must be left alone")
}

func TestSafeSynchronizeAnalysisStats_ReclaimsStaleLock(t *testing.T) {
	q, r, dbc := newTestQueen(t)
	a := seedAnalysis(t, r, dbc, "ingest", 5, 1)
	seedJobs(t, r, dbc, a.AnalysisID, domain.JobReady, 5)

	staleTime := time.Now().Add(-1 * time.Hour)
	acquired, err := r.AnalysisStats.TryAcquireSyncLock(dbc, a.AnalysisID, staleTime)
	require.NoError(t, err)
	require.True(t, acquired)

	stats, err := q.SafeSynchronizeAnalysisStats(dbc, a.AnalysisID)
	require.NoError(t, err)
	require.False(t, stats.SyncLock, "a lock older than SyncLockTTL must be reclaimed and synced")
	require.Equal(t, 5, stats.ReadyJobCount)
}

func TestGetHiveCurrentLoad(t *testing.T) {
	q, r, dbc := newTestQueen(t)
	a := seedAnalysis(t, r, dbc, "ingest", 4, 1)

	load, err := q.GetHiveCurrentLoad(dbc)
	require.NoError(t, err)
	require.Zero(t, load)

	aid := a.AnalysisID
	now := time.Now()
	for i := 0; i < 2; i++ {
		_, err := r.Worker.Create(dbc, &domain.Worker{
			MeadowType: "LOCAL", MeadowName: "local", Host: "h", ProcessID: "p",
			ResourceClassID: 1, AnalysisID: &aid, Born: now, LastCheckIn: now, Status: domain.WorkerRun,
		})
		require.NoError(t, err)
	}

	load, err = q.GetHiveCurrentLoad(dbc)
	require.NoError(t, err)
	require.InDelta(t, 0.5, load, 1e-9, "2 live workers / hive_capacity 4 = 0.5")
}
