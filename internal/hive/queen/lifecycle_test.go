package queen_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gohive/queen/internal/data/repos/testutil"
	"github.com/gohive/queen/internal/domain"
	"github.com/gohive/queen/internal/hive/meadow"
	"github.com/gohive/queen/internal/hive/queen"
)

func TestCreateNewWorker_ByResourceClassName(t *testing.T) {
	q, r, dbc := newTestQueen(t)
	a := seedAnalysis(t, r, dbc, "ingest", 5, 1)
	rc, err := r.ResourceClass.GetByID(dbc, a.ResourceClassID)
	require.NoError(t, err)

	w, err := q.CreateNewWorker(dbc, queen.NewWorkerParams{
		MeadowType: "LOCAL", MeadowName: "local", Host: "h1", ProcessID: "p1",
		ResourceClassName: rc.Name,
	})
	require.NoError(t, err)
	require.NotZero(t, w.WorkerID)
	require.Equal(t, domain.WorkerReady, w.Status)
	require.Nil(t, w.AnalysisID, "a freshly created worker is not yet specialized")
}

func TestCreateNewWorker_UnknownResourceClassName(t *testing.T) {
	q, _, dbc := newTestQueen(t)
	_, err := q.CreateNewWorker(dbc, queen.NewWorkerParams{
		MeadowType: "LOCAL", MeadowName: "local", Host: "h1", ProcessID: "p1",
		ResourceClassName: "nope",
	})
	require.ErrorIs(t, err, queen.ErrLookupFailed)
}

func TestSpecializeNewWorker_PathB_BindsAndDecrementsRequired(t *testing.T) {
	q, r, dbc := newTestQueen(t)
	a := seedAnalysis(t, r, dbc, "ingest", 5, 1)
	seedJobs(t, r, dbc, a.AnalysisID, domain.JobReady, 5)

	rc, err := r.ResourceClass.GetByID(dbc, a.ResourceClassID)
	require.NoError(t, err)
	w, err := q.CreateNewWorker(dbc, queen.NewWorkerParams{
		MeadowType: "LOCAL", MeadowName: "local", Host: "h1", ProcessID: "p1",
		ResourceClassName: rc.Name,
	})
	require.NoError(t, err)

	result, err := q.SpecializeNewWorker(dbc, w, queen.SpecializeTarget{AnalysisID: &a.AnalysisID}, false)
	require.NoError(t, err)
	require.Equal(t, queen.Scheduled, result.Outcome)
	require.Equal(t, a.AnalysisID, *result.Worker.AnalysisID)
	require.Equal(t, domain.WorkerClaimed, result.Worker.Status)

	stats, err := r.AnalysisStats.GetByAnalysisID(dbc, a.AnalysisID)
	require.NoError(t, err)
	require.Equal(t, domain.AnalysisWorking, stats.Status)
	require.Equal(t, 1, stats.NumRunningWorkers)
	require.Equal(t, 4, stats.NumRequiredWorkers)
}

func TestSpecializeNewWorker_PathB_NoWorkRequiredWithoutForce(t *testing.T) {
	q, r, dbc := newTestQueen(t)
	a := seedAnalysis(t, r, dbc, "ingest", 5, 1)
	// No jobs seeded: required_workers stays 0 after safe-sync.

	rc, err := r.ResourceClass.GetByID(dbc, a.ResourceClassID)
	require.NoError(t, err)
	w, err := q.CreateNewWorker(dbc, queen.NewWorkerParams{
		MeadowType: "LOCAL", MeadowName: "local", Host: "h1", ProcessID: "p1",
		ResourceClassName: rc.Name,
	})
	require.NoError(t, err)

	_, err = q.SpecializeNewWorker(dbc, w, queen.SpecializeTarget{AnalysisID: &a.AnalysisID}, false)
	require.ErrorIs(t, err, queen.ErrNoWorkRequired)

	// The conflict must have registered the worker's death with NO_WORK.
	dead, err := r.Worker.GetByID(dbc, w.WorkerID)
	require.NoError(t, err)
	require.False(t, dead.IsAlive())
	require.Equal(t, domain.CauseNoWork, dead.CauseOfDeath)
}

func TestSpecializeNewWorker_PathA_SpecialBatch(t *testing.T) {
	q, r, dbc := newTestQueen(t)
	a := seedAnalysis(t, r, dbc, "ingest", 5, 1)
	jobs := []*domain.Job{{AnalysisID: a.AnalysisID, Status: domain.JobReady}}
	_, err := r.Job.CreateBatch(dbc, jobs)
	require.NoError(t, err)
	jobID := jobs[0].JobID

	rc, err := r.ResourceClass.GetByID(dbc, a.ResourceClassID)
	require.NoError(t, err)
	w, err := q.CreateNewWorker(dbc, queen.NewWorkerParams{
		MeadowType: "LOCAL", MeadowName: "local", Host: "h1", ProcessID: "p1",
		ResourceClassName: rc.Name,
	})
	require.NoError(t, err)

	result, err := q.SpecializeNewWorker(dbc, w, queen.SpecializeTarget{JobID: &jobID}, false)
	require.NoError(t, err)
	require.Equal(t, queen.SpecialBatch, result.Outcome)
	require.Equal(t, jobID, result.Job.JobID)
	require.Equal(t, domain.JobClaimed, result.Job.Status)
}

func TestSpecializeNewWorker_PathA_RejectsInFlight(t *testing.T) {
	q, r, dbc := newTestQueen(t)
	a := seedAnalysis(t, r, dbc, "ingest", 5, 1)
	jobs := []*domain.Job{{AnalysisID: a.AnalysisID, Status: domain.JobRun}}
	_, err := r.Job.CreateBatch(dbc, jobs)
	require.NoError(t, err)
	jobID := jobs[0].JobID

	rc, err := r.ResourceClass.GetByID(dbc, a.ResourceClassID)
	require.NoError(t, err)
	w, err := q.CreateNewWorker(dbc, queen.NewWorkerParams{
		MeadowType: "LOCAL", MeadowName: "local", Host: "h1", ProcessID: "p1",
		ResourceClassName: rc.Name,
	})
	require.NoError(t, err)

	_, err = q.SpecializeNewWorker(dbc, w, queen.SpecializeTarget{JobID: &jobID}, false)
	require.ErrorIs(t, err, queen.ErrJobInFlight)
}

func TestSpecializeNewWorker_UsageErrorOnMultipleTargets(t *testing.T) {
	q, r, dbc := newTestQueen(t)
	a := seedAnalysis(t, r, dbc, "ingest", 5, 1)
	rc, err := r.ResourceClass.GetByID(dbc, a.ResourceClassID)
	require.NoError(t, err)
	w, err := q.CreateNewWorker(dbc, queen.NewWorkerParams{
		MeadowType: "LOCAL", MeadowName: "local", Host: "h1", ProcessID: "p1",
		ResourceClassName: rc.Name,
	})
	require.NoError(t, err)

	jobID := uint64(1)
	_, err = q.SpecializeNewWorker(dbc, w, queen.SpecializeTarget{AnalysisID: &a.AnalysisID, JobID: &jobID}, false)
	require.ErrorIs(t, err, queen.ErrUsage)
}

func TestCheckInWorker_RefreshesLastCheckIn(t *testing.T) {
	q, r, dbc := newTestQueen(t)
	a := seedAnalysis(t, r, dbc, "ingest", 5, 1)
	rc, err := r.ResourceClass.GetByID(dbc, a.ResourceClassID)
	require.NoError(t, err)
	w, err := q.CreateNewWorker(dbc, queen.NewWorkerParams{
		MeadowType: "LOCAL", MeadowName: "local", Host: "h1", ProcessID: "p1",
		ResourceClassName: rc.Name,
	})
	require.NoError(t, err)

	require.NoError(t, q.CheckInWorker(dbc, w.WorkerID, domain.WorkerRun, 3))

	got, err := r.Worker.GetByID(dbc, w.WorkerID)
	require.NoError(t, err)
	require.Equal(t, domain.WorkerRun, got.Status)
	require.Equal(t, 3, got.WorkDone)
}

func TestRegisterWorkerDeath_ReleasesJobsOnReclaimableCause(t *testing.T) {
	q, r, dbc := newTestQueen(t)
	a := seedAnalysis(t, r, dbc, "ingest", 5, 1)
	seedJobs(t, r, dbc, a.AnalysisID, domain.JobReady, 5)

	rc, err := r.ResourceClass.GetByID(dbc, a.ResourceClassID)
	require.NoError(t, err)
	w, err := q.CreateNewWorker(dbc, queen.NewWorkerParams{
		MeadowType: "LOCAL", MeadowName: "local", Host: "h1", ProcessID: "p1",
		ResourceClassName: rc.Name,
	})
	require.NoError(t, err)
	_, err = q.SpecializeNewWorker(dbc, w, queen.SpecializeTarget{AnalysisID: &a.AnalysisID}, false)
	require.NoError(t, err)

	job, err := r.Job.ClaimNextForWorker(dbc, a.AnalysisID, w.WorkerID)
	require.NoError(t, err)
	require.NotNil(t, job)
	changed, err := r.Job.UpdateStatus(dbc, job.JobID, nil, domain.JobRun)
	require.NoError(t, err)
	require.True(t, changed)

	require.NoError(t, q.RegisterWorkerDeath(dbc, w.WorkerID, domain.CauseMemlimit))

	dead, err := r.Worker.GetByID(dbc, w.WorkerID)
	require.NoError(t, err)
	require.False(t, dead.IsAlive())
	require.Equal(t, domain.CauseMemlimit, dead.CauseOfDeath)

	owned, err := r.Job.ListOwnedByWorker(dbc, w.WorkerID)
	require.NoError(t, err)
	require.Empty(t, owned, "a reclaimable-cause death must release every job the worker held")

	released, err := r.Job.GetByID(dbc, job.JobID)
	require.NoError(t, err)
	require.Equal(t, domain.JobReady, released.Status)
	require.Nil(t, released.WorkerID)

	stats, err := r.AnalysisStats.GetByAnalysisID(dbc, a.AnalysisID)
	require.NoError(t, err)
	require.Equal(t, 0, stats.NumRunningWorkers)
}

func TestCheckForDeadWorkers_ReleasesJobOfLostWorker(t *testing.T) {
	q, r, dbc := newTestQueen(t)
	a := seedAnalysis(t, r, dbc, "ingest", 5, 1)
	seedJobs(t, r, dbc, a.AnalysisID, domain.JobReady, 1)

	rc, err := r.ResourceClass.GetByID(dbc, a.ResourceClassID)
	require.NoError(t, err)
	w, err := q.CreateNewWorker(dbc, queen.NewWorkerParams{
		MeadowType: "LOCAL", MeadowName: "local", Host: "h1", ProcessID: "p1",
		ResourceClassName: rc.Name,
	})
	require.NoError(t, err)
	_, err = q.SpecializeNewWorker(dbc, w, queen.SpecializeTarget{AnalysisID: &a.AnalysisID}, false)
	require.NoError(t, err)

	job, err := r.Job.ClaimNextForWorker(dbc, a.AnalysisID, w.WorkerID)
	require.NoError(t, err)
	require.NotNil(t, job)
	changed, err := r.Job.UpdateStatus(dbc, job.JobID, nil, domain.JobRun)
	require.NoError(t, err)
	require.True(t, changed)

	// A Local meadow with nothing submitted reports no processes running at
	// all, so w's process_id "p1" is absent from StatusOfAllOurWorkers —
	// exactly spec.md §8 scenario 3's "meadow reports w.pid absent" setup.
	log := testutil.Logger(t)
	local := meadow.NewLocal("local", 10, time.Second, 2*time.Second, log)
	valley := meadow.NewStaticValley([]meadow.Driver{local}, "LOCAL", 50, log)

	summary, err := q.CheckForDeadWorkers(dbc, valley, false)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Lost)
	require.Zero(t, summary.Unreachable)

	dead, err := r.Worker.GetByID(dbc, w.WorkerID)
	require.NoError(t, err)
	require.False(t, dead.IsAlive())
	require.Equal(t, domain.CauseUnknown, dead.CauseOfDeath, "Local doesn't support find_out_causes, so UNKNOWN is the default")

	released, err := r.Job.GetByID(dbc, job.JobID)
	require.NoError(t, err)
	require.Equal(t, domain.JobReady, released.Status)
	require.Nil(t, released.WorkerID)
}

func TestRegisterWorkerDeath_IsIdempotent(t *testing.T) {
	q, r, dbc := newTestQueen(t)
	a := seedAnalysis(t, r, dbc, "ingest", 5, 1)
	rc, err := r.ResourceClass.GetByID(dbc, a.ResourceClassID)
	require.NoError(t, err)
	w, err := q.CreateNewWorker(dbc, queen.NewWorkerParams{
		MeadowType: "LOCAL", MeadowName: "local", Host: "h1", ProcessID: "p1",
		ResourceClassName: rc.Name,
	})
	require.NoError(t, err)

	require.NoError(t, q.RegisterWorkerDeath(dbc, w.WorkerID, domain.CauseUnknown))
	require.NoError(t, q.RegisterWorkerDeath(dbc, w.WorkerID, domain.CauseUnknown), "a second call on an already-dead worker must be a no-op, not an error")
}
