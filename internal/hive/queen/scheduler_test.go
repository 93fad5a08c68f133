package queen_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gohive/queen/internal/data/repos"
	"github.com/gohive/queen/internal/data/repos/testutil"
	"github.com/gohive/queen/internal/domain"
	"github.com/gohive/queen/internal/hive/meadow"
	"github.com/gohive/queen/internal/hive/notify"
	"github.com/gohive/queen/internal/hive/queen"
	"github.com/gohive/queen/internal/platform/dbctx"
	"github.com/gohive/queen/internal/platform/sqldialect"
)

func TestScheduleWorkers_ComputesRequiredWithinCapacity(t *testing.T) {
	q, r, dbc := newTestQueen(t)
	a := seedAnalysis(t, r, dbc, "ingest", 10, 5)
	seedJobs(t, r, dbc, a.AnalysisID, domain.JobReady, 23)

	slots := map[string]int{"LOCAL": 50}
	pending := map[string]map[string]int{}

	result, err := q.ScheduleWorkers(dbc, nil, 100, slots, pending, "LOCAL")
	require.NoError(t, err)

	require.Equal(t, 5, result.Total, "ceil(23/5)=5, unfulfilled capacity 10 allows all of it")
	require.Equal(t, 5, result.ByMeadowAndRC["LOCAL"]["ingest_rc"])
}

func TestScheduleWorkers_SubtractsPendingLedger(t *testing.T) {
	q, r, dbc := newTestQueen(t)
	a := seedAnalysis(t, r, dbc, "ingest", 10, 5)
	seedJobs(t, r, dbc, a.AnalysisID, domain.JobReady, 23)

	slots := map[string]int{"LOCAL": 50}
	pending := map[string]map[string]int{"LOCAL": {"ingest_rc": 3}}

	result, err := q.ScheduleWorkers(dbc, nil, 100, slots, pending, "LOCAL")
	require.NoError(t, err)

	require.Equal(t, 2, result.Total, "5 required minus 3 already pending in the meadow queue")
}

func TestScheduleWorkers_RespectsSubmitLimit(t *testing.T) {
	q, r, dbc := newTestQueen(t)
	a := seedAnalysis(t, r, dbc, "ingest", 10, 5)
	seedJobs(t, r, dbc, a.AnalysisID, domain.JobReady, 23)

	slots := map[string]int{"LOCAL": 50}
	pending := map[string]map[string]int{}

	result, err := q.ScheduleWorkers(dbc, nil, 2, slots, pending, "LOCAL")
	require.NoError(t, err)

	require.Equal(t, 2, result.Total, "submit_limit of 2 caps the plan even though 5 are required")
}

func TestScheduleWorkers_ZeroSlotsYieldsNothing(t *testing.T) {
	q, r, dbc := newTestQueen(t)
	a := seedAnalysis(t, r, dbc, "ingest", 10, 5)
	seedJobs(t, r, dbc, a.AnalysisID, domain.JobReady, 23)

	slots := map[string]int{"LOCAL": 0}
	pending := map[string]map[string]int{}

	result, err := q.ScheduleWorkers(dbc, nil, 100, slots, pending, "LOCAL")
	require.NoError(t, err)
	require.Zero(t, result.Total)
}

// newTestQueenWithLocalValley mirrors newTestQueen but wires a real Local
// meadow driver into the Valley, since ScheduleWorkersResyncIfNecessary's
// idle-deadlock breaker calls fetchValleyCapacity against it.
func newTestQueenWithLocalValley(t *testing.T) (*queen.Queen, *repos.Repos, dbctx.Context, meadow.Valley) {
	t.Helper()
	log := testutil.Logger(t)
	gdb := testutil.DB(t)
	r := repos.New(gdb, sqldialect.New(sqldialect.SQLite), log)
	local := meadow.NewLocal("local", 50, time.Minute, 2*time.Minute, log)
	valley := meadow.NewStaticValley([]meadow.Driver{local}, "LOCAL", 50, log)
	q := queen.New(gdb, r, valley, notify.NoOp{}, queen.DefaultConfig(), log)
	return q, r, dbctx.Context{Ctx: context.Background(), Tx: gdb}, valley
}

// TestScheduleWorkersResyncIfNecessary_BreaksIdleDeadlock pins down spec.md
// §4.3's worked example #5: stale accounting (num_required_workers left at 0
// by a crashed prior pass) combined with zero load and zero running workers
// must trigger a forced resync rather than returning an empty plan forever.
func TestScheduleWorkersResyncIfNecessary_BreaksIdleDeadlock(t *testing.T) {
	q, r, dbc, valley := newTestQueenWithLocalValley(t)
	a := seedAnalysis(t, r, dbc, "ingest", 10, 5)
	seedJobs(t, r, dbc, a.AnalysisID, domain.JobReady, 23)

	// Force the stats row into a state ScheduleWorkers itself won't re-sync
	// (READY, not LOADING/BLOCKED/ALL_CLAIMED) but whose num_required_workers
	// is stale at 0, simulating a coordinator that crashed before ever
	// running the synchronizer on fresh data.
	require.NoError(t, r.AnalysisStats.UpdateStatus(dbc, a.AnalysisID, domain.AnalysisReady))
	require.NoError(t, r.AnalysisStats.UpdateRequiredWorkers(dbc, a.AnalysisID, 0))

	result, err := q.ScheduleWorkersResyncIfNecessary(dbc, valley, nil, 100, "LOCAL")
	require.NoError(t, err)

	require.Equal(t, 5, result.Total, "forced resync must recompute required_workers from the live job count")
}

func TestScheduleWorkersResyncIfNecessary_NoOpWhenHiveIsBusy(t *testing.T) {
	q, r, dbc, valley := newTestQueenWithLocalValley(t)
	a := seedAnalysis(t, r, dbc, "ingest", 2, 1)

	now := time.Now()
	aid := a.AnalysisID
	_, err := r.Worker.Create(dbc, &domain.Worker{
		MeadowType: "LOCAL", MeadowName: "local", Host: "h", ProcessID: "p",
		ResourceClassID: a.ResourceClassID, AnalysisID: &aid, Born: now, LastCheckIn: now, Status: domain.WorkerRun,
	})
	require.NoError(t, err)

	result, err := q.ScheduleWorkersResyncIfNecessary(dbc, valley, nil, 100, "LOCAL")
	require.NoError(t, err)
	require.Zero(t, result.Total, "a busy hive with no ready work must not trigger the idle-deadlock breaker")
}
