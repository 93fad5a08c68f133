package queen_test

import (
	"context"
	"testing"

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

// newTestQueen builds a Queen backed by an isolated in-memory SQLite database
// and a NoOp notifier, the same harness shape testutil gives the repo layer
// (internal/data/repos/testutil), extended here with the Queen's extra
// dependencies (valley, notifier, config).
func newTestQueen(t *testing.T) (*queen.Queen, *repos.Repos, dbctx.Context) {
	t.Helper()
	log := testutil.Logger(t)
	gdb := testutil.DB(t)
	r := repos.New(gdb, sqldialect.New(sqldialect.SQLite), log)
	valley := meadow.NewStaticValley(nil, "LOCAL", 50, log)
	q := queen.New(gdb, r, valley, notify.NoOp{}, queen.DefaultConfig(), log)
	return q, r, dbctx.Context{Ctx: context.Background(), Tx: gdb}
}

func seedAnalysis(t *testing.T, r *repos.Repos, dbc dbctx.Context, logicName string, hiveCapacity, batchSize int) *domain.Analysis {
	t.Helper()
	rc := &domain.ResourceClass{Name: logicName + "_rc"}
	require.NoError(t, r.ResourceClass.Upsert(dbc, rc))

	a := &domain.Analysis{LogicName: logicName, ResourceClassID: rc.ResourceClassID, HiveCapacity: hiveCapacity, BatchSize: batchSize}
	require.NoError(t, r.Analysis.Upsert(dbc, a))

	_, err := r.AnalysisStats.GetOrCreate(dbc, a.AnalysisID)
	require.NoError(t, err)
	return a
}

func seedJobs(t *testing.T, r *repos.Repos, dbc dbctx.Context, analysisID int64, status domain.JobStatus, n int) {
	t.Helper()
	jobs := make([]*domain.Job, n)
	for i := range jobs {
		jobs[i] = &domain.Job{AnalysisID: analysisID, Status: status}
	}
	_, err := r.Job.CreateBatch(dbc, jobs)
	require.NoError(t, err)
}
