package repos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gohive/queen/internal/domain"
)

func TestBornDiedBounds(t *testing.T) {
	r, dbc := newTestRepos(t)

	_, _, ok, err := r.Worker.BornDiedBounds(dbc)
	require.NoError(t, err)
	require.False(t, ok, "empty worker table must report ok=false")

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	died1 := base.Add(2 * time.Hour)

	w1, err := r.Worker.Create(dbc, &domain.Worker{
		MeadowType: "LOCAL", MeadowName: "local", Host: "h1", ProcessID: "p1",
		ResourceClassID: 1, Born: base, LastCheckIn: base, Died: &died1, Status: domain.WorkerDead,
	})
	require.NoError(t, err)
	require.NotZero(t, w1.WorkerID)

	laterBorn := base.Add(3 * time.Hour)
	_, err = r.Worker.Create(dbc, &domain.Worker{
		MeadowType: "LOCAL", MeadowName: "local", Host: "h2", ProcessID: "p2",
		ResourceClassID: 1, Born: laterBorn, LastCheckIn: laterBorn, Status: domain.WorkerReady,
	})
	require.NoError(t, err)

	minBorn, maxDied, ok, err := r.Worker.BornDiedBounds(dbc)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, minBorn.Equal(base), "min born should be the earliest worker's birth")
	require.True(t, maxDied.Equal(laterBorn), "a still-alive worker's born stands in for its death in the max")
}

func TestListActivityIntervals(t *testing.T) {
	r, dbc := newTestRepos(t)
	a := seedAnalysis(t, r, dbc, "ingest", 10, 5)

	windowStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	windowEnd := windowStart.Add(4 * time.Hour)

	aid := a.AnalysisID

	// Fully inside the window.
	born1 := windowStart.Add(time.Hour)
	died1 := windowStart.Add(2 * time.Hour)
	_, err := r.Worker.Create(dbc, &domain.Worker{
		MeadowType: "LOCAL", MeadowName: "local", Host: "h1", ProcessID: "p1",
		ResourceClassID: 1, AnalysisID: &aid, Born: born1, LastCheckIn: born1, Died: &died1, Status: domain.WorkerDead,
	})
	require.NoError(t, err)

	// Still alive (died is nil), born before the window ends.
	born2 := windowStart.Add(3 * time.Hour)
	_, err = r.Worker.Create(dbc, &domain.Worker{
		MeadowType: "LOCAL", MeadowName: "local", Host: "h2", ProcessID: "p2",
		ResourceClassID: 1, AnalysisID: &aid, Born: born2, LastCheckIn: born2, Status: domain.WorkerReady,
	})
	require.NoError(t, err)

	// Entirely before the window: died before windowStart, must be excluded.
	bornBefore := windowStart.Add(-3 * time.Hour)
	diedBefore := windowStart.Add(-2 * time.Hour)
	_, err = r.Worker.Create(dbc, &domain.Worker{
		MeadowType: "LOCAL", MeadowName: "local", Host: "h3", ProcessID: "p3",
		ResourceClassID: 1, AnalysisID: &aid, Born: bornBefore, LastCheckIn: bornBefore, Died: &diedBefore, Status: domain.WorkerDead,
	})
	require.NoError(t, err)

	// Entirely after the window: born after windowEnd, must be excluded.
	bornAfter := windowEnd.Add(time.Hour)
	_, err = r.Worker.Create(dbc, &domain.Worker{
		MeadowType: "LOCAL", MeadowName: "local", Host: "h4", ProcessID: "p4",
		ResourceClassID: 1, AnalysisID: &aid, Born: bornAfter, LastCheckIn: bornAfter, Status: domain.WorkerReady,
	})
	require.NoError(t, err)

	// Unspecialized worker (no analysis_id) must never appear.
	_, err = r.Worker.Create(dbc, &domain.Worker{
		MeadowType: "LOCAL", MeadowName: "local", Host: "h5", ProcessID: "p5",
		ResourceClassID: 1, Born: born1, LastCheckIn: born1, Status: domain.WorkerReady,
	})
	require.NoError(t, err)

	intervals, err := r.Worker.ListActivityIntervals(dbc, windowStart, windowEnd)
	require.NoError(t, err)
	require.Len(t, intervals, 2)
	for _, iv := range intervals {
		require.Equal(t, aid, iv.AnalysisID)
	}
}
