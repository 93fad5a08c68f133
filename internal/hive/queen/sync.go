package queen

import (
	"fmt"
	"math"
	"time"

	"github.com/gohive/queen/internal/domain"
	"github.com/gohive/queen/internal/hive/notify"
	"github.com/gohive/queen/internal/platform/dbctx"
)

// SafeSynchronizeAnalysisStats is the guarded entry point (spec.md §4.2). It
// fast-returns the stats row unchanged (no error — contention is not a
// failure) when synchronization is unnecessary or another coordinator already
// holds the lock; otherwise it acquires sync_lock via a conditional update and
// runs SynchronizeAnalysisStats.
func (q *Queen) SafeSynchronizeAnalysisStats(dbc dbctx.Context, analysisID int64) (*domain.AnalysisStats, error) {
	stats, err := q.repos.AnalysisStats.GetByAnalysisID(dbc, analysisID)
	if err != nil {
		return nil, fmt.Errorf("%w: analysis_stats for analysis_id=%d: %v", ErrLookupFailed, analysisID, err)
	}

	now := time.Now()

	if stats.Status == domain.AnalysisDone {
		return stats, nil
	}

	// Check SyncLock before Status: TryAcquireSyncLock always stamps
	// status=SYNCHING alongside the lock, but ReclaimStaleLock only clears
	// the lock, not the status it leaves behind. Checking status==SYNCHING
	// here (instead of, or before, SyncLock) would make a reclaimed-but-
	// still-SYNCHING row un-syncable forever; SynchronizeAnalysisStats below
	// overwrites that stale status once it actually runs.
	if stats.SyncLock {
		reclaimed, err := q.repos.AnalysisStats.ReclaimStaleLock(dbc, analysisID, q.cfg.SyncLockTTL, now)
		if err != nil {
			return nil, err
		}
		if !reclaimed {
			return stats, nil
		}
		_ = q.notifier.Publish(dbc.Ctx, notify.Event{
			Kind:       "sync_lock_reclaimed",
			AnalysisID: analysisID,
			Detail:     "lock exceeded TTL, reclaimed by reaper",
		})
	} else if stats.Status == domain.AnalysisWorking && now.Sub(stats.WhenUpdated) < q.cfg.WorkingGrace {
		return stats, nil
	}

	acquired, err := q.repos.AnalysisStats.TryAcquireSyncLock(dbc, analysisID, now)
	if err != nil {
		return nil, err
	}
	if !acquired {
		// Lost the race to another coordinator; not an error (spec.md §7).
		return stats, nil
	}

	return q.SynchronizeAnalysisStats(dbc, analysisID)
}

// SynchronizeAnalysisStats refreshes one analysis' counts and required-worker
// estimate from the job table, then persists (which releases sync_lock).
// Callers should generally go through SafeSynchronizeAnalysisStats; this is
// exported directly for a beekeeper or test that already holds the lock.
func (q *Queen) SynchronizeAnalysisStats(dbc dbctx.Context, analysisID int64) (*domain.AnalysisStats, error) {
	analysis, err := q.repos.Analysis.GetByID(dbc, analysisID)
	if err != nil {
		return nil, fmt.Errorf("%w: analysis_id=%d: %v", ErrLookupFailed, analysisID, err)
	}

	if err := q.repos.AnalysisStats.RecomputeCounts(dbc, analysisID); err != nil {
		return nil, err
	}

	stats, err := q.repos.AnalysisStats.GetByAnalysisID(dbc, analysisID)
	if err != nil {
		return nil, err
	}

	required := requiredWorkers(analysis.HiveCapacity, stats.ReadyJobCount, analysis.BatchSize, stats.NumRunningWorkers)
	if err := q.repos.AnalysisStats.UpdateRequiredWorkers(dbc, analysisID, required); err != nil {
		return nil, err
	}
	stats.NumRequiredWorkers = required

	newStatus := determineStatus(analysis, stats)
	if err := q.repos.AnalysisStats.UpdateStatus(dbc, analysisID, newStatus); err != nil {
		return nil, err
	}
	stats.Status = newStatus

	if err := q.repos.AnalysisStats.ReleaseSyncLock(dbc, analysisID); err != nil {
		return nil, err
	}
	stats.SyncLock = false
	stats.SyncLockAt = nil

	if newStatus != domain.AnalysisSynching {
		_ = q.notifier.Publish(dbc.Ctx, notify.Event{
			Kind:       "analysis_status_changed",
			AnalysisID: analysisID,
			Detail:     string(newStatus),
		})
	}

	return stats, nil
}

// requiredWorkers implements spec.md §4.2's formula: R = ceil(ready/batch)
// when hive_capacity > 0, else 0; clamped by unfulfilled capacity.
func requiredWorkers(hiveCapacity, readyJobCount, batchSize, numRunningWorkers int) int {
	if hiveCapacity <= 0 || readyJobCount <= 0 {
		return 0
	}
	if batchSize < 1 {
		batchSize = 1
	}
	r := int(math.Ceil(float64(readyJobCount) / float64(batchSize)))

	unfulfilled := hiveCapacity - numRunningWorkers
	if unfulfilled < 0 {
		unfulfilled = 0
	}
	if unfulfilled < r {
		r = unfulfilled
	}
	if r < 0 {
		r = 0
	}
	return r
}

// determineStatus derives READY/WORKING/ALL_CLAIMED/DONE from stats, the
// external "Analysis.determine_status" contract spec.md §4.2 delegates to. A
// BLOCKED analysis stays BLOCKED, and when none of the four rules applies the
// current status is returned unchanged.
func determineStatus(a *domain.Analysis, s *domain.AnalysisStats) domain.AnalysisStatus {
	if s.Status == domain.AnalysisBlocked {
		return domain.AnalysisBlocked
	}
	if s.TotalJobCount > 0 && s.ReadyJobCount == 0 && s.SemaphoredJobCount == 0 && s.NumRunningWorkers == 0 {
		return domain.AnalysisDone
	}
	if s.ReadyJobCount > 0 && s.NumRunningWorkers == 0 && s.NumRequiredWorkers == 0 && a.HiveCapacity > 0 {
		return domain.AnalysisAllClaimed
	}
	if s.NumRunningWorkers > 0 {
		return domain.AnalysisWorking
	}
	if s.ReadyJobCount > 0 {
		return domain.AnalysisReady
	}
	return s.Status
}

// SynchronizeHive iterates every analysis (or just analysisIDs, if non-empty)
// calling SafeSynchronizeAnalysisStats on each, and reports how many were
// BLOCKED vs not — spec.md §4.2's "emits progress: one x per BLOCKED analysis,
// one o per other" translated into a struct instead of stdout chars, since
// this core has no terminal to print to.
type SyncProgress struct {
	Blocked int
	Synced  int
}

func (q *Queen) SynchronizeHive(dbc dbctx.Context, analysisIDs ...int64) (SyncProgress, error) {
	var progress SyncProgress

	ids := analysisIDs
	if len(ids) == 0 {
		all, err := q.repos.Analysis.List(dbc)
		if err != nil {
			return progress, err
		}
		for _, a := range all {
			ids = append(ids, a.AnalysisID)
		}
	}

	for _, id := range ids {
		stats, err := q.SafeSynchronizeAnalysisStats(dbc, id)
		if err != nil {
			return progress, err
		}
		if stats.Status == domain.AnalysisBlocked {
			progress.Blocked++
		} else {
			progress.Synced++
		}
	}
	return progress, nil
}

// GetHiveCurrentLoad returns Σ 1/hive_capacity over every live worker whose
// analysis has hive_capacity > 0 (spec.md §4.2). 1.0 is "full".
func (q *Queen) GetHiveCurrentLoad(dbc dbctx.Context) (float64, error) {
	byAnalysis, err := q.repos.Worker.CountAliveGroupedByAnalysis(dbc)
	if err != nil {
		return 0, err
	}
	if len(byAnalysis) == 0 {
		return 0, nil
	}

	analyses, err := q.repos.Analysis.List(dbc)
	if err != nil {
		return 0, err
	}
	capacityByID := make(map[int64]int, len(analyses))
	for _, a := range analyses {
		capacityByID[a.AnalysisID] = a.HiveCapacity
	}

	var load float64
	for analysisID, count := range byAnalysis {
		capacity := capacityByID[analysisID]
		if capacity <= 0 {
			continue
		}
		load += float64(count) / float64(capacity)
	}
	return load, nil
}
