package queen

import (
	"context"
	"fmt"
	"math"

	"github.com/gohive/queen/internal/domain"
	"github.com/gohive/queen/internal/hive/meadow"
	"github.com/gohive/queen/internal/platform/dbctx"
)

// ScheduleResult is schedule_workers' return shape: how many workers of which
// resource class to submit to which meadow, plus the grand total (spec.md
// §4.3).
type ScheduleResult struct {
	ByMeadowAndRC map[string]map[string]int
	Total         int
}

func (r *ScheduleResult) add(meadowType, rcName string, n int) {
	if r.ByMeadowAndRC == nil {
		r.ByMeadowAndRC = map[string]map[string]int{}
	}
	if r.ByMeadowAndRC[meadowType] == nil {
		r.ByMeadowAndRC[meadowType] = map[string]int{}
	}
	r.ByMeadowAndRC[meadowType][rcName] += n
	r.Total += n
}

// ScheduleWorkers decides how many workers to submit per (meadow, resource
// class), in candidate-analysis order, against a running available_load
// budget (spec.md §4.3). analysisID restricts to a single analysis; nil means
// every analysis, in analysis_id order, which stands in for the externally
// provided "suitability" ordering this package doesn't itself compute.
// slotsByMeadowType maps meadow_type -> free slots, -1 meaning unbounded.
// pendingByMeadowAndRC maps meadow_type -> resource_class name -> already
// queued worker count; it is read, not mutated — callers pass a fresh map per
// scheduling pass (spec.md "pending ledger" rule).
func (q *Queen) ScheduleWorkers(
	dbc dbctx.Context,
	analysisID *int64,
	submitLimit int,
	slotsByMeadowType map[string]int,
	pendingByMeadowAndRC map[string]map[string]int,
	defaultMeadowType string,
) (ScheduleResult, error) {
	result := ScheduleResult{}

	var candidates []*domain.Analysis
	if analysisID != nil {
		a, err := q.repos.Analysis.GetByID(dbc, *analysisID)
		if err != nil {
			return result, fmt.Errorf("%w: analysis_id=%d: %v", ErrLookupFailed, *analysisID, err)
		}
		candidates = []*domain.Analysis{a}
	} else {
		all, err := q.repos.Analysis.List(dbc)
		if err != nil {
			return result, err
		}
		candidates = all
	}

	hiveLoad, err := q.GetHiveCurrentLoad(dbc)
	if err != nil {
		return result, err
	}
	availableLoad := 1.0 - hiveLoad

	pending := clonePendingLedger(pendingByMeadowAndRC)
	remainingSubmitLimit := submitLimit

	for _, a := range candidates {
		if availableLoad <= 0 {
			break
		}
		if remainingSubmitLimit <= 0 {
			break
		}

		rc, err := q.repos.ResourceClass.GetByID(dbc, a.ResourceClassID)
		if err != nil {
			return result, fmt.Errorf("%w: resource_class_id=%d: %v", ErrLookupFailed, a.ResourceClassID, err)
		}

		meadowType := defaultMeadowType
		slots := slotsByMeadowType[meadowType]
		effectiveLimit := remainingSubmitLimit
		if slots >= 0 && slots < effectiveLimit {
			effectiveLimit = slots
		}
		if effectiveLimit <= 0 {
			break
		}

		stats, err := q.repos.AnalysisStats.GetByAnalysisID(dbc, a.AnalysisID)
		if err != nil {
			return result, err
		}
		if stats.Status == domain.AnalysisLoading || stats.Status == domain.AnalysisBlocked || stats.Status == domain.AnalysisAllClaimed {
			stats, err = q.SafeSynchronizeAnalysisStats(dbc, a.AnalysisID)
			if err != nil {
				return result, err
			}
		}
		if stats.Status == domain.AnalysisBlocked {
			continue
		}

		w := stats.NumRequiredWorkers
		if w == 0 {
			continue
		}

		if w > effectiveLimit {
			w = effectiveLimit
		}
		remainingSubmitLimit -= w

		if a.HiveCapacity > 0 {
			capShare := int(math.Floor(availableLoad * float64(a.HiveCapacity)))
			if w > capShare {
				w = capShare
			}
			availableLoad -= float64(w) / float64(a.HiveCapacity)
		}

		if w > 0 {
			if byRC := pending[meadowType]; byRC != nil {
				if p := byRC[rc.Name]; p > 0 {
					deduct := p
					if deduct > w {
						deduct = w
					}
					w -= deduct
					byRC[rc.Name] = p - deduct
				}
			}
		}

		if w <= 0 {
			continue
		}
		result.add(meadowType, rc.Name, w)
	}

	return result, nil
}

func clonePendingLedger(in map[string]map[string]int) map[string]map[string]int {
	out := make(map[string]map[string]int, len(in))
	for meadowType, byRC := range in {
		cp := make(map[string]int, len(byRC))
		for rc, n := range byRC {
			cp[rc] = n
		}
		out[meadowType] = cp
	}
	return out
}

// ScheduleWorkersResyncIfNecessary wraps ScheduleWorkers with the idle-
// deadlock breaker (spec.md §4.3): if a pass returns nothing, and the hive
// reports zero load and zero running workers, stale accounting may be
// hiding real work — force a GC pass (with the buried-in-haste repair) and a
// full resync, then recompute once more.
func (q *Queen) ScheduleWorkersResyncIfNecessary(
	dbc dbctx.Context,
	v meadow.Valley,
	analysisID *int64,
	submitLimit int,
	defaultMeadowType string,
) (ScheduleResult, error) {
	slots, pending, err := fetchValleyCapacity(dbc, v)
	if err != nil {
		return ScheduleResult{}, err
	}

	result, err := q.ScheduleWorkers(dbc, analysisID, submitLimit, slots, pending, defaultMeadowType)
	if err != nil {
		return result, err
	}
	if result.Total > 0 {
		return result, nil
	}

	load, err := q.GetHiveCurrentLoad(dbc)
	if err != nil {
		return result, err
	}
	running, err := q.repos.Worker.CountAlive(dbc)
	if err != nil {
		return result, err
	}
	if load != 0 || running != 0 {
		return result, nil
	}

	if _, err := q.CheckForDeadWorkers(dbc, v, true); err != nil {
		return result, err
	}
	var ids []int64
	if analysisID != nil {
		ids = []int64{*analysisID}
	}
	if _, err := q.SynchronizeHive(dbc, ids...); err != nil {
		return result, err
	}

	slots, pending, err = fetchValleyCapacity(dbc, v)
	if err != nil {
		return result, err
	}
	return q.ScheduleWorkers(dbc, analysisID, submitLimit, slots, pending, defaultMeadowType)
}

func fetchValleyCapacity(dbc dbctx.Context, v meadow.Valley) (map[string]int, map[string]map[string]int, error) {
	ctx, cancel := context.WithTimeout(dbc.Ctx, meadowCallTimeout)
	defer cancel()
	slots, err := v.AvailableWorkerSlotsByMeadowType(ctx)
	if err != nil {
		return nil, nil, err
	}
	pending, err := v.PendingWorkerCountsByMeadowTypeAndRCName(ctx)
	if err != nil {
		return nil, nil, err
	}
	return slots, pending, nil
}
