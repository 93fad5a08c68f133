package queen

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/gohive/queen/internal/domain"
	"github.com/gohive/queen/internal/hive/meadow"
	"github.com/gohive/queen/internal/hive/notify"
	"github.com/gohive/queen/internal/platform/dbctx"
)

// meadowCallTimeout bounds every meadow driver call made from the garbage
// collector and the scheduler's valley capacity queries, so a single unreachable backend can never stall a scheduling
// cycle (spec.md §5).
const meadowCallTimeout = 30 * time.Second

// NewWorkerParams is create_new_worker's argument bundle (spec.md §4.1).
// Exactly one of ResourceClassID/ResourceClassName should be set; name lookup
// failure is fatal.
type NewWorkerParams struct {
	MeadowType        string
	MeadowName        string
	Host              string
	ProcessID         string
	ResourceClassID   int64
	ResourceClassName string
	// LogDirBase, if non-empty, requests a per-worker log directory
	// hash-fanned under this base.
	LogDirBase string
}

// CreateNewWorker inserts a fresh worker row (spec.md §4.1). Resource class
// lookup miss is fatal and reported as ErrLookupFailed; no partial row is
// left behind since the insert itself is the only write.
func (q *Queen) CreateNewWorker(dbc dbctx.Context, p NewWorkerParams) (*domain.Worker, error) {
	rcID := p.ResourceClassID
	if rcID == 0 {
		if p.ResourceClassName == "" {
			return nil, fmt.Errorf("%w: create_new_worker needs a resource class", ErrLookupFailed)
		}
		rc, err := q.repos.ResourceClass.GetByName(dbc, p.ResourceClassName)
		if err != nil {
			return nil, fmt.Errorf("%w: resource_class %q: %v", ErrLookupFailed, p.ResourceClassName, err)
		}
		rcID = rc.ResourceClassID
	}

	now := time.Now()
	w := &domain.Worker{
		MeadowType:      p.MeadowType,
		MeadowName:      p.MeadowName,
		Host:            p.Host,
		ProcessID:       p.ProcessID,
		ResourceClassID: rcID,
		Born:            now,
		LastCheckIn:     now,
		Status:          domain.WorkerReady,
	}
	if p.LogDirBase != "" {
		w.LogDir = fanOutLogDir(p.LogDirBase, p.ProcessID)
	}

	created, err := q.repos.Worker.Create(dbc, w)
	if err != nil {
		return nil, fmt.Errorf("create_new_worker: insert: %w", err)
	}
	return created, nil
}

// fanOutLogDir spreads per-worker log directories across a two-level hash
// prefix so a long-running hive never piles millions of siblings into one
// directory (spec.md §4.1).
func fanOutLogDir(base, processID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(processID))
	sum := h.Sum32()
	return fmt.Sprintf("%s/%02x/%02x/%s", base, byte(sum), byte(sum>>8), processID)
}

// SpecializeTarget selects which of specialize_new_worker's three paths to
// take. At most one field may be set; more than one is ErrUsage.
type SpecializeTarget struct {
	AnalysisID *int64
	LogicName  string
	JobID      *uint64
}

// SpecializationOutcome distinguishes the two shapes a successful
// specialization can take, modeled as an explicit sum type rather than a
// nullable Job field (spec.md §9, "special batch coupling").
type SpecializationOutcome int

const (
	// Scheduled means the worker was bound to an analysis through the normal
	// accounting path (stats moved to WORKING, num_required_workers
	// decremented).
	Scheduled SpecializationOutcome = iota
	// SpecialBatch means the worker was bound directly to one pre-grabbed
	// job (Path A) and scheduler accounting was bypassed for this job.
	SpecialBatch
)

type SpecializationResult struct {
	Outcome SpecializationOutcome
	Worker  *domain.Worker
	// Job is set iff Outcome == SpecialBatch.
	Job *domain.Job
}

// specializationConflictCauses maps a specialization-conflict sentinel to the
// cause_of_death the worker that attempted it is expected to die with
// (spec.md §7). Lookup failures and usage errors are deliberately absent:
// those are fatal to the call itself, not a worker lifecycle event.
var specializationConflictCauses = map[error]domain.CauseOfDeath{
	ErrHiveOverload:          domain.CauseHiveOverload,
	ErrAnalysisBlocked:       domain.CauseNoWork,
	ErrNoWorkRequired:        domain.CauseNoWork,
	ErrAnalysisDone:          domain.CauseNoWork,
	ErrResourceClassMismatch: domain.CauseUnknown,
	ErrJobInFlight:           domain.CauseUnknown,
	ErrJobNotForceable:       domain.CauseUnknown,
	ErrNoSuitableAnalysis:    domain.CauseNoWork,
}

// SpecializeNewWorker binds worker to exactly one analysis (spec.md §4.1). On
// a specialization-conflict error it also registers the worker's death with
// the corresponding cause, since such a worker has no further use and §7
// expects it to die with that cause — folding that expectation into this
// call keeps the caller from having to remember to do it separately.
func (q *Queen) SpecializeNewWorker(dbc dbctx.Context, worker *domain.Worker, target SpecializeTarget, force bool) (*SpecializationResult, error) {
	given := 0
	if target.AnalysisID != nil {
		given++
	}
	if target.LogicName != "" {
		given++
	}
	if target.JobID != nil {
		given++
	}
	if given > 1 {
		return nil, fmt.Errorf("%w: specialize_new_worker: at most one of analysis_id/logic_name/job_id", ErrUsage)
	}

	var (
		result *SpecializationResult
		err    error
	)
	switch {
	case target.JobID != nil:
		result, err = q.specializeByJob(dbc, worker, *target.JobID, force)
	case target.AnalysisID != nil || target.LogicName != "":
		var analysis *domain.Analysis
		if target.AnalysisID != nil {
			analysis, err = q.repos.Analysis.GetByID(dbc, *target.AnalysisID)
		} else {
			analysis, err = q.repos.Analysis.GetByLogicName(dbc, target.LogicName)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLookupFailed, err)
		}
		result, err = q.specializeToAnalysis(dbc, worker, analysis, force, true)
	default:
		analysis, suggestErr := q.suggestAnalysisToSpecializeByRCID(dbc, worker.ResourceClassID)
		if suggestErr != nil {
			err = suggestErr
		} else {
			result, err = q.specializeToAnalysis(dbc, worker, analysis, force, false)
		}
	}

	if err != nil {
		if cause, ok := specializationConflictCauses[errUnwrapSentinel(err)]; ok {
			_ = q.RegisterWorkerDeath(dbc, worker.WorkerID, cause)
		}
		return nil, err
	}
	return result, nil
}

// errUnwrapSentinel finds which (if any) of this package's sentinel errors
// wraps err, since errors.Is can't be used as a map key lookup directly.
func errUnwrapSentinel(err error) error {
	for sentinel := range specializationConflictCauses {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return nil
}

// specializeByJob is Path A (spec.md §4.1): fetch job, reject if in flight,
// reject if DONE/SEMAPHORED without force, re-increment a semaphore the job
// had decremented if it's being force-rerun from DONE, then atomically claim
// it for worker.
func (q *Queen) specializeByJob(dbc dbctx.Context, worker *domain.Worker, jobID uint64, force bool) (*SpecializationResult, error) {
	job, err := q.repos.Job.GetByID(dbc, jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: job_id=%d: %v", ErrLookupFailed, jobID, err)
	}

	if domain.InFlightJobStatuses[job.Status] {
		return nil, fmt.Errorf("%w: job_id=%d status=%s", ErrJobInFlight, jobID, job.Status)
	}
	if (job.Status == domain.JobDone || job.Status == domain.JobSemaphored) && !force {
		return nil, fmt.Errorf("%w: job_id=%d status=%s", ErrJobNotForceable, jobID, job.Status)
	}

	if job.Status == domain.JobDone && job.SemaphoredJobID != nil {
		if err := q.repos.Job.IncrSemaphoreCount(dbc, *job.SemaphoredJobID, 1); err != nil {
			return nil, fmt.Errorf("specialize_new_worker: re-increment semaphore: %w", err)
		}
	}

	allowed := []domain.JobStatus{domain.JobReady, domain.JobDone, domain.JobSemaphored, domain.JobFailed, domain.JobPassedOn}
	claimed, err := q.repos.Job.ClaimSpecific(dbc, jobID, worker.WorkerID, allowed)
	if err != nil {
		return nil, fmt.Errorf("specialize_new_worker: claim job_id=%d: %w", jobID, err)
	}
	if !claimed {
		return nil, fmt.Errorf("%w: job_id=%d already claimed", ErrJobInFlight, jobID)
	}

	if _, err := q.repos.Worker.Specialize(dbc, worker.WorkerID, job.AnalysisID, domain.WorkerClaimed); err != nil {
		return nil, fmt.Errorf("specialize_new_worker: bind worker to analysis_id=%d: %w", job.AnalysisID, err)
	}
	worker.AnalysisID = &job.AnalysisID
	worker.Status = domain.WorkerClaimed
	job.WorkerID = &worker.WorkerID
	job.Status = domain.JobClaimed

	return &SpecializationResult{Outcome: SpecialBatch, Worker: worker, Job: job}, nil
}

// specializeToAnalysis is Path B (and, with checkRC false, the tail of Path C):
// verify resource class, safe-sync, apply the overload/blocked/no-work/done
// gate unless force, then bind the worker and move the normal scheduler
// accounting forward (spec.md §4.1).
func (q *Queen) specializeToAnalysis(dbc dbctx.Context, worker *domain.Worker, analysis *domain.Analysis, force bool, checkRC bool) (*SpecializationResult, error) {
	if checkRC && analysis.ResourceClassID != worker.ResourceClassID {
		return nil, fmt.Errorf("%w: worker rc=%d analysis rc=%d", ErrResourceClassMismatch, worker.ResourceClassID, analysis.ResourceClassID)
	}

	stats, err := q.SafeSynchronizeAnalysisStats(dbc, analysis.AnalysisID)
	if err != nil {
		return nil, err
	}

	if !force {
		load, err := q.GetHiveCurrentLoad(dbc)
		if err != nil {
			return nil, err
		}
		if load >= q.cfg.OverloadThreshold {
			return nil, fmt.Errorf("%w: hive_current_load=%.3f", ErrHiveOverload, load)
		}
		if stats.Status == domain.AnalysisBlocked {
			return nil, fmt.Errorf("%w: analysis_id=%d", ErrAnalysisBlocked, analysis.AnalysisID)
		}
		if stats.NumRequiredWorkers <= 0 {
			return nil, fmt.Errorf("%w: analysis_id=%d", ErrNoWorkRequired, analysis.AnalysisID)
		}
		if stats.Status == domain.AnalysisDone {
			return nil, fmt.Errorf("%w: analysis_id=%d", ErrAnalysisDone, analysis.AnalysisID)
		}
	}

	if _, err := q.repos.Worker.Specialize(dbc, worker.WorkerID, analysis.AnalysisID, domain.WorkerClaimed); err != nil {
		return nil, fmt.Errorf("specialize_new_worker: bind worker to analysis_id=%d: %w", analysis.AnalysisID, err)
	}
	worker.AnalysisID = &analysis.AnalysisID
	worker.Status = domain.WorkerClaimed

	if err := q.repos.AnalysisStats.UpdateStatus(dbc, analysis.AnalysisID, domain.AnalysisWorking); err != nil {
		return nil, err
	}
	newRequired := stats.NumRequiredWorkers - 1
	if newRequired < 0 {
		newRequired = 0
	}
	if err := q.repos.AnalysisStats.UpdateRequiredWorkers(dbc, analysis.AnalysisID, newRequired); err != nil {
		return nil, err
	}
	if err := q.repos.AnalysisStats.IncrRunningWorkers(dbc, analysis.AnalysisID, 1); err != nil {
		return nil, err
	}

	return &SpecializationResult{Outcome: Scheduled, Worker: worker}, nil
}

// suggestAnalysisToSpecializeByRCID is Path C (spec.md §4.1): iterate
// analyses matching worker's resource class (suitability ordering is
// external; analysis_id ascending stands in for it), safe-syncing each, and
// return the first unblocked one with outstanding required workers.
func (q *Queen) suggestAnalysisToSpecializeByRCID(dbc dbctx.Context, resourceClassID int64) (*domain.Analysis, error) {
	analyses, err := q.repos.Analysis.List(dbc)
	if err != nil {
		return nil, err
	}
	for _, a := range analyses {
		if a.ResourceClassID != resourceClassID {
			continue
		}
		stats, err := q.SafeSynchronizeAnalysisStats(dbc, a.AnalysisID)
		if err != nil {
			return nil, err
		}
		if stats.Status == domain.AnalysisBlocked || stats.Status == domain.AnalysisDone {
			continue
		}
		if stats.NumRequiredWorkers <= 0 {
			continue
		}
		return a, nil
	}
	return nil, fmt.Errorf("%w: resource_class_id=%d", ErrNoSuitableAnalysis, resourceClassID)
}

// CheckInWorker is a single-row, idempotent refresh of last_check_in/status/
// work_done (spec.md §4.1).
func (q *Queen) CheckInWorker(dbc dbctx.Context, workerID uint64, status domain.WorkerStatus, workDone int) error {
	return q.repos.Worker.CheckIn(dbc, workerID, status, workDone, time.Now())
}

// RegisterWorkerDeath is the one-shot terminal transition (spec.md §4.1). A
// second call on an already-dead worker is a no-op on every downstream
// counter (spec.md §8, idempotence invariant): RegisterDeath's guarded update
// reports nothing changed, and this function returns before touching stats.
func (q *Queen) RegisterWorkerDeath(dbc dbctx.Context, workerID uint64, cause domain.CauseOfDeath) error {
	if cause == "" {
		cause = domain.CauseUnknown
	}

	w, err := q.repos.Worker.GetByID(dbc, workerID)
	if err != nil {
		return fmt.Errorf("%w: worker_id=%d: %v", ErrLookupFailed, workerID, err)
	}

	now := time.Now()
	died, err := q.repos.Worker.RegisterDeath(dbc, workerID, cause, now)
	if err != nil {
		return err
	}
	if !died || w.AnalysisID == nil {
		return nil
	}
	analysisID := *w.AnalysisID

	if err := q.repos.AnalysisStats.DecrRunningWorkersFloor0(dbc, analysisID, 1); err != nil {
		return err
	}

	if cause == domain.CauseNoWork {
		if err := q.repos.AnalysisStats.UpdateStatus(dbc, analysisID, domain.AnalysisAllClaimed); err != nil {
			return err
		}
	}

	if domain.ReclaimableCauses[cause] {
		if _, err := q.repos.Job.ReleaseOwnedByWorker(dbc, workerID); err != nil {
			return err
		}
	}

	_ = q.notifier.Publish(dbc.Ctx, notify.Event{
		Kind:       "worker_died",
		WorkerID:   workerID,
		AnalysisID: analysisID,
		Detail:     string(cause),
	})

	stats, err := q.SafeSynchronizeAnalysisStats(dbc, analysisID)
	if err != nil {
		return err
	}
	if stats.Status != domain.AnalysisDone {
		if err := q.repos.AnalysisStats.UpdateRequiredWorkers(dbc, analysisID, stats.NumRequiredWorkers+1); err != nil {
			return err
		}
	}
	return nil
}

// GCSummary reports what one check_for_dead_workers pass found.
type GCSummary struct {
	Unreachable int
	Lost        int
	BuriedInHaste int
}

// CheckForDeadWorkers is the garbage collector (spec.md §4.1): group live
// workers by meadow type, ask each reachable meadow for its live process set,
// and bury whatever is missing. also_check_buried_in_haste additionally
// repairs jobs still owned by an already-DEAD worker, independent of meadow
// state.
func (q *Queen) CheckForDeadWorkers(dbc dbctx.Context, v meadow.Valley, alsoCheckBuriedInHaste bool) (GCSummary, error) {
	var summary GCSummary

	workers, err := q.repos.Worker.ListAlive(dbc)
	if err != nil {
		return summary, err
	}

	byMeadow := make(map[string][]*domain.Worker)
	for _, w := range workers {
		byMeadow[w.MeadowType] = append(byMeadow[w.MeadowType], w)
	}

	for meadowType, ws := range byMeadow {
		driver, ok := v.FindMeadowForWorker(ws[0])
		if !ok {
			q.log.Warn("meadow unreachable, skipping GC for its workers", "meadow_type", meadowType, "worker_count", len(ws))
			summary.Unreachable += len(ws)
			if err := q.repos.MeadowSighting.RecordUnreachable(dbc, meadowType, ws[0].MeadowName, time.Now()); err != nil {
				q.log.Warn("failed to persist meadow unreachable sighting", "meadow_type", meadowType, "error", err)
			}
			continue
		}

		var statusMap map[string]string
		err := meadow.Call(dbc.Ctx, meadow.DefaultRetryPolicy(), meadowCallTimeout, func(ctx context.Context) error {
			m, err := driver.StatusOfAllOurWorkers(ctx)
			statusMap = m
			return err
		})
		if err != nil {
			q.log.Warn("meadow status query failed, treating workers as unreachable", "meadow_type", meadowType, "error", err)
			summary.Unreachable += len(ws)
			if err := q.repos.MeadowSighting.RecordUnreachable(dbc, meadowType, ws[0].MeadowName, time.Now()); err != nil {
				q.log.Warn("failed to persist meadow unreachable sighting", "meadow_type", meadowType, "error", err)
			}
			continue
		}

		var lostPIDs []string
		lostByPID := make(map[string]*domain.Worker, len(ws))
		for _, w := range ws {
			if _, running := statusMap[w.ProcessID]; running {
				continue
			}
			lostPIDs = append(lostPIDs, w.ProcessID)
			lostByPID[w.ProcessID] = w
		}
		if len(lostPIDs) == 0 {
			continue
		}

		causes := map[string]domain.CauseOfDeath{}
		if driver.SupportsFindOutCauses() {
			err := meadow.Call(dbc.Ctx, meadow.DefaultRetryPolicy(), meadowCallTimeout, func(ctx context.Context) error {
				found, err := driver.FindOutCauses(ctx, lostPIDs)
				causes = found
				return err
			})
			if err != nil {
				causes = map[string]domain.CauseOfDeath{}
				q.log.Warn("find_out_causes failed, defaulting to UNKNOWN", "meadow_type", meadowType, "error", err)
			}
		}

		for _, pid := range lostPIDs {
			w := lostByPID[pid]
			cause := causes[pid]
			if cause == "" {
				cause = domain.CauseUnknown
			}
			if err := q.RegisterWorkerDeath(dbc, w.WorkerID, cause); err != nil {
				return summary, fmt.Errorf("check_for_dead_workers: worker_id=%d: %w", w.WorkerID, err)
			}
			summary.Lost++
		}
	}

	if alsoCheckBuriedInHaste {
		n, err := q.repos.Job.BuryOrphaned(dbc)
		if err != nil {
			return summary, err
		}
		summary.BuriedInHaste = int(n)
	}

	return summary, nil
}
