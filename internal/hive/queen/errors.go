package queen

import "errors"

// Sentinel errors satisfying errors.Is, following the teacher's pattern of a
// small dedicated error type per failure mode (jobs/worker/worker.go's
// missingHandlerError/panicError) rather than one generic error.
var (
	// ErrLookupFailed covers an unknown analysis_id, logic_name, or
	// resource_class (spec.md §7, "Lookup failure").
	ErrLookupFailed = errors.New("hive: lookup failed")

	// ErrUsage is returned when a caller violates a narrow precondition
	// (e.g. supplying more than one of analysis_id/logic_name/job_id to
	// specialize_new_worker).
	ErrUsage = errors.New("hive: usage error")

	// ErrHiveOverload is the specialization-conflict cause for Path B when
	// hive_current_load >= 1.1 and force was not set.
	ErrHiveOverload = errors.New("hive: overload")

	// ErrAnalysisBlocked is the specialization-conflict cause when the
	// target analysis is BLOCKED.
	ErrAnalysisBlocked = errors.New("hive: analysis blocked")

	// ErrNoWorkRequired is the specialization-conflict cause when
	// num_required_workers <= 0.
	ErrNoWorkRequired = errors.New("hive: no work required")

	// ErrAnalysisDone is the specialization-conflict cause when the
	// analysis has already finished.
	ErrAnalysisDone = errors.New("hive: analysis done")

	// ErrResourceClassMismatch is the specialization-conflict cause for
	// Path B when the worker's resource class doesn't match the analysis'.
	ErrResourceClassMismatch = errors.New("hive: resource class mismatch")

	// ErrJobInFlight is the specialization-conflict cause for Path A when
	// the targeted job is already exclusively owned by a running worker.
	ErrJobInFlight = errors.New("hive: job already in flight")

	// ErrJobNotForceable is the specialization-conflict cause for Path A
	// when the targeted job is DONE or SEMAPHORED and force was not set.
	ErrJobNotForceable = errors.New("hive: job requires force to re-specialize")

	// ErrNoSuitableAnalysis is Path C's failure when
	// suggest_analysis_to_specialize_by_rc_id exhausts every candidate
	// analysis without finding one that is unblocked and has work.
	ErrNoSuitableAnalysis = errors.New("hive: no suitable analysis for resource class")

	// ErrSyncLockHeld names the case where another coordinator already holds
	// an analysis' sync_lock. No Queen method returns it:
	// safe_synchronize_AnalysisStats returns the unchanged stats with a nil
	// error in that case.
	ErrSyncLockHeld = errors.New("hive: sync lock held")
)
