package domain

// JobStatus is the lifecycle state of one unit of work.
type JobStatus string

const (
	JobReady       JobStatus = "READY"
	JobSemaphored  JobStatus = "SEMAPHORED"
	JobClaimed     JobStatus = "CLAIMED"
	JobPreCleanup  JobStatus = "PRE_CLEANUP"
	JobFetchInput  JobStatus = "FETCH_INPUT"
	JobRun         JobStatus = "RUN"
	JobWriteOutput JobStatus = "WRITE_OUTPUT"
	JobPostCleanup JobStatus = "POST_CLEANUP"
	JobDone        JobStatus = "DONE"
	JobFailed      JobStatus = "FAILED"
	JobPassedOn    JobStatus = "PASSED_ON"
)

// InFlightJobStatuses are the statuses specialize_new_worker's job-targeted path
// (spec.md §4.1, Path A) refuses to hand out: the job is already exclusively owned
// by a running worker.
var InFlightJobStatuses = map[JobStatus]bool{
	JobClaimed:     true,
	JobPreCleanup:  true,
	JobFetchInput:  true,
	JobRun:         true,
	JobWriteOutput: true,
	JobPostCleanup: true,
}

// TerminalJobStatuses are statuses check_for_dead_workers' "buried in haste" pass
// (spec.md §4.1) treats as already reconciled; anything else found still owned by a
// DEAD worker is an integrity violation to repair.
var TerminalJobStatuses = map[JobStatus]bool{
	JobDone:     true,
	JobReady:    true,
	JobFailed:   true,
	JobPassedOn: true,
}

// Job is one unit of work belonging to an Analysis, exclusively owned at any time
// by the worker holding WorkerID (if any).
type Job struct {
	JobID           uint64    `gorm:"column:job_id;primaryKey;autoIncrement" json:"job_id"`
	AnalysisID      int64     `gorm:"column:analysis_id;not null;index" json:"analysis_id"`
	WorkerID        *uint64   `gorm:"column:worker_id;index" json:"worker_id,omitempty"`
	Status          JobStatus `gorm:"column:status;not null;index" json:"status"`
	SemaphoredJobID *uint64   `gorm:"column:semaphored_job_id;index" json:"semaphored_job_id,omitempty"`
	SemaphoreCount  int       `gorm:"column:semaphore_count;not null;default:0" json:"semaphore_count"`
}

func (Job) TableName() string { return "job" }
