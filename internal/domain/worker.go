package domain

import "time"

// WorkerStatus mirrors the stages a worker process reports as it executes a job.
type WorkerStatus string

const (
	WorkerReady       WorkerStatus = "READY"
	WorkerClaimed     WorkerStatus = "CLAIMED"
	WorkerPreCleanup  WorkerStatus = "PRE_CLEANUP"
	WorkerFetchInput  WorkerStatus = "FETCH_INPUT"
	WorkerRun         WorkerStatus = "RUN"
	WorkerWriteOutput WorkerStatus = "WRITE_OUTPUT"
	WorkerPostCleanup WorkerStatus = "POST_CLEANUP"
	WorkerDead        WorkerStatus = "DEAD"
)

// CauseOfDeath classifies why a worker stopped running, driving both
// register_worker_death's job-release decision and the specialization-conflict
// cause recorded on a worker that failed to specialize.
type CauseOfDeath string

const (
	CauseNone          CauseOfDeath = ""
	CauseNoWork        CauseOfDeath = "NO_WORK"
	CauseJobLimit      CauseOfDeath = "JOB_LIMIT"
	CauseLifespan      CauseOfDeath = "LIFESPAN"
	CauseHiveOverload  CauseOfDeath = "HIVE_OVERLOAD"
	CauseMemlimit      CauseOfDeath = "MEMLIMIT"
	CauseRunlimit      CauseOfDeath = "RUNLIMIT"
	CauseKilledByUser  CauseOfDeath = "KILLED_BY_USER"
	CauseSeeMsg        CauseOfDeath = "SEE_MSG"
	CauseContaminated  CauseOfDeath = "CONTAMINATED"
	CauseUnknown       CauseOfDeath = "UNKNOWN"
)

// ReclaimableCauses are the causes of death after which a dead worker's in-flight
// jobs must be released back to READY (spec.md §4.1, register_worker_death).
var ReclaimableCauses = map[CauseOfDeath]bool{
	CauseUnknown:      true,
	CauseMemlimit:     true,
	CauseRunlimit:     true,
	CauseKilledByUser: true,
	CauseSeeMsg:       true,
	CauseContaminated: true,
}

// Worker is the in-memory handle / DB row for a single spawned process.
//
// Lifecycle (spec.md §3): created by the Queen at birth, specialized exactly once,
// checked in periodically, transitions to DEAD exactly once, and never mutated
// after death.
type Worker struct {
	WorkerID uint64 `gorm:"column:worker_id;primaryKey;autoIncrement" json:"worker_id"`

	MeadowType string `gorm:"column:meadow_type;not null;index" json:"meadow_type"`
	MeadowName string `gorm:"column:meadow_name;not null;index" json:"meadow_name"`
	Host       string `gorm:"column:host;not null" json:"host"`
	ProcessID  string `gorm:"column:process_id;not null;index" json:"process_id"`

	ResourceClassID int64  `gorm:"column:resource_class_id;not null;index" json:"resource_class_id"`
	AnalysisID      *int64 `gorm:"column:analysis_id;index" json:"analysis_id,omitempty"`

	Born         time.Time  `gorm:"column:born;not null" json:"born"`
	LastCheckIn  time.Time  `gorm:"column:last_check_in;not null" json:"last_check_in"`
	Died         *time.Time `gorm:"column:died;index" json:"died,omitempty"`

	Status        WorkerStatus `gorm:"column:status;not null;index" json:"status"`
	CauseOfDeath  CauseOfDeath `gorm:"column:cause_of_death" json:"cause_of_death,omitempty"`
	WorkDone      int          `gorm:"column:work_done;not null;default:0" json:"work_done"`
	LogDir        string       `gorm:"column:log_dir" json:"log_dir,omitempty"`
}

func (Worker) TableName() string { return "worker" }

// IsAlive reports whether this worker has not yet been marked DEAD.
func (w *Worker) IsAlive() bool { return w.Died == nil && w.Status != WorkerDead }
