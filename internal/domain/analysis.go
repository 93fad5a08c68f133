package domain

import (
	"time"

	"gorm.io/datatypes"
)

// AnalysisStatus is the lifecycle state of one Analysis' aggregate statistics.
//
// Transitions are driven entirely by the synchronizer (internal/hive/queen) and by
// the blocking-control rules an Analysis itself defines; nothing else assigns this
// field directly.
type AnalysisStatus string

const (
	AnalysisLoading    AnalysisStatus = "LOADING"
	AnalysisBlocked    AnalysisStatus = "BLOCKED"
	AnalysisSynching   AnalysisStatus = "SYNCHING"
	AnalysisReady      AnalysisStatus = "READY"
	AnalysisWorking    AnalysisStatus = "WORKING"
	AnalysisAllClaimed AnalysisStatus = "ALL_CLAIMED"
	AnalysisDone       AnalysisStatus = "DONE"
	AnalysisFailed     AnalysisStatus = "FAILED"
)

// Analysis is one pipeline stage. Its identity and capacity are essentially
// immutable once loaded; its running counters live in AnalysisStats.
type Analysis struct {
	AnalysisID      int64  `gorm:"column:analysis_id;primaryKey;autoIncrement" json:"analysis_id"`
	LogicName       string `gorm:"column:logic_name;uniqueIndex;not null" json:"logic_name"`
	ResourceClassID int64  `gorm:"column:resource_class_id;not null;index" json:"resource_class_id"`

	// HiveCapacity is the concurrency cap for this analysis; 0 means unlimited/disabled.
	HiveCapacity int `gorm:"column:hive_capacity;not null;default:0" json:"hive_capacity"`
	BatchSize    int `gorm:"column:batch_size;not null;default:1" json:"batch_size"`
}

func (Analysis) TableName() string { return "analysis_base" }

// AnalysisStats is the mutable aggregate this package refreshes from the job/worker
// tables and that the scheduler reads to decide how many workers to submit.
//
// Invariants (spec.md §3):
//   - ReadyJobCount + SemaphoredJobCount + DoneJobCount + FailedJobCount <= TotalJobCount
//   - Status == DONE implies ReadyJobCount == 0
//   - SyncLock is held by at most one coordinator at a time
type AnalysisStats struct {
	AnalysisID int64          `gorm:"column:analysis_id;primaryKey" json:"analysis_id"`
	Status     AnalysisStatus `gorm:"column:status;not null;index" json:"status"`

	TotalJobCount      int `gorm:"column:total_job_count;not null;default:0" json:"total_job_count"`
	ReadyJobCount      int `gorm:"column:ready_job_count;not null;default:0" json:"ready_job_count"`
	SemaphoredJobCount int `gorm:"column:semaphored_job_count;not null;default:0" json:"semaphored_job_count"`
	DoneJobCount       int `gorm:"column:done_job_count;not null;default:0" json:"done_job_count"`
	FailedJobCount     int `gorm:"column:failed_job_count;not null;default:0" json:"failed_job_count"`

	NumRequiredWorkers int `gorm:"column:num_required_workers;not null;default:0" json:"num_required_workers"`
	NumRunningWorkers  int `gorm:"column:num_running_workers;not null;default:0" json:"num_running_workers"`

	// SyncLock is the conditional-update mutex described in spec.md §4.2/§5.
	SyncLock bool `gorm:"column:sync_lock;not null;default:false" json:"sync_lock"`
	// SyncLockAt records when the lock was taken, enabling the TTL reaper described
	// in SPEC_FULL.md §12 (resolves the open question in spec.md §9).
	SyncLockAt *time.Time `gorm:"column:sync_lock_at" json:"sync_lock_at,omitempty"`

	WhenUpdated  time.Time      `gorm:"column:when_updated;not null;autoUpdateTime" json:"when_updated"`
	AvgMsecPerJob float64       `gorm:"column:avg_msec_per_job;not null;default:0" json:"avg_msec_per_job"`
	Meta          datatypes.JSON `gorm:"column:meta" json:"meta,omitempty"`
}

func (AnalysisStats) TableName() string { return "analysis_stats" }

// LockIsStale reports whether sync_lock was claimed longer than ttl ago and should
// be treated as abandoned by a crashed coordinator.
func (s *AnalysisStats) LockIsStale(ttl time.Duration, now time.Time) bool {
	if !s.SyncLock || s.SyncLockAt == nil {
		return false
	}
	return now.Sub(*s.SyncLockAt) > ttl
}
