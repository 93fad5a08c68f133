package repos

import (
	"time"

	"gorm.io/gorm"

	"github.com/gohive/queen/internal/domain"
	"github.com/gohive/queen/internal/platform/dbctx"
	"github.com/gohive/queen/internal/platform/logger"
)

// AnalysisStatsRepo is the mutable-aggregate half of an analysis: job counts,
// required/running worker counts, and the sync_lock mutex. Every write here is
// a conditional UPDATE guarded by a WHERE clause, the same "guarded update
// reports whether it actually changed anything" idiom the teacher's job
// repository used for its status transitions, adapted here to guard sync_lock
// instead of a job_run's terminal status (spec.md §4.2 safe_synchronize).
type AnalysisStatsRepo interface {
	GetByAnalysisID(dbc dbctx.Context, analysisID int64) (*domain.AnalysisStats, error)
	GetOrCreate(dbc dbctx.Context, analysisID int64) (*domain.AnalysisStats, error)
	ListAll(dbc dbctx.Context) ([]*domain.AnalysisStats, error)

	// TryAcquireSyncLock performs the conditional UPDATE sync_lock tells
	// safe_synchronize about: it flips sync_lock false->true and stamps
	// sync_lock_at, returning acquired=false if another synchronizer already
	// holds it.
	TryAcquireSyncLock(dbc dbctx.Context, analysisID int64, now time.Time) (acquired bool, err error)
	ReleaseSyncLock(dbc dbctx.Context, analysisID int64) error
	// ReclaimStaleLock force-releases a lock held longer than ttl, for the
	// reaper the synchronizer runs before each pass (SPEC_FULL.md §12).
	ReclaimStaleLock(dbc dbctx.Context, analysisID int64, ttl time.Duration, now time.Time) (reclaimed bool, err error)

	RecomputeCounts(dbc dbctx.Context, analysisID int64) error
	UpdateRequiredWorkers(dbc dbctx.Context, analysisID int64, n int) error
	UpdateStatus(dbc dbctx.Context, analysisID int64, status domain.AnalysisStatus) error

	// IncrRunningWorkers adds delta to num_running_workers unconditionally.
	// DecrRunningWorkersFloor0 subtracts delta only where the current count is
	// at least delta (a WHERE on the pre-state), so it never goes below 0.
	IncrRunningWorkers(dbc dbctx.Context, analysisID int64, delta int) error
	DecrRunningWorkersFloor0(dbc dbctx.Context, analysisID int64, delta int) error
}

type analysisStatsRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAnalysisStatsRepo(db *gorm.DB, baseLog *logger.Logger) AnalysisStatsRepo {
	return &analysisStatsRepo{db: db, log: baseLog.With("repo", "AnalysisStatsRepo")}
}

func (r *analysisStatsRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *analysisStatsRepo) GetByAnalysisID(dbc dbctx.Context, analysisID int64) (*domain.AnalysisStats, error) {
	var s domain.AnalysisStats
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("analysis_id = ?", analysisID).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *analysisStatsRepo) GetOrCreate(dbc dbctx.Context, analysisID int64) (*domain.AnalysisStats, error) {
	s, err := r.GetByAnalysisID(dbc, analysisID)
	if err == nil {
		return s, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}
	fresh := &domain.AnalysisStats{AnalysisID: analysisID, Status: domain.AnalysisLoading}
	if err := r.tx(dbc).WithContext(dbc.Ctx).Create(fresh).Error; err != nil {
		return nil, err
	}
	return fresh, nil
}

func (r *analysisStatsRepo) ListAll(dbc dbctx.Context) ([]*domain.AnalysisStats, error) {
	var out []*domain.AnalysisStats
	if err := r.tx(dbc).WithContext(dbc.Ctx).Order("analysis_id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *analysisStatsRepo) TryAcquireSyncLock(dbc dbctx.Context, analysisID int64, now time.Time) (bool, error) {
	res := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.AnalysisStats{}).
		Where("analysis_id = ? AND sync_lock = ?", analysisID, false).
		Updates(map[string]interface{}{
			"sync_lock":    true,
			"sync_lock_at": now,
			"status":       domain.AnalysisSynching,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *analysisStatsRepo) ReleaseSyncLock(dbc dbctx.Context, analysisID int64) error {
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.AnalysisStats{}).
		Where("analysis_id = ?", analysisID).
		Updates(map[string]interface{}{
			"sync_lock":    false,
			"sync_lock_at": nil,
		}).Error
}

func (r *analysisStatsRepo) ReclaimStaleLock(dbc dbctx.Context, analysisID int64, ttl time.Duration, now time.Time) (bool, error) {
	cutoff := now.Add(-ttl)
	res := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.AnalysisStats{}).
		Where("analysis_id = ? AND sync_lock = ? AND sync_lock_at IS NOT NULL AND sync_lock_at < ?", analysisID, true, cutoff).
		Updates(map[string]interface{}{
			"sync_lock":    false,
			"sync_lock_at": nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RecomputeCounts re-derives total/ready/semaphored/done/failed job counts
// from the job table for one analysis. Callers are expected to hold sync_lock
// for the duration of this call plus the status decision that follows it.
func (r *analysisStatsRepo) RecomputeCounts(dbc dbctx.Context, analysisID int64) error {
	type row struct {
		Status domain.JobStatus
		N      int
	}
	var rows []row
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Table("job").
		Select("status, count(*) as n").
		Where("analysis_id = ?", analysisID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return err
	}

	// done_job_count = DONE + PASSED_ON (spec.md §4.2, non-trigger mode); every
	// other non-terminal status (CLAIMED, PRE_CLEANUP, ... POST_CLEANUP) counts
	// toward the total but not toward any of the four named buckets, matching
	// how total_job_count >= ready+semaphored+done+failed is allowed to be a
	// strict inequality while jobs are in flight.
	var total, ready, semaphored, done, failed int
	for _, rr := range rows {
		total += rr.N
		switch rr.Status {
		case domain.JobReady:
			ready += rr.N
		case domain.JobSemaphored:
			semaphored += rr.N
		case domain.JobDone, domain.JobPassedOn:
			done += rr.N
		case domain.JobFailed:
			failed += rr.N
		}
	}

	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.AnalysisStats{}).
		Where("analysis_id = ?", analysisID).
		Updates(map[string]interface{}{
			"total_job_count":      total,
			"ready_job_count":      ready,
			"semaphored_job_count": semaphored,
			"done_job_count":       done,
			"failed_job_count":     failed,
		}).Error
}

func (r *analysisStatsRepo) UpdateRequiredWorkers(dbc dbctx.Context, analysisID int64, n int) error {
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.AnalysisStats{}).
		Where("analysis_id = ?", analysisID).
		Update("num_required_workers", n).Error
}

func (r *analysisStatsRepo) UpdateStatus(dbc dbctx.Context, analysisID int64, status domain.AnalysisStatus) error {
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.AnalysisStats{}).
		Where("analysis_id = ?", analysisID).
		Update("status", status).Error
}

func (r *analysisStatsRepo) IncrRunningWorkers(dbc dbctx.Context, analysisID int64, delta int) error {
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.AnalysisStats{}).
		Where("analysis_id = ?", analysisID).
		Update("num_running_workers", gorm.Expr("num_running_workers + ?", delta)).Error
}

func (r *analysisStatsRepo) DecrRunningWorkersFloor0(dbc dbctx.Context, analysisID int64, delta int) error {
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.AnalysisStats{}).
		Where("analysis_id = ? AND num_running_workers >= ?", analysisID, delta).
		Update("num_running_workers", gorm.Expr("num_running_workers - ?", delta)).Error
}
