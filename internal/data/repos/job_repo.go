package repos

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gohive/queen/internal/domain"
	"github.com/gohive/queen/internal/platform/dbctx"
	"github.com/gohive/queen/internal/platform/logger"
	"github.com/gohive/queen/internal/platform/sqldialect"
)

// JobRepo owns job claiming and release. ClaimNextForWorker is this package's
// equivalent of the teacher's ClaimNextRunnable: a SELECT ... FOR UPDATE SKIP
// LOCKED followed by an UPDATE inside the same transaction, so two workers
// racing to claim from the same analysis never both win the same row. SQLite
// has no SKIP LOCKED, so on that dialect the claim relies on SQLite's
// whole-database write lock instead (sqldialect.Dialect.SkipLocked reports
// which path to take).
type JobRepo interface {
	CreateBatch(dbc dbctx.Context, jobs []*domain.Job) ([]*domain.Job, error)
	GetByID(dbc dbctx.Context, jobID uint64) (*domain.Job, error)
	ClaimNextForWorker(dbc dbctx.Context, analysisID int64, workerID uint64) (*domain.Job, error)

	// ClaimSpecific binds one named job to workerID regardless of queue order,
	// guarded by the job's current status still being in allowed — the
	// job-targeted path of specialize_new_worker (spec.md §4.1, Path A).
	ClaimSpecific(dbc dbctx.Context, jobID uint64, workerID uint64, allowed []domain.JobStatus) (bool, error)

	// IncrSemaphoreCount adjusts a parent job's semaphore_count, used to
	// re-increment a semaphore when a DONE child job is force-rerun
	// (spec.md §4.1, Path A).
	IncrSemaphoreCount(dbc dbctx.Context, jobID uint64, delta int) error

	// ReleaseOwnedByWorker reverts every in-flight job a now-dead worker held
	// back to READY, per register_worker_death's reclaimable-cause rule
	// (spec.md §4.1).
	ReleaseOwnedByWorker(dbc dbctx.Context, workerID uint64) (int64, error)

	// BuryOrphaned repairs the integrity violation check_for_dead_workers
	// guards against: any job still owned by a DEAD worker that never made it
	// to a terminal status is released back to READY (spec.md §4.1, "buried
	// in haste" releases jobs, same disposition as ReleaseOwnedByWorker).
	BuryOrphaned(dbc dbctx.Context) (int64, error)

	CountByStatus(dbc dbctx.Context, analysisID int64, status domain.JobStatus) (int, error)
	UpdateStatus(dbc dbctx.Context, jobID uint64, from []domain.JobStatus, to domain.JobStatus) (bool, error)
	ListOwnedByWorker(dbc dbctx.Context, workerID uint64) ([]*domain.Job, error)
}

type jobRepo struct {
	db      *gorm.DB
	dialect sqldialect.Dialect
	log     *logger.Logger
}

func NewJobRepo(db *gorm.DB, dialect sqldialect.Dialect, baseLog *logger.Logger) JobRepo {
	return &jobRepo{db: db, dialect: dialect, log: baseLog.With("repo", "JobRepo")}
}

func (r *jobRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *jobRepo) CreateBatch(dbc dbctx.Context, jobs []*domain.Job) ([]*domain.Job, error) {
	if len(jobs) == 0 {
		return jobs, nil
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).Create(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *jobRepo) GetByID(dbc dbctx.Context, jobID uint64) (*domain.Job, error) {
	var j domain.Job
	if err := r.tx(dbc).WithContext(dbc.Ctx).Where("job_id = ?", jobID).First(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *jobRepo) ClaimSpecific(dbc dbctx.Context, jobID uint64, workerID uint64, allowed []domain.JobStatus) (bool, error) {
	res := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.Job{}).
		Where("job_id = ? AND status IN ?", jobID, allowed).
		Updates(map[string]interface{}{
			"worker_id": workerID,
			"status":    domain.JobClaimed,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRepo) IncrSemaphoreCount(dbc dbctx.Context, jobID uint64, delta int) error {
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.Job{}).
		Where("job_id = ?", jobID).
		Update("semaphore_count", gorm.Expr("semaphore_count + ?", delta)).Error
}

func (r *jobRepo) ClaimNextForWorker(dbc dbctx.Context, analysisID int64, workerID uint64) (*domain.Job, error) {
	var claimed *domain.Job
	err := r.tx(dbc).WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		q := txx.Where("analysis_id = ? AND status = ? AND worker_id IS NULL", analysisID, domain.JobReady).
			Order("job_id ASC").
			Limit(1)
		if r.dialect.SkipLocked() {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		var job domain.Job
		if err := q.First(&job).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		res := txx.Model(&domain.Job{}).
			Where("job_id = ? AND worker_id IS NULL", job.JobID).
			Updates(map[string]interface{}{
				"worker_id": workerID,
				"status":    domain.JobClaimed,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the race (only reachable on the SQLite path, which has no
			// SKIP LOCKED); report no job claimed rather than a stale copy.
			return nil
		}
		job.WorkerID = &workerID
		job.Status = domain.JobClaimed
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *jobRepo) ReleaseOwnedByWorker(dbc dbctx.Context, workerID uint64) (int64, error) {
	inFlight := make([]domain.JobStatus, 0, len(domain.InFlightJobStatuses)+1)
	inFlight = append(inFlight, domain.JobClaimed)
	for s := range domain.InFlightJobStatuses {
		inFlight = append(inFlight, s)
	}
	res := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.Job{}).
		Where("worker_id = ? AND status IN ?", workerID, inFlight).
		Updates(map[string]interface{}{
			"worker_id": nil,
			"status":    domain.JobReady,
		})
	return res.RowsAffected, res.Error
}

func (r *jobRepo) BuryOrphaned(dbc dbctx.Context) (int64, error) {
	terminal := make([]domain.JobStatus, 0, len(domain.TerminalJobStatuses))
	for s := range domain.TerminalJobStatuses {
		terminal = append(terminal, s)
	}
	res := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.Job{}).
		Where(
			"worker_id IN (SELECT worker_id FROM worker WHERE died IS NOT NULL) AND status NOT IN ?",
			terminal,
		).
		Updates(map[string]interface{}{
			"worker_id": nil,
			"status":    domain.JobReady,
		})
	return res.RowsAffected, res.Error
}

func (r *jobRepo) CountByStatus(dbc dbctx.Context, analysisID int64, status domain.JobStatus) (int, error) {
	var n int64
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.Job{}).
		Where("analysis_id = ? AND status = ?", analysisID, status).
		Count(&n).Error
	return int(n), err
}

func (r *jobRepo) UpdateStatus(dbc dbctx.Context, jobID uint64, from []domain.JobStatus, to domain.JobStatus) (bool, error) {
	q := r.tx(dbc).WithContext(dbc.Ctx).Model(&domain.Job{}).Where("job_id = ?", jobID)
	if len(from) > 0 {
		q = q.Where("status IN ?", from)
	}
	res := q.Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRepo) ListOwnedByWorker(dbc dbctx.Context, workerID uint64) ([]*domain.Job, error) {
	var out []*domain.Job
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("worker_id = ?", workerID).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
