package repos

import (
	"database/sql"
	"time"

	"gorm.io/gorm"

	"github.com/gohive/queen/internal/domain"
	"github.com/gohive/queen/internal/platform/dbctx"
	"github.com/gohive/queen/internal/platform/logger"
)

// WorkerRepo owns the worker table: birth, specialization, periodic
// check-ins, and the single terminal death transition (spec.md §3/§4.1).
type WorkerRepo interface {
	Create(dbc dbctx.Context, w *domain.Worker) (*domain.Worker, error)
	GetByID(dbc dbctx.Context, workerID uint64) (*domain.Worker, error)

	// Specialize assigns a worker to an analysis exactly once; it is a
	// guarded update so a retried specialization call can't silently
	// re-point an already-specialized worker at a different analysis.
	Specialize(dbc dbctx.Context, workerID uint64, analysisID int64, status domain.WorkerStatus) (bool, error)
	CheckIn(dbc dbctx.Context, workerID uint64, status domain.WorkerStatus, workDone int, now time.Time) error

	// RegisterDeath is the one-shot terminal transition; it is a guarded
	// update (WHERE died IS NULL) so two concurrent GC passes can't both
	// think they buried the same worker.
	RegisterDeath(dbc dbctx.Context, workerID uint64, cause domain.CauseOfDeath, now time.Time) (bool, error)

	ListAlive(dbc dbctx.Context) ([]*domain.Worker, error)
	ListAliveByAnalysis(dbc dbctx.Context, analysisID int64) ([]*domain.Worker, error)
	ListAliveByMeadow(dbc dbctx.Context, meadowType, meadowName string) ([]*domain.Worker, error)
	// ListOverdueCheckIn finds alive workers whose last_check_in predates
	// cutoff. check_for_dead_workers does not use it; it polls its meadows
	// about every alive worker (ListAlive).
	ListOverdueCheckIn(dbc dbctx.Context, cutoff time.Time) ([]*domain.Worker, error)

	CountAlive(dbc dbctx.Context) (int, error)
	CountAliveByMeadow(dbc dbctx.Context, meadowType, meadowName string) (int, error)
	CountAliveByAnalysis(dbc dbctx.Context, analysisID int64) (int, error)
	// CountAliveGroupedByAnalysis feeds get_hive_current_load: one query
	// returning the live worker count of every analysis that has a
	// specialized alive worker, instead of one round trip per analysis. The
	// caller applies the hive_capacity filter.
	CountAliveGroupedByAnalysis(dbc dbctx.Context) (map[int64]int, error)

	// BornDiedBounds returns MIN(born), MAX(died) across every worker ever
	// created, with a still-alive worker's born standing in for its died in
	// the max, feeding the activity profiler's default time range
	// (spec.md §4.4) when the caller doesn't supply start_date/end_date.
	// ok is false if the worker table is empty.
	BornDiedBounds(dbc dbctx.Context) (minBorn, maxDied time.Time, ok bool, err error)

	// ListActivityIntervals returns the (analysis_id, born, died) of every
	// specialized worker whose lifetime could overlap [start, end), the raw
	// input to the activity profiler's bucketing pass (spec.md §4.4).
	ListActivityIntervals(dbc dbctx.Context, start, end time.Time) ([]ActivityInterval, error)
}

// ActivityInterval is one worker's lifetime, as consumed by the activity
// profiler (spec.md §4.4). Died is nil for a worker still alive as of the
// query.
type ActivityInterval struct {
	AnalysisID int64
	Born       time.Time
	Died       *time.Time
}

type workerRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewWorkerRepo(db *gorm.DB, baseLog *logger.Logger) WorkerRepo {
	return &workerRepo{db: db, log: baseLog.With("repo", "WorkerRepo")}
}

func (r *workerRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *workerRepo) Create(dbc dbctx.Context, w *domain.Worker) (*domain.Worker, error) {
	if err := r.tx(dbc).WithContext(dbc.Ctx).Create(w).Error; err != nil {
		return nil, err
	}
	return w, nil
}

func (r *workerRepo) GetByID(dbc dbctx.Context, workerID uint64) (*domain.Worker, error) {
	var w domain.Worker
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("worker_id = ?", workerID).
		First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *workerRepo) Specialize(dbc dbctx.Context, workerID uint64, analysisID int64, status domain.WorkerStatus) (bool, error) {
	res := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.Worker{}).
		Where("worker_id = ? AND analysis_id IS NULL", workerID).
		Updates(map[string]interface{}{
			"analysis_id": analysisID,
			"status":      status,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *workerRepo) CheckIn(dbc dbctx.Context, workerID uint64, status domain.WorkerStatus, workDone int, now time.Time) error {
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.Worker{}).
		Where("worker_id = ? AND died IS NULL", workerID).
		Updates(map[string]interface{}{
			"status":        status,
			"work_done":     workDone,
			"last_check_in": now,
		}).Error
}

func (r *workerRepo) RegisterDeath(dbc dbctx.Context, workerID uint64, cause domain.CauseOfDeath, now time.Time) (bool, error) {
	res := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.Worker{}).
		Where("worker_id = ? AND died IS NULL", workerID).
		Updates(map[string]interface{}{
			"died":           now,
			"status":         domain.WorkerDead,
			"cause_of_death": cause,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *workerRepo) ListAlive(dbc dbctx.Context) ([]*domain.Worker, error) {
	var out []*domain.Worker
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("died IS NULL").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *workerRepo) ListAliveByAnalysis(dbc dbctx.Context, analysisID int64) ([]*domain.Worker, error) {
	var out []*domain.Worker
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("died IS NULL AND analysis_id = ?", analysisID).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *workerRepo) ListAliveByMeadow(dbc dbctx.Context, meadowType, meadowName string) ([]*domain.Worker, error) {
	var out []*domain.Worker
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("died IS NULL AND meadow_type = ? AND meadow_name = ?", meadowType, meadowName).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *workerRepo) ListOverdueCheckIn(dbc dbctx.Context, cutoff time.Time) ([]*domain.Worker, error) {
	var out []*domain.Worker
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("died IS NULL AND last_check_in < ?", cutoff).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *workerRepo) CountAlive(dbc dbctx.Context) (int, error) {
	var n int64
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.Worker{}).
		Where("died IS NULL").
		Count(&n).Error
	return int(n), err
}

func (r *workerRepo) CountAliveByMeadow(dbc dbctx.Context, meadowType, meadowName string) (int, error) {
	var n int64
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.Worker{}).
		Where("died IS NULL AND meadow_type = ? AND meadow_name = ?", meadowType, meadowName).
		Count(&n).Error
	return int(n), err
}

func (r *workerRepo) CountAliveByAnalysis(dbc dbctx.Context, analysisID int64) (int, error) {
	var n int64
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.Worker{}).
		Where("died IS NULL AND analysis_id = ?", analysisID).
		Count(&n).Error
	return int(n), err
}

func (r *workerRepo) CountAliveGroupedByAnalysis(dbc dbctx.Context) (map[int64]int, error) {
	type row struct {
		AnalysisID int64
		N          int
	}
	var rows []row
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.Worker{}).
		Select("analysis_id, count(*) as n").
		Where("died IS NULL AND analysis_id IS NOT NULL").
		Group("analysis_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[int64]int, len(rows))
	for _, rr := range rows {
		out[rr.AnalysisID] = rr.N
	}
	return out, nil
}

func (r *workerRepo) BornDiedBounds(dbc dbctx.Context) (time.Time, time.Time, bool, error) {
	type row struct {
		MinBorn sql.NullTime
		MaxDied sql.NullTime
	}
	var rr row
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.Worker{}).
		Select("min(born) as min_born, max(coalesce(died, born)) as max_died").
		Scan(&rr).Error; err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	if !rr.MinBorn.Valid {
		return time.Time{}, time.Time{}, false, nil
	}
	maxDied := rr.MinBorn.Time
	if rr.MaxDied.Valid {
		maxDied = rr.MaxDied.Time
	}
	return rr.MinBorn.Time, maxDied, true, nil
}

func (r *workerRepo) ListActivityIntervals(dbc dbctx.Context, start, end time.Time) ([]ActivityInterval, error) {
	var rows []struct {
		AnalysisID int64
		Born       time.Time
		Died       *time.Time
	}
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.Worker{}).
		Select("analysis_id, born, died").
		Where("analysis_id IS NOT NULL AND born < ? AND (died IS NULL OR died > ?)", end, start).
		Order("born ASC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]ActivityInterval, 0, len(rows))
	for _, rr := range rows {
		out = append(out, ActivityInterval{AnalysisID: rr.AnalysisID, Born: rr.Born, Died: rr.Died})
	}
	return out, nil
}
