package repos

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gohive/queen/internal/domain"
	"github.com/gohive/queen/internal/platform/dbctx"
	"github.com/gohive/queen/internal/platform/logger"
)

// MeadowSightingRepo records UNREACHABLE findings from check_for_dead_workers
// (SPEC_FULL.md §12). It is deliberately tiny: an upsert and a list, the same
// shape as the teacher's hive_meta single-row bookkeeping, just keyed per
// meadow instead of one well-known key.
type MeadowSightingRepo interface {
	RecordUnreachable(dbc dbctx.Context, meadowType, meadowName string, now time.Time) error
	List(dbc dbctx.Context) ([]*domain.MeadowSighting, error)
}

type meadowSightingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMeadowSightingRepo(db *gorm.DB, baseLog *logger.Logger) MeadowSightingRepo {
	return &meadowSightingRepo{db: db, log: baseLog.With("repo", "MeadowSightingRepo")}
}

func (r *meadowSightingRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

// RecordUnreachable upserts one sighting, incrementing count on conflict —
// the same "insert, or bump a counter on the existing row" idiom gorm's
// clause.OnConflict gives an atomic upsert without a separate SELECT.
func (r *meadowSightingRepo) RecordUnreachable(dbc dbctx.Context, meadowType, meadowName string, now time.Time) error {
	return r.tx(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "meadow_type"}, {Name: "meadow_name"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"count":        gorm.Expr("count + 1"),
				"last_seen_at": now,
			}),
		}).
		Create(&domain.MeadowSighting{
			MeadowType: meadowType,
			MeadowName: meadowName,
			Count:      1,
			LastSeenAt: now,
		}).Error
}

func (r *meadowSightingRepo) List(dbc dbctx.Context) ([]*domain.MeadowSighting, error) {
	var out []*domain.MeadowSighting
	if err := r.tx(dbc).WithContext(dbc.Ctx).Order("meadow_type ASC, meadow_name ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
