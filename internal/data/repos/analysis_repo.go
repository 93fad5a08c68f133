package repos

import (
	"gorm.io/gorm"

	"github.com/gohive/queen/internal/domain"
	"github.com/gohive/queen/internal/platform/dbctx"
	"github.com/gohive/queen/internal/platform/logger"
)

// AnalysisRepo reads the near-static analysis_base rows: identity, resource
// class, batch_size and hive_capacity. Nothing in the Queen package writes
// through this repo; analyses are loaded once from pipeline configuration.
type AnalysisRepo interface {
	GetByID(dbc dbctx.Context, analysisID int64) (*domain.Analysis, error)
	GetByLogicName(dbc dbctx.Context, logicName string) (*domain.Analysis, error)
	List(dbc dbctx.Context) ([]*domain.Analysis, error)
	Upsert(dbc dbctx.Context, a *domain.Analysis) error
}

type analysisRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAnalysisRepo(db *gorm.DB, baseLog *logger.Logger) AnalysisRepo {
	return &analysisRepo{db: db, log: baseLog.With("repo", "AnalysisRepo")}
}

func (r *analysisRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *analysisRepo) GetByID(dbc dbctx.Context, analysisID int64) (*domain.Analysis, error) {
	var a domain.Analysis
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("analysis_id = ?", analysisID).
		First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *analysisRepo) GetByLogicName(dbc dbctx.Context, logicName string) (*domain.Analysis, error) {
	var a domain.Analysis
	if err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("logic_name = ?", logicName).
		First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *analysisRepo) List(dbc dbctx.Context) ([]*domain.Analysis, error) {
	var out []*domain.Analysis
	if err := r.tx(dbc).WithContext(dbc.Ctx).Order("analysis_id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Upsert is used by pipeline bootstrap (loading analyses from hiveconfig), not
// by any Queen runtime operation.
func (r *analysisRepo) Upsert(dbc dbctx.Context, a *domain.Analysis) error {
	return r.tx(dbc).WithContext(dbc.Ctx).
		Where("logic_name = ?", a.LogicName).
		Assign(*a).
		FirstOrCreate(a).Error
}
