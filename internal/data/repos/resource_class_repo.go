package repos

import (
	"gorm.io/gorm"

	"github.com/gohive/queen/internal/domain"
	"github.com/gohive/queen/internal/platform/dbctx"
	"github.com/gohive/queen/internal/platform/logger"
)

// ResourceClassRepo reads the small, rarely-changing resource_class table.
type ResourceClassRepo interface {
	GetByID(dbc dbctx.Context, id int64) (*domain.ResourceClass, error)
	GetByName(dbc dbctx.Context, name string) (*domain.ResourceClass, error)
	List(dbc dbctx.Context) ([]*domain.ResourceClass, error)
	Upsert(dbc dbctx.Context, rc *domain.ResourceClass) error
}

type resourceClassRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewResourceClassRepo(db *gorm.DB, baseLog *logger.Logger) ResourceClassRepo {
	return &resourceClassRepo{db: db, log: baseLog.With("repo", "ResourceClassRepo")}
}

func (r *resourceClassRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *resourceClassRepo) GetByID(dbc dbctx.Context, id int64) (*domain.ResourceClass, error) {
	var rc domain.ResourceClass
	if err := r.tx(dbc).WithContext(dbc.Ctx).Where("resource_class_id = ?", id).First(&rc).Error; err != nil {
		return nil, err
	}
	return &rc, nil
}

func (r *resourceClassRepo) GetByName(dbc dbctx.Context, name string) (*domain.ResourceClass, error) {
	var rc domain.ResourceClass
	if err := r.tx(dbc).WithContext(dbc.Ctx).Where("name = ?", name).First(&rc).Error; err != nil {
		return nil, err
	}
	return &rc, nil
}

func (r *resourceClassRepo) List(dbc dbctx.Context) ([]*domain.ResourceClass, error) {
	var out []*domain.ResourceClass
	if err := r.tx(dbc).WithContext(dbc.Ctx).Order("resource_class_id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *resourceClassRepo) Upsert(dbc dbctx.Context, rc *domain.ResourceClass) error {
	return r.tx(dbc).WithContext(dbc.Ctx).
		Where("name = ?", rc.Name).
		Assign(*rc).
		FirstOrCreate(rc).Error
}
