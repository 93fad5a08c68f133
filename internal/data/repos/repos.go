// Package repos is the data-access layer the Queen and the profiler read and
// write through: one small repo per table, each taking a dbctx.Context so a
// caller driving several repo calls inside one transaction only threads the
// *gorm.DB once.
package repos

import (
	"gorm.io/gorm"

	"github.com/gohive/queen/internal/platform/logger"
	"github.com/gohive/queen/internal/platform/sqldialect"
)

// Repos bundles every table's repo so call sites (the Queen, the HTTP admin
// surface, the profiler) can take one struct instead of five constructor
// arguments.
type Repos struct {
	Analysis       AnalysisRepo
	AnalysisStats  AnalysisStatsRepo
	Worker         WorkerRepo
	Job            JobRepo
	ResourceClass  ResourceClassRepo
	MeadowSighting MeadowSightingRepo
}

func New(db *gorm.DB, dialect sqldialect.Dialect, baseLog *logger.Logger) *Repos {
	return &Repos{
		Analysis:       NewAnalysisRepo(db, baseLog),
		AnalysisStats:  NewAnalysisStatsRepo(db, baseLog),
		Worker:         NewWorkerRepo(db, baseLog),
		Job:            NewJobRepo(db, dialect, baseLog),
		ResourceClass:  NewResourceClassRepo(db, baseLog),
		MeadowSighting: NewMeadowSightingRepo(db, baseLog),
	}
}
