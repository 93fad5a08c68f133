// Package queen implements the coordinator core: worker lifecycle and garbage
// collection, the analysis-stats synchronizer, and the scheduler
// (spec.md §4). Every exported method takes a dbctx.Context and runs its
// queries through the repos on that context's handle or transaction; callers
// (a beekeeper's scheduling loop, the HTTP admin surface, tests) never reach
// into gorm directly.
package queen

import (
	"time"

	"gorm.io/gorm"

	"github.com/gohive/queen/internal/data/repos"
	"github.com/gohive/queen/internal/hive/meadow"
	"github.com/gohive/queen/internal/hive/notify"
	"github.com/gohive/queen/internal/platform/logger"
)

// Config carries the coordinator's tunables. Defaults match spec.md's stated
// constants (the 3-minute WORKING grace window in safe_synchronize, the 1.1
// overload threshold in specialize_new_worker's Path B).
type Config struct {
	// SyncLockTTL is the staleness window a reclaimed sync_lock is measured
	// against (SPEC_FULL.md §12, resolving spec.md §9's open question).
	SyncLockTTL time.Duration
	// WorkingGrace is how recently a WORKING analysis must have synced
	// before safe_synchronize_AnalysisStats will skip re-syncing it.
	WorkingGrace time.Duration
	// OverloadThreshold is the hive_current_load ceiling Path B checks.
	OverloadThreshold float64
}

func DefaultConfig() Config {
	return Config{
		SyncLockTTL:       10 * time.Minute,
		WorkingGrace:      3 * time.Minute,
		OverloadThreshold: 1.1,
	}
}

// Queen wires the repo layer, the valley, and an optional notifier into the
// three algorithms spec.md §4 describes.
type Queen struct {
	repos    *repos.Repos
	valley   meadow.Valley
	notifier notify.HiveNotifier
	log      *logger.Logger
	cfg      Config

	// db is the handle the Queen was built with. No method uses it; every
	// query goes through the repos and the caller's dbctx.Context.
	db *gorm.DB
}

func New(db *gorm.DB, r *repos.Repos, valley meadow.Valley, notifier notify.HiveNotifier, cfg Config, baseLog *logger.Logger) *Queen {
	if notifier == nil {
		notifier = notify.NoOp{}
	}
	return &Queen{
		repos:    r,
		valley:   valley,
		notifier: notifier,
		log:      baseLog.With("component", "Queen"),
		cfg:      cfg,
		db:       db,
	}
}
