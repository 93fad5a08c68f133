// Package meadow defines the compute-backend boundary the coordinator core
// treats as external (spec.md §6): a Driver per backend (LSF, local, ...) and
// a Valley federating many of them. Meadows vary in capability, so Driver
// exposes explicit "supports?" predicates instead of relying on type
// assertions or virtual-inheritance tricks (spec.md §9, "Meadow
// polymorphism").
package meadow

import (
	"context"

	"github.com/gohive/queen/internal/domain"
)

// Driver is one compute backend's submission/polling contract. Every method
// may block on an external system and must be called with a context carrying
// a deadline (spec.md §5).
type Driver interface {
	Type() string
	Name() string

	// StatusOfAllOurWorkers returns live process_id -> status for every
	// process this meadow currently reports as running/pending/suspended.
	// A worker whose process_id is absent from this map is a GC candidate.
	StatusOfAllOurWorkers(ctx context.Context) (map[string]string, error)

	// SupportsFindOutCauses reports whether FindOutCauses is meaningful for
	// this driver; check_for_dead_workers must guard the call with it.
	SupportsFindOutCauses() bool
	FindOutCauses(ctx context.Context, processIDs []string) (map[string]domain.CauseOfDeath, error)

	Submit(ctx context.Context, rc *domain.ResourceClass, count int) error
	PendingCounts(ctx context.Context) (map[string]int, error)
	// AvailableSlots returns a free-slot count, or -1 for "unbounded".
	AvailableSlots(ctx context.Context) (int, error)
}
