package meadow

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/gohive/queen/internal/domain"
	"github.com/gohive/queen/internal/platform/logger"
)

// Valley is the federation of every meadow a beekeeper knows about
// (spec.md §6, "Valley contract").
type Valley interface {
	AvailableMeadows() []Driver
	FindMeadowForWorker(w *domain.Worker) (Driver, bool)
	DefaultMeadow() (Driver, bool)
	SubmitWorkersMax() int

	AvailableWorkerSlotsByMeadowType(ctx context.Context) (map[string]int, error)
	PendingWorkerCountsByMeadowTypeAndRCName(ctx context.Context) (map[string]map[string]int, error)
}

// StaticValley is the default Valley: a fixed set of drivers configured at
// startup (from internal/platform/hiveconfig), federated by fanning queries
// out across meadows concurrently with errgroup — the same pattern the
// teacher used to fan work out across goroutines in its worker pool, adapted
// here to fan reads out across backends instead of jobs across workers.
type StaticValley struct {
	drivers        map[string]Driver // keyed by meadow_type
	defaultMeadow  string
	submitWorkersMax int
	log            *logger.Logger
}

func NewStaticValley(drivers []Driver, defaultMeadowType string, submitWorkersMax int, baseLog *logger.Logger) *StaticValley {
	byType := make(map[string]Driver, len(drivers))
	for _, d := range drivers {
		byType[d.Type()] = d
	}
	return &StaticValley{
		drivers:          byType,
		defaultMeadow:    defaultMeadowType,
		submitWorkersMax: submitWorkersMax,
		log:              baseLog.With("component", "Valley"),
	}
}

func (v *StaticValley) AvailableMeadows() []Driver {
	out := make([]Driver, 0, len(v.drivers))
	for _, d := range v.drivers {
		out = append(out, d)
	}
	return out
}

func (v *StaticValley) FindMeadowForWorker(w *domain.Worker) (Driver, bool) {
	d, ok := v.drivers[w.MeadowType]
	return d, ok
}

func (v *StaticValley) DefaultMeadow() (Driver, bool) {
	d, ok := v.drivers[v.defaultMeadow]
	return d, ok
}

func (v *StaticValley) SubmitWorkersMax() int { return v.submitWorkersMax }

func (v *StaticValley) AvailableWorkerSlotsByMeadowType(ctx context.Context) (map[string]int, error) {
	type result struct {
		meadowType string
		slots      int
	}
	results := make([]result, len(v.drivers))
	drivers := v.AvailableMeadows()

	g, gctx := errgroup.WithContext(ctx)
	for i, d := range drivers {
		i, d := i, d
		g.Go(func() error {
			slots, err := d.AvailableSlots(gctx)
			if err != nil {
				return fmt.Errorf("meadow %s/%s available slots: %w", d.Type(), d.Name(), err)
			}
			results[i] = result{meadowType: d.Type(), slots: slots}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]int, len(results))
	for _, r := range results {
		out[r.meadowType] = r.slots
	}
	return out, nil
}

func (v *StaticValley) PendingWorkerCountsByMeadowTypeAndRCName(ctx context.Context) (map[string]map[string]int, error) {
	type result struct {
		meadowType string
		counts     map[string]int
	}
	drivers := v.AvailableMeadows()
	results := make([]result, len(drivers))

	g, gctx := errgroup.WithContext(ctx)
	for i, d := range drivers {
		i, d := i, d
		g.Go(func() error {
			counts, err := d.PendingCounts(gctx)
			if err != nil {
				return fmt.Errorf("meadow %s/%s pending counts: %w", d.Type(), d.Name(), err)
			}
			results[i] = result{meadowType: d.Type(), counts: counts}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]map[string]int, len(results))
	for _, r := range results {
		out[r.meadowType] = r.counts
	}
	return out, nil
}
