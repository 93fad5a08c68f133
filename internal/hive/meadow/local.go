package meadow

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gohive/queen/internal/domain"
	"github.com/gohive/queen/internal/platform/logger"
)

// Local is a reference Driver that runs "workers" as local goroutines instead
// of submitting to an external scheduler like LSF. It exists for tests and for
// a single-node beekeeper deployment with no external compute backend.
//
// It is adapted from the teacher's jobs/worker/worker.go goroutine-pool: each
// submitted worker becomes one goroutine that sleeps for a simulated runtime
// then removes itself from the live-process map, the same shape as the
// teacher's runLoop claiming and then finishing one job per tick, except here
// each goroutine IS the simulated OS process the meadow contract tracks
// rather than a job handler.
type Local struct {
	name string
	slots int

	mu      sync.Mutex
	running map[string]string // process_id -> status

	minRuntime, maxRuntime time.Duration

	log *logger.Logger
}

func NewLocal(name string, slots int, minRuntime, maxRuntime time.Duration, baseLog *logger.Logger) *Local {
	return &Local{
		name:       name,
		slots:      slots,
		running:    make(map[string]string),
		minRuntime: minRuntime,
		maxRuntime: maxRuntime,
		log:        baseLog.With("component", "LocalMeadow", "meadow_name", name),
	}
}

func (l *Local) Type() string { return "LOCAL" }
func (l *Local) Name() string { return l.name }

func (l *Local) StatusOfAllOurWorkers(ctx context.Context) (map[string]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]string, len(l.running))
	for pid, status := range l.running {
		out[pid] = status
	}
	return out, nil
}

// SupportsFindOutCauses is false: a goroutine that exits clears its own
// process_id from the running map, so by the time check_for_dead_workers
// notices it is gone there is nothing left to ask about.
func (l *Local) SupportsFindOutCauses() bool { return false }

func (l *Local) FindOutCauses(ctx context.Context, processIDs []string) (map[string]domain.CauseOfDeath, error) {
	out := make(map[string]domain.CauseOfDeath, len(processIDs))
	for _, pid := range processIDs {
		out[pid] = domain.CauseUnknown
	}
	return out, nil
}

// Submit spawns count goroutines, one per requested worker, each holding a
// slot in the running map for a randomized simulated runtime. rc is accepted
// for interface conformance; the local driver doesn't vary runtime by
// resource class.
func (l *Local) Submit(ctx context.Context, rc *domain.ResourceClass, count int) error {
	for i := 0; i < count; i++ {
		pid := uuid.NewString()
		l.mu.Lock()
		l.running[pid] = "RUN"
		l.mu.Unlock()

		go func(pid string) {
			runtime := l.minRuntime
			if l.maxRuntime > l.minRuntime {
				runtime += time.Duration(rand.Int63n(int64(l.maxRuntime - l.minRuntime)))
			}
			select {
			case <-time.After(runtime):
			case <-ctx.Done():
			}
			l.mu.Lock()
			delete(l.running, pid)
			l.mu.Unlock()
		}(pid)
	}
	return nil
}

func (l *Local) PendingCounts(ctx context.Context) (map[string]int, error) {
	return map[string]int{}, nil
}

func (l *Local) AvailableSlots(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.slots < 0 {
		return -1, nil
	}
	free := l.slots - len(l.running)
	if free < 0 {
		free = 0
	}
	return free, nil
}
