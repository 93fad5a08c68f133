// Package notify broadcasts advisory lifecycle/sync events over Redis pub/sub
// so an operator or admin UI can observe the hive without polling it. These
// events are never authoritative — the database remains the single source of
// truth per spec.md §5 — this resolves SPEC_FULL.md §12's supplemented
// observability requirement, adapted from the teacher's SSE-style
// JobNotifier (internal/services' job_notifier, read for pattern only: this
// package fans out over Redis instead of Server-Sent Events because the
// coordinator has no HTTP long-lived client to push to directly).
package notify

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/gohive/queen/internal/platform/logger"
)

// Channel names the well-known Redis pub/sub channel the coordinator
// broadcasts on.
const Channel = "hive:events"

// Event is the payload published for every advisory notification.
type Event struct {
	Kind       string `json:"kind"` // "sync_lock_reclaimed" | "worker_died" | "analysis_status_changed"
	AnalysisID int64  `json:"analysis_id,omitempty"`
	WorkerID   uint64 `json:"worker_id,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// HiveNotifier is the narrow publish-only contract the Queen depends on.
type HiveNotifier interface {
	Publish(ctx context.Context, ev Event) error
}

// NoOp discards every event; it is the default when no notifier is
// configured, so the Queen never needs a nil check at call sites.
type NoOp struct{}

func (NoOp) Publish(context.Context, Event) error { return nil }

// Redis publishes events to Channel via go-redis. The Queen's callers
// discard Publish errors, treating notification as best-effort (it is
// advisory, never authoritative).
type Redis struct {
	client *redis.Client
	log    *logger.Logger
}

func NewRedis(client *redis.Client, baseLog *logger.Logger) *Redis {
	return &Redis{client: client, log: baseLog.With("component", "HiveNotifier")}
}

func (r *Redis) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, Channel, payload).Err()
}
