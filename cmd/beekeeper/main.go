// Command beekeeper is the coordinator process: it loads a valley roster
// (internal/platform/hiveconfig), seeds the resource classes and analyses it
// names, then alternates scheduling passes and stats synchronization forever,
// the same "app wires everything then runs the server/worker loop" shape as
// the teacher's cmd/main.go (app.New / a.Start / a.Run), except the
// long-running loop here is the scheduling tick itself rather than an HTTP
// server — the admin HTTP surface runs alongside it, not instead of it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gohive/queen/internal/data/db"
	"github.com/gohive/queen/internal/data/repos"
	"github.com/gohive/queen/internal/domain"
	"github.com/gohive/queen/internal/hive/meadow"
	"github.com/gohive/queen/internal/hive/notify"
	"github.com/gohive/queen/internal/hive/queen"
	"github.com/gohive/queen/internal/httpapi"
	"github.com/gohive/queen/internal/platform/dbctx"
	"github.com/gohive/queen/internal/platform/hiveconfig"
	"github.com/gohive/queen/internal/platform/logger"
	"github.com/gohive/queen/internal/platform/tracing"
	"github.com/gohive/queen/internal/utils"
)

func envTrue(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func main() {
	log, err := logger.New(utils.GetEnv("HIVE_LOG_MODE", "prod", nil))
	if err != nil {
		fmt.Printf("failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := tracing.Init(ctx, log, "hive-beekeeper")
	defer shutdownTracing(context.Background())

	cfg, err := hiveconfig.Load()
	if err != nil {
		log.Fatal("load hiveconfig failed", "error", err)
	}

	svc, err := db.New(log)
	if err != nil {
		log.Fatal("db connect failed", "error", err)
	}
	if err := db.AutoMigrateAll(svc.DB()); err != nil {
		log.Fatal("automigrate failed", "error", err)
	}

	r := repos.New(svc.DB(), svc.Dialect(), log)
	if err := seedConfig(dbctx.Background(), r, cfg); err != nil {
		log.Fatal("seed hiveconfig failed", "error", err)
	}

	valley, err := buildValley(cfg, log)
	if err != nil {
		log.Fatal("build valley failed", "error", err)
	}

	notifier := buildNotifier(log)

	q := queen.New(svc.DB(), r, valley, notifier, queen.DefaultConfig(), log)

	handlers := httpapi.NewHandlers(log, r, q, valley, cfg.DefaultMeadowType(), cfg.SubmitWorkersMax)
	router := httpapi.NewRouter(handlers, nil)

	runHTTP := envTrue("RUN_HTTP", true)
	if runHTTP {
		port := utils.GetEnv("HIVE_HTTP_PORT", "8080", log)
		go func() {
			log.Info("admin http surface listening", "port", port)
			if err := router.Run(":" + port); err != nil {
				log.Warn("admin http surface stopped", "error", err)
			}
		}()
	}

	tick := time.Duration(utils.GetEnvAsInt("HIVE_SCHEDULE_INTERVAL_SECONDS", 10, log)) * time.Second
	log.Info("beekeeper starting", "tick", tick, "default_meadow", cfg.DefaultMeadowType())
	runSchedulingLoop(ctx, log, q, r, valley, cfg, tick)
}

// seedConfig upserts the resource classes and analyses a fresh hiveconfig
// names, and creates each analysis' analysis_stats row if it is missing. A running hive's analysis_base rows are otherwise read-only from
// the Queen's perspective (spec.md §4.3); this is the one place that writes
// them, at startup only, and only via idempotent upserts.
func seedConfig(dbc dbctx.Context, r *repos.Repos, cfg hiveconfig.Config) error {
	rcByName := map[string]int64{}
	for _, rc := range cfg.ResourceClasses {
		row := &domain.ResourceClass{Name: rc.Name}
		if err := r.ResourceClass.Upsert(dbc, row); err != nil {
			return fmt.Errorf("seed resource_class %q: %w", rc.Name, err)
		}
		got, err := r.ResourceClass.GetByName(dbc, rc.Name)
		if err != nil {
			return fmt.Errorf("lookup resource_class %q: %w", rc.Name, err)
		}
		rcByName[rc.Name] = got.ResourceClassID
	}

	for _, a := range cfg.Analyses {
		rcID, ok := rcByName[a.ResourceClass]
		if !ok {
			return fmt.Errorf("analysis %q references unknown resource_class %q", a.LogicName, a.ResourceClass)
		}
		row := &domain.Analysis{
			LogicName:       a.LogicName,
			ResourceClassID: rcID,
			HiveCapacity:    a.HiveCapacity,
			BatchSize:       a.BatchSize,
		}
		if err := r.Analysis.Upsert(dbc, row); err != nil {
			return fmt.Errorf("seed analysis %q: %w", a.LogicName, err)
		}
		if _, err := r.AnalysisStats.GetOrCreate(dbc, row.AnalysisID); err != nil {
			return fmt.Errorf("seed analysis_stats for %q: %w", a.LogicName, err)
		}
	}
	return nil
}

func buildValley(cfg hiveconfig.Config, log *logger.Logger) (meadow.Valley, error) {
	drivers := make([]meadow.Driver, 0, len(cfg.Meadows))
	for _, m := range cfg.Meadows {
		switch m.Type {
		case "LOCAL":
			minRuntime := time.Duration(m.MinRuntimeSeconds) * time.Second
			maxRuntime := time.Duration(m.MaxRuntimeSeconds) * time.Second
			if maxRuntime <= 0 {
				maxRuntime = minRuntime + time.Second
			}
			drivers = append(drivers, meadow.NewLocal(m.Name, m.Slots, minRuntime, maxRuntime, log))
		default:
			return nil, fmt.Errorf("unsupported meadow type %q (only LOCAL ships a driver in this build)", m.Type)
		}
	}
	return meadow.NewStaticValley(drivers, cfg.DefaultMeadowType(), cfg.SubmitWorkersMax, log), nil
}

func buildNotifier(log *logger.Logger) notify.HiveNotifier {
	addr := strings.TrimSpace(utils.GetEnv("HIVE_REDIS_ADDR", "", log))
	if addr == "" {
		log.Info("HIVE_REDIS_ADDR unset, notifications disabled")
		return notify.NoOp{}
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	return notify.NewRedis(client, log)
}

// runSchedulingLoop alternates a synchronize pass and a schedule pass every
// tick until ctx is cancelled, the same "sequence of reads+writes, no
// internal threading" shape spec.md §5 requires within a single coordinator.
func runSchedulingLoop(ctx context.Context, log *logger.Logger, q *queen.Queen, r *repos.Repos, valley meadow.Valley, cfg hiveconfig.Config, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("beekeeper shutting down")
			return
		case <-ticker.C:
			runOnePass(ctx, log, q, r, valley, cfg)
		}
	}
}

func runOnePass(ctx context.Context, log *logger.Logger, q *queen.Queen, r *repos.Repos, valley meadow.Valley, cfg hiveconfig.Config) {
	dbc := dbctx.Context{Ctx: ctx}

	if _, err := q.CheckForDeadWorkers(dbc, valley, false); err != nil {
		log.Warn("check_for_dead_workers failed", "error", err)
		return
	}

	analyses, err := r.Analysis.List(dbc)
	if err != nil {
		log.Warn("list analyses failed", "error", err)
		return
	}
	for _, a := range analyses {
		syncCtx, span := tracing.StartSync(ctx, a.AnalysisID)
		_, err := q.SafeSynchronizeAnalysisStats(dbctx.Context{Ctx: syncCtx}, a.AnalysisID)
		span.End()
		if err != nil {
			log.Warn("safe_synchronize_analysis_stats failed", "analysis_id", a.AnalysisID, "error", err)
		}
	}

	scheduleCtx, span := tracing.StartSchedulerPass(ctx, nil)
	result, err := q.ScheduleWorkersResyncIfNecessary(dbctx.Context{Ctx: scheduleCtx}, valley, nil, cfg.SubmitWorkersMax, cfg.DefaultMeadowType())
	span.End()
	if err != nil {
		log.Warn("schedule_workers failed", "error", err)
		return
	}
	if result.Total == 0 {
		return
	}
	log.Info("schedule pass computed a plan", "total", result.Total, "by_meadow_and_rc", result.ByMeadowAndRC)
	submitPlan(dbctx.Context{Ctx: ctx}, log, r, valley, result)
}

// submitPlan hands schedule_workers' plan to each meadow driver's Submit
// (spec.md §6's meadow driver contract); it is the only place that mutates
// meadow state. The worker rows those submissions eventually produce are
// created by the worker process itself on boot (spec.md §1, "individual
// worker process logic" is out of scope for this core), not here.
func submitPlan(dbc dbctx.Context, log *logger.Logger, r *repos.Repos, valley meadow.Valley, result queen.ScheduleResult) {
	driversByType := map[string]meadow.Driver{}
	for _, d := range valley.AvailableMeadows() {
		driversByType[d.Type()] = d
	}

	for meadowType, byRC := range result.ByMeadowAndRC {
		driver, ok := driversByType[meadowType]
		if !ok {
			log.Warn("schedule plan referenced unknown meadow type", "meadow_type", meadowType)
			continue
		}
		for rcName, count := range byRC {
			if count <= 0 {
				continue
			}
			rc, err := r.ResourceClass.GetByName(dbc, rcName)
			if err != nil {
				log.Warn("submit: resource class lookup failed", "resource_class", rcName, "error", err)
				continue
			}
			submitCtx, cancel := context.WithTimeout(dbc.Ctx, 30*time.Second)
			err = driver.Submit(submitCtx, rc, count)
			cancel()
			if err != nil {
				log.Warn("submit failed", "meadow_type", meadowType, "resource_class", rcName, "count", count, "error", err)
				continue
			}
			log.Info("submitted workers", "meadow_type", meadowType, "resource_class", rcName, "count", count)
		}
	}
}
