// Package tracing wires up OpenTelemetry spans around the two hot paths the
// SPEC_FULL.md §12 ambient stack calls for: one span per scheduler pass and
// one per synchronizer run, so a slow meadow query or a lock-contention storm
// shows up without reading logs line by line. Adapted from the teacher's
// internal/observability/otel.go, trimmed to the stdout exporter only: this
// module's go.mod deliberately drops the otlptracehttp contrib package (see
// DESIGN.md), so there is no OTLP collector endpoint to ship spans to.
package tracing

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/gohive/queen/internal/platform/logger"
	"github.com/gohive/queen/internal/utils"
)

const tracerName = "github.com/gohive/queen/hive"

var (
	initOnce sync.Once
	shutdown func(context.Context) error
)

// Init installs a TracerProvider. Enabled by HIVE_TRACING_ENABLED (default
// off, since the stdout exporter is noisy); call the returned shutdown func
// before process exit to flush.
func Init(ctx context.Context, log *logger.Logger, serviceName string) func(context.Context) error {
	initOnce.Do(func() {
		if !enabled(log) {
			shutdown = func(context.Context) error { return nil }
			return
		}

		res, err := resource.New(ctx, resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.component", "hive-coordinator"),
		))
		if err != nil && log != nil {
			log.Warn("tracing: resource init failed, continuing without resource attrs", "error", err)
		}

		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			if log != nil {
				log.Warn("tracing: exporter init failed, tracing disabled", "error", err)
			}
			shutdown = func(context.Context) error { return nil }
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		shutdown = tp.Shutdown
		if log != nil {
			log.Info("tracing initialized", "service", serviceName)
		}
	})
	return shutdown
}

func enabled(log *logger.Logger) bool {
	v := strings.ToLower(strings.TrimSpace(utils.GetEnv("HIVE_TRACING_ENABLED", "false", log)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

// Tracer returns the package-wide tracer, safe to call whether or not Init
// ran (the global no-op provider is used otherwise).
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSchedulerPass spans one schedule_workers[_resync_if_necessary] call.
func StartSchedulerPass(ctx context.Context, analysisID *int64) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{}
	if analysisID != nil {
		attrs = append(attrs, attribute.Int64("hive.analysis_id", *analysisID))
	} else {
		attrs = append(attrs, attribute.Bool("hive.all_analyses", true))
	}
	return Tracer().Start(ctx, "hive.schedule_workers", trace.WithAttributes(attrs...))
}

// StartSync spans one safe_synchronize_AnalysisStats call.
func StartSync(ctx context.Context, analysisID int64) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "hive.synchronize_analysis_stats",
		trace.WithAttributes(attribute.Int64("hive.analysis_id", analysisID)))
}
