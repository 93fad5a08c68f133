// Package httpapi exposes the admin/observability HTTP surface SPEC_FULL.md
// §12 adds on top of spec.md's coordinator core: health, read-only listings
// of analyses and workers, and a dry-run preview of schedule_workers that
// computes a plan without submitting anything. Grounded on the teacher's
// internal/server/router.go + internal/handlers package shape (gin.Engine +
// cors.New + a handler struct with a *logger.Logger field), trimmed down
// from its auth/SSE/course surface to the handful of read endpoints a
// coordinator needs.
package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/gohive/queen/internal/data/repos"
	"github.com/gohive/queen/internal/hive/meadow"
	"github.com/gohive/queen/internal/hive/queen"
	"github.com/gohive/queen/internal/platform/dbctx"
	"github.com/gohive/queen/internal/platform/logger"
)

// Handlers bundles everything the admin surface reads from. It never writes
// to the hive tables directly; every mutation still flows through Queen's
// own methods (spec.md §5, "workers pull, nothing here pushes work").
type Handlers struct {
	log    *logger.Logger
	repos  *repos.Repos
	q      *queen.Queen
	valley meadow.Valley

	defaultMeadowType string
	submitLimit       int
}

func NewHandlers(log *logger.Logger, r *repos.Repos, q *queen.Queen, v meadow.Valley, defaultMeadowType string, submitLimit int) *Handlers {
	return &Handlers{
		log:               log.With("component", "httpapi"),
		repos:             r,
		q:                 q,
		valley:            v,
		defaultMeadowType: defaultMeadowType,
		submitLimit:       submitLimit,
	}
}

// NewRouter wires the admin surface's routes. allowOrigins mirrors the
// teacher's cors.Config shape; an empty list disables cross-origin requests
// entirely (this surface is meant for same-host ops tooling, not a browser
// SPA, so that's a reasonable default).
func NewRouter(h *Handlers, allowOrigins []string) *gin.Engine {
	router := gin.Default()

	if len(allowOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins: allowOrigins,
			AllowMethods: []string{"GET", "POST"},
			AllowHeaders: []string{"Content-Type"},
		}))
	}

	router.GET("/healthz", h.HealthCheck)

	v1 := router.Group("/v1")
	{
		v1.GET("/analyses", h.ListAnalyses)
		v1.GET("/workers", h.ListWorkers)
		v1.POST("/schedule/preview", h.SchedulePreview)
	}

	return router
}

func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// analysisView pairs an analysis_base row with its analysis_stats aggregate,
// so an operator doesn't have to cross-reference two endpoints to see hive
// health for one analysis.
type analysisView struct {
	Analysis interface{} `json:"analysis"`
	Stats    interface{} `json:"stats,omitempty"`
}

// ListAnalyses returns every analysis_base row with its current
// analysis_stats aggregate, for an operator to eyeball hive health.
func (h *Handlers) ListAnalyses(c *gin.Context) {
	dbc := dbctx.Context{Ctx: c.Request.Context()}

	analyses, err := h.repos.Analysis.List(dbc)
	if err != nil {
		h.log.Error("ListAnalyses: list analyses failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load analyses"})
		return
	}

	out := make([]analysisView, 0, len(analyses))
	for _, a := range analyses {
		stats, err := h.repos.AnalysisStats.GetByAnalysisID(dbc, a.AnalysisID)
		if err != nil {
			out = append(out, analysisView{Analysis: a})
			continue
		}
		out = append(out, analysisView{Analysis: a, Stats: stats})
	}
	c.JSON(http.StatusOK, gin.H{"analyses": out})
}

// ListWorkers returns every worker currently considered alive (spec.md §3,
// not yet DEAD). ?analysis_id restricts the listing to one analysis.
func (h *Handlers) ListWorkers(c *gin.Context) {
	dbc := dbctx.Context{Ctx: c.Request.Context()}

	if aidStr := c.Query("analysis_id"); aidStr != "" {
		aid, err := strconv.ParseInt(aidStr, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid analysis_id"})
			return
		}
		workers, err := h.repos.Worker.ListAliveByAnalysis(dbc, aid)
		if err != nil {
			h.log.Error("ListWorkers: list by analysis failed", "error", err, "analysis_id", aid)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load workers"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"workers": workers})
		return
	}

	workers, err := h.repos.Worker.ListAlive(dbc)
	if err != nil {
		h.log.Error("ListWorkers: list alive failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load workers"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"workers": workers})
}

// schedulePreviewRequest mirrors ScheduleWorkers' own parameters; a nil
// AnalysisID means a full hive-wide preview.
type schedulePreviewRequest struct {
	AnalysisID *int64 `json:"analysis_id"`
}

// SchedulePreview runs ScheduleWorkers (not the *_resync_if_necessary
// variant, since a dry run should never have the side effect of forcing a
// GC+resync pass) and returns the plan without submitting anything to any
// meadow.
func (h *Handlers) SchedulePreview(c *gin.Context) {
	var req schedulePreviewRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	ctx := c.Request.Context()
	dbc := dbctx.Context{Ctx: ctx}

	slots, err := h.valley.AvailableWorkerSlotsByMeadowType(ctx)
	if err != nil {
		h.log.Error("SchedulePreview: valley slots failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to query meadow capacity"})
		return
	}
	pending, err := h.valley.PendingWorkerCountsByMeadowTypeAndRCName(ctx)
	if err != nil {
		h.log.Error("SchedulePreview: valley pending failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to query meadow pending counts"})
		return
	}

	result, err := h.q.ScheduleWorkers(dbc, req.AnalysisID, h.submitLimit, slots, pending, h.defaultMeadowType)
	if err != nil {
		h.log.Error("SchedulePreview: schedule failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":            result.Total,
		"by_meadow_and_rc": result.ByMeadowAndRC,
	})
}
