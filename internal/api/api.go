// Package api implements the Control API (spec.md §6 / SPEC_FULL §4.10):
// one Hertz HTTP server whose handlers are thin adapters over
// coredb/scheduler/dispatcher/sqlgateway/providerqueue/memsum calls, no
// business logic in the HTTP layer itself — the same shape as the
// teacher's internal/gateway.Gateway (a hertz.Hertz plus delegated
// registries), narrowed here to one flat handler set instead of a
// per-channel route provider since the Control API has no channel
// abstraction to route through.
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	hzServer "github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	hertzprom "github.com/hertz-contrib/monitor-prometheus"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zubot/central/internal/coredb"
	"github.com/zubot/central/internal/dispatcher"
	"github.com/zubot/central/internal/housekeeping"
	"github.com/zubot/central/internal/memsum"
	"github.com/zubot/central/internal/pkg/logs"
	"github.com/zubot/central/internal/providerqueue"
	"github.com/zubot/central/internal/scheduler"
	"github.com/zubot/central/internal/sqlgateway"
)

// Options configures a Server.
type Options struct {
	Bind           string // e.g. "127.0.0.1:8090"
	TracerBind     string // internal Prometheus tracer listener, defaults to ":9091"
	Store          *coredb.Store
	Scheduler      *scheduler.Scheduler
	Dispatcher     *dispatcher.Dispatcher
	SQLGateway     *sqlgateway.Gateway
	ProviderQueues *providerqueue.Registry
	Memsum         *memsum.Pipeline
	Housekeeping   *housekeeping.Keeper

	// QueueWarningThreshold and RunningAgeWarningSec feed /status's
	// warnings list (spec §6 "Runtime state... warnings").
	QueueWarningThreshold int
	RunningAgeWarningSec  int
}

// Server owns the Hertz instance and every subsystem handle it delegates
// requests to.
type Server struct {
	opts Options
	hz   *hzServer.Hertz

	mu        sync.Mutex
	running   bool
	runCtx    context.Context
	runCancel context.CancelFunc
}

// New constructs a Server, not yet listening. reg is the Prometheus
// registry backing both the Hertz request tracer (hertz-contrib/
// monitor-prometheus, a teacher go.mod dependency otherwise wired
// nowhere) and this package's own domain gauges exposed on
// GET /api/central/metrics.
func New(opts Options) *Server {
	tracerBind := opts.TracerBind
	if tracerBind == "" {
		tracerBind = ":9091"
	}
	reg := prometheus.NewRegistry()
	tracer := hertzprom.NewServerTracer(tracerBind, "/hertz_metrics", hertzprom.WithRegistry(reg))

	hz := hzServer.Default(
		hzServer.WithHostPorts(opts.Bind),
		hzServer.WithReadTimeout(30*time.Second),
		hzServer.WithWriteTimeout(30*time.Second),
		hzServer.WithExitWaitTime(5*time.Second),
		hzServer.WithTracer(tracer),
	)

	s := &Server{opts: opts, hz: hz}
	s.registerRoutes(reg)
	return s
}

// Hertz exposes the underlying server so other bootstrap code (the Lark
// channel's webhook handler) can register routes on the same listener
// instead of opening a second port.
func (s *Server) Hertz() *hzServer.Hertz {
	return s.hz
}

// Listen starts the Hertz HTTP server itself (separate from Start/Stop,
// which toggle the core loops per spec.md's "/start"/"/stop" effect — the
// HTTP server keeps answering requests like /status even while the loops
// are stopped).
func (s *Server) Listen() {
	go s.hz.Spin()
}

// Start launches the core loops (Scheduler, Dispatcher, SQL Gateway,
// Memsum) under a fresh context, idempotent per spec.md's documented
// "POST /api/central/start (idempotent)".
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	if s.opts.SQLGateway != nil {
		s.opts.SQLGateway.Start(s.runCtx)
	}
	if s.opts.Scheduler != nil {
		s.opts.Scheduler.Start(s.runCtx)
	}
	if s.opts.Dispatcher != nil {
		s.opts.Dispatcher.Start(s.runCtx)
	}
	if s.opts.Memsum != nil {
		s.opts.Memsum.Start(s.runCtx)
	}
	if s.opts.Housekeeping != nil {
		s.opts.Housekeeping.Start(s.runCtx)
	}
	s.running = true
}

// Stop halts the core loops, idempotent per spec.md's "POST
// /api/central/stop (idempotent)".
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	if s.opts.Housekeeping != nil {
		s.opts.Housekeeping.Stop()
	}
	if s.opts.Memsum != nil {
		s.opts.Memsum.Stop()
	}
	if s.opts.Dispatcher != nil {
		s.opts.Dispatcher.Stop()
	}
	if s.opts.Scheduler != nil {
		s.opts.Scheduler.Stop()
	}
	if s.opts.SQLGateway != nil {
		s.opts.SQLGateway.Stop()
	}
	if s.runCancel != nil {
		s.runCancel()
	}
	s.running = false
}

// IsRunning reports whether Start has been called without a matching Stop.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Server) registerRoutes(reg *prometheus.Registry) {
	s.hz.GET("/health", func(ctx context.Context, c *app.RequestContext) {
		c.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})

	s.hz.GET("/api/central/status", s.handleStatus)
	s.hz.POST("/api/central/start", s.handleStart)
	s.hz.POST("/api/central/stop", s.handleStop)
	s.hz.GET("/api/central/metrics", s.handleMetrics(reg))

	s.hz.GET("/api/central/tasks", s.handleListTasks)
	s.hz.POST("/api/central/tasks", s.handleCreateTask)
	s.hz.GET("/api/central/tasks/:task_id", s.handleGetTask)
	s.hz.DELETE("/api/central/tasks/:task_id", s.handleDeleteTask)

	s.hz.GET("/api/central/schedules", s.handleListSchedules)
	s.hz.POST("/api/central/schedules", s.handleCreateSchedule)
	s.hz.GET("/api/central/schedules/:schedule_id", s.handleGetSchedule)
	s.hz.DELETE("/api/central/schedules/:schedule_id", s.handleDeleteSchedule)

	s.hz.GET("/api/central/runs", s.handleListRuns)
	s.hz.GET("/api/central/runs/waiting", s.handleListWaitingRuns)
	s.hz.POST("/api/central/trigger/:task_id", s.handleTrigger)
	s.hz.POST("/api/central/agentic/enqueue", s.handleAgenticEnqueue)
	s.hz.POST("/api/central/runs/:run_id/kill", s.handleKillRun)
	s.hz.POST("/api/central/runs/:run_id/resume", s.handleResumeRun)

	s.hz.POST("/api/central/sql", s.handleSQL)

	s.hz.POST("/api/central/task-state/upsert", s.handleTaskStateUpsert)
	s.hz.POST("/api/central/task-state/get", s.handleTaskStateGet)
	s.hz.POST("/api/central/task-seen/mark", s.handleTaskSeenMark)
	s.hz.POST("/api/central/task-seen/has", s.handleTaskSeenHas)
}

func writeError(ctx context.Context, c *app.RequestContext, status int, err error) {
	logs.CtxWarn(ctx, "[api] %s %s -> %v", c.Method(), c.Path(), err)
	c.JSON(status, utils.H{"error": err.Error()})
}

func badRequest(c *app.RequestContext, format string, args ...any) {
	c.JSON(consts.StatusBadRequest, utils.H{"error": fmt.Sprintf(format, args...)})
}
