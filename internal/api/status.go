package api

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zubot/central/internal/coredb"
)

// handleStatus answers GET /api/central/status: runtime state, the slot
// table, counters, and warnings (spec §6).
func (s *Server) handleStatus(ctx context.Context, c *app.RequestContext) {
	active, err := s.opts.Store.ListActiveRuns(ctx)
	if err != nil {
		writeError(ctx, c, consts.StatusInternalServerError, err)
		return
	}
	waiting, err := s.opts.Store.ListWaitingRuns(ctx)
	if err != nil {
		writeError(ctx, c, consts.StatusInternalServerError, err)
		return
	}

	var slots []map[string]any
	if s.opts.Dispatcher != nil {
		for _, slot := range s.opts.Dispatcher.Slots() {
			slots = append(slots, map[string]any{
				"slot_id": slot.SlotID, "state": slot.State, "run_id": slot.RunID,
				"task_id": slot.TaskID, "started_at": slot.StartedAt, "last_run_id": slot.LastRunID,
				"last_status": slot.LastStatus, "last_finished": slot.LastFinished,
			})
		}
	}

	warnings := s.computeWarnings(active)

	c.JSON(consts.StatusOK, utils.H{
		"running":        s.IsRunning(),
		"active_runs":    len(active),
		"waiting_runs":   len(waiting),
		"slots":          slots,
		"warnings":       warnings,
		"provider_queue": s.providerQueueStats(),
	})
}

func (s *Server) computeWarnings(active []coredb.Run) []string {
	var warnings []string
	now := time.Now()
	runningAgeWarn := time.Duration(s.opts.RunningAgeWarningSec) * time.Second
	if runningAgeWarn <= 0 {
		runningAgeWarn = 30 * time.Minute
	}
	for _, r := range active {
		if r.Status == coredb.RunRunning && r.StartedAt != nil && now.Sub(*r.StartedAt) > runningAgeWarn {
			warnings = append(warnings, fmt.Sprintf("run %s has been running for over %s", r.RunID, runningAgeWarn))
		}
	}

	threshold := s.opts.QueueWarningThreshold
	if threshold <= 0 {
		threshold = 20
	}
	queued := 0
	for _, r := range active {
		if r.Status == coredb.RunQueued {
			queued++
		}
	}
	if queued >= threshold {
		warnings = append(warnings, fmt.Sprintf("queue depth %d at or above warning threshold %d", queued, threshold))
	}
	return warnings
}

func (s *Server) providerQueueStats() map[string]any {
	if s.opts.ProviderQueues == nil {
		return nil
	}
	out := make(map[string]any, 4)
	for group, stats := range s.opts.ProviderQueues.Stats() {
		out[group] = stats
	}
	return out
}

func (s *Server) handleStart(ctx context.Context, c *app.RequestContext) {
	s.Start(ctx)
	c.JSON(consts.StatusOK, utils.H{"running": true})
}

func (s *Server) handleStop(ctx context.Context, c *app.RequestContext) {
	s.Stop()
	c.JSON(consts.StatusOK, utils.H{"running": false})
}

// handleMetrics answers GET /api/central/metrics with queue depth,
// oldest-queued age, longest-running age, and waiting counts (spec §6),
// and records the same gauges into reg so they're also scraped by the
// Hertz request tracer's own Prometheus endpoint.
func (s *Server) handleMetrics(reg *prometheus.Registry) app.HandlerFunc {
	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{Name: "central_queue_depth", Help: "Number of queued runs."})
	oldestQueuedAge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "central_oldest_queued_age_seconds", Help: "Age in seconds of the oldest queued run."})
	longestRunningAge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "central_longest_running_age_seconds", Help: "Age in seconds of the longest-running run."})
	waitingCount := prometheus.NewGauge(prometheus.GaugeOpts{Name: "central_waiting_for_user_count", Help: "Number of runs waiting for user input."})
	reg.MustRegister(queueDepth, oldestQueuedAge, longestRunningAge, waitingCount)

	return func(ctx context.Context, c *app.RequestContext) {
		active, err := s.opts.Store.ListActiveRuns(ctx)
		if err != nil {
			writeError(ctx, c, consts.StatusInternalServerError, err)
			return
		}
		waiting, err := s.opts.Store.ListWaitingRuns(ctx)
		if err != nil {
			writeError(ctx, c, consts.StatusInternalServerError, err)
			return
		}

		now := time.Now()
		var depth int
		var oldestQueued, longestRunning time.Duration
		for _, r := range active {
			switch r.Status {
			case coredb.RunQueued:
				depth++
				if age := now.Sub(r.QueuedAt); age > oldestQueued {
					oldestQueued = age
				}
			case coredb.RunRunning:
				if r.StartedAt != nil {
					if age := now.Sub(*r.StartedAt); age > longestRunning {
						longestRunning = age
					}
				}
			}
		}

		queueDepth.Set(float64(depth))
		oldestQueuedAge.Set(oldestQueued.Seconds())
		longestRunningAge.Set(longestRunning.Seconds())
		waitingCount.Set(float64(len(waiting)))

		c.JSON(consts.StatusOK, utils.H{
			"queue_depth":                  depth,
			"oldest_queued_age_seconds":    oldestQueued.Seconds(),
			"longest_running_age_seconds":  longestRunning.Seconds(),
			"waiting_for_user_count":       len(waiting),
		})
	}
}
