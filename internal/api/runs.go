package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"

	"github.com/zubot/central/internal/coredb"
)

func (s *Server) handleListRuns(ctx context.Context, c *app.RequestContext) {
	runs, err := s.opts.Store.ListActiveRuns(ctx)
	if err != nil {
		writeError(ctx, c, consts.StatusInternalServerError, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"runs": runs})
}

func (s *Server) handleListWaitingRuns(ctx context.Context, c *app.RequestContext) {
	runs, err := s.opts.Store.ListWaitingRuns(ctx)
	if err != nil {
		writeError(ctx, c, consts.StatusInternalServerError, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"runs": runs})
}

type triggerRequest struct {
	PayloadJSON string `json:"payload_json"`
}

// handleTrigger answers POST /api/central/trigger/:task_id: it enqueues a
// manual, one-off Run of an existing task profile, honoring the same
// no-overlap invariant the Scheduler's heartbeat enforces (spec §4.3).
func (s *Server) handleTrigger(ctx context.Context, c *app.RequestContext) {
	taskID := c.Param("task_id")
	profile, err := s.opts.Store.GetTaskProfile(ctx, taskID)
	if err != nil && !errors.Is(err, coredb.ErrNotFound) {
		writeError(ctx, c, consts.StatusInternalServerError, err)
		return
	}
	if profile == nil {
		c.JSON(consts.StatusNotFound, utils.H{"error": "task not found"})
		return
	}
	if !profile.Enabled {
		badRequest(c, "task %q is disabled", taskID)
		return
	}

	var req triggerRequest
	if len(c.GetRequest().Body()) > 0 {
		if err := sonic.Unmarshal(c.GetRequest().Body(), &req); err != nil {
			badRequest(c, "invalid request body: %v", err)
			return
		}
	}

	active, err := s.opts.Store.HasActiveRunForProfile(ctx, profile.TaskID)
	if err != nil {
		writeError(ctx, c, consts.StatusInternalServerError, err)
		return
	}
	if active {
		c.JSON(consts.StatusConflict, utils.H{"error": fmt.Sprintf("task %q already has an active run", taskID)})
		return
	}

	run := coredb.Run{
		RunID:       uuid.NewString(),
		ProfileID:   profile.TaskID,
		Status:      coredb.RunQueued,
		QueuedAt:    time.Now(),
		PayloadJSON: req.PayloadJSON,
	}
	if err := s.opts.Store.EnqueueRun(ctx, run); err != nil {
		writeError(ctx, c, consts.StatusInternalServerError, err)
		return
	}
	c.JSON(consts.StatusCreated, run)
}

type agenticEnqueueRequest struct {
	Model       string `json:"model"`
	Prompt      string `json:"prompt"`
	QueueGroup  string `json:"queue_group"`
	ProfileID   string `json:"profile_id"`
}

// handleAgenticEnqueue answers POST /api/central/agentic/enqueue: a
// convenience route that enqueues a one-off agentic Run with inline
// instructions against the agentic_note example profile (or another
// agentic profile_id supplied by the caller) without requiring the caller
// to first create a TaskProfile of its own.
func (s *Server) handleAgenticEnqueue(ctx context.Context, c *app.RequestContext) {
	var req agenticEnqueueRequest
	if err := sonic.Unmarshal(c.GetRequest().Body(), &req); err != nil {
		badRequest(c, "invalid request body: %v", err)
		return
	}
	if req.Prompt == "" {
		badRequest(c, "prompt is required")
		return
	}
	profileID := req.ProfileID
	if profileID == "" {
		profileID = "agentic_note"
	}

	profile, err := s.opts.Store.GetTaskProfile(ctx, profileID)
	if err != nil && !errors.Is(err, coredb.ErrNotFound) {
		writeError(ctx, c, consts.StatusInternalServerError, err)
		return
	}
	if profile == nil || profile.Kind != coredb.KindAgentic {
		c.JSON(consts.StatusNotFound, utils.H{"error": fmt.Sprintf("no agentic task profile %q", profileID)})
		return
	}

	payload, err := sonic.MarshalString(map[string]string{"model": req.Model, "prompt": req.Prompt})
	if err != nil {
		writeError(ctx, c, consts.StatusInternalServerError, err)
		return
	}

	run := coredb.Run{
		RunID:       uuid.NewString(),
		ProfileID:   profile.TaskID,
		Status:      coredb.RunQueued,
		QueuedAt:    time.Now(),
		PayloadJSON: payload,
	}
	if err := s.opts.Store.EnqueueRun(ctx, run); err != nil {
		writeError(ctx, c, consts.StatusInternalServerError, err)
		return
	}
	c.JSON(consts.StatusCreated, run)
}

func (s *Server) handleKillRun(ctx context.Context, c *app.RequestContext) {
	runID := c.Param("run_id")
	if s.opts.Dispatcher == nil {
		writeError(ctx, c, consts.StatusServiceUnavailable, fmt.Errorf("dispatcher not wired"))
		return
	}
	if err := s.opts.Dispatcher.Kill(ctx, runID); err != nil {
		writeError(ctx, c, consts.StatusInternalServerError, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"killed": runID})
}

type resumeRequest struct {
	MergedPayloadJSON string `json:"merged_payload_json"`
}

func (s *Server) handleResumeRun(ctx context.Context, c *app.RequestContext) {
	runID := c.Param("run_id")
	if s.opts.Dispatcher == nil {
		writeError(ctx, c, consts.StatusServiceUnavailable, fmt.Errorf("dispatcher not wired"))
		return
	}

	var req resumeRequest
	if err := sonic.Unmarshal(c.GetRequest().Body(), &req); err != nil {
		badRequest(c, "invalid request body: %v", err)
		return
	}
	if req.MergedPayloadJSON == "" {
		badRequest(c, "merged_payload_json is required")
		return
	}

	if err := s.opts.Dispatcher.Resume(ctx, runID, req.MergedPayloadJSON); err != nil {
		writeError(ctx, c, consts.StatusInternalServerError, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"resumed": runID})
}
