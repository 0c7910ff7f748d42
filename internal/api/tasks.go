package api

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/zubot/central/internal/coredb"
)

type taskProfileRequest struct {
	TaskID         string `json:"task_id"`
	Kind           string `json:"kind"`
	EntrypointPath string `json:"entrypoint_path"`
	Module         string `json:"module"`
	QueueGroup     string `json:"queue_group"`
	TimeoutSec     int    `json:"timeout_sec"`
	RetryPolicy    string `json:"retry_policy"`
	Enabled        bool   `json:"enabled"`
}

func (s *Server) handleListTasks(ctx context.Context, c *app.RequestContext) {
	profiles, err := s.opts.Store.ListTaskProfiles(ctx)
	if err != nil {
		writeError(ctx, c, consts.StatusInternalServerError, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"tasks": profiles})
}

func (s *Server) handleGetTask(ctx context.Context, c *app.RequestContext) {
	taskID := c.Param("task_id")
	p, err := s.opts.Store.GetTaskProfile(ctx, taskID)
	if err != nil && !errors.Is(err, coredb.ErrNotFound) {
		writeError(ctx, c, consts.StatusInternalServerError, err)
		return
	}
	if p == nil {
		c.JSON(consts.StatusNotFound, utils.H{"error": "task not found"})
		return
	}
	c.JSON(consts.StatusOK, p)
}

// handleCreateTask answers POST /api/central/tasks. It upserts by task_id:
// a profile that already exists is updated in place rather than rejected,
// since the Control API exposes no separate PUT route for task profiles.
func (s *Server) handleCreateTask(ctx context.Context, c *app.RequestContext) {
	var req taskProfileRequest
	if err := sonic.Unmarshal(c.GetRequest().Body(), &req); err != nil {
		badRequest(c, "invalid request body: %v", err)
		return
	}
	if req.TaskID == "" {
		badRequest(c, "task_id is required")
		return
	}

	existing, err := s.opts.Store.GetTaskProfile(ctx, req.TaskID)
	if err != nil && !errors.Is(err, coredb.ErrNotFound) {
		writeError(ctx, c, consts.StatusInternalServerError, err)
		return
	}

	now := time.Now()
	profile := coredb.TaskProfile{
		TaskID:         req.TaskID,
		Kind:           coredb.TaskKind(req.Kind),
		EntrypointPath: req.EntrypointPath,
		Module:         req.Module,
		QueueGroup:     req.QueueGroup,
		TimeoutSec:     req.TimeoutSec,
		RetryPolicy:    req.RetryPolicy,
		Enabled:        req.Enabled,
		UpdatedAt:      now,
	}

	if existing == nil {
		profile.CreatedAt = now
		if err := s.opts.Store.CreateTaskProfile(ctx, profile); err != nil {
			writeError(ctx, c, consts.StatusInternalServerError, err)
			return
		}
		c.JSON(consts.StatusCreated, profile)
		return
	}

	profile.CreatedAt = existing.CreatedAt
	if err := s.opts.Store.UpdateTaskProfile(ctx, profile); err != nil {
		writeError(ctx, c, consts.StatusInternalServerError, err)
		return
	}
	c.JSON(consts.StatusOK, profile)
}

func (s *Server) handleDeleteTask(ctx context.Context, c *app.RequestContext) {
	taskID := c.Param("task_id")
	if err := s.opts.Store.DeleteTaskProfile(ctx, taskID); err != nil {
		writeError(ctx, c, consts.StatusInternalServerError, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"deleted": taskID})
}
