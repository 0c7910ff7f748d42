package api

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

type taskStateUpsertRequest struct {
	TaskID string `json:"task_id"`
	Key    string `json:"key"`
	Value  string `json:"value"`
}

func (s *Server) handleTaskStateUpsert(ctx context.Context, c *app.RequestContext) {
	var req taskStateUpsertRequest
	if err := sonic.Unmarshal(c.GetRequest().Body(), &req); err != nil {
		badRequest(c, "invalid request body: %v", err)
		return
	}
	if req.TaskID == "" || req.Key == "" {
		badRequest(c, "task_id and key are required")
		return
	}
	if err := s.opts.Store.UpsertTaskState(ctx, req.TaskID, req.Key, req.Value); err != nil {
		writeError(ctx, c, consts.StatusInternalServerError, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"ok": true})
}

type taskStateGetRequest struct {
	TaskID string `json:"task_id"`
	Key    string `json:"key"`
}

func (s *Server) handleTaskStateGet(ctx context.Context, c *app.RequestContext) {
	var req taskStateGetRequest
	if err := sonic.Unmarshal(c.GetRequest().Body(), &req); err != nil {
		badRequest(c, "invalid request body: %v", err)
		return
	}
	if req.TaskID == "" || req.Key == "" {
		badRequest(c, "task_id and key are required")
		return
	}
	value, found, err := s.opts.Store.GetTaskState(ctx, req.TaskID, req.Key)
	if err != nil {
		writeError(ctx, c, consts.StatusInternalServerError, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"found": found, "value": value})
}
