package api

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

type taskSeenMarkRequest struct {
	TaskID       string `json:"task_id"`
	Provider     string `json:"provider"`
	ItemKey      string `json:"item_key"`
	MetadataJSON string `json:"metadata_json"`
}

func (s *Server) handleTaskSeenMark(ctx context.Context, c *app.RequestContext) {
	var req taskSeenMarkRequest
	if err := sonic.Unmarshal(c.GetRequest().Body(), &req); err != nil {
		badRequest(c, "invalid request body: %v", err)
		return
	}
	if req.TaskID == "" || req.Provider == "" || req.ItemKey == "" {
		badRequest(c, "task_id, provider, and item_key are required")
		return
	}
	if err := s.opts.Store.MarkSeen(ctx, req.TaskID, req.Provider, req.ItemKey, req.MetadataJSON); err != nil {
		writeError(ctx, c, consts.StatusInternalServerError, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"ok": true})
}

type taskSeenHasRequest struct {
	TaskID   string `json:"task_id"`
	Provider string `json:"provider"`
	ItemKey  string `json:"item_key"`
}

func (s *Server) handleTaskSeenHas(ctx context.Context, c *app.RequestContext) {
	var req taskSeenHasRequest
	if err := sonic.Unmarshal(c.GetRequest().Body(), &req); err != nil {
		badRequest(c, "invalid request body: %v", err)
		return
	}
	if req.TaskID == "" || req.Provider == "" || req.ItemKey == "" {
		badRequest(c, "task_id, provider, and item_key are required")
		return
	}
	item, found, err := s.opts.Store.HasSeen(ctx, req.TaskID, req.Provider, req.ItemKey)
	if err != nil {
		writeError(ctx, c, consts.StatusInternalServerError, err)
		return
	}
	if !found {
		c.JSON(consts.StatusOK, utils.H{"found": false})
		return
	}
	c.JSON(consts.StatusOK, utils.H{"found": true, "item": item})
}
