package api

import (
	"context"
	"errors"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"

	"github.com/zubot/central/internal/sqlgateway"
)

var errSQLGatewayNotWired = errors.New("sql gateway not wired")

type sqlRequest struct {
	SQL      string `json:"sql"`
	Args     []any  `json:"args"`
	ReadOnly *bool  `json:"read_only"`
	MaxRows  int    `json:"max_rows"`
}

// handleSQL answers POST /api/central/sql: a thin passthrough to the
// single-writer SQL Gateway (spec §4.7), so a caller never touches the
// sqlite handle directly. read_only defaults to true (spec §6 "read-only
// by default"); a caller must explicitly pass read_only=false to write.
func (s *Server) handleSQL(ctx context.Context, c *app.RequestContext) {
	if s.opts.SQLGateway == nil {
		writeError(ctx, c, consts.StatusServiceUnavailable, errSQLGatewayNotWired)
		return
	}

	var req sqlRequest
	if err := sonic.Unmarshal(c.GetRequest().Body(), &req); err != nil {
		badRequest(c, "invalid request body: %v", err)
		return
	}
	if req.SQL == "" {
		badRequest(c, "sql is required")
		return
	}
	readOnly := true
	if req.ReadOnly != nil {
		readOnly = *req.ReadOnly
	}

	result, err := s.opts.SQLGateway.Submit(ctx, sqlgateway.Request{
		SQL:       req.SQL,
		Args:      req.Args,
		ReadOnly:  readOnly,
		MaxRows:   req.MaxRows,
		RequestID: uuid.NewString(),
	})
	if err != nil {
		writeError(ctx, c, consts.StatusBadRequest, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{
		"columns":       result.Columns,
		"rows":          result.Rows,
		"row_count":     result.RowCount,
		"truncated":     result.Truncated,
		"rows_affected": result.RowsAffected,
	})
}
