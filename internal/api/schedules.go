package api

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"

	"github.com/zubot/central/internal/coredb"
)

type scheduleRequest struct {
	ScheduleID          string   `json:"schedule_id"`
	ProfileID           string   `json:"profile_id"`
	Enabled             bool     `json:"enabled"`
	Mode                string   `json:"mode"`
	Misfire             string   `json:"misfire"`
	ExecutionOrder      int      `json:"execution_order"`
	RunFrequencyMinutes int      `json:"run_frequency_minutes"`
	TimeOfDay           []string `json:"time_of_day"`
	DayOfWeek           []int    `json:"day_of_week"`
	Timezone            string   `json:"timezone"`
}

func (s *Server) handleListSchedules(ctx context.Context, c *app.RequestContext) {
	schedules, err := s.opts.Store.ListSchedules(ctx)
	if err != nil {
		writeError(ctx, c, consts.StatusInternalServerError, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"schedules": schedules})
}

func (s *Server) handleGetSchedule(ctx context.Context, c *app.RequestContext) {
	sch, err := s.opts.Store.GetSchedule(ctx, c.Param("schedule_id"))
	if err != nil {
		writeError(ctx, c, consts.StatusInternalServerError, err)
		return
	}
	if sch == nil {
		c.JSON(consts.StatusNotFound, utils.H{"error": "schedule not found"})
		return
	}
	c.JSON(consts.StatusOK, sch)
}

// handleCreateSchedule answers POST /api/central/schedules. A request that
// names an existing schedule_id updates it in place, mirroring the upsert
// behavior of handleCreateTask since schedules have no separate PUT route
// either.
func (s *Server) handleCreateSchedule(ctx context.Context, c *app.RequestContext) {
	var req scheduleRequest
	if err := sonic.Unmarshal(c.GetRequest().Body(), &req); err != nil {
		badRequest(c, "invalid request body: %v", err)
		return
	}
	if req.ProfileID == "" {
		badRequest(c, "profile_id is required")
		return
	}

	update := req.ScheduleID != ""
	if !update {
		req.ScheduleID = uuid.NewString()
	}

	sch := coredb.Schedule{
		ScheduleID:          req.ScheduleID,
		ProfileID:           req.ProfileID,
		Enabled:             req.Enabled,
		Mode:                coredb.ScheduleMode(req.Mode),
		Misfire:             coredb.MisfirePolicy(req.Misfire),
		ExecutionOrder:      req.ExecutionOrder,
		RunFrequencyMinutes: req.RunFrequencyMinutes,
		TimeOfDay:           req.TimeOfDay,
		DayOfWeek:           req.DayOfWeek,
		Timezone:            req.Timezone,
		NextRunAt:           time.Now(),
	}

	if update {
		if err := s.opts.Store.UpdateSchedule(ctx, sch); err != nil {
			writeError(ctx, c, consts.StatusInternalServerError, err)
			return
		}
		c.JSON(consts.StatusOK, sch)
		return
	}
	if err := s.opts.Store.CreateSchedule(ctx, sch); err != nil {
		writeError(ctx, c, consts.StatusInternalServerError, err)
		return
	}
	c.JSON(consts.StatusCreated, sch)
}

func (s *Server) handleDeleteSchedule(ctx context.Context, c *app.RequestContext) {
	scheduleID := c.Param("schedule_id")
	if err := s.opts.Store.DeleteSchedule(ctx, scheduleID); err != nil {
		writeError(ctx, c, consts.StatusInternalServerError, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"deleted": scheduleID})
}
