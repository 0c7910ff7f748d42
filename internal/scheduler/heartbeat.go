// Package scheduler implements the Heartbeat: a periodic tick that reads due
// Schedules, expands missed fire instants, applies each schedule's misfire
// policy, enqueues Run rows, and advances schedule cursors.
//
// The tick/loop shape is grounded on the teacher's internal/cronjob.Scheduler
// (internal/cronjob/scheduler.go): a ticker-driven loop with Start/Stop and a
// context-canceled goroutine, generalized from the teacher's single
// JSON-file job store to the coredb.Store and from a single flat job list to
// the cursor/misfire-policy model in spec.md §4.3.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zubot/central/internal/coredb"
	"github.com/zubot/central/internal/pkg/logs"
)

const defaultPollInterval = 15 * time.Second

// Scheduler runs the Heartbeat loop against one coredb.Store.
type Scheduler struct {
	store        *coredb.Store
	pollInterval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Scheduler. A zero pollInterval falls back to 15s, the
// spec's documented default for heartbeat_poll_interval_sec.
func New(store *coredb.Store, pollInterval time.Duration) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Scheduler{store: store, pollInterval: pollInterval}
}

// Start launches the tick loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
	logs.CtxInfo(ctx, "[scheduler] heartbeat started (poll_interval=%s)", s.pollInterval)
}

// Stop cancels the loop and waits for the in-flight tick to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				logs.CtxWarn(ctx, "[scheduler] tick error: %v", err)
			}
		}
	}
}

// Tick runs one Heartbeat pass synchronously; exported so tests and a CLI
// "run heartbeat once" subcommand can drive it without the ticker.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := time.Now().UTC()
	startedAt := now

	if err := s.store.UpsertHeartbeatState(ctx, coredb.HeartbeatState{
		StartedAt: &startedAt, Status: "running",
	}); err != nil {
		return fmt.Errorf("scheduler: record tick start: %w", err)
	}

	due, err := s.store.ListDueSchedules(ctx, now)
	if err != nil {
		return s.finishTick(ctx, startedAt, 0, fmt.Errorf("scheduler: list due schedules: %w", err))
	}

	enqueuedCount := 0
	var tickErr error
	for _, sch := range due {
		n, err := s.processSchedule(ctx, sch, now)
		enqueuedCount += n
		if err != nil {
			logs.CtxWarn(ctx, "[scheduler] schedule %s failed this tick: %v", sch.ScheduleID, err)
			tickErr = err // last error wins; HeartbeatState records one message, not a list
		}
	}

	return s.finishTick(ctx, startedAt, enqueuedCount, tickErr)
}

func (s *Scheduler) finishTick(ctx context.Context, startedAt time.Time, enqueuedCount int, tickErr error) error {
	finishedAt := time.Now().UTC()
	status := "ok"
	lastError := ""
	if tickErr != nil {
		status = "error"
		lastError = tickErr.Error()
	}
	if err := s.store.UpsertHeartbeatState(ctx, coredb.HeartbeatState{
		StartedAt: &startedAt, FinishedAt: &finishedAt, Status: status,
		EnqueuedCount: enqueuedCount, LastError: lastError,
	}); err != nil {
		logs.CtxWarn(ctx, "[scheduler] record tick finish: %v", err)
	}
	return tickErr
}

// processSchedule expands, applies misfire policy to, and enqueues Run rows
// for one schedule, advancing its cursor in a single transaction (spec §4.3
// step 5). It returns the number of Run rows actually inserted.
func (s *Scheduler) processSchedule(ctx context.Context, sch coredb.Schedule, now time.Time) (int, error) {
	instants, next, err := missedInstants(sch, now)
	if err != nil {
		return 0, fmt.Errorf("compute missed instants: %w", err)
	}
	selected := applyMisfirePolicy(sch.Misfire, instants)

	enqueued := 0
	txErr := s.store.RunTx(ctx, func(tx *sql.Tx) error {
		// Spec §4.3 step 4's no-overlap gate looks at runs active *before*
		// this tick started processing the schedule, checked once — not
		// once per selected instant. A per-iteration check would see the
		// row this same loop just inserted and stop after the first
		// instant, collapsing queue_all's backlog (spec.md §8 Scenario S2:
		// three missed instants -> three queued Runs) down to a single Run.
		active, err := coredb.HasActiveRunForProfileTx(ctx, tx, sch.ProfileID)
		if err != nil {
			return err
		}
		if active {
			return coredb.AdvanceScheduleCursor(ctx, tx, sch.ScheduleID, lastPlannedOf(selected), next)
		}

		for _, fireAt := range selected {
			fireAtCopy := fireAt
			run := coredb.Run{
				RunID:         uuid.NewString(),
				ScheduleID:    &sch.ScheduleID,
				ProfileID:     sch.ProfileID,
				PlannedFireAt: &fireAtCopy,
				QueuedAt:      now,
			}
			if err := coredb.InsertRunTx(ctx, tx, run); err != nil {
				if errors.Is(err, coredb.ErrConflict) {
					// Another tick (or a crash-recovery replay) already
					// inserted this exact fire instant; the partial unique
					// index already did its job, move on.
					continue
				}
				return err
			}
			enqueued++
		}
		return coredb.AdvanceScheduleCursor(ctx, tx, sch.ScheduleID, lastPlannedOf(selected), next)
	})
	if txErr != nil {
		return enqueued, fmt.Errorf("process schedule %s: %w", sch.ScheduleID, txErr)
	}
	return enqueued, nil
}
