package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/zubot/central/internal/coredb"
)

func newTestStore(t *testing.T) *coredb.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := coredb.Open(coredb.Options{Path: filepath.Join(dir, "central.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestTickEnqueuesFrequencySchedule(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.CreateTaskProfile(ctx, coredb.TaskProfile{TaskID: "t1", Kind: coredb.KindScript, Enabled: true}); err != nil {
		t.Fatalf("create profile: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	past := now.Add(-1 * time.Minute)
	if err := st.CreateSchedule(ctx, coredb.Schedule{
		ScheduleID: "sch1", ProfileID: "t1", Enabled: true, Mode: coredb.ModeFrequency,
		Misfire: coredb.MisfireQueueLatest, RunFrequencyMinutes: 5, NextRunAt: past,
	}); err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	sched := New(st, time.Hour)
	if err := sched.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	runs, err := st.ListActiveRunsByProfile(ctx, "t1")
	if err != nil {
		t.Fatalf("list active runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 enqueued run, got %d", len(runs))
	}

	got, err := st.GetSchedule(ctx, "sch1")
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if !got.NextRunAt.After(now) {
		t.Fatalf("expected next_run_at advanced past now, got %v", got.NextRunAt)
	}
	if got.LastPlannedRunAt == nil {
		t.Fatalf("expected last_planned_run_at to be set")
	}
}

func TestTickSkipsWhenActiveRunExists(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.CreateTaskProfile(ctx, coredb.TaskProfile{TaskID: "t1", Kind: coredb.KindScript, Enabled: true}); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if err := st.EnqueueRun(ctx, coredb.Run{RunID: "existing", ProfileID: "t1", QueuedAt: time.Now()}); err != nil {
		t.Fatalf("seed active run: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	past := now.Add(-1 * time.Minute)
	if err := st.CreateSchedule(ctx, coredb.Schedule{
		ScheduleID: "sch1", ProfileID: "t1", Enabled: true, Mode: coredb.ModeFrequency,
		Misfire: coredb.MisfireQueueAll, RunFrequencyMinutes: 5, NextRunAt: past,
	}); err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	sched := New(st, time.Hour)
	if err := sched.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	runs, err := st.ListActiveRunsByProfile(ctx, "t1")
	if err != nil {
		t.Fatalf("list active runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != "existing" {
		t.Fatalf("expected only the pre-existing run, got %+v", runs)
	}

	got, err := st.GetSchedule(ctx, "sch1")
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if !got.NextRunAt.After(now) {
		t.Fatalf("cursor should still advance even when enqueue is skipped, got %v", got.NextRunAt)
	}
}

func TestQueueAllEnqueuesEveryBacklogInstant(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.CreateTaskProfile(ctx, coredb.TaskProfile{TaskID: "t1", Kind: coredb.KindScript, Enabled: true}); err != nil {
		t.Fatalf("create profile: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	past := now.Add(-12 * time.Minute) // 3 missed 5-minute instants
	if err := st.CreateSchedule(ctx, coredb.Schedule{
		ScheduleID: "sch1", ProfileID: "t1", Enabled: true, Mode: coredb.ModeFrequency,
		Misfire: coredb.MisfireQueueAll, RunFrequencyMinutes: 5, NextRunAt: past,
	}); err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	sched := New(st, time.Hour)
	if err := sched.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	runs, err := st.ListActiveRunsByProfile(ctx, "t1")
	if err != nil {
		t.Fatalf("list active runs: %v", err)
	}
	// the no-overlap gate only looks at runs active before this tick began;
	// with none active, queue_all enqueues every backlogged instant.
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs for 3 backlogged instants under queue_all, got %d", len(runs))
	}
}

func TestQueueAllSkipsEntireBacklogWhenAlreadyActive(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.CreateTaskProfile(ctx, coredb.TaskProfile{TaskID: "t1", Kind: coredb.KindScript, Enabled: true}); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if err := st.EnqueueRun(ctx, coredb.Run{RunID: "existing", ProfileID: "t1", QueuedAt: time.Now()}); err != nil {
		t.Fatalf("seed active run: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	past := now.Add(-12 * time.Minute) // 3 missed 5-minute instants
	if err := st.CreateSchedule(ctx, coredb.Schedule{
		ScheduleID: "sch1", ProfileID: "t1", Enabled: true, Mode: coredb.ModeFrequency,
		Misfire: coredb.MisfireQueueAll, RunFrequencyMinutes: 5, NextRunAt: past,
	}); err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	sched := New(st, time.Hour)
	if err := sched.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	runs, err := st.ListActiveRunsByProfile(ctx, "t1")
	if err != nil {
		t.Fatalf("list active runs: %v", err)
	}
	// a run already active before the tick started blocks the whole
	// backlog, not just the instants after the first insert.
	if len(runs) != 1 || runs[0].RunID != "existing" {
		t.Fatalf("expected only the pre-existing run, got %+v", runs)
	}

	got, err := st.GetSchedule(ctx, "sch1")
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if !got.NextRunAt.After(now) {
		t.Fatalf("cursor should still advance even when the whole backlog is skipped, got %v", got.NextRunAt)
	}
}

func TestCalendarScheduleEnqueues(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.CreateTaskProfile(ctx, coredb.TaskProfile{TaskID: "t1", Kind: coredb.KindScript, Enabled: true}); err != nil {
		t.Fatalf("create profile: %v", err)
	}

	now := time.Now().UTC()
	past := now.Add(-24 * time.Hour)
	if err := st.CreateSchedule(ctx, coredb.Schedule{
		ScheduleID: "sch1", ProfileID: "t1", Enabled: true, Mode: coredb.ModeCalendar,
		Misfire: coredb.MisfireQueueLatest, TimeOfDay: []string{"00:00"}, Timezone: "UTC",
		NextRunAt: past,
	}); err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	sched := New(st, time.Hour)
	if err := sched.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	runs, err := st.ListActiveRunsByProfile(ctx, "t1")
	if err != nil {
		t.Fatalf("list active runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run from calendar schedule, got %d", len(runs))
	}
}
