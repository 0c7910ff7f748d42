package coredb

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(Options{Path: filepath.Join(dir, "central.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestTaskProfileCRUD(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	p := TaskProfile{TaskID: "echo-task", Kind: KindScript, EntrypointPath: "/bin/echo", TimeoutSec: 30, Enabled: true}
	if err := st.CreateTaskProfile(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := st.GetTaskProfile(ctx, "echo-task")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Kind != KindScript || got.EntrypointPath != "/bin/echo" {
		t.Fatalf("unexpected profile: %+v", got)
	}

	p.TimeoutSec = 60
	if err := st.UpdateTaskProfile(ctx, p); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = st.GetTaskProfile(ctx, "echo-task")
	if got.TimeoutSec != 60 {
		t.Fatalf("update did not apply: %+v", got)
	}

	if err := st.DeleteTaskProfile(ctx, "echo-task"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.GetTaskProfile(ctx, "echo-task"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestScheduleCursorAdvance(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.CreateTaskProfile(ctx, TaskProfile{TaskID: "t1", Kind: KindScript, Enabled: true}); err != nil {
		t.Fatalf("create profile: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	sch := Schedule{
		ScheduleID: "sch1", ProfileID: "t1", Enabled: true, Mode: ModeFrequency,
		Misfire: MisfireQueueLatest, RunFrequencyMinutes: 5, NextRunAt: now,
	}
	if err := st.CreateSchedule(ctx, sch); err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	due, err := st.ListDueSchedules(ctx, now)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected 1 due schedule, got %d", len(due))
	}

	planned := now
	next := now.Add(5 * time.Minute)
	err = st.RunTx(ctx, func(tx *sql.Tx) error {
		return AdvanceScheduleCursor(ctx, tx, "sch1", &planned, next)
	})
	if err != nil {
		t.Fatalf("advance cursor: %v", err)
	}

	got, err := st.GetSchedule(ctx, "sch1")
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if !got.NextRunAt.Equal(next) {
		t.Fatalf("next_run_at not advanced: got %v want %v", got.NextRunAt, next)
	}
	if got.LastPlannedRunAt == nil || !got.LastPlannedRunAt.Equal(planned) {
		t.Fatalf("last_planned_run_at not set: %+v", got.LastPlannedRunAt)
	}
}

func TestNoOverlapInvariant(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.CreateTaskProfile(ctx, TaskProfile{TaskID: "t1", Kind: KindScript, Enabled: true}); err != nil {
		t.Fatalf("create profile: %v", err)
	}

	run1 := Run{RunID: "r1", ProfileID: "t1", QueuedAt: time.Now()}
	if err := st.EnqueueRun(ctx, run1); err != nil {
		t.Fatalf("enqueue run1: %v", err)
	}

	run2 := Run{RunID: "r2", ProfileID: "t1", QueuedAt: time.Now()}
	if err := st.EnqueueRun(ctx, run2); !errors.Is(err, ErrOverlap) {
		t.Fatalf("expected ErrOverlap, got %v", err)
	}
}

func TestClaimAndFinalizeRun(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.CreateTaskProfile(ctx, TaskProfile{TaskID: "t1", Kind: KindScript, Enabled: true}); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if err := st.EnqueueRun(ctx, Run{RunID: "r1", ProfileID: "t1", QueuedAt: time.Now()}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	claimed, err := st.ClaimNextQueuedRun(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil || claimed.RunID != "r1" || claimed.Status != RunRunning {
		t.Fatalf("unexpected claimed run: %+v", claimed)
	}

	none, err := st.ClaimNextQueuedRun(ctx)
	if err != nil {
		t.Fatalf("claim empty: %v", err)
	}
	if none != nil {
		t.Fatalf("expected no further queued run, got %+v", none)
	}

	if err := st.FinalizeRun(ctx, "r1", RunDone, "ok", ""); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if _, err := st.GetRun(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected run removed after archive, got %v", err)
	}

	active, err := st.HasActiveRunForProfile(ctx, "t1")
	if err != nil {
		t.Fatalf("has active: %v", err)
	}
	if active {
		t.Fatalf("expected no active run after finalize")
	}

	// A new run can now be enqueued since the overlap slot is free.
	if err := st.EnqueueRun(ctx, Run{RunID: "r2", ProfileID: "t1", QueuedAt: time.Now()}); err != nil {
		t.Fatalf("enqueue after finalize: %v", err)
	}
}

func TestWaitingForUserFreesThenResumes(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.CreateTaskProfile(ctx, TaskProfile{TaskID: "t1", Kind: KindInteractiveWrapper, Enabled: true}); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if err := st.EnqueueRun(ctx, Run{RunID: "r1", ProfileID: "t1", QueuedAt: time.Now()}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := st.ClaimNextQueuedRun(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := st.TransitionToWaiting(ctx, "r1", `{"prompt":"confirm?"}`); err != nil {
		t.Fatalf("transition to waiting: %v", err)
	}

	active, err := st.HasActiveRunForProfile(ctx, "t1")
	if err != nil {
		t.Fatalf("has active: %v", err)
	}
	if !active {
		t.Fatalf("waiting_for_user run should still count as active for no-overlap")
	}

	if err := st.ResumeWaitingRun(ctx, "r1", `{"prompt":"confirm?","response":"yes"}`); err != nil {
		t.Fatalf("resume: %v", err)
	}
	got, err := st.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != RunQueued {
		t.Fatalf("expected run requeued after resume, got %s", got.Status)
	}
}

func TestListExpiredWaitingRunsFiltersByContractDeadline(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.CreateTaskProfile(ctx, TaskProfile{TaskID: "t1", Kind: KindInteractiveWrapper, Enabled: true}); err != nil {
		t.Fatalf("create profile t1: %v", err)
	}
	if err := st.CreateTaskProfile(ctx, TaskProfile{TaskID: "t2", Kind: KindInteractiveWrapper, Enabled: true}); err != nil {
		t.Fatalf("create profile t2: %v", err)
	}
	if err := st.CreateTaskProfile(ctx, TaskProfile{TaskID: "t3", Kind: KindInteractiveWrapper, Enabled: true}); err != nil {
		t.Fatalf("create profile t3: %v", err)
	}

	for _, id := range []string{"r1", "r2", "r3"} {
		profileID := map[string]string{"r1": "t1", "r2": "t2", "r3": "t3"}[id]
		if err := st.EnqueueRun(ctx, Run{RunID: id, ProfileID: profileID, QueuedAt: time.Now()}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
		if _, err := st.ClaimNextQueuedRun(ctx); err != nil {
			t.Fatalf("claim %s: %v", id, err)
		}
	}

	now := time.Now().UTC()
	past := now.Add(-1 * time.Minute).Format(time.RFC3339Nano)
	future := now.Add(1 * time.Hour).Format(time.RFC3339Nano)

	if err := st.TransitionToWaiting(ctx, "r1", `{"request_id":"q1","expires_at":"`+past+`"}`); err != nil {
		t.Fatalf("transition r1: %v", err)
	}
	if err := st.TransitionToWaiting(ctx, "r2", `{"request_id":"q2","expires_at":"`+future+`"}`); err != nil {
		t.Fatalf("transition r2: %v", err)
	}
	// r3 never opted into a contract (no expires_at at all): never expired.
	if err := st.TransitionToWaiting(ctx, "r3", `{"note":"no contract here"}`); err != nil {
		t.Fatalf("transition r3: %v", err)
	}

	expired, err := st.ListExpiredWaitingRuns(ctx, now)
	if err != nil {
		t.Fatalf("list expired waiting runs: %v", err)
	}
	if len(expired) != 1 || expired[0].RunID != "r1" {
		t.Fatalf("expected only r1 expired, got %+v", expired)
	}
}

func TestSeenItemIdempotency(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.MarkSeen(ctx, "t1", "inbox", "msg-1", `{"subject":"hi"}`); err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	if err := st.MarkSeen(ctx, "t1", "inbox", "msg-1", `{"subject":"hi"}`); err != nil {
		t.Fatalf("mark seen again: %v", err)
	}

	item, ok, err := st.HasSeen(ctx, "t1", "inbox", "msg-1")
	if err != nil {
		t.Fatalf("has seen: %v", err)
	}
	if !ok || item.SeenCount != 2 {
		t.Fatalf("expected seen_count 2, got %+v", item)
	}

	_, ok, err = st.HasSeen(ctx, "t1", "inbox", "msg-2")
	if err != nil {
		t.Fatalf("has seen unknown: %v", err)
	}
	if ok {
		t.Fatalf("expected msg-2 unseen")
	}
}

func TestSummaryJobDedupe(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	created, err := st.EnqueueSummaryJob(ctx, "job1", "2026-07-29", "threshold")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !created {
		t.Fatalf("expected job1 created")
	}

	created, err = st.EnqueueSummaryJob(ctx, "job2", "2026-07-29", "sweep")
	if err != nil {
		t.Fatalf("enqueue second: %v", err)
	}
	if created {
		t.Fatalf("expected second enqueue for same day to be deduped")
	}

	jobs, err := st.ClaimSummaryJobs(ctx, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(jobs) != 1 || jobs[0].JobID != "job1" {
		t.Fatalf("unexpected claimed jobs: %+v", jobs)
	}

	if err := st.CompleteSummaryJob(ctx, "job1"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	created, err = st.EnqueueSummaryJob(ctx, "job3", "2026-07-29", "sweep")
	if err != nil {
		t.Fatalf("enqueue after complete: %v", err)
	}
	if !created {
		t.Fatalf("expected new job after prior job completed")
	}
}

func TestAppendEventAndSummarize(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	day := "2026-07-30"
	var status *DayMemoryStatus
	for i := 0; i < 3; i++ {
		var err error
		status, err = st.AppendEvent(ctx, DayMemoryEvent{
			EventID: time.Now().Format("150405.000000000"), Day: day, EventTime: time.Now(),
			Kind: EventUser, Text: "hello", Layer: LayerRaw,
		})
		if err != nil {
			t.Fatalf("append event %d: %v", i, err)
		}
	}
	if status.TotalMessages != 3 || status.MessagesSinceLastSummary != 3 {
		t.Fatalf("unexpected status: %+v", status)
	}

	if err := st.MarkDaySummarized(ctx, day, 3, time.Now(), false); err != nil {
		t.Fatalf("mark summarized: %v", err)
	}
	got, err := st.GetDayStatus(ctx, day)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if got.MessagesSinceLastSummary != 0 || got.SummariesCount != 1 || got.IsFinalized {
		t.Fatalf("unexpected status after summarize: %+v", got)
	}

	if err := st.UpsertDaySummary(ctx, day, "the user said hello three times"); err != nil {
		t.Fatalf("upsert day summary: %v", err)
	}
	ds, err := st.GetDaySummary(ctx, day)
	if err != nil {
		t.Fatalf("get day summary: %v", err)
	}
	if ds.Text != "the user said hello three times" {
		t.Fatalf("unexpected summary text: %q", ds.Text)
	}
}
