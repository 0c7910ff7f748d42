package housekeeping

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

// TestSweepExpiresWaitingRunPastDeadline reproduces spec.md §8 Scenario S5:
// a waiting_for_user Run whose contract's expires_at has already passed is
// expired to blocked/waiting_for_user_timeout by the sweep, and is no
// longer reachable via ListWaitingRuns or the no-overlap active-run check.
func TestSweepExpiresWaitingRunPastDeadline(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.CreateTaskProfile(ctx, coredb.TaskProfile{
		TaskID: "t1", Kind: coredb.KindInteractiveWrapper, Enabled: true,
	}); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if err := st.EnqueueRun(ctx, coredb.Run{RunID: "r1", ProfileID: "t1", QueuedAt: time.Now()}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := st.ClaimNextQueuedRun(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}

	expiresAt := time.Now().Add(-1 * time.Second).UTC().Format(time.RFC3339Nano)
	contract := `{"request_id":"q1","question":"pick one","expires_at":"` + expiresAt + `"}`
	if err := st.TransitionToWaiting(ctx, "r1", contract); err != nil {
		t.Fatalf("transition to waiting: %v", err)
	}

	keeper := New(st, time.Hour)
	n, err := keeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired run, got %d", n)
	}

	if _, err := st.GetRun(ctx, "r1"); err == nil {
		t.Fatalf("expected expired run removed from the live run table")
	}

	waiting, err := st.ListWaitingRuns(ctx)
	if err != nil {
		t.Fatalf("list waiting runs: %v", err)
	}
	if len(waiting) != 0 {
		t.Fatalf("expected no waiting runs left, got %d", len(waiting))
	}

	active, err := st.HasActiveRunForProfile(ctx, "t1")
	if err != nil {
		t.Fatalf("has active: %v", err)
	}
	if active {
		t.Fatalf("expired run should no longer block the no-overlap gate")
	}
}

// TestSweepLeavesUnexpiredWaitingRuns matches S4: a waiting contract whose
// expires_at is still in the future survives a sweep untouched.
func TestSweepLeavesUnexpiredWaitingRuns(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.CreateTaskProfile(ctx, coredb.TaskProfile{
		TaskID: "t1", Kind: coredb.KindInteractiveWrapper, Enabled: true,
	}); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if err := st.EnqueueRun(ctx, coredb.Run{RunID: "r1", ProfileID: "t1", QueuedAt: time.Now()}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := st.ClaimNextQueuedRun(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}

	expiresAt := time.Now().Add(1 * time.Hour).UTC().Format(time.RFC3339Nano)
	contract := `{"request_id":"q1","question":"pick one","expires_at":"` + expiresAt + `"}`
	if err := st.TransitionToWaiting(ctx, "r1", contract); err != nil {
		t.Fatalf("transition to waiting: %v", err)
	}

	keeper := New(st, time.Hour)
	n, err := keeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 expired runs, got %d", n)
	}

	got, err := st.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != coredb.RunWaitingForUser {
		t.Fatalf("expected run still waiting_for_user, got %s", got.Status)
	}
}
