package dispatcher

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/zubot/central/internal/coredb"
	"github.com/zubot/central/internal/runner"
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

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestDispatcherRunsQueuedScriptRun(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.CreateTaskProfile(ctx, coredb.TaskProfile{
		TaskID: "t1", Kind: coredb.KindScript, EntrypointPath: "echo hi", TimeoutSec: 5, Enabled: true,
	}); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if err := st.EnqueueRun(ctx, coredb.Run{RunID: "r1", ProfileID: "t1", QueuedAt: time.Now()}); err != nil {
		t.Fatalf("enqueue run: %v", err)
	}

	r := runner.New(runner.Options{})
	d := New(Options{Store: st, Runner: r, Concurrency: 2, PollInterval: 20 * time.Millisecond})
	d.Start(ctx)
	defer d.Stop()

	waitFor(t, 3*time.Second, func() bool {
		hist, err := st.GetRun(ctx, "r1")
		return err != nil || hist == nil
	})

	if _, err := st.GetRun(ctx, "r1"); err == nil {
		t.Fatalf("expected run r1 to be archived out of the live table")
	}
}

func TestDispatcherKillQueuedRun(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.CreateTaskProfile(ctx, coredb.TaskProfile{
		TaskID: "t1", Kind: coredb.KindScript, EntrypointPath: "sleep 5", TimeoutSec: 30, Enabled: true,
	}); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if err := st.EnqueueRun(ctx, coredb.Run{RunID: "r1", ProfileID: "t1", QueuedAt: time.Now()}); err != nil {
		t.Fatalf("enqueue run: %v", err)
	}

	r := runner.New(runner.Options{})
	// Large poll interval so the slot never claims before we kill.
	d := New(Options{Store: st, Runner: r, Concurrency: 1, PollInterval: time.Hour})

	if err := d.Kill(ctx, "r1"); err != nil {
		t.Fatalf("kill queued run: %v", err)
	}
	got, err := st.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != coredb.RunBlocked {
		t.Fatalf("expected blocked, got %v", got.Status)
	}
}

func TestSlotsSnapshotInitiallyIdle(t *testing.T) {
	st := newTestStore(t)
	r := runner.New(runner.Options{})
	d := New(Options{Store: st, Runner: r, Concurrency: 3})
	snaps := d.Slots()
	if len(snaps) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(snaps))
	}
	for _, s := range snaps {
		if s.State != SlotIdle {
			t.Fatalf("expected idle, got %v", s.State)
		}
	}
}
