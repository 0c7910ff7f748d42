package api

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

func TestNewBuildsServerWithoutListening(t *testing.T) {
	st := newTestStore(t)
	s := New(Options{Bind: "127.0.0.1:0", TracerBind: "127.0.0.1:0", Store: st})
	if s == nil {
		t.Fatal("expected a non-nil server")
	}
	if s.IsRunning() {
		t.Fatal("expected a freshly constructed server to not be running")
	}
}

func TestStartStopIsIdempotentAndTogglesRunning(t *testing.T) {
	st := newTestStore(t)
	s := New(Options{Bind: "127.0.0.1:0", TracerBind: "127.0.0.1:0", Store: st})

	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx)
	if !s.IsRunning() {
		t.Fatal("expected server to be running after Start")
	}

	s.Stop()
	s.Stop()
	if s.IsRunning() {
		t.Fatal("expected server to not be running after Stop")
	}
}

func TestComputeWarningsFlagsLongRunningRuns(t *testing.T) {
	st := newTestStore(t)
	s := New(Options{Bind: "127.0.0.1:0", TracerBind: "127.0.0.1:0", Store: st, RunningAgeWarningSec: 1})

	started := time.Now().Add(-time.Hour)
	active := []coredb.Run{
		{RunID: "r1", Status: coredb.RunRunning, StartedAt: &started},
	}
	warnings := s.computeWarnings(active)
	if len(warnings) != 1 {
		t.Fatalf("expected one warning for a long-running run, got %v", warnings)
	}
}

func TestComputeWarningsFlagsDeepQueue(t *testing.T) {
	st := newTestStore(t)
	s := New(Options{Bind: "127.0.0.1:0", TracerBind: "127.0.0.1:0", Store: st, QueueWarningThreshold: 2})

	active := []coredb.Run{
		{RunID: "r1", Status: coredb.RunQueued, QueuedAt: time.Now()},
		{RunID: "r2", Status: coredb.RunQueued, QueuedAt: time.Now()},
	}
	warnings := s.computeWarnings(active)
	if len(warnings) != 1 {
		t.Fatalf("expected one warning for a deep queue, got %v", warnings)
	}
}

func TestProviderQueueStatsNilWhenUnwired(t *testing.T) {
	st := newTestStore(t)
	s := New(Options{Bind: "127.0.0.1:0", TracerBind: "127.0.0.1:0", Store: st})
	if stats := s.providerQueueStats(); stats != nil {
		t.Fatalf("expected nil stats with no provider queue registry wired, got %v", stats)
	}
}
