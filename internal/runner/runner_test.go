package runner

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/zubot/central/internal/coredb"
)

func TestRunScriptSucceeds(t *testing.T) {
	r := New(Options{LogDir: t.TempDir()})
	profile := coredb.TaskProfile{TaskID: "t1", Kind: coredb.KindScript, EntrypointPath: "echo hello", TimeoutSec: 5}
	run := coredb.Run{RunID: "r1", ProfileID: "t1"}

	out, err := r.Run(context.Background(), profile, run)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Status != coredb.RunDone {
		t.Fatalf("expected done, got %v (%s)", out.Status, out.Error)
	}
}

func TestRunScriptFails(t *testing.T) {
	r := New(Options{})
	profile := coredb.TaskProfile{TaskID: "t1", Kind: coredb.KindScript, EntrypointPath: "exit 7", TimeoutSec: 5}
	run := coredb.Run{RunID: "r1", ProfileID: "t1"}

	out, err := r.Run(context.Background(), profile, run)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Status != coredb.RunFailed {
		t.Fatalf("expected failed, got %v", out.Status)
	}
}

func TestRunScriptMissingEntrypoint(t *testing.T) {
	r := New(Options{})
	profile := coredb.TaskProfile{TaskID: "t1", Kind: coredb.KindScript}
	run := coredb.Run{RunID: "r1", ProfileID: "t1"}

	out, err := r.Run(context.Background(), profile, run)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Status != coredb.RunFailed {
		t.Fatalf("expected failed, got %v", out.Status)
	}
}

func TestRunScriptTimeoutKillsProcessGroup(t *testing.T) {
	r := New(Options{})
	profile := coredb.TaskProfile{TaskID: "t1", Kind: coredb.KindScript, EntrypointPath: "sleep 5", TimeoutSec: 1}
	run := coredb.Run{RunID: "r1", ProfileID: "t1"}

	start := time.Now()
	out, err := r.Run(context.Background(), profile, run)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Status != coredb.RunFailed || out.Error != "timeout" {
		t.Fatalf("expected failed (timeout), got %v (%s)", out.Status, out.Error)
	}
	if elapsed > 4*time.Second {
		t.Fatalf("expected timeout to cut the run short, took %s", elapsed)
	}
}

func TestRunAgenticRegisteredBody(t *testing.T) {
	reg := NewRegistry()
	reg.Register("note", func(rc RunContext) (Outcome, error) {
		return Outcome{Status: coredb.RunDone, Summary: "ok:" + rc.TaskID}, nil
	})
	r := New(Options{Registry: reg})

	profile := coredb.TaskProfile{TaskID: "t2", Kind: coredb.KindAgentic, Module: "note"}
	run := coredb.Run{RunID: "r2", ProfileID: "t2"}

	out, err := r.Run(context.Background(), profile, run)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Status != coredb.RunDone || out.Summary != "ok:t2" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestRunAgenticUnregisteredModule(t *testing.T) {
	r := New(Options{})
	profile := coredb.TaskProfile{TaskID: "t3", Kind: coredb.KindAgentic, Module: "missing"}
	run := coredb.Run{RunID: "r3", ProfileID: "t3"}

	out, err := r.Run(context.Background(), profile, run)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Status != coredb.RunFailed {
		t.Fatalf("expected failed, got %v", out.Status)
	}
}

func TestRunAgenticWaitingRejectedForNonInteractiveKind(t *testing.T) {
	reg := NewRegistry()
	reg.Register("note", func(rc RunContext) (Outcome, error) {
		return Outcome{Status: coredb.RunWaitingForUser}, nil
	})
	r := New(Options{Registry: reg})

	profile := coredb.TaskProfile{TaskID: "t4", Kind: coredb.KindAgentic, Module: "note"}
	run := coredb.Run{RunID: "r4", ProfileID: "t4"}

	out, err := r.Run(context.Background(), profile, run)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Status != coredb.RunFailed {
		t.Fatalf("expected failed for waiting_for_user on non-interactive kind, got %v", out.Status)
	}
}

func TestRunAgenticWaitingAllowedForInteractiveWrapper(t *testing.T) {
	reg := NewRegistry()
	reg.Register("wrap", func(rc RunContext) (Outcome, error) {
		return Outcome{Status: coredb.RunWaitingForUser, WaitingContract: `{"prompt":"confirm?"}`}, nil
	})
	r := New(Options{Registry: reg, LogDir: filepath.Join(t.TempDir(), "logs")})

	profile := coredb.TaskProfile{TaskID: "t5", Kind: coredb.KindInteractiveWrapper, Module: "wrap"}
	run := coredb.Run{RunID: "r5", ProfileID: "t5"}

	out, err := r.Run(context.Background(), profile, run)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Status != coredb.RunWaitingForUser {
		t.Fatalf("expected waiting_for_user, got %v", out.Status)
	}
}
