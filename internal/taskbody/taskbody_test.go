package taskbody

import (
	"context"
	"strings"
	"testing"

	"github.com/bytedance/sonic"

	"github.com/zubot/central/internal/coredb"
	"github.com/zubot/central/internal/runner"
)

func TestSeedReturnsAllFourProfiles(t *testing.T) {
	profiles := Seed()
	if len(profiles) != 4 {
		t.Fatalf("expected 4 seeded profiles, got %d", len(profiles))
	}
	byID := make(map[string]coredb.TaskProfile, len(profiles))
	for _, p := range profiles {
		byID[p.TaskID] = p
	}
	if byID["echo"].Kind != coredb.KindScript {
		t.Fatalf("expected echo to be kind=script")
	}
	if byID["sleep"].Kind != coredb.KindScript {
		t.Fatalf("expected sleep to be kind=script")
	}
	if byID["interactive_demo"].Kind != coredb.KindInteractiveWrapper {
		t.Fatalf("expected interactive_demo to be kind=interactive_wrapper")
	}
	if byID["agentic_note"].Kind != coredb.KindAgentic {
		t.Fatalf("expected agentic_note to be kind=agentic")
	}
}

func TestInteractiveDemoYieldsThenCompletesOnResume(t *testing.T) {
	first, err := InteractiveDemo(runner.RunContext{Ctx: context.Background(), RunID: "r1"})
	if err != nil {
		t.Fatalf("first invocation: %v", err)
	}
	if first.Status != coredb.RunWaitingForUser || first.WaitingContract == "" {
		t.Fatalf("expected a waiting_for_user outcome with a contract, got %+v", first)
	}

	var contract waitingContract
	if err := sonic.UnmarshalString(first.WaitingContract, &contract); err != nil {
		t.Fatalf("unmarshal contract: %v", err)
	}
	if contract.RequestID == "" || contract.Question == "" {
		t.Fatalf("expected a populated contract, got %+v", contract)
	}

	merged, err := sonic.MarshalString(resumePayload{
		RequestID: contract.RequestID, Question: contract.Question, Answer: "yes",
	})
	if err != nil {
		t.Fatalf("marshal resume payload: %v", err)
	}

	second, err := InteractiveDemo(runner.RunContext{Ctx: context.Background(), RunID: "r1", PayloadJSON: merged})
	if err != nil {
		t.Fatalf("second invocation: %v", err)
	}
	if second.Status != coredb.RunDone {
		t.Fatalf("expected resume to complete the run, got %+v", second)
	}
	if !strings.Contains(second.Summary, "yes") {
		t.Fatalf("expected summary to echo the answer, got %q", second.Summary)
	}
}

func TestAgenticNoteFailsWithoutPrompt(t *testing.T) {
	body := NewAgenticNote(nil, "agentic_note")
	out, err := body(runner.RunContext{Ctx: context.Background(), RunID: "r2", PayloadJSON: `{"model":"x:y"}`})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != coredb.RunFailed {
		t.Fatalf("expected failure without a prompt, got %+v", out)
	}
}

func TestAgenticNoteFailsOnUnknownProvider(t *testing.T) {
	body := NewAgenticNote(nil, "agentic_note")
	out, err := body(runner.RunContext{
		Ctx: context.Background(), RunID: "r3",
		PayloadJSON: `{"model":"nonexistent:model","prompt":"hi"}`,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != coredb.RunFailed {
		t.Fatalf("expected failure for an unregistered provider, got %+v", out)
	}
}
