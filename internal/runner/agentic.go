package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/zubot/central/internal/coredb"
)

// runAgentic looks up profile.Module in the Registry and invokes it
// synchronously, translating a timeout into a failed "timeout" Outcome and a
// cancellation into a blocked "killed" one, the same way runScript does.
func (r *Runner) runAgentic(ctx context.Context, profile coredb.TaskProfile, run coredb.Run) (Outcome, error) {
	body, ok := r.registry.Get(profile.Module)
	if !ok {
		return Outcome{Status: coredb.RunFailed, Error: fmt.Sprintf("no task body registered for module %q", profile.Module)}, nil
	}

	type callResult struct {
		outcome Outcome
		err     error
	}
	done := make(chan callResult, 1)
	go func() {
		o, err := body(RunContext{
			Ctx: ctx, RunID: run.RunID, TaskID: profile.TaskID,
			Kind: profile.Kind, PayloadJSON: run.PayloadJSON, Store: r.store,
		})
		done <- callResult{outcome: o, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return Outcome{Status: coredb.RunFailed, Error: res.err.Error()}, nil
		}
		if res.outcome.Status == coredb.RunWaitingForUser && profile.Kind != coredb.KindInteractiveWrapper {
			return Outcome{Status: coredb.RunFailed,
				Error: "task body yielded waiting_for_user but profile kind is not interactive_wrapper"}, nil
		}
		return res.outcome, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Outcome{Status: coredb.RunFailed, Error: "timeout"}, nil
		}
		return Outcome{Status: coredb.RunBlocked, Error: "killed"}, nil
	}
}

// ErrModuleNotRegistered is returned by body lookups outside the Run path
// (e.g. a Control API validation check before accepting a new TaskProfile).
var ErrModuleNotRegistered = errors.New("task body module not registered")
