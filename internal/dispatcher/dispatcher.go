// Package dispatcher implements the Dispatcher + Slots component: a fixed
// pool of task_runner_concurrency slots, each a cooperative worker looping
// claim -> execute -> finalize forever (spec §4.4). The pool-of-goroutines
// shape is grounded on the teacher's internal/cronjob.Scheduler, which sizes
// a `chan struct{}` semaphore to MaxConcurrentRuns and tracks in-flight job
// IDs in a mutex-guarded map; here each semaphore slot is promoted to a
// literal, persistently-identified worker goroutine, since the spec talks
// about slots as addressable things (a Control API "show slots" view), not
// just a concurrency limit.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zubot/central/internal/coredb"
	"github.com/zubot/central/internal/pkg/logs"
	"github.com/zubot/central/internal/runner"
)

const defaultClaimPollInterval = 2 * time.Second

// SlotState is the observability state of one slot, for the Control API's
// slot listing.
type SlotState string

const (
	SlotIdle    SlotState = "idle"
	SlotRunning SlotState = "running"
)

// SlotStatus is a point-in-time snapshot of one slot.
type SlotStatus struct {
	SlotID       int
	State        SlotState
	RunID        string
	TaskID       string
	StartedAt    time.Time
	LastRunID    string
	LastStatus   coredb.RunStatus
	LastFinished time.Time
}

// slot is one persistent worker: it owns a goroutine for its whole lifetime
// and rebinds to a new Run on every claim.
type slot struct {
	id int

	mu         sync.Mutex
	state      SlotState
	runID      string
	taskID     string
	startedAt  time.Time
	cancelRun  context.CancelFunc
	lastRunID  string
	lastStatus coredb.RunStatus
	lastAt     time.Time
}

func (s *slot) snapshot() SlotStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SlotStatus{
		SlotID: s.id, State: s.state, RunID: s.runID, TaskID: s.taskID, StartedAt: s.startedAt,
		LastRunID: s.lastRunID, LastStatus: s.lastStatus, LastFinished: s.lastAt,
	}
}

// Dispatcher owns the fixed slot pool and resolves TaskProfile lookups
// needed to execute a claimed Run.
type Dispatcher struct {
	store        *coredb.Store
	runner       *runner.Runner
	slots        []*slot
	pollInterval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options configures a Dispatcher.
type Options struct {
	Store        *coredb.Store
	Runner       *runner.Runner
	Concurrency  int // task_runner_concurrency; defaults to 1
	PollInterval time.Duration
}

// New constructs a Dispatcher with Concurrency slots, none yet started.
func New(opts Options) *Dispatcher {
	n := opts.Concurrency
	if n <= 0 {
		n = 1
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultClaimPollInterval
	}
	slots := make([]*slot, n)
	for i := range slots {
		slots[i] = &slot{id: i, state: SlotIdle}
	}
	return &Dispatcher{store: opts.Store, runner: opts.Runner, slots: slots, pollInterval: poll}
}

// Start launches one goroutine per slot.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	for _, sl := range d.slots {
		d.wg.Add(1)
		go func(sl *slot) {
			defer d.wg.Done()
			d.runSlot(ctx, sl)
		}(sl)
	}
	logs.CtxInfo(ctx, "[dispatcher] started %d slot(s)", len(d.slots))
}

// Stop cancels every slot's loop and waits for in-flight work to unwind.
// It does not forcibly kill running Runs; callers that want that should
// call Kill per run_id before Stop.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// Slots returns a snapshot of every slot's current state, for the Control
// API's GET /slots endpoint.
func (d *Dispatcher) Slots() []SlotStatus {
	out := make([]SlotStatus, len(d.slots))
	for i, sl := range d.slots {
		out[i] = sl.snapshot()
	}
	return out
}

// runSlot is the cooperative worker loop: claim a queued Run, execute it,
// finalize or re-queue it, repeat, until ctx is canceled. An idle tick
// (nothing queued) sleeps pollInterval before trying again, the same shape
// as the teacher's ticker-driven scheduler loop generalized to a claim
// instead of a time check.
func (d *Dispatcher) runSlot(ctx context.Context, sl *slot) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// After a successful claim, try again immediately rather than
			// waiting a full tick, so a burst of queued work drains without
			// idle gaps.
			for {
				claimed, err := d.claimAndRun(ctx, sl)
				if err != nil {
					logs.CtxWarn(ctx, "[dispatcher] slot %d: %v", sl.id, err)
				}
				if !claimed || err != nil || ctx.Err() != nil {
					break
				}
			}
		}
	}
}

// claimAndRun claims at most one Run and drives it to completion. It
// returns claimed=true whenever a Run was actually claimed, even if
// executing it failed, so the caller can decide to poll again immediately.
func (d *Dispatcher) claimAndRun(ctx context.Context, sl *slot) (bool, error) {
	run, err := d.store.ClaimNextQueuedRun(ctx)
	if err != nil {
		return false, fmt.Errorf("claim next queued run: %w", err)
	}
	if run == nil {
		return false, nil
	}

	// Defensive re-check of the no-overlap invariant (open question (a)):
	// ClaimNextQueuedRun does not itself re-validate no-overlap since a
	// queued Run was already overlap-checked at insertion time, but a
	// crash-recovery replay or a direct KillNonRunning happening between
	// enqueue and claim could in principle leave two Runs for one profile
	// both reachable. Re-checking here costs one query and closes that
	// gap rather than trusting the insertion-time check alone.
	active, err := d.otherActiveRunExists(ctx, run)
	if err != nil {
		_ = d.store.RequeueRun(ctx, run.RunID)
		return true, fmt.Errorf("recheck overlap for run %s: %w", run.RunID, err)
	}
	if active {
		if err := d.store.KillNonRunning(ctx, run.RunID, "overlap_exhausted"); err != nil && !errors.Is(err, coredb.ErrNotFound) {
			logs.CtxWarn(ctx, "[dispatcher] slot %d: kill overlapping run %s: %v", sl.id, run.RunID, err)
		}
		return true, nil
	}

	profile, err := d.store.GetTaskProfile(ctx, run.ProfileID)
	if err != nil {
		_ = d.store.FinalizeRun(ctx, run.RunID, coredb.RunFailed, "", fmt.Sprintf("load task profile: %v", err))
		return true, nil
	}

	d.execute(ctx, sl, *profile, *run)
	return true, nil
}

// otherActiveRunExists reports whether an active Run other than run itself
// already exists for run's profile.
func (d *Dispatcher) otherActiveRunExists(ctx context.Context, run *coredb.Run) (bool, error) {
	active, err := d.store.ListActiveRunsByProfile(ctx, run.ProfileID)
	if err != nil {
		return false, err
	}
	for _, a := range active {
		if a.RunID != run.RunID {
			return true, nil
		}
	}
	return false, nil
}

func (d *Dispatcher) execute(ctx context.Context, sl *slot, profile coredb.TaskProfile, run coredb.Run) {
	runCtx, cancel := context.WithCancel(ctx)

	sl.mu.Lock()
	sl.state = SlotRunning
	sl.runID = run.RunID
	sl.taskID = profile.TaskID
	sl.startedAt = time.Now()
	sl.cancelRun = cancel
	sl.mu.Unlock()

	outcome, err := d.runner.Run(runCtx, profile, run)
	cancel()

	sl.mu.Lock()
	sl.state = SlotIdle
	sl.runID = ""
	sl.taskID = ""
	sl.cancelRun = nil
	sl.mu.Unlock()

	if err != nil {
		logs.CtxError(ctx, "[dispatcher] run %s failed to launch: %v", run.RunID, err)
		_ = d.store.FinalizeRun(ctx, run.RunID, coredb.RunFailed, "", err.Error())
		d.recordOutcome(ctx, run, coredb.RunFailed)
		return
	}

	switch outcome.Status {
	case coredb.RunWaitingForUser:
		if ferr := d.store.TransitionToWaiting(ctx, run.RunID, outcome.WaitingContract); ferr != nil {
			logs.CtxWarn(ctx, "[dispatcher] transition run %s to waiting: %v", run.RunID, ferr)
		}
		// Not terminal: no history archive, no schedule outcome update yet.
		return
	case coredb.RunDone, coredb.RunFailed, coredb.RunBlocked:
		if ferr := d.store.FinalizeRun(ctx, run.RunID, outcome.Status, outcome.Summary, outcome.Error); ferr != nil {
			logs.CtxWarn(ctx, "[dispatcher] finalize run %s: %v", run.RunID, ferr)
		}
		d.recordOutcome(ctx, run, outcome.Status)
	default:
		logs.CtxWarn(ctx, "[dispatcher] run %s returned unrecognized status %q; marking failed", run.RunID, outcome.Status)
		_ = d.store.FinalizeRun(ctx, run.RunID, coredb.RunFailed, "", fmt.Sprintf("unrecognized outcome status %q", outcome.Status))
		d.recordOutcome(ctx, run, coredb.RunFailed)
	}
}

func (d *Dispatcher) recordOutcome(ctx context.Context, run coredb.Run, status coredb.RunStatus) {
	if run.ScheduleID == nil {
		return
	}
	if err := d.store.RecordScheduleRunOutcome(ctx, *run.ScheduleID, run.RunID, status, time.Now()); err != nil {
		logs.CtxWarn(ctx, "[dispatcher] record schedule outcome for %s: %v", *run.ScheduleID, err)
	}
}

// Kill terminates runID regardless of its current state: a running Run has
// its slot's context canceled (the Runner translates that into a blocked
// outcome and the slot's own execute() finalizes it); a queued or
// waiting_for_user Run is transitioned directly to blocked.
func (d *Dispatcher) Kill(ctx context.Context, runID string) error {
	for _, sl := range d.slots {
		sl.mu.Lock()
		if sl.runID == runID && sl.cancelRun != nil {
			cancel := sl.cancelRun
			sl.mu.Unlock()
			cancel()
			return nil
		}
		sl.mu.Unlock()
	}
	if err := d.store.KillNonRunning(ctx, runID, "killed"); err != nil {
		return fmt.Errorf("dispatcher: kill %s: %w", runID, err)
	}
	return nil
}

// Resume merges a user response into a waiting_for_user Run's payload and
// requeues it, so the next free slot re-invokes its TaskBody per the
// re-entrant TaskBody design (see internal/runner's agentic.go).
func (d *Dispatcher) Resume(ctx context.Context, runID, mergedPayloadJSON string) error {
	if err := d.store.ResumeWaitingRun(ctx, runID, mergedPayloadJSON); err != nil {
		return fmt.Errorf("dispatcher: resume %s: %w", runID, err)
	}
	return nil
}
