// Package runner executes one Run according to its TaskProfile.Kind:
// script (subprocess), agentic (in-process tool-calling loop), or
// interactive_wrapper (agentic plus a waiting-for-user handshake).
//
// agentic and interactive_wrapper kinds are dispatched to a registered
// TaskBody function looked up by TaskProfile.Module — the generalized form
// of the teacher's Agent.runLoop (internal/agent/loop.go), which is itself
// one concrete tool-calling loop wired to one eino model. Here the loop
// shape is left to the registered body (internal/taskbody ships the example
// bodies; a real deployment registers its own), since the spec treats the
// business pipeline as an external collaborator.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zubot/central/internal/coredb"
)

// Outcome is a TaskBody's (or the script launcher's) result, mapped onto a
// Run's terminal or waiting_for_user transition by the Dispatcher.
type Outcome struct {
	Status          coredb.RunStatus
	Summary         string
	Error           string
	PayloadJSON     string // merged/updated payload_json to persist
	WaitingContract string // set (as JSON) only when Status == RunWaitingForUser
}

// RunContext is what a TaskBody receives: its own run/task identity, the raw
// payload_json from the Run row, and the Store for task-state/seen-item
// access (never the SQL Gateway directly — bodies go through the same typed
// Store methods anything else does).
type RunContext struct {
	Ctx         context.Context
	RunID       string
	TaskID      string
	Kind        coredb.TaskKind
	PayloadJSON string
	Store       *coredb.Store
}

// TaskBody is a registered agentic/interactive_wrapper implementation.
type TaskBody func(rc RunContext) (Outcome, error)

// Registry maps TaskProfile.Module to a TaskBody, mirroring the shape of the
// teacher's provider.Registry (internal/provider/registry.go) and
// gateway.AgentRegistry (internal/gateway/agent.go): a name-keyed map behind
// an RWMutex, where registering a module again replaces its earlier body.
type Registry struct {
	mu     sync.RWMutex
	bodies map[string]TaskBody
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{bodies: make(map[string]TaskBody, 8)}
}

// Register adds a TaskBody under module. Re-registering the same module
// overwrites the previous entry, so tests and bootstrap code can reseed
// freely.
func (r *Registry) Register(module string, body TaskBody) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bodies[module] = body
}

// Get looks up a registered TaskBody by module name.
func (r *Registry) Get(module string) (TaskBody, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bodies[module]
	return b, ok
}

// Runner executes one Run per TaskProfile.Kind.
type Runner struct {
	registry *Registry
	logDir   string
	store    *coredb.Store
}

// Options configures a Runner.
type Options struct {
	Registry *Registry
	LogDir   string        // per-run stdout/stderr logs for script kind
	Store    *coredb.Store // passed through to TaskBody as RunContext.Store
}

// New constructs a Runner. A nil Registry means agentic/interactive_wrapper
// kinds always fail with "module not registered" — fine for a deployment
// that only uses script tasks.
func New(opts Options) *Runner {
	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry()
	}
	return &Runner{registry: reg, logDir: opts.LogDir, store: opts.Store}
}

// Run executes run according to profile.Kind, honoring ctx for cancellation
// and profile.TimeoutSec for an upper bound the Dispatcher did not already
// apply. Reaching that upper bound produces Outcome{Status: RunFailed,
// Error: "timeout"}; cancellation of ctx produces Outcome{Status:
// RunBlocked, Error: "killed"}. A TaskBody's own failure is reported as
// RunFailed with its error text.
func (r *Runner) Run(ctx context.Context, profile coredb.TaskProfile, run coredb.Run) (Outcome, error) {
	timeout := time.Duration(profile.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch profile.Kind {
	case coredb.KindScript:
		return r.runScript(runCtx, profile, run)
	case coredb.KindAgentic, coredb.KindInteractiveWrapper:
		return r.runAgentic(runCtx, profile, run)
	default:
		return Outcome{}, fmt.Errorf("runner: unknown task kind %q", profile.Kind)
	}
}
