// Package taskbody ships a small library of example task bodies
// (spec §8 scenarios S1-S6) so the execution substrate is exercised
// end-to-end without requiring a real business pipeline: spec.md treats
// "the specific business pipeline of job searching/cover-letter
// generation" as an external collaborator the daemon never hardcodes.
//
// echo and sleep are kind=script TaskProfiles: their "body" is a literal
// shell entrypoint, not a Go function, since the script kind always
// launches profile.EntrypointPath via the Runner's own subprocess path
// (internal/runner/script.go). interactive_demo and agentic_note are
// kind=interactive_wrapper/agentic TaskProfiles and register an actual
// runner.TaskBody, the shape the teacher's internal/agent.Agent.runLoop
// generalizes (internal/runner/runner.go's doc comment).
package taskbody

import (
	"time"

	"github.com/zubot/central/internal/coredb"
	"github.com/zubot/central/internal/providerqueue"
	"github.com/zubot/central/internal/runner"
)

// Seed returns the example TaskProfiles this package implements, ready to
// be passed to coredb.Store.CreateTaskProfile. `centrald serve` seeds them
// on every start and creates only the profiles that do not exist yet, since
// CreateTaskProfile is a plain insert that fails on an existing TaskID.
func Seed() []coredb.TaskProfile {
	now := time.Now()
	return []coredb.TaskProfile{
		{
			TaskID:         "echo",
			Kind:           coredb.KindScript,
			EntrypointPath: `echo "${ZUBOT_RUN_PAYLOAD}"`,
			TimeoutSec:     30,
			Enabled:        true,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
		{
			TaskID: "sleep",
			Kind:   coredb.KindScript,
			// SLEEP_SECONDS comes from the daemon's environment (the runner
			// does not set it from the payload) and defaults to 5; exec'd in
			// place of the shell so SIGTERM/SIGKILL against the process group
			// reaches the sleep(1) process directly.
			EntrypointPath: `exec sleep "${SLEEP_SECONDS:-5}"`,
			TimeoutSec:     300,
			Enabled:        true,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
		{
			TaskID:     "interactive_demo",
			Kind:       coredb.KindInteractiveWrapper,
			Module:     ModuleInteractiveDemo,
			TimeoutSec: 120,
			Enabled:    true,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		{
			TaskID:     "agentic_note",
			Kind:       coredb.KindAgentic,
			Module:     ModuleAgenticNote,
			QueueGroup: "agentic_note",
			TimeoutSec: 120,
			Enabled:    true,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
	}
}

// RegisterAll wires every Go-backed example body into reg, for a bootstrap
// command to call once at startup alongside Seed.
func RegisterAll(reg *runner.Registry, queues *providerqueue.Registry) {
	reg.Register(ModuleInteractiveDemo, InteractiveDemo)
	reg.Register(ModuleAgenticNote, NewAgenticNote(queues, "agentic_note"))
}
