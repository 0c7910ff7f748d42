package taskbody

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/schema"

	"github.com/zubot/central/internal/coredb"
	"github.com/zubot/central/internal/provider"
	"github.com/zubot/central/internal/providerqueue"
	"github.com/zubot/central/internal/runner"
)

// ModuleAgenticNote is the TaskProfile.Module this body registers under.
const ModuleAgenticNote = "taskbody.agentic_note"

// agenticNotePayload is the expected payload_json shape: a model spec
// ("provider_id:model_name") and a single-turn prompt. No tools are
// enabled, matching spec §8 S-scenario "demonstrating the agentic kind
// riding on the same provider.Registry/providerqueue path real chat
// traffic would use" without needing the full tool-calling loop.
type agenticNotePayload struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// NewAgenticNote builds a kind=agentic TaskBody that performs one
// non-streaming provider.Generate call, serialized through the
// TaskProfile's QueueGroup via providerqueue.Registry — the same
// rate-limited path any chat-originated provider call takes, rather than
// calling the provider SDK directly.
func NewAgenticNote(queues *providerqueue.Registry, queueGroup string) runner.TaskBody {
	return func(rc runner.RunContext) (runner.Outcome, error) {
		var payload agenticNotePayload
		if rc.PayloadJSON != "" {
			if err := sonic.UnmarshalString(rc.PayloadJSON, &payload); err != nil {
				return runner.Outcome{Status: coredb.RunFailed,
					Error: fmt.Sprintf("parse payload_json: %v", err)}, nil
			}
		}
		if payload.Prompt == "" {
			return runner.Outcome{Status: coredb.RunFailed, Error: "agentic_note requires a non-empty prompt"}, nil
		}

		spec, err := provider.ParseModelSpec(payload.Model)
		if err != nil {
			return runner.Outcome{Status: coredb.RunFailed,
				Error: fmt.Sprintf("parse model spec %q: %v", payload.Model, err)}, nil
		}
		p, err := provider.Get(spec.ProviderID)
		if err != nil || p == nil {
			return runner.Outcome{Status: coredb.RunFailed,
				Error: fmt.Sprintf("provider %q not registered", spec.ProviderID)}, nil
		}

		msgs := []*schema.Message{{Role: schema.User, Content: payload.Prompt}}

		var reply *schema.Message
		call := func(ctx context.Context) error {
			resp, genErr := p.Generate(ctx, spec.ModelName, msgs)
			if genErr != nil {
				return &providerqueue.CallError{Err: genErr, Transient: true}
			}
			reply = resp
			return nil
		}

		q := queues.Get(queueGroup)
		if _, _, err := q.Submit(rc.Ctx, call); err != nil {
			return runner.Outcome{Status: coredb.RunFailed,
				Error: fmt.Sprintf("generate via provider %s: %v", spec.ProviderID, err)}, nil
		}
		if reply == nil {
			return runner.Outcome{Status: coredb.RunFailed, Error: "provider returned no message"}, nil
		}
		return runner.Outcome{Status: coredb.RunDone, Summary: reply.Content}, nil
	}
}
