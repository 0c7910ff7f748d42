package taskbody

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/zubot/central/internal/coredb"
	"github.com/zubot/central/internal/runner"
)

// ModuleInteractiveDemo is the TaskProfile.Module this body registers
// under.
const ModuleInteractiveDemo = "taskbody.interactive_demo"

// waitingContract is the JSON shape spec §4.5 documents for a
// waiting_for_user Run: {request_id, question, expires_at}.
type waitingContract struct {
	RequestID string    `json:"request_id"`
	Question  string    `json:"question"`
	ExpiresAt time.Time `json:"expires_at"`
}

// resumePayload is what the Control API's resume handler is expected to
// merge into payload_json before calling coredb.ResumeWaitingRun: the
// original contract plus the user's answer.
type resumePayload struct {
	RequestID string `json:"request_id"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
}

// InteractiveDemo is a minimal kind=interactive_wrapper TaskBody (spec §8
// S4/S5): on first invocation it yields a waiting contract immediately; on
// resume (payload_json now carries an "answer" field) it completes,
// echoing the answer into its summary. It relies on the re-entrant model:
// each claim of a resumed waiting_for_user Run re-invokes this same
// function fresh with the merged payload.
func InteractiveDemo(rc runner.RunContext) (runner.Outcome, error) {
	var resumed resumePayload
	if rc.PayloadJSON != "" {
		if err := sonic.UnmarshalString(rc.PayloadJSON, &resumed); err == nil && resumed.Answer != "" {
			return runner.Outcome{
				Status:  coredb.RunDone,
				Summary: fmt.Sprintf("user answered %q to %q", resumed.Answer, resumed.Question),
			}, nil
		}
	}

	contract := waitingContract{
		RequestID: uuid.NewString(),
		Question:  "continue this run?",
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
	raw, err := sonic.MarshalString(contract)
	if err != nil {
		return runner.Outcome{}, fmt.Errorf("taskbody: marshal waiting contract: %w", err)
	}
	return runner.Outcome{Status: coredb.RunWaitingForUser, WaitingContract: raw}, nil
}
