package scheduler

import (
	"time"

	"github.com/zubot/central/internal/coredb"
)

// applyMisfirePolicy narrows the full list of missed instants down to the
// ones that should actually become Run rows (spec §4.3 step 3). Callers pass
// this narrowed slice to lastPlannedOf, so last_planned_run_at moves to the
// highest selected instant and stays where it was under skip.
func applyMisfirePolicy(policy coredb.MisfirePolicy, instants []time.Time) []time.Time {
	if len(instants) == 0 {
		return nil
	}
	switch policy {
	case coredb.MisfireQueueAll:
		return instants
	case coredb.MisfireQueueLatest:
		return []time.Time{instants[len(instants)-1]}
	case coredb.MisfireSkip:
		return nil
	default:
		return nil
	}
}

// lastPlannedOf returns the highest instant in a non-empty slice, or nil if
// empty — the cursor's last_planned_run_at only moves when at least one
// instant was actually observed this tick (spec §4.3 step 5), which callers
// pass verbatim into coredb.AdvanceScheduleCursor so the skip policy's
// COALESCE no-op is expressed by passing nil, not a zero time.Time.
func lastPlannedOf(instants []time.Time) *time.Time {
	if len(instants) == 0 {
		return nil
	}
	t := instants[len(instants)-1]
	return &t
}
