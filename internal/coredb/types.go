// Package coredb owns the SQLite schema and typed data-access primitives for
// the central execution substrate: task profiles, schedules, runs, history,
// per-task state, the seen-item ledger, heartbeat state, day memory, and the
// summary-job queue.
//
// Every exported operation here is a single SQL statement or a single
// transaction. Callers needing atomic cross-statement behavior (claim-next,
// transition-with-cursor-advance) get it from a dedicated method, not by
// composing several Store calls — composing them from outside would reopen
// the races the Store exists to close.
package coredb

import "time"

// TaskKind enumerates the three execution styles a TaskProfile may declare.
type TaskKind string

const (
	KindScript             TaskKind = "script"
	KindAgentic             TaskKind = "agentic"
	KindInteractiveWrapper TaskKind = "interactive_wrapper"
)

// RunStatus enumerates the lifecycle states of a Run.
type RunStatus string

const (
	RunQueued          RunStatus = "queued"
	RunRunning         RunStatus = "running"
	RunWaitingForUser  RunStatus = "waiting_for_user"
	RunDone            RunStatus = "done"
	RunFailed          RunStatus = "failed"
	RunBlocked         RunStatus = "blocked"
)

// ActiveRunStatuses is the set of statuses counted by the no-overlap rule:
// at most one Run per task_id may be in one of these at a time.
var ActiveRunStatuses = []RunStatus{RunQueued, RunRunning, RunWaitingForUser}

// ScheduleMode selects how a Schedule computes its fire instants.
type ScheduleMode string

const (
	ModeFrequency ScheduleMode = "frequency"
	ModeCalendar  ScheduleMode = "calendar"
)

// MisfirePolicy controls how the Heartbeat handles fire instants it missed.
type MisfirePolicy string

const (
	MisfireQueueAll    MisfirePolicy = "queue_all"
	MisfireQueueLatest MisfirePolicy = "queue_latest"
	MisfireSkip        MisfirePolicy = "skip"
)

// SummaryJobStatus enumerates SummaryJob lifecycle states.
type SummaryJobStatus string

const (
	SummaryQueued  SummaryJobStatus = "queued"
	SummaryRunning SummaryJobStatus = "running"
	SummaryDone    SummaryJobStatus = "done"
	SummaryFailed  SummaryJobStatus = "failed"
)

// ActiveSummaryStatuses is the set of statuses the partial unique index on
// SummaryJob enforces uniqueness-per-day over.
var ActiveSummaryStatuses = []SummaryJobStatus{SummaryQueued, SummaryRunning}

// MemoryEventKind enumerates the allowlisted kinds persisted to DayMemoryEvent.
// Tool telemetry and internal chatter are deliberately not members of this
// enum — see spec §9 "Event-kind allowlist for durable memory".
type MemoryEventKind string

const (
	EventUser            MemoryEventKind = "user"
	EventMainAgent        MemoryEventKind = "main_agent"
	EventTaskAgentLifecycle MemoryEventKind = "task_agent_event"
)

// MemoryEventLayer distinguishes raw transcript events from synthesized
// summary text appended back into the same log.
type MemoryEventLayer string

const (
	LayerRaw     MemoryEventLayer = "raw"
	LayerSummary MemoryEventLayer = "summary"
)

// TaskProfile declares an executable task.
type TaskProfile struct {
	TaskID         string
	Kind           TaskKind
	EntrypointPath string // script kind
	Module         string // agentic / interactive_wrapper kind
	QueueGroup     string
	TimeoutSec     int
	RetryPolicy    string // opaque to the store; stored and returned as is, the Runner does not read it
	Enabled        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Schedule is a recurring binding of a task, carrying the schedule cursor.
type Schedule struct {
	ScheduleID   string
	ProfileID    string
	Enabled      bool
	Mode         ScheduleMode
	Misfire      MisfirePolicy
	ExecutionOrder int

	// frequency mode
	RunFrequencyMinutes int

	// calendar mode
	TimeOfDay  []string // "HH:MM", one or more per day
	DayOfWeek  []int    // 0=Sunday .. 6=Saturday; empty means every day
	Timezone   string   // IANA timezone name

	// cursor
	NextRunAt        time.Time
	LastPlannedRunAt *time.Time

	// last-run summary metadata, updated by the Dispatcher
	LastRunID      string
	LastRunStatus  RunStatus
	LastRunAt      *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Run is an active (or just-terminated, pre-archive) lifecycle record.
type Run struct {
	RunID         string
	ScheduleID    *string // nil for manual/one-off runs
	ProfileID     string
	Status        RunStatus
	PlannedFireAt *time.Time
	QueuedAt      time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
	Summary       string
	Error         string
	PayloadJSON   string
}

// RunHistory is a terminal snapshot of a Run, retention-pruned.
type RunHistory struct {
	RunID         string
	ScheduleID    *string
	ProfileID     string
	Status        RunStatus
	PlannedFireAt *time.Time
	QueuedAt      time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
	Summary       string
	Error         string
	PayloadJSON   string
	ArchivedAt    time.Time
}

// TaskSeenItem is the idempotency ledger row for an externally observed item.
type TaskSeenItem struct {
	TaskID       string
	Provider     string
	ItemKey      string
	FirstSeenAt  time.Time
	LastSeenAt   time.Time
	SeenCount    int
	MetadataJSON string
}

// TaskStateEntry is a single per-task checkpoint/cursor KV row.
type TaskStateEntry struct {
	TaskID    string
	StateKey  string
	Value     string
	UpdatedAt time.Time
}

// DayMemoryEvent is an append-only event row in the per-day transcript log.
type DayMemoryEvent struct {
	EventID   string
	Day       string // "2006-01-02"
	EventTime time.Time
	SessionID string
	Kind      MemoryEventKind
	Text      string
	Layer     MemoryEventLayer
}

// DayMemoryStatus is the per-day counters row.
type DayMemoryStatus struct {
	Day                     string
	TotalMessages           int
	LastSummarizedTotal     int
	MessagesSinceLastSummary int
	SummariesCount          int
	IsFinalized             bool
	LastEventAt             *time.Time
	LastSummaryAt           *time.Time
}

// SummaryJob is a unit of per-day summarization work.
type SummaryJob struct {
	JobID        string
	Day          string
	Status       SummaryJobStatus
	Reason       string
	AttemptCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DaySummary is the materialized narrative summary for one day.
type DaySummary struct {
	Day       string
	Text      string
	UpdatedAt time.Time
}

// HeartbeatState is the singleton 'main' heartbeat status row.
type HeartbeatState struct {
	StartedAt     *time.Time
	FinishedAt    *time.Time
	Status        string
	EnqueuedCount int
	LastError     string
}
