// Package memsum implements the Memory Summary Pipeline (spec §4.7):
// threshold-triggered ingestion, a background summarization worker, and
// periodic/debounced sweeps for days the threshold path never finalized.
//
// The prompt-construction and char-budget truncation strategy is grounded
// on the teacher's internal/cronjob/compact.go (BuildCompactPrompt): a
// char-budgeted excerpt builder that truncates individual messages and
// caps the total, generalized here from "yesterday's daily memory file +
// session excerpts" to "one day's DayMemoryEvent rows."
package memsum

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zubot/central/internal/coredb"
	"github.com/zubot/central/internal/pkg/logs"
)

const (
	maxSegmentChars = 16000 // mirrors the teacher's maxTotalExcerptChars
	maxEventChars   = 2000  // mirrors the teacher's maxSingleMessageChars, scaled up for raw event text
)

// Summarizer turns a day's raw transcript text into narrative prose. A nil
// Summarizer (or one that errors) falls back to summarizeDeterministic.
type Summarizer interface {
	Summarize(ctx context.Context, day string, transcript string) (string, error)
}

// Pipeline owns ingestion, the background worker, and sweeps.
type Pipeline struct {
	store      *coredb.Store
	summarizer Summarizer

	realtimeThreshold int
	workerPollSec     int
	workerMaxPerTick  int
	sweepIntervalSec  int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options configures a Pipeline from coreconfig values.
type Options struct {
	Store                        *coredb.Store
	Summarizer                   Summarizer // optional; nil uses the deterministic fallback only
	RealtimeSummaryTurnThreshold int
	WorkerPollSec                int
	WorkerMaxJobsPerTick         int
	SweepIntervalSec             int
}

// New constructs a Pipeline, not yet started.
func New(opts Options) *Pipeline {
	threshold := opts.RealtimeSummaryTurnThreshold
	if threshold <= 0 {
		threshold = 40
	}
	poll := opts.WorkerPollSec
	if poll <= 0 {
		poll = 30
	}
	maxPerTick := opts.WorkerMaxJobsPerTick
	if maxPerTick <= 0 {
		maxPerTick = 4
	}
	sweep := opts.SweepIntervalSec
	if sweep <= 0 {
		sweep = 3600
	}
	return &Pipeline{
		store: opts.Store, summarizer: opts.Summarizer,
		realtimeThreshold: threshold, workerPollSec: poll, workerMaxPerTick: maxPerTick, sweepIntervalSec: sweep,
	}
}

// Start launches the worker loop and sweep loop as separate goroutines.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.workerLoop(ctx)
	}()
	go func() {
		defer p.wg.Done()
		p.sweepLoop(ctx)
	}()
	logs.CtxInfo(ctx, "[memsum] pipeline started (threshold=%d, worker_poll=%ds, sweep=%ds)",
		p.realtimeThreshold, p.workerPollSec, p.sweepIntervalSec)
}

// Stop cancels both loops and waits for them to unwind.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Ingest appends one memory event, then enqueues a SummaryJob for its day
// if the realtime threshold is crossed (spec §4.7 "Ingestion"). The day is
// ev.Day as the caller set it (a "2006-01-02" string in the deployment's
// reference timezone); it is not derived from ev.EventTime.
func (p *Pipeline) Ingest(ctx context.Context, ev coredb.DayMemoryEvent) error {
	status, err := p.store.AppendEvent(ctx, ev)
	if err != nil {
		return fmt.Errorf("memsum: append event: %w", err)
	}
	if status.MessagesSinceLastSummary >= p.realtimeThreshold {
		if _, err := p.store.EnqueueSummaryJob(ctx, uuid.NewString(), ev.Day, "threshold"); err != nil {
			return fmt.Errorf("memsum: enqueue summary job for %s: %w", ev.Day, err)
		}
	}
	return nil
}

// TriggerDebouncedSweep enqueues summary jobs for unfinalized days strictly
// before today, the same pass the periodic sweep makes, with reason
// "debounced". Nothing in the daemon calls it: a finishing Run does not
// trigger a sweep, and the call itself applies no debounce interval.
func (p *Pipeline) TriggerDebouncedSweep(ctx context.Context, today string) error {
	return p.sweepOnce(ctx, today, "debounced")
}

func (p *Pipeline) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(p.sweepIntervalSec) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			today := time.Now().UTC().Format("2006-01-02")
			if err := p.sweepOnce(ctx, today, "periodic_sweep"); err != nil {
				logs.CtxWarn(ctx, "[memsum] sweep error: %v", err)
			}
		}
	}
}

func (p *Pipeline) sweepOnce(ctx context.Context, today, reason string) error {
	days, err := p.store.ListUnfinalizedDays(ctx, today)
	if err != nil {
		return fmt.Errorf("list unfinalized days: %w", err)
	}
	for _, day := range days {
		if _, err := p.store.EnqueueSummaryJob(ctx, uuid.NewString(), day, reason); err != nil {
			logs.CtxWarn(ctx, "[memsum] sweep enqueue for %s: %v", day, err)
		}
	}
	return nil
}

func (p *Pipeline) workerLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(p.workerPollSec) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.workerTick(ctx); err != nil {
				logs.CtxWarn(ctx, "[memsum] worker tick error: %v", err)
			}
		}
	}
}

// workerTick claims up to workerMaxPerTick jobs and summarizes each,
// exported so a "centrald memory summarize-now" debug subcommand can drive
// it synchronously.
func (p *Pipeline) WorkerTick(ctx context.Context) error { return p.workerTick(ctx) }

func (p *Pipeline) workerTick(ctx context.Context) error {
	jobs, err := p.store.ClaimSummaryJobs(ctx, p.workerMaxPerTick)
	if err != nil {
		return fmt.Errorf("claim summary jobs: %w", err)
	}
	for _, job := range jobs {
		if err := p.summarizeDay(ctx, job); err != nil {
			logs.CtxWarn(ctx, "[memsum] summarize day %s (job %s): %v", job.Day, job.JobID, err)
			if ferr := p.store.FailSummaryJob(ctx, job.JobID, err.Error()); ferr != nil {
				logs.CtxWarn(ctx, "[memsum] mark job %s failed: %v", job.JobID, ferr)
			}
			continue
		}
		if err := p.store.CompleteSummaryJob(ctx, job.JobID); err != nil {
			logs.CtxWarn(ctx, "[memsum] mark job %s complete: %v", job.JobID, err)
		}
	}
	return nil
}

func (p *Pipeline) summarizeDay(ctx context.Context, job coredb.SummaryJob) error {
	events, err := p.store.ListDayEvents(ctx, job.Day, coredb.LayerRaw)
	if err != nil {
		return fmt.Errorf("load transcript: %w", err)
	}
	status, err := p.store.GetDayStatus(ctx, job.Day)
	if err != nil {
		return fmt.Errorf("load day status: %w", err)
	}
	if status == nil {
		return fmt.Errorf("no day_memory_status row for %s", job.Day)
	}

	text, err := p.summarize(ctx, job.Day, events)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}
	if err := p.store.UpsertDaySummary(ctx, job.Day, text); err != nil {
		return fmt.Errorf("upsert day summary: %w", err)
	}

	today := time.Now().UTC().Format("2006-01-02")
	finalize := job.Day < today
	if err := p.store.MarkDaySummarized(ctx, job.Day, status.TotalMessages, time.Now(), finalize); err != nil {
		return fmt.Errorf("mark day summarized: %w", err)
	}
	return nil
}

// summarize builds the transcript text and, on oversize input, splits it
// once into char-budgeted segments, summarizes each, then summarizes the
// concatenation of the segment summaries in one further call whatever its
// length; that concatenation is not split again. It prefers the
// model-backed Summarizer, falling back to a deterministic concatenative
// summary on error or when none is configured.
func (p *Pipeline) summarize(ctx context.Context, day string, events []coredb.DayMemoryEvent) (string, error) {
	transcript := renderTranscript(events)
	if len(transcript) <= maxSegmentChars {
		return p.summarizeOne(ctx, day, transcript), nil
	}

	segments := splitSegments(transcript, maxSegmentChars)
	partials := make([]string, len(segments))
	for i, seg := range segments {
		partials[i] = p.summarizeOne(ctx, day, seg)
	}
	return p.summarizeOne(ctx, day, strings.Join(partials, "\n\n")), nil
}

func (p *Pipeline) summarizeOne(ctx context.Context, day, text string) string {
	if p.summarizer != nil {
		if out, err := p.summarizer.Summarize(ctx, day, text); err == nil && strings.TrimSpace(out) != "" {
			return out
		} else if err != nil {
			logs.CtxWarn(ctx, "[memsum] model-backed summarizer failed for %s, falling back: %v", day, err)
		}
	}
	return summarizeDeterministic(day, text)
}

// renderTranscript renders events as "HH:MM [kind] text" lines, truncating
// any single event's text at maxEventChars the same way the teacher's
// BuildCompactPrompt truncates an individual session message.
func renderTranscript(events []coredb.DayMemoryEvent) string {
	var b strings.Builder
	for _, ev := range events {
		text := ev.Text
		if len(text) > maxEventChars {
			text = text[:maxEventChars] + "..."
		}
		fmt.Fprintf(&b, "%s [%s] %s\n", ev.EventTime.Format("15:04"), ev.Kind, text)
	}
	return b.String()
}

// splitSegments breaks s into chunks of at most maxChars, preferring line
// boundaries so a split never lands mid-event.
func splitSegments(s string, maxChars int) []string {
	lines := strings.Split(s, "\n")
	var segments []string
	var cur strings.Builder
	for _, line := range lines {
		if cur.Len()+len(line)+1 > maxChars && cur.Len() > 0 {
			segments = append(segments, cur.String())
			cur.Reset()
		}
		cur.WriteString(line)
		cur.WriteString("\n")
	}
	if cur.Len() > 0 {
		segments = append(segments, cur.String())
	}
	return segments
}

// summarizeDeterministic produces a concatenative summary with no model
// call: counts by kind plus the first and last few lines, the documented
// fallback for when no Summarizer is configured or it errors.
func summarizeDeterministic(day, text string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) == 0 || (len(lines) == 1 && lines[0] == "") {
		return fmt.Sprintf("%s: no recorded activity.", day)
	}

	const headTail = 5
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d recorded events.\n", day, len(lines))
	head := lines
	if len(head) > headTail {
		head = head[:headTail]
	}
	b.WriteString("Earliest:\n")
	for _, l := range head {
		b.WriteString(l)
		b.WriteString("\n")
	}
	if len(lines) > headTail {
		tail := lines[len(lines)-headTail:]
		b.WriteString("Latest:\n")
		for _, l := range tail {
			b.WriteString(l)
			b.WriteString("\n")
		}
	}
	return b.String()
}
