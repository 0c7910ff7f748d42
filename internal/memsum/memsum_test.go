package memsum

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/zubot/central/internal/coredb"
)

func newTestStore(t *testing.T) *coredb.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := coredb.Open(coredb.Options{Path: filepath.Join(dir, "central.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestIngestEnqueuesJobAtThreshold(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	p := New(Options{Store: st, RealtimeSummaryTurnThreshold: 3})

	day := "2026-07-29"
	for i := 0; i < 3; i++ {
		ev := coredb.DayMemoryEvent{
			EventID: uuid.NewString(), Day: day, EventTime: time.Now(),
			Kind: coredb.EventUser, Text: fmt.Sprintf("message %d", i), Layer: coredb.LayerRaw,
		}
		if err := p.Ingest(ctx, ev); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	jobs, err := st.ClaimSummaryJobs(ctx, 10)
	if err != nil {
		t.Fatalf("claim jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Day != day {
		t.Fatalf("expected exactly 1 job for %s, got %+v", day, jobs)
	}
}

func TestIngestDedupesJobUnderThresholdRepeat(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	p := New(Options{Store: st, RealtimeSummaryTurnThreshold: 1})

	day := "2026-07-29"
	for i := 0; i < 3; i++ {
		ev := coredb.DayMemoryEvent{
			EventID: uuid.NewString(), Day: day, EventTime: time.Now(),
			Kind: coredb.EventUser, Text: "x", Layer: coredb.LayerRaw,
		}
		if err := p.Ingest(ctx, ev); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	jobs, err := st.ClaimSummaryJobs(ctx, 10)
	if err != nil {
		t.Fatalf("claim jobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected the partial unique index to dedupe to 1 active job, got %d", len(jobs))
	}
}

func TestWorkerTickSummarizesAndFinalizes(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	p := New(Options{Store: st, RealtimeSummaryTurnThreshold: 1, WorkerMaxJobsPerTick: 10})

	day := "2026-07-28" // strictly before "today" so the job finalizes
	ev := coredb.DayMemoryEvent{
		EventID: uuid.NewString(), Day: day, EventTime: time.Now(),
		Kind: coredb.EventUser, Text: "hello there", Layer: coredb.LayerRaw,
	}
	if err := p.Ingest(ctx, ev); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if err := p.WorkerTick(ctx); err != nil {
		t.Fatalf("worker tick: %v", err)
	}

	summary, err := st.GetDaySummary(ctx, day)
	if err != nil {
		t.Fatalf("get day summary: %v", err)
	}
	if summary == nil || summary.Text == "" {
		t.Fatalf("expected a day summary to be written")
	}

	status, err := st.GetDayStatus(ctx, day)
	if err != nil {
		t.Fatalf("get day status: %v", err)
	}
	if !status.IsFinalized {
		t.Fatalf("expected day to be finalized since it is strictly before today")
	}
	if status.MessagesSinceLastSummary != 0 {
		t.Fatalf("expected messages_since_last_summary reset to 0, got %d", status.MessagesSinceLastSummary)
	}
}

func TestSplitSegmentsRespectsLineBoundaries(t *testing.T) {
	text := "line1\nline2\nline3\nline4\n"
	segs := splitSegments(text, 12)
	if len(segs) < 2 {
		t.Fatalf("expected multiple segments, got %d", len(segs))
	}
	for _, s := range segs {
		if len(s) == 0 {
			t.Fatalf("unexpected empty segment")
		}
	}
}

type stubSummarizer struct{ out string }

func (s stubSummarizer) Summarize(ctx context.Context, day, transcript string) (string, error) {
	return s.out, nil
}

func TestWorkerTickPrefersModelSummarizer(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	p := New(Options{Store: st, RealtimeSummaryTurnThreshold: 1, WorkerMaxJobsPerTick: 10,
		Summarizer: stubSummarizer{out: "model summary"}})

	day := "2026-07-28"
	ev := coredb.DayMemoryEvent{
		EventID: uuid.NewString(), Day: day, EventTime: time.Now(),
		Kind: coredb.EventUser, Text: "hello", Layer: coredb.LayerRaw,
	}
	if err := p.Ingest(ctx, ev); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if err := p.WorkerTick(ctx); err != nil {
		t.Fatalf("worker tick: %v", err)
	}

	summary, err := st.GetDaySummary(ctx, day)
	if err != nil {
		t.Fatalf("get day summary: %v", err)
	}
	if summary.Text != "model summary" {
		t.Fatalf("expected model-backed summary to win, got %q", summary.Text)
	}
}
