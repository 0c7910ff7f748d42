package sqlgateway

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/zubot/central/internal/coredb"
)

func newTestGateway(t *testing.T) (*Gateway, *coredb.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := coredb.Open(coredb.Options{Path: filepath.Join(dir, "central.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	gw := New(store, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	gw.Start(ctx)
	t.Cleanup(func() {
		cancel()
		gw.Stop()
	})
	return gw, store
}

func TestSubmitReadOnlySelect(t *testing.T) {
	gw, store := newTestGateway(t)
	ctx := context.Background()

	if err := store.CreateTaskProfile(ctx, coredb.TaskProfile{TaskID: "t1", Kind: coredb.KindScript, Enabled: true}); err != nil {
		t.Fatalf("seed profile: %v", err)
	}

	res, err := gw.Submit(ctx, Request{SQL: "SELECT task_id, kind FROM task_profile", ReadOnly: true})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.RowCount != 1 || res.Rows[0][0] != "t1" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSubmitRejectsWriteWhenReadOnly(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	_, err := gw.Submit(ctx, Request{SQL: "DELETE FROM task_profile", ReadOnly: true})
	if err == nil {
		t.Fatalf("expected rejection of write statement")
	}
}

func TestSubmitTruncatesAtMaxRows(t *testing.T) {
	gw, store := newTestGateway(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		if err := store.CreateTaskProfile(ctx, coredb.TaskProfile{TaskID: id, Kind: coredb.KindScript, Enabled: true}); err != nil {
			t.Fatalf("seed profile %s: %v", id, err)
		}
	}

	res, err := gw.Submit(ctx, Request{SQL: "SELECT task_id FROM task_profile ORDER BY task_id", ReadOnly: true, MaxRows: 2})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.RowCount != 2 || !res.Truncated {
		t.Fatalf("expected truncated 2-row result, got %+v", res)
	}
}

func TestSubmitExecWrite(t *testing.T) {
	gw, store := newTestGateway(t)
	ctx := context.Background()

	if err := store.CreateTaskProfile(ctx, coredb.TaskProfile{TaskID: "t1", Kind: coredb.KindScript, Enabled: true}); err != nil {
		t.Fatalf("seed profile: %v", err)
	}

	res, err := gw.Submit(ctx, Request{
		SQL:  "UPDATE task_profile SET timeout_sec = ? WHERE task_id = ?",
		Args: []any{120, "t1"},
	})
	if err != nil {
		t.Fatalf("submit write: %v", err)
	}
	if res.RowsAffected != 1 {
		t.Fatalf("expected 1 row affected, got %d", res.RowsAffected)
	}

	got, err := store.GetTaskProfile(ctx, "t1")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if got.TimeoutSec != 120 {
		t.Fatalf("write did not apply: %+v", got)
	}
}

func TestSubmitCanceledContextDiscardsReply(t *testing.T) {
	gw, _ := newTestGateway(t)

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Millisecond)
	defer cancel()
	time.Sleep(2 * time.Millisecond)

	_, err := gw.Submit(ctx, Request{SQL: "SELECT 1", ReadOnly: true})
	if err == nil {
		t.Fatalf("expected context-deadline error")
	}
}

func TestValidateReadOnly(t *testing.T) {
	cases := []struct {
		sql     string
		wantErr bool
	}{
		{"SELECT * FROM run", false},
		{"  -- comment\nSELECT 1", false},
		{"WITH x AS (SELECT 1) SELECT * FROM x", false},
		{"EXPLAIN QUERY PLAN SELECT 1", false},
		{"DELETE FROM run", true},
		{"INSERT INTO run DEFAULT VALUES", true},
		{"PRAGMA table_info(run)", true},
		{"", true},
	}
	for _, c := range cases {
		err := validateReadOnly(c.sql)
		if (err != nil) != c.wantErr {
			t.Errorf("validateReadOnly(%q) error=%v, wantErr=%v", c.sql, err, c.wantErr)
		}
	}
}
