// Package sqlgateway serializes SQL requests against the coredb Store
// behind a single worker. Its caller is the Control API's ad-hoc SQL
// inspection endpoint; the Scheduler, the Dispatcher, the Runner and the
// other daemon components call the Store's typed methods directly and do
// not go through this gateway.
//
// The pattern is the teacher's MessageQueue (internal/gateway/message.go)
// generalized from per-session lanes + a concurrency semaphore down to a
// single lane with no concurrency at all: SQLite only has one writer, so
// there is nothing to bound beyond "one at a time".
package sqlgateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zubot/central/internal/coredb"
	"github.com/zubot/central/internal/pkg/logs"
)

// Options configures a Gateway.
type Options struct {
	// DefaultMaxRows caps result sets when a Request does not specify its
	// own MaxRows. Falls back to 1000 if zero.
	DefaultMaxRows int
	// QueueBuffer sizes the request channel; callers beyond this block in
	// Submit until the worker drains, the same backpressure the teacher's
	// lane channels apply.
	QueueBuffer int
}

// Request describes one SQL call submitted to the Gateway.
type Request struct {
	SQL       string
	Args      []any
	ReadOnly  bool
	MaxRows   int
	RequestID string
}

// Result is what Submit returns for a read request. Write requests leave
// Columns/Rows empty and report RowsAffected instead.
type Result struct {
	Columns      []string
	Rows         [][]any
	RowCount     int
	Truncated    bool
	RowsAffected int64
}

type job struct {
	ctx  context.Context
	req  Request
	resp chan jobResult
}

type jobResult struct {
	result *Result
	err    error
}

// Gateway is the single-worker SQL serialization layer over one coredb.Store.
type Gateway struct {
	store          *coredb.Store
	defaultMaxRows int
	reqCh          chan job
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

// New constructs a Gateway bound to store. Call Start to begin processing.
func New(store *coredb.Store, opts Options) *Gateway {
	defaultMaxRows := opts.DefaultMaxRows
	if defaultMaxRows <= 0 {
		defaultMaxRows = 1000
	}
	queueBuffer := opts.QueueBuffer
	if queueBuffer <= 0 {
		queueBuffer = 64
	}
	return &Gateway{
		store:          store,
		defaultMaxRows: defaultMaxRows,
		reqCh:          make(chan job, queueBuffer),
	}
}

// Start launches the single worker goroutine. It returns once the worker is
// running; Stop tears it down.
func (g *Gateway) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.wg.Add(1)
	go g.run(workerCtx)
}

// Stop signals the worker to exit and waits for it to drain in-flight work.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.wg.Wait()
}

func (g *Gateway) run(ctx context.Context) {
	defer g.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-g.reqCh:
			res, err := g.process(j.ctx, j.req)
			select {
			case j.resp <- jobResult{result: res, err: err}:
			default:
				// Submitter already gave up (its ctx was canceled); the
				// reply is simply discarded, per spec §4.2: "cancellation
				// of a submitter is safe and merely discards the reply."
			}
		}
	}
}

// Submit enqueues req and blocks until the worker replies or ctx is
// canceled. Canceling ctx while queued or in flight is safe: Submit returns
// ctx.Err() and the worker's eventual reply (if any) is discarded.
func (g *Gateway) Submit(ctx context.Context, req Request) (*Result, error) {
	if req.ReadOnly {
		if err := validateReadOnly(req.SQL); err != nil {
			return nil, fmt.Errorf("sqlgateway: %w", err)
		}
	}
	if req.MaxRows <= 0 {
		req.MaxRows = g.defaultMaxRows
	}

	j := job{ctx: ctx, req: req, resp: make(chan jobResult, 1)}
	select {
	case g.reqCh <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-j.resp:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *Gateway) process(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	defer func() {
		logs.CtxDebug(ctx, "[sqlgateway] request %s took %s", req.RequestID, time.Since(start))
	}()

	if req.ReadOnly {
		return g.query(ctx, req)
	}
	return g.exec(ctx, req)
}

func (g *Gateway) query(ctx context.Context, req Request) (*Result, error) {
	rows, err := g.store.DB().QueryContext(ctx, req.SQL, req.Args...)
	if err != nil {
		return nil, fmt.Errorf("sqlgateway: query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sqlgateway: columns: %w", err)
	}

	res := &Result{Columns: cols}
	for rows.Next() {
		if len(res.Rows) >= req.MaxRows {
			res.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("sqlgateway: scan row: %w", err)
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlgateway: row iteration: %w", err)
	}
	res.RowCount = len(res.Rows)
	return res, nil
}

func (g *Gateway) exec(ctx context.Context, req Request) (*Result, error) {
	result, err := g.store.DB().ExecContext(ctx, req.SQL, req.Args...)
	if err != nil {
		return nil, fmt.Errorf("sqlgateway: exec: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		// Some statements (DDL) don't support RowsAffected; that's fine.
		n = 0
	}
	return &Result{RowsAffected: n}, nil
}
