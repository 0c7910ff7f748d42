// Package providerqueue implements Provider Queues (spec §4.6): a FIFO per
// queue_group that serializes outbound calls to one rate-limited external
// API, enforcing a minimum interval (plus jitter) between dispatches and
// retrying transient failures with linear backoff.
//
// The queue is per-process and in-memory only, mirroring the teacher's
// internal/cronjob.Scheduler backoff table (backoffSteps/backoffDelay in
// internal/cronjob/schedule.go) generalized from a fixed five-step
// exponential ladder to a configurable linear one, since the spec calls
// for "linear backoff" with an explicit queue_retry_backoff_sec step. The
// min-interval gate itself is a golang.org/x/time/rate.Limiter with burst 1
// (one token refilled every queue_min_interval_sec), the teacher's
// dependency for pacing (carried indirect in its go.mod) promoted here to a
// direct, exercised import.
package providerqueue

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zubot/central/internal/pkg/logs"
)

// Call is the work a submitter wants serialized through one queue group.
// It returns a transient error (retryable) or a permanent one; Submit
// distinguishes them via the Transient field on CallError.
type Call func(ctx context.Context) error

// CallError lets a Call mark its failure as retryable. A plain error from
// Call is treated as permanent (no retry) unless wrapped in CallError with
// Transient set.
type CallError struct {
	Err       error
	Transient bool
}

func (e *CallError) Error() string { return e.Err.Error() }
func (e *CallError) Unwrap() error { return e.Err }

// Options configures one queue group.
type Options struct {
	MinIntervalSec int // queue_min_interval_sec
	JitterSec      int // queue_jitter_sec, an extra delay of up to JitterSec after MinIntervalSec; never shortens it
	MaxRetries     int // queue_max_retries
	BackoffSec     int // queue_retry_backoff_sec, linear step
	QueueDepth     int // buffered request channel size
}

// Stats are the running observability counters spec §4.6 requires
// alongside each call result.
type Stats struct {
	Pending      int
	CallsTotal   int64
	CallsSuccess int64
	CallsFailed  int64
	WaitSecLast  float64
	WaitSecAvg   float64
	WaitSecMax   float64
}

type request struct {
	ctx    context.Context
	call   Call
	replyC chan requestResult
}

type requestResult struct {
	attempt int
	waitSec float64
	err     error
}

// Queue is one queue_group's FIFO worker.
type Queue struct {
	name    string
	opts    Options
	limiter *rate.Limiter

	reqC   chan request
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	pending    int
	callsTotal int64
	success    int64
	failed     int64
	waitLast   float64
	waitSum    float64
	waitCount  int64
	waitMax    float64
}

// New constructs a Queue for one queue_group name, not yet started.
func New(name string, opts Options) *Queue {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 64
	}
	limit := rate.Inf
	if opts.MinIntervalSec > 0 {
		limit = rate.Every(time.Duration(opts.MinIntervalSec) * time.Second)
	}
	return &Queue{
		name: name, opts: opts, reqC: make(chan request, opts.QueueDepth),
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Start launches the single FIFO worker goroutine.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.run(ctx)
	}()
	logs.CtxInfo(ctx, "[providerqueue:%s] started (min_interval=%ds, jitter=%ds, max_retries=%d)",
		q.name, q.opts.MinIntervalSec, q.opts.JitterSec, q.opts.MaxRetries)
}

// Stop cancels the worker and waits for it to drain its current call.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

// Submit enqueues call and blocks until it has been attempted (including
// retries) or ctx is canceled. Submitted calls run strictly FIFO within
// this queue group.
func (q *Queue) Submit(ctx context.Context, call Call) (attempt int, waitSec float64, err error) {
	req := request{ctx: ctx, call: call, replyC: make(chan requestResult, 1)}

	q.mu.Lock()
	q.pending++
	q.mu.Unlock()

	select {
	case q.reqC <- req:
	case <-ctx.Done():
		q.mu.Lock()
		q.pending--
		q.mu.Unlock()
		return 0, 0, ctx.Err()
	}

	select {
	case res := <-req.replyC:
		return res.attempt, res.waitSec, res.err
	case <-ctx.Done():
		// The worker may still deliver into replyC (buffered 1); the
		// submitter simply stops listening, same discard-on-cancel
		// contract as the SQL Gateway.
		return 0, 0, ctx.Err()
	}
}

// Stats returns a snapshot of the running observability counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	avg := 0.0
	if q.waitCount > 0 {
		avg = q.waitSum / float64(q.waitCount)
	}
	return Stats{
		Pending: q.pending, CallsTotal: q.callsTotal, CallsSuccess: q.success, CallsFailed: q.failed,
		WaitSecLast: q.waitLast, WaitSecAvg: avg, WaitSecMax: q.waitMax,
	}
}

func (q *Queue) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-q.reqC:
			waitStart := time.Now()
			q.waitForInterval(ctx)
			waitSec := time.Since(waitStart).Seconds()

			attempt, err := q.dispatchWithRetry(req.ctx, req.call)
			q.recordResult(waitSec, err == nil)

			select {
			case req.replyC <- requestResult{attempt: attempt, waitSec: waitSec, err: err}:
			default:
				// Submitter already gave up on ctx.Done(); replyC is
				// buffered 1 so this never blocks the worker.
			}
		}
	}
}

// waitForInterval blocks until the rate.Limiter releases its one token
// (queue_min_interval_sec since the last dispatch), then draws a jitter in
// [-JitterSec, JitterSec] seconds and sleeps for it when it is positive, so
// consecutive calls don't land on an exact cadence an external API might
// itself rate-limit against. A zero or negative draw adds no delay: the gap
// is never shorter than queue_min_interval_sec.
func (q *Queue) waitForInterval(ctx context.Context) {
	if err := q.limiter.Wait(ctx); err != nil {
		return // ctx canceled; dispatchWithRetry's own ctx check handles it
	}
	if q.opts.JitterSec <= 0 {
		return
	}
	jitter := rand.Intn(2*q.opts.JitterSec+1) - q.opts.JitterSec
	if jitter <= 0 {
		return
	}
	timer := time.NewTimer(time.Duration(jitter) * time.Second)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// dispatchWithRetry invokes call, retrying up to opts.MaxRetries times on a
// transient CallError with linear backoff (attempt * BackoffSec). attempt
// is 1-based and reflects how many tries were made in total.
func (q *Queue) dispatchWithRetry(ctx context.Context, call Call) (attempt int, err error) {
	for attempt = 1; ; attempt++ {
		err = call(ctx)
		if err == nil {
			return attempt, nil
		}

		var ce *CallError
		transient := false
		if asCallError(err, &ce) {
			transient = ce.Transient
			err = ce.Err
		}
		if !transient || attempt > q.opts.MaxRetries {
			return attempt, err
		}

		delay := time.Duration(attempt*q.opts.BackoffSec) * time.Second
		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		}
		timer.Stop()
	}
}

func asCallError(err error, target **CallError) bool {
	ce, ok := err.(*CallError)
	if ok {
		*target = ce
	}
	return ok
}

func (q *Queue) recordResult(waitSec float64, success bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending--
	q.callsTotal++
	if success {
		q.success++
	} else {
		q.failed++
	}
	q.waitLast = waitSec
	q.waitSum += waitSec
	q.waitCount++
	if waitSec > q.waitMax {
		q.waitMax = waitSec
	}
}
