// Package housekeeping implements the periodic waiting-run expiry pass
// spec.md §4.5 documents as mandatory Runner housekeeping: "expires Runs
// past expires_at to blocked with reason waiting_for_user_timeout".
//
// The ticker-driven Start/Stop loop shape and the "Store does the query,
// this package owns the cadence" split mirror internal/memsum's
// sweepLoop/sweepOnce, itself grounded on the teacher's
// internal/cronjob.Scheduler ticker loop.
package housekeeping

import (
	"context"
	"sync"
	"time"

	"github.com/zubot/central/internal/coredb"
	"github.com/zubot/central/internal/pkg/logs"
)

const defaultPollInterval = 60 * time.Second

// Keeper runs the waiting-run expiry sweep on a fixed interval.
type Keeper struct {
	store        *coredb.Store
	pollInterval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Keeper. A zero pollInterval falls back to 60s; expiry is
// a coarser-grained concern than the Heartbeat's own poll, so it does not
// reuse heartbeat_poll_interval_sec.
func New(store *coredb.Store, pollInterval time.Duration) *Keeper {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Keeper{store: store, pollInterval: pollInterval}
}

// Start launches the sweep loop in a background goroutine.
func (k *Keeper) Start(ctx context.Context) {
	ctx, k.cancel = context.WithCancel(ctx)
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		k.loop(ctx)
	}()
	logs.CtxInfo(ctx, "[housekeeping] waiting-run expiry started (poll_interval=%s)", k.pollInterval)
}

// Stop cancels the loop and waits for the in-flight sweep to finish.
func (k *Keeper) Stop() {
	if k.cancel != nil {
		k.cancel()
	}
	k.wg.Wait()
}

func (k *Keeper) loop(ctx context.Context) {
	ticker := time.NewTicker(k.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := k.Sweep(ctx); err != nil {
				logs.CtxWarn(ctx, "[housekeeping] sweep error: %v", err)
			} else if n > 0 {
				logs.CtxInfo(ctx, "[housekeeping] expired %d waiting run(s)", n)
			}
		}
	}
}

// Sweep runs one expiry pass synchronously; exported so tests and a future
// debug subcommand can drive it without the ticker. It transitions every
// waiting_for_user Run whose persisted contract's expires_at has passed to
// blocked/waiting_for_user_timeout (spec §4.5, §8 Scenario S5) and returns
// how many it expired.
func (k *Keeper) Sweep(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	expired, err := k.store.ListExpiredWaitingRuns(ctx, now)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, run := range expired {
		if err := k.store.FinalizeRun(ctx, run.RunID, coredb.RunBlocked, "", "waiting_for_user_timeout"); err != nil {
			logs.CtxWarn(ctx, "[housekeeping] expire run %s: %v", run.RunID, err)
			continue
		}
		n++
	}
	return n, nil
}
