// Package serve implements `centrald serve`: load config, open the Store,
// wire every core component, and run the Control API until a shutdown
// signal arrives. Grounded on the teacher's cmd/friday/cmd_gw.go ("gateway
// run"), which follows the same load-config/init-logger/start/wait-for-
// signal/stop shape.
package serve

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/zubot/central/internal/api"
	"github.com/zubot/central/internal/bootstrap"
	"github.com/zubot/central/internal/coreconfig"
	"github.com/zubot/central/internal/coredb"
	"github.com/zubot/central/internal/dispatcher"
	"github.com/zubot/central/internal/housekeeping"
	"github.com/zubot/central/internal/memsum"
	"github.com/zubot/central/internal/pkg/logs"
	"github.com/zubot/central/internal/providerqueue"
	"github.com/zubot/central/internal/runner"
	"github.com/zubot/central/internal/scheduler"
	"github.com/zubot/central/internal/sqlgateway"
	"github.com/zubot/central/internal/taskbody"
)

var Command = &cli.Command{
	Name:  "serve",
	Usage: "Run the centrald daemon: scheduler, dispatcher, SQL gateway, memory pipeline, and the Control API",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the centrald config file (defaults to ZUBOT_CENTRAL_CONFIG or ~/.zubot/central.yaml)",
		},
	},
	Action: run,
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfgPath := cmd.String("config")
	if cfgPath == "" {
		cfgPath = coreconfig.ResolvePath()
	}

	cfg, err := coreconfig.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logs.Init(logs.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		File:       cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
	}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logs.CtxInfo(ctx, "booting centrald, using config file: %s...", cfgPath)

	store, err := coredb.Open(coredb.Options{
		Path:        cfg.SchedulerDBPath,
		BusyTimeout: time.Duration(cfg.DBQueueBusyTimeoutMs) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	for _, profile := range taskbody.Seed() {
		existing, err := store.GetTaskProfile(ctx, profile.TaskID)
		if err != nil && !errors.Is(err, coredb.ErrNotFound) {
			return fmt.Errorf("seed task profile %s: %w", profile.TaskID, err)
		}
		if existing == nil {
			if err := store.CreateTaskProfile(ctx, profile); err != nil {
				return fmt.Errorf("seed task profile %s: %w", profile.TaskID, err)
			}
		}
	}

	queues := providerqueue.NewRegistry(context.Background(), func(group string) providerqueue.Options {
		pq := cfg.ProviderQueues[group]
		return providerqueue.Options{
			MinIntervalSec: pq.MinIntervalSec,
			JitterSec:      pq.JitterSec,
			MaxRetries:     pq.MaxRetries,
			BackoffSec:     pq.BackoffSec,
		}
	})

	if err := bootstrap.RegisterProviders(ctx, cfg.Providers); err != nil {
		return fmt.Errorf("register providers: %w", err)
	}

	reg := runner.NewRegistry()
	taskbody.RegisterAll(reg, queues)

	taskRunner := runner.New(runner.Options{Registry: reg, LogDir: cfg.RunLogDir, Store: store})

	disp := dispatcher.New(dispatcher.Options{
		Store:       store,
		Runner:      taskRunner,
		Concurrency: cfg.TaskRunnerConcurrency,
	})

	sched := scheduler.New(store, time.Duration(cfg.HeartbeatPollIntervalSec)*time.Second)

	gw := sqlgateway.New(store, sqlgateway.Options{DefaultMaxRows: cfg.DBQueueDefaultMaxRows})

	mem := memsum.New(memsum.Options{
		Store:                        store,
		RealtimeSummaryTurnThreshold: cfg.RealtimeSummaryTurnThreshold,
		WorkerPollSec:                cfg.SummaryWorkerPollSec,
		WorkerMaxJobsPerTick:         cfg.SummaryWorkerMaxJobsPerTick,
		SweepIntervalSec:             cfg.MemoryManagerSweepIntervalSec,
	})

	keeper := housekeeping.New(store, time.Duration(cfg.HeartbeatPollIntervalSec)*time.Second)

	server := api.New(api.Options{
		Bind:                  cfg.ControlAPIBind,
		Store:                 store,
		Scheduler:             sched,
		Dispatcher:            disp,
		SQLGateway:            gw,
		ProviderQueues:        queues,
		Memsum:                mem,
		Housekeeping:          keeper,
		QueueWarningThreshold: cfg.QueueWarningThreshold,
		RunningAgeWarningSec:  cfg.RunningAgeWarningSec,
	})
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Channel webhook routes (Lark, HTTP) must be registered before Listen
	// spins up the Hertz engine: Hertz builds its routing tree once at
	// startup, so routes added after Spin has started would never match.
	stopChannels, err := bootstrap.RegisterChannels(runCtx, server.Hertz(), cfg.Channels)
	if err != nil {
		return fmt.Errorf("register channels: %w", err)
	}

	server.Listen()

	if cfg.CentralServiceEnabled {
		server.Start(runCtx)
	}

	logs.CtxInfo(ctx, "centrald listening on %s. Press Ctrl+C to stop.", cfg.ControlAPIBind)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	select {
	case sig := <-signalCh:
		logs.CtxInfo(ctx, "received shutdown signal (%s). stopping centrald...", sig.String())
	case <-runCtx.Done():
		logs.CtxInfo(ctx, "context canceled. stopping centrald...")
	}

	stopChannels(ctx)
	server.Stop()
	queues.Stop()

	logs.CtxInfo(ctx, "all stopped, good bye!")
	return nil
}
