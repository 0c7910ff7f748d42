package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/zubot/central/internal/cmd/notify"
	"github.com/zubot/central/internal/cmd/schedule"
	"github.com/zubot/central/internal/cmd/serve"
	"github.com/zubot/central/internal/cmd/status"
	"github.com/zubot/central/internal/cmd/task"
	"github.com/zubot/central/internal/cmd/trigger"
	"github.com/zubot/central/internal/pkg/logs"
)

func main() {
	cmd := &cli.Command{
		Name:  "centrald",
		Usage: "zubot's local-first task execution daemon",
		Commands: []*cli.Command{
			serve.Command,
			status.Command,
			task.Command,
			schedule.Command,
			trigger.Command,
			notify.Command,
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logs.Error("command execution failed: %v", err)
		os.Exit(1)
	}
}
