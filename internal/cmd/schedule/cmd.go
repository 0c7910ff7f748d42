// Package schedule implements `centrald schedule`: Schedule CRUD against a
// running centrald's Control API.
package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/zubot/central/internal/cmd/centralclient"
)

var apiFlag = &cli.StringFlag{
	Name:  "api",
	Usage: "Base URL of a running centrald's Control API",
	Value: "http://127.0.0.1:8090",
}

var Command = &cli.Command{
	Name:  "schedule",
	Usage: "Manage Schedules",
	Commands: []*cli.Command{
		{
			Name:   "list",
			Usage:  "List every Schedule",
			Flags:  []cli.Flag{apiFlag},
			Action: list,
		},
		{
			Name:      "get",
			Usage:     "Print one Schedule",
			ArgsUsage: "<schedule_id>",
			Flags:     []cli.Flag{apiFlag},
			Action:    get,
		},
		{
			Name:      "delete",
			Usage:     "Delete a Schedule",
			ArgsUsage: "<schedule_id>",
			Flags:     []cli.Flag{apiFlag},
			Action:    del,
		},
		{
			Name:  "create",
			Usage: "Create a frequency-mode Schedule for a task profile",
			Flags: []cli.Flag{
				apiFlag,
				&cli.StringFlag{Name: "profile-id", Usage: "Task profile this schedule runs", Required: true},
				&cli.IntFlag{Name: "frequency-minutes", Usage: "Run every N minutes", Required: true},
				&cli.StringFlag{Name: "misfire", Usage: "queue_all, queue_latest, or skip", Value: "queue_latest"},
				&cli.BoolFlag{Name: "enabled", Usage: "Whether the schedule is active", Value: true},
			},
			Action: create,
		},
	},
}

func list(ctx context.Context, cmd *cli.Command) error {
	client := centralclient.New(cmd.String("api"))
	var out map[string]any
	if err := client.Do(ctx, "GET", "/api/central/schedules", nil, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func get(ctx context.Context, cmd *cli.Command) error {
	scheduleID := strings.TrimSpace(cmd.Args().First())
	if scheduleID == "" {
		return errors.New("schedule get: <schedule_id> is required")
	}
	client := centralclient.New(cmd.String("api"))
	var out map[string]any
	if err := client.Do(ctx, "GET", "/api/central/schedules/"+scheduleID, nil, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func del(ctx context.Context, cmd *cli.Command) error {
	scheduleID := strings.TrimSpace(cmd.Args().First())
	if scheduleID == "" {
		return errors.New("schedule delete: <schedule_id> is required")
	}
	client := centralclient.New(cmd.String("api"))
	var out map[string]any
	if err := client.Do(ctx, "DELETE", "/api/central/schedules/"+scheduleID, nil, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func create(ctx context.Context, cmd *cli.Command) error {
	client := centralclient.New(cmd.String("api"))
	req := map[string]any{
		"profile_id":            cmd.String("profile-id"),
		"mode":                  "frequency",
		"run_frequency_minutes": cmd.Int("frequency-minutes"),
		"misfire":               cmd.String("misfire"),
		"enabled":               cmd.Bool("enabled"),
	}
	var out map[string]any
	if err := client.Do(ctx, "POST", "/api/central/schedules", req, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func printJSON(v any) error {
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("schedule: marshal response: %w", err)
	}
	fmt.Println(string(pretty))
	return nil
}
