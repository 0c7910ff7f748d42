// Package task implements `centrald task`: TaskProfile CRUD against a
// running centrald's Control API.
package task

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
	Name:  "task",
	Usage: "Manage TaskProfiles",
	Commands: []*cli.Command{
		{
			Name:   "list",
			Usage:  "List every TaskProfile",
			Flags:  []cli.Flag{apiFlag},
			Action: list,
		},
		{
			Name:      "get",
			Usage:     "Print one TaskProfile",
			ArgsUsage: "<task_id>",
			Flags:     []cli.Flag{apiFlag},
			Action:    get,
		},
		{
			Name:      "delete",
			Usage:     "Delete a TaskProfile",
			ArgsUsage: "<task_id>",
			Flags:     []cli.Flag{apiFlag},
			Action:    del,
		},
		{
			Name:  "create",
			Usage: "Create or update a TaskProfile",
			Flags: []cli.Flag{
				apiFlag,
				&cli.StringFlag{Name: "task-id", Usage: "Task ID", Required: true},
				&cli.StringFlag{Name: "kind", Usage: "script, agentic, or interactive_wrapper", Required: true},
				&cli.StringFlag{Name: "entrypoint", Usage: "Shell entrypoint (script kind)"},
				&cli.StringFlag{Name: "module", Usage: "Registered Go module name (agentic/interactive_wrapper kind)"},
				&cli.StringFlag{Name: "queue-group", Usage: "Provider queue group (agentic kind)"},
				&cli.IntFlag{Name: "timeout-sec", Usage: "Run timeout in seconds", Value: 60},
				&cli.BoolFlag{Name: "enabled", Usage: "Whether the task is eligible to run", Value: true},
			},
			Action: create,
		},
	},
}

func list(ctx context.Context, cmd *cli.Command) error {
	client := centralclient.New(cmd.String("api"))
	var out map[string]any
	if err := client.Do(ctx, "GET", "/api/central/tasks", nil, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func get(ctx context.Context, cmd *cli.Command) error {
	taskID := strings.TrimSpace(cmd.Args().First())
	if taskID == "" {
		return errors.New("task get: <task_id> is required")
	}
	client := centralclient.New(cmd.String("api"))
	var out map[string]any
	if err := client.Do(ctx, "GET", "/api/central/tasks/"+taskID, nil, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func del(ctx context.Context, cmd *cli.Command) error {
	taskID := strings.TrimSpace(cmd.Args().First())
	if taskID == "" {
		return errors.New("task delete: <task_id> is required")
	}
	client := centralclient.New(cmd.String("api"))
	var out map[string]any
	if err := client.Do(ctx, "DELETE", "/api/central/tasks/"+taskID, nil, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func create(ctx context.Context, cmd *cli.Command) error {
	client := centralclient.New(cmd.String("api"))
	req := map[string]any{
		"task_id":         cmd.String("task-id"),
		"kind":            cmd.String("kind"),
		"entrypoint_path": cmd.String("entrypoint"),
		"module":          cmd.String("module"),
		"queue_group":     cmd.String("queue-group"),
		"timeout_sec":     cmd.Int("timeout-sec"),
		"enabled":         cmd.Bool("enabled"),
	}
	var out map[string]any
	if err := client.Do(ctx, "POST", "/api/central/tasks", req, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func printJSON(v any) error {
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("task: marshal response: %w", err)
	}
	fmt.Println(string(pretty))
	return nil
}
