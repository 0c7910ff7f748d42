// Package trigger implements `centrald trigger`: enqueue a manual Run of an
// existing task profile through the Control API.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/zubot/central/internal/cmd/centralclient"
)

var Command = &cli.Command{
	Name:      "trigger",
	Usage:     "Enqueue a manual Run of a task profile",
	ArgsUsage: "<task_id>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "api",
			Usage: "Base URL of a running centrald's Control API",
			Value: "http://127.0.0.1:8090",
		},
		&cli.StringFlag{
			Name:  "payload",
			Usage: "Optional JSON payload to merge into the triggered run",
		},
	},
	Action: run,
}

func run(ctx context.Context, cmd *cli.Command) error {
	taskID := strings.TrimSpace(cmd.Args().First())
	if taskID == "" {
		return errors.New("trigger: <task_id> is required")
	}

	client := centralclient.New(cmd.String("api"))

	var out map[string]any
	err := client.Do(ctx, "POST", "/api/central/trigger/"+taskID,
		map[string]string{"payload_json": cmd.String("payload")}, &out)
	if err != nil {
		return err
	}

	pretty, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("trigger: marshal response: %w", err)
	}
	fmt.Println(string(pretty))
	return nil
}
