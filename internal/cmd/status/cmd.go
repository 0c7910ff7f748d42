// Package status implements `centrald status`: a thin Control API client
// that prints runtime state, grounded on the teacher's cmd/friday/cmd_msg.go
// "one flag-parsing cli.Command, one small action function" shape.
package status

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/zubot/central/internal/cmd/centralclient"
)

var Command = &cli.Command{
	Name:  "status",
	Usage: "Print centrald's runtime status (active runs, slots, warnings)",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "api",
			Usage: "Base URL of a running centrald's Control API",
			Value: "http://127.0.0.1:8090",
		},
	},
	Action: run,
}

func run(ctx context.Context, cmd *cli.Command) error {
	client := centralclient.New(cmd.String("api"))

	var out map[string]any
	if err := client.Do(ctx, "GET", "/api/central/status", nil, &out); err != nil {
		return err
	}

	pretty, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("status: marshal response: %w", err)
	}
	fmt.Println(string(pretty))
	return nil
}
