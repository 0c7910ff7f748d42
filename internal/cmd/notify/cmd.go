// Package notify implements `centrald notify`: send a one-off message
// through a configured channel without going through the Control API or a
// running agentic Run, for operators who just want to ping a chat. Grounded
// on the teacher's cmd/friday/cmd_msg.go, with the channel construction
// fixed to the channel packages' actual NewChannel(id, *config.ChannelConfig)
// signature and reading from centrald's own coreconfig instead of the
// teacher's standalone config.yaml.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/zubot/central/internal/channel"
	"github.com/zubot/central/internal/channel/lark"
	"github.com/zubot/central/internal/channel/telegram"
	"github.com/zubot/central/internal/config"
	"github.com/zubot/central/internal/coreconfig"
)

var Command = &cli.Command{
	Name:  "notify",
	Usage: "Send a one-off message through a configured channel",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the centrald config file (defaults to ZUBOT_CENTRAL_CONFIG or ~/.zubot/central.yaml)",
		},
		&cli.StringFlag{
			Name:    "channelId",
			Aliases: []string{"chanId"},
			Usage:   "Channel ID defined in the config file",
		},
		&cli.StringFlag{
			Name:  "chatId",
			Usage: "Target chat ID or user ID",
		},
		&cli.StringFlag{
			Name:    "content",
			Aliases: []string{"m"},
			Usage:   "Message body",
		},
	},
	Action: run,
}

func run(ctx context.Context, cmd *cli.Command) error {
	channelID := strings.TrimSpace(cmd.String("channelId"))
	if channelID == "" {
		return errors.New("--channelId is required")
	}
	chatID := strings.TrimSpace(cmd.String("chatId"))
	if chatID == "" {
		return errors.New("--chatId is required")
	}
	content := strings.TrimSpace(cmd.String("content"))
	if content == "" {
		return errors.New("--content cannot be empty")
	}

	cfgPath := strings.TrimSpace(cmd.String("config"))
	if cfgPath == "" {
		cfgPath = coreconfig.ResolvePath()
	}
	cfg, err := coreconfig.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	chCfg, ok := cfg.Channels[channelID]
	if !ok {
		return fmt.Errorf("channel %q was not found in the configured channels", channelID)
	}
	chCfg.ID = channelID

	ch, err := newChannel(&chCfg)
	if err != nil {
		return fmt.Errorf("create channel: %w", err)
	}
	defer func() { _ = ch.Stop(ctx) }()

	if err := ch.SendMessage(ctx, chatID, content); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	fmt.Printf("Sent message via %s channel %s to target %s\n", chCfg.Type, chCfg.ID, chatID)
	return nil
}

func newChannel(chCfg *config.ChannelConfig) (channel.Channel, error) {
	switch channel.Type(strings.ToLower(strings.TrimSpace(chCfg.Type))) {
	case channel.Telegram:
		return telegram.NewChannel(chCfg.ID, chCfg)
	case channel.Lark:
		return lark.NewChannel(chCfg.ID, chCfg)
	default:
		return nil, fmt.Errorf("channel type %q is not supported by notify yet", chCfg.Type)
	}
}
