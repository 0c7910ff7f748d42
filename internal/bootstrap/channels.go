package bootstrap

import (
	"context"
	"fmt"
	"strings"

	hzServer "github.com/cloudwego/hertz/pkg/app/server"

	"github.com/zubot/central/internal/channel"
	httpchan "github.com/zubot/central/internal/channel/http"
	"github.com/zubot/central/internal/channel/lark"
	"github.com/zubot/central/internal/channel/telegram"
	"github.com/zubot/central/internal/config"
	"github.com/zubot/central/internal/pkg/logs"
)

// RegisterChannels constructs one channel.Channel per entry in channels,
// registers it into the package-level channel registry (channel.Register)
// so the Control API's optional notification-delivery path can look it up
// by id, attaches any webhook routes it needs onto hz
// (the Control API's own Hertz server, exposed via api.Server.Hertz, rather
// than opening a second listener), and starts its receive loop in its own
// goroutine. It returns a stop function that shuts down every started
// channel, for the caller to defer alongside the rest of the daemon's
// graceful shutdown.
//
// Generalizes the teacher's internal/gateway.Gateway.initChannels, minus
// the gateway's own inbound-message routing: centrald's channels exist
// only to let a Control API trigger/resume call push a notification out, not to route replies back into a chat
// loop.
func RegisterChannels(ctx context.Context, hz *hzServer.Hertz, channels map[string]config.ChannelConfig) (func(context.Context), error) {
	started := make([]channel.Channel, 0, len(channels))
	stop := func(stopCtx context.Context) {
		for _, ch := range started {
			if err := ch.Stop(stopCtx); err != nil {
				logs.CtxWarn(stopCtx, "[bootstrap] stop channel %s: %v", ch.ID(), err)
			}
		}
	}

	for id, cfg := range channels {
		if !cfg.Enabled {
			continue
		}
		cfg.ID = id
		ch, err := newChannel(id, &cfg)
		if err != nil {
			stop(ctx)
			return nil, fmt.Errorf("create channel %s: %w", id, err)
		}

		if rp, ok := ch.(channel.RouteProvider); ok {
			for _, route := range rp.Routes() {
				hz.Handle(route.Method, route.Path, route.Handler)
			}
		}

		if err := channel.Register(ch); err != nil {
			stop(ctx)
			return nil, fmt.Errorf("register channel %s: %w", id, err)
		}

		started = append(started, ch)
		go func(ch channel.Channel) {
			if err := ch.Start(ctx); err != nil && ctx.Err() == nil {
				logs.CtxWarn(ctx, "[bootstrap] channel %s stopped: %v", ch.ID(), err)
			}
		}(ch)
		logs.CtxInfo(ctx, "[bootstrap] registered channel %s (%s)", id, cfg.Type)
	}

	return stop, nil
}

func newChannel(id string, cfg *config.ChannelConfig) (channel.Channel, error) {
	switch channel.Type(strings.ToLower(strings.TrimSpace(cfg.Type))) {
	case channel.Telegram:
		return telegram.NewChannel(id, cfg)
	case channel.Lark:
		return lark.NewChannel(id, cfg)
	case channel.HTTP:
		return httpchan.NewChannel(id, cfg)
	default:
		return nil, fmt.Errorf("unknown channel type: %s", cfg.Type)
	}
}
