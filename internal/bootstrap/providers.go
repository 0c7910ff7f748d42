// Package bootstrap stands up the provider and channel instances
// centrald's agentic task bodies and Control API notifications need,
// generalizing the teacher's internal/gateway.Gateway.initProviders/
// initChannels (the construct-then-register-into-the-package-global-
// registry shape) to a daemon that has no chat gateway of its own.
package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/zubot/central/internal/config"
	"github.com/zubot/central/internal/pkg/logs"
	"github.com/zubot/central/internal/provider"
	"github.com/zubot/central/internal/provider/anthropic"
	"github.com/zubot/central/internal/provider/gemini"
	"github.com/zubot/central/internal/provider/ollama"
	"github.com/zubot/central/internal/provider/openai"
	"github.com/zubot/central/internal/provider/qwen"
)

// RegisterProviders constructs and registers one provider.Provider per
// entry in providers into the package-level provider registry
// (provider.Get/provider.Register), so taskbody.NewAgenticNote can look
// them up by id at Run time.
func RegisterProviders(ctx context.Context, providers map[string]config.ProviderConfig) error {
	for id, cfg := range providers {
		cfg.ID = id
		p, err := newProvider(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create provider %s: %w", id, err)
		}
		if err := provider.Register(p); err != nil {
			return fmt.Errorf("register provider %s: %w", id, err)
		}
		logs.CtxInfo(ctx, "[bootstrap] registered provider %s (%s)", id, cfg.Type)
	}
	return nil
}

func newProvider(ctx context.Context, cfg config.ProviderConfig) (provider.Provider, error) {
	cfgMap := make(map[string]interface{}, len(cfg.Config))
	for k, v := range cfg.Config {
		cfgMap[k] = v
	}

	switch provider.Type(strings.ToLower(strings.TrimSpace(cfg.Type))) {
	case provider.OpenAI:
		openaiCfg, err := openai.ParseConfig(cfg.ID, cfgMap)
		if err != nil {
			return nil, err
		}
		return openai.NewProvider(ctx, *openaiCfg)
	case provider.Anthropic:
		return anthropic.NewProvider(ctx, cfg.ID, cfgMap)
	case provider.Gemini:
		geminiCfg, err := gemini.ParseConfig(cfg.ID, cfgMap)
		if err != nil {
			return nil, err
		}
		return gemini.NewProvider(ctx, *geminiCfg)
	case provider.Ollama:
		return ollama.NewProvider(ctx, cfg.ID, cfgMap)
	case provider.Qwen:
		qwenCfg, err := qwen.ParseConfig(cfg.ID, cfgMap)
		if err != nil {
			return nil, err
		}
		return qwen.NewProvider(*qwenCfg)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
}
