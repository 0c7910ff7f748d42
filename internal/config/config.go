// Package config holds the component-level settings for the
// subsystems centrald adapts from the provider/channel stack:
// ChannelConfig/ProviderConfig, the shapes bootstrap, the channel
// implementations, and coreconfig.Config's Providers/Channels maps all
// share. Daemon-level settings (scheduling intervals, the control API
// bind, logging) live in coreconfig.Config instead — this package is
// scoped to the component configs it owned in the original gateway design.
package config

import (
	"github.com/zubot/central/internal/consts"
)

type (
	ChannelConfig struct {
		ID       string                      `yaml:"-"`
		Type     string                      `yaml:"type"` // telegram, lark, http
		Enabled  bool                        `yaml:"enabled"`
		ACL      map[string]ChannelACLConfig `yaml:"acl,omitempty"` // key: chatType:chatId
		Security ChannelSecurityConfig       `yaml:"security,omitempty"`
		Config   map[string]interface{}      `yaml:"config"`
	}

	ChannelACLConfig struct {
		Allow []string `yaml:"allow"`
		Block []string `yaml:"block"`
	}

	ChannelSecurityConfig struct {
		Policy        consts.SecurityPolicy `yaml:"policy"`
		WelcomeWindow int                   `yaml:"welcome_window"`
		MaxResp       int                   `yaml:"max_resp"`
		CustomText    string                `yaml:"custom_text"`
	}

	ProviderConfig struct {
		ID     string         `yaml:"-"`
		Type   string         `yaml:"type"` // openai, anthropic, gemini, ollama, qwen
		Config map[string]any `yaml:"config"`
	}
)
