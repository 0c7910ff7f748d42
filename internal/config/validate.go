package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/zubot/central/internal/consts"
)

const (
	defaultPairingWelcomeWindowSec = 300
	defaultPairingMaxResp          = 3
)

// Validate normalizes and checks one channel's ACL/security config,
// called per-entry by coreconfig.Config.Validate's Channels normalization
// loop rather than on a whole-Config value of this package's own (there is
// none — this package only holds the component config shapes coreconfig
// embeds).
func (c *ChannelConfig) Validate() error {
	if c == nil {
		return errors.New("channel config cannot be nil")
	}

	securityEmpty := c.Security.Policy == "" &&
		c.Security.WelcomeWindow == 0 &&
		c.Security.MaxResp == 0 &&
		strings.TrimSpace(c.Security.CustomText) == ""
	if securityEmpty && len(c.ACL) == 0 {
		return nil
	}

	if c.Security.Policy == "" {
		c.Security.Policy = consts.SecurityPolicyWelcome
	}
	if c.Security.WelcomeWindow <= 0 {
		c.Security.WelcomeWindow = defaultPairingWelcomeWindowSec
	}
	if c.Security.MaxResp <= 0 {
		c.Security.MaxResp = defaultPairingMaxResp
	}
	c.Security.CustomText = strings.TrimSpace(c.Security.CustomText)

	switch c.Security.Policy {
	case consts.SecurityPolicyWelcome, consts.SecurityPolicySilent, consts.SecurityPolicyCustom:
	default:
		return fmt.Errorf("invalid security.policy: %s", c.Security.Policy)
	}

	if c.Security.WelcomeWindow <= 0 {
		return errors.New("security.welcome_window must be greater than 0")
	}
	if c.Security.MaxResp <= 0 {
		return errors.New("security.max_resp must be greater than 0")
	}
	if c.Security.Policy == consts.SecurityPolicyCustom && c.Security.CustomText == "" {
		return errors.New("security.custom_text is required when security.policy=custom")
	}

	if len(c.ACL) == 0 {
		return nil
	}

	normalized := make(map[string]ChannelACLConfig, len(c.ACL))
	for key, one := range c.ACL {
		chatID := strings.TrimSpace(key)
		if chatID == "" {
			return errors.New("acl key cannot be empty")
		}
		if !strings.HasPrefix(chatID, "group:") && !strings.HasPrefix(chatID, "user:") {
			return fmt.Errorf("acl key must start with group: or user:, got %s", chatID)
		}

		normalizeList := func(in []string) []string {
			if len(in) == 0 {
				return nil
			}
			uniq := make(map[string]struct{}, len(in))
			out := make([]string, 0, len(in))
			for _, one := range in {
				one = strings.TrimSpace(one)
				if one == "" {
					continue
				}
				if _, ok := uniq[one]; ok {
					continue
				}
				uniq[one] = struct{}{}
				out = append(out, one)
			}
			sort.Strings(out)
			if len(out) == 0 {
				return nil
			}
			return out
		}

		one.Allow = normalizeList(one.Allow)
		one.Block = normalizeList(one.Block)
		normalized[chatID] = one
	}
	c.ACL = normalized
	return nil
}
