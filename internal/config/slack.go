package config

import (
	"fmt"
	"strings"
	"time"

	env "github.com/netflix/go-env"
)

// SlackConfig holds Slack-related settings
type SlackConfig struct {
	BotToken string `env:"SLACK_BOT_TOKEN,required=true"`
	// Own user id; when empty only subtype based self filtering applies
	BotUserID string `env:"BOT_USER_ID,required=false"`
	// Request signature verification is enabled only when a signing secret is set
	SigningSecret string `env:"SLACK_SIGNING_SECRET,required=false"`
	// Web API base URL, must end with a slash. Empty uses the slack-go default.
	APIURL      string        `env:"SLACK_API_URL,required=false"`
	HTTPTimeout time.Duration `env:"SLACK_HTTP_TIMEOUT,default=10s"`
	// Poll budgets per minute, 0 disables the scope
	RateUserPerMinute    int `env:"SLACK_RATE_USER_PER_MINUTE,default=0"`
	RateChannelPerMinute int `env:"SLACK_RATE_CHANNEL_PER_MINUTE,default=0"`
	RateGlobalPerMinute  int `env:"SLACK_RATE_GLOBAL_PER_MINUTE,default=0"`
}

// LoadSlack loads Slack configuration from environment variables
func LoadSlack() (*SlackConfig, error) {
	var cfg SlackConfig
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse slack environment variables: %w", err)
	}

	cfg.BotToken = strings.TrimSpace(cfg.BotToken)
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("SLACK_BOT_TOKEN cannot be empty")
	}
	cfg.BotUserID = strings.TrimSpace(cfg.BotUserID)

	if cfg.APIURL != "" && !strings.HasSuffix(cfg.APIURL, "/") {
		cfg.APIURL += "/"
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.RateUserPerMinute < 0 {
		cfg.RateUserPerMinute = 0
	}
	if cfg.RateChannelPerMinute < 0 {
		cfg.RateChannelPerMinute = 0
	}
	if cfg.RateGlobalPerMinute < 0 {
		cfg.RateGlobalPerMinute = 0
	}
	return &cfg, nil
}

// VerifySignatures reports whether inbound requests must carry a valid Slack signature
func (c *SlackConfig) VerifySignatures() bool {
	return c.SigningSecret != ""
}

// RateLimited reports whether any poll budget is configured
func (c *SlackConfig) RateLimited() bool {
	return c.RateUserPerMinute > 0 || c.RateChannelPerMinute > 0 || c.RateGlobalPerMinute > 0
}
