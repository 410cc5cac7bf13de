package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file, then overlays secrets from the
// environment. A missing file is not an error: defaults apply, which is
// enough for `nautifier doctor` and local smoke runs.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := env.Parse(&cfg.Secrets); err != nil {
		return nil, fmt.Errorf("parse env secrets: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Gateway.IntakeTimeoutMS <= 0 || c.Gateway.IntakeTimeoutMS >= 3000 {
		return fmt.Errorf("gateway.intake_timeout_ms must be in (0, 3000), got %d", c.Gateway.IntakeTimeoutMS)
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("worker.max_attempts must be >= 1, got %d", c.Worker.MaxAttempts)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be >= 1, got %d", c.Worker.Concurrency)
	}
	seen := make(map[string]bool, len(c.Channels))
	for _, b := range c.Channels {
		if b.ChannelID == "" {
			return fmt.Errorf("channel binding with empty channel_id")
		}
		if seen[b.ChannelID] {
			return fmt.Errorf("duplicate channel binding for %s", b.ChannelID)
		}
		seen[b.ChannelID] = true
		switch b.Kind {
		case KindLeaves, KindTags, KindChat, KindArticles:
		default:
			return fmt.Errorf("channel %s: unknown kind %q", b.ChannelID, b.Kind)
		}
	}
	return nil
}
