// Package config holds the runtime configuration for the Nautifier gateway
// and workers. Non-secret settings live in a JSON5 config file; secrets come
// from environment variables only and are never written back to disk.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Gateway   GatewayConfig    `json:"gateway"`
	Worker    WorkerConfig     `json:"worker"`
	Dedup     DedupConfig      `json:"dedup"`
	Gemini    GeminiConfig     `json:"gemini"`
	Slack     SlackConfig      `json:"slack"`
	Channels  []ChannelBinding `json:"channels"`
	Database  DatabaseConfig   `json:"database"`
	Telemetry TelemetryConfig  `json:"telemetry,omitempty"`

	// Timezone is used when injecting "today's date" into prompts and when
	// stamping ledger rows. IANA name, e.g. "Asia/Kolkata".
	Timezone string `json:"timezone,omitempty"`

	Secrets Secrets `json:"-"`
}

// Secrets are read from the environment only.
type Secrets struct {
	SlackBotToken      string `env:"NAUTIFIER_SLACK_BOT_TOKEN"`
	SlackSigningSecret string `env:"NAUTIFIER_SLACK_SIGNING_SECRET"`
	GeminiAPIKey       string `env:"NAUTIFIER_GEMINI_API_KEY"`
	PostgresDSN        string `env:"NAUTIFIER_POSTGRES_DSN"`
}

// GatewayConfig configures the synchronous intake side.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`

	// IntakeTimeoutMS bounds dedup + enqueue on the webhook path. Slack
	// treats responses slower than 3s as failures and redelivers, so this
	// must stay well under that ceiling.
	IntakeTimeoutMS int `json:"intake_timeout_ms"`

	// RateLimitPerMinute caps webhook deliveries per source key. 0 disables.
	RateLimitPerMinute int `json:"rate_limit_per_minute"`

	MaxBodyBytes int64 `json:"max_body_bytes"`
}

// IntakeTimeout returns the intake budget as a duration.
func (g GatewayConfig) IntakeTimeout() time.Duration {
	return time.Duration(g.IntakeTimeoutMS) * time.Millisecond
}

// WorkerConfig configures the asynchronous consumer side.
type WorkerConfig struct {
	Concurrency      int `json:"concurrency"`
	PollIntervalMS   int `json:"poll_interval_ms"`
	LeaseSeconds     int `json:"lease_seconds"`
	MaxAttempts      int `json:"max_attempts"`
	BackoffBaseMS    int `json:"backoff_base_ms"`
	BackoffMaxMS     int `json:"backoff_max_ms"`
	HandlerTimeoutMS int `json:"handler_timeout_ms"`
}

func (w WorkerConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMS) * time.Millisecond
}

func (w WorkerConfig) Lease() time.Duration {
	return time.Duration(w.LeaseSeconds) * time.Second
}

func (w WorkerConfig) HandlerTimeout() time.Duration {
	return time.Duration(w.HandlerTimeoutMS) * time.Millisecond
}

// Backoff returns the retry delay before the given (1-based) attempt is
// retried. Exponential, capped at BackoffMaxMS.
func (w WorkerConfig) Backoff(attempt int) time.Duration {
	base := time.Duration(w.BackoffBaseMS) * time.Millisecond
	max := time.Duration(w.BackoffMaxMS) * time.Millisecond
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// DedupConfig controls dedup-record retention. Records only need to outlive
// the sender's retry window, not live forever.
type DedupConfig struct {
	TTLHours int `json:"ttl_hours"`

	// PurgeSchedule is a cron expression for sweeping expired records.
	PurgeSchedule string `json:"purge_schedule"`
}

func (d DedupConfig) TTL() time.Duration {
	return time.Duration(d.TTLHours) * time.Hour
}

// GeminiConfig configures the generative backend client.
type GeminiConfig struct {
	APIBase      string `json:"api_base"`
	DefaultModel string `json:"default_model"`
	TimeoutMS    int    `json:"timeout_ms"`
}

// SlackConfig configures the chat platform client.
type SlackConfig struct {
	// PostRatePerSecond throttles chat.postMessage calls. Slack tier 3
	// allows roughly one message per second per channel.
	PostRatePerSecond float64 `json:"post_rate_per_second"`

	ThreadHistoryLimit int `json:"thread_history_limit"`
}

// DatabaseConfig carries Postgres settings. The DSN is a secret and comes
// from env NAUTIFIER_POSTGRES_DSN only.
type DatabaseConfig struct {
	MaxOpenConns int `json:"max_open_conns"`
}

// TelemetryConfig configures optional OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"` // e.g. "localhost:4318"
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// ChannelKind selects which persona handler processes a channel.
type ChannelKind string

const (
	KindLeaves   ChannelKind = "leaves"
	KindTags     ChannelKind = "tags"
	KindChat     ChannelKind = "chat"
	KindArticles ChannelKind = "articles"
)

// ChannelBinding maps one Slack channel to a persona handler and its model
// parameters. Persona text and sampling parameters are configuration, not
// code, so variants stay uniform and testable.
type ChannelBinding struct {
	ChannelID       string      `json:"channel_id"`
	Kind            ChannelKind `json:"kind"`
	Persona         string      `json:"persona,omitempty"` // system instruction; empty = kind default
	Model           string      `json:"model,omitempty"`   // empty = gemini.default_model
	Temperature     float64     `json:"temperature"`
	TopP            float64     `json:"top_p"`
	TopK            int         `json:"top_k"`
	MaxOutputTokens int         `json:"max_output_tokens"`
}

// Default returns a Config with working defaults for everything except
// channel bindings and secrets.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:               "0.0.0.0",
			Port:               18900,
			IntakeTimeoutMS:    2500,
			RateLimitPerMinute: 120,
			MaxBodyBytes:       1 << 20,
		},
		Worker: WorkerConfig{
			Concurrency:      4,
			PollIntervalMS:   500,
			LeaseSeconds:     120,
			MaxAttempts:      5,
			BackoffBaseMS:    2000,
			BackoffMaxMS:     60000,
			HandlerTimeoutMS: 90000,
		},
		Dedup: DedupConfig{
			TTLHours:      24,
			PurgeSchedule: "*/10 * * * *",
		},
		Gemini: GeminiConfig{
			APIBase:      "https://generativelanguage.googleapis.com/v1beta",
			DefaultModel: "gemini-2.0-flash-lite",
			TimeoutMS:    60000,
		},
		Slack: SlackConfig{
			PostRatePerSecond:  1,
			ThreadHistoryLimit: 100,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 10,
		},
		Timezone: "Asia/Kolkata",
	}
}

// Binding returns the binding for a channel id, if any.
func (c *Config) Binding(channelID string) (ChannelBinding, bool) {
	for _, b := range c.Channels {
		if b.ChannelID == channelID {
			return b, true
		}
	}
	return ChannelBinding{}, false
}
