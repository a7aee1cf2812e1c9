// Package config provides configuration management for pr-arena.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/neulab/pr-arena/internal/reconcile"
)

// Config holds all configuration for the arena commands and server.
type Config struct {
	// GitHubToken is used for API calls, pushes and the secrets endpoint.
	GitHubToken    string `env:"GITHUB_TOKEN"`
	GitHubUsername string `env:"GITHUB_USERNAME"`

	// GitHubEnv is the side-channel file read by later workflow steps.
	GitHubEnv string `env:"GITHUB_ENV"`

	// DataDir holds the document store and the log file. Defaults to ~/.prarena.
	DataDir string `env:"PRARENA_DATA_DIR"`

	// DatabasePath is derived from DataDir.
	DatabasePath string

	// ServerAddr is the address the HTTP server listens on.
	ServerAddr string `env:"PRARENA_ADDR,default=:7080"`

	SecretsEndpoint string        `env:"PRARENA_SECRETS_ENDPOINT,default=https://us-central1-pr-arena-95f88.cloudfunctions.net/getSecrets"`
	SecretsTimeout  time.Duration `env:"PRARENA_SECRETS_TIMEOUT,default=30s"`

	// ModelsFile replaces the embedded model reference table when set.
	ModelsFile string `env:"PRARENA_MODELS_FILE"`

	// LogFile receives the structured JSON log. Defaults to DataDir/prarena.log.
	LogFile string `env:"PRARENA_LOG_FILE"`

	// AgentCommand is the resolver invocation for a single attempt.
	AgentCommand  string `env:"PRARENA_AGENT_COMMAND,default=python -m openhands.resolver.resolve_issue"`
	RuntimeImage  string `env:"PRARENA_RUNTIME_IMAGE"`
	MaxIterations int    `env:"PRARENA_MAX_ITERATIONS,default=50"`

	// PRType is one of branch, draft, ready.
	PRType string `env:"PRARENA_PR_TYPE,default=branch"`

	// PollInterval is how often the decision listener re-reads the store.
	PollInterval time.Duration `env:"PRARENA_POLL_INTERVAL,default=5s"`

	LLMModels  string `env:"LLM_MODELS"`
	LLMBaseURL string `env:"LLM_BASE_URL"`
	LLMAPIKey  string `env:"LLM_API_KEY"`

	// Notifications (optional).
	SlackBotToken    string `env:"SLACK_BOT_TOKEN"`
	SlackChannel     string `env:"SLACK_CHANNEL"`
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   int64  `env:"TELEGRAM_CHAT_ID"`

	// Webhook trigger (optional).
	WebhookSecret string `env:"GITHUB_WEBHOOK_SECRET"`
	TriggerLabel  string `env:"PRARENA_TRIGGER_LABEL,default=pr-arena"`
}

// Load creates a Config from the config file and environment variables.
// Values are resolved in order: environment variable > config file > default.
func Load(ctx context.Context) (*Config, error) {
	if err := applyFile(FilePath()); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("processing environment: %w", err)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	cfg.DatabasePath = filepath.Join(cfg.DataDir, "prarena.db")
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(cfg.DataDir, "prarena.log")
	}

	return &cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.GitHubToken == "" {
		return fmt.Errorf("GITHUB_TOKEN is required")
	}
	if _, err := reconcile.ParsePRType(c.PRType); err != nil {
		return fmt.Errorf("PRARENA_PR_TYPE: %w", err)
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("PRARENA_MAX_ITERATIONS must be positive, got %d", c.MaxIterations)
	}
	return nil
}

// SlackEnabled returns true if Slack notifications are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackChannel != ""
}

// TelegramEnabled returns true if Telegram notifications are configured.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != 0
}

// AgentEnv returns environment variables to pass to the resolver process.
func (c *Config) AgentEnv() []string {
	env := []string{
		"GITHUB_TOKEN=" + c.GitHubToken,
	}
	if c.GitHubUsername != "" {
		env = append(env, "GITHUB_USERNAME="+c.GitHubUsername)
	}
	if c.LLMAPIKey != "" {
		env = append(env, "LLM_API_KEY="+c.LLMAPIKey)
	}
	if c.LLMBaseURL != "" {
		env = append(env, "LLM_BASE_URL="+c.LLMBaseURL)
	}
	return env
}

// FilePath returns ~/.prarena/config.env.
func FilePath() string {
	return filepath.Join(DefaultDataDir(), "config.env")
}

// DefaultDataDir returns ~/.prarena.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".prarena"
	}
	return filepath.Join(home, ".prarena")
}
