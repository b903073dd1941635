package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
)

type Config struct {
	URL           string        `env:"ONEBOT_URL" envDefault:"ws://127.0.0.1:6700"`
	AccessToken   string        `env:"ONEBOT_ACCESS_TOKEN"`
	DBPath        string        `env:"ONEBOT_DB"`
	RulesPath     string        `env:"ONEBOT_RULES"`
	ListenAddr    string        `env:"ONEBOT_ADDR"`
	LogLevel      string        `env:"ONEBOT_LOG_LEVEL" envDefault:"info"`
	RetryDelay    time.Duration `env:"ONEBOT_RETRY_DELAY" envDefault:"5s"`
	ActionTimeout time.Duration `env:"ONEBOT_ACTION_TIMEOUT" envDefault:"10s"`
}

// LoadConfig reads the environment. Command line flags applied later take
// precedence.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultAddr()
	}
	return cfg, nil
}

func defaultAddr() string {
	// Railway, Render, etc. set PORT
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	return ":8090"
}

func bindFlags(cmd *cobra.Command, cfg *Config) {
	f := cmd.Flags()
	f.StringVar(&cfg.URL, "url", cfg.URL, "OneBot gateway WebSocket URL")
	f.StringVar(&cfg.AccessToken, "access-token", cfg.AccessToken, "gateway access token")
	f.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite message history path (empty disables history)")
	f.StringVar(&cfg.RulesPath, "rules", cfg.RulesPath, "YAML auto-reply and schedule file")
	f.StringVar(&cfg.ListenAddr, "addr", cfg.ListenAddr, "health endpoint listen address (empty disables it)")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug|info|warn|error)")
	f.DurationVar(&cfg.RetryDelay, "retry-delay", cfg.RetryDelay, "pause between reconnect attempts")
	f.DurationVar(&cfg.ActionTimeout, "action-timeout", cfg.ActionTimeout, "how long to wait for an action response")
}

func (c Config) validate() error {
	if !strings.HasPrefix(c.URL, "ws://") && !strings.HasPrefix(c.URL, "wss://") {
		return fmt.Errorf("invalid gateway url %q: must start with ws:// or wss://", c.URL)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.RetryDelay <= 0 || c.ActionTimeout <= 0 {
		return fmt.Errorf("retry delay and action timeout must be positive")
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", s)
	}
	return level, nil
}
