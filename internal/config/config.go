// Package config loads chatgate configuration from YAML with environment
// overrides, and exposes runtime-adjustable limits.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Config is the full chatgate configuration.
type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Model    ModelConfig    `yaml:"model"`
	Database DatabaseConfig `yaml:"database"`
	Limits   LimitsConfig   `yaml:"limits"`
	Admin    AdminConfig    `yaml:"admin"`
	LogLevel string         `yaml:"log_level"`
}

// TelegramConfig holds chat-platform transport settings.
type TelegramConfig struct {
	Token string `yaml:"token"`
}

// ModelConfig holds remote completion service settings.
type ModelConfig struct {
	Name        string  `yaml:"name"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
}

// DatabaseConfig holds durable-store settings. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// AdminConfig holds the metrics/health listener settings.
type AdminConfig struct {
	Addr string `yaml:"addr"`
}

// LimitsConfig holds quota and admission settings.
type LimitsConfig struct {
	DailyTokens           int    `yaml:"daily_tokens"`
	RateCapacity          int    `yaml:"rate_capacity"`
	RateWindowSeconds     int    `yaml:"rate_window_seconds"`
	HistoryTurns          int    `yaml:"history_turns"`
	ResponseCacheSize     int    `yaml:"response_cache_size"`
	ShortPromptChars      int    `yaml:"short_prompt_chars"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	SystemPrompt          string `yaml:"system_prompt"`
}

// Default returns the configuration defaults.
func Default() Config {
	return Config{
		Model: ModelConfig{
			Name:        "deepseek-chat",
			BaseURL:     "https://api.deepseek.com/v1",
			Temperature: 0.5,
		},
		Admin:    AdminConfig{Addr: ":9090"},
		LogLevel: "info",
		Limits: LimitsConfig{
			DailyTokens:           10000,
			RateCapacity:          5,
			RateWindowSeconds:     60,
			HistoryTurns:          10,
			ResponseCacheSize:     1000,
			ShortPromptChars:      100,
			RequestTimeoutSeconds: 30,
			SystemPrompt:          "You are a helpful AI assistant.",
		},
	}
}

// Load reads configuration: defaults, then the YAML file at path (skipped if
// path is empty or missing), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("CHATGATE_API_KEY"); v != "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("CHATGATE_API_URL"); v != "" {
		cfg.Model.BaseURL = v
	}
	if v := os.Getenv("CHATGATE_MODEL"); v != "" {
		cfg.Model.Name = v
	}
	if v := os.Getenv("CHATGATE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("CHATGATE_DAILY_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Limits.DailyTokens = n
		}
	}
}

// Limits is the runtime view of adjustable quota settings. Values are read
// on every enforcement decision and may be updated live by the config
// watcher.
type Limits struct {
	dailyTokens atomic.Int64
}

// NewLimits creates a runtime limits holder from the loaded configuration.
func NewLimits(cfg LimitsConfig) *Limits {
	l := &Limits{}
	l.Apply(cfg)
	return l
}

// Apply updates the runtime limits from a (re)loaded configuration.
func (l *Limits) Apply(cfg LimitsConfig) {
	if cfg.DailyTokens > 0 {
		l.dailyTokens.Store(int64(cfg.DailyTokens))
	}
}

// DailyTokens returns the current per-user daily token budget.
func (l *Limits) DailyTokens() int {
	return int(l.dailyTokens.Load())
}
