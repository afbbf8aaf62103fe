// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port             string
	DBPath           string
	BotToken         string // Telegram bot token
	TelegramAPIURL   string // override for tests / local Bot API servers
	WebhookSecret    string // X-Telegram-Bot-Api-Secret-Token value
	MasterKey        string // vault master secret
	EditInterval     time.Duration
	MenuPageSize     int
	StreamInactivity time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		DBPath:           getEnv("DB_PATH", "./data/lettagram.db"),
		BotToken:         getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramAPIURL:   getEnv("TELEGRAM_API_URL", ""),
		WebhookSecret:    getEnv("WEBHOOK_SECRET", ""),
		MasterKey:        getEnv("ENCRYPTION_MASTER_KEY", ""),
		EditInterval:     getEnvDuration("EDIT_INTERVAL", 1500*time.Millisecond),
		MenuPageSize:     getEnvInt("MENU_PAGE_SIZE", 6),
		StreamInactivity: getEnvDuration("STREAM_INACTIVITY", 90*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set. The
// master key is hard-required: without it no stored credential could
// ever be decrypted, so starting would only corrupt user sessions.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.BotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if c.MasterKey == "" {
		return fmt.Errorf("ENCRYPTION_MASTER_KEY is required")
	}
	if c.MenuPageSize <= 0 {
		return fmt.Errorf("MENU_PAGE_SIZE must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
