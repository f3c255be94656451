package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerURL   string
	RealtimeURL string
	Token       string
	UserID      string
	CacheFile   string
	PageSize    int
	TypingTTL   time.Duration
	PresenceTTL time.Duration
	Heartbeat   time.Duration
}

func Load() (*Config, error) {
	pageSize, err := strconv.Atoi(getEnv("PAGE_SIZE", "50"))
	if err != nil {
		return nil, fmt.Errorf("PAGE_SIZE is not a number: %w", err)
	}

	typingTTL, err := time.ParseDuration(getEnv("TYPING_TTL", "5s"))
	if err != nil {
		return nil, err
	}

	presenceTTL, err := time.ParseDuration(getEnv("PRESENCE_TTL", "90s"))
	if err != nil {
		return nil, err
	}

	heartbeat, err := time.ParseDuration(getEnv("PRESENCE_HEARTBEAT", "30s"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ServerURL:   getEnv("ROOMSYNC_SERVER", "http://localhost:8080"),
		RealtimeURL: getEnv("ROOMSYNC_WS", "ws://localhost:8080/ws"),
		Token:       os.Getenv("ROOMSYNC_TOKEN"),
		UserID:      os.Getenv("ROOMSYNC_USER"),
		CacheFile:   getEnv("ROOMSYNC_CACHE", "roomsync.db"),
		PageSize:    pageSize,
		TypingTTL:   typingTTL,
		PresenceTTL: presenceTTL,
		Heartbeat:   heartbeat,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("ROOMSYNC_USER is required")
	}

	if c.PageSize <= 0 {
		return fmt.Errorf("PAGE_SIZE must be greater than 0")
	}

	if c.TypingTTL <= 0 {
		return fmt.Errorf("TYPING_TTL must be greater than 0")
	}

	if c.Heartbeat >= c.PresenceTTL {
		return fmt.Errorf("PRESENCE_HEARTBEAT must be shorter than PRESENCE_TTL")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
