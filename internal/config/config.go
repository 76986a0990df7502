package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig carries everything the live engine needs from the environment.
type AppConfig struct {
	OracleBaseURL  string
	ProfileBaseURL string
	PlatformWSURL  string

	UserID   string
	Username string

	RedisURL    string
	DatabaseURL string

	EngineDepth int

	PollInterval     time.Duration
	WSMaxReconnects  int
	WSReconnectDelay time.Duration

	SessionTTL time.Duration
}

// Load reads and validates the configuration.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		EngineDepth:      10,
		PollInterval:     60 * time.Second,
		WSMaxReconnects:  5,
		WSReconnectDelay: time.Second,
		SessionTTL:       24 * time.Hour,
	}

	cfg.OracleBaseURL = strings.TrimSpace(os.Getenv("ORACLE_BASE_URL"))
	cfg.ProfileBaseURL = strings.TrimSpace(os.Getenv("PROFILE_BASE_URL"))
	cfg.PlatformWSURL = strings.TrimSpace(os.Getenv("PLATFORM_WS_URL"))

	cfg.UserID = strings.TrimSpace(os.Getenv("USER_ID"))
	cfg.Username = strings.TrimSpace(os.Getenv("USERNAME"))

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if v := strings.TrimSpace(os.Getenv("ENGINE_DEPTH")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EngineDepth = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("POLL_INTERVAL_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollInterval = time.Duration(n) * time.Second
		}
	}
	if v := strings.TrimSpace(os.Getenv("WS_MAX_RECONNECTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.WSMaxReconnects = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("WS_RECONNECT_DELAY_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.WSReconnectDelay = time.Duration(n) * time.Millisecond
		}
	}
	if v := strings.TrimSpace(os.Getenv("SESSION_TTL_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SessionTTL = time.Duration(n) * time.Second
		}
	}

	if cfg.ProfileBaseURL == "" {
		cfg.ProfileBaseURL = cfg.OracleBaseURL
	}
	if cfg.OracleBaseURL == "" {
		return nil, errors.New("ORACLE_BASE_URL is required")
	}
	if cfg.PlatformWSURL == "" {
		return nil, errors.New("PLATFORM_WS_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}
