// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Credential attachment mechanisms.
const (
	CredentialModeBearer = "bearer"
	CredentialModeCookie = "cookie"
)

// DefaultBackendURL is the hosted Chatify backend.
const DefaultBackendURL = "https://chatify-backend-eight.vercel.app"

// Config holds all application configuration.
type Config struct {
	BackendURL      string
	DBPath          string
	CredentialMode  string // "bearer" (Authorization header) or "cookie" (session cookie)
	CookieName      string
	RequestTimeout  time.Duration
	OTPTTL          time.Duration
	LogFile         string
	LogFormat       string // "json" or "text"
	ConversationLog ConversationLogConfig
}

// ConversationLogConfig controls the NDJSON chat transcript.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		BackendURL:     strings.TrimRight(getEnv("CHATIFY_BACKEND_URL", DefaultBackendURL), "/"),
		DBPath:         getEnv("CHATIFY_DB_PATH", "./data/chatify.db"),
		CredentialMode: strings.ToLower(strings.TrimSpace(getEnv("CHATIFY_CREDENTIAL_MODE", CredentialModeBearer))),
		CookieName:     getEnv("CHATIFY_COOKIE_NAME", "token"),
		RequestTimeout: getEnvDuration("CHATIFY_REQUEST_TIMEOUT", 30*time.Second),
		OTPTTL:         getEnvDuration("CHATIFY_OTP_TTL", 10*time.Minute),
		LogFile:        getEnv("CHATIFY_LOG_FILE", "./data/chatify.log"),
		LogFormat:      strings.ToLower(getEnv("CHATIFY_LOG_FORMAT", "json")),
		ConversationLog: ConversationLogConfig{
			Enabled:   getEnvBool("CONVERSATION_LOG_ENABLED", false),
			Dir:       getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			QueueSize: queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("CHATIFY_BACKEND_URL cannot be empty")
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("CHATIFY_BACKEND_URL must be an absolute http(s) URL, got %q", c.BackendURL)
	}
	if c.DBPath == "" {
		return fmt.Errorf("CHATIFY_DB_PATH cannot be empty")
	}
	switch c.CredentialMode {
	case CredentialModeBearer:
	case CredentialModeCookie:
		if c.CookieName == "" {
			return fmt.Errorf("CHATIFY_COOKIE_NAME cannot be empty in cookie mode")
		}
	default:
		return fmt.Errorf("CHATIFY_CREDENTIAL_MODE must be %q or %q, got %q",
			CredentialModeBearer, CredentialModeCookie, c.CredentialMode)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("CHATIFY_REQUEST_TIMEOUT must be > 0")
	}
	if c.OTPTTL <= 0 {
		return fmt.Errorf("CHATIFY_OTP_TTL must be > 0")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("CHATIFY_LOG_FORMAT must be json or text")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// UsesCookies returns true if credentials travel as a session cookie.
func (c *Config) UsesCookies() bool {
	return c.CredentialMode == CredentialModeCookie
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
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
