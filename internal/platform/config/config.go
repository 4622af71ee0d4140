// Package config builds runtime configuration from the environment so main
// stays lean.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ERIMode selects which gateway the service talks to.
type ERIMode string

const (
	ERIModeStub    ERIMode = "stub"
	ERIModeSandbox ERIMode = "sandbox"
	ERIModeLive    ERIMode = "live"
)

// Config is the full runtime configuration for both the API server and the
// background worker.
type Config struct {
	Addr          string
	LogLevel      string
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string

	// DatabaseURL empty means in-memory stores, used in development and tests.
	DatabaseURL string
	// RedisURL backs both the idempotency guard and the task queue.
	RedisURL string

	KafkaBrokers []string
	AuditTopic   string

	ERI ERIConfig

	Submission SubmissionConfig
}

// ERIConfig selects and parameterizes the gateway client.
type ERIConfig struct {
	Mode           ERIMode
	SandboxBaseURL string
	LiveBaseURL    string
	APIKey         string
	Timeout        time.Duration
}

// BaseURL returns the endpoint for the configured mode.
func (c ERIConfig) BaseURL() string {
	if c.Mode == ERIModeLive {
		return c.LiveBaseURL
	}
	return c.SandboxBaseURL
}

// SubmissionConfig bounds dispatch retry and acknowledgment waiting.
type SubmissionConfig struct {
	MaxAttempts   int
	BaseBackoff   time.Duration
	AckWait       time.Duration
	SweepInterval time.Duration
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Addr:          envOr("TAXDESK_ADDR", ":8080"),
		LogLevel:      envOr("TAXDESK_LOG_LEVEL", "info"),
		JWTSigningKey: envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		JWTIssuer:     envOr("JWT_ISSUER", "taxdesk"),
		JWTAudience:   envOr("JWT_AUDIENCE", "taxdesk-api"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		KafkaBrokers:  splitNonEmpty(os.Getenv("KAFKA_BROKERS")),
		AuditTopic:    envOr("AUDIT_TOPIC", "taxdesk.audit.events"),
		ERI: ERIConfig{
			Mode:           ERIMode(envOr("ERI_MODE", string(ERIModeStub))),
			SandboxBaseURL: envOr("ERI_SANDBOX_URL", "https://eri-sandbox.example.gov/api/v1"),
			LiveBaseURL:    os.Getenv("ERI_LIVE_URL"),
			APIKey:         os.Getenv("ERI_API_KEY"),
			Timeout:        envDuration("ERI_TIMEOUT", 30*time.Second),
		},
		Submission: SubmissionConfig{
			MaxAttempts:   envInt("SUBMISSION_MAX_ATTEMPTS", 5),
			BaseBackoff:   envDuration("SUBMISSION_BASE_BACKOFF", 2*time.Second),
			AckWait:       envDuration("SUBMISSION_ACK_WAIT", 24*time.Hour),
			SweepInterval: envDuration("SUBMISSION_SWEEP_INTERVAL", 10*time.Minute),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
