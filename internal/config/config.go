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

// Config holds all application configuration.
type Config struct {
	Host           HostConfig
	Judge          JudgeConfig
	StatusAddr     string
	CORSOrigins    []string
	GRPCHealthAddr string // empty disables the gRPC health server
	ProjectDir     string
	NotifyEnabled  bool
	Audit          AuditConfig
}

// HostConfig locates the agent runtime.
type HostConfig struct {
	URL            string
	Directory      string
	RequestTimeout time.Duration
}

// JudgeConfig tunes reflection passes.
type JudgeConfig struct {
	MaxAttempts  int
	PollInterval time.Duration
	Timeout      time.Duration
	ProviderID   string
	ModelID      string
}

// AuditConfig controls diagnostic persistence.
type AuditConfig struct {
	DumpEnabled bool
	DumpDir     string
	DBPath      string
	Retention   time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	hostDir := getEnv("HOST_DIRECTORY", "")
	cfg := &Config{
		Host: HostConfig{
			URL:            getEnv("HOST_URL", "http://127.0.0.1:4096"),
			Directory:      hostDir,
			RequestTimeout: getEnvDuration("HOST_REQUEST_TIMEOUT", 30*time.Second),
		},
		Judge: JudgeConfig{
			MaxAttempts:  getEnvInt("JUDGE_MAX_ATTEMPTS", 3),
			PollInterval: getEnvDuration("JUDGE_POLL_INTERVAL", 2*time.Second),
			Timeout:      getEnvDuration("JUDGE_TIMEOUT", 180*time.Second),
			ProviderID:   getEnv("JUDGE_PROVIDER_ID", ""),
			ModelID:      getEnv("JUDGE_MODEL_ID", ""),
		},
		StatusAddr:     getEnv("STATUS_ADDR", ":8090"),
		CORSOrigins:    getEnvList("STATUS_CORS_ORIGINS"),
		GRPCHealthAddr: getEnv("GRPC_HEALTH_ADDR", ""),
		ProjectDir:     getEnv("PROJECT_DIR", hostDir),
		NotifyEnabled:  getEnvBool("NOTIFY_ENABLED", true),
		Audit: AuditConfig{
			DumpEnabled: getEnvBool("REFLECTION_DUMP_ENABLED", true),
			DumpDir:     getEnv("REFLECTION_DATA_DIR", "./data/reflections"),
			DBPath:      getEnv("DB_PATH", "./data/reflection.db"),
			Retention:   getEnvDuration("AUDIT_RETENTION", 7*24*time.Hour),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Host.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("HOST_URL must be an http(s) URL, got %q", c.Host.URL)
	}
	if c.Host.RequestTimeout <= 0 {
		return fmt.Errorf("HOST_REQUEST_TIMEOUT must be > 0")
	}
	if c.Judge.MaxAttempts <= 0 {
		return fmt.Errorf("JUDGE_MAX_ATTEMPTS must be > 0")
	}
	if c.Judge.PollInterval <= 0 {
		return fmt.Errorf("JUDGE_POLL_INTERVAL must be > 0")
	}
	if c.Judge.Timeout < c.Judge.PollInterval {
		return fmt.Errorf("JUDGE_TIMEOUT must be >= JUDGE_POLL_INTERVAL")
	}
	if (c.Judge.ProviderID == "") != (c.Judge.ModelID == "") {
		return fmt.Errorf("JUDGE_PROVIDER_ID and JUDGE_MODEL_ID must be set together")
	}
	if c.StatusAddr == "" {
		return fmt.Errorf("STATUS_ADDR cannot be empty")
	}
	if c.Audit.DumpEnabled && c.Audit.DumpDir == "" {
		return fmt.Errorf("REFLECTION_DATA_DIR cannot be empty when dumps are enabled")
	}
	if c.Audit.Retention < 0 {
		return fmt.Errorf("AUDIT_RETENTION cannot be negative")
	}
	return nil
}

// HasJudgeModel reports whether a judge model override is configured.
func (c *Config) HasJudgeModel() bool {
	return c.Judge.ProviderID != "" && c.Judge.ModelID != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
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
