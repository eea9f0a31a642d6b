// Package config loads service configuration from an optional YAML file,
// environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jonathan/siteforge/internal/logging"
	"github.com/jonathan/siteforge/internal/objstore"
)

// EnvPrefix prefixes every environment override, e.g. SITEFORGE_HTTP_ADDR.
const EnvPrefix = "SITEFORGE"

// Generation backends.
const (
	BackendGemini = "gemini"
	BackendCLI    = "cli"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageMinIO  = "minio"
)

// Config is the full service configuration.
type Config struct {
	HTTP        HTTPConfig       `mapstructure:"http"`
	Log         logging.Config   `mapstructure:"log"`
	DatabaseURL string           `mapstructure:"database_url"`
	RedisURL    string           `mapstructure:"redis_url"`
	Audit       AuditConfig      `mapstructure:"audit"`
	Generation  GenerationConfig `mapstructure:"generation"`
	Storage     StorageConfig    `mapstructure:"storage"`
	Deploy      DeployConfig     `mapstructure:"deploy"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	// RateLimit is the sustained POST rate allowed per client, per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// AuditConfig configures the audit pipeline.
type AuditConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
	MaxRedirects      int           `mapstructure:"max_redirects"`
	UserAgent         string        `mapstructure:"user_agent"`
	Screenshots       bool          `mapstructure:"screenshots"`
	ScreenshotTimeout time.Duration `mapstructure:"screenshot_timeout"`
	PageSpeedAPIKey   string        `mapstructure:"pagespeed_api_key"`
	EventRetention    time.Duration `mapstructure:"event_retention"`
	JanitorInterval   time.Duration `mapstructure:"janitor_interval"`
}

// GenerationConfig configures code generation.
type GenerationConfig struct {
	Backend        string        `mapstructure:"backend"`
	GeminiAPIKey   string        `mapstructure:"gemini_api_key"`
	Model          string        `mapstructure:"model"`
	CLIBinary      string        `mapstructure:"cli_binary"`
	MaxTurns       int           `mapstructure:"max_turns"`
	AllowedTools   []string      `mapstructure:"allowed_tools"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	Concurrency    int           `mapstructure:"concurrency"`
	PreviewBaseURL string        `mapstructure:"preview_base_url"`
	WorkspaceRoot  string        `mapstructure:"workspace_root"`
}

// StorageConfig selects and configures the object store.
type StorageConfig struct {
	Backend string               `mapstructure:"backend"`
	MinIO   objstore.MinIOConfig `mapstructure:"minio"`
}

// DeployConfig configures the deployment webhook. An empty WebhookURL
// disables deployment.
type DeployConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Token      string        `mapstructure:"token"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// wellKnownEnv binds keys to conventional unprefixed variable names. The
// prefixed form is bound too and wins when both are set.
var wellKnownEnv = map[string]string{
	"database_url":              "DATABASE_URL",
	"redis_url":                 "REDIS_URL",
	"generation.gemini_api_key": "GEMINI_API_KEY",
	"audit.pagespeed_api_key":   "PAGESPEED_API_KEY",
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_header_timeout", 10*time.Second)
	v.SetDefault("http.shutdown_timeout", 30*time.Second)
	v.SetDefault("http.rate_limit", 1.0)
	v.SetDefault("http.rate_burst", 5)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stderr")

	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")

	v.SetDefault("audit.timeout", 3*time.Minute)
	v.SetDefault("audit.fetch_timeout", 15*time.Second)
	v.SetDefault("audit.max_body_bytes", 5<<20)
	v.SetDefault("audit.max_redirects", 5)
	v.SetDefault("audit.user_agent", "siteforge-audit/1.0")
	v.SetDefault("audit.screenshots", false)
	v.SetDefault("audit.pagespeed_api_key", "")
	v.SetDefault("audit.event_retention", time.Hour)
	v.SetDefault("audit.janitor_interval", 5*time.Minute)
	v.SetDefault("audit.screenshot_timeout", 30*time.Second)

	v.SetDefault("generation.backend", BackendGemini)
	v.SetDefault("generation.gemini_api_key", "")
	v.SetDefault("generation.model", "")
	v.SetDefault("generation.cli_binary", "claude")
	v.SetDefault("generation.max_turns", 40)
	v.SetDefault("generation.allowed_tools", []string{})
	v.SetDefault("generation.attempt_timeout", 15*time.Minute)
	v.SetDefault("generation.concurrency", 0)
	v.SetDefault("generation.preview_base_url", "http://localhost:3000/previews")
	v.SetDefault("generation.workspace_root", "")

	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.minio.endpoint", "")
	v.SetDefault("storage.minio.access_key", "")
	v.SetDefault("storage.minio.secret_key", "")
	v.SetDefault("storage.minio.bucket", "siteforge")
	v.SetDefault("storage.minio.use_ssl", false)
	v.SetDefault("storage.minio.public_url", "")

	v.SetDefault("deploy.webhook_url", "")
	v.SetDefault("deploy.token", "")
	v.SetDefault("deploy.timeout", 30*time.Second)
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, env := range wellKnownEnv {
		_ = v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.NewReplacer(".", "_").Replace(key)), env)
	}
	return v
}

// Load reads the optional config file at path and decodes v into a Config.
// An empty path reads no file.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and fields that depend on each other.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.HTTP.RateLimit < 0 || c.HTTP.RateBurst < 0 {
		errs = append(errs, errors.New("http.rate_limit and http.rate_burst must be non-negative"))
	}
	if c.HTTP.RateLimit > 0 && c.HTTP.RateBurst == 0 {
		errs = append(errs, errors.New("http.rate_burst must be positive when http.rate_limit is set"))
	}

	if c.Audit.Timeout <= 0 || c.Audit.FetchTimeout <= 0 {
		errs = append(errs, errors.New("audit.timeout and audit.fetch_timeout must be positive"))
	}
	if c.Audit.FetchTimeout > c.Audit.Timeout {
		errs = append(errs, errors.New("audit.fetch_timeout must not exceed audit.timeout"))
	}
	if c.Audit.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("audit.max_body_bytes must be positive"))
	}
	if c.Audit.MaxRedirects < 0 {
		errs = append(errs, errors.New("audit.max_redirects must be non-negative"))
	}

	switch c.Generation.Backend {
	case BackendGemini, BackendCLI:
	default:
		errs = append(errs, fmt.Errorf("generation.backend must be %q or %q, got %q", BackendGemini, BackendCLI, c.Generation.Backend))
	}
	if c.Generation.AttemptTimeout <= 0 {
		errs = append(errs, errors.New("generation.attempt_timeout must be positive"))
	}
	if c.Generation.MaxTurns <= 0 {
		errs = append(errs, errors.New("generation.max_turns must be positive"))
	}
	if c.Generation.Concurrency < 0 {
		errs = append(errs, errors.New("generation.concurrency must be non-negative"))
	}

	switch c.Storage.Backend {
	case StorageMemory:
	case StorageMinIO:
		if c.Storage.MinIO.Endpoint == "" || c.Storage.MinIO.Bucket == "" {
			errs = append(errs, errors.New("storage.minio.endpoint and storage.minio.bucket are required for the minio backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be %q or %q, got %q", StorageMemory, StorageMinIO, c.Storage.Backend))
	}

	if c.Deploy.Token != "" && c.Deploy.WebhookURL == "" {
		errs = append(errs, errors.New("deploy.token is set but deploy.webhook_url is empty"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config error: %w", errors.Join(errs...))
	}
	return nil
}

// RequireGeneration checks the settings needed to run code generation.
func (c *Config) RequireGeneration() error {
	if c.Generation.Backend == BackendGemini && c.Generation.GeminiAPIKey == "" {
		return errors.New("config error: GEMINI_API_KEY is required for the gemini backend")
	}
	return nil
}
