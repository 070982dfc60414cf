package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces every environment variable read by Load.
const EnvPrefix = "BOOKLINE_"

// Config models bookline.yml and its BOOKLINE_* environment overrides.
type Config struct {
	Workspace string `yaml:"workspace" env:"WORKSPACE"`

	HTTP struct {
		Addr           string   `yaml:"addr" env:"ADDR"`
		BasePath       string   `yaml:"base_path" env:"BASE_PATH"`
		AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
		RateLimit      float64  `yaml:"rate_limit" env:"RATE_LIMIT"`
		RateBurst      int      `yaml:"rate_burst" env:"RATE_BURST"`
	} `yaml:"http" envPrefix:"HTTP_"`

	Auth struct {
		JWTSecret              string `yaml:"jwt_secret" env:"JWT_SECRET"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header" env:"ALLOW_LEGACY_ACTOR_HEADER"`
		DevLogin               bool   `yaml:"dev_login" env:"DEV_LOGIN"`
	} `yaml:"auth" envPrefix:"AUTH_"`

	Policy Policy `yaml:"policy" envPrefix:"POLICY_"`

	Notify struct {
		PollInterval    time.Duration   `yaml:"poll_interval" env:"POLL_INTERVAL"`
		BatchSize       int             `yaml:"batch_size" env:"BATCH_SIZE"`
		LockTTL         time.Duration   `yaml:"lock_ttl" env:"LOCK_TTL"`
		MaxAttempts     int             `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
		MaxBackoff      time.Duration   `yaml:"max_backoff" env:"MAX_BACKOFF"`
		JitterMax       time.Duration   `yaml:"jitter_max" env:"JITTER_MAX"`
		DispatchTimeout time.Duration   `yaml:"dispatch_timeout" env:"DISPATCH_TIMEOUT"`
		Webhooks        []WebhookConfig `yaml:"webhooks" env:"-"`
	} `yaml:"notify" envPrefix:"NOTIFY_"`

	Sweep struct {
		Interval time.Duration `yaml:"interval" env:"INTERVAL"`
		Batch    int           `yaml:"batch" env:"BATCH"`
	} `yaml:"sweep" envPrefix:"SWEEP_"`

	Log struct {
		Level  string `yaml:"level" env:"LEVEL"`
		Format string `yaml:"format" env:"FORMAT"`
	} `yaml:"log" envPrefix:"LOG_"`
}

// Policy holds the business rules that product may tune.
type Policy struct {
	CancelReasonMinLength  int  `yaml:"cancel_reason_min_length" env:"CANCEL_REASON_MIN_LENGTH"`
	ReviewCommentMaxLength int  `yaml:"review_comment_max_length" env:"REVIEW_COMMENT_MAX_LENGTH"`
	FirstAcceptWins        bool `yaml:"first_accept_wins" env:"FIRST_ACCEPT_WINS"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load builds the config for a workspace: defaults, then bookline.yml if
// present, then BOOKLINE_* environment variables.
func Load(workspace string) (*Config, error) {
	cfg := Default()
	if workspace != "" {
		cfg.Workspace = workspace
	}
	data, err := os.ReadFile(Path(cfg.Workspace))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config yaml: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if workspace != "" {
		cfg.Workspace = workspace
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv loads the dotenv files that exist and returns how many were read.
func LoadEnv(files []string) (int, error) {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return fmt.Errorf("config.http.addr is required")
	}
	if c.HTTP.BasePath != "" && !strings.HasPrefix(c.HTTP.BasePath, "/") {
		return fmt.Errorf("config.http.base_path must start with /")
	}
	if c.HTTP.RateLimit < 0 || c.HTTP.RateBurst < 0 {
		return fmt.Errorf("config.http rate limit values must not be negative")
	}
	if c.HTTP.RateLimit > 0 && c.HTTP.RateBurst == 0 {
		return fmt.Errorf("config.http.rate_burst is required when rate_limit is set")
	}
	if c.Policy.CancelReasonMinLength < 1 {
		return fmt.Errorf("config.policy.cancel_reason_min_length must be at least 1")
	}
	if c.Policy.ReviewCommentMaxLength < 1 {
		return fmt.Errorf("config.policy.review_comment_max_length must be at least 1")
	}
	if c.Notify.PollInterval <= 0 {
		return fmt.Errorf("config.notify.poll_interval must be positive")
	}
	if c.Notify.BatchSize <= 0 || c.Notify.MaxAttempts <= 0 {
		return fmt.Errorf("config.notify batch_size and max_attempts must be positive")
	}
	for i, hook := range c.Notify.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.notify.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.notify.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	if c.Sweep.Interval < 0 {
		return fmt.Errorf("config.sweep.interval must not be negative")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "bookline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes layered on defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const defaultTemplate = `workspace: .

http:
  addr: 127.0.0.1:8080
  base_path: /v0
  allowed_origins: []
  rate_limit: 20
  rate_burst: 40

auth:
  jwt_secret: ""
  allow_legacy_actor_header: false
  dev_login: false

policy:
  cancel_reason_min_length: 10
  review_comment_max_length: 1000
  first_accept_wins: true

notify:
  poll_interval: 1s
  batch_size: 100
  lock_ttl: 60s
  max_attempts: 25
  max_backoff: 60s
  jitter_max: 200ms
  dispatch_timeout: 10s
  webhooks: []

sweep:
  interval: 1m
  batch: 100

log:
  level: info
  format: text
`
