package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Export   ExportConfig   `yaml:"export"`
	Download DownloadConfig `yaml:"download"`
	OAuth    OAuthConfig    `yaml:"oauth"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host          string        `yaml:"host" envconfig:"SERVER_HOST"`
	Port          int           `yaml:"port" envconfig:"SERVER_PORT"`
	FrontendURL   string        `yaml:"frontend_url" envconfig:"FRONTEND_URL"`
	SessionSecret string        `yaml:"session_secret" envconfig:"SESSION_SECRET"`
	SessionTTL    time.Duration `yaml:"session_ttl" envconfig:"SESSION_TTL"`
	ReadTimeout   time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT"`
	WriteTimeout  time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT"`
	RateLimit     int           `yaml:"rate_limit" envconfig:"SERVER_RATE_LIMIT"`
}

// ExportConfig holds export pipeline configuration.
type ExportConfig struct {
	Dir              string `yaml:"dir" envconfig:"EXPORT_DIR"`
	MaxItems         int    `yaml:"max_items" envconfig:"EXPORT_MAX_ITEMS"`
	MaxSecondary     int    `yaml:"max_secondary" envconfig:"EXPORT_MAX_SECONDARY"`
	MediaConcurrency int    `yaml:"media_concurrency" envconfig:"EXPORT_MEDIA_CONCURRENCY"`
}

// DownloadConfig holds media download configuration.
type DownloadConfig struct {
	Timeout    time.Duration `yaml:"timeout" envconfig:"DOWNLOAD_TIMEOUT"`
	MaxRetries int           `yaml:"max_retries" envconfig:"DOWNLOAD_MAX_RETRIES"`
	RetryDelay time.Duration `yaml:"retry_delay" envconfig:"DOWNLOAD_RETRY_DELAY"`
	UserAgent  string        `yaml:"user_agent" envconfig:"DOWNLOAD_USER_AGENT"`
}

// OAuthConfig holds OAuth provider credentials.
type OAuthConfig struct {
	CallbackBaseURL   string `yaml:"callback_base_url" envconfig:"OAUTH_CALLBACK_BASE_URL"`
	GoogleClientID    string `yaml:"google_client_id" envconfig:"GOOGLE_CLIENT_ID"`
	GoogleSecret      string `yaml:"google_client_secret" envconfig:"GOOGLE_CLIENT_SECRET"`
	FacebookAppID     string `yaml:"facebook_app_id" envconfig:"FACEBOOK_APP_ID"`
	FacebookAppSecret string `yaml:"facebook_app_secret" envconfig:"FACEBOOK_APP_SECRET"`
}

// defaultConfig returns the built-in defaults. Defaults are applied
// explicitly rather than via envconfig `default:` tags: envconfig
// applies tag defaults whenever the env var is unset, which would
// overwrite values already loaded from the YAML file.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         3000,
			FrontendURL:  "http://localhost:5173",
			SessionTTL:   24 * time.Hour,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
			RateLimit:    120,
		},
		Export: ExportConfig{
			Dir:              "exports",
			MaxItems:         1000,
			MaxSecondary:     500,
			MediaConcurrency: 3,
		},
		Download: DownloadConfig{
			Timeout:    10 * time.Minute,
			MaxRetries: 3,
			RetryDelay: time.Second,
			UserAgent:  "Mozilla/5.0 (compatible; StarExport/1.0)",
		},
		OAuth: OAuthConfig{
			CallbackBaseURL: "http://localhost:3000",
		},
	}
}

// Load reads configuration in three layers: built-in defaults, then
// the YAML file, then environment variables. Later layers override
// earlier ones.
func Load(configPath string) (*Config, error) {
	cfg := defaultConfig()

	// Load from YAML file if provided
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// Override with environment variables
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.Server.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET is required")
	}
	if c.Export.Dir == "" {
		return fmt.Errorf("EXPORT_DIR is required")
	}
	if c.Export.MediaConcurrency <= 0 {
		return fmt.Errorf("EXPORT_MEDIA_CONCURRENCY must be positive")
	}
	if c.Download.MaxRetries <= 0 {
		return fmt.Errorf("DOWNLOAD_MAX_RETRIES must be positive")
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
