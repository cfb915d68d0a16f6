// Package config loads service configuration from defaults, an optional
// YAML file and environment variables, in that order of precedence.
package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// envPrefix namespaces the environment variables the loader reads.
const envPrefix = "MNEMOSIGN"

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Redis    RedisConfig    `yaml:"redis" envconfig:"REDIS"`
	Seal     SealConfig     `yaml:"seal" envconfig:"SEAL"`
	Session  SessionConfig  `yaml:"session" envconfig:"SESSION"`
	Telegram TelegramConfig `yaml:"telegram" envconfig:"TELEGRAM"`
	Photos   PhotosConfig   `yaml:"photos" envconfig:"PHOTOS"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host string `yaml:"host" envconfig:"HOST"`
	Port int    `yaml:"port" envconfig:"PORT"`
}

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Address   string `yaml:"address" envconfig:"ADDRESS"`
	Password  string `yaml:"password" envconfig:"PASSWORD"`
	DB        int    `yaml:"db" envconfig:"DB"`
	KeyPrefix string `yaml:"key_prefix" envconfig:"KEY_PREFIX"`
}

// SealConfig holds the token sealing key as a hex string.
type SealConfig struct {
	Key string `yaml:"key" envconfig:"KEY"`
	// ChallengeTTLMinutes bounds how long a pending challenge stays live.
	ChallengeTTLMinutes int `yaml:"challenge_ttl_minutes" envconfig:"CHALLENGE_TTL_MINUTES"`
}

// SessionConfig configures issued session tokens.
type SessionConfig struct {
	Secret      string `yaml:"secret" envconfig:"SECRET"`
	Issuer      string `yaml:"issuer" envconfig:"ISSUER"`
	ExpiryHours int    `yaml:"expiry_hours" envconfig:"EXPIRY_HOURS"`
}

// TelegramConfig configures the bot and its webhook.
type TelegramConfig struct {
	BotToken      string `yaml:"bot_token" envconfig:"BOT_TOKEN"`
	WebhookSecret string `yaml:"webhook_secret" envconfig:"WEBHOOK_SECRET"`
}

// PhotosConfig configures re-hosting of profile photos on S3-compatible
// object storage. Leaving the endpoint empty disables re-hosting.
type PhotosConfig struct {
	Endpoint  string `yaml:"endpoint" envconfig:"ENDPOINT"`
	AccessKey string `yaml:"access_key" envconfig:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" envconfig:"SECRET_KEY"`
	Bucket    string `yaml:"bucket" envconfig:"BUCKET"`
	BaseURL   string `yaml:"base_url" envconfig:"BASE_URL"`
	UseSSL    bool   `yaml:"use_ssl" envconfig:"USE_SSL"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" envconfig:"FORMAT"` // json, text
}

// Load builds the configuration from defaults, then the YAML file at path
// if it exists, then MNEMOSIGN_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Redis: RedisConfig{
			Address:   "localhost:6379",
			KeyPrefix: "challenge",
		},
		Seal: SealConfig{
			ChallengeTTLMinutes: 10,
		},
		Session: SessionConfig{
			Issuer:      "mnemosign",
			ExpiryHours: 24,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for missing or malformed values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if _, err := c.Seal.KeyBytes(); err != nil {
		return err
	}

	if c.Session.Secret == "" {
		return fmt.Errorf("session secret is required")
	}

	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram bot token is required")
	}

	if c.Photos.Enabled() && c.Photos.Bucket == "" {
		return fmt.Errorf("photos bucket is required when an endpoint is set")
	}

	return nil
}

// KeyBytes decodes the hex sealing key.
func (s *SealConfig) KeyBytes() ([]byte, error) {
	if s.Key == "" {
		return nil, fmt.Errorf("seal key is required")
	}

	key, err := hex.DecodeString(s.Key)
	if err != nil {
		return nil, fmt.Errorf("seal key is not valid hex: %w", err)
	}

	return key, nil
}

// Enabled reports whether photo re-hosting is configured.
func (p *PhotosConfig) Enabled() bool {
	return p.Endpoint != ""
}

// Address returns the server listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
