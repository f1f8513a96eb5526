package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	v *viper.Viper
}

// New creates a new configuration instance
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/phishguard/")
	v.AddConfigPath("$HOME/.phishguard")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	// Set defaults
	setDefaults(v)

	// Environment variables
	v.AutomaticEnv()
	v.SetEnvPrefix("PHISHGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults
	}

	return &Config{v: v}, nil
}

// NewFromViper creates a new configuration instance from an existing Viper instance
func NewFromViper(v *viper.Viper) *Config {
	return &Config{v: v}
}

// NewEmptyViper creates a new Viper instance with defaults
func NewEmptyViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	// Scoring defaults
	v.SetDefault("scoring.provider", "local")
	v.SetDefault("scoring.ml_weight", 0.6)
	v.SetDefault("scoring.rule_weight", 0.4)
	v.SetDefault("scoring.rule_saturation", 100.0)
	v.SetDefault("scoring.tier_low", 0.3)
	v.SetDefault("scoring.tier_medium", 0.5)
	v.SetDefault("scoring.tier_high", 0.8)
	v.SetDefault("scoring.quarantine_threshold", 0.5)

	// Pipeline defaults
	v.SetDefault("pipeline.max_in_flight", 8)

	// Local model defaults
	v.SetDefault("local.model_path", "data/models/phishing_model.json")

	// Bedrock defaults
	v.SetDefault("bedrock.region", "us-east-1")
	v.SetDefault("bedrock.model_id", "anthropic.claude-v2")
	v.SetDefault("bedrock.max_tokens", 1000)
	v.SetDefault("bedrock.temperature", 0.1)
	v.SetDefault("bedrock.top_p", 0.9)
	v.SetDefault("bedrock.max_body_size", 4096)

	// Gemini defaults
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model_name", "gemini-pro")
	v.SetDefault("gemini.max_tokens", 1000)
	v.SetDefault("gemini.temperature", 0.1)
	v.SetDefault("gemini.top_p", 0.9)
	v.SetDefault("gemini.max_body_size", 4096)

	// OpenAI defaults
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model_name", "gpt-4")
	v.SetDefault("openai.max_tokens", 1000)
	v.SetDefault("openai.temperature", 0.1)
	v.SetDefault("openai.top_p", 0.9)
	v.SetDefault("openai.max_body_size", 4096)

	// Store defaults
	v.SetDefault("store.type", "sqlite")
	v.SetDefault("store.sqlite_path", "data/quarantine.db")
	v.SetDefault("store.mysql_dsn", "user:password@tcp(localhost:3306)/phishguard?parseTime=true")

	// Response defaults
	v.SetDefault("response.incident_tier", "MEDIUM")
	v.SetDefault("response.soc_address", "soc@example.com")
	v.SetDefault("response.retry.max_attempts", 3)
	v.SetDefault("response.retry.backoff", "2s")
	v.SetDefault("response.retry.multiplier", 2.0)
	v.SetDefault("response.notifier", "log")
	v.SetDefault("response.smtp.address", "localhost:1025")
	v.SetDefault("response.smtp.from", "phishguard@example.com")
	v.SetDefault("response.smtp.username", "")
	v.SetDefault("response.smtp.password", "")

	// Mail source defaults
	v.SetDefault("mail.mode", "mailhog")
	v.SetDefault("mail.mailhog.host", "localhost")
	v.SetDefault("mail.mailhog.port", 8025)
	v.SetDefault("mail.mailhog.limit", 50)
	v.SetDefault("mail.poll_interval", "30s")

	// API defaults
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen_address", "0.0.0.0:8080")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// GetString gets a string value from the configuration
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt gets an integer value from the configuration
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetFloat64 gets a float64 value from the configuration
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool gets a boolean value from the configuration
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// GetStringSlice gets a string slice value from the configuration
func (c *Config) GetStringSlice(key string) []string {
	return c.v.GetStringSlice(key)
}

// GetDuration gets a duration value from the configuration
func (c *Config) GetDuration(key string) (time.Duration, error) {
	return time.ParseDuration(c.GetString(key))
}

// GetViper returns the underlying Viper instance
func (c *Config) GetViper() *viper.Viper {
	return c.v
}
