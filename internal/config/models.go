package config

import (
	"fmt"
	"time"

	"github.com/phishguard/phishguard/internal/core"
)

// ScoringConfig represents the configuration for score combination
type ScoringConfig struct {
	Provider            string
	MLWeight            float64
	RuleWeight          float64
	RuleSaturation      float64
	TierLow             float64
	TierMedium          float64
	TierHigh            float64
	QuarantineThreshold float64
}

// StoreConfig represents the configuration for the persistence backend
type StoreConfig struct {
	Type       string
	SQLitePath string
	MySQLDSN   string
}

// ResponseConfig represents the configuration for incident response
type ResponseConfig struct {
	IncidentTier string
	SOCAddress   string
	Notifier     string
	SMTPAddress  string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string
	MaxAttempts  int
	Backoff      time.Duration
	Multiplier   float64
}

// MailConfig represents the configuration for the mail source
type MailConfig struct {
	Mode         string
	MailHogHost  string
	MailHogPort  int
	MailHogLimit int
	PollInterval time.Duration
}

// LocalScorerConfig represents the configuration for the stored local model
type LocalScorerConfig struct {
	ModelPath string
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// OpenAIConfig represents the configuration for OpenAI
type OpenAIConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// GetScoring returns the scoring configuration
func (c *Config) GetScoring() ScoringConfig {
	return ScoringConfig{
		Provider:            c.GetString("scoring.provider"),
		MLWeight:            c.GetFloat64("scoring.ml_weight"),
		RuleWeight:          c.GetFloat64("scoring.rule_weight"),
		RuleSaturation:      c.GetFloat64("scoring.rule_saturation"),
		TierLow:             c.GetFloat64("scoring.tier_low"),
		TierMedium:          c.GetFloat64("scoring.tier_medium"),
		TierHigh:            c.GetFloat64("scoring.tier_high"),
		QuarantineThreshold: c.GetFloat64("scoring.quarantine_threshold"),
	}
}

// CombinerConfig maps the scoring section onto the combiner's configuration
func (s ScoringConfig) CombinerConfig() core.CombinerConfig {
	return core.CombinerConfig{
		MLWeight:   s.MLWeight,
		RuleWeight: s.RuleWeight,
		Saturation: s.RuleSaturation,
		Tiers: core.TierThresholds{
			Low:    s.TierLow,
			Medium: s.TierMedium,
			High:   s.TierHigh,
		},
	}
}

// GetStore returns the persistence configuration
func (c *Config) GetStore() StoreConfig {
	return StoreConfig{
		Type:       c.GetString("store.type"),
		SQLitePath: c.GetString("store.sqlite_path"),
		MySQLDSN:   c.GetString("store.mysql_dsn"),
	}
}

// GetResponse returns the incident response configuration
func (c *Config) GetResponse() (ResponseConfig, error) {
	backoff, err := c.GetDuration("response.retry.backoff")
	if err != nil {
		return ResponseConfig{}, fmt.Errorf("invalid response retry backoff: %w", err)
	}
	return ResponseConfig{
		IncidentTier: c.GetString("response.incident_tier"),
		SOCAddress:   c.GetString("response.soc_address"),
		Notifier:     c.GetString("response.notifier"),
		SMTPAddress:  c.GetString("response.smtp.address"),
		SMTPFrom:     c.GetString("response.smtp.from"),
		SMTPUsername: c.GetString("response.smtp.username"),
		SMTPPassword: c.GetString("response.smtp.password"),
		MaxAttempts:  c.GetInt("response.retry.max_attempts"),
		Backoff:      backoff,
		Multiplier:   c.GetFloat64("response.retry.multiplier"),
	}, nil
}

// GetMail returns the mail source configuration
func (c *Config) GetMail() (MailConfig, error) {
	interval, err := c.GetDuration("mail.poll_interval")
	if err != nil {
		return MailConfig{}, fmt.Errorf("invalid mail poll interval: %w", err)
	}
	return MailConfig{
		Mode:         c.GetString("mail.mode"),
		MailHogHost:  c.GetString("mail.mailhog.host"),
		MailHogPort:  c.GetInt("mail.mailhog.port"),
		MailHogLimit: c.GetInt("mail.mailhog.limit"),
		PollInterval: interval,
	}, nil
}

// GetLocalScorer returns the local model configuration
func (c *Config) GetLocalScorer() LocalScorerConfig {
	return LocalScorerConfig{
		ModelPath: c.GetString("local.model_path"),
	}
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:      c.GetString("bedrock.region"),
		ModelID:     c.GetString("bedrock.model_id"),
		MaxTokens:   c.GetInt("bedrock.max_tokens"),
		Temperature: float32(c.GetFloat64("bedrock.temperature")),
		TopP:        float32(c.GetFloat64("bedrock.top_p")),
		MaxBodySize: c.GetInt("bedrock.max_body_size"),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:      c.GetString("gemini.api_key"),
		ModelName:   c.GetString("gemini.model_name"),
		MaxTokens:   c.GetInt("gemini.max_tokens"),
		Temperature: float32(c.GetFloat64("gemini.temperature")),
		TopP:        float32(c.GetFloat64("gemini.top_p")),
		MaxBodySize: c.GetInt("gemini.max_body_size"),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:      c.GetString("openai.api_key"),
		ModelName:   c.GetString("openai.model_name"),
		MaxTokens:   c.GetInt("openai.max_tokens"),
		Temperature: float32(c.GetFloat64("openai.temperature")),
		TopP:        float32(c.GetFloat64("openai.top_p")),
		MaxBodySize: c.GetInt("openai.max_body_size"),
	}
}

// GetRules returns the configured rule definitions, or the built-in default
// ruleset when the rules key is absent.
func (c *Config) GetRules() ([]core.RuleDefinition, error) {
	if !c.v.IsSet("rules") {
		return core.DefaultRules(), nil
	}
	var defs []core.RuleDefinition
	if err := c.v.UnmarshalKey("rules", &defs); err != nil {
		return nil, fmt.Errorf("%w: malformed rules section: %v", core.ErrInvalidConfiguration, err)
	}
	return defs, nil
}
