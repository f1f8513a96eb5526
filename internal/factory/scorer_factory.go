package factory

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/phishguard/phishguard/internal/adapters/scorer/bedrock"
	"github.com/phishguard/phishguard/internal/adapters/scorer/gemini"
	"github.com/phishguard/phishguard/internal/adapters/scorer/local"
	"github.com/phishguard/phishguard/internal/adapters/scorer/openai"
	"github.com/phishguard/phishguard/internal/config"
	"github.com/phishguard/phishguard/internal/core"
	"github.com/phishguard/phishguard/internal/utils"
	"go.uber.org/zap"
)

// ScorerFactory creates ML scorers based on configuration
type ScorerFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewScorerFactory creates a new scorer factory
func NewScorerFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *ScorerFactory {
	return &ScorerFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateScorer creates a scorer for the configured provider.
func (f *ScorerFactory) CreateScorer() (core.Scorer, error) {
	provider := f.cfg.GetScoring().Provider

	switch provider {
	case "local":
		return local.NewScorer(f.cfg.GetLocalScorer().ModelPath, f.logger)
	case "openai":
		openaiCfg := f.cfg.GetOpenAI()
		if openaiCfg.APIKey == "" {
			return nil, fmt.Errorf("%w: openai API key is required", core.ErrInvalidConfiguration)
		}
		return openai.NewScorer(
			openaiCfg.APIKey,
			openaiCfg.ModelName,
			openaiCfg.MaxTokens,
			openaiCfg.Temperature,
			openaiCfg.TopP,
			openaiCfg.MaxBodySize,
			f.logger,
			f.textProcessor,
		), nil
	case "bedrock":
		bedrockCfg := f.cfg.GetBedrock()
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(bedrockCfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		return bedrock.NewScorer(
			bedrockruntime.NewFromConfig(awsCfg),
			bedrockCfg.ModelID,
			bedrockCfg.MaxTokens,
			bedrockCfg.Temperature,
			bedrockCfg.TopP,
			bedrockCfg.MaxBodySize,
			f.logger,
			f.textProcessor,
		), nil
	case "gemini":
		geminiCfg := f.cfg.GetGemini()
		if geminiCfg.APIKey == "" {
			return nil, fmt.Errorf("%w: gemini API key is required", core.ErrInvalidConfiguration)
		}
		return gemini.NewScorer(
			geminiCfg.APIKey,
			geminiCfg.ModelName,
			geminiCfg.MaxTokens,
			geminiCfg.Temperature,
			geminiCfg.TopP,
			geminiCfg.MaxBodySize,
			f.logger,
			f.textProcessor,
		)
	default:
		return nil, fmt.Errorf("%w: unsupported scoring provider: %s", core.ErrInvalidConfiguration, provider)
	}
}
