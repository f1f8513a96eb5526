package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/phishguard/phishguard/internal/adapters/analysis"
	"github.com/phishguard/phishguard/internal/adapters/api"
	"github.com/phishguard/phishguard/internal/config"
	"github.com/phishguard/phishguard/internal/core"
	"github.com/phishguard/phishguard/internal/factory"
	"github.com/phishguard/phishguard/internal/logging"
	"github.com/phishguard/phishguard/internal/utils"
)

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewScorerFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewStoreFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewNotifierFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewMailSourceFactory); err != nil {
		return nil, err
	}

	// Register text processor
	if err := container.Provide(utils.NewTextProcessor); err != nil {
		return nil, err
	}

	// Register attachment analyzer
	if err := container.Provide(func() core.Analyzer {
		return analysis.NewNoopAnalyzer()
	}); err != nil {
		return nil, err
	}

	// Register scorer
	if err := container.Provide(func(f *factory.ScorerFactory) (core.Scorer, error) {
		return f.CreateScorer()
	}); err != nil {
		return nil, err
	}

	// Register repositories
	if err := container.Provide(func(f *factory.StoreFactory) (*factory.Stores, error) {
		return f.CreateStores()
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(s *factory.Stores) core.QuarantineRepository {
		return s.Quarantine
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(s *factory.Stores) core.IncidentRepository {
		return s.Incidents
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(s *factory.Stores) core.BlacklistRepository {
		return s.Blacklist
	}); err != nil {
		return nil, err
	}

	// Register notifier
	if err := container.Provide(func(f *factory.NotifierFactory) (core.Notifier, error) {
		return f.CreateNotifier()
	}); err != nil {
		return nil, err
	}

	// Register mail source
	if err := container.Provide(func(f *factory.MailSourceFactory) (core.MailSource, error) {
		return f.CreateMailSource()
	}); err != nil {
		return nil, err
	}

	// Register feature extractor
	if err := container.Provide(core.NewFeatureExtractor); err != nil {
		return nil, err
	}

	// Register rule engine
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) (*core.RuleEngine, error) {
		defs, err := cfg.GetRules()
		if err != nil {
			return nil, err
		}
		return core.NewRuleEngine(defs, logger)
	}); err != nil {
		return nil, err
	}

	// Register score combiner
	if err := container.Provide(func(cfg *config.Config) (*core.ScoreCombiner, error) {
		return core.NewScoreCombiner(cfg.GetScoring().CombinerConfig())
	}); err != nil {
		return nil, err
	}

	// Register response orchestrator
	if err := container.Provide(func(
		incidents core.IncidentRepository,
		blacklist core.BlacklistRepository,
		notifier core.Notifier,
		cfg *config.Config,
		logger *zap.Logger,
	) (*core.ResponseOrchestrator, error) {
		responseCfg, err := cfg.GetResponse()
		if err != nil {
			return nil, err
		}
		return core.NewResponseOrchestrator(incidents, blacklist, notifier, core.ResponderConfig{
			IncidentTier: core.RiskTier(responseCfg.IncidentTier),
			SOCAddress:   responseCfg.SOCAddress,
			Retry: core.RetryPolicy{
				MaxAttempts: responseCfg.MaxAttempts,
				Backoff:     responseCfg.Backoff,
				Multiplier:  responseCfg.Multiplier,
			},
		}, logger)
	}); err != nil {
		return nil, err
	}

	// Register pipeline
	if err := container.Provide(func(
		extractor *core.FeatureExtractor,
		rules *core.RuleEngine,
		scorer core.Scorer,
		combiner *core.ScoreCombiner,
		quarantine core.QuarantineRepository,
		responder *core.ResponseOrchestrator,
		cfg *config.Config,
		logger *zap.Logger,
	) (*core.Pipeline, error) {
		scoringCfg := cfg.GetScoring()
		return core.NewPipeline(extractor, rules, scorer, combiner, quarantine, responder, core.PipelineConfig{
			QuarantineThreshold: scoringCfg.QuarantineThreshold,
			MaxInFlight:         cfg.GetInt("pipeline.max_in_flight"),
		}, logger)
	}); err != nil {
		return nil, err
	}

	// Register API server
	if err := container.Provide(api.NewServer); err != nil {
		return nil, err
	}

	return container, nil
}
