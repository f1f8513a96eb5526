package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// PipelineConfig bounds the coordinator.
type PipelineConfig struct {
	// QuarantineThreshold is the combined score at or above which a message
	// is persisted to quarantine.
	QuarantineThreshold float64
	// MaxInFlight caps concurrently processed messages in batch mode.
	MaxInFlight int
}

// Validate rejects a pipeline configuration at startup.
func (c PipelineConfig) Validate() error {
	if c.QuarantineThreshold <= 0 || c.QuarantineThreshold >= 1 {
		return fmt.Errorf("%w: quarantine threshold must be within (0,1), got %.3f",
			ErrInvalidConfiguration, c.QuarantineThreshold)
	}
	if c.MaxInFlight < 1 {
		return fmt.Errorf("%w: max in-flight messages must be at least 1", ErrInvalidConfiguration)
	}
	return nil
}

// Outcome is the result of one pipeline run.
type Outcome struct {
	MessageID   string
	Result      ScoreResult
	Quarantined bool
	// Duplicate is set when the message id was already quarantined and the
	// run resolved to the stored record.
	Duplicate bool
	Record    *QuarantineRecord
	Incident  *IncidentRecord
}

// Health is the degraded-mode surface exposed to the status endpoint.
type Health struct {
	Scorer         string `json:"scorer"`
	ScorerDegraded bool   `json:"scorer_degraded"`
}

// Pipeline drives one message through extract, score, combine, decide,
// persist and respond. Runs for distinct messages are independent; the
// stores are the only shared state.
type Pipeline struct {
	extractor  *FeatureExtractor
	rules      *RuleEngine
	scorer     Scorer
	combiner   *ScoreCombiner
	quarantine QuarantineRepository
	responder  *ResponseOrchestrator
	cfg        PipelineConfig
	logger     *zap.Logger

	sem            chan struct{}
	scorerDegraded atomic.Bool
}

// NewPipeline creates a new coordinator.
func NewPipeline(
	extractor *FeatureExtractor,
	rules *RuleEngine,
	scorer Scorer,
	combiner *ScoreCombiner,
	quarantine QuarantineRepository,
	responder *ResponseOrchestrator,
	cfg PipelineConfig,
	logger *zap.Logger,
) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{
		extractor:  extractor,
		rules:      rules,
		scorer:     scorer,
		combiner:   combiner,
		quarantine: quarantine,
		responder:  responder,
		cfg:        cfg,
		logger:     logger,
		sem:        make(chan struct{}, cfg.MaxInFlight),
	}, nil
}

// Score runs the pure front half of the pipeline: extraction, both signal
// sources and the combiner. No persistence, no side effects beyond the
// external capability calls made during extraction.
func (p *Pipeline) Score(ctx context.Context, msg *Message) (*FeatureVector, ScoreResult) {
	fv := p.extractor.Extract(ctx, msg)
	ruleScore, triggered := p.rules.Evaluate(fv)

	mlScore, err := p.scorer.Score(ctx, msg, fv)
	degraded := false
	if err != nil {
		// Rule signal still decides; the neutral prior matches an untrained
		// classifier.
		degraded = true
		mlScore = 0.5
		p.logger.Warn("Scorer unavailable, falling back to rule signal",
			zap.String("message_id", msg.ID),
			zap.String("scorer", p.scorer.Name()),
			zap.Error(err))
	}
	p.scorerDegraded.Store(degraded)

	return fv, p.combiner.Combine(mlScore, degraded, p.scorer.Name(), ruleScore, triggered)
}

// Process runs one message end to end. Reprocessing the same message id is
// safe: scoring is recomputed, persistence resolves to the stored record and
// response actions are deduplicated, so a crash mid-run cannot double-fire.
func (p *Pipeline) Process(ctx context.Context, msg *Message) (*Outcome, error) {
	start := time.Now()
	fv, result := p.Score(ctx, msg)

	outcome := &Outcome{MessageID: msg.ID, Result: result}
	if result.CombinedScore < p.cfg.QuarantineThreshold {
		p.logger.Debug("Message below quarantine threshold",
			zap.String("message_id", msg.ID),
			zap.Float64("combined_score", result.CombinedScore),
			zap.String("risk_tier", string(result.RiskTier)))
		return outcome, nil
	}

	stored, created, err := p.quarantine.Insert(ctx, &QuarantineRecord{
		MessageID:      msg.ID,
		Message:        msg,
		Features:       fv,
		Result:         result,
		Status:         StatusQuarantined,
		QuarantineDate: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to quarantine message %s: %w", msg.ID, err)
	}
	outcome.Quarantined = true
	outcome.Duplicate = !created
	outcome.Record = stored

	p.logger.Info("Message quarantined",
		zap.String("message_id", msg.ID),
		zap.Int64("record_id", stored.ID),
		zap.Float64("combined_score", stored.Result.CombinedScore),
		zap.String("risk_tier", string(stored.Result.RiskTier)),
		zap.Bool("duplicate", outcome.Duplicate),
		zap.Bool("degraded", result.Degraded),
		zap.Duration("elapsed", time.Since(start)))

	// Respond even on duplicates: the action log makes it idempotent, and a
	// rerun completes actions an interrupted run left unrecorded.
	incident, err := p.responder.Respond(ctx, stored)
	if err != nil {
		return outcome, fmt.Errorf("response failed for message %s: %w", msg.ID, err)
	}
	outcome.Incident = incident
	return outcome, nil
}

// ProcessBatch processes messages concurrently under the in-flight ceiling.
// A per-message failure is contained to that message. Cancelling ctx stops
// new messages from starting; in-flight ones finish, so no message is left
// partially persisted.
func (p *Pipeline) ProcessBatch(ctx context.Context, msgs []*Message) []*Outcome {
	outcomes := make([]*Outcome, len(msgs))
	var wg sync.WaitGroup

	for i, msg := range msgs {
		select {
		case <-ctx.Done():
			p.logger.Info("Batch interrupted",
				zap.Int("processed", i),
				zap.Int("total", len(msgs)))
			wg.Wait()
			return outcomes
		case p.sem <- struct{}{}:
		}

		wg.Add(1)
		go func(i int, msg *Message) {
			defer wg.Done()
			defer func() { <-p.sem }()

			outcome, err := p.Process(ctx, msg)
			if err != nil {
				p.logger.Error("Pipeline run failed",
					zap.String("message_id", msg.ID),
					zap.Error(err))
			}
			outcomes[i] = outcome
		}(i, msg)
	}

	wg.Wait()
	return outcomes
}

// Health reports the degraded-mode state observed on the most recent run.
func (p *Pipeline) Health() Health {
	return Health{
		Scorer:         p.scorer.Name(),
		ScorerDegraded: p.scorerDegraded.Load(),
	}
}
