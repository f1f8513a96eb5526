package core

import (
	"fmt"
	"math"
	"time"
)

// TierThresholds are the lower bounds of LOW, MEDIUM and HIGH. Scores below
// Low are MINIMAL. Bounds must be strictly increasing within (0,1).
type TierThresholds struct {
	Low    float64
	Medium float64
	High   float64
}

// CombinerConfig controls how the two signals blend into one score.
type CombinerConfig struct {
	// MLWeight and RuleWeight must sum to 1.
	MLWeight   float64
	RuleWeight float64
	// Saturation is the additive rule score that maps to a normalized 1.0.
	Saturation float64
	Tiers      TierThresholds
}

// Validate rejects configurations the combiner cannot run with. Called once
// at startup; a failure here aborts the process.
func (c CombinerConfig) Validate() error {
	if math.Abs(c.MLWeight+c.RuleWeight-1.0) > 1e-9 {
		return fmt.Errorf("%w: ml weight %.3f + rule weight %.3f must sum to 1",
			ErrInvalidConfiguration, c.MLWeight, c.RuleWeight)
	}
	if c.MLWeight < 0 || c.RuleWeight < 0 {
		return fmt.Errorf("%w: score weights must be non-negative", ErrInvalidConfiguration)
	}
	if c.Saturation <= 0 {
		return fmt.Errorf("%w: rule saturation point must be positive, got %.3f",
			ErrInvalidConfiguration, c.Saturation)
	}
	t := c.Tiers
	if !(t.Low > 0 && t.Low < t.Medium && t.Medium < t.High && t.High < 1) {
		return fmt.Errorf("%w: tier thresholds must satisfy 0 < low < medium < high < 1, got %.2f/%.2f/%.2f",
			ErrInvalidConfiguration, t.Low, t.Medium, t.High)
	}
	return nil
}

// ScoreCombiner merges the ML probability and the additive rule score into
// one combined score and a risk tier. Pure and deterministic: the same
// inputs under the same configuration always produce the same result.
type ScoreCombiner struct {
	cfg CombinerConfig
}

// NewScoreCombiner creates a combiner from a validated configuration.
func NewScoreCombiner(cfg CombinerConfig) (*ScoreCombiner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ScoreCombiner{cfg: cfg}, nil
}

// Combine blends the signals. mlScore is clamped to [0,1] before weighting,
// so an out-of-range scorer cannot push the combined score out of range.
func (c *ScoreCombiner) Combine(mlScore float64, degraded bool, modelUsed string, ruleScore float64, triggered []string) ScoreResult {
	ml := clamp01(mlScore)
	combined := c.cfg.MLWeight*ml + c.cfg.RuleWeight*c.NormalizeRuleScore(ruleScore)

	if triggered == nil {
		triggered = []string{}
	}
	return ScoreResult{
		MLScore:        ml,
		RuleScore:      ruleScore,
		TriggeredRules: triggered,
		CombinedScore:  combined,
		RiskTier:       c.TierFor(combined),
		Degraded:       degraded,
		ModelUsed:      modelUsed,
		ScoredAt:       time.Now().UTC(),
	}
}

// NormalizeRuleScore maps the unbounded additive rule score into [0,1];
// scores at or beyond the saturation point map to 1.
func (c *ScoreCombiner) NormalizeRuleScore(ruleScore float64) float64 {
	if ruleScore <= 0 {
		return 0
	}
	return math.Min(ruleScore/c.cfg.Saturation, 1)
}

// TierFor buckets a combined score. Monotone in the score: bounds are
// inclusive at the lower edge of each tier.
func (c *ScoreCombiner) TierFor(combined float64) RiskTier {
	t := c.cfg.Tiers
	switch {
	case combined >= t.High:
		return TierHigh
	case combined >= t.Medium:
		return TierMedium
	case combined >= t.Low:
		return TierLow
	default:
		return TierMinimal
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(math.Max(v, 0), 1)
}
