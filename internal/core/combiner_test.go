package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCombinerConfig() CombinerConfig {
	return CombinerConfig{
		MLWeight:   0.6,
		RuleWeight: 0.4,
		Saturation: 100,
		Tiers:      TierThresholds{Low: 0.3, Medium: 0.5, High: 0.8},
	}
}

func TestCombinerConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CombinerConfig)
		ok     bool
	}{
		{"valid", func(c *CombinerConfig) {}, true},
		{"weights do not sum to one", func(c *CombinerConfig) { c.MLWeight = 0.5 }, false},
		{"negative weight", func(c *CombinerConfig) { c.MLWeight = -0.2; c.RuleWeight = 1.2 }, false},
		{"zero saturation", func(c *CombinerConfig) { c.Saturation = 0 }, false},
		{"tiers out of order", func(c *CombinerConfig) { c.Tiers.Medium = 0.9 }, false},
		{"high tier at one", func(c *CombinerConfig) { c.Tiers.High = 1.0 }, false},
		{"zero low tier", func(c *CombinerConfig) { c.Tiers.Low = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testCombinerConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfiguration)
			}
		})
	}
}

func TestCombineWeightedBlend(t *testing.T) {
	combiner, err := NewScoreCombiner(testCombinerConfig())
	require.NoError(t, err)

	tests := []struct {
		name     string
		mlScore  float64
		rule     float64
		combined float64
		tier     RiskTier
	}{
		{"both zero", 0, 0, 0, TierMinimal},
		{"medium blend", 0.9, 30, 0.66, TierMedium},
		{"just below high", 0.9, 60, 0.78, TierMedium},
		{"high blend", 1.0, 60, 0.84, TierHigh},
		{"low boundary inclusive", 0.5, 0, 0.30, TierLow},
		{"rule only saturated", 0, 200, 0.40, TierLow},
		{"high boundary inclusive", 1.0, 50, 0.80, TierHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := combiner.Combine(tt.mlScore, false, "test-model", tt.rule, nil)
			assert.InDelta(t, tt.combined, result.CombinedScore, 1e-9)
			assert.Equal(t, tt.tier, result.RiskTier)
		})
	}
}

func TestCombineClampsMLScore(t *testing.T) {
	combiner, err := NewScoreCombiner(testCombinerConfig())
	require.NoError(t, err)

	overshoot := combiner.Combine(1.8, false, "m", 0, nil)
	assert.InDelta(t, 0.6, overshoot.CombinedScore, 1e-9)
	assert.Equal(t, 1.0, overshoot.MLScore)

	undershoot := combiner.Combine(-0.4, false, "m", 0, nil)
	assert.Equal(t, 0.0, undershoot.CombinedScore)

	nan := combiner.Combine(nanValue(), false, "m", 0, nil)
	assert.Equal(t, 0.0, nan.CombinedScore)
}

func TestCombineCarriesMetadata(t *testing.T) {
	combiner, err := NewScoreCombiner(testCombinerConfig())
	require.NoError(t, err)

	result := combiner.Combine(0.7, true, "gpt-4", 55, []string{"urgency_language", "url_volume"})
	assert.True(t, result.Degraded)
	assert.Equal(t, "gpt-4", result.ModelUsed)
	assert.Equal(t, 55.0, result.RuleScore)
	assert.Equal(t, []string{"urgency_language", "url_volume"}, result.TriggeredRules)
	assert.False(t, result.ScoredAt.IsZero())

	// nil triggered list serializes as an empty array, not null
	empty := combiner.Combine(0.7, false, "gpt-4", 0, nil)
	assert.NotNil(t, empty.TriggeredRules)
	assert.Empty(t, empty.TriggeredRules)
}

func TestCombineDeterministic(t *testing.T) {
	combiner, err := NewScoreCombiner(testCombinerConfig())
	require.NoError(t, err)

	first := combiner.Combine(0.42, false, "m", 35, []string{"a"})
	for i := 0; i < 100; i++ {
		again := combiner.Combine(0.42, false, "m", 35, []string{"a"})
		assert.Equal(t, first.CombinedScore, again.CombinedScore)
		assert.Equal(t, first.RiskTier, again.RiskTier)
	}
}

func TestNormalizeRuleScore(t *testing.T) {
	combiner, err := NewScoreCombiner(testCombinerConfig())
	require.NoError(t, err)

	assert.Equal(t, 0.0, combiner.NormalizeRuleScore(-5))
	assert.Equal(t, 0.0, combiner.NormalizeRuleScore(0))
	assert.InDelta(t, 0.35, combiner.NormalizeRuleScore(35), 1e-9)
	assert.Equal(t, 1.0, combiner.NormalizeRuleScore(100))
	assert.Equal(t, 1.0, combiner.NormalizeRuleScore(400))
}

func nanValue() float64 {
	zero := 0.0
	return zero / zero
}
