package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func emptyFacts() *FeatureVector {
	return &FeatureVector{
		Values: map[string]float64{},
		Facts:  map[string]interface{}{},
	}
}

func TestNewRuleEngineValidation(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name string
		defs []RuleDefinition
	}{
		{"missing id", []RuleDefinition{{Kind: KindFactTrue, Params: map[string]interface{}{"fact": "x"}}}},
		{"duplicate id", []RuleDefinition{
			{ID: "a", Kind: KindFactTrue, Params: map[string]interface{}{"fact": "x"}},
			{ID: "a", Kind: KindFactTrue, Params: map[string]interface{}{"fact": "y"}},
		}},
		{"negative weight", []RuleDefinition{{ID: "a", Kind: KindFactTrue, Weight: -1, Params: map[string]interface{}{"fact": "x"}}}},
		{"unknown kind", []RuleDefinition{{ID: "a", Kind: "telepathy", Params: map[string]interface{}{}}}},
		{"missing param", []RuleDefinition{{ID: "a", Kind: KindFactTrue, Params: map[string]interface{}{}}}},
		{"invalid regex", []RuleDefinition{{ID: "a", Kind: KindRegex, Params: map[string]interface{}{
			"facts":   []string{"body"},
			"pattern": "([",
		}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRuleEngine(tt.defs, logger)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}
}

func TestEvaluateEmptyRuleset(t *testing.T) {
	engine, err := NewRuleEngine(nil, zap.NewNop())
	require.NoError(t, err)

	score, triggered := engine.Evaluate(emptyFacts())
	assert.Equal(t, 0.0, score)
	assert.NotNil(t, triggered)
	assert.Empty(t, triggered)
}

func TestEvaluateUnknownFactsDoNotTrigger(t *testing.T) {
	engine, err := NewRuleEngine(DefaultRules(), zap.NewNop())
	require.NoError(t, err)

	score, triggered := engine.Evaluate(emptyFacts())
	assert.Equal(t, 0.0, score)
	assert.Empty(t, triggered)
}

func TestEvaluateDefaultRules(t *testing.T) {
	engine, err := NewRuleEngine(DefaultRules(), zap.NewNop())
	require.NoError(t, err)

	fv := emptyFacts()
	fv.Facts["contains_urgency_language"] = true
	fv.Facts["url_count"] = 4.0
	fv.Facts["body"] = "please verify your password at the link below"
	fv.Facts["subject_caps_ratio"] = 0.9

	score, triggered := engine.Evaluate(fv)
	assert.Equal(t, 95.0, score)
	assert.ElementsMatch(t, []string{"urgency_language", "url_volume", "credential_harvest", "shouting_subject"}, triggered)
}

func TestEvaluateFactMinBoundary(t *testing.T) {
	engine, err := NewRuleEngine([]RuleDefinition{
		{ID: "url_volume", Kind: KindFactMin, Weight: 20,
			Params: map[string]interface{}{"fact": "url_count", "min": 3.0}},
	}, zap.NewNop())
	require.NoError(t, err)

	fv := emptyFacts()
	fv.Facts["url_count"] = 2.0
	score, _ := engine.Evaluate(fv)
	assert.Equal(t, 0.0, score)

	fv.Facts["url_count"] = 3.0
	score, triggered := engine.Evaluate(fv)
	assert.Equal(t, 20.0, score)
	assert.Equal(t, []string{"url_volume"}, triggered)
}

func TestEvaluateSenderDomainSuffix(t *testing.T) {
	engine, err := NewRuleEngine([]RuleDefinition{
		{ID: "suspicious_tld", Kind: KindSenderDomainIn, Weight: 25,
			Params: map[string]interface{}{"domains": []string{".xyz", "evil.example"}}},
	}, zap.NewNop())
	require.NoError(t, err)

	for domain, want := range map[string]float64{
		"prizes.xyz":   25,
		"evil.example": 25,
		"corp.example": 0,
	} {
		fv := emptyFacts()
		fv.Facts["sender_domain"] = domain
		score, _ := engine.Evaluate(fv)
		assert.Equal(t, want, score, "domain %s", domain)
	}
}

func TestEvaluateRegexRule(t *testing.T) {
	engine, err := NewRuleEngine([]RuleDefinition{
		{ID: "ip_link", Kind: KindRegex, Weight: 30,
			Params: map[string]interface{}{
				"facts":   []string{"body"},
				"pattern": `https?://\d+\.\d+\.\d+\.\d+`,
			}},
	}, zap.NewNop())
	require.NoError(t, err)

	fv := emptyFacts()
	fv.Facts["body"] = "click http://203.0.113.9/login now"
	score, triggered := engine.Evaluate(fv)
	assert.Equal(t, 30.0, score)
	assert.Equal(t, []string{"ip_link"}, triggered)
}

func TestEvaluateAllRulesRun(t *testing.T) {
	// No early exit: every matching rule lands in the triggered list.
	engine, err := NewRuleEngine([]RuleDefinition{
		{ID: "a", Kind: KindFactTrue, Weight: 10, Params: map[string]interface{}{"fact": "x"}},
		{ID: "b", Kind: KindFactTrue, Weight: 15, Params: map[string]interface{}{"fact": "x"}},
		{ID: "c", Kind: KindFactTrue, Weight: 5, Params: map[string]interface{}{"fact": "y"}},
	}, zap.NewNop())
	require.NoError(t, err)

	fv := emptyFacts()
	fv.Facts["x"] = true
	score, triggered := engine.Evaluate(fv)
	assert.Equal(t, 25.0, score)
	assert.Equal(t, []string{"a", "b"}, triggered)
}
