package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phishguard/phishguard/internal/core"
)

func TestDefaults(t *testing.T) {
	cfg := NewFromViper(NewEmptyViper())

	scoring := cfg.GetScoring()
	assert.Equal(t, "local", scoring.Provider)
	assert.Equal(t, 0.6, scoring.MLWeight)
	assert.Equal(t, 0.4, scoring.RuleWeight)
	assert.Equal(t, 100.0, scoring.RuleSaturation)
	assert.Equal(t, 0.5, scoring.QuarantineThreshold)

	store := cfg.GetStore()
	assert.Equal(t, "sqlite", store.Type)
	assert.Equal(t, "data/quarantine.db", store.SQLitePath)

	assert.Equal(t, 8, cfg.GetInt("pipeline.max_in_flight"))
	assert.True(t, cfg.GetBool("api.enabled"))
	assert.Equal(t, "0.0.0.0:8080", cfg.GetString("api.listen_address"))
}

func TestCombinerConfigMapping(t *testing.T) {
	cfg := NewFromViper(NewEmptyViper())

	combiner := cfg.GetScoring().CombinerConfig()
	require.NoError(t, combiner.Validate())
	assert.Equal(t, 0.3, combiner.Tiers.Low)
	assert.Equal(t, 0.5, combiner.Tiers.Medium)
	assert.Equal(t, 0.8, combiner.Tiers.High)
}

func TestGetResponse(t *testing.T) {
	cfg := NewFromViper(NewEmptyViper())

	response, err := cfg.GetResponse()
	require.NoError(t, err)
	assert.Equal(t, "MEDIUM", response.IncidentTier)
	assert.Equal(t, "log", response.Notifier)
	assert.Equal(t, 3, response.MaxAttempts)
	assert.Equal(t, 2*time.Second, response.Backoff)
	assert.Equal(t, 2.0, response.Multiplier)
}

func TestGetResponseBadBackoff(t *testing.T) {
	v := NewEmptyViper()
	v.Set("response.retry.backoff", "soon")
	cfg := NewFromViper(v)

	_, err := cfg.GetResponse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid response retry backoff")
}

func TestGetMail(t *testing.T) {
	cfg := NewFromViper(NewEmptyViper())

	mail, err := cfg.GetMail()
	require.NoError(t, err)
	assert.Equal(t, "mailhog", mail.Mode)
	assert.Equal(t, "localhost", mail.MailHogHost)
	assert.Equal(t, 8025, mail.MailHogPort)
	assert.Equal(t, 30*time.Second, mail.PollInterval)
}

func TestGetRulesDefaults(t *testing.T) {
	cfg := NewFromViper(NewEmptyViper())

	rules, err := cfg.GetRules()
	require.NoError(t, err)
	assert.Equal(t, core.DefaultRules(), rules)
}

func TestGetRulesFromConfig(t *testing.T) {
	v := NewEmptyViper()
	v.Set("rules", []map[string]interface{}{
		{
			"id":     "suspicious_tld",
			"kind":   "sender_domain_in",
			"weight": 40.0,
			"params": map[string]interface{}{
				"domains": []string{".xyz", ".top"},
			},
		},
	})
	cfg := NewFromViper(v)

	rules, err := cfg.GetRules()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "suspicious_tld", rules[0].ID)
	assert.Equal(t, 40.0, rules[0].Weight)
}
