package local

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/phishguard/phishguard/internal/core"
)

func TestNewScorerMissingModel(t *testing.T) {
	s, err := NewScorer(filepath.Join(t.TempDir(), "model.json"), zap.NewNop())
	require.NoError(t, err)
	assert.False(t, s.Trained())

	score, err := s.Score(context.Background(), &core.Message{ID: "m1"}, &core.FeatureVector{})
	require.NoError(t, err)
	assert.Equal(t, 0.5, score)
}

func TestNewScorerMalformedModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	_, err := NewScorer(path, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse model file")
}

func TestScoreTrainedModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	model := `{"bias": -1.0, "weights": {"urgency": 2.0, "url_count": 0.5}}`
	require.NoError(t, os.WriteFile(path, []byte(model), 0o644))

	s, err := NewScorer(path, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, s.Trained())

	features := &core.FeatureVector{Values: map[string]float64{
		"urgency":   1.0,
		"url_count": 2.0,
	}}
	score, err := s.Score(context.Background(), &core.Message{ID: "m1"}, features)
	require.NoError(t, err)

	// z = -1 + 2*1 + 0.5*2 = 2
	expected := 1.0 / (1.0 + math.Exp(-2.0))
	assert.InDelta(t, expected, score, 1e-9)
}

func TestScoreIgnoresUnknownFeatures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"bias": 0, "weights": {"urgency": 1.0}}`), 0o644))

	s, err := NewScorer(path, zap.NewNop())
	require.NoError(t, err)

	score, err := s.Score(context.Background(), &core.Message{ID: "m1"}, &core.FeatureVector{Values: map[string]float64{}})
	require.NoError(t, err)
	assert.Equal(t, 0.5, score)
}

func TestScoreCancelledContext(t *testing.T) {
	s, err := NewScorer(filepath.Join(t.TempDir(), "model.json"), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Score(ctx, &core.Message{ID: "m1"}, &core.FeatureVector{})
	assert.ErrorIs(t, err, context.Canceled)
}
