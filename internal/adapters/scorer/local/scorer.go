package local

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/phishguard/phishguard/internal/core"
	"go.uber.org/zap"
)

// modelFile is the on-disk shape of a trained model: a logistic regression
// over named features.
type modelFile struct {
	Bias    float64            `json:"bias"`
	Weights map[string]float64 `json:"weights"`
}

// Scorer evaluates messages with a locally stored logistic model. When no
// model file exists the scorer is untrained and returns a neutral 0.5 for
// every message.
type Scorer struct {
	bias    float64
	weights map[string]float64
	trained bool
	logger  *zap.Logger
}

// NewScorer loads the model at modelPath. A missing file is not an error;
// the scorer runs untrained until a model is trained and dropped in place.
func NewScorer(modelPath string, logger *zap.Logger) (*Scorer, error) {
	s := &Scorer{logger: logger}

	data, err := os.ReadFile(modelPath)
	if os.IsNotExist(err) {
		logger.Warn("No local model found, scoring with neutral prior",
			zap.String("path", modelPath))
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}

	var mf modelFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("failed to parse model file: %w", err)
	}

	s.bias = mf.Bias
	s.weights = mf.Weights
	s.trained = true
	logger.Info("Loaded local model",
		zap.String("path", modelPath),
		zap.Int("features", len(mf.Weights)))
	return s, nil
}

// Score returns the model's phishing probability for the message.
func (s *Scorer) Score(ctx context.Context, msg *core.Message, features *core.FeatureVector) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !s.trained {
		return 0.5, nil
	}

	z := s.bias
	for name, weight := range s.weights {
		if features != nil {
			z += weight * features.Values[name]
		}
	}
	return 1.0 / (1.0 + math.Exp(-z)), nil
}

// Name identifies the scorer in score results and health reports.
func (s *Scorer) Name() string {
	return "local"
}

// Trained reports whether a model file was loaded.
func (s *Scorer) Trained() bool {
	return s.trained
}
