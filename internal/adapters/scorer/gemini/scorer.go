package gemini

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"github.com/phishguard/phishguard/internal/core"
	"github.com/phishguard/phishguard/internal/utils"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Scorer is an implementation of the Scorer interface using Google Gemini
type Scorer struct {
	client        *genai.Client
	model         *genai.GenerativeModel
	modelName     string
	maxBodySize   int
	logger        *zap.Logger
	promptFormat  string
	textProcessor *utils.TextProcessor
}

// phishAnalysisResponse represents the structured response from the LLM
type phishAnalysisResponse struct {
	IsPhishing  bool    `json:"is_phishing"`
	Score       float64 `json:"score"`
	Explanation string  `json:"explanation"`
}

// NewScorer creates a new Gemini scorer
func NewScorer(
	apiKey string,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) (*Scorer, error) {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(temperature)
	model.SetTopP(topP)
	model.SetMaxOutputTokens(int32(maxTokens))

	return &Scorer{
		client:        client,
		model:         model,
		modelName:     modelName,
		maxBodySize:   maxBodySize,
		logger:        logger,
		textProcessor: textProcessor,
		promptFormat: `You are a phishing detection system. Analyze the following email and determine if it's a phishing attempt.
Respond with a JSON object containing:
- is_phishing: boolean (true if phishing, false if not)
- score: number between 0 and 1 (higher means more likely to be phishing)
- explanation: string (brief explanation of your assessment)

Email:
From: %s
To: %s
Subject: %s
Body:
%s

Respond only with the JSON object and nothing else.`,
	}, nil
}

// Close closes the Gemini client
func (s *Scorer) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Score asks the model for a phishing probability for the message.
func (s *Scorer) Score(ctx context.Context, msg *core.Message, features *core.FeatureVector) (float64, error) {
	to := ""
	if len(msg.Recipients) > 0 {
		to = msg.Recipients[0]
		if len(msg.Recipients) > 1 {
			to += fmt.Sprintf(" and %d others", len(msg.Recipients)-1)
		}
	}

	processedBody := s.textProcessor.ProcessText(msg.Body, s.maxBodySize)
	prompt := fmt.Sprintf(s.promptFormat, msg.Sender, to, msg.Subject, processedBody)

	resp, err := s.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return 0, fmt.Errorf("%w: failed to generate content with Gemini: %v", core.ErrScorerUnavailable, err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return 0, fmt.Errorf("%w: empty response from Gemini", core.ErrScorerUnavailable)
	}

	responseText := fmt.Sprintf("%v", resp.Candidates[0].Content.Parts[0])

	analysis, err := parseAnalysis(responseText)
	if err != nil {
		return 0, err
	}

	s.logger.Debug("Gemini scored message",
		zap.String("message_id", msg.ID),
		zap.Float64("score", analysis.Score),
		zap.String("explanation", analysis.Explanation))
	return analysis.Score, nil
}

// Name identifies the scorer in score results and health reports.
func (s *Scorer) Name() string {
	return s.modelName
}

func parseAnalysis(responseText string) (*phishAnalysisResponse, error) {
	var analysis phishAnalysisResponse
	if err := json.Unmarshal([]byte(responseText), &analysis); err == nil {
		return &analysis, nil
	}

	jsonStart := -1
	jsonEnd := -1
	for i := 0; i < len(responseText); i++ {
		if responseText[i] == '{' {
			jsonStart = i
			break
		}
	}
	for i := len(responseText) - 1; i >= 0; i-- {
		if responseText[i] == '}' {
			jsonEnd = i + 1
			break
		}
	}
	if jsonStart < 0 || jsonStart >= jsonEnd {
		return nil, fmt.Errorf("failed to extract JSON from LLM response")
	}
	if err := json.Unmarshal([]byte(responseText[jsonStart:jsonEnd]), &analysis); err != nil {
		return nil, fmt.Errorf("failed to parse LLM response as JSON: %w", err)
	}
	return &analysis, nil
}
