package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/phishguard/phishguard/internal/core"
	"github.com/phishguard/phishguard/internal/utils"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Scorer is an implementation of the Scorer interface using OpenAI
type Scorer struct {
	client        *openai.Client
	modelName     string
	maxTokens     int
	temperature   float32
	topP          float32
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

// NewScorer creates a new OpenAI scorer
func NewScorer(
	apiKey string,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) *Scorer {
	return &Scorer{
		client:        openai.NewClient(apiKey),
		modelName:     modelName,
		maxTokens:     maxTokens,
		temperature:   temperature,
		topP:          topP,
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
	}
}

// Score asks the model for a phishing probability for the message.
func (s *Scorer) Score(ctx context.Context, msg *core.Message, features *core.FeatureVector) (float64, error) {
	prompt := fmt.Sprintf(s.promptFormat,
		msg.Sender,
		recipientSummary(msg.Recipients),
		msg.Subject,
		s.textProcessor.ProcessText(msg.Body, s.maxBodySize))

	req := openai.ChatCompletionRequest{
		Model: s.modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are a phishing detection system. Respond only with JSON.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		TopP:        s.topP,
	}
	req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: "json"}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to create chat completion with OpenAI: %v", core.ErrScorerUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return 0, fmt.Errorf("%w: empty response from OpenAI", core.ErrScorerUnavailable)
	}

	analysis, err := parseAnalysis(resp.Choices[0].Message.Content)
	if err != nil {
		return 0, err
	}

	s.logger.Debug("OpenAI scored message",
		zap.String("message_id", msg.ID),
		zap.Float64("score", analysis.Score),
		zap.String("explanation", analysis.Explanation))
	return analysis.Score, nil
}

// Name identifies the scorer in score results and health reports.
func (s *Scorer) Name() string {
	return s.modelName
}

func recipientSummary(recipients []string) string {
	if len(recipients) == 0 {
		return ""
	}
	to := recipients[0]
	if len(recipients) > 1 {
		to += fmt.Sprintf(" and %d others", len(recipients)-1)
	}
	return to
}

// parseAnalysis parses the model's JSON reply, falling back to extracting
// the first JSON object when the model wraps it in prose.
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
