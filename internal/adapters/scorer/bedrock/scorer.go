package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/phishguard/phishguard/internal/core"
	"github.com/phishguard/phishguard/internal/utils"
	"go.uber.org/zap"
)

// Scorer is an implementation of the Scorer interface using Amazon Bedrock
type Scorer struct {
	client        *bedrockruntime.Client
	modelID       string
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

// NewScorer creates a new Bedrock scorer
func NewScorer(
	client *bedrockruntime.Client,
	modelID string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	logger *zap.Logger,
	textProcessor *utils.TextProcessor,
) *Scorer {
	return &Scorer{
		client:        client,
		modelID:       modelID,
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
	to := ""
	if len(msg.Recipients) > 0 {
		to = msg.Recipients[0]
		if len(msg.Recipients) > 1 {
			to += fmt.Sprintf(" and %d others", len(msg.Recipients)-1)
		}
	}

	processedBody := s.textProcessor.ProcessText(msg.Body, s.maxBodySize)
	prompt := fmt.Sprintf(s.promptFormat, msg.Sender, to, msg.Subject, processedBody)

	var payload []byte
	var err error
	if s.isAnthropicModel() {
		payload, err = json.Marshal(map[string]interface{}{
			"prompt":               prompt,
			"max_tokens_to_sample": s.maxTokens,
			"temperature":          s.temperature,
			"top_p":                s.topP,
		})
	} else if s.isAmazonTitanModel() {
		payload, err = json.Marshal(map[string]interface{}{
			"inputText": prompt,
			"textGenerationConfig": map[string]interface{}{
				"maxTokenCount": s.maxTokens,
				"temperature":   s.temperature,
				"topP":          s.topP,
			},
		})
	} else {
		payload, err = json.Marshal(map[string]interface{}{
			"prompt":      prompt,
			"max_tokens":  s.maxTokens,
			"temperature": s.temperature,
			"top_p":       s.topP,
		})
	}
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	resp, err := s.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     &s.modelID,
		Body:        payload,
		Accept:      aws.String("application/json"),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: failed to invoke Bedrock model: %v", core.ErrScorerUnavailable, err)
	}

	responseText, err := s.extractText(resp.Body)
	if err != nil {
		return 0, err
	}

	analysis, err := parseAnalysis(responseText)
	if err != nil {
		return 0, err
	}

	s.logger.Debug("Bedrock scored message",
		zap.String("message_id", msg.ID),
		zap.Float64("score", analysis.Score),
		zap.String("explanation", analysis.Explanation))
	return analysis.Score, nil
}

// Name identifies the scorer in score results and health reports.
func (s *Scorer) Name() string {
	return s.modelID
}

func (s *Scorer) extractText(body []byte) (string, error) {
	if s.isAnthropicModel() {
		var claudeResp struct {
			Completion string `json:"completion"`
		}
		if err := json.Unmarshal(body, &claudeResp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Claude response: %w", err)
		}
		return claudeResp.Completion, nil
	}
	if s.isAmazonTitanModel() {
		var titanResp struct {
			Results []struct {
				OutputText string `json:"outputText"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &titanResp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Titan response: %w", err)
		}
		if len(titanResp.Results) == 0 {
			return "", fmt.Errorf("empty response from Titan model")
		}
		return titanResp.Results[0].OutputText, nil
	}

	var genericResp struct {
		Output   string `json:"output"`
		Text     string `json:"text"`
		Response string `json:"response"`
	}
	if err := json.Unmarshal(body, &genericResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal generic response: %w", err)
	}
	switch {
	case genericResp.Output != "":
		return genericResp.Output, nil
	case genericResp.Text != "":
		return genericResp.Text, nil
	case genericResp.Response != "":
		return genericResp.Response, nil
	}
	return string(body), nil
}

// isAnthropicModel checks if the model is an Anthropic Claude model
func (s *Scorer) isAnthropicModel() bool {
	return strings.HasPrefix(s.modelID, "anthropic.claude")
}

// isAmazonTitanModel checks if the model is an Amazon Titan model
func (s *Scorer) isAmazonTitanModel() bool {
	return strings.HasPrefix(s.modelID, "amazon.titan")
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
