package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/phishguard/phishguard/internal/config"
	"github.com/phishguard/phishguard/internal/core"
	"github.com/phishguard/phishguard/internal/factory"
	"github.com/phishguard/phishguard/internal/logging"
	"github.com/phishguard/phishguard/internal/utils"
	"go.uber.org/zap"
)

var (
	// Scoring provider flags
	provider    = flag.String("provider", "local", "ML scoring provider (local, bedrock, gemini, openai)")
	modelPath   = flag.String("model", "data/model.json", "Path to the local model file")
	maxTokens   = flag.Int("max-tokens", 1000, "Maximum tokens for LLM response")
	temperature = flag.Float64("temperature", 0.1, "Temperature for LLM generation")
	topP        = flag.Float64("top-p", 0.9, "Top-p for LLM generation")
	maxBodySize = flag.Int("max-body-size", 4096, "Maximum email body size to send to LLM")

	// Bedrock flags
	bedrockRegion  = flag.String("bedrock-region", "us-east-1", "AWS region for Bedrock")
	bedrockModelID = flag.String("bedrock-model", "anthropic.claude-v2", "Bedrock model ID")

	// Gemini flags
	geminiAPIKey    = flag.String("gemini-api-key", "", "API key for Google Gemini")
	geminiModelName = flag.String("gemini-model", "gemini-pro", "Gemini model name")

	// OpenAI flags
	openaiAPIKey    = flag.String("openai-api-key", "", "API key for OpenAI")
	openaiModelName = flag.String("openai-model", "gpt-4", "OpenAI model name")

	// Scoring flags
	mlWeight  = flag.Float64("ml-weight", 0.6, "Weight of the ML score in the combined score")
	threshold = flag.Float64("threshold", 0.5, "Combined score at or above which the message would be quarantined")

	// Input flags
	inputFile  = flag.String("file", "", "Input email file (use stdin if not specified)")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	jsonLog    = flag.Bool("json-log", false, "Output logs in JSON format")
	configFile = flag.String("config", "", "Path to config file (overrides command line flags)")
)

func main() {
	flag.Parse()

	var cfg *config.Config
	var err error

	// Initialize logger
	logger, err := logging.InitConsoleLogger(*verbose, *jsonLog)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Load configuration from file if specified
	if *configFile != "" {
		cfg, err = config.New()
		if err != nil {
			logger.Fatal("Failed to load configuration", zap.Error(err))
		}
		logger.Info("Loaded configuration from file", zap.String("file", cfg.GetViper().ConfigFileUsed()))
	} else {
		cfg = createConfigFromFlags()
	}

	// Build the scoring front half of the pipeline
	textProcessor := utils.NewTextProcessor(logger)
	scorerFactory := factory.NewScorerFactory(cfg, logger, textProcessor)
	scorer, err := scorerFactory.CreateScorer()
	if err != nil {
		logger.Fatal("Failed to create scorer", zap.Error(err))
	}

	ruleDefs, err := cfg.GetRules()
	if err != nil {
		logger.Fatal("Failed to load rules", zap.Error(err))
	}
	rules, err := core.NewRuleEngine(ruleDefs, logger)
	if err != nil {
		logger.Fatal("Failed to build rule engine", zap.Error(err))
	}

	combiner, err := core.NewScoreCombiner(cfg.GetScoring().CombinerConfig())
	if err != nil {
		logger.Fatal("Failed to build score combiner", zap.Error(err))
	}

	// Read email from file or stdin
	var emailReader io.Reader
	if *inputFile != "" {
		file, err := os.Open(*inputFile)
		if err != nil {
			logger.Fatal("Failed to open input file", zap.Error(err), zap.String("file", *inputFile))
		}
		defer file.Close()
		emailReader = file
		logger.Info("Reading email from file", zap.String("file", *inputFile))
	} else {
		emailReader = os.Stdin
		logger.Info("Reading email from stdin")
	}

	// Parse email
	parsed, err := mail.ReadMessage(bufio.NewReader(emailReader))
	if err != nil {
		logger.Fatal("Failed to parse email", zap.Error(err))
	}

	bodyBytes, err := io.ReadAll(parsed.Body)
	if err != nil {
		logger.Fatal("Failed to read email body", zap.Error(err))
	}

	from := parsed.Header.Get("From")
	to := parsed.Header.Get("To")
	receivedAt := time.Now()
	if date, err := parsed.Header.Date(); err == nil {
		receivedAt = date
	}

	msg := &core.Message{
		ID:         core.MessageID(parsed.Header.Get("Message-Id"), receivedAt),
		Sender:     from,
		Subject:    parsed.Header.Get("Subject"),
		Body:       string(bodyBytes),
		Headers:    make(map[string][]string),
		ReceivedAt: receivedAt,
	}
	for _, addr := range strings.Split(to, ",") {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			msg.Recipients = append(msg.Recipients, trimmed)
		}
	}
	for k, v := range parsed.Header {
		msg.Headers[k] = v
	}

	// Print email summary
	fmt.Printf("\n=== Email Summary ===\n")
	fmt.Printf("From: %s\n", from)
	fmt.Printf("To: %s\n", to)
	fmt.Printf("Subject: %s\n", msg.Subject)
	fmt.Printf("Body length: %d bytes\n", len(msg.Body))
	fmt.Printf("\n")

	fmt.Printf("=== Analysis ===\n")
	fmt.Printf("Provider: %s\n", cfg.GetScoring().Provider)
	fmt.Printf("Quarantine threshold: %.2f\n", cfg.GetScoring().QuarantineThreshold)

	startTime := time.Now()

	extractor := core.NewFeatureExtractor(noopAnalyzer{}, textProcessor, logger)
	fv := extractor.Extract(context.Background(), msg)
	ruleScore, triggered := rules.Evaluate(fv)

	mlScore, err := scorer.Score(context.Background(), msg, fv)
	degraded := false
	if err != nil {
		logger.Warn("Scorer unavailable, using neutral prior", zap.Error(err))
		mlScore = 0.5
		degraded = true
	}

	result := combiner.Combine(mlScore, degraded, scorer.Name(), ruleScore, triggered)
	duration := time.Since(startTime)

	// Print results
	fmt.Printf("\n=== Results ===\n")
	fmt.Printf("ML score: %.4f\n", result.MLScore)
	fmt.Printf("Rule score: %.2f\n", result.RuleScore)
	fmt.Printf("Triggered rules: %s\n", strings.Join(result.TriggeredRules, ", "))
	fmt.Printf("Combined score: %.4f\n", result.CombinedScore)
	fmt.Printf("Risk tier: %s\n", result.RiskTier)
	fmt.Printf("Would quarantine: %t\n", result.CombinedScore >= cfg.GetScoring().QuarantineThreshold)
	fmt.Printf("Model used: %s\n", result.ModelUsed)
	fmt.Printf("Processing time: %v\n", duration)

	// Close any resources that need closing
	if closer, ok := scorer.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close scorer", zap.Error(err))
		}
	}
}

type noopAnalyzer struct{}

func (noopAnalyzer) Analyze(ctx context.Context, att *core.Attachment) (*core.AnalysisResult, error) {
	return &core.AnalysisResult{ExtractedText: att.ExtractedText}, nil
}

// createConfigFromFlags creates a configuration from command line flags
func createConfigFromFlags() *config.Config {
	v := config.NewEmptyViper()

	v.Set("scoring.provider", *provider)
	v.Set("scoring.ml_weight", *mlWeight)
	v.Set("scoring.rule_weight", 1.0-*mlWeight)
	v.Set("scoring.quarantine_threshold", *threshold)

	switch *provider {
	case "local":
		v.Set("local.model_path", *modelPath)
	case "bedrock":
		v.Set("bedrock.region", *bedrockRegion)
		v.Set("bedrock.model_id", *bedrockModelID)
		v.Set("bedrock.max_tokens", *maxTokens)
		v.Set("bedrock.temperature", *temperature)
		v.Set("bedrock.top_p", *topP)
		v.Set("bedrock.max_body_size", *maxBodySize)
	case "gemini":
		v.Set("gemini.api_key", *geminiAPIKey)
		v.Set("gemini.model_name", *geminiModelName)
		v.Set("gemini.max_tokens", *maxTokens)
		v.Set("gemini.temperature", *temperature)
		v.Set("gemini.top_p", *topP)
		v.Set("gemini.max_body_size", *maxBodySize)
	case "openai":
		v.Set("openai.api_key", *openaiAPIKey)
		v.Set("openai.model_name", *openaiModelName)
		v.Set("openai.max_tokens", *maxTokens)
		v.Set("openai.temperature", *temperature)
		v.Set("openai.top_p", *topP)
		v.Set("openai.max_body_size", *maxBodySize)
	}

	return config.NewFromViper(v)
}
