package core

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/phishguard/phishguard/internal/utils"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"')]+`)

// urgencyPhrases are matched against normalized subject+body to set the
// contains_urgency_language fact.
var urgencyPhrases = []string{
	"urgent",
	"immediately",
	"act now",
	"action required",
	"verify your account",
	"account suspended",
	"account will be",
	"expires",
	"within 24 hours",
	"final notice",
	"security alert",
	"confirm your",
	"unusual activity",
}

// FeatureExtractor turns a raw message into the feature vector and fact set
// consumed by the scorer and the rule engine. Extraction never fails: a
// sub-part that cannot be decoded or analyzed contributes neutral facts.
type FeatureExtractor struct {
	analyzer Analyzer
	text     *utils.TextProcessor
	logger   *zap.Logger
}

// NewFeatureExtractor creates a new feature extractor.
func NewFeatureExtractor(analyzer Analyzer, text *utils.TextProcessor, logger *zap.Logger) *FeatureExtractor {
	return &FeatureExtractor{
		analyzer: analyzer,
		text:     text,
		logger:   logger,
	}
}

// Extract computes the per-message feature vector. External capability
// failures (OCR, reputation) degrade the corresponding facts to unknown
// rather than aborting.
func (e *FeatureExtractor) Extract(ctx context.Context, msg *Message) *FeatureVector {
	subject := e.text.Normalize(e.text.SanitizeUTF8(msg.Subject))
	body := e.text.Normalize(e.text.SanitizeUTF8(msg.Body))

	fv := &FeatureVector{
		Values: make(map[string]float64),
		Facts:  make(map[string]interface{}),
	}

	urls := urlPattern.FindAllString(body, -1)
	urgency := containsAny(subject+" "+body, urgencyPhrases)

	fv.Facts["subject"] = subject
	fv.Facts["body"] = body
	fv.Facts["sender_domain"] = strings.ToLower(SenderDomain(msg.Sender))
	fv.Facts["url_count"] = float64(len(urls))
	fv.Facts["contains_urgency_language"] = urgency
	fv.Facts["subject_caps_ratio"] = capsRatio(msg.Subject)
	fv.Facts["exclamation_count"] = float64(strings.Count(subject+body, "!"))
	fv.Facts["reply_to_mismatch"] = replyToMismatch(msg)
	fv.Facts["attachment_count"] = float64(len(msg.Attachments))

	e.extractAttachments(ctx, msg, fv)

	fv.Values["url_count"] = float64(len(urls))
	fv.Values["urgency"] = boolToFloat(urgency)
	fv.Values["subject_caps_ratio"] = capsRatio(msg.Subject)
	fv.Values["exclamation_count"] = float64(strings.Count(subject+body, "!"))
	fv.Values["body_length"] = float64(len(body))
	fv.Values["subject_length"] = float64(len(subject))
	fv.Values["attachment_count"] = float64(len(msg.Attachments))
	fv.Values["reply_to_mismatch"] = boolToFloat(replyToMismatch(msg))

	return fv
}

// extractAttachments runs the analyzer over each attachment. A failure for
// one attachment leaves the others intact and marks reputation as unknown.
func (e *FeatureExtractor) extractAttachments(ctx context.Context, msg *Message, fv *FeatureVector) {
	var (
		texts            []string
		doubleExt        bool
		reputationKnown  bool
		worstReputation  float64
		analyzerDegraded bool
	)

	for i := range msg.Attachments {
		att := &msg.Attachments[i]
		if hasDoubleExtension(att.Filename) {
			doubleExt = true
		}
		if att.ExtractedText != "" {
			texts = append(texts, e.text.Normalize(att.ExtractedText))
		}
		if e.analyzer == nil {
			continue
		}

		res, err := e.analyzer.Analyze(ctx, att)
		if err != nil {
			analyzerDegraded = true
			e.logger.Warn("Attachment analysis failed, degrading to unknown",
				zap.String("message_id", msg.ID),
				zap.String("filename", att.Filename),
				zap.Error(err))
			continue
		}
		if res.ExtractedText != "" {
			texts = append(texts, e.text.Normalize(res.ExtractedText))
		}
		if res.ReputationKnown {
			reputationKnown = true
			if res.ReputationScore > worstReputation {
				worstReputation = res.ReputationScore
			}
		}
	}

	fv.Facts["attachment_double_extension"] = doubleExt
	fv.Facts["attachment_text"] = strings.Join(texts, " ")
	if reputationKnown {
		fv.Facts["reputation_score"] = worstReputation
		fv.Values["reputation_score"] = worstReputation
	} else {
		fv.Facts["reputation_unknown"] = true
	}
	if analyzerDegraded {
		fv.Facts["analysis_degraded"] = true
	}
	fv.Values["attachment_double_extension"] = boolToFloat(doubleExt)
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

func capsRatio(s string) float64 {
	var letters, caps int
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				caps++
			}
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(caps) / float64(letters)
}

func replyToMismatch(msg *Message) bool {
	replyTo := ""
	for name, vals := range msg.Headers {
		if strings.EqualFold(name, "Reply-To") && len(vals) > 0 {
			replyTo = vals[0]
		}
	}
	if replyTo == "" {
		return false
	}
	return !strings.EqualFold(SenderDomain(replyTo), SenderDomain(msg.Sender))
}

// hasDoubleExtension flags names like invoice.pdf.exe.
func hasDoubleExtension(filename string) bool {
	parts := strings.Split(strings.ToLower(filename), ".")
	if len(parts) < 3 {
		return false
	}
	switch parts[len(parts)-1] {
	case "exe", "scr", "bat", "cmd", "js", "vbs":
		return true
	}
	return false
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
