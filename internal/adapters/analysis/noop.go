package analysis

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/phishguard/phishguard/internal/core"
)

// NoopAnalyzer skips deep attachment analysis. Text attachments still
// contribute their content so the feature extractor can scan them.
type NoopAnalyzer struct{}

// NewNoopAnalyzer creates a new no-op analyzer
func NewNoopAnalyzer() *NoopAnalyzer {
	return &NoopAnalyzer{}
}

// Analyze returns the attachment's text content when it is textual and
// reports sender reputation as unknown.
func (a *NoopAnalyzer) Analyze(ctx context.Context, att *core.Attachment) (*core.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result := &core.AnalysisResult{ExtractedText: att.ExtractedText}
	if result.ExtractedText == "" && isTextual(att.Filename) {
		result.ExtractedText = string(att.Content)
	}
	return result, nil
}

func isTextual(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".html", ".htm", ".csv":
		return true
	}
	return false
}
