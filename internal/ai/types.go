/**
 * AI correction types - request context, results, observer contract
 */

package ai

import (
	"fmt"
	"time"
)

// Usage is the token accounting reported by the inference service.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// CorrectionContext carries the grading context and tunable request
// parameters for one correction call. Supplied per request; never persisted.
type CorrectionContext struct {
	Subject        string
	GradeLevel     string
	TargetLanguage string

	// SystemPrompt is required; BuildSystemPrompt derives one from the
	// grading context when the caller has nothing custom.
	SystemPrompt string
	// MaxTokens, Temperature and Timeout are optional; service defaults
	// apply when zero.
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// CorrectionResult is the structured output of a successful correction.
// Immutable once returned.
type CorrectionResult struct {
	Content  string        `json:"content"`
	Usage    Usage         `json:"usage"`
	Model    string        `json:"model"`
	Provider string        `json:"provider"`
	Latency  time.Duration `json:"latency"`

	// UsageMismatch flags totalTokens != inputTokens+outputTokens.
	// Non-fatal; the result is still usable.
	UsageMismatch bool `json:"usageMismatch,omitempty"`
}

// Observer receives attempt and progress notifications for one correction
// call. Both callbacks are fire-and-forget; a panicking observer is isolated
// and logged, never surfaced to the request.
type Observer interface {
	// OnAttempt fires before each model attempt with a 1-based counter.
	OnAttempt(modelName string, attempt int)
	// OnProgress fires as an attempt moves through its network phases:
	// 0 request sent, 50 response received, 100 body parsed.
	OnProgress(percent int)
}

// BuildSystemPrompt derives the default correction instruction from the
// grading context.
func BuildSystemPrompt(subject, gradeLevel, targetLanguage string) string {
	return fmt.Sprintf(
		"You are an experienced %s teacher grading %s homework. "+
			"Identify every mistake in the student's work, explain the correct answer, "+
			"and give brief encouraging feedback. Respond in %s.",
		subject, gradeLevel, targetLanguage)
}
