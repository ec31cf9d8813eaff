/**
 * OCR extraction engine with confidence-gated provider fallback
 *
 * Providers are tried in order; the first result whose confidence is strictly
 * above the acceptance threshold wins. A provider error is non-fatal and
 * advances the loop. Exhausting the list is a hard failure.
 */

package ocr

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/nathan927/full-ai-nathan/internal/errors"
	"github.com/nathan927/full-ai-nathan/internal/imaging"
	"github.com/nathan927/full-ai-nathan/internal/logging"
)

// DefaultConfidenceThreshold is the minimum confidence, exclusive, for a
// provider result to be accepted.
const DefaultConfidenceThreshold = 0.6

// EngineConfig holds extraction engine configuration.
type EngineConfig struct {
	// Providers is the ordered fallback list. At least one is required.
	Providers []Provider
	// ConfidenceThreshold overrides DefaultConfidenceThreshold when positive.
	ConfidenceThreshold float64
	// Options is applied to every provider attempt. Zero value means
	// DefaultRecognizeOptions.
	Options RecognizeOptions
}

// Engine tries an ordered list of OCR providers and returns the first result
// meeting the acceptance threshold.
type Engine struct {
	providers []Provider
	threshold float64
	options   RecognizeOptions
	logger    *logging.Logger
}

// NewEngine creates an extraction engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one OCR provider is required")
	}
	threshold := cfg.ConfidenceThreshold
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	options := cfg.Options
	if options == (RecognizeOptions{}) {
		options = DefaultRecognizeOptions()
	}
	return &Engine{
		providers: cfg.Providers,
		threshold: threshold,
		options:   options,
		logger:    logging.NewLogger("OCREngine"),
	}, nil
}

// Threshold returns the acceptance threshold in effect.
func (e *Engine) Threshold() float64 { return e.threshold }

// Extract runs the provider fallback loop and returns the first accepted
// result. The returned result always has Confidence strictly above the
// threshold; there is no best-effort success below it.
func (e *Engine) Extract(ctx context.Context, img *imaging.Processed, language string) (*Result, error) {
	start := time.Now()
	code := ResolveLanguage(language)

	var lastErr error
	for _, provider := range e.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := provider.Recognize(ctx, img, code, e.options)
		if err != nil {
			e.logger.Warn("OCR provider failed, trying next",
				"provider", provider.Name(),
				"error", err)
			lastErr = err
			continue
		}

		confidence := raw.ConfidencePercent / 100.0
		if confidence > e.threshold {
			e.logger.Info("OCR result accepted",
				"provider", provider.Name(),
				"confidence", confidence,
				"textLength", len(raw.Text))
			return &Result{
				Text:       raw.Text,
				Confidence: confidence,
				Words:      raw.Words,
				Language:   code,
				Provider:   provider.Name(),
				Duration:   time.Since(start),
			}, nil
		}

		e.logger.Warn("OCR confidence below threshold, trying next",
			"provider", provider.Name(),
			"confidence", confidence,
			"threshold", e.threshold)
		lastErr = fmt.Errorf("provider %s confidence %.2f not above threshold %.2f",
			provider.Name(), confidence, e.threshold)
	}

	return nil, apperrors.NewAllProvidersFailedError(len(e.providers), lastErr)
}
