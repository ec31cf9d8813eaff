package ocr

import (
	"context"

	"github.com/nathan927/full-ai-nathan/internal/imaging"
)

// RecognizeOptions carries provider tuning knobs. Zero values mean
// provider defaults.
type RecognizeOptions struct {
	// SegmentationMode selects the page segmentation strategy
	// (Tesseract PSM; 6 = uniform block of text).
	SegmentationMode int
	// EngineMode selects the recognition engine (Tesseract OEM; 2 = LSTM only).
	EngineMode int
}

// DefaultRecognizeOptions matches the tuning used for homework photos:
// a single uniform text block recognized by the LSTM engine.
func DefaultRecognizeOptions() RecognizeOptions {
	return RecognizeOptions{SegmentationMode: 6, EngineMode: 2}
}

// ProviderResult is the raw output of one provider attempt.
// Confidence is reported as a percentage in [0,100]; the engine normalizes.
type ProviderResult struct {
	Text              string
	ConfidencePercent float64
	Words             []Word
}

// Provider is a pluggable text-extraction capability. Implementations must
// release any held resources (worker handles, native clients) on every exit
// path, success or failure.
type Provider interface {
	Name() string
	Recognize(ctx context.Context, img *imaging.Processed, languageCode string, opts RecognizeOptions) (*ProviderResult, error)
}
