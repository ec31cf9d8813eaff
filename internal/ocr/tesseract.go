/**
 * Tesseract OCR provider - local, free, offline extraction
 *
 * First provider in the fallback order. Word-level confidences from the
 * LSTM engine drive the engine's acceptance decision.
 */

package ocr

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/nathan927/full-ai-nathan/internal/imaging"
)

// TesseractProvider handles OCR using a local Tesseract installation.
type TesseractProvider struct {
	clientFactory  func() *gosseract.Client
	tessdataPrefix string
}

// NewTesseractProvider creates a Tesseract-backed provider. tessdataPrefix
// points at the trained-data directory; empty means the system default.
func NewTesseractProvider(tessdataPrefix string) *TesseractProvider {
	return &TesseractProvider{
		clientFactory:  gosseract.NewClient,
		tessdataPrefix: tessdataPrefix,
	}
}

func (t *TesseractProvider) Name() string { return "tesseract" }

// Recognize performs OCR on a preprocessed image. A fresh client is created
// per call and closed on every exit path.
func (t *TesseractProvider) Recognize(ctx context.Context, img *imaging.Processed, languageCode string, opts RecognizeOptions) (*ProviderResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	client := t.clientFactory()
	defer client.Close()

	if t.tessdataPrefix != "" {
		if err := client.SetTessdataPrefix(t.tessdataPrefix); err != nil {
			return nil, fmt.Errorf("failed to set tessdata prefix: %w", err)
		}
	}

	if err := client.SetImageFromBytes(img.Data); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	// Combined tags like "chi_tra+eng" become separate trained-data names.
	langs := strings.Split(languageCode, "+")
	if err := client.SetLanguage(langs...); err != nil {
		return nil, fmt.Errorf("failed to set language %s: %w", languageCode, err)
	}

	if opts.SegmentationMode > 0 {
		if err := client.SetPageSegMode(gosseract.PageSegMode(opts.SegmentationMode)); err != nil {
			return nil, fmt.Errorf("failed to set segmentation mode: %w", err)
		}
	}
	if opts.EngineMode > 0 {
		if err := client.SetVariable(gosseract.SettableVariable("tessedit_ocr_engine_mode"), strconv.Itoa(opts.EngineMode)); err != nil {
			return nil, fmt.Errorf("failed to set engine mode: %w", err)
		}
	}

	text, err := client.Text()
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	words, avgConfidence := extractWords(client)

	return &ProviderResult{
		Text:              strings.TrimSpace(text),
		ConfidencePercent: avgConfidence,
		Words:             words,
	}, nil
}

// extractWords collects word-level bounding boxes and the mean confidence.
func extractWords(client *gosseract.Client) ([]Word, float64) {
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return nil, 0
	}

	words := make([]Word, 0, len(boxes))
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence
		words = append(words, Word{
			Text:       b.Word,
			Confidence: b.Confidence / 100.0,
			BoundingBox: BoundingBox{
				X:      b.Box.Min.X,
				Y:      b.Box.Min.Y,
				Width:  b.Box.Dx(),
				Height: b.Box.Dy(),
			},
		})
	}
	return words, sum / float64(len(boxes))
}
