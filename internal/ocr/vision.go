/**
 * Remote vision OCR provider
 *
 * Second provider in the fallback order: a hosted vision-model service that
 * handles handwriting Tesseract cannot. The service selects its own model;
 * this client only ships the image and language hint.
 */

package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nathan927/full-ai-nathan/internal/imaging"
	"github.com/nathan927/full-ai-nathan/internal/logging"
)

const visionDefaultTimeout = 120 * time.Second

// VisionProvider handles OCR through a remote vision-model endpoint.
type VisionProvider struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// visionRequest is the wire format of an extraction request.
type visionRequest struct {
	Image            string `json:"image"`  // base64 encoded
	Format           string `json:"format"` // always "base64"
	Language         string `json:"language"`
	SegmentationMode int    `json:"segmentationMode,omitempty"`
}

// visionResponse is the wire format of an extraction response.
type visionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"` // in [0,1]
		Words      []struct {
			Text        string      `json:"text"`
			Confidence  float64     `json:"confidence"`
			BoundingBox BoundingBox `json:"boundingBox"`
		} `json:"words"`
		ModelUsed string `json:"modelUsed"`
	} `json:"data"`
}

// NewVisionProvider creates a client for the remote vision OCR service.
func NewVisionProvider(baseURL string) *VisionProvider {
	return &VisionProvider{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: visionDefaultTimeout, // vision models can take a while
		},
		logger: logging.NewLogger("VisionProvider"),
	}
}

func (v *VisionProvider) Name() string { return "vision" }

// Recognize extracts text from an image via the remote service.
func (v *VisionProvider) Recognize(ctx context.Context, img *imaging.Processed, languageCode string, opts RecognizeOptions) (*ProviderResult, error) {
	endpoint := fmt.Sprintf("%s/api/vision/extract-text", v.baseURL)

	reqBody, err := json.Marshal(visionRequest{
		Image:            base64.StdEncoding.EncodeToString(img.Data),
		Format:           "base64",
		Language:         languageCode,
		SegmentationMode: opts.SegmentationMode,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", fmt.Sprintf("ocr-%d", time.Now().UnixNano()))

	resp, err := v.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to vision service failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vision service returned error status %d: %s", resp.StatusCode, string(body))
	}

	var visionResp visionResponse
	if err := json.Unmarshal(body, &visionResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if !visionResp.Success {
		return nil, fmt.Errorf("vision service operation failed: %s", visionResp.Message)
	}

	words := make([]Word, 0, len(visionResp.Data.Words))
	for _, w := range visionResp.Data.Words {
		words = append(words, Word{Text: w.Text, Confidence: w.Confidence, BoundingBox: w.BoundingBox})
	}

	v.logger.Debug("Vision extraction complete",
		"modelUsed", visionResp.Data.ModelUsed,
		"confidence", visionResp.Data.Confidence,
		"textLength", len(visionResp.Data.Text))

	return &ProviderResult{
		Text:              visionResp.Data.Text,
		ConfidencePercent: visionResp.Data.Confidence * 100,
		Words:             words,
	}, nil
}
