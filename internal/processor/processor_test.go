package processor

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/nathan927/full-ai-nathan/internal/ai"
	apperrors "github.com/nathan927/full-ai-nathan/internal/errors"
	"github.com/nathan927/full-ai-nathan/internal/imaging"
	"github.com/nathan927/full-ai-nathan/internal/ocr"
	"github.com/nathan927/full-ai-nathan/internal/pipeline"
)

type stubProvider struct{}

func (stubProvider) Name() string { return "tesseract" }

func (stubProvider) Recognize(ctx context.Context, img *imaging.Processed, languageCode string, opts ocr.RecognizeOptions) (*ocr.ProviderResult, error) {
	return &ocr.ProviderResult{Text: "7 - 3 = 5", ConfidencePercent: 88}, nil
}

type recordingTransport struct {
	lastRequest *ai.Request
}

func (r *recordingTransport) Send(ctx context.Context, req *ai.Request, progress func(percent int)) (*ai.CorrectionResult, error) {
	r.lastRequest = req
	return &ai.CorrectionResult{
		Content: "7 - 3 = 4",
		Usage:   ai.Usage{InputTokens: 5, OutputTokens: 10, TotalTokens: 15},
		Model:   req.Model,
	}, nil
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: 220, G: 220, B: 220, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func testProcessor(t *testing.T, transport ai.Transport) *JobProcessor {
	t.Helper()
	engine, err := ocr.NewEngine(ocr.EngineConfig{Providers: []ocr.Provider{stubProvider{}}})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	client, err := ai.NewClient(transport, []string{"model-a"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	orchestrator := pipeline.New(imaging.NewPreprocessor(1920, 1080), engine, client)

	proc, err := NewJobProcessor(&ProcessorConfig{Orchestrator: orchestrator})
	if err != nil {
		t.Fatalf("NewJobProcessor failed: %v", err)
	}
	return proc
}

func TestProcessJobHappyPath(t *testing.T) {
	transport := &recordingTransport{}
	proc := testProcessor(t, transport)

	result, err := proc.ProcessJob(context.Background(), &JobRequest{
		JobID:     "job-1",
		ImageName: "homework.png",
		MimeType:  "image/png",
		ImageData: pngBytes(t),
	})
	if err != nil {
		t.Fatalf("ProcessJob failed: %v", err)
	}
	if result.OCR.Text != "7 - 3 = 5" {
		t.Errorf("unexpected OCR text %q", result.OCR.Text)
	}
	if result.Correction.Content != "7 - 3 = 4" {
		t.Errorf("unexpected correction %q", result.Correction.Content)
	}
}

func TestProcessJobAppliesGradingDefaults(t *testing.T) {
	transport := &recordingTransport{}
	proc := testProcessor(t, transport)

	_, err := proc.ProcessJob(context.Background(), &JobRequest{
		ImageName: "homework.png",
		MimeType:  "image/png",
		ImageData: pngBytes(t),
	})
	if err != nil {
		t.Fatalf("ProcessJob failed: %v", err)
	}

	prompt := transport.lastRequest.SystemPrompt
	if !strings.Contains(prompt, DefaultSubject) {
		t.Errorf("expected default subject in system prompt: %s", prompt)
	}
	if !strings.Contains(prompt, DefaultGradeLevel) {
		t.Errorf("expected default grade level in system prompt: %s", prompt)
	}
}

func TestProcessJobSniffsGenericMimeType(t *testing.T) {
	transport := &recordingTransport{}
	proc := testProcessor(t, transport)

	_, err := proc.ProcessJob(context.Background(), &JobRequest{
		JobID:     "job-2",
		ImageName: "upload.bin",
		MimeType:  "application/octet-stream",
		ImageData: pngBytes(t),
	})
	if err != nil {
		t.Fatalf("octet-stream with PNG content should be processed, got %v", err)
	}
}

func TestBuildJobUpdateCarriesStructuredErrorCode(t *testing.T) {
	update := buildJobUpdate("job-4", "failed", 0, map[string]interface{}{
		"error":      "all 2 OCR providers failed",
		"error_code": string(apperrors.ErrorAllProvidersFailed),
	})
	if update.ErrorCode != string(apperrors.ErrorAllProvidersFailed) {
		t.Errorf("unexpected error code %q", update.ErrorCode)
	}
	if update.ErrorMessage != "all 2 OCR providers failed" {
		t.Errorf("unexpected error message %q", update.ErrorMessage)
	}
}

func TestBuildJobUpdateLeavesUnclassifiedErrorsUncoded(t *testing.T) {
	update := buildJobUpdate("job-5", "failed", 0, map[string]interface{}{
		"error": "context deadline exceeded",
	})
	if update.ErrorCode != "" {
		t.Errorf("unclassified error must not be assigned a code, got %q", update.ErrorCode)
	}
	if update.ErrorMessage != "context deadline exceeded" {
		t.Errorf("unexpected error message %q", update.ErrorMessage)
	}
}

func TestBuildJobUpdateCopiesResultMetadata(t *testing.T) {
	update := buildJobUpdate("job-6", "completed", 100, map[string]interface{}{
		"ocrConfidence":  0.88,
		"ocrProvider":    "tesseract",
		"model":          "model-a",
		"processingTime": int64(1200),
	})
	if update.OCRConfidence != 0.88 || update.OCRProvider != "tesseract" {
		t.Errorf("OCR metadata not copied: %+v", update)
	}
	if update.Model != "model-a" || update.ProcessingTimeMs != 1200 {
		t.Errorf("result metadata not copied: %+v", update)
	}
	if update.ErrorCode != "" || update.ErrorMessage != "" {
		t.Errorf("success update must not carry error fields: %+v", update)
	}
}

func TestProcessJobRejectsGarbage(t *testing.T) {
	transport := &recordingTransport{}
	proc := testProcessor(t, transport)

	_, err := proc.ProcessJob(context.Background(), &JobRequest{
		JobID:     "job-3",
		ImageName: "notes.txt",
		MimeType:  "text/plain",
		ImageData: []byte("not an image"),
	})
	if !apperrors.Is(err, apperrors.ErrorInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}
