package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/nathan927/full-ai-nathan/internal/ai"
	apperrors "github.com/nathan927/full-ai-nathan/internal/errors"
	"github.com/nathan927/full-ai-nathan/internal/imaging"
	"github.com/nathan927/full-ai-nathan/internal/ocr"
)

type stubProvider struct {
	name       string
	text       string
	confidence float64 // percent
	err        error
	calls      int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Recognize(ctx context.Context, img *imaging.Processed, languageCode string, opts ocr.RecognizeOptions) (*ocr.ProviderResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &ocr.ProviderResult{Text: s.text, ConfidencePercent: s.confidence}, nil
}

type stubTransport struct {
	content string
	err     error
	calls   int
}

func (s *stubTransport) Send(ctx context.Context, req *ai.Request, progress func(percent int)) (*ai.CorrectionResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if progress != nil {
		progress(0)
		progress(50)
		progress(100)
	}
	return &ai.CorrectionResult{
		Content: s.content,
		Usage:   ai.Usage{InputTokens: 10, OutputTokens: 15, TotalTokens: 25},
		Model:   req.Model,
	}, nil
}

func homeworkPhoto(t *testing.T) *imaging.Asset {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 200, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return &imaging.Asset{Data: buf.Bytes(), MimeType: "image/png", Name: "homework.png"}
}

func buildOrchestrator(t *testing.T, providers []ocr.Provider, transport ai.Transport) *Orchestrator {
	t.Helper()
	engine, err := ocr.NewEngine(ocr.EngineConfig{Providers: providers})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	client, err := ai.NewClient(transport, []string{"model-a"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return New(imaging.NewPreprocessor(1920, 1080), engine, client)
}

func corrContext() *ai.CorrectionContext {
	return &ai.CorrectionContext{Subject: "數學", GradeLevel: "小學", TargetLanguage: "zh-TW"}
}

func collectStatuses() (*[]Status, StatusObserver) {
	statuses := &[]Status{}
	return statuses, StatusObserverFunc(func(s Status) {
		*statuses = append(*statuses, s)
	})
}

func TestRunHappyPath(t *testing.T) {
	provider := &stubProvider{name: "tesseract", text: "3 + 4 = 8", confidence: 82}
	transport := &stubTransport{content: "3 + 4 = 7, not 8. Check your addition."}
	o := buildOrchestrator(t, []ocr.Provider{provider}, transport)

	statuses, observer := collectStatuses()
	result, err := o.Run(context.Background(), homeworkPhoto(t), "chi_tra+eng", corrContext(), observer)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.OCR.Text != "3 + 4 = 8" {
		t.Errorf("unexpected OCR text %q", result.OCR.Text)
	}
	if result.OCR.Confidence != 0.82 {
		t.Errorf("unexpected OCR confidence %v", result.OCR.Confidence)
	}
	if result.Correction.Content != transport.content {
		t.Errorf("unexpected correction %q", result.Correction.Content)
	}
	if result.ProcessingTime <= 0 {
		t.Error("expected a positive processing time")
	}

	// Stage order with the fixed boundary weights.
	wantStages := []struct {
		stage    Stage
		progress int
	}{
		{StageIdle, 0},
		{StagePreprocessing, 0},
		{StageExtracting, 25},
		{StageCorrecting, 75},
	}
	if len(*statuses) < len(wantStages) {
		t.Fatalf("too few status snapshots: %v", *statuses)
	}
	for i, want := range wantStages {
		got := (*statuses)[i]
		if got.Stage != want.stage || got.Progress != want.progress {
			t.Errorf("status[%d] = {%s %d}, want {%s %d}",
				i, got.Stage, got.Progress, want.stage, want.progress)
		}
	}

	final := (*statuses)[len(*statuses)-1]
	if final.Stage != StageCompleted || final.Progress != 100 {
		t.Errorf("final status = {%s %d}, want {completed 100}", final.Stage, final.Progress)
	}
	if final.Err != nil {
		t.Errorf("final status should carry no error, got %v", final.Err)
	}
}

func TestRunProgressIsMonotonic(t *testing.T) {
	provider := &stubProvider{name: "tesseract", text: "x = 2", confidence: 95}
	transport := &stubTransport{content: "correct"}
	o := buildOrchestrator(t, []ocr.Provider{provider}, transport)

	statuses, observer := collectStatuses()
	if _, err := o.Run(context.Background(), homeworkPhoto(t), "eng", corrContext(), observer); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	last := -1
	for i, s := range *statuses {
		if s.Progress < last {
			t.Errorf("progress regressed at snapshot %d: %d -> %d", i, last, s.Progress)
		}
		last = s.Progress
	}
}

func TestRunCorrectionProgressInterpolated(t *testing.T) {
	provider := &stubProvider{name: "tesseract", text: "x = 2", confidence: 95}
	transport := &stubTransport{content: "correct"}
	o := buildOrchestrator(t, []ocr.Provider{provider}, transport)

	statuses, observer := collectStatuses()
	if _, err := o.Run(context.Background(), homeworkPhoto(t), "eng", corrContext(), observer); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// The attempt's 50% phase lands mid-band between 75 and 100.
	saw87 := false
	for _, s := range *statuses {
		if s.Stage == StageCorrecting && s.Progress == 87 {
			saw87 = true
		}
	}
	if !saw87 {
		t.Errorf("expected a correcting snapshot at 87%%, got %v", *statuses)
	}
}

func TestRunAllProvidersBelowThreshold(t *testing.T) {
	first := &stubProvider{name: "tesseract", text: "noise", confidence: 40}
	second := &stubProvider{name: "vision", text: "noise", confidence: 58}
	transport := &stubTransport{content: "should never be produced"}
	o := buildOrchestrator(t, []ocr.Provider{first, second}, transport)

	statuses, observer := collectStatuses()
	_, err := o.Run(context.Background(), homeworkPhoto(t), "eng", corrContext(), observer)
	if !apperrors.Is(err, apperrors.ErrorAllProvidersFailed) {
		t.Fatalf("expected ALL_PROVIDERS_FAILED, got %v", err)
	}
	if transport.calls != 0 {
		t.Errorf("no inference traffic expected when extraction fails, got %d calls", transport.calls)
	}

	final := (*statuses)[len(*statuses)-1]
	if final.Stage != StageFailed {
		t.Errorf("final stage = %s, want failed", final.Stage)
	}
	if final.Progress != 0 {
		t.Errorf("failure must reset progress to 0, got %d", final.Progress)
	}
	if final.Err == nil {
		t.Error("final status must carry the error")
	}
	if final.FailedStage != StageExtracting {
		t.Errorf("failure must record the stage in flight, got %q", final.FailedStage)
	}
}

func TestRunFailedStageObservableAcrossStages(t *testing.T) {
	// Correction failure: extraction succeeds, every model errors out.
	provider := &stubProvider{name: "tesseract", text: "7 - 3 = 5", confidence: 90}
	transport := &stubTransport{err: fmt.Errorf("model overloaded")}
	o := buildOrchestrator(t, []ocr.Provider{provider}, transport)

	statuses, observer := collectStatuses()
	_, err := o.Run(context.Background(), homeworkPhoto(t), "eng", corrContext(), observer)
	if !apperrors.Is(err, apperrors.ErrorAllModelsExhausted) {
		t.Fatalf("expected ALL_MODELS_EXHAUSTED, got %v", err)
	}

	final := (*statuses)[len(*statuses)-1]
	if final.FailedStage != StageCorrecting {
		t.Errorf("correction failure must record correcting, got %q", final.FailedStage)
	}
	for _, s := range (*statuses)[:len(*statuses)-1] {
		if s.FailedStage != "" {
			t.Errorf("FailedStage must stay empty before the terminal snapshot, got %q at stage %s", s.FailedStage, s.Stage)
		}
	}
}

func TestRunEmptyExtractionStopsBeforeCorrection(t *testing.T) {
	// Confident read of a blank page: whitespace only.
	provider := &stubProvider{name: "tesseract", text: " \n\t ", confidence: 90}
	transport := &stubTransport{content: "should never be produced"}
	o := buildOrchestrator(t, []ocr.Provider{provider}, transport)

	_, err := o.Run(context.Background(), homeworkPhoto(t), "eng", corrContext(), nil)
	if !apperrors.Is(err, apperrors.ErrorEmptyExtraction) {
		t.Fatalf("expected EMPTY_EXTRACTION, got %v", err)
	}
	if transport.calls != 0 {
		t.Errorf("no inference traffic expected for empty extraction, got %d calls", transport.calls)
	}
}

func TestRunRejectsOversizedAsset(t *testing.T) {
	provider := &stubProvider{name: "tesseract", text: "x", confidence: 90}
	transport := &stubTransport{content: "unused"}
	o := buildOrchestrator(t, []ocr.Provider{provider}, transport)

	asset := homeworkPhoto(t)
	asset.Size = imaging.MaxAssetSize + 1

	_, err := o.Run(context.Background(), asset, "eng", corrContext(), nil)
	if !apperrors.Is(err, apperrors.ErrorFileTooLarge) {
		t.Fatalf("expected FILE_TOO_LARGE, got %v", err)
	}
	if provider.calls != 0 {
		t.Errorf("oversized assets must be rejected before OCR, got %d calls", provider.calls)
	}
}

func TestRunIsRepeatable(t *testing.T) {
	provider := &stubProvider{name: "tesseract", text: "9 x 9 = 80", confidence: 88}
	transport := &stubTransport{content: "9 x 9 = 81."}
	o := buildOrchestrator(t, []ocr.Provider{provider}, transport)

	asset := homeworkPhoto(t)
	first, err := o.Run(context.Background(), asset, "eng", corrContext(), nil)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	second, err := o.Run(context.Background(), asset, "eng", corrContext(), nil)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if first.OCR.Text != second.OCR.Text || first.OCR.Confidence != second.OCR.Confidence {
		t.Error("identical input must extract identically")
	}
	if first.Correction.Content != second.Correction.Content {
		t.Error("identical input must correct identically")
	}
}

func TestRunStatusIsFreshPerInvocation(t *testing.T) {
	provider := &stubProvider{name: "tesseract", text: "x", confidence: 90}
	transport := &stubTransport{content: "ok"}
	o := buildOrchestrator(t, []ocr.Provider{provider}, transport)

	asset := homeworkPhoto(t)
	if _, err := o.Run(context.Background(), asset, "eng", corrContext(), nil); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// A second run must start over from idle, not from the previous 100%.
	statuses, observer := collectStatuses()
	if _, err := o.Run(context.Background(), asset, "eng", corrContext(), observer); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	initial := (*statuses)[0]
	if initial.Stage != StageIdle || initial.Progress != 0 {
		t.Errorf("second run started at {%s %d}, want {idle 0}", initial.Stage, initial.Progress)
	}
}

func TestRunPublishesModelAttempts(t *testing.T) {
	provider := &stubProvider{name: "tesseract", text: "x + 1 = 3", confidence: 85}
	transport := &stubTransport{content: "x = 2"}
	o := buildOrchestrator(t, []ocr.Provider{provider}, transport)

	statuses, observer := collectStatuses()
	if _, err := o.Run(context.Background(), homeworkPhoto(t), "eng", corrContext(), observer); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	sawAttempt := false
	for _, s := range *statuses {
		if s.Stage == StageCorrecting && s.Provider == "model-a" && s.Attempt == 1 {
			sawAttempt = true
		}
	}
	if !sawAttempt {
		t.Errorf("expected a correcting snapshot naming model-a attempt 1, got %v", *statuses)
	}
}
