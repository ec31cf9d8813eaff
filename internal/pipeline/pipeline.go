/**
 * Pipeline orchestrator: Preprocess -> Extract -> Correct
 *
 * Stages run strictly in sequence with fixed progress weights at the stage
 * boundaries (0/25/75/100). Correction-attempt progress is interpolated
 * inside the 75-100 band. Every Run builds a fresh status value, so
 * concurrent or repeated invocations cannot share stale state.
 */

package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/nathan927/full-ai-nathan/internal/ai"
	apperrors "github.com/nathan927/full-ai-nathan/internal/errors"
	"github.com/nathan927/full-ai-nathan/internal/imaging"
	"github.com/nathan927/full-ai-nathan/internal/logging"
	"github.com/nathan927/full-ai-nathan/internal/ocr"
)

// Stage identifies one sequential phase of a pipeline invocation.
type Stage string

const (
	StageIdle          Stage = "idle"
	StagePreprocessing Stage = "preprocessing"
	StageExtracting    Stage = "extracting"
	StageCorrecting    Stage = "correcting"
	StageCompleted     Stage = "completed"
	StageFailed        Stage = "failed"
)

// Fixed progress weights at stage boundaries.
const (
	progressPreprocessing = 0
	progressExtracting    = 25
	progressCorrecting    = 75
	progressCompleted     = 100
)

// Status is a transient snapshot of pipeline progress. It lives only for the
// duration of one Run and owns no domain data.
type Status struct {
	Stage       Stage
	FailedStage Stage  // stage that was in flight when Stage became failed, empty otherwise
	Provider    string // current OCR provider or correction model, empty between attempts
	Attempt     int
	Progress    int    // 0-100, non-decreasing until completion or failure
	Err         error  // nil means no error has occurred
}

// StatusObserver receives status snapshots in the exact order the underlying
// operations occur.
type StatusObserver interface {
	OnStatus(status Status)
}

// StatusObserverFunc adapts a function to the StatusObserver interface.
type StatusObserverFunc func(status Status)

func (f StatusObserverFunc) OnStatus(status Status) { f(status) }

// Result is the assembled output of one complete pipeline invocation.
type Result struct {
	Correction     *ai.CorrectionResult `json:"correction"`
	OCR            *ocr.Result          `json:"ocrResult"`
	ProcessingTime time.Duration        `json:"processingTime"`
}

// Orchestrator sequences the correction pipeline. It is stateless per call;
// one instance can serve successive runs.
type Orchestrator struct {
	preprocessor *imaging.Preprocessor
	engine       *ocr.Engine
	client       *ai.Client
	logger       *logging.Logger
}

// New creates a pipeline orchestrator from its three stage components.
func New(preprocessor *imaging.Preprocessor, engine *ocr.Engine, client *ai.Client) *Orchestrator {
	return &Orchestrator{
		preprocessor: preprocessor,
		engine:       engine,
		client:       client,
		logger:       logging.NewLogger("Pipeline"),
	}
}

// Run executes Preprocess -> Extract -> Correct for one image. The observer
// may be nil. On failure the final snapshot has progress 0, no in-flight
// stage, and a non-nil error.
func (o *Orchestrator) Run(ctx context.Context, asset *imaging.Asset, language string, corrCtx *ai.CorrectionContext, observer StatusObserver) (*Result, error) {
	start := time.Now()
	tracker := newStatusTracker(observer)

	if err := imaging.ValidateAsset(asset); err != nil {
		return nil, tracker.fail(err)
	}

	// Stage 1: preprocess
	tracker.stage(StagePreprocessing, progressPreprocessing)
	processed, err := o.preprocessor.Preprocess(asset)
	if err != nil {
		return nil, tracker.fail(err)
	}
	o.logger.Debug("Image preprocessed",
		"name", asset.Name,
		"width", processed.Width,
		"height", processed.Height)

	// Stage 2: extract
	tracker.stage(StageExtracting, progressExtracting)
	ocrResult, err := o.engine.Extract(ctx, processed, language)
	if err != nil {
		return nil, tracker.fail(err)
	}

	// Extraction success and "text worth correcting" are different
	// conditions: a confident read of a blank page still fails here, before
	// any inference traffic.
	if strings.TrimSpace(ocrResult.Text) == "" {
		return nil, tracker.fail(apperrors.NewEmptyExtractionError(ocrResult.Provider))
	}

	// Stage 3: correct
	tracker.stage(StageCorrecting, progressCorrecting)
	correction, err := o.client.Correct(ctx, ocrResult.Text, corrCtx, tracker.correctionObserver())
	if err != nil {
		return nil, tracker.fail(err)
	}

	tracker.complete()

	result := &Result{
		Correction:     correction,
		OCR:            ocrResult,
		ProcessingTime: time.Since(start),
	}
	o.logger.Info("Pipeline complete",
		"provider", ocrResult.Provider,
		"confidence", ocrResult.Confidence,
		"model", correction.Model,
		"processingTime", result.ProcessingTime)
	return result, nil
}

// statusTracker owns the status value for one Run. Progress is clamped to be
// non-decreasing; only the terminal failure snapshot resets it to zero.
type statusTracker struct {
	observer StatusObserver
	current  Status
}

func newStatusTracker(observer StatusObserver) *statusTracker {
	t := &statusTracker{
		observer: observer,
		current:  Status{Stage: StageIdle},
	}
	t.publish()
	return t
}

func (t *statusTracker) stage(stage Stage, progress int) {
	t.current.Stage = stage
	t.current.Provider = ""
	t.current.Attempt = 0
	t.advance(progress)
}

func (t *statusTracker) advance(progress int) {
	if progress > t.current.Progress {
		t.current.Progress = progress
	}
	t.publish()
}

func (t *statusTracker) complete() {
	t.current.Stage = StageCompleted
	t.current.Provider = ""
	t.current.Progress = progressCompleted
	t.publish()
}

func (t *statusTracker) fail(err error) error {
	t.current.FailedStage = t.current.Stage
	t.current.Stage = StageFailed
	t.current.Provider = ""
	t.current.Progress = 0
	t.current.Err = err
	t.publish()
	return err
}

// correctionObserver maps the AI client's per-attempt progress into the
// correcting stage's 75-100 band.
func (t *statusTracker) correctionObserver() ai.Observer {
	return ai.ObserverFuncs{
		Attempt: func(modelName string, attempt int) {
			t.current.Provider = modelName
			t.current.Attempt = attempt
			t.publish()
		},
		Progress: func(percent int) {
			if percent < 0 {
				percent = 0
			}
			if percent > 100 {
				percent = 100
			}
			span := progressCompleted - progressCorrecting
			t.advance(progressCorrecting + percent*span/100)
		},
	}
}

func (t *statusTracker) publish() {
	if t.observer != nil {
		t.observer.OnStatus(t.current)
	}
}
