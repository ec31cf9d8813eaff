/**
 * Correction job processor
 *
 * Glue between the queue consumers and the pipeline: builds the image asset
 * and grading context from the job payload, runs the pipeline, mirrors stage
 * transitions into the job store, and persists the final correction.
 */

package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nathan927/full-ai-nathan/internal/ai"
	apperrors "github.com/nathan927/full-ai-nathan/internal/errors"
	"github.com/nathan927/full-ai-nathan/internal/imaging"
	"github.com/nathan927/full-ai-nathan/internal/logging"
	"github.com/nathan927/full-ai-nathan/internal/pipeline"
	"github.com/nathan927/full-ai-nathan/internal/storage"
)

// Default grading context applied when the enqueuing frontend sends none.
const (
	DefaultSubject    = "數學"
	DefaultGradeLevel = "小學"
)

// JobRequest represents one correction job from the queue.
type JobRequest struct {
	JobID      string
	UserID     string
	ImageName  string
	MimeType   string
	ImageSize  int64
	ImageData  []byte
	Language   string
	Subject    string
	GradeLevel string
	Metadata   map[string]interface{}
}

// JobProcessorInterface defines the contract the queue consumers depend on.
type JobProcessorInterface interface {
	ProcessJob(ctx context.Context, req *JobRequest) (*pipeline.Result, error)
	UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error
}

// JobProcessor runs correction jobs against the pipeline and records their
// lifecycle in the store.
type JobProcessor struct {
	orchestrator    *pipeline.Orchestrator
	store           *storage.Store
	defaultLanguage string
	requestTimeout  time.Duration
	logger          *logging.Logger
}

// ProcessorConfig holds job processor configuration.
type ProcessorConfig struct {
	Orchestrator *pipeline.Orchestrator
	// Store may be nil for store-less deployments; lifecycle updates are
	// then skipped.
	Store *storage.Store
	// DefaultLanguage is used when a job does not name one.
	DefaultLanguage string
	// RequestTimeout bounds each individual inference attempt; zero
	// disables the per-attempt bound.
	RequestTimeout time.Duration
}

// NewJobProcessor creates a job processor.
func NewJobProcessor(cfg *ProcessorConfig) (*JobProcessor, error) {
	if cfg == nil || cfg.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	return &JobProcessor{
		orchestrator:    cfg.Orchestrator,
		store:           cfg.Store,
		defaultLanguage: cfg.DefaultLanguage,
		requestTimeout:  cfg.RequestTimeout,
		logger:          logging.NewLogger("JobProcessor"),
	}, nil
}

// ProcessJob runs one correction job end to end.
func (p *JobProcessor) ProcessJob(ctx context.Context, req *JobRequest) (*pipeline.Result, error) {
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}

	mimeType := req.MimeType
	if mimeType == "" || mimeType == "application/octet-stream" {
		if sniffed := imaging.SniffMimeType(req.ImageData); sniffed != "" {
			p.logger.Info("Corrected MIME type from magic bytes",
				"jobID", req.JobID, "reported", req.MimeType, "detected", sniffed)
			mimeType = sniffed
		}
	}

	asset := &imaging.Asset{
		Data:     req.ImageData,
		MimeType: mimeType,
		Size:     req.ImageSize,
		Name:     req.ImageName,
	}

	subject := req.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	gradeLevel := req.GradeLevel
	if gradeLevel == "" {
		gradeLevel = DefaultGradeLevel
	}
	language := req.Language
	if language == "" {
		language = p.defaultLanguage
	}
	corrCtx := &ai.CorrectionContext{
		Subject:        subject,
		GradeLevel:     gradeLevel,
		TargetLanguage: language,
		Timeout:        p.requestTimeout,
	}

	result, err := p.orchestrator.Run(ctx, asset, language, corrCtx, p.statusObserver(req.JobID))
	if err != nil {
		return nil, err
	}

	if p.store != nil {
		record := &storage.CorrectionRecord{
			JobID:          req.JobID,
			ExtractedText:  result.OCR.Text,
			Correction:     result.Correction.Content,
			OCRConfidence:  result.OCR.Confidence,
			OCRProvider:    result.OCR.Provider,
			Model:          result.Correction.Model,
			InputTokens:    result.Correction.Usage.InputTokens,
			OutputTokens:   result.Correction.Usage.OutputTokens,
			TotalTokens:    result.Correction.Usage.TotalTokens,
			ProcessingTime: result.ProcessingTime,
		}
		if err := p.store.StoreCorrection(ctx, record); err != nil {
			return nil, apperrors.NewStorageFailedError(req.JobID, err)
		}
	}

	return result, nil
}

// UpdateJobStatus updates job status in the database.
func (p *JobProcessor) UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error {
	if p.store == nil {
		return nil
	}
	return p.store.UpdateJobStatus(ctx, buildJobUpdate(jobID, status, progress, metadata))
}

// buildJobUpdate maps queue-level metadata onto the store's column set.
// Errors without a structured code stay uncoded; the code column is for
// classified failures only.
func buildJobUpdate(jobID string, status string, progress int, metadata map[string]interface{}) *storage.JobUpdate {
	update := &storage.JobUpdate{
		JobID:    jobID,
		Status:   status,
		Progress: progress,
		Metadata: metadata,
	}

	if metadata != nil {
		if confidence, ok := metadata["ocrConfidence"].(float64); ok {
			update.OCRConfidence = confidence
		}
		if provider, ok := metadata["ocrProvider"].(string); ok {
			update.OCRProvider = provider
		}
		if model, ok := metadata["model"].(string); ok {
			update.Model = model
		}
		if processingTime, ok := metadata["processingTime"].(int64); ok {
			update.ProcessingTimeMs = processingTime
		}
		if errorMsg, ok := metadata["error"].(string); ok {
			update.ErrorMessage = errorMsg
			if code, ok := metadata["error_code"].(string); ok {
				update.ErrorCode = code
			}
		}
	}

	return update
}

// statusObserver mirrors stage transitions into the job store. Stale-row
// write failures never fail the job itself.
func (p *JobProcessor) statusObserver(jobID string) pipeline.StatusObserver {
	if p.store == nil {
		return nil
	}
	var lastProgress = -1
	return pipeline.StatusObserverFunc(func(status pipeline.Status) {
		if status.Stage == pipeline.StageIdle || status.Stage == pipeline.StageFailed {
			return // terminal failure rows are written by the consumer with full error context
		}
		if status.Progress == lastProgress && status.Stage != pipeline.StageCompleted {
			return
		}
		lastProgress = status.Progress

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		update := &storage.JobUpdate{
			JobID:    jobID,
			Status:   "processing",
			Progress: status.Progress,
			Model:    status.Provider,
		}
		if status.Stage == pipeline.StageCompleted {
			update.Status = "completed"
		}
		if err := p.store.UpdateJobStatus(ctx, update); err != nil {
			p.logger.Warn("Failed to mirror pipeline status", "jobID", jobID, "error", err)
		}
	})
}
