/**
 * Asynq queue consumer for correction jobs
 *
 * Consumes homework:correct tasks from a Redis-backed queue and hands them
 * to the job processor.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	apperrors "github.com/nathan927/full-ai-nathan/internal/errors"
	"github.com/nathan927/full-ai-nathan/internal/logging"
	"github.com/nathan927/full-ai-nathan/internal/processor"
)

// TaskTypeCorrect is the asynq task type for one correction job.
const TaskTypeCorrect = "homework:correct"

// JobData represents the structure of a correction job payload.
type JobData struct {
	JobID      string                 `json:"jobId"`
	UserID     string                 `json:"userId"`
	ImageName  string                 `json:"imageName"`
	MimeType   string                 `json:"mimeType,omitempty"`
	ImageSize  int64                  `json:"imageSize,omitempty"`
	ImageData  []byte                 `json:"imageData,omitempty"` // base64 in JSON
	Language   string                 `json:"language,omitempty"`
	Subject    string                 `json:"subject,omitempty"`
	GradeLevel string                 `json:"gradeLevel,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Consumer handles job consumption via asynq.
type Consumer struct {
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor processor.JobProcessorInterface
	config    *ConsumerConfig
	logger    *logging.Logger
}

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.JobProcessorInterface
	ProcessingTimeout time.Duration // per-job timeout; 5 minutes when zero
}

// NewConsumer creates a new queue consumer.
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger("QueueConsumer")

	client := asynq.NewClient(redisOpt)
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				// Exponential backoff: 5s, 10s, 20s, capped at 60s
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task processing error",
					"type", task.Type(),
					"error", err)
			}),
		},
	)

	mux := asynq.NewServeMux()
	consumer := &Consumer{
		client:    client,
		server:    server,
		mux:       mux,
		processor: cfg.Processor,
		config:    cfg,
		logger:    logger,
	}
	mux.HandleFunc(TaskTypeCorrect, consumer.handleCorrectJob)

	return consumer, nil
}

// Start starts the queue consumer.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting queue consumer",
		"concurrency", c.config.Concurrency,
		"queue", c.config.QueueName)

	go func() {
		if err := c.server.Run(c.mux); err != nil {
			c.logger.Error("Queue consumer error", "error", err)
		}
	}()

	return nil
}

// Stop stops the queue consumer gracefully.
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping queue consumer")
	c.server.Shutdown()
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}
	return nil
}

// handleCorrectJob processes one correction job.
func (c *Consumer) handleCorrectJob(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	var jobData JobData
	if err := json.Unmarshal(task.Payload(), &jobData); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %w", err)
	}

	c.logger.Info("Processing correction job",
		"jobID", jobData.JobID,
		"image", jobData.ImageName,
		"size", jobData.ImageSize,
		"user", jobData.UserID)

	if err := c.processor.UpdateJobStatus(ctx, jobData.JobID, "processing", 0, nil); err != nil {
		c.logger.Warn("Failed to update status to processing", "jobID", jobData.JobID, "error", err)
	}

	timeout := c.config.ProcessingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.processor.ProcessJob(processCtx, &processor.JobRequest{
		JobID:      jobData.JobID,
		UserID:     jobData.UserID,
		ImageName:  jobData.ImageName,
		MimeType:   jobData.MimeType,
		ImageSize:  jobData.ImageSize,
		ImageData:  jobData.ImageData,
		Language:   jobData.Language,
		Subject:    jobData.Subject,
		GradeLevel: jobData.GradeLevel,
		Metadata:   jobData.Metadata,
	})

	duration := time.Since(startTime)

	if err != nil {
		c.logger.Warn("Job failed", "jobID", jobData.JobID, "duration", duration, "error", err)

		errorMap := map[string]interface{}{
			"error":          err.Error(),
			"processingTime": duration.Milliseconds(),
		}
		if code := apperrors.CodeOf(err); code != "" {
			errorMap["error_code"] = string(code)
		}
		if updateErr := c.processor.UpdateJobStatus(ctx, jobData.JobID, "failed", 0, errorMap); updateErr != nil {
			c.logger.Warn("Failed to update status to failed", "jobID", jobData.JobID, "error", updateErr)
		}

		// User-actionable failures must not be retried by the queue.
		if isPermanentFailure(err) {
			return fmt.Errorf("correction job failed permanently (%v): %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("correction job failed: %w", err)
	}

	c.logger.Info("Job completed",
		"jobID", jobData.JobID,
		"duration", duration,
		"confidence", result.OCR.Confidence,
		"provider", result.OCR.Provider,
		"model", result.Correction.Model)

	if err := c.processor.UpdateJobStatus(ctx, jobData.JobID, "completed", 100, map[string]interface{}{
		"ocrConfidence":  result.OCR.Confidence,
		"ocrProvider":    result.OCR.Provider,
		"model":          result.Correction.Model,
		"processingTime": duration.Milliseconds(),
		"totalTokens":    result.Correction.Usage.TotalTokens,
	}); err != nil {
		c.logger.Warn("Failed to update status to completed", "jobID", jobData.JobID, "error", err)
	}

	return nil
}

// isPermanentFailure reports whether a retry could possibly change the
// outcome. Bad input and unreadable photos never benefit from one.
func isPermanentFailure(err error) bool {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrorInvalidInput,
		apperrors.ErrorFileTooLarge,
		apperrors.ErrorDecodeFailed,
		apperrors.ErrorEmptyExtraction,
		apperrors.ErrorAllProvidersFailed:
		return true
	}
	return false
}
