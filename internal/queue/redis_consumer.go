/**
 * Direct Redis list consumer for correction jobs
 *
 * Compatible with the Node.js frontend's queue writer: job IDs travel on a
 * Redis LIST, payloads in a companion HASH, lifecycle events on PUB/SUB.
 */

package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/nathan927/full-ai-nathan/internal/errors"
	"github.com/nathan927/full-ai-nathan/internal/logging"
	"github.com/nathan927/full-ai-nathan/internal/pipeline"
	"github.com/nathan927/full-ai-nathan/internal/processor"
)

// RedisJobData represents a job envelope from the Redis queue.
type RedisJobData struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Payload    JobPayload `json:"payload"`
	CreatedAt  time.Time  `json:"createdAt"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"maxRetries"`
}

// JobPayload contains the actual job data.
type JobPayload struct {
	JobID      string                 `json:"jobId"`
	UserID     string                 `json:"userId"`
	ImageName  string                 `json:"imageName"`
	MimeType   string                 `json:"mimeType,omitempty"`
	ImageSize  int64                  `json:"imageSize,omitempty"`
	ImageData  []byte                 // set by custom UnmarshalJSON
	Language   string                 `json:"language,omitempty"`
	Subject    string                 `json:"subject,omitempty"`
	GradeLevel string                 `json:"gradeLevel,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// UnmarshalJSON handles the image payload in both the base64-string format
// and the legacy Node.js Buffer object format.
func (p *JobPayload) UnmarshalJSON(data []byte) error {
	type Alias JobPayload
	aux := &struct {
		ImageData interface{} `json:"imageData,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal JobPayload: %w", err)
	}

	if aux.ImageData == nil {
		return nil
	}

	switch v := aux.ImageData.(type) {
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 imageData: %w", err)
		}
		p.ImageData = decoded

	case map[string]interface{}:
		bufferType, ok := v["type"].(string)
		if !ok || bufferType != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		p.ImageData = make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			p.ImageData[i] = byte(byteVal)
		}

	default:
		return fmt.Errorf("imageData must be either base64 string or Buffer object, got %T", v)
	}

	return nil
}

// RedisConsumer handles job consumption straight from Redis lists.
type RedisConsumer struct {
	client    *redis.Client
	processor processor.JobProcessorInterface
	config    *RedisConsumerConfig
	logger    *logging.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration.
type RedisConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.JobProcessorInterface
	ProcessingTimeout time.Duration // per-job timeout; 5 minutes when zero
}

// NewRedisConsumer creates a new Redis list consumer.
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "homework:jobs"
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	consumerCtx, cancel := context.WithCancel(context.Background())
	return &RedisConsumer{
		client:    client,
		processor: cfg.Processor,
		config:    cfg,
		logger:    logging.NewLogger("RedisConsumer"),
		ctx:       consumerCtx,
		cancel:    cancel,
	}, nil
}

// Start begins processing jobs from the queue.
func (c *RedisConsumer) Start() error {
	c.logger.Info("Starting Redis queue consumer",
		"concurrency", c.config.Concurrency,
		"queue", c.config.QueueName)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	c.wg.Add(1)
	go c.reportStats()
	return nil
}

// reportStats logs queue depth counters once a minute until shutdown.
func (c *RedisConsumer) reportStats() {
	defer c.wg.Done()

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			stats, err := c.GetStats(c.ctx)
			if err != nil {
				c.logger.Warn("Failed to read queue stats", "error", err)
				continue
			}
			c.logger.Info("Queue stats",
				"waiting", stats["waiting"],
				"processing", stats["processing"],
				"completed", stats["completed"],
				"failed", stats["failed"])
		}
	}
}

// Stop gracefully stops the consumer.
func (c *RedisConsumer) Stop() error {
	c.logger.Info("Stopping Redis queue consumer")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

var errNoJobs = fmt.Errorf("no jobs available")

const statsInterval = time.Minute

// worker is a goroutine that processes jobs until shutdown.
func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	c.logger.Debug("Worker started", "worker", id)

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Debug("Worker stopping", "worker", id)
			return
		default:
			if err := c.processNextJob(); err != nil {
				if err != errNoJobs {
					c.logger.Warn("Worker error", "worker", id, "error", err)
				}
				time.Sleep(1 * time.Second)
			}
		}
	}
}

// processNextJob fetches and processes the next job from the queue.
func (c *RedisConsumer) processNextJob() error {
	result, err := c.client.BRPop(c.ctx, 5*time.Second, c.config.QueueName).Result()
	if err != nil {
		if err == redis.Nil {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}
	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}
	queueJobID := result[1]

	jobData, err := c.client.HGet(c.ctx, fmt.Sprintf("%s:data", c.config.QueueName), queueJobID).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data: %w", err)
	}

	var job RedisJobData
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		return fmt.Errorf("failed to unmarshal job: %w", err)
	}

	c.markStatus(job.Payload.JobID, "processing", nil)
	c.logger.Info("Processing job", "jobID", job.Payload.JobID, "image", job.Payload.ImageName)

	processResult, err := c.processJob(&job)
	if err != nil {
		c.logger.Warn("Job failed", "jobID", job.Payload.JobID, "error", err)

		job.Attempts++
		if job.Attempts < job.MaxRetries && !isPermanentFailure(err) {
			updatedData, _ := json.Marshal(job)
			c.client.HSet(c.ctx, fmt.Sprintf("%s:data", c.config.QueueName), job.ID, updatedData)
			c.client.LPush(c.ctx, c.config.QueueName, job.ID)
			c.logger.Info("Job re-queued for retry",
				"jobID", job.Payload.JobID,
				"attempt", job.Attempts,
				"maxRetries", job.MaxRetries)
		} else {
			errorMap := map[string]interface{}{
				"error":    err.Error(),
				"attempts": job.Attempts,
			}
			if code := apperrors.CodeOf(err); code != "" {
				errorMap["error_code"] = string(code)
			}
			c.markStatus(job.Payload.JobID, "failed", errorMap)
		}
		return nil
	}

	c.markStatus(job.Payload.JobID, "completed", processResult)
	c.logger.Info("Job completed", "jobID", job.Payload.JobID)
	return nil
}

// processJob runs one job against the processor with a timeout.
func (c *RedisConsumer) processJob(job *RedisJobData) (*pipeline.Result, error) {
	timeout := c.config.ProcessingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return c.processor.ProcessJob(ctx, &processor.JobRequest{
		JobID:      job.Payload.JobID,
		UserID:     job.Payload.UserID,
		ImageName:  job.Payload.ImageName,
		MimeType:   job.Payload.MimeType,
		ImageSize:  job.Payload.ImageSize,
		ImageData:  job.Payload.ImageData,
		Language:   job.Payload.Language,
		Subject:    job.Payload.Subject,
		GradeLevel: job.Payload.GradeLevel,
		Metadata:   job.Payload.Metadata,
	})
}

// markStatus updates job state in Redis sets, mirrors it to the store, and
// publishes a lifecycle event for WebSocket streaming.
func (c *RedisConsumer) markStatus(jobID string, status string, result interface{}) {
	switch status {
	case "processing":
		c.client.SAdd(c.ctx, fmt.Sprintf("%s:processing", c.config.QueueName), jobID)
		if err := c.processor.UpdateJobStatus(c.ctx, jobID, status, 0, nil); err != nil {
			c.logger.Warn("Failed to update job status", "jobID", jobID, "status", status, "error", err)
		}

	case "completed":
		c.client.SRem(c.ctx, fmt.Sprintf("%s:processing", c.config.QueueName), jobID)
		c.client.SAdd(c.ctx, fmt.Sprintf("%s:completed", c.config.QueueName), jobID)

		metadata := map[string]interface{}{}
		if pr, ok := result.(*pipeline.Result); ok && pr != nil {
			resultData, _ := json.Marshal(pr)
			c.client.HSet(c.ctx, fmt.Sprintf("%s:results", c.config.QueueName), jobID, resultData)
			metadata["ocrConfidence"] = pr.OCR.Confidence
			metadata["ocrProvider"] = pr.OCR.Provider
			metadata["model"] = pr.Correction.Model
			metadata["processingTime"] = pr.ProcessingTime.Milliseconds()
		}
		if err := c.processor.UpdateJobStatus(c.ctx, jobID, status, 100, metadata); err != nil {
			c.logger.Warn("Failed to update job status", "jobID", jobID, "status", status, "error", err)
		}

	case "failed":
		c.client.SRem(c.ctx, fmt.Sprintf("%s:processing", c.config.QueueName), jobID)
		c.client.SAdd(c.ctx, fmt.Sprintf("%s:failed", c.config.QueueName), jobID)

		errorMap, _ := result.(map[string]interface{})
		if errorMap != nil {
			errorData, _ := json.Marshal(errorMap)
			c.client.HSet(c.ctx, fmt.Sprintf("%s:errors", c.config.QueueName), jobID, errorData)
		}
		if err := c.processor.UpdateJobStatus(c.ctx, jobID, status, 0, errorMap); err != nil {
			c.logger.Warn("Failed to update job status", "jobID", jobID, "status", status, "error", err)
		}
	}

	event := map[string]interface{}{
		"event":     fmt.Sprintf("job:%s", status),
		"jobId":     jobID,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	eventData, _ := json.Marshal(event)
	c.client.Publish(c.ctx, fmt.Sprintf("%s:events", c.config.QueueName), eventData)
}

// GetStats returns queue statistics.
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]int64, error) {
	waiting, err := c.client.LLen(ctx, c.config.QueueName).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue length: %w", err)
	}
	processing, err := c.client.SCard(ctx, fmt.Sprintf("%s:processing", c.config.QueueName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read processing set: %w", err)
	}
	completed, err := c.client.SCard(ctx, fmt.Sprintf("%s:completed", c.config.QueueName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read completed set: %w", err)
	}
	failed, err := c.client.SCard(ctx, fmt.Sprintf("%s:failed", c.config.QueueName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read failed set: %w", err)
	}

	return map[string]int64{
		"waiting":    waiting,
		"processing": processing,
		"completed":  completed,
		"failed":     failed,
	}, nil
}
