/**
 * PostgreSQL store for correction jobs
 *
 * Persists job lifecycle and the final correction output. The pipeline core
 * is persistence-free; only the queue handlers touch this store.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Store handles database operations for correction jobs.
type Store struct {
	db *sql.DB
}

// JobUpdate represents a job status update.
type JobUpdate struct {
	JobID            string
	Status           string // "queued", "processing", "completed", "failed"
	Progress         int
	OCRProvider      string
	OCRConfidence    float64
	Model            string
	ProcessingTimeMs int64
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
}

// CorrectionRecord is the persisted output of a completed job.
type CorrectionRecord struct {
	JobID          string
	ExtractedText  string
	Correction     string
	OCRConfidence  float64
	OCRProvider    string
	Model          string
	InputTokens    int
	OutputTokens   int
	TotalTokens    int
	ProcessingTime time.Duration
}

// sanitizeConfidence bounds confidence to [0,1] and 4 decimal places so the
// NUMERIC(5,4) column never sees excess float precision.
func sanitizeConfidence(confidence float64) float64 {
	if confidence < 0.0 {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

// NewStore creates a PostgreSQL-backed job store.
func NewStore(databaseURL string) (*Store, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// UpdateJobStatus upserts the job row so the worker can create the record
// even when the enqueuing frontend did not.
func (s *Store) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	metadataJSON, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO homework.correction_jobs (
			id, status, progress, ocr_provider, ocr_confidence, model,
			processing_time_ms, error_code, error_message, metadata,
			created_at, updated_at
		) VALUES (
			$1::uuid, $2, $3, NULLIF($4, ''), NULLIF($5::NUMERIC(5,4), 0), NULLIF($6, ''),
			NULLIF($7, 0), NULLIF($8, ''), NULLIF($9, ''),
			COALESCE($10::jsonb, '{}'::jsonb),
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			ocr_provider = COALESCE(EXCLUDED.ocr_provider, homework.correction_jobs.ocr_provider),
			ocr_confidence = COALESCE(EXCLUDED.ocr_confidence, homework.correction_jobs.ocr_confidence),
			model = COALESCE(EXCLUDED.model, homework.correction_jobs.model),
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, homework.correction_jobs.processing_time_ms),
			error_code = NULLIF(EXCLUDED.error_code, ''),
			error_message = NULLIF(EXCLUDED.error_message, ''),
			metadata = COALESCE(EXCLUDED.metadata, homework.correction_jobs.metadata),
			updated_at = NOW()
		RETURNING id
	`

	var returnedID string
	err = s.db.QueryRowContext(
		ctx,
		query,
		update.JobID,
		update.Status,
		update.Progress,
		update.OCRProvider,
		sanitizeConfidence(update.OCRConfidence),
		update.Model,
		update.ProcessingTimeMs,
		update.ErrorCode,
		update.ErrorMessage,
		metadataJSON,
	).Scan(&returnedID)

	if err == sql.ErrNoRows {
		return fmt.Errorf("job not found: %s", update.JobID)
	}
	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s): %w",
			update.JobID, update.Status, err)
	}

	return nil
}

// StoreCorrection persists the final output of a completed job.
func (s *Store) StoreCorrection(ctx context.Context, record *CorrectionRecord) error {
	if record.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	query := `
		INSERT INTO homework.corrections (
			job_id, extracted_text, correction, ocr_confidence, ocr_provider,
			model, input_tokens, output_tokens, total_tokens, processing_time_ms,
			created_at
		) VALUES ($1::uuid, $2, $3, $4::NUMERIC(5,4), $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (job_id) DO UPDATE SET
			extracted_text = EXCLUDED.extracted_text,
			correction = EXCLUDED.correction,
			ocr_confidence = EXCLUDED.ocr_confidence,
			ocr_provider = EXCLUDED.ocr_provider,
			model = EXCLUDED.model,
			input_tokens = EXCLUDED.input_tokens,
			output_tokens = EXCLUDED.output_tokens,
			total_tokens = EXCLUDED.total_tokens,
			processing_time_ms = EXCLUDED.processing_time_ms
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		record.JobID,
		record.ExtractedText,
		record.Correction,
		sanitizeConfidence(record.OCRConfidence),
		record.OCRProvider,
		record.Model,
		record.InputTokens,
		record.OutputTokens,
		record.TotalTokens,
		record.ProcessingTime.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to store correction (job=%s): %w", record.JobID, err)
	}

	return nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
