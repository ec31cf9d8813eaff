/**
 * Custom error types for the homework correction worker
 *
 * Every surfaced failure carries a stable code so callers (queue handlers,
 * status observers, the UI layer) can distinguish user-actionable errors
 * ("retake the photo") from transient infrastructure ones.
 */

package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Input validation errors - rejected at the boundary, never retried
	ErrorInvalidInput ErrorCode = "INVALID_INPUT"
	ErrorFileTooLarge ErrorCode = "FILE_TOO_LARGE"

	// Extraction errors
	ErrorDecodeFailed       ErrorCode = "DECODE_FAILED"
	ErrorProviderFailed     ErrorCode = "PROVIDER_FAILED"
	ErrorAllProvidersFailed ErrorCode = "ALL_PROVIDERS_FAILED"
	ErrorEmptyExtraction    ErrorCode = "EMPTY_EXTRACTION"

	// Correction errors
	ErrorRequestTimeout     ErrorCode = "REQUEST_TIMEOUT"
	ErrorAllModelsExhausted ErrorCode = "ALL_MODELS_EXHAUSTED"

	// Storage errors
	ErrorStorageFailed ErrorCode = "STORAGE_FAILED"
)

// CorrectionError represents a structured pipeline error
type CorrectionError struct {
	Code      ErrorCode
	Message   string
	Stage     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *CorrectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CorrectionError) Unwrap() error {
	return e.Cause
}

// CodeOf returns the error code of err, or empty when err is not a CorrectionError.
func CodeOf(err error) ErrorCode {
	var ce *CorrectionError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		var ce *CorrectionError
		if errors.As(err, &ce) {
			if ce.Code == code {
				return true
			}
			err = ce.Cause
			continue
		}
		return false
	}
	return false
}

// Factory functions for common errors

func NewInvalidInputError(reason string) *CorrectionError {
	return &CorrectionError{
		Code:      ErrorInvalidInput,
		Message:   reason,
		Timestamp: time.Now(),
	}
}

func NewFileTooLargeError(size, limit int64) *CorrectionError {
	return &CorrectionError{
		Code:      ErrorFileTooLarge,
		Message:   fmt.Sprintf("image is %d bytes, limit is %d", size, limit),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"size_bytes":  size,
			"limit_bytes": limit,
		},
	}
}

func NewDecodeFailedError(mimeType string, cause error) *CorrectionError {
	return &CorrectionError{
		Code:      ErrorDecodeFailed,
		Message:   fmt.Sprintf("cannot decode image of type %s", mimeType),
		Stage:     "preprocess",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"mime_type": mimeType,
		},
		Cause: cause,
	}
}

func NewAllProvidersFailedError(attempted int, cause error) *CorrectionError {
	return &CorrectionError{
		Code:      ErrorAllProvidersFailed,
		Message:   fmt.Sprintf("all %d OCR providers failed or fell below the acceptance threshold", attempted),
		Stage:     "extract",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"providers_attempted": attempted,
		},
		Cause: cause,
	}
}

func NewEmptyExtractionError(provider string) *CorrectionError {
	return &CorrectionError{
		Code:      ErrorEmptyExtraction,
		Message:   "no readable text found in the image, retake the photo",
		Stage:     "extract",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

func NewRequestTimeoutError(model string, timeout time.Duration, cause error) *CorrectionError {
	return &CorrectionError{
		Code:      ErrorRequestTimeout,
		Message:   fmt.Sprintf("model %s did not respond within %v", model, timeout),
		Stage:     "correct",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"model":   model,
			"timeout": timeout.String(),
		},
		Cause: cause,
	}
}

func NewAllModelsExhaustedError(attempts int, cause error) *CorrectionError {
	return &CorrectionError{
		Code:      ErrorAllModelsExhausted,
		Message:   fmt.Sprintf("all %d correction models failed", attempts),
		Stage:     "correct",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"attempts": attempts,
		},
		Cause: cause,
	}
}

func NewStorageFailedError(jobID string, cause error) *CorrectionError {
	return &CorrectionError{
		Code:      ErrorStorageFailed,
		Message:   "failed to store correction results",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"job_id": jobID,
		},
		Cause: cause,
	}
}

// ToMap converts error to map for database storage
func (e *CorrectionError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}
	if e.Stage != "" {
		result["stage"] = e.Stage
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
