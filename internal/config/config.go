/**
 * Configuration for the homework correction worker
 *
 * Loads configuration from environment variables matching .env
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration
	RedisURL    string
	QueueName   string
	QueueDriver string // "asynq" or "list"

	// PostgreSQL configuration
	DatabaseURL string

	// Inference service configuration
	InferenceURL    string
	InferenceAPIKey string
	ModelFallback   []string

	// Remote vision OCR provider (optional second provider)
	VisionOCRURL string

	// OCR configuration
	TessdataPrefix      string
	ConfidenceThreshold float64
	DefaultLanguage     string

	// Image limits
	MaxWidth  int
	MaxHeight int

	// Worker configuration
	WorkerConcurrency int
	RequestTimeout    time.Duration
	ProcessingTimeout time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:            getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		QueueName:           getEnvOrDefault("QUEUE_NAME", "homework:jobs"),
		QueueDriver:         getEnvOrDefault("QUEUE_DRIVER", "asynq"),
		DatabaseURL:         getEnvOrThrow("DATABASE_URL"),
		InferenceURL:        getEnvOrThrow("INFERENCE_URL"),
		InferenceAPIKey:     getEnvOrDefault("INFERENCE_API_KEY", ""),
		ModelFallback:       splitList(getEnvOrDefault("MODEL_FALLBACK", "qwen/qwen-2.5-72b-instruct,deepseek/deepseek-chat,meta-llama/llama-3.1-70b-instruct")),
		VisionOCRURL:        getEnvOrDefault("VISION_OCR_URL", ""),
		TessdataPrefix:      getEnvOrDefault("TESSDATA_PREFIX", ""),
		ConfidenceThreshold: getEnvAsFloatOrDefault("OCR_CONFIDENCE_THRESHOLD", 0.6),
		DefaultLanguage:     getEnvOrDefault("OCR_DEFAULT_LANGUAGE", "chi_tra+eng"),
		MaxWidth:            getEnvAsIntOrDefault("MAX_IMAGE_WIDTH", 1920),
		MaxHeight:           getEnvAsIntOrDefault("MAX_IMAGE_HEIGHT", 1080),
		WorkerConcurrency:   getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		RequestTimeout:      time.Duration(getEnvAsIntOrDefault("REQUEST_TIMEOUT_MS", 30000)) * time.Millisecond,
		ProcessingTimeout:   time.Duration(getEnvAsIntOrDefault("PROCESSING_TIMEOUT_MS", 300000)) * time.Millisecond,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.InferenceURL == "" {
		return fmt.Errorf("INFERENCE_URL is required")
	}

	if len(c.ModelFallback) == 0 {
		return fmt.Errorf("MODEL_FALLBACK must list at least one model")
	}

	if c.QueueDriver != "asynq" && c.QueueDriver != "list" {
		return fmt.Errorf("QUEUE_DRIVER must be \"asynq\" or \"list\", got %q", c.QueueDriver)
	}

	if c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold >= 1 {
		return fmt.Errorf("OCR_CONFIDENCE_THRESHOLD must be in (0, 1), got %v", c.ConfidenceThreshold)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	return nil
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrThrow gets environment variable or panics
func getEnvOrThrow(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic(fmt.Sprintf("Required environment variable %s is not set", key))
	}
	return value
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsFloatOrDefault gets environment variable as float64 or returns default
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
