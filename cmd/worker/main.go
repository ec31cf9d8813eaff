/**
 * Homework correction worker - main entry point
 *
 * Consumes photographed-homework jobs from a Redis queue, runs the
 * preprocess -> OCR -> AI correction pipeline, and persists the results
 * to PostgreSQL.
 *
 * Pipeline stages:
 * 1. Preprocess  - validate, downscale to 1920x1080, contrast/brightness boost
 * 2. Extract     - Tesseract first, remote vision fallback, 0.6 confidence gate
 * 3. Correct     - inference service with ordered model fallback
 */

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nathan927/full-ai-nathan/internal/ai"
	"github.com/nathan927/full-ai-nathan/internal/config"
	"github.com/nathan927/full-ai-nathan/internal/imaging"
	"github.com/nathan927/full-ai-nathan/internal/ocr"
	"github.com/nathan927/full-ai-nathan/internal/pipeline"
	"github.com/nathan927/full-ai-nathan/internal/processor"
	"github.com/nathan927/full-ai-nathan/internal/queue"
	"github.com/nathan927/full-ai-nathan/internal/storage"
)

const shutdownTimeout = 30 * time.Second

// consumer is the common surface of the asynq and list-based consumers.
type consumer interface {
	Stop() error
}

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env not found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Homework correction worker starting...")
	log.Printf("Configuration loaded: Redis=%s, Queue=%s (%s driver), Workers=%d",
		cfg.RedisURL, cfg.QueueName, cfg.QueueDriver, cfg.WorkerConcurrency)

	// Initialize PostgreSQL store
	log.Printf("Connecting to PostgreSQL...")
	store, err := storage.NewStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer store.Close()
	log.Printf("PostgreSQL store initialized")

	// Build the OCR provider chain: Tesseract first, remote vision service
	// as fallback when configured.
	providers := []ocr.Provider{ocr.NewTesseractProvider(cfg.TessdataPrefix)}
	if cfg.VisionOCRURL != "" {
		providers = append(providers, ocr.NewVisionProvider(cfg.VisionOCRURL))
		log.Printf("Vision OCR fallback enabled: %s", cfg.VisionOCRURL)
	}
	engine, err := ocr.NewEngine(ocr.EngineConfig{
		Providers:           providers,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
	})
	if err != nil {
		log.Fatalf("Failed to initialize OCR engine: %v", err)
	}

	// AI correction client with ordered model fallback
	transport := ai.NewHTTPTransport(cfg.InferenceURL, cfg.InferenceAPIKey)
	client, err := ai.NewClient(transport, cfg.ModelFallback)
	if err != nil {
		log.Fatalf("Failed to initialize correction client: %v", err)
	}
	log.Printf("Correction client initialized with %d model(s)", len(cfg.ModelFallback))

	// Pipeline orchestrator and job processor
	preprocessor := imaging.NewPreprocessor(cfg.MaxWidth, cfg.MaxHeight)
	orchestrator := pipeline.New(preprocessor, engine, client)
	proc, err := processor.NewJobProcessor(&processor.ProcessorConfig{
		Orchestrator:    orchestrator,
		Store:           store,
		DefaultLanguage: cfg.DefaultLanguage,
		RequestTimeout:  cfg.RequestTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to initialize job processor: %v", err)
	}

	// Start the queue consumer for the configured driver
	var queueConsumer consumer
	switch cfg.QueueDriver {
	case "list":
		c, err := queue.NewRedisConsumer(&queue.RedisConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Processor:         proc,
			ProcessingTimeout: cfg.ProcessingTimeout,
		})
		if err != nil {
			log.Fatalf("Failed to initialize Redis list consumer: %v", err)
		}
		if err := c.Start(); err != nil {
			log.Fatalf("Failed to start Redis list consumer: %v", err)
		}
		queueConsumer = c

	default: // "asynq"
		c, err := queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Processor:         proc,
			ProcessingTimeout: cfg.ProcessingTimeout,
		})
		if err != nil {
			log.Fatalf("Failed to initialize queue consumer: %v", err)
		}
		if err := c.Start(context.Background()); err != nil {
			log.Fatalf("Failed to start queue consumer: %v", err)
		}
		queueConsumer = stopAdapter{c}
	}

	log.Printf("===========================================")
	log.Printf("Homework correction worker is READY")
	log.Printf("===========================================")
	log.Printf("Queue: %s", cfg.QueueName)
	log.Printf("Workers: %d", cfg.WorkerConcurrency)
	log.Printf("OCR providers: %d (threshold %.2f)", len(providers), cfg.ConfidenceThreshold)
	log.Printf("Model fallback: %v", cfg.ModelFallback)
	log.Printf("===========================================")
	log.Printf("Waiting for jobs...")

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	log.Printf("Received signal %v, initiating graceful shutdown...", sig)

	if err := queueConsumer.Stop(); err != nil {
		log.Printf("Error stopping queue consumer: %v", err)
	} else {
		log.Printf("Queue consumer stopped")
	}

	if err := store.Close(); err != nil {
		log.Printf("Error closing store: %v", err)
	}

	log.Printf("Shutdown complete")
}

// stopAdapter bridges the asynq consumer's context-taking Stop to the
// common consumer surface.
type stopAdapter struct {
	c *queue.Consumer
}

func (a stopAdapter) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.c.Stop(ctx)
}
