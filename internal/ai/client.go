/**
 * Correction request client with ordered model fallback
 *
 * One logical correction per call: a ranked list of candidate models is
 * tried in order, each attempt reported to the observer before the call and
 * through its network phases. Only exhausting the whole list fails the call.
 */

package ai

import (
	"context"
	"errors"
	"strings"

	apperrors "github.com/nathan927/full-ai-nathan/internal/errors"
	"github.com/nathan927/full-ai-nathan/internal/logging"
)

// Client sends extracted homework text to the remote inference service.
type Client struct {
	transport Transport
	models    []string
	logger    *logging.Logger
}

// NewClient creates a correction client with an injected transport and an
// ordered model fallback list.
func NewClient(transport Transport, models []string) (*Client, error) {
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	if len(models) == 0 {
		return nil, errors.New("at least one model is required")
	}
	return &Client{
		transport: transport,
		models:    models,
		logger:    logging.NewLogger("CorrectionClient"),
	}, nil
}

// Correct sends text plus grading context to the inference service. The
// observer is bound per call so overlapping calls cannot cross-talk; it may
// be nil.
func (c *Client) Correct(ctx context.Context, text string, corrCtx *CorrectionContext, observer Observer) (*CorrectionResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.NewInvalidInputError("prompt is required")
	}
	if corrCtx == nil {
		return nil, apperrors.NewInvalidInputError("correction context is required")
	}

	systemPrompt := corrCtx.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = BuildSystemPrompt(corrCtx.Subject, corrCtx.GradeLevel, corrCtx.TargetLanguage)
	}

	var lastErr error
	for i, model := range c.models {
		attempt := i + 1
		c.notifyAttempt(observer, model, attempt)

		result, err := c.sendAttempt(ctx, model, text, systemPrompt, corrCtx, observer)
		if err == nil {
			c.validateUsage(result)
			c.logger.Info("Correction complete",
				"model", result.Model,
				"attempt", attempt,
				"totalTokens", result.Usage.TotalTokens,
				"latency", result.Latency)
			return result, nil
		}

		// The parent context ending is the caller's decision, not a model
		// failure; do not burn the remaining candidates on it.
		if ctx.Err() != nil {
			return nil, err
		}

		c.logger.Warn("Model attempt failed, trying next",
			"model", model,
			"attempt", attempt,
			"error", err)
		lastErr = err
	}

	return nil, apperrors.NewAllModelsExhaustedError(len(c.models), lastErr)
}

// sendAttempt performs a single model attempt with its own timeout so an
// elapsed timeout cancels only the in-flight call.
func (c *Client) sendAttempt(ctx context.Context, model, text, systemPrompt string, corrCtx *CorrectionContext, observer Observer) (*CorrectionResult, error) {
	attemptCtx := ctx
	var cancel context.CancelFunc
	if corrCtx.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, corrCtx.Timeout)
		defer cancel()
	}

	result, err := c.transport.Send(attemptCtx, &Request{
		Model:        model,
		Prompt:       text,
		SystemPrompt: systemPrompt,
		MaxTokens:    corrCtx.MaxTokens,
		Temperature:  corrCtx.Temperature,
	}, func(percent int) {
		c.notifyProgress(observer, percent)
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, apperrors.NewRequestTimeoutError(model, corrCtx.Timeout, err)
		}
		return nil, err
	}
	return result, nil
}

// validateUsage checks the token accounting invariant and flags, without
// failing, results where totalTokens != inputTokens + outputTokens.
func (c *Client) validateUsage(result *CorrectionResult) {
	u := result.Usage
	if u.TotalTokens != u.InputTokens+u.OutputTokens {
		result.UsageMismatch = true
		c.logger.Warn("Token usage mismatch in inference response",
			"inputTokens", u.InputTokens,
			"outputTokens", u.OutputTokens,
			"totalTokens", u.TotalTokens)
	}
}

// notifyAttempt and notifyProgress isolate observer panics so a misbehaving
// observer cannot crash the request pipeline.

func (c *Client) notifyAttempt(observer Observer, model string, attempt int) {
	if observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Observer OnAttempt panicked", "panic", r)
		}
	}()
	observer.OnAttempt(model, attempt)
}

func (c *Client) notifyProgress(observer Observer, percent int) {
	if observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Observer OnProgress panicked", "panic", r)
		}
	}()
	observer.OnProgress(percent)
}

// ObserverFuncs adapts bare callbacks to the Observer interface. Nil
// callbacks are simply skipped.
type ObserverFuncs struct {
	Attempt  func(modelName string, attempt int)
	Progress func(percent int)
}

func (o ObserverFuncs) OnAttempt(modelName string, attempt int) {
	if o.Attempt != nil {
		o.Attempt(modelName, attempt)
	}
}

func (o ObserverFuncs) OnProgress(percent int) {
	if o.Progress != nil {
		o.Progress(percent)
	}
}
