/**
 * Inference transport - HTTP request/response boundary
 *
 * The remote service accepts {model, prompt, config} and answers with a
 * correction body on 2xx or {error} on anything else. A missing prompt is
 * rejected here, before any network traffic.
 */

package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/nathan927/full-ai-nathan/internal/errors"
)

// Progress phase values reported per attempt.
const (
	progressRequestSent      = 0
	progressResponseReceived = 50
	progressBodyParsed       = 100
)

// Request is one model attempt sent to the inference service.
type Request struct {
	Model        string
	Prompt       string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
}

// Transport performs a single request/response call against the inference
// service. The progress callback, when non-nil, is invoked with 0/50/100 as
// the call moves through its network phases.
type Transport interface {
	Send(ctx context.Context, req *Request, progress func(percent int)) (*CorrectionResult, error)
}

type inferenceRequest struct {
	Model  string          `json:"model"`
	Prompt string          `json:"prompt"`
	Config inferenceConfig `json:"config"`
}

type inferenceConfig struct {
	SystemPrompt string  `json:"systemPrompt"`
	MaxTokens    int     `json:"maxTokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
}

type inferenceResponse struct {
	Content   string `json:"content"`
	Usage     Usage  `json:"usage"`
	Model     string `json:"model"`
	Provider  string `json:"provider"`
	LatencyMs int64  `json:"latency"`
}

type inferenceError struct {
	Error string `json:"error"`
}

// HTTPTransport reaches the inference service over plain HTTP JSON.
type HTTPTransport struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPTransport creates the default transport. The API key is optional
// for services fronted by an internal gateway.
func NewHTTPTransport(baseURL, apiKey string) *HTTPTransport {
	return &HTTPTransport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{}, // per-attempt timeouts come from the context
	}
}

// Send performs one inference call.
func (t *HTTPTransport) Send(ctx context.Context, req *Request, progress func(percent int)) (*CorrectionResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, apperrors.NewInvalidInputError("prompt is required")
	}

	reqBody, err := json.Marshal(inferenceRequest{
		Model:  req.Model,
		Prompt: req.Prompt,
		Config: inferenceConfig{
			SystemPrompt: req.SystemPrompt,
			MaxTokens:    req.MaxTokens,
			Temperature:  req.Temperature,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/ai", t.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	}
	httpReq.Header.Set("X-Request-ID", fmt.Sprintf("correct-%d", time.Now().UnixNano()))

	start := time.Now()
	if progress != nil {
		progress(progressRequestSent)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to inference service failed: %w", err)
	}
	defer resp.Body.Close()

	if progress != nil {
		progress(progressResponseReceived)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Prefer the service's own error message when the body carries one.
		var errBody inferenceError
		if json.Unmarshal(body, &errBody) == nil && errBody.Error != "" {
			return nil, fmt.Errorf("inference service error: %s", errBody.Error)
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	var infResp inferenceResponse
	if err := json.Unmarshal(body, &infResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if progress != nil {
		progress(progressBodyParsed)
	}

	latency := time.Since(start)
	if infResp.LatencyMs > 0 {
		latency = time.Duration(infResp.LatencyMs) * time.Millisecond
	}

	model := infResp.Model
	if model == "" {
		model = req.Model
	}

	return &CorrectionResult{
		Content:  infResp.Content,
		Usage:    infResp.Usage,
		Model:    model,
		Provider: infResp.Provider,
		Latency:  latency,
	}, nil
}
