// Package flux talks to the remote FLUX image generation API: one POST to
// create a job and a GET per status check. It knows nothing about retries,
// progress or fallbacks; see package generation for that.
package flux

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/oneiroi/api/internal/config"
)

// Status values reported by the result endpoint
const (
	StatusPending          = "Pending"
	StatusReady            = "Ready"
	StatusError            = "Error"
	StatusRequestModerated = "Request Moderated"
	StatusContentModerated = "Content Moderated"
	StatusTaskNotFound     = "Task not found"
)

// KeyHeader carries the API credential
const KeyHeader = "x-key"

// maxErrorBody bounds how much of a failed response is kept for diagnostics
const maxErrorBody = 4096

// SubmitRequest is the wire payload for job creation
type SubmitRequest struct {
	Prompt           string `json:"prompt"`
	AspectRatio      string `json:"aspect_ratio,omitempty"`
	OutputFormat     string `json:"output_format,omitempty"`
	SafetyTolerance  *int   `json:"safety_tolerance,omitempty"`
	Seed             *int64 `json:"seed,omitempty"`
	PromptUpsampling bool   `json:"prompt_upsampling"`
}

// SubmitResponse is returned when a job is accepted
type SubmitResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status,omitempty"`
	PollingURL string `json:"polling_url,omitempty"`
}

// Result describes the generated image once a job is Ready
type Result struct {
	Sample    string   `json:"sample,omitempty"`
	Prompt    string   `json:"prompt,omitempty"`
	Seed      *int64   `json:"seed,omitempty"`
	StartTime *float64 `json:"start_time,omitempty"`
	EndTime   *float64 `json:"end_time,omitempty"`
	Duration  *float64 `json:"duration,omitempty"`
}

// ResultResponse is one status snapshot of a job
type ResultResponse struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Result   *Result         `json:"result,omitempty"`
	Progress *float64        `json:"progress,omitempty"`
	Details  json.RawMessage `json:"details,omitempty"`
}

// SampleURL returns the ephemeral result URL or "" when absent
func (r *ResultResponse) SampleURL() string {
	if r == nil || r.Result == nil {
		return ""
	}
	return strings.TrimSpace(r.Result.Sample)
}

// APIError is returned for non-2xx responses
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s returned status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Client is a thin HTTP client for the generation API
type Client struct {
	baseURL    string
	modelPath  string
	resultPath string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a client from config. A nil httpClient gets one with the configured timeout.
func NewClient(cfg config.FluxConfig, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		modelPath:  "/" + strings.TrimLeft(cfg.ModelPath, "/"),
		resultPath: "/" + strings.TrimLeft(cfg.ResultPath, "/"),
		httpClient: httpClient,
		logger:     logger.Named("flux"),
	}
}

// BaseURL returns the API root, used for health checks
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Submit creates a generation job
func (c *Client) Submit(ctx context.Context, apiKey string, payload SubmitRequest) (*SubmitResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	var out SubmitResponse
	if err := c.do(ctx, http.MethodPost, c.baseURL+c.modelPath, apiKey, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Result fetches the current status of a job
func (c *Client) Result(ctx context.Context, apiKey, id string) (*ResultResponse, error) {
	endpoint := c.baseURL + c.resultPath + "?id=" + url.QueryEscape(id)

	var out ResultResponse
	if err := c.do(ctx, http.MethodGet, endpoint, apiKey, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, endpoint, apiKey string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(KeyHeader, apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("sending request", zap.String("method", method), zap.String("url", endpoint))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("generation API returned non-2xx status",
			zap.String("method", method),
			zap.Int("status_code", resp.StatusCode),
			zap.ByteString("response_body", errBody),
		)
		return &APIError{Method: method, URL: endpoint, StatusCode: resp.StatusCode, Body: string(errBody)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}
