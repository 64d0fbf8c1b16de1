package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"autoflow.app/relay/common/logger"
)

// StartRequest is the body the runtime's start endpoint expects.
type StartRequest struct {
	WorkflowID       string          `json:"workflowId"`
	DeduplicationKey string          `json:"deduplicationKey,omitempty"`
	InitialData      json.RawMessage `json:"initialData"`
	TraceID          string          `json:"-"`
}

// StatusError is a non-2xx answer from the runtime.
type StatusError struct {
	Body string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("runtime returned %d: %s", e.Code, e.Body)
}

// IsPermanent reports whether retrying err cannot help: a 4xx other than
// request timeout and rate limiting.
func IsPermanent(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	if se.Code == http.StatusRequestTimeout || se.Code == http.StatusTooManyRequests {
		return false
	}
	return se.Code >= 400 && se.Code < 500
}

type RuntimeConfig struct {
	URL         string
	APIKey      string
	TraceHeader string
	Timeout     time.Duration
}

type RuntimeClient struct {
	httpClient *http.Client
	cfg        RuntimeConfig
}

func NewRuntimeClient(cfg RuntimeConfig, httpClient *http.Client) *RuntimeClient {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &RuntimeClient{httpClient: httpClient, cfg: cfg}
}

// Start posts req with the dedup key as Idempotency-Key. A 409 means the
// runtime already started this execution and counts as success.
func (c *RuntimeClient) Start(ctx context.Context, req StartRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding start request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building start request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.DeduplicationKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.DeduplicationKey)
	}
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if c.cfg.TraceHeader != "" && req.TraceID != "" {
		httpReq.Header.Set(c.cfg.TraceHeader, req.TraceID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("calling runtime: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 || resp.StatusCode == http.StatusConflict {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{Code: resp.StatusCode, Body: logger.Truncate(string(raw), 512)}
}
