package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
)

// Client is the shared JSON-over-HTTP transport of the model server and the
// remote classification API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	executor   *resilience.Executor
}

type ClientOptions struct {
	Timeout            time.Duration
	APIKey             string
	ResilienceExecutor *resilience.Executor
}

func New(baseURL string, opts ClientOptions) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     strings.TrimSpace(opts.APIKey),
		httpClient: &http.Client{Timeout: timeout},
		executor:   opts.ResilienceExecutor,
	}
}

func (c *Client) call(ctx context.Context, operation, path string, payload any, out any) error {
	run := func(callCtx context.Context) error {
		return c.postJSON(callCtx, path, payload, out, operation)
	}
	if c.executor == nil {
		return wrapTemporaryIfNeeded(operation, run(ctx))
	}
	err := c.executor.Execute(ctx, "inference."+operation, run, classifyInferenceError)
	return wrapTemporaryIfNeeded(operation, err)
}

// postJSON sends payload and decodes a 2xx JSON answer into out. Error bodies
// are kept, truncated, for the rationale and logs.
func (c *Client) postJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &HTTPStatusError{Operation: operation, StatusCode: resp.StatusCode, Status: resp.Status, Body: string(raw)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}
