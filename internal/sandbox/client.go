// Package sandbox executes actions in a remote code-execution sandbox and
// records what ran as notebook cells.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rendis/cascade/pkg/schema"
)

const (
	defaultTimeout  = 5 * time.Minute
	maxResponseBody = 16 << 20
)

// Config configures a Client.
type Config struct {
	URL        string
	Timeout    time.Duration
	Headers    map[string]string
	HTTPClient *http.Client
	// Cells, if set, receives every executed action with its outputs.
	Cells  CellSink
	Logger *slog.Logger
}

// Client implements the engine's ScriptExecutor against a sandbox HTTP API.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// New builds a Client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "sandbox: URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, http: hc, logger: logger.With(slog.String("component", "sandbox"))}, nil
}

type executeRequest struct {
	Action schema.Action `json:"action"`
}

type executeResponse struct {
	Outputs  []json.RawMessage      `json:"outputs"`
	Error    json.RawMessage        `json:"error,omitempty"`
	Proposal *schema.UpdateProposal `json:"proposal,omitempty"`
}

// Execute runs action and waits for its result.
func (c *Client) Execute(ctx context.Context, action schema.Action) (*schema.ExecResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(executeRequest{Action: action})
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "sandbox: encode action").WithCause(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "sandbox: build request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "sandbox: request failed: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "sandbox: read response").WithCause(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "sandbox returned %d", resp.StatusCode).
			WithDetails(map[string]any{"status": resp.StatusCode, "body": string(bytes.TrimSpace(raw))})
	}

	var out executeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "sandbox: decode response").WithCause(err)
	}

	execErr := errorMessage(out.Error)
	c.logger.DebugContext(ctx, "action executed",
		slog.String("kind", action.Kind()),
		slog.Int("outputs", len(out.Outputs)),
		slog.Duration("duration", time.Since(start)),
		slog.Bool("failed", execErr != ""))

	if c.cfg.Cells != nil {
		cell := Cell{Action: json.RawMessage(action), Outputs: out.Outputs, Error: execErr, ExecutedAt: time.Now().UTC()}
		if err := c.cfg.Cells.AddCell(ctx, cell); err != nil {
			c.logger.WarnContext(ctx, "record cell failed", slog.String("error", err.Error()))
		}
	}

	if execErr != "" {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "action failed: %s", execErr).
			WithDetails(map[string]any{"kind": action.Kind(), "outputs": len(out.Outputs)})
	}
	return &schema.ExecResult{Outputs: out.Outputs, Proposal: out.Proposal}, nil
}

// errorMessage accepts a string or an object with a message field.
func errorMessage(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		if obj.Name != "" {
			return fmt.Sprintf("%s: %s", obj.Name, obj.Message)
		}
		return obj.Message
	}
	return string(raw)
}
