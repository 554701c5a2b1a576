// Package planner talks to the remote planning service: it streams action
// batches from the behavior endpoint and asks the feedback endpoint whether
// a behavior achieved its step's target.
package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rendis/cascade/internal/ndjson"
	"github.com/rendis/cascade/pkg/schema"
)

// Endpoint names used for circuit breaking and logs.
const (
	EndpointBehavior = "behavior"
	EndpointFeedback = "feedback"
)

const (
	defaultFeedbackTimeout = 30 * time.Second
	maxErrorBody           = 4 << 10
	maxFeedbackBody        = 1 << 20
)

// Config configures a Client.
type Config struct {
	BehaviorURL string
	FeedbackURL string
	// ActionQuery is a jq query selecting actions from each stream message.
	ActionQuery string
	// FeedbackTimeout bounds one feedback round-trip.
	FeedbackTimeout time.Duration
	MaxLineSize     int
	Headers         map[string]string
	Retry           RetryPolicy
	Breaker         CircuitBreakerConfig
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// Client implements the engine's Planner over HTTP.
type Client struct {
	cfg      Config
	http     *http.Client
	extract  *extractor
	breakers *Breakers
	logger   *slog.Logger
}

// New validates cfg and builds a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BehaviorURL == "" || cfg.FeedbackURL == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "planner: behavior and feedback URLs are required")
	}
	x, err := newExtractor(cfg.ActionQuery)
	if err != nil {
		return nil, err
	}
	if cfg.FeedbackTimeout <= 0 {
		cfg.FeedbackTimeout = defaultFeedbackTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:      cfg,
		http:     hc,
		extract:  x,
		breakers: NewBreakers(cfg.Breaker),
		logger:   logger.With(slog.String("component", "planner")),
	}, nil
}

// Breakers exposes the per-endpoint circuit breakers.
func (c *Client) Breakers() *Breakers { return c.breakers }

type behaviorRequest struct {
	schema.PlanRequest
	Stream bool `json:"stream"`
}

// FetchActions streams the next action batch for req. Messages the action
// query selects nothing from are skipped; order is preserved.
func (c *Client) FetchActions(ctx context.Context, req schema.PlanRequest) ([]schema.Action, error) {
	resp, err := c.post(ctx, EndpointBehavior, c.cfg.BehaviorURL, behaviorRequest{PlanRequest: req, Stream: true})
	if err != nil {
		return nil, c.wrap(schema.ErrCodePlanner, EndpointBehavior, req, err)
	}
	defer resp.Body.Close()

	var (
		actions  []schema.Action
		messages int
	)
	err = ndjson.NewReader(resp.Body, c.cfg.MaxLineSize).Each(func(msg json.RawMessage) error {
		messages++
		got, err := c.extract.extract(ctx, msg)
		if err != nil {
			return err
		}
		actions = append(actions, got...)
		return nil
	})
	if err != nil {
		c.breakers.Failure(EndpointBehavior)
		return nil, c.wrap(schema.ErrCodePlanner, EndpointBehavior, req, err)
	}
	c.breakers.Success(EndpointBehavior)

	c.logger.DebugContext(ctx, "behavior stream complete",
		slog.String("stage_id", req.StageID),
		slog.Int("step_index", req.StepIndex),
		slog.Int("messages", messages),
		slog.Int("actions", len(actions)))
	return actions, nil
}

// Evaluate asks the feedback endpoint whether the last behavior reached
// the step target.
func (c *Client) Evaluate(ctx context.Context, req schema.PlanRequest) (*schema.Feedback, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FeedbackTimeout)
	defer cancel()

	resp, err := c.post(ctx, EndpointFeedback, c.cfg.FeedbackURL, req)
	if err != nil {
		return nil, c.wrap(schema.ErrCodeFeedback, EndpointFeedback, req, err)
	}
	defer resp.Body.Close()

	var fb schema.Feedback
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxFeedbackBody)).Decode(&fb); err != nil {
		c.breakers.Failure(EndpointFeedback)
		return nil, c.wrap(schema.ErrCodeFeedback, EndpointFeedback, req, err)
	}
	c.breakers.Success(EndpointFeedback)
	return &fb, nil
}

// post sends body and returns a 2xx response, retrying the connect phase
// per the retry policy. The caller closes the body.
func (c *Client) post(ctx context.Context, endpoint, url string, body any) (*http.Response, error) {
	if err := c.breakers.Allow(endpoint); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	attempts := c.cfg.Retry.attempts()
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := ComputeBackoff(c.cfg.Retry, attempt-1)
			c.logger.DebugContext(ctx, "retrying planner call",
				slog.String("endpoint", endpoint),
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()))
			if err := WaitForBackoff(ctx, delay); err != nil {
				return nil, err
			}
		}

		resp, err := c.do(ctx, url, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		c.breakers.Failure(endpoint)
		if !IsRetryable(err) {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, url string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson, application/json")
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &statusError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}
	return resp, nil
}

// wrap converts a transport or decode failure into a structured error,
// leaving structured errors from lower layers as they are.
func (c *Client) wrap(code, endpoint string, req schema.PlanRequest, err error) error {
	var serr *schema.Error
	if errors.As(err, &serr) {
		return err
	}
	details := map[string]any{"endpoint": endpoint, "step_index": req.StepIndex}
	var se *statusError
	if errors.As(err, &se) {
		details["status"] = se.Status
	}
	return schema.NewErrorf(code, "%s call failed: %v", endpoint, err).
		WithStage(req.StageID).
		WithCause(err).
		WithDetails(details)
}
