package opaoracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/policyguard/internal/identity"
	"github.com/vyrodovalexey/policyguard/internal/observability"
	"github.com/vyrodovalexey/policyguard/internal/oracle"
)

const engineName = "opa"

// Input is the document sent to OPA as {"input": ...}.
type Input struct {
	Subject  map[string]interface{} `json:"subject"`
	Action   string                 `json:"action"`
	Resource string                 `json:"resource"`
}

// Result is the decision returned by OPA.
type Result struct {
	Allow      bool
	Reason     string
	DecisionID string
}

// Client is an Oracle that queries an OPA server over its data API.
type Client struct {
	config     Config
	endpoint   string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     observability.Logger
	metrics    *Metrics
}

// Option is a functional option for the client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(c *Client) {
		c.metrics = metrics
	}
}

// New creates an OPA client.
func New(config *Config, opts ...Option) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	cfg := config.withDefaults()
	c := &Client{
		config:     cfg,
		endpoint:   strings.TrimRight(cfg.URL, "/") + "/v1/data/" + strings.Trim(cfg.Policy, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	threshold := safeIntToUint32(cfg.Breaker.Threshold)
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "opa",
		MaxRequests: 1,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= threshold && failureRatio >= 0.5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isServerFault(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("OPA circuit breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
			c.metrics.setBreakerState(int(to))
		},
	})

	return c, nil
}

// Evaluate implements oracle.Oracle.
func (c *Client) Evaluate(ctx context.Context, subject *identity.Identity, action, resource string) (bool, error) {
	if subject == nil {
		subject = identity.Anonymous("")
	}

	result, err := c.Query(ctx, &Input{
		Subject:  subject.Attributes(),
		Action:   action,
		Resource: resource,
	})
	if err != nil {
		return false, oracle.NewEvaluationError(engineName, err)
	}
	return result.Allow, nil
}

// Query sends input to OPA with retry and exponential backoff, guarded by
// the circuit breaker.
func (c *Client) Query(ctx context.Context, input *Input) (*Result, error) {
	start := time.Now()

	body, err := json.Marshal(map[string]interface{}{"input": input})
	if err != nil {
		c.metrics.recordRequest("error", time.Since(start))
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.Retry.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.calculateBackoff(attempt)
			c.logger.Debug("retrying OPA query",
				observability.Int("attempt", attempt),
				observability.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				c.metrics.recordRequest("error", time.Since(start))
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		} else if err := ctx.Err(); err != nil {
			c.metrics.recordRequest("error", time.Since(start))
			return nil, err
		}

		out, err := c.breaker.Execute(func() (interface{}, error) {
			return c.doQuery(ctx, body)
		})
		if err == nil {
			result := out.(*Result)
			c.metrics.recordRequest(decisionLabel(result.Allow), time.Since(start))
			c.logger.Debug("OPA decision",
				observability.Bool("allowed", result.Allow),
				observability.String("decision_id", result.DecisionID),
				observability.Int("attempts", attempt+1),
			)
			return result, nil
		}

		lastErr = err
		if !isRetryable(err) {
			break
		}

		c.logger.Warn("OPA query failed, will retry",
			observability.Int("attempt", attempt+1),
			observability.Int("max_retries", c.config.Retry.MaxRetries),
			observability.Error(err),
		)
	}

	c.metrics.recordRequest("error", time.Since(start))
	return nil, lastErr
}

func (c *Client) doQuery(ctx context.Context, body []byte) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range c.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var opaResp struct {
		Result     interface{} `json:"result"`
		DecisionID string      `json:"decision_id"`
	}
	if err := json.Unmarshal(respBody, &opaResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	result := &Result{DecisionID: opaResp.DecisionID}
	switch v := opaResp.Result.(type) {
	case bool:
		result.Allow = v
	case map[string]interface{}:
		if allow, ok := v["allow"].(bool); ok {
			result.Allow = allow
		}
		if reason, ok := v["reason"].(string); ok {
			result.Reason = reason
		}
	case nil:
		// Undefined documents deny.
	default:
		return nil, fmt.Errorf("unexpected result type: %T", opaResp.Result)
	}
	return result, nil
}

// Close implements oracle.Closer.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// BreakerState returns the circuit breaker state.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := float64(c.config.Retry.InitialBackoff) * math.Pow(2, float64(attempt-1))
	if backoff > float64(c.config.Retry.MaxBackoff) {
		backoff = float64(c.config.Retry.MaxBackoff)
	}
	return time.Duration(backoff)
}

// HTTPError is a non-200 answer from OPA.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("OPA returned status %d: %s", e.StatusCode, e.Body)
}

// isServerFault reports whether err counts against the circuit breaker.
func isServerFault(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}
	return true
}

func isRetryable(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}

func decisionLabel(allowed bool) string {
	if allowed {
		return "allow"
	}
	return "deny"
}

func safeIntToUint32(v int) uint32 {
	if v <= 0 {
		return 0
	}
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}

var (
	_ oracle.Oracle = (*Client)(nil)
	_ oracle.Closer = (*Client)(nil)
)
