package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ClientConfig configures the observation store client.
type ClientConfig struct {
	BaseURL   string        `yaml:"base_url" env:"BASE_URL"`
	PublicKey string        `yaml:"public_key" env:"PUBLIC_KEY"`
	SecretKey string        `yaml:"secret_key" env:"SECRET_KEY"`
	Timeout   time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// RequestsPerSecond bounds how hard the polling protocols may hit the
	// backend. Zero disables the limiter.
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"RPS"`
}

// DefaultClientConfig returns conservative client defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:           30 * time.Second,
		RequestsPerSecond: 10,
	}
}

// Client is an HTTP client for the trace backend's public API.
type Client struct {
	config  ClientConfig
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient creates a trace API client.
func NewClient(config ClientConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}
	return &Client{
		config:  config,
		http:    &http.Client{Timeout: config.Timeout},
		limiter: limiter,
		logger:  logger.With(zap.String("component", "trace_client")),
	}
}

// ListOptions filters a trace listing.
type ListOptions struct {
	SessionID string
	Name      string
	Limit     int
	Page      int
}

type listResponse struct {
	Data []Trace `json:"data"`
}

// ListTraces returns traces matching the options, newest first.
func (c *Client) ListTraces(ctx context.Context, opts ListOptions) ([]Trace, error) {
	q := url.Values{}
	if opts.SessionID != "" {
		q.Set("sessionId", opts.SessionID)
	}
	if opts.Name != "" {
		q.Set("name", opts.Name)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	var resp listResponse
	if err := c.do(ctx, http.MethodGet, "/api/public/traces?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	traces := resp.Data
	sortTracesNewestFirst(traces)
	return traces, nil
}

// GetTrace fetches a single trace with its observations.
func (c *Client) GetTrace(ctx context.Context, id string) (*Trace, error) {
	if id == "" {
		return nil, fmt.Errorf("trace id is empty")
	}
	var t Trace
	if err := c.do(ctx, http.MethodGet, "/api/public/traces/"+url.PathEscape(id), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// RunScore is a run-level aggregate score to publish.
type RunScore struct {
	RunID   string  `json:"traceId"`
	Name    string  `json:"name"`
	Value   float64 `json:"value"`
	Comment string  `json:"comment,omitempty"`
}

// CreateRunScore publishes an aggregate score for a dataset run.
func (c *Client) CreateRunScore(ctx context.Context, score RunScore) error {
	if score.Name == "" {
		return fmt.Errorf("score name is empty")
	}
	return c.do(ctx, http.MethodPost, "/api/public/scores", score, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.config.PublicKey, c.config.SecretKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("trace api request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("trace api error",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return fmt.Errorf("trace api status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func sortTracesNewestFirst(traces []Trace) {
	sort.SliceStable(traces, func(i, j int) bool {
		return traces[i].Timestamp.After(traces[j].Timestamp)
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
