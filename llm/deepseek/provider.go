// Package deepseek implements the llm.Provider contract over an
// OpenAI-compatible chat completions endpoint.
package deepseek

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/BaSui01/agenteval/llm"
	"go.uber.org/zap"
)

// Config holds the provider settings.
type Config struct {
	// APIKey authenticates against the endpoint. Empty means the provider
	// is not configured; NewProvider returns nil.
	APIKey string `yaml:"api_key" env:"API_KEY"`

	// BaseURL is the API root, e.g. "https://api.deepseek.com".
	BaseURL string `yaml:"base_url" env:"BASE_URL"`

	// DefaultModel is used when the request does not name a model.
	DefaultModel string `yaml:"default_model" env:"DEFAULT_MODEL"`

	// Timeout is the HTTP client timeout. Defaults to 60s if zero.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`

	// EndpointPath is the chat completions path. Defaults to
	// "/v1/chat/completions".
	EndpointPath string `yaml:"endpoint_path" env:"ENDPOINT_PATH"`
}

// DefaultConfig returns the provider defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:      "https://api.deepseek.com",
		DefaultModel: "deepseek-chat",
		Timeout:      60 * time.Second,
		EndpointPath: "/v1/chat/completions",
	}
}

// Provider is an OpenAI-compatible chat completion client.
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewProvider creates a provider, or nil when no API key is configured.
// Callers treat a nil provider as "judging disabled".
func NewProvider(cfg Config, logger *zap.Logger) *Provider {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.deepseek.com"
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "deepseek")),
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "deepseek" }

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float32       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *llm.Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Completion performs a blocking chat completion.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}

	body := wireRequest{
		Model:       model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+p.cfg.EndpointPath, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var wire wireResponse
	if err := json.Unmarshal(respData, &wire); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(respData)
		if wire.Error != nil {
			msg = wire.Error.Message
		}
		return nil, fmt.Errorf("completion status %d: %s", resp.StatusCode, msg)
	}
	if len(wire.Choices) == 0 {
		return nil, fmt.Errorf("completion returned no choices")
	}

	p.logger.Debug("completion done",
		zap.String("model", model),
		zap.Duration("elapsed", time.Since(start)))

	return &llm.ChatResponse{
		ID:      wire.ID,
		Model:   wire.Model,
		Content: wire.Choices[0].Message.Content,
		Usage:   wire.Usage,
	}, nil
}
