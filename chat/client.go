// Package chat is the client for the remote chat task API: task creation,
// file upload, and the SSE message exchange that drives a conversation.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config holds the chat API settings.
type Config struct {
	BaseURL   string `yaml:"base_url" env:"BASE_URL"`
	AuthToken string `yaml:"auth_token" env:"AUTH_TOKEN"`
	// Model tags outgoing user messages.
	Model string `yaml:"model" env:"MODEL"`
	// SendTimeout bounds one full streamed exchange. A turn can take many
	// minutes while the agent works, so the default is generous.
	SendTimeout time.Duration `yaml:"send_timeout" env:"SEND_TIMEOUT"`
	// RequestTimeout bounds task creation and file uploads.
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
}

// DefaultConfig returns the chat API defaults.
func DefaultConfig() Config {
	return Config{
		Model:          "anthropic/claude-sonnet-4.5",
		SendTimeout:    30 * time.Minute,
		RequestTimeout: 60 * time.Second,
	}
}

// Client talks to the chat task API.
type Client struct {
	cfg    Config
	send   *http.Client
	short  *http.Client
	logger *zap.Logger
}

// NewClient creates a chat API client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Minute
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	return &Client{
		cfg:    cfg,
		send:   &http.Client{Timeout: cfg.SendTimeout},
		short:  &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger.With(zap.String("component", "chat_client")),
	}
}

// CreateTask opens a new task session and returns its id. The task id
// doubles as the observability session id.
func (c *Client) CreateTask(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{"first_message": ""})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/tasks", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.short.Do(req)
	if err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("create task status %d: %s", resp.StatusCode, data)
	}

	var out struct {
		ID     string `json:"id"`
		TaskID string `json:"taskId"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	id := out.ID
	if id == "" {
		id = out.TaskID
	}
	if id == "" {
		return "", fmt.Errorf("create task returned no id")
	}
	c.logger.Info("task created", zap.String("task_id", id))
	return id, nil
}

// UploadResult describes an uploaded file as the server stored it.
type UploadResult struct {
	Success bool `json:"success"`
	Files   []struct {
		Path string `json:"path"`
	} `json:"files"`
}

// UploadFile uploads one local file into the task's workspace.
func (c *Client) UploadFile(ctx context.Context, taskID, path string) (*UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="files"; filename="%s"`, filepath.Base(path)))
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/api/files/upload?taskId="+taskID, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(req)

	resp, err := c.short.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upload status %d: %s", resp.StatusCode, data)
	}

	var result UploadResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

// Confirmation identifies a pending tool confirmation and the assistant
// message that requested it.
type Confirmation struct {
	ToolCallID       string
	Message          string
	MessageID        string
	MessageCreatedAt string
	Text             string
}

// SendText sends a user text message and consumes the streamed reply.
func (c *Client) SendText(ctx context.Context, taskID, text string) (*Response, error) {
	payload := map[string]any{
		"model":     c.cfg.Model,
		"webSearch": false,
		"trigger":   "submit-message",
		"id":        taskID,
		"message": map[string]any{
			"parts": []map[string]any{
				{"type": "text", "text": text},
			},
			"id":   messageID(),
			"role": "user",
		},
	}
	return c.stream(ctx, payload)
}

// SendConfirmation replays the assistant's confirmation request back with
// an affirmative tool output, unblocking the pending tool call.
func (c *Client) SendConfirmation(ctx context.Context, taskID string, conf Confirmation) (*Response, error) {
	payload := map[string]any{
		"trigger": "submit-message",
		"id":      taskID,
		"message": map[string]any{
			"id": conf.MessageID,
			"metadata": map[string]any{
				"createdAt": conf.MessageCreatedAt,
			},
			"role": "assistant",
			"parts": []map[string]any{
				{"type": "step-start"},
				{"type": "text", "text": conf.Text, "state": "done"},
				{
					"type":       "tool-confirm",
					"toolCallId": conf.ToolCallID,
					"state":      "output-available",
					"input":      map[string]any{"message": conf.Message},
					"output":     "Yes, confirmed.",
				},
			},
		},
		"messageId": conf.MessageID,
	}
	return c.stream(ctx, payload)
}

func (c *Client) stream(ctx context.Context, payload map[string]any) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/task", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	resp, err := c.send.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("send status %d: %s", resp.StatusCode, data)
	}
	return readStream(resp.Body, c.logger)
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}
}

func messageID() string {
	id := uuid.NewString()
	return id[:8] + id[9:13] + id[14:18]
}
