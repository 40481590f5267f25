// Package judge wraps an LLM provider behind the harness's judging
// operations: deciding whether a conversation should continue, summarizing
// long messages, and scoring answers and tool calls.
package judge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BaSui01/agenteval/internal/metrics"
	"github.com/BaSui01/agenteval/llm"
	"go.uber.org/zap"
)

// ErrNotConfigured is returned when no LLM provider is available.
var ErrNotConfigured = errors.New("judge provider not configured")

// summaryThreshold is the message length above which history entries are
// summarized before feeding them to the continuation judge.
const summaryThreshold = 500

// DefaultNextMessage is sent when the judge wants to continue but gives no
// next message.
const DefaultNextMessage = "Please continue with the task."

// Config holds judge tuning.
type Config struct {
	Model       string  `yaml:"model" env:"MODEL"`
	Temperature float32 `yaml:"temperature" env:"TEMPERATURE"`
	// PromptsPath optionally overrides the built-in prompt templates.
	PromptsPath string `yaml:"prompts_path" env:"PROMPTS_PATH"`
}

// DefaultConfig returns the judge defaults.
func DefaultConfig() Config {
	return Config{Temperature: 0.3}
}

// Judge performs LLM-backed decisions for the harness.
type Judge struct {
	provider  llm.Provider
	config    Config
	prompts   Prompts
	collector *metrics.Collector
	logger    *zap.Logger
}

// New creates a judge. The provider may be nil; every operation then
// returns ErrNotConfigured and callers degrade.
func New(provider llm.Provider, config Config, prompts Prompts, logger *zap.Logger) *Judge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Judge{
		provider: provider,
		config:   config,
		prompts:  prompts,
		logger:   logger.With(zap.String("component", "judge")),
	}
}

// WithCollector attaches harness self-metrics. The collector may be nil.
func (j *Judge) WithCollector(c *metrics.Collector) *Judge {
	j.collector = c
	return j
}

// Decision is the continuation judge's verdict.
type Decision struct {
	TaskCompleted  bool   `json:"taskCompleted"`
	ShouldContinue bool   `json:"shouldContinue"`
	NextMessage    string `json:"nextMessage"`
	Reason         string `json:"reason"`
}

// decisionWire uses pointers so that absent fields can take the reference
// defaults: shouldContinue defaults to true, taskCompleted to false.
type decisionWire struct {
	TaskCompleted  *bool  `json:"taskCompleted"`
	ShouldContinue *bool  `json:"shouldContinue"`
	NextMessage    string `json:"nextMessage"`
	Reason         string `json:"reason"`
}

// Continuation decides whether the conversation should go on. History
// entries longer than the summary threshold are condensed first. A parse
// failure stops the conversation rather than risking an unbounded loop.
func (j *Judge) Continuation(ctx context.Context, question string, history []string, lastResponse string) (Decision, error) {
	stop := Decision{ShouldContinue: false, Reason: "judge unavailable"}
	if j.provider == nil {
		return stop, ErrNotConfigured
	}

	condensed := make([]string, 0, len(history))
	for _, msg := range history {
		condensed = append(condensed, j.condense(ctx, msg))
	}

	prompt := render(j.prompts.Continuation, map[string]string{
		"question":       question,
		"historySummary": strings.Join(condensed, "\n"),
		"lastResponse":   j.condense(ctx, lastResponse),
	})

	content, err := j.complete(ctx, "continuation", prompt)
	if err != nil {
		return stop, err
	}

	var wire decisionWire
	if err := ExtractJSON(content, &wire); err != nil {
		j.logger.Warn("continuation verdict unparseable, stopping", zap.Error(err))
		return Decision{ShouldContinue: false, Reason: "unparseable judge reply"}, nil
	}

	decision := Decision{
		ShouldContinue: wire.ShouldContinue == nil || *wire.ShouldContinue,
		NextMessage:    wire.NextMessage,
		Reason:         wire.Reason,
	}
	if wire.TaskCompleted != nil {
		decision.TaskCompleted = *wire.TaskCompleted
	}
	if decision.TaskCompleted {
		decision.ShouldContinue = false
	}
	if decision.ShouldContinue && decision.NextMessage == "" {
		decision.NextMessage = DefaultNextMessage
	}
	return decision, nil
}

// Summarize condenses content via the LLM. Without a provider, or on any
// error, it truncates instead.
func (j *Judge) Summarize(ctx context.Context, content string) string {
	if j.provider == nil {
		return truncate(content)
	}
	prompt := render(j.prompts.Summary, map[string]string{"content": content})
	summary, err := j.complete(ctx, "summary", prompt)
	if err != nil || strings.TrimSpace(summary) == "" {
		j.logger.Debug("summary fallback to truncation", zap.Error(err))
		return truncate(content)
	}
	return strings.TrimSpace(summary)
}

// Score is a scoring judge's verdict.
type Score struct {
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// ScoreResponse grades the final answer of a conversation. When an
// expected output exists the reference-comparison prompt is used,
// otherwise the open-ended variant.
func (j *Judge) ScoreResponse(ctx context.Context, question, expectedOutput, actualOutput, actualMetadata string) (Score, error) {
	if j.provider == nil {
		return Score{}, ErrNotConfigured
	}

	template := j.prompts.ComprehensiveOpen
	vars := map[string]string{
		"question":       question,
		"actualOutput":   actualOutput,
		"actualMetadata": actualMetadata,
	}
	if expectedOutput != "" {
		template = j.prompts.Comprehensive
		vars["expectedOutput"] = expectedOutput
	}

	content, err := j.complete(ctx, "comprehensive", render(template, vars))
	if err != nil {
		return Score{}, err
	}
	var score Score
	if err := ExtractJSON(content, &score); err != nil {
		return Score{}, fmt.Errorf("parse score: %w", err)
	}
	score.Score = clamp(score.Score)
	return score, nil
}

// ScoreToolCall grades one tool call against its canonical definition.
func (j *Judge) ScoreToolCall(ctx context.Context, definition, call string) (Score, error) {
	if j.provider == nil {
		return Score{}, ErrNotConfigured
	}
	prompt := render(j.prompts.ToolCall, map[string]string{
		"toolDefinition": "[Tool Definition - Standard Format]\n" + definition,
		"toolCall":       call,
	})
	content, err := j.complete(ctx, "tool_call", prompt)
	if err != nil {
		return Score{}, err
	}
	var score Score
	if err := ExtractJSON(content, &score); err != nil {
		return Score{}, fmt.Errorf("parse score: %w", err)
	}
	score.Score = clamp(score.Score)
	return score, nil
}

func (j *Judge) condense(ctx context.Context, msg string) string {
	if len(msg) <= summaryThreshold {
		return msg
	}
	return j.Summarize(ctx, msg)
}

func (j *Judge) complete(ctx context.Context, kind, prompt string) (string, error) {
	resp, err := j.provider.Completion(ctx, &llm.ChatRequest{
		Model:       j.config.Model,
		Temperature: j.config.Temperature,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: prompt},
		},
	})
	if j.collector != nil {
		j.collector.RecordJudgeCall(kind, err)
	}
	if err != nil {
		return "", fmt.Errorf("judge completion: %w", err)
	}
	return resp.Content, nil
}

func truncate(content string) string {
	if len(content) <= summaryThreshold {
		return content
	}
	return content[:summaryThreshold] + "..."
}

// Scoring judges work on a 0-100 scale.
func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
