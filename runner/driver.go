// Package runner drives one multi-turn conversation against the chat task
// API and hands the settled trace data to the evaluation layer.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BaSui01/agenteval/chat"
	"github.com/BaSui01/agenteval/internal/metrics"
	"github.com/BaSui01/agenteval/judge"
	"github.com/BaSui01/agenteval/store"
	"github.com/BaSui01/agenteval/trace"
	"github.com/BaSui01/agenteval/types"
	"go.uber.org/zap"
)

// ChatAPI is the chat client surface the driver needs.
type ChatAPI interface {
	CreateTask(ctx context.Context) (string, error)
	UploadFile(ctx context.Context, taskID, path string) (*chat.UploadResult, error)
	SendText(ctx context.Context, taskID, text string) (*chat.Response, error)
	SendConfirmation(ctx context.Context, taskID string, conf chat.Confirmation) (*chat.Response, error)
}

// Synchronizer is the trace reconciliation surface the driver needs.
type Synchronizer interface {
	SessionSettled(ctx context.Context, sessionID string, turnCount int) trace.SessionStatus
	FindSessionTraces(ctx context.Context, sessionID string, attempts, turnCount int) ([]trace.Trace, error)
	WaitForCompletion(ctx context.Context, traceID string) (*trace.Trace, error)
}

// ContinuationJudge decides whether the conversation goes on.
type ContinuationJudge interface {
	Continuation(ctx context.Context, question string, history []string, lastResponse string) (judge.Decision, error)
}

// Config holds driver tuning.
type Config struct {
	// MaxTurns bounds the conversation, confirmation rounds included.
	MaxTurns int `yaml:"max_turns" env:"MAX_TURNS"`
	// ConfirmationDelay is the wait before consuming a confirmation reply,
	// giving the backend time to open the new trace.
	ConfirmationDelay time.Duration `yaml:"confirmation_delay" env:"CONFIRMATION_DELAY"`
	// DataDir is where dataset file attachments live.
	DataDir string `yaml:"data_dir" env:"DATA_DIR"`
}

// DefaultConfig returns the driver defaults.
func DefaultConfig() Config {
	return Config{
		MaxTurns:          4,
		ConfirmationDelay: 5 * time.Second,
	}
}

// Driver runs conversations.
type Driver struct {
	chat      ChatAPI
	sync      Synchronizer
	judge     ContinuationJudge
	sessions  *store.SessionCache
	inputs    *store.InputSessionMap
	config    Config
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewDriver creates a conversation driver.
func NewDriver(chatAPI ChatAPI, sync Synchronizer, continuation ContinuationJudge,
	sessions *store.SessionCache, inputs *store.InputSessionMap,
	config Config, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxTurns <= 0 {
		config.MaxTurns = 4
	}
	if config.ConfirmationDelay <= 0 {
		config.ConfirmationDelay = 5 * time.Second
	}
	return &Driver{
		chat:     chatAPI,
		sync:     sync,
		judge:    continuation,
		sessions: sessions,
		inputs:   inputs,
		config:   config,
		logger:   logger.With(zap.String("component", "driver")),
	}
}

// WithCollector attaches harness self-metrics. The collector may be nil.
func (d *Driver) WithCollector(c *metrics.Collector) *Driver {
	d.collector = c
	return d
}

// Run drives one conversation for the dataset item and returns its outcome
// together with the transcript. A failed conversation is reported in the
// output, not as an error; the returned error is reserved for context
// cancellation.
func (d *Driver) Run(ctx context.Context, item types.DatasetItem) (types.TaskOutput, []types.ConversationMessage, error) {
	taskID, err := d.chat.CreateTask(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return types.TaskOutput{}, nil, ctx.Err()
		}
		return fail("", "failed to create task: "+err.Error()), nil, nil
	}
	logger := d.logger.With(zap.String("task_id", taskID))

	var (
		history     []types.ConversationMessage
		finalOutput string
		turnCount   int
		nextMessage = item.Input
	)

	for turn := 1; turn <= d.config.MaxTurns; turn++ {
		message := nextMessage
		if turn == 1 && len(item.Files) > 0 {
			refs, err := d.uploadFiles(ctx, taskID, item.Files, logger)
			if err != nil {
				return fail(taskID, "file upload failed: "+err.Error()), history, nil
			}
			if refs != "" {
				message = message + "\n\n" + refs
			}
		}

		logger.Info("sending turn", zap.Int("turn", turn))
		history = append(history, types.ConversationMessage{Role: "user", Content: message, Turn: turn})

		resp, err := d.chat.SendText(ctx, taskID, message)
		if err != nil {
			if ctx.Err() != nil {
				return types.TaskOutput{}, history, ctx.Err()
			}
			return fail(taskID, "send failed: "+err.Error()), history, nil
		}
		turnCount++
		if d.collector != nil {
			d.collector.RecordTurn()
		}

		if resp.NeedsConfirmation {
			logger.Info("tool confirmation requested",
				zap.String("tool_call_id", resp.Confirmation.ToolCallID))
			history = append(history, types.ConversationMessage{
				Role:       "assistant",
				Content:    resp.Text,
				Turn:       turn,
				ToolCallID: resp.Confirmation.ToolCallID,
			})
			// The confirmation round-trip opens its own trace, so it
			// consumes a turn slot.
			turnCount++
			turn++
			if d.collector != nil {
				d.collector.RecordTurn()
			}
			confResp, err := d.chat.SendConfirmation(ctx, taskID, resp.Confirmation)
			if err != nil {
				if ctx.Err() != nil {
					return types.TaskOutput{}, history, ctx.Err()
				}
				return fail(taskID, "confirmation failed: "+err.Error()), history, nil
			}
			history = append(history, types.ConversationMessage{
				Role:                  "user",
				Content:               "Yes, confirmed.",
				Turn:                  turn,
				ToolCallID:            resp.Confirmation.ToolCallID,
				IsToolExecutionResult: true,
			})
			// Give the backend time to open the confirmation trace before
			// consuming the reply and checking that the session settled.
			if err := sleep(ctx, d.config.ConfirmationDelay); err != nil {
				return types.TaskOutput{}, history, err
			}
			resp = confResp
		}

		if strings.TrimSpace(resp.Text) == "" {
			logger.Warn("empty response, stopping conversation", zap.Int("turn", turn))
			break
		}
		finalOutput = resp.Text
		history = append(history, types.ConversationMessage{Role: "assistant", Content: resp.Text, Turn: turn})

		status := d.sync.SessionSettled(ctx, taskID, turnCount)
		if ctx.Err() != nil {
			return types.TaskOutput{}, history, ctx.Err()
		}
		if !status.Ended {
			return fail(taskID, "session did not settle: "+status.Reason), history, nil
		}

		decision, err := d.judge.Continuation(ctx, item.Input, transcript(history), finalOutput)
		if err != nil {
			logger.Warn("continuation judge failed, stopping", zap.Error(err))
			break
		}
		if !decision.ShouldContinue {
			logger.Info("conversation complete",
				zap.Bool("task_completed", decision.TaskCompleted),
				zap.String("reason", decision.Reason))
			break
		}
		if turn >= d.config.MaxTurns {
			return fail(taskID, "max turns reached"), history, nil
		}
		nextMessage = decision.NextMessage
	}

	if err := d.collectTraces(ctx, taskID, logger); err != nil {
		if ctx.Err() != nil {
			return types.TaskOutput{}, history, ctx.Err()
		}
		// A clean conversation without traces still counts as a run; the
		// evaluators degrade to their trace-not-found results.
		logger.Warn("trace collection failed", zap.Error(err))
	}
	d.inputs.Put(inputKey(item), taskID)

	return types.TaskOutput{SessionID: taskID, Success: true, Message: finalOutput}, history, nil
}

func (d *Driver) uploadFiles(ctx context.Context, taskID string, files []string, logger *zap.Logger) (string, error) {
	var refs []string
	for _, name := range files {
		path := name
		if d.config.DataDir != "" && !filepath.IsAbs(name) {
			path = filepath.Join(d.config.DataDir, name)
		}
		if _, err := os.Stat(path); err != nil {
			logger.Warn("skipping missing file", zap.String("path", path))
			continue
		}
		result, err := d.chat.UploadFile(ctx, taskID, path)
		if err != nil {
			return "", err
		}
		for _, f := range result.Files {
			refs = append(refs, fmt.Sprintf("[Uploaded File: %s]", f.Path))
		}
	}
	return strings.Join(refs, "\n"), nil
}

func (d *Driver) collectTraces(ctx context.Context, taskID string, logger *zap.Logger) error {
	traces, err := d.sync.FindSessionTraces(ctx, taskID, 0, 0)
	if err != nil {
		return err
	}

	completed := make([]trace.Trace, 0, len(traces))
	for _, t := range traces {
		full, err := d.sync.WaitForCompletion(ctx, t.ID)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			logger.Warn("abandoning incomplete trace",
				zap.String("trace_id", t.ID), zap.Error(err))
			continue
		}
		completed = append(completed, *full)
	}
	if len(completed) == 0 {
		return fmt.Errorf("no completed traces for session %s", taskID)
	}
	d.sessions.Put(taskID, completed)
	return nil
}

func fail(sessionID, message string) types.TaskOutput {
	return types.TaskOutput{SessionID: sessionID, Success: false, Message: message}
}

func transcript(history []types.ConversationMessage) []string {
	// Only the most recent exchanges matter for the continuation verdict.
	const window = 6
	start := 0
	if len(history) > window {
		start = len(history) - window
	}
	lines := make([]string, 0, len(history)-start)
	for _, m := range history[start:] {
		lines = append(lines, m.Role+": "+m.Content)
	}
	return lines
}

// inputKey serializes the dataset input the same way every time so the
// evaluators can find the session for an item.
func inputKey(item types.DatasetItem) string {
	data, err := json.Marshal(item.Input)
	if err != nil {
		return item.Input
	}
	return string(data)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
