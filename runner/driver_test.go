package runner

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/BaSui01/agenteval/chat"
	"github.com/BaSui01/agenteval/judge"
	"github.com/BaSui01/agenteval/store"
	"github.com/BaSui01/agenteval/trace"
	"github.com/BaSui01/agenteval/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChat struct {
	createErr     error
	responses     []*chat.Response
	sendErr       error
	confirmations []*chat.Response
	sent          []string
	confirmed     int
}

func (f *fakeChat) CreateTask(ctx context.Context) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	return "task-1", nil
}

func (f *fakeChat) UploadFile(ctx context.Context, taskID, path string) (*chat.UploadResult, error) {
	result := &chat.UploadResult{Success: true}
	result.Files = append(result.Files, struct {
		Path string `json:"path"`
	}{Path: "/workspace/up.csv"})
	return result, nil
}

func (f *fakeChat) SendText(ctx context.Context, taskID, text string) (*chat.Response, error) {
	f.sent = append(f.sent, text)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	i := len(f.sent) - 1
	if i >= len(f.responses) {
		return &chat.Response{Text: ""}, nil
	}
	return f.responses[i], nil
}

func (f *fakeChat) SendConfirmation(ctx context.Context, taskID string, conf chat.Confirmation) (*chat.Response, error) {
	i := f.confirmed
	f.confirmed++
	if i >= len(f.confirmations) {
		return &chat.Response{Text: ""}, nil
	}
	return f.confirmations[i], nil
}

type fakeSync struct {
	settled      bool
	settleReason string
	turnCounts   []int
	traces       []trace.Trace
	findErr      error
}

func (f *fakeSync) SessionSettled(ctx context.Context, sessionID string, turnCount int) trace.SessionStatus {
	f.turnCounts = append(f.turnCounts, turnCount)
	return trace.SessionStatus{Ended: f.settled, Reason: f.settleReason}
}

func (f *fakeSync) FindSessionTraces(ctx context.Context, sessionID string, attempts, turnCount int) ([]trace.Trace, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.traces, nil
}

func (f *fakeSync) WaitForCompletion(ctx context.Context, traceID string) (*trace.Trace, error) {
	for _, t := range f.traces {
		if t.ID == traceID {
			return &t, nil
		}
	}
	return nil, errors.New("unknown trace")
}

type fakeJudge struct {
	decisions []judge.Decision
	calls     int
}

func (f *fakeJudge) Continuation(ctx context.Context, question string, history []string, lastResponse string) (judge.Decision, error) {
	i := f.calls
	f.calls++
	if i >= len(f.decisions) {
		return judge.Decision{ShouldContinue: false}, nil
	}
	return f.decisions[i], nil
}

func testDriver(c ChatAPI, s Synchronizer, j ContinuationJudge) (*Driver, *store.SessionCache, *store.InputSessionMap) {
	sessions := store.NewSessionCache()
	inputs := store.NewInputSessionMap()
	cfg := DefaultConfig()
	cfg.ConfirmationDelay = time.Millisecond
	return NewDriver(c, s, j, sessions, inputs, cfg, nil), sessions, inputs
}

func TestDriverRun(t *testing.T) {
	t.Run("single turn success caches traces", func(t *testing.T) {
		chatAPI := &fakeChat{responses: []*chat.Response{{Text: "the answer"}}}
		sync := &fakeSync{settled: true, traces: []trace.Trace{{ID: "t1"}}}
		j := &fakeJudge{decisions: []judge.Decision{{TaskCompleted: true}}}
		d, sessions, inputs := testDriver(chatAPI, sync, j)

		out, history, err := d.Run(context.Background(), types.DatasetItem{Input: "question"})
		require.NoError(t, err)
		assert.True(t, out.Success)
		assert.Equal(t, "task-1", out.SessionID)
		assert.Equal(t, "the answer", out.Message)
		assert.Equal(t, []int{1}, sync.turnCounts)

		cached, ok := sessions.Get("task-1")
		require.True(t, ok)
		assert.Len(t, cached, 1)

		_, ok = inputs.Get(`"question"`)
		assert.True(t, ok)

		require.Len(t, history, 2)
		assert.Equal(t, "user", history[0].Role)
		assert.Equal(t, "assistant", history[1].Role)
	})

	t.Run("create failure is fatal", func(t *testing.T) {
		chatAPI := &fakeChat{createErr: errors.New("boom")}
		d, _, _ := testDriver(chatAPI, &fakeSync{}, &fakeJudge{})

		out, _, err := d.Run(context.Background(), types.DatasetItem{Input: "q"})
		require.NoError(t, err)
		assert.False(t, out.Success)
		assert.Contains(t, out.Message, "failed to create task")
	})

	t.Run("confirmation consumes an extra turn slot", func(t *testing.T) {
		chatAPI := &fakeChat{
			responses: []*chat.Response{{
				Text:              "I need to delete things. Proceed?",
				NeedsConfirmation: true,
				Confirmation:      chat.Confirmation{ToolCallID: "call-1", Message: "Proceed?"},
			}},
			confirmations: []*chat.Response{{Text: "deleted, done"}},
		}
		sync := &fakeSync{settled: true, traces: []trace.Trace{{ID: "t1"}, {ID: "t2"}}}
		j := &fakeJudge{decisions: []judge.Decision{{TaskCompleted: true}}}
		d, _, _ := testDriver(chatAPI, sync, j)

		out, history, err := d.Run(context.Background(), types.DatasetItem{Input: "q"})
		require.NoError(t, err)
		assert.True(t, out.Success)
		assert.Equal(t, "deleted, done", out.Message)
		// One send plus the confirmation round-trip settles at two traces.
		assert.Equal(t, []int{2}, sync.turnCounts)
		assert.Equal(t, 1, chatAPI.confirmed)

		// The assistant message that asked for the confirmation is kept in
		// the transcript, right before the synthetic confirmed turn.
		require.Len(t, history, 4)
		assert.Equal(t, "assistant", history[1].Role)
		assert.Equal(t, "I need to delete things. Proceed?", history[1].Content)
		assert.Equal(t, "call-1", history[1].ToolCallID)
		assert.False(t, history[1].IsToolExecutionResult)
		assert.Equal(t, "user", history[2].Role)
		assert.Equal(t, "Yes, confirmed.", history[2].Content)
		assert.Equal(t, "call-1", history[2].ToolCallID)
		assert.True(t, history[2].IsToolExecutionResult)
	})

	t.Run("unsettled session fails the item", func(t *testing.T) {
		chatAPI := &fakeChat{responses: []*chat.Response{{Text: "answer"}}}
		sync := &fakeSync{settled: false, settleReason: "found 0 traces, expected 1"}
		d, _, _ := testDriver(chatAPI, sync, &fakeJudge{})

		out, _, err := d.Run(context.Background(), types.DatasetItem{Input: "q"})
		require.NoError(t, err)
		assert.False(t, out.Success)
		assert.Contains(t, out.Message, "session did not settle")
	})

	t.Run("judge keeps the conversation going", func(t *testing.T) {
		chatAPI := &fakeChat{responses: []*chat.Response{
			{Text: "partial"},
			{Text: "complete"},
		}}
		sync := &fakeSync{settled: true, traces: []trace.Trace{{ID: "t1"}}}
		j := &fakeJudge{decisions: []judge.Decision{
			{ShouldContinue: true, NextMessage: "keep going"},
			{TaskCompleted: true},
		}}
		d, _, _ := testDriver(chatAPI, sync, j)

		out, _, err := d.Run(context.Background(), types.DatasetItem{Input: "q"})
		require.NoError(t, err)
		assert.True(t, out.Success)
		assert.Equal(t, "complete", out.Message)
		require.Len(t, chatAPI.sent, 2)
		assert.Equal(t, "keep going", chatAPI.sent[1])
	})

	t.Run("max turns reached fails the item", func(t *testing.T) {
		chatAPI := &fakeChat{responses: []*chat.Response{
			{Text: "1"}, {Text: "2"}, {Text: "3"}, {Text: "4"}, {Text: "5"},
		}}
		sync := &fakeSync{settled: true, traces: []trace.Trace{{ID: "t1"}}}
		j := &fakeJudge{decisions: []judge.Decision{
			{ShouldContinue: true, NextMessage: "more"},
			{ShouldContinue: true, NextMessage: "more"},
			{ShouldContinue: true, NextMessage: "more"},
			{ShouldContinue: true, NextMessage: "more"},
		}}
		d, _, _ := testDriver(chatAPI, sync, j)

		out, _, err := d.Run(context.Background(), types.DatasetItem{Input: "q"})
		require.NoError(t, err)
		assert.False(t, out.Success)
		assert.Equal(t, "max turns reached", out.Message)
		assert.Len(t, chatAPI.sent, 4)
	})

	t.Run("empty response stops softly", func(t *testing.T) {
		chatAPI := &fakeChat{responses: []*chat.Response{
			{Text: "something"},
			{Text: ""},
		}}
		sync := &fakeSync{settled: true, traces: []trace.Trace{{ID: "t1"}}}
		j := &fakeJudge{decisions: []judge.Decision{
			{ShouldContinue: true, NextMessage: "more"},
		}}
		d, _, _ := testDriver(chatAPI, sync, j)

		out, _, err := d.Run(context.Background(), types.DatasetItem{Input: "q"})
		require.NoError(t, err)
		assert.True(t, out.Success)
		assert.Equal(t, "something", out.Message)
	})

	t.Run("whitespace-only response stops softly", func(t *testing.T) {
		chatAPI := &fakeChat{responses: []*chat.Response{
			{Text: "something"},
			{Text: " \n\t "},
		}}
		sync := &fakeSync{settled: true, traces: []trace.Trace{{ID: "t1"}}}
		j := &fakeJudge{decisions: []judge.Decision{
			{ShouldContinue: true, NextMessage: "more"},
		}}
		d, _, _ := testDriver(chatAPI, sync, j)

		out, _, err := d.Run(context.Background(), types.DatasetItem{Input: "q"})
		require.NoError(t, err)
		assert.True(t, out.Success)
		assert.Equal(t, "something", out.Message)
	})

	t.Run("trace collection failure still reports success", func(t *testing.T) {
		chatAPI := &fakeChat{responses: []*chat.Response{{Text: "answer"}}}
		sync := &fakeSync{settled: true, findErr: trace.ErrNoTraces}
		j := &fakeJudge{decisions: []judge.Decision{{TaskCompleted: true}}}
		d, sessions, inputs := testDriver(chatAPI, sync, j)

		out, _, err := d.Run(context.Background(), types.DatasetItem{Input: "q"})
		require.NoError(t, err)
		assert.True(t, out.Success)
		assert.Equal(t, "answer", out.Message)

		// Nothing cached, so the evaluators will report trace not found.
		_, ok := sessions.Get("task-1")
		assert.False(t, ok)
		_, ok = inputs.Get(`"q"`)
		assert.True(t, ok)
	})

	t.Run("uploads attach file references on the first turn", func(t *testing.T) {
		dir := t.TempDir()
		file := dir + "/up.csv"
		require.NoError(t, os.WriteFile(file, []byte("a,b\n"), 0o644))

		chatAPI := &fakeChat{responses: []*chat.Response{{Text: "ok"}}}
		sync := &fakeSync{settled: true, traces: []trace.Trace{{ID: "t1"}}}
		j := &fakeJudge{decisions: []judge.Decision{{TaskCompleted: true}}}
		sessions := store.NewSessionCache()
		inputs := store.NewInputSessionMap()
		cfg := DefaultConfig()
		cfg.ConfirmationDelay = time.Millisecond
		cfg.DataDir = dir
		d := NewDriver(chatAPI, sync, j, sessions, inputs, cfg, nil)

		out, _, err := d.Run(context.Background(), types.DatasetItem{Input: "q", Files: []string{"up.csv"}})
		require.NoError(t, err)
		assert.True(t, out.Success)
		require.Len(t, chatAPI.sent, 1)
		assert.Contains(t, chatAPI.sent[0], "[Uploaded File: /workspace/up.csv]")
	})

	t.Run("missing files are skipped", func(t *testing.T) {
		chatAPI := &fakeChat{responses: []*chat.Response{{Text: "ok"}}}
		sync := &fakeSync{settled: true, traces: []trace.Trace{{ID: "t1"}}}
		j := &fakeJudge{decisions: []judge.Decision{{TaskCompleted: true}}}
		d, _, _ := testDriver(chatAPI, sync, j)

		out, _, err := d.Run(context.Background(), types.DatasetItem{Input: "q", Files: []string{"/does/not/exist.csv"}})
		require.NoError(t, err)
		assert.True(t, out.Success)
		assert.Equal(t, "q", chatAPI.sent[0])
	})

	t.Run("cancellation propagates", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		chatAPI := &fakeChat{createErr: context.Canceled}
		d, _, _ := testDriver(chatAPI, &fakeSync{}, &fakeJudge{})

		_, _, err := d.Run(ctx, types.DatasetItem{Input: "q"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
