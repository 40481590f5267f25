package judge

import (
	"context"
	"strings"
	"testing"

	"github.com/BaSui01/agenteval/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	reply   string
	err     error
	lastReq *llm.ChatRequest
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Content: f.reply}, nil
}

func newTestJudge(p llm.Provider) *Judge {
	return New(p, DefaultConfig(), DefaultPrompts(), nil)
}

func TestExtractJSON(t *testing.T) {
	t.Run("strict parse", func(t *testing.T) {
		var out map[string]any
		require.NoError(t, ExtractJSON(`{"score": 0.5}`, &out))
		assert.Equal(t, 0.5, out["score"])
	})

	t.Run("extracts from surrounding prose", func(t *testing.T) {
		var out Score
		content := "Sure! Here is my verdict:\n```json\n{\"score\": 0.8, \"reason\": \"good\"}\n```\nHope that helps."
		require.NoError(t, ExtractJSON(content, &out))
		assert.Equal(t, 0.8, out.Score)
		assert.Equal(t, "good", out.Reason)
	})

	t.Run("fails without an object", func(t *testing.T) {
		var out Score
		assert.Error(t, ExtractJSON("no json here", &out))
		assert.Error(t, ExtractJSON("", &out))
		assert.Error(t, ExtractJSON("{broken", &out))
	})
}

func TestContinuation(t *testing.T) {
	t.Run("parses full verdict", func(t *testing.T) {
		p := &fakeProvider{reply: `{"taskCompleted": false, "shouldContinue": true, "nextMessage": "go on", "reason": "incomplete"}`}
		d, err := newTestJudge(p).Continuation(context.Background(), "q", nil, "partial answer")
		require.NoError(t, err)
		assert.True(t, d.ShouldContinue)
		assert.Equal(t, "go on", d.NextMessage)
	})

	t.Run("stops on completed task", func(t *testing.T) {
		p := &fakeProvider{reply: `{"taskCompleted": true, "shouldContinue": true}`}
		d, err := newTestJudge(p).Continuation(context.Background(), "q", nil, "final answer")
		require.NoError(t, err)
		assert.True(t, d.TaskCompleted)
		assert.False(t, d.ShouldContinue)
	})

	t.Run("defaults next message when continuing", func(t *testing.T) {
		p := &fakeProvider{reply: `{"shouldContinue": true}`}
		d, err := newTestJudge(p).Continuation(context.Background(), "q", nil, "hmm")
		require.NoError(t, err)
		assert.True(t, d.ShouldContinue)
		assert.Equal(t, DefaultNextMessage, d.NextMessage)
	})

	t.Run("unparseable verdict stops the conversation", func(t *testing.T) {
		p := &fakeProvider{reply: "I think you should keep going!"}
		d, err := newTestJudge(p).Continuation(context.Background(), "q", nil, "answer")
		require.NoError(t, err)
		assert.False(t, d.ShouldContinue)
	})

	t.Run("nil provider", func(t *testing.T) {
		d, err := newTestJudge(nil).Continuation(context.Background(), "q", nil, "answer")
		assert.ErrorIs(t, err, ErrNotConfigured)
		assert.False(t, d.ShouldContinue)
	})

	t.Run("long history is condensed", func(t *testing.T) {
		p := &fakeProvider{reply: `{"shouldContinue": false}`}
		long := strings.Repeat("x", summaryThreshold+100)
		_, err := newTestJudge(p).Continuation(context.Background(), "q", []string{long}, "done")
		require.NoError(t, err)
		// The fake provider answers the summary call with non-JSON-free
		// text too, so the rendered prompt must not carry the full blob.
		assert.NotContains(t, p.lastReq.Messages[0].Content, long)
	})
}

func TestSummarize(t *testing.T) {
	t.Run("uses the provider", func(t *testing.T) {
		p := &fakeProvider{reply: "short version"}
		got := newTestJudge(p).Summarize(context.Background(), strings.Repeat("y", 1000))
		assert.Equal(t, "short version", got)
	})

	t.Run("truncates without a provider", func(t *testing.T) {
		long := strings.Repeat("y", 1000)
		got := newTestJudge(nil).Summarize(context.Background(), long)
		assert.Len(t, got, summaryThreshold+3)
		assert.True(t, strings.HasSuffix(got, "..."))
	})

	t.Run("short content passes through", func(t *testing.T) {
		got := newTestJudge(nil).Summarize(context.Background(), "short")
		assert.Equal(t, "short", got)
	})
}

func TestScoreResponse(t *testing.T) {
	t.Run("with expected output uses reference prompt", func(t *testing.T) {
		p := &fakeProvider{reply: `{"score": 90, "reason": "matches"}`}
		j := newTestJudge(p)
		score, err := j.ScoreResponse(context.Background(), "q", "42", "the answer is 42", "meta")
		require.NoError(t, err)
		assert.Equal(t, 90.0, score.Score)
		assert.Contains(t, p.lastReq.Messages[0].Content, "Reference answer")
		assert.Contains(t, p.lastReq.Messages[0].Content, "42")
	})

	t.Run("without expected output uses open prompt", func(t *testing.T) {
		p := &fakeProvider{reply: `{"score": 40, "reason": "partial"}`}
		j := newTestJudge(p)
		_, err := j.ScoreResponse(context.Background(), "q", "", "answer", "")
		require.NoError(t, err)
		assert.NotContains(t, p.lastReq.Messages[0].Content, "Reference answer")
	})

	t.Run("keeps the hundred-point scale", func(t *testing.T) {
		p := &fakeProvider{reply: `{"score": 85, "reason": "mostly correct"}`}
		score, err := newTestJudge(p).ScoreResponse(context.Background(), "q", "", "a", "")
		require.NoError(t, err)
		assert.Equal(t, 85.0, score.Score)
	})

	t.Run("clamps out-of-range scores", func(t *testing.T) {
		p := &fakeProvider{reply: `{"score": 750}`}
		score, err := newTestJudge(p).ScoreResponse(context.Background(), "q", "", "a", "")
		require.NoError(t, err)
		assert.Equal(t, 100.0, score.Score)

		p.reply = `{"score": -5}`
		score, err = newTestJudge(p).ScoreResponse(context.Background(), "q", "", "a", "")
		require.NoError(t, err)
		assert.Equal(t, 0.0, score.Score)
	})
}

func TestScoreToolCall(t *testing.T) {
	p := &fakeProvider{reply: `{"score": 100, "reason": "correct"}`}
	score, err := newTestJudge(p).ScoreToolCall(context.Background(), "def", "call")
	require.NoError(t, err)
	assert.Equal(t, 100.0, score.Score)
	assert.Contains(t, p.lastReq.Messages[0].Content, "[Tool Definition - Standard Format]")
}

func TestLoadPrompts(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		prompts, err := LoadPrompts("")
		require.NoError(t, err)
		assert.Equal(t, DefaultPrompts(), prompts)
	})
}
