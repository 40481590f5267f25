package eval

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/BaSui01/agenteval/trace"
	"github.com/BaSui01/agenteval/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTask struct {
	mu      sync.Mutex
	active  int32
	peak    int32
	outputs map[string]types.TaskOutput
}

func (f *fakeTask) Run(ctx context.Context, item types.DatasetItem) (types.TaskOutput, []types.ConversationMessage, error) {
	current := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	f.mu.Lock()
	if current > f.peak {
		f.peak = current
	}
	out, ok := f.outputs[item.ID]
	f.mu.Unlock()
	if !ok {
		out = types.TaskOutput{SessionID: "sess-" + item.ID, Success: true, Message: "done"}
	}
	return out, []types.ConversationMessage{{Role: "user", Content: item.Input, Turn: 1}}, nil
}

type cancellingTask struct {
	cancel context.CancelFunc
}

func (c *cancellingTask) Run(ctx context.Context, item types.DatasetItem) (types.TaskOutput, []types.ConversationMessage, error) {
	c.cancel()
	<-ctx.Done()
	return types.TaskOutput{}, nil, ctx.Err()
}

func items(n int) []types.DatasetItem {
	out := make([]types.DatasetItem, n)
	for i := range out {
		out[i] = types.DatasetItem{ID: string(rune('a' + i)), Input: "q"}
	}
	return out
}

func TestExperimentRun(t *testing.T) {
	t.Run("every item gets a report row", func(t *testing.T) {
		sessions := depsWith(t, nil).Sessions
		sessions.Put("sess-a", []trace.Trace{{ID: "t", EndTime: ts(100)}})
		sessions.Put("sess-b", []trace.Trace{{ID: "t", EndTime: ts(100)}})
		deps := Deps{Sessions: sessions, GenerationName: "ai.streamText"}
		evaluators := []Evaluator{&completedEvaluator{deps: deps}}

		task := &fakeTask{outputs: map[string]types.TaskOutput{
			"c": {SessionID: "sess-c", Success: false, Message: "session did not settle"},
		}}
		exp := NewExperiment("exp-1", task, evaluators, 2, nil, nil)
		report, err := exp.Run(context.Background(), items(3))
		require.NoError(t, err)
		require.Len(t, report.Items, 3)

		assert.Equal(t, 1.0, report.Items[0].Results[0].Value)
		assert.Equal(t, 1.0, report.Items[1].Results[0].Value)

		// the failed conversation still gets a full, zeroed metric row
		failed := report.Items[2]
		assert.False(t, failed.Output.Success)
		require.Len(t, failed.Results, 1)
		assert.Zero(t, failed.Results[0].Value)
		assert.Equal(t, "session did not settle", failed.Results[0].Comment)
	})

	t.Run("concurrency is bounded", func(t *testing.T) {
		task := &fakeTask{}
		exp := NewExperiment("exp-2", task, nil, 2, nil, nil)
		_, err := exp.Run(context.Background(), items(10))
		require.NoError(t, err)
		assert.LessOrEqual(t, task.peak, int32(2))
	})

	t.Run("cancellation propagates", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		exp := NewExperiment("exp-3", &cancellingTask{cancel: cancel}, nil, 1, nil, nil)
		report, err := exp.Run(ctx, items(2))
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
		assert.Len(t, report.Items, 2)
	})
}

func TestNewExperimentClampsConcurrency(t *testing.T) {
	assert.Equal(t, defaultConcurrency, NewExperiment("e", nil, nil, 0, nil, nil).concurrency)
	assert.Equal(t, 1, NewExperiment("e", nil, nil, -3, nil, nil).concurrency)
	assert.Equal(t, maxConcurrency, NewExperiment("e", nil, nil, 99, nil, nil).concurrency)
	assert.Equal(t, 7, NewExperiment("e", nil, nil, 7, nil, nil).concurrency)
}

type fakeWriter struct {
	scores []trace.RunScore
	err    error
}

func (f *fakeWriter) CreateRunScore(ctx context.Context, score trace.RunScore) error {
	f.scores = append(f.scores, score)
	return f.err
}

func TestAggregator(t *testing.T) {
	report := &Report{Items: []ItemReport{
		{Results: []Result{{Name: "session_cost", Value: 0.5}, {Name: "tokens", Value: 100}}},
		{Results: []Result{{Name: "session_cost", Value: 0.25}}},
		{Results: []Result{{Name: "completed", Value: 1}}},
	}}

	t.Run("total session cost", func(t *testing.T) {
		agg := NewAggregator(nil, nil).TotalSessionCost(report)
		assert.Equal(t, "total_session_cost", agg.Name)
		assert.InDelta(t, 0.75, agg.Total, 1e-9)
		assert.InDelta(t, 0.375, agg.Average, 1e-9)
		assert.Equal(t, 2, agg.Count)
		assert.Empty(t, agg.Comment)
	})

	t.Run("empty run yields no data", func(t *testing.T) {
		agg := NewAggregator(nil, nil).TotalSessionCost(&Report{})
		assert.Zero(t, agg.Total)
		assert.Equal(t, "no data", agg.Comment)
	})

	t.Run("publish writes the total under the run id", func(t *testing.T) {
		w := &fakeWriter{}
		a := NewAggregator(w, nil)
		agg := a.TotalSessionCost(report)
		require.NoError(t, a.Publish(context.Background(), "run-1", agg))
		require.Len(t, w.scores, 1)
		assert.Equal(t, "run-1", w.scores[0].RunID)
		assert.Equal(t, "total_session_cost", w.scores[0].Name)
		assert.InDelta(t, 0.75, w.scores[0].Value, 1e-9)
		assert.Contains(t, w.scores[0].Comment, "avg")
	})

	t.Run("publish without run id is a no-op", func(t *testing.T) {
		w := &fakeWriter{}
		a := NewAggregator(w, nil)
		require.NoError(t, a.Publish(context.Background(), "", Aggregate{Name: "x"}))
		assert.Empty(t, w.scores)
	})
}
