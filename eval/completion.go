package eval

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/agenteval/trace"
	"github.com/BaSui01/agenteval/types"
)

// completedEvaluator reports whether the conversation actually finished:
// some generation span (or the trace itself) reached its end time, no
// trace carries an abnormal severity level, and the final output is
// non-empty.
type completedEvaluator struct {
	deps Deps
}

func (e *completedEvaluator) Name() string { return "completed" }

func (e *completedEvaluator) Evaluate(ctx context.Context, rec *types.Record) Result {
	traces, observations, gate := e.deps.preamble(e.Name(), rec)
	if gate != nil {
		return *gate
	}

	for _, t := range traces {
		if t.Level != "" && t.Level != "DEFAULT" {
			return Result{Name: e.Name(), Value: 0, Comment: "abnormal trace level " + t.Level}
		}
	}

	ended := false
	for _, t := range traces {
		if t.EndTime != nil {
			ended = true
			break
		}
	}
	if !ended {
		for _, obs := range generationSpans(observations, e.deps.GenerationName) {
			if obs.EndTime != nil {
				ended = true
				break
			}
		}
	}
	if !ended {
		return Result{Name: e.Name(), Value: 0, Comment: "no completed generation span"}
	}

	if strings.TrimSpace(rec.Output.Message) == "" {
		return Result{Name: e.Name(), Value: 0, Comment: "empty final output"}
	}
	return Result{Name: e.Name(), Value: 1}
}

// sessionCostEvaluator sums the session's cost. Each trace contributes its
// first available trace-level cost field; a trace without one contributes
// the sum of its observations' costs instead.
type sessionCostEvaluator struct {
	deps Deps
}

func (e *sessionCostEvaluator) Name() string { return "session_cost" }

func (e *sessionCostEvaluator) Evaluate(ctx context.Context, rec *types.Record) Result {
	traces, _, gate := e.deps.preamble(e.Name(), rec)
	if gate != nil {
		return *gate
	}

	var total float64
	for _, t := range traces {
		total += traceCost(t)
	}
	return Result{Name: e.Name(), Value: total}
}

// A present-but-zero cost field falls through to the next one.
func traceCost(t trace.Trace) float64 {
	switch {
	case t.TotalCost != nil && *t.TotalCost > 0:
		return *t.TotalCost
	case t.CalculatedTotalCost != nil && *t.CalculatedTotalCost > 0:
		return *t.CalculatedTotalCost
	case t.Cost != nil && *t.Cost > 0:
		return *t.Cost
	}
	var sum float64
	for _, obs := range t.Observations {
		switch {
		case obs.CalculatedTotalCost != nil && *obs.CalculatedTotalCost > 0:
			sum += *obs.CalculatedTotalCost
		case obs.Cost != nil && *obs.Cost > 0:
			sum += *obs.Cost
		}
	}
	return sum
}

// comprehensiveEvaluator grades the final answer with an LLM judge,
// feeding it the recorded model-call transcript and timing summary as
// execution context.
type comprehensiveEvaluator struct {
	deps Deps
}

func (e *comprehensiveEvaluator) Name() string { return "comprehensive_score" }

func (e *comprehensiveEvaluator) Evaluate(ctx context.Context, rec *types.Record) Result {
	_, observations, gate := e.deps.preamble(e.Name(), rec)
	if gate != nil {
		return *gate
	}
	if e.deps.Judge == nil {
		return Result{Name: e.Name(), Value: 0, Comment: "judge not configured"}
	}

	expected := ""
	if rec.Item.HasExpectedOutput() {
		expected = rec.Item.ExpectedOutput
	}

	score, err := e.deps.Judge.ScoreResponse(ctx,
		rec.Item.Input, expected, rec.Output.Message,
		executionSummary(observations, e.deps.GenerationName))
	if err != nil {
		return Result{Name: e.Name(), Value: 0, Comment: "judge failed: " + err.Error()}
	}
	return Result{Name: e.Name(), Value: score.Score, Comment: score.Reason}
}

// executionSummary renders what the model actually saw and how fast it
// ran, for the grading prompt.
func executionSummary(observations []trace.Observation, generationName string) string {
	var b strings.Builder

	for _, m := range lastStreamInput(observations, generationName) {
		if m.Role == "system" || m.Role == "function" {
			continue
		}
		text := cleanControlChars(m.text())
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, text)
	}

	generations := generationSpans(observations, generationName)
	if stats, ok := timingStats(generations); ok {
		fmt.Fprintf(&b, "\nTime to Last Token: %.2fs\n", stats.duration)
		fmt.Fprintf(&b, "Total Duration: %.2fs\n", stats.duration)
		fmt.Fprintf(&b, "Total Output Tokens: %d\n", outputTokens(generations))
		if stats.duration > 0 {
			fmt.Fprintf(&b, "Output Speed: %.2f tokens/s\n",
				float64(outputTokens(generations))/stats.duration)
		}
	}
	return b.String()
}
