package eval

import (
	"context"
	"time"

	"github.com/BaSui01/agenteval/trace"
	"github.com/BaSui01/agenteval/types"
)

type spanStats struct {
	start    time.Time
	end      time.Time
	duration float64
}

// timingStats finds the earliest start and latest end over the spans and
// returns their distance in seconds. Reports false when no span has both
// timestamps.
func timingStats(spans []trace.Observation) (spanStats, bool) {
	var stats spanStats
	found := false
	for _, obs := range spans {
		if obs.StartTime == nil || obs.EndTime == nil {
			continue
		}
		if !found || obs.StartTime.Before(stats.start) {
			stats.start = *obs.StartTime
		}
		if !found || obs.EndTime.After(stats.end) {
			stats.end = *obs.EndTime
		}
		found = true
	}
	if !found {
		return spanStats{}, false
	}
	stats.duration = stats.end.Sub(stats.start).Seconds()
	return stats, true
}

func outputTokens(spans []trace.Observation) int {
	total := 0
	for _, obs := range spans {
		if obs.Usage != nil {
			total += obs.Usage.Output
		}
	}
	return total
}

// timeToFirstTokenEvaluator reports the fastest first-token latency of the
// session, in seconds.
type timeToFirstTokenEvaluator struct {
	deps Deps
}

func (e *timeToFirstTokenEvaluator) Name() string { return "time_to_first_token" }

func (e *timeToFirstTokenEvaluator) Evaluate(ctx context.Context, rec *types.Record) Result {
	_, observations, gate := e.deps.preamble(e.Name(), rec)
	if gate != nil {
		return *gate
	}

	best := 0.0
	for _, obs := range generationSpans(observations, e.deps.GenerationName) {
		if obs.TimeToFirstToken == nil || *obs.TimeToFirstToken <= 0 {
			continue
		}
		if best == 0 || *obs.TimeToFirstToken < best {
			best = *obs.TimeToFirstToken
		}
	}
	if best == 0 {
		return Result{Name: e.Name(), Value: 0, Comment: "no first-token timing recorded"}
	}
	return Result{Name: e.Name(), Value: best}
}

// timeToLastTokenEvaluator reports the span from the first generation
// start to the last generation end, in seconds.
type timeToLastTokenEvaluator struct {
	deps Deps
}

func (e *timeToLastTokenEvaluator) Name() string { return "time_to_last_token" }

func (e *timeToLastTokenEvaluator) Evaluate(ctx context.Context, rec *types.Record) Result {
	_, observations, gate := e.deps.preamble(e.Name(), rec)
	if gate != nil {
		return *gate
	}
	stats, ok := timingStats(generationSpans(observations, e.deps.GenerationName))
	if !ok {
		return Result{Name: e.Name(), Value: 0, Comment: "no timed generation spans"}
	}
	return Result{Name: e.Name(), Value: stats.duration}
}

// outputTokensPerSecEvaluator reports generation throughput.
type outputTokensPerSecEvaluator struct {
	deps Deps
}

func (e *outputTokensPerSecEvaluator) Name() string { return "output_tokens_per_sec" }

func (e *outputTokensPerSecEvaluator) Evaluate(ctx context.Context, rec *types.Record) Result {
	_, observations, gate := e.deps.preamble(e.Name(), rec)
	if gate != nil {
		return *gate
	}

	generations := generationSpans(observations, e.deps.GenerationName)
	stats, ok := timingStats(generations)
	if !ok || stats.duration <= 0 {
		return Result{Name: e.Name(), Value: 0, Comment: "no generation duration recorded"}
	}
	tokens := outputTokens(generations)
	if tokens == 0 {
		return Result{Name: e.Name(), Value: 0, Comment: "no output tokens recorded"}
	}
	return Result{Name: e.Name(), Value: float64(tokens) / stats.duration}
}

// tokensEvaluator reports total token consumption, input plus output.
type tokensEvaluator struct {
	deps Deps
}

func (e *tokensEvaluator) Name() string { return "tokens" }

func (e *tokensEvaluator) Evaluate(ctx context.Context, rec *types.Record) Result {
	_, observations, gate := e.deps.preamble(e.Name(), rec)
	if gate != nil {
		return *gate
	}

	total := 0
	for _, obs := range generationSpans(observations, e.deps.GenerationName) {
		if obs.Usage != nil {
			total += obs.Usage.Input + obs.Usage.Output
		}
	}
	return Result{Name: e.Name(), Value: float64(total)}
}

// sessionDurationEvaluator reports wall-clock time across the session:
// earliest start to latest end over every span of every trace, with the
// traces' own start and end times folded in.
type sessionDurationEvaluator struct {
	deps Deps
}

func (e *sessionDurationEvaluator) Name() string { return "session_duration" }

func (e *sessionDurationEvaluator) Evaluate(ctx context.Context, rec *types.Record) Result {
	traces, observations, gate := e.deps.preamble(e.Name(), rec)
	if gate != nil {
		return *gate
	}

	stats, haveStart := timingStats(observations)
	haveEnd := haveStart
	for _, t := range traces {
		if t.StartTime != nil && (!haveStart || t.StartTime.Before(stats.start)) {
			stats.start = *t.StartTime
			haveStart = true
		}
		if t.EndTime != nil && (!haveEnd || t.EndTime.After(stats.end)) {
			stats.end = *t.EndTime
			haveEnd = true
		}
	}
	if !haveStart || !haveEnd {
		return Result{Name: e.Name(), Value: 0, Comment: "no timed spans"}
	}
	return Result{Name: e.Name(), Value: stats.end.Sub(stats.start).Seconds()}
}

// nTurnsEvaluator counts user turns as the model saw them in its final
// prompt.
type nTurnsEvaluator struct {
	deps Deps
}

func (e *nTurnsEvaluator) Name() string { return "n_turns" }

func (e *nTurnsEvaluator) Evaluate(ctx context.Context, rec *types.Record) Result {
	_, observations, gate := e.deps.preamble(e.Name(), rec)
	if gate != nil {
		return *gate
	}

	messages := lastStreamInput(observations, e.deps.GenerationName)
	if len(messages) == 0 {
		return Result{Name: e.Name(), Value: 0, Comment: "no recorded model input"}
	}
	turns := 0
	for _, m := range messages {
		if m.Role == "user" {
			turns++
		}
	}
	return Result{Name: e.Name(), Value: float64(turns)}
}
