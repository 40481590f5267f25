// Package eval turns settled conversations into scalar metrics: the
// evaluator registry, the per-item extractors, the batch experiment loop,
// and the run-level aggregation.
package eval

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/agenteval/database"
	"github.com/BaSui01/agenteval/judge"
	"github.com/BaSui01/agenteval/store"
	"github.com/BaSui01/agenteval/trace"
	"github.com/BaSui01/agenteval/types"
	"go.uber.org/zap"
)

// Result is one metric value for one conversation. Value is always in the
// metric's natural unit; Comment explains zero or degraded values.
type Result struct {
	Name    string  `json:"name"`
	Value   float64 `json:"value"`
	Comment string  `json:"comment,omitempty"`
}

// Evaluator computes one metric from a finished conversation. Evaluate
// never returns an error: anything that goes wrong becomes a zero-value
// Result with an explanatory comment.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, rec *types.Record) Result
}

// Deps bundles what evaluators share. Judge and DB may be nil; dependent
// evaluators then report themselves unavailable instead of failing.
type Deps struct {
	Sessions       *store.SessionCache
	Judge          *judge.Judge
	DB             *database.Client
	GenerationName string
	// Tools maps tool names to their canonical definitions for the
	// tool validation judge.
	Tools map[string]string
	// AllowLeadingAssistant accepts a greeting row before the first user
	// message in the conversation-structure check.
	AllowLeadingAssistant bool
	Logger                *zap.Logger
}

// Registry maps metric ids to evaluators.
type Registry struct {
	mu         sync.RWMutex
	evaluators map[string]Evaluator
}

// NewRegistry builds a registry with the full default evaluator set.
func NewRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.GenerationName == "" {
		deps.GenerationName = "ai.streamText"
	}
	r := &Registry{evaluators: make(map[string]Evaluator)}
	for _, e := range defaultEvaluators(deps) {
		r.Register(e)
	}
	return r
}

// Register adds or replaces an evaluator.
func (r *Registry) Register(e Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluators[e.Name()] = e
}

// Get returns the evaluator for an id.
func (r *Registry) Get(name string) (Evaluator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.evaluators[name]
	return e, ok
}

// Names lists the registered metric ids, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.evaluators))
	for name := range r.evaluators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select resolves a list of metric ids. An empty list selects everything;
// an unknown id is an error.
func (r *Registry) Select(names []string) ([]Evaluator, error) {
	if len(names) == 0 {
		names = r.Names()
	}
	selected := make([]Evaluator, 0, len(names))
	for _, name := range names {
		e, ok := r.Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown evaluator: %s", name)
		}
		selected = append(selected, e)
	}
	return selected, nil
}

// Evaluate runs one evaluator with panic containment.
func Evaluate(ctx context.Context, e Evaluator, rec *types.Record, logger *zap.Logger) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			if logger != nil {
				logger.Error("evaluator panic",
					zap.String("evaluator", e.Name()),
					zap.Any("panic", r))
			}
			result = Result{Name: e.Name(), Value: 0, Comment: fmt.Sprintf("evaluator panic: %v", r)}
		}
	}()
	return e.Evaluate(ctx, rec)
}

// preamble applies the shared gate every extractor runs first: failed
// conversations, missing session ids, and cache misses all yield a zero
// result. On success it returns the cached traces and their merged
// observations.
func (d *Deps) preamble(name string, rec *types.Record) ([]trace.Trace, []trace.Observation, *Result) {
	if !rec.Output.Success {
		comment := rec.Output.Message
		if comment == "" {
			comment = "conversation failed"
		}
		return nil, nil, &Result{Name: name, Value: 0, Comment: comment}
	}
	if rec.Output.SessionID == "" {
		return nil, nil, &Result{Name: name, Value: 0, Comment: "session id not found"}
	}
	traces, ok := d.Sessions.Get(rec.Output.SessionID)
	if !ok || len(traces) == 0 {
		return nil, nil, &Result{Name: name, Value: 0, Comment: "trace not found"}
	}
	return traces, trace.MergeObservations(traces), nil
}

func defaultEvaluators(deps Deps) []Evaluator {
	return []Evaluator{
		&completedEvaluator{deps: deps},
		&sessionCostEvaluator{deps: deps},
		&comprehensiveEvaluator{deps: deps},
		&databaseStatusEvaluator{deps: deps},
		&toolValidationEvaluator{deps: deps},
		&timeToFirstTokenEvaluator{deps: deps},
		&timeToLastTokenEvaluator{deps: deps},
		&outputTokensPerSecEvaluator{deps: deps},
		&tokensEvaluator{deps: deps},
		&sessionDurationEvaluator{deps: deps},
		&nTurnsEvaluator{deps: deps},
	}
}
