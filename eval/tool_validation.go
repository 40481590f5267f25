package eval

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/BaSui01/agenteval/types"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// LoadToolCatalog reads the canonical tool definitions used by the tool
// validation judge. The file maps tool names to free-form definition text.
// An empty path yields an empty catalog.
func LoadToolCatalog(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tool catalog: %w", err)
	}
	catalog := make(map[string]string)
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse tool catalog: %w", err)
	}
	return catalog, nil
}

// toolValidationEvaluator grades every tool call the agent made in its
// final model call against the catalog definition, one judge call per
// tool call, and reports the rounded average.
type toolValidationEvaluator struct {
	deps Deps
}

func (e *toolValidationEvaluator) Name() string { return "tool_validation" }

func (e *toolValidationEvaluator) Evaluate(ctx context.Context, rec *types.Record) Result {
	_, observations, gate := e.deps.preamble(e.Name(), rec)
	if gate != nil {
		return *gate
	}

	calls := toolCalls(lastStreamInput(observations, e.deps.GenerationName))
	if len(calls) == 0 {
		return Result{Name: e.Name(), Value: 0, Comment: "no actual tool calls"}
	}
	if e.deps.Judge == nil {
		return Result{Name: e.Name(), Value: 0, Comment: "judge not configured"}
	}

	var total float64
	for _, call := range calls {
		definition, ok := e.deps.Tools[call.ToolName]
		if !ok {
			e.deps.Logger.Warn("tool not in catalog", zap.String("tool", call.ToolName))
			continue
		}
		rendered := fmt.Sprintf("tool: %s\narguments: %s", call.ToolName, string(call.Args))
		score, err := e.deps.Judge.ScoreToolCall(ctx, definition, rendered)
		if err != nil {
			return Result{Name: e.Name(), Value: 0, Comment: "judge failed: " + err.Error()}
		}
		total += score.Score
	}

	avg := total / float64(len(calls))
	return Result{Name: e.Name(), Value: math.Round(avg)}
}
