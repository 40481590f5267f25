package config

import (
	"github.com/BaSui01/agenteval/chat"
	"github.com/BaSui01/agenteval/database"
	"github.com/BaSui01/agenteval/judge"
	"github.com/BaSui01/agenteval/llm/deepseek"
	"github.com/BaSui01/agenteval/runner"
	"github.com/BaSui01/agenteval/trace"
)

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	return &Config{
		Chat:     chat.DefaultConfig(),
		Trace:    trace.DefaultClientConfig(),
		Sync:     trace.DefaultSyncConfig(),
		Deepseek: deepseek.DefaultConfig(),
		Judge:    judge.DefaultConfig(),
		Database: database.DefaultConfig(),
		Runner:   runner.DefaultConfig(),
		Eval: EvalConfig{
			MaxConcurrency: 5,
			Environment:    "development",
		},
		Storage: StorageConfig{
			ExperimentsPath: "data/experiments.jsonl",
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			OutputPaths: []string{"stdout"},
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: "agenteval",
		},
	}
}
