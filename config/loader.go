// Package config loads the harness configuration from defaults, an
// optional YAML file, and environment variable overrides, in that order.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("AGENTEVAL").
//	    Load()
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/agenteval/chat"
	"github.com/BaSui01/agenteval/database"
	"github.com/BaSui01/agenteval/judge"
	"github.com/BaSui01/agenteval/llm/deepseek"
	"github.com/BaSui01/agenteval/runner"
	"github.com/BaSui01/agenteval/trace"
	"gopkg.in/yaml.v3"
)

// Config is the complete harness configuration.
type Config struct {
	// Chat is the chat task API client configuration.
	Chat chat.Config `yaml:"chat" env:"CHAT"`

	// Trace is the observation store client configuration.
	Trace trace.ClientConfig `yaml:"trace" env:"TRACE"`

	// Sync holds the trace synchronization polling budgets.
	Sync trace.SyncConfig `yaml:"sync" env:"SYNC"`

	// Deepseek is the LLM judge provider configuration.
	Deepseek deepseek.Config `yaml:"deepseek" env:"DEEPSEEK"`

	// Judge tunes the LLM judging behavior.
	Judge judge.Config `yaml:"judge" env:"JUDGE"`

	// Database points at the observed application's message store.
	Database database.Config `yaml:"database" env:"DATABASE"`

	// Runner tunes the conversation driver.
	Runner runner.Config `yaml:"runner" env:"RUNNER"`

	// Eval configures evaluator selection and batch concurrency.
	Eval EvalConfig `yaml:"eval" env:"EVAL"`

	// Storage configures experiment record persistence.
	Storage StorageConfig `yaml:"storage" env:"STORAGE"`

	// Log is the logger configuration.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Metrics configures harness self-metrics.
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// EvalConfig configures the evaluation layer.
type EvalConfig struct {
	// Dataset is the dataset file to run.
	Dataset string `yaml:"dataset" env:"DATASET"`
	// Evaluators selects metric ids, empty means all.
	Evaluators []string `yaml:"evaluators" env:"EVALUATORS"`
	// MaxConcurrency bounds parallel conversations, clamped to [1, 20].
	MaxConcurrency int `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
	// Environment labels the run in experiment records.
	Environment string `yaml:"environment" env:"ENVIRONMENT"`
	// RunID is the dataset run to publish aggregates under.
	RunID string `yaml:"run_id" env:"RUN_ID"`
	// ToolCatalogPath points at the canonical tool definitions file.
	ToolCatalogPath string `yaml:"tool_catalog_path" env:"TOOL_CATALOG_PATH"`
	// AllowLeadingAssistant tolerates a stored greeting before the first
	// user message in the conversation-structure check.
	AllowLeadingAssistant bool `yaml:"allow_leading_assistant" env:"ALLOW_LEADING_ASSISTANT"`
}

// StorageConfig configures persistence paths.
type StorageConfig struct {
	// ExperimentsPath is the JSONL experiment log.
	ExperimentsPath string `yaml:"experiments_path" env:"EXPERIMENTS_PATH"`
}

// LogConfig configures the logger.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console.
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths are zap sink URLs.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// EnableCaller annotates entries with the call site.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// MetricsConfig configures harness self-metrics.
type MetricsConfig struct {
	// Enabled turns the prometheus collector on.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Namespace prefixes every metric name.
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// Loader loads configuration with the builder pattern.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the default env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "AGENTEVAL",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a validation hook.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration. Priority: defaults, then YAML file,
// then environment variables.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads configuration and panics on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []string

	if c.Chat.BaseURL == "" {
		errs = append(errs, "chat base_url is required")
	}
	if c.Trace.BaseURL == "" {
		errs = append(errs, "trace base_url is required")
	}
	if c.Sync.PollInterval <= 0 {
		errs = append(errs, "sync poll_interval must be positive")
	}
	if c.Runner.MaxTurns <= 0 {
		errs = append(errs, "runner max_turns must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
