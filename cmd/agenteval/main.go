// Command agenteval runs evaluation experiments against a deployed
// conversational agent.
//
// Usage:
//
//	agenteval run --config config.yaml     # run an experiment
//	agenteval evaluators                    # list available metrics
//	agenteval history                       # show past experiment records
//	agenteval version                       # show version information
//
// The EVAL_DATASET, EVAL_EVALUATORS and EVAL_MAX_CONCURRENCY environment
// variables override the eval section of the configuration.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agenteval/chat"
	"github.com/BaSui01/agenteval/config"
	"github.com/BaSui01/agenteval/database"
	"github.com/BaSui01/agenteval/eval"
	"github.com/BaSui01/agenteval/internal/logging"
	"github.com/BaSui01/agenteval/internal/metrics"
	"github.com/BaSui01/agenteval/judge"
	"github.com/BaSui01/agenteval/llm"
	"github.com/BaSui01/agenteval/llm/deepseek"
	"github.com/BaSui01/agenteval/runner"
	"github.com/BaSui01/agenteval/storage"
	"github.com/BaSui01/agenteval/store"
	"github.com/BaSui01/agenteval/trace"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runCommand(os.Args[2:])
	case "evaluators":
		evaluatorsCommand()
	case "history":
		historyCommand(os.Args[2:])
	case "version":
		fmt.Printf("agenteval %s (built %s, commit %s)\n", Version, BuildTime, GitCommit)
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: agenteval <command> [flags]

commands:
  run         run an evaluation experiment
  evaluators  list available metric ids
  history     show past experiment records
  version     show version information`)
}

func runCommand(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "configuration file path")
	dataset := fs.String("dataset", "", "dataset file, overrides configuration")
	fs.Parse(args)

	cfg, err := config.NewLoader().
		WithConfigPath(*configPath).
		WithValidator(func(c *config.Config) error { return c.Validate() }).
		Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	applyLegacyEnv(cfg)
	if *dataset != "" {
		cfg.Eval.Dataset = *dataset
	}
	if cfg.Eval.Dataset == "" {
		fmt.Fprintln(os.Stderr, "no dataset configured")
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("experiment failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	items, err := storage.LoadDataset(cfg.Eval.Dataset)
	if err != nil {
		return err
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, logger)
	}

	traceClient := trace.NewClient(cfg.Trace, logger)
	synchronizer := trace.NewSynchronizer(traceClient, cfg.Sync, logger).WithCollector(collector)
	chatClient := chat.NewClient(cfg.Chat, logger)

	prompts, err := judge.LoadPrompts(cfg.Judge.PromptsPath)
	if err != nil {
		logger.Warn("prompt overrides unavailable, using defaults", zap.Error(err))
	}
	var provider llm.Provider
	if p := deepseek.NewProvider(cfg.Deepseek, logger); p != nil {
		provider = p
	} else {
		logger.Warn("no judge API key configured, judge metrics will degrade")
	}
	j := judge.New(provider, cfg.Judge, prompts, logger).WithCollector(collector)

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	} else {
		logger.Warn("no database configured, database_status will degrade")
	}

	tools, err := eval.LoadToolCatalog(cfg.Eval.ToolCatalogPath)
	if err != nil {
		return err
	}

	sessions := store.NewSessionCache()
	inputs := store.NewInputSessionMap()

	registry := eval.NewRegistry(eval.Deps{
		Sessions:              sessions,
		Judge:                 j,
		DB:                    db,
		GenerationName:        cfg.Sync.GenerationName,
		Tools:                 tools,
		AllowLeadingAssistant: cfg.Eval.AllowLeadingAssistant,
		Logger:                logger,
	})
	evaluators, err := registry.Select(cfg.Eval.Evaluators)
	if err != nil {
		return err
	}

	driver := runner.NewDriver(chatClient, synchronizer, j, sessions, inputs, cfg.Runner, logger).
		WithCollector(collector)

	experimentID := "exp-" + uuid.NewString()
	experiment := eval.NewExperiment(experimentID, driver, evaluators, cfg.Eval.MaxConcurrency, collector, logger)

	logger.Info("starting experiment",
		zap.String("experiment_id", experimentID),
		zap.String("dataset", cfg.Eval.Dataset),
		zap.Int("items", len(items)),
		zap.Int("concurrency", cfg.Eval.MaxConcurrency))

	report, err := experiment.Run(ctx, items)
	if err != nil {
		return err
	}

	aggregator := eval.NewAggregator(traceClient, logger)
	cost := aggregator.TotalSessionCost(report)
	if err := aggregator.Publish(ctx, cfg.Eval.RunID, cost); err != nil {
		logger.Warn("aggregate publish failed", zap.Error(err))
	}

	printSummary(report, cost)

	recordStore := storage.NewStore(cfg.Storage.ExperimentsPath, logger)
	record := storage.ExperimentRecord{
		ExperimentID:   experimentID,
		Timestamp:      time.Now().UnixMilli(),
		Dataset:        cfg.Eval.Dataset,
		Environment:    cfg.Eval.Environment,
		Evaluators:     evaluatorNames(evaluators),
		MaxConcurrency: cfg.Eval.MaxConcurrency,
		Metrics:        runMetrics(report, evaluators),
	}
	if err := recordStore.Append(record); err != nil {
		logger.Warn("experiment record not saved", zap.Error(err))
	}
	return nil
}

// applyLegacyEnv honors the unprefixed environment variables the runner
// scripts historically used.
func applyLegacyEnv(cfg *config.Config) {
	if v := os.Getenv("EVAL_DATASET"); v != "" {
		cfg.Eval.Dataset = v
	}
	if v := os.Getenv("EVAL_EVALUATORS"); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.Eval.Evaluators = parts
	}
	if v := os.Getenv("EVAL_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Eval.MaxConcurrency = n
		}
	}
}

// runMetrics averages each selected metric over the run. A selected metric
// with no computed values stays nil in the record.
func runMetrics(report *eval.Report, evaluators []eval.Evaluator) map[string]*float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, item := range report.Items {
		for _, r := range item.Results {
			sums[r.Name] += r.Value
			counts[r.Name]++
		}
	}

	out := make(map[string]*float64, len(evaluators))
	for _, e := range evaluators {
		name := e.Name()
		if counts[name] == 0 {
			out[name] = nil
			continue
		}
		avg := sums[name] / float64(counts[name])
		out[name] = &avg
	}
	return out
}

func evaluatorNames(evaluators []eval.Evaluator) []string {
	names := make([]string, 0, len(evaluators))
	for _, e := range evaluators {
		names = append(names, e.Name())
	}
	return names
}

func printSummary(report *eval.Report, cost eval.Aggregate) {
	succeeded := 0
	for _, item := range report.Items {
		if item.Output.Success {
			succeeded++
		}
	}
	fmt.Printf("\nExperiment %s\n", report.Name)
	fmt.Printf("  conversations: %d (%d succeeded)\n", len(report.Items), succeeded)
	for _, item := range report.Items {
		fmt.Printf("  - session %s success=%v\n", item.Output.SessionID, item.Output.Success)
		for _, r := range item.Results {
			if r.Comment != "" {
				fmt.Printf("      %-22s %10.4f  (%s)\n", r.Name, r.Value, r.Comment)
			} else {
				fmt.Printf("      %-22s %10.4f\n", r.Name, r.Value)
			}
		}
	}
	if cost.Comment == "no data" {
		fmt.Println("  total_session_cost: no data")
	} else {
		fmt.Printf("  total_session_cost: %.6f (avg %.6f over %d)\n", cost.Total, cost.Average, cost.Count)
	}
}

func evaluatorsCommand() {
	registry := eval.NewRegistry(eval.Deps{Sessions: store.NewSessionCache()})
	for _, name := range registry.Names() {
		fmt.Println(name)
	}
}

func historyCommand(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "configuration file path")
	fs.Parse(args)

	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	records, err := storage.NewStore(cfg.Storage.ExperimentsPath, zap.NewNop()).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "history: %v\n", err)
		os.Exit(1)
	}
	if len(records) == 0 {
		fmt.Println("no experiments recorded")
		return
	}
	for _, rec := range records {
		ts := time.UnixMilli(rec.Timestamp).Format(time.RFC3339)
		fmt.Printf("%s  %s  dataset=%s env=%s\n", ts, rec.ExperimentID, rec.Dataset, rec.Environment)
		for name, value := range rec.Metrics {
			if value == nil {
				fmt.Printf("    %-22s (not computed)\n", name)
			} else {
				fmt.Printf("    %-22s %10.4f\n", name, *value)
			}
		}
	}
}
