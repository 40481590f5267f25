package eval

import (
	"context"
	"time"

	"github.com/BaSui01/agenteval/internal/metrics"
	"github.com/BaSui01/agenteval/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency = 5
	maxConcurrency     = 20
)

// Task drives one conversation for a dataset item.
type Task interface {
	Run(ctx context.Context, item types.DatasetItem) (types.TaskOutput, []types.ConversationMessage, error)
}

// ItemReport is the outcome of one dataset item: the conversation result
// and every metric computed for it.
type ItemReport struct {
	Item    types.DatasetItem          `json:"item"`
	Output  types.TaskOutput           `json:"output"`
	Results []Result                   `json:"results"`
	History []types.ConversationMessage `json:"history,omitempty"`
}

// Report is the outcome of a whole experiment run.
type Report struct {
	Name  string       `json:"name"`
	Items []ItemReport `json:"items"`
}

// Experiment runs conversations over a dataset with bounded concurrency
// and evaluates each one as it finishes. A failed conversation still gets
// a full row of zero-value metrics; item failures never cancel siblings.
type Experiment struct {
	name        string
	task        Task
	evaluators  []Evaluator
	concurrency int
	collector   *metrics.Collector
	logger      *zap.Logger
}

// NewExperiment creates an experiment. Concurrency is clamped to [1, 20],
// zero means the default of 5. The collector may be nil.
func NewExperiment(name string, task Task, evaluators []Evaluator, concurrency int,
	collector *metrics.Collector, logger *zap.Logger) *Experiment {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency == 0 {
		concurrency = defaultConcurrency
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > maxConcurrency {
		concurrency = maxConcurrency
	}
	return &Experiment{
		name:        name,
		task:        task,
		evaluators:  evaluators,
		concurrency: concurrency,
		collector:   collector,
		logger:      logger.With(zap.String("component", "experiment"), zap.String("experiment", name)),
	}
}

// Run drives and evaluates every dataset item. The only error returned is
// context cancellation; everything else is captured per item.
func (e *Experiment) Run(ctx context.Context, items []types.DatasetItem) (*Report, error) {
	report := &Report{
		Name:  e.name,
		Items: make([]ItemReport, len(items)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			start := time.Now()
			output, history, err := e.task.Run(gctx, item)
			if err != nil {
				// Only cancellation reaches here; record the item as
				// failed and let the group wind down.
				report.Items[i] = ItemReport{
					Item:   item,
					Output: types.TaskOutput{Success: false, Message: err.Error()},
				}
				return err
			}
			if e.collector != nil {
				e.collector.RecordConversation(output.Success, time.Since(start).Seconds())
			}
			e.logger.Info("conversation finished",
				zap.String("session_id", output.SessionID),
				zap.Bool("success", output.Success))

			rec := &types.Record{Item: item, Output: output, History: history}
			results := make([]Result, 0, len(e.evaluators))
			for _, ev := range e.evaluators {
				results = append(results, Evaluate(gctx, ev, rec, e.logger))
				if e.collector != nil {
					e.collector.RecordEvaluatorRun(ev.Name())
				}
			}
			report.Items[i] = ItemReport{Item: item, Output: output, Results: results, History: history}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, nil
}
