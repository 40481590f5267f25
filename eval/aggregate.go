package eval

import (
	"context"
	"fmt"

	"github.com/BaSui01/agenteval/trace"
	"go.uber.org/zap"
)

// ScoreWriter publishes run-level scores to the observation store.
type ScoreWriter interface {
	CreateRunScore(ctx context.Context, score trace.RunScore) error
}

// Aggregate is a run-level statistic over one metric.
type Aggregate struct {
	Name    string  `json:"name"`
	Total   float64 `json:"total"`
	Average float64 `json:"average"`
	Count   int     `json:"count"`
	Comment string  `json:"comment,omitempty"`
}

// Aggregator reduces per-item results into run-level statistics.
type Aggregator struct {
	writer ScoreWriter
	logger *zap.Logger
}

// NewAggregator creates an aggregator. The writer may be nil; aggregates
// are then computed but not published.
func NewAggregator(writer ScoreWriter, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		writer: writer,
		logger: logger.With(zap.String("component", "aggregator")),
	}
}

// TotalSessionCost sums the session_cost metric over the run. An empty or
// cost-free run yields a zero aggregate with a "no data" comment rather
// than an error.
func (a *Aggregator) TotalSessionCost(report *Report) Aggregate {
	return a.reduce(report, "session_cost", "total_session_cost")
}

func (a *Aggregator) reduce(report *Report, metric, aggregateName string) Aggregate {
	agg := Aggregate{Name: aggregateName}
	if report == nil {
		agg.Comment = "no data"
		return agg
	}
	for _, item := range report.Items {
		for _, r := range item.Results {
			if r.Name != metric {
				continue
			}
			agg.Total += r.Value
			agg.Count++
		}
	}
	if agg.Count == 0 {
		agg.Comment = "no data"
		return agg
	}
	agg.Average = agg.Total / float64(agg.Count)
	return agg
}

// Publish writes a run-level aggregate to the observation store under the
// dataset run id.
func (a *Aggregator) Publish(ctx context.Context, runID string, agg Aggregate) error {
	if a.writer == nil || runID == "" {
		return nil
	}
	comment := agg.Comment
	if comment == "" {
		comment = fmt.Sprintf("avg %.6f over %d sessions", agg.Average, agg.Count)
	}
	if err := a.writer.CreateRunScore(ctx, trace.RunScore{
		RunID:   runID,
		Name:    agg.Name,
		Value:   agg.Total,
		Comment: comment,
	}); err != nil {
		a.logger.Warn("run score publish failed",
			zap.String("name", agg.Name), zap.Error(err))
		return err
	}
	return nil
}
