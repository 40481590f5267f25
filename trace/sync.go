package trace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/agenteval/internal/metrics"
	"go.uber.org/zap"
)

// API is the subset of the trace client the synchronizer needs.
type API interface {
	ListTraces(ctx context.Context, opts ListOptions) ([]Trace, error)
	GetTrace(ctx context.Context, id string) (*Trace, error)
}

// SyncConfig holds the polling budgets for trace synchronization. The
// backend is eventually consistent, so each protocol waits a fixed interval
// between attempts and gives up after a bounded number of them.
type SyncConfig struct {
	// PollInterval is the fixed wait between attempts.
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	// SessionAttempts bounds the session-level lookup.
	SessionAttempts int `yaml:"session_attempts" env:"SESSION_ATTEMPTS"`
	// FinalAttempts is the larger budget used for the final lookup after a
	// conversation finishes.
	FinalAttempts int `yaml:"final_attempts" env:"FINAL_ATTEMPTS"`
	// NodeAttempts bounds waiting for the first generation span to appear
	// inside a trace.
	NodeAttempts int `yaml:"node_attempts" env:"NODE_ATTEMPTS"`
	// CompletionAttempts bounds waiting for generation spans to complete,
	// counted from the attempt where the first one appeared.
	CompletionAttempts int `yaml:"completion_attempts" env:"COMPLETION_ATTEMPTS"`
	// MaxAttempts is the absolute ceiling for a single trace regardless of
	// how the other two budgets interleave.
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	// TraceName filters session listings to the agent's root traces.
	TraceName string `yaml:"trace_name" env:"TRACE_NAME"`
	// GenerationName is the base name of generation spans.
	GenerationName string `yaml:"generation_name" env:"GENERATION_NAME"`
	// ListLimit caps one page of session traces.
	ListLimit int `yaml:"list_limit" env:"LIST_LIMIT"`
}

// DefaultSyncConfig returns the reference polling budgets.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		PollInterval:       10 * time.Second,
		SessionAttempts:    18,
		FinalAttempts:      10,
		NodeAttempts:       30,
		CompletionAttempts: 30,
		MaxAttempts:        60,
		TraceName:          "mira-agent",
		GenerationName:     "ai.streamText",
		ListLimit:          100,
	}
}

// ErrNoTraces is returned when the session budget expires without the
// backend showing any traces at all.
var ErrNoTraces = errors.New("no traces found for session")

// ErrIncomplete is returned when a trace never reaches completion within
// its budgets.
var ErrIncomplete = errors.New("trace did not complete")

// SessionStatus is the result of a settle check.
type SessionStatus struct {
	Ended  bool
	Reason string
}

// Synchronizer reconciles the trace store with a live conversation.
type Synchronizer struct {
	api       API
	config    SyncConfig
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewSynchronizer creates a synchronizer over the given trace API.
func NewSynchronizer(api API, config SyncConfig, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 10 * time.Second
	}
	return &Synchronizer{
		api:    api,
		config: config,
		logger: logger.With(zap.String("component", "trace_sync")),
	}
}

// WithCollector attaches harness self-metrics. The collector may be nil.
func (s *Synchronizer) WithCollector(c *metrics.Collector) *Synchronizer {
	s.collector = c
	return s
}

func (s *Synchronizer) recordPoll(protocol string) {
	if s.collector != nil {
		s.collector.RecordPollAttempt(protocol)
	}
}

// FindSessionTraces polls until the backend shows exactly turnCount traces
// for the session, then verifies every one of them completed. With
// turnCount zero it returns as soon as any trace is visible.
//
// If any discovered trace fails its completion check the whole lookup fails:
// returning a partially-settled session would let evaluators read spans
// that are still being written. If the budget expires with some traces
// visible but the count never matching, those traces are returned anyway
// with a warning; an empty result after the full budget is an error.
func (s *Synchronizer) FindSessionTraces(ctx context.Context, sessionID string, attempts, turnCount int) ([]Trace, error) {
	if attempts <= 0 {
		// The per-turn settle check polls with the session budget; the
		// final any-trace lookup after the conversation uses its own.
		if turnCount > 0 {
			attempts = s.config.SessionAttempts
		} else {
			attempts = s.config.FinalAttempts
		}
	}

	var lastSeen []Trace
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := sleep(ctx, s.config.PollInterval); err != nil {
			return nil, err
		}
		s.recordPoll("session")

		traces, err := s.api.ListTraces(ctx, ListOptions{
			SessionID: sessionID,
			Name:      s.config.TraceName,
			Limit:     s.config.ListLimit,
		})
		if err != nil {
			s.logger.Warn("trace listing failed",
				zap.String("session_id", sessionID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}
		lastSeen = traces

		s.logger.Debug("session trace poll",
			zap.String("session_id", sessionID),
			zap.Int("attempt", attempt),
			zap.Int("found", len(traces)),
			zap.Int("expected", turnCount))

		if turnCount > 0 {
			if len(traces) == turnCount {
				verified, err := s.verifyAll(ctx, traces)
				if err != nil {
					return nil, err
				}
				return verified, nil
			}
			continue
		}
		if len(traces) > 0 {
			return traces, nil
		}
	}

	if len(lastSeen) > 0 {
		s.logger.Warn("trace count never matched turn count, returning best effort",
			zap.String("session_id", sessionID),
			zap.Int("found", len(lastSeen)),
			zap.Int("expected", turnCount))
		return lastSeen, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoTraces, sessionID)
}

func (s *Synchronizer) verifyAll(ctx context.Context, traces []Trace) ([]Trace, error) {
	verified := make([]Trace, 0, len(traces))
	for _, t := range traces {
		full, err := s.WaitForCompletion(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("trace %s: %w", t.ID, err)
		}
		verified = append(verified, *full)
	}
	return verified, nil
}

// WaitForCompletion polls a single trace until every generation span inside
// it has an end time. Three budgets apply: one for the first generation
// span to appear, one for completion counted from that appearance, and an
// absolute ceiling over both.
func (s *Synchronizer) WaitForCompletion(ctx context.Context, traceID string) (*Trace, error) {
	nodeSeenAt := 0

	for attempt := 1; attempt <= s.config.MaxAttempts; attempt++ {
		s.recordPoll("completion")
		t, err := s.api.GetTrace(ctx, traceID)
		if err != nil {
			s.logger.Warn("trace fetch failed",
				zap.String("trace_id", traceID),
				zap.Int("attempt", attempt),
				zap.Error(err))
		} else {
			generations := generationSpans(t.Observations, s.config.GenerationName)
			if len(generations) == 0 {
				if attempt >= s.config.NodeAttempts {
					return nil, fmt.Errorf("%w: no generation span appeared in %s", ErrIncomplete, traceID)
				}
			} else {
				if nodeSeenAt == 0 {
					nodeSeenAt = attempt
				}
				if allEnded(generations) {
					return t, nil
				}
				if attempt-nodeSeenAt+1 >= s.config.CompletionAttempts {
					return nil, fmt.Errorf("%w: generation spans still open in %s", ErrIncomplete, traceID)
				}
			}
		}

		if err := sleep(ctx, s.config.PollInterval); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: attempt ceiling reached for %s", ErrIncomplete, traceID)
}

// SessionSettled reports whether the backend has caught up with the
// conversation: one completed root trace per turn.
func (s *Synchronizer) SessionSettled(ctx context.Context, sessionID string, turnCount int) SessionStatus {
	traces, err := s.FindSessionTraces(ctx, sessionID, s.config.SessionAttempts, turnCount)
	if err != nil {
		return SessionStatus{Ended: false, Reason: err.Error()}
	}
	if len(traces) != turnCount {
		return SessionStatus{
			Ended:  false,
			Reason: fmt.Sprintf("found %d traces, expected %d", len(traces), turnCount),
		}
	}
	return SessionStatus{Ended: true}
}

func generationSpans(observations []Observation, generationName string) []Observation {
	spans := make([]Observation, 0)
	for _, obs := range observations {
		if obs.Name == generationName {
			spans = append(spans, obs)
		}
	}
	return spans
}

func allEnded(observations []Observation) bool {
	for _, obs := range observations {
		if obs.EndTime == nil {
			return false
		}
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
