// Package trace talks to the observability backend: listing and fetching
// traces, merging observations across traces, and synchronizing the
// eventually-consistent trace store with a finished conversation.
package trace

import (
	"encoding/json"
	"strings"
	"time"
)

// Observation is a single span or generation inside a trace.
type Observation struct {
	ID                  string          `json:"id"`
	TraceID             string          `json:"traceId,omitempty"`
	Name                string          `json:"name,omitempty"`
	Type                string          `json:"type,omitempty"`
	StartTime           *time.Time      `json:"startTime,omitempty"`
	EndTime             *time.Time      `json:"endTime,omitempty"`
	Timestamp           *time.Time      `json:"timestamp,omitempty"`
	TimeToFirstToken    *float64        `json:"timeToFirstToken,omitempty"`
	Usage               *Usage          `json:"usage,omitempty"`
	CalculatedTotalCost *float64        `json:"calculatedTotalCost,omitempty"`
	Cost                *float64        `json:"cost,omitempty"`
	Input               json.RawMessage `json:"input,omitempty"`
}

// Usage carries token counts for a generation observation.
type Usage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Trace is one top-level trace with its observations.
type Trace struct {
	ID                  string        `json:"id"`
	Name                string        `json:"name,omitempty"`
	SessionID           string        `json:"sessionId,omitempty"`
	Timestamp           time.Time     `json:"timestamp"`
	StartTime           *time.Time    `json:"startTime,omitempty"`
	EndTime             *time.Time    `json:"endTime,omitempty"`
	CreatedAt           *time.Time    `json:"createdAt,omitempty"`
	Level               string        `json:"level,omitempty"`
	TotalCost           *float64      `json:"totalCost,omitempty"`
	CalculatedTotalCost *float64      `json:"calculatedTotalCost,omitempty"`
	Cost                *float64      `json:"cost,omitempty"`
	Observations        []Observation `json:"observations,omitempty"`
}

// IsGeneration reports whether the observation is an LLM generation span.
// Backends label these inconsistently, so match on type and known names.
func (o Observation) IsGeneration(generationName string) bool {
	if o.Type == "GENERATION" {
		return true
	}
	if o.Name == generationName+".doStream" {
		return true
	}
	return strings.Contains(o.Name, "streamText")
}
