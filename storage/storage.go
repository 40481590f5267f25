// Package storage persists experiment records as JSONL and loads dataset
// files.
package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BaSui01/agenteval/types"
	"go.uber.org/zap"
)

// ExperimentRecord is one line of the experiment log. Metrics uses key
// absence for "evaluator not selected" and a nil value for "selected but
// no result computed".
type ExperimentRecord struct {
	ExperimentID   string              `json:"experimentId"`
	Timestamp      int64               `json:"timestamp"`
	Dataset        string              `json:"dataset"`
	Environment    string              `json:"environment"`
	Evaluators     []string            `json:"evaluators"`
	MaxConcurrency int                 `json:"maxConcurrency"`
	Metrics        map[string]*float64 `json:"metrics"`
	ResultURL      string              `json:"datasetRunUrl,omitempty"`
}

// Store appends and loads experiment records.
type Store struct {
	path   string
	logger *zap.Logger
}

// NewStore creates a store writing to the given JSONL file.
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		path:   path,
		logger: logger.With(zap.String("component", "experiment_store")),
	}
}

// Append writes one record as a JSONL line, creating the directory and
// file as needed.
func (s *Store) Append(rec ExperimentRecord) error {
	if dir := filepath.Dir(s.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// Load reads every record from the file, skipping corrupt lines. A
// missing file yields an empty list.
func (s *Store) Load() ([]ExperimentRecord, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()

	var records []ExperimentRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec ExperimentRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			s.logger.Warn("skipping corrupt record line", zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("read %s: %w", s.path, err)
	}
	return records, nil
}

// LoadDataset reads dataset items from a JSON array file or a JSONL file,
// decided by content.
func LoadDataset(path string) ([]types.DatasetItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("dataset %s is empty", path)
	}

	if strings.HasPrefix(trimmed, "[") {
		var items []types.DatasetItem
		if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
			return nil, fmt.Errorf("parse dataset: %w", err)
		}
		return items, nil
	}

	var items []types.DatasetItem
	for i, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var item types.DatasetItem
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			return nil, fmt.Errorf("parse dataset line %d: %w", i+1, err)
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("dataset %s has no items", path)
	}
	return items, nil
}
