package records

import (
	"context"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"

	"github.com/weftflow/weft/internal/domain"
	"github.com/weftflow/weft/internal/ports"
)

// Store implements the execution/metrics persistence contract on top of
// the storage port. Node executions are written both inline on the
// execution record and as individual keyed entries so a prefix scan can
// rebuild the ledger of a run.
type Store struct {
	storage ports.Storage
	logger  *slog.Logger
}

func NewStore(storage ports.Storage, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		storage: storage,
		logger:  logger.With("component", "execution-records"),
	}
}

func (s *Store) CreateExecution(ctx context.Context, execution *domain.Execution) error {
	if execution == nil || execution.ID == "" {
		return domain.ErrInvalidInput
	}

	if _, exists, err := s.storage.Get(domain.ExecutionKey(execution.ID)); err != nil {
		return err
	} else if exists {
		return domain.ErrExecutionActive
	}

	return s.SaveExecution(ctx, execution)
}

func (s *Store) SaveExecution(_ context.Context, execution *domain.Execution) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return err
	}
	return s.storage.Put(domain.ExecutionKey(execution.ID), data)
}

func (s *Store) SaveNodeExecution(_ context.Context, executionID string, node *domain.NodeExecution) error {
	if node == nil || node.NodeID == "" {
		return domain.ErrInvalidInput
	}

	data, err := json.Marshal(node)
	if err != nil {
		return err
	}
	return s.storage.Put(domain.NodeExecutionKey(executionID, node.NodeID), data)
}

func (s *Store) GetExecution(_ context.Context, id string) (*domain.Execution, error) {
	data, exists, err := s.storage.Get(domain.ExecutionKey(id))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrNotFound
	}

	var execution domain.Execution
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, err
	}
	return &execution, nil
}

// ListActiveExecutions returns non-terminal executions, optionally
// filtered by owner. An empty ownerID matches everything.
func (s *Store) ListActiveExecutions(_ context.Context, ownerID string) ([]*domain.Execution, error) {
	items, err := s.storage.ListByPrefix(domain.ExecutionPrefix)
	if err != nil {
		return nil, err
	}

	var active []*domain.Execution
	for _, item := range items {
		var execution domain.Execution
		if err := json.Unmarshal(item.Value, &execution); err != nil {
			s.logger.Warn("skipping undecodable execution record", "key", item.Key, "error", err)
			continue
		}
		if execution.Status.IsTerminal() {
			continue
		}
		if ownerID != "" && execution.CreatedBy != ownerID {
			continue
		}
		active = append(active, &execution)
	}
	return active, nil
}

// GetExecutionStats aggregates the runs of one workflow inside a window.
// A zero bound leaves that side of the window open.
func (s *Store) GetExecutionStats(_ context.Context, workflowID string, from, to time.Time) (*domain.ExecutionStats, error) {
	items, err := s.storage.ListByPrefix(domain.ExecutionPrefix)
	if err != nil {
		return nil, err
	}

	stats := &domain.ExecutionStats{
		WorkflowID: workflowID,
		ByStatus:   make(map[domain.ExecutionStatus]int),
	}

	var totalDuration time.Duration
	var finished int

	for _, item := range items {
		var execution domain.Execution
		if err := json.Unmarshal(item.Value, &execution); err != nil {
			continue
		}
		if execution.WorkflowID != workflowID {
			continue
		}
		if !from.IsZero() && execution.StartedAt.Before(from) {
			continue
		}
		if !to.IsZero() && execution.StartedAt.After(to) {
			continue
		}

		stats.Total++
		stats.ByStatus[execution.Status]++

		if execution.CompletedAt != nil {
			totalDuration += execution.CompletedAt.Sub(execution.StartedAt)
			finished++
		}
	}

	if finished > 0 {
		stats.AverageDuration = totalDuration / time.Duration(finished)
	}
	return stats, nil
}

type metricEntry struct {
	Name       string            `json:"name"`
	Value      float64           `json:"value"`
	Unit       string            `json:"unit,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
	RecordedAt time.Time         `json:"recorded_at"`
}

func (s *Store) RecordMetric(_ context.Context, executionID, name string, value float64, unit string, tags map[string]string) error {
	entry := metricEntry{
		Name:       name,
		Value:      value,
		Unit:       unit,
		Tags:       tags,
		RecordedAt: time.Now(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.storage.Put(domain.MetricKey(executionID, name, entry.RecordedAt.UnixNano()), data)
}
