package ports

import (
	"context"
	"time"

	"github.com/weftflow/weft/internal/domain"
)

// ExecutionRecords is the persistence contract the engine and template
// service call through. The storage shape behind it is a collaborator
// concern; the engine never infers unsaved state from a failed call.
type ExecutionRecords interface {
	CreateExecution(ctx context.Context, execution *domain.Execution) error
	SaveExecution(ctx context.Context, execution *domain.Execution) error
	SaveNodeExecution(ctx context.Context, executionID string, node *domain.NodeExecution) error
	GetExecution(ctx context.Context, id string) (*domain.Execution, error)
	ListActiveExecutions(ctx context.Context, ownerID string) ([]*domain.Execution, error)
	GetExecutionStats(ctx context.Context, workflowID string, from, to time.Time) (*domain.ExecutionStats, error)
	RecordMetric(ctx context.Context, executionID, name string, value float64, unit string, tags map[string]string) error
}
