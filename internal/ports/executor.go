package ports

import (
	"context"

	"github.com/weftflow/weft/internal/domain"
)

// ActionExecutor is the per-node-type invocation contract. The engine is
// agnostic to what a type does; it only needs output or an error. The
// invocation is the node's only suspension point, so implementations must
// honor ctx cancellation.
type ActionExecutor interface {
	Execute(ctx context.Context, config map[string]domain.Value, state *domain.ExecutionState) (map[string]domain.Value, error)
}

// ExecutorFunc adapts a function to the ActionExecutor contract.
type ExecutorFunc func(ctx context.Context, config map[string]domain.Value, state *domain.ExecutionState) (map[string]domain.Value, error)

func (f ExecutorFunc) Execute(ctx context.Context, config map[string]domain.Value, state *domain.ExecutionState) (map[string]domain.Value, error) {
	return f(ctx, config, state)
}

// ConditionResolver supplies the ${nodeId.field} / ${parameters.name}
// values visible to the condition evaluator at evaluation time.
type ConditionResolver interface {
	Resolve(path string) (domain.Value, bool)
}
