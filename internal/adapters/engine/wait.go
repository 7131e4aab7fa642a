package engine

import (
	"context"
	"time"

	"github.com/weftflow/weft/internal/domain"
)

// waitExecutor is the builtin handler for wait-type nodes: it sleeps for
// the configured duration and is interruptible through the context, which
// makes wait nodes legitimate suspension points.
type waitExecutor struct{}

func (waitExecutor) Execute(ctx context.Context, config map[string]domain.Value, _ *domain.ExecutionState) (map[string]domain.Value, error) {
	duration := waitDuration(config["duration"])
	if duration <= 0 {
		return map[string]domain.Value{"waited": domain.StringValue("0s")}, nil
	}

	select {
	case <-time.After(duration):
		return map[string]domain.Value{"waited": domain.StringValue(duration.String())}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func waitDuration(value domain.Value) time.Duration {
	switch value.Kind {
	case domain.KindString:
		if d, err := time.ParseDuration(value.Str); err == nil {
			return d
		}
	case domain.KindInt:
		return time.Duration(value.Int) * time.Millisecond
	case domain.KindFloat:
		return time.Duration(value.Float * float64(time.Millisecond))
	}
	return 0
}
