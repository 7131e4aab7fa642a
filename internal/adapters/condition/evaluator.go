package condition

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/weftflow/weft/internal/domain"
	"github.com/weftflow/weft/internal/ports"
)

// Evaluator evaluates the restricted condition grammar against the
// accumulated outputs of prior nodes. Evaluation fails closed: any parse,
// resolution, or type error yields false plus a ConditionError for the
// caller to log. It is never a workflow fault.
type Evaluator struct {
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]expr
}

func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		logger: logger.With("component", "condition-evaluator"),
		cache:  make(map[string]expr),
	}
}

// Evaluate returns the boolean result of an expression. An empty
// expression is vacuously true. On any failure the result is false and
// the returned error is a *domain.ConditionError.
func (e *Evaluator) Evaluate(expression string, resolver ports.ConditionResolver) (bool, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return true, nil
	}

	tree, err := e.parsed(expression)
	if err != nil {
		return false, &domain.ConditionError{Expression: expression, Err: err}
	}

	value, err := tree.eval(resolver.Resolve)
	if err != nil {
		return false, &domain.ConditionError{Expression: expression, Err: err}
	}

	return value.AsBool(), nil
}

func (e *Evaluator) parsed(expression string) (expr, error) {
	e.mu.RLock()
	tree, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return tree, nil
	}

	tree, err := parse(expression)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = tree
	e.mu.Unlock()
	return tree, nil
}

// MapResolver resolves dotted reference paths against a Value map: the
// first segment selects the entry ("parameters" or a node id), remaining
// segments descend into map values.
type MapResolver map[string]domain.Value

func (r MapResolver) Resolve(path string) (domain.Value, bool) {
	segments := strings.Split(path, ".")
	value, ok := r[segments[0]]
	if !ok {
		return domain.NullValue(), false
	}
	for _, segment := range segments[1:] {
		if value.Kind != domain.KindMap {
			return domain.NullValue(), false
		}
		value, ok = value.Map[segment]
		if !ok {
			return domain.NullValue(), false
		}
	}
	return value, true
}
