package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/weftflow/weft/internal/adapters/condition"
	"github.com/weftflow/weft/internal/adapters/state"
	"github.com/weftflow/weft/internal/domain"
	"github.com/weftflow/weft/internal/ports"
)

// Config tunes one engine instance. Zero values fall back to the
// defaults below.
type Config struct {
	// MaxConcurrentNodes sizes the shared dispatch pool across all
	// executions.
	MaxConcurrentNodes int
	// DefaultNodeTimeout is the watchdog applied to nodes that declare no
	// timeout policy. Zero disables the default watchdog.
	DefaultNodeTimeout time.Duration
	// DefaultWorkflowTimeout bounds whole executions that carry no
	// workflow_timeout override. Zero means unbounded.
	DefaultWorkflowTimeout time.Duration
}

const defaultMaxConcurrentNodes = 64

// Engine drives executions of validated workflow definitions. Each
// execution gets its own scheduler goroutine; eligible nodes fan out
// through a shared goroutine pool. Executions are fully independent; the
// only cross-execution state is the executor registry, which is
// read-mostly.
type Engine struct {
	cfg       Config
	state     *state.Manager
	records   ports.ExecutionRecords
	evaluator *condition.Evaluator
	pool      *ants.Pool
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	executors map[domain.NodeType]ports.ActionExecutor
	runs      map[string]*run
	closed    bool
}

func New(cfg Config, stateManager *state.Manager, records ports.ExecutionRecords, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrentNodes <= 0 {
		cfg.MaxConcurrentNodes = defaultMaxConcurrentNodes
	}

	pool, err := ants.NewPool(cfg.MaxConcurrentNodes)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:       cfg,
		state:     stateManager,
		records:   records,
		evaluator: condition.NewEvaluator(logger),
		pool:      pool,
		logger:    logger.With("component", "engine"),
		ctx:       ctx,
		cancel:    cancel,
		executors: make(map[domain.NodeType]ports.ActionExecutor),
		runs:      make(map[string]*run),
	}

	e.executors[domain.NodeTypeWait] = waitExecutor{}
	return e, nil
}

// RegisterExecutor binds an action executor to a node type, replacing any
// previous binding.
func (e *Engine) RegisterExecutor(nodeType domain.NodeType, executor ports.ActionExecutor) error {
	if executor == nil {
		return domain.ErrInvalidInput
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return domain.ErrClosed
	}
	e.executors[nodeType] = executor
	return nil
}

func (e *Engine) executorFor(nodeType domain.NodeType) (ports.ActionExecutor, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	executor, ok := e.executors[nodeType]
	return executor, ok
}

// StartExecution creates an execution against a validated definition and
// starts its scheduler. The definition is assumed structurally stable:
// validation never runs mid-execution.
func (e *Engine) StartExecution(ctx context.Context, def *domain.WorkflowDefinition, inputs, overrides map[string]domain.Value) (*domain.Execution, error) {
	if def == nil || len(def.Nodes) == 0 {
		return nil, domain.ErrInvalidInput
	}

	execution := &domain.Execution{
		ID:         uuid.New().String(),
		WorkflowID: def.ID,
		Inputs:     inputs,
		Overrides:  overrides,
		Status:     domain.ExecutionStatusRunning,
		StartedAt:  time.Now(),
		Nodes:      make(map[string]*domain.NodeExecution, len(def.Nodes)),
	}
	for id := range def.Nodes {
		execution.Nodes[id] = &domain.NodeExecution{NodeID: id, Status: domain.NodeStatusPending}
	}

	if err := e.records.CreateExecution(ctx, execution); err != nil {
		return nil, err
	}

	variables := map[string]domain.Value{
		"parameters": domain.MapValue(bindParameters(def, inputs)),
	}
	if _, err := e.state.InitializeState(execution.ID, variables); err != nil {
		return nil, err
	}

	r := newRun(e, def, execution, e.workflowTimeout(overrides))

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, domain.ErrClosed
	}
	e.runs[execution.ID] = r
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		r.loop()
	}()

	e.logger.Debug("execution started",
		"execution_id", execution.ID,
		"workflow_id", def.ID,
		"nodes", len(def.Nodes))

	return snapshotExecution(r), nil
}

// bindParameters layers inputs over declared defaults.
func bindParameters(def *domain.WorkflowDefinition, inputs map[string]domain.Value) map[string]domain.Value {
	bound := make(map[string]domain.Value, len(def.Parameters)+len(inputs))
	for name, param := range def.Parameters {
		if !param.Default.IsNull() {
			bound[name] = param.Default
		}
	}
	for name, value := range inputs {
		bound[name] = value
	}
	return bound
}

func (e *Engine) workflowTimeout(overrides map[string]domain.Value) time.Duration {
	if override, ok := overrides["workflow_timeout"]; ok {
		switch override.Kind {
		case domain.KindString:
			if d, err := time.ParseDuration(override.Str); err == nil && d > 0 {
				return d
			}
			e.logger.Warn("ignoring unparsable workflow_timeout override", "value", override.Str)
		case domain.KindInt:
			if override.Int > 0 {
				return time.Duration(override.Int) * time.Millisecond
			}
		}
	}
	return e.cfg.DefaultWorkflowTimeout
}

func (e *Engine) runFor(executionID string) (*run, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.runs[executionID]
	return r, ok
}

func (e *Engine) removeRun(executionID string) {
	e.mu.Lock()
	delete(e.runs, executionID)
	e.mu.Unlock()
}

// PauseExecution stops new dispatches between scheduling ticks. Nodes
// already in flight finish and their results are recorded.
func (e *Engine) PauseExecution(executionID string) error {
	r, ok := e.runFor(executionID)
	if !ok {
		return domain.ErrNotActive
	}
	return r.pause()
}

// ResumeExecution restarts dispatching of a paused execution.
func (e *Engine) ResumeExecution(executionID string) error {
	r, ok := e.runFor(executionID)
	if !ok {
		return domain.ErrNotActive
	}
	return r.resumeRun()
}

// CancelExecution signals cooperative cancellation. The signal is
// observed before the next scheduling tick; in-flight nodes finish but
// schedule nothing further.
func (e *Engine) CancelExecution(executionID string) error {
	r, ok := e.runFor(executionID)
	if !ok {
		return domain.ErrNotActive
	}
	r.cancel()
	return nil
}

// ExecutionStatus returns a point-in-time copy of a live execution, or
// the persisted record once it is terminal.
func (e *Engine) ExecutionStatus(ctx context.Context, executionID string) (*domain.Execution, error) {
	if r, ok := e.runFor(executionID); ok {
		return snapshotExecution(r), nil
	}
	return e.records.GetExecution(ctx, executionID)
}

// WaitForExecution blocks until the execution's scheduler exits or the
// context is done. Intended for tests and synchronous callers.
func (e *Engine) WaitForExecution(ctx context.Context, executionID string) error {
	r, ok := e.runFor(executionID)
	if !ok {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels every live execution and releases the dispatch pool.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return domain.ErrClosed
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
	e.pool.Release()

	e.logger.Debug("engine stopped")
	return nil
}

func snapshotExecution(r *run) *domain.Execution {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clone := *r.exec
	clone.Nodes = make(map[string]*domain.NodeExecution, len(r.exec.Nodes))
	for id, ne := range r.exec.Nodes {
		neCopy := *ne
		clone.Nodes[id] = &neCopy
	}
	return &clone
}
