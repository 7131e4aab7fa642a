package engine

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/weftflow/weft/internal/adapters/condition"
	"github.com/weftflow/weft/internal/domain"
)

// run is the state machine of one execution. A single scheduler goroutine
// owns every transition; node invocations fan out through the engine pool
// and report back on the results channel, so the ready set is never raced.
type run struct {
	engine *Engine
	def    *domain.WorkflowDefinition

	mu     sync.RWMutex
	exec   *domain.Execution
	paused bool

	// ctx carries the scheduling-cancel signal. nodeCtx is what node
	// invocations run under: it survives CancelExecution so in-flight
	// nodes finish, and dies with the engine.
	ctx        context.Context
	cancelFn   context.CancelFunc
	nodeCtx    context.Context
	nodeCancel context.CancelFunc

	results   chan nodeResult
	resume    chan struct{}
	done      chan struct{}
	attempted map[string]struct{}
	inFlight  int
	timedOut  bool

	workflowTimeout time.Duration
}

type nodeResult struct {
	nodeID       string
	output       map[string]domain.Value
	err          error
	attempts     int
	fatalTimeout bool
	duration     time.Duration
}

func newRun(e *Engine, def *domain.WorkflowDefinition, exec *domain.Execution, workflowTimeout time.Duration) *run {
	ctx, cancel := context.WithCancel(e.ctx)
	nodeCtx, nodeCancel := context.WithCancel(e.ctx)
	return &run{
		engine:          e,
		def:             def,
		exec:            exec,
		ctx:             ctx,
		cancelFn:        cancel,
		nodeCtx:         nodeCtx,
		nodeCancel:      nodeCancel,
		results:         make(chan nodeResult, len(def.Nodes)),
		resume:          make(chan struct{}, 1),
		done:            make(chan struct{}),
		attempted:       make(map[string]struct{}, len(def.Nodes)),
		workflowTimeout: workflowTimeout,
	}
}

func (r *run) cancel() { r.cancelFn() }

func (r *run) pause() error {
	r.mu.Lock()
	if r.exec.Status != domain.ExecutionStatusRunning {
		r.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	r.exec.Status = domain.ExecutionStatusPaused
	r.paused = true
	r.mu.Unlock()

	if err := r.engine.records.SaveExecution(context.Background(), snapshotExecution(r)); err != nil {
		r.engine.logger.Error("failed to persist paused execution", "execution_id", r.exec.ID, "error", err)
	}
	r.engine.logger.Debug("execution paused", "execution_id", r.exec.ID)
	return nil
}

func (r *run) resumeRun() error {
	r.mu.Lock()
	if r.exec.Status != domain.ExecutionStatusPaused {
		r.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	r.exec.Status = domain.ExecutionStatusRunning
	r.paused = false
	r.mu.Unlock()

	if err := r.engine.records.SaveExecution(context.Background(), snapshotExecution(r)); err != nil {
		r.engine.logger.Error("failed to persist resumed execution", "execution_id", r.exec.ID, "error", err)
	}

	select {
	case r.resume <- struct{}{}:
	default:
	}
	r.engine.logger.Debug("execution resumed", "execution_id", r.exec.ID)
	return nil
}

func (r *run) isPaused() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paused
}

// loop is the scheduling tick cycle: observe cancellation, compute the
// ready set, dispatch, block until something changes, repeat.
func (r *run) loop() {
	defer close(r.done)

	var timeoutCh <-chan time.Time
	if r.workflowTimeout > 0 {
		timer := time.NewTimer(r.workflowTimeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	for {
		if r.ctx.Err() != nil {
			r.finalize(domain.ExecutionStatusCancelled, "execution cancelled")
			return
		}
		if r.timedOut {
			r.finalize(domain.ExecutionStatusTimedOut, "workflow timeout elapsed")
			return
		}

		if r.isPaused() {
			select {
			case <-r.resume:
			case res := <-r.results:
				r.applyResult(res)
			case <-r.ctx.Done():
			case <-timeoutCh:
				r.timedOut = true
			}
			continue
		}

		r.scheduleTick()

		if r.inFlight == 0 {
			r.finalizeAuto()
			return
		}

		select {
		case res := <-r.results:
			r.applyResult(res)
		case <-r.ctx.Done():
		case <-timeoutCh:
			r.timedOut = true
		}
	}
}

// scheduleTick resolves the ready set to a fixpoint: nodes whose every
// effective dependency is terminal are either skipped (failed dependency,
// fully skipped dependency set, or a false condition) or dispatched. A
// skip can unlock further nodes, hence the inner loop.
func (r *run) scheduleTick() {
	resolver := r.stateResolver()

	for {
		progressed := false

		for id := range r.def.Nodes {
			r.mu.RLock()
			status := r.exec.Nodes[id].Status
			r.mu.RUnlock()

			if status != domain.NodeStatusPending {
				continue
			}
			if _, tried := r.attempted[id]; tried {
				continue
			}

			deps := r.def.EffectiveDependencies(id)
			allTerminal := true
			anyFailed := false
			allSkipped := len(deps) > 0

			r.mu.RLock()
			for _, dep := range deps {
				depStatus := r.exec.Nodes[dep].Status
				if !depStatus.IsTerminal() {
					allTerminal = false
					break
				}
				if depStatus == domain.NodeStatusFailed {
					anyFailed = true
				}
				if depStatus != domain.NodeStatusSkipped {
					allSkipped = false
				}
			}
			r.mu.RUnlock()

			if !allTerminal {
				continue
			}

			switch {
			case anyFailed:
				r.skipNode(id, "dependency failed")
				progressed = true
			case allSkipped:
				r.skipNode(id, "all dependencies skipped")
				progressed = true
			case !r.eligible(id, resolver):
				r.skipNode(id, "condition not satisfied")
				progressed = true
			default:
				r.dispatch(id)
				progressed = true
			}
		}

		if !progressed {
			return
		}
	}
}

// eligible applies the node's own condition and every conditioned
// incoming edge; all must hold. Evaluation failures are logged and
// treated as false, never as a workflow fault.
func (r *run) eligible(nodeID string, resolver condition.MapResolver) bool {
	node := r.def.Nodes[nodeID]

	check := func(expression string) bool {
		ok, err := r.engine.evaluator.Evaluate(expression, resolver)
		if err != nil {
			r.engine.logger.Warn("condition evaluation failed, treating as false",
				"execution_id", r.exec.ID,
				"node_id", nodeID,
				"error", err)
			return false
		}
		return ok
	}

	if !check(node.Condition) {
		return false
	}
	for _, edge := range r.def.IncomingEdges(nodeID) {
		if edge.Condition == "" {
			continue
		}
		if !check(edge.Condition) {
			return false
		}
	}
	return true
}

func (r *run) stateResolver() condition.MapResolver {
	current, err := r.engine.state.GetCurrentState(r.exec.ID)
	if err != nil {
		r.engine.logger.Error("failed to load state for condition context",
			"execution_id", r.exec.ID, "error", err)
		return condition.MapResolver{}
	}
	return condition.MapResolver(current.Variables)
}

func (r *run) dispatch(nodeID string) {
	node := r.def.Nodes[nodeID]
	now := time.Now()

	r.mu.Lock()
	ne := r.exec.Nodes[nodeID]
	ne.Status = domain.NodeStatusRunning
	ne.StartedAt = &now
	r.mu.Unlock()

	r.attempted[nodeID] = struct{}{}
	r.inFlight++

	if err := r.engine.state.AddPendingNode(r.exec.ID, nodeID); err != nil {
		r.engine.logger.Error("failed to record pending node", "execution_id", r.exec.ID, "node_id", nodeID, "error", err)
	}
	if err := r.engine.state.UpdateCurrentNode(r.exec.ID, nodeID); err != nil {
		r.engine.logger.Error("failed to record current node", "execution_id", r.exec.ID, "node_id", nodeID, "error", err)
	}
	r.saveNode(nodeID)

	r.engine.logger.Debug("dispatching node",
		"execution_id", r.exec.ID,
		"node_id", nodeID,
		"node_type", node.Type)

	if err := r.engine.pool.Submit(func() {
		r.deliver(nodeID, node)
	}); err != nil {
		r.results <- nodeResult{nodeID: nodeID, err: err, attempts: 1}
	}
}

// deliver guarantees exactly one result reaches the scheduler even when
// the attempt loop itself faults; a lost result would leave inFlight
// stuck and wedge the run.
func (r *run) deliver(nodeID string, node *domain.Node) {
	defer func() {
		if recovered := recover(); recovered != nil {
			r.results <- nodeResult{
				nodeID: nodeID,
				err: &domain.PanicError{
					NodeID:     nodeID,
					PanicValue: recovered,
					StackTrace: string(debug.Stack()),
				},
				attempts: 1,
			}
		}
	}()

	r.results <- r.executeNode(nodeID, node)
}

func (r *run) skipNode(nodeID, reason string) {
	now := time.Now()

	r.mu.Lock()
	ne := r.exec.Nodes[nodeID]
	ne.Status = domain.NodeStatusSkipped
	ne.CompletedAt = &now
	r.mu.Unlock()

	// Attempted in the scheduling sense: the decision is final.
	r.attempted[nodeID] = struct{}{}

	if err := r.engine.state.RemovePendingNode(r.exec.ID, nodeID); err != nil {
		r.engine.logger.Error("failed to unpend skipped node", "execution_id", r.exec.ID, "node_id", nodeID, "error", err)
	}
	r.saveNode(nodeID)

	r.engine.logger.Debug("node skipped",
		"execution_id", r.exec.ID,
		"node_id", nodeID,
		"reason", reason)
}

func (r *run) applyResult(res nodeResult) {
	r.inFlight--
	now := time.Now()

	r.mu.Lock()
	ne := r.exec.Nodes[res.nodeID]
	ne.CompletedAt = &now
	ne.RetryCount = res.attempts - 1
	if res.err != nil {
		ne.Status = domain.NodeStatusFailed
		ne.Error = res.err.Error()
	} else {
		ne.Status = domain.NodeStatusCompleted
		ne.Output = res.output
	}
	r.mu.Unlock()

	if res.fatalTimeout {
		r.timedOut = true
	}

	if res.err == nil {
		if err := r.engine.state.MarkNodeCompleted(r.exec.ID, res.nodeID); err != nil {
			r.engine.logger.Error("failed to mark node completed", "execution_id", r.exec.ID, "node_id", res.nodeID, "error", err)
		}
		if len(res.output) > 0 {
			update := map[string]domain.Value{res.nodeID: domain.MapValue(res.output)}
			if _, err := r.engine.state.UpdateState(r.exec.ID, update); err != nil {
				r.engine.logger.Error("failed to merge node output", "execution_id", r.exec.ID, "node_id", res.nodeID, "error", err)
			}
		}
	} else {
		if err := r.engine.state.RemovePendingNode(r.exec.ID, res.nodeID); err != nil {
			r.engine.logger.Error("failed to unpend failed node", "execution_id", r.exec.ID, "node_id", res.nodeID, "error", err)
		}
		r.engine.logger.Error("node failed",
			"execution_id", r.exec.ID,
			"node_id", res.nodeID,
			"attempts", res.attempts,
			"error", res.err)
	}

	r.saveNode(res.nodeID)

	if err := r.engine.records.RecordMetric(context.Background(), r.exec.ID, "node_duration_ms",
		float64(res.duration.Milliseconds()), "ms",
		map[string]string{"node_id": res.nodeID}); err != nil {
		r.engine.logger.Warn("failed to record node metric", "execution_id", r.exec.ID, "error", err)
	}
}

// finalizeAuto picks the terminal status once no node is pending or in
// flight: Failed if any node failed, unless a fallback path routed
// around the failure and an end node still completed.
func (r *run) finalizeAuto() {
	r.mu.RLock()
	status := domain.ExecutionStatusCompleted
	message := ""
	for id, ne := range r.exec.Nodes {
		if ne.Status == domain.NodeStatusFailed {
			status = domain.ExecutionStatusFailed
			message = "node " + id + " failed: " + ne.Error
			break
		}
	}
	if status == domain.ExecutionStatusFailed && r.endNodeCompletedLocked() {
		status = domain.ExecutionStatusCompleted
		message = ""
	}
	r.mu.RUnlock()

	r.finalize(status, message)
}

// endNodeCompletedLocked reports whether any end node completed. Caller
// holds at least a read lock.
func (r *run) endNodeCompletedLocked() bool {
	for id, node := range r.def.Nodes {
		if node.Type != domain.NodeTypeEnd {
			continue
		}
		if ne, ok := r.exec.Nodes[id]; ok && ne.Status == domain.NodeStatusCompleted {
			return true
		}
	}
	return false
}

func (r *run) finalize(status domain.ExecutionStatus, message string) {
	// Stop scheduling. On cancellation, in-flight invocations keep their
	// context and are allowed to finish; their results land in the ledger
	// but schedule nothing further. Timeouts and failures abort them.
	r.cancelFn()
	if status != domain.ExecutionStatusCancelled {
		r.nodeCancel()
	}
	for r.inFlight > 0 {
		r.applyResult(<-r.results)
	}
	r.nodeCancel()

	now := time.Now()
	r.mu.Lock()
	for _, ne := range r.exec.Nodes {
		if !ne.Status.IsTerminal() {
			ne.Status = domain.NodeStatusSkipped
			ne.CompletedAt = &now
		}
	}
	r.exec.Status = status
	r.exec.CompletedAt = &now
	if status != domain.ExecutionStatusCompleted {
		r.exec.Error = message
	}
	r.mu.Unlock()

	if err := r.engine.records.SaveExecution(context.Background(), snapshotExecution(r)); err != nil {
		r.engine.logger.Error("failed to persist terminal execution", "execution_id", r.exec.ID, "error", err)
	}

	r.engine.state.Invalidate(r.exec.ID)
	r.engine.removeRun(r.exec.ID)

	r.engine.logger.Info("execution finished",
		"execution_id", r.exec.ID,
		"workflow_id", r.exec.WorkflowID,
		"status", status,
		"duration", now.Sub(r.exec.StartedAt))
}

func (r *run) saveNode(nodeID string) {
	r.mu.RLock()
	neCopy := *r.exec.Nodes[nodeID]
	r.mu.RUnlock()

	if err := r.engine.records.SaveNodeExecution(context.Background(), r.exec.ID, &neCopy); err != nil {
		r.engine.logger.Error("failed to persist node execution",
			"execution_id", r.exec.ID,
			"node_id", nodeID,
			"error", err)
	}
}
