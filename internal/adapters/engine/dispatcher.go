package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/weftflow/weft/internal/adapters/condition"
	"github.com/weftflow/weft/internal/adapters/graph"
	"github.com/weftflow/weft/internal/domain"
)

// executeNode drives one node through its attempt window: invoke, and on
// failure wait min(initialDelay * multiplier^i, maxDelay) before the next
// attempt until the policy is exhausted. A watchdog expiry with the fail
// action short-circuits everything. nodeID is the definition map key; the
// embedded Node.ID may be empty, the key never is.
func (r *run) executeNode(nodeID string, node *domain.Node) nodeResult {
	started := time.Now()

	policy := node.Retry
	if policy == nil {
		policy = &domain.RetryPolicy{MaxAttempts: 1}
	}
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = policy.InitialDelay
	schedule.MaxInterval = policy.MaxDelay
	schedule.Multiplier = policy.BackoffMultiplier
	if schedule.Multiplier < 1 {
		schedule.Multiplier = 1
	}
	schedule.RandomizationFactor = 0 // the retry bound is deterministic
	schedule.MaxElapsedTime = 0
	schedule.Reset()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		r.setRetryCount(nodeID, attempt-1)

		output, err := r.invokeOnce(nodeID, node)
		if err == nil {
			return nodeResult{
				nodeID:   nodeID,
				output:   output,
				attempts: attempt,
				duration: time.Since(started),
			}
		}
		lastErr = err

		var timeoutErr *domain.TimeoutError
		if errors.As(err, &timeoutErr) && node.Timeout != nil && node.Timeout.OnTimeout == domain.TimeoutActionFail {
			return nodeResult{
				nodeID:       nodeID,
				err:          err,
				attempts:     attempt,
				fatalTimeout: true,
				duration:     time.Since(started),
			}
		}

		if r.ctx.Err() != nil {
			break
		}

		if attempt < maxAttempts {
			delay := schedule.NextBackOff()
			r.engine.logger.Debug("retrying node",
				"execution_id", r.exec.ID,
				"node_id", nodeID,
				"attempt", attempt,
				"delay", delay,
				"error", err)

			select {
			case <-time.After(delay):
			case <-r.ctx.Done():
				return nodeResult{
					nodeID:   nodeID,
					err:      r.ctx.Err(),
					attempts: attempt,
					duration: time.Since(started),
				}
			}
		}
	}

	return nodeResult{
		nodeID:   nodeID,
		err:      &domain.NodeExecutionError{ExecutionID: r.exec.ID, NodeID: nodeID, Attempts: maxAttempts, Err: lastErr},
		attempts: maxAttempts,
		duration: time.Since(started),
	}
}

func (r *run) setRetryCount(nodeID string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exec.Nodes[nodeID].RetryCount = count
}

type invocationOutcome struct {
	output map[string]domain.Value
	err    error
}

// invokeOnce performs a single attempt: resolve configuration references
// against the current state, look up the type executor, and race the call
// against the node's watchdog. A panic inside the executor is recovered at
// this boundary so it cannot corrupt sibling nodes or the scheduler.
func (r *run) invokeOnce(nodeID string, node *domain.Node) (map[string]domain.Value, error) {
	current, err := r.engine.state.GetCurrentState(r.exec.ID)
	if err != nil {
		return nil, err
	}

	resolver := condition.MapResolver(current.Variables)
	config := resolveConfig(node.Config, resolver)

	executor, ok := r.engine.executorFor(node.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrExecutorMissing, node.Type)
	}

	ctx := r.nodeCtx
	var cancel context.CancelFunc
	timeout := r.nodeTimeout(node)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	outcome := make(chan invocationOutcome, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				outcome <- invocationOutcome{err: &domain.PanicError{
					NodeID:     nodeID,
					PanicValue: recovered,
					StackTrace: string(debug.Stack()),
				}}
			}
		}()

		output, err := executor.Execute(ctx, config, current)
		outcome <- invocationOutcome{output: output, err: err}
	}()

	select {
	case result := <-outcome:
		// An executor that honors ctx may report the expiry itself.
		if timeout > 0 && errors.Is(result.err, context.DeadlineExceeded) {
			return nil, &domain.TimeoutError{ExecutionID: r.exec.ID, NodeID: nodeID, Limit: timeout}
		}
		return result.output, result.err
	case <-ctx.Done():
		if timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &domain.TimeoutError{ExecutionID: r.exec.ID, NodeID: nodeID, Limit: timeout}
		}
		return nil, ctx.Err()
	}
}

func (r *run) nodeTimeout(node *domain.Node) time.Duration {
	if node.Timeout != nil {
		return node.Timeout.Duration
	}
	return r.engine.cfg.DefaultNodeTimeout
}

// resolveConfig substitutes ${parameters.x} and ${nodeId.field} references
// in a configuration tree. A string that is exactly one reference keeps
// the resolved value's type; embedded references interpolate as text.
// Unresolved references are left verbatim.
func resolveConfig(config map[string]domain.Value, resolver condition.MapResolver) map[string]domain.Value {
	if len(config) == 0 {
		return config
	}
	resolved := make(map[string]domain.Value, len(config))
	for key, value := range config {
		resolved[key] = resolveValue(value, resolver)
	}
	return resolved
}

func resolveValue(value domain.Value, resolver condition.MapResolver) domain.Value {
	switch value.Kind {
	case domain.KindString:
		return resolveString(value.Str, resolver)
	case domain.KindList:
		items := make([]domain.Value, len(value.List))
		for i, item := range value.List {
			items[i] = resolveValue(item, resolver)
		}
		return domain.ListValue(items)
	case domain.KindMap:
		m := make(map[string]domain.Value, len(value.Map))
		for k, item := range value.Map {
			m[k] = resolveValue(item, resolver)
		}
		return domain.MapValue(m)
	default:
		return value
	}
}

func resolveString(s string, resolver condition.MapResolver) domain.Value {
	refs := graph.CollectRefs(s)
	if len(refs) == 0 {
		return domain.StringValue(s)
	}

	if len(refs) == 1 && s == "${"+refs[0]+"}" {
		if resolved, ok := resolver.Resolve(refs[0]); ok {
			return resolved
		}
		return domain.StringValue(s)
	}

	out := s
	for _, ref := range refs {
		if resolved, ok := resolver.Resolve(ref); ok {
			out = strings.ReplaceAll(out, "${"+ref+"}", resolved.AsString())
		}
	}
	return domain.StringValue(out)
}
