package domain

import (
	"time"
)

type NodeType string

const (
	NodeTypeStart        NodeType = "start"
	NodeTypeEnd          NodeType = "end"
	NodeTypeAction       NodeType = "action"
	NodeTypeCondition    NodeType = "condition"
	NodeTypeTransform    NodeType = "transform"
	NodeTypeWait         NodeType = "wait"
	NodeTypeAgent        NodeType = "agent"
	NodeTypeNotification NodeType = "notification"
)

// ParameterDef declares a workflow-level parameter. Required parameters
// without a default must be bound when an execution starts.
type ParameterDef struct {
	Type        string `json:"type"`
	Default     Value  `json:"default,omitempty"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

type TimeoutAction string

const (
	TimeoutActionRetry TimeoutAction = "retry"
	TimeoutActionFail  TimeoutAction = "fail"
)

// RetryPolicy bounds re-invocation of a failing node. The i-th backoff is
// min(InitialDelay * BackoffMultiplier^i, MaxDelay).
type RetryPolicy struct {
	MaxAttempts       int           `json:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// TimeoutPolicy races a node invocation against Duration. OnTimeout "retry"
// counts the expiry as a failed attempt; "fail" is immediately terminal.
type TimeoutPolicy struct {
	Duration  time.Duration `json:"duration"`
	OnTimeout TimeoutAction `json:"on_timeout"`
}

// Node is one typed step of a workflow. Configuration values may embed
// ${parameters.x} and ${nodeId.field} references that are resolved against
// the execution state right before dispatch.
type Node struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Type         NodeType         `json:"type"`
	Config       map[string]Value `json:"config,omitempty"`
	Dependencies []string         `json:"dependencies,omitempty"`
	Condition    string           `json:"condition,omitempty"`
	Retry        *RetryPolicy     `json:"retry,omitempty"`
	Timeout      *TimeoutPolicy   `json:"timeout,omitempty"`
}

// Edge is an ordering link between two nodes. A conditioned edge further
// gates when To may run, independent of To's own condition.
type Edge struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Condition string `json:"condition,omitempty"`
}

// WorkflowDefinition is immutable once created; a new version is a new
// definition.
type WorkflowDefinition struct {
	ID         string                  `json:"id"`
	Name       string                  `json:"name"`
	Version    int                     `json:"version"`
	Parameters map[string]ParameterDef `json:"parameters,omitempty"`
	Nodes      map[string]*Node        `json:"nodes"`
	Edges      []Edge                  `json:"edges,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
	CreatedBy  string                  `json:"created_by,omitempty"`
}

// NodesOfType returns the ids of nodes with the given type.
func (d *WorkflowDefinition) NodesOfType(t NodeType) []string {
	var ids []string
	for id, node := range d.Nodes {
		if node.Type == t {
			ids = append(ids, id)
		}
	}
	return ids
}

// IncomingEdges returns the edges whose To is the given node.
func (d *WorkflowDefinition) IncomingEdges(nodeID string) []Edge {
	var edges []Edge
	for _, edge := range d.Edges {
		if edge.To == nodeID {
			edges = append(edges, edge)
		}
	}
	return edges
}

// EffectiveDependencies returns the union of a node's declared dependency
// set and the From side of its incoming edges. An edge implies ordering:
// its condition can only be evaluated once From is terminal.
func (d *WorkflowDefinition) EffectiveDependencies(nodeID string) []string {
	node, ok := d.Nodes[nodeID]
	if !ok {
		return nil
	}
	seen := make(map[string]struct{}, len(node.Dependencies))
	deps := make([]string, 0, len(node.Dependencies))
	for _, dep := range node.Dependencies {
		if _, dup := seen[dep]; !dup {
			seen[dep] = struct{}{}
			deps = append(deps, dep)
		}
	}
	for _, edge := range d.Edges {
		if edge.To != nodeID {
			continue
		}
		if _, dup := seen[edge.From]; !dup {
			seen[edge.From] = struct{}{}
			deps = append(deps, edge.From)
		}
	}
	return deps
}
