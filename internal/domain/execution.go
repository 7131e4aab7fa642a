package domain

import (
	"time"
)

type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
	ExecutionStatusTimedOut  ExecutionStatus = "timed_out"
)

// IsTerminal reports whether the execution can no longer progress.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled, ExecutionStatusTimedOut:
		return true
	}
	return false
}

type NodeExecutionStatus string

const (
	NodeStatusPending   NodeExecutionStatus = "pending"
	NodeStatusRunning   NodeExecutionStatus = "running"
	NodeStatusCompleted NodeExecutionStatus = "completed"
	NodeStatusFailed    NodeExecutionStatus = "failed"
	NodeStatusSkipped   NodeExecutionStatus = "skipped"
)

// IsTerminal reports whether the node attempt window is closed. A node
// never starts before every dependency is terminal.
func (s NodeExecutionStatus) IsTerminal() bool {
	switch s {
	case NodeStatusCompleted, NodeStatusFailed, NodeStatusSkipped:
		return true
	}
	return false
}

// NodeExecution is the per-node ledger entry of one run.
type NodeExecution struct {
	NodeID      string              `json:"node_id"`
	Status      NodeExecutionStatus `json:"status"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	RetryCount  int                 `json:"retry_count"`
	Output      map[string]Value    `json:"output,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// Execution is one run of a WorkflowDefinition with concrete inputs.
type Execution struct {
	ID          string                    `json:"id"`
	WorkflowID  string                    `json:"workflow_id"`
	Inputs      map[string]Value          `json:"inputs,omitempty"`
	Overrides   map[string]Value          `json:"overrides,omitempty"`
	Status      ExecutionStatus           `json:"status"`
	StartedAt   time.Time                 `json:"started_at"`
	CompletedAt *time.Time                `json:"completed_at,omitempty"`
	Error       string                    `json:"error,omitempty"`
	Nodes       map[string]*NodeExecution `json:"nodes"`
	CreatedBy   string                    `json:"created_by,omitempty"`
}

// ExecutionState is the inspectable, resumable workbench of a run,
// distinct from the NodeExecution ledger. Variables hold the declared
// parameter bindings under "parameters" and each node's output under its
// node id.
type ExecutionState struct {
	ExecutionID         string           `json:"execution_id"`
	Variables           map[string]Value `json:"variables"`
	CurrentNode         string           `json:"current_node,omitempty"`
	CompletedNodes      []string         `json:"completed_nodes,omitempty"`
	PendingNodes        []string         `json:"pending_nodes,omitempty"`
	LastUpdated         time.Time        `json:"last_updated"`
	Version             int64            `json:"version"`
	IsSnapshot          bool             `json:"is_snapshot,omitempty"`
	RestoredAt          *time.Time       `json:"restored_at,omitempty"`
	RestoredFromVersion int64            `json:"restored_from_version,omitempty"`
}

// HasCompleted reports whether the node id is in the completed set.
func (s *ExecutionState) HasCompleted(nodeID string) bool {
	for _, id := range s.CompletedNodes {
		if id == nodeID {
			return true
		}
	}
	return false
}

// MarkCompleted adds a node id to the completed set and drops it from the
// pending set. Adding an id already present is a no-op.
func (s *ExecutionState) MarkCompleted(nodeID string) {
	if !s.HasCompleted(nodeID) {
		s.CompletedNodes = append(s.CompletedNodes, nodeID)
	}
	s.removePending(nodeID)
}

// AddPending adds a node id to the pending set unless it is already
// pending or completed.
func (s *ExecutionState) AddPending(nodeID string) {
	if s.HasCompleted(nodeID) {
		return
	}
	for _, id := range s.PendingNodes {
		if id == nodeID {
			return
		}
	}
	s.PendingNodes = append(s.PendingNodes, nodeID)
}

func (s *ExecutionState) removePending(nodeID string) {
	for i, id := range s.PendingNodes {
		if id == nodeID {
			s.PendingNodes = append(s.PendingNodes[:i], s.PendingNodes[i+1:]...)
			return
		}
	}
}

// RemovePending drops a node id from the pending set.
func (s *ExecutionState) RemovePending(nodeID string) {
	s.removePending(nodeID)
}

// Clone returns a deep copy safe to mutate independently.
func (s *ExecutionState) Clone() *ExecutionState {
	clone := *s
	clone.Variables = cloneValueMap(s.Variables)
	clone.CompletedNodes = append([]string(nil), s.CompletedNodes...)
	clone.PendingNodes = append([]string(nil), s.PendingNodes...)
	if s.RestoredAt != nil {
		t := *s.RestoredAt
		clone.RestoredAt = &t
	}
	return &clone
}

func cloneValueMap(m map[string]Value) map[string]Value {
	if m == nil {
		return nil
	}
	out := make(map[string]Value, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v Value) Value {
	switch v.Kind {
	case KindList:
		items := make([]Value, len(v.List))
		for i, item := range v.List {
			items[i] = cloneValue(item)
		}
		v.List = items
	case KindMap:
		v.Map = cloneValueMap(v.Map)
	}
	return v
}

// ExecutionStats aggregates the runs of one workflow over a date range.
type ExecutionStats struct {
	WorkflowID      string                  `json:"workflow_id"`
	Total           int                     `json:"total"`
	ByStatus        map[ExecutionStatus]int `json:"by_status"`
	AverageDuration time.Duration           `json:"average_duration"`
}
