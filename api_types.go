package weft

import (
	"github.com/weftflow/weft/internal/adapters/graph"
	"github.com/weftflow/weft/internal/adapters/template"
	"github.com/weftflow/weft/internal/domain"
	"github.com/weftflow/weft/internal/ports"
)

// WorkflowDefinition is a validated, immutable workflow graph. A new
// version is a new definition.
type WorkflowDefinition = domain.WorkflowDefinition

// Node is one typed step of a workflow.
type Node = domain.Node

// Edge is an ordering link between two nodes, optionally conditioned.
type Edge = domain.Edge

// ParameterDef declares a workflow-level parameter.
type ParameterDef = domain.ParameterDef

// RetryPolicy bounds re-invocation of a failing node.
type RetryPolicy = domain.RetryPolicy

// TimeoutPolicy races a node invocation against a watchdog.
type TimeoutPolicy = domain.TimeoutPolicy

// Execution is one run of a definition with concrete inputs.
type Execution = domain.Execution

// NodeExecution is the per-node ledger entry of one run.
type NodeExecution = domain.NodeExecution

// ExecutionState is the inspectable, resumable workbench of a run.
type ExecutionState = domain.ExecutionState

// ExecutionStats aggregates the runs of one workflow.
type ExecutionStats = domain.ExecutionStats

// Value is the tagged-union type carried by configuration, parameters,
// and node output.
type Value = domain.Value

// Template is a parameterized, reusable workflow definition.
type Template = domain.Template

// TemplateParameter is an extracted, bindable template parameter.
type TemplateParameter = domain.TemplateParameter

// TemplateMeta carries the descriptive fields of a new template.
type TemplateMeta = template.Meta

// ValidationResult is the outcome of validating a definition.
type ValidationResult = graph.Result

// TemplateValidation is the outcome of checking parameter bindings.
type TemplateValidation = template.Validation

// ActionExecutor is the per-node-type invocation contract.
type ActionExecutor = ports.ActionExecutor

// ExecutorFunc adapts a function to the ActionExecutor contract.
type ExecutorFunc = ports.ExecutorFunc

// NodeType identifies what a node does.
type NodeType = domain.NodeType

const (
	NodeTypeStart        = domain.NodeTypeStart
	NodeTypeEnd          = domain.NodeTypeEnd
	NodeTypeAction       = domain.NodeTypeAction
	NodeTypeCondition    = domain.NodeTypeCondition
	NodeTypeTransform    = domain.NodeTypeTransform
	NodeTypeWait         = domain.NodeTypeWait
	NodeTypeAgent        = domain.NodeTypeAgent
	NodeTypeNotification = domain.NodeTypeNotification
)

// ExecutionStatus is the lifecycle state of an execution.
type ExecutionStatus = domain.ExecutionStatus

const (
	ExecutionStatusPending   = domain.ExecutionStatusPending
	ExecutionStatusRunning   = domain.ExecutionStatusRunning
	ExecutionStatusPaused    = domain.ExecutionStatusPaused
	ExecutionStatusCompleted = domain.ExecutionStatusCompleted
	ExecutionStatusFailed    = domain.ExecutionStatusFailed
	ExecutionStatusCancelled = domain.ExecutionStatusCancelled
	ExecutionStatusTimedOut  = domain.ExecutionStatusTimedOut
)

// NodeExecutionStatus is the lifecycle state of one node attempt window.
type NodeExecutionStatus = domain.NodeExecutionStatus

const (
	NodeStatusPending   = domain.NodeStatusPending
	NodeStatusRunning   = domain.NodeStatusRunning
	NodeStatusCompleted = domain.NodeStatusCompleted
	NodeStatusFailed    = domain.NodeStatusFailed
	NodeStatusSkipped   = domain.NodeStatusSkipped
)

// Value constructors re-exported for building configurations and inputs.
var (
	StringValue = domain.StringValue
	IntValue    = domain.IntValue
	FloatValue  = domain.FloatValue
	BoolValue   = domain.BoolValue
	TimeValue   = domain.TimeValue
	ListValue   = domain.ListValue
	MapValue    = domain.MapValue
	NullValue   = domain.NullValue
	FromAny     = domain.FromAny
)
