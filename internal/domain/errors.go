package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrClosed            = errors.New("already closed")
	ErrExecutionActive   = errors.New("execution already active")
	ErrNotActive         = errors.New("execution not active")
	ErrExecutorMissing   = errors.New("no executor registered for node type")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationIssue is one entry of a validation result. The same shape is
// used for errors and warnings; only the bucket differs.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Issue codes shared between the graph validator and the template service.
const (
	CodeInvalidDefinition  = "INVALID_DEFINITION"
	CodeDuplicateNodeID    = "DUPLICATE_NODE_ID"
	CodeUnknownReference   = "UNKNOWN_NODE_REFERENCE"
	CodeCycleDetected      = "CYCLE_DETECTED"
	CodeNoStartNode        = "NO_START_NODE"
	CodeUnreachableNode    = "UNREACHABLE_NODE"
	CodeMissingParameter   = "MISSING_REQUIRED_PARAMETER"
	CodeUnusedParameter    = "UNUSED_PARAMETER"
	CodeUnknownParameter   = "UNKNOWN_PARAMETER"
	CodeTypeMismatch       = "PARAMETER_TYPE_MISMATCH"
	CodeInvalidRetryPolicy = "INVALID_RETRY_POLICY"
	CodeInvalidTimeout     = "INVALID_TIMEOUT"
)

// DefinitionError is a structural failure found at validation time. A
// definition that produced one never becomes executable.
type DefinitionError struct {
	Code    string
	Message string
	NodeIDs []string
}

func (e *DefinitionError) Error() string {
	if len(e.NodeIDs) > 0 {
		return fmt.Sprintf("%s: %s (nodes: %s)", e.Code, e.Message, strings.Join(e.NodeIDs, ", "))
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewDefinitionError(code, message string, nodeIDs ...string) *DefinitionError {
	return &DefinitionError{Code: code, Message: message, NodeIDs: nodeIDs}
}

// NodeExecutionError wraps a node invocation failure after the retry
// policy is exhausted.
type NodeExecutionError struct {
	ExecutionID string
	NodeID      string
	Attempts    int
	Err         error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s failed after %d attempt(s): %v", e.NodeID, e.Attempts, e.Err)
}

func (e *NodeExecutionError) Unwrap() error { return e.Err }

// PanicError captures a recovered panic from a node executor so one
// node's crash cannot take the scheduler down with it.
type PanicError struct {
	NodeID     string
	PanicValue interface{}
	StackTrace string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.PanicValue)
}

// TimeoutError reports a watchdog expiry for one node invocation.
type TimeoutError struct {
	ExecutionID string
	NodeID      string
	Limit       time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("node %s timed out after %s", e.NodeID, e.Limit)
}

// ConditionError reports a failed condition evaluation. It is never fatal:
// the engine logs it and treats the condition as false.
type ConditionError struct {
	Expression string
	Err        error
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("condition %q: %v", e.Expression, e.Err)
}

func (e *ConditionError) Unwrap() error { return e.Err }

// StateStoreError is fatal to the specific state operation that hit it.
// The caller decides whether to retry; unsaved state is never inferred.
type StateStoreError struct {
	Op          string
	ExecutionID string
	Err         error
}

func (e *StateStoreError) Error() string {
	return fmt.Sprintf("state[%s] %s: %v", e.ExecutionID, e.Op, e.Err)
}

func (e *StateStoreError) Unwrap() error { return e.Err }

func NewStateStoreError(op, executionID string, err error) *StateStoreError {
	return &StateStoreError{Op: op, ExecutionID: executionID, Err: err}
}

// TemplateError is returned across the template service boundary for
// non-validation failures (missing template, malformed import payloads).
type TemplateError struct {
	Code    string
	Message string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

func IsConditionError(err error) bool {
	var ce *ConditionError
	return errors.As(err, &ce)
}

func IsDefinitionError(err error) bool {
	var de *DefinitionError
	return errors.As(err, &de)
}

func IsStateStoreError(err error) bool {
	var se *StateStoreError
	return errors.As(err, &se)
}
