package graph

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftflow/weft/internal/domain"
)

func newValidator() *Validator {
	return NewValidator(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func linearDefinition() *domain.WorkflowDefinition {
	return &domain.WorkflowDefinition{
		Name: "linear",
		Nodes: map[string]*domain.Node{
			"start": {Type: domain.NodeTypeStart},
			"work":  {Type: domain.NodeTypeAction, Dependencies: []string{"start"}},
			"end":   {Type: domain.NodeTypeEnd, Dependencies: []string{"work"}},
		},
	}
}

func issueCodes(issues []domain.ValidationIssue) []string {
	codes := make([]string, 0, len(issues))
	for _, issue := range issues {
		codes = append(codes, issue.Code)
	}
	return codes
}

func TestValidateAcceptsLinearDefinition(t *testing.T) {
	result := newValidator().Validate(linearDefinition())

	assert.True(t, result.IsValid)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestValidateRejectsNilAndEmptyDefinitions(t *testing.T) {
	v := newValidator()

	result := v.Validate(nil)
	assert.False(t, result.IsValid)
	assert.Contains(t, issueCodes(result.Errors), domain.CodeInvalidDefinition)

	result = v.Validate(&domain.WorkflowDefinition{Name: "empty"})
	assert.False(t, result.IsValid)
	assert.Contains(t, issueCodes(result.Errors), domain.CodeInvalidDefinition)
}

func TestValidateConflictingNodeID(t *testing.T) {
	def := linearDefinition()
	def.Nodes["work"].ID = "something-else"

	result := newValidator().Validate(def)
	assert.False(t, result.IsValid)
	assert.Contains(t, issueCodes(result.Errors), domain.CodeDuplicateNodeID)
}

func TestValidateUnknownReferences(t *testing.T) {
	def := linearDefinition()
	def.Nodes["work"].Dependencies = append(def.Nodes["work"].Dependencies, "ghost")
	def.Edges = []domain.Edge{{From: "start", To: "phantom"}}

	result := newValidator().Validate(def)
	assert.False(t, result.IsValid)

	codes := issueCodes(result.Errors)
	count := 0
	for _, code := range codes {
		if code == domain.CodeUnknownReference {
			count++
		}
	}
	assert.Equal(t, 2, count)
}

func TestValidateDetectsCycleWithMembers(t *testing.T) {
	def := &domain.WorkflowDefinition{
		Name: "cyclic",
		Nodes: map[string]*domain.Node{
			"start": {Type: domain.NodeTypeStart},
			"a":     {Type: domain.NodeTypeAction, Dependencies: []string{"start", "c"}},
			"b":     {Type: domain.NodeTypeAction, Dependencies: []string{"a"}},
			"c":     {Type: domain.NodeTypeAction, Dependencies: []string{"b"}},
		},
	}

	result := newValidator().Validate(def)
	require.False(t, result.IsValid)

	var cycleMessage string
	for _, issue := range result.Errors {
		if issue.Code == domain.CodeCycleDetected {
			cycleMessage = issue.Message
		}
	}
	require.NotEmpty(t, cycleMessage)
	assert.Contains(t, cycleMessage, "a")
	assert.Contains(t, cycleMessage, "b")
	assert.Contains(t, cycleMessage, "c")
}

func TestValidateNoStartNode(t *testing.T) {
	def := &domain.WorkflowDefinition{
		Name: "no-start",
		Nodes: map[string]*domain.Node{
			"a": {Type: domain.NodeTypeAction},
			"b": {Type: domain.NodeTypeAction, Dependencies: []string{"a"}},
		},
	}

	result := newValidator().Validate(def)
	assert.False(t, result.IsValid)
	assert.Contains(t, issueCodes(result.Errors), domain.CodeNoStartNode)
}

func TestValidateUnreachableNode(t *testing.T) {
	def := linearDefinition()
	def.Nodes["island"] = &domain.Node{Type: domain.NodeTypeAction}

	result := newValidator().Validate(def)
	assert.False(t, result.IsValid)
	assert.Contains(t, issueCodes(result.Errors), domain.CodeUnreachableNode)
}

func TestValidatePolicies(t *testing.T) {
	def := linearDefinition()
	def.Nodes["work"].Retry = &domain.RetryPolicy{MaxAttempts: 0}
	def.Nodes["end"].Timeout = &domain.TimeoutPolicy{Duration: -time.Second, OnTimeout: "explode"}

	result := newValidator().Validate(def)
	assert.False(t, result.IsValid)

	codes := issueCodes(result.Errors)
	assert.Contains(t, codes, domain.CodeInvalidRetryPolicy)
	assert.Contains(t, codes, domain.CodeInvalidTimeout)
}

func TestValidateParameterUsageWarnings(t *testing.T) {
	def := linearDefinition()
	def.Parameters = map[string]domain.ParameterDef{
		"used":   {Type: "string", Required: true},
		"unused": {Type: "string", Required: true},
	}
	def.Nodes["work"].Config = map[string]domain.Value{
		"input": domain.StringValue("${parameters.used} and ${parameters.undeclared}"),
	}

	result := newValidator().Validate(def)
	assert.True(t, result.IsValid, "usage issues are warnings, not errors")

	codes := issueCodes(result.Warnings)
	assert.Contains(t, codes, domain.CodeUnusedParameter)
	assert.Contains(t, codes, domain.CodeUnknownParameter)
}

func TestCollectRefs(t *testing.T) {
	refs := CollectRefs("${parameters.a} plus ${node1.field} plus plain text")
	assert.Equal(t, []string{"parameters.a", "node1.field"}, refs)
	assert.Empty(t, CollectRefs("no references here"))
}
