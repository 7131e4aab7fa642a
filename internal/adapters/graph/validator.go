package graph

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/weftflow/weft/internal/domain"
)

// Result is the outcome of validating one definition. Warnings never block
// a definition from becoming executable; errors do.
type Result struct {
	IsValid  bool                     `json:"is_valid"`
	Errors   []domain.ValidationIssue `json:"errors,omitempty"`
	Warnings []domain.ValidationIssue `json:"warnings,omitempty"`
}

func (r *Result) addError(code, format string, args ...interface{}) {
	r.Errors = append(r.Errors, domain.ValidationIssue{Code: code, Message: fmt.Sprintf(format, args...)})
}

func (r *Result) addWarning(code, format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, domain.ValidationIssue{Code: code, Message: fmt.Sprintf(format, args...)})
}

var refPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_][A-Za-z0-9_.-]*)\}`)

// Validator checks structural correctness of workflow definitions. It runs
// at definition-creation time and before template instantiation, never
// mid-execution: a definition that passed is structurally stable for the
// engine.
type Validator struct {
	logger *slog.Logger
}

func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{logger: logger.With("component", "graph-validator")}
}

// Validate runs every structural check, in order: well-formedness, node id
// integrity, reference resolution, cycle detection, Start reachability,
// and parameter usage.
func (v *Validator) Validate(def *domain.WorkflowDefinition) *Result {
	result := &Result{}

	if def == nil {
		result.addError(domain.CodeInvalidDefinition, "definition is nil")
		result.IsValid = false
		return result
	}
	if def.Name == "" {
		result.addError(domain.CodeInvalidDefinition, "definition name is empty")
	}
	if len(def.Nodes) == 0 {
		result.addError(domain.CodeInvalidDefinition, "definition has no nodes")
		result.IsValid = len(result.Errors) == 0
		return result
	}

	v.checkNodeIDs(def, result)
	v.checkReferences(def, result)
	v.checkPolicies(def, result)

	// Cycle and reachability checks only make sense over resolvable edges.
	if len(result.Errors) == 0 {
		v.checkAcyclic(def, result)
		v.checkReachability(def, result)
	}

	v.checkParameters(def, result)

	result.IsValid = len(result.Errors) == 0

	v.logger.Debug("definition validated",
		"definition", def.Name,
		"valid", result.IsValid,
		"errors", len(result.Errors),
		"warnings", len(result.Warnings))

	return result
}

func (v *Validator) checkNodeIDs(def *domain.WorkflowDefinition, result *Result) {
	for id, node := range def.Nodes {
		if node == nil {
			result.addError(domain.CodeInvalidDefinition, "node %q is nil", id)
			continue
		}
		if id == "" {
			result.addError(domain.CodeInvalidDefinition, "node with empty id")
			continue
		}
		if node.ID != "" && node.ID != id {
			// The map key is authoritative; a diverging embedded id is a
			// duplicate identity.
			result.addError(domain.CodeDuplicateNodeID, "node %q declares conflicting id %q", id, node.ID)
		}
		if node.Type == "" {
			result.addError(domain.CodeInvalidDefinition, "node %q has no type", id)
		}
	}
}

func (v *Validator) checkReferences(def *domain.WorkflowDefinition, result *Result) {
	for id, node := range def.Nodes {
		if node == nil {
			continue
		}
		for _, dep := range node.Dependencies {
			if _, ok := def.Nodes[dep]; !ok {
				result.addError(domain.CodeUnknownReference, "node %q depends on unknown node %q", id, dep)
			}
		}
	}
	for i, edge := range def.Edges {
		if _, ok := def.Nodes[edge.From]; !ok {
			result.addError(domain.CodeUnknownReference, "edge %d references unknown node %q", i, edge.From)
		}
		if _, ok := def.Nodes[edge.To]; !ok {
			result.addError(domain.CodeUnknownReference, "edge %d references unknown node %q", i, edge.To)
		}
	}
}

func (v *Validator) checkPolicies(def *domain.WorkflowDefinition, result *Result) {
	for id, node := range def.Nodes {
		if node == nil {
			continue
		}
		if rp := node.Retry; rp != nil {
			if rp.MaxAttempts < 1 || rp.InitialDelay < 0 || rp.MaxDelay < rp.InitialDelay || rp.BackoffMultiplier < 1 {
				result.addError(domain.CodeInvalidRetryPolicy, "node %q has an invalid retry policy", id)
			}
		}
		if tp := node.Timeout; tp != nil {
			if tp.Duration <= 0 {
				result.addError(domain.CodeInvalidTimeout, "node %q has a non-positive timeout", id)
			}
			if tp.OnTimeout != domain.TimeoutActionRetry && tp.OnTimeout != domain.TimeoutActionFail {
				result.addError(domain.CodeInvalidTimeout, "node %q has unknown timeout action %q", id, tp.OnTimeout)
			}
		}
	}
}

// checkAcyclic runs Kahn's topological sort over the effective dependency
// graph and reports the node ids left with unresolved in-degree.
func (v *Validator) checkAcyclic(def *domain.WorkflowDefinition, result *Result) {
	inDegree := make(map[string]int, len(def.Nodes))
	successors := make(map[string][]string, len(def.Nodes))

	for id := range def.Nodes {
		inDegree[id] = 0
	}
	for id := range def.Nodes {
		for _, dep := range def.EffectiveDependencies(id) {
			successors[dep] = append(successors[dep], id)
			inDegree[id]++
		}
	}

	queue := make([]string, 0, len(def.Nodes))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, succ := range successors[id] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if visited == len(def.Nodes) {
		return
	}

	var cycleNodes []string
	for id, deg := range inDegree {
		if deg > 0 {
			cycleNodes = append(cycleNodes, id)
		}
	}
	sort.Strings(cycleNodes)
	result.addError(domain.CodeCycleDetected, "dependency cycle involving nodes: %s", strings.Join(cycleNodes, ", "))
}

func (v *Validator) checkReachability(def *domain.WorkflowDefinition, result *Result) {
	starts := def.NodesOfType(domain.NodeTypeStart)
	if len(starts) == 0 {
		result.addError(domain.CodeNoStartNode, "definition has no start node")
		return
	}

	successors := make(map[string][]string, len(def.Nodes))
	for id := range def.Nodes {
		for _, dep := range def.EffectiveDependencies(id) {
			successors[dep] = append(successors[dep], id)
		}
	}

	reached := make(map[string]struct{}, len(def.Nodes))
	queue := append([]string(nil), starts...)
	for _, id := range starts {
		reached[id] = struct{}{}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, succ := range successors[id] {
			if _, ok := reached[succ]; !ok {
				reached[succ] = struct{}{}
				queue = append(queue, succ)
			}
		}
	}

	var unreachable []string
	for id := range def.Nodes {
		if _, ok := reached[id]; !ok {
			unreachable = append(unreachable, id)
		}
	}
	sort.Strings(unreachable)
	for _, id := range unreachable {
		result.addError(domain.CodeUnreachableNode, "node %q is not reachable from any start node", id)
	}
}

func (v *Validator) checkParameters(def *domain.WorkflowDefinition, result *Result) {
	referenced := CollectParameterRefs(def)

	for name, param := range def.Parameters {
		if _, ok := referenced[name]; !ok && param.Required {
			result.addWarning(domain.CodeUnusedParameter, "required parameter %q is never referenced", name)
		}
	}

	names := make([]string, 0, len(referenced))
	for name := range referenced {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := def.Parameters[name]; !ok {
			result.addWarning(domain.CodeUnknownParameter, "configuration references undeclared parameter %q", name)
		}
	}
}

// CollectParameterRefs walks every condition expression and configuration
// value tree and returns the set of ${parameters.x} names it references.
func CollectParameterRefs(def *domain.WorkflowDefinition) map[string]struct{} {
	refs := make(map[string]struct{})
	collect := func(s string) {
		for _, match := range refPattern.FindAllStringSubmatch(s, -1) {
			path := match[1]
			if strings.HasPrefix(path, "parameters.") {
				refs[strings.TrimPrefix(path, "parameters.")] = struct{}{}
			}
		}
	}

	for _, node := range def.Nodes {
		if node == nil {
			continue
		}
		collect(node.Condition)
		for _, value := range node.Config {
			collectFromValue(value, collect)
		}
	}
	for _, edge := range def.Edges {
		collect(edge.Condition)
	}
	return refs
}

// CollectRefs returns every ${...} reference path, parameter or node
// output, found in a string.
func CollectRefs(s string) []string {
	var paths []string
	for _, match := range refPattern.FindAllStringSubmatch(s, -1) {
		paths = append(paths, match[1])
	}
	return paths
}

func collectFromValue(value domain.Value, collect func(string)) {
	switch value.Kind {
	case domain.KindString:
		collect(value.Str)
	case domain.KindList:
		for _, item := range value.List {
			collectFromValue(item, collect)
		}
	case domain.KindMap:
		for _, item := range value.Map {
			collectFromValue(item, collect)
		}
	}
}
