package template

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	json "github.com/goccy/go-json"

	"github.com/weftflow/weft/internal/adapters/graph"
	"github.com/weftflow/weft/internal/domain"
	"github.com/weftflow/weft/internal/ports"
)

var placeholderPattern = regexp.MustCompile(`^\{\{([A-Za-z0-9_.-]+)\}\}$`)

// Validation is the structured outcome of checking parameter bindings. It
// crosses the API boundary as data, never as a thrown fault.
type Validation struct {
	IsValid  bool                     `json:"is_valid"`
	Errors   []domain.ValidationIssue `json:"errors,omitempty"`
	Warnings []domain.ValidationIssue `json:"warnings,omitempty"`
}

// BindingError carries a failed Validation across an operation that
// cannot proceed on invalid bindings.
type BindingError struct {
	Validation *Validation
}

func (e *BindingError) Error() string {
	if len(e.Validation.Errors) > 0 {
		return "invalid template bindings: " + e.Validation.Errors[0].Message
	}
	return "invalid template bindings"
}

// Meta carries the descriptive fields of a new template.
type Meta struct {
	Name        string
	Description string
	Category    string
	Tags        []string
	IsPublic    bool
	CreatedBy   string
}

// Service derives reusable templates from concrete definitions and
// instantiates concrete definitions from templates plus bindings.
// Placeholder substitution happens on the parsed definition tree, so a
// bound value whose serialized form contains {{...}} cannot collide.
type Service struct {
	storage   ports.Storage
	validator *graph.Validator
	logger    *slog.Logger
}

func NewService(storage ports.Storage, validator *graph.Validator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		storage:   storage,
		validator: validator,
		logger:    logger.With("component", "template-service"),
	}
}

// CreateTemplateFromWorkflow extracts parameters from the definition's
// declared parameters and from every configuration value that is not
// already a parameter reference, synthesizing {nodeId}_{configKey}
// parameters whose default is the original value, and rewrites the body
// with placeholder tokens.
func (s *Service) CreateTemplateFromWorkflow(def *domain.WorkflowDefinition, meta Meta) (*domain.Template, error) {
	if def == nil {
		return nil, domain.ErrInvalidInput
	}

	body, err := cloneDefinition(def)
	if err != nil {
		return nil, err
	}

	parameters := make(map[string]domain.TemplateParameter, len(def.Parameters))
	for name, param := range def.Parameters {
		parameters[name] = domain.TemplateParameter{
			Name:        name,
			Type:        param.Type,
			Default:     param.Default,
			Required:    param.Required,
			Description: param.Description,
		}
	}

	nodeIDs := make([]string, 0, len(body.Nodes))
	for id := range body.Nodes {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	for _, nodeID := range nodeIDs {
		node := body.Nodes[nodeID]
		keys := make([]string, 0, len(node.Config))
		for key := range node.Config {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			value := node.Config[key]
			if !extractable(value) {
				continue
			}

			name := nodeID + "_" + key
			parameters[name] = domain.TemplateParameter{
				Name:       name,
				Type:       value.Kind.String(),
				Default:    value,
				SourceNode: nodeID,
				SourceKey:  key,
			}
			node.Config[key] = domain.StringValue("{{" + name + "}}")
		}
	}

	name := meta.Name
	if name == "" {
		name = def.Name
	}

	tpl := &domain.Template{
		ID:          uuid.New().String(),
		Name:        name,
		Description: meta.Description,
		Category:    meta.Category,
		Definition:  body,
		Parameters:  parameters,
		Tags:        meta.Tags,
		IsPublic:    meta.IsPublic,
		CreatedBy:   meta.CreatedBy,
		CreatedAt:   time.Now(),
	}

	if err := s.save(tpl); err != nil {
		return nil, err
	}

	s.logger.Debug("template created",
		"template_id", tpl.ID,
		"workflow", def.Name,
		"parameters", len(parameters))

	return tpl, nil
}

// extractable reports whether a configuration value should become an
// implicit parameter. Values that already reference parameters or prior
// node output stay as they are, as do existing placeholder tokens.
func extractable(value domain.Value) bool {
	switch value.Kind {
	case domain.KindNull:
		return false
	case domain.KindString:
		if placeholderPattern.MatchString(value.Str) {
			return false
		}
		return len(graph.CollectRefs(value.Str)) == 0
	default:
		return true
	}
}

// Get loads one template by id.
func (s *Service) Get(id string) (*domain.Template, error) {
	data, exists, err := s.storage.Get(domain.TemplateKey(id))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrNotFound
	}

	var tpl domain.Template
	if err := json.Unmarshal(data, &tpl); err != nil {
		return nil, err
	}
	return &tpl, nil
}

// ValidateTemplateParameters checks bindings against the template's
// declared parameters: missing required parameters are errors, type
// mismatches are errors, bindings for undeclared names are warnings.
func (s *Service) ValidateTemplateParameters(templateID string, bindings map[string]domain.Value) (*Validation, error) {
	tpl, err := s.Get(templateID)
	if err != nil {
		return nil, err
	}
	return validateBindings(tpl, bindings), nil
}

func validateBindings(tpl *domain.Template, bindings map[string]domain.Value) *Validation {
	result := &Validation{}

	names := make([]string, 0, len(tpl.Parameters))
	for name := range tpl.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		param := tpl.Parameters[name]
		bound, ok := bindings[name]
		if !ok {
			if param.Required && param.Default.IsNull() {
				result.Errors = append(result.Errors, domain.ValidationIssue{
					Code:    domain.CodeMissingParameter,
					Message: fmt.Sprintf("required parameter %q is not bound", name),
				})
			}
			continue
		}
		if !typeMatches(param.Type, bound) {
			result.Errors = append(result.Errors, domain.ValidationIssue{
				Code:    domain.CodeTypeMismatch,
				Message: fmt.Sprintf("parameter %q expects %s, got %s", name, param.Type, bound.Kind),
			})
		}
	}

	boundNames := make([]string, 0, len(bindings))
	for name := range bindings {
		boundNames = append(boundNames, name)
	}
	sort.Strings(boundNames)
	for _, name := range boundNames {
		if _, ok := tpl.Parameters[name]; !ok {
			result.Warnings = append(result.Warnings, domain.ValidationIssue{
				Code:    domain.CodeUnknownParameter,
				Message: fmt.Sprintf("binding %q does not match any declared parameter", name),
			})
		}
	}

	result.IsValid = len(result.Errors) == 0
	return result
}

// typeMatches is permissive: unrecognized declared types pass through.
func typeMatches(declared string, value domain.Value) bool {
	switch declared {
	case "string":
		return value.Kind == domain.KindString
	case "integer":
		return value.Kind == domain.KindInt
	case "number":
		return value.Kind == domain.KindInt || value.Kind == domain.KindFloat
	case "boolean":
		return value.Kind == domain.KindBool
	case "datetime":
		return value.Kind == domain.KindTime || !value.AsTime().IsZero()
	case "object":
		return value.Kind == domain.KindMap
	case "array":
		return value.Kind == domain.KindList
	default:
		return true
	}
}

// CreateWorkflowFromTemplate validates bindings, substitutes placeholders
// with bound (or default) values on the definition tree, persists the
// concrete definition, and increments the template's usage count.
func (s *Service) CreateWorkflowFromTemplate(templateID, name string, bindings map[string]domain.Value) (*domain.WorkflowDefinition, error) {
	tpl, err := s.Get(templateID)
	if err != nil {
		return nil, err
	}

	validation := validateBindings(tpl, bindings)
	if !validation.IsValid {
		return nil, &BindingError{Validation: validation}
	}

	def, err := cloneDefinition(tpl.Definition)
	if err != nil {
		return nil, err
	}

	resolved := make(map[string]domain.Value, len(tpl.Parameters))
	for pname, param := range tpl.Parameters {
		if bound, ok := bindings[pname]; ok {
			resolved[pname] = bound
		} else if !param.Default.IsNull() {
			resolved[pname] = param.Default
		}
	}

	for _, node := range def.Nodes {
		for key, value := range node.Config {
			node.Config[key] = substitute(value, resolved)
		}
	}

	def.ID = uuid.New().String()
	def.Version = 1
	def.CreatedAt = time.Now()
	if name != "" {
		def.Name = name
	}

	if result := s.validator.Validate(def); !result.IsValid {
		return nil, domain.NewDefinitionError(result.Errors[0].Code, result.Errors[0].Message)
	}

	defData, err := json.Marshal(def)
	if err != nil {
		return nil, err
	}
	if err := s.storage.Put(domain.WorkflowKey(def.ID), defData); err != nil {
		return nil, err
	}

	tpl.UsageCount++
	if err := s.save(tpl); err != nil {
		return nil, err
	}

	s.logger.Debug("workflow instantiated from template",
		"template_id", templateID,
		"workflow_id", def.ID,
		"usage_count", tpl.UsageCount)

	return def, nil
}

// substitute replaces exact placeholder tokens with their bound value,
// preserving the binding's type, and descends into lists and maps.
func substitute(value domain.Value, resolved map[string]domain.Value) domain.Value {
	switch value.Kind {
	case domain.KindString:
		if match := placeholderPattern.FindStringSubmatch(value.Str); match != nil {
			if bound, ok := resolved[match[1]]; ok {
				return bound
			}
		}
		return value
	case domain.KindList:
		items := make([]domain.Value, len(value.List))
		for i, item := range value.List {
			items[i] = substitute(item, resolved)
		}
		return domain.ListValue(items)
	case domain.KindMap:
		m := make(map[string]domain.Value, len(value.Map))
		for k, item := range value.Map {
			m[k] = substitute(item, resolved)
		}
		return domain.MapValue(m)
	default:
		return value
	}
}

// Search returns templates whose name, description, or tags contain the
// query, case-insensitively. An empty query matches everything.
func (s *Service) Search(query string) ([]*domain.Template, error) {
	templates, err := s.list()
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return templates, nil
	}

	var matches []*domain.Template
	for _, tpl := range templates {
		if strings.Contains(strings.ToLower(tpl.Name), query) ||
			strings.Contains(strings.ToLower(tpl.Description), query) ||
			tagMatch(tpl.Tags, query) {
			matches = append(matches, tpl)
		}
	}
	return matches, nil
}

func tagMatch(tags []string, query string) bool {
	for _, tag := range tags {
		if strings.Contains(strings.ToLower(tag), query) {
			return true
		}
	}
	return false
}

// GetByCategory returns templates in one category.
func (s *Service) GetByCategory(category string) ([]*domain.Template, error) {
	templates, err := s.list()
	if err != nil {
		return nil, err
	}

	var matches []*domain.Template
	for _, tpl := range templates {
		if strings.EqualFold(tpl.Category, category) {
			matches = append(matches, tpl)
		}
	}
	return matches, nil
}

// GetPopular returns up to limit templates ordered by usage count.
func (s *Service) GetPopular(limit int) ([]*domain.Template, error) {
	templates, err := s.list()
	if err != nil {
		return nil, err
	}

	sort.Slice(templates, func(i, j int) bool {
		if templates[i].UsageCount != templates[j].UsageCount {
			return templates[i].UsageCount > templates[j].UsageCount
		}
		return templates[i].Name < templates[j].Name
	})

	if limit > 0 && len(templates) > limit {
		templates = templates[:limit]
	}
	return templates, nil
}

// Delete removes a template.
func (s *Service) Delete(id string) error {
	return s.storage.Delete(domain.TemplateKey(id))
}

// Export serializes a template into the portable envelope.
func (s *Service) Export(id string) ([]byte, error) {
	tpl, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	envelope := domain.TemplateExport{
		FormatVersion: domain.TemplateExportFormatVersion,
		ExportedAt:    time.Now(),
		Name:          tpl.Name,
		Description:   tpl.Description,
		Category:      tpl.Category,
		Definition:    tpl.Definition,
		Parameters:    tpl.Parameters,
		Tags:          tpl.Tags,
	}
	return json.Marshal(envelope)
}

// Import deserializes an exported envelope, re-validates the embedded
// definition, and persists it as a new template.
func (s *Service) Import(data []byte) (*domain.Template, error) {
	var envelope domain.TemplateExport
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &domain.TemplateError{Code: "INVALID_IMPORT", Message: err.Error()}
	}
	if envelope.Definition == nil {
		return nil, &domain.TemplateError{Code: "INVALID_IMPORT", Message: "export has no definition"}
	}
	if result := s.validator.Validate(envelope.Definition); !result.IsValid {
		return nil, &domain.TemplateError{
			Code:    "INVALID_IMPORT",
			Message: "embedded definition failed validation: " + result.Errors[0].Message,
		}
	}

	tpl := &domain.Template{
		ID:          uuid.New().String(),
		Name:        envelope.Name,
		Description: envelope.Description,
		Category:    envelope.Category,
		Definition:  envelope.Definition,
		Parameters:  envelope.Parameters,
		Tags:        envelope.Tags,
		CreatedAt:   time.Now(),
	}

	if err := s.save(tpl); err != nil {
		return nil, err
	}

	s.logger.Debug("template imported", "template_id", tpl.ID, "name", tpl.Name)
	return tpl, nil
}

func (s *Service) list() ([]*domain.Template, error) {
	items, err := s.storage.ListByPrefix(domain.TemplatePrefix)
	if err != nil {
		return nil, err
	}

	templates := make([]*domain.Template, 0, len(items))
	for _, item := range items {
		var tpl domain.Template
		if err := json.Unmarshal(item.Value, &tpl); err != nil {
			s.logger.Warn("skipping undecodable template", "key", item.Key, "error", err)
			continue
		}
		templates = append(templates, &tpl)
	}
	return templates, nil
}

func (s *Service) save(tpl *domain.Template) error {
	data, err := json.Marshal(tpl)
	if err != nil {
		return err
	}
	return s.storage.Put(domain.TemplateKey(tpl.ID), data)
}

// cloneDefinition deep-copies a definition through its JSON form so the
// template body and its instantiations never alias the source.
func cloneDefinition(def *domain.WorkflowDefinition) (*domain.WorkflowDefinition, error) {
	data, err := json.Marshal(def)
	if err != nil {
		return nil, err
	}
	var clone domain.WorkflowDefinition
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, err
	}
	return &clone, nil
}
