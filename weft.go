// Package weft is a declarative workflow orchestration engine. A workflow
// is a graph of typed nodes joined by dependency edges; weft validates the
// graph, executes it with conditional branching, parallel fan-out, retries
// and timeouts, and tracks per-run state that can be inspected,
// snapshotted, and restored. Concrete workflows can be distilled into
// parameterized templates and instantiated again with new bindings.
//
// Basic usage:
//
//	w, _ := weft.New(weft.DefaultConfig(), logger)
//	defer w.Close()
//
//	w.RegisterExecutor(weft.NodeTypeAction, myExecutor)
//
//	def, _ := w.CreateWorkflow(ctx, definition)
//	exec, _ := w.StartExecution(ctx, def.ID, inputs, nil)
//	w.WaitForExecution(ctx, exec.ID)
package weft

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	json "github.com/goccy/go-json"

	"github.com/weftflow/weft/internal/adapters/engine"
	"github.com/weftflow/weft/internal/adapters/graph"
	"github.com/weftflow/weft/internal/adapters/records"
	"github.com/weftflow/weft/internal/adapters/state"
	"github.com/weftflow/weft/internal/adapters/storage"
	"github.com/weftflow/weft/internal/adapters/template"
	"github.com/weftflow/weft/internal/domain"
	"github.com/weftflow/weft/internal/ports"
)

// Weft wires the validator, state store, scheduler, records, and template
// service over one storage backend.
type Weft struct {
	cfg       *Config
	logger    *slog.Logger
	storage   ports.Storage
	validator *graph.Validator
	state     *state.Manager
	records   *records.Store
	engine    *engine.Engine
	templates *template.Service
}

func New(cfg *Config, logger *slog.Logger) (*Weft, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewBadger(storage.BadgerOptions{
		Path:     cfg.Storage.Path,
		InMemory: cfg.Storage.InMemory,
	}, logger)
	if err != nil {
		return nil, err
	}

	return assemble(cfg, store, logger)
}

// NewWithStorage builds an instance over a caller-supplied storage
// backend. The caller keeps ownership of nothing: Close closes it.
func NewWithStorage(cfg *Config, store ports.Storage, logger *slog.Logger) (*Weft, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return assemble(cfg, store, logger)
}

func assemble(cfg *Config, store ports.Storage, logger *slog.Logger) (*Weft, error) {
	stateManager, err := state.NewManager(store, cfg.State.CacheSize, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	recordStore := records.NewStore(store, logger)

	eng, err := engine.New(cfg.engineConfig(), stateManager, recordStore, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	validator := graph.NewValidator(logger)

	return &Weft{
		cfg:       cfg,
		logger:    logger,
		storage:   store,
		validator: validator,
		state:     stateManager,
		records:   recordStore,
		engine:    eng,
		templates: template.NewService(store, validator, logger),
	}, nil
}

// RegisterExecutor binds an action executor to a node type.
func (w *Weft) RegisterExecutor(nodeType NodeType, executor ActionExecutor) error {
	return w.engine.RegisterExecutor(nodeType, executor)
}

// ValidateWorkflow checks a definition without persisting it.
func (w *Weft) ValidateWorkflow(def *WorkflowDefinition) *ValidationResult {
	return w.validator.Validate(def)
}

// CreateWorkflow validates and persists a definition, assigning its id
// and version. Re-creating under an existing name yields the next
// version on a fresh definition id.
func (w *Weft) CreateWorkflow(ctx context.Context, def *WorkflowDefinition) (*WorkflowDefinition, error) {
	if def == nil {
		return nil, domain.ErrInvalidInput
	}

	result := w.validator.Validate(def)
	if !result.IsValid {
		return nil, domain.NewDefinitionError(result.Errors[0].Code, result.Errors[0].Message)
	}

	def.ID = uuid.New().String()
	def.CreatedAt = time.Now()
	def.Version = 1

	latest, err := w.latestVersion(def.Name)
	if err != nil {
		return nil, err
	}
	def.Version = latest + 1

	data, err := json.Marshal(def)
	if err != nil {
		return nil, err
	}
	if err := w.storage.Put(domain.WorkflowKey(def.ID), data); err != nil {
		return nil, err
	}

	w.logger.Debug("workflow created",
		"workflow_id", def.ID,
		"name", def.Name,
		"version", def.Version,
		"warnings", len(result.Warnings))

	return def, nil
}

func (w *Weft) latestVersion(name string) (int, error) {
	items, err := w.storage.ListByPrefix(domain.WorkflowPrefix)
	if err != nil {
		return 0, err
	}

	latest := 0
	for _, item := range items {
		var existing domain.WorkflowDefinition
		if err := json.Unmarshal(item.Value, &existing); err != nil {
			continue
		}
		if existing.Name == name && existing.Version > latest {
			latest = existing.Version
		}
	}
	return latest, nil
}

// GetWorkflow loads one persisted definition.
func (w *Weft) GetWorkflow(_ context.Context, id string) (*WorkflowDefinition, error) {
	data, exists, err := w.storage.Get(domain.WorkflowKey(id))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrNotFound
	}

	var def domain.WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// StartExecution creates and starts an execution of a persisted
// definition. Required parameters without defaults must be bound.
func (w *Weft) StartExecution(ctx context.Context, workflowID string, inputs, overrides map[string]Value) (*Execution, error) {
	def, err := w.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	for name, param := range def.Parameters {
		if !param.Required || !param.Default.IsNull() {
			continue
		}
		if _, ok := inputs[name]; !ok {
			return nil, fmt.Errorf("%w: required parameter %q is not bound", domain.ErrInvalidInput, name)
		}
	}

	return w.engine.StartExecution(ctx, def, inputs, overrides)
}

// PauseExecution stops dispatching between scheduling ticks.
func (w *Weft) PauseExecution(executionID string) error {
	return w.engine.PauseExecution(executionID)
}

// ResumeExecution restarts a paused execution.
func (w *Weft) ResumeExecution(executionID string) error {
	return w.engine.ResumeExecution(executionID)
}

// CancelExecution signals cooperative cancellation.
func (w *Weft) CancelExecution(executionID string) error {
	return w.engine.CancelExecution(executionID)
}

// GetExecutionStatus returns a live snapshot or the persisted terminal
// record.
func (w *Weft) GetExecutionStatus(ctx context.Context, executionID string) (*Execution, error) {
	return w.engine.ExecutionStatus(ctx, executionID)
}

// WaitForExecution blocks until the execution terminates or ctx is done.
func (w *Weft) WaitForExecution(ctx context.Context, executionID string) error {
	return w.engine.WaitForExecution(ctx, executionID)
}

// ListActiveExecutions returns non-terminal executions, optionally
// filtered by owner.
func (w *Weft) ListActiveExecutions(ctx context.Context, ownerID string) ([]*Execution, error) {
	return w.records.ListActiveExecutions(ctx, ownerID)
}

// GetExecutionStats aggregates the runs of one workflow over a window.
func (w *Weft) GetExecutionStats(ctx context.Context, workflowID string, from, to time.Time) (*ExecutionStats, error) {
	return w.records.GetExecutionStats(ctx, workflowID, from, to)
}

// State exposes the execution state store for inspection, variable
// access, and snapshot/restore.
func (w *Weft) State() *state.Manager { return w.state }

// CreateTemplateFromWorkflow derives a reusable template from a persisted
// definition.
func (w *Weft) CreateTemplateFromWorkflow(ctx context.Context, workflowID string, meta TemplateMeta) (*Template, error) {
	def, err := w.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return w.templates.CreateTemplateFromWorkflow(def, meta)
}

// GetTemplate loads one template.
func (w *Weft) GetTemplate(_ context.Context, templateID string) (*Template, error) {
	return w.templates.Get(templateID)
}

// ValidateTemplateParameters checks bindings against a template.
func (w *Weft) ValidateTemplateParameters(_ context.Context, templateID string, bindings map[string]Value) (*TemplateValidation, error) {
	return w.templates.ValidateTemplateParameters(templateID, bindings)
}

// CreateWorkflowFromTemplate instantiates a concrete definition from a
// template plus bindings.
func (w *Weft) CreateWorkflowFromTemplate(_ context.Context, templateID, name string, bindings map[string]Value) (*WorkflowDefinition, error) {
	return w.templates.CreateWorkflowFromTemplate(templateID, name, bindings)
}

// SearchTemplates matches name, description, and tags.
func (w *Weft) SearchTemplates(_ context.Context, query string) ([]*Template, error) {
	return w.templates.Search(query)
}

// GetTemplatesByCategory lists one category.
func (w *Weft) GetTemplatesByCategory(_ context.Context, category string) ([]*Template, error) {
	return w.templates.GetByCategory(category)
}

// GetPopularTemplates orders by usage count.
func (w *Weft) GetPopularTemplates(_ context.Context, limit int) ([]*Template, error) {
	return w.templates.GetPopular(limit)
}

// DeleteTemplate removes a template.
func (w *Weft) DeleteTemplate(_ context.Context, templateID string) error {
	return w.templates.Delete(templateID)
}

// ExportTemplate serializes a template into a portable envelope.
func (w *Weft) ExportTemplate(_ context.Context, templateID string) ([]byte, error) {
	return w.templates.Export(templateID)
}

// ImportTemplate persists an exported envelope as a new template.
func (w *Weft) ImportTemplate(_ context.Context, data []byte) (*Template, error) {
	return w.templates.Import(data)
}

// Close stops the engine and closes storage.
func (w *Weft) Close() error {
	if err := w.engine.Close(); err != nil {
		w.logger.Error("failed to stop engine", "error", err)
	}
	return w.storage.Close()
}
