package template

import (
	"io"
	"log/slog"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftflow/weft/internal/adapters/graph"
	"github.com/weftflow/weft/internal/adapters/storage"
	"github.com/weftflow/weft/internal/domain"
)

func newTestService() *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(storage.NewMemory(), graph.NewValidator(logger), logger)
}

func sourceDefinition() *domain.WorkflowDefinition {
	return &domain.WorkflowDefinition{
		ID:      "wf-src",
		Name:    "notify-pipeline",
		Version: 2,
		Parameters: map[string]domain.ParameterDef{
			"env": {Type: "string", Required: true, Default: domain.StringValue("staging")},
		},
		Nodes: map[string]*domain.Node{
			"start": {Type: domain.NodeTypeStart},
			"fetch": {
				Type:         domain.NodeTypeAction,
				Dependencies: []string{"start"},
				Config: map[string]domain.Value{
					"url":     domain.StringValue("https://example.com/feed"),
					"limit":   domain.IntValue(50),
					"source":  domain.StringValue("${parameters.env}"),
					"derived": domain.StringValue("${start.token}"),
				},
			},
			"end": {Type: domain.NodeTypeEnd, Dependencies: []string{"fetch"}},
		},
	}
}

func TestCreateTemplateExtractsImplicitParameters(t *testing.T) {
	s := newTestService()

	src := sourceDefinition()
	tpl, err := s.CreateTemplateFromWorkflow(src, Meta{
		Name:     "notify-template",
		Category: "notifications",
		Tags:     []string{"feed"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, tpl.ID)

	// Declared parameters carry over as-is.
	env, ok := tpl.Parameters["env"]
	require.True(t, ok)
	assert.Equal(t, "string", env.Type)
	assert.True(t, env.Required)

	// Literal configuration values become implicit parameters named
	// {nodeId}_{configKey}, defaulting to the original value.
	url, ok := tpl.Parameters["fetch_url"]
	require.True(t, ok)
	assert.Equal(t, "string", url.Type)
	assert.Equal(t, domain.StringValue("https://example.com/feed"), url.Default)
	assert.Equal(t, "fetch", url.SourceNode)
	assert.Equal(t, "url", url.SourceKey)

	limit, ok := tpl.Parameters["fetch_limit"]
	require.True(t, ok)
	assert.Equal(t, "integer", limit.Type)

	// Values that reference parameters or node output are left alone.
	_, ok = tpl.Parameters["fetch_source"]
	assert.False(t, ok)
	_, ok = tpl.Parameters["fetch_derived"]
	assert.False(t, ok)

	fetch := tpl.Definition.Nodes["fetch"]
	assert.Equal(t, domain.StringValue("{{fetch_url}}"), fetch.Config["url"])
	assert.Equal(t, domain.StringValue("{{fetch_limit}}"), fetch.Config["limit"])
	assert.Equal(t, domain.StringValue("${parameters.env}"), fetch.Config["source"])

	// The source definition is never mutated.
	assert.Equal(t, domain.StringValue("https://example.com/feed"), src.Nodes["fetch"].Config["url"])
}

func TestValidateTemplateParameters(t *testing.T) {
	s := newTestService()

	def := sourceDefinition()
	def.Parameters["region"] = domain.ParameterDef{Type: "string", Required: true}
	def.Nodes["fetch"].Config["region"] = domain.StringValue("${parameters.region}")

	tpl, err := s.CreateTemplateFromWorkflow(def, Meta{Name: "t"})
	require.NoError(t, err)

	// Missing required parameter without a default.
	result, err := s.ValidateTemplateParameters(tpl.ID, nil)
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, domain.CodeMissingParameter, result.Errors[0].Code)
	assert.Contains(t, result.Errors[0].Message, "region")

	// Type mismatch is an error; an undeclared binding only warns.
	result, err = s.ValidateTemplateParameters(tpl.ID, map[string]domain.Value{
		"region":      domain.StringValue("eu-west-1"),
		"fetch_limit": domain.StringValue("not a number"),
		"mystery":     domain.BoolValue(true),
	})
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, domain.CodeTypeMismatch, result.Errors[0].Code)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, domain.CodeUnknownParameter, result.Warnings[0].Code)

	// Valid bindings.
	result, err = s.ValidateTemplateParameters(tpl.ID, map[string]domain.Value{
		"region": domain.StringValue("eu-west-1"),
	})
	require.NoError(t, err)
	assert.True(t, result.IsValid)
}

func TestCreateWorkflowFromTemplate(t *testing.T) {
	s := newTestService()

	tpl, err := s.CreateTemplateFromWorkflow(sourceDefinition(), Meta{Name: "t"})
	require.NoError(t, err)

	def, err := s.CreateWorkflowFromTemplate(tpl.ID, "prod-pipeline", map[string]domain.Value{
		"fetch_limit": domain.IntValue(10),
	})
	require.NoError(t, err)

	assert.NotEqual(t, "wf-src", def.ID)
	assert.Equal(t, "prod-pipeline", def.Name)
	assert.Equal(t, 1, def.Version)

	fetch := def.Nodes["fetch"]
	assert.Equal(t, domain.IntValue(10), fetch.Config["limit"], "binding keeps its type")
	assert.Equal(t, domain.StringValue("https://example.com/feed"), fetch.Config["url"], "unbound placeholder falls back to its default")
	assert.Equal(t, domain.StringValue("${parameters.env}"), fetch.Config["source"])

	reloaded, err := s.Get(tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reloaded.UsageCount)
}

func TestCreateWorkflowFromTemplateRejectsBadBindings(t *testing.T) {
	s := newTestService()

	def := sourceDefinition()
	def.Parameters["region"] = domain.ParameterDef{Type: "string", Required: true}
	def.Nodes["fetch"].Config["region"] = domain.StringValue("${parameters.region}")

	tpl, err := s.CreateTemplateFromWorkflow(def, Meta{Name: "t"})
	require.NoError(t, err)

	_, err = s.CreateWorkflowFromTemplate(tpl.ID, "x", nil)
	require.Error(t, err)

	var be *BindingError
	require.ErrorAs(t, err, &be)
	assert.False(t, be.Validation.IsValid)

	reloaded, err := s.Get(tpl.ID)
	require.NoError(t, err)
	assert.Zero(t, reloaded.UsageCount, "failed instantiation does not count as usage")
}

func TestSearchCategoryAndPopularity(t *testing.T) {
	s := newTestService()

	mk := func(name, category string, tags []string, uses int) {
		tpl, err := s.CreateTemplateFromWorkflow(sourceDefinition(), Meta{
			Name:     name,
			Category: category,
			Tags:     tags,
		})
		require.NoError(t, err)
		for i := 0; i < uses; i++ {
			_, err := s.CreateWorkflowFromTemplate(tpl.ID, "", nil)
			require.NoError(t, err)
		}
	}

	mk("daily-report", "reporting", []string{"email"}, 3)
	mk("weekly-digest", "reporting", []string{"email", "digest"}, 1)
	mk("alert-fanout", "alerting", nil, 2)

	found, err := s.Search("report")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "daily-report", found[0].Name)

	found, err = s.Search("EMAIL")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	byCategory, err := s.GetByCategory("reporting")
	require.NoError(t, err)
	assert.Len(t, byCategory, 2)

	popular, err := s.GetPopular(2)
	require.NoError(t, err)
	require.Len(t, popular, 2)
	assert.Equal(t, "daily-report", popular[0].Name)
	assert.Equal(t, "alert-fanout", popular[1].Name)
}

func TestExportImportRoundTrip(t *testing.T) {
	s := newTestService()

	tpl, err := s.CreateTemplateFromWorkflow(sourceDefinition(), Meta{
		Name:        "portable",
		Description: "moves between instances",
		Category:    "ops",
		Tags:        []string{"cross-env"},
	})
	require.NoError(t, err)

	data, err := s.Export(tpl.ID)
	require.NoError(t, err)

	var envelope domain.TemplateExport
	require.NoError(t, json.Unmarshal(data, &envelope))
	assert.Equal(t, domain.TemplateExportFormatVersion, envelope.FormatVersion)

	imported, err := s.Import(data)
	require.NoError(t, err)

	assert.NotEqual(t, tpl.ID, imported.ID)
	assert.Equal(t, tpl.Name, imported.Name)
	assert.Equal(t, tpl.Description, imported.Description)
	assert.Equal(t, tpl.Category, imported.Category)
	assert.Equal(t, tpl.Tags, imported.Tags)
	assert.Equal(t, len(tpl.Parameters), len(imported.Parameters))
	assert.Zero(t, imported.UsageCount)
	assert.Equal(t, tpl.Definition.Nodes["fetch"].Config["url"], imported.Definition.Nodes["fetch"].Config["url"])
}

func TestImportRejectsGarbage(t *testing.T) {
	s := newTestService()

	_, err := s.Import([]byte("not json"))
	require.Error(t, err)

	var te *domain.TemplateError
	assert.ErrorAs(t, err, &te)

	_, err = s.Import([]byte(`{"format_version":1,"name":"empty"}`))
	require.Error(t, err)
	assert.ErrorAs(t, err, &te)
}

func TestDeleteTemplate(t *testing.T) {
	s := newTestService()

	tpl, err := s.CreateTemplateFromWorkflow(sourceDefinition(), Meta{Name: "gone"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(tpl.ID))
	_, err = s.Get(tpl.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
