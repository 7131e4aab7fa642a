package condition

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftflow/weft/internal/domain"
)

func newEvaluator() *Evaluator {
	return NewEvaluator(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testResolver() MapResolver {
	return MapResolver{
		"parameters": domain.MapValue(map[string]domain.Value{
			"env":       domain.StringValue("production"),
			"threshold": domain.IntValue(10),
		}),
		"validate": domain.MapValue(map[string]domain.Value{
			"passed": domain.BoolValue(true),
			"score":  domain.FloatValue(7.5),
			"report": domain.MapValue(map[string]domain.Value{
				"status": domain.StringValue("ok"),
			}),
		}),
	}
}

func TestEvaluateExpressions(t *testing.T) {
	tests := []struct {
		expression string
		want       bool
	}{
		{"", true},
		{"   ", true},
		{"true", true},
		{"false", false},
		{"!false", true},
		{"${validate.passed}", true},
		{"!${validate.passed}", false},
		{"${parameters.env} == 'production'", true},
		{"${parameters.env} != \"production\"", false},
		{"${parameters.threshold} > 5", true},
		{"${parameters.threshold} >= 10", true},
		{"${parameters.threshold} < 10", false},
		{"${validate.score} <= 7.5", true},
		{"${parameters.threshold} == 10.0", true},
		{"'apple' < 'banana'", true},
		{"${validate.report.status} == 'ok'", true},
		{"${validate.passed} && ${parameters.threshold} > 5", true},
		{"${validate.passed} && false", false},
		{"false || ${validate.passed}", true},
		{"(false || true) && !false", true},
		{"-3 < 0", true},
	}

	e := newEvaluator()
	resolver := testResolver()

	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			got, err := e.Evaluate(tt.expression, resolver)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateFailsClosed(t *testing.T) {
	tests := []struct {
		name       string
		expression string
	}{
		{"unresolved reference", "${missing.path} == 'x'"},
		{"unresolved nested segment", "${validate.nope} == 'x'"},
		{"type mismatch ordering", "${parameters.env} > 5"},
		{"parse error", "${parameters.env} =="},
		{"unknown identifier", "env is production"},
		{"unterminated reference", "${parameters.env"},
	}

	e := newEvaluator()
	resolver := testResolver()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Evaluate(tt.expression, resolver)
			assert.False(t, got)
			require.Error(t, err)

			var ce *domain.ConditionError
			assert.ErrorAs(t, err, &ce)
		})
	}
}

func TestEvaluateShortCircuit(t *testing.T) {
	e := newEvaluator()
	resolver := testResolver()

	// The right side would fail to resolve, but the left side decides.
	got, err := e.Evaluate("false && ${missing.path}", resolver)
	require.NoError(t, err)
	assert.False(t, got)

	got, err = e.Evaluate("true || ${missing.path}", resolver)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestMapResolverDottedPaths(t *testing.T) {
	resolver := testResolver()

	value, ok := resolver.Resolve("validate.report.status")
	require.True(t, ok)
	assert.Equal(t, domain.StringValue("ok"), value)

	_, ok = resolver.Resolve("validate.report.missing")
	assert.False(t, ok)

	// Descending through a non-map stops resolution.
	_, ok = resolver.Resolve("validate.passed.deeper")
	assert.False(t, ok)

	value, ok = resolver.Resolve("parameters")
	require.True(t, ok)
	assert.Equal(t, domain.KindMap, value.Kind)
}
