package state

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftflow/weft/internal/adapters/storage"
	"github.com/weftflow/weft/internal/domain"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m, err := NewManager(storage.NewMemory(), 16, logger)
	require.NoError(t, err)
	return m
}

func TestInitializeAndGetCurrentState(t *testing.T) {
	m := newTestManager(t)

	initial := map[string]domain.Value{
		"parameters": domain.MapValue(map[string]domain.Value{"env": domain.StringValue("dev")}),
	}
	state, err := m.InitializeState("exec-1", initial)
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.Version)

	current, err := m.GetCurrentState("exec-1")
	require.NoError(t, err)
	assert.Equal(t, "exec-1", current.ExecutionID)
	assert.Equal(t, int64(1), current.Version)

	params := current.Variables["parameters"]
	require.Equal(t, domain.KindMap, params.Kind)
	assert.Equal(t, domain.StringValue("dev"), params.Map["env"])
}

func TestGetCurrentStateUnknownExecution(t *testing.T) {
	m := newTestManager(t)

	_, err := m.GetCurrentState("nope")
	require.Error(t, err)
	assert.True(t, domain.IsStateStoreError(err))
	assert.True(t, domain.IsNotFound(err))
}

func TestUpdateStatePreservesUnmentionedKeys(t *testing.T) {
	m := newTestManager(t)

	_, err := m.InitializeState("exec-1", map[string]domain.Value{
		"fetch": domain.MapValue(map[string]domain.Value{"rows": domain.IntValue(3)}),
	})
	require.NoError(t, err)

	updated, err := m.UpdateState("exec-1", map[string]domain.Value{
		"transform": domain.MapValue(map[string]domain.Value{"ok": domain.BoolValue(true)}),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	fetch := updated.Variables["fetch"]
	require.Equal(t, domain.KindMap, fetch.Kind)
	assert.Equal(t, domain.IntValue(3), fetch.Map["rows"])
	assert.Equal(t, domain.BoolValue(true), updated.Variables["transform"].Map["ok"])
}

func TestStateHistoryMostRecentFirst(t *testing.T) {
	m := newTestManager(t)

	_, err := m.InitializeState("exec-1", nil)
	require.NoError(t, err)
	require.NoError(t, m.SetVariable("exec-1", "step", domain.IntValue(1)))
	require.NoError(t, m.SetVariable("exec-1", "step", domain.IntValue(2)))

	history, err := m.GetStateHistory("exec-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, int64(3), history[0].Version)
	assert.Equal(t, int64(1), history[2].Version)

	limited, err := m.GetStateHistory("exec-1", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, int64(3), limited[0].Version)
}

func TestTypedVariableAccess(t *testing.T) {
	m := newTestManager(t)

	_, err := m.InitializeState("exec-1", nil)
	require.NoError(t, err)

	require.NoError(t, m.SetVariable("exec-1", "name", domain.StringValue("weft")))
	require.NoError(t, m.SetVariable("exec-1", "count", domain.IntValue(42)))
	require.NoError(t, m.SetVariable("exec-1", "ready", domain.BoolValue(true)))

	name, err := m.GetStringVariable("exec-1", "name")
	require.NoError(t, err)
	assert.Equal(t, "weft", name)

	count, err := m.GetIntVariable("exec-1", "count")
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)

	ready, err := m.GetBoolVariable("exec-1", "ready")
	require.NoError(t, err)
	assert.True(t, ready)

	// Missing variables yield zero values, not errors.
	missing, err := m.GetVariable("exec-1", "missing")
	require.NoError(t, err)
	assert.True(t, missing.IsNull())

	require.NoError(t, m.RemoveVariable("exec-1", "count"))
	count, err = m.GetIntVariable("exec-1", "count")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMarkNodeCompletedAndCanProceed(t *testing.T) {
	m := newTestManager(t)

	_, err := m.InitializeState("exec-1", nil)
	require.NoError(t, err)

	ok, err := m.CanProceedToNode("exec-1", "c", nil)
	require.NoError(t, err)
	assert.True(t, ok, "no dependencies always proceeds")

	require.NoError(t, m.AddPendingNode("exec-1", "a"))
	require.NoError(t, m.MarkNodeCompleted("exec-1", "a"))
	require.NoError(t, m.MarkNodeCompleted("exec-1", "a"))

	current, err := m.GetCurrentState("exec-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, current.CompletedNodes)
	assert.Empty(t, current.PendingNodes)

	ok, err = m.CanProceedToNode("exec-1", "c", []string{"a"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.CanProceedToNode("exec-1", "c", []string{"a", "b"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshotAndRestore(t *testing.T) {
	m := newTestManager(t)

	_, err := m.InitializeState("exec-1", map[string]domain.Value{
		"checkpoint": domain.StringValue("before"),
	})
	require.NoError(t, err)

	snapshot, err := m.CreateSnapshot("exec-1")
	require.NoError(t, err)
	assert.True(t, snapshot.IsSnapshot)
	snapshotVersion := snapshot.Version

	// Later versions do not inherit the snapshot flag.
	require.NoError(t, m.SetVariable("exec-1", "checkpoint", domain.StringValue("after")))
	current, err := m.GetCurrentState("exec-1")
	require.NoError(t, err)
	assert.False(t, current.IsSnapshot)

	restored, err := m.RestoreFromSnapshot("exec-1", snapshotVersion)
	require.NoError(t, err)
	assert.Equal(t, domain.StringValue("before"), restored.Variables["checkpoint"])
	assert.Greater(t, restored.Version, snapshotVersion)
	assert.False(t, restored.IsSnapshot)
	require.NotNil(t, restored.RestoredAt)
	assert.Equal(t, snapshotVersion, restored.RestoredFromVersion)
}

func TestRestoreRejectsNonSnapshotVersion(t *testing.T) {
	m := newTestManager(t)

	_, err := m.InitializeState("exec-1", nil)
	require.NoError(t, err)
	require.NoError(t, m.SetVariable("exec-1", "x", domain.IntValue(1)))

	_, err = m.RestoreFromSnapshot("exec-1", 2)
	require.Error(t, err)
	assert.True(t, domain.IsStateStoreError(err))

	_, err = m.RestoreFromSnapshot("exec-1", 99)
	require.Error(t, err)
	assert.True(t, domain.IsNotFound(err))
}

func TestClearState(t *testing.T) {
	m := newTestManager(t)

	_, err := m.InitializeState("exec-1", nil)
	require.NoError(t, err)
	require.NoError(t, m.SetVariable("exec-1", "x", domain.IntValue(1)))

	require.NoError(t, m.ClearState("exec-1"))

	_, err = m.GetCurrentState("exec-1")
	assert.True(t, domain.IsNotFound(err))

	history, err := m.GetStateHistory("exec-1", 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}
