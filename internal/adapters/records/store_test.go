package records

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftflow/weft/internal/adapters/storage"
	"github.com/weftflow/weft/internal/domain"
)

func newTestStore() *Store {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStore(storage.NewMemory(), logger)
}

func newExecution(id, workflowID string, status domain.ExecutionStatus) *domain.Execution {
	return &domain.Execution{
		ID:         id,
		WorkflowID: workflowID,
		Status:     status,
		StartedAt:  time.Now(),
		Nodes:      map[string]*domain.NodeExecution{},
	}
}

func TestCreateExecutionRejectsDuplicate(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	exec := newExecution("exec-1", "wf-1", domain.ExecutionStatusRunning)
	require.NoError(t, s.CreateExecution(ctx, exec))

	err := s.CreateExecution(ctx, exec)
	assert.ErrorIs(t, err, domain.ErrExecutionActive)

	assert.ErrorIs(t, s.CreateExecution(ctx, nil), domain.ErrInvalidInput)
}

func TestGetExecutionRoundTrip(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	exec := newExecution("exec-1", "wf-1", domain.ExecutionStatusRunning)
	exec.Nodes["a"] = &domain.NodeExecution{NodeID: "a", Status: domain.NodeStatusCompleted}
	require.NoError(t, s.CreateExecution(ctx, exec))

	got, err := s.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", got.WorkflowID)
	assert.Equal(t, domain.NodeStatusCompleted, got.Nodes["a"].Status)

	_, err = s.GetExecution(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListActiveExecutions(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	running := newExecution("exec-1", "wf-1", domain.ExecutionStatusRunning)
	running.CreatedBy = "alice"
	paused := newExecution("exec-2", "wf-1", domain.ExecutionStatusPaused)
	paused.CreatedBy = "bob"
	finished := newExecution("exec-3", "wf-1", domain.ExecutionStatusCompleted)

	require.NoError(t, s.CreateExecution(ctx, running))
	require.NoError(t, s.CreateExecution(ctx, paused))
	require.NoError(t, s.CreateExecution(ctx, finished))

	active, err := s.ListActiveExecutions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, active, 2)

	mine, err := s.ListActiveExecutions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "exec-1", mine[0].ID)
}

func TestGetExecutionStats(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)

	completed := newExecution("exec-1", "wf-1", domain.ExecutionStatusCompleted)
	completed.StartedAt = base
	doneAt := base.Add(2 * time.Second)
	completed.CompletedAt = &doneAt

	failed := newExecution("exec-2", "wf-1", domain.ExecutionStatusFailed)
	failed.StartedAt = base
	failedAt := base.Add(4 * time.Second)
	failed.CompletedAt = &failedAt

	otherWorkflow := newExecution("exec-3", "wf-2", domain.ExecutionStatusCompleted)
	tooOld := newExecution("exec-4", "wf-1", domain.ExecutionStatusCompleted)
	tooOld.StartedAt = base.Add(-48 * time.Hour)

	require.NoError(t, s.CreateExecution(ctx, completed))
	require.NoError(t, s.CreateExecution(ctx, failed))
	require.NoError(t, s.CreateExecution(ctx, otherWorkflow))
	require.NoError(t, s.CreateExecution(ctx, tooOld))

	stats, err := s.GetExecutionStats(ctx, "wf-1", base.Add(-time.Minute), time.Now())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[domain.ExecutionStatusCompleted])
	assert.Equal(t, 1, stats.ByStatus[domain.ExecutionStatusFailed])
	assert.Equal(t, 3*time.Second, stats.AverageDuration)
}

func TestSaveNodeExecution(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.SaveNodeExecution(ctx, "exec-1", &domain.NodeExecution{
		NodeID: "a",
		Status: domain.NodeStatusCompleted,
	}))
	require.NoError(t, s.SaveNodeExecution(ctx, "exec-1", &domain.NodeExecution{
		NodeID: "b",
		Status: domain.NodeStatusFailed,
		Error:  "boom",
	}))

	assert.ErrorIs(t, s.SaveNodeExecution(ctx, "exec-1", nil), domain.ErrInvalidInput)
}

func TestRecordMetric(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	err := s.RecordMetric(ctx, "exec-1", "node_duration_ms", 12.5, "ms", map[string]string{"node_id": "a"})
	require.NoError(t, err)
}
