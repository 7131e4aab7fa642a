package state

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	json "github.com/goccy/go-json"

	"github.com/weftflow/weft/internal/domain"
	"github.com/weftflow/weft/internal/ports"
)

const DefaultCacheSize = 1024

// Manager owns the versioned, inspectable state of every execution. All
// mutating operations on one execution id are serialized through a
// per-execution lock; reads may be served from a bounded LRU cache that
// sits in front of durable storage.
type Manager struct {
	storage ports.Storage
	logger  *slog.Logger
	cache   *lru.Cache[string, *domain.ExecutionState]
	locks   sync.Map // executionID -> *sync.Mutex
}

func NewManager(storage ports.Storage, cacheSize int, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	cache, err := lru.New[string, *domain.ExecutionState](cacheSize)
	if err != nil {
		return nil, err
	}

	return &Manager{
		storage: storage,
		logger:  logger.With("component", "state-manager"),
		cache:   cache,
	}, nil
}

func (m *Manager) lockFor(executionID string) *sync.Mutex {
	mu, _ := m.locks.LoadOrStore(executionID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// InitializeState creates version 1 of an execution's state.
func (m *Manager) InitializeState(executionID string, initial map[string]domain.Value) (*domain.ExecutionState, error) {
	mu := m.lockFor(executionID)
	mu.Lock()
	defer mu.Unlock()

	state := &domain.ExecutionState{
		ExecutionID: executionID,
		Variables:   initial,
		LastUpdated: time.Now(),
		Version:     0,
	}
	if state.Variables == nil {
		state.Variables = make(map[string]domain.Value)
	}

	if err := m.persist(state); err != nil {
		return nil, err
	}

	m.logger.Debug("state initialized", "execution_id", executionID, "variables", len(initial))
	return state.Clone(), nil
}

// UpdateState merges partial into the current variables. Keys the update
// does not mention are left untouched; nested maps merge deeply.
func (m *Manager) UpdateState(executionID string, partial map[string]domain.Value) (*domain.ExecutionState, error) {
	return m.mutate(executionID, "update_state", func(state *domain.ExecutionState) error {
		merged, err := domain.MergeValues(state.Variables, partial)
		if err != nil {
			return err
		}
		state.Variables = merged
		return nil
	})
}

// GetCurrentState returns the latest persisted state, served read-through
// the cache.
func (m *Manager) GetCurrentState(executionID string) (*domain.ExecutionState, error) {
	if state, ok := m.cache.Get(executionID); ok {
		return state.Clone(), nil
	}

	state, err := m.load(executionID)
	if err != nil {
		return nil, err
	}

	m.cache.Add(executionID, state.Clone())
	return state, nil
}

// GetStateHistory returns persisted versions, most recent first. A limit
// of zero means everything.
func (m *Manager) GetStateHistory(executionID string, limit int) ([]*domain.ExecutionState, error) {
	items, err := m.storage.ListByPrefix(domain.StateHistoryPrefix(executionID))
	if err != nil {
		return nil, domain.NewStateStoreError("get_state_history", executionID, err)
	}

	history := make([]*domain.ExecutionState, 0, len(items))
	for _, item := range items {
		var state domain.ExecutionState
		if err := json.Unmarshal(item.Value, &state); err != nil {
			m.logger.Warn("skipping undecodable state version", "key", item.Key, "error", err)
			continue
		}
		history = append(history, &state)
	}

	sort.Slice(history, func(i, j int) bool { return history[i].Version > history[j].Version })

	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	return history, nil
}

// SetVariable writes one variable.
func (m *Manager) SetVariable(executionID, key string, value domain.Value) error {
	_, err := m.mutate(executionID, "set_variable", func(state *domain.ExecutionState) error {
		state.Variables[key] = value
		return nil
	})
	return err
}

// GetVariable returns one variable; a missing key yields a null Value, not
// an error. Typed access goes through the Value coercions.
func (m *Manager) GetVariable(executionID, key string) (domain.Value, error) {
	state, err := m.GetCurrentState(executionID)
	if err != nil {
		return domain.NullValue(), err
	}
	value, ok := state.Variables[key]
	if !ok {
		return domain.NullValue(), nil
	}
	return value, nil
}

// GetStringVariable returns the variable coerced to a string, empty when
// missing or unconvertible.
func (m *Manager) GetStringVariable(executionID, key string) (string, error) {
	value, err := m.GetVariable(executionID, key)
	if err != nil {
		return "", err
	}
	return value.AsString(), nil
}

// GetIntVariable returns the variable coerced to an integer, zero when
// missing or unconvertible.
func (m *Manager) GetIntVariable(executionID, key string) (int64, error) {
	value, err := m.GetVariable(executionID, key)
	if err != nil {
		return 0, err
	}
	return value.AsInt(), nil
}

// GetBoolVariable returns the variable coerced to a bool, false when
// missing or unconvertible.
func (m *Manager) GetBoolVariable(executionID, key string) (bool, error) {
	value, err := m.GetVariable(executionID, key)
	if err != nil {
		return false, err
	}
	return value.AsBool(), nil
}

// RemoveVariable deletes one variable. Removing a missing key is a no-op.
func (m *Manager) RemoveVariable(executionID, key string) error {
	_, err := m.mutate(executionID, "remove_variable", func(state *domain.ExecutionState) error {
		delete(state.Variables, key)
		return nil
	})
	return err
}

// UpdateCurrentNode records the node the execution is at.
func (m *Manager) UpdateCurrentNode(executionID, nodeID string) error {
	_, err := m.mutate(executionID, "update_current_node", func(state *domain.ExecutionState) error {
		state.CurrentNode = nodeID
		return nil
	})
	return err
}

// MarkNodeCompleted adds the node to the completed set and removes it from
// the pending set. Idempotent.
func (m *Manager) MarkNodeCompleted(executionID, nodeID string) error {
	_, err := m.mutate(executionID, "mark_node_completed", func(state *domain.ExecutionState) error {
		state.MarkCompleted(nodeID)
		return nil
	})
	return err
}

// AddPendingNode adds the node to the pending set.
func (m *Manager) AddPendingNode(executionID, nodeID string) error {
	_, err := m.mutate(executionID, "add_pending_node", func(state *domain.ExecutionState) error {
		state.AddPending(nodeID)
		return nil
	})
	return err
}

// RemovePendingNode drops the node from the pending set.
func (m *Manager) RemovePendingNode(executionID, nodeID string) error {
	_, err := m.mutate(executionID, "remove_pending_node", func(state *domain.ExecutionState) error {
		state.RemovePending(nodeID)
		return nil
	})
	return err
}

// CanProceedToNode reports whether every listed dependency has completed.
// An empty dependency list always proceeds.
func (m *Manager) CanProceedToNode(executionID, nodeID string, dependencies []string) (bool, error) {
	if len(dependencies) == 0 {
		return true, nil
	}

	state, err := m.GetCurrentState(executionID)
	if err != nil {
		return false, err
	}

	for _, dep := range dependencies {
		if !state.HasCompleted(dep) {
			return false, nil
		}
	}
	return true, nil
}

// CreateSnapshot persists the current state tagged as a snapshot and
// returns it.
func (m *Manager) CreateSnapshot(executionID string) (*domain.ExecutionState, error) {
	return m.mutate(executionID, "create_snapshot", func(state *domain.ExecutionState) error {
		state.IsSnapshot = true
		return nil
	})
}

// RestoreFromSnapshot loads the given snapshot version, stamps the restore
// provenance, and persists it as the new current state.
func (m *Manager) RestoreFromSnapshot(executionID string, version int64) (*domain.ExecutionState, error) {
	mu := m.lockFor(executionID)
	mu.Lock()
	defer mu.Unlock()

	data, exists, err := m.storage.Get(domain.StateHistoryKey(executionID, version))
	if err != nil {
		return nil, domain.NewStateStoreError("restore_snapshot", executionID, err)
	}
	if !exists {
		return nil, domain.NewStateStoreError("restore_snapshot", executionID, domain.ErrNotFound)
	}

	var snapshot domain.ExecutionState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, domain.NewStateStoreError("restore_snapshot", executionID, err)
	}
	if !snapshot.IsSnapshot {
		return nil, domain.NewStateStoreError("restore_snapshot", executionID,
			fmt.Errorf("version %d is not a snapshot", version))
	}

	current, err := m.load(executionID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	snapshot.Version = current.Version
	snapshot.IsSnapshot = false
	snapshot.RestoredAt = &now
	snapshot.RestoredFromVersion = version

	if err := m.persist(&snapshot); err != nil {
		return nil, err
	}

	m.logger.Debug("state restored from snapshot",
		"execution_id", executionID,
		"snapshot_version", version,
		"new_version", snapshot.Version)

	return snapshot.Clone(), nil
}

// ClearState removes the current state and all history for an execution.
func (m *Manager) ClearState(executionID string) error {
	mu := m.lockFor(executionID)
	mu.Lock()
	defer mu.Unlock()

	if err := m.storage.Delete(domain.StateCurrentKey(executionID)); err != nil {
		return domain.NewStateStoreError("clear_state", executionID, err)
	}
	if _, err := m.storage.DeleteByPrefix(domain.StateHistoryPrefix(executionID)); err != nil {
		return domain.NewStateStoreError("clear_state", executionID, err)
	}

	m.cache.Remove(executionID)
	m.locks.Delete(executionID)
	return nil
}

// Invalidate drops the cache entry for an execution. The engine calls it
// once an execution reaches a terminal status so the cache stays bounded
// by live work, not by history.
func (m *Manager) Invalidate(executionID string) {
	m.cache.Remove(executionID)
}

// mutate loads, applies, bumps the version and persists under the
// per-execution writer lock.
func (m *Manager) mutate(executionID, op string, fn func(*domain.ExecutionState) error) (*domain.ExecutionState, error) {
	mu := m.lockFor(executionID)
	mu.Lock()
	defer mu.Unlock()

	state, err := m.load(executionID)
	if err != nil {
		return nil, err
	}

	// Only the version written by CreateSnapshot carries the flag.
	state.IsSnapshot = false

	if err := fn(state); err != nil {
		return nil, domain.NewStateStoreError(op, executionID, err)
	}

	if err := m.persist(state); err != nil {
		return nil, err
	}
	return state.Clone(), nil
}

func (m *Manager) load(executionID string) (*domain.ExecutionState, error) {
	data, exists, err := m.storage.Get(domain.StateCurrentKey(executionID))
	if err != nil {
		return nil, domain.NewStateStoreError("load_state", executionID, err)
	}
	if !exists {
		return nil, domain.NewStateStoreError("load_state", executionID, domain.ErrNotFound)
	}

	var state domain.ExecutionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, domain.NewStateStoreError("load_state", executionID, err)
	}
	if state.Variables == nil {
		state.Variables = make(map[string]domain.Value)
	}
	return &state, nil
}

// persist bumps the version, writes the history entry and the current
// pointer, and refreshes the cache. Callers hold the writer lock.
func (m *Manager) persist(state *domain.ExecutionState) error {
	state.Version++
	state.LastUpdated = time.Now()

	data, err := json.Marshal(state)
	if err != nil {
		return domain.NewStateStoreError("persist_state", state.ExecutionID, err)
	}

	if err := m.storage.Put(domain.StateHistoryKey(state.ExecutionID, state.Version), data); err != nil {
		return domain.NewStateStoreError("persist_state", state.ExecutionID, err)
	}
	if err := m.storage.Put(domain.StateCurrentKey(state.ExecutionID), data); err != nil {
		return domain.NewStateStoreError("persist_state", state.ExecutionID, err)
	}

	m.cache.Add(state.ExecutionID, state.Clone())
	return nil
}
