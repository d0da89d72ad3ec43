package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/threadline-ai/threadline/go/engine/internal/statestore"
)

// saveAttempts bounds the read-modify-write retry loop when the state blob
// is contended by concurrent instances sharing one process.
const saveAttempts = 10

// Manager owns the durable workflow state blob for one agent process.
// All mutation happens between a load and a save inside a single activity
// invocation; saves are guarded by the store's version token so concurrent
// instances sharing the blob cannot lose each other's updates.
type Manager struct {
	store  statestore.Store
	key    string
	logger *zap.Logger
}

// NewManager creates a state manager scoped to the given team key.
func NewManager(store statestore.Store, teamKey string, logger *zap.Logger) *Manager {
	return &Manager{
		store:  store,
		key:    "workflow-state:" + teamKey,
		logger: logger,
	}
}

// LoadState reads the current state blob. A missing key yields an empty
// state and the absent-key etag, so the first save is create-only and a
// racing first writer loses with a conflict instead of being clobbered.
func (m *Manager) LoadState(ctx context.Context) (*State, string, error) {
	data, etag, err := m.store.Get(ctx, m.key)
	if err == statestore.ErrNotFound {
		return NewState(), statestore.EtagAbsent, nil
	} else if err != nil {
		return nil, "", fmt.Errorf("load workflow state: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, "", fmt.Errorf("unmarshal workflow state: %w", err)
	}
	if st.Instances == nil {
		st.Instances = make(map[string]*Entry)
	}
	return &st, etag, nil
}

// SaveState writes the state blob. The etag must be the one returned by the
// LoadState call that produced this in-memory state.
func (m *Manager) SaveState(ctx context.Context, st *State, etag string) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal workflow state: %w", err)
	}
	if err := m.store.Save(ctx, m.key, data, etag); err != nil {
		return fmt.Errorf("save workflow state: %w", err)
	}
	return nil
}

// Update runs mutate against the freshly loaded state and saves the result,
// retrying on version conflicts. mutate returns false to signal that nothing
// changed, which skips the write entirely.
func (m *Manager) Update(ctx context.Context, mutate func(*State) (bool, error)) (*State, error) {
	var lastErr error
	for attempt := 0; attempt < saveAttempts; attempt++ {
		st, etag, err := m.LoadState(ctx)
		if err != nil {
			return nil, err
		}

		changed, err := mutate(st)
		if err != nil {
			return nil, err
		}
		if !changed {
			return st, nil
		}

		if err := m.SaveState(ctx, st, etag); err != nil {
			if isConflict(err) {
				lastErr = err
				m.logger.Debug("State save conflict, retrying",
					zap.Int("attempt", attempt+1),
				)
				continue
			}
			return nil, err
		}
		return st, nil
	}
	return nil, fmt.Errorf("workflow state contention not resolved after %d attempts: %w", saveAttempts, lastErr)
}

func isConflict(err error) bool {
	for err != nil {
		if err == statestore.ErrVersionConflict {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// EnsureInstanceInput carries identity and correlation for a new entry.
type EnsureInstanceInput struct {
	InstanceID   string
	InputValue   string
	SessionID    string
	Source       string
	TraceContext string
}

// EnsureInstance creates the entry for the instance id if absent and returns
// it. Calling it again for an existing instance is a no-op returning the
// existing entry unchanged, which makes the wrapping activity replay-safe.
func (m *Manager) EnsureInstance(ctx context.Context, in EnsureInstanceInput) (*Entry, error) {
	if in.InstanceID == "" {
		return nil, fmt.Errorf("instance id is required")
	}

	var entry *Entry
	_, err := m.Update(ctx, func(st *State) (bool, error) {
		if existing, ok := st.Instances[in.InstanceID]; ok {
			entry = existing
			return false, nil
		}
		entry = &Entry{
			WorkflowInstanceID: in.InstanceID,
			SessionID:          in.SessionID,
			Source:             in.Source,
			TraceContext:       in.TraceContext,
			InputValue:         in.InputValue,
			StartTime:          time.Now().UTC(),
			Messages:           []Message{},
			ToolHistory:        []ToolExecutionRecord{},
			Status:             StatusRunning,
		}
		st.Instances[in.InstanceID] = entry
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}
