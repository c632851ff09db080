package stores

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/openagents/a2a-engine/pkg/a2a"
	"github.com/openagents/a2a-engine/pkg/errors"
)

// taskRecord is the unit of storage.  The task body never carries history;
// the two are joined at read time by whoever needs both.
type taskRecord struct {
	task     a2a.Task
	history  []a2a.Message
	push     *a2a.PushNotificationConfig
	internal json.RawMessage
}

// InMemoryTaskStore keeps every record in a map guarded by one mutex.  It is
// the default driver and the one the test suites run against.
type InMemoryTaskStore struct {
	mu      sync.RWMutex
	records map[string]*taskRecord
}

var _ TaskStore = (*InMemoryTaskStore)(nil)

func NewInMemoryTaskStore() *InMemoryTaskStore {
	return &InMemoryTaskStore{
		records: make(map[string]*taskRecord),
	}
}

func (store *InMemoryTaskStore) CreateOrGet(
	ctx context.Context, id, sessionID string, metadata map[string]any,
) (*a2a.Task, bool, *errors.RpcError) {
	store.mu.Lock()
	defer store.mu.Unlock()

	if id == "" {
		id = uuid.New().String()
	}

	if record, ok := store.records[id]; ok {
		return record.task.Clone(), false, nil
	}

	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	now := time.Now()
	record := &taskRecord{
		task: a2a.Task{
			ID:        id,
			SessionID: sessionID,
			Status: a2a.TaskStatus{
				State:     a2a.TaskStateSubmitted,
				Timestamp: now,
			},
			Metadata:  cloneMetadata(metadata),
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	store.records[id] = record

	log.Debug("task created", "taskID", id, "sessionID", sessionID)
	return record.task.Clone(), true, nil
}

func (store *InMemoryTaskStore) Get(ctx context.Context, id string) (*a2a.Task, *errors.RpcError) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	record, ok := store.records[id]
	if !ok {
		return nil, nil
	}

	return record.task.Clone(), nil
}

func (store *InMemoryTaskStore) Update(
	ctx context.Context, id string, patch TaskPatch,
) (*a2a.Task, *errors.RpcError) {
	store.mu.Lock()
	defer store.mu.Unlock()

	record, ok := store.records[id]
	if !ok {
		return nil, nil
	}

	if record.task.Status.State.Terminal() && (patch.Status != nil || patch.Artifacts != nil) {
		log.Warn("dropping update against terminal task",
			"taskID", id, "state", record.task.Status.State)
		return record.task.Clone(), nil
	}

	now := time.Now()

	if patch.Status != nil {
		status := *patch.Status
		if status.Timestamp.IsZero() {
			status.Timestamp = now
		}
		if status.Timestamp.Before(record.task.Status.Timestamp) {
			status.Timestamp = record.task.Status.Timestamp
		}
		record.task.Status = status
	}

	if patch.Artifacts != nil {
		record.task.Artifacts = append([]a2a.Artifact(nil), patch.Artifacts...)
	}

	if patch.Metadata != nil {
		if record.task.Metadata == nil {
			record.task.Metadata = make(map[string]any, len(patch.Metadata))
		}
		for key, value := range patch.Metadata {
			record.task.Metadata[key] = value
		}
	}

	record.task.UpdatedAt = now
	return record.task.Clone(), nil
}

func (store *InMemoryTaskStore) AppendHistory(ctx context.Context, id string, message a2a.Message) {
	store.mu.Lock()
	defer store.mu.Unlock()

	record, ok := store.records[id]
	if !ok {
		log.Warn("dropping history append for unknown task", "taskID", id)
		return
	}

	if record.task.Status.State.Terminal() {
		log.Warn("dropping history append against terminal task",
			"taskID", id, "state", record.task.Status.State)
		return
	}

	if message.Timestamp == nil {
		now := time.Now()
		message.Timestamp = &now
	}

	record.history = append(record.history, message)
}

func (store *InMemoryTaskStore) GetHistory(
	ctx context.Context, id string, limit int,
) ([]a2a.Message, *errors.RpcError) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	record, ok := store.records[id]
	if !ok {
		return nil, nil
	}

	return tailHistory(record.history, limit), nil
}

func (store *InMemoryTaskStore) SetPushConfig(
	ctx context.Context, id string, config *a2a.PushNotificationConfig,
) *errors.RpcError {
	store.mu.Lock()
	defer store.mu.Unlock()

	record, ok := store.records[id]
	if !ok {
		return errors.ErrTaskNotFound
	}

	if config == nil {
		record.push = nil
		return nil
	}

	copied := *config
	record.push = &copied
	return nil
}

func (store *InMemoryTaskStore) GetPushConfig(
	ctx context.Context, id string,
) (*a2a.PushNotificationConfig, *errors.RpcError) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	record, ok := store.records[id]
	if !ok {
		return nil, errors.ErrTaskNotFound
	}

	if record.push == nil {
		return nil, nil
	}

	copied := *record.push
	return &copied, nil
}

func (store *InMemoryTaskStore) SetInternalState(
	ctx context.Context, id string, blob json.RawMessage,
) *errors.RpcError {
	store.mu.Lock()
	defer store.mu.Unlock()

	record, ok := store.records[id]
	if !ok {
		return errors.ErrTaskNotFound
	}

	record.internal = append(json.RawMessage(nil), blob...)
	return nil
}

func (store *InMemoryTaskStore) GetInternalState(
	ctx context.Context, id string,
) (json.RawMessage, *errors.RpcError) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	record, ok := store.records[id]
	if !ok {
		return nil, errors.ErrTaskNotFound
	}

	return append(json.RawMessage(nil), record.internal...), nil
}

// tailHistory returns the last limit messages, oldest first.  Non-positive
// limits mean no history at all.
func tailHistory(history []a2a.Message, limit int) []a2a.Message {
	if limit <= 0 || len(history) == 0 {
		return []a2a.Message{}
	}

	if limit > len(history) {
		limit = len(history)
	}

	return append([]a2a.Message(nil), history[len(history)-limit:]...)
}

func cloneMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}

	copied := make(map[string]any, len(metadata))
	for key, value := range metadata {
		copied[key] = value
	}
	return copied
}
