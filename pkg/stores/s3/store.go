package s3

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/openagents/a2a-engine/pkg/a2a"
	"github.com/openagents/a2a-engine/pkg/errors"
	"github.com/openagents/a2a-engine/pkg/stores"
)

// record is the persisted shape: one JSON object per task keyed by id.
type record struct {
	Task     a2a.Task                    `json:"task"`
	History  []a2a.Message               `json:"history,omitempty"`
	Push     *a2a.PushNotificationConfig `json:"push,omitempty"`
	Internal json.RawMessage             `json:"internal,omitempty"`
}

/*
Store is the S3-backed TaskStore.  Mutations are read-modify-write cycles on
the whole record, serialized by a store-wide mutex, which is the atomicity a
single-server deployment needs.
*/
type Store struct {
	mu   sync.Mutex
	conn *Conn
}

var _ stores.TaskStore = (*Store)(nil)

func NewStore(conn *Conn) *Store {
	return &Store{conn: conn}
}

func (store *Store) CreateOrGet(
	ctx context.Context, id, sessionID string, metadata map[string]any,
) (*a2a.Task, bool, *errors.RpcError) {
	store.mu.Lock()
	defer store.mu.Unlock()

	if id == "" {
		id = uuid.New().String()
	}

	rec, rpcErr := store.load(ctx, id)

	if rpcErr != nil {
		return nil, false, rpcErr
	}

	if rec != nil {
		return rec.Task.Clone(), false, nil
	}

	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	now := time.Now()
	rec = &record{
		Task: a2a.Task{
			ID:        id,
			SessionID: sessionID,
			Status: a2a.TaskStatus{
				State:     a2a.TaskStateSubmitted,
				Timestamp: now,
			},
			Metadata:  metadata,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}

	if rpcErr := store.save(ctx, rec); rpcErr != nil {
		return nil, false, rpcErr
	}

	return rec.Task.Clone(), true, nil
}

func (store *Store) Get(ctx context.Context, id string) (*a2a.Task, *errors.RpcError) {
	store.mu.Lock()
	defer store.mu.Unlock()

	rec, rpcErr := store.load(ctx, id)

	if rpcErr != nil || rec == nil {
		return nil, rpcErr
	}

	return rec.Task.Clone(), nil
}

func (store *Store) Update(
	ctx context.Context, id string, patch stores.TaskPatch,
) (*a2a.Task, *errors.RpcError) {
	store.mu.Lock()
	defer store.mu.Unlock()

	rec, rpcErr := store.load(ctx, id)

	if rpcErr != nil || rec == nil {
		return nil, rpcErr
	}

	if rec.Task.Status.State.Terminal() && (patch.Status != nil || patch.Artifacts != nil) {
		log.Warn("dropping update against terminal task",
			"taskID", id, "state", rec.Task.Status.State)
		return rec.Task.Clone(), nil
	}

	now := time.Now()

	if patch.Status != nil {
		status := *patch.Status
		if status.Timestamp.IsZero() {
			status.Timestamp = now
		}
		if status.Timestamp.Before(rec.Task.Status.Timestamp) {
			status.Timestamp = rec.Task.Status.Timestamp
		}
		rec.Task.Status = status
	}

	if patch.Artifacts != nil {
		rec.Task.Artifacts = append([]a2a.Artifact(nil), patch.Artifacts...)
	}

	if patch.Metadata != nil {
		if rec.Task.Metadata == nil {
			rec.Task.Metadata = make(map[string]any, len(patch.Metadata))
		}
		for key, value := range patch.Metadata {
			rec.Task.Metadata[key] = value
		}
	}

	rec.Task.UpdatedAt = now

	if rpcErr := store.save(ctx, rec); rpcErr != nil {
		return nil, rpcErr
	}

	return rec.Task.Clone(), nil
}

func (store *Store) AppendHistory(ctx context.Context, id string, message a2a.Message) {
	store.mu.Lock()
	defer store.mu.Unlock()

	rec, rpcErr := store.load(ctx, id)

	if rpcErr != nil || rec == nil {
		log.Warn("dropping history append for unknown task", "taskID", id)
		return
	}

	if rec.Task.Status.State.Terminal() {
		log.Warn("dropping history append against terminal task",
			"taskID", id, "state", rec.Task.Status.State)
		return
	}

	if message.Timestamp == nil {
		now := time.Now()
		message.Timestamp = &now
	}

	rec.History = append(rec.History, message)

	if rpcErr := store.save(ctx, rec); rpcErr != nil {
		log.Error("failed to persist history append", "taskID", id, "error", rpcErr)
	}
}

func (store *Store) GetHistory(
	ctx context.Context, id string, limit int,
) ([]a2a.Message, *errors.RpcError) {
	store.mu.Lock()
	defer store.mu.Unlock()

	rec, rpcErr := store.load(ctx, id)

	if rpcErr != nil || rec == nil {
		return nil, rpcErr
	}

	if limit <= 0 || len(rec.History) == 0 {
		return []a2a.Message{}, nil
	}

	if limit > len(rec.History) {
		limit = len(rec.History)
	}

	return append([]a2a.Message(nil), rec.History[len(rec.History)-limit:]...), nil
}

func (store *Store) SetPushConfig(
	ctx context.Context, id string, config *a2a.PushNotificationConfig,
) *errors.RpcError {
	store.mu.Lock()
	defer store.mu.Unlock()

	rec, rpcErr := store.load(ctx, id)

	if rpcErr != nil {
		return rpcErr
	}

	if rec == nil {
		return errors.ErrTaskNotFound
	}

	rec.Push = config
	return store.save(ctx, rec)
}

func (store *Store) GetPushConfig(
	ctx context.Context, id string,
) (*a2a.PushNotificationConfig, *errors.RpcError) {
	store.mu.Lock()
	defer store.mu.Unlock()

	rec, rpcErr := store.load(ctx, id)

	if rpcErr != nil {
		return nil, rpcErr
	}

	if rec == nil {
		return nil, errors.ErrTaskNotFound
	}

	if rec.Push == nil {
		return nil, nil
	}

	copied := *rec.Push
	return &copied, nil
}

func (store *Store) SetInternalState(
	ctx context.Context, id string, blob json.RawMessage,
) *errors.RpcError {
	store.mu.Lock()
	defer store.mu.Unlock()

	rec, rpcErr := store.load(ctx, id)

	if rpcErr != nil {
		return rpcErr
	}

	if rec == nil {
		return errors.ErrTaskNotFound
	}

	rec.Internal = append(json.RawMessage(nil), blob...)
	return store.save(ctx, rec)
}

func (store *Store) GetInternalState(
	ctx context.Context, id string,
) (json.RawMessage, *errors.RpcError) {
	store.mu.Lock()
	defer store.mu.Unlock()

	rec, rpcErr := store.load(ctx, id)

	if rpcErr != nil {
		return nil, rpcErr
	}

	if rec == nil {
		return nil, errors.ErrTaskNotFound
	}

	return append(json.RawMessage(nil), rec.Internal...), nil
}

func (store *Store) load(ctx context.Context, id string) (*record, *errors.RpcError) {
	buf, err := store.conn.Get(ctx, id+".json")

	if err != nil {
		log.Error("failed to read task record", "taskID", id, "error", err)
		return nil, errors.ErrInternal.WithMessagef("failed to read task record: %v", err)
	}

	if buf == nil {
		return nil, nil
	}

	var rec record

	if err := json.Unmarshal(buf, &rec); err != nil {
		log.Error("failed to unmarshal task record", "taskID", id, "error", err)
		return nil, errors.ErrInternal.WithMessagef("failed to unmarshal task record: %v", err)
	}

	return &rec, nil
}

func (store *Store) save(ctx context.Context, rec *record) *errors.RpcError {
	data, err := json.Marshal(rec)

	if err != nil {
		log.Error("failed to marshal task record", "taskID", rec.Task.ID, "error", err)
		return errors.ErrInternal.WithMessagef("failed to marshal task record: %v", err)
	}

	if err := store.conn.Put(ctx, rec.Task.ID+".json", data); err != nil {
		log.Error("failed to write task record", "taskID", rec.Task.ID, "error", err)
		return errors.ErrInternal.WithMessagef("failed to write task record: %v", err)
	}

	return nil
}
