package stores

import (
	"context"
	"encoding/json"

	"github.com/openagents/a2a-engine/pkg/a2a"
	"github.com/openagents/a2a-engine/pkg/errors"
)

/*
TaskStore is the persistence contract the execution engine runs against.
Implementations must make each mutation atomic per task: two concurrent
Updates of the same task serialize, and readers never observe a half-applied
patch.  History is held separately from the task body so reads can trim it
to the caller's requested length without copying the whole record.

Lookups of unknown tasks return (nil, nil) rather than an error; the caller
decides whether a miss is a fault.
*/
type TaskStore interface {
	// CreateOrGet returns the task with the given id, creating it in the
	// submitted state when it does not exist yet.  An empty id asks the
	// store to mint one.  The bool reports whether this call created the
	// task; when two callers race on the same id, exactly one sees true.
	CreateOrGet(ctx context.Context, id, sessionID string, metadata map[string]any) (*a2a.Task, bool, *errors.RpcError)

	// Get returns a copy of the task body (status, artifacts, metadata) or
	// (nil, nil) when the id is unknown.
	Get(ctx context.Context, id string) (*a2a.Task, *errors.RpcError)

	// Update applies the patch atomically and returns the resulting task,
	// or (nil, nil) when the id is unknown.  Patches against a task already
	// in a terminal state are dropped.
	Update(ctx context.Context, id string, patch TaskPatch) (*a2a.Task, *errors.RpcError)

	// AppendHistory appends one message to the task's history.  Appends to
	// unknown or terminal tasks are dropped.
	AppendHistory(ctx context.Context, id string, message a2a.Message)

	// GetHistory returns up to limit most recent messages, oldest first.
	// A limit of zero or less returns an empty slice.
	GetHistory(ctx context.Context, id string, limit int) ([]a2a.Message, *errors.RpcError)

	// SetPushConfig stores (or clears, with nil) the task's push
	// notification target.
	SetPushConfig(ctx context.Context, id string, config *a2a.PushNotificationConfig) *errors.RpcError

	// GetPushConfig returns the stored push target, or nil when none is set.
	GetPushConfig(ctx context.Context, id string) (*a2a.PushNotificationConfig, *errors.RpcError)

	// SetInternalState stores an opaque blob a processor wants persisted
	// alongside the task.  Never exposed over the protocol surface.
	SetInternalState(ctx context.Context, id string, blob json.RawMessage) *errors.RpcError

	// GetInternalState returns the stored blob, or nil when none is set.
	GetInternalState(ctx context.Context, id string) (json.RawMessage, *errors.RpcError)
}

/*
TaskPatch carries the fields an Update may change.  Nil fields are left
untouched.  A Status with a zero Timestamp gets the store's current time;
timestamps never move backwards.  Artifacts replaces the artifact list
wholesale, and Metadata merges keys into the task's metadata.
*/
type TaskPatch struct {
	Status    *a2a.TaskStatus
	Artifacts []a2a.Artifact
	Metadata  map[string]any
}
