package executor

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/openagents/a2a-engine/pkg/a2a"
	"github.com/openagents/a2a-engine/pkg/processor"
	"github.com/openagents/a2a-engine/pkg/stores"
)

// schedule queues the next step for the record's producer.
func (ex *TaskExecutor) schedule(rec *record, input *processor.StepInput) {
	go ex.runStep(rec, input)
}

/*
runStep drives one producer step.  The snapshot refresh and the outcome
commit run under the record's serializer; the step itself does not, so a
cancel arriving mid-step can inject cancellation instead of queueing behind
it.  After the step, the task is re-read: if something terminal happened
while stepping, the late outcome is discarded.
*/
func (ex *TaskExecutor) runStep(rec *record, input *processor.StepInput) {
	ctx := context.Background()

	rec.serializer.Lock()

	if rec.released {
		rec.serializer.Unlock()
		return
	}

	snapshot, rpcErr := ex.snapshotWithHistory(ctx, rec.taskID)

	if rpcErr != nil || snapshot == nil || snapshot.Status.State.Terminal() {
		ex.teardownLocked(rec)
		rec.serializer.Unlock()
		return
	}

	rec.pctx.SetTask(snapshot)
	rec.running = true
	rec.serializer.Unlock()

	yield, err := rec.handle.Step(ctx, input)

	rec.serializer.Lock()
	defer rec.serializer.Unlock()
	rec.running = false

	current, rpcErr := ex.store.Get(ctx, rec.taskID)

	if rpcErr != nil || current == nil || current.Status.State.Terminal() {
		ex.teardownLocked(rec)
		return
	}

	switch {
	case err != nil && processor.IsCancellation(err):
		ex.commitStatus(ctx, rec.taskID, a2a.TaskStateCanceled, nil)
		ex.teardownLocked(rec)

	case err != nil:
		log.Error("producer step failed", "taskID", rec.taskID, "error", err)
		ex.commitStatus(ctx, rec.taskID, a2a.TaskStateFailed, agentMessage(err.Error()))
		ex.teardownLocked(rec)

	case yield == nil:
		ex.commitStatus(ctx, rec.taskID, a2a.TaskStateCompleted, nil)
		ex.teardownLocked(rec)

	case yield.Status != nil:
		ex.commitStatus(ctx, rec.taskID, yield.Status.State, yield.Status.Message)

		switch {
		case yield.Status.State == a2a.TaskStateInputReq:
			// Parked; the handle stays live until input or cancel.
		case yield.Status.State.Terminal():
			ex.teardownLocked(rec)
		default:
			ex.schedule(rec, nil)
		}

	case yield.Artifact != nil:
		ex.commitArtifact(ctx, rec.taskID, yield.Artifact)
		ex.schedule(rec, nil)

	default:
		ex.schedule(rec, nil)
	}
}

/*
commitStatus persists a state transition and emits the matching StatusUpdate
event.  Agent messages travel to history except for input-required prompts,
which ride only on the event so a resume does not double-append them.
Transitions against an already-terminal task are dropped by the store; no
event is emitted for them.
*/
func (ex *TaskExecutor) commitStatus(ctx context.Context, taskID string, state a2a.TaskState, message *a2a.Message) {
	updated, rpcErr := ex.store.Update(ctx, taskID, stores.TaskPatch{
		Status: &a2a.TaskStatus{State: state, Message: message},
	})

	if rpcErr != nil || updated == nil {
		log.Error("failed to commit status", "taskID", taskID, "state", state, "error", rpcErr)
		return
	}

	if updated.Status.State != state {
		// The store dropped the transition (task already terminal).
		return
	}

	if message != nil && message.Role == a2a.RoleAgent && state != a2a.TaskStateInputReq {
		ex.store.AppendHistory(ctx, taskID, *message)
	}

	ex.emit(taskID, a2a.TaskStatusUpdateEvent{
		ID:     taskID,
		Status: updated.Status,
		Final:  state.Terminal() || state == a2a.TaskStateInputReq,
	})
}

/*
commitArtifact applies an artifact signal to the task's artifact list and
emits the matching ArtifactUpdate event.  The stored artifact never carries
the streaming flags; the event carries a decorated clone of it.
*/
func (ex *TaskExecutor) commitArtifact(ctx context.Context, taskID string, signal *processor.ArtifactSignal) {
	task, rpcErr := ex.store.Get(ctx, taskID)

	if rpcErr != nil || task == nil {
		log.Error("failed to read task for artifact commit", "taskID", taskID, "error", rpcErr)
		return
	}

	artifacts := append([]a2a.Artifact(nil), task.Artifacts...)

	index := len(artifacts)
	if signal.Index != nil {
		index = *signal.Index
		if index < 0 {
			index = 0
		}
		if index > len(artifacts) {
			index = len(artifacts)
		}
	}

	now := time.Now()
	appending := signal.Append && index < len(artifacts)

	var stored a2a.Artifact

	if appending {
		artifacts[index].Parts = append(artifacts[index].Parts, signal.Parts...)
		artifacts[index].Timestamp = &now
		stored = artifacts[index]
	} else {
		stored = a2a.Artifact{
			ID:          uuid.New().String(),
			Name:        signal.Name,
			Description: signal.Description,
			Parts:       signal.Parts,
			Metadata:    signal.Metadata,
			Index:       index,
			Timestamp:   &now,
		}

		artifacts = append(artifacts, a2a.Artifact{})
		copy(artifacts[index+1:], artifacts[index:])
		artifacts[index] = stored

		for i := range artifacts {
			artifacts[i].Index = i
		}
	}

	updated, rpcErr := ex.store.Update(ctx, taskID, stores.TaskPatch{Artifacts: artifacts})

	if rpcErr != nil || updated == nil {
		log.Error("failed to commit artifact", "taskID", taskID, "error", rpcErr)
		return
	}

	if updated.Status.State.Terminal() {
		// Cancel won the race; the store dropped the write.
		return
	}

	event := stored

	if appending {
		event.Append = boolPtr(true)
		event.LastChunk = boolPtr(orDefault(signal.LastChunk, false))
	} else {
		event.Append = boolPtr(false)
		event.LastChunk = boolPtr(orDefault(signal.LastChunk, true))
	}

	ex.emit(taskID, a2a.TaskArtifactUpdateEvent{
		ID:       taskID,
		Artifact: event,
	})
}

// emit hands the event to each sink in order.  Sinks are expected to be
// non-blocking; a sink that wants slow delivery owns its own goroutines.
func (ex *TaskExecutor) emit(taskID string, event any) {
	for _, sink := range ex.sinks {
		sink.Notify(taskID, event)
	}
}

// teardownLocked releases the handle and removes the record.  Caller holds
// the record's serializer.
func (ex *TaskExecutor) teardownLocked(rec *record) {
	if rec.released {
		return
	}

	rec.released = true
	rec.handle.Release()

	ex.mu.Lock()
	delete(ex.records, rec.taskID)
	ex.mu.Unlock()

	log.Debug("task record released", "taskID", rec.taskID)
}

func boolPtr(v bool) *bool {
	return &v
}

func orDefault(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
