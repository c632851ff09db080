package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/openagents/a2a-engine/pkg/a2a"
	"github.com/openagents/a2a-engine/pkg/catalog"
	"github.com/openagents/a2a-engine/pkg/errors"
	"github.com/openagents/a2a-engine/pkg/processor"
	"github.com/openagents/a2a-engine/pkg/stores"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventSink collects every emitted event in commit order.
type eventSink struct {
	mu     sync.Mutex
	events []any
}

func (sink *eventSink) Notify(taskID string, event any) {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	sink.events = append(sink.events, event)
}

func (sink *eventSink) list() []any {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	return append([]any(nil), sink.events...)
}

func (sink *eventSink) statusEvents() []a2a.TaskStatusUpdateEvent {
	var out []a2a.TaskStatusUpdateEvent
	for _, event := range sink.list() {
		if status, ok := event.(a2a.TaskStatusUpdateEvent); ok {
			out = append(out, status)
		}
	}
	return out
}

func (sink *eventSink) artifactEvents() []a2a.TaskArtifactUpdateEvent {
	var out []a2a.TaskArtifactUpdateEvent
	for _, event := range sink.list() {
		if artifact, ok := event.(a2a.TaskArtifactUpdateEvent); ok {
			out = append(out, artifact)
		}
	}
	return out
}

func (sink *eventSink) sawFinal() bool {
	for _, status := range sink.statusEvents() {
		if status.Final && status.Status.State.Terminal() {
			return true
		}
	}
	return false
}

func newTestExecutor(t *testing.T, procs ...processor.Processor) (*TaskExecutor, *eventSink) {
	t.Helper()

	registry := catalog.NewRegistry()
	for _, proc := range procs {
		registry.Register(proc)
	}

	sink := &eventSink{}
	ex := New(Config{
		Store:    stores.NewInMemoryTaskStore(),
		Registry: registry,
		Sinks:    []Sink{sink},
	})

	return ex, sink
}

func userSend(id, text string) a2a.TaskSendParams {
	return a2a.TaskSendParams{
		ID:      id,
		Message: *a2a.NewTextMessage(a2a.RoleUser, text),
	}
}

func waitForState(t *testing.T, ex *TaskExecutor, taskID string, state a2a.TaskState) *a2a.Task {
	t.Helper()

	var task *a2a.Task

	require.Eventually(t, func() bool {
		got, rpcErr := ex.Get(context.Background(), a2a.TaskQueryParams{
			TaskIDParams: a2a.TaskIDParams{ID: taskID},
		})
		if rpcErr != nil {
			return false
		}
		task = got
		return got.Status.State == state
	}, 2*time.Second, 5*time.Millisecond)

	return task
}

func TestStreamingArtifact(t *testing.T) {
	name := "streamed_art"
	notLast := false
	last := true
	first := 0

	proc := processor.New(processor.Config{
		Skill: "stream",
		Run: func(ctx context.Context, pctx *processor.Context, stream *processor.Stream) error {
			if err := stream.Status(a2a.TaskStateWorking, a2a.NewTextMessage(a2a.RoleAgent, "Starting stream...")); err != nil {
				return err
			}
			if err := stream.Artifact(processor.ArtifactSignal{
				Name:      &name,
				Parts:     []a2a.Part{a2a.NewTextPart("Chunk 1. ")},
				LastChunk: &notLast,
			}); err != nil {
				return err
			}
			if err := stream.Artifact(processor.ArtifactSignal{
				Index:     &first,
				Append:    true,
				Parts:     []a2a.Part{a2a.NewTextPart("Chunk 2.")},
				LastChunk: &last,
			}); err != nil {
				return err
			}
			return stream.Status(a2a.TaskStateCompleted, nil)
		},
	})

	ex, sink := newTestExecutor(t, proc)

	task, rpcErr := ex.Send(context.Background(), userSend("", "go"))
	require.Nil(t, rpcErr)

	waitForState(t, ex, task.ID, a2a.TaskStateCompleted)
	require.Eventually(t, sink.sawFinal, 2*time.Second, 5*time.Millisecond)

	artifacts := sink.artifactEvents()
	require.Len(t, artifacts, 2)

	chunk1 := artifacts[0].Artifact
	require.Len(t, chunk1.Parts, 1)
	assert.Equal(t, "Chunk 1. ", chunk1.Parts[0].Text)
	require.NotNil(t, chunk1.Append)
	assert.False(t, *chunk1.Append)
	require.NotNil(t, chunk1.LastChunk)
	assert.False(t, *chunk1.LastChunk)

	chunk2 := artifacts[1].Artifact
	require.Len(t, chunk2.Parts, 2)
	assert.Equal(t, "Chunk 2.", chunk2.Parts[1].Text)
	assert.True(t, *chunk2.Append)
	assert.True(t, *chunk2.LastChunk)

	// The last event overall is the terminal status.
	statuses := sink.statusEvents()
	final := statuses[len(statuses)-1]
	assert.True(t, final.Final)
	assert.Equal(t, a2a.TaskStateCompleted, final.Status.State)

	// Stored artifact carries no transport flags.
	stored, rpcErr := ex.Get(context.Background(), a2a.TaskQueryParams{
		TaskIDParams: a2a.TaskIDParams{ID: task.ID},
	})
	require.Nil(t, rpcErr)
	require.Len(t, stored.Artifacts, 1)
	assert.Nil(t, stored.Artifacts[0].Append)
	assert.Nil(t, stored.Artifacts[0].LastChunk)
	assert.Equal(t, 0, stored.Artifacts[0].Index)
	require.Len(t, stored.Artifacts[0].Parts, 2)
}

func TestTwoStageInputRequired(t *testing.T) {
	artifactName := "two_stage_artifact"

	proc := processor.New(processor.Config{
		Skill:     "two-stage",
		Resumable: true,
		Run: func(ctx context.Context, pctx *processor.Context, stream *processor.Stream) error {
			if err := stream.Status(a2a.TaskStateInputReq, a2a.NewTextMessage(a2a.RoleAgent, "stage1?")); err != nil {
				return err
			}

			input, err := stream.Input()
			if err != nil {
				return err
			}
			if input.Message.String() != "input1" {
				return stream.Status(a2a.TaskStateFailed, nil)
			}

			if err := stream.Status(a2a.TaskStateInputReq, a2a.NewTextMessage(a2a.RoleAgent, "stage2?")); err != nil {
				return err
			}

			input, err = stream.Input()
			if err != nil {
				return err
			}
			if input.Message.String() != "input2" {
				return stream.Status(a2a.TaskStateFailed, nil)
			}

			if err := stream.Artifact(processor.ArtifactSignal{
				Name:  &artifactName,
				Parts: []a2a.Part{a2a.NewTextPart("done")},
			}); err != nil {
				return err
			}

			return stream.Status(a2a.TaskStateCompleted, nil)
		},
	})

	ex, _ := newTestExecutor(t, proc)
	ctx := context.Background()

	task, rpcErr := ex.Send(ctx, userSend("", "start"))
	require.Nil(t, rpcErr)

	parked := waitForState(t, ex, task.ID, a2a.TaskStateInputReq)
	require.NotNil(t, parked.Status.Message)
	assert.Equal(t, "stage1?", parked.Status.Message.String())

	_, rpcErr = ex.Send(ctx, userSend(task.ID, "input1"))
	require.Nil(t, rpcErr)

	parked = waitForState(t, ex, task.ID, a2a.TaskStateInputReq)

	// The second park carries the second prompt.
	require.Eventually(t, func() bool {
		got, _ := ex.Get(ctx, a2a.TaskQueryParams{TaskIDParams: a2a.TaskIDParams{ID: task.ID}})
		return got.Status.Message != nil && got.Status.Message.String() == "stage2?"
	}, 2*time.Second, 5*time.Millisecond)

	_, rpcErr = ex.Send(ctx, userSend(task.ID, "input2"))
	require.Nil(t, rpcErr)

	done := waitForState(t, ex, task.ID, a2a.TaskStateCompleted)
	require.Len(t, done.Artifacts, 1)
	assert.Equal(t, "two_stage_artifact", *done.Artifacts[0].Name)
	assert.Equal(t, "done", done.Artifacts[0].Parts[0].Text)
}

func TestSendToTerminalTaskIsRejected(t *testing.T) {
	proc := processor.New(processor.Config{
		Skill: "oneshot",
		Run: func(ctx context.Context, pctx *processor.Context, stream *processor.Stream) error {
			return stream.Status(a2a.TaskStateCompleted, nil)
		},
	})

	ex, _ := newTestExecutor(t, proc)
	ctx := context.Background()

	task, rpcErr := ex.Send(ctx, userSend("", "go"))
	require.Nil(t, rpcErr)

	waitForState(t, ex, task.ID, a2a.TaskStateCompleted)

	_, rpcErr = ex.Send(ctx, userSend(task.ID, "again"))
	require.NotNil(t, rpcErr)
	assert.Equal(t, -32600, rpcErr.Code)
}

// countingProcessor counts how many producers it has bound.
type countingProcessor struct {
	processor.Processor
	binds atomic.Int32
}

func (proc *countingProcessor) Process(pctx *processor.Context, params a2a.TaskSendParams) (processor.Handle, error) {
	proc.binds.Add(1)
	return proc.Processor.Process(pctx, params)
}

func TestConcurrentSendsBindOneProducer(t *testing.T) {
	proc := &countingProcessor{
		Processor: processor.New(processor.Config{
			Skill: "race",
			Run: func(ctx context.Context, pctx *processor.Context, stream *processor.Stream) error {
				return stream.Status(a2a.TaskStateCompleted, nil)
			},
		}),
	}

	ex, _ := newTestExecutor(t, proc)
	ctx := context.Background()

	const rounds = 50

	for i := 0; i < rounds; i++ {
		id := uuid.New().String()
		start := make(chan struct{})
		rpcErrs := make([]*errors.RpcError, 2)

		var wg sync.WaitGroup
		for slot := range rpcErrs {
			wg.Add(1)
			go func(slot int) {
				defer wg.Done()
				<-start
				_, rpcErrs[slot] = ex.Send(ctx, userSend(id, "go"))
			}(slot)
		}

		close(start)
		wg.Wait()

		// One send creates and binds; the other is turned away.
		succeeded := 0
		for _, rpcErr := range rpcErrs {
			if rpcErr == nil {
				succeeded++
			}
		}
		require.Equal(t, 1, succeeded)

		waitForState(t, ex, id, a2a.TaskStateCompleted)
	}

	assert.Equal(t, int32(rounds), proc.binds.Load())
}

func TestCancelHungProducer(t *testing.T) {
	proc := processor.New(processor.Config{
		Skill: "hang",
		Run: func(ctx context.Context, pctx *processor.Context, stream *processor.Stream) error {
			if err := stream.Status(a2a.TaskStateWorking, a2a.NewTextMessage(a2a.RoleAgent, "Hanging now")); err != nil {
				return err
			}
			<-ctx.Done()
			return ctx.Err()
		},
	})

	ex, sink := newTestExecutor(t, proc)
	ctx := context.Background()

	task, rpcErr := ex.Send(ctx, userSend("", "go"))
	require.Nil(t, rpcErr)

	require.Eventually(t, func() bool {
		got, _ := ex.Get(ctx, a2a.TaskQueryParams{TaskIDParams: a2a.TaskIDParams{ID: task.ID}})
		return got.Status.Message != nil && got.Status.Message.String() == "Hanging now"
	}, 2*time.Second, 5*time.Millisecond)

	canceled, rpcErr := ex.Cancel(ctx, a2a.TaskIDParams{ID: task.ID})
	require.Nil(t, rpcErr)
	assert.Equal(t, a2a.TaskStateCanceled, canceled.Status.State)

	after := waitForState(t, ex, task.ID, a2a.TaskStateCanceled)
	assert.Empty(t, after.Artifacts)

	// The record is torn down once the hung step unwinds.
	require.Eventually(t, func() bool {
		return ex.record(task.ID) == nil
	}, 2*time.Second, 5*time.Millisecond)

	// No further events after the terminal one.
	count := len(sink.list())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, count, len(sink.list()))

	finals := 0
	for _, status := range sink.statusEvents() {
		if status.Final && status.Status.State.Terminal() {
			finals++
		}
	}
	assert.Equal(t, 1, finals)
}

func TestDoubleCancel(t *testing.T) {
	proc := processor.New(processor.Config{
		Skill: "hang",
		Run: func(ctx context.Context, pctx *processor.Context, stream *processor.Stream) error {
			if err := stream.Status(a2a.TaskStateWorking, nil); err != nil {
				return err
			}
			<-ctx.Done()
			return ctx.Err()
		},
	})

	ex, sink := newTestExecutor(t, proc)
	ctx := context.Background()

	task, rpcErr := ex.Send(ctx, userSend("", "go"))
	require.Nil(t, rpcErr)

	waitForState(t, ex, task.ID, a2a.TaskStateWorking)

	first, rpcErr := ex.Cancel(ctx, a2a.TaskIDParams{ID: task.ID})
	require.Nil(t, rpcErr)

	second, rpcErr := ex.Cancel(ctx, a2a.TaskIDParams{ID: task.ID})
	require.Nil(t, rpcErr)

	assert.Equal(t, a2a.TaskStateCanceled, first.Status.State)
	assert.Equal(t, a2a.TaskStateCanceled, second.Status.State)
	assert.Equal(t, first.Status.Timestamp, second.Status.Timestamp)

	finals := 0
	for _, status := range sink.statusEvents() {
		if status.Final {
			finals++
		}
	}
	assert.Equal(t, 1, finals)
}

func TestCancelUnknownTask(t *testing.T) {
	ex, _ := newTestExecutor(t)

	_, rpcErr := ex.Cancel(context.Background(), a2a.TaskIDParams{ID: "nope"})
	require.NotNil(t, rpcErr)
	assert.Equal(t, -32001, rpcErr.Code)
}

func TestHistorySlicing(t *testing.T) {
	proc := processor.New(processor.Config{
		Skill:     "history",
		Resumable: true,
		Run: func(ctx context.Context, pctx *processor.Context, stream *processor.Stream) error {
			if err := stream.Status(a2a.TaskStateWorking, a2a.NewTextMessage(a2a.RoleAgent, "Working Step 1")); err != nil {
				return err
			}
			if err := stream.Status(a2a.TaskStateWorking, a2a.NewTextMessage(a2a.RoleAgent, "Working Step 2")); err != nil {
				return err
			}
			if err := stream.Status(a2a.TaskStateInputReq, a2a.NewTextMessage(a2a.RoleAgent, "Input Required: Proceed?")); err != nil {
				return err
			}
			if _, err := stream.Input(); err != nil {
				return err
			}
			if err := stream.Status(a2a.TaskStateWorking, a2a.NewTextMessage(a2a.RoleAgent, "Processing...")); err != nil {
				return err
			}
			return stream.Status(a2a.TaskStateCompleted, a2a.NewTextMessage(a2a.RoleAgent, "Task Completed Successfully."))
		},
	})

	ex, _ := newTestExecutor(t, proc)
	ctx := context.Background()

	task, rpcErr := ex.Send(ctx, userSend("", "Start"))
	require.Nil(t, rpcErr)

	waitForState(t, ex, task.ID, a2a.TaskStateInputReq)

	_, rpcErr = ex.Send(ctx, userSend(task.ID, "Proceed"))
	require.Nil(t, rpcErr)

	waitForState(t, ex, task.ID, a2a.TaskStateCompleted)

	three := 3
	got, rpcErr := ex.Get(ctx, a2a.TaskQueryParams{
		TaskIDParams:  a2a.TaskIDParams{ID: task.ID},
		HistoryLength: &three,
	})
	require.Nil(t, rpcErr)
	require.Len(t, got.History, 3)
	assert.Equal(t, "Proceed", got.History[0].String())
	assert.Equal(t, "Processing...", got.History[1].String())
	assert.Equal(t, "Task Completed Successfully.", got.History[2].String())

	zero := 0
	got, rpcErr = ex.Get(ctx, a2a.TaskQueryParams{
		TaskIDParams:  a2a.TaskIDParams{ID: task.ID},
		HistoryLength: &zero,
	})
	require.Nil(t, rpcErr)
	assert.Empty(t, got.History)

	// Omitted historyLength also means no history.
	got, rpcErr = ex.Get(ctx, a2a.TaskQueryParams{
		TaskIDParams: a2a.TaskIDParams{ID: task.ID},
	})
	require.Nil(t, rpcErr)
	assert.Empty(t, got.History)

	twenty := 20
	got, rpcErr = ex.Get(ctx, a2a.TaskQueryParams{
		TaskIDParams:  a2a.TaskIDParams{ID: task.ID},
		HistoryLength: &twenty,
	})
	require.Nil(t, rpcErr)
	require.Len(t, got.History, 6)
	assert.Equal(t, a2a.RoleUser, got.History[0].Role)
	assert.Equal(t, "Start", got.History[0].String())
}

func TestStatusTimestampsNondecreasing(t *testing.T) {
	proc := processor.New(processor.Config{
		Skill: "steps",
		Run: func(ctx context.Context, pctx *processor.Context, stream *processor.Stream) error {
			for i := 0; i < 3; i++ {
				if err := stream.Status(a2a.TaskStateWorking, nil); err != nil {
					return err
				}
			}
			return stream.Status(a2a.TaskStateCompleted, nil)
		},
	})

	ex, sink := newTestExecutor(t, proc)

	task, rpcErr := ex.Send(context.Background(), userSend("", "go"))
	require.Nil(t, rpcErr)

	waitForState(t, ex, task.ID, a2a.TaskStateCompleted)
	require.Eventually(t, sink.sawFinal, 2*time.Second, 5*time.Millisecond)

	statuses := sink.statusEvents()
	for i := 1; i < len(statuses); i++ {
		assert.False(t, statuses[i].Status.Timestamp.Before(statuses[i-1].Status.Timestamp))
	}
}

func TestProducerErrorCommitsFailed(t *testing.T) {
	proc := processor.New(processor.Config{
		Skill: "broken",
		Run: func(ctx context.Context, pctx *processor.Context, stream *processor.Stream) error {
			return assert.AnError
		},
	})

	ex, sink := newTestExecutor(t, proc)
	ctx := context.Background()

	task, rpcErr := ex.Send(ctx, userSend("", "go"))
	require.Nil(t, rpcErr)

	failed := waitForState(t, ex, task.ID, a2a.TaskStateFailed)
	require.NotNil(t, failed.Status.Message)
	assert.Contains(t, failed.Status.Message.String(), assert.AnError.Error())

	// The error text also lands in history as an agent message.
	ten := 10
	got, _ := ex.Get(ctx, a2a.TaskQueryParams{
		TaskIDParams:  a2a.TaskIDParams{ID: task.ID},
		HistoryLength: &ten,
	})
	require.NotEmpty(t, got.History)
	lastMessage := got.History[len(got.History)-1]
	assert.Equal(t, a2a.RoleAgent, lastMessage.Role)

	require.Eventually(t, sink.sawFinal, 2*time.Second, 5*time.Millisecond)
}

func TestNoProcessorForSend(t *testing.T) {
	ex, _ := newTestExecutor(t)

	_, rpcErr := ex.Send(context.Background(), userSend("", "go"))
	require.NotNil(t, rpcErr)
	assert.Equal(t, -32601, rpcErr.Code)
}

func TestResumeAfterRestart(t *testing.T) {
	proc := processor.New(processor.Config{
		Skill:     "restartable",
		Resumable: true,
		Run: func(ctx context.Context, pctx *processor.Context, stream *processor.Stream) error {
			return stream.Status(a2a.TaskStateCompleted, nil)
		},
	})

	registry := catalog.NewRegistry()
	registry.Register(proc)
	store := stores.NewInMemoryTaskStore()

	// Seed a non-terminal task as if a previous process had created it.
	seeded, _, rpcErr := store.CreateOrGet(context.Background(), "task-restart", "", map[string]any{
		a2a.SkillKey: "restartable",
	})
	require.Nil(t, rpcErr)
	store.Update(context.Background(), seeded.ID, stores.TaskPatch{
		Status: &a2a.TaskStatus{State: a2a.TaskStateInputReq},
	})

	ex := New(Config{Store: store, Registry: registry})

	_, rpcErr = ex.Send(context.Background(), userSend("task-restart", "hello again"))
	require.NotNil(t, rpcErr)
	assert.Equal(t, -32603, rpcErr.Code)
	assert.Contains(t, rpcErr.Message, "cannot be resumed")
}

func TestInternalTrigger(t *testing.T) {
	proc := processor.New(processor.Config{
		Skill:            "triggered",
		Resumable:        true,
		InternalTriggers: true,
		Run: func(ctx context.Context, pctx *processor.Context, stream *processor.Stream) error {
			if err := stream.Status(a2a.TaskStateInputReq, a2a.NewTextMessage(a2a.RoleAgent, "waiting")); err != nil {
				return err
			}

			input, err := stream.Input()
			if err != nil {
				return err
			}

			if input.Internal == nil {
				return stream.Status(a2a.TaskStateFailed, nil)
			}

			return stream.Status(a2a.TaskStateCompleted, nil)
		},
	})

	ex, _ := newTestExecutor(t, proc)
	ctx := context.Background()

	task, rpcErr := ex.Send(ctx, userSend("", "go"))
	require.Nil(t, rpcErr)

	waitForState(t, ex, task.ID, a2a.TaskStateInputReq)

	_, rpcErr = ex.Trigger(ctx, task.ID, map[string]any{"tick": 1})
	require.Nil(t, rpcErr)

	waitForState(t, ex, task.ID, a2a.TaskStateCompleted)
}

func TestTriggerWithoutSupport(t *testing.T) {
	proc := processor.New(processor.Config{
		Skill:     "plain",
		Resumable: true,
		Run: func(ctx context.Context, pctx *processor.Context, stream *processor.Stream) error {
			if err := stream.Status(a2a.TaskStateInputReq, a2a.NewTextMessage(a2a.RoleAgent, "waiting")); err != nil {
				return err
			}
			if _, err := stream.Input(); err != nil {
				return err
			}
			return stream.Status(a2a.TaskStateCompleted, nil)
		},
	})

	ex, _ := newTestExecutor(t, proc)
	ctx := context.Background()

	task, rpcErr := ex.Send(ctx, userSend("", "go"))
	require.Nil(t, rpcErr)

	waitForState(t, ex, task.ID, a2a.TaskStateInputReq)

	_, rpcErr = ex.Trigger(ctx, task.ID, "tick")
	require.NotNil(t, rpcErr)
	assert.Equal(t, -32004, rpcErr.Code)
}
