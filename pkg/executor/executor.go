package executor

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/openagents/a2a-engine/pkg/a2a"
	"github.com/openagents/a2a-engine/pkg/catalog"
	"github.com/openagents/a2a-engine/pkg/errors"
	"github.com/openagents/a2a-engine/pkg/processor"
	"github.com/openagents/a2a-engine/pkg/stores"
)

// defaultMaxHistory caps how much history a read may attach regardless of
// what the client asked for.
const defaultMaxHistory = 100

// Sink receives every committed event for a task.  The SSE fanout and the
// push notification service both implement it.
type Sink interface {
	Notify(taskID string, event any)
}

/*
TaskExecutor owns the lifecycle of every active task: it binds producers to
tasks, drives their step loops, commits each yield to the store, and fans the
resulting events out to the sinks.

Per task, all committed work is serialized by the record's mutex; the step
call itself runs outside the lock so a cancel can always get in.  Tasks
proceed in parallel with one another.
*/
type TaskExecutor struct {
	store      stores.TaskStore
	registry   *catalog.Registry
	sinks      []Sink
	maxHistory int

	mu      sync.Mutex
	records map[string]*record
}

// record is the in-memory grip on one active task.
type record struct {
	taskID string
	proc   processor.Processor
	handle processor.Handle
	pctx   *processor.Context

	// serializer guards everything below and orders all commits for the
	// task.  Steps run outside it.
	serializer sync.Mutex
	running    bool
	canceling  bool
	released   bool
}

// Config wires a TaskExecutor.  MaxHistory of zero means the default cap.
type Config struct {
	Store      stores.TaskStore
	Registry   *catalog.Registry
	Sinks      []Sink
	MaxHistory int
}

func New(cfg Config) *TaskExecutor {
	maxHistory := cfg.MaxHistory

	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}

	return &TaskExecutor{
		store:      cfg.Store,
		registry:   cfg.Registry,
		sinks:      cfg.Sinks,
		maxHistory: maxHistory,
		records:    make(map[string]*record),
	}
}

/*
Send initiates a new task or resumes one parked at input-required.  It
returns after the initial status commit without waiting for the producer;
the returned snapshot carries history trimmed to the requested length.
*/
func (ex *TaskExecutor) Send(ctx context.Context, params a2a.TaskSendParams) (*a2a.Task, *errors.RpcError) {
	if params.ID == "" {
		return ex.initiate(ctx, params)
	}

	task, rpcErr := ex.store.Get(ctx, params.ID)

	if rpcErr != nil {
		return nil, rpcErr
	}

	if task == nil {
		return ex.initiate(ctx, params)
	}

	if task.Status.State.Terminal() {
		return nil, errors.ErrInvalidRequest.WithMessagef(
			"task %s is already %s; use tasks/resubscribe or start a new task",
			task.ID, task.Status.State,
		)
	}

	return ex.resume(ctx, task, params)
}

func (ex *TaskExecutor) initiate(ctx context.Context, params a2a.TaskSendParams) (*a2a.Task, *errors.RpcError) {
	proc, ok := ex.registry.Resolve(params, nil)

	if !ok {
		return nil, errors.ErrMethodNotFound.WithMessagef(
			"no processor accepts this message",
		)
	}

	metadata := make(map[string]any, len(params.Metadata)+1)

	for key, value := range params.Metadata {
		metadata[key] = value
	}

	metadata[a2a.SkillKey] = proc.Name()

	task, created, rpcErr := ex.store.CreateOrGet(ctx, params.ID, params.SessionID, metadata)

	if rpcErr != nil {
		return nil, rpcErr
	}

	if !created {
		// Another send won the creation race for this id; defer to the
		// task it set up rather than binding a second producer.
		if task.Status.State.Terminal() {
			return nil, errors.ErrInvalidRequest.WithMessagef(
				"task %s is already %s; use tasks/resubscribe or start a new task",
				task.ID, task.Status.State,
			)
		}
		return ex.resume(ctx, task, params)
	}

	log.Info("initiating task", "taskID", task.ID, "skill", proc.Name())

	ex.store.AppendHistory(ctx, task.ID, params.Message)
	ex.commitStatus(ctx, task.ID, a2a.TaskStateWorking, nil)

	snapshot, rpcErr := ex.snapshotWithHistory(ctx, task.ID)

	if rpcErr != nil {
		return nil, rpcErr
	}

	pctx := processor.NewContext(snapshot)
	handle, err := proc.Process(pctx, params)

	if err != nil {
		ex.commitStatus(ctx, task.ID, a2a.TaskStateFailed,
			agentMessage(err.Error()))
		return nil, errors.ErrProcessor.WithMessagef(
			"processor %s rejected the task: %v", proc.Name(), err,
		)
	}

	rec := &record{
		taskID: task.ID,
		proc:   proc,
		handle: handle,
		pctx:   pctx,
	}

	ex.mu.Lock()
	if _, exists := ex.records[task.ID]; exists {
		ex.mu.Unlock()
		handle.Release()
		return nil, errors.ErrInvalidRequest.WithMessagef(
			"task %s already has an active producer", task.ID,
		)
	}
	ex.records[task.ID] = rec
	ex.mu.Unlock()

	ex.schedule(rec, nil)

	return ex.read(ctx, task.ID, params.HistoryLength)
}

func (ex *TaskExecutor) resume(ctx context.Context, task *a2a.Task, params a2a.TaskSendParams) (*a2a.Task, *errors.RpcError) {
	skill := task.Skill()

	if skill == "" {
		return nil, errors.ErrInternal.WithMessagef(
			"task %s has no processor recorded", task.ID,
		)
	}

	proc, ok := ex.registry.Get(skill)

	if !ok {
		return nil, errors.ErrInvalidRequest.WithMessagef(
			"processor %s for task %s is not registered", skill, task.ID,
		)
	}

	if !processor.CanResume(proc) {
		return nil, errors.ErrInvalidRequest.WithMessagef(
			"processor %s does not support resuming", skill,
		)
	}

	rec := ex.record(task.ID)

	if rec == nil {
		// Non-terminal task with no live handle: the server restarted
		// under it.  Durable resume is out of scope.
		return nil, errors.ErrInternal.WithMessagef(
			"task %s cannot be resumed", task.ID,
		)
	}

	rec.serializer.Lock()
	defer rec.serializer.Unlock()

	if rec.canceling {
		return nil, errors.ErrInvalidRequest.WithMessagef(
			"task %s is being canceled", task.ID,
		)
	}

	if rec.running || task.Status.State != a2a.TaskStateInputReq {
		return nil, errors.ErrInvalidRequest.WithMessagef(
			"task %s is not awaiting input", task.ID,
		)
	}

	log.Info("resuming task", "taskID", task.ID, "skill", skill)

	ex.store.AppendHistory(ctx, task.ID, params.Message)
	ex.commitStatus(ctx, task.ID, a2a.TaskStateWorking, nil)

	message := params.Message
	ex.schedule(rec, &processor.StepInput{Message: &message})

	return ex.read(ctx, task.ID, params.HistoryLength)
}

/*
Trigger delivers an out-of-band input to a parked task.  The producer must
have advertised internal trigger support; the task transitions back to
working before the step runs.
*/
func (ex *TaskExecutor) Trigger(ctx context.Context, taskID string, payload any) (*a2a.Task, *errors.RpcError) {
	task, rpcErr := ex.store.Get(ctx, taskID)

	if rpcErr != nil {
		return nil, rpcErr
	}

	if task == nil {
		return nil, errors.ErrTaskNotFound
	}

	if task.Status.State.Terminal() {
		return nil, errors.ErrInvalidRequest.WithMessagef(
			"task %s is already %s", task.ID, task.Status.State,
		)
	}

	rec := ex.record(taskID)

	if rec == nil {
		return nil, errors.ErrInternal.WithMessagef(
			"task %s cannot be resumed", taskID,
		)
	}

	if !processor.CanTrigger(rec.proc) {
		return nil, errors.ErrUnsupportedOperation.WithMessagef(
			"processor %s does not accept internal triggers", rec.proc.Name(),
		)
	}

	rec.serializer.Lock()
	defer rec.serializer.Unlock()

	if rec.canceling || rec.running {
		return nil, errors.ErrInvalidRequest.WithMessagef(
			"task %s is not awaiting input", taskID,
		)
	}

	ex.commitStatus(ctx, taskID, a2a.TaskStateWorking, nil)
	ex.schedule(rec, &processor.StepInput{Internal: payload})

	return ex.read(ctx, taskID, nil)
}

/*
Cancel transitions the task to canceled.  A parked or unscheduled task is
canceled on the spot; an in-flight step has cancellation injected and its
late commit is discarded.  Cancel of an already-terminal task returns the
snapshot unchanged.
*/
func (ex *TaskExecutor) Cancel(ctx context.Context, params a2a.TaskIDParams) (*a2a.Task, *errors.RpcError) {
	task, rpcErr := ex.store.Get(ctx, params.ID)

	if rpcErr != nil {
		return nil, rpcErr
	}

	if task == nil {
		return nil, errors.ErrTaskNotFound
	}

	if task.Status.State.Terminal() {
		return task, nil
	}

	rec := ex.record(params.ID)

	if rec == nil {
		// No live handle; just commit the terminal state.
		ex.commitStatus(ctx, params.ID, a2a.TaskStateCanceled, params.Message)
		return ex.read(ctx, params.ID, nil)
	}

	rec.serializer.Lock()
	defer rec.serializer.Unlock()

	if rec.canceling {
		return ex.read(ctx, params.ID, nil)
	}

	rec.canceling = true
	rec.pctx.SetCanceling(true)

	if rec.running {
		// The in-flight step unwinds with a cancellation error and finds
		// the terminal state on its re-read.
		rec.handle.Cancel()
	}

	log.Info("canceling task", "taskID", params.ID)
	ex.commitStatus(ctx, params.ID, a2a.TaskStateCanceled, params.Message)

	if !rec.running {
		ex.teardownLocked(rec)
	}

	return ex.read(ctx, params.ID, nil)
}

// Get returns a task snapshot with history trimmed to the requested length.
func (ex *TaskExecutor) Get(ctx context.Context, params a2a.TaskQueryParams) (*a2a.Task, *errors.RpcError) {
	task, rpcErr := ex.read(ctx, params.ID, params.HistoryLength)

	if rpcErr != nil {
		return nil, rpcErr
	}

	if task == nil {
		return nil, errors.ErrTaskNotFound
	}

	return task, nil
}

// SetPushConfig stores the push target for a task.
func (ex *TaskExecutor) SetPushConfig(ctx context.Context, config a2a.TaskPushNotificationConfig) *errors.RpcError {
	return ex.store.SetPushConfig(ctx, config.ID, &config.PushNotificationConfig)
}

// GetPushConfig returns the stored push target for a task.
func (ex *TaskExecutor) GetPushConfig(ctx context.Context, taskID string) (*a2a.PushNotificationConfig, *errors.RpcError) {
	return ex.store.GetPushConfig(ctx, taskID)
}

// record returns the live record for a task, or nil.
func (ex *TaskExecutor) record(taskID string) *record {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.records[taskID]
}

// read loads a task and attaches up to the requested amount of history.  A
// nil or non-positive historyLength omits history entirely.
func (ex *TaskExecutor) read(ctx context.Context, taskID string, historyLength *int) (*a2a.Task, *errors.RpcError) {
	task, rpcErr := ex.store.Get(ctx, taskID)

	if rpcErr != nil || task == nil {
		return nil, rpcErr
	}

	limit := 0

	if historyLength != nil {
		limit = *historyLength
	}

	if limit > ex.maxHistory {
		limit = ex.maxHistory
	}

	if limit > 0 {
		history, rpcErr := ex.store.GetHistory(ctx, taskID, limit)

		if rpcErr != nil {
			return nil, rpcErr
		}

		task.History = history
	}

	return task, nil
}

// snapshotWithHistory loads a task with its full (capped) history attached,
// for the producer's context.
func (ex *TaskExecutor) snapshotWithHistory(ctx context.Context, taskID string) (*a2a.Task, *errors.RpcError) {
	limit := ex.maxHistory
	return ex.read(ctx, taskID, &limit)
}

func agentMessage(text string) *a2a.Message {
	return a2a.NewTextMessage(a2a.RoleAgent, text)
}
