package processor

// A Processor is an incremental producer of task output.  The engine binds
// one ProducerHandle per task; the handle yields status and artifact signals
// until it completes, fails, or pauses for further client input.

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/openagents/a2a-engine/pkg/a2a"
)

// ErrCanceled is surfaced from Step when the handle was canceled.  Producers
// built on the Runner return the run context's error instead; both are
// recognized by IsCancellation.
var ErrCanceled = errors.New("processor canceled")

// IsCancellation reports whether a step error was caused by cancellation
// rather than a producer fault.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

// StepInput carries the optional value delivered to a step.  Message is set
// when the client answered an input-required pause; Internal is set for
// out-of-band triggers.  A zero StepInput (or nil pointer) is a plain
// continuation.
type StepInput struct {
	Message  *a2a.Message
	Internal any
}

// StatusSignal asks the engine to commit a state transition.  Message is
// required when State is input-required.
type StatusSignal struct {
	State   a2a.TaskState
	Message *a2a.Message
}

// ArtifactSignal asks the engine to store (and stream) artifact content.
// Index targets an artifact slot; nil means append a new artifact.  Append
// concatenates Parts onto the artifact already at Index.  LastChunk is an
// advisory hint forwarded to subscribers, never stored.
type ArtifactSignal struct {
	Name        *string
	Description *string
	Parts       []a2a.Part
	Metadata    map[string]any
	Index       *int
	Append      bool
	LastChunk   *bool
}

// Yield is what a single step produces.  Exactly one field is set.
type Yield struct {
	Status   *StatusSignal
	Artifact *ArtifactSignal
}

/*
Handle is the engine's grip on one running producer.  Step drives the
producer to its next yield; a (nil, nil) return means normal completion.
Cancel delivers cancellation into the producer, which surfaces it from a
subsequent Step.  Release frees any held resources and must be safe to call
more than once.
*/
type Handle interface {
	Step(ctx context.Context, input *StepInput) (*Yield, error)
	Cancel()
	Release()
}

/*
Context is the single mutable object a producer observes across steps.  The
engine refreshes the task snapshot immediately before each step, so the
producer can see its own just-committed history.  Canceling flips before
cancellation is delivered.
*/
type Context struct {
	mu        sync.RWMutex
	task      *a2a.Task
	canceling atomic.Bool
}

func NewContext(task *a2a.Task) *Context {
	return &Context{task: task}
}

// Task returns the most recent task snapshot.
func (pctx *Context) Task() *a2a.Task {
	pctx.mu.RLock()
	defer pctx.mu.RUnlock()
	return pctx.task
}

// SetTask replaces the snapshot.  Called by the engine, not by producers.
func (pctx *Context) SetTask(task *a2a.Task) {
	pctx.mu.Lock()
	pctx.task = task
	pctx.mu.Unlock()
}

// Canceling reports whether cancellation has been requested for the task.
func (pctx *Context) Canceling() bool {
	return pctx.canceling.Load()
}

// SetCanceling is called by the engine prior to delivering cancellation.
func (pctx *Context) SetCanceling(v bool) {
	pctx.canceling.Store(v)
}

/*
Processor is the pluggable unit of work.  Name is the skill identifier
recorded in task metadata; CanHandle decides whether this processor accepts
the given send; Process binds a fresh producer to the task.
*/
type Processor interface {
	Name() string
	CanHandle(params a2a.TaskSendParams, existing *a2a.Task) bool
	Process(pctx *Context, params a2a.TaskSendParams) (Handle, error)
}

// ResumeSupport is implemented by processors whose parked handles accept a
// follow-up message after an input-required pause.
type ResumeSupport interface {
	SupportsResume() bool
}

// InternalTriggerSupport is implemented by processors that accept
// out-of-band Internal inputs.
type InternalTriggerSupport interface {
	SupportsInternalTrigger() bool
}

// CanResume reports whether the processor advertised resume support.
func CanResume(proc Processor) bool {
	if rs, ok := proc.(ResumeSupport); ok {
		return rs.SupportsResume()
	}
	return false
}

// CanTrigger reports whether the processor accepts internal triggers.
func CanTrigger(proc Processor) bool {
	if ts, ok := proc.(InternalTriggerSupport); ok {
		return ts.SupportsInternalTrigger()
	}
	return false
}
