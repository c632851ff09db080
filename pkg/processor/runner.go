package processor

// The Runner adapts a plain producer function into a Handle.  The function
// runs on its own goroutine and talks to the engine over two channels: one
// for yields, one for inputs.  Cancellation travels through the run context,
// so a producer blocked on a yield, an input, or its own waiting observes it
// at its next suspension point.

import (
	"context"
	"sync"

	"github.com/openagents/a2a-engine/pkg/a2a"
)

// ProducerFunc is the body of a producer.  It yields through the Stream and
// returns nil on normal completion.  Returning the run context's error after
// cancellation is the expected unwind path.
type ProducerFunc func(ctx context.Context, pctx *Context, stream *Stream) error

// Stream is the producer-facing side of a Runner.
type Stream struct {
	ctx    context.Context
	yields chan<- Yield
	inputs <-chan StepInput
}

// Status yields a status signal and blocks until the engine collects it.
func (stream *Stream) Status(state a2a.TaskState, message *a2a.Message) error {
	return stream.yield(Yield{Status: &StatusSignal{State: state, Message: message}})
}

// Artifact yields an artifact signal and blocks until the engine collects it.
func (stream *Stream) Artifact(signal ArtifactSignal) error {
	return stream.yield(Yield{Artifact: &signal})
}

// Input blocks until the client answers an input-required pause (or an
// internal trigger arrives).  Producers call it right after yielding an
// input-required status.
func (stream *Stream) Input() (*StepInput, error) {
	select {
	case input := <-stream.inputs:
		return &input, nil
	case <-stream.ctx.Done():
		return nil, stream.ctx.Err()
	}
}

func (stream *Stream) yield(y Yield) error {
	select {
	case stream.yields <- y:
		return nil
	case <-stream.ctx.Done():
		return stream.ctx.Err()
	}
}

// Runner implements Handle on top of a ProducerFunc.
type Runner struct {
	cancel  context.CancelFunc
	yields  chan Yield
	inputs  chan StepInput
	done    chan error
	release sync.Once

	errOnce sync.Once
	err     error
}

var _ Handle = (*Runner)(nil)

// NewRunner starts fn on its own goroutine and returns the handle driving it.
func NewRunner(pctx *Context, fn ProducerFunc) *Runner {
	ctx, cancel := context.WithCancel(context.Background())

	runner := &Runner{
		cancel: cancel,
		yields: make(chan Yield),
		inputs: make(chan StepInput),
		done:   make(chan error, 1),
	}

	stream := &Stream{
		ctx:    ctx,
		yields: runner.yields,
		inputs: runner.inputs,
	}

	go func() {
		err := fn(ctx, pctx, stream)
		// Close yields first so a concurrent Step observes completion, then
		// publish the result.
		close(runner.yields)
		runner.done <- err
	}()

	return runner
}

// Step delivers the optional input and blocks until the producer's next
// yield, completion, or error.
func (runner *Runner) Step(ctx context.Context, input *StepInput) (*Yield, error) {
	if input != nil {
		select {
		case runner.inputs <- *input:
		case y, ok := <-runner.yields:
			// Producer raced ahead (or already finished) without consuming
			// the input; surface whatever it produced.
			if !ok {
				return nil, runner.result()
			}
			return &y, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	select {
	case y, ok := <-runner.yields:
		if !ok {
			return nil, runner.result()
		}
		return &y, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel injects cancellation into the producer.  A producer blocked at any
// suspension point unwinds with the run context's error.
func (runner *Runner) Cancel() {
	runner.cancel()
}

// Release cancels the run context so the producer goroutine can exit even if
// it never observed a cancel.  Safe to call repeatedly.
func (runner *Runner) Release() {
	runner.release.Do(runner.cancel)
}

func (runner *Runner) result() error {
	runner.errOnce.Do(func() {
		runner.err = <-runner.done
	})
	return runner.err
}
