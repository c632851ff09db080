package processor

import (
	"github.com/openagents/a2a-engine/pkg/a2a"
)

// MatchFunc decides whether a processor accepts a send.  nil matches
// everything.
type MatchFunc func(params a2a.TaskSendParams, existing *a2a.Task) bool

// Config describes a function-backed processor.
type Config struct {
	// Skill is the processor name recorded under the reserved metadata key.
	Skill string
	// Match gates CanHandle; nil accepts every send.
	Match MatchFunc
	// Run is the producer body bound to each task.
	Run ProducerFunc
	// Resumable marks that parked handles accept follow-up input.
	Resumable bool
	// InternalTriggers marks that handles accept out-of-band inputs.
	InternalTriggers bool
}

// New builds a Processor from a Config.
func New(cfg Config) Processor {
	return &funcProcessor{cfg: cfg}
}

type funcProcessor struct {
	cfg Config
}

var (
	_ Processor              = (*funcProcessor)(nil)
	_ ResumeSupport          = (*funcProcessor)(nil)
	_ InternalTriggerSupport = (*funcProcessor)(nil)
)

func (proc *funcProcessor) Name() string {
	return proc.cfg.Skill
}

func (proc *funcProcessor) CanHandle(params a2a.TaskSendParams, existing *a2a.Task) bool {
	if proc.cfg.Match == nil {
		return true
	}
	return proc.cfg.Match(params, existing)
}

func (proc *funcProcessor) Process(pctx *Context, params a2a.TaskSendParams) (Handle, error) {
	return NewRunner(pctx, proc.cfg.Run), nil
}

func (proc *funcProcessor) SupportsResume() bool {
	return proc.cfg.Resumable
}

func (proc *funcProcessor) SupportsInternalTrigger() bool {
	return proc.cfg.InternalTriggers
}
