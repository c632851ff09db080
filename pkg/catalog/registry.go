package catalog

import (
	"sync"

	"github.com/charmbracelet/log"
	"github.com/openagents/a2a-engine/pkg/a2a"
	"github.com/openagents/a2a-engine/pkg/processor"
)

/*
Registry holds the processors a server can bind tasks to.  Resolution for a
fresh send walks the processors in registration order and picks the first
whose CanHandle accepts the params; resolution for an existing task goes by
the skill name recorded in the task's metadata.
*/
type Registry struct {
	mu         sync.RWMutex
	order      []string
	processors map[string]processor.Processor
}

func NewRegistry() *Registry {
	return &Registry{
		processors: make(map[string]processor.Processor),
	}
}

// Register adds a processor under its skill name.  Re-registering a name
// replaces the previous entry and keeps its position.
func (registry *Registry) Register(proc processor.Processor) {
	log.Info("registering processor", "skill", proc.Name())

	registry.mu.Lock()
	defer registry.mu.Unlock()

	if _, ok := registry.processors[proc.Name()]; !ok {
		registry.order = append(registry.order, proc.Name())
	}

	registry.processors[proc.Name()] = proc
}

// Get returns the processor registered under the given skill name.
func (registry *Registry) Get(skill string) (processor.Processor, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	proc, ok := registry.processors[skill]
	return proc, ok
}

// Resolve picks the first registered processor accepting the send.
func (registry *Registry) Resolve(params a2a.TaskSendParams, existing *a2a.Task) (processor.Processor, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	for _, skill := range registry.order {
		proc := registry.processors[skill]
		if proc.CanHandle(params, existing) {
			return proc, true
		}
	}

	return nil, false
}

// Skills lists the registered skill names in registration order.
func (registry *Registry) Skills() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	return append([]string(nil), registry.order...)
}
