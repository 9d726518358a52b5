package shutdown

import (
	"sync"

	"github.com/vinayprograms/winsys-mcp/errors"
)

// NamedHook is a registered hook with its identity.
type NamedHook struct {
	Name  string
	Phase Phase
	Fn    Hook
}

// HookRegistry stores shutdown hooks per phase in registration order.
// Names are unique within a phase; phases are independent namespaces.
type HookRegistry struct {
	mu     sync.RWMutex
	phases map[Phase]*ordered[Hook]
}

// NewHookRegistry creates an empty registry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{
		phases: make(map[Phase]*ordered[Hook]),
	}
}

// Register adds fn under name in phase.
// Returns ErrDuplicateHook if name is already registered in that phase.
func (r *HookRegistry) Register(phase Phase, name string, fn Hook) error {
	if name == "" {
		return errors.InvalidInput("hook name is required")
	}
	if fn == nil {
		return errors.InvalidInput("hook function is required", errors.WithComponent(name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list, ok := r.phases[phase]
	if !ok {
		list = &ordered[Hook]{}
		r.phases[phase] = list
	}
	if !list.add(name, fn) {
		return errors.Wrap(ErrDuplicateHook, phase.String()+" hook "+name,
			errors.WithComponent(name))
	}
	return nil
}

// RegisterPre adds a hook that runs before connections are closed.
func (r *HookRegistry) RegisterPre(name string, fn Hook) error {
	return r.Register(PhasePre, name, fn)
}

// RegisterTransport adds the shutdown hook for the named transport.
func (r *HookRegistry) RegisterTransport(name string, fn Hook) error {
	return r.Register(PhaseTransport, name, fn)
}

// RegisterPost adds a hook that runs last.
func (r *HookRegistry) RegisterPost(name string, fn Hook) error {
	return r.Register(PhasePost, name, fn)
}

// Each returns the hooks of phase in registration order.
// The returned slice is a copy.
func (r *HookRegistry) Each(phase Phase) []NamedHook {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list, ok := r.phases[phase]
	if !ok {
		return nil
	}
	out := make([]NamedHook, 0, list.len())
	list.each(func(name string, fn Hook) {
		out = append(out, NamedHook{Name: name, Phase: phase, Fn: fn})
	})
	return out
}

// Len returns the number of hooks registered in phase.
func (r *HookRegistry) Len(phase Phase) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if list, ok := r.phases[phase]; ok {
		return list.len()
	}
	return 0
}

// ordered is an insertion-ordered set of named values. Not safe for
// concurrent use; callers hold their own lock.
type ordered[T any] struct {
	names  []string
	values map[string]T
}

func (o *ordered[T]) add(name string, v T) bool {
	if o.values == nil {
		o.values = make(map[string]T)
	}
	if _, exists := o.values[name]; exists {
		return false
	}
	o.names = append(o.names, name)
	o.values[name] = v
	return true
}

func (o *ordered[T]) each(fn func(name string, v T)) {
	for _, name := range o.names {
		fn(name, o.values[name])
	}
}

func (o *ordered[T]) len() int {
	return len(o.names)
}
