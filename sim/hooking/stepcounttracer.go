package hooking

import (
	"sort"
	"sync"
)

// StepCountTracer counts how many times each step name is reached by the
// tasks that pass its filter.
type StepCountTracer struct {
	filter TaskFilter
	lock   sync.Mutex

	tracked map[string]bool
	count   map[string]uint64
}

// NewStepCountTracer creates a StepCountTracer. A nil filter accepts all
// tasks.
func NewStepCountTracer(filter TaskFilter) *StepCountTracer {
	return &StepCountTracer{
		filter:  filter,
		tracked: make(map[string]bool),
		count:   make(map[string]uint64),
	}
}

// Func consumes the task hooks.
func (t *StepCountTracer) Func(ctx HookCtx) {
	t.lock.Lock()
	defer t.lock.Unlock()

	switch ctx.Pos {
	case HookPosTaskStart:
		ts := ctx.Item.(TaskStart)
		if t.filter == nil || t.filter(ts) {
			t.tracked[ts.ID] = true
		}
	case HookPosTaskStep:
		ts := ctx.Item.(TaskStep)
		if t.tracked[ts.TaskID] {
			t.count[ts.What]++
		}
	case HookPosTaskEnd:
		delete(t.tracked, ctx.Item.(TaskEnd).ID)
	}
}

// StepNames returns the names of the steps seen so far, sorted.
func (t *StepCountTracer) StepNames() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	names := make([]string, 0, len(t.count))
	for name := range t.count {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// StepCount returns how many times the named step was reached.
func (t *StepCountTracer) StepCount(name string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.count[name]
}
