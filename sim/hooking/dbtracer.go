package hooking

import (
	"github.com/tebeka/atexit"
)

// TracerBackend stores finished tasks.
type TracerBackend interface {
	// Write stores one task.
	Write(t Task)

	// Flush persists buffered tasks.
	Flush()
}

// DBTracer collects task hooks into Task records and hands every finished
// task to a TracerBackend.
type DBTracer struct {
	timeTeller         TimeTeller
	backend            TracerBackend
	filter             TaskFilter
	startTime, endTime float64
	tracingTasks       map[string]Task
}

// NewDBTracer creates a DBTracer. Tasks still open when the program exits
// are written with the exit time as their end time.
func NewDBTracer(
	timeTeller TimeTeller,
	backend TracerBackend,
) *DBTracer {
	t := &DBTracer{
		timeTeller:   timeTeller,
		backend:      backend,
		tracingTasks: make(map[string]Task),
	}

	atexit.Register(func() { t.Terminate() })

	return t
}

// SetTimeRange limits tracing to tasks that overlap [startTime, endTime].
// A zero bound is open.
func (t *DBTracer) SetTimeRange(startTime, endTime float64) {
	t.startTime = startTime
	t.endTime = endTime
}

// SetFilter keeps only the tasks that the filter accepts.
func (t *DBTracer) SetFilter(filter TaskFilter) {
	t.filter = filter
}

// NumTracingTasks returns the number of started but unfinished tasks.
func (t *DBTracer) NumTracingTasks() int {
	return len(t.tracingTasks)
}

// Func dispatches the task hooks.
func (t *DBTracer) Func(ctx HookCtx) {
	switch ctx.Pos {
	case HookPosTaskStart:
		t.StartTask(ctx.Item.(TaskStart))
	case HookPosTaskStep:
		t.StepTask(ctx.Item.(TaskStep))
	case HookPosTaskEnd:
		t.EndTask(ctx.Item.(TaskEnd))
	}
}

// StartTask opens a task.
func (t *DBTracer) StartTask(ts TaskStart) {
	taskStartMustBeValid(ts)

	if t.filter != nil && !t.filter(ts) {
		return
	}

	now := t.timeTeller.Now()
	if t.endTime > 0 && now > t.endTime {
		return
	}

	t.tracingTasks[ts.ID] = Task{
		ID:        ts.ID,
		ParentID:  ts.ParentID,
		Kind:      ts.Kind,
		What:      ts.What,
		Where:     ts.Where,
		Addr:      ts.Addr,
		StartTime: now,
	}
}

func taskStartMustBeValid(ts TaskStart) {
	switch {
	case ts.ID == "":
		panic("task ID must be set")
	case ts.Kind == "":
		panic("task kind must be set")
	case ts.What == "":
		panic("task what must be set")
	case ts.Where == "":
		panic("task where must be set")
	}
}

// StepTask appends a step to an open task.
func (t *DBTracer) StepTask(ts TaskStep) {
	task, ok := t.tracingTasks[ts.TaskID]
	if !ok {
		return
	}

	task.Steps = append(task.Steps, Step{
		Time:   t.timeTeller.Now(),
		Kind:   ts.Kind,
		What:   ts.What,
		Detail: ts.Detail,
	})

	t.tracingTasks[ts.TaskID] = task
}

// EndTask closes a task and writes it to the backend.
func (t *DBTracer) EndTask(te TaskEnd) {
	task, ok := t.tracingTasks[te.ID]
	if !ok {
		return
	}

	delete(t.tracingTasks, te.ID)

	now := t.timeTeller.Now()
	if t.startTime > 0 && now < t.startTime {
		return
	}

	task.EndTime = now
	t.backend.Write(task)
}

// Terminate writes every open task and flushes the backend.
func (t *DBTracer) Terminate() {
	now := t.timeTeller.Now()

	for _, task := range t.tracingTasks {
		task.EndTime = now
		t.backend.Write(task)
	}

	t.tracingTasks = make(map[string]Task)

	t.backend.Flush()
}
