package hooking

// Hook positions for task-level tracing.
var (
	HookPosTaskStart = &HookPos{Name: "TaskStart"}
	HookPosTaskStep  = &HookPos{Name: "TaskStep"}
	HookPosTaskEnd   = &HookPos{Name: "TaskEnd"}
)

// TaskStart is the hook item sent when a task begins. In the memory system
// a task is one access or one coherence request handled by a module.
type TaskStart struct {
	ID       string
	ParentID string
	Kind     string
	What     string
	Where    string
	Addr     uint64
}

// TaskStep is the hook item sent when a task moves to a new state.
type TaskStep struct {
	TaskID string
	Kind   string
	What   string
	Detail string
}

// TaskEnd is the hook item sent when a task finishes.
type TaskEnd struct {
	ID string
}

// Step is a recorded TaskStep.
type Step struct {
	Time   float64 `json:"time"`
	Kind   string  `json:"kind"`
	What   string  `json:"what"`
	Detail string  `json:"detail"`
}

// Task is a completed (or terminated) task as handed to a TracerBackend.
type Task struct {
	ID        string  `json:"id"`
	ParentID  string  `json:"parent_id"`
	Kind      string  `json:"kind"`
	What      string  `json:"what"`
	Where     string  `json:"where"`
	Addr      uint64  `json:"addr"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Steps     []Step  `json:"steps"`
}

// TaskFilter selects the tasks a tracer keeps. Returning true keeps the task.
type TaskFilter func(t TaskStart) bool

// TimeTeller tells the current simulated time. It mirrors timing.TimeTeller
// so that this package does not import timing.
type TimeTeller interface {
	Now() float64
}
