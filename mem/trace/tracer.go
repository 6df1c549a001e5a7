// Package trace records what the memory system does.
//
// Modules report accesses and coherence requests as tasks through the
// hooking package. A Backend stores finished tasks into a data recorder; a
// DebugTracer prints every task event and network message through logrus.
package trace

import (
	"github.com/sarchlab/memsim/datarecording"
	"github.com/sarchlab/memsim/sim/hooking"
)

// Table names.
const (
	TaskTable = "mem_tasks"
	StepTable = "mem_steps"
	MsgTable  = "net_msgs"
)

// TaskEntry is a row of TaskTable.
type TaskEntry struct {
	ID        string
	ParentID  string
	Kind      string
	What      string
	Location  string
	Address   uint64
	StartTime float64
	EndTime   float64
}

// StepEntry is a row of StepTable.
type StepEntry struct {
	TaskID string
	Time   float64
	Kind   string
	What   string
	Detail string
}

// Backend is a hooking.TracerBackend that writes into a data recorder.
type Backend struct {
	recorder datarecording.DataRecorder
}

// NewBackend creates the task tables in recorder.
func NewBackend(recorder datarecording.DataRecorder) *Backend {
	recorder.CreateTable(TaskTable, TaskEntry{})
	recorder.CreateTable(StepTable, StepEntry{})

	return &Backend{recorder: recorder}
}

// Write stores a task and its steps.
func (b *Backend) Write(t hooking.Task) {
	b.recorder.InsertData(TaskTable, TaskEntry{
		ID:        t.ID,
		ParentID:  t.ParentID,
		Kind:      t.Kind,
		What:      t.What,
		Location:  t.Where,
		Address:   t.Addr,
		StartTime: t.StartTime,
		EndTime:   t.EndTime,
	})

	for _, s := range t.Steps {
		b.recorder.InsertData(StepTable, StepEntry{
			TaskID: t.ID,
			Time:   s.Time,
			Kind:   s.Kind,
			What:   s.What,
			Detail: s.Detail,
		})
	}
}

// Flush flushes the recorder.
func (b *Backend) Flush() {
	b.recorder.Flush()
}

// NewDBTracer creates a tracer that stores memory tasks into recorder.
// Attach it to the modules to trace.
func NewDBTracer(
	timeTeller hooking.TimeTeller,
	recorder datarecording.DataRecorder,
) *hooking.DBTracer {
	return hooking.NewDBTracer(timeTeller, NewBackend(recorder))
}
