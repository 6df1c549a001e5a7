package module

import (
	"strconv"

	"github.com/sarchlab/memsim/sim/hooking"
)

// TaskID returns the trace task ID of a frame.
func TaskID(f *Frame) string {
	return strconv.FormatUint(f.ID, 10)
}

// TraceStart announces a new access or request to the module's hooks.
func (m *Module) TraceStart(f *Frame, kind, what string) {
	if m.NumHooks() == 0 {
		return
	}

	parentID := ""
	if ret := f.Ret(); ret != nil {
		parentID = TaskID(ret)
	}

	m.InvokeHook(hooking.HookCtx{
		Domain: m,
		Pos:    hooking.HookPosTaskStart,
		Item: hooking.TaskStart{
			ID:       TaskID(f),
			ParentID: parentID,
			Kind:     kind,
			What:     what,
			Where:    m.Name,
			Addr:     f.Addr,
		},
	})
}

// TraceStep announces that a frame entered a protocol state.
func (m *Module) TraceStep(f *Frame, state, detail string) {
	if m.NumHooks() == 0 {
		return
	}

	m.InvokeHook(hooking.HookCtx{
		Domain: m,
		Pos:    hooking.HookPosTaskStep,
		Item: hooking.TaskStep{
			TaskID: TaskID(f),
			Kind:   "state",
			What:   state,
			Detail: detail,
		},
	})
}

// TraceEnd announces that a frame finished.
func (m *Module) TraceEnd(f *Frame) {
	if m.NumHooks() == 0 {
		return
	}

	m.InvokeHook(hooking.HookCtx{
		Domain: m,
		Pos:    hooking.HookPosTaskEnd,
		Item:   hooking.TaskEnd{ID: TaskID(f)},
	})
}
