package monitoring

import (
	"sync"
	"time"

	"github.com/sarchlab/memsim/sim/hooking"
)

// A ProgressBar tracks how many items of a job are done.
type ProgressBar struct {
	sync.Mutex
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StartTime  time.Time `json:"start_time"`
	Total      uint64    `json:"total"`
	Finished   uint64    `json:"finished"`
	InProgress uint64    `json:"in_progress"`
}

// IncrementInProgress adds to the number of items in progress.
func (b *ProgressBar) IncrementInProgress(amount uint64) {
	b.Lock()
	defer b.Unlock()

	b.InProgress += amount
}

// IncrementFinished adds to the number of finished items.
func (b *ProgressBar) IncrementFinished(amount uint64) {
	b.Lock()
	defer b.Unlock()

	b.Finished += amount
}

// MoveInProgressToFinished marks amount items in progress as finished.
func (b *ProgressBar) MoveInProgressToFinished(amount uint64) {
	b.Lock()
	defer b.Unlock()

	b.InProgress -= amount
	b.Finished += amount
}

// ProgressHook advances a progress bar as client accesses start and end.
// Attach it to the modules clients access. Requests a module sends to other
// modules have a parent task and are not counted.
type ProgressHook struct {
	bar     *ProgressBar
	tracked map[string]bool
}

// NewProgressHook creates a hook that drives bar.
func NewProgressHook(bar *ProgressBar) *ProgressHook {
	return &ProgressHook{bar: bar, tracked: make(map[string]bool)}
}

// Func implements hooking.Hook.
func (h *ProgressHook) Func(ctx hooking.HookCtx) {
	switch ctx.Pos {
	case hooking.HookPosTaskStart:
		ts := ctx.Item.(hooking.TaskStart)
		if ts.ParentID == "" {
			h.tracked[ts.ID] = true
			h.bar.IncrementInProgress(1)
		}
	case hooking.HookPosTaskEnd:
		te := ctx.Item.(hooking.TaskEnd)
		if h.tracked[te.ID] {
			delete(h.tracked, te.ID)
			h.bar.MoveInProgressToFinished(1)
		}
	}
}
