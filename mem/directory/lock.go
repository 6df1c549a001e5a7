package directory

import (
	"fmt"

	"github.com/sarchlab/memsim/sim/esim"
)

func (d *Directory) lock(set, way int) *Lock {
	if set < 0 || set >= d.cfg.NumSets || way < 0 || way >= d.cfg.NumWays {
		panic(fmt.Sprintf("directory %s: lock (%d, %d) out of range",
			d.name, set, way))
	}

	return &d.locks[set*d.cfg.NumWays+way]
}

// LockEntry grants the (set, way) lock to frame and returns true if the
// lock is free. Otherwise frame joins the lock's wait queue, to be resumed
// at resumeEvt when the lock is released, and false is returned. The caller
// must release any port it holds before suspending.
func (d *Directory) LockEntry(
	set, way int,
	resumeEvt *esim.EventType,
	frame esim.Frame,
) bool {
	l := d.lock(set, way)

	if l.holder == frame {
		panic(fmt.Sprintf("directory %s: lock (%d, %d) taken twice by the "+
			"same frame", d.name, set, way))
	}

	if l.holder != nil {
		d.numConflicts++
		l.queue = append(l.queue, waiter{evt: resumeEvt, frame: frame})

		return false
	}

	l.holder = frame

	return true
}

// TryLockEntry grants the lock if it is free and never queues.
func (d *Directory) TryLockEntry(set, way int, frame esim.Frame) bool {
	l := d.lock(set, way)

	if l.holder != nil {
		d.numConflicts++
		return false
	}

	l.holder = frame

	return true
}

// UnlockEntry releases the (set, way) lock and resumes every queued frame,
// oldest first. The first of them to run takes the lock; the others queue
// again in the same order.
func (d *Directory) UnlockEntry(set, way int) {
	l := d.lock(set, way)

	if l.holder == nil {
		panic(fmt.Sprintf("directory %s: unlocking free lock (%d, %d)",
			d.name, set, way))
	}

	l.holder = nil

	queue := l.queue
	l.queue = nil

	for _, w := range queue {
		d.engine.Schedule(w.evt, w.frame, 0)
	}
}

// LockHolder returns the frame holding the (set, way) lock, or nil.
func (d *Directory) LockHolder(set, way int) esim.Frame {
	return d.lock(set, way).holder
}

// IsLocked reports whether the (set, way) lock is held.
func (d *Directory) IsLocked(set, way int) bool {
	return d.lock(set, way).holder != nil
}

// NumWaiting returns the number of frames queued on the (set, way) lock.
func (d *Directory) NumWaiting(set, way int) int {
	return len(d.lock(set, way).queue)
}
