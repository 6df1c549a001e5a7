package protocol

import (
	"fmt"

	"github.com/sarchlab/memsim/mem/cache"
	"github.com/sarchlab/memsim/mem/module"
)

func (e *Engine) registerFindAndLock() {
	e.evFindAndLock = e.register("find_and_lock", e.findAndLock)
	e.evFindAndLockPort = e.register("find_and_lock_port", e.findAndLockPort)
	e.evFindAndLockAction = e.register("find_and_lock_action",
		e.findAndLockAction)
	e.evFindAndLockFinish = e.register("find_and_lock_finish",
		e.findAndLockFinish)
}

// findAndLock looks up f.Addr in f.Module and locks the directory entry of
// the line that holds it, evicting a victim on a miss. The results are
// returned in the caller's Set, Way, Tag, and State. A blocking lookup that
// finds the entry locked returns with Err set instead of waiting.
func (e *Engine) findAndLock(f *module.Frame) {
	ret := f.Ret()
	ret.Err = false
	ret.BlockNotFound = false

	f.Module.LockPort(f, e.evFindAndLockPort)
}

func (e *Engine) findAndLockPort(f *module.Frame) {
	mod := f.Module
	ret := f.Ret()

	ret.PortLocked = true

	f.Set, f.Way, f.Tag, f.State, f.Hit = mod.FindBlock(f.Addr)
	mod.Stats.RecordLookup(lookupKind(f), f.Hit, f.Retry)

	if !f.Hit {
		if f.RequestDir == module.DownUp || f.Message != module.MessageNone {
			mod.Stats.BlockNotFound++
			ret.BlockNotFound = true
			mod.UnlockPort(f.Port, f)
			e.sim.Return(f)

			return
		}

		f.Way = mod.Cache.ReplaceBlock(f.Set)
		_, f.State = mod.Cache.GetBlock(f.Set, f.Way)
	}

	if f.Blocking {
		if !mod.Dir.TryLockEntry(f.Set, f.Way, f) {
			mod.Stats.DirectoryConflicts++
			ret.Err = true
			mod.UnlockPort(f.Port, f)
			e.sim.Return(f)

			return
		}
	} else if !mod.Dir.LockEntry(f.Set, f.Way, e.evFindAndLock, f) {
		mod.Stats.DirectoryConflicts++
		mod.UnlockPort(f.Port, f)

		return
	}

	mod.Cache.SetTransientTag(f.Set, f.Way, f.Tag)
	mod.Cache.AccessBlock(f.Set, f.Way)
	e.sim.Schedule(e.evFindAndLockAction, f, mod.DirectoryLatency)
}

func lookupKind(f *module.Frame) module.AccessKind {
	if kind := f.Ret().AccessKind; kind != module.AccessNone {
		return kind
	}

	if f.Read {
		return module.Load
	}

	return module.Store
}

func (e *Engine) findAndLockAction(f *module.Frame) {
	mod := f.Module

	mod.UnlockPort(f.Port, f)

	if !f.Hit && f.State.IsValid() {
		f.Eviction = true

		c := e.child(f, mod, 0)
		c.Set, c.Way = f.Set, f.Way
		e.sim.Call(e.evEvict, c, e.evFindAndLockFinish)

		return
	}

	e.sim.Schedule(e.evFindAndLockFinish, f, 0)
}

func (e *Engine) findAndLockFinish(f *module.Frame) {
	mod := f.Module
	ret := f.Ret()

	if f.Err {
		e.unlock(f)
		ret.Err = true
		e.sim.Return(f)

		return
	}

	if f.Eviction {
		mod.Stats.Evictions++

		_, f.State = mod.Cache.GetBlock(f.Set, f.Way)
		if f.State != cache.Invalid {
			panic(fmt.Sprintf("%s: victim (%d, %d) still %s after eviction",
				mod.Name, f.Set, f.Way, f.State))
		}
	}

	// A main memory always holds the data; a miss is a directory miss.
	if mod.Kind == module.KindMainMemory && f.State == cache.Invalid {
		f.State = cache.Exclusive
		mod.Cache.SetBlock(f.Set, f.Way, f.Tag, f.State)
	}

	ret.Err = false
	ret.Set = f.Set
	ret.Way = f.Way
	ret.Tag = f.Tag
	ret.State = f.State
	ret.Hit = f.Hit
	e.sim.Return(f)
}
