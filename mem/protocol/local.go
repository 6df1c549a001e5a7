package protocol

import (
	"github.com/sarchlab/memsim/mem/cache"
	"github.com/sarchlab/memsim/mem/module"
)

func (e *Engine) registerLocal() {
	e.evLocalLoad = e.register("local_load", e.localLoad)
	e.evLocalStore = e.register("local_store", e.localStore)
	e.evLocalLock = e.register("local_lock", e.localLock)
	e.evLocalAction = e.register("local_action", e.localAction)
	e.evLocalFinish = e.register("local_finish", e.localFinish)

	e.evLocalFindAndLock = e.register("local_find_and_lock",
		e.localFindAndLock)
	e.evLocalFindAndLockPort = e.register("local_find_and_lock_port",
		e.localFindAndLockPort)
	e.evLocalFindAndLockAction = e.register("local_find_and_lock_action",
		e.localFindAndLockAction)
}

// Local memories are scratchpads. They keep no coherence state, and a miss
// takes a line without writing anything back.

func (e *Engine) localLoad(f *module.Frame) {
	mod := f.Module

	e.beginAccess(f, module.Load)

	if master := mod.CanCoalesce(module.Load, f.Addr, f); master != nil {
		mod.Coalesce(master, f)
		mod.Stats.CoalescedReads++
		e.sim.Wait(f, master, e.evLocalFinish)

		return
	}

	e.sim.Schedule(e.evLocalLock, f, 0)
}

func (e *Engine) localStore(f *module.Frame) {
	mod := f.Module

	e.beginAccess(f, module.Store)

	if master := mod.CanCoalesce(module.Store, f.Addr, f); master != nil {
		mod.Coalesce(master, f)
		mod.Stats.CoalescedWrites++
		e.sim.Wait(f, master, e.evLocalFinish)

		return
	}

	e.sim.Schedule(e.evLocalLock, f, 0)
}

func (e *Engine) localLock(f *module.Frame) {
	mod := f.Module

	var older *module.Frame
	if f.AccessKind.IsWrite() {
		older = mod.OlderAccess(f)
	} else {
		older = mod.InFlightWrite(f)
	}

	if older != nil {
		e.sim.Wait(f, older, e.evLocalLock)
		return
	}

	c := e.findAndLockFrame(f, mod, f.Addr, true, !f.AccessKind.IsWrite())
	e.sim.Call(e.evLocalFindAndLock, c, e.evLocalAction)
}

func (e *Engine) localAction(f *module.Frame) {
	mod := f.Module

	if f.Err {
		e.retry(f, e.evLocalLock)
		return
	}

	switch {
	case f.AccessKind.IsWrite():
		mod.Cache.SetBlock(f.Set, f.Way, f.Tag, cache.Modified)
	case !f.State.IsValid():
		mod.Cache.SetBlock(f.Set, f.Way, f.Tag, cache.Exclusive)
	}

	e.unlock(f)
	e.sim.Schedule(e.evLocalFinish, f, mod.DataLatency)
}

func (e *Engine) localFinish(f *module.Frame) {
	e.endAccess(f)
}

func (e *Engine) localFindAndLock(f *module.Frame) {
	f.Ret().Err = false
	f.Module.LockPort(f, e.evLocalFindAndLockPort)
}

func (e *Engine) localFindAndLockPort(f *module.Frame) {
	mod := f.Module
	ret := f.Ret()

	ret.PortLocked = true

	f.Set, f.Way, f.Tag, f.State, f.Hit = mod.FindBlock(f.Addr)
	mod.Stats.RecordLookup(lookupKind(f), f.Hit, f.Retry)

	if !f.Hit {
		f.Way = mod.Cache.ReplaceBlock(f.Set)
		_, f.State = mod.Cache.GetBlock(f.Set, f.Way)
	}

	if !mod.Dir.TryLockEntry(f.Set, f.Way, f) {
		mod.Stats.DirectoryConflicts++
		ret.Err = true
		mod.UnlockPort(f.Port, f)
		e.sim.Return(f)

		return
	}

	mod.Cache.SetTransientTag(f.Set, f.Way, f.Tag)
	mod.Cache.AccessBlock(f.Set, f.Way)
	e.sim.Schedule(e.evLocalFindAndLockAction, f, mod.DirectoryLatency)
}

func (e *Engine) localFindAndLockAction(f *module.Frame) {
	mod := f.Module
	ret := f.Ret()

	mod.UnlockPort(f.Port, f)

	if !f.Hit && f.State.IsValid() {
		mod.Stats.Evictions++
		mod.Cache.SetBlock(f.Set, f.Way, 0, cache.Invalid)
		f.State = cache.Invalid
	}

	ret.Set = f.Set
	ret.Way = f.Way
	ret.Tag = f.Tag
	ret.State = f.State
	ret.Hit = f.Hit
	e.sim.Return(f)
}
