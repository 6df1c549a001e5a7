package protocol

import (
	"github.com/sarchlab/memsim/mem/cache"
	"github.com/sarchlab/memsim/mem/module"
)

func (e *Engine) registerLoad() {
	e.evLoad = e.register("load", e.load)
	e.evLoadLock = e.register("load_lock", e.loadLock)
	e.evLoadAction = e.register("load_action", e.loadAction)
	e.evLoadMiss = e.register("load_miss", e.loadMiss)
	e.evLoadUnlock = e.register("load_unlock", e.loadUnlock)
	e.evLoadFinish = e.register("load_finish", e.loadFinish)
}

func (e *Engine) load(f *module.Frame) {
	mod := f.Module

	e.beginAccess(f, module.Load)

	if master := mod.CanCoalesce(module.Load, f.Addr, f); master != nil {
		mod.Coalesce(master, f)
		mod.Stats.CoalescedReads++
		e.sim.Wait(f, master, e.evLoadFinish)

		return
	}

	e.sim.Schedule(e.evLoadLock, f, 0)
}

func (e *Engine) loadLock(f *module.Frame) {
	mod := f.Module

	if older := mod.InFlightWrite(f); older != nil {
		e.sim.Wait(f, older, e.evLoadLock)
		return
	}

	if older := mod.InFlightAddress(f.Addr, f); older != nil {
		e.sim.Wait(f, older, e.evLoadLock)
		return
	}

	c := e.findAndLockFrame(f, mod, f.Addr, true, true)
	e.sim.Call(e.evFindAndLock, c, e.evLoadAction)
}

func (e *Engine) loadAction(f *module.Frame) {
	if f.Err {
		e.retry(f, e.evLoadLock)
		return
	}

	if f.State.IsValid() {
		e.sim.Schedule(e.evLoadUnlock, f, 0)
		return
	}

	c := e.upDownRequest(f, f.Module, f.Tag)
	c.Peer = f.Module
	e.sim.Call(e.evReadRequest, c, e.evLoadMiss)
}

func (e *Engine) loadMiss(f *module.Frame) {
	if f.Err {
		e.unlock(f)
		e.retry(f, e.evLoadLock)

		return
	}

	state := cache.Exclusive
	if f.Shared {
		state = cache.Shared
	}

	f.Module.Cache.SetBlock(f.Set, f.Way, f.Tag, state)
	e.sim.Schedule(e.evLoadUnlock, f, 0)
}

func (e *Engine) loadUnlock(f *module.Frame) {
	e.unlock(f)
	e.sim.Schedule(e.evLoadFinish, f, f.Module.DataLatency)
}

func (e *Engine) loadFinish(f *module.Frame) {
	e.endAccess(f)
}
