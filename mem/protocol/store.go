package protocol

import (
	"github.com/sarchlab/memsim/mem/cache"
	"github.com/sarchlab/memsim/mem/module"
)

func (e *Engine) registerStore() {
	e.evStore = e.register("store", e.store)
	e.evStoreLock = e.register("store_lock", e.storeLock)
	e.evStoreAction = e.register("store_action", e.storeAction)
	e.evStoreUnlock = e.register("store_unlock", e.storeUnlock)
	e.evStoreFinish = e.register("store_finish", e.storeFinish)
}

func (e *Engine) store(f *module.Frame) {
	mod := f.Module

	e.beginAccess(f, module.Store)

	if master := mod.CanCoalesce(module.Store, f.Addr, f); master != nil {
		mod.Coalesce(master, f)
		mod.Stats.CoalescedWrites++
		e.sim.Wait(f, master, e.evStoreFinish)

		return
	}

	e.sim.Schedule(e.evStoreLock, f, 0)
}

// storeLock keeps stores in order with every older access of the module.
func (e *Engine) storeLock(f *module.Frame) {
	mod := f.Module

	if older := mod.OlderAccess(f); older != nil {
		e.sim.Wait(f, older, e.evStoreLock)
		return
	}

	c := e.findAndLockFrame(f, mod, f.Addr, true, false)
	e.sim.Call(e.evFindAndLock, c, e.evStoreAction)
}

func (e *Engine) storeAction(f *module.Frame) {
	if f.Err {
		e.retry(f, e.evStoreLock)
		return
	}

	if f.State == cache.Modified || f.State == cache.Exclusive {
		e.sim.Schedule(e.evStoreUnlock, f, 0)
		return
	}

	c := e.upDownRequest(f, f.Module, f.Tag)
	c.Peer = f.Module
	e.sim.Call(e.evWriteRequest, c, e.evStoreUnlock)
}

func (e *Engine) storeUnlock(f *module.Frame) {
	mod := f.Module

	if f.Err {
		e.unlock(f)
		e.retry(f, e.evStoreLock)

		return
	}

	mod.Cache.SetBlock(f.Set, f.Way, f.Tag, cache.Modified)
	e.unlock(f)
	e.sim.Schedule(e.evStoreFinish, f, mod.DataLatency)
}

func (e *Engine) storeFinish(f *module.Frame) {
	e.endAccess(f)
}
