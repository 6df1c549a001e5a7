package protocol

import (
	"github.com/sarchlab/memsim/mem/cache"
	"github.com/sarchlab/memsim/mem/module"
)

func (e *Engine) registerNCStore() {
	e.evNCStore = e.register("nc_store", e.ncStore)
	e.evNCStoreLock = e.register("nc_store_lock", e.ncStoreLock)
	e.evNCStoreWriteback = e.register("nc_store_writeback",
		e.ncStoreWriteback)
	e.evNCStoreAction = e.register("nc_store_action", e.ncStoreAction)
	e.evNCStoreMiss = e.register("nc_store_miss", e.ncStoreMiss)
	e.evNCStoreUnlock = e.register("nc_store_unlock", e.ncStoreUnlock)
	e.evNCStoreFinish = e.register("nc_store_finish", e.ncStoreFinish)
}

// ncStore writes a block without acquiring ownership. The block ends up
// NonCoherent; its data merges into the module below on eviction.
func (e *Engine) ncStore(f *module.Frame) {
	mod := f.Module

	e.beginAccess(f, module.NCStore)

	if master := mod.CanCoalesce(module.NCStore, f.Addr, f); master != nil {
		mod.Coalesce(master, f)
		mod.Stats.CoalescedWrites++
		e.sim.Wait(f, master, e.evNCStoreFinish)

		return
	}

	e.sim.Schedule(e.evNCStoreLock, f, 0)
}

func (e *Engine) ncStoreLock(f *module.Frame) {
	mod := f.Module

	if older := mod.OlderAccess(f); older != nil {
		e.sim.Wait(f, older, e.evNCStoreLock)
		return
	}

	f.NCWrite = true

	c := e.findAndLockFrame(f, mod, f.Addr, true, false)
	e.sim.Call(e.evFindAndLock, c, e.evNCStoreAction)
}

func (e *Engine) ncStoreAction(f *module.Frame) {
	mod := f.Module

	if f.Err {
		e.retry(f, e.evNCStoreLock)
		return
	}

	if mod.Kind == module.KindMainMemory {
		e.sim.Schedule(e.evNCStoreUnlock, f, 0)
		return
	}

	switch f.State {
	case cache.NonCoherent, cache.Shared:
		e.sim.Schedule(e.evNCStoreUnlock, f, 0)
	case cache.Exclusive:
		// Give up ownership so that the module below stops recalling the
		// block from here.
		c := e.child(f, mod, f.Tag)
		c.Target = mod.MustLowModuleServingAddress(f.Tag)
		c.Message = module.MessageClearOwner
		e.sim.Call(e.evMessage, c, e.evNCStoreMiss)
	case cache.Modified, cache.Owned:
		// Dirty data must reach the module below before the block turns
		// non-coherent.
		c := e.child(f, mod, 0)
		c.Set, c.Way = f.Set, f.Way
		e.sim.Call(e.evEvict, c, e.evNCStoreWriteback)
	default:
		c := e.upDownRequest(f, mod, f.Tag)
		c.NCWrite = true
		e.sim.Call(e.evReadRequest, c, e.evNCStoreMiss)
	}
}

func (e *Engine) ncStoreWriteback(f *module.Frame) {
	if f.Err {
		e.unlock(f)
		e.retry(f, e.evNCStoreLock)

		return
	}

	_, f.State = f.Module.Cache.GetBlock(f.Set, f.Way)
	e.sim.Schedule(e.evNCStoreAction, f, 0)
}

func (e *Engine) ncStoreMiss(f *module.Frame) {
	if f.Err {
		e.unlock(f)
		e.retry(f, e.evNCStoreLock)

		return
	}

	e.sim.Schedule(e.evNCStoreUnlock, f, 0)
}

func (e *Engine) ncStoreUnlock(f *module.Frame) {
	mod := f.Module

	if mod.Kind != module.KindMainMemory {
		mod.Cache.SetBlock(f.Set, f.Way, f.Tag, cache.NonCoherent)
	}

	e.unlock(f)
	e.sim.Schedule(e.evNCStoreFinish, f, mod.DataLatency)
}

func (e *Engine) ncStoreFinish(f *module.Frame) {
	e.endAccess(f)
}
