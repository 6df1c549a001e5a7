package protocol

import (
	"github.com/sarchlab/memsim/mem/cache"
	"github.com/sarchlab/memsim/mem/module"
)

func (e *Engine) registerPrefetch() {
	e.evPrefetch = e.register("prefetch", e.prefetch)
	e.evPrefetchLock = e.register("prefetch_lock", e.prefetchLock)
	e.evPrefetchAction = e.register("prefetch_action", e.prefetchAction)
	e.evPrefetchMiss = e.register("prefetch_miss", e.prefetchMiss)
	e.evPrefetchUnlock = e.register("prefetch_unlock", e.prefetchUnlock)
	e.evPrefetchFinish = e.register("prefetch_finish", e.prefetchFinish)
}

// prefetch brings a block in like a load, but gives up instead of waiting
// or retrying.
func (e *Engine) prefetch(f *module.Frame) {
	mod := f.Module

	e.beginAccess(f, module.Prefetch)

	if mod.CanCoalesce(module.Load, f.Addr, f) != nil {
		mod.Stats.UselessPrefetches++
		e.sim.Schedule(e.evPrefetchFinish, f, 0)

		return
	}

	e.sim.Schedule(e.evPrefetchLock, f, 0)
}

func (e *Engine) prefetchLock(f *module.Frame) {
	mod := f.Module

	if mod.InFlightWrite(f) != nil || mod.InFlightAddress(f.Addr, f) != nil {
		mod.Stats.PrefetchAborts++
		e.sim.Schedule(e.evPrefetchFinish, f, 0)

		return
	}

	c := e.findAndLockFrame(f, mod, f.Addr, true, true)
	e.sim.Call(e.evFindAndLock, c, e.evPrefetchAction)
}

func (e *Engine) prefetchAction(f *module.Frame) {
	mod := f.Module

	if f.Err {
		mod.Stats.PrefetchAborts++
		e.sim.Schedule(e.evPrefetchFinish, f, 0)

		return
	}

	if f.State.IsValid() {
		mod.Stats.UselessPrefetches++
		e.sim.Schedule(e.evPrefetchUnlock, f, 0)

		return
	}

	c := e.upDownRequest(f, mod, f.Tag)
	c.Peer = mod
	e.sim.Call(e.evReadRequest, c, e.evPrefetchMiss)
}

func (e *Engine) prefetchMiss(f *module.Frame) {
	mod := f.Module

	if f.Err {
		mod.Stats.PrefetchAborts++
		e.unlock(f)
		e.sim.Schedule(e.evPrefetchFinish, f, 0)

		return
	}

	state := cache.Exclusive
	if f.Shared {
		state = cache.Shared
	}

	mod.Cache.SetBlock(f.Set, f.Way, f.Tag, state)
	e.sim.Schedule(e.evPrefetchUnlock, f, 0)
}

func (e *Engine) prefetchUnlock(f *module.Frame) {
	e.unlock(f)
	e.sim.Schedule(e.evPrefetchFinish, f, 0)
}

func (e *Engine) prefetchFinish(f *module.Frame) {
	e.endAccess(f)
}
