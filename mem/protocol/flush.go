package protocol

import "github.com/sarchlab/memsim/mem/module"

func (e *Engine) registerFlush() {
	e.evFlush = e.register("flush", e.flush)
	e.evFlushBlock = e.register("flush_block", e.flushBlock)
	e.evFlushBlockEvicted = e.register("flush_block_evicted",
		e.flushBlockEvicted)
	e.evFlushFinish = e.register("flush_finish", e.flushFinish)
}

// flush evicts every valid line of a cache. Each line is evicted by its
// own frame; the flush finishes when all of them are done.
func (e *Engine) flush(f *module.Frame) {
	mod := f.Module

	mod.TraceStart(f, "mem", "flush")

	f.Pending = 1

	if mod.Kind == module.KindCache {
		for set := 0; set < mod.Cache.NumSets(); set++ {
			for way := 0; way < mod.Cache.NumWays(); way++ {
				tag, state := mod.Cache.GetBlock(set, way)
				if !state.IsValid() {
					continue
				}

				c := e.child(f, mod, tag)
				c.Set, c.Way = set, way
				c.FlushSet, c.FlushWay = set, way

				f.Pending++
				e.sim.Call(e.evFlushBlock, c, e.evFlushFinish)
			}
		}
	}

	e.sim.Schedule(e.evFlushFinish, f, 0)
}

// flushBlock waits for the line's lock; flushes never fail on contention.
func (e *Engine) flushBlock(f *module.Frame) {
	mod := f.Module

	if !mod.Dir.LockEntry(f.FlushSet, f.FlushWay, e.evFlushBlock, f) {
		mod.Stats.DirectoryConflicts++
		return
	}

	tag, state := mod.Cache.GetBlock(f.FlushSet, f.FlushWay)
	if !state.IsValid() || tag != f.Addr {
		mod.Dir.UnlockEntry(f.FlushSet, f.FlushWay)
		e.sim.Return(f)

		return
	}

	f.Err = false

	c := e.child(f, mod, 0)
	c.Set, c.Way = f.FlushSet, f.FlushWay
	e.sim.Call(e.evEvict, c, e.evFlushBlockEvicted)
}

func (e *Engine) flushBlockEvicted(f *module.Frame) {
	mod := f.Module

	mod.Dir.UnlockEntry(f.FlushSet, f.FlushWay)

	if f.Err {
		f.Retry = true
		e.sim.Schedule(e.evFlushBlock, f, mod.RetryLatency())

		return
	}

	mod.Stats.Evictions++
	e.sim.Return(f)
}

func (e *Engine) flushFinish(f *module.Frame) {
	f.Pending--
	if f.Pending > 0 {
		return
	}

	if f.Witness != nil {
		*f.Witness++
	}

	f.Module.TraceEnd(f)
	e.sim.Return(f)
}
