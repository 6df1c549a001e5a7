package protocol

import (
	"fmt"

	"github.com/sarchlab/memsim/mem/cache"
	"github.com/sarchlab/memsim/mem/directory"
	"github.com/sarchlab/memsim/mem/module"
)

func (e *Engine) registerEvict() {
	e.evEvict = e.register("evict", e.evict)
	e.evEvictInvalid = e.register("evict_invalid", e.evictInvalid)
	e.evEvictAction = e.register("evict_action", e.evictAction)
	e.evEvictReceive = e.register("evict_receive", e.evictReceive)
	e.evEvictWriteback = e.register("evict_writeback", e.evictWriteback)
	e.evEvictWritebackExclusive = e.register("evict_writeback_exclusive",
		e.evictWritebackExclusive)
	e.evEvictWritebackFinish = e.register("evict_writeback_finish",
		e.evictWritebackFinish)
	e.evEvictProcess = e.register("evict_process", e.evictProcess)
	e.evEvictReply = e.register("evict_reply", e.evictReply)
	e.evEvictReplyReceive = e.register("evict_reply_receive",
		e.evictReplyReceive)
	e.evEvictFinish = e.register("evict_finish", e.evictFinish)
}

// evict removes the (Set, Way) line of f.Module. The caller holds the lock
// of the line. Copies above are recalled first; then the line is written
// back to the low module, or only announced if it is clean.
func (e *Engine) evict(f *module.Frame) {
	mod := f.Module

	f.SrcSet, f.SrcWay = f.Set, f.Way
	f.SrcTag, f.SrcState = mod.Cache.GetBlock(f.Set, f.Way)
	f.Tag = f.SrcTag

	if mod.Kind != module.KindMainMemory {
		f.Target = mod.MustLowModuleServingAddress(f.SrcTag)
	}

	c := e.child(f, mod, 0)
	c.Set, c.Way = f.SrcSet, f.SrcWay
	e.sim.Call(e.evInvalidate, c, e.evEvictInvalid)
}

func (e *Engine) evictInvalid(f *module.Frame) {
	mod := f.Module

	if mod.Kind == module.KindMainMemory {
		mod.Cache.SetBlock(f.SrcSet, f.SrcWay, 0, cache.Invalid)
		e.sim.Schedule(e.evEvictFinish, f, 0)

		return
	}

	_, f.SrcState = mod.Cache.GetBlock(f.SrcSet, f.SrcWay)
	e.sim.Schedule(e.evEvictAction, f, 0)
}

func (e *Engine) evictAction(f *module.Frame) {
	mod := f.Module
	target := f.Target

	size := 8

	switch f.SrcState {
	case cache.Invalid:
		e.sim.Schedule(e.evEvictFinish, f, 0)
		return
	case cache.Modified, cache.Owned, cache.NonCoherent:
		size = mod.BlockSize + 8
		f.Writeback = true
	case cache.Shared, cache.Exclusive:
		f.Writeback = false
	default:
		panic(fmt.Sprintf("%s: evicting block in state %s",
			mod.Name, f.SrcState))
	}

	f.Msg = mod.LowNet.TrySend(mod.LowNode, target.HighNode, size,
		e.evEvictReceive, e.evEvictAction, f)
}

func (e *Engine) evictReceive(f *module.Frame) {
	target := f.Target

	target.HighNet.Receive(target.HighNode, f.Msg)

	c := e.findAndLockFrame(f, target, f.SrcTag, true, false)
	e.sim.Call(e.evFindAndLock, c, e.evEvictWriteback)
}

func (e *Engine) evictWriteback(f *module.Frame) {
	target := f.Target

	if f.Err {
		f.Ret().Err = true
		e.sim.Schedule(e.evEvictReply, f, 0)

		return
	}

	if !f.Writeback {
		e.sim.Schedule(e.evEvictProcess, f, 0)
		return
	}

	// Non-coherent data merges into the line without a recall.
	if f.SrcState == cache.NonCoherent {
		switch f.State {
		case cache.Exclusive:
			target.Cache.SetBlock(f.Set, f.Way, f.Tag, cache.Modified)
		case cache.Modified, cache.Owned:
		default:
			target.Cache.SetBlock(f.Set, f.Way, f.Tag, cache.NonCoherent)
		}

		e.sim.Schedule(e.evEvictProcess, f, 0)

		return
	}

	c := e.child(f, target, 0)
	c.Except = f.Module
	c.Set, c.Way = f.Set, f.Way
	e.sim.Call(e.evInvalidate, c, e.evEvictWritebackExclusive)
}

// evictWritebackExclusive makes sure the receiver may hold the data
// Modified before accepting it.
func (e *Engine) evictWritebackExclusive(f *module.Frame) {
	target := f.Target

	_, f.State = target.Cache.GetBlock(f.Set, f.Way)

	if target.Kind == module.KindMainMemory {
		e.sim.Schedule(e.evEvictWritebackFinish, f, 0)
		return
	}

	switch f.State {
	case cache.Owned, cache.Shared, cache.NonCoherent:
		c := e.upDownRequest(f, target, f.Tag)
		e.sim.Call(e.evWriteRequest, c, e.evEvictWritebackFinish)
	case cache.Modified, cache.Exclusive:
		e.sim.Schedule(e.evEvictWritebackFinish, f, 0)
	default:
		panic(fmt.Sprintf("%s: writeback of %#x into a block in state %s",
			target.Name, f.SrcTag, f.State))
	}
}

func (e *Engine) evictWritebackFinish(f *module.Frame) {
	target := f.Target

	if f.Err {
		f.Ret().Err = true
		target.Dir.UnlockEntry(f.Set, f.Way)
		e.sim.Schedule(e.evEvictReply, f, 0)

		return
	}

	target.Cache.SetBlock(f.Set, f.Way, f.Tag, cache.Modified)
	e.sim.Schedule(e.evEvictProcess, f, 0)
}

// evictProcess drops the evicting module from the receiver's directory.
func (e *Engine) evictProcess(f *module.Frame) {
	mod := f.Module
	target := f.Target
	node := mod.NodeIndex()

	subBlocksOf(target, f.Tag, f.SrcTag, mod.BlockSize,
		func(z int, _ uint64) {
			target.Dir.ClearSharer(f.Set, f.Way, z, node)
			if target.Dir.Owner(f.Set, f.Way, z) == node {
				target.Dir.SetOwner(f.Set, f.Way, z, directory.NoOwner)
			}
		})

	target.Dir.UnlockEntry(f.Set, f.Way)
	e.sim.Schedule(e.evEvictReply, f, 0)
}

func (e *Engine) evictReply(f *module.Frame) {
	target := f.Target

	f.Msg = target.HighNet.TrySend(target.HighNode, f.Module.LowNode, 8,
		e.evEvictReplyReceive, e.evEvictReply, f)
}

func (e *Engine) evictReplyReceive(f *module.Frame) {
	mod := f.Module

	mod.LowNet.Receive(mod.LowNode, f.Msg)

	if !f.Err {
		mod.Cache.SetBlock(f.SrcSet, f.SrcWay, 0, cache.Invalid)
	}

	e.sim.Schedule(e.evEvictFinish, f, 0)
}

func (e *Engine) evictFinish(f *module.Frame) {
	e.sim.Return(f)
}
