package protocol

import (
	"fmt"

	"github.com/sarchlab/memsim/mem/cache"
	"github.com/sarchlab/memsim/mem/module"
)

func (e *Engine) registerWriteRequest() {
	e.evWriteRequest = e.register("write_request", e.writeRequest)
	e.evWriteRequestReceive = e.register("write_request_receive",
		e.writeRequestReceive)
	e.evWriteRequestAction = e.register("write_request_action",
		e.writeRequestAction)
	e.evWriteRequestExclusive = e.register("write_request_exclusive",
		e.writeRequestExclusive)
	e.evWriteRequestUpdown = e.register("write_request_updown",
		e.writeRequestUpdown)
	e.evWriteRequestUpdownFinish = e.register("write_request_updown_finish",
		e.writeRequestUpdownFinish)
	e.evWriteRequestDownup = e.register("write_request_downup",
		e.writeRequestDownup)
	e.evWriteRequestDownupFinish = e.register("write_request_downup_finish",
		e.writeRequestDownupFinish)
	e.evWriteRequestReply = e.register("write_request_reply",
		e.writeRequestReply)
	e.evWriteRequestFinish = e.register("write_request_finish",
		e.writeRequestFinish)
}

// writeRequest asks f.Target for exclusive rights on the block at f.Addr.
// An UpDown request makes f.Module the only sharer and owner at the target;
// a DownUp request invalidates the target's copy.
func (e *Engine) writeRequest(f *module.Frame) {
	f.Ret().Err = false

	// The reply carries the requester's block unless a peer sends it.
	f.ReplySize = f.Module.BlockSize + 8
	f.Reply = module.ReplyAckData

	net, modNode, targetNode := requestPath(f)
	f.Msg = net.TrySend(modNode, targetNode, 8,
		e.evWriteRequestReceive, e.evWriteRequest, f)
}

func (e *Engine) writeRequestReceive(f *module.Frame) {
	target := f.Target

	receiveAtTarget(f)

	if f.RequestDir == module.UpDown {
		target.Stats.UpDownWrites++
	} else {
		target.Stats.DownUpWrites++
	}

	c := e.findAndLockFrame(f, target, f.Addr,
		f.RequestDir == module.UpDown, false)
	e.sim.Call(e.evFindAndLock, c, e.evWriteRequestAction)
}

func (e *Engine) writeRequestAction(f *module.Frame) {
	if f.Err {
		f.Ret().Err = true
		f.Reply = module.ReplyAckError
		f.ReplySize = 8
		e.sim.Schedule(e.evWriteRequestReply, f, 0)

		return
	}

	if f.BlockNotFound {
		f.Reply = module.ReplyAck
		f.ReplySize = 8
		e.sim.Schedule(e.evWriteRequestReply, f, 0)

		return
	}

	c := e.child(f, f.Target, 0)
	c.Except = f.Module
	c.Set, c.Way = f.Set, f.Way

	if f.RequestDir == module.UpDown {
		c.Peer = f.Peer
	}

	e.sim.Call(e.evInvalidate, c, e.evWriteRequestExclusive)
}

func (e *Engine) writeRequestExclusive(f *module.Frame) {
	_, f.State = f.Target.Cache.GetBlock(f.Set, f.Way)

	if f.RequestDir == module.UpDown {
		e.sim.Schedule(e.evWriteRequestUpdown, f, 0)
	} else {
		e.sim.Schedule(e.evWriteRequestDownup, f, 0)
	}
}

func (e *Engine) writeRequestUpdown(f *module.Frame) {
	target := f.Target

	if target.Kind == module.KindMainMemory ||
		f.State == cache.Modified ||
		f.State == cache.Exclusive {
		e.sim.Schedule(e.evWriteRequestUpdownFinish, f, 0)
		return
	}

	c := e.upDownRequest(f, target, f.Tag)
	c.Peer = target
	e.sim.Call(e.evWriteRequest, c, e.evWriteRequestUpdownFinish)
}

func (e *Engine) writeRequestUpdownFinish(f *module.Frame) {
	mod := f.Module
	target := f.Target
	dir := target.Dir
	node := mod.NodeIndex()

	if f.Err {
		f.Ret().Err = true
		f.Reply = module.ReplyAckError
		f.ReplySize = 8
		dir.UnlockEntry(f.Set, f.Way)
		e.sim.Schedule(e.evWriteRequestReply, f, 0)

		return
	}

	subBlocksOf(target, f.Tag, f.Addr, mod.BlockSize,
		func(z int, entryTag uint64) {
			dir.SetSharer(f.Set, f.Way, z, node)
			dir.SetOwner(f.Set, f.Way, z, node)

			if n := dir.NumSharers(f.Set, f.Way, z); n != 1 {
				panic(fmt.Sprintf("%s: %#x has %d sharers after a write",
					target.Name, entryTag, n))
			}
		})

	if f.State != cache.Modified {
		target.Cache.SetBlock(f.Set, f.Way, f.Tag, cache.Exclusive)
	}

	dir.UnlockEntry(f.Set, f.Way)

	switch {
	case f.ReplySize == 8:
		f.Reply = module.ReplyAck
	case f.ReplySize > 8:
		f.Reply = module.ReplyAckData
	default:
		panic(fmt.Sprintf("%s: invalid reply size %d", target.Name,
			f.ReplySize))
	}

	e.sim.Schedule(e.evWriteRequestReply, f, 0)
}

func (e *Engine) writeRequestDownup(f *module.Frame) {
	target := f.Target

	if f.State == cache.Invalid {
		panic(fmt.Sprintf("%s: invalidating %#x in state I",
			target.Name, f.Tag))
	}

	if target.Dir.IsBlockSharedOrOwned(f.Set, f.Way) {
		panic(fmt.Sprintf("%s: %#x still has sharers after invalidation",
			target.Name, f.Tag))
	}

	switch f.State {
	case cache.Exclusive, cache.Shared:
		f.Reply = module.ReplyAck
		f.ReplySize = 8
	default:
		if f.Peer != nil {
			f.Reply = module.ReplyAckDataSentToPeer
			f.ReplySize = 8

			// The invalidation that sent this request runs for the
			// write request whose reply the peer data replaces.
			shrinkReply(f.Ret().Ret(), target)

			c := e.child(f, target, f.Tag)
			c.Target = target
			c.Peer = f.Peer
			e.sim.Call(e.evPeerSend, c, e.evWriteRequestDownupFinish)

			return
		}

		f.Reply = module.ReplyAckData
		f.ReplySize = target.BlockSize + 8
	}

	e.sim.Schedule(e.evWriteRequestDownupFinish, f, 0)
}

func (e *Engine) writeRequestDownupFinish(f *module.Frame) {
	target := f.Target

	target.Cache.SetBlock(f.Set, f.Way, 0, cache.Invalid)
	target.Dir.UnlockEntry(f.Set, f.Way)
	e.sim.Schedule(e.evWriteRequestReply, f, 0)
}

func (e *Engine) writeRequestReply(f *module.Frame) {
	net, modNode, targetNode := requestPath(f)
	f.Msg = net.TrySend(targetNode, modNode, f.ReplySize,
		e.evWriteRequestFinish, e.evWriteRequestReply, f)
}

func (e *Engine) writeRequestFinish(f *module.Frame) {
	receiveAtModule(f)
	f.Ret().SetReply(f.Reply)
	e.sim.Return(f)
}
