package protocol

import (
	"fmt"

	"github.com/sarchlab/memsim/mem/cache"
	"github.com/sarchlab/memsim/mem/directory"
	"github.com/sarchlab/memsim/mem/module"
	"github.com/sarchlab/memsim/noc/network"
	"github.com/sarchlab/memsim/sim/esim"
)

func (e *Engine) registerReadRequest() {
	e.evReadRequest = e.register("read_request", e.readRequest)
	e.evReadRequestReceive = e.register("read_request_receive",
		e.readRequestReceive)
	e.evReadRequestAction = e.register("read_request_action",
		e.readRequestAction)
	e.evReadRequestUpdown = e.register("read_request_updown",
		e.readRequestUpdown)
	e.evReadRequestUpdownMiss = e.register("read_request_updown_miss",
		e.readRequestUpdownMiss)
	e.evReadRequestUpdownFinish = e.register("read_request_updown_finish",
		e.readRequestUpdownFinish)
	e.evReadRequestDownup = e.register("read_request_downup",
		e.readRequestDownup)
	e.evReadRequestDownupWait = e.register("read_request_downup_wait_for_reqs",
		e.readRequestDownupWait)
	e.evReadRequestDownupFinish = e.register("read_request_downup_finish",
		e.readRequestDownupFinish)
	e.evReadRequestReply = e.register("read_request_reply",
		e.readRequestReply)
	e.evReadRequestFinish = e.register("read_request_finish",
		e.readRequestFinish)
}

// requestPath returns the network, the requester-side node, and the
// target-side node of a request between f.Module and f.Target.
func requestPath(f *module.Frame) (
	net *network.Network,
	modNode, targetNode *network.Node,
) {
	if f.RequestDir == module.UpDown {
		return f.Module.LowNet, f.Module.LowNode, f.Target.HighNode
	}

	return f.Module.HighNet, f.Module.HighNode, f.Target.LowNode
}

// receiveAtTarget consumes the request message at the target.
func receiveAtTarget(f *module.Frame) {
	net, _, targetNode := requestPath(f)
	net.Receive(targetNode, f.Msg)
}

// receiveAtModule consumes the reply message at the requester.
func receiveAtModule(f *module.Frame) {
	net, modNode, _ := requestPath(f)
	net.Receive(modNode, f.Msg)
}

// readRequest asks f.Target for a readable copy of the block at f.Addr.
// UpDown requests go to the module below; DownUp requests recall the
// block from an owner above.
func (e *Engine) readRequest(f *module.Frame) {
	f.Ret().Err = false

	net, modNode, targetNode := requestPath(f)
	f.Msg = net.TrySend(modNode, targetNode, 8,
		e.evReadRequestReceive, e.evReadRequest, f)
}

func (e *Engine) readRequestReceive(f *module.Frame) {
	target := f.Target

	receiveAtTarget(f)

	if f.RequestDir == module.UpDown {
		target.Stats.UpDownReads++
	} else {
		target.Stats.DownUpReads++
	}

	c := e.findAndLockFrame(f, target, f.Addr,
		f.RequestDir == module.UpDown, true)
	e.sim.Call(e.evFindAndLock, c, e.evReadRequestAction)
}

func (e *Engine) readRequestAction(f *module.Frame) {
	if f.Err {
		f.Ret().Err = true
		f.Reply = module.ReplyAckError
		f.ReplySize = 8
		f.RetainOwner = true
		e.sim.Schedule(e.evReadRequestReply, f, 0)

		return
	}

	// The owner dropped the block before the recall arrived.
	if f.BlockNotFound {
		f.Reply = module.ReplyAck
		f.ReplySize = 8
		e.sim.Schedule(e.evReadRequestReply, f, 0)

		return
	}

	if f.RequestDir == module.UpDown {
		e.sim.Schedule(e.evReadRequestUpdown, f, 0)
	} else {
		e.sim.Schedule(e.evReadRequestDownup, f, 0)
	}
}

func (e *Engine) readRequestUpdown(f *module.Frame) {
	mod := f.Module
	target := f.Target

	f.Pending = 1
	f.ReplySize = mod.BlockSize + 8
	f.Reply = module.ReplyAckData
	f.Shared = false

	if !f.State.IsValid() {
		c := e.upDownRequest(f, target, f.Tag)
		e.sim.Call(e.evReadRequest, c, e.evReadRequestUpdownMiss)

		return
	}

	e.recallOwners(f, target, mod, e.evReadRequestUpdownFinish)
	e.sim.Schedule(e.evReadRequestUpdownFinish, f, 0)
}

// recallOwners sends a DownUp read to every owner above holder of a
// sub-block of f's line, other than requester. Each recall adds one to
// f.Pending and returns to evt.
func (e *Engine) recallOwners(
	f *module.Frame,
	holder, requester *module.Module,
	evt *esim.EventType,
) {
	for z := 0; z < holder.NumSubBlocks; z++ {
		entryTag := f.Tag + uint64(z*holder.SubBlockSize)

		owner := holder.Dir.Owner(f.Set, f.Way, z)
		if owner == directory.NoOwner {
			continue
		}

		if requester != nil && owner == requester.NodeIndex() {
			continue
		}

		ownerMod := holder.HighModuleAt(owner)
		if ownerMod == nil {
			panic(fmt.Sprintf("%s: owner %d of %#x is not a module",
				holder.Name, owner, entryTag))
		}

		if entryTag%uint64(ownerMod.BlockSize) != 0 {
			continue
		}

		c := e.child(f, holder, entryTag)
		c.Target = ownerMod
		c.RequestDir = module.DownUp

		if requester != nil && canSendToPeer(holder, ownerMod, requester) {
			c.Peer = requester
		}

		f.Pending++
		e.sim.Call(e.evReadRequest, c, evt)
	}
}

func (e *Engine) readRequestUpdownMiss(f *module.Frame) {
	target := f.Target

	if f.Err {
		target.Dir.UnlockEntry(f.Set, f.Way)
		f.Ret().Err = true
		f.Reply = module.ReplyAckError
		f.ReplySize = 8
		e.sim.Schedule(e.evReadRequestReply, f, 0)

		return
	}

	state := cache.Exclusive
	if f.Shared {
		state = cache.Shared
	}

	target.Cache.SetBlock(f.Set, f.Way, f.Tag, state)
	f.State = state
	e.sim.Schedule(e.evReadRequestUpdownFinish, f, 0)
}

// readRequestUpdownFinish joins the recalls and records the requester as
// a sharer. The requester gets the block shared unless it is the only
// sharer of a line this module may hand out exclusively.
func (e *Engine) readRequestUpdownFinish(f *module.Frame) {
	mod := f.Module
	target := f.Target
	dir := target.Dir
	node := mod.NodeIndex()

	f.Pending--
	if f.Pending > 0 {
		return
	}

	switch {
	case f.ReplySize == 8:
		f.Reply = module.ReplyAck
	case f.ReplySize > 8:
		f.Reply = module.ReplyAckData
	default:
		panic(fmt.Sprintf("%s: invalid reply size %d", target.Name,
			f.ReplySize))
	}

	for z := 0; z < target.NumSubBlocks; z++ {
		if owner := dir.Owner(f.Set, f.Way, z); owner != node {
			dir.SetOwner(f.Set, f.Way, z, directory.NoOwner)
		}
	}

	_, state := target.Cache.GetBlock(f.Set, f.Way)

	shared := f.NCWrite ||
		state == cache.Owned ||
		state == cache.Shared ||
		state == cache.NonCoherent

	subBlocksOf(target, f.Tag, f.Addr, mod.BlockSize,
		func(z int, _ uint64) {
			dir.SetSharer(f.Set, f.Way, z, node)
			if dir.NumSharers(f.Set, f.Way, z) > 1 {
				shared = true
			}
		})

	if !shared {
		subBlocksOf(target, f.Tag, f.Addr, mod.BlockSize,
			func(z int, _ uint64) {
				dir.SetOwner(f.Set, f.Way, z, node)
			})
	}

	f.Ret().Shared = shared
	f.Shared = shared

	dir.UnlockEntry(f.Set, f.Way)
	e.sim.Schedule(e.evReadRequestReply, f, 0)
}

func (e *Engine) readRequestDownup(f *module.Frame) {
	target := f.Target

	if f.State == cache.Invalid || f.State == cache.Shared {
		panic(fmt.Sprintf("%s: recall of %#x in state %s",
			target.Name, f.Tag, f.State))
	}

	f.Pending = 1
	e.recallOwners(f, target, nil, e.evReadRequestDownupWait)

	switch f.State {
	case cache.Exclusive:
		f.Reply = module.ReplyAck
		f.ReplySize = 8
	default:
		if f.Peer != nil {
			f.Reply = module.ReplyAckDataSentToPeer
			f.ReplySize = 8
			shrinkReply(f.Ret(), target)
		} else {
			f.Reply = module.ReplyAckData
			f.ReplySize = target.BlockSize + 8
		}
	}

	e.sim.Schedule(e.evReadRequestDownupWait, f, 0)
}

// shrinkReply takes the data of from out of the reply of ret, because from
// sends it to the requester directly.
func shrinkReply(ret *module.Frame, from *module.Module) {
	ret.ReplySize -= from.BlockSize
	if ret.ReplySize < 8 {
		panic(fmt.Sprintf("%s: reply of %s shrunk to %d bytes",
			from.Name, ret, ret.ReplySize))
	}
}

func (e *Engine) readRequestDownupWait(f *module.Frame) {
	f.Pending--
	if f.Pending > 0 {
		return
	}

	if f.Reply == module.ReplyAckDataSentToPeer {
		c := e.child(f, f.Target, f.Tag)
		c.Target = f.Target
		c.Peer = f.Peer
		e.sim.Call(e.evPeerSend, c, e.evReadRequestDownupFinish)

		return
	}

	e.sim.Schedule(e.evReadRequestDownupFinish, f, 0)
}

// readRequestDownupFinish downgrades the recalled line: M to O, E to S.
// Only a line that stays O or N keeps its owner entry below.
func (e *Engine) readRequestDownupFinish(f *module.Frame) {
	target := f.Target

	f.RetainOwner = f.State != cache.Exclusive

	switch f.State {
	case cache.Modified:
		target.Cache.SetBlock(f.Set, f.Way, f.Tag, cache.Owned)
	case cache.Exclusive:
		target.Cache.SetBlock(f.Set, f.Way, f.Tag, cache.Shared)

		for z := 0; z < target.NumSubBlocks; z++ {
			target.Dir.SetOwner(f.Set, f.Way, z, directory.NoOwner)
		}
	case cache.Owned, cache.NonCoherent:
	default:
		panic(fmt.Sprintf("%s: recalled block %#x in state %s",
			target.Name, f.Tag, f.State))
	}

	target.Dir.UnlockEntry(f.Set, f.Way)
	e.sim.Schedule(e.evReadRequestReply, f, 0)
}

func (e *Engine) readRequestReply(f *module.Frame) {
	net, modNode, targetNode := requestPath(f)
	f.Msg = net.TrySend(targetNode, modNode, f.ReplySize,
		e.evReadRequestFinish, e.evReadRequestReply, f)
}

func (e *Engine) readRequestFinish(f *module.Frame) {
	receiveAtModule(f)

	if f.RequestDir == module.DownUp && !f.RetainOwner {
		dropOwner(f.Ret(), f.Module, f.Target, f.Tag)
	}

	f.Ret().SetReply(f.Reply)
	e.sim.Return(f)
}

// dropOwner clears owner as the owner of the sub-blocks of holder's line in
// ret that start at tag. The recalled copy is now shared or gone.
func dropOwner(ret *module.Frame, holder, owner *module.Module, tag uint64) {
	node := owner.NodeIndex()

	subBlocksOf(holder, ret.Tag, tag, owner.BlockSize,
		func(z int, _ uint64) {
			if holder.Dir.Owner(ret.Set, ret.Way, z) == node {
				holder.Dir.SetOwner(ret.Set, ret.Way, z, directory.NoOwner)
			}
		})
}
