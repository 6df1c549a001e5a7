package protocol

import (
	"fmt"

	"github.com/sarchlab/memsim/mem/cache"
	"github.com/sarchlab/memsim/mem/directory"
	"github.com/sarchlab/memsim/mem/module"
)

func (e *Engine) registerInvalidate() {
	e.evInvalidate = e.register("invalidate", e.invalidate)
	e.evInvalidateFinish = e.register("invalidate_finish", e.invalidateFinish)
}

// invalidate recalls the (Set, Way) line of f.Module from every module above
// except f.Except. The first sharer of each sub-block may send its data
// straight to f.Peer.
func (e *Engine) invalidate(f *module.Frame) {
	mod := f.Module
	dir := mod.Dir

	f.Tag, f.State = mod.Cache.GetBlock(f.Set, f.Way)
	f.Pending = 1
	f.Reply = module.ReplyNone

	for z := 0; z < mod.NumSubBlocks; z++ {
		entryTag := f.Tag + uint64(z*mod.SubBlockSize)
		firstSharer := true

		for _, node := range dir.Entry(f.Set, f.Way, z).Sharers() {
			sharer := mod.HighModuleAt(node)
			if sharer == nil {
				panic(fmt.Sprintf("%s: sharer %d of %#x is not a module",
					mod.Name, node, entryTag))
			}

			if sharer == f.Except {
				continue
			}

			dir.ClearSharer(f.Set, f.Way, z, node)
			if dir.Owner(f.Set, f.Way, z) == node {
				dir.SetOwner(f.Set, f.Way, z, directory.NoOwner)
			}

			// A sharer with a larger block is recalled once, at the start
			// of its block.
			if entryTag%uint64(sharer.BlockSize) != 0 {
				continue
			}

			c := e.child(f, mod, entryTag)
			c.Target = sharer
			c.RequestDir = module.DownUp

			if firstSharer && canSendToPeer(mod, sharer, f.Peer) {
				c.Peer = f.Peer
				firstSharer = false
			}

			f.Pending++
			e.sim.Call(e.evWriteRequest, c, e.evInvalidateFinish)
		}
	}

	e.sim.Schedule(e.evInvalidateFinish, f, 0)
}

func (e *Engine) invalidateFinish(f *module.Frame) {
	mod := f.Module

	if f.Pending <= 0 {
		panic(fmt.Sprintf("%s: invalidate of %#x joined too often",
			mod.Name, f.Tag))
	}

	f.Pending--
	if f.Pending > 0 {
		return
	}

	// Dirty data recalled from above now lives in this line.
	if f.Reply == module.ReplyAckData && mod.Kind != module.KindMainMemory {
		mod.Cache.SetBlock(f.Set, f.Way, f.Tag, cache.Modified)
	}

	e.sim.Return(f)
}

// canSendToPeer reports whether a module recalled by mod can send its copy
// directly to peer.
func canSendToPeer(mod, from, peer *module.Module) bool {
	return peer != nil &&
		mod.PeerTransfers &&
		from != peer &&
		from.LowNet != nil &&
		from.LowNet == peer.LowNet
}
