package protocol

import (
	"fmt"

	"github.com/sarchlab/memsim/mem/directory"
	"github.com/sarchlab/memsim/mem/module"
)

func (e *Engine) registerMessage() {
	e.evMessage = e.register("message", e.message)
	e.evMessageReceive = e.register("message_receive", e.messageReceive)
	e.evMessageAction = e.register("message_action", e.messageAction)
	e.evMessageReply = e.register("message_reply", e.messageReply)
	e.evMessageFinish = e.register("message_finish", e.messageFinish)
}

// message sends the notice f.Message from f.Module to the low module
// f.Target. The target never allocates a line for a notice.
func (e *Engine) message(f *module.Frame) {
	mod := f.Module

	f.Ret().Err = false
	f.Msg = mod.LowNet.TrySend(mod.LowNode, f.Target.HighNode, 8,
		e.evMessageReceive, e.evMessage, f)
}

func (e *Engine) messageReceive(f *module.Frame) {
	target := f.Target

	target.HighNet.Receive(target.HighNode, f.Msg)

	c := e.findAndLockFrame(f, target, f.Addr, true, false)
	e.sim.Call(e.evFindAndLock, c, e.evMessageAction)
}

func (e *Engine) messageAction(f *module.Frame) {
	target := f.Target

	if f.Err {
		f.Ret().Err = true
		e.sim.Schedule(e.evMessageReply, f, 0)

		return
	}

	if f.BlockNotFound {
		e.sim.Schedule(e.evMessageReply, f, 0)
		return
	}

	switch f.Message {
	case module.MessageClearOwner:
		node := f.Module.NodeIndex()

		subBlocksOf(target, f.Tag, f.Addr, f.Module.BlockSize,
			func(z int, _ uint64) {
				if target.Dir.Owner(f.Set, f.Way, z) == node {
					target.Dir.SetOwner(f.Set, f.Way, z, directory.NoOwner)
				}
			})
	default:
		panic(fmt.Sprintf("%s: unknown message %s", target.Name, f.Message))
	}

	target.Dir.UnlockEntry(f.Set, f.Way)
	e.sim.Schedule(e.evMessageReply, f, 0)
}

func (e *Engine) messageReply(f *module.Frame) {
	target := f.Target

	f.Msg = target.HighNet.TrySend(target.HighNode, f.Module.LowNode, 8,
		e.evMessageFinish, e.evMessageReply, f)
}

func (e *Engine) messageFinish(f *module.Frame) {
	f.Module.LowNet.Receive(f.Module.LowNode, f.Msg)
	e.sim.Return(f)
}
