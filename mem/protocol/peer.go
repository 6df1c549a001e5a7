package protocol

import "github.com/sarchlab/memsim/mem/module"

func (e *Engine) registerPeer() {
	e.evPeerSend = e.register("peer_send", e.peerSend)
	e.evPeerReceive = e.register("peer_receive", e.peerReceive)
	e.evPeerReplyAck = e.register("peer_reply_ack", e.peerReplyAck)
	e.evPeerFinish = e.register("peer_finish", e.peerFinish)
}

// peerSend moves a block from f.Target to its sibling f.Peer over the
// network they share, without going through the module below them.
func (e *Engine) peerSend(f *module.Frame) {
	src := f.Target

	f.Msg = src.LowNet.TrySend(src.LowNode, f.Peer.LowNode, src.BlockSize+8,
		e.evPeerReceive, e.evPeerSend, f)
	if f.Msg != nil {
		src.Stats.PeerTransfers++
	}
}

func (e *Engine) peerReceive(f *module.Frame) {
	peer := f.Peer

	peer.LowNet.Receive(peer.LowNode, f.Msg)
	e.sim.Schedule(e.evPeerReplyAck, f, 0)
}

func (e *Engine) peerReplyAck(f *module.Frame) {
	peer := f.Peer

	f.Msg = peer.LowNet.TrySend(peer.LowNode, f.Target.LowNode, 8,
		e.evPeerFinish, e.evPeerReplyAck, f)
}

func (e *Engine) peerFinish(f *module.Frame) {
	src := f.Target

	src.LowNet.Receive(src.LowNode, f.Msg)
	e.sim.Return(f)
}
