// Package network models the links between memory modules. A Network
// connects end nodes; messages pay a fixed latency plus a transfer time set
// by the bandwidth, and each node has a finite output buffer. A send that
// does not fit waits until the buffer drains.
package network

import (
	"fmt"
	"log"

	"github.com/sarchlab/memsim/sim/esim"
	"github.com/sarchlab/memsim/sim/hooking"
)

// Hook positions of a Network. The item is the *Message.
var (
	HookPosMsgSend    = &hooking.HookPos{Name: "MsgSend"}
	HookPosMsgReceive = &hooking.HookPos{Name: "MsgReceive"}
)

// A Message is one transfer between two nodes.
type Message struct {
	ID        uint64
	Src, Dst  *Node
	Size      int
	SendCycle uint64
}

// Node is an end point of a Network.
type Node struct {
	Index    int
	Name     string
	UserData any

	net      *Network
	occupied int
	linkFree uint64
	waiters  []waiter
}

// Network returns the network the node belongs to.
func (n *Node) Network() *Network {
	return n.net
}

// BufferOccupancy returns the bytes sent by the node and not yet received.
func (n *Node) BufferOccupancy() int {
	return n.occupied
}

type waiter struct {
	evt   *esim.EventType
	frame esim.Frame
}

// Stats counts the traffic of a Network.
type Stats struct {
	Messages uint64 `yaml:"messages"`
	Bytes    uint64 `yaml:"bytes"`
	Stalls   uint64 `yaml:"stalls"`
}

// Network is a set of nodes that can message each other.
type Network struct {
	hooking.HookableBase

	name       string
	engine     *esim.Engine
	latency    int
	bandwidth  int
	bufferSize int

	nodes     []*Node
	nodeByKey map[string]*Node
	nextMsgID uint64
	stats     Stats
}

// Name returns the name of the network.
func (n *Network) Name() string {
	return n.name
}

// Stats returns the traffic counters.
func (n *Network) Stats() Stats {
	return n.stats
}

// BufferSize returns the output buffer of each node in bytes. Zero means
// unlimited.
func (n *Network) BufferSize() int {
	return n.bufferSize
}

// Nodes returns all the nodes in index order.
func (n *Network) Nodes() []*Node {
	return n.nodes
}

// NodeByName looks up a node.
func (n *Network) NodeByName(name string) (*Node, bool) {
	node, ok := n.nodeByKey[name]
	return node, ok
}

// AddEndNode adds a node. userData is carried along for the owner of the
// node, usually the module attached to it.
func (n *Network) AddEndNode(name string, userData any) *Node {
	if _, found := n.nodeByKey[name]; found {
		log.Panicf("network %s: node %s already exists", n.name, name)
	}

	node := &Node{
		Index:    len(n.nodes),
		Name:     name,
		UserData: userData,
		net:      n,
	}

	n.nodes = append(n.nodes, node)
	n.nodeByKey[name] = node

	return node
}

// TrySend sends size bytes from src to dst. On success the message is
// returned and frame is scheduled at receiveEvt when the message arrives.
// If src has no room in its output buffer, nil is returned and frame is
// scheduled at retryEvt once the buffer drains; the handler at retryEvt
// should try sending again.
func (n *Network) TrySend(
	src, dst *Node,
	size int,
	receiveEvt, retryEvt *esim.EventType,
	frame esim.Frame,
) *Message {
	n.mustOwn(src)
	n.mustOwn(dst)

	if size <= 0 {
		log.Panicf("network %s: invalid message size %d", n.name, size)
	}

	if !n.hasRoom(src, size) {
		src.waiters = append(src.waiters, waiter{evt: retryEvt, frame: frame})
		n.stats.Stalls++

		return nil
	}

	now := n.engine.Cycle()
	start := max(now, src.linkFree)
	src.linkFree = start + uint64(n.transferCycles(size))
	arrival := src.linkFree + uint64(n.latency)

	n.nextMsgID++
	msg := &Message{
		ID:        n.nextMsgID,
		Src:       src,
		Dst:       dst,
		Size:      size,
		SendCycle: now,
	}

	src.occupied += size
	n.stats.Messages++
	n.stats.Bytes += uint64(size)

	n.InvokeHook(hooking.HookCtx{Domain: n, Pos: HookPosMsgSend, Item: msg})

	n.engine.Schedule(receiveEvt, frame, int(arrival-now))

	return msg
}

func (n *Network) hasRoom(src *Node, size int) bool {
	if n.bufferSize <= 0 || src.occupied == 0 {
		return true
	}

	return src.occupied+size <= n.bufferSize
}

func (n *Network) transferCycles(size int) int {
	if n.bandwidth <= 0 {
		return 0
	}

	return (size + n.bandwidth - 1) / n.bandwidth
}

// Receive consumes msg at node. It frees the sender's buffer and wakes the
// frames waiting for it, oldest first.
func (n *Network) Receive(node *Node, msg *Message) {
	if msg == nil {
		log.Panicf("network %s: receiving a nil message at %s", n.name, node.Name)
	}

	if msg.Dst != node {
		panic(fmt.Sprintf("network %s: message %d for %s received at %s",
			n.name, msg.ID, msg.Dst.Name, node.Name))
	}

	src := msg.Src
	src.occupied -= msg.Size

	n.InvokeHook(hooking.HookCtx{Domain: n, Pos: HookPosMsgReceive, Item: msg})

	waiters := src.waiters
	src.waiters = nil

	for _, w := range waiters {
		n.engine.Schedule(w.evt, w.frame, 0)
	}
}

func (n *Network) mustOwn(node *Node) {
	if node == nil || node.net != n {
		log.Panicf("network %s: node does not belong to this network", n.name)
	}
}
