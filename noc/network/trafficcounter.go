package network

import (
	"github.com/sarchlab/memsim/sim/hooking"
)

// A TrafficCounter counts the bytes delivered between each pair of nodes.
type TrafficCounter struct {
	TotalData uint64
	PerLink   map[[2]string]uint64
}

// NewTrafficCounter creates an empty TrafficCounter.
func NewTrafficCounter() *TrafficCounter {
	return &TrafficCounter{PerLink: make(map[[2]string]uint64)}
}

// Func adds the delivered traffic to the counter.
func (c *TrafficCounter) Func(ctx hooking.HookCtx) {
	if ctx.Pos != HookPosMsgReceive {
		return
	}

	msg := ctx.Item.(*Message)
	c.TotalData += uint64(msg.Size)
	c.PerLink[[2]string{msg.Src.Name, msg.Dst.Name}] += uint64(msg.Size)
}
