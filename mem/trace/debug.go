package trace

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/memsim/noc/network"
	"github.com/sarchlab/memsim/sim/hooking"
)

// CycleTeller tells the current cycle.
type CycleTeller interface {
	Cycle() uint64
}

// DebugTracer writes one debug entry per task start, task step, task end,
// and network message. Attach it to modules and to networks.
type DebugTracer struct {
	logger *logrus.Logger
	clock  CycleTeller
}

// NewDebugTracer creates a DebugTracer that writes into logger.
func NewDebugTracer(logger *logrus.Logger, clock CycleTeller) *DebugTracer {
	return &DebugTracer{logger: logger, clock: clock}
}

// Func logs a hook invocation.
func (t *DebugTracer) Func(ctx hooking.HookCtx) {
	if !t.logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}

	entry := t.logger.WithField("cycle", t.clock.Cycle())

	switch ctx.Pos {
	case hooking.HookPosTaskStart:
		ts := ctx.Item.(hooking.TaskStart)
		entry.WithFields(logrus.Fields{
			"id":     ts.ID,
			"parent": ts.ParentID,
			"kind":   ts.Kind,
			"what":   ts.What,
			"module": ts.Where,
			"addr":   fmt.Sprintf("0x%x", ts.Addr),
		}).Debug("mem.new_access")
	case hooking.HookPosTaskStep:
		ts := ctx.Item.(hooking.TaskStep)
		entry.WithFields(logrus.Fields{
			"id":     ts.TaskID,
			"state":  ts.What,
			"detail": ts.Detail,
		}).Debug("mem.access")
	case hooking.HookPosTaskEnd:
		entry.WithField("id", ctx.Item.(hooking.TaskEnd).ID).
			Debug("mem.end_access")
	case network.HookPosMsgSend, network.HookPosMsgReceive:
		msg := ctx.Item.(*network.Message)
		entry.WithFields(logrus.Fields{
			"net":    msg.Src.Network().Name(),
			"msg":    msg.ID,
			"action": ctx.Pos.Name,
			"src":    msg.Src.Name,
			"dst":    msg.Dst.Name,
			"size":   msg.Size,
		}).Debug("net.msg_access")
	}
}

// MsgEntry is a row of MsgTable.
type MsgEntry struct {
	Network     string
	ID          uint64
	Src         string
	Dst         string
	Size        int
	SendCycle   uint64
	ArriveCycle uint64
}

// MsgRecorder stores every delivered network message. Attach it to
// networks.
type MsgRecorder struct {
	recorder Recorder
	clock    CycleTeller
}

// Recorder is the part of a data recorder that MsgRecorder needs.
type Recorder interface {
	CreateTable(tableName string, sampleEntry any)
	InsertData(tableName string, entry any)
}

// NewMsgRecorder creates the message table in recorder.
func NewMsgRecorder(recorder Recorder, clock CycleTeller) *MsgRecorder {
	recorder.CreateTable(MsgTable, MsgEntry{})

	return &MsgRecorder{recorder: recorder, clock: clock}
}

// Func records a message when it is received.
func (r *MsgRecorder) Func(ctx hooking.HookCtx) {
	if ctx.Pos != network.HookPosMsgReceive {
		return
	}

	msg := ctx.Item.(*network.Message)
	r.recorder.InsertData(MsgTable, MsgEntry{
		Network:     msg.Src.Network().Name(),
		ID:          msg.ID,
		Src:         msg.Src.Name,
		Dst:         msg.Dst.Name,
		Size:        msg.Size,
		SendCycle:   msg.SendCycle,
		ArriveCycle: r.clock.Cycle(),
	})
}
