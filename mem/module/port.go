package module

import (
	"fmt"

	"github.com/sarchlab/memsim/sim/esim"
)

// Port is an access port of a module. A frame must hold a port to look up
// the module's directory.
type Port struct {
	Index int
	Frame *Frame
}

type portWaiter struct {
	frame *Frame
	evt   *esim.EventType
}

// NumPorts returns the number of ports.
func (m *Module) NumPorts() int {
	return len(m.ports)
}

// NumLockedPorts returns the number of ports in use.
func (m *Module) NumLockedPorts() int {
	return m.numLockedPorts
}

// NumPortWaiting returns the number of frames queued for a port.
func (m *Module) NumPortWaiting() int {
	return len(m.portQueue)
}

// LockPort gives frame a free port and resumes it at evt in the current
// cycle. Without a free port the frame is queued. DownUp requests are
// queued ahead of UpDown ones; each class is served in arrival order.
func (m *Module) LockPort(frame *Frame, evt *esim.EventType) {
	if m.numLockedPorts >= len(m.ports) {
		m.enqueuePortWaiter(portWaiter{frame: frame, evt: evt})
		return
	}

	for i := range m.ports {
		p := &m.ports[i]
		if p.Frame != nil {
			continue
		}

		p.Frame = frame
		frame.Port = p
		m.numLockedPorts++
		m.engine.Schedule(evt, frame, 0)

		return
	}

	panic(fmt.Sprintf("module %s: locked port count is inconsistent", m.Name))
}

func (m *Module) enqueuePortWaiter(w portWaiter) {
	for _, queued := range m.portQueue {
		if queued.frame == w.frame {
			panic(fmt.Sprintf("module %s: frame %d already waits for a port",
				m.Name, w.frame.ID))
		}
	}

	if w.frame.RequestDir != DownUp {
		m.portQueue = append(m.portQueue, w)
		return
	}

	pos := 0
	for pos < len(m.portQueue) && m.portQueue[pos].frame.RequestDir == DownUp {
		pos++
	}

	m.portQueue = append(m.portQueue, portWaiter{})
	copy(m.portQueue[pos+1:], m.portQueue[pos:])
	m.portQueue[pos] = w
}

// UnlockPort releases the port held by frame and hands it to the first
// queued frame, if any.
func (m *Module) UnlockPort(port *Port, frame *Frame) {
	if port == nil || port.Frame != frame || frame.Port != port {
		panic(fmt.Sprintf("module %s: frame %d does not hold the port",
			m.Name, frame.ID))
	}

	port.Frame = nil
	frame.Port = nil
	m.numLockedPorts--

	if len(m.portQueue) == 0 {
		return
	}

	next := m.portQueue[0]
	m.portQueue = m.portQueue[1:]

	m.LockPort(next.frame, next.evt)
}
