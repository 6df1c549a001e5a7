package module

import (
	"fmt"
)

// CanAccess reports whether a new access can start: a port must be free
// and, with an MSHR limit, fewer than MSHRSize non-coalesced accesses may be
// in flight.
func (m *Module) CanAccess(addr uint64) bool {
	if m.numLockedPorts >= len(m.ports) {
		return false
	}

	if m.MSHRSize == 0 {
		return true
	}

	return m.accessList.Len()-m.numCoalesced < m.MSHRSize
}

// NumInFlight returns the number of in-flight accesses.
func (m *Module) NumInFlight() int {
	return m.accessList.Len()
}

// NumCoalesced returns the number of in-flight coalesced accesses.
func (m *Module) NumCoalesced() int {
	return m.numCoalesced
}

// StartAccess records frame as an in-flight access of the given kind.
func (m *Module) StartAccess(frame *Frame, kind AccessKind) {
	if frame.accessElem != nil {
		panic(fmt.Sprintf("module %s: access %d started twice",
			m.Name, frame.ID))
	}

	frame.AccessKind = kind
	frame.accessElem = m.accessList.PushBack(frame)

	if kind.IsWrite() {
		frame.writeElem = m.writeList.PushBack(frame)
	}

	block := m.BlockAddr(frame.Addr)
	m.accessByBlock[block] = append(m.accessByBlock[block], frame)
}

// FinishAccess removes frame from the in-flight accesses.
func (m *Module) FinishAccess(frame *Frame) {
	if frame.accessElem == nil {
		panic(fmt.Sprintf("module %s: access %d finished without start",
			m.Name, frame.ID))
	}

	m.accessList.Remove(frame.accessElem)
	frame.accessElem = nil

	if frame.writeElem != nil {
		m.writeList.Remove(frame.writeElem)
		frame.writeElem = nil
	}

	block := m.BlockAddr(frame.Addr)
	bucket := m.accessByBlock[block]

	for i, f := range bucket {
		if f == frame {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}

	if len(bucket) == 0 {
		delete(m.accessByBlock, block)
	} else {
		m.accessByBlock[block] = bucket
	}

	if frame.Coalesced {
		m.numCoalesced--
	}
}

func (m *Module) olderAccess(frame *Frame) *Frame {
	if frame == nil {
		if back := m.accessList.Back(); back != nil {
			return back.Value.(*Frame)
		}

		return nil
	}

	if frame.accessElem == nil {
		return nil
	}

	if prev := frame.accessElem.Prev(); prev != nil {
		return prev.Value.(*Frame)
	}

	return nil
}

// OlderAccess returns the in-flight access right before frame, or nil.
func (m *Module) OlderAccess(frame *Frame) *Frame {
	return m.olderAccess(frame)
}

// CanCoalesce returns the access that a new access of the given kind to
// addr can join, or nil. older is the new access itself when it has already
// been started; only accesses older than it are considered.
//
// A load joins the closest older load to the same block as long as only
// loads sit between them. A store or non-coherent store joins only the
// access right before it, of the same kind and block, that has not locked
// its port yet.
func (m *Module) CanCoalesce(kind AccessKind, addr uint64, older *Frame) *Frame {
	if m.InFlightAddress(addr, older) == nil {
		return nil
	}

	block := m.BlockAddr(addr)
	tail := m.olderAccess(older)

	switch kind {
	case Load:
		for f := tail; f != nil; f = m.olderAccess(f) {
			if f.AccessKind != Load {
				return nil
			}

			if m.BlockAddr(f.Addr) == block {
				return masterOf(f)
			}
		}

		return nil
	case Store, NCStore:
		if tail == nil ||
			tail.AccessKind != kind ||
			m.BlockAddr(tail.Addr) != block ||
			tail.PortLocked {
			return nil
		}

		return masterOf(tail)
	}

	return nil
}

func masterOf(f *Frame) *Frame {
	if f.Master != nil {
		return f.Master
	}

	return f
}

// Coalesce makes frame a follower of master.
func (m *Module) Coalesce(master, frame *Frame) {
	if master.Coalesced {
		panic(fmt.Sprintf("module %s: access %d is coalesced and cannot lead",
			m.Name, master.ID))
	}

	frame.Coalesced = true
	frame.Master = master
	m.numCoalesced++
}

// InFlightAddress returns the youngest in-flight access to addr's block
// that is older than older (any access when older is nil), or nil.
func (m *Module) InFlightAddress(addr uint64, older *Frame) *Frame {
	bucket := m.accessByBlock[m.BlockAddr(addr)]

	for i := len(bucket) - 1; i >= 0; i-- {
		f := bucket[i]
		if older != nil && f.ID >= older.ID {
			continue
		}

		return f
	}

	return nil
}

// InFlightWrite returns the youngest in-flight write to frame's block that
// is older than frame, or nil.
func (m *Module) InFlightWrite(frame *Frame) *Frame {
	block := m.BlockAddr(frame.Addr)

	for e := m.writeList.Back(); e != nil; e = e.Prev() {
		f := e.Value.(*Frame)
		if f.ID >= frame.ID {
			continue
		}

		if m.BlockAddr(f.Addr) == block {
			return f
		}
	}

	return nil
}
