package module

import (
	"container/list"
	"fmt"
	"strings"

	"github.com/sarchlab/memsim/mem/cache"
	"github.com/sarchlab/memsim/noc/network"
	"github.com/sarchlab/memsim/sim/esim"
)

// AccessKind is the kind of a client access.
type AccessKind int

// Access kinds. AccessNone marks frames that are not client accesses.
const (
	AccessNone AccessKind = iota
	Load
	Store
	NCStore
	Prefetch
)

func (k AccessKind) String() string {
	switch k {
	case Load:
		return "load"
	case Store:
		return "store"
	case NCStore:
		return "nc_store"
	case Prefetch:
		return "prefetch"
	}

	return "none"
}

// ParseAccessKind parses the name of an access kind. Names are case
// insensitive.
func ParseAccessKind(s string) (AccessKind, error) {
	switch strings.ToLower(s) {
	case "load":
		return Load, nil
	case "store":
		return Store, nil
	case "ncstore", "nc_store":
		return NCStore, nil
	case "prefetch":
		return Prefetch, nil
	}

	return AccessNone, fmt.Errorf("invalid access kind %q", s)
}

// IsWrite returns true for the kinds kept in the write list.
func (k AccessKind) IsWrite() bool {
	return k == Store || k == NCStore
}

// Direction is the direction of a coherence request.
type Direction int

// Request directions. UpDown requests go from a module to the module below
// it; DownUp requests recall a block from a module above.
const (
	UpDown Direction = iota
	DownUp
)

func (d Direction) String() string {
	if d == DownUp {
		return "down_up"
	}

	return "up_down"
}

// ReplyKind accumulates the outcome of a request. Larger values win.
type ReplyKind int

// Reply kinds, in increasing priority.
const (
	ReplyNone ReplyKind = iota
	ReplyAck
	ReplyAckDataSentToPeer
	ReplyAckData
	ReplyAckError
)

func (r ReplyKind) String() string {
	switch r {
	case ReplyAck:
		return "ack"
	case ReplyAckDataSentToPeer:
		return "ack_data_sent_to_peer"
	case ReplyAckData:
		return "ack_data"
	case ReplyAckError:
		return "ack_error"
	}

	return "none"
}

// MessageKind is the kind of a protocol message.
type MessageKind int

// Message kinds.
const (
	MessageNone MessageKind = iota
	MessageClearOwner
)

func (k MessageKind) String() string {
	if k == MessageClearOwner {
		return "clear_owner"
	}

	return "none"
}

// Frame is the context of one access or one coherence request. A frame is
// created by the handler that starts the request and lives until the
// request returns to its caller.
type Frame struct {
	esim.FrameBase

	ID         uint64
	Module     *Module
	Target     *Module
	Addr       uint64
	AccessKind AccessKind
	RequestDir Direction

	Set, Way int
	Tag      uint64
	State    cache.BlockState
	Hit      bool

	// Eviction source, at the evicting module.
	SrcSet, SrcWay int
	SrcTag         uint64
	SrcState       cache.BlockState

	Pending   int
	Reply     ReplyKind
	ReplySize int
	Err       bool
	Retry     bool

	Blocking      bool
	Read          bool
	Write         bool
	NCWrite       bool
	Eviction      bool
	Writeback     bool
	BlockNotFound bool
	PortLocked    bool
	Shared        bool
	RetainOwner   bool

	Port    *Port
	Except  *Module
	Peer    *Module
	Message MessageKind
	Msg     *network.Message

	Master    *Frame
	Coalesced bool
	Witness   *int

	// FlushSet and FlushWay iterate the blocks of a flush.
	FlushSet, FlushWay int

	StartCycle uint64

	accessElem *list.Element
	writeElem  *list.Element
}

// NewFrame creates a frame for mod. Set and Way start unresolved.
func NewFrame(id uint64, mod *Module, addr uint64) *Frame {
	return &Frame{
		ID:     id,
		Module: mod,
		Addr:   addr,
		Set:    -1,
		Way:    -1,
	}
}

// Ret returns the frame that called this one, or nil.
func (f *Frame) Ret() *Frame {
	p := f.Parent()
	if p == nil {
		return nil
	}

	return p.(*Frame)
}

// SetReply raises the reply kind; a lower kind never replaces a higher one.
func (f *Frame) SetReply(r ReplyKind) {
	if r > f.Reply {
		f.Reply = r
	}
}

// HasWay reports whether a way has been chosen.
func (f *Frame) HasWay() bool {
	return f.Way >= 0
}

func (f *Frame) String() string {
	name := "<nil>"
	if f.Module != nil {
		name = f.Module.Name
	}

	return fmt.Sprintf("A-%d %s %#x", f.ID, name, f.Addr)
}
