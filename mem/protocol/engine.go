// Package protocol implements the NMOESI directory protocol. Every phase of
// a request is an event handler registered on an Engine; handlers pass
// module.Frame values to each other through the esim scheduler.
package protocol

import (
	"fmt"

	"github.com/sarchlab/memsim/mem/module"
	"github.com/sarchlab/memsim/sim/esim"
)

// Engine owns the protocol event types of one simulation.
type Engine struct {
	sim    *esim.Engine
	nextID uint64

	evLoad, evLoadLock, evLoadAction, evLoadMiss *esim.EventType
	evLoadUnlock, evLoadFinish                   *esim.EventType

	evStore, evStoreLock, evStoreAction *esim.EventType
	evStoreUnlock, evStoreFinish        *esim.EventType

	evNCStore, evNCStoreLock, evNCStoreWriteback, evNCStoreAction *esim.EventType
	evNCStoreMiss, evNCStoreUnlock, evNCStoreFinish               *esim.EventType

	evPrefetch, evPrefetchLock, evPrefetchAction, evPrefetchMiss *esim.EventType
	evPrefetchUnlock, evPrefetchFinish                           *esim.EventType

	evFindAndLock, evFindAndLockPort         *esim.EventType
	evFindAndLockAction, evFindAndLockFinish *esim.EventType

	evEvict, evEvictInvalid, evEvictAction, evEvictReceive *esim.EventType
	evEvictWriteback, evEvictWritebackExclusive            *esim.EventType
	evEvictWritebackFinish, evEvictProcess                 *esim.EventType
	evEvictReply, evEvictReplyReceive, evEvictFinish       *esim.EventType

	evWriteRequest, evWriteRequestReceive, evWriteRequestAction *esim.EventType
	evWriteRequestExclusive, evWriteRequestUpdown               *esim.EventType
	evWriteRequestUpdownFinish, evWriteRequestDownup            *esim.EventType
	evWriteRequestDownupFinish, evWriteRequestReply             *esim.EventType
	evWriteRequestFinish                                        *esim.EventType

	evReadRequest, evReadRequestReceive, evReadRequestAction *esim.EventType
	evReadRequestUpdown, evReadRequestUpdownMiss             *esim.EventType
	evReadRequestUpdownFinish, evReadRequestDownup           *esim.EventType
	evReadRequestDownupWait, evReadRequestDownupFinish       *esim.EventType
	evReadRequestReply, evReadRequestFinish                  *esim.EventType

	evInvalidate, evInvalidateFinish *esim.EventType

	evPeerSend, evPeerReceive, evPeerReplyAck, evPeerFinish *esim.EventType

	evMessage, evMessageReceive, evMessageAction *esim.EventType
	evMessageReply, evMessageFinish              *esim.EventType

	evFlush, evFlushBlock, evFlushBlockEvicted, evFlushFinish *esim.EventType

	evLocalLoad, evLocalStore, evLocalLock *esim.EventType
	evLocalAction, evLocalFinish           *esim.EventType

	evLocalFindAndLock, evLocalFindAndLockPort *esim.EventType
	evLocalFindAndLockAction                   *esim.EventType
}

// NewEngine registers the protocol event types on sim.
func NewEngine(sim *esim.Engine) *Engine {
	e := &Engine{sim: sim}

	e.registerLoad()
	e.registerStore()
	e.registerNCStore()
	e.registerPrefetch()
	e.registerFindAndLock()
	e.registerEvict()
	e.registerWriteRequest()
	e.registerReadRequest()
	e.registerInvalidate()
	e.registerPeer()
	e.registerMessage()
	e.registerFlush()
	e.registerLocal()

	return e
}

// Sim returns the scheduler the engine runs on.
func (e *Engine) Sim() *esim.Engine {
	return e.sim
}

// Access issues a client access of the given kind to mod. The access starts
// in the current cycle. When it finishes, *witness is incremented if witness
// is not nil.
func (e *Engine) Access(
	mod *module.Module,
	kind module.AccessKind,
	addr uint64,
	witness *int,
) *module.Frame {
	f := e.newAccessFrame(mod, addr, witness)
	e.sim.Schedule(e.accessEvent(mod, kind), f, 0)

	return f
}

// Flush writes back and invalidates every valid block of mod. *witness is
// incremented once all the blocks are flushed.
func (e *Engine) Flush(mod *module.Module, witness *int) *module.Frame {
	f := e.newAccessFrame(mod, 0, witness)
	e.sim.Schedule(e.evFlush, f, 0)

	return f
}

func (e *Engine) newAccessFrame(
	mod *module.Module,
	addr uint64,
	witness *int,
) *module.Frame {
	e.nextID++

	f := module.NewFrame(e.nextID, mod, addr)
	f.Witness = witness
	f.StartCycle = e.sim.Cycle()

	return f
}

func (e *Engine) accessEvent(
	mod *module.Module,
	kind module.AccessKind,
) *esim.EventType {
	if mod.Kind == module.KindLocalMemory {
		if kind.IsWrite() {
			return e.evLocalStore
		}

		return e.evLocalLoad
	}

	switch kind {
	case module.Load:
		return e.evLoad
	case module.Store:
		return e.evStore
	case module.NCStore:
		return e.evNCStore
	case module.Prefetch:
		return e.evPrefetch
	}

	panic(fmt.Sprintf("invalid access kind %d", kind))
}

// register adds an event type whose handler runs h with the event's frame.
func (e *Engine) register(name string, h func(f *module.Frame)) *esim.EventType {
	return e.sim.RegisterEventType(name,
		func(evt *esim.EventType, frame esim.Frame) {
			f := frame.(*module.Frame)
			e.traceStep(f, evt.Name)
			h(f)
		})
}

func (e *Engine) traceStep(f *module.Frame, state string) {
	detail := ""
	if f.Target != nil {
		detail = f.Target.Name
	}

	f.Module.TraceStep(f, state, detail)
}

// child creates a frame that belongs to the same access as parent.
func (e *Engine) child(
	parent *module.Frame,
	mod *module.Module,
	addr uint64,
) *module.Frame {
	return module.NewFrame(parent.ID, mod, addr)
}

// findAndLockFrame creates the frame of a FindAndLock call on mod.
func (e *Engine) findAndLockFrame(
	parent *module.Frame,
	mod *module.Module,
	addr uint64,
	blocking, read bool,
) *module.Frame {
	c := e.child(parent, mod, addr)
	c.Blocking = blocking
	c.Read = read
	c.Write = !read
	c.Retry = parent.Retry
	c.RequestDir = parent.RequestDir
	c.NCWrite = parent.NCWrite
	c.Message = parent.Message

	return c
}

// upDownRequest creates the frame of a request from mod to the low module
// serving tag.
func (e *Engine) upDownRequest(
	parent *module.Frame,
	mod *module.Module,
	tag uint64,
) *module.Frame {
	c := e.child(parent, mod, tag)
	c.Target = mod.MustLowModuleServingAddress(tag)
	c.RequestDir = module.UpDown

	return c
}

// beginAccess records a client access on its module.
func (e *Engine) beginAccess(f *module.Frame, kind module.AccessKind) {
	f.Module.StartAccess(f, kind)
	f.Module.TraceStart(f, "mem", kind.String())
}

// endAccess finishes a client access and returns to its waiters.
func (e *Engine) endAccess(f *module.Frame) {
	if f.Witness != nil {
		*f.Witness++
	}

	f.Module.FinishAccess(f)
	f.Module.TraceEnd(f)
	e.sim.Return(f)
}

// retry reschedules a client access at evt after a random back-off.
func (e *Engine) retry(f *module.Frame, evt *esim.EventType) {
	f.Retry = true
	e.sim.Schedule(evt, f, f.Module.RetryLatency())
}

func (e *Engine) unlock(f *module.Frame) {
	f.Module.Dir.UnlockEntry(f.Set, f.Way)
}

// subBlocksOf calls fn for each sub-block of the (set, way) line of mod,
// tagged tag, that falls in the block [addr, addr+size).
func subBlocksOf(
	mod *module.Module,
	tag, addr uint64,
	size int,
	fn func(z int, entryTag uint64),
) {
	for z := 0; z < mod.NumSubBlocks; z++ {
		entryTag := tag + uint64(z*mod.SubBlockSize)
		if entryTag < addr || entryTag >= addr+uint64(size) {
			continue
		}

		fn(z, entryTag)
	}
}
