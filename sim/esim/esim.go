// Package esim provides continuation-style scheduling on top of the timing
// engine. Handlers are registered as event types; a handler runs with a
// Frame that carries the state of one logical request. Frames can call each
// other, return to their callers, and wait for other frames to finish.
package esim

import (
	"fmt"
	"log"

	"github.com/sarchlab/memsim/sim/timing"
)

// HandlerFunc handles one event type for a frame.
type HandlerFunc func(evt *EventType, frame Frame)

// EventType is a registered kind of event.
type EventType struct {
	ID      int
	Name    string
	handler HandlerFunc
}

func (t *EventType) String() string {
	return t.Name
}

// A Frame is the context a handler runs with. Implementations embed
// FrameBase.
type Frame interface {
	base() *FrameBase
}

// FrameBase holds the caller linkage and the wait list of a frame.
type FrameBase struct {
	parent      Frame
	returnEvent *EventType
	waiters     []waiter
}

func (f *FrameBase) base() *FrameBase {
	return f
}

// Parent returns the frame that called this frame, or nil for a root frame.
func (f *FrameBase) Parent() Frame {
	return f.parent
}

// ReturnEvent returns the event scheduled for the parent on Return.
func (f *FrameBase) ReturnEvent() *EventType {
	return f.returnEvent
}

// NumWaiters returns the number of frames waiting for this frame to return.
func (f *FrameBase) NumWaiters() int {
	return len(f.waiters)
}

type waiter struct {
	evt   *EventType
	frame Frame
}

type frameEvent struct {
	*timing.EventBase
	evt   *EventType
	frame Frame
}

func (e frameEvent) Name() string {
	return e.evt.Name
}

// Engine dispatches event types to their handlers. Delays are in cycles of
// the engine frequency.
type Engine struct {
	sim    *timing.SerialEngine
	freq   timing.Freq
	types  []*EventType
	byName map[string]*EventType

	current      Frame
	currentEvent *EventType
}

// NewEngine creates an Engine driving sim at the given frequency.
func NewEngine(sim *timing.SerialEngine, freq timing.Freq) *Engine {
	if freq <= 0 {
		log.Panicf("invalid engine frequency %f", float64(freq))
	}

	return &Engine{
		sim:    sim,
		freq:   freq,
		byName: make(map[string]*EventType),
	}
}

// Name returns the name of the engine.
func (e *Engine) Name() string {
	return "esim"
}

// Timing returns the underlying timing engine.
func (e *Engine) Timing() *timing.SerialEngine {
	return e.sim
}

// Freq returns the cycle frequency.
func (e *Engine) Freq() timing.Freq {
	return e.freq
}

// RegisterEventType adds a named event type. Names must be unique.
func (e *Engine) RegisterEventType(name string, handler HandlerFunc) *EventType {
	if _, found := e.byName[name]; found {
		log.Panicf("event type %s already registered", name)
	}

	if handler == nil {
		log.Panicf("event type %s has no handler", name)
	}

	t := &EventType{
		ID:      len(e.types),
		Name:    name,
		handler: handler,
	}

	e.types = append(e.types, t)
	e.byName[name] = t

	return t
}

// EventTypeByName looks up a registered event type.
func (e *Engine) EventTypeByName(name string) (*EventType, bool) {
	t, ok := e.byName[name]
	return t, ok
}

// NumEventTypes returns the number of registered event types.
func (e *Engine) NumEventTypes() int {
	return len(e.types)
}

// Cycle returns the current cycle.
func (e *Engine) Cycle() uint64 {
	return e.freq.Cycle(e.sim.Now())
}

// Now returns the current time.
func (e *Engine) Now() timing.VTimeInSec {
	return e.sim.Now()
}

// CurrentFrame returns the frame whose handler is running, or nil outside
// of a handler.
func (e *Engine) CurrentFrame() Frame {
	return e.current
}

// CurrentEvent returns the event type being handled.
func (e *Engine) CurrentEvent() *EventType {
	return e.currentEvent
}

// Schedule runs evt with frame after delay cycles. Events scheduled for the
// same cycle run in the order they were scheduled.
func (e *Engine) Schedule(evt *EventType, frame Frame, delay int) {
	if evt == nil {
		log.Panic("scheduling a nil event type")
	}

	if delay < 0 {
		log.Panicf("negative delay %d for event %s", delay, evt.Name)
	}

	t := e.freq.CycleTime(e.Cycle() + uint64(delay))

	e.sim.Schedule(frameEvent{
		EventBase: timing.NewEventBase(t, e),
		evt:       evt,
		frame:     frame,
	})
}

// Call starts child with evt in the current cycle. The frame being handled
// becomes the parent of child and is resumed with returnEvt when child
// returns. A nil returnEvt makes the call fire-and-forget.
func (e *Engine) Call(evt *EventType, child Frame, returnEvt *EventType) {
	b := child.base()
	b.parent = e.current
	b.returnEvent = returnEvt

	e.Schedule(evt, child, 0)
}

// Return finishes frame. Its parent resumes at the return event, and the
// frames waiting on it resume at their wait events, all in the current
// cycle.
func (e *Engine) Return(frame Frame) {
	b := frame.base()

	if b.parent != nil && b.returnEvent != nil {
		e.Schedule(b.returnEvent, b.parent, 0)
	}

	e.wakeWaiters(b)
}

// Wait suspends frame until on returns; frame then resumes at evt.
func (e *Engine) Wait(frame Frame, on Frame, evt *EventType) {
	b := on.base()
	b.waiters = append(b.waiters, waiter{evt: evt, frame: frame})
}

func (e *Engine) wakeWaiters(b *FrameBase) {
	waiters := b.waiters
	b.waiters = nil

	for _, w := range waiters {
		e.Schedule(w.evt, w.frame, 0)
	}
}

// Handle dispatches a scheduled event to its handler.
func (e *Engine) Handle(evt timing.Event) error {
	fe, ok := evt.(frameEvent)
	if !ok {
		return fmt.Errorf("esim cannot handle event %T", evt)
	}

	prevFrame, prevEvent := e.current, e.currentEvent
	e.current, e.currentEvent = fe.frame, fe.evt

	fe.evt.handler(fe.evt, fe.frame)

	e.current, e.currentEvent = prevFrame, prevEvent

	return nil
}

// Run processes events until no event is left.
func (e *Engine) Run() error {
	return e.sim.Run()
}
