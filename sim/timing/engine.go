package timing

import (
	"github.com/sarchlab/memsim/sim/hooking"
)

// TimeTeller can be used to get the current time.
type TimeTeller interface {
	Now() VTimeInSec
}

// EventScheduler can be used to schedule future events.
type EventScheduler interface {
	TimeTeller

	Schedule(e Event)
}

// An Engine keeps the discrete event simulation running.
type Engine interface {
	hooking.Hookable
	EventScheduler

	// Run processes events until the queue is empty.
	Run() error

	// Pause stops the engine from processing more events until Continue is
	// called.
	Pause()

	// Continue resumes a paused engine.
	Continue()
}
