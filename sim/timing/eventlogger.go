package timing

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/memsim/sim/hooking"
)

// EventLogger is a hook that logs every event before it is handled.
type EventLogger struct {
	logger *logrus.Logger
}

// NewEventLogger returns an EventLogger writing to logger at debug level.
func NewEventLogger(logger *logrus.Logger) *EventLogger {
	return &EventLogger{logger: logger}
}

type named interface {
	Name() string
}

// Func writes the event information into the logger.
func (h *EventLogger) Func(ctx hooking.HookCtx) {
	if ctx.Pos != HookPosBeforeEvent {
		return
	}

	evt, ok := ctx.Item.(Event)
	if !ok {
		return
	}

	h.logger.WithFields(logrus.Fields{
		"time":    fmt.Sprintf("%.10f", evt.Time()),
		"event":   nameOf(evt),
		"handler": nameOf(evt.Handler()),
	}).Debug("event")
}

func nameOf(v any) string {
	if n, ok := v.(named); ok {
		return n.Name()
	}

	return fmt.Sprintf("%T", v)
}
