// Package hooking lets simulation objects expose observation points. Tracers,
// loggers, and monitors attach to a Hookable and receive a HookCtx every
// time the object reaches one of its HookPos.
package hooking

// HookPos names a point in the life of a hookable object.
type HookPos struct {
	Name string
}

// HookCtx describes a single hook invocation.
type HookCtx struct {
	Domain Hookable
	Pos    *HookPos
	Item   any
	Detail any
}

// Hookable is implemented by objects that accept hooks.
type Hookable interface {
	// AcceptHook attaches a hook.
	AcceptHook(hook Hook)

	// NumHooks returns the number of attached hooks.
	NumHooks() int

	// Hooks returns the attached hooks in attach order.
	Hooks() []Hook
}

// Hook is invoked by a Hookable.
type Hook interface {
	Func(ctx HookCtx)
}

// HookFunc adapts a plain function to the Hook interface.
type HookFunc func(ctx HookCtx)

// Func calls f.
func (f HookFunc) Func(ctx HookCtx) {
	f(ctx)
}

// HookableBase implements Hookable. Embed it and call InvokeHook at the
// hook positions.
type HookableBase struct {
	hooks []Hook
}

// NumHooks returns the number of attached hooks.
func (h *HookableBase) NumHooks() int {
	return len(h.hooks)
}

// Hooks returns the attached hooks.
func (h *HookableBase) Hooks() []Hook {
	return h.hooks
}

// AcceptHook attaches a hook. Attaching the same hook twice panics.
func (h *HookableBase) AcceptHook(hook Hook) {
	for _, existing := range h.hooks {
		if sameHook(existing, hook) {
			panic("hook already attached")
		}
	}

	h.hooks = append(h.hooks, hook)
}

func sameHook(a, b Hook) bool {
	_, aIsFunc := a.(HookFunc)
	_, bIsFunc := b.(HookFunc)

	if aIsFunc || bIsFunc {
		return false
	}

	return a == b
}

// InvokeHook calls every attached hook with ctx.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.hooks {
		hook.Func(ctx)
	}
}
