package async

import "runtime/debug"

// PanicLogger captures panic reports from background goroutines.
type PanicLogger interface {
	Error(format string, args ...any)
}

// Go runs fn in a goroutine guarded by panic recovery.
func Go(logger PanicLogger, name string, fn func()) {
	go func() {
		defer recoverPanic(logger, name, nil)
		fn()
	}()
}

// GoWithFallback runs fn in a guarded goroutine and invokes onPanic with the
// recovered value, so the spawner can record a terminal failure instead of
// leaving a task stuck in a non-terminal state.
func GoWithFallback(logger PanicLogger, name string, fn func(), onPanic func(recovered any)) {
	go func() {
		defer recoverPanic(logger, name, onPanic)
		fn()
	}()
}

func recoverPanic(logger PanicLogger, name string, onPanic func(recovered any)) {
	r := recover()
	if r == nil {
		return
	}
	if logger != nil {
		if name == "" {
			logger.Error("goroutine panic: %v, stack: %s", r, debug.Stack())
		} else {
			logger.Error("goroutine panic [%s]: %v, stack: %s", name, r, debug.Stack())
		}
	}
	if onPanic != nil {
		onPanic(r)
	}
}
