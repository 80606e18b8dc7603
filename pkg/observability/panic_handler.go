package observability

import (
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with its stack. It must be
// called directly in a defer statement:
//
//	defer observability.RecoverPanic(logger, "event loop", nil)
//
// onPanic, when set, runs after logging and only if a panic occurred. The
// panic is not re-raised.
func RecoverPanic(logger *Logger, where string, onPanic func(recovered interface{})) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", where).
			Error("PANIC recovered")
		if onPanic != nil {
			onPanic(r)
		}
	}
}
