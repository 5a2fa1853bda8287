package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with structured logging.
// It must be called directly in a defer statement:
//
//	defer observability.RecoverPanic(logger, "cron reindex tick")
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		LogPanic(logger, context, r)
	}
}

// LogPanic logs an already recovered panic value together with the stack
// of the current goroutine. Use it when the caller needs to act on the
// panic itself, e.g. to turn it into a verdict or a failed job:
//
//	defer func() {
//	    if r := recover(); r != nil {
//	        observability.LogPanic(logger, "range processor", r)
//	        verdict = queue.Reject
//	    }
//	}()
func LogPanic(logger *Logger, context string, r interface{}) {
	if logger == nil {
		return
	}
	logger.WithField("panic", fmt.Sprint(r)).
		WithField("stack", string(debug.Stack())).
		WithField("context", context).
		Error("PANIC recovered")
}

// MustRecover converts a recovered panic value into an error; nil stays nil.
//
//	defer func() {
//	    if perr := observability.MustRecover(recover()); perr != nil {
//	        err = perr
//	    }
//	}()
func MustRecover(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}
