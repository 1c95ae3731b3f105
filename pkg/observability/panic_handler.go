package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with structured logging
//
// Usage in defer statements:
//
//	func riskyOperation() {
//	    defer observability.RecoverPanic(logger, "risky operation")
//	    // ... code that might panic
//	}
//
// After logging, the panic is NOT re-raised. This prevents the panic from
// crashing the process but may leave the operation half-done; callers that
// need cleanup should use RecoverPanicWithCallback.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}

// RecoverPanicWithCallback recovers from a panic, logs it, and then runs the
// callback. The callback only runs when a panic actually occurred; use it to
// close channels, release locks, or flag the failure to waiting goroutines.
func RecoverPanicWithCallback(logger *Logger, context string, callback func()) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
		if callback != nil {
			callback()
		}
	}
}

// MustRecover converts a recovered panic value to an error
//
//	func parse() (result Data, err error) {
//	    defer func() {
//	        if rerr := observability.MustRecover(recover()); rerr != nil {
//	            err = rerr
//	        }
//	    }()
//	    ...
//	}
func MustRecover(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}
