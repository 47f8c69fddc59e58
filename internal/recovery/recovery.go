// Package recovery converts panics into logged diagnostics so a single bad
// datagram or background goroutine cannot take the responder down.
package recovery

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// ErrPanic wraps a value recovered by Guard.
var ErrPanic = errors.New("panic recovered")

// RecoverWithLog recovers from a panic and logs it with its stack.
// Use it with defer at the top of a goroutine:
//
//	go func() {
//	    defer recovery.RecoverWithLog(logger, "health-server")
//	    ...
//	}()
func RecoverWithLog(logger *slog.Logger, name string) {
	if r := recover(); r != nil {
		logPanic(logger, name, r)
	}
}

// Guard runs fn and returns its error. A panic inside fn is logged and
// returned as an error wrapping ErrPanic.
func Guard(logger *slog.Logger, name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(logger, name, r)
			err = fmt.Errorf("%s: %w: %v", name, ErrPanic, r)
		}
	}()
	return fn()
}

func logPanic(logger *slog.Logger, name string, r any) {
	logger.Error("panic recovered",
		"goroutine", name,
		"panic", fmt.Sprintf("%v", r),
		"stack", string(debug.Stack()))
}
