package goroutine

import (
	"runtime/debug"

	"go.uber.org/zap"
)

// Recover is a deferred helper that logs a panic with its stack instead of
// crashing the process. Use at the top of every long-lived goroutine.
//
//	go func() {
//	    defer goroutine.Recover("tuner-loop", logger)
//	    ...
//	}()
func Recover(name string, logger *zap.SugaredLogger) {
	if r := recover(); r != nil {
		logger.Errorw("Goroutine panicked",
			"goroutine", name,
			"panic", r,
			"stack", string(debug.Stack()))
	}
}
