package compiler

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	logger atomic.Pointer[zap.Logger]
	nop    = zap.NewNop()
)

// Logger returns the compiler's logger instance.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return nop
}

// SetLogger replaces the compiler's logger. Passing nil restores the no-op
// logger. It is safe to call while templates compile and render.
func SetLogger(l *zap.Logger) {
	logger.Store(l)
}
