package cascada

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/geleto/cascada/compiler"
	"github.com/geleto/cascada/runtime"
)

var (
	logger atomic.Pointer[zap.Logger]
	nop    = zap.NewNop()
)

// Logger returns the environment's logger instance.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return nop
}

// SetLogger installs l for the environment, the compiler and the runtime.
// Passing nil restores the no-op logger.
func SetLogger(l *zap.Logger) {
	logger.Store(l)
	if l == nil {
		compiler.SetLogger(nil)
		runtime.SetLogger(nil)
		return
	}
	compiler.SetLogger(l.Named("compiler"))
	runtime.SetLogger(l.Named("runtime"))
}
