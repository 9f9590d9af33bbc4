package safe

import (
	"fmt"
	"runtime/debug"

	"ChatRelay/logger"
	"ChatRelay/tools/errs"

	"go.uber.org/zap"
)

// Run calls f and converts a panic into an error carrying the panic value.
func Run(name string, f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[safe] panic recovered",
				zap.String("name", name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = errs.ErrServerInternal.WrapMsg("panic", "name", name, "value", fmt.Sprint(r))
		}
	}()
	return f()
}

// SafeGo starts a new goroutine that recovers from panic,
// so that panics don't crash the entire program.
func SafeGo(name string, f func()) {
	go func() {
		_ = Run(name, func() error {
			f()
			return nil
		})
	}()
}
