package linker

import (
	"sync"

	"go.uber.org/zap"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the logger used for module resolution and loading.
// It is a no-op logger unless SetLogger was called.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger replaces the module loading logger. Call it before creating loaders.
func SetLogger(l *zap.Logger) {
	logger = l
}
