package engine

import (
	"sync"

	"go.uber.org/zap"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the logger used by isolates for termination and snapshot
// events. It is a no-op logger unless SetLogger was called.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger replaces the isolate logger. Call it before creating isolates.
func SetLogger(l *zap.Logger) {
	logger = l
}
