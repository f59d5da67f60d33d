package runtime

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wippyai/js-runtime/linker"
	"github.com/wippyai/js-runtime/ops"
)

// Options configures a Runtime.
type Options struct {
	// Logger receives runtime events. Nil disables logging.
	Logger *zap.Logger

	// Registerer receives the runtime's metrics when set.
	Registerer prometheus.Registerer

	// Stdout and Stderr back op_print. Nil uses the process streams.
	Stdout io.Writer
	Stderr io.Writer

	// Name labels logs and metrics. Defaults to "default".
	Name string

	// StartupSnapshot restores a context produced by a snapshot producer.
	// Setting it makes the runtime a snapshot consumer.
	StartupSnapshot []byte

	// Extensions are registered after the built-in ops, in order.
	Extensions []ops.Extension

	// Modules configures module resolution.
	Modules linker.Options

	// MaxCallStackSize bounds script recursion. Zero uses the engine default.
	MaxCallStackSize int

	// Snapshot makes the runtime a snapshot producer: scripts it executes
	// are captured and Snapshot may be called once.
	Snapshot bool
}

func (o Options) name() string {
	if o.Name == "" {
		return "default"
	}
	return o.Name
}
