package config

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wippyai/js-runtime/errors"
	"github.com/wippyai/js-runtime/ext/wasm"
	"github.com/wippyai/js-runtime/linker"
	"github.com/wippyai/js-runtime/runtime"
)

// RuntimeOptions builds runtime options from c. A configured consume
// snapshot is read here.
func (c *Config) RuntimeOptions(log *zap.Logger, reg prometheus.Registerer) (runtime.Options, error) {
	opts := runtime.Options{
		Logger:           log,
		Registerer:       reg,
		Name:             c.Name,
		MaxCallStackSize: c.MaxCallStackSize,
		Snapshot:         c.Snapshot.Produce != "",
		Modules: linker.Options{
			Placeholder:      c.Modules.Placeholder,
			DefaultExtension: c.Modules.DefaultExtension,
			SearchPaths:      c.Modules.SearchPaths,
			MaxAliasDepth:    c.Modules.MaxAliasDepth,
		},
	}
	if c.Modules.Root != "" {
		opts.Modules.Files = linker.FS(os.DirFS(c.Modules.Root))
	}

	if c.Snapshot.Consume != "" {
		blob, err := os.ReadFile(c.Snapshot.Consume)
		if err != nil {
			return runtime.Options{}, errors.Wrap(errors.PhaseConfig, errors.KindRead, err, "read snapshot "+c.Snapshot.Consume)
		}
		opts.StartupSnapshot = blob
	}

	if c.Wasm.Enabled {
		opts.Extensions = append(opts.Extensions, wasm.New(wasm.Config{
			Stdout:           os.Stdout,
			Stderr:           os.Stderr,
			MemoryLimitPages: c.Wasm.MemoryLimitPages,
		}))
	}
	return opts, nil
}

// Extensions returns the extension names RuntimeOptions would install.
func (c *Config) Extensions() []string {
	var names []string
	if c.Wasm.Enabled {
		names = append(names, "wasm")
	}
	return names
}
