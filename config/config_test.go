package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/wippyai/js-runtime/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	for _, path := range []string{"", filepath.Join(t.TempDir(), "missing.yaml")} {
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load(%q): %v", path, err)
		}
		if !reflect.DeepEqual(cfg, Default()) {
			t.Fatalf("Load(%q) = %+v, want defaults", path, cfg)
		}
	}
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	path := writeFile(t, "snjs.yaml", `
name: worker
loader: /app/loader.js
modules:
  root: /srv/app
  search_paths: ["/lib/?.js"]
logging:
  level: debug
wasm:
  enabled: false
`)
	t.Setenv("SNJS_NAME", "override")
	t.Setenv("SNJS_MODULES_SEARCH_PATHS", "/a/?,/b/?.mjs")
	t.Setenv("SNJS_METRICS_ADDR", ":9100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"env wins over file", cfg.Name, "override"},
		{"file value kept", cfg.Loader, "/app/loader.js"},
		{"nested file value", cfg.Modules.Root, "/srv/app"},
		{"env slice", cfg.Modules.SearchPaths, []string{"/a/?", "/b/?.mjs"}},
		{"default kept", cfg.Modules.DefaultExtension, ".js"},
		{"env only", cfg.Metrics.Addr, ":9100"},
		{"file bool", cfg.Wasm.Enabled, false},
		{"log level", cfg.Logging.Level, "debug"},
	}
	for _, tt := range tests {
		if !reflect.DeepEqual(tt.got, tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
		kind errors.Kind
	}{
		{"bad yaml", "name: [", nil, errors.KindInvalidData},
		{"both snapshot modes", "snapshot: {produce: a.snap, consume: b.snap}", nil, errors.KindInvalidInput},
		{"bad level", "logging: {level: loud}", nil, errors.KindInvalidInput},
		{"negative alias depth", "modules: {max_alias_depth: -1}", nil, errors.KindInvalidInput},
		{"bad env value", "", map[string]string{"SNJS_MAX_CALL_STACK_SIZE": "deep"}, errors.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeFile(t, "c.yaml", tt.yaml))
			var e *errors.Error
			if !errors.As(err, &e) || e.Phase != errors.PhaseConfig || e.Kind != tt.kind {
				t.Fatalf("Load err = %v, want config/%s", err, tt.kind)
			}
		})
	}
}

func TestRuntimeOptions(t *testing.T) {
	snap := writeFile(t, "start.snap", "blob")
	cfg := Default()
	cfg.Name = "svc"
	cfg.Modules.Root = t.TempDir()
	cfg.Snapshot.Consume = snap

	opts, err := cfg.RuntimeOptions(nil, nil)
	if err != nil {
		t.Fatalf("RuntimeOptions: %v", err)
	}
	if opts.Name != "svc" || opts.Snapshot || string(opts.StartupSnapshot) != "blob" {
		t.Fatalf("opts = %+v", opts)
	}
	if opts.Modules.Files == nil {
		t.Fatal("root should install a file source")
	}
	if len(opts.Extensions) != 1 || opts.Extensions[0].Name() != "wasm" {
		t.Fatalf("extensions = %v", opts.Extensions)
	}

	cfg.Snapshot = SnapshotConfig{Produce: "out.snap"}
	cfg.Wasm.Enabled = false
	opts, err = cfg.RuntimeOptions(nil, nil)
	if err != nil {
		t.Fatalf("RuntimeOptions: %v", err)
	}
	if !opts.Snapshot || opts.StartupSnapshot != nil || len(opts.Extensions) != 0 {
		t.Fatalf("producer opts = %+v", opts)
	}

	cfg.Snapshot = SnapshotConfig{Consume: filepath.Join(t.TempDir(), "none.snap")}
	if _, err := cfg.RuntimeOptions(nil, nil); !errors.Is(err, &errors.Error{Phase: errors.PhaseConfig, Kind: errors.KindRead}) {
		t.Fatalf("missing snapshot err = %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	for _, dev := range []bool{false, true} {
		cfg := Default()
		cfg.Logging.Development = dev
		log, err := cfg.NewLogger()
		if err != nil {
			t.Fatalf("NewLogger(dev=%v): %v", dev, err)
		}
		log.Debug("logger ready")
	}
}
