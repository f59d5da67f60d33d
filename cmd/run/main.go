package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/term"

	jsruntime "github.com/wippyai/js-runtime"
	"github.com/wippyai/js-runtime/config"
	"github.com/wippyai/js-runtime/engine"
	"github.com/wippyai/js-runtime/linker"
	"github.com/wippyai/js-runtime/runtime"
)

func main() {
	var (
		cfgFile     = flag.String("config", "", "Path to YAML config file")
		script      = flag.Bool("script", false, "Run the file as a classic script instead of a module")
		loader      = flag.String("loader", "", "Loader module imported dynamically after the main file")
		snapOut     = flag.String("snapshot-out", "", "Execute the scripts and write a startup snapshot")
		snapIn      = flag.String("snapshot-in", "", "Restore a startup snapshot before running")
		searchPaths = flag.String("search", "", "Module search paths (comma-separated, ? is the specifier)")
		metricsAddr = flag.String("metrics", "", "Serve Prometheus metrics on this address")
		watch       = flag.Bool("watch", false, "Re-run the file when it changes")
		interactive = flag.Bool("i", false, "Interactive REPL")
		version     = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Printf("snjs %s (%s)\n", jsruntime.Version, jsruntime.EngineName)
		return
	}

	files := flag.Args()
	if len(files) == 0 && !*interactive && *loader == "" {
		fmt.Fprintln(os.Stderr, "Usage: run [flags] <file.js> [more.js...]")
		fmt.Fprintln(os.Stderr, "       run -snapshot-out app.snap init.js   (produce a startup snapshot)")
		fmt.Fprintln(os.Stderr, "       run -snapshot-in app.snap main.js    (start from a snapshot)")
		fmt.Fprintln(os.Stderr, "       run -i                               (interactive mode)")
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		fatal(err)
	}
	if *loader != "" {
		cfg.Loader = *loader
	}
	if *snapOut != "" {
		cfg.Snapshot.Produce = *snapOut
	}
	if *snapIn != "" {
		cfg.Snapshot.Consume = *snapIn
	}
	if *searchPaths != "" {
		cfg.Modules.SearchPaths = strings.Split(*searchPaths, ",")
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}

	log, err := cfg.NewLogger()
	if err != nil {
		fatal(err)
	}
	defer func() { _ = log.Sync() }()
	runtime.SetLogger(log)
	engine.SetLogger(log.Named("engine"))
	linker.SetLogger(log.Named("linker"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var reg prometheus.Registerer
	if cfg.Metrics.Addr != "" {
		r := prometheus.NewRegistry()
		r.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		serveMetrics(ctx, log, cfg.Metrics.Addr, r)
		reg = r
	}

	app := &app{cfg: cfg, log: log, reg: reg, files: files, script: *script}

	switch {
	case cfg.Snapshot.Produce != "":
		err = app.produce(ctx)
	case *interactive:
		err = app.interactive(ctx)
	case *watch:
		err = app.watch(ctx)
	default:
		err = app.runOnce(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// app holds the resolved settings shared by every run mode.
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	reg    prometheus.Registerer
	files  []string
	script bool
}

func (a *app) newRuntime(mod func(*runtime.Options)) (*runtime.Runtime, error) {
	opts, err := a.cfg.RuntimeOptions(a.log, a.reg)
	if err != nil {
		return nil, err
	}
	if mod != nil {
		mod(&opts)
	}
	return runtime.New(opts)
}

// runOnce creates a runtime, runs every file and boots the loader.
func (a *app) runOnce(ctx context.Context) error {
	rt, err := a.newRuntime(nil)
	if err != nil {
		return fmt.Errorf("create runtime: %w", err)
	}
	defer rt.Close()
	return a.runFiles(ctx, rt)
}

func (a *app) runFiles(ctx context.Context, rt *runtime.Runtime) error {
	for _, file := range a.files {
		if err := a.runFile(ctx, rt, file); err != nil {
			return err
		}
	}
	if a.cfg.Loader != "" {
		spec, err := a.specifier(a.cfg.Loader)
		if err != nil {
			return err
		}
		if err := rt.Boot(ctx, spec); err != nil {
			return fmt.Errorf("boot %s: %w", a.cfg.Loader, err)
		}
	}
	return nil
}

func (a *app) runFile(ctx context.Context, rt *runtime.Runtime, file string) error {
	if a.script {
		src, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		if _, err := rt.Execute(ctx, file, string(src)); err != nil {
			return fmt.Errorf("execute %s: %w", file, err)
		}
		return nil
	}

	spec, err := a.specifier(file)
	if err != nil {
		return err
	}
	if _, err := rt.LoadMainModule(ctx, spec); err != nil {
		return fmt.Errorf("load %s: %w", file, err)
	}
	return nil
}

// produce executes the files as classic scripts on a snapshot producer and
// writes the startup image.
func (a *app) produce(ctx context.Context) error {
	rt, err := a.newRuntime(nil)
	if err != nil {
		return fmt.Errorf("create runtime: %w", err)
	}
	defer rt.Close()

	for _, file := range a.files {
		src, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		if _, err := rt.Execute(ctx, file, string(src)); err != nil {
			return fmt.Errorf("execute %s: %w", file, err)
		}
	}

	blob, err := rt.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if err := os.WriteFile(a.cfg.Snapshot.Produce, blob, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	fmt.Printf("Snapshot: %s (%d bytes, %d scripts)\n", a.cfg.Snapshot.Produce, len(blob), len(a.files))
	return nil
}

// specifier maps a file path to a module specifier: an absolute host path,
// or a root-relative path when modules are confined to a root directory.
func (a *app) specifier(file string) (string, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", err
	}
	root := a.cfg.Modules.Root
	if root == "" {
		return filepath.ToSlash(abs), nil
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(rootAbs, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%s is outside module root %s", file, root)
	}
	return "/" + filepath.ToSlash(rel), nil
}

func (a *app) interactive(ctx context.Context) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return a.pipe(ctx, os.Stdin)
	}
	return runInteractive(ctx, a)
}

func serveMetrics(ctx context.Context, log *zap.Logger, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Info("metrics endpoint listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics endpoint failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
}
