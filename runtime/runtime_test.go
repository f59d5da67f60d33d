package runtime

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/grafana/sobek"

	"github.com/wippyai/js-runtime/bridge"
	"github.com/wippyai/js-runtime/engine"
	"github.com/wippyai/js-runtime/errors"
	"github.com/wippyai/js-runtime/linker"
	"github.com/wippyai/js-runtime/ops"
	"github.com/wippyai/js-runtime/resource"
)

func newTestRuntime(t *testing.T, files map[string]string) *Runtime {
	t.Helper()
	return newTestRuntimeWith(t, files, Options{})
}

func newTestRuntimeWith(t *testing.T, files map[string]string, opts Options) *Runtime {
	t.Helper()
	fsys := fstest.MapFS{}
	for name, src := range files {
		fsys[name] = &fstest.MapFile{Data: []byte(src)}
	}
	opts.Modules.Files = linker.FS(fsys)
	rt, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return rt
}

func mustEval(t *testing.T, rt *Runtime, src string) any {
	t.Helper()
	v, err := rt.Eval(context.Background(), "test.js", src)
	if err != nil {
		t.Fatalf("Eval(%s): %v", src, err)
	}
	return v
}

func mustExecute(t *testing.T, rt *Runtime, src string) {
	t.Helper()
	if _, err := rt.Execute(context.Background(), "test.js", src); err != nil {
		t.Fatalf("Execute(%s): %v", src, err)
	}
}

func TestRuntime_ExecuteAndEval(t *testing.T) {
	rt := newTestRuntime(t, nil)
	ctx := context.Background()

	ok, err := rt.Execute(ctx, "init.js", `globalThis.counter = 40;`)
	if err != nil || !ok {
		t.Fatalf("Execute = %v, %v", ok, err)
	}
	if got := mustEval(t, rt, `counter + 2`); got != int64(42) {
		t.Fatalf("Eval = %v (%T)", got, got)
	}
	if got := mustEval(t, rt, `Promise.resolve("later")`); got != "later" {
		t.Fatalf("promise completion = %v", got)
	}
	if got := mustEval(t, rt, `undefined`); got != nil {
		t.Fatalf("undefined exported as %v", got)
	}
}

func TestRuntime_ScriptErrors(t *testing.T) {
	rt := newTestRuntime(t, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		src     string
		compile bool
		native  bool
		message string
	}{
		{"syntax", `let = ;`, true, false, ""},
		{"thrown error", `throw new RangeError("too far")`, false, true, "too far"},
		{"thrown string", `throw "plain"`, false, false, "plain"},
		{"reference", `missingName + 1`, false, true, "missingName"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := rt.Execute(ctx, "bad.js", tt.src)
			if ok {
				t.Fatal("Execute reported success")
			}
			var se *engine.ScriptError
			if !errors.As(err, &se) {
				t.Fatalf("expected *engine.ScriptError, got %T %v", err, err)
			}
			if se.Compile != tt.compile {
				t.Fatalf("Compile = %v", se.Compile)
			}
			if tt.compile && !errors.Is(err, errors.ErrCompile) {
				t.Fatal("compile error does not match ErrCompile")
			}
			if !tt.compile && !errors.Is(err, errors.ErrThrown) {
				t.Fatal("runtime error does not match ErrThrown")
			}
			if !tt.compile && se.Native != tt.native {
				t.Fatalf("Native = %v", se.Native)
			}
			if !strings.Contains(se.Message, tt.message) {
				t.Fatalf("Message = %q", se.Message)
			}
		})
	}

	if got := mustEval(t, rt, `1`); got != int64(1) {
		t.Fatal("runtime unusable after script errors")
	}
}

func TestRuntime_Catalog(t *testing.T) {
	rt := newTestRuntime(t, nil)
	rt.RegisterOp("op_custom", func(*ops.Call) (sobek.Value, error) { return sobek.Undefined(), nil })

	got := mustEval(t, rt, `JSON.stringify(core.ops())`)
	for _, want := range []string{`"op_ops":0`, `"op_close":1`, `"op_resources":2`, `"op_print":3`, `"op_custom":4`} {
		if !strings.Contains(got.(string), want) {
			t.Fatalf("catalog %s missing %s", got, want)
		}
	}
}

func TestRuntime_OpsFromScript(t *testing.T) {
	rt := newTestRuntime(t, nil)
	rt.RegisterOp("op_echo", func(c *ops.Call) (sobek.Value, error) { return c.Arg(0), nil })
	if _, err := rt.RegisterFunc("op_add", func(in []int) (int, error) { return in[0] + in[1], nil }); err != nil {
		t.Fatalf("RegisterFunc: %v", err)
	}

	tests := []struct {
		src  string
		want any
	}{
		{`core.opRaw("op_echo", "hey")`, "hey"},
		{`core.opSync("op_add", [2, 3])`, int64(5)},
		{`try { core.close(999) } catch (e) { e.name + ": " + e.message }`, "BadResource: bad resource id 999"},
		{`try { core.dispatch(77) } catch (e) { e.name }`, "UnknownOpError"},
		{`try { core.opSync("op_nope") } catch (e) { e instanceof TypeError }`, true},
		{`try { core.opSync("op_add", null) } catch (e) { e.name }`, "Error"},
	}
	for _, tt := range tests {
		if got := mustEval(t, rt, tt.src); got != tt.want {
			t.Errorf("%s = %v (%T), want %v", tt.src, got, got, tt.want)
		}
	}
}

func TestRuntime_LateRegisteredOps(t *testing.T) {
	rt := newTestRuntime(t, nil)
	mustEval(t, rt, `core.ops()`)
	rt.RegisterOp("op_late", func(c *ops.Call) (sobek.Value, error) { return c.VM.ToValue("late"), nil })
	if got := mustEval(t, rt, `core.opRaw("op_late")`); got != "late" {
		t.Fatalf("late op = %v", got)
	}
}

type dropCounter struct{ n *int }

func (d dropCounter) Drop() { *d.n++ }

func TestRuntime_Resources(t *testing.T) {
	rt := newTestRuntime(t, nil)
	drops := 0
	if _, err := rt.RegisterFunc("op_open", func(s *ops.State, tag string) (resource.ID, error) {
		return s.Resources.Add(tag, dropCounter{n: &drops}), nil
	}); err != nil {
		t.Fatalf("RegisterFunc: %v", err)
	}

	rid := mustEval(t, rt, `globalThis.rid = core.opSync("op_open", "file"); rid`)
	if rid != int64(1) {
		t.Fatalf("rid = %v", rid)
	}
	if got := mustEval(t, rt, `core.resources()[rid]`); got != "file" {
		t.Fatalf("resources()[rid] = %v", got)
	}
	if got := mustEval(t, rt, `core.close(rid)`); got != true {
		t.Fatalf("close = %v", got)
	}
	if drops != 1 || rt.Resources().Len() != 0 {
		t.Fatalf("drops = %d, len = %d", drops, rt.Resources().Len())
	}
	if got := mustEval(t, rt, `try { core.close(rid); "closed twice" } catch (e) { e.name }`); got != "BadResource" {
		t.Fatalf("double close = %v", got)
	}

	mustEval(t, rt, `core.opSync("op_open", "socket")`)
	rt.Close()
	if drops != 2 {
		t.Fatalf("Close left resources open: drops = %d", drops)
	}
}

func TestRuntime_Print(t *testing.T) {
	var stdout, stderr bytes.Buffer
	rt := newTestRuntimeWith(t, nil, Options{Stdout: &stdout, Stderr: &stderr})

	mustExecute(t, rt, `core.print("out\n"); core.print("err\n", true); core.print(42);`)
	if stdout.String() != "out\n42" {
		t.Fatalf("stdout = %q", stdout.String())
	}
	if stderr.String() != "err\n" {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRuntime_Dispatch(t *testing.T) {
	rt := newTestRuntime(t, nil)
	ctx := context.Background()
	mustExecute(t, rt, `
		globalThis.received = [];
		core.setRecv((msg) => {
			received.push([msg.type, msg.session, msg.origin, msg.length, msg.pointer, core.decode(msg.payload)].join("|"));
		});
	`)

	msgs := []bridge.Message{
		{Type: 1, Session: 7, Origin: -3, Pointer: 99, Payload: []byte("first")},
		{Type: 2, Session: 8, Origin: 4, Payload: []byte("second")},
		{Type: 3, Payload: []byte(strings.Repeat("x", 1000))},
		{Type: 4},
	}
	for _, m := range msgs {
		if err := rt.Dispatch(ctx, m); err != nil {
			t.Fatalf("Dispatch(%d): %v", m.Type, err)
		}
	}

	got := mustEval(t, rt, `received.map((r) => r.length > 40 ? r.slice(0, 20) : r).join(",")`)
	want := "1|7|-3|5|99|first,2|8|4|6|0|second,3|0|0|1000|0|xxxxxxx,4|0|0|0|0|"
	if got != want {
		t.Fatalf("received %v\nwant     %s", got, want)
	}
	if n := mustEval(t, rt, `received[2].length`); n != int64(len("3|0|0|1000|0|")+1000) {
		t.Fatalf("grown payload truncated: %v", n)
	}
}

func TestRuntime_DispatchWithoutReceiver(t *testing.T) {
	rt := newTestRuntime(t, nil)
	err := rt.Dispatch(context.Background(), bridge.Message{Type: 1})
	var re *errors.Error
	if !errors.As(err, &re) || re.Phase != errors.PhaseBridge {
		t.Fatalf("expected bridge error, got %v", err)
	}
}

func TestRuntime_DispatchReceiverThrows(t *testing.T) {
	rt := newTestRuntime(t, nil)
	mustExecute(t, rt, `core.setRecv(() => { throw new Error("recv failed"); });`)
	err := rt.Dispatch(context.Background(), bridge.Message{})
	var se *engine.ScriptError
	if !errors.As(err, &se) || se.Message != "recv failed" {
		t.Fatalf("expected thrown error, got %v", err)
	}
}

func TestRuntime_DispatchReceiverThrowsAfterImport(t *testing.T) {
	rt := newTestRuntime(t, map[string]string{
		"m.js": `globalThis.loaded = true; export const v = 7;`,
	})
	mustExecute(t, rt, `
		core.setRecv(() => {
			import("/m.js").then((ns) => { globalThis.seen = ns.v; });
			throw new Error("recv failed");
		});
	`)

	err := rt.Dispatch(context.Background(), bridge.Message{})
	var se *engine.ScriptError
	if !errors.As(err, &se) || se.Message != "recv failed" {
		t.Fatalf("expected thrown error, got %v", err)
	}
	if len(rt.imports) != 0 {
		t.Fatalf("%d dynamic imports left queued", len(rt.imports))
	}
	if got := mustEval(t, rt, `globalThis.loaded === true`); got != true {
		t.Fatal("imported module not evaluated")
	}
	if got := mustEval(t, rt, `globalThis.seen`); got != int64(7) {
		t.Fatalf("seen = %v (%T)", got, got)
	}
}

func TestRuntime_UnhandledRejections(t *testing.T) {
	rt := newTestRuntime(t, nil)
	ctx := context.Background()
	mustExecute(t, rt, `
		core.setRecv((msg) => {
			if (msg.type === 1) {
				Promise.reject(new Error("first"));
				Promise.reject(new Error("second"));
			}
			if (msg.type === 2) {
				const p = Promise.reject(new Error("caught later"));
				Promise.resolve().then(() => p.catch(() => {}));
			}
		});
	`)

	err := rt.Dispatch(ctx, bridge.Message{Type: 1})
	var re *errors.Error
	if !errors.As(err, &re) || re.Kind != errors.KindUnhandled {
		t.Fatalf("expected unhandled rejection, got %v", err)
	}
	var se *engine.ScriptError
	if !errors.As(err, &se) || se.Message != "first" {
		t.Fatalf("oldest rejection not surfaced first: %v", err)
	}
	if rt.PendingRejections() != 1 {
		t.Fatalf("pending = %d", rt.PendingRejections())
	}

	err = rt.Dispatch(ctx, bridge.Message{Type: 0})
	if !errors.As(err, &se) || se.Message != "second" {
		t.Fatalf("second rejection = %v", err)
	}
	if err := rt.Dispatch(ctx, bridge.Message{Type: 0}); err != nil {
		t.Fatalf("rejection surfaced twice: %v", err)
	}

	if err := rt.Dispatch(ctx, bridge.Message{Type: 2}); err != nil {
		t.Fatalf("handled rejection surfaced: %v", err)
	}
	if rt.PendingRejections() != 0 {
		t.Fatalf("pending = %d", rt.PendingRejections())
	}
}

func TestRuntime_DynamicImport(t *testing.T) {
	rt := newTestRuntime(t, map[string]string{
		"app/dyn.js": `export const answer = 42; export function hi() { return "hi"; }`,
	})
	ctx := context.Background()
	mustExecute(t, rt, `
		core.setRecv((msg) => {
			import(core.decode(msg.payload)).then(
				(ns) => { globalThis.keys = Object.keys(ns).sort().join(","); },
				(err) => { globalThis.failure = err; },
			);
		});
	`)

	if err := rt.Dispatch(ctx, bridge.Message{Payload: []byte("/app/dyn.js")}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := mustEval(t, rt, `globalThis.keys`); got != "answer,hi" {
		t.Fatalf("namespace keys = %v", got)
	}

	if err := rt.Dispatch(ctx, bridge.Message{Payload: []byte("/app/missing.js")}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := mustEval(t, rt, `failure !== null && typeof failure === "object"`); got != true {
		t.Fatal("failed import did not reject with an object")
	}
	if got := mustEval(t, rt, `failure.name`); got != "NotFound" {
		t.Fatalf("failure.name = %v", got)
	}
	if got := mustEval(t, rt, `failure.message.includes("missing.js")`); got != true {
		t.Fatalf("failure message = %v", mustEval(t, rt, `failure.message`))
	}
}

func TestRuntime_DynamicImportCapturedException(t *testing.T) {
	rt := newTestRuntime(t, map[string]string{
		"throws.js": `throw new SyntaxError("custom");`,
	})
	got := mustEval(t, rt, `import("/throws.js").then(() => "loaded", (e) => e.name + ":" + e.message)`)
	if got != "SyntaxError:custom" {
		t.Fatalf("rejection = %v", got)
	}
}

func TestRuntime_Modules(t *testing.T) {
	rt := newTestRuntime(t, map[string]string{
		"app/main.js": `
			import { base } from "./lib/base.js";
			const dep = await import("./dep.js");
			export const total = base + dep.extra;
			export const url = import.meta.url;
			export const isMain = import.meta.main;
			export function scale(n) { return n * total; }
			export async function later(n) { await null; return n + 1; }
		`,
		"app/lib/base.js": `export const base = 10;`,
		"app/dep.js":      `export const extra = 5;`,
	})
	ctx := context.Background()

	m, err := rt.LoadMainModule(ctx, "/app/main.js")
	if err != nil {
		t.Fatalf("LoadMainModule: %v", err)
	}
	exports, err := rt.Exports(ctx, m)
	if err != nil {
		t.Fatalf("Exports: %v", err)
	}
	if exports["total"] != int64(15) || exports["url"] != "file:///app/main.js" || exports["isMain"] != true {
		t.Fatalf("exports = %v", exports)
	}

	if got, err := rt.CallExport(ctx, m, "scale", 2); err != nil || got != int64(30) {
		t.Fatalf("scale(2) = %v, %v", got, err)
	}
	if got, err := rt.CallExport(ctx, m, "later", 1); err != nil || got != int64(2) {
		t.Fatalf("later(1) = %v, %v", got, err)
	}
	if _, err := rt.CallExport(ctx, m, "missing"); err == nil {
		t.Fatal("calling a missing export should fail")
	}

	side, err := rt.LoadModule(ctx, "/app/lib/base.js")
	if err != nil || side.IsEntry {
		t.Fatalf("LoadModule = %+v, %v", side, err)
	}
	if rt.Graph().Len() != 3 {
		t.Fatalf("graph = %v", rt.Graph().Specifiers())
	}
}

func TestRuntime_DefineModule(t *testing.T) {
	rt := newTestRuntime(t, map[string]string{
		"main.js": `import { greet } from "std:greet"; export const msg = greet("go");`,
	})
	rt.DefineModule("std:greet", `export function greet(n) { return "hello " + n; }`)

	m, err := rt.LoadMainModule(context.Background(), "/main.js")
	if err != nil {
		t.Fatalf("LoadMainModule: %v", err)
	}
	exports, _ := rt.Exports(context.Background(), m)
	if exports["msg"] != "hello go" {
		t.Fatalf("msg = %v", exports["msg"])
	}
}

func TestRuntime_Boot(t *testing.T) {
	rt := newTestRuntime(t, map[string]string{
		"app/loader.js": `import { setup } from "./setup.js"; globalThis.booted = setup();`,
		"app/setup.js":  `export function setup() { return "ready"; }`,
	})
	if err := rt.Boot(context.Background(), "/app/loader.js"); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if got := mustEval(t, rt, `booted`); got != "ready" {
		t.Fatalf("booted = %v", got)
	}

	err := rt.Boot(context.Background(), "/app/none.js")
	var se *engine.ScriptError
	if !errors.As(err, &se) || se.Name != "NotFound" {
		t.Fatalf("missing loader = %v", err)
	}
}

func TestRuntime_Termination(t *testing.T) {
	rt := newTestRuntime(t, nil)

	t.Run("context deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := rt.Execute(ctx, "loop.js", `for (;;) {}`)
		if !errors.Is(err, errors.ErrTerminated) {
			t.Fatalf("expected termination, got %v", err)
		}
		if got := mustEval(t, rt, `"alive"`); got != "alive" {
			t.Fatal("runtime not usable after deadline")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := rt.Eval(ctx, "x.js", `1`); !errors.Is(err, errors.ErrTerminated) {
			t.Fatalf("expected termination, got %v", err)
		}
	})

	t.Run("explicit terminate is sticky", func(t *testing.T) {
		timer := time.AfterFunc(50*time.Millisecond, func() { rt.Terminate("shutdown") })
		defer timer.Stop()

		_, err := rt.Execute(context.Background(), "loop.js", `for (;;) {}`)
		var re *errors.Error
		if !errors.As(err, &re) || re.Kind != errors.KindTerminated || re.Value != "shutdown" {
			t.Fatalf("expected termination with reason, got %v", err)
		}
		if _, err := rt.Eval(context.Background(), "x.js", `1`); !errors.Is(err, errors.ErrTerminated) {
			t.Fatalf("termination not sticky: %v", err)
		}

		rt.CancelTermination()
		if got := mustEval(t, rt, `2`); got != int64(2) {
			t.Fatal("runtime not usable after CancelTermination")
		}
	})
}

func TestRuntime_Close(t *testing.T) {
	rt, err := New(Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	_, err = rt.Execute(context.Background(), "x.js", `1`)
	if !errors.Is(err, errors.ErrClosed) {
		t.Fatalf("Execute after Close = %v", err)
	}
	if err := rt.Dispatch(context.Background(), bridge.Message{}); !errors.Is(err, errors.ErrClosed) {
		t.Fatalf("Dispatch after Close = %v", err)
	}
}

type countingExt struct{}

func (countingExt) Name() string { return "counter" }

func (countingExt) Ops() []ops.Op {
	n := 0
	return []ops.Op{{
		Name: "op_count",
		Handler: ops.Sync(func(*ops.State, struct{}) (int, error) {
			n++
			return n, nil
		}),
	}}
}

type failingExt struct{ countingExt }

func (failingExt) Setup(*ops.State) error { return errors.InvalidInput(errors.PhaseHost, "no") }

func TestRuntime_Extensions(t *testing.T) {
	rt := newTestRuntimeWith(t, nil, Options{Extensions: []ops.Extension{countingExt{}}})
	if got := mustEval(t, rt, `core.opSync("op_count"); core.opSync("op_count")`); got != int64(2) {
		t.Fatalf("op_count = %v", got)
	}

	if _, err := New(Options{Extensions: []ops.Extension{failingExt{}}}); err == nil {
		t.Fatal("extension setup failure should fail New")
	}
}

func TestRuntime_Namespace(t *testing.T) {
	rt := newTestRuntime(t, map[string]string{
		"ns/main.js": `export const name = "main"; export const meta = import.meta.main;`,
	})
	m, err := rt.LoadMainModule(context.Background(), "/ns/main.js")
	if err != nil {
		t.Fatalf("LoadMainModule: %v", err)
	}
	ns := rt.Namespace(m)
	if got := ns.Get("name").String(); got != "main" {
		t.Fatalf("name = %q", got)
	}
	if !ns.Get("meta").ToBoolean() {
		t.Fatal("import.meta.main should be true for the main module")
	}
}
