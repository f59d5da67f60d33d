package wasm_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/js-runtime/ext/wasm"
	"github.com/wippyai/js-runtime/ops"
	"github.com/wippyai/js-runtime/runtime"
)

// (func (export "add") (param i32 i32) (result i32) local.get 0 local.get 1 i32.add)
var addModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x07, 0x01, 0x03, 0x61, 0x64, 0x64, 0x00, 0x00,
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b,
}

// re-exports wasi_snapshot_preview1.adapter_open_badfd as "open"
func wasiModule() []byte {
	b := []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		0x01, 0x06, 0x01, 0x60, 0x01, 0x7f, 0x01, 0x7f,
		0x02, 0x2d, 0x01, 0x16,
	}
	b = append(b, "wasi_snapshot_preview1"...)
	b = append(b, 0x12)
	b = append(b, "adapter_open_badfd"...)
	b = append(b, 0x00, 0x00)
	b = append(b, 0x07, 0x08, 0x01, 0x04, 'o', 'p', 'e', 'n', 0x00, 0x00)
	return b
}

func jsBytes(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprint(v)
	}
	return "new Uint8Array([" + strings.Join(parts, ",") + "])"
}

func newRuntime(t *testing.T) (*runtime.Runtime, *wasm.Extension) {
	t.Helper()
	ext := wasm.New(wasm.Config{})
	rt, err := runtime.New(runtime.Options{Extensions: []ops.Extension{ext}})
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	return rt, ext
}

func eval(t *testing.T, rt *runtime.Runtime, src string) any {
	t.Helper()
	v, err := rt.Eval(context.Background(), "wasm_test.js", src)
	require.NoError(t, err, src)
	return v
}

func TestCompileInstantiateCall(t *testing.T) {
	rt, _ := newRuntime(t)

	eval(t, rt, `
		globalThis.mod = core.opSync("op_wasm_compile", null, `+jsBytes(addModule)+`);
		globalThis.inst = core.opSync("op_wasm_instantiate", { module: mod });
	`)

	assert.Equal(t, "add", eval(t, rt, `core.opSync("op_wasm_exports", { instance: inst }).join(",")`))
	assert.Equal(t, int64(42), eval(t, rt, `core.opSync("op_wasm_call", { instance: inst, name: "add", args: [2, 40] })[0]`))

	tags := eval(t, rt, `Object.values(core.resources()).sort().join(",")`)
	assert.Equal(t, wasm.TagInstance+","+wasm.TagModule, tags)

	// a second instance of the same module is independent
	assert.Equal(t, int64(7), eval(t, rt, `
		const other = core.opSync("op_wasm_instantiate", { module: mod });
		core.opSync("op_wasm_call", { instance: other, name: "add", args: [3, 4] })[0]
	`))
}

func TestWASIImports(t *testing.T) {
	rt, _ := newRuntime(t)
	got := eval(t, rt, `
		const m = core.opSync("op_wasm_compile", null, `+jsBytes(wasiModule())+`);
		const i = core.opSync("op_wasm_instantiate", { module: m });
		core.opSync("op_wasm_call", { instance: i, name: "open", args: [3] })[0]
	`)
	assert.Equal(t, int64(0xFFFFFFFF), got)
}

func TestErrors(t *testing.T) {
	rt, _ := newRuntime(t)
	eval(t, rt, `
		globalThis.mod = core.opSync("op_wasm_compile", null, `+jsBytes(addModule)+`);
		globalThis.inst = core.opSync("op_wasm_instantiate", { module: mod });
		globalThis.failure = (fn) => { try { fn(); return "ok" } catch (e) { return e.name + ": " + e.message } };
	`)

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"no bytes", `core.opSync("op_wasm_compile", null)`, "TypeError: module bytes required"},
		{"garbage", `core.opSync("op_wasm_compile", null, new Uint8Array([1, 2, 3]))`, "CompileError: compile wasm module"},
		{"unknown module", `core.opSync("op_wasm_instantiate", { module: 999 })`, "BadResource: bad resource id 999"},
		{"instance as module", `core.opSync("op_wasm_instantiate", { module: inst })`, "BadResource"},
		{"module as instance", `core.opSync("op_wasm_call", { instance: mod, name: "add", args: [1, 2] })`, "BadResource"},
		{"missing export", `core.opSync("op_wasm_call", { instance: inst, name: "sub", args: [] })`, `TypeError: no exported function "sub"`},
		{"arity", `core.opSync("op_wasm_call", { instance: inst, name: "add", args: [1] })`, "TypeError: add takes 2 arguments, got 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := eval(t, rt, `failure(() => `+tt.src+`)`)
			s, ok := got.(string)
			require.True(t, ok)
			assert.True(t, strings.HasPrefix(s, tt.want), "got %q, want prefix %q", s, tt.want)
		})
	}
}

func TestCloseReleasesInstance(t *testing.T) {
	rt, _ := newRuntime(t)
	got := eval(t, rt, `
		const m = core.opSync("op_wasm_compile", null, `+jsBytes(addModule)+`);
		const i = core.opSync("op_wasm_instantiate", { module: m });
		core.close(i);
		try { core.opSync("op_wasm_call", { instance: i, name: "add", args: [1, 1] }); "ok" } catch (e) { e.name }
	`)
	assert.Equal(t, "BadResource", got)
	assert.Equal(t, 1, rt.Resources().Len())
}

func TestExtensionClose(t *testing.T) {
	rt, ext := newRuntime(t)
	eval(t, rt, `core.opSync("op_wasm_compile", null, `+jsBytes(addModule)+`)`)
	require.NoError(t, rt.Close())
	assert.Equal(t, 0, rt.Resources().Len())
	assert.NoError(t, ext.Close())
}
