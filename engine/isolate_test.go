package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/grafana/sobek"

	"github.com/wippyai/js-runtime/errors"
)

func TestIsolate_RunScript(t *testing.T) {
	iso := New(Config{})

	prg, err := iso.CompileScript("sum.js", "var total = 0; for (var i = 1; i <= 4; i++) total += i; total")
	if err != nil {
		t.Fatalf("CompileScript: %v", err)
	}
	v, err := iso.Run(prg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v.ToInteger() != 10 {
		t.Fatalf("expected 10, got %v", v)
	}
}

func TestIsolate_CompileError(t *testing.T) {
	iso := New(Config{})

	_, err := iso.CompileScript("bad.js", "var = ;")
	if err == nil {
		t.Fatal("expected compile error")
	}
	if !errors.Is(err, errors.ErrCompile) {
		t.Fatalf("expected compile error, got %v", err)
	}
	var se *ScriptError
	if !errors.As(err, &se) {
		t.Fatalf("expected *ScriptError, got %T", err)
	}
	if !se.Compile || se.File != "bad.js" {
		t.Fatalf("unexpected script error %+v", se)
	}
	if errors.Is(err, errors.ErrThrown) {
		t.Fatal("compile error must not match thrown")
	}
}

func TestIsolate_ThrownValues(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		native  bool
		errName string
		message string
	}{
		{"type error", "var a = 1;\nthrow new TypeError('boom');", true, "TypeError", "boom"},
		{"custom error", "class MyErr extends Error { constructor(m) { super(m); this.name = 'MyErr'; } }\nthrow new MyErr('mine');", true, "MyErr", "mine"},
		{"string", "throw 'plain';", false, "", "plain"},
		{"number", "throw 42;", false, "", "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iso := New(Config{})
			prg, err := iso.CompileScript("throw.js", tt.src)
			if err != nil {
				t.Fatalf("CompileScript: %v", err)
			}
			_, err = iso.Run(prg)

			var se *ScriptError
			if !errors.As(err, &se) {
				t.Fatalf("expected *ScriptError, got %T: %v", err, err)
			}
			if !errors.Is(err, errors.ErrThrown) {
				t.Fatal("expected thrown error")
			}
			if se.Compile {
				t.Fatal("runtime failure reported as compile failure")
			}
			if se.Native != tt.native {
				t.Fatalf("Native = %v, want %v", se.Native, tt.native)
			}
			if se.Name != tt.errName {
				t.Fatalf("Name = %q, want %q", se.Name, tt.errName)
			}
			if se.Message != tt.message {
				t.Fatalf("Message = %q, want %q", se.Message, tt.message)
			}
			if se.Value == nil {
				t.Fatal("thrown value not captured")
			}
		})
	}
}

func TestIsolate_ThrowPosition(t *testing.T) {
	iso := New(Config{})
	prg, err := iso.CompileScript("pos.js", "var a = 1;\nthrow new Error('here');")
	if err != nil {
		t.Fatalf("CompileScript: %v", err)
	}
	_, err = iso.Run(prg)

	var se *ScriptError
	if !errors.As(err, &se) {
		t.Fatalf("expected *ScriptError, got %v", err)
	}
	if se.File != "pos.js" || se.Line != 2 {
		t.Fatalf("position = %s:%d, want pos.js:2", se.File, se.Line)
	}
	if !strings.Contains(se.Error(), "pos.js:2:") {
		t.Fatalf("Error() = %q", se.Error())
	}
}

func TestIsolate_TerminateIsSticky(t *testing.T) {
	iso := New(Config{})
	prg, err := iso.CompileScript("noop.js", "1 + 1")
	if err != nil {
		t.Fatalf("CompileScript: %v", err)
	}

	iso.Terminate("stop")
	for i := 0; i < 2; i++ {
		_, err = iso.Run(prg)
		if !errors.Is(err, errors.ErrTerminated) {
			t.Fatalf("run %d: expected terminated, got %v", i, err)
		}
	}
	if !iso.Terminating() {
		t.Fatal("termination should stay requested")
	}

	iso.CancelTermination()
	if _, err := iso.Run(prg); err != nil {
		t.Fatalf("Run after cancel: %v", err)
	}
}

func TestIsolate_TerminateRunningScript(t *testing.T) {
	iso := New(Config{})
	prg, err := iso.CompileScript("loop.js", "for (;;) {}")
	if err != nil {
		t.Fatalf("CompileScript: %v", err)
	}

	timer := time.AfterFunc(20*time.Millisecond, func() {
		iso.Terminate("deadline")
	})
	defer timer.Stop()

	_, err = iso.Run(prg)
	if !errors.Is(err, errors.ErrTerminated) {
		t.Fatalf("expected terminated, got %v", err)
	}
	var re *errors.Error
	if !errors.As(err, &re) || re.Value != "deadline" {
		t.Fatalf("expected reason 'deadline', got %v", err)
	}
}

func TestIsolate_Capture(t *testing.T) {
	iso := New(Config{})
	vm := iso.VM()

	err := iso.Capture(func() error {
		panic(vm.NewTypeError("from host"))
	})
	var se *ScriptError
	if !errors.As(err, &se) {
		t.Fatalf("expected *ScriptError, got %v", err)
	}
	if se.Name != "TypeError" || se.Message != "from host" {
		t.Fatalf("unexpected %+v", se)
	}

	if err := iso.Capture(func() error { return nil }); err != nil {
		t.Fatalf("Capture(nil) = %v", err)
	}
}

func TestIsolate_ErrorValue(t *testing.T) {
	iso := New(Config{})

	v := iso.ErrorValue(errors.UnknownOp(9))
	obj, ok := v.(*sobek.Object)
	if !ok {
		t.Fatalf("expected object, got %T", v)
	}
	if !strings.Contains(obj.Get("message").String(), "unknown op id 9") {
		t.Fatalf("message = %q", obj.Get("message"))
	}

	prg, _ := iso.CompileScript("t.js", "throw 'raw'")
	_, err := iso.Run(prg)
	if got := iso.ErrorValue(err).String(); got != "raw" {
		t.Fatalf("ErrorValue should return thrown value, got %q", got)
	}
}

func TestIsolate_Call(t *testing.T) {
	iso := New(Config{})
	prg, _ := iso.CompileScript("fn.js", "function twice(x) { if (x < 0) throw new RangeError('neg'); return x * 2 }")
	if _, err := iso.Run(prg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	fn, ok := sobek.AssertFunction(iso.VM().Get("twice"))
	if !ok {
		t.Fatal("twice is not a function")
	}

	v, err := iso.Call(fn, nil, iso.VM().ToValue(21))
	if err != nil || v.ToInteger() != 42 {
		t.Fatalf("Call = %v, %v", v, err)
	}
	_, err = iso.Call(fn, nil, iso.VM().ToValue(-1))
	var se *ScriptError
	if !errors.As(err, &se) || se.Name != "RangeError" {
		t.Fatalf("expected RangeError, got %v", err)
	}
}

func TestIsolate_Microtasks(t *testing.T) {
	iso := New(Config{})
	prg, _ := iso.CompileScript("p.js", "var seen = []; Promise.resolve(1).then(v => seen.push(v)); seen.push(0);")
	if _, err := iso.Run(prg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := iso.RunMicrotasks(); err != nil {
		t.Fatalf("RunMicrotasks: %v", err)
	}
	seen := iso.VM().Get("seen").Export().([]any)
	if len(seen) != 2 || seen[0] != int64(0) || seen[1] != int64(1) {
		t.Fatalf("seen = %v", seen)
	}
}
