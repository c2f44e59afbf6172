package quill

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"quill/internal/errors"
	"quill/internal/interop"
	"quill/internal/metrics"
	"quill/internal/module"
	"quill/internal/runtime"
)

func scriptError(t *testing.T, err error, typ errors.ErrorType) *errors.ScriptError {
	t.Helper()
	require.Error(t, err)
	se, ok := errors.As(err)
	require.True(t, ok, "%T: %v", err, err)
	assert.Equal(t, typ, se.Type, se.Error())
	return se
}

func TestScenarioRecordingCallback(t *testing.T) {
	e := New()
	var calls []float64
	require.NoError(t, e.SetValue("foo", func(n float64) { calls = append(calls, n) }))

	_, err := e.Execute("var a = 5; foo(a);")
	require.NoError(t, err)
	assert.Equal(t, []float64{5}, calls)
}

func TestScenarioSyntaxError(t *testing.T) {
	e := New()
	_, err := e.Execute("var a = ;")
	se := scriptError(t, err, errors.SyntaxError)
	assert.Equal(t, 1, se.Location.Line)
	assert.Equal(t, 9, se.Location.Column)
	assert.Equal(t, 8, se.Location.Index)
	assert.Contains(t, se.Error(), "var a = ;")

	v, err := e.Execute("var a = 1; a + 1")
	require.NoError(t, err, "engine stays usable")
	assert.Equal(t, runtime.Number(2), v)
	assert.Zero(t, e.Stats().Pool.InUse)
}

func TestScenarioCircularRequire(t *testing.T) {
	e := New(WithLoader(module.MapLoader{
		"A": `var b = require("B"); exports.a = 1;`,
		"B": `var a = require("A"); exports.b = 2;`,
	}))

	for i := 0; i < 3; i++ {
		_, err := e.Execute(`require("A")`)
		se := scriptError(t, err, errors.ModuleError)
		assert.Contains(t, se.Error(), "circular require: A -> B -> A")
		assert.Zero(t, e.Stats().Pool.InUse)
	}

	entries := e.Modules()
	require.Len(t, entries, 2)
	for _, entry := range entries {
		assert.Equal(t, module.StatusFailed, entry.Status, entry.Specifier)
	}
}

func TestVarDeclaratorsInOrder(t *testing.T) {
	e := New()
	var order []string
	require.NoError(t, e.SetValue("mark", func(s string) string {
		order = append(order, s)
		return s
	}))

	_, err := e.Execute(`var x = mark("x"), y, z = mark("z") + x;`)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "z"}, order)

	for name, want := range map[string]runtime.Value{
		"x": runtime.String("x"),
		"y": runtime.UndefinedValue,
		"z": runtime.String("zx"),
	} {
		v, ok := e.Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, want, v, name)
	}
}

type door struct {
	opened  int
	smashed int
}

func (d *door) Open() int   { d.opened++; return d.opened }
func (d *door) Smash() bool { d.smashed++; return true }

func (*door) RestrictedMembers() []string { return []string{"Smash"} }

func TestAccessControl(t *testing.T) {
	e := New()
	require.NoError(t, e.Initialize(&door{}))
	d := &door{}
	require.NoError(t, e.SetValue("door", d))

	v, err := e.Execute(`door.open()`)
	require.NoError(t, err)
	assert.Equal(t, runtime.Number(1), v)

	for _, src := range []string{
		`door.smash()`,
		`door["sm" + "ash"]()`,
		`var f = door.smash;`,
		`function call(o, m) { return o[m](); } call(door, "smash")`,
	} {
		_, err := e.Execute(src)
		scriptError(t, err, errors.AccessError)
	}
	assert.Zero(t, d.smashed)
	assert.Equal(t, 1, d.opened)
	assert.Zero(t, e.Stats().Pool.InUse)
}

func TestInitialize(t *testing.T) {
	reg := interop.NewRegistry()
	e := New(WithRegistry(reg))

	require.NoError(t, e.Initialize(&door{}, reflect.TypeOf(door{})))
	require.NoError(t, e.Initialize(&door{}))
	assert.Equal(t, 1, reg.Builds())

	err := e.Initialize(make(chan int), &door{}, func() {})
	require.Error(t, err)
	merr, ok := err.(*multierror.Error)
	require.True(t, ok)
	assert.Len(t, merr.Errors, 2)
}

func TestSetValueRejectsUnsupportedTypes(t *testing.T) {
	e := New()
	err := e.SetValue("ch", make(chan int))
	scriptError(t, err, errors.TypeError)
	_, ok := e.Lookup("ch")
	assert.False(t, ok)
}

func TestModuleCaching(t *testing.T) {
	loads := 0
	e := New(WithLoader(module.LoaderFunc(func(_ context.Context, spec string) (module.Source, error) {
		if spec != "moduleA" {
			return module.Source{}, module.ErrNotFound
		}
		loads++
		return module.Source{Name: spec, Text: `counter++; exports.id = {};`}, nil
	})))
	require.NoError(t, e.SetValue("counter", 0))

	_, err := e.Execute(`var first = require("moduleA");`)
	require.NoError(t, err)
	v, err := e.Execute(`var second = require("moduleA"); first === second && first.id === second.id`)
	require.NoError(t, err)
	assert.Equal(t, runtime.True, v)

	counter, _ := e.Lookup("counter")
	assert.Equal(t, runtime.Number(1), counter)
	assert.Equal(t, 1, loads)

	host, err := e.Require("moduleA")
	require.NoError(t, err)
	first, _ := e.Lookup("first")
	assert.Same(t, first, host)

	e.ResetModules()
	_, err = e.Execute(`require("moduleA")`)
	require.NoError(t, err)
	counter, _ = e.Lookup("counter")
	assert.Equal(t, runtime.Number(2), counter)
}

type clock struct{ now int }

func (c *clock) Now() int { return c.now }

func TestDependencyResolver(t *testing.T) {
	c := &clock{now: 42}
	e := New(
		WithDependencyResolver(module.MapResolver{"clock": c}),
		WithLoader(module.MapLoader{"clock": `exports.now = () => -1;`}),
	)
	v, err := e.Execute(`require("clock").now()`)
	require.NoError(t, err)
	assert.Equal(t, runtime.Number(42), v)

	entries := e.Modules()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Native)
}

func TestErrorPathsReleaseContexts(t *testing.T) {
	e := New(
		WithMaxSteps(10000),
		WithLoader(module.MapLoader{"bad": `exports.x = missing;`}),
	)
	require.NoError(t, e.SetValue("door", &door{}))

	tests := []struct {
		name string
		src  string
		typ  errors.ErrorType
	}{
		{"syntax", `function (`, errors.SyntaxError},
		{"reference", `function f() { return g(); } f();`, errors.ReferenceError},
		{"type", `var n = null; function f() { return n.x; } f();`, errors.TypeError},
		{"access", `[1, 2].map(() => door.smash());`, errors.AccessError},
		{"throw", `function f() { throw "x"; } f();`, errors.RuntimeError},
		{"abort", `function spin() { while (true) {} } spin();`, errors.ExecutionAborted},
		{"module", `function load() { return require("bad"); } load();`, errors.ModuleError},
		{"missing module", `require("nowhere")`, errors.ModuleError},
		{"depth", `function r() { return r(); } r();`, errors.RuntimeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Execute(tt.src)
			scriptError(t, err, tt.typ)
			assert.Zero(t, e.Stats().Pool.InUse)
		})
	}

	v, err := e.Execute(`1 + 1`)
	require.NoError(t, err)
	assert.Equal(t, runtime.Number(2), v)
}

func TestCancel(t *testing.T) {
	e := New()
	ready := make(chan struct{})
	require.NoError(t, e.SetValue("ready", func() { close(ready) }))

	errc := make(chan error, 1)
	go func() {
		_, err := e.Execute(`ready(); while (true) {}`)
		errc <- err
	}()
	<-ready
	e.Cancel()

	select {
	case err := <-errc:
		scriptError(t, err, errors.ExecutionAborted)
	case <-time.After(5 * time.Second):
		t.Fatal("script was not cancelled")
	}
	assert.Zero(t, e.Stats().Pool.InUse)

	v, err := e.Execute(`"still alive"`)
	require.NoError(t, err)
	assert.Equal(t, runtime.String("still alive"), v)
}

func TestAbortedModuleLoadCanBeRetried(t *testing.T) {
	e := New(
		WithMaxSteps(10000),
		WithLoader(module.MapLoader{"m": `var n = 0; while (n < limit) n++; exports.n = n;`}),
	)
	require.NoError(t, e.SetValue("limit", 1000000))

	_, err := e.Execute(`require("m")`)
	scriptError(t, err, errors.ExecutionAborted)
	assert.Zero(t, e.Stats().Pool.InUse)
	assert.Empty(t, e.Modules())

	expired, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.RequireContext(expired, "m")
	scriptError(t, err, errors.ExecutionAborted)
	assert.Empty(t, e.Modules())

	require.NoError(t, e.SetValue("limit", 10))
	v, err := e.Require("m")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"n": float64(10)}, e.Export(v))

	v, err = e.Execute(`require("m").n`)
	require.NoError(t, err)
	assert.Equal(t, runtime.Number(10), v)
	assert.Zero(t, e.Stats().Pool.InUse)
}

func TestPanickingLoaderCanBeRetried(t *testing.T) {
	calls := 0
	loader := module.LoaderFunc(func(_ context.Context, spec string) (module.Source, error) {
		calls++
		if calls == 1 {
			panic("disk on fire")
		}
		return module.Source{Name: spec, Text: `exports.ok = true;`}, nil
	})

	t.Run("script", func(t *testing.T) {
		calls = 0
		e := New(WithLoader(loader))
		_, err := e.Execute(`require("m")`)
		se := scriptError(t, err, errors.RuntimeError)
		assert.Contains(t, se.Message, "disk on fire")
		assert.Zero(t, e.Stats().Pool.InUse)

		v, err := e.Execute(`require("m").ok`)
		require.NoError(t, err)
		assert.Equal(t, runtime.True, v)
	})

	t.Run("host", func(t *testing.T) {
		calls = 0
		e := New(WithLoader(loader))
		_, err := e.Require("m")
		se := scriptError(t, err, errors.RuntimeError)
		assert.Contains(t, se.Message, "disk on fire")
		assert.Empty(t, e.Modules())

		_, err = e.Require("m")
		require.NoError(t, err)
		assert.Zero(t, e.Stats().Pool.InUse)
	})
}

func TestExecuteContextDeadline(t *testing.T) {
	e := New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := e.ExecuteContext(ctx, "loop.js", `for (;;) {}`)
	se := scriptError(t, err, errors.ExecutionAborted)
	assert.Equal(t, "loop.js", se.Location.File)
}

func TestCallScriptFunction(t *testing.T) {
	e := New()
	fn, err := e.Execute(`(function(name, n) { return name + ":" + n * 2; })`)
	require.NoError(t, err)
	v, err := e.Call(fn, "x", 21)
	require.NoError(t, err)
	assert.Equal(t, "x:42", e.Export(v))

	_, err = e.Call(fn, make(chan int))
	assert.Error(t, err)
}

func TestConsole(t *testing.T) {
	var out bytes.Buffer
	e := New(WithConsole(&out, nil))
	_, err := e.Execute(`console.log("hi", [1, "two"]); console.error("oops");`)
	require.NoError(t, err)
	assert.Equal(t, "hi [1, \"two\"]\noops\n", out.String())

	e = New(WithConsole(nil, nil))
	_, err = e.Execute(`console.log(1)`)
	scriptError(t, err, errors.ReferenceError)
}

func TestParseCache(t *testing.T) {
	e := New(WithParseCacheSize(4))
	for i := 0; i < 5; i++ {
		_, err := e.Execute(`var tick = (typeof tick === "undefined" ? 0 : tick) + 1;`)
		require.NoError(t, err)
	}
	s := e.Stats()
	assert.Equal(t, uint64(4), s.ParseHits)
	assert.Equal(t, uint64(1), s.ParseMisses)
	tick, _ := e.Lookup("tick")
	assert.Equal(t, runtime.Number(5), tick)
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	e := New(
		WithLogger(zap.New(core)),
		WithLoader(module.MapLoader{"m": `exports.v = 1;`}),
	)
	_, err := e.Execute(`require("m").v`)
	require.NoError(t, err)

	resolved := logs.FilterMessage("module resolved").All()
	require.Len(t, resolved, 1)
	fields := resolved[0].ContextMap()
	assert.Equal(t, "m", fields["specifier"])
	assert.Equal(t, "memory:m", fields["origin"])
	assert.Equal(t, e.ID(), fields["engine"])

	executed := logs.FilterMessage("execute").All()
	require.Len(t, executed, 1)
	assert.Equal(t, "ok", executed[0].ContextMap()["outcome"])
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	e := New(WithMetrics(m), WithLoader(module.MapLoader{"m": `exports.v = 1;`}))

	_, err = e.Execute(`require("m")`)
	require.NoError(t, err)
	_, err = e.Execute(`nope`)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Executions.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Executions.WithLabelValues("ReferenceError")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModuleLoads.WithLabelValues("script", "resolved")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ContextsInUse))
}

func TestClose(t *testing.T) {
	closed := 0
	e := New(WithCloser(closerFunc(func() error { closed++; return nil })))
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.Equal(t, 1, closed)

	_, err := e.Execute(`1`)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, e.SetValue("x", 1), ErrClosed)

	e = New(WithCloser(closerFunc(func() error { return fmt.Errorf("disk gone") })))
	assert.ErrorContains(t, e.Close(), "disk gone")
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestIndependentEngines(t *testing.T) {
	reg := interop.NewRegistry()
	loader := module.NewCachingLoader(module.MapLoader{
		"sum": `module.exports = function(n) { var s = 0; for (let i = 1; i <= n; i++) s += i; return s; };`,
	})

	var mu sync.Mutex
	results := map[int]runtime.Value{}
	var wg conc.WaitGroup
	for i := 0; i < 8; i++ {
		i := i
		wg.Go(func() {
			e := New(WithRegistry(reg), WithLoader(loader))
			if err := e.SetValue("door", &door{}); err != nil {
				t.Error(err)
				return
			}
			v, err := e.Execute(fmt.Sprintf(`var n = %d; door.open(); require("sum")(n * 10)`, i))
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			results[i] = v
			mu.Unlock()
		})
	}
	wg.Wait()

	require.Len(t, results, 8)
	for i, v := range results {
		n := float64(i * 10)
		assert.Equal(t, runtime.Number(n*(n+1)/2), v)
	}
	assert.Equal(t, 1, reg.Builds())
	hits, misses := loader.Stats()
	assert.Equal(t, uint64(8), hits+misses)
	assert.Equal(t, 1, loader.Len())
}
