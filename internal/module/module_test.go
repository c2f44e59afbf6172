package module

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"quill/internal/errors"
	"quill/internal/parser"
	"quill/internal/runtime"
)

// stubEvaluator runs module bodies of the form `require("x"); require("y");`
// and exports an object naming the module.
type stubEvaluator struct {
	r    *Resolver
	runs map[string]int
	fail map[string]error
}

func (s *stubEvaluator) EvaluateModule(ctx context.Context, src Source, prog *parser.Program) (runtime.Value, error) {
	s.runs[src.Name]++
	if err := s.fail[src.Name]; err != nil {
		return nil, err
	}
	exports := runtime.NewObject()
	exports.Set("name", runtime.String(src.Name))
	for _, st := range prog.Body {
		es, ok := st.(*parser.ExpressionStmt)
		if !ok {
			continue
		}
		call, ok := es.Expr.(*parser.CallExpr)
		if !ok {
			continue
		}
		dep := call.Args[0].(*parser.Literal).Value.(string)
		v, err := s.r.Require(ctx, dep)
		if err != nil {
			return nil, err
		}
		exports.Set(dep, v)
	}
	return exports, nil
}

func newTestResolver(t *testing.T, sources MapLoader, deps MapResolver) (*Resolver, *stubEvaluator) {
	t.Helper()
	ev := &stubEvaluator{runs: map[string]int{}, fail: map[string]error{}}
	cfg := Config{Loader: sources, Evaluator: ev, Parser: parser.NewCache(8)}
	if deps != nil {
		cfg.Dependencies = deps
	}
	r := NewResolver(cfg)
	ev.r = r
	return r, ev
}

func TestRequireIdentityAndSingleRun(t *testing.T) {
	r, ev := newTestResolver(t, MapLoader{
		"a": `require("b");`,
		"b": ``,
	}, nil)
	ctx := context.Background()

	first, err := r.Require(ctx, "a")
	require.NoError(t, err)
	second, err := r.Require(ctx, "a")
	require.NoError(t, err)
	assert.Same(t, first, second)

	b, err := r.Require(ctx, "b")
	require.NoError(t, err)
	fromA, _ := first.(*runtime.Object).Get("b")
	assert.Same(t, b, fromA)

	assert.Equal(t, map[string]int{"a": 1, "b": 1}, ev.runs)
	e, ok := r.Entry("a")
	require.True(t, ok)
	assert.Equal(t, StatusResolved, e.Status)
	assert.Equal(t, "memory:a", e.Origin)
}

func TestCircularRequire(t *testing.T) {
	for i := 0; i < 3; i++ {
		r, ev := newTestResolver(t, MapLoader{
			"A": `require("B");`,
			"B": `require("A");`,
		}, nil)

		_, err := r.Require(context.Background(), "A")
		require.Error(t, err)
		se, ok := errors.As(err)
		require.True(t, ok)
		assert.Equal(t, errors.ModuleError, se.Type)
		assert.Equal(t, "circular require: A -> B -> A", se.Message)

		for _, spec := range []string{"A", "B"} {
			e, ok := r.Entry(spec)
			require.True(t, ok)
			assert.Equal(t, StatusFailed, e.Status, spec)
			assert.Nil(t, e.Exports, spec)
		}
		assert.Equal(t, map[string]int{"A": 1, "B": 1}, ev.runs)
	}
}

// A module that swallows the circular error still fails.
func TestCircularRequireCaught(t *testing.T) {
	ev := &stubEvaluator{runs: map[string]int{}, fail: map[string]error{}}
	var r *Resolver
	r = NewResolver(Config{
		Loader: MapLoader{"A": `require("B");`, "B": ``},
		Evaluator: evaluatorFunc(func(ctx context.Context, src Source, prog *parser.Program) (runtime.Value, error) {
			if src.Name == "B" {
				_, _ = r.Require(ctx, "A")
				return runtime.NewObject(), nil
			}
			return ev.EvaluateModule(ctx, src, prog)
		}),
	})
	ev.r = r

	_, err := r.Require(context.Background(), "A")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular require: A -> B -> A")
	b, _ := r.Entry("B")
	assert.Equal(t, StatusFailed, b.Status)
}

type evaluatorFunc func(ctx context.Context, src Source, prog *parser.Program) (runtime.Value, error)

func (f evaluatorFunc) EvaluateModule(ctx context.Context, src Source, prog *parser.Program) (runtime.Value, error) {
	return f(ctx, src, prog)
}

func TestFailedEntryIsCached(t *testing.T) {
	r, ev := newTestResolver(t, MapLoader{"bad": ``}, nil)
	ev.fail["bad"] = errors.NewTypeError("boom")
	ctx := context.Background()

	_, err1 := r.Require(ctx, "bad")
	require.Error(t, err1)
	assert.True(t, errors.IsType(err1, errors.ModuleError))
	assert.True(t, errors.IsType(err1.(*errors.ScriptError).Cause, errors.TypeError))

	_, err2 := r.Require(ctx, "bad")
	assert.Same(t, err1, err2)
	assert.Equal(t, 1, ev.runs["bad"])

	assert.True(t, r.Invalidate("bad"))
	delete(ev.fail, "bad")
	_, err := r.Require(ctx, "bad")
	require.NoError(t, err)
	assert.Equal(t, 2, ev.runs["bad"])
}

func TestAbortedLoadIsNotCached(t *testing.T) {
	r, ev := newTestResolver(t, MapLoader{"a": `require("b");`, "b": ``}, nil)
	ev.fail["b"] = errors.NewExecutionAborted("step budget exceeded")
	ctx := context.Background()

	_, err := r.Require(ctx, "a")
	assert.True(t, errors.IsType(err, errors.ExecutionAborted), "%v", err)
	assert.Zero(t, r.Len(), "aborted modules leave no entries")
	assert.Empty(t, r.stack)

	delete(ev.fail, "b")
	_, err = r.Require(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, ev.runs["a"])
	assert.Equal(t, 2, ev.runs["b"])

	expired, cancel := context.WithCancel(ctx)
	cancel()
	r.Reset()
	_, err = r.Require(expired, "a")
	assert.True(t, errors.IsType(err, errors.ExecutionAborted), "%v", err)
	_, ok := r.Entry("a")
	assert.False(t, ok)

	_, err = r.Require(ctx, "a")
	require.NoError(t, err)
}

func TestPanickingLoaderLeavesNoEntry(t *testing.T) {
	calls := 0
	sources := MapLoader{"a": `require("b");`, "b": ``}
	ev := &stubEvaluator{runs: map[string]int{}, fail: map[string]error{}}
	r := NewResolver(Config{
		Loader: LoaderFunc(func(ctx context.Context, specifier string) (Source, error) {
			if specifier == "b" {
				calls++
				if calls == 1 {
					panic("disk on fire")
				}
			}
			return sources.Load(ctx, specifier)
		}),
		Evaluator: ev,
		Parser:    parser.NewCache(8),
	})
	ev.r = r
	ctx := context.Background()

	assert.PanicsWithValue(t, "disk on fire", func() { r.Require(ctx, "a") })
	assert.Zero(t, r.Len())
	assert.Empty(t, r.stack)

	v, err := r.Require(ctx, "a")
	require.NoError(t, err, "no stale pending entry reads as a cycle")
	name, _ := v.(*runtime.Object).Get("name")
	assert.Equal(t, runtime.String("a"), name)
}

func TestPanickingMarshalerLeavesNoEntry(t *testing.T) {
	calls := 0
	r := NewResolver(Config{
		Dependencies: MapResolver{"clock": struct{}{}},
		Marshal: func(v interface{}) (runtime.Value, error) {
			calls++
			if calls == 1 {
				panic("bad clock")
			}
			return runtime.String("tick"), nil
		},
	})
	ctx := context.Background()

	assert.Panics(t, func() { r.Require(ctx, "clock") })
	_, ok := r.Entry("clock")
	assert.False(t, ok)

	v, err := r.Require(ctx, "clock")
	require.NoError(t, err)
	assert.Equal(t, runtime.String("tick"), v)
}

func TestSyntaxErrorInModule(t *testing.T) {
	r, ev := newTestResolver(t, MapLoader{"broken": `var a = ;`}, nil)
	_, err := r.Require(context.Background(), "broken")
	require.Error(t, err)
	se, _ := errors.As(err)
	assert.Equal(t, errors.ModuleError, se.Type)
	assert.True(t, errors.IsType(se.Cause, errors.SyntaxError))
	assert.Zero(t, ev.runs["broken"])
}

func TestNotFound(t *testing.T) {
	r, _ := newTestResolver(t, MapLoader{}, nil)
	_, err := r.Require(context.Background(), "missing")
	require.Error(t, err)
	se, _ := errors.As(err)
	assert.Equal(t, errors.ModuleError, se.Type)
	assert.True(t, IsNotFound(se.Cause))
}

func TestDependencyResolverFirst(t *testing.T) {
	host := runtime.NewObject()
	r, ev := newTestResolver(t, MapLoader{"config": `require("x");`}, MapResolver{"config": host})

	v, err := r.Require(context.Background(), "config")
	require.NoError(t, err)
	assert.Same(t, host, v)
	assert.Zero(t, ev.runs["config"])

	e, _ := r.Entry("config")
	assert.True(t, e.Native)
	assert.Equal(t, StatusResolved, e.Status)
}

func TestDependencyWithoutMarshaler(t *testing.T) {
	r, _ := newTestResolver(t, nil, MapResolver{"db": struct{}{}})
	_, err := r.Require(context.Background(), "db")
	assert.True(t, errors.IsType(err, errors.ModuleError))
}

func TestResetAndSpecifiers(t *testing.T) {
	r, ev := newTestResolver(t, MapLoader{"a": `require("b");`, "b": ``}, nil)
	ctx := context.Background()
	_, err := r.Require(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, r.Specifiers())

	r.Reset()
	assert.Zero(t, r.Len())
	_, err = r.Require(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, ev.runs["a"])
	assert.False(t, r.Invalidate("nope"))
}

func TestResolverLogs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ev := &stubEvaluator{runs: map[string]int{}, fail: map[string]error{"b": errors.NewRuntimeError("nope")}}
	r := NewResolver(Config{
		Loader:    MapLoader{"a": ``, "b": ``},
		Evaluator: ev,
		Logger:    zap.New(core),
	})
	ev.r = r
	ctx := context.Background()

	_, err := r.Require(ctx, "a")
	require.NoError(t, err)
	_, err = r.Require(ctx, "b")
	require.Error(t, err)

	resolved := logs.FilterMessage("module resolved").All()
	require.Len(t, resolved, 1)
	assert.Equal(t, "a", resolved[0].ContextMap()["specifier"])
	assert.Equal(t, 1, logs.FilterMessage("module failed").FilterField(zap.String("specifier", "b")).Len())
}

func TestChainLoader(t *testing.T) {
	failing := LoaderFunc(func(ctx context.Context, spec string) (Source, error) {
		if spec == "err" {
			return Source{}, errors.NewRuntimeError("backend down")
		}
		return Source{}, ErrNotFound
	})
	chain := ChainLoader{failing, MapLoader{"x": "1", "err": "2"}}
	ctx := context.Background()

	src, err := chain.Load(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "1", src.Text)

	_, err = chain.Load(ctx, "err")
	assert.True(t, errors.IsType(err, errors.RuntimeError))

	_, err = chain.Load(ctx, "y")
	assert.True(t, IsNotFound(err))
}

func TestCleanSpecifier(t *testing.T) {
	for spec, want := range map[string]string{
		"a":          "a",
		"./lib/a":    "lib/a",
		"lib//b":     "lib/b",
		"lib/../c":   "c",
		`lib\win.js`: "lib/win.js",
	} {
		got, err := cleanSpecifier(spec)
		require.NoError(t, err, spec)
		assert.Equal(t, want, got, spec)
	}
	for _, spec := range []string{"", "  ", "/etc/passwd", "../x", "a/../../x"} {
		_, err := cleanSpecifier(spec)
		assert.Error(t, err, spec)
	}
}

func TestCandidates(t *testing.T) {
	assert.Equal(t, []string{"a.js", "a.qs", "a/index.js", "a/index.qs"}, candidates("a", []string{".js", ".qs"}))
	assert.Equal(t, []string{"a.js"}, candidates("a.js", []string{".js"}))
	assert.Equal(t, []string{".js", ".qs"}, extensionsOrDefault([]string{"js", ".qs"}))
}
