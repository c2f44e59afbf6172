// Package quill embeds a small JavaScript-like scripting language in Go
// programs.
//
// An Engine owns one global environment, one execution context pool and one
// module cache. Hosts install native values with SetValue, run source with
// Execute and load modules with Require:
//
//	e := quill.New(quill.WithLoader(module.NewOSLoader([]string{"scripts"}, nil)))
//	e.SetValue("log", func(s string) { fmt.Println(s) })
//	v, err := e.Execute(`var m = require("greeting"); log(m.hello("world"));`)
//
// Engines are independent; one engine serializes its calls with a mutex, so
// native functions called from a script must not call back into their engine.
package quill

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	scripterrors "quill/internal/errors"
	"quill/internal/interop"
	"quill/internal/metrics"
	"quill/internal/module"
	"quill/internal/parser"
	"quill/internal/runtime"
	"quill/internal/stdlib"
	"quill/internal/vm"
)

// Value is a script value as seen by the host.
type Value = runtime.Value

// ErrClosed is returned by calls on a closed Engine.
var ErrClosed = errors.New("quill: engine is closed")

const (
	defaultParseCacheSize = 64
	defaultPoolCapacity   = 8
)

type Engine struct {
	mu     sync.Mutex
	id     uuid.UUID
	closed bool

	log      *zap.Logger
	registry *interop.Registry
	global   *runtime.Environment
	pool     *runtime.ContextPool
	parser   *parser.Cache
	interp   *vm.Interpreter
	modules  *module.Resolver
	metrics  *metrics.Metrics

	loader         module.Loader
	deps           module.DependencyResolver
	vmOpts         vm.Options
	parseCacheSize int
	poolCapacity   int
	consoleOut     io.Writer
	consoleErr     io.Writer
	noConsole      bool
	closers        []io.Closer
}

// New creates an engine. Without WithLoader every script require fails with
// a ModuleError unless a dependency resolver supplies the name.
func New(opts ...Option) *Engine {
	e := &Engine{
		id:             uuid.New(),
		log:            zap.NewNop(),
		parseCacheSize: defaultParseCacheSize,
		poolCapacity:   defaultPoolCapacity,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = interop.NewRegistry()
	}
	e.log = e.log.With(zap.String("engine", e.id.String()))

	e.global = runtime.NewGlobal()
	e.pool = runtime.NewContextPool(e.poolCapacity)
	e.pool.OnGrow(func(allocated int) {
		e.log.Debug("context pool grew", zap.Int("allocated", allocated))
		e.metrics.SetPool(allocated, e.pool.InUse())
	})
	e.parser = parser.NewCache(e.parseCacheSize)

	e.vmOpts.Logger = e.log
	e.interp = vm.NewInterpreter(e.global, e.pool, e.vmOpts)
	e.modules = module.NewResolver(module.Config{
		Loader:       e.loader,
		Dependencies: e.deps,
		Evaluator:    e.interp,
		Marshal:      e.registry.ToValue,
		Parser:       e.parser,
		Logger:       e.log,
		Metrics:      e.metrics,
	})
	e.interp.InstallRequire(e.modules)

	if !e.noConsole {
		console := stdlib.NewConsole(e.log)
		if e.consoleOut != nil {
			console.Out = e.consoleOut
			console.Err = e.consoleOut
		}
		if e.consoleErr != nil {
			console.Err = e.consoleErr
		}
		console.Install(e.global)
	}
	return e
}

// ID identifies the engine in logs.
func (e *Engine) ID() string { return e.id.String() }

// Initialize builds the member tables of the given native types (values or
// reflect.Types) ahead of use. It is idempotent per type and reports every
// type that cannot be exposed.
func (e *Engine) Initialize(types ...interface{}) error {
	var result *multierror.Error
	for _, t := range types {
		if _, err := e.registry.DescribeValue(t); err != nil {
			result = multierror.Append(result, err)
		}
	}
	e.log.Debug("initialized native types", zap.Int("requested", len(types)), zap.Int("cached", e.registry.Len()))
	return result.ErrorOrNil()
}

// SetValue installs or overwrites a global binding. value is marshaled with
// the engine's registry; an unsupported type fails here rather than when a
// script uses it.
func (e *Engine) SetValue(name string, value interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	v, err := e.registry.ToValue(value)
	if err != nil {
		return err
	}
	e.global.Set(name, v)
	return nil
}

// Execute runs source at global scope and returns the value of its last
// expression statement.
func (e *Engine) Execute(source string) (Value, error) {
	return e.ExecuteContext(context.Background(), "", source)
}

// ExecuteContext is Execute with a cancellation context and a file name used
// in error locations.
func (e *Engine) ExecuteContext(ctx context.Context, name, source string) (Value, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	start := time.Now()
	v, err := e.execute(ctx, name, source)
	elapsed := time.Since(start)

	outcome := outcomeOf(err)
	e.metrics.ObserveExecution(outcome, elapsed)
	e.metrics.SetPool(e.pool.Stats().Allocated, e.pool.InUse())
	e.log.Debug("execute",
		zap.String("name", name),
		zap.String("outcome", outcome),
		zap.Duration("elapsed", elapsed),
		zap.Int64("steps", e.interp.Steps()),
	)
	return v, err
}

func (e *Engine) execute(ctx context.Context, name, source string) (Value, error) {
	prog, hit, err := e.parser.Lookup(name, source)
	if err != nil {
		return nil, err
	}
	e.metrics.ParseCacheLookup(hit)
	return e.interp.Run(ctx, name, source, prog)
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if se, ok := scripterrors.As(err); ok {
		return string(se.Type)
	}
	return "error"
}

// Require returns the exports of a module, loading it on first use.
func (e *Engine) Require(specifier string) (Value, error) {
	return e.RequireContext(context.Background(), specifier)
}

func (e *Engine) RequireContext(ctx context.Context, specifier string) (v Value, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("require panic", zap.String("specifier", specifier), zap.Any("panic", r))
			v, err = nil, scripterrors.NewRuntimeError("panic in require: %v", r)
		}
	}()
	return e.modules.Require(ctx, specifier)
}

// Call invokes a script function with native arguments.
func (e *Engine) Call(fn Value, args ...interface{}) (Value, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	vals := make([]runtime.Value, len(args))
	for i, a := range args {
		v, err := e.registry.ToValue(a)
		if err != nil {
			return nil, errors.Wrapf(err, "argument %d", i)
		}
		vals[i] = v
	}
	return e.interp.Call(fn, runtime.UndefinedValue, vals...)
}

// Cancel aborts the running script at its next statement. It may be called
// from any goroutine; a later Execute starts uncancelled.
func (e *Engine) Cancel() {
	e.interp.Cancel()
}

// Global returns the global environment. Callers must not use it while a
// script is running.
func (e *Engine) Global() *runtime.Environment { return e.global }

// Lookup returns the value of an initialized global binding.
func (e *Engine) Lookup(name string) (Value, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.global.Lookup(name)
	if !ok || !b.Initialized {
		return nil, false
	}
	return b.Value, true
}

// Export converts a script value to plain Go values.
func (e *Engine) Export(v Value) interface{} {
	return interop.Export(v)
}

type Stats struct {
	ID           string
	Pool         runtime.PoolStats
	Modules      int
	Descriptors  int
	ParseHits    uint64
	ParseMisses  uint64
	ParsedCached int
	Steps        int64
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	hits, misses := e.parser.Stats()
	return Stats{
		ID:           e.id.String(),
		Pool:         e.pool.Stats(),
		Modules:      e.modules.Len(),
		Descriptors:  e.registry.Len(),
		ParseHits:    hits,
		ParseMisses:  misses,
		ParsedCached: e.parser.Len(),
		Steps:        e.interp.Steps(),
	}
}

// ResetModules drops every cached module so the next require reloads it.
func (e *Engine) ResetModules() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.modules.Reset()
	e.log.Debug("module cache reset")
}

// InvalidateModule drops one cached module. It reports false for unknown
// specifiers and for modules still loading.
func (e *Engine) InvalidateModule(specifier string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.modules.Invalidate(specifier)
}

// Modules lists the cached module entries.
func (e *Engine) Modules() []module.Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []module.Entry
	for _, spec := range e.modules.Specifiers() {
		if entry, ok := e.modules.Entry(spec); ok {
			out = append(out, entry)
		}
	}
	return out
}

// Close releases registered resources. Further calls fail with ErrClosed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.parser.Purge()
	e.modules.Reset()

	var result *multierror.Error
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
