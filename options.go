package quill

import (
	"io"

	"go.uber.org/zap"

	"quill/internal/interop"
	"quill/internal/metrics"
	"quill/internal/module"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLoader sets the collaborator that maps require() specifiers to source.
func WithLoader(l module.Loader) Option {
	return func(e *Engine) {
		e.loader = l
	}
}

// WithDependencyResolver injects prebuilt native singletons. It is consulted
// before the loader.
func WithDependencyResolver(d module.DependencyResolver) Option {
	return func(e *Engine) {
		e.deps = d
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithImplicitGlobals lets sloppy-mode code create globals by assigning to
// undeclared names. Off by default.
func WithImplicitGlobals(on bool) Option {
	return func(e *Engine) {
		e.vmOpts.ImplicitGlobals = on
	}
}

func WithMaxCallDepth(n int) Option {
	return func(e *Engine) {
		e.vmOpts.MaxCallDepth = n
	}
}

// WithMaxSteps aborts any single Execute after n statements and loop
// iterations. Zero means unlimited.
func WithMaxSteps(n int64) Option {
	return func(e *Engine) {
		e.vmOpts.MaxSteps = n
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithRegistry shares a descriptor registry between engines.
func WithRegistry(r *interop.Registry) Option {
	return func(e *Engine) {
		if r != nil {
			e.registry = r
		}
	}
}

// WithParseCacheSize sets how many parsed programs are kept. Zero disables
// the cache.
func WithParseCacheSize(n int) Option {
	return func(e *Engine) {
		e.parseCacheSize = n
	}
}

// WithPoolCapacity preallocates execution contexts.
func WithPoolCapacity(n int) Option {
	return func(e *Engine) {
		e.poolCapacity = n
	}
}

// WithConsole redirects the script console. A nil out removes console from
// the global scope.
func WithConsole(out, errOut io.Writer) Option {
	return func(e *Engine) {
		e.consoleOut, e.consoleErr = out, errOut
		e.noConsole = out == nil
	}
}

// WithCloser registers a resource released by Close, such as the database
// behind a module loader.
func WithCloser(c io.Closer) Option {
	return func(e *Engine) {
		if c != nil {
			e.closers = append(e.closers, c)
		}
	}
}
