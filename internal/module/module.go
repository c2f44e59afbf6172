// Package module implements require(): a per-engine cache of module entries
// and the loaders that supply script source.
package module

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"quill/internal/errors"
	"quill/internal/metrics"
	"quill/internal/parser"
	"quill/internal/runtime"
)

// Status is the lifecycle state of a module entry.
type Status int

const (
	StatusPending Status = iota
	StatusResolved
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusResolved:
		return "resolved"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Entry is the cached outcome of requiring one specifier.
type Entry struct {
	Specifier string
	Status    Status
	Exports   runtime.Value
	Err       error
	Origin    string
	Native    bool

	// cycle poisons a pending entry that took part in a circular require.
	cycle error
}

// Evaluator runs a parsed module body and returns its exports.
type Evaluator interface {
	EvaluateModule(ctx context.Context, src Source, prog *parser.Program) (runtime.Value, error)
}

// Config wires a Resolver.
type Config struct {
	Loader       Loader
	Dependencies DependencyResolver
	Evaluator    Evaluator
	// Marshal converts dependency singletons to script values.
	Marshal func(interface{}) (runtime.Value, error)
	Parser  *parser.Cache
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Resolver caches module entries for one engine. It is not safe for
// concurrent use; the engine serializes access.
type Resolver struct {
	cfg     Config
	log     *zap.Logger
	entries map[string]*Entry
	// stack holds the specifiers currently loading, outermost first.
	stack []string
}

func NewResolver(cfg Config) *Resolver {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		cfg:     cfg,
		log:     log.Named("module"),
		entries: make(map[string]*Entry),
	}
}

// Require returns the exports of specifier, loading and running it on first
// use. Later calls return the cached exports or the cached error.
func (r *Resolver) Require(ctx context.Context, specifier string) (runtime.Value, error) {
	if e, ok := r.entries[specifier]; ok {
		switch e.Status {
		case StatusResolved:
			return e.Exports, nil
		case StatusFailed:
			return nil, e.Err
		default:
			return nil, r.circular(specifier)
		}
	}

	if r.cfg.Dependencies != nil {
		if v, ok := r.cfg.Dependencies.Resolve(specifier); ok {
			return r.resolveNative(specifier, v)
		}
	}

	e := &Entry{Specifier: specifier, Status: StatusPending}
	r.entries[specifier] = e
	r.stack = append(r.stack, specifier)
	settled := false
	defer func() {
		r.stack = r.stack[:len(r.stack)-1]
		// A loader or evaluator that panicked leaves nothing behind.
		if !settled {
			delete(r.entries, specifier)
		}
	}()
	exports, err := r.load(ctx, e)
	settled = true

	if err == nil && e.cycle != nil {
		err = e.cycle
	}
	if errors.IsType(err, errors.ExecutionAborted) {
		// Aborts belong to the run, not the module: the next require loads it again.
		delete(r.entries, specifier)
		r.log.Debug("module aborted", zap.String("specifier", specifier), zap.Error(err))
		return nil, err
	}
	if err != nil {
		e.Status = StatusFailed
		e.Err = moduleError(specifier, err)
		r.log.Warn("module failed", zap.String("specifier", specifier), zap.String("origin", e.Origin), zap.Error(err))
		r.cfg.Metrics.ModuleLoaded("script", e.Status.String())
		return nil, e.Err
	}
	e.Status = StatusResolved
	e.Exports = exports
	r.log.Debug("module resolved", zap.String("specifier", specifier), zap.String("origin", e.Origin))
	r.cfg.Metrics.ModuleLoaded("script", e.Status.String())
	return exports, nil
}

func (r *Resolver) resolveNative(specifier string, v interface{}) (runtime.Value, error) {
	// The entry is recorded only once settled, so a panicking marshaler
	// leaves nothing behind.
	e := &Entry{Specifier: specifier, Native: true, Origin: "native"}

	var exports runtime.Value
	var err error
	switch {
	case v == nil:
		exports = runtime.NullValue
	case r.cfg.Marshal != nil:
		exports, err = r.cfg.Marshal(v)
	default:
		if sv, ok := v.(runtime.Value); ok {
			exports = sv
		} else {
			err = errors.NewTypeError("no marshaler for dependency %T", v)
		}
	}
	if err != nil {
		e.Status = StatusFailed
		e.Err = moduleError(specifier, err)
		r.entries[specifier] = e
		r.log.Warn("dependency failed", zap.String("specifier", specifier), zap.Error(err))
		r.cfg.Metrics.ModuleLoaded("native", e.Status.String())
		return nil, e.Err
	}
	e.Status = StatusResolved
	e.Exports = exports
	r.entries[specifier] = e
	r.log.Debug("dependency resolved", zap.String("specifier", specifier))
	r.cfg.Metrics.ModuleLoaded("native", e.Status.String())
	return exports, nil
}

func (r *Resolver) load(ctx context.Context, e *Entry) (runtime.Value, error) {
	if r.cfg.Loader == nil {
		return nil, ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.NewExecutionAborted(err.Error())
	}
	src, err := r.cfg.Loader.Load(ctx, e.Specifier)
	if err != nil {
		return nil, err
	}
	if src.Name == "" {
		src.Name = e.Specifier
	}
	e.Origin = src.Origin

	prog, hit, err := r.cfg.Parser.Lookup(src.Name, src.Text)
	if r.cfg.Parser != nil {
		r.cfg.Metrics.ParseCacheLookup(hit)
	}
	if err != nil {
		return nil, err
	}
	if r.cfg.Evaluator == nil {
		return nil, errors.NewRuntimeError("no evaluator configured")
	}
	return r.cfg.Evaluator.EvaluateModule(ctx, src, prog)
}

// circular builds the cycle error for a require of a pending specifier and
// poisons every entry on the cycle so none of them can resolve.
func (r *Resolver) circular(specifier string) error {
	start := 0
	for i, s := range r.stack {
		if s == specifier {
			start = i
			break
		}
	}
	chain := append(append([]string(nil), r.stack[start:]...), specifier)
	err := errors.NewCircularDependencyError(chain)
	for _, s := range r.stack[start:] {
		if e := r.entries[s]; e.cycle == nil {
			e.cycle = err
		}
	}
	return err
}

// moduleError keeps ModuleErrors and aborts as they are and wraps the rest.
func moduleError(specifier string, err error) error {
	if se, ok := errors.As(err); ok && (se.Type == errors.ModuleError || se.Type == errors.ExecutionAborted) {
		return se
	}
	return errors.NewModuleError(specifier, err)
}

// Entry returns a copy of the cached entry for specifier.
func (r *Resolver) Entry(specifier string) (Entry, bool) {
	e, ok := r.entries[specifier]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Specifiers lists cached specifiers in sorted order.
func (r *Resolver) Specifiers() []string {
	out := make([]string, 0, len(r.entries))
	for s := range r.entries {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Invalidate drops the entry for specifier so the next require loads it
// again. Entries that are still loading are kept.
func (r *Resolver) Invalidate(specifier string) bool {
	e, ok := r.entries[specifier]
	if !ok || e.Status == StatusPending {
		return false
	}
	delete(r.entries, specifier)
	return true
}

// Reset drops every settled entry.
func (r *Resolver) Reset() {
	for s, e := range r.entries {
		if e.Status != StatusPending {
			delete(r.entries, s)
		}
	}
}

func (r *Resolver) Len() int { return len(r.entries) }
