// Package vm evaluates parsed programs by walking the AST.
package vm

import (
	"context"
	"fmt"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"quill/internal/errors"
	"quill/internal/module"
	"quill/internal/parser"
	"quill/internal/runtime"
)

// DefaultMaxCallDepth bounds script recursion when Options leaves it unset.
const DefaultMaxCallDepth = 256

type Options struct {
	// MaxCallDepth limits nested script calls. Zero means DefaultMaxCallDepth.
	MaxCallDepth int
	// MaxSteps aborts a run after that many statements and loop iterations.
	// Zero means unlimited.
	MaxSteps int64
	// ImplicitGlobals lets non-strict code create globals by assignment.
	ImplicitGlobals bool
	Logger          *zap.Logger
}

// Requirer resolves require() calls made by scripts.
type Requirer interface {
	Require(ctx context.Context, specifier string) (runtime.Value, error)
}

// unit is the source a frame's code came from, used for error locations.
type unit struct {
	file string
	text string
}

// Interpreter runs programs against one global environment and one context
// pool. It is not safe for concurrent use except for Cancel.
type Interpreter struct {
	global *runtime.Environment
	pool   *runtime.ContextPool
	opts   Options
	log    *zap.Logger

	frames []*runtime.ExecutionContext
	unit   unit

	// Per outermost run.
	depth      int
	ctx        context.Context
	done       <-chan struct{}
	steps      int64
	cancelled  atomic.Bool
	root       *runtime.ExecutionContext
	completion runtime.Value
}

func NewInterpreter(global *runtime.Environment, pool *runtime.ContextPool, opts Options) *Interpreter {
	if opts.MaxCallDepth <= 0 {
		opts.MaxCallDepth = DefaultMaxCallDepth
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Interpreter{
		global: global,
		pool:   pool,
		opts:   opts,
		log:    log,
		ctx:    context.Background(),
	}
}

// Cancel asks the running script to stop at its next statement boundary.
// It may be called from any goroutine.
func (in *Interpreter) Cancel() { in.cancelled.Store(true) }

// Steps returns the statements executed by the current or last run.
func (in *Interpreter) Steps() int64 { return in.steps }

func (in *Interpreter) Global() *runtime.Environment { return in.global }

// enter starts a run. Only the outermost run resets the abort state, so a
// module evaluated from inside a script shares its budget and cancellation.
func (in *Interpreter) enter(ctx context.Context) {
	if in.depth == 0 {
		if ctx == nil {
			ctx = context.Background()
		}
		in.ctx = ctx
		in.done = ctx.Done()
		in.steps = 0
		in.cancelled.Store(false)
	}
	in.depth++
}

func (in *Interpreter) leave() {
	in.depth--
	if in.depth == 0 {
		in.ctx = context.Background()
		in.done = nil
	}
}

// Run evaluates a program at script level: var and function declarations
// land on the global environment, let and const in a scope private to this
// run. The result is the value of the last expression statement executed
// outside any function.
func (in *Interpreter) Run(ctx context.Context, name, text string, prog *parser.Program) (result runtime.Value, err error) {
	in.enter(ctx)
	defer in.leave()
	defer in.recoverTo(&err)

	prevUnit, prevRoot, prevCompletion := in.unit, in.root, in.completion
	defer func() { in.unit, in.root, in.completion = prevUnit, prevRoot, prevCompletion }()
	in.unit = unit{file: name, text: text}

	frame := in.pushFrame()
	defer in.popFrame(frame)
	frame.VariableEnvironment = in.global
	frame.LexicalEnvironment = runtime.NewEnvironment(in.global, false)
	frame.ThisBinding = runtime.UndefinedValue
	frame.Strict = prog.Strict || !in.opts.ImplicitGlobals
	frame.Callee = "<script>"

	in.root = frame
	in.completion = runtime.UndefinedValue
	in.runBody(prog.Body, frame)
	return in.completion, nil
}

// EvaluateModule runs a module body in a fresh function scope under the
// global environment with `module` and `exports` bound, and returns
// module.exports.
func (in *Interpreter) EvaluateModule(ctx context.Context, src module.Source, prog *parser.Program) (result runtime.Value, err error) {
	in.enter(ctx)
	defer in.leave()
	defer in.recoverTo(&err)

	prevUnit, prevRoot, prevCompletion := in.unit, in.root, in.completion
	defer func() { in.unit, in.root, in.completion = prevUnit, prevRoot, prevCompletion }()
	in.unit = unit{file: src.Name, text: src.Text}

	env := runtime.NewEnvironment(in.global, true)
	mod := runtime.NewObject()
	exports := runtime.NewObject()
	mod.Set("exports", exports)
	mod.Set("id", runtime.String(src.Name))
	env.Declare("module", runtime.BindingParam, mod)
	env.Declare("exports", runtime.BindingParam, exports)

	frame := in.pushFrame()
	defer in.popFrame(frame)
	frame.VariableEnvironment = env
	frame.LexicalEnvironment = env
	frame.ThisBinding = exports
	frame.Strict = prog.Strict || !in.opts.ImplicitGlobals
	frame.Callee = "<module " + src.Name + ">"
	in.root = frame

	in.runBody(prog.Body, frame)
	out, _ := mod.Get("exports")
	return out, nil
}

// InstallRequire binds a global require function backed by r.
func (in *Interpreter) InstallRequire(r Requirer) {
	in.global.Set("require", &runtime.NativeFunction{
		Name:  "require",
		Arity: 1,
		Fn: func(_ runtime.Value, args []runtime.Value) (runtime.Value, error) {
			spec, ok := runtime.Arg(args, 0).(runtime.String)
			if !ok {
				return nil, errors.NewTypeError("require expects a string specifier")
			}
			v, err := r.Require(in.ctx, string(spec))
			if err != nil {
				// Cached module errors are shared; annotate a copy.
				if se, ok := errors.As(err); ok {
					cp := *se
					cp.CallStack = nil
					return nil, &cp
				}
				return nil, err
			}
			return v, nil
		},
	})
}

func (in *Interpreter) pushFrame() *runtime.ExecutionContext {
	frame := in.pool.Acquire()
	frame.Depth = len(in.frames)
	in.frames = append(in.frames, frame)
	return frame
}

func (in *Interpreter) popFrame(frame *runtime.ExecutionContext) {
	if n := len(in.frames); n > 0 && in.frames[n-1] == frame {
		in.frames = in.frames[:n-1]
	}
	if err := in.pool.Release(frame); err != nil {
		in.log.Error("release execution context", zap.Int("slot", frame.PoolSlot), zap.Error(err))
	}
}

func (in *Interpreter) frame() *runtime.ExecutionContext {
	return in.frames[len(in.frames)-1]
}

func (in *Interpreter) env() *runtime.Environment {
	return in.frame().LexicalEnvironment
}

func (in *Interpreter) strict() bool {
	return in.frame().Strict
}

// tick runs at every statement and loop iteration.
func (in *Interpreter) tick(n parser.Node) {
	if in.cancelled.Load() {
		in.fail(n, errors.NewExecutionAborted("execution cancelled"))
	}
	if in.done != nil {
		select {
		case <-in.done:
			in.fail(n, errors.NewExecutionAborted(in.ctx.Err().Error()))
		default:
		}
	}
	in.steps++
	if in.opts.MaxSteps > 0 && in.steps > in.opts.MaxSteps {
		in.fail(n, errors.NewExecutionAborted(fmt.Sprintf("step budget of %d exceeded", in.opts.MaxSteps)))
	}
}

// fail raises err at node n. Script errors unwind as panics and are turned
// back into returned errors at run boundaries.
func (in *Interpreter) fail(n parser.Node, err error) {
	se, ok := errors.As(err)
	if !ok {
		se = errors.NewRuntimeError("%v", err)
		se.Cause = err
	}
	panic(in.locate(se, n))
}

func (in *Interpreter) locate(se *errors.ScriptError, n parser.Node) *errors.ScriptError {
	if n == nil || !se.Location.IsZero() {
		return se
	}
	p := n.Position()
	se.WithLocation(errors.SourceLocation{File: in.unit.file, Index: p.Offset, Line: p.Line, Column: p.Column})
	if se.Source == "" {
		se.WithSource(errors.SourceLine(in.unit.text, p.Line))
	}
	return se
}

func (in *Interpreter) location(n parser.Node) errors.SourceLocation {
	p := n.Position()
	return errors.SourceLocation{File: in.unit.file, Index: p.Offset, Line: p.Line, Column: p.Column}
}

func (in *Interpreter) recoverTo(err *error) {
	r := recover()
	if r == nil {
		return
	}
	if se, ok := r.(*errors.ScriptError); ok {
		*err = se
		return
	}
	in.log.Error("interpreter panic", zap.Any("panic", r))
	*err = errors.NewRuntimeError("internal error: %v", r)
}
