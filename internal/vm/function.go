package vm

import (
	"quill/internal/errors"
	"quill/internal/parser"
	"quill/internal/runtime"
)

// Closure is a script function together with the scope it was created in.
type Closure struct {
	Decl  *parser.FunctionExpr
	Name  string
	Scope *runtime.Environment
	// This is the captured receiver of an arrow function.
	This   runtime.Value
	Strict bool

	unit unit
}

func (*Closure) Kind() runtime.Kind { return runtime.KindFunction }

func (c *Closure) FunctionName() string { return c.Name }

func (in *Interpreter) newClosure(fn *parser.FunctionExpr, scope *runtime.Environment) *Closure {
	c := &Closure{
		Decl:   fn,
		Name:   fn.Name,
		Scope:  scope,
		Strict: fn.Strict || in.strict(),
		unit:   in.unit,
	}
	if fn.Arrow {
		c.This = in.frame().ThisBinding
	}
	return c
}

// Call invokes fn from host code, outside any running script.
func (in *Interpreter) Call(fn runtime.Value, this runtime.Value, args ...runtime.Value) (result runtime.Value, err error) {
	if len(in.frames) == 0 {
		in.enter(nil)
		defer in.leave()
	}
	defer in.recoverTo(&err)
	return in.call(nil, fn, this, args), nil
}

// call dispatches to a closure or a native function. site may be nil.
func (in *Interpreter) call(site parser.Node, fn runtime.Value, this runtime.Value, args []runtime.Value) runtime.Value {
	switch f := fn.(type) {
	case *Closure:
		return in.callClosure(site, f, this, args)
	case *runtime.NativeFunction:
		return in.callNative(site, f, this, args)
	default:
		in.fail(site, errors.NewTypeError("%s is not a function", runtime.Inspect(fn)))
		return nil
	}
}

func (in *Interpreter) callNative(site parser.Node, f *runtime.NativeFunction, this runtime.Value, args []runtime.Value) (result runtime.Value) {
	defer func() {
		if r := recover(); r != nil {
			if se, ok := r.(*errors.ScriptError); ok {
				panic(se)
			}
			in.fail(site, errors.NewRuntimeError("panic in %s: %v", f.Name, r))
		}
	}()
	v, err := f.Call(this, args)
	if err != nil {
		in.fail(site, err)
	}
	return v
}

func (in *Interpreter) callClosure(site parser.Node, c *Closure, this runtime.Value, args []runtime.Value) runtime.Value {
	if len(in.frames) >= in.opts.MaxCallDepth {
		in.fail(site, errors.NewRuntimeError("Maximum call stack size exceeded (%d)", in.opts.MaxCallDepth))
	}

	var callSite errors.SourceLocation
	if site != nil {
		callSite = in.location(site)
	}
	name := c.Name
	if name == "" {
		name = "<anonymous>"
	}

	env := runtime.NewEnvironment(c.Scope, true)
	for i, p := range c.Decl.Params {
		if _, err := env.Declare(p, runtime.BindingParam, runtime.Arg(args, i)); err != nil {
			in.fail(site, err)
		}
	}

	prevUnit := in.unit
	frame := in.pushFrame()
	frame.LexicalEnvironment = env
	frame.VariableEnvironment = env
	frame.Callee = name
	frame.CallSite = callSite
	frame.Strict = c.Strict
	if c.Decl.Arrow {
		frame.ThisBinding = c.This
	} else if this != nil {
		frame.ThisBinding = this
	} else {
		frame.ThisBinding = runtime.UndefinedValue
	}
	in.unit = c.unit

	defer func() {
		in.unit = prevUnit
		in.popFrame(frame)
		if r := recover(); r != nil {
			if se, ok := r.(*errors.ScriptError); ok && se.Type != errors.ExecutionAborted {
				se.AddStackFrame(name, callSite)
			}
			panic(r)
		}
	}()

	if cmp := in.runBody(c.Decl.Body, frame); cmp.kind == completionReturn {
		return cmp.value
	}
	return runtime.UndefinedValue
}

func describeCallee(e parser.Expr) string {
	switch x := e.(type) {
	case *parser.Identifier:
		return x.Name
	case *parser.MemberExpr:
		if x.Computed() {
			return describeCallee(x.Object) + "[...]"
		}
		return describeCallee(x.Object) + "." + x.Property
	case *parser.ThisExpr:
		return "this"
	case *parser.CallExpr:
		return describeCallee(x.Callee) + "(...)"
	default:
		return "expression"
	}
}
