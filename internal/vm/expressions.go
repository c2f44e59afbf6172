package vm

import (
	"strings"

	"quill/internal/errors"
	"quill/internal/parser"
	"quill/internal/runtime"
)

var _ parser.ExprVisitor = (*Interpreter)(nil)

func (in *Interpreter) eval(e parser.Expr) runtime.Value {
	return e.Accept(in).(runtime.Value)
}

// evalNamed names an anonymous function after the binding it is assigned to.
func (in *Interpreter) evalNamed(e parser.Expr, name string) runtime.Value {
	v := in.eval(e)
	if _, ok := e.(*parser.FunctionExpr); ok {
		if c, ok := v.(*Closure); ok && c.Name == "" {
			c.Name = name
		}
	}
	return v
}

func (in *Interpreter) VisitLiteralExpr(e *parser.Literal) interface{} {
	switch e.Kind {
	case parser.LiteralNull:
		return runtime.NullValue
	case parser.LiteralBool:
		return runtime.Boolean(e.Value.(bool))
	case parser.LiteralNumber:
		return runtime.Number(e.Value.(float64))
	case parser.LiteralString:
		return runtime.String(e.Value.(string))
	default:
		return runtime.UndefinedValue
	}
}

func (in *Interpreter) VisitIdentifierExpr(e *parser.Identifier) interface{} {
	v, err := in.env().Resolve(e.Name).Get()
	if err != nil {
		in.fail(e, err)
	}
	return v
}

func (in *Interpreter) VisitThisExpr(e *parser.ThisExpr) interface{} {
	if this := in.frame().ThisBinding; this != nil {
		return this
	}
	return runtime.UndefinedValue
}

func (in *Interpreter) VisitArrayExpr(e *parser.ArrayExpr) interface{} {
	elems := make([]runtime.Value, len(e.Elements))
	for i, el := range e.Elements {
		elems[i] = in.eval(el)
	}
	return runtime.NewArray(elems...)
}

func (in *Interpreter) VisitObjectExpr(e *parser.ObjectExpr) interface{} {
	obj := runtime.NewObject()
	for _, p := range e.Properties {
		obj.Set(p.Key, in.evalNamed(p.Value, p.Key))
	}
	return obj
}

func (in *Interpreter) VisitFunctionExpr(e *parser.FunctionExpr) interface{} {
	scope := in.env()
	if e.Name == "" || e.Arrow {
		return in.newClosure(e, scope)
	}
	// A named function expression can refer to itself.
	scope = runtime.NewEnvironment(scope, false)
	c := in.newClosure(e, scope)
	if _, err := scope.Declare(e.Name, runtime.BindingFunction, c); err != nil {
		in.fail(e, err)
	}
	return c
}

func (in *Interpreter) VisitUnaryExpr(e *parser.UnaryExpr) interface{} {
	if e.Operator == "typeof" {
		if id, ok := e.Operand.(*parser.Identifier); ok {
			ref := in.env().Resolve(id.Name)
			if !ref.Resolved() {
				return runtime.String("undefined")
			}
		}
		return runtime.String(runtime.TypeOf(in.eval(e.Operand)))
	}
	v := in.eval(e.Operand)
	switch e.Operator {
	case "!":
		return runtime.Boolean(!runtime.ToBoolean(v))
	case "-":
		return runtime.Number(-runtime.ToNumber(v))
	case "+":
		return runtime.Number(runtime.ToNumber(v))
	}
	in.fail(e, errors.NewRuntimeError("unsupported unary operator %s", e.Operator))
	return nil
}

// target is an evaluated assignment target: a resolved identifier or an
// object and key.
type target struct {
	node   parser.Node
	ref    runtime.Reference
	member bool
	obj    runtime.Value
	key    runtime.Value
}

func (in *Interpreter) evalTarget(e parser.Expr) target {
	switch x := e.(type) {
	case *parser.Identifier:
		return target{node: x, ref: in.env().Resolve(x.Name)}
	case *parser.MemberExpr:
		obj := in.eval(x.Object)
		return target{node: x, member: true, obj: obj, key: in.memberKey(x)}
	}
	in.fail(e, errors.NewSyntaxError("Invalid assignment target", in.location(e)))
	return target{}
}

func (in *Interpreter) getTarget(t target) runtime.Value {
	if t.member {
		return in.getMember(t.node, t.obj, t.key)
	}
	v, err := t.ref.Get()
	if err != nil {
		in.fail(t.node, err)
	}
	return v
}

func (in *Interpreter) setTarget(t target, v runtime.Value) {
	if t.member {
		in.setMember(t.node, t.obj, t.key, v)
		return
	}
	if err := t.ref.Set(v, in.strict()); err != nil {
		in.fail(t.node, err)
	}
}

func (in *Interpreter) VisitUpdateExpr(e *parser.UpdateExpr) interface{} {
	t := in.evalTarget(e.Target)
	old := runtime.ToNumber(in.getTarget(t))
	next := old + 1
	if e.Operator == "--" {
		next = old - 1
	}
	in.setTarget(t, runtime.Number(next))
	if e.Prefix {
		return runtime.Number(next)
	}
	return runtime.Number(old)
}

func (in *Interpreter) VisitBinaryExpr(e *parser.BinaryExpr) interface{} {
	l := in.eval(e.Left)
	r := in.eval(e.Right)
	v, err := binary(e.Operator, l, r)
	if err != nil {
		in.fail(e, err)
	}
	return v
}

func (in *Interpreter) VisitLogicalExpr(e *parser.LogicalExpr) interface{} {
	l := in.eval(e.Left)
	switch e.Operator {
	case "&&":
		if !runtime.ToBoolean(l) {
			return l
		}
	case "||":
		if runtime.ToBoolean(l) {
			return l
		}
	case "??":
		if !runtime.IsNullish(l) {
			return l
		}
	}
	return in.eval(e.Right)
}

func (in *Interpreter) VisitAssignExpr(e *parser.AssignExpr) interface{} {
	t := in.evalTarget(e.Target)
	var v runtime.Value
	if e.Operator == "=" {
		if id, ok := e.Target.(*parser.Identifier); ok {
			v = in.evalNamed(e.Value, id.Name)
		} else {
			v = in.eval(e.Value)
		}
	} else {
		cur := in.getTarget(t)
		var err error
		if v, err = binary(strings.TrimSuffix(e.Operator, "="), cur, in.eval(e.Value)); err != nil {
			in.fail(e, err)
		}
	}
	in.setTarget(t, v)
	return v
}

func (in *Interpreter) VisitConditionalExpr(e *parser.ConditionalExpr) interface{} {
	if runtime.ToBoolean(in.eval(e.Test)) {
		return in.eval(e.Consequent)
	}
	return in.eval(e.Alternate)
}

func (in *Interpreter) VisitCallExpr(e *parser.CallExpr) interface{} {
	var fn runtime.Value
	var this runtime.Value = runtime.UndefinedValue
	if m, ok := e.Callee.(*parser.MemberExpr); ok {
		obj := in.eval(m.Object)
		if m.Optional && runtime.IsNullish(obj) {
			return runtime.UndefinedValue
		}
		this = obj
		fn = in.getMember(m, obj, in.memberKey(m))
	} else {
		fn = in.eval(e.Callee)
	}
	if e.Optional && runtime.IsNullish(fn) {
		return runtime.UndefinedValue
	}

	args := make([]runtime.Value, len(e.Args))
	for i, a := range e.Args {
		args[i] = in.eval(a)
	}
	if _, ok := fn.(runtime.Function); !ok {
		in.fail(e, errors.NewTypeError("%s is not a function", describeCallee(e.Callee)))
	}
	return in.call(e, fn, this, args)
}

func (in *Interpreter) memberKey(m *parser.MemberExpr) runtime.Value {
	if m.Computed() {
		return in.eval(m.Index)
	}
	return runtime.String(m.Property)
}

func (in *Interpreter) VisitMemberExpr(e *parser.MemberExpr) interface{} {
	obj := in.eval(e.Object)
	if e.Optional && runtime.IsNullish(obj) {
		return runtime.UndefinedValue
	}
	return in.getMember(e, obj, in.memberKey(e))
}

func (in *Interpreter) VisitSequenceExpr(e *parser.SequenceExpr) interface{} {
	var v runtime.Value = runtime.UndefinedValue
	for _, x := range e.Exprs {
		v = in.eval(x)
	}
	return v
}
