package vm

import (
	"quill/internal/errors"
	"quill/internal/parser"
	"quill/internal/runtime"
)

type completionKind int

const (
	completionNormal completionKind = iota
	completionBreak
	completionContinue
	completionReturn
)

// completion carries abrupt control flow out of a statement.
type completion struct {
	kind  completionKind
	value runtime.Value
}

var _ parser.StmtVisitor = (*Interpreter)(nil)

func (in *Interpreter) exec(s parser.Stmt) completion {
	in.tick(s)
	if r := s.Accept(in); r != nil {
		return r.(completion)
	}
	return completion{}
}

// runBody hoists the declarations of a function, module or script body and
// runs its statements in frame.
func (in *Interpreter) runBody(body []parser.Stmt, frame *runtime.ExecutionContext) completion {
	in.hoistVars(body, frame.VariableEnvironment)
	in.declareBlock(body, frame.LexicalEnvironment, frame.VariableEnvironment)
	for _, s := range body {
		if c := in.exec(s); c.kind != completionNormal {
			return c
		}
	}
	return completion{}
}

// hoistVars binds every var declared in stmts, outside nested functions, to
// undefined in env.
func (in *Interpreter) hoistVars(stmts []parser.Stmt, env *runtime.Environment) {
	declare := func(n parser.Node, name string) {
		if _, err := env.Declare(name, runtime.BindingVar, runtime.UndefinedValue); err != nil {
			in.fail(n, err)
		}
	}
	for _, s := range stmts {
		switch st := s.(type) {
		case *parser.VarDecl:
			if st.Kind == parser.DeclVar {
				for _, d := range st.Declarators {
					declare(d, d.Name)
				}
			}
		case *parser.BlockStmt:
			in.hoistVars(st.Body, env)
		case *parser.IfStmt:
			in.hoistVars([]parser.Stmt{st.Consequent}, env)
			if st.Alternate != nil {
				in.hoistVars([]parser.Stmt{st.Alternate}, env)
			}
		case *parser.WhileStmt:
			in.hoistVars([]parser.Stmt{st.Body}, env)
		case *parser.DoWhileStmt:
			in.hoistVars([]parser.Stmt{st.Body}, env)
		case *parser.ForStmt:
			if st.Init != nil {
				in.hoistVars([]parser.Stmt{st.Init}, env)
			}
			in.hoistVars([]parser.Stmt{st.Body}, env)
		case *parser.ForOfStmt:
			if st.Kind == parser.DeclVar {
				declare(st, st.Name)
			}
			in.hoistVars([]parser.Stmt{st.Body}, env)
		case *parser.TryStmt:
			in.hoistVars(st.Block.Body, env)
			if st.Handler != nil {
				in.hoistVars(st.Handler.Body, env)
			}
			if st.Finalizer != nil {
				in.hoistVars(st.Finalizer.Body, env)
			}
		}
	}
}

// declareBlock creates the let/const bindings of a block in their temporal
// dead zone and binds its function declarations to closures over lex.
func (in *Interpreter) declareBlock(stmts []parser.Stmt, lex, fnEnv *runtime.Environment) {
	for _, s := range stmts {
		switch st := s.(type) {
		case *parser.VarDecl:
			if st.Kind == parser.DeclVar {
				continue
			}
			kind := bindingKind(st.Kind)
			for _, d := range st.Declarators {
				if _, err := lex.Declare(d.Name, kind, nil); err != nil {
					in.fail(d, err)
				}
			}
		case *parser.FunctionDecl:
			c := in.newClosure(st.Function, lex)
			if _, err := fnEnv.Declare(st.Function.Name, runtime.BindingFunction, c); err != nil {
				in.fail(st, err)
			}
		}
	}
}

func bindingKind(k parser.DeclKind) runtime.BindingKind {
	switch k {
	case parser.DeclLet:
		return runtime.BindingLet
	case parser.DeclConst:
		return runtime.BindingConst
	default:
		return runtime.BindingVar
	}
}

func hasLexical(stmts []parser.Stmt) bool {
	for _, s := range stmts {
		switch st := s.(type) {
		case *parser.VarDecl:
			if st.Kind != parser.DeclVar {
				return true
			}
		case *parser.FunctionDecl:
			return true
		}
	}
	return false
}

// execBlock runs stmts in a nested scope when they declare anything.
func (in *Interpreter) execBlock(stmts []parser.Stmt) completion {
	frame := in.frame()
	outer := frame.LexicalEnvironment
	if hasLexical(stmts) {
		env := runtime.NewEnvironment(outer, false)
		in.declareBlock(stmts, env, env)
		frame.LexicalEnvironment = env
	}
	var c completion
	for _, s := range stmts {
		if c = in.exec(s); c.kind != completionNormal {
			break
		}
	}
	frame.LexicalEnvironment = outer
	return c
}

// initLexical ends the dead zone of a let/const binding in env.
func (in *Interpreter) initLexical(n parser.Node, env *runtime.Environment, kind runtime.BindingKind, name string, v runtime.Value) {
	if _, ok := env.Lookup(name); !ok {
		if _, err := env.Declare(name, kind, nil); err != nil {
			in.fail(n, err)
		}
	}
	env.Initialize(name, v)
}

func (in *Interpreter) setVar(n parser.Node, name string, v runtime.Value) {
	env := in.frame().VariableEnvironment
	b, ok := env.Lookup(name)
	if !ok {
		var err error
		if b, err = env.Declare(name, runtime.BindingVar, v); err != nil {
			in.fail(n, err)
		}
	}
	b.Value = v
}

func (in *Interpreter) VisitVarDecl(s *parser.VarDecl) interface{} {
	for _, d := range s.Declarators {
		if s.Kind == parser.DeclVar {
			if d.Init == nil {
				continue
			}
			in.setVar(d, d.Name, in.evalNamed(d.Init, d.Name))
			continue
		}
		var v runtime.Value = runtime.UndefinedValue
		if d.Init != nil {
			v = in.evalNamed(d.Init, d.Name)
		}
		in.initLexical(d, in.env(), bindingKind(s.Kind), d.Name, v)
	}
	return nil
}

func (in *Interpreter) VisitExpressionStmt(s *parser.ExpressionStmt) interface{} {
	v := in.eval(s.Expr)
	if in.frame() == in.root {
		in.completion = v
	}
	return nil
}

func (in *Interpreter) VisitBlockStmt(s *parser.BlockStmt) interface{} {
	return in.execBlock(s.Body)
}

func (in *Interpreter) VisitIfStmt(s *parser.IfStmt) interface{} {
	if runtime.ToBoolean(in.eval(s.Test)) {
		return in.exec(s.Consequent)
	}
	if s.Alternate != nil {
		return in.exec(s.Alternate)
	}
	return nil
}

// loopControl maps a body completion to (stop, result) for the enclosing loop.
func loopControl(c completion) (bool, interface{}) {
	switch c.kind {
	case completionBreak:
		return true, nil
	case completionReturn:
		return true, c
	}
	return false, nil
}

func (in *Interpreter) VisitWhileStmt(s *parser.WhileStmt) interface{} {
	for {
		in.tick(s)
		if !runtime.ToBoolean(in.eval(s.Test)) {
			return nil
		}
		if stop, r := loopControl(in.exec(s.Body)); stop {
			return r
		}
	}
}

func (in *Interpreter) VisitDoWhileStmt(s *parser.DoWhileStmt) interface{} {
	for {
		in.tick(s)
		if stop, r := loopControl(in.exec(s.Body)); stop {
			return r
		}
		if !runtime.ToBoolean(in.eval(s.Test)) {
			return nil
		}
	}
}

// VisitForStmt gives each iteration a fresh copy of let bindings declared in
// the initializer, so closures capture the value of their own iteration.
func (in *Interpreter) VisitForStmt(s *parser.ForStmt) interface{} {
	frame := in.frame()
	outer := frame.LexicalEnvironment
	defer func() { frame.LexicalEnvironment = outer }()

	var names []string
	var kind runtime.BindingKind
	if decl, ok := s.Init.(*parser.VarDecl); ok && decl.Kind != parser.DeclVar {
		kind = bindingKind(decl.Kind)
		env := runtime.NewEnvironment(outer, false)
		for _, d := range decl.Declarators {
			names = append(names, d.Name)
			if _, err := env.Declare(d.Name, kind, nil); err != nil {
				in.fail(d, err)
			}
		}
		frame.LexicalEnvironment = env
	}
	if s.Init != nil {
		in.exec(s.Init)
	}

	for {
		in.tick(s)
		if s.Test != nil && !runtime.ToBoolean(in.eval(s.Test)) {
			return nil
		}
		if stop, r := loopControl(in.exec(s.Body)); stop {
			return r
		}
		if len(names) > 0 {
			prev := frame.LexicalEnvironment
			next := runtime.NewEnvironment(outer, false)
			for _, name := range names {
				b, _ := prev.Lookup(name)
				in.initLexical(s, next, kind, name, b.Value)
			}
			frame.LexicalEnvironment = next
		}
		if s.Update != nil {
			in.eval(s.Update)
		}
	}
}

func (in *Interpreter) VisitForOfStmt(s *parser.ForOfStmt) interface{} {
	iterable := in.eval(s.Iterable)
	var next func(i int) (runtime.Value, bool)
	switch x := iterable.(type) {
	case *runtime.Array:
		next = func(i int) (runtime.Value, bool) {
			if i >= len(x.Elements) {
				return nil, false
			}
			return x.Elements[i], true
		}
	case runtime.String:
		chars := []rune(string(x))
		next = func(i int) (runtime.Value, bool) {
			if i >= len(chars) {
				return nil, false
			}
			return runtime.String(chars[i]), true
		}
	default:
		name := describeCallee(s.Iterable)
		if _, ok := s.Iterable.(*parser.Literal); ok {
			name = runtime.Inspect(iterable)
		}
		in.fail(s.Iterable, errors.NewTypeError("%s is not iterable", name))
	}

	frame := in.frame()
	outer := frame.LexicalEnvironment
	defer func() { frame.LexicalEnvironment = outer }()

	for i := 0; ; i++ {
		in.tick(s)
		v, ok := next(i)
		if !ok {
			return nil
		}
		switch s.Kind {
		case parser.DeclLet, parser.DeclConst:
			env := runtime.NewEnvironment(outer, false)
			in.initLexical(s, env, bindingKind(s.Kind), s.Name, v)
			frame.LexicalEnvironment = env
		case parser.DeclVar:
			in.setVar(s, s.Name, v)
		default:
			if err := outer.Resolve(s.Name).Set(v, in.strict()); err != nil {
				in.fail(s, err)
			}
		}
		if stop, r := loopControl(in.exec(s.Body)); stop {
			return r
		}
	}
}

func (in *Interpreter) VisitBreakStmt(s *parser.BreakStmt) interface{} {
	return completion{kind: completionBreak}
}

func (in *Interpreter) VisitContinueStmt(s *parser.ContinueStmt) interface{} {
	return completion{kind: completionContinue}
}

func (in *Interpreter) VisitReturnStmt(s *parser.ReturnStmt) interface{} {
	var v runtime.Value = runtime.UndefinedValue
	if s.Value != nil {
		v = in.eval(s.Value)
	}
	return completion{kind: completionReturn, value: v}
}

// VisitFunctionDecl is a no-op: declarations are bound on scope entry.
func (in *Interpreter) VisitFunctionDecl(s *parser.FunctionDecl) interface{} {
	return nil
}

func (in *Interpreter) VisitThrowStmt(s *parser.ThrowStmt) interface{} {
	v := in.eval(s.Value)
	panic(in.locate(errors.NewThrow(thrownMessage(v), v), s))
}

func (in *Interpreter) VisitTryStmt(s *parser.TryStmt) interface{} {
	frame := in.frame()
	env := frame.LexicalEnvironment

	var result completion
	var pending interface{}
	func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			frame.LexicalEnvironment = env
			se, ok := r.(*errors.ScriptError)
			if !ok || s.Handler == nil || se.Type == errors.ExecutionAborted {
				pending = r
				return
			}
			result, pending = in.runCatch(s, se)
		}()
		result = in.execBlock(s.Block.Body)
	}()

	if s.Finalizer != nil {
		if fc := in.execBlock(s.Finalizer.Body); fc.kind != completionNormal {
			return fc
		}
	}
	if pending != nil {
		panic(pending)
	}
	return result
}

func (in *Interpreter) runCatch(s *parser.TryStmt, se *errors.ScriptError) (c completion, pending interface{}) {
	frame := in.frame()
	outer := frame.LexicalEnvironment
	defer func() {
		frame.LexicalEnvironment = outer
		if r := recover(); r != nil {
			pending = r
		}
	}()
	if s.Param != "" {
		env := runtime.NewEnvironment(outer, false)
		in.initLexical(s, env, runtime.BindingLet, s.Param, caughtValue(se))
		frame.LexicalEnvironment = env
	}
	return in.execBlock(s.Handler.Body), nil
}

func (in *Interpreter) VisitEmptyStmt(s *parser.EmptyStmt) interface{} {
	return nil
}

// caughtValue is what a catch clause binds: the thrown value, or an error
// object describing an engine error.
func caughtValue(se *errors.ScriptError) runtime.Value {
	if v, ok := se.Thrown.(runtime.Value); ok {
		return v
	}
	obj := runtime.NewObject()
	obj.Set("name", runtime.String(se.Type))
	obj.Set("message", runtime.String(se.Message))
	return obj
}

func thrownMessage(v runtime.Value) string {
	if obj, ok := v.(*runtime.Object); ok {
		name, hasName := obj.Get("name")
		msg, hasMsg := obj.Get("message")
		switch {
		case hasName && hasMsg:
			return runtime.ToString(name) + ": " + runtime.ToString(msg)
		case hasMsg:
			return runtime.ToString(msg)
		}
	}
	return "Uncaught " + runtime.Inspect(v)
}
