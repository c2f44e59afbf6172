package runtime

import (
	"fmt"
	"sort"

	"quill/internal/errors"
)

// BindingKind records how a binding was introduced.
type BindingKind int

const (
	BindingVar BindingKind = iota
	BindingLet
	BindingConst
	BindingFunction
	BindingParam
	// BindingHost marks values installed by the embedding application.
	BindingHost
	// BindingImplicit marks globals created by assignment in non-strict code.
	BindingImplicit
)

func (k BindingKind) String() string {
	switch k {
	case BindingVar:
		return "var"
	case BindingLet:
		return "let"
	case BindingConst:
		return "const"
	case BindingFunction:
		return "function"
	case BindingParam:
		return "param"
	case BindingHost:
		return "host"
	case BindingImplicit:
		return "implicit"
	default:
		return fmt.Sprintf("BindingKind(%d)", int(k))
	}
}

// Lexical reports whether the binding has a temporal dead zone.
func (k BindingKind) Lexical() bool {
	return k == BindingLet || k == BindingConst
}

// Binding holds one identifier's state.
type Binding struct {
	Value       Value
	Mutable     bool
	Initialized bool
	Kind        BindingKind
}

// Environment is one scope: a record of bindings plus a reference to the
// enclosing scope. Environments are only created as children of an existing
// one, so the chain is a tree rooted at the global scope.
type Environment struct {
	record        map[string]*Binding
	outer         *Environment
	functionScope bool
}

// NewEnvironment creates a scope nested under outer. A function scope is the
// target of hoisted var and function declarations.
func NewEnvironment(outer *Environment, functionScope bool) *Environment {
	return &Environment{
		record:        make(map[string]*Binding),
		outer:         outer,
		functionScope: functionScope,
	}
}

// NewGlobal creates a root environment.
func NewGlobal() *Environment {
	return NewEnvironment(nil, true)
}

// Outer exposes the enclosing scope (nil for the global scope).
func (e *Environment) Outer() *Environment { return e.outer }

func (e *Environment) IsGlobal() bool { return e.outer == nil }

func (e *Environment) IsFunctionScope() bool { return e.functionScope }

// Global returns the root of the chain.
func (e *Environment) Global() *Environment {
	env := e
	for env.outer != nil {
		env = env.outer
	}
	return env
}

// VariableScope returns the nearest function scope.
func (e *Environment) VariableScope() *Environment {
	env := e
	for !env.functionScope && env.outer != nil {
		env = env.outer
	}
	return env
}

// Declare creates a binding in this record. Redeclaring a var or function
// keeps the existing binding; any redeclaration involving let or const fails.
// Lexical bindings start uninitialized.
func (e *Environment) Declare(name string, kind BindingKind, value Value) (*Binding, error) {
	if value == nil {
		value = UndefinedValue
	}
	if b, ok := e.record[name]; ok {
		switch {
		case kind == BindingHost:
			*b = Binding{Value: value, Mutable: true, Initialized: true, Kind: kind}
			return b, nil
		case kind.Lexical() || b.Kind.Lexical():
			return nil, errors.NewSyntaxError(fmt.Sprintf("Identifier '%s' has already been declared", name), errors.SourceLocation{})
		case kind == BindingFunction:
			b.Value = value
			b.Kind = kind
			b.Initialized = true
		}
		return b, nil
	}

	b := &Binding{
		Value:       value,
		Mutable:     kind != BindingConst,
		Initialized: !kind.Lexical(),
		Kind:        kind,
	}
	e.record[name] = b
	return b, nil
}

// Initialize ends the temporal dead zone of a lexical binding in this record.
func (e *Environment) Initialize(name string, value Value) {
	b, ok := e.record[name]
	if !ok {
		return
	}
	b.Value = value
	b.Initialized = true
}

// Set installs or overwrites a host binding in this record.
func (e *Environment) Set(name string, value Value) {
	_, _ = e.Declare(name, BindingHost, value)
}

// Lookup finds the binding for name in this record only.
func (e *Environment) Lookup(name string) (*Binding, bool) {
	b, ok := e.record[name]
	return b, ok
}

// Reference is the result of resolving a name against a scope chain. An
// unresolved reference is not an error until it is read or written.
type Reference struct {
	Name    string
	Binding *Binding
	Env     *Environment
	global  *Environment
}

// Resolve walks the chain from e outward.
func (e *Environment) Resolve(name string) Reference {
	for env := e; env != nil; env = env.outer {
		if b, ok := env.record[name]; ok {
			return Reference{Name: name, Binding: b, Env: env}
		}
		if env.outer == nil {
			return Reference{Name: name, global: env}
		}
	}
	return Reference{Name: name}
}

func (r Reference) Resolved() bool { return r.Binding != nil }

// Get reads the referenced value.
func (r Reference) Get() (Value, error) {
	if r.Binding == nil {
		return nil, errors.NewReferenceError(r.Name)
	}
	if !r.Binding.Initialized {
		return nil, errors.NewUninitializedError(r.Name)
	}
	return r.Binding.Value, nil
}

// Set writes through the reference. Unresolved writes fail in strict mode and
// otherwise create a global binding.
func (r Reference) Set(value Value, strict bool) error {
	if r.Binding == nil {
		if strict || r.global == nil {
			return errors.NewReferenceError(r.Name)
		}
		b, err := r.global.Declare(r.Name, BindingImplicit, value)
		if err != nil {
			return err
		}
		b.Value = value
		return nil
	}
	if !r.Binding.Initialized {
		return errors.NewUninitializedError(r.Name)
	}
	if !r.Binding.Mutable {
		return errors.NewTypeError("Assignment to constant variable '%s'", r.Name)
	}
	r.Binding.Value = value
	return nil
}

// Get retrieves a binding value, searching outward through the scope chain.
func (e *Environment) Get(name string) (Value, error) {
	return e.Resolve(name).Get()
}

// Assign updates the first binding for name found on the chain.
func (e *Environment) Assign(name string, value Value, strict bool) error {
	return e.Resolve(name).Set(value, strict)
}

// Keys returns the names bound in this record, sorted.
func (e *Environment) Keys() []string {
	keys := make([]string, 0, len(e.record))
	for k := range e.record {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of bindings in this record.
func (e *Environment) Len() int { return len(e.record) }

// Depth is the number of scopes between e and the global scope.
func (e *Environment) Depth() int {
	d := 0
	for env := e.outer; env != nil; env = env.outer {
		d++
	}
	return d
}
