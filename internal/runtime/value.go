package runtime

import (
	"fmt"
	"sort"
)

// Kind identifies the runtime value category.
type Kind int

const (
	KindUndefined Kind = iota
	KindNull
	KindBoolean
	KindNumber
	KindString
	KindObject
	KindFunction
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBoolean:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	case KindFunction:
		return "function"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Value is implemented by every script-visible value.
type Value interface {
	Kind() Kind
}

type (
	Undefined struct{}
	Null      struct{}
	Boolean   bool
	Number    float64
	String    string
)

var (
	UndefinedValue Value = Undefined{}
	NullValue      Value = Null{}
	True           Value = Boolean(true)
	False          Value = Boolean(false)
)

func (Undefined) Kind() Kind { return KindUndefined }
func (Null) Kind() Kind      { return KindNull }
func (Boolean) Kind() Kind   { return KindBoolean }
func (Number) Kind() Kind    { return KindNumber }
func (String) Kind() Kind    { return KindString }

// Object is a script object with insertion-ordered properties.
type Object struct {
	props map[string]Value
	keys  []string
}

func NewObject() *Object {
	return &Object{props: make(map[string]Value)}
}

func (*Object) Kind() Kind { return KindObject }

// Get returns the property value and whether it exists.
func (o *Object) Get(name string) (Value, bool) {
	v, ok := o.props[name]
	return v, ok
}

func (o *Object) Set(name string, v Value) {
	if _, ok := o.props[name]; !ok {
		o.keys = append(o.keys, name)
	}
	o.props[name] = v
}

func (o *Object) Delete(name string) {
	if _, ok := o.props[name]; !ok {
		return
	}
	delete(o.props, name)
	for i, k := range o.keys {
		if k == name {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

// Keys returns property names in insertion order.
func (o *Object) Keys() []string {
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

func (o *Object) Len() int { return len(o.keys) }

// SortedKeys is Keys in lexical order.
func (o *Object) SortedKeys() []string {
	keys := o.Keys()
	sort.Strings(keys)
	return keys
}

// Array is a script array.
type Array struct {
	Elements []Value
}

func NewArray(elems ...Value) *Array {
	return &Array{Elements: elems}
}

func (*Array) Kind() Kind { return KindObject }

// Get returns the element at i or undefined when out of range.
func (a *Array) Get(i int) Value {
	if i < 0 || i >= len(a.Elements) {
		return UndefinedValue
	}
	return a.Elements[i]
}

// Set stores v at i, growing the array with undefined as needed.
func (a *Array) Set(i int, v Value) {
	for len(a.Elements) <= i {
		a.Elements = append(a.Elements, UndefinedValue)
	}
	a.Elements[i] = v
}

// HostObject is a native value exposed to scripts through its member table.
type HostObject interface {
	Value
	TypeName() string
	GetMember(name string) (Value, error)
	SetMember(name string, v Value) error
	Unwrap() interface{}
}

// Function is implemented by callable values.
type Function interface {
	Value
	FunctionName() string
}

// NativeFunction is a host function callable from scripts.
type NativeFunction struct {
	Name string
	// Arity is informational; -1 marks a variadic function.
	Arity int
	Fn    func(this Value, args []Value) (Value, error)
	// Host is the wrapped Go function, if any.
	Host interface{}
}

func (*NativeFunction) Kind() Kind { return KindFunction }

func (f *NativeFunction) FunctionName() string { return f.Name }

// Call invokes the function with this bound.
func (f *NativeFunction) Call(this Value, args []Value) (Value, error) {
	v, err := f.Fn(this, args)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return UndefinedValue, nil
	}
	return v, nil
}

// Arg returns args[i] or undefined.
func Arg(args []Value, i int) Value {
	if i < len(args) && args[i] != nil {
		return args[i]
	}
	return UndefinedValue
}
