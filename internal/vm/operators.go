package vm

import (
	"math"
	"strconv"

	"quill/internal/errors"
	"quill/internal/parser"
	"quill/internal/runtime"
)

func primitive(v runtime.Value) bool {
	switch v.Kind() {
	case runtime.KindObject, runtime.KindFunction:
		return false
	}
	return true
}

func binary(op string, l, r runtime.Value) (runtime.Value, error) {
	switch op {
	case "+":
		_, ls := l.(runtime.String)
		_, rs := r.(runtime.String)
		if ls || rs || !primitive(l) || !primitive(r) {
			return runtime.String(runtime.ToString(l) + runtime.ToString(r)), nil
		}
		return runtime.Number(runtime.ToNumber(l) + runtime.ToNumber(r)), nil
	case "-":
		return runtime.Number(runtime.ToNumber(l) - runtime.ToNumber(r)), nil
	case "*":
		return runtime.Number(runtime.ToNumber(l) * runtime.ToNumber(r)), nil
	case "/":
		return runtime.Number(runtime.ToNumber(l) / runtime.ToNumber(r)), nil
	case "%":
		return runtime.Number(math.Mod(runtime.ToNumber(l), runtime.ToNumber(r))), nil
	case "**":
		return runtime.Number(math.Pow(runtime.ToNumber(l), runtime.ToNumber(r))), nil
	case "==":
		return runtime.Boolean(runtime.LooseEquals(l, r)), nil
	case "!=":
		return runtime.Boolean(!runtime.LooseEquals(l, r)), nil
	case "===":
		return runtime.Boolean(runtime.StrictEquals(l, r)), nil
	case "!==":
		return runtime.Boolean(!runtime.StrictEquals(l, r)), nil
	case "<", ">", "<=", ">=":
		return runtime.Boolean(compare(op, l, r)), nil
	}
	return nil, errors.NewRuntimeError("unsupported operator %s", op)
}

func compare(op string, l, r runtime.Value) bool {
	ls, lok := l.(runtime.String)
	rs, rok := r.(runtime.String)
	if lok && rok {
		switch op {
		case "<":
			return ls < rs
		case ">":
			return ls > rs
		case "<=":
			return ls <= rs
		default:
			return ls >= rs
		}
	}
	a, b := runtime.ToNumber(l), runtime.ToNumber(r)
	switch op {
	case "<":
		return a < b
	case ">":
		return a > b
	case "<=":
		return a <= b
	default:
		return a >= b
	}
}

// arrayIndex interprets key as an element index.
func arrayIndex(key runtime.Value) (int, bool) {
	switch k := key.(type) {
	case runtime.Number:
		f := float64(k)
		if f >= 0 && f < math.MaxInt32 && f == math.Trunc(f) {
			return int(f), true
		}
	case runtime.String:
		s := string(k)
		if s == "" || (len(s) > 1 && s[0] == '0') {
			return 0, false
		}
		n, err := strconv.Atoi(s)
		if err == nil && n >= 0 && strconv.Itoa(n) == s {
			return n, true
		}
	}
	return 0, false
}

func (in *Interpreter) getMember(n parser.Node, obj, key runtime.Value) runtime.Value {
	switch o := obj.(type) {
	case runtime.Undefined, runtime.Null:
		in.fail(n, errors.NewTypeError("Cannot read properties of %s (reading '%s')", runtime.ToString(obj), runtime.ToString(key)))
	case *runtime.Object:
		if v, ok := o.Get(runtime.ToString(key)); ok {
			return v
		}
	case *runtime.Array:
		if i, ok := arrayIndex(key); ok {
			return o.Get(i)
		}
		name := runtime.ToString(key)
		if name == "length" {
			return runtime.Number(len(o.Elements))
		}
		if m := in.arrayMethod(o, name); m != nil {
			return m
		}
	case runtime.String:
		chars := []rune(string(o))
		if i, ok := arrayIndex(key); ok {
			if i < len(chars) {
				return runtime.String(chars[i])
			}
			return runtime.UndefinedValue
		}
		name := runtime.ToString(key)
		if name == "length" {
			return runtime.Number(len(chars))
		}
		if m := stringMethod(o, name); m != nil {
			return m
		}
	case runtime.HostObject:
		v, err := o.GetMember(runtime.ToString(key))
		if err != nil {
			in.fail(n, err)
		}
		return v
	case runtime.Function:
		if runtime.ToString(key) == "name" {
			return runtime.String(o.FunctionName())
		}
	}
	return runtime.UndefinedValue
}

func (in *Interpreter) setMember(n parser.Node, obj, key, v runtime.Value) {
	switch o := obj.(type) {
	case runtime.Undefined, runtime.Null:
		in.fail(n, errors.NewTypeError("Cannot set properties of %s (setting '%s')", runtime.ToString(obj), runtime.ToString(key)))
	case *runtime.Object:
		o.Set(runtime.ToString(key), v)
	case *runtime.Array:
		if i, ok := arrayIndex(key); ok {
			o.Set(i, v)
			return
		}
		if runtime.ToString(key) == "length" {
			size, ok := arrayIndex(runtime.Number(runtime.ToNumber(v)))
			if !ok {
				in.fail(n, errors.NewRuntimeError("Invalid array length"))
			}
			if size < len(o.Elements) {
				o.Elements = o.Elements[:size]
			} else if size > 0 {
				o.Set(size-1, o.Get(size-1))
			}
			return
		}
		in.fail(n, errors.NewTypeError("Cannot create property '%s' on array", runtime.ToString(key)))
	case runtime.HostObject:
		if err := o.SetMember(runtime.ToString(key), v); err != nil {
			in.fail(n, err)
		}
	default:
		in.fail(n, errors.NewTypeError("Cannot create property '%s' on %s", runtime.ToString(key), runtime.TypeOf(obj)))
	}
}
