package interop

import (
	"reflect"
	"sort"

	"github.com/mitchellh/mapstructure"
	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/cast"
	"golang.org/x/exp/constraints"

	"quill/internal/errors"
	"quill/internal/runtime"
)

// checkType reports whether values of t can cross the script boundary.
// Structs are checked lazily when their own descriptor is built.
func checkType(t reflect.Type) error {
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.Struct, reflect.Interface:
		return nil
	case reflect.Ptr:
		return checkType(t.Elem())
	case reflect.Slice, reflect.Array:
		return checkType(t.Elem())
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return pkgerrors.Errorf("unsupported map key type %s", t.Key())
		}
		return checkType(t.Elem())
	case reflect.Func:
		return checkFunc(t, 0)
	default:
		return pkgerrors.Errorf("unsupported native type %s", t)
	}
}

// checkFunc validates a function signature, skipping the first skip params
// (the receiver of a method expression).
func checkFunc(t reflect.Type, skip int) error {
	if t == rawFuncType {
		return nil
	}
	for i := skip; i < t.NumIn(); i++ {
		if err := checkType(t.In(i)); err != nil {
			return pkgerrors.Wrapf(err, "parameter %d", i-skip)
		}
	}
	switch t.NumOut() {
	case 0:
	case 1:
		if t.Out(0) != errorType {
			if err := checkType(t.Out(0)); err != nil {
				return pkgerrors.Wrap(err, "result")
			}
		}
	case 2:
		if t.Out(1) != errorType {
			return pkgerrors.Errorf("second result must be error, got %s", t.Out(1))
		}
		if err := checkType(t.Out(0)); err != nil {
			return pkgerrors.Wrap(err, "result")
		}
	default:
		return pkgerrors.Errorf("too many results (%d)", t.NumOut())
	}
	return nil
}

func number[T constraints.Integer | constraints.Float](v T) runtime.Value {
	return runtime.Number(float64(v))
}

// ToValue marshals a native value for scripts. Unsupported kinds are a TypeError.
func (r *Registry) ToValue(v interface{}) (runtime.Value, error) {
	switch x := v.(type) {
	case nil:
		return runtime.NullValue, nil
	case runtime.Value:
		return x, nil
	case bool:
		return runtime.Boolean(x), nil
	case string:
		return runtime.String(x), nil
	case int:
		return number(x), nil
	case int64:
		return number(x), nil
	case int32:
		return number(x), nil
	case uint:
		return number(x), nil
	case uint64:
		return number(x), nil
	case float32:
		return number(x), nil
	case float64:
		return number(x), nil
	case func([]runtime.Value) (runtime.Value, error):
		return &runtime.NativeFunction{Name: "native", Arity: -1, Host: v, Fn: func(_ runtime.Value, args []runtime.Value) (runtime.Value, error) {
			return x(args)
		}}, nil
	}
	return r.toValue(reflect.ValueOf(v))
}

func (r *Registry) toValue(rv reflect.Value) (runtime.Value, error) {
	if !rv.IsValid() {
		return runtime.NullValue, nil
	}
	if rv.Type().Implements(valueType) && rv.Kind() != reflect.Interface {
		if (rv.Kind() == reflect.Ptr) && rv.IsNil() {
			return runtime.NullValue, nil
		}
		return rv.Interface().(runtime.Value), nil
	}

	switch rv.Kind() {
	case reflect.Bool:
		return runtime.Boolean(rv.Bool()), nil
	case reflect.String:
		return runtime.String(rv.String()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return number(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return number(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return number(rv.Float()), nil
	case reflect.Interface:
		if rv.IsNil() {
			return runtime.NullValue, nil
		}
		return r.toValue(rv.Elem())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return runtime.NullValue, nil
		}
		arr := &runtime.Array{Elements: make([]runtime.Value, rv.Len())}
		for i := 0; i < rv.Len(); i++ {
			v, err := r.toValue(rv.Index(i))
			if err != nil {
				return nil, err
			}
			arr.Elements[i] = v
		}
		return arr, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, errors.NewTypeError("unsupported map key type %s", rv.Type().Key())
		}
		if rv.IsNil() {
			return runtime.NullValue, nil
		}
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		obj := runtime.NewObject()
		for _, k := range keys {
			v, err := r.toValue(rv.MapIndex(k))
			if err != nil {
				return nil, err
			}
			obj.Set(k.String(), v)
		}
		return obj, nil
	case reflect.Func:
		if rv.IsNil() {
			return runtime.NullValue, nil
		}
		nf, err := r.WrapFunc("", rv)
		if err != nil {
			return nil, err
		}
		return nf, nil
	case reflect.Ptr:
		if rv.IsNil() {
			return runtime.NullValue, nil
		}
		if !isHostType(rv.Type().Elem()) {
			return r.toValue(rv.Elem())
		}
		return r.wrapValue(rv)
	case reflect.Struct:
		ptr := reflect.New(rv.Type())
		ptr.Elem().Set(rv)
		return r.wrapValue(ptr)
	}
	return nil, errors.NewTypeError("unsupported native type %s", rv.Type())
}

// isHostType reports whether values of t are exposed as host objects rather than copied.
func isHostType(t reflect.Type) bool {
	return t.Kind() == reflect.Struct || reflect.PtrTo(t).NumMethod() > 0
}

// WrapFunc exposes a Go function to scripts. The signature is checked now so
// an unsupported one fails at binding time.
func (r *Registry) WrapFunc(name string, fn reflect.Value) (*runtime.NativeFunction, error) {
	t := fn.Type()
	if err := checkFunc(t, 0); err != nil {
		return nil, errors.NewTypeError("cannot expose function %s: %v", name, err)
	}
	arity := t.NumIn()
	if t.IsVariadic() {
		arity = -1
	}
	nf := &runtime.NativeFunction{Name: name, Arity: arity, Host: fn.Interface()}
	nf.Fn = func(_ runtime.Value, args []runtime.Value) (runtime.Value, error) {
		return r.call(fn, 0, args)
	}
	return nf, nil
}

// call invokes fn with script arguments. Parameters before skip are already bound.
func (r *Registry) call(fn reflect.Value, skip int, args []runtime.Value) (runtime.Value, error) {
	t := fn.Type()
	if t == rawFuncType {
		return fn.Interface().(func([]runtime.Value) (runtime.Value, error))(args)
	}

	numIn := t.NumIn() - skip
	in := make([]reflect.Value, 0, numIn)
	for i := 0; i < numIn; i++ {
		pt := t.In(i + skip)
		if t.IsVariadic() && i == numIn-1 {
			et := pt.Elem()
			for j := i; j < len(args); j++ {
				v, err := r.FromValue(args[j], et)
				if err != nil {
					return nil, err
				}
				in = append(in, v)
			}
			break
		}
		v, err := r.FromValue(runtime.Arg(args, i), pt)
		if err != nil {
			return nil, err
		}
		in = append(in, v)
	}

	out := fn.Call(in)
	switch len(out) {
	case 0:
		return runtime.UndefinedValue, nil
	case 1:
		if t.Out(0) == errorType {
			if err, _ := out[0].Interface().(error); err != nil {
				return nil, err
			}
			return runtime.UndefinedValue, nil
		}
		return r.toValue(out[0])
	default:
		if err, _ := out[1].Interface().(error); err != nil {
			return nil, err
		}
		return r.toValue(out[0])
	}
}

// FromValue converts a script value to a native value of type t.
func (r *Registry) FromValue(v runtime.Value, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		v = runtime.UndefinedValue
	}
	out := reflect.New(t).Elem()

	if t == valueType {
		out.Set(reflect.ValueOf(&v).Elem())
		return out, nil
	}
	if host, ok := v.(runtime.HostObject); ok {
		native := reflect.ValueOf(host.Unwrap())
		switch {
		case native.Type().AssignableTo(t):
			out.Set(native)
			return out, nil
		case native.Kind() == reflect.Ptr && native.Elem().Type().AssignableTo(t):
			out.Set(native.Elem())
			return out, nil
		}
	}
	if t.Kind() == reflect.Interface && t.NumMethod() == 0 {
		if exported := Export(v); exported != nil {
			out.Set(reflect.ValueOf(exported))
		}
		return out, nil
	}
	if runtime.IsNullish(v) {
		return out, nil
	}
	if t.Kind() == reflect.Interface {
		return out, r.mismatch(v, t)
	}

	switch t.Kind() {
	case reflect.Bool:
		out.SetBool(runtime.ToBoolean(v))
	case reflect.String:
		if v.Kind() == runtime.KindObject || v.Kind() == runtime.KindFunction {
			return out, r.mismatch(v, t)
		}
		out.SetString(runtime.ToString(v))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := cast.ToInt64E(Export(v))
		if err != nil {
			return out, r.mismatch(v, t)
		}
		out.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n, err := cast.ToUint64E(Export(v))
		if err != nil {
			return out, r.mismatch(v, t)
		}
		out.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := cast.ToFloat64E(Export(v))
		if err != nil {
			return out, r.mismatch(v, t)
		}
		out.SetFloat(f)
	case reflect.Slice:
		arr, ok := v.(*runtime.Array)
		if !ok {
			return out, r.mismatch(v, t)
		}
		s := reflect.MakeSlice(t, len(arr.Elements), len(arr.Elements))
		for i, e := range arr.Elements {
			ev, err := r.FromValue(e, t.Elem())
			if err != nil {
				return out, err
			}
			s.Index(i).Set(ev)
		}
		out.Set(s)
	case reflect.Array:
		arr, ok := v.(*runtime.Array)
		if !ok {
			return out, r.mismatch(v, t)
		}
		for i := 0; i < t.Len() && i < len(arr.Elements); i++ {
			ev, err := r.FromValue(arr.Elements[i], t.Elem())
			if err != nil {
				return out, err
			}
			out.Index(i).Set(ev)
		}
	case reflect.Map:
		obj, ok := v.(*runtime.Object)
		if !ok || t.Key().Kind() != reflect.String {
			return out, r.mismatch(v, t)
		}
		m := reflect.MakeMapWithSize(t, obj.Len())
		for _, k := range obj.Keys() {
			pv, _ := obj.Get(k)
			ev, err := r.FromValue(pv, t.Elem())
			if err != nil {
				return out, err
			}
			m.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), ev)
		}
		out.Set(m)
	case reflect.Struct:
		if err := decodeObject(v, out.Addr().Interface()); err != nil {
			return out, err
		}
	case reflect.Ptr:
		elem, err := r.FromValue(v, t.Elem())
		if err != nil {
			return out, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(elem)
		out.Set(p)
	default:
		return out, r.mismatch(v, t)
	}
	return out, nil
}

// decodeObject fills the struct behind target from a script object.
func decodeObject(v runtime.Value, target interface{}) error {
	obj, ok := v.(*runtime.Object)
	if !ok {
		return errors.NewTypeError("cannot convert %s to %T", runtime.TypeOf(v), target)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "script",
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return pkgerrors.Wrap(err, "building decoder")
	}
	if err := dec.Decode(Export(obj)); err != nil {
		return errors.NewTypeError("cannot convert object to %T: %v", target, err)
	}
	return nil
}

func (r *Registry) mismatch(v runtime.Value, t reflect.Type) error {
	return errors.NewTypeError("cannot convert %s to %s", runtime.TypeOf(v), t)
}

// Export converts a script value to plain Go data: nil, bool, float64,
// string, []interface{}, map[string]interface{}, the wrapped native value of a
// host object, or the runtime.Value of a function.
func Export(v runtime.Value) interface{} {
	switch x := v.(type) {
	case nil, runtime.Undefined, runtime.Null:
		return nil
	case runtime.Boolean:
		return bool(x)
	case runtime.Number:
		return float64(x)
	case runtime.String:
		return string(x)
	case *runtime.Array:
		out := make([]interface{}, len(x.Elements))
		for i, e := range x.Elements {
			out[i] = Export(e)
		}
		return out
	case *runtime.Object:
		out := make(map[string]interface{}, x.Len())
		for _, k := range x.Keys() {
			pv, _ := x.Get(k)
			out[k] = Export(pv)
		}
		return out
	case runtime.HostObject:
		return x.Unwrap()
	default:
		return v
	}
}
