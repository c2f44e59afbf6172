package vm

import (
	"strings"

	"quill/internal/errors"
	"quill/internal/runtime"
)

type method func(args []runtime.Value) (runtime.Value, error)

func bind(name string, fn method) *runtime.NativeFunction {
	return &runtime.NativeFunction{
		Name:  name,
		Arity: -1,
		Fn: func(_ runtime.Value, args []runtime.Value) (runtime.Value, error) {
			return fn(args)
		},
	}
}

// sliceBounds resolves slice(start, end) arguments against length n.
func sliceBounds(args []runtime.Value, n int) (int, int) {
	rel := func(v runtime.Value, def int) int {
		if v.Kind() == runtime.KindUndefined {
			return def
		}
		i := int(runtime.ToNumber(v))
		if i < 0 {
			i += n
		}
		if i < 0 {
			return 0
		}
		if i > n {
			return n
		}
		return i
	}
	start := rel(runtime.Arg(args, 0), 0)
	end := rel(runtime.Arg(args, 1), n)
	if end < start {
		end = start
	}
	return start, end
}

func (in *Interpreter) callback(args []runtime.Value) (runtime.Value, error) {
	fn := runtime.Arg(args, 0)
	if _, ok := fn.(runtime.Function); !ok {
		return nil, errors.NewTypeError("%s is not a function", runtime.Inspect(fn))
	}
	return fn, nil
}

func (in *Interpreter) arrayMethod(a *runtime.Array, name string) *runtime.NativeFunction {
	each := func(args []runtime.Value, visit func(i int, v, r runtime.Value) bool) error {
		fn, err := in.callback(args)
		if err != nil {
			return err
		}
		for i := 0; i < len(a.Elements); i++ {
			r := in.call(nil, fn, runtime.UndefinedValue, []runtime.Value{a.Elements[i], runtime.Number(i), a})
			if !visit(i, a.Elements[i], r) {
				break
			}
		}
		return nil
	}

	switch name {
	case "push":
		return bind("push", func(args []runtime.Value) (runtime.Value, error) {
			a.Elements = append(a.Elements, args...)
			return runtime.Number(len(a.Elements)), nil
		})
	case "pop":
		return bind("pop", func([]runtime.Value) (runtime.Value, error) {
			if len(a.Elements) == 0 {
				return runtime.UndefinedValue, nil
			}
			last := a.Elements[len(a.Elements)-1]
			a.Elements = a.Elements[:len(a.Elements)-1]
			return last, nil
		})
	case "join":
		return bind("join", func(args []runtime.Value) (runtime.Value, error) {
			sep := ","
			if s := runtime.Arg(args, 0); s.Kind() != runtime.KindUndefined {
				sep = runtime.ToString(s)
			}
			parts := make([]string, len(a.Elements))
			for i, e := range a.Elements {
				if !runtime.IsNullish(e) {
					parts[i] = runtime.ToString(e)
				}
			}
			return runtime.String(strings.Join(parts, sep)), nil
		})
	case "indexOf", "includes":
		return bind(name, func(args []runtime.Value) (runtime.Value, error) {
			needle := runtime.Arg(args, 0)
			for i, e := range a.Elements {
				if runtime.StrictEquals(e, needle) {
					if name == "includes" {
						return runtime.True, nil
					}
					return runtime.Number(i), nil
				}
			}
			if name == "includes" {
				return runtime.False, nil
			}
			return runtime.Number(-1), nil
		})
	case "slice":
		return bind("slice", func(args []runtime.Value) (runtime.Value, error) {
			start, end := sliceBounds(args, len(a.Elements))
			return runtime.NewArray(append([]runtime.Value(nil), a.Elements[start:end]...)...), nil
		})
	case "forEach":
		return bind("forEach", func(args []runtime.Value) (runtime.Value, error) {
			return runtime.UndefinedValue, each(args, func(int, runtime.Value, runtime.Value) bool { return true })
		})
	case "map":
		return bind("map", func(args []runtime.Value) (runtime.Value, error) {
			out := runtime.NewArray()
			err := each(args, func(_ int, _, r runtime.Value) bool {
				out.Elements = append(out.Elements, r)
				return true
			})
			return out, err
		})
	case "filter":
		return bind("filter", func(args []runtime.Value) (runtime.Value, error) {
			out := runtime.NewArray()
			err := each(args, func(_ int, v, r runtime.Value) bool {
				if runtime.ToBoolean(r) {
					out.Elements = append(out.Elements, v)
				}
				return true
			})
			return out, err
		})
	case "find":
		return bind("find", func(args []runtime.Value) (runtime.Value, error) {
			var found runtime.Value = runtime.UndefinedValue
			err := each(args, func(_ int, v, r runtime.Value) bool {
				if runtime.ToBoolean(r) {
					found = v
					return false
				}
				return true
			})
			return found, err
		})
	case "reduce":
		return bind("reduce", func(args []runtime.Value) (runtime.Value, error) {
			fn, err := in.callback(args)
			if err != nil {
				return nil, err
			}
			start := 0
			acc := runtime.Arg(args, 1)
			if len(args) < 2 {
				if len(a.Elements) == 0 {
					return nil, errors.NewTypeError("Reduce of empty array with no initial value")
				}
				acc, start = a.Elements[0], 1
			}
			for i := start; i < len(a.Elements); i++ {
				acc = in.call(nil, fn, runtime.UndefinedValue, []runtime.Value{acc, a.Elements[i], runtime.Number(i), a})
			}
			return acc, nil
		})
	}
	return nil
}

func stringMethod(s runtime.String, name string) *runtime.NativeFunction {
	str := string(s)
	switch name {
	case "toUpperCase":
		return bind(name, func([]runtime.Value) (runtime.Value, error) { return runtime.String(strings.ToUpper(str)), nil })
	case "toLowerCase":
		return bind(name, func([]runtime.Value) (runtime.Value, error) { return runtime.String(strings.ToLower(str)), nil })
	case "trim":
		return bind(name, func([]runtime.Value) (runtime.Value, error) { return runtime.String(strings.TrimSpace(str)), nil })
	case "includes", "startsWith", "endsWith":
		return bind(name, func(args []runtime.Value) (runtime.Value, error) {
			sub := runtime.ToString(runtime.Arg(args, 0))
			switch name {
			case "startsWith":
				return runtime.Boolean(strings.HasPrefix(str, sub)), nil
			case "endsWith":
				return runtime.Boolean(strings.HasSuffix(str, sub)), nil
			}
			return runtime.Boolean(strings.Contains(str, sub)), nil
		})
	case "indexOf":
		return bind(name, func(args []runtime.Value) (runtime.Value, error) {
			sub := runtime.ToString(runtime.Arg(args, 0))
			i := strings.Index(str, sub)
			if i < 0 {
				return runtime.Number(-1), nil
			}
			return runtime.Number(len([]rune(str[:i]))), nil
		})
	case "slice":
		return bind(name, func(args []runtime.Value) (runtime.Value, error) {
			chars := []rune(str)
			start, end := sliceBounds(args, len(chars))
			return runtime.String(chars[start:end]), nil
		})
	case "split":
		return bind(name, func(args []runtime.Value) (runtime.Value, error) {
			sep := runtime.Arg(args, 0)
			var parts []string
			if sep.Kind() == runtime.KindUndefined {
				parts = []string{str}
			} else {
				parts = strings.Split(str, runtime.ToString(sep))
			}
			out := runtime.NewArray()
			for _, p := range parts {
				out.Elements = append(out.Elements, runtime.String(p))
			}
			return out, nil
		})
	}
	return nil
}
