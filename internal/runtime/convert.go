package runtime

import (
	"math"
	"reflect"
	"strconv"
	"strings"
)

// TypeOf returns the `typeof` string of v.
func TypeOf(v Value) string {
	switch v.Kind() {
	case KindNull:
		return "object"
	default:
		return v.Kind().String()
	}
}

// ToBoolean applies truthiness.
func ToBoolean(v Value) bool {
	switch x := v.(type) {
	case Undefined, Null:
		return false
	case Boolean:
		return bool(x)
	case Number:
		f := float64(x)
		return f != 0 && !math.IsNaN(f)
	case String:
		return x != ""
	default:
		return true
	}
}

// ToNumber converts v to a number; unconvertible values give NaN.
func ToNumber(v Value) float64 {
	switch x := v.(type) {
	case Undefined:
		return math.NaN()
	case Null:
		return 0
	case Boolean:
		if x {
			return 1
		}
		return 0
	case Number:
		return float64(x)
	case String:
		return stringToNumber(string(x))
	case *Array:
		switch len(x.Elements) {
		case 0:
			return 0
		case 1:
			return ToNumber(x.Elements[0])
		}
		return math.NaN()
	default:
		return math.NaN()
	}
}

func stringToNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return math.NaN()
		}
		return float64(n)
	}
	switch s {
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// ToString converts v to its string form.
func ToString(v Value) string {
	switch x := v.(type) {
	case Undefined:
		return "undefined"
	case Null:
		return "null"
	case Boolean:
		if x {
			return "true"
		}
		return "false"
	case Number:
		return FormatNumber(float64(x))
	case String:
		return string(x)
	case *Array:
		parts := make([]string, len(x.Elements))
		for i, e := range x.Elements {
			if e.Kind() != KindUndefined && e.Kind() != KindNull {
				parts[i] = ToString(e)
			}
		}
		return strings.Join(parts, ",")
	case *Object:
		return "[object Object]"
	case HostObject:
		return "[object " + x.TypeName() + "]"
	case Function:
		return "function " + x.FunctionName() + "() { [code] }"
	default:
		return ""
	}
}

// FormatNumber renders f the way scripts print numbers.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(f, 'e', -1, 64)
		// Go pads the exponent to two digits.
		s = strings.Replace(s, "e+0", "e+", 1)
		return strings.Replace(s, "e-0", "e-", 1)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Inspect renders v for display; nested strings are quoted.
func Inspect(v Value) string {
	return inspect(v, 0)
}

func inspect(v Value, depth int) string {
	switch x := v.(type) {
	case String:
		if depth == 0 {
			return string(x)
		}
		return strconv.Quote(string(x))
	case *Array:
		if depth > 2 {
			return "[Array]"
		}
		parts := make([]string, len(x.Elements))
		for i, e := range x.Elements {
			parts[i] = inspect(e, depth+1)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *Object:
		if depth > 2 {
			return "[Object]"
		}
		if x.Len() == 0 {
			return "{}"
		}
		parts := make([]string, 0, x.Len())
		for _, k := range x.Keys() {
			val, _ := x.Get(k)
			parts = append(parts, k+": "+inspect(val, depth+1))
		}
		return "{ " + strings.Join(parts, ", ") + " }"
	case Function:
		name := x.FunctionName()
		if name == "" {
			name = "(anonymous)"
		}
		return "[Function: " + name + "]"
	default:
		return ToString(v)
	}
}

// StrictEquals implements ===.
func StrictEquals(a, b Value) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	switch x := a.(type) {
	case Undefined, Null:
		return true
	case Boolean:
		return x == b.(Boolean)
	case Number:
		return float64(x) == float64(b.(Number))
	case String:
		return x == b.(String)
	case HostObject:
		y, ok := b.(HostObject)
		if !ok {
			return false
		}
		ux, uy := x.Unwrap(), y.Unwrap()
		if t := reflect.TypeOf(ux); t != nil && t.Comparable() && t == reflect.TypeOf(uy) {
			return ux == uy
		}
		return a == b
	default:
		return a == b
	}
}

// LooseEquals implements == with the usual primitive coercions.
func LooseEquals(a, b Value) bool {
	ka, kb := a.Kind(), b.Kind()
	if ka == kb {
		return StrictEquals(a, b)
	}
	nullish := func(k Kind) bool { return k == KindUndefined || k == KindNull }
	if nullish(ka) || nullish(kb) {
		return nullish(ka) && nullish(kb)
	}
	if ka == KindObject || kb == KindObject || ka == KindFunction || kb == KindFunction {
		return false
	}
	return ToNumber(a) == ToNumber(b)
}

// IsNullish reports undefined or null.
func IsNullish(v Value) bool {
	k := v.Kind()
	return k == KindUndefined || k == KindNull
}
