package runtime

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatNumber(t *testing.T) {
	tests := map[float64]string{
		5:            "5",
		-0.5:         "-0.5",
		1e21:         "1e+21",
		1.5e-7:       "1.5e-7",
		123456789012: "123456789012",
		math.Inf(-1): "-Infinity",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatNumber(in))
	}
	assert.Equal(t, "NaN", FormatNumber(math.NaN()))
}

func TestTruthiness(t *testing.T) {
	falsy := []Value{UndefinedValue, NullValue, False, Number(0), Number(math.NaN()), String("")}
	for _, v := range falsy {
		assert.False(t, ToBoolean(v), "%#v", v)
	}
	truthy := []Value{True, Number(-1), String("0"), NewObject(), NewArray()}
	for _, v := range truthy {
		assert.True(t, ToBoolean(v), "%#v", v)
	}
}

func TestEquality(t *testing.T) {
	obj := NewObject()
	assert.True(t, StrictEquals(obj, obj))
	assert.False(t, StrictEquals(obj, NewObject()))
	assert.False(t, StrictEquals(Number(1), String("1")))
	assert.True(t, LooseEquals(Number(1), String("1")))
	assert.True(t, LooseEquals(NullValue, UndefinedValue))
	assert.False(t, LooseEquals(NullValue, Number(0)))
	assert.False(t, StrictEquals(Number(math.NaN()), Number(math.NaN())))
}

func TestConversions(t *testing.T) {
	assert.Equal(t, 255.0, ToNumber(String(" 0xff ")))
	assert.True(t, math.IsNaN(ToNumber(String("abc"))))
	assert.Equal(t, 0.0, ToNumber(NullValue))
	assert.Equal(t, "1,,x", ToString(NewArray(Number(1), NullValue, String("x"))))
	assert.Equal(t, "object", TypeOf(NullValue))
	assert.Equal(t, "function", TypeOf(&NativeFunction{Name: "f"}))

	obj := NewObject()
	obj.Set("a", Number(1))
	obj.Set("s", String("x"))
	obj.Set("list", NewArray(String("y")))
	assert.Equal(t, `{ a: 1, s: "x", list: ["y"] }`, Inspect(obj))
	assert.Equal(t, "plain", Inspect(String("plain")))
}

func TestObjectOrder(t *testing.T) {
	obj := NewObject()
	obj.Set("b", Number(1))
	obj.Set("a", Number(2))
	obj.Set("b", Number(3))
	assert.Equal(t, []string{"b", "a"}, obj.Keys())
	assert.Equal(t, []string{"a", "b"}, obj.SortedKeys())
	obj.Delete("b")
	assert.Equal(t, []string{"a"}, obj.Keys())
}
