package stdlib

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"quill/internal/runtime"
)

func TestFormat(t *testing.T) {
	obj := runtime.NewObject()
	obj.Set("a", runtime.String("x"))
	got := Format([]runtime.Value{runtime.String("n ="), runtime.Number(3), obj, runtime.NewArray(runtime.String("s"))})
	assert.Equal(t, `n = 3 { a: "x" } ["s"]`, got)
}

func TestConsole(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	c := NewConsole(zap.New(core))
	var out, errOut bytes.Buffer
	c.Out, c.Err = &out, &errOut

	env := runtime.NewGlobal()
	c.Install(env)
	v, err := env.Get("console")
	require.NoError(t, err)
	console := v.(*runtime.Object)

	call := func(name string, args ...runtime.Value) {
		fn, ok := console.Get(name)
		require.True(t, ok, name)
		_, err := fn.(*runtime.NativeFunction).Call(runtime.UndefinedValue, args)
		require.NoError(t, err)
	}
	call("log", runtime.String("hello"), runtime.Number(1))
	call("warn", runtime.String("careful"))
	call("error", runtime.String("bad"))

	assert.Equal(t, "hello 1\n", out.String())
	assert.Equal(t, "careful\nbad\n", errOut.String())

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "console", entries[0].LoggerName)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "bad", entries[2].Message)
}
