// Package stdlib provides the host objects every engine installs into the
// global scope.
package stdlib

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"quill/internal/runtime"
)

// Console backs the script `console` object. log and info write to Out,
// warn and error to Err. Every call is also sent to Logger at the matching
// level.
type Console struct {
	Out    io.Writer
	Err    io.Writer
	Logger *zap.Logger

	mu sync.Mutex
}

func NewConsole(logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{Out: os.Stdout, Err: os.Stderr, Logger: logger.Named("console")}
}

var (
	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed)
)

// Format joins arguments the way console.log prints them: top-level strings
// raw, everything else inspected.
func Format(args []runtime.Value) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = runtime.Inspect(a)
	}
	return strings.Join(parts, " ")
}

func (c *Console) write(level string, args []runtime.Value) {
	line := Format(args)
	c.mu.Lock()
	defer c.mu.Unlock()

	switch level {
	case "warn":
		warnColor.Fprintln(c.Err, line)
		c.Logger.Warn(line)
	case "error":
		errorColor.Fprintln(c.Err, line)
		c.Logger.Error(line)
	case "debug":
		io.WriteString(c.Out, line+"\n")
		c.Logger.Debug(line)
	default:
		io.WriteString(c.Out, line+"\n")
		c.Logger.Info(line)
	}
}

// Object returns the script-visible console object.
func (c *Console) Object() *runtime.Object {
	obj := runtime.NewObject()
	for _, level := range []string{"log", "info", "debug", "warn", "error"} {
		level := level
		obj.Set(level, &runtime.NativeFunction{
			Name:  "console." + level,
			Arity: -1,
			Fn: func(_ runtime.Value, args []runtime.Value) (runtime.Value, error) {
				c.write(level, args)
				return runtime.UndefinedValue, nil
			},
		})
	}
	return obj
}

// Install binds `console` in env.
func (c *Console) Install(env *runtime.Environment) {
	env.Set("console", c.Object())
}
