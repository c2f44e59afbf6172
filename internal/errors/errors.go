// internal/errors/errors.go
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
)

// ErrorType represents the type of error
type ErrorType string

const (
	SyntaxError      ErrorType = "SyntaxError"
	ReferenceError   ErrorType = "ReferenceError"
	TypeError        ErrorType = "TypeError"
	AccessError      ErrorType = "AccessError"
	ModuleError      ErrorType = "ModuleError"
	ExecutionAborted ErrorType = "ExecutionAborted"
	RuntimeError     ErrorType = "RuntimeError"
)

// SourceLocation represents a location in source code. Index is a 0-based
// byte offset; Line and Column are 1-based, Column counts runes.
type SourceLocation struct {
	File   string
	Index  int
	Line   int
	Column int
}

// IsZero reports whether no location was recorded.
func (l SourceLocation) IsZero() bool {
	return l.Line == 0 && l.Column == 0
}

func (l SourceLocation) String() string {
	file := l.File
	if file == "" {
		file = "<script>"
	}
	return fmt.Sprintf("%s:%d:%d", file, l.Line, l.Column)
}

// StackFrame represents a single frame in the script call stack
type StackFrame struct {
	Function string
	Location SourceLocation
}

// ScriptError is the error surfaced to hosts for every script-visible failure.
type ScriptError struct {
	Type      ErrorType
	Message   string
	Location  SourceLocation
	CallStack []StackFrame
	Source    string // The source line where error occurred
	Cause     error
	// Thrown holds the script value of a `throw` statement.
	Thrown interface{}
}

// Error implements the error interface
func (e *ScriptError) Error() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s: %s", e.Type, e.Message)

	if !e.Location.IsZero() {
		fmt.Fprintf(&sb, "\n  at %s", e.Location)

		if e.Source != "" {
			gutter := fmt.Sprintf("  %d | ", e.Location.Line)
			fmt.Fprintf(&sb, "\n\n%s%s\n", gutter, e.Source)
			sb.WriteString(strings.Repeat(" ", runewidth.StringWidth(gutter)))
			sb.WriteString(strings.Repeat(" ", caretOffset(e.Source, e.Location.Column)))
			sb.WriteString("^")
		}
	}

	if len(e.CallStack) > 0 {
		sb.WriteString("\n\nCall Stack:")
		for _, frame := range e.CallStack {
			name := frame.Function
			if name == "" {
				name = "<anonymous>"
			}
			fmt.Fprintf(&sb, "\n  at %s (%s)", name, frame.Location)
		}
	}

	if e.Cause != nil {
		fmt.Fprintf(&sb, "\ncaused by: %v", e.Cause)
	}

	return sb.String()
}

// Unwrap exposes the underlying cause to errors.Is / errors.As.
func (e *ScriptError) Unwrap() error {
	return e.Cause
}

// caretOffset returns the display width of the first column-1 runes of line,
// so carets stay aligned under wide characters.
func caretOffset(line string, column int) int {
	if column <= 1 {
		return 0
	}
	runes := []rune(line)
	if column-1 < len(runes) {
		runes = runes[:column-1]
	}
	width := 0
	for _, r := range runes {
		if r == '\t' {
			width++
			continue
		}
		width += runewidth.RuneWidth(r)
	}
	return width
}

func newError(t ErrorType, message string) *ScriptError {
	return &ScriptError{Type: t, Message: message}
}

// NewSyntaxError creates a new syntax error
func NewSyntaxError(message string, loc SourceLocation) *ScriptError {
	e := newError(SyntaxError, message)
	e.Location = loc
	return e
}

// NewReferenceError reports a read of an unresolved identifier.
func NewReferenceError(name string) *ScriptError {
	return newError(ReferenceError, fmt.Sprintf("%s is not defined", name))
}

// NewUninitializedError reports a read of a let/const binding in its temporal dead zone.
func NewUninitializedError(name string) *ScriptError {
	return newError(ReferenceError, fmt.Sprintf("Cannot access '%s' before initialization", name))
}

// NewTypeError creates a new type error
func NewTypeError(format string, args ...interface{}) *ScriptError {
	return newError(TypeError, fmt.Sprintf(format, args...))
}

// NewAccessError reports a script touching a restricted native member.
func NewAccessError(typeName, member string) *ScriptError {
	return newError(AccessError, fmt.Sprintf("access to %s.%s is denied", typeName, member))
}

// NewModuleError reports a failed require.
func NewModuleError(specifier string, cause error) *ScriptError {
	e := newError(ModuleError, fmt.Sprintf("cannot require '%s'", specifier))
	e.Cause = cause
	return e
}

// NewCircularDependencyError reports a require of a module that is still loading.
func NewCircularDependencyError(chain []string) *ScriptError {
	return newError(ModuleError, "circular require: "+strings.Join(chain, " -> "))
}

// NewExecutionAborted reports cooperative cancellation.
func NewExecutionAborted(reason string) *ScriptError {
	return newError(ExecutionAborted, reason)
}

// NewRuntimeError creates a new runtime error
func NewRuntimeError(format string, args ...interface{}) *ScriptError {
	return newError(RuntimeError, fmt.Sprintf(format, args...))
}

// NewThrow wraps a script value raised by `throw`.
func NewThrow(message string, value interface{}) *ScriptError {
	e := newError(RuntimeError, message)
	e.Thrown = value
	return e
}

// WithSource adds source code context to the error
func (e *ScriptError) WithSource(source string) *ScriptError {
	e.Source = source
	return e
}

// WithLocation sets the location unless one is already recorded.
func (e *ScriptError) WithLocation(loc SourceLocation) *ScriptError {
	if e.Location.IsZero() {
		e.Location = loc
	}
	return e
}

// AddStackFrame adds a single stack frame
func (e *ScriptError) AddStackFrame(function string, loc SourceLocation) *ScriptError {
	e.CallStack = append(e.CallStack, StackFrame{Function: function, Location: loc})
	return e
}

// As returns the ScriptError in err's chain, if any.
func As(err error) (*ScriptError, bool) {
	var se *ScriptError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsType reports whether err carries a ScriptError of type t.
func IsType(err error, t ErrorType) bool {
	se, ok := As(err)
	return ok && se.Type == t
}

// SourceLine returns the 1-based line of source, or "" when out of range.
func SourceLine(source string, line int) string {
	if line <= 0 {
		return ""
	}
	for i := 1; i < line; i++ {
		idx := strings.IndexByte(source, '\n')
		if idx < 0 {
			return ""
		}
		source = source[idx+1:]
	}
	if idx := strings.IndexByte(source, '\n'); idx >= 0 {
		source = source[:idx]
	}
	return strings.TrimRight(source, "\r")
}
