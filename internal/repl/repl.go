// Package repl implements the interactive prompt of the quill command.
package repl

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/peterh/liner"

	"quill"
	"quill/internal/errors"
	"quill/internal/runtime"
)

const (
	prompt     = "> "
	contPrompt = "... "
)

var errorColor = color.New(color.FgRed)

// REPL reads statements, runs them on one engine and prints results. Global
// bindings persist between lines.
type REPL struct {
	engine  *quill.Engine
	out     io.Writer
	history string
	pending strings.Builder
}

func New(e *quill.Engine, out io.Writer) *REPL {
	r := &REPL{engine: e, out: out}
	if home, err := os.UserHomeDir(); err == nil {
		r.history = filepath.Join(home, ".quill_history")
	}
	return r
}

// Run drives the prompt until .exit, EOF or a cancelled ctx.
func (r *REPL) Run(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(r.complete)

	if r.history != "" {
		if f, err := os.Open(r.history); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
		defer r.saveHistory(line)
	}

	fmt.Fprintln(r.out, "quill repl | .help for commands")
	for ctx.Err() == nil {
		p := prompt
		if r.pending.Len() > 0 {
			p = contPrompt
		}
		input, err := line.Prompt(p)
		if err == liner.ErrPromptAborted {
			r.pending.Reset()
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}
		if quit := r.Feed(ctx, input); quit {
			return nil
		}
	}
	return ctx.Err()
}

func (r *REPL) saveHistory(line *liner.State) {
	f, err := os.Create(r.history)
	if err != nil {
		return
	}
	defer f.Close()
	line.WriteHistory(f)
}

// Feed handles one input line and reports whether the session should end.
// Incomplete input is buffered until it parses.
func (r *REPL) Feed(ctx context.Context, input string) bool {
	if r.pending.Len() == 0 && strings.HasPrefix(strings.TrimSpace(input), ".") {
		return r.command(strings.TrimSpace(input))
	}
	r.pending.WriteString(input)
	r.pending.WriteByte('\n')

	v, err := r.engine.ExecuteContext(ctx, "<repl>", r.pending.String())
	if err != nil && NeedsMore(err) {
		return false
	}
	r.pending.Reset()
	if err != nil {
		errorColor.Fprintln(r.out, err.Error())
		return false
	}
	if v != nil && v.Kind() != runtime.KindUndefined {
		fmt.Fprintln(r.out, runtime.Inspect(v))
	}
	return false
}

// NeedsMore reports whether err means the input stopped mid-statement.
func NeedsMore(err error) bool {
	se, ok := errors.As(err)
	if !ok || se.Type != errors.SyntaxError {
		return false
	}
	return se.Message == "Unexpected end of input" || se.Message == "Unterminated comment"
}

func (r *REPL) command(cmd string) bool {
	switch cmd {
	case ".exit", ".quit":
		return true
	case ".help":
		fmt.Fprintln(r.out, ".exit     leave the repl")
		fmt.Fprintln(r.out, ".globals  list global bindings")
		fmt.Fprintln(r.out, ".modules  list cached modules")
		fmt.Fprintln(r.out, ".reset    clear the module cache")
		fmt.Fprintln(r.out, ".stats    engine statistics")
	case ".globals":
		fmt.Fprintln(r.out, strings.Join(r.engine.Global().Keys(), " "))
	case ".modules":
		for _, m := range r.engine.Modules() {
			fmt.Fprintf(r.out, "%-20s %-8s %s\n", m.Specifier, m.Status, m.Origin)
		}
	case ".reset":
		r.engine.ResetModules()
	case ".stats":
		s := r.engine.Stats()
		fmt.Fprintf(r.out, "contexts  %d allocated, %d in use, %s acquires\n",
			s.Pool.Allocated, s.Pool.InUse, humanize.Comma(int64(s.Pool.Acquires)))
		fmt.Fprintf(r.out, "modules   %d cached\n", s.Modules)
		fmt.Fprintf(r.out, "parse     %d hits, %d misses\n", s.ParseHits, s.ParseMisses)
		fmt.Fprintf(r.out, "steps     %s in last run\n", humanize.Comma(s.Steps))
	default:
		errorColor.Fprintf(r.out, "unknown command %s\n", cmd)
	}
	return false
}

func (r *REPL) complete(line string) []string {
	start := strings.LastIndexAny(line, " \t(;,=+-*/!&|[{") + 1
	prefix := line[start:]
	if prefix == "" {
		return nil
	}
	var out []string
	for _, name := range r.engine.Global().Keys() {
		if strings.HasPrefix(name, prefix) {
			out = append(out, line[:start]+name)
		}
	}
	sort.Strings(out)
	return out
}
