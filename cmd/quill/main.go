// Command quill runs, checks, formats and interactively evaluates quill scripts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"
)

const VERSION = "0.3.0"

var errorColor = color.New(color.FgRed, color.Bold)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		showUsage()
		return 2
	}

	switch args[0] {
	case "-h", "--help", "help":
		showUsage()
		return 0
	case "-v", "--version", "version":
		fmt.Printf("quill %s\n", VERSION)
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch args[0] {
	case "run":
		err = runCommand(ctx, args[1:])
	case "check":
		err = checkCommand(args[1:])
	case "fmt":
		err = fmtCommand(args[1:])
	case "repl":
		err = replCommand(ctx, args[1:])
	default:
		// quill file.js is shorthand for quill run file.js
		err = runCommand(ctx, args)
	}
	if err != nil {
		if err != errReported {
			errorColor.Fprintln(os.Stderr, err)
		}
		return 1
	}
	return 0
}

func setupColor(flags *pflag.FlagSet) {
	noColor, _ := flags.GetBool("no-color")
	if noColor || !(isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())) {
		color.NoColor = true
	}
}

func showUsage() {
	fmt.Print(`quill - embeddable scripting engine

Usage:
  quill run [flags] <file>...   run scripts, each in its own engine
  quill check [--ast] <file>... parse scripts and report syntax errors
  quill fmt [-w|-l] <file>...   print scripts in canonical layout (drops comments)
  quill repl [flags]            interactive prompt
  quill version

Run flags:
  --jobs N        run up to N scripts concurrently
  --watch         re-run when a script or module changes
  --stats         print engine statistics after each script
  --timeout D     abort each script after duration D

Configuration flags (also settable in --config yaml or QUILL_* variables):
  --loader fs|sql|git|none, --root DIR, --ext .js, --manifest FILE,
  --driver, --dsn, --table, --repo, --revision,
  --implicit-globals, --max-call-depth N, --max-steps N, --parse-cache N,
  --log-level LEVEL, --dev, --metrics
`)
}
