package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"github.com/kr/pretty"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"quill"
	"quill/internal/config"
	"quill/internal/formatter"
	"quill/internal/interop"
	"quill/internal/metrics"
	"quill/internal/module"
	"quill/internal/parser"
	"quill/internal/repl"
)

// errReported marks a failure already printed to the user.
var errReported = errors.New("failed")

// environment is what every engine of one invocation shares.
type environment struct {
	cfg      *config.Config
	log      *zap.Logger
	registry *interop.Registry
	loader   *module.CachingLoader
	closer   io.Closer
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
}

func newEnvironment(ctx context.Context, flags *pflag.FlagSet) (*environment, error) {
	cfg, err := config.Load(nil, "", flags)
	if err != nil {
		return nil, err
	}
	log, err := cfg.Logger()
	if err != nil {
		return nil, err
	}
	env := &environment{cfg: cfg, log: log, registry: interop.NewRegistry()}

	loader, closer, err := cfg.OpenLoader(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "open module loader")
	}
	env.closer = closer
	if loader != nil {
		env.loader = module.NewCachingLoader(loader)
	}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		if env.metrics, err = metrics.New(reg); err != nil {
			return nil, err
		}
		env.gatherer = reg
	}
	log.Debug("configured", zap.String("loader", cfg.Loader.Kind), zap.Strings("roots", cfg.Loader.Roots))
	return env, nil
}

func (env *environment) newEngine() *quill.Engine {
	opts := []quill.Option{
		quill.WithLogger(env.log),
		quill.WithRegistry(env.registry),
		quill.WithImplicitGlobals(env.cfg.ImplicitGlobals),
		quill.WithMaxCallDepth(env.cfg.MaxCallDepth),
		quill.WithMaxSteps(env.cfg.MaxSteps),
		quill.WithParseCacheSize(env.cfg.ParseCacheSize),
		quill.WithMetrics(env.metrics),
	}
	if env.loader != nil {
		opts = append(opts, quill.WithLoader(env.loader))
	}
	return quill.New(opts...)
}

func (env *environment) Close() error {
	env.log.Sync()
	if env.closer != nil {
		return env.closer.Close()
	}
	return nil
}

type runner struct {
	env     *environment
	jobs    int
	stats   bool
	timeout time.Duration

	mu sync.Mutex // serializes report output
}

func runCommand(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	config.RegisterFlags(flags)
	jobs := flags.IntP("jobs", "j", 1, "scripts to run concurrently")
	watch := flags.BoolP("watch", "w", false, "re-run on changes")
	stats := flags.Bool("stats", false, "print engine statistics")
	timeout := flags.Duration("timeout", 0, "abort each script after this long")
	flags.Bool("no-color", false, "disable colored output")
	if err := flags.Parse(args); err != nil {
		return err
	}
	setupColor(flags)

	files := flags.Args()
	if len(files) == 0 {
		return errors.New("run: no script files given")
	}
	env, err := newEnvironment(ctx, flags)
	if err != nil {
		return err
	}
	defer env.Close()

	r := &runner{env: env, jobs: *jobs, stats: *stats, timeout: *timeout}
	err = r.runAll(ctx, files)
	if !*watch {
		return err
	}
	return r.watch(ctx, files)
}

func (r *runner) runAll(ctx context.Context, files []string) error {
	var g errgroup.Group
	if r.jobs > 0 {
		g.SetLimit(r.jobs)
	}
	failed := false
	for _, file := range files {
		file := file
		g.Go(func() error {
			if err := r.runFile(ctx, file); err != nil {
				r.mu.Lock()
				failed = true
				errorColor.Fprintf(os.Stderr, "%s: %v\n", file, err)
				r.mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	if r.stats {
		r.printMetrics(os.Stdout)
	}
	if failed {
		return errReported
	}
	return nil
}

func (r *runner) runFile(ctx context.Context, file string) error {
	src, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	e := r.env.newEngine()
	defer e.Close()
	start := time.Now()
	_, err = e.ExecuteContext(ctx, file, string(src))
	if r.stats {
		r.printStats(os.Stdout, file, e.Stats(), time.Since(start))
	}
	return err
}

func (r *runner) printStats(w io.Writer, file string, s quill.Stats, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(w, "%s: %s steps in %s, %d contexts (%s acquires), %d modules, %d native types\n",
		file,
		humanize.Comma(s.Steps),
		elapsed.Round(time.Microsecond),
		s.Pool.Allocated,
		humanize.Comma(int64(s.Pool.Acquires)),
		s.Modules,
		s.Descriptors,
	)
}

func (r *runner) printMetrics(w io.Writer) {
	if r.env.gatherer == nil {
		return
	}
	families, err := r.env.gatherer.Gather()
	if err != nil {
		r.env.log.Warn("gather metrics", zap.Error(err))
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels string
			for _, lp := range m.GetLabel() {
				labels += fmt.Sprintf(" %s=%s", lp.GetName(), lp.GetValue())
			}
			switch {
			case m.GetCounter() != nil:
				fmt.Fprintf(w, "%s%s %s\n", mf.GetName(), labels, humanize.Ftoa(m.GetCounter().GetValue()))
			case m.GetGauge() != nil:
				fmt.Fprintf(w, "%s%s %s\n", mf.GetName(), labels, humanize.Ftoa(m.GetGauge().GetValue()))
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				fmt.Fprintf(w, "%s%s count=%d sum=%s\n", mf.GetName(), labels, h.GetSampleCount(), humanize.Ftoa(h.GetSampleSum()))
			}
		}
	}
}

// watch re-runs files whenever they or a module under the loader roots
// change. Every run uses fresh engines and an emptied source cache.
func (r *runner) watch(ctx context.Context, files []string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "watch")
	}
	defer w.Close()

	dirs := map[string]bool{}
	for _, f := range files {
		dirs[filepath.Dir(f)] = true
	}
	if r.env.cfg.Loader.Kind == config.LoaderFS {
		for _, root := range r.env.cfg.Loader.Roots {
			dirs[root] = true
		}
	}
	var watched []string
	for d := range dirs {
		if err := w.Add(d); err != nil {
			return errors.Wrapf(err, "watch %s", d)
		}
		watched = append(watched, d)
	}
	sort.Strings(watched)
	fmt.Fprintf(os.Stderr, "watching %v\n", watched)

	const settle = 100 * time.Millisecond
	timer := time.NewTimer(settle)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				timer.Reset(settle)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.env.log.Warn("watch error", zap.Error(err))
		case <-timer.C:
			if r.env.loader != nil {
				r.env.loader.Purge()
			}
			fmt.Fprintf(os.Stderr, "--- %s\n", time.Now().Format("15:04:05"))
			r.runAll(ctx, files)
		}
	}
}

func checkCommand(args []string) error {
	flags := pflag.NewFlagSet("check", pflag.ContinueOnError)
	ast := flags.Bool("ast", false, "print the parsed syntax tree")
	flags.Bool("no-color", false, "disable colored output")
	if err := flags.Parse(args); err != nil {
		return err
	}
	setupColor(flags)
	if flags.NArg() == 0 {
		return errors.New("check: no script files given")
	}

	failed := false
	for _, file := range flags.Args() {
		src, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		prog, err := parser.ParseFile(file, string(src))
		if err != nil {
			errorColor.Fprintln(os.Stderr, err)
			failed = true
			continue
		}
		if *ast {
			pretty.Fprintf(os.Stdout, "%# v\n", prog)
		}
		fmt.Printf("%s: ok (%d statements)\n", file, len(prog.Body))
	}
	if failed {
		return errReported
	}
	return nil
}

// fmtCommand prints each script in canonical layout, or rewrites it in
// place with --write. --list only names the files that would change.
func fmtCommand(args []string) error {
	flags := pflag.NewFlagSet("fmt", pflag.ContinueOnError)
	write := flags.BoolP("write", "w", false, "write the result back to the file")
	list := flags.BoolP("list", "l", false, "list files whose formatting differs")
	flags.Bool("no-color", false, "disable colored output")
	if err := flags.Parse(args); err != nil {
		return err
	}
	setupColor(flags)
	if flags.NArg() == 0 {
		return errors.New("fmt: no script files given")
	}

	failed := false
	for _, file := range flags.Args() {
		src, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		out, err := formatter.Source(file, string(src))
		if err != nil {
			errorColor.Fprintln(os.Stderr, err)
			failed = true
			continue
		}
		switch {
		case *list:
			if out != string(src) {
				fmt.Println(file)
			}
		case *write:
			if out == string(src) {
				continue
			}
			info, err := os.Stat(file)
			if err != nil {
				return err
			}
			if err := os.WriteFile(file, []byte(out), info.Mode().Perm()); err != nil {
				return errors.Wrapf(err, "write %s", file)
			}
		default:
			fmt.Print(out)
		}
	}
	if failed {
		return errReported
	}
	return nil
}

func replCommand(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("repl", pflag.ContinueOnError)
	config.RegisterFlags(flags)
	flags.Bool("no-color", false, "disable colored output")
	if err := flags.Parse(args); err != nil {
		return err
	}
	setupColor(flags)

	env, err := newEnvironment(ctx, flags)
	if err != nil {
		return err
	}
	defer env.Close()

	e := env.newEngine()
	defer e.Close()
	return repl.New(e, os.Stdout).Run(ctx)
}
