package module

import (
	"context"
	"path"
	"strings"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by a Loader that has no source for a specifier.
var ErrNotFound = errors.New("module not found")

// IsNotFound reports whether err means the loader had nothing to offer.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Source is the text of a script module.
type Source struct {
	Name string
	Text string
	// Origin describes where the text came from, e.g. "file:lib/a.js".
	Origin string
}

// Loader fetches module source by specifier.
type Loader interface {
	Load(ctx context.Context, specifier string) (Source, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, specifier string) (Source, error)

func (f LoaderFunc) Load(ctx context.Context, specifier string) (Source, error) {
	return f(ctx, specifier)
}

// DependencyResolver supplies host singletons that require() returns without
// running any script.
type DependencyResolver interface {
	Resolve(name string) (interface{}, bool)
}

type DependencyFunc func(name string) (interface{}, bool)

func (f DependencyFunc) Resolve(name string) (interface{}, bool) { return f(name) }

// MapResolver serves dependencies from a fixed map.
type MapResolver map[string]interface{}

func (m MapResolver) Resolve(name string) (interface{}, bool) {
	v, ok := m[name]
	return v, ok
}

// MapLoader serves sources from memory, keyed by specifier.
type MapLoader map[string]string

func (m MapLoader) Load(_ context.Context, specifier string) (Source, error) {
	text, ok := m[specifier]
	if !ok {
		return Source{}, errors.Wrapf(ErrNotFound, "%s", specifier)
	}
	return Source{Name: specifier, Text: text, Origin: "memory:" + specifier}, nil
}

// ChainLoader asks each loader in turn. The first result that is not
// ErrNotFound wins, errors included.
type ChainLoader []Loader

func (c ChainLoader) Load(ctx context.Context, specifier string) (Source, error) {
	for _, l := range c {
		src, err := l.Load(ctx, specifier)
		if err == nil || !IsNotFound(err) {
			return src, err
		}
	}
	return Source{}, errors.Wrapf(ErrNotFound, "%s", specifier)
}

// cleanSpecifier normalizes a specifier to a slash separated relative path
// and rejects anything that would leave the module root.
func cleanSpecifier(specifier string) (string, error) {
	if strings.TrimSpace(specifier) == "" {
		return "", errors.New("empty module specifier")
	}
	p := strings.ReplaceAll(specifier, "\\", "/")
	if path.IsAbs(p) {
		return "", errors.Errorf("module specifier %q must be relative", specifier)
	}
	p = path.Clean(p)
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", errors.Errorf("module specifier %q escapes the module root", specifier)
	}
	return p, nil
}

// candidates lists the paths tried for a cleaned specifier, in order.
func candidates(spec string, extensions []string) []string {
	for _, ext := range extensions {
		if strings.HasSuffix(spec, ext) {
			return []string{spec}
		}
	}
	out := make([]string, 0, 2*len(extensions))
	for _, ext := range extensions {
		out = append(out, spec+ext)
	}
	for _, ext := range extensions {
		out = append(out, path.Join(spec, "index"+ext))
	}
	return out
}

// DefaultExtensions are tried when a loader is given none.
var DefaultExtensions = []string{".js"}

func extensionsOrDefault(exts []string) []string {
	if len(exts) == 0 {
		return DefaultExtensions
	}
	out := make([]string, len(exts))
	for i, e := range exts {
		if e != "" && !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out[i] = e
	}
	return out
}
