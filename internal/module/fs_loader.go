package module

import (
	"context"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// FSLoader reads modules from search roots on an afero filesystem. For a
// specifier "lib/a" it tries lib/a.js then lib/a/index.js under each root.
type FSLoader struct {
	fs         afero.Fs
	roots      []string
	extensions []string
	manifest   *Manifest
}

// NewFSLoader creates a loader over fs. With no roots the current directory
// is searched.
func NewFSLoader(fs afero.Fs, roots []string, extensions []string) *FSLoader {
	if len(roots) == 0 {
		roots = []string{"."}
	}
	return &FSLoader{
		fs:         fs,
		roots:      roots,
		extensions: extensionsOrDefault(extensions),
	}
}

// NewOSLoader reads from the host filesystem.
func NewOSLoader(roots []string, extensions []string) *FSLoader {
	return NewFSLoader(afero.NewOsFs(), roots, extensions)
}

// WithManifest maps logical names to files before the search roots are tried.
func (l *FSLoader) WithManifest(m *Manifest) *FSLoader {
	l.manifest = m
	return l
}

func (l *FSLoader) Roots() []string { return l.roots }

func (l *FSLoader) Load(ctx context.Context, specifier string) (Source, error) {
	if p, ok := l.manifest.Lookup(specifier); ok {
		return l.read(specifier, p)
	}

	spec, err := cleanSpecifier(specifier)
	if err != nil {
		return Source{}, err
	}
	for _, root := range l.roots {
		for _, c := range candidates(spec, l.extensions) {
			if err := ctx.Err(); err != nil {
				return Source{}, err
			}
			p := filepath.Join(root, filepath.FromSlash(c))
			ok, err := afero.Exists(l.fs, p)
			if err != nil {
				return Source{}, errors.Wrapf(err, "stat %s", p)
			}
			if !ok {
				continue
			}
			if dir, _ := afero.IsDir(l.fs, p); dir {
				continue
			}
			return l.read(specifier, p)
		}
	}
	return Source{}, errors.Wrapf(ErrNotFound, "%s (searched %v)", specifier, l.roots)
}

func (l *FSLoader) read(specifier, p string) (Source, error) {
	data, err := afero.ReadFile(l.fs, p)
	if err != nil {
		return Source{}, errors.Wrapf(err, "read module %s", specifier)
	}
	return Source{Name: filepath.ToSlash(p), Text: string(data), Origin: "file:" + filepath.ToSlash(p)}, nil
}
