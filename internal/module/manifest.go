package module

import (
	"io"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Manifest maps logical module names to file paths:
//
//	modules:
//	  config: lib/config.js
//	  util: vendor/util/index.js
//
// Relative paths are resolved against the manifest's directory.
type Manifest struct {
	Modules map[string]string `yaml:"modules"`

	dir string
}

// ParseManifest decodes a manifest. Unknown keys are rejected.
func ParseManifest(r io.Reader) (*Manifest, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if err == io.EOF {
			return &Manifest{Modules: map[string]string{}}, nil
		}
		return nil, errors.Wrap(err, "decode module manifest")
	}
	for name, p := range m.Modules {
		if name == "" || p == "" {
			return nil, errors.Errorf("module manifest: empty entry %q: %q", name, p)
		}
	}
	if m.Modules == nil {
		m.Modules = map[string]string{}
	}
	return &m, nil
}

// LoadManifest reads a manifest file from fs.
func LoadManifest(fs afero.Fs, path string) (*Manifest, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open module manifest %s", path)
	}
	defer f.Close()

	m, err := ParseManifest(f)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

// Lookup returns the file path registered for name.
func (m *Manifest) Lookup(name string) (string, bool) {
	if m == nil {
		return "", false
	}
	p, ok := m.Modules[name]
	if !ok {
		return "", false
	}
	p = filepath.FromSlash(p)
	if !filepath.IsAbs(p) && m.dir != "" {
		p = filepath.Join(m.dir, p)
	}
	return p, true
}
