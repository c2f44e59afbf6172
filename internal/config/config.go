// Package config loads engine settings from a YAML file, QUILL_* environment
// variables and command line flags.
package config

import (
	"context"
	"io"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"quill/internal/module"
)

const EnvPrefix = "QUILL"

// Loader kinds.
const (
	LoaderFS   = "fs"
	LoaderSQL  = "sql"
	LoaderGit  = "git"
	LoaderNone = "none"
)

type Config struct {
	ImplicitGlobals bool   `mapstructure:"implicit_globals"`
	MaxCallDepth    int    `mapstructure:"max_call_depth"`
	MaxSteps        int64  `mapstructure:"max_steps"`
	ParseCacheSize  int    `mapstructure:"parse_cache_size"`
	Loader          Loader `mapstructure:"loader"`
	Log             Log    `mapstructure:"log"`
	Metrics         struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
}

// Loader selects where require() finds module source.
type Loader struct {
	Kind       string   `mapstructure:"kind"`
	Roots      []string `mapstructure:"roots"`
	Extensions []string `mapstructure:"extensions"`
	Manifest   string   `mapstructure:"manifest"`

	// sql
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	Table  string `mapstructure:"table"`

	// git
	Repo     string `mapstructure:"repo"`
	Revision string `mapstructure:"revision"`
}

type Log struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"implicit-globals": "implicit_globals",
	"max-call-depth":   "max_call_depth",
	"max-steps":        "max_steps",
	"parse-cache":      "parse_cache_size",
	"loader":           "loader.kind",
	"root":             "loader.roots",
	"ext":              "loader.extensions",
	"manifest":         "loader.manifest",
	"driver":           "loader.driver",
	"dsn":              "loader.dsn",
	"table":            "loader.table",
	"repo":             "loader.repo",
	"revision":         "loader.revision",
	"log-level":        "log.level",
	"dev":              "log.development",
	"metrics":          "metrics.enabled",
}

// RegisterFlags adds the configuration flags to fs. Only flags the user sets
// override file and environment values.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "configuration file (yaml)")
	fs.Bool("implicit-globals", false, "let sloppy-mode assignments create globals")
	fs.Int("max-call-depth", 256, "maximum nested script calls")
	fs.Int64("max-steps", 0, "abort after this many statements (0 = unlimited)")
	fs.Int("parse-cache", 64, "number of parsed programs to keep")
	fs.String("loader", LoaderFS, "module loader: fs, sql, git or none")
	fs.StringSlice("root", nil, "module search root (repeatable)")
	fs.StringSlice("ext", nil, "module file extensions")
	fs.String("manifest", "", "module manifest mapping names to files")
	fs.String("driver", "sqlite", "database type for the sql loader")
	fs.String("dsn", "", "data source name for the sql loader")
	fs.String("table", "", "module table for the sql loader")
	fs.String("repo", "", "repository path for the git loader")
	fs.String("revision", "", "revision for the git loader (default HEAD)")
	fs.String("log-level", "warn", "log level")
	fs.Bool("dev", false, "development logging")
	fs.Bool("metrics", false, "record prometheus metrics")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("implicit_globals", false)
	v.SetDefault("max_call_depth", 256)
	v.SetDefault("max_steps", 0)
	v.SetDefault("parse_cache_size", 64)
	v.SetDefault("loader.kind", LoaderFS)
	v.SetDefault("loader.roots", []string{"."})
	v.SetDefault("loader.extensions", module.DefaultExtensions)
	v.SetDefault("loader.driver", "sqlite")
	v.SetDefault("loader.table", "quill_modules")
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.development", false)
	v.SetDefault("metrics.enabled", false)
}

// Load reads the configuration. fs may be nil for the host filesystem, path
// may be empty for no file, and flags may be nil.
func Load(fs afero.Fs, path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	if fs != nil {
		v.SetFs(fs)
	}
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" && flags != nil {
		path, _ = flags.GetString("config")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, errors.Wrapf(err, "bind flag %s", name)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.MaxCallDepth <= 0 {
		result = multierror.Append(result, errors.Errorf("max_call_depth must be positive, got %d", c.MaxCallDepth))
	}
	if c.MaxSteps < 0 {
		result = multierror.Append(result, errors.Errorf("max_steps must not be negative, got %d", c.MaxSteps))
	}
	if c.ParseCacheSize < 0 {
		result = multierror.Append(result, errors.Errorf("parse_cache_size must not be negative, got %d", c.ParseCacheSize))
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "log.level"))
	}
	switch c.Loader.Kind {
	case LoaderFS, LoaderNone:
	case LoaderSQL:
		if c.Loader.DSN == "" {
			result = multierror.Append(result, errors.New("loader.dsn is required for the sql loader"))
		}
		if _, err := module.DriverName(c.Loader.Driver); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "loader.driver"))
		}
	case LoaderGit:
		if c.Loader.Repo == "" {
			result = multierror.Append(result, errors.New("loader.repo is required for the git loader"))
		}
	default:
		result = multierror.Append(result, errors.Errorf("unknown loader kind %q", c.Loader.Kind))
	}
	return result.ErrorOrNil()
}

// Logger builds the zap logger described by the log section.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenLoader constructs the configured module loader. fs backs the fs loader
// and manifest; nil means the host filesystem. The returned closer releases
// database connections.
func (c *Config) OpenLoader(ctx context.Context, fs afero.Fs) (module.Loader, io.Closer, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	l := c.Loader
	switch l.Kind {
	case LoaderNone:
		return nil, nopCloser{}, nil
	case LoaderSQL:
		db, driver, err := module.OpenDB(ctx, l.Driver, l.DSN)
		if err != nil {
			return nil, nil, err
		}
		loader, err := module.NewSQLLoader(db, driver, l.Table)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return loader, db, nil
	case LoaderGit:
		loader, err := module.OpenGitLoader(l.Repo, l.Revision, l.Extensions)
		if err != nil {
			return nil, nil, err
		}
		return loader, nopCloser{}, nil
	default:
		loader := module.NewFSLoader(fs, l.Roots, l.Extensions)
		if l.Manifest != "" {
			m, err := module.LoadManifest(fs, l.Manifest)
			if err != nil {
				return nil, nil, err
			}
			loader.WithManifest(m)
		}
		return loader, nopCloser{}, nil
	}
}
