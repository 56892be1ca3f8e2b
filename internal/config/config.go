// Package config loads pakt's TOML configuration and supplies defaults when
// no file exists.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml/v2"

	"github.com/mgiedrius/pakt/internal/errdefs"
	"github.com/mgiedrius/pakt/internal/repository"
)

// systemRootDir is the state root when running as root.
const systemRootDir = "/var/lib/pakt"

// Config is the on-disk configuration. Every field has a working default, so
// pakt runs without a config file at all.
type Config struct {
	// RootDir holds the state database, object store, and scratch space.
	RootDir string `toml:"root_dir"`

	// InstallRoot is the filesystem prefix packages deploy under.
	InstallRoot string `toml:"install_root"`

	// HTTPTimeout bounds one repository request, in seconds.
	HTTPTimeout int `toml:"http_timeout"`

	// MaxRetries bounds retry attempts for transient fetch failures.
	MaxRetries int `toml:"max_retries"`

	path string
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		RootDir:     defaultRootDir(),
		InstallRoot: "/",
		HTTPTimeout: 30,
		MaxRetries:  3,
	}
}

func defaultRootDir() string {
	if os.Geteuid() == 0 {
		return systemRootDir
	}
	return filepath.Join(xdg.DataHome, "pakt")
}

// DefaultPath returns the XDG location of the config file.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "pakt", "config.toml")
}

// Load reads the configuration at path, or the default location when path is
// empty. A missing default file yields the defaults; a missing explicit path
// is an error. File keys override defaults key by key.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if explicit {
			return nil, errdefs.New(errdefs.KindNotFound, "config file %s does not exist", path)
		}
		return cfg, nil
	}
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, err, "read config %s", path)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, errdefs.Wrap(errdefs.KindInvalidUsage, err, "parse config %s", path)
	}
	cfg.path = path
	return cfg, nil
}

// Save writes the configuration back to the path it was loaded from, or the
// default location for a fresh config.
func (c *Config) Save() error {
	path := c.path
	if path == "" {
		path = DefaultPath()
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return errdefs.Wrap(errdefs.KindStorage, err, "encode config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errdefs.Wrap(errdefs.KindStorage, err, "create config dir")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errdefs.Wrap(errdefs.KindStorage, err, "write config %s", path)
	}
	c.path = path
	return nil
}

// Fetcher builds a repository fetcher honoring the configured timeout and
// retry budget.
func (c *Config) Fetcher() *repository.Fetcher {
	retry := repository.DefaultRetryConfig()
	if c.MaxRetries > 0 {
		retry.MaxRetries = c.MaxRetries
	}
	f := repository.NewFetcher(retry)
	if c.HTTPTimeout > 0 {
		f.SetTimeout(time.Duration(c.HTTPTimeout) * time.Second)
	}
	return f
}
