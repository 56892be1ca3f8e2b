// Package core implements the transaction manager: the facade that drives
// installs, removals, updates, and rollbacks as journaled changesets over the
// state store, the object store, and the live filesystem.
package core

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/mgiedrius/pakt/internal/cas"
	"github.com/mgiedrius/pakt/internal/errdefs"
	"github.com/mgiedrius/pakt/internal/logging"
	"github.com/mgiedrius/pakt/internal/repository"
	"github.com/mgiedrius/pakt/internal/resolver"
	"github.com/mgiedrius/pakt/internal/store"
)

// Options configures a Manager.
type Options struct {
	// InstallRoot is the directory tracked paths deploy under. Defaults to "/".
	InstallRoot string

	// Fetcher overrides the HTTP client used for downloads and syncs.
	Fetcher *repository.Fetcher
}

// Manager coordinates all mutating operations under one root directory. The
// root holds the state database, the content-addressed object store, and
// scratch space for downloads.
type Manager struct {
	rootDir     string
	installRoot string
	store       *store.Store
	objects     *cas.Store
	fetcher     *repository.Fetcher
	log         zerolog.Logger
}

// Init creates the root directory layout, runs migrations, and returns an
// open Manager. Initializing an existing root is a no-op beyond migration.
func Init(rootDir string, opts *Options) (*Manager, error) {
	for _, dir := range []string{rootDir, filepath.Join(rootDir, "tmp")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errdefs.Wrap(errdefs.KindStorage, err, "create %s", dir)
		}
	}
	return open(rootDir, opts)
}

// Open opens an existing root directory. Returns errdefs.ErrNotFound when the
// root was never initialized.
func Open(rootDir string, opts *Options) (*Manager, error) {
	if _, err := os.Stat(statePath(rootDir)); os.IsNotExist(err) {
		return nil, errdefs.New(errdefs.KindNotFound, "%s is not initialized", rootDir)
	}
	return open(rootDir, opts)
}

func open(rootDir string, opts *Options) (*Manager, error) {
	if opts == nil {
		opts = &Options{}
	}
	st, err := store.New(statePath(rootDir))
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, err, "open state store")
	}
	if err := st.Migrate(); err != nil {
		st.Close()
		return nil, errdefs.Wrap(errdefs.KindStorage, err, "migrate state store")
	}
	objects, err := cas.New(rootDir)
	if err != nil {
		st.Close()
		return nil, errdefs.Wrap(errdefs.KindStorage, err, "open object store")
	}

	installRoot := opts.InstallRoot
	if installRoot == "" {
		installRoot = "/"
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = repository.NewFetcher(nil)
	}
	return &Manager{
		rootDir:     rootDir,
		installRoot: installRoot,
		store:       st,
		objects:     objects,
		fetcher:     fetcher,
		log:         logging.GetLogger("core"),
	}, nil
}

// Close releases the state store handle.
func (m *Manager) Close() error {
	return m.store.Close()
}

// Store exposes the underlying state store for read-only callers.
func (m *Manager) Store() *store.Store {
	return m.store
}

func statePath(rootDir string) string {
	return filepath.Join(rootDir, "state.db")
}

func (m *Manager) tmpDir() string {
	return filepath.Join(m.rootDir, "tmp")
}

// deployer returns a deployer for the given install root, falling back to the
// manager's configured root.
func (m *Manager) deployer(root string) *cas.Deployer {
	if root == "" {
		root = m.installRoot
	}
	return cas.NewDeployer(m.objects, root)
}

func (m *Manager) resolver() *resolver.Resolver {
	return resolver.New(m.store.DB())
}

func (m *Manager) syncer() *repository.Syncer {
	return repository.NewSyncer(m.store, m.fetcher)
}
