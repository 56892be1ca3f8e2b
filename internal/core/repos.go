package core

import (
	"context"
	"net/url"
	"os"
	"path/filepath"

	"github.com/mgiedrius/pakt/internal/errdefs"
	"github.com/mgiedrius/pakt/internal/models"
	"github.com/mgiedrius/pakt/internal/store"
)

// defaultMetadataExpire is how long synced metadata stays fresh.
const defaultMetadataExpire = 24 * 60 * 60

// RepoAdd registers a repository. When a GPG key URL is configured, a keyring
// directory is created for it; fetching and verifying keys is left to
// external tooling.
func (m *Manager) RepoAdd(repo *models.Repository) error {
	if repo.Name == "" || repo.URL == "" {
		return errdefs.New(errdefs.KindInvalidUsage, "repository needs a name and a URL")
	}
	if u, err := url.Parse(repo.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return errdefs.New(errdefs.KindInvalidUsage, "invalid repository URL %q", repo.URL)
	}
	existing, err := store.FindRepository(m.store.DB(), repo.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		return errdefs.New(errdefs.KindAlreadyExists, "repository %s is already configured", repo.Name)
	}

	if repo.MetadataExpire == 0 {
		repo.MetadataExpire = defaultMetadataExpire
	}
	if _, err := store.AddRepository(m.store.DB(), repo); err != nil {
		return errdefs.Wrap(errdefs.KindStorage, err, "add repository")
	}

	if repo.GPGKeyURL != "" {
		dir := filepath.Join(m.rootDir, "keyrings", repo.Name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errdefs.Wrap(errdefs.KindStorage, err, "create keyring dir")
		}
	}
	m.log.Info().Str("repository", repo.Name).Str("url", repo.URL).Msg("repository added")
	return nil
}

// RepoList lists every configured repository, enabled or not.
func (m *Manager) RepoList() ([]*models.Repository, error) {
	return store.ListRepositories(m.store.DB(), false)
}

// RepoRemove deletes a repository and its synced catalog.
func (m *Manager) RepoRemove(name string) error {
	if err := m.requireRepository(name); err != nil {
		return err
	}
	return store.RemoveRepository(m.store.DB(), name)
}

// RepoSetEnabled flips whether a repository participates in resolution and
// sync.
func (m *Manager) RepoSetEnabled(name string, enabled bool) error {
	if err := m.requireRepository(name); err != nil {
		return err
	}
	return store.SetRepositoryEnabled(m.store.DB(), name, enabled)
}

// RepoSync refreshes one repository's catalog. Returns the number of packages
// the repository advertises; when the metadata was still fresh and force was
// not set, that is the count already stored, without refetching.
func (m *Manager) RepoSync(ctx context.Context, name string, force bool) (int, error) {
	repo, err := store.FindRepository(m.store.DB(), name)
	if err != nil {
		return 0, err
	}
	if repo == nil {
		return 0, errdefs.New(errdefs.KindNotFound, "repository %s is not configured", name)
	}
	return m.syncer().Sync(ctx, repo, force)
}

// RepoSyncAll refreshes every enabled repository in parallel.
func (m *Manager) RepoSyncAll(ctx context.Context, force bool) error {
	return m.syncer().SyncAll(ctx, force)
}

func (m *Manager) requireRepository(name string) error {
	repo, err := store.FindRepository(m.store.DB(), name)
	if err != nil {
		return err
	}
	if repo == nil {
		return errdefs.New(errdefs.KindNotFound, "repository %s is not configured", name)
	}
	return nil
}
