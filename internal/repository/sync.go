package repository

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/mgiedrius/pakt/internal/errdefs"
	"github.com/mgiedrius/pakt/internal/logging"
	"github.com/mgiedrius/pakt/internal/models"
	"github.com/mgiedrius/pakt/internal/store"
)

// Syncer refreshes repository catalogs into the state store.
type Syncer struct {
	store   *store.Store
	fetcher *Fetcher
	workers int
}

// NewSyncer creates a Syncer. A nil fetcher selects default retry behavior.
func NewSyncer(st *store.Store, f *Fetcher) *Syncer {
	if f == nil {
		f = NewFetcher(nil)
	}
	return &Syncer{store: st, fetcher: f, workers: 4}
}

// Sync refreshes one repository's package catalog and returns the number of
// packages now advertised. Fresh metadata is left alone unless force is set;
// the count of the stored catalog is then returned.
// The old catalog stays intact when fetching or parsing fails: rows are only
// replaced once a full parse has succeeded, inside one transaction.
func (s *Syncer) Sync(ctx context.Context, repo *models.Repository, force bool) (int, error) {
	logger := logging.GetLogger("repository")

	if !force && !repo.NeedsSync(time.Now()) {
		logger.Debug().Str("repo", repo.Name).Msg("metadata still fresh, skipping sync")
		n, err := store.CountRepositoryPackages(s.store.DB(), repo.ID)
		if err != nil {
			return 0, errdefs.Wrap(errdefs.KindStorage, err, "count catalog for %s", repo.Name)
		}
		return int(n), nil
	}

	parser := DetectParser(repo.Name, repo.URL)
	logger.Info().
		Str("repo", repo.Name).
		Str("format", parser.Name()).
		Msg("syncing repository metadata")

	catalog, err := parser.Fetch(ctx, s.fetcher, repo.URL)
	if err != nil {
		return 0, errdefs.Wrap(errdefs.KindOf(err), err, "sync repository %s", repo.Name)
	}

	now := time.Now().UTC()
	err = s.store.WithTx(func(tx *sql.Tx) error {
		if err := store.ReplaceRepositoryPackages(tx, repo.ID, catalog.Packages); err != nil {
			return err
		}
		if err := store.ReplaceRepositoryDeltas(tx, repo.ID, catalog.Deltas); err != nil {
			return err
		}
		return store.TouchRepositorySync(tx, repo.ID, now)
	})
	if err != nil {
		return 0, errdefs.Wrap(errdefs.KindStorage, err, "store catalog for %s", repo.Name)
	}
	repo.LastSync = now

	logger.Info().
		Str("repo", repo.Name).
		Int("packages", len(catalog.Packages)).
		Int("deltas", len(catalog.Deltas)).
		Msg("repository synced")
	return len(catalog.Packages), nil
}

// SyncAll refreshes every enabled repository, a few at a time. Individual
// failures do not stop the remaining repositories; all errors are joined.
func (s *Syncer) SyncAll(ctx context.Context, force bool) error {
	repos, err := store.ListRepositories(s.store.DB(), true)
	if err != nil {
		return err
	}

	sem := make(chan struct{}, s.workers)
	errCh := make(chan error, len(repos))
	var wg sync.WaitGroup
	for _, repo := range repos {
		wg.Add(1)
		sem <- struct{}{}
		go func(repo *models.Repository) {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := s.Sync(ctx, repo, force); err != nil {
				errCh <- err
			}
		}(repo)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
