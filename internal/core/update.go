package core

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mgiedrius/pakt/internal/cas"
	"github.com/mgiedrius/pakt/internal/delta"
	"github.com/mgiedrius/pakt/internal/errdefs"
	"github.com/mgiedrius/pakt/internal/models"
	"github.com/mgiedrius/pakt/internal/pkgfile"
	"github.com/mgiedrius/pakt/internal/resolver"
	"github.com/mgiedrius/pakt/internal/store"
)

// UpdateSummary reports what one update run changed and what the deltas saved.
type UpdateSummary struct {
	// Updated lists "name old -> new" for every upgraded package.
	Updated []string
	Stats   delta.Stats
}

// Update upgrades the named package, or every installed package when name is
// empty, to the highest version the enabled repositories advertise. When a
// repository advertises a binary delta whose from-hash matches installed
// content, the delta path is preferred; any delta failure falls back to a
// full download.
func (m *Manager) Update(ctx context.Context, name string) (summary *UpdateSummary, err error) {
	err = m.withLock(func() error {
		summary, err = m.update(ctx, name)
		return err
	})
	return summary, err
}

func (m *Manager) update(ctx context.Context, name string) (*UpdateSummary, error) {
	var troves []*models.Trove
	var err error
	if name != "" {
		troves, err = store.FindTrovesByName(m.store.DB(), name)
		if err != nil {
			return nil, err
		}
		if len(troves) == 0 {
			return nil, errdefs.New(errdefs.KindNotFound, "package %s is not installed", name)
		}
	} else {
		troves, err = store.ListTroves(m.store.DB(), "")
		if err != nil {
			return nil, err
		}
	}

	summary := &UpdateSummary{}
	for _, trove := range troves {
		candidate, err := m.bestAvailable(trove.Name)
		if err != nil {
			return nil, err
		}
		if candidate == nil || resolver.CompareVersions(candidate.Version, trove.Version) <= 0 {
			continue
		}
		if err := m.upgradeTrove(ctx, trove, candidate, summary); err != nil {
			return nil, err
		}
		summary.Updated = append(summary.Updated,
			fmt.Sprintf("%s %s -> %s", trove.Name, trove.Version, candidate.Version))
	}
	return summary, nil
}

// bestAvailable returns the highest advertised version of a package, nil when
// no enabled repository carries it.
func (m *Manager) bestAvailable(name string) (*models.RepositoryPackage, error) {
	candidates, err := store.FindRepositoryPackages(m.store.DB(), name)
	if err != nil {
		return nil, err
	}
	var best *models.RepositoryPackage
	for _, c := range candidates {
		if best == nil || resolver.CompareVersions(c.Version, best.Version) > 0 {
			best = c
		}
	}
	return best, nil
}

// upgradeTrove moves one trove to the candidate version, preferring the delta
// path when an applicable delta is advertised.
func (m *Manager) upgradeTrove(ctx context.Context, trove *models.Trove, candidate *models.RepositoryPackage, summary *UpdateSummary) error {
	var stats delta.Stats

	adv, err := store.FindPackageDelta(m.store.DB(), trove.Name, trove.Version, candidate.Version)
	if err != nil {
		return err
	}
	if adv != nil {
		changesetID, deltaErr := m.applyDeltaUpgrade(ctx, trove, candidate, adv)
		if deltaErr == nil {
			stats.RecordDelta(adv.FullSize, adv.DeltaSize)
			summary.Stats.RecordDelta(adv.FullSize, adv.DeltaSize)
			return store.UpsertDeltaStats(m.store.DB(), stats.Model(changesetID))
		}
		m.log.Warn().Err(deltaErr).Str("package", trove.Name).
			Msg("delta failed, falling back to full download")
		stats.RecordFailure()
		summary.Stats.RecordFailure()
	} else {
		stats.RecordFullDownload()
		summary.Stats.RecordFullDownload()
	}

	changesetID, err := m.fullDownloadUpgrade(ctx, candidate)
	if err != nil {
		return err
	}
	return store.UpsertDeltaStats(m.store.DB(), stats.Model(changesetID))
}

// applyDeltaUpgrade rebuilds the changed file from the advertised delta and
// installs the new version without downloading the full package. The delta
// only applies when the installed content still matches its from-hash.
func (m *Manager) applyDeltaUpgrade(ctx context.Context, trove *models.Trove, candidate *models.RepositoryPackage, adv *models.PackageDelta) (int64, error) {
	files, err := store.FilesForTrove(m.store.DB(), trove.ID)
	if err != nil {
		return 0, err
	}
	var target *models.FileRecord
	for _, f := range files {
		if f.SHA256 == adv.FromHash {
			target = f
			break
		}
	}
	if target == nil {
		return 0, errdefs.New(errdefs.KindDeltaFailure,
			"no installed content of %s matches delta from-hash %s", trove.Name, adv.FromHash)
	}

	deltaBytes, err := m.fetcher.Get(ctx, adv.DeltaURL)
	if err != nil {
		return 0, err
	}
	if adv.DeltaChecksum != "" && hashBytes(deltaBytes) != adv.DeltaChecksum {
		return 0, errdefs.New(errdefs.KindDeltaFailure,
			"delta for %s did not match its advertised checksum", trove.Name)
	}

	old, err := m.readObject(adv.FromHash)
	if err != nil {
		return 0, err
	}
	content, err := delta.Apply(deltaBytes, old, adv.ToHash)
	if err != nil {
		return 0, err
	}
	if _, err := m.objects.PutExpected(adv.ToHash, bytes.NewReader(content)); err != nil {
		return 0, err
	}

	deps, err := store.DecodeDependencies(candidate.Dependencies)
	if err != nil {
		return 0, err
	}

	ops := []fileOp{{
		path:    target.Path,
		action:  models.FileModify,
		newHash: adv.ToHash,
		oldHash: adv.FromHash,
		mode:    target.Mode,
		size:    int64(len(content)),
		owner:   target.Owner,
		group:   target.Group,
	}}

	snapshot, err := m.snapshotTrove(trove.ID)
	if err != nil {
		return 0, err
	}

	var changesetID, troveID int64
	err = m.store.WithTx(func(tx *sql.Tx) error {
		changesetID, err = store.CreateChangeset(tx,
			fmt.Sprintf("update %s %s -> %s (delta)", trove.Name, trove.Version, candidate.Version))
		if err != nil {
			return err
		}
		if err := store.DeleteTrove(tx, trove.ID); err != nil {
			return err
		}
		troveID, err = store.InsertTrove(tx, &models.Trove{
			Name:         trove.Name,
			Version:      candidate.Version,
			Type:         trove.Type,
			Architecture: trove.Architecture,
			Description:  trove.Description,
			ChangesetID:  changesetID,
		})
		if err != nil {
			return err
		}
		for _, f := range files {
			rec := &models.FileRecord{
				TroveID: troveID,
				Path:    f.Path,
				SHA256:  f.SHA256,
				Size:    f.Size,
				Mode:    f.Mode,
				Owner:   f.Owner,
				Group:   f.Group,
			}
			if f.Path == target.Path {
				rec.SHA256 = adv.ToHash
				rec.Size = int64(len(content))
			}
			if err := store.InsertFileRecord(tx, rec); err != nil {
				return err
			}
		}
		if err := store.UpsertContentObject(tx, &models.ContentObject{
			SHA256:      adv.ToHash,
			ContentPath: cas.ObjectPath(adv.ToHash),
			Size:        int64(len(content)),
		}); err != nil {
			return err
		}
		for _, dep := range deps {
			if err := store.InsertDependency(tx, &models.Dependency{
				TroveID:     troveID,
				Name:        dep.Name,
				Constraint:  dep.Constraint,
				Type:        dep.Type,
				Description: dep.Description,
			}); err != nil {
				return err
			}
		}
		for _, op := range ops {
			if err := store.InsertFileHistory(tx, op.historyEntry(changesetID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, errdefs.Wrap(errdefs.KindStorage, err, "record delta update")
	}

	d := m.deployer("")
	done, err := applyFiles(d, ops)
	if err != nil {
		m.compensateFiles(d, ops, done)
		m.discardChangeset(changesetID, troveID, snapshot)
		return 0, errdefs.Wrap(errdefs.KindStorage, err, "deploy delta update for %s", trove.Name)
	}
	if err := store.MarkChangesetApplied(m.store.DB(), changesetID, time.Now()); err != nil {
		return 0, err
	}

	m.log.Info().Str("package", trove.Name).Str("version", candidate.Version).
		Int64("saved", adv.FullSize-adv.DeltaSize).Msg("updated via delta")
	return changesetID, nil
}

// fullDownloadUpgrade fetches the whole package and installs it with upgrade
// semantics.
func (m *Manager) fullDownloadUpgrade(ctx context.Context, candidate *models.RepositoryPackage) (int64, error) {
	dest := filepath.Join(m.tmpDir(), downloadName(candidate))
	expected := ""
	if candidate.ChecksumType == "sha256" {
		expected = candidate.Checksum
	}
	if err := m.fetcher.Download(ctx, candidate.DownloadURL, dest, expected); err != nil {
		return 0, err
	}
	defer os.Remove(dest)

	pkg, err := pkgfile.Read(dest)
	if err != nil {
		return 0, err
	}
	return m.installPackage(pkg, InstallOptions{})
}

func (m *Manager) readObject(hash string) ([]byte, error) {
	r, err := m.objects.Open(hash)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
