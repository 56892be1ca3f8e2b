package core

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mgiedrius/pakt/internal/errdefs"
	"github.com/mgiedrius/pakt/internal/models"
	"github.com/mgiedrius/pakt/internal/store"
)

// Remove uninstalls a package by name. Removal is refused while any other
// installed trove still depends on it; the error lists the dependents.
func (m *Manager) Remove(ctx context.Context, name string) (changesetID int64, err error) {
	err = m.withLock(func() error {
		changesetID, err = m.remove(name)
		return err
	})
	return changesetID, err
}

func (m *Manager) remove(name string) (int64, error) {
	troves, err := store.FindTrovesByName(m.store.DB(), name)
	if err != nil {
		return 0, err
	}
	if len(troves) == 0 {
		return 0, errdefs.New(errdefs.KindNotFound, "package %s is not installed", name)
	}
	if len(troves) > 1 {
		return 0, errdefs.New(errdefs.KindConflict,
			"%s is installed %d times, removal is ambiguous", name, len(troves))
	}
	trove := troves[0]

	breaking, err := m.resolver().CheckRemoval(name)
	if err != nil {
		return 0, err
	}
	if len(breaking) > 0 {
		return 0, errdefs.New(errdefs.KindDependencyBreaks,
			"removing %s would break: %v", name, breaking)
	}

	files, err := store.FilesForTrove(m.store.DB(), trove.ID)
	if err != nil {
		return 0, err
	}

	// Preserve the removed content so the changeset stays reversible.
	d := m.deployer("")
	ops := make([]fileOp, 0, len(files))
	for _, f := range files {
		oldHash, err := m.ensureOldContent(d, f.Path, f.SHA256)
		if err != nil {
			return 0, err
		}
		ops = append(ops, fileOp{
			path:    f.Path,
			action:  models.FileDelete,
			oldHash: oldHash,
			mode:    f.Mode,
		})
	}

	snapshot, err := m.snapshotTrove(trove.ID)
	if err != nil {
		return 0, err
	}

	var changesetID int64
	err = m.store.WithTx(func(tx *sql.Tx) error {
		changesetID, err = store.CreateChangeset(tx, fmt.Sprintf("remove %s-%s", trove.Name, trove.Version))
		if err != nil {
			return err
		}
		for _, op := range ops {
			if err := store.InsertFileHistory(tx, op.historyEntry(changesetID)); err != nil {
				return err
			}
		}
		return store.DeleteTrove(tx, trove.ID)
	})
	if err != nil {
		return 0, errdefs.Wrap(errdefs.KindStorage, err, "record removal")
	}

	done, err := applyFiles(d, ops)
	if err != nil {
		m.compensateFiles(d, ops, done)
		m.discardChangeset(changesetID, 0, snapshot)
		return 0, errdefs.Wrap(errdefs.KindStorage, err, "remove %s", name)
	}
	if err := store.MarkChangesetApplied(m.store.DB(), changesetID, time.Now()); err != nil {
		return 0, err
	}

	m.log.Info().Str("package", name).Int64("changeset", changesetID).Msg("removed")
	return changesetID, nil
}
