package core

import (
	"database/sql"
	"os"

	"github.com/mgiedrius/pakt/internal/cas"
	"github.com/mgiedrius/pakt/internal/models"
	"github.com/mgiedrius/pakt/internal/store"
)

// fileOp is one planned filesystem effect of a changeset. Add ops carry only
// newHash, delete ops only oldHash, modify ops both.
type fileOp struct {
	path    string
	action  models.FileAction
	newHash string
	oldHash string
	mode    int64
	size    int64
	owner   string
	group   string
}

func (op fileOp) fileMode() os.FileMode {
	if op.mode == 0 {
		return 0o644
	}
	return os.FileMode(op.mode).Perm()
}

// historyEntry converts the op into its journal form.
func (op fileOp) historyEntry(changesetID int64) *models.FileHistoryEntry {
	return &models.FileHistoryEntry{
		ChangesetID: changesetID,
		Path:        op.path,
		Action:      op.action,
		NewHash:     op.newHash,
		OldHash:     op.oldHash,
	}
}

// applyFiles deploys the ops in order and reports how many completed. The
// caller compensates the completed prefix on error.
func applyFiles(d *cas.Deployer, ops []fileOp) (int, error) {
	for i, op := range ops {
		var err error
		switch op.action {
		case models.FileDelete:
			err = d.Remove(op.path)
		default:
			err = d.Deploy(op.newHash, op.path, op.fileMode())
		}
		if err != nil {
			return i, err
		}
	}
	return len(ops), nil
}

// compensateFiles undoes the first done ops in reverse order: adds are
// removed, modifies and deletes are restored from the old content. Failures
// are logged and skipped so compensation always runs to the end.
func (m *Manager) compensateFiles(d *cas.Deployer, ops []fileOp, done int) {
	for i := done - 1; i >= 0; i-- {
		op := ops[i]
		var err error
		switch op.action {
		case models.FileAdd:
			err = d.Remove(op.path)
		default:
			err = d.Deploy(op.oldHash, op.path, op.fileMode())
		}
		if err != nil {
			m.log.Warn().Err(err).Str("path", op.path).Msg("compensation failed")
		}
	}
}

// troveSnapshot captures everything needed to re-insert a trove after a
// failed upgrade discards its replacement.
type troveSnapshot struct {
	trove   *models.Trove
	files   []*models.FileRecord
	deps    []*models.Dependency
	flavors []*models.Flavor
	prov    *models.Provenance
}

func (m *Manager) snapshotTrove(id int64) (*troveSnapshot, error) {
	trove, err := store.FindTroveByID(m.store.DB(), id)
	if err != nil || trove == nil {
		return nil, err
	}
	snap := &troveSnapshot{trove: trove}
	if snap.files, err = store.FilesForTrove(m.store.DB(), id); err != nil {
		return nil, err
	}
	if snap.deps, err = store.DependenciesForTrove(m.store.DB(), id); err != nil {
		return nil, err
	}
	if snap.flavors, err = store.FlavorsForTrove(m.store.DB(), id); err != nil {
		return nil, err
	}
	if snap.prov, err = store.ProvenanceForTrove(m.store.DB(), id); err != nil {
		return nil, err
	}
	return snap, nil
}

func restoreSnapshot(tx *sql.Tx, snap *troveSnapshot) error {
	id, err := store.InsertTrove(tx, snap.trove)
	if err != nil {
		return err
	}
	for _, f := range snap.files {
		f.TroveID = id
		if err := store.InsertFileRecord(tx, f); err != nil {
			return err
		}
	}
	for _, d := range snap.deps {
		d.TroveID = id
		if err := store.InsertDependency(tx, d); err != nil {
			return err
		}
	}
	for _, fl := range snap.flavors {
		if err := store.SetFlavor(tx, id, fl.Key, fl.Value); err != nil {
			return err
		}
	}
	if snap.prov != nil {
		snap.prov.TroveID = id
		if err := store.SetProvenance(tx, snap.prov); err != nil {
			return err
		}
	}
	return nil
}

// discardChangeset reverses the database half of a changeset whose deployment
// failed: the changeset and the trove it inserted are deleted, and the trove
// it replaced is re-inserted from its snapshot.
func (m *Manager) discardChangeset(changesetID, troveID int64, replaced *troveSnapshot) {
	err := m.store.WithTx(func(tx *sql.Tx) error {
		if troveID != 0 {
			if err := store.DeleteTrove(tx, troveID); err != nil {
				return err
			}
		}
		if err := store.DeleteChangeset(tx, changesetID); err != nil {
			return err
		}
		if replaced != nil {
			return restoreSnapshot(tx, replaced)
		}
		return nil
	})
	if err != nil {
		m.log.Error().Err(err).Int64("changeset", changesetID).Msg("discard failed")
	}
}
