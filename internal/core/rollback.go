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

// Rollback reverses an applied changeset: troves it installed are dropped and
// every journaled file effect is undone in reverse order, restoring old
// content from the object store. The reversal is itself a changeset, linked
// to the target through reversed_by.
//
// Rolling back a removal restores file contents but not the removed trove's
// metadata rows; the journal carries hashes, not full trove state.
func (m *Manager) Rollback(ctx context.Context, targetID int64) (changesetID int64, err error) {
	err = m.withLock(func() error {
		changesetID, err = m.rollback(targetID)
		return err
	})
	return changesetID, err
}

func (m *Manager) rollback(targetID int64) (int64, error) {
	target, err := store.GetChangeset(m.store.DB(), targetID)
	if err != nil {
		return 0, err
	}
	if target == nil {
		return 0, errdefs.New(errdefs.KindNotFound, "changeset %d does not exist", targetID)
	}
	if target.Status != models.ChangesetApplied {
		return 0, errdefs.New(errdefs.KindInvalidUsage,
			"changeset %d is %s, only applied changesets can be rolled back", targetID, target.Status)
	}
	if target.ReversedBy != 0 {
		return 0, errdefs.New(errdefs.KindConflict,
			"changeset %d was already reversed by changeset %d", targetID, target.ReversedBy)
	}

	entries, err := store.FileHistoryForChangeset(m.store.DB(), targetID)
	if err != nil {
		return 0, err
	}
	troves, err := store.TrovesForChangeset(m.store.DB(), targetID)
	if err != nil {
		return 0, err
	}

	// Reverse each journal entry: an add is undone by a delete, a delete by
	// an add, a modify by the swapped hash pair.
	ops := make([]fileOp, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		op := fileOp{path: e.Path}
		switch e.Action {
		case models.FileAdd:
			op.action = models.FileDelete
			op.oldHash = e.NewHash
		case models.FileDelete:
			op.action = models.FileAdd
			op.newHash = e.OldHash
		default:
			op.action = models.FileModify
			op.newHash = e.OldHash
			op.oldHash = e.NewHash
		}
		if mode, ok := m.recordedMode(op.path); ok {
			op.mode = mode
		}
		ops = append(ops, op)
	}

	var changesetID int64
	err = m.store.WithTx(func(tx *sql.Tx) error {
		changesetID, err = store.CreateChangeset(tx, fmt.Sprintf("rollback changeset %d", targetID))
		if err != nil {
			return err
		}
		for _, t := range troves {
			if err := store.DeleteTrove(tx, t.ID); err != nil {
				return err
			}
		}
		for _, op := range ops {
			if err := store.InsertFileHistory(tx, op.historyEntry(changesetID)); err != nil {
				return err
			}
		}
		if err := store.MarkChangesetRolledBack(tx, targetID, time.Now()); err != nil {
			return err
		}
		return store.SetChangesetReversedBy(tx, targetID, changesetID)
	})
	if err != nil {
		return 0, errdefs.Wrap(errdefs.KindStorage, err, "record rollback")
	}

	d := m.deployer("")
	done, err := applyFiles(d, ops)
	if err != nil {
		m.compensateFiles(d, ops, done)
		return 0, errdefs.Wrap(errdefs.KindStorage, err, "roll back changeset %d", targetID)
	}
	if err := store.MarkChangesetApplied(m.store.DB(), changesetID, time.Now()); err != nil {
		return 0, err
	}

	m.log.Info().Int64("target", targetID).Int64("changeset", changesetID).Msg("rolled back")
	return changesetID, nil
}

// recordedMode looks up the mode of a path from its surviving file record.
// The journal carries only hashes, so files without a record restore with a
// conservative default mode.
func (m *Manager) recordedMode(path string) (int64, bool) {
	rec, err := store.FindFileByPath(m.store.DB(), path)
	if err != nil || rec == nil {
		return 0, false
	}
	return rec.Mode, true
}
