package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mgiedrius/pakt/internal/models"
)

// CreateChangeset inserts a new pending changeset and returns its id.
func CreateChangeset(q Querier, description string) (int64, error) {
	res, err := q.Exec(
		"INSERT INTO changesets (description, status) VALUES (?, ?)",
		description, string(models.ChangesetPending),
	)
	if err != nil {
		return 0, fmt.Errorf("create changeset: %w", err)
	}
	return res.LastInsertId()
}

const changesetColumns = `id, description, status, created_at, applied_at, rolled_back_at, reversed_by_changeset_id`

func scanChangeset(scan func(dest ...any) error) (*models.Changeset, error) {
	var cs models.Changeset
	var status, createdAt string
	var appliedAt, rolledBackAt sql.NullString
	var reversedBy sql.NullInt64
	if err := scan(&cs.ID, &cs.Description, &status, &createdAt, &appliedAt, &rolledBackAt, &reversedBy); err != nil {
		return nil, err
	}
	cs.Status = models.ChangesetStatus(status)
	cs.CreatedAt = parseTimestamp(createdAt)
	cs.AppliedAt = timeOf(appliedAt)
	cs.RolledBackAt = timeOf(rolledBackAt)
	cs.ReversedBy = reversedBy.Int64
	return &cs, nil
}

// GetChangeset retrieves a changeset by id, returning nil when absent.
func GetChangeset(q Querier, id int64) (*models.Changeset, error) {
	row := q.QueryRow("SELECT "+changesetColumns+" FROM changesets WHERE id = ?", id)
	cs, err := scanChangeset(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return cs, err
}

// ListChangesets retrieves changesets newest first. A limit of 0 means all.
func ListChangesets(q Querier, limit int) ([]*models.Changeset, error) {
	query := "SELECT " + changesetColumns + " FROM changesets ORDER BY id DESC"
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = q.Query(query+" LIMIT ?", limit)
	} else {
		rows, err = q.Query(query)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sets []*models.Changeset
	for rows.Next() {
		cs, err := scanChangeset(rows.Scan)
		if err != nil {
			return nil, err
		}
		sets = append(sets, cs)
	}
	return sets, rows.Err()
}

// MarkChangesetApplied transitions a changeset to applied and stamps applied_at.
func MarkChangesetApplied(q Querier, id int64, now time.Time) error {
	_, err := q.Exec(
		"UPDATE changesets SET status = ?, applied_at = ? WHERE id = ?",
		string(models.ChangesetApplied), timestamp(now), id,
	)
	return err
}

// MarkChangesetRolledBack transitions a changeset to rolled_back and stamps
// rolled_back_at.
func MarkChangesetRolledBack(q Querier, id int64, now time.Time) error {
	_, err := q.Exec(
		"UPDATE changesets SET status = ?, rolled_back_at = ? WHERE id = ?",
		string(models.ChangesetRolledBack), timestamp(now), id,
	)
	return err
}

// SetChangesetReversedBy records which later changeset reversed this one.
func SetChangesetReversedBy(q Querier, id, reversedBy int64) error {
	_, err := q.Exec(
		"UPDATE changesets SET reversed_by_changeset_id = ? WHERE id = ?",
		reversedBy, id,
	)
	return err
}

// DeleteChangeset removes a changeset row; its file history cascades.
func DeleteChangeset(q Querier, id int64) error {
	_, err := q.Exec("DELETE FROM changesets WHERE id = ?", id)
	return err
}

// InsertFileHistory appends one journal entry for a changeset.
func InsertFileHistory(q Querier, e *models.FileHistoryEntry) error {
	res, err := q.Exec(`
		INSERT INTO file_history (changeset_id, path, action, sha256_hash, previous_hash)
		VALUES (?, ?, ?, ?, ?)`,
		e.ChangesetID, e.Path, string(e.Action), nullString(e.NewHash), nullString(e.OldHash),
	)
	if err != nil {
		return fmt.Errorf("record file history for %s: %w", e.Path, err)
	}
	e.ID, err = res.LastInsertId()
	return err
}

// FileHistoryForChangeset retrieves a changeset's journal entries in the
// order they were recorded.
func FileHistoryForChangeset(q Querier, changesetID int64) ([]*models.FileHistoryEntry, error) {
	rows, err := q.Query(`
		SELECT id, changeset_id, path, action, sha256_hash, previous_hash, created_at
		FROM file_history WHERE changeset_id = ? ORDER BY id`,
		changesetID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.FileHistoryEntry
	for rows.Next() {
		var e models.FileHistoryEntry
		var action, createdAt string
		var newHash, oldHash sql.NullString
		if err := rows.Scan(&e.ID, &e.ChangesetID, &e.Path, &action, &newHash, &oldHash, &createdAt); err != nil {
			return nil, err
		}
		e.Action = models.FileAction(action)
		e.NewHash = newHash.String
		e.OldHash = oldHash.String
		e.CreatedAt = parseTimestamp(createdAt)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// TrovesForChangeset retrieves the troves installed by a changeset.
func TrovesForChangeset(q Querier, changesetID int64) ([]*models.Trove, error) {
	rows, err := q.Query(
		"SELECT "+troveColumns+" FROM troves WHERE installed_by_changeset_id = ? ORDER BY id",
		changesetID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTroves(rows)
}

// UpsertDeltaStats writes the delta summary row for an update changeset.
func UpsertDeltaStats(q Querier, st *models.DeltaStats) error {
	_, err := q.Exec(`
		INSERT INTO delta_stats (changeset_id, bytes_saved, deltas_applied, full_downloads, delta_failures)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(changeset_id) DO UPDATE SET
			bytes_saved = excluded.bytes_saved,
			deltas_applied = excluded.deltas_applied,
			full_downloads = excluded.full_downloads,
			delta_failures = excluded.delta_failures`,
		st.ChangesetID, st.BytesSaved, st.DeltasApplied, st.FullDownloads, st.DeltaFailures,
	)
	return err
}

// GetDeltaStats retrieves the delta summary for a changeset, nil when absent.
func GetDeltaStats(q Querier, changesetID int64) (*models.DeltaStats, error) {
	var st models.DeltaStats
	err := q.QueryRow(`
		SELECT changeset_id, bytes_saved, deltas_applied, full_downloads, delta_failures
		FROM delta_stats WHERE changeset_id = ?`,
		changesetID,
	).Scan(&st.ChangesetID, &st.BytesSaved, &st.DeltasApplied, &st.FullDownloads, &st.DeltaFailures)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// SumDeltaStats aggregates delta statistics across all changesets.
func SumDeltaStats(q Querier) (*models.DeltaStats, error) {
	var st models.DeltaStats
	err := q.QueryRow(`
		SELECT COALESCE(SUM(bytes_saved), 0), COALESCE(SUM(deltas_applied), 0),
			COALESCE(SUM(full_downloads), 0), COALESCE(SUM(delta_failures), 0)
		FROM delta_stats`,
	).Scan(&st.BytesSaved, &st.DeltasApplied, &st.FullDownloads, &st.DeltaFailures)
	if err != nil {
		return nil, err
	}
	return &st, nil
}
