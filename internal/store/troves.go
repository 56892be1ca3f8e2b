package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mgiedrius/pakt/internal/models"
)

// Querier is satisfied by both *sql.DB and *sql.Tx so the row helpers can run
// standalone or inside a changeset transaction.
type Querier = querier

// InsertTrove inserts a trove row and returns its id.
func InsertTrove(q Querier, t *models.Trove) (int64, error) {
	res, err := q.Exec(`
		INSERT INTO troves (name, version, type, architecture, description, installed_by_changeset_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.Name, t.Version, string(t.Type), nullString(t.Architecture),
		nullString(t.Description), nullInt(t.ChangesetID),
	)
	if err != nil {
		return 0, fmt.Errorf("insert trove %s: %w", t.Spec(), err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	t.ID = id
	return id, nil
}

// DeleteTrove removes a trove row; files, flavors, provenance, and
// dependencies cascade.
func DeleteTrove(q Querier, id int64) error {
	_, err := q.Exec("DELETE FROM troves WHERE id = ?", id)
	return err
}

const troveColumns = `id, name, version, type, architecture, description, installed_at, installed_by_changeset_id`

func scanTrove(scan func(dest ...any) error) (*models.Trove, error) {
	var t models.Trove
	var typ string
	var arch, desc sql.NullString
	var installedAt string
	var changesetID sql.NullInt64
	if err := scan(&t.ID, &t.Name, &t.Version, &typ, &arch, &desc, &installedAt, &changesetID); err != nil {
		return nil, err
	}
	t.Type = models.TroveType(typ)
	t.Architecture = arch.String
	t.Description = desc.String
	t.InstalledAt = parseTimestamp(installedAt)
	t.ChangesetID = changesetID.Int64
	return &t, nil
}

// FindTroveByID retrieves a trove by id, returning nil when absent.
func FindTroveByID(q Querier, id int64) (*models.Trove, error) {
	row := q.QueryRow("SELECT "+troveColumns+" FROM troves WHERE id = ?", id)
	t, err := scanTrove(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// FindTrovesByName retrieves all installed troves with the given name.
func FindTrovesByName(q Querier, name string) ([]*models.Trove, error) {
	rows, err := q.Query("SELECT "+troveColumns+" FROM troves WHERE name = ? ORDER BY id", name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTroves(rows)
}

// FindTrove retrieves the trove with the exact (name, version, architecture)
// identity, returning nil when absent.
func FindTrove(q Querier, name, version, arch string) (*models.Trove, error) {
	row := q.QueryRow(
		"SELECT "+troveColumns+" FROM troves WHERE name = ? AND version = ? AND COALESCE(architecture, '') = ?",
		name, version, arch,
	)
	t, err := scanTrove(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// ListTroves retrieves all installed troves, optionally filtered by a SQL
// LIKE pattern on the name.
func ListTroves(q Querier, pattern string) ([]*models.Trove, error) {
	var rows *sql.Rows
	var err error
	if pattern == "" {
		rows, err = q.Query("SELECT " + troveColumns + " FROM troves ORDER BY name, version")
	} else {
		rows, err = q.Query("SELECT "+troveColumns+" FROM troves WHERE name LIKE ? ORDER BY name, version", pattern)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTroves(rows)
}

func collectTroves(rows *sql.Rows) ([]*models.Trove, error) {
	var troves []*models.Trove
	for rows.Next() {
		t, err := scanTrove(rows.Scan)
		if err != nil {
			return nil, err
		}
		troves = append(troves, t)
	}
	return troves, rows.Err()
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
