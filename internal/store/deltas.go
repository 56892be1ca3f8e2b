package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mgiedrius/pakt/internal/models"
)

// ReplaceRepositoryDeltas swaps a repository's advertised delta set during a
// metadata sync. A delta is identified by (package, from, to) across all
// repositories, so a delta that another repository already advertises is
// replaced by this repository's row.
func ReplaceRepositoryDeltas(q Querier, repositoryID int64, deltas []*models.PackageDelta) error {
	if _, err := q.Exec("DELETE FROM package_deltas WHERE repository_id = ?", repositoryID); err != nil {
		return fmt.Errorf("clear package deltas: %w", err)
	}
	for _, d := range deltas {
		res, err := q.Exec(`
			INSERT OR REPLACE INTO package_deltas
				(repository_id, package_name, from_version, to_version, delta_url,
				 delta_checksum, from_hash, to_hash, delta_size, full_size, compression_ratio)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			repositoryID, d.PackageName, d.FromVersion, d.ToVersion, d.DeltaURL,
			nullString(d.DeltaChecksum), d.FromHash, d.ToHash, d.DeltaSize, d.FullSize, d.CompressionRatio,
		)
		if err != nil {
			return fmt.Errorf("insert delta %s %s->%s: %w", d.PackageName, d.FromVersion, d.ToVersion, err)
		}
		d.ID, err = res.LastInsertId()
		if err != nil {
			return err
		}
		d.RepositoryID = repositoryID
	}
	return nil
}

const deltaColumns = `d.id, d.repository_id, d.package_name, d.from_version, d.to_version, d.delta_url,
	d.delta_checksum, d.from_hash, d.to_hash, d.delta_size, d.full_size, d.compression_ratio, d.synced_at`

func scanDelta(scan func(dest ...any) error) (*models.PackageDelta, error) {
	var d models.PackageDelta
	var checksum sql.NullString
	var syncedAt string
	if err := scan(&d.ID, &d.RepositoryID, &d.PackageName, &d.FromVersion, &d.ToVersion, &d.DeltaURL,
		&checksum, &d.FromHash, &d.ToHash, &d.DeltaSize, &d.FullSize, &d.CompressionRatio, &syncedAt); err != nil {
		return nil, err
	}
	d.DeltaChecksum = checksum.String
	d.SyncedAt = parseTimestamp(syncedAt)
	return &d, nil
}

// FindPackageDelta retrieves the delta upgrading a package between two exact
// versions, nil when no repository advertises one.
func FindPackageDelta(q Querier, name, fromVersion, toVersion string) (*models.PackageDelta, error) {
	row := q.QueryRow(`
		SELECT `+deltaColumns+`
		FROM package_deltas d
		JOIN repositories r ON r.id = d.repository_id
		WHERE d.package_name = ? AND d.from_version = ? AND d.to_version = ? AND r.enabled = 1`,
		name, fromVersion, toVersion,
	)
	d, err := scanDelta(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

// DeltasForPackage retrieves every advertised delta for a package.
func DeltasForPackage(q Querier, name string) ([]*models.PackageDelta, error) {
	rows, err := q.Query(
		"SELECT "+deltaColumns+" FROM package_deltas d WHERE d.package_name = ? ORDER BY d.from_version, d.to_version",
		name,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deltas []*models.PackageDelta
	for rows.Next() {
		d, err := scanDelta(rows.Scan)
		if err != nil {
			return nil, err
		}
		deltas = append(deltas, d)
	}
	return deltas, rows.Err()
}
