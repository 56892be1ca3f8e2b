package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mgiedrius/pakt/internal/models"
)

// InsertFileRecord inserts a file row for a trove.
func InsertFileRecord(q Querier, f *models.FileRecord) error {
	res, err := q.Exec(`
		INSERT INTO files (path, sha256_hash, size, mode, owner, group_name, trove_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.Path, f.SHA256, f.Size, f.Mode, nullString(f.Owner), nullString(f.Group), f.TroveID,
	)
	if err != nil {
		return fmt.Errorf("insert file %s: %w", f.Path, err)
	}
	f.ID, err = res.LastInsertId()
	return err
}

const fileColumns = `id, path, sha256_hash, size, mode, owner, group_name, trove_id, installed_at`

func scanFileRecord(scan func(dest ...any) error) (*models.FileRecord, error) {
	var f models.FileRecord
	var owner, group sql.NullString
	var installedAt string
	if err := scan(&f.ID, &f.Path, &f.SHA256, &f.Size, &f.Mode, &owner, &group, &f.TroveID, &installedAt); err != nil {
		return nil, err
	}
	f.Owner = owner.String
	f.Group = group.String
	f.InstalledAt = parseTimestamp(installedAt)
	return &f, nil
}

// FindFileByPath retrieves the file record owning a path, nil when untracked.
func FindFileByPath(q Querier, path string) (*models.FileRecord, error) {
	row := q.QueryRow("SELECT "+fileColumns+" FROM files WHERE path = ?", path)
	f, err := scanFileRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return f, err
}

// FilesForTrove retrieves all files owned by a trove, ordered by path.
func FilesForTrove(q Querier, troveID int64) ([]*models.FileRecord, error) {
	rows, err := q.Query("SELECT "+fileColumns+" FROM files WHERE trove_id = ? ORDER BY path", troveID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFiles(rows)
}

// ListFiles retrieves every tracked file ordered by path.
func ListFiles(q Querier) ([]*models.FileRecord, error) {
	rows, err := q.Query("SELECT " + fileColumns + " FROM files ORDER BY path")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFiles(rows)
}

func collectFiles(rows *sql.Rows) ([]*models.FileRecord, error) {
	var files []*models.FileRecord
	for rows.Next() {
		f, err := scanFileRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// DeleteFileRecord removes a single file row.
func DeleteFileRecord(q Querier, id int64) error {
	_, err := q.Exec("DELETE FROM files WHERE id = ?", id)
	return err
}

// CountFilesWithHash reports how many installed files reference a content hash.
func CountFilesWithHash(q Querier, hash string) (int64, error) {
	var n int64
	err := q.QueryRow("SELECT COUNT(*) FROM files WHERE sha256_hash = ?", hash).Scan(&n)
	return n, err
}
