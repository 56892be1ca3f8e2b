package store

import (
	"database/sql"
	"errors"

	"github.com/mgiedrius/pakt/internal/models"
)

// UpsertContentObject records a content object in the index. Re-inserting an
// existing hash is a no-op so deduplicated stores stay idempotent.
func UpsertContentObject(q Querier, o *models.ContentObject) error {
	_, err := q.Exec(`
		INSERT INTO file_contents (sha256_hash, content_path, size)
		VALUES (?, ?, ?)
		ON CONFLICT(sha256_hash) DO NOTHING`,
		o.SHA256, o.ContentPath, o.Size,
	)
	return err
}

// GetContentObject retrieves a content object by hash, nil when absent.
func GetContentObject(q Querier, hash string) (*models.ContentObject, error) {
	var o models.ContentObject
	var storedAt string
	err := q.QueryRow(
		"SELECT sha256_hash, content_path, size, stored_at FROM file_contents WHERE sha256_hash = ?",
		hash,
	).Scan(&o.SHA256, &o.ContentPath, &o.Size, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	o.StoredAt = parseTimestamp(storedAt)
	return &o, nil
}

// ContentReferenceCount reports how many rows still reference a content hash,
// counting both live file records and changeset journal entries. An object is
// only collectable when this reaches zero, since rollback may need the bytes
// back even after the last live file is gone.
func ContentReferenceCount(q Querier, hash string) (int64, error) {
	var n int64
	err := q.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM files WHERE sha256_hash = ?)
			+ (SELECT COUNT(*) FROM file_history WHERE sha256_hash = ? OR previous_hash = ?)`,
		hash, hash, hash,
	).Scan(&n)
	return n, err
}

// ListUnreferencedObjects retrieves content objects no file record or journal
// entry references, candidates for garbage collection.
func ListUnreferencedObjects(q Querier) ([]*models.ContentObject, error) {
	rows, err := q.Query(`
		SELECT c.sha256_hash, c.content_path, c.size, c.stored_at
		FROM file_contents c
		WHERE NOT EXISTS (SELECT 1 FROM files f WHERE f.sha256_hash = c.sha256_hash)
		  AND NOT EXISTS (SELECT 1 FROM file_history h
				WHERE h.sha256_hash = c.sha256_hash OR h.previous_hash = c.sha256_hash)
		ORDER BY c.sha256_hash`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var objs []*models.ContentObject
	for rows.Next() {
		var o models.ContentObject
		var storedAt string
		if err := rows.Scan(&o.SHA256, &o.ContentPath, &o.Size, &storedAt); err != nil {
			return nil, err
		}
		o.StoredAt = parseTimestamp(storedAt)
		objs = append(objs, &o)
	}
	return objs, rows.Err()
}

// DeleteContentObject removes a content object's index row.
func DeleteContentObject(q Querier, hash string) error {
	_, err := q.Exec("DELETE FROM file_contents WHERE sha256_hash = ?", hash)
	return err
}
