package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mgiedrius/pakt/internal/models"
)

// AddRepository inserts a repository configuration and returns its id.
func AddRepository(q Querier, r *models.Repository) (int64, error) {
	res, err := q.Exec(`
		INSERT INTO repositories (name, url, enabled, priority, gpg_check, gpg_key_url, metadata_expire)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Name, r.URL, boolInt(r.Enabled), r.Priority, boolInt(r.GPGCheck),
		nullString(r.GPGKeyURL), r.MetadataExpire,
	)
	if err != nil {
		return 0, fmt.Errorf("add repository %s: %w", r.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	r.ID = id
	return id, nil
}

const repositoryColumns = `id, name, url, enabled, priority, gpg_check, gpg_key_url, metadata_expire, last_sync, created_at`

func scanRepository(scan func(dest ...any) error) (*models.Repository, error) {
	var r models.Repository
	var enabled, gpgCheck int64
	var keyURL, lastSync sql.NullString
	var createdAt string
	if err := scan(&r.ID, &r.Name, &r.URL, &enabled, &r.Priority, &gpgCheck,
		&keyURL, &r.MetadataExpire, &lastSync, &createdAt); err != nil {
		return nil, err
	}
	r.Enabled = enabled != 0
	r.GPGCheck = gpgCheck != 0
	r.GPGKeyURL = keyURL.String
	r.LastSync = timeOf(lastSync)
	r.CreatedAt = parseTimestamp(createdAt)
	return &r, nil
}

// FindRepository retrieves a repository by name, nil when absent.
func FindRepository(q Querier, name string) (*models.Repository, error) {
	row := q.QueryRow("SELECT "+repositoryColumns+" FROM repositories WHERE name = ?", name)
	r, err := scanRepository(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// ListRepositories retrieves repositories ordered by priority then name.
// When enabledOnly is set, disabled repositories are skipped.
func ListRepositories(q Querier, enabledOnly bool) ([]*models.Repository, error) {
	query := "SELECT " + repositoryColumns + " FROM repositories"
	if enabledOnly {
		query += " WHERE enabled = 1"
	}
	query += " ORDER BY priority DESC, name"
	rows, err := q.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []*models.Repository
	for rows.Next() {
		r, err := scanRepository(rows.Scan)
		if err != nil {
			return nil, err
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

// SetRepositoryEnabled flips a repository's enabled flag.
func SetRepositoryEnabled(q Querier, name string, enabled bool) error {
	res, err := q.Exec("UPDATE repositories SET enabled = ? WHERE name = ?", boolInt(enabled), name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("repository %s not found", name)
	}
	return nil
}

// TouchRepositorySync stamps a repository's last successful sync time.
func TouchRepositorySync(q Querier, id int64, now time.Time) error {
	_, err := q.Exec("UPDATE repositories SET last_sync = ? WHERE id = ?", timestamp(now), id)
	return err
}

// RemoveRepository deletes a repository; its packages and deltas cascade.
func RemoveRepository(q Querier, name string) error {
	res, err := q.Exec("DELETE FROM repositories WHERE name = ?", name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("repository %s not found", name)
	}
	return nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
