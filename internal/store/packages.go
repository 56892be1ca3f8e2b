package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mgiedrius/pakt/internal/models"
)

// ReplaceRepositoryPackages swaps a repository's advertised package set for a
// freshly synced one. The caller runs it inside the sync transaction.
func ReplaceRepositoryPackages(q Querier, repositoryID int64, pkgs []*models.RepositoryPackage) error {
	if _, err := q.Exec("DELETE FROM repository_packages WHERE repository_id = ?", repositoryID); err != nil {
		return fmt.Errorf("clear repository packages: %w", err)
	}
	for _, p := range pkgs {
		res, err := q.Exec(`
			INSERT INTO repository_packages
				(repository_id, name, version, architecture, description,
				 checksum, checksum_type, size, download_url, dependencies, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			repositoryID, p.Name, p.Version, nullString(p.Architecture), nullString(p.Description),
			p.Checksum, p.ChecksumType, p.Size, p.DownloadURL,
			nullString(p.Dependencies), nullString(p.Metadata),
		)
		if err != nil {
			return fmt.Errorf("insert repository package %s-%s: %w", p.Name, p.Version, err)
		}
		p.ID, err = res.LastInsertId()
		if err != nil {
			return err
		}
		p.RepositoryID = repositoryID
	}
	return nil
}

const repoPackageColumns = `p.id, p.repository_id, p.name, p.version, p.architecture, p.description,
	p.checksum, p.checksum_type, p.size, p.download_url, p.dependencies, p.metadata, p.synced_at`

func scanRepoPackage(scan func(dest ...any) error) (*models.RepositoryPackage, error) {
	var p models.RepositoryPackage
	var arch, desc, deps, meta sql.NullString
	var syncedAt string
	if err := scan(&p.ID, &p.RepositoryID, &p.Name, &p.Version, &arch, &desc,
		&p.Checksum, &p.ChecksumType, &p.Size, &p.DownloadURL, &deps, &meta, &syncedAt); err != nil {
		return nil, err
	}
	p.Architecture = arch.String
	p.Description = desc.String
	p.Dependencies = deps.String
	p.Metadata = meta.String
	p.SyncedAt = parseTimestamp(syncedAt)
	return &p, nil
}

func collectRepoPackages(rows *sql.Rows) ([]*models.RepositoryPackage, error) {
	var pkgs []*models.RepositoryPackage
	for rows.Next() {
		p, err := scanRepoPackage(rows.Scan)
		if err != nil {
			return nil, err
		}
		pkgs = append(pkgs, p)
	}
	return pkgs, rows.Err()
}

// FindRepositoryPackages retrieves every advertised package with the given
// name across enabled repositories, highest repository priority first so the
// caller's first acceptable candidate wins.
func FindRepositoryPackages(q Querier, name string) ([]*models.RepositoryPackage, error) {
	rows, err := q.Query(`
		SELECT `+repoPackageColumns+`
		FROM repository_packages p
		JOIN repositories r ON r.id = p.repository_id
		WHERE p.name = ? AND r.enabled = 1
		ORDER BY r.priority DESC, p.version DESC`,
		name,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRepoPackages(rows)
}

// SearchRepositoryPackages retrieves advertised packages whose name or
// description matches the LIKE pattern, across enabled repositories.
func SearchRepositoryPackages(q Querier, pattern string) ([]*models.RepositoryPackage, error) {
	rows, err := q.Query(`
		SELECT `+repoPackageColumns+`
		FROM repository_packages p
		JOIN repositories r ON r.id = p.repository_id
		WHERE (p.name LIKE ? OR p.description LIKE ?) AND r.enabled = 1
		ORDER BY p.name, p.version`,
		pattern, pattern,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRepoPackages(rows)
}

// PackagesForRepository retrieves everything one repository advertises.
func PackagesForRepository(q Querier, repositoryID int64) ([]*models.RepositoryPackage, error) {
	rows, err := q.Query(
		"SELECT "+repoPackageColumns+" FROM repository_packages p WHERE p.repository_id = ? ORDER BY p.name, p.version",
		repositoryID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRepoPackages(rows)
}

// CountRepositoryPackages reports how many packages a repository advertises.
func CountRepositoryPackages(q Querier, repositoryID int64) (int64, error) {
	var n int64
	err := q.QueryRow("SELECT COUNT(*) FROM repository_packages WHERE repository_id = ?", repositoryID).Scan(&n)
	return n, err
}

// EncodeDependencies serializes wire dependencies for the dependencies column.
func EncodeDependencies(deps []models.PackageDependency) (string, error) {
	if len(deps) == 0 {
		return "", nil
	}
	b, err := json.Marshal(deps)
	if err != nil {
		return "", fmt.Errorf("encode dependencies: %w", err)
	}
	return string(b), nil
}

// DecodeDependencies parses the dependencies column back into wire form.
func DecodeDependencies(s string) ([]models.PackageDependency, error) {
	if s == "" {
		return nil, nil
	}
	var deps []models.PackageDependency
	if err := json.Unmarshal([]byte(s), &deps); err != nil {
		return nil, fmt.Errorf("decode dependencies: %w", err)
	}
	return deps, nil
}
