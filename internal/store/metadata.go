package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mgiedrius/pakt/internal/models"
)

// SetFlavor records one build-time variation key for a trove, replacing any
// existing value for the key.
func SetFlavor(q Querier, troveID int64, key, value string) error {
	_, err := q.Exec(`
		INSERT INTO flavors (trove_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT(trove_id, key) DO UPDATE SET value = excluded.value`,
		troveID, key, value,
	)
	if err != nil {
		return fmt.Errorf("set flavor %s: %w", key, err)
	}
	return nil
}

// FlavorsForTrove retrieves a trove's build-time variations ordered by key.
func FlavorsForTrove(q Querier, troveID int64) ([]*models.Flavor, error) {
	rows, err := q.Query(
		"SELECT id, trove_id, key, value FROM flavors WHERE trove_id = ? ORDER BY key",
		troveID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flavors []*models.Flavor
	for rows.Next() {
		var f models.Flavor
		if err := rows.Scan(&f.ID, &f.TroveID, &f.Key, &f.Value); err != nil {
			return nil, err
		}
		flavors = append(flavors, &f)
	}
	return flavors, rows.Err()
}

// SetProvenance records supply-chain metadata for a trove, one row per trove.
func SetProvenance(q Querier, p *models.Provenance) error {
	_, err := q.Exec(`
		INSERT INTO provenance (trove_id, source_url, source_branch, source_commit, builder, build_host, vendor, license)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trove_id) DO UPDATE SET
			source_url = excluded.source_url,
			source_branch = excluded.source_branch,
			source_commit = excluded.source_commit,
			builder = excluded.builder,
			build_host = excluded.build_host,
			vendor = excluded.vendor,
			license = excluded.license`,
		p.TroveID, nullString(p.SourceURL), nullString(p.Branch), nullString(p.Commit),
		nullString(p.Builder), nullString(p.BuildHost), nullString(p.Vendor), nullString(p.License),
	)
	if err != nil {
		return fmt.Errorf("set provenance for trove %d: %w", p.TroveID, err)
	}
	return nil
}

// ProvenanceForTrove retrieves a trove's provenance, nil when none recorded.
func ProvenanceForTrove(q Querier, troveID int64) (*models.Provenance, error) {
	var p models.Provenance
	var url, branch, commit, builder, host, vendor, license sql.NullString
	err := q.QueryRow(`
		SELECT id, trove_id, source_url, source_branch, source_commit, builder, build_host, vendor, license
		FROM provenance WHERE trove_id = ?`,
		troveID,
	).Scan(&p.ID, &p.TroveID, &url, &branch, &commit, &builder, &host, &vendor, &license)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.SourceURL = url.String
	p.Branch = branch.String
	p.Commit = commit.String
	p.Builder = builder.String
	p.BuildHost = host.String
	p.Vendor = vendor.String
	p.License = license.String
	return &p, nil
}
