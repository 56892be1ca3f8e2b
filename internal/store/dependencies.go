package store

import (
	"database/sql"
	"fmt"

	"github.com/mgiedrius/pakt/internal/models"
)

// InsertDependency inserts a dependency edge for a trove.
func InsertDependency(q Querier, d *models.Dependency) error {
	res, err := q.Exec(`
		INSERT INTO dependencies (trove_id, depends_on_name, version_constraint, dependency_type, description)
		VALUES (?, ?, ?, ?, ?)`,
		d.TroveID, d.Name, nullString(d.Constraint), string(d.Type), nullString(d.Description),
	)
	if err != nil {
		return fmt.Errorf("insert dependency %s: %w", d.Name, err)
	}
	d.ID, err = res.LastInsertId()
	return err
}

const dependencyColumns = `id, trove_id, depends_on_name, version_constraint, dependency_type, description`

func collectDependencies(rows *sql.Rows) ([]*models.Dependency, error) {
	var deps []*models.Dependency
	for rows.Next() {
		var d models.Dependency
		var typ string
		var constraint, desc sql.NullString
		if err := rows.Scan(&d.ID, &d.TroveID, &d.Name, &constraint, &typ, &desc); err != nil {
			return nil, err
		}
		d.Constraint = constraint.String
		d.Type = models.DependencyType(typ)
		d.Description = desc.String
		deps = append(deps, &d)
	}
	return deps, rows.Err()
}

// DependenciesForTrove retrieves the dependency edges declared by a trove.
func DependenciesForTrove(q Querier, troveID int64) ([]*models.Dependency, error) {
	rows, err := q.Query(
		"SELECT "+dependencyColumns+" FROM dependencies WHERE trove_id = ? ORDER BY id",
		troveID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDependencies(rows)
}

// FindDependents retrieves dependency edges from other troves that point at
// the named capability.
func FindDependents(q Querier, name string) ([]*models.Dependency, error) {
	rows, err := q.Query(
		"SELECT "+dependencyColumns+" FROM dependencies WHERE depends_on_name = ? ORDER BY id",
		name,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDependencies(rows)
}

// AllDependencies retrieves every dependency edge in the database.
func AllDependencies(q Querier) ([]*models.Dependency, error) {
	rows, err := q.Query("SELECT " + dependencyColumns + " FROM dependencies ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDependencies(rows)
}
