package store

import (
	"fmt"
)

// currentSchemaVersion is the newest migration known to this build.
const currentSchemaVersion = 6

// RunMigrations applies any pending schema migrations in order.
func RunMigrations(s *Store) error {
	return s.Migrate()
}

// Migrate brings the database schema up to currentSchemaVersion.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	version, err := s.SchemaVersion()
	if err != nil {
		return err
	}

	for v := version + 1; v <= currentSchemaVersion; v++ {
		migration, ok := migrations[v]
		if !ok {
			return fmt.Errorf("no migration registered for schema version %d", v)
		}
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration to v%d failed: %w", v, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", v); err != nil {
			return fmt.Errorf("record schema version %d: %w", v, err)
		}
	}

	return nil
}

// SchemaVersion returns the highest applied schema version, 0 for a fresh
// database.
func (s *Store) SchemaVersion() (int, error) {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// migrations maps a target version to the statements that produce it.
// Migrations are append-only; never edit an applied version.
var migrations = map[int]string{
	1: `
	-- Troves: the core unit (package, component, or collection)
	CREATE TABLE troves (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		type TEXT NOT NULL CHECK(type IN ('package', 'component', 'collection')),
		architecture TEXT,
		description TEXT,
		installed_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		installed_by_changeset_id INTEGER,
		UNIQUE(name, version, architecture)
	);

	CREATE INDEX idx_troves_name ON troves(name);
	CREATE INDEX idx_troves_type ON troves(type);

	-- Changesets: atomic transactional operations
	CREATE TABLE changesets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		description TEXT NOT NULL,
		status TEXT NOT NULL CHECK(status IN ('pending', 'applied', 'rolled_back')),
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		applied_at TEXT,
		rolled_back_at TEXT
	);

	CREATE INDEX idx_changesets_status ON changesets(status);

	-- Files: file-level tracking with content hashing
	CREATE TABLE files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL UNIQUE,
		sha256_hash TEXT NOT NULL,
		size INTEGER NOT NULL,
		mode INTEGER NOT NULL,
		owner TEXT,
		group_name TEXT,
		trove_id INTEGER NOT NULL,
		installed_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (trove_id) REFERENCES troves(id) ON DELETE CASCADE
	);

	CREATE INDEX idx_files_trove_id ON files(trove_id);
	CREATE INDEX idx_files_sha256 ON files(sha256_hash);

	-- Flavors: build-time variations
	CREATE TABLE flavors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trove_id INTEGER NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		UNIQUE(trove_id, key),
		FOREIGN KEY (trove_id) REFERENCES troves(id) ON DELETE CASCADE
	);

	-- Provenance: supply chain tracking
	CREATE TABLE provenance (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trove_id INTEGER NOT NULL UNIQUE,
		source_url TEXT,
		source_branch TEXT,
		source_commit TEXT,
		builder TEXT,
		build_host TEXT,
		vendor TEXT,
		license TEXT,
		FOREIGN KEY (trove_id) REFERENCES troves(id) ON DELETE CASCADE
	);

	-- Dependencies: relationships between troves
	CREATE TABLE dependencies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trove_id INTEGER NOT NULL,
		depends_on_name TEXT NOT NULL,
		version_constraint TEXT,
		dependency_type TEXT NOT NULL CHECK(dependency_type IN ('runtime', 'build', 'optional')),
		description TEXT,
		FOREIGN KEY (trove_id) REFERENCES troves(id) ON DELETE CASCADE
	);

	CREATE INDEX idx_dependencies_trove_id ON dependencies(trove_id);
	CREATE INDEX idx_dependencies_depends_on ON dependencies(depends_on_name);
	`,

	2: `
	ALTER TABLE changesets ADD COLUMN reversed_by_changeset_id INTEGER
		REFERENCES changesets(id) ON DELETE SET NULL;
	`,

	3: `
	-- Content objects stored in the CAS
	CREATE TABLE file_contents (
		sha256_hash TEXT PRIMARY KEY,
		content_path TEXT NOT NULL,
		size INTEGER NOT NULL,
		stored_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Per-changeset file journal for rollback support
	CREATE TABLE file_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		changeset_id INTEGER NOT NULL,
		path TEXT NOT NULL,
		action TEXT NOT NULL CHECK(action IN ('add', 'modify', 'delete')),
		sha256_hash TEXT,
		previous_hash TEXT,
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (changeset_id) REFERENCES changesets(id) ON DELETE CASCADE
	);

	CREATE INDEX idx_file_history_changeset ON file_history(changeset_id);
	CREATE INDEX idx_file_history_path ON file_history(path);
	`,

	4: `
	-- Repositories: remote package sources
	CREATE TABLE repositories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		url TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		priority INTEGER NOT NULL DEFAULT 0,
		gpg_check INTEGER NOT NULL DEFAULT 1,
		gpg_key_url TEXT,
		metadata_expire INTEGER NOT NULL DEFAULT 3600,
		last_sync TEXT,
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX idx_repositories_enabled ON repositories(enabled);

	-- Repository packages: available packages, replaced en masse per sync
	CREATE TABLE repository_packages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repository_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		architecture TEXT,
		description TEXT,
		checksum TEXT NOT NULL,
		checksum_type TEXT NOT NULL DEFAULT 'sha256',
		size INTEGER NOT NULL,
		download_url TEXT NOT NULL,
		dependencies TEXT,
		metadata TEXT,
		synced_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (repository_id) REFERENCES repositories(id) ON DELETE CASCADE
	);

	CREATE INDEX idx_repo_packages_name ON repository_packages(name);
	CREATE UNIQUE INDEX idx_repo_packages_unique
		ON repository_packages(repository_id, name, version, architecture);
	`,

	5: `
	-- Package deltas advertised by repositories
	CREATE TABLE package_deltas (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repository_id INTEGER NOT NULL,
		package_name TEXT NOT NULL,
		from_version TEXT NOT NULL,
		to_version TEXT NOT NULL,
		delta_url TEXT NOT NULL,
		delta_checksum TEXT,
		from_hash TEXT NOT NULL,
		to_hash TEXT NOT NULL,
		delta_size INTEGER NOT NULL,
		full_size INTEGER NOT NULL,
		compression_ratio REAL NOT NULL DEFAULT 0,
		synced_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(package_name, from_version, to_version),
		FOREIGN KEY (repository_id) REFERENCES repositories(id) ON DELETE CASCADE
	);

	CREATE INDEX idx_package_deltas_name ON package_deltas(package_name);
	`,

	6: `
	-- Delta bandwidth statistics, one row per update changeset
	CREATE TABLE delta_stats (
		changeset_id INTEGER PRIMARY KEY,
		bytes_saved INTEGER NOT NULL DEFAULT 0,
		deltas_applied INTEGER NOT NULL DEFAULT 0,
		full_downloads INTEGER NOT NULL DEFAULT 0,
		delta_failures INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (changeset_id) REFERENCES changesets(id) ON DELETE CASCADE
	);
	`,
}
