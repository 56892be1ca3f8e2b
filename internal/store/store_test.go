package store

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/mgiedrius/pakt/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore creates a migrated SQLite store in a temp directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "state.db")
	st, err := New(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Migrate())
	t.Cleanup(func() { st.Close() })
	return st
}

func insertTestTrove(t *testing.T, st *Store, name, version, arch string) *models.Trove {
	t.Helper()
	tr := &models.Trove{
		Name:         name,
		Version:      version,
		Type:         models.TrovePackage,
		Architecture: arch,
	}
	_, err := InsertTrove(st.DB(), tr)
	require.NoError(t, err)
	return tr
}

// ==================== Migration Tests ====================

func TestStore_Migrate(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")
	st, err := New(dbPath)
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.Migrate())

	version, err := st.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, version)

	// Re-running is a no-op.
	require.NoError(t, st.Migrate())
	version, err = st.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, version)
}

// ==================== Trove Tests ====================

func TestStore_InsertAndFindTrove(t *testing.T) {
	st := newTestStore(t)

	tr := &models.Trove{
		Name:         "nginx",
		Version:      "1.24.0",
		Type:         models.TrovePackage,
		Architecture: "x86_64",
		Description:  "HTTP and reverse proxy server",
	}
	id, err := InsertTrove(st.DB(), tr)
	require.NoError(t, err)
	assert.Equal(t, id, tr.ID)

	got, err := FindTroveByID(st.DB(), id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "nginx", got.Name)
	assert.Equal(t, "1.24.0", got.Version)
	assert.Equal(t, models.TrovePackage, got.Type)
	assert.Equal(t, "x86_64", got.Architecture)
	assert.False(t, got.InstalledAt.IsZero())

	got, err = FindTrove(st.DB(), "nginx", "1.24.0", "x86_64")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)

	// Absent identities return nil without error.
	got, err = FindTrove(st.DB(), "nginx", "9.9.9", "x86_64")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_TroveUniqueIdentity(t *testing.T) {
	st := newTestStore(t)

	insertTestTrove(t, st, "zlib", "1.3", "x86_64")
	dup := &models.Trove{Name: "zlib", Version: "1.3", Type: models.TrovePackage, Architecture: "x86_64"}
	_, err := InsertTrove(st.DB(), dup)
	assert.Error(t, err)

	// Same name+version on a different architecture is a distinct trove.
	other := &models.Trove{Name: "zlib", Version: "1.3", Type: models.TrovePackage, Architecture: "aarch64"}
	_, err = InsertTrove(st.DB(), other)
	assert.NoError(t, err)
}

func TestStore_ListTroves(t *testing.T) {
	st := newTestStore(t)

	insertTestTrove(t, st, "nginx", "1.24.0", "x86_64")
	insertTestTrove(t, st, "zlib", "1.3", "x86_64")
	insertTestTrove(t, st, "zstd", "1.5.5", "x86_64")

	all, err := ListTroves(st.DB(), "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	zOnly, err := ListTroves(st.DB(), "z%")
	require.NoError(t, err)
	require.Len(t, zOnly, 2)
	assert.Equal(t, "zlib", zOnly[0].Name)
	assert.Equal(t, "zstd", zOnly[1].Name)
}

func TestStore_DeleteTroveCascades(t *testing.T) {
	st := newTestStore(t)

	tr := insertTestTrove(t, st, "nginx", "1.24.0", "x86_64")
	require.NoError(t, InsertFileRecord(st.DB(), &models.FileRecord{
		TroveID: tr.ID, Path: "/usr/sbin/nginx", SHA256: "aa", Size: 1, Mode: 0o755,
	}))
	require.NoError(t, SetFlavor(st.DB(), tr.ID, "ssl", "openssl"))
	require.NoError(t, InsertDependency(st.DB(), &models.Dependency{
		TroveID: tr.ID, Name: "zlib", Type: models.DepRuntime,
	}))

	require.NoError(t, DeleteTrove(st.DB(), tr.ID))

	f, err := FindFileByPath(st.DB(), "/usr/sbin/nginx")
	require.NoError(t, err)
	assert.Nil(t, f)

	flavors, err := FlavorsForTrove(st.DB(), tr.ID)
	require.NoError(t, err)
	assert.Empty(t, flavors)

	deps, err := DependenciesForTrove(st.DB(), tr.ID)
	require.NoError(t, err)
	assert.Empty(t, deps)
}

// ==================== Changeset Tests ====================

func TestStore_ChangesetLifecycle(t *testing.T) {
	st := newTestStore(t)

	id, err := CreateChangeset(st.DB(), "install nginx-1.24.0")
	require.NoError(t, err)

	cs, err := GetChangeset(st.DB(), id)
	require.NoError(t, err)
	require.NotNil(t, cs)
	assert.Equal(t, models.ChangesetPending, cs.Status)
	assert.True(t, cs.AppliedAt.IsZero())

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, MarkChangesetApplied(st.DB(), id, now))

	cs, err = GetChangeset(st.DB(), id)
	require.NoError(t, err)
	assert.Equal(t, models.ChangesetApplied, cs.Status)
	assert.Equal(t, now, cs.AppliedAt)
	assert.True(t, cs.RolledBackAt.IsZero())

	later := now.Add(time.Hour)
	require.NoError(t, MarkChangesetRolledBack(st.DB(), id, later))
	cs, err = GetChangeset(st.DB(), id)
	require.NoError(t, err)
	assert.Equal(t, models.ChangesetRolledBack, cs.Status)
	assert.Equal(t, later, cs.RolledBackAt)
}

func TestStore_ChangesetReversedBy(t *testing.T) {
	st := newTestStore(t)

	first, err := CreateChangeset(st.DB(), "install nginx")
	require.NoError(t, err)
	second, err := CreateChangeset(st.DB(), "rollback of changeset 1")
	require.NoError(t, err)

	require.NoError(t, SetChangesetReversedBy(st.DB(), first, second))

	cs, err := GetChangeset(st.DB(), first)
	require.NoError(t, err)
	assert.Equal(t, second, cs.ReversedBy)
}

func TestStore_ListChangesets(t *testing.T) {
	st := newTestStore(t)

	for _, d := range []string{"one", "two", "three"} {
		_, err := CreateChangeset(st.DB(), d)
		require.NoError(t, err)
	}

	all, err := ListChangesets(st.DB(), 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Newest first.
	assert.Equal(t, "three", all[0].Description)

	limited, err := ListChangesets(st.DB(), 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestStore_FileHistoryOrdering(t *testing.T) {
	st := newTestStore(t)

	csID, err := CreateChangeset(st.DB(), "update pkg")
	require.NoError(t, err)

	entries := []*models.FileHistoryEntry{
		{ChangesetID: csID, Path: "/etc/pkg.conf", Action: models.FileAdd, NewHash: "aa"},
		{ChangesetID: csID, Path: "/usr/bin/pkg", Action: models.FileModify, NewHash: "bb", OldHash: "cc"},
		{ChangesetID: csID, Path: "/usr/share/pkg/old", Action: models.FileDelete, OldHash: "dd"},
	}
	for _, e := range entries {
		require.NoError(t, InsertFileHistory(st.DB(), e))
	}

	got, err := FileHistoryForChangeset(st.DB(), csID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, models.FileAdd, got[0].Action)
	assert.Equal(t, "", got[0].OldHash)
	assert.Equal(t, models.FileModify, got[1].Action)
	assert.Equal(t, "bb", got[1].NewHash)
	assert.Equal(t, "cc", got[1].OldHash)
	assert.Equal(t, models.FileDelete, got[2].Action)
	assert.Equal(t, "", got[2].NewHash)
}

func TestStore_DeltaStats(t *testing.T) {
	st := newTestStore(t)

	csID, err := CreateChangeset(st.DB(), "update nginx")
	require.NoError(t, err)

	stats := &models.DeltaStats{
		ChangesetID: csID, BytesSaved: 900, DeltasApplied: 2, FullDownloads: 1, DeltaFailures: 1,
	}
	require.NoError(t, UpsertDeltaStats(st.DB(), stats))

	got, err := GetDeltaStats(st.DB(), csID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(900), got.BytesSaved)

	stats.BytesSaved = 1200
	require.NoError(t, UpsertDeltaStats(st.DB(), stats))
	got, err = GetDeltaStats(st.DB(), csID)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), got.BytesSaved)

	total, err := SumDeltaStats(st.DB())
	require.NoError(t, err)
	assert.Equal(t, int64(1200), total.BytesSaved)
	assert.Equal(t, int64(2), total.DeltasApplied)
}

// ==================== File and Content Tests ====================

func TestStore_FilePathUnique(t *testing.T) {
	st := newTestStore(t)

	a := insertTestTrove(t, st, "a", "1", "x86_64")
	b := insertTestTrove(t, st, "b", "1", "x86_64")

	require.NoError(t, InsertFileRecord(st.DB(), &models.FileRecord{
		TroveID: a.ID, Path: "/usr/bin/tool", SHA256: "aa", Size: 10, Mode: 0o755,
	}))
	err := InsertFileRecord(st.DB(), &models.FileRecord{
		TroveID: b.ID, Path: "/usr/bin/tool", SHA256: "bb", Size: 20, Mode: 0o755,
	})
	assert.Error(t, err)
}

func TestStore_ContentReferenceCounting(t *testing.T) {
	st := newTestStore(t)

	tr := insertTestTrove(t, st, "a", "1", "x86_64")
	require.NoError(t, UpsertContentObject(st.DB(), &models.ContentObject{
		SHA256: "aa", ContentPath: "objects/aa/rest", Size: 5,
	}))
	// Idempotent on re-insert.
	require.NoError(t, UpsertContentObject(st.DB(), &models.ContentObject{
		SHA256: "aa", ContentPath: "objects/aa/rest", Size: 5,
	}))

	n, err := ContentReferenceCount(st.DB(), "aa")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	require.NoError(t, InsertFileRecord(st.DB(), &models.FileRecord{
		TroveID: tr.ID, Path: "/etc/a.conf", SHA256: "aa", Size: 5, Mode: 0o644,
	}))
	csID, err := CreateChangeset(st.DB(), "install a")
	require.NoError(t, err)
	require.NoError(t, InsertFileHistory(st.DB(), &models.FileHistoryEntry{
		ChangesetID: csID, Path: "/etc/a.conf", Action: models.FileAdd, NewHash: "aa",
	}))

	n, err = ContentReferenceCount(st.DB(), "aa")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	unref, err := ListUnreferencedObjects(st.DB())
	require.NoError(t, err)
	assert.Empty(t, unref)

	// Drop the trove (file cascades) and the changeset (journal cascades).
	require.NoError(t, DeleteTrove(st.DB(), tr.ID))
	require.NoError(t, DeleteChangeset(st.DB(), csID))

	unref, err = ListUnreferencedObjects(st.DB())
	require.NoError(t, err)
	require.Len(t, unref, 1)
	assert.Equal(t, "aa", unref[0].SHA256)

	require.NoError(t, DeleteContentObject(st.DB(), "aa"))
	obj, err := GetContentObject(st.DB(), "aa")
	require.NoError(t, err)
	assert.Nil(t, obj)
}

// ==================== Dependency Tests ====================

func TestStore_Dependencies(t *testing.T) {
	st := newTestStore(t)

	nginx := insertTestTrove(t, st, "nginx", "1.24.0", "x86_64")
	require.NoError(t, InsertDependency(st.DB(), &models.Dependency{
		TroveID: nginx.ID, Name: "zlib", Constraint: ">= 1.2", Type: models.DepRuntime,
	}))
	require.NoError(t, InsertDependency(st.DB(), &models.Dependency{
		TroveID: nginx.ID, Name: "pcre2", Type: models.DepRuntime,
	}))

	deps, err := DependenciesForTrove(st.DB(), nginx.ID)
	require.NoError(t, err)
	require.Len(t, deps, 2)
	assert.Equal(t, "zlib", deps[0].Name)
	assert.Equal(t, ">= 1.2", deps[0].Constraint)

	dependents, err := FindDependents(st.DB(), "zlib")
	require.NoError(t, err)
	require.Len(t, dependents, 1)
	assert.Equal(t, nginx.ID, dependents[0].TroveID)
}

// ==================== Metadata Tests ====================

func TestStore_FlavorsAndProvenance(t *testing.T) {
	st := newTestStore(t)

	tr := insertTestTrove(t, st, "nginx", "1.24.0", "x86_64")
	require.NoError(t, SetFlavor(st.DB(), tr.ID, "ssl", "openssl"))
	require.NoError(t, SetFlavor(st.DB(), tr.ID, "ssl", "libressl"))

	flavors, err := FlavorsForTrove(st.DB(), tr.ID)
	require.NoError(t, err)
	require.Len(t, flavors, 1)
	assert.Equal(t, "libressl", flavors[0].Value)

	p, err := ProvenanceForTrove(st.DB(), tr.ID)
	require.NoError(t, err)
	assert.Nil(t, p)

	require.NoError(t, SetProvenance(st.DB(), &models.Provenance{
		TroveID: tr.ID, Vendor: "example", License: "BSD-2-Clause",
	}))
	p, err = ProvenanceForTrove(st.DB(), tr.ID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "BSD-2-Clause", p.License)
}

// ==================== Repository Tests ====================

func TestStore_RepositoryCRUD(t *testing.T) {
	st := newTestStore(t)

	repo := &models.Repository{
		Name: "main", URL: "https://pkgs.example.com/main",
		Enabled: true, Priority: 10, GPGCheck: true, MetadataExpire: 3600,
	}
	_, err := AddRepository(st.DB(), repo)
	require.NoError(t, err)

	dup := &models.Repository{Name: "main", URL: "https://other.example.com"}
	_, err = AddRepository(st.DB(), dup)
	assert.Error(t, err)

	got, err := FindRepository(st.DB(), "main")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Enabled)
	assert.True(t, got.GPGCheck)
	assert.True(t, got.LastSync.IsZero())

	require.NoError(t, SetRepositoryEnabled(st.DB(), "main", false))
	got, err = FindRepository(st.DB(), "main")
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	enabled, err := ListRepositories(st.DB(), true)
	require.NoError(t, err)
	assert.Empty(t, enabled)

	assert.Error(t, SetRepositoryEnabled(st.DB(), "missing", true))

	require.NoError(t, RemoveRepository(st.DB(), "main"))
	got, err = FindRepository(st.DB(), "main")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_ReplaceRepositoryPackages(t *testing.T) {
	st := newTestStore(t)

	repo := &models.Repository{Name: "main", URL: "https://pkgs.example.com", Enabled: true, MetadataExpire: 3600}
	repoID, err := AddRepository(st.DB(), repo)
	require.NoError(t, err)

	first := []*models.RepositoryPackage{
		{Name: "nginx", Version: "1.24.0", Architecture: "x86_64", Checksum: "aa",
			ChecksumType: "sha256", Size: 100, DownloadURL: "https://pkgs.example.com/nginx.rpm"},
		{Name: "zlib", Version: "1.3", Architecture: "x86_64", Checksum: "bb",
			ChecksumType: "sha256", Size: 50, DownloadURL: "https://pkgs.example.com/zlib.rpm"},
	}
	require.NoError(t, st.WithTx(func(tx *sql.Tx) error {
		return ReplaceRepositoryPackages(tx, repoID, first)
	}))

	n, err := CountRepositoryPackages(st.DB(), repoID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// A re-sync replaces, never accumulates.
	second := []*models.RepositoryPackage{
		{Name: "nginx", Version: "1.25.0", Architecture: "x86_64", Checksum: "cc",
			ChecksumType: "sha256", Size: 110, DownloadURL: "https://pkgs.example.com/nginx-1.25.rpm"},
	}
	require.NoError(t, st.WithTx(func(tx *sql.Tx) error {
		return ReplaceRepositoryPackages(tx, repoID, second)
	}))

	n, err = CountRepositoryPackages(st.DB(), repoID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	found, err := FindRepositoryPackages(st.DB(), "nginx")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "1.25.0", found[0].Version)
}

func TestStore_FindRepositoryPackagesPriority(t *testing.T) {
	st := newTestStore(t)

	high := &models.Repository{Name: "high", URL: "https://high.example.com", Enabled: true, Priority: 10, MetadataExpire: 3600}
	low := &models.Repository{Name: "low", URL: "https://low.example.com", Enabled: true, Priority: 1, MetadataExpire: 3600}
	disabled := &models.Repository{Name: "off", URL: "https://off.example.com", Enabled: false, MetadataExpire: 3600}
	highID, err := AddRepository(st.DB(), high)
	require.NoError(t, err)
	lowID, err := AddRepository(st.DB(), low)
	require.NoError(t, err)
	offID, err := AddRepository(st.DB(), disabled)
	require.NoError(t, err)

	pkg := func(checksum string) []*models.RepositoryPackage {
		return []*models.RepositoryPackage{{
			Name: "nginx", Version: "1.24.0", Architecture: "x86_64",
			Checksum: checksum, ChecksumType: "sha256", Size: 100,
			DownloadURL: "https://example.com/nginx.rpm",
		}}
	}
	require.NoError(t, ReplaceRepositoryPackages(st.DB(), highID, pkg("high")))
	require.NoError(t, ReplaceRepositoryPackages(st.DB(), lowID, pkg("low")))
	require.NoError(t, ReplaceRepositoryPackages(st.DB(), offID, pkg("off")))

	found, err := FindRepositoryPackages(st.DB(), "nginx")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "high", found[0].Checksum)
	assert.Equal(t, "low", found[1].Checksum)
}

func TestStore_SearchRepositoryPackages(t *testing.T) {
	st := newTestStore(t)

	repo := &models.Repository{Name: "main", URL: "https://pkgs.example.com", Enabled: true, MetadataExpire: 3600}
	repoID, err := AddRepository(st.DB(), repo)
	require.NoError(t, err)

	pkgs := []*models.RepositoryPackage{
		{Name: "nginx", Version: "1.24.0", Description: "HTTP server", Checksum: "aa",
			ChecksumType: "sha256", Size: 1, DownloadURL: "u"},
		{Name: "curl", Version: "8.5.0", Description: "HTTP client", Checksum: "bb",
			ChecksumType: "sha256", Size: 1, DownloadURL: "u"},
		{Name: "zlib", Version: "1.3", Description: "compression library", Checksum: "cc",
			ChecksumType: "sha256", Size: 1, DownloadURL: "u"},
	}
	require.NoError(t, ReplaceRepositoryPackages(st.DB(), repoID, pkgs))

	found, err := SearchRepositoryPackages(st.DB(), "%HTTP%")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = SearchRepositoryPackages(st.DB(), "%zlib%")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "zlib", found[0].Name)
}

func TestStore_EncodeDecodeDependencies(t *testing.T) {
	deps := []models.PackageDependency{
		{Name: "zlib", Constraint: ">= 1.2", Type: models.DepRuntime},
		{Name: "doc-tools", Type: models.DepOptional, Description: "manual pages"},
	}
	s, err := EncodeDependencies(deps)
	require.NoError(t, err)
	require.NotEmpty(t, s)

	got, err := DecodeDependencies(s)
	require.NoError(t, err)
	assert.Equal(t, deps, got)

	empty, err := EncodeDependencies(nil)
	require.NoError(t, err)
	assert.Equal(t, "", empty)

	got, err = DecodeDependencies("")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// ==================== Delta Tests ====================

func TestStore_PackageDeltas(t *testing.T) {
	st := newTestStore(t)

	repo := &models.Repository{Name: "main", URL: "https://pkgs.example.com", Enabled: true, MetadataExpire: 3600}
	repoID, err := AddRepository(st.DB(), repo)
	require.NoError(t, err)

	deltas := []*models.PackageDelta{
		{PackageName: "nginx", FromVersion: "1.24.0", ToVersion: "1.25.0",
			DeltaURL: "https://pkgs.example.com/nginx.delta", FromHash: "aa", ToHash: "bb",
			DeltaSize: 10, FullSize: 100, CompressionRatio: 0.1},
	}
	require.NoError(t, ReplaceRepositoryDeltas(st.DB(), repoID, deltas))

	d, err := FindPackageDelta(st.DB(), "nginx", "1.24.0", "1.25.0")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, int64(10), d.DeltaSize)
	assert.InDelta(t, 0.1, d.CompressionRatio, 1e-9)

	d, err = FindPackageDelta(st.DB(), "nginx", "1.23.0", "1.25.0")
	require.NoError(t, err)
	assert.Nil(t, d)

	// Deltas from disabled repositories are invisible.
	require.NoError(t, SetRepositoryEnabled(st.DB(), "main", false))
	d, err = FindPackageDelta(st.DB(), "nginx", "1.24.0", "1.25.0")
	require.NoError(t, err)
	assert.Nil(t, d)

	all, err := DeltasForPackage(st.DB(), "nginx")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// ==================== Transaction Tests ====================

func TestStore_WithTxRollsBackOnError(t *testing.T) {
	st := newTestStore(t)

	err := st.WithTx(func(tx *sql.Tx) error {
		if _, err := InsertTrove(tx, &models.Trove{
			Name: "doomed", Version: "1", Type: models.TrovePackage,
		}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	troves, err := FindTrovesByName(st.DB(), "doomed")
	require.NoError(t, err)
	assert.Empty(t, troves)
}
