package core

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgiedrius/pakt/internal/errdefs"
	"github.com/mgiedrius/pakt/internal/models"
	"github.com/mgiedrius/pakt/internal/store"
)

func TestInstallFromFile(t *testing.T) {
	m := newTestManager(t)
	id := installSpec(t, m, pkgSpec{
		name: "nginx", version: "1.24.0",
		files: map[string]string{
			"usr/bin/nginx":        "the binary",
			"etc/nginx/nginx.conf": "worker_processes 1;",
		},
	})

	troves, err := store.FindTrovesByName(m.store.DB(), "nginx")
	require.NoError(t, err)
	require.Len(t, troves, 1)
	assert.Equal(t, "1.24.0", troves[0].Version)
	assert.Equal(t, id, troves[0].ChangesetID)

	data, err := os.ReadFile(deployedPath(m, "usr/bin/nginx"))
	require.NoError(t, err)
	assert.Equal(t, "the binary", string(data))

	obj, err := store.GetContentObject(m.store.DB(), hashBytes([]byte("the binary")))
	require.NoError(t, err)
	require.NotNil(t, obj)

	cs, err := store.GetChangeset(m.store.DB(), id)
	require.NoError(t, err)
	require.NotNil(t, cs)
	assert.Equal(t, models.ChangesetApplied, cs.Status)
	assert.Equal(t, "install nginx-1.24.0", cs.Description)

	report, err := m.Verify("nginx")
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.Equal(t, 2, report.OK)
}

func TestInstallAlreadyInstalled(t *testing.T) {
	m := newTestManager(t)
	spec := pkgSpec{name: "foo", version: "1.0", files: map[string]string{"usr/bin/foo": "v1"}}
	installSpec(t, m, spec)

	path := buildPackage(t, t.TempDir(), spec)
	_, err := m.Install(context.Background(), path, InstallOptions{})
	require.ErrorIs(t, err, errdefs.ErrAlreadyExists)
}

func TestInstallDowngradeRefused(t *testing.T) {
	m := newTestManager(t)
	installSpec(t, m, pkgSpec{name: "foo", version: "2.0", files: map[string]string{"usr/bin/foo": "v2"}})

	path := buildPackage(t, t.TempDir(), pkgSpec{
		name: "foo", version: "1.0",
		files: map[string]string{"usr/bin/foo": "v1"},
	})
	_, err := m.Install(context.Background(), path, InstallOptions{})
	require.ErrorIs(t, err, errdefs.ErrConflict)
}

func TestInstallFileConflict(t *testing.T) {
	m := newTestManager(t)
	installSpec(t, m, pkgSpec{
		name: "alpha", version: "1.0",
		files: map[string]string{"etc/shared.conf": "alpha owns this"},
	})

	path := buildPackage(t, t.TempDir(), pkgSpec{
		name: "beta", version: "1.0",
		files: map[string]string{"etc/shared.conf": "beta wants this"},
	})
	_, err := m.Install(context.Background(), path, InstallOptions{})
	require.ErrorIs(t, err, errdefs.ErrConflict)
	assert.Contains(t, err.Error(), "alpha")

	// The failed install leaves no trove and no pending changeset behind.
	troves, err := store.FindTrovesByName(m.store.DB(), "beta")
	require.NoError(t, err)
	assert.Empty(t, troves)
	changesets, err := store.ListChangesets(m.store.DB(), 0)
	require.NoError(t, err)
	for _, cs := range changesets {
		assert.NotEqual(t, models.ChangesetPending, cs.Status)
	}

	data, err := os.ReadFile(deployedPath(m, "etc/shared.conf"))
	require.NoError(t, err)
	assert.Equal(t, "alpha owns this", string(data))
}

func TestInstallOrphanFile(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, os.MkdirAll(deployedPath(m, "etc"), 0o755))
	require.NoError(t, os.WriteFile(deployedPath(m, "etc/app.conf"), []byte("hand edited"), 0o644))

	spec := pkgSpec{name: "app", version: "1.0", files: map[string]string{"etc/app.conf": "packaged"}}
	path := buildPackage(t, t.TempDir(), spec)

	_, err := m.Install(context.Background(), path, InstallOptions{})
	require.ErrorIs(t, err, errdefs.ErrConflict)

	id, err := m.Install(context.Background(), path, InstallOptions{ForceOrphan: true})
	require.NoError(t, err)

	data, err := os.ReadFile(deployedPath(m, "etc/app.conf"))
	require.NoError(t, err)
	assert.Equal(t, "packaged", string(data))

	// The overwritten pre-image was captured so the changeset can be undone.
	entries, err := store.FileHistoryForChangeset(m.store.DB(), id)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.FileModify, entries[0].Action)
	assert.Equal(t, hashBytes([]byte("hand edited")), entries[0].OldHash)

	_, err = m.Rollback(context.Background(), id)
	require.NoError(t, err)
	data, err = os.ReadFile(deployedPath(m, "etc/app.conf"))
	require.NoError(t, err)
	assert.Equal(t, "hand edited", string(data))
}

func TestInstallMissingDependency(t *testing.T) {
	m := newTestManager(t)
	path := buildPackage(t, t.TempDir(), pkgSpec{
		name: "app", version: "1.0",
		depends: []string{"libmissing>=2.0"},
		files:   map[string]string{"usr/bin/app": "binary"},
	})
	_, err := m.Install(context.Background(), path, InstallOptions{})
	require.ErrorIs(t, err, errdefs.ErrDependencyMissing)
}

func TestInstallDependencyFromFile(t *testing.T) {
	m := newTestManager(t)
	installSpec(t, m, pkgSpec{
		name: "libbar", version: "2.1",
		files: map[string]string{"usr/lib/libbar.so": "library"},
	})

	id := installSpec(t, m, pkgSpec{
		name: "app", version: "1.0",
		depends: []string{"libbar>=2.0"},
		files:   map[string]string{"usr/bin/app": "binary"},
	})

	deps, err := m.Depends("app")
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "libbar", deps[0].Name)
	assert.Equal(t, ">=2.0", deps[0].Constraint)
	assert.NotZero(t, id)
}

func TestUpgrade(t *testing.T) {
	m := newTestManager(t)
	installSpec(t, m, pkgSpec{
		name: "tool", version: "1.0",
		files: map[string]string{
			"usr/bin/tool":     "old binary",
			"usr/share/legacy": "goes away in 2.0",
		},
	})

	id := installSpec(t, m, pkgSpec{
		name: "tool", version: "2.0",
		files: map[string]string{"usr/bin/tool": "new binary"},
	})

	troves, err := store.FindTrovesByName(m.store.DB(), "tool")
	require.NoError(t, err)
	require.Len(t, troves, 1)
	assert.Equal(t, "2.0", troves[0].Version)

	data, err := os.ReadFile(deployedPath(m, "usr/bin/tool"))
	require.NoError(t, err)
	assert.Equal(t, "new binary", string(data))
	assert.NoFileExists(t, deployedPath(m, "usr/share/legacy"))

	cs, err := store.GetChangeset(m.store.DB(), id)
	require.NoError(t, err)
	assert.Equal(t, "upgrade tool 1.0 -> 2.0", cs.Description)

	entries, err := store.FileHistoryForChangeset(m.store.DB(), id)
	require.NoError(t, err)
	actions := make(map[string]models.FileAction)
	for _, e := range entries {
		actions[e.Path] = e.Action
	}
	assert.Equal(t, models.FileModify, actions["/usr/bin/tool"])
	assert.Equal(t, models.FileDelete, actions["/usr/share/legacy"])
}

func TestDeduplication(t *testing.T) {
	m := newTestManager(t)
	shared := "identical payload shared by two packages"
	installSpec(t, m, pkgSpec{
		name: "first", version: "1.0",
		files: map[string]string{"usr/share/first/data": shared},
	})
	installSpec(t, m, pkgSpec{
		name: "second", version: "1.0",
		files: map[string]string{"usr/share/second/data": shared},
	})

	hash := hashBytes([]byte(shared))
	n, err := store.CountFilesWithHash(m.store.DB(), hash)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// One object on disk backs both file records.
	hashes, err := m.objects.ListHashes()
	require.NoError(t, err)
	count := 0
	for _, h := range hashes {
		if h == hash {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestInstallDryRun(t *testing.T) {
	m := newTestManager(t)
	path := buildPackage(t, t.TempDir(), pkgSpec{
		name: "foo", version: "1.0",
		files: map[string]string{"usr/bin/foo": "binary"},
	})
	id, err := m.Install(context.Background(), path, InstallOptions{DryRun: true})
	require.NoError(t, err)
	assert.Zero(t, id)

	troves, err := store.FindTrovesByName(m.store.DB(), "foo")
	require.NoError(t, err)
	assert.Empty(t, troves)
	assert.NoFileExists(t, deployedPath(m, "usr/bin/foo"))
}

func TestClean(t *testing.T) {
	m := newTestManager(t)
	installSpec(t, m, pkgSpec{
		name: "foo", version: "1.0",
		files: map[string]string{"usr/bin/foo": "binary"},
	})

	reclaimed, err := m.Clean()
	require.NoError(t, err)
	assert.Zero(t, reclaimed, "referenced objects must survive a clean")

	// Removing the package and its journal leaves the object unreferenced.
	_, err = m.Remove(context.Background(), "foo")
	require.NoError(t, err)
	changesets, err := store.ListChangesets(m.store.DB(), 0)
	require.NoError(t, err)
	for _, cs := range changesets {
		require.NoError(t, store.DeleteChangeset(m.store.DB(), cs.ID))
	}

	reclaimed, err = m.Clean()
	require.NoError(t, err)
	assert.Equal(t, int64(len("binary")), reclaimed)

	ok, err := m.objects.Has(hashBytes([]byte("binary")))
	require.NoError(t, err)
	assert.False(t, ok)
}
