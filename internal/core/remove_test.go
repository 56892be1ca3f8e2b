package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgiedrius/pakt/internal/errdefs"
	"github.com/mgiedrius/pakt/internal/models"
	"github.com/mgiedrius/pakt/internal/store"
)

func TestRemove(t *testing.T) {
	m := newTestManager(t)
	installSpec(t, m, pkgSpec{
		name: "tool", version: "1.0",
		files: map[string]string{
			"usr/bin/tool":  "binary",
			"etc/tool.conf": "config",
		},
	})

	id, err := m.Remove(context.Background(), "tool")
	require.NoError(t, err)

	troves, err := store.FindTrovesByName(m.store.DB(), "tool")
	require.NoError(t, err)
	assert.Empty(t, troves)
	assert.NoFileExists(t, deployedPath(m, "usr/bin/tool"))
	assert.NoFileExists(t, deployedPath(m, "etc/tool.conf"))

	cs, err := store.GetChangeset(m.store.DB(), id)
	require.NoError(t, err)
	assert.Equal(t, models.ChangesetApplied, cs.Status)
	assert.Equal(t, "remove tool-1.0", cs.Description)

	entries, err := store.FileHistoryForChangeset(m.store.DB(), id)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, models.FileDelete, e.Action)
		assert.NotEmpty(t, e.OldHash)
	}
}

func TestRemoveNotInstalled(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Remove(context.Background(), "ghost")
	require.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestRemoveWithDependents(t *testing.T) {
	m := newTestManager(t)
	installSpec(t, m, pkgSpec{
		name: "libfoo", version: "1.0",
		files: map[string]string{"usr/lib/libfoo.so": "library"},
	})
	installSpec(t, m, pkgSpec{
		name: "app", version: "1.0",
		depends: []string{"libfoo"},
		files:   map[string]string{"usr/bin/app": "binary"},
	})

	_, err := m.Remove(context.Background(), "libfoo")
	require.ErrorIs(t, err, errdefs.ErrDependencyBreaks)
	assert.Contains(t, err.Error(), "app")

	// The dependent goes first, then the library is free to go.
	_, err = m.Remove(context.Background(), "app")
	require.NoError(t, err)
	_, err = m.Remove(context.Background(), "libfoo")
	require.NoError(t, err)
}

func TestWhatBreaks(t *testing.T) {
	m := newTestManager(t)
	installSpec(t, m, pkgSpec{
		name: "libfoo", version: "1.0",
		files: map[string]string{"usr/lib/libfoo.so": "library"},
	})
	installSpec(t, m, pkgSpec{
		name: "app", version: "1.0",
		depends: []string{"libfoo"},
		files:   map[string]string{"usr/bin/app": "binary"},
	})
	installSpec(t, m, pkgSpec{
		name: "frontend", version: "1.0",
		depends: []string{"app"},
		files:   map[string]string{"usr/bin/frontend": "binary"},
	})

	breaking, err := m.WhatBreaks("libfoo")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"app", "frontend"}, breaking)

	breaking, err = m.WhatBreaks("frontend")
	require.NoError(t, err)
	assert.Empty(t, breaking)
}

func TestRemoveRecapturesMissingContent(t *testing.T) {
	m := newTestManager(t)
	installSpec(t, m, pkgSpec{
		name: "tool", version: "1.0",
		files: map[string]string{"usr/bin/tool": "precious"},
	})

	// With the stored object gone, removal recaptures the disk content so
	// the changeset stays reversible.
	hash := hashBytes([]byte("precious"))
	require.NoError(t, m.objects.Delete(hash))

	id, err := m.Remove(context.Background(), "tool")
	require.NoError(t, err)

	entries, err := store.FileHistoryForChangeset(m.store.DB(), id)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, hash, entries[0].OldHash)

	ok, err := m.objects.Has(hash)
	require.NoError(t, err)
	assert.True(t, ok)
}
