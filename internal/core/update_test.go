package core

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgiedrius/pakt/internal/delta"
	"github.com/mgiedrius/pakt/internal/errdefs"
	"github.com/mgiedrius/pakt/internal/models"
	"github.com/mgiedrius/pakt/internal/store"
)

// repoServer serves an in-memory file tree over HTTP, standing in for a
// JSON-format package repository. Contents can be swapped between syncs.
type repoServer struct {
	mu    sync.Mutex
	files map[string][]byte
	srv   *httptest.Server
}

func newRepoServer(t *testing.T) *repoServer {
	t.Helper()
	rs := &repoServer{files: make(map[string][]byte)}
	rs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		body, ok := rs.files[r.URL.Path]
		rs.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(rs.srv.Close)
	return rs
}

func (rs *repoServer) put(path string, body []byte) {
	rs.mu.Lock()
	rs.files[path] = body
	rs.mu.Unlock()
}

// metaPackage mirrors one entry of the served metadata.json.
type metaPackage struct {
	Name         string      `json:"name"`
	Version      string      `json:"version"`
	Architecture string      `json:"architecture,omitempty"`
	Checksum     string      `json:"checksum"`
	Size         int64       `json:"size"`
	DownloadURL  string      `json:"download_url"`
	Dependencies []string    `json:"dependencies,omitempty"`
	DeltaFrom    []metaDelta `json:"delta_from,omitempty"`
}

type metaDelta struct {
	Version   string `json:"version"`
	URL       string `json:"url"`
	Checksum  string `json:"checksum,omitempty"`
	FromHash  string `json:"from_hash"`
	ToHash    string `json:"to_hash"`
	DeltaSize int64  `json:"delta_size"`
}

func (rs *repoServer) putMetadata(t *testing.T, pkgs ...metaPackage) {
	t.Helper()
	body, err := json.Marshal(map[string]any{"name": "main", "packages": pkgs})
	require.NoError(t, err)
	rs.put("/metadata.json", body)
}

// publishPackage builds an Arch-format package, serves it, and returns its
// metadata entry.
func (rs *repoServer) publishPackage(t *testing.T, spec pkgSpec) metaPackage {
	t.Helper()
	path := buildPackage(t, t.TempDir(), spec)
	body, err := os.ReadFile(path)
	require.NoError(t, err)
	urlPath := "/pkgs/" + spec.name + "-" + spec.version + "-x86_64.pkg.tar.zst"
	rs.put(urlPath, body)
	return metaPackage{
		Name:         spec.name,
		Version:      spec.version,
		Architecture: "x86_64",
		Checksum:     hashBytes(body),
		Size:         int64(len(body)),
		DownloadURL:  urlPath,
		Dependencies: spec.depends,
	}
}

func addSyncedRepo(t *testing.T, m *Manager, rs *repoServer) {
	t.Helper()
	require.NoError(t, m.RepoAdd(&models.Repository{Name: "main", URL: rs.srv.URL, Enabled: true}))
	_, err := m.RepoSync(context.Background(), "main", true)
	require.NoError(t, err)
}

func TestInstallByName(t *testing.T) {
	m := newTestManager(t)
	rs := newRepoServer(t)
	libEntry := rs.publishPackage(t, pkgSpec{
		name: "libbar", version: "2.1",
		files: map[string]string{"usr/lib/libbar.so": "library"},
	})
	appEntry := rs.publishPackage(t, pkgSpec{
		name: "foo", version: "1.0",
		depends: []string{"libbar>=2.0"},
		files:   map[string]string{"usr/bin/foo": "binary"},
	})
	rs.putMetadata(t, libEntry, appEntry)
	addSyncedRepo(t, m, rs)

	_, err := m.Install(context.Background(), "foo", InstallOptions{})
	require.NoError(t, err)

	for _, name := range []string{"foo", "libbar"} {
		troves, err := store.FindTrovesByName(m.store.DB(), name)
		require.NoError(t, err)
		assert.Len(t, troves, 1, name)
	}
	data, err := os.ReadFile(deployedPath(m, "usr/bin/foo"))
	require.NoError(t, err)
	assert.Equal(t, "binary", string(data))
}

func TestInstallByNameUnknown(t *testing.T) {
	m := newTestManager(t)
	rs := newRepoServer(t)
	rs.putMetadata(t)
	addSyncedRepo(t, m, rs)

	_, err := m.Install(context.Background(), "no-such-package", InstallOptions{})
	require.ErrorIs(t, err, errdefs.ErrDependencyMissing)
}

func TestInstallRepositoryPin(t *testing.T) {
	m := newTestManager(t)
	rs := newRepoServer(t)
	entry := rs.publishPackage(t, pkgSpec{
		name: "foo", version: "1.0",
		files: map[string]string{"usr/bin/foo": "binary"},
	})
	rs.putMetadata(t, entry)
	addSyncedRepo(t, m, rs)

	_, err := m.Install(context.Background(), "foo", InstallOptions{Repository: "nonexistent"})
	require.ErrorIs(t, err, errdefs.ErrNotFound)

	_, err = m.Install(context.Background(), "foo", InstallOptions{Repository: "main"})
	require.NoError(t, err)
}

func TestUpdateViaDelta(t *testing.T) {
	m := newTestManager(t)
	rs := newRepoServer(t)

	// Incompressible shared content keeps the full package large while the
	// delta stays tiny, since the new version only appends a short suffix.
	rng := rand.New(rand.NewSource(7))
	oldData := make([]byte, 8192)
	_, err := rng.Read(oldData)
	require.NoError(t, err)
	oldContent := string(oldData)
	newContent := oldContent + "trailing update\n"
	oldHash := hashBytes([]byte(oldContent))
	newHash := hashBytes([]byte(newContent))

	v1 := rs.publishPackage(t, pkgSpec{
		name: "foo", version: "1.0",
		files: map[string]string{"usr/share/foo/data": oldContent},
	})
	rs.putMetadata(t, v1)
	addSyncedRepo(t, m, rs)
	_, err = m.Install(context.Background(), "foo", InstallOptions{})
	require.NoError(t, err)

	deltaBytes, ok, err := delta.Generate([]byte(oldContent), []byte(newContent))
	require.NoError(t, err)
	require.True(t, ok)
	rs.put("/deltas/foo-1.0-1.1.delta", deltaBytes)

	v2 := rs.publishPackage(t, pkgSpec{
		name: "foo", version: "1.1",
		files: map[string]string{"usr/share/foo/data": newContent},
	})
	v2.DeltaFrom = []metaDelta{{
		Version:   "1.0",
		URL:       "/deltas/foo-1.0-1.1.delta",
		Checksum:  hashBytes(deltaBytes),
		FromHash:  oldHash,
		ToHash:    newHash,
		DeltaSize: int64(len(deltaBytes)),
	}}
	rs.putMetadata(t, v2)
	_, err = m.RepoSync(context.Background(), "main", true)
	require.NoError(t, err)

	summary, err := m.Update(context.Background(), "foo")
	require.NoError(t, err)
	require.Equal(t, []string{"foo 1.0 -> 1.1"}, summary.Updated)
	assert.Equal(t, int64(1), summary.Stats.DeltasApplied)
	assert.Zero(t, summary.Stats.FullDownloads)
	assert.Positive(t, summary.Stats.BytesSaved)

	troves, err := store.FindTrovesByName(m.store.DB(), "foo")
	require.NoError(t, err)
	require.Len(t, troves, 1)
	assert.Equal(t, "1.1", troves[0].Version)

	data, err := os.ReadFile(deployedPath(m, "usr/share/foo/data"))
	require.NoError(t, err)
	assert.Equal(t, newContent, string(data))

	stats, err := m.DeltaSavings()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.DeltasApplied)
	assert.Positive(t, stats.BytesSaved)
}

func TestUpdateFallsBackToFullDownload(t *testing.T) {
	m := newTestManager(t)
	rs := newRepoServer(t)

	v1 := rs.publishPackage(t, pkgSpec{
		name: "foo", version: "1.0",
		files: map[string]string{"usr/bin/foo": "old binary"},
	})
	rs.putMetadata(t, v1)
	addSyncedRepo(t, m, rs)
	_, err := m.Install(context.Background(), "foo", InstallOptions{})
	require.NoError(t, err)

	// The advertised delta references content that was never installed, so
	// applying it fails and the update falls back to the full package.
	v2 := rs.publishPackage(t, pkgSpec{
		name: "foo", version: "1.1",
		files: map[string]string{"usr/bin/foo": "new binary"},
	})
	v2.DeltaFrom = []metaDelta{{
		Version:   "1.0",
		URL:       "/deltas/bogus.delta",
		FromHash:  hashBytes([]byte("content nobody has")),
		ToHash:    hashBytes([]byte("new binary")),
		DeltaSize: 10,
	}}
	rs.putMetadata(t, v2)
	_, err = m.RepoSync(context.Background(), "main", true)
	require.NoError(t, err)

	summary, err := m.Update(context.Background(), "foo")
	require.NoError(t, err)
	require.Equal(t, []string{"foo 1.0 -> 1.1"}, summary.Updated)
	assert.Equal(t, int64(1), summary.Stats.DeltaFailures)
	assert.Equal(t, int64(1), summary.Stats.FullDownloads)
	assert.Zero(t, summary.Stats.DeltasApplied)

	data, err := os.ReadFile(deployedPath(m, "usr/bin/foo"))
	require.NoError(t, err)
	assert.Equal(t, "new binary", string(data))
}

func TestSearch(t *testing.T) {
	m := newTestManager(t)
	rs := newRepoServer(t)
	rs.putMetadata(t,
		rs.publishPackage(t, pkgSpec{name: "nginx", version: "1.24.0", files: map[string]string{"usr/bin/nginx": "a"}}),
		rs.publishPackage(t, pkgSpec{name: "redis", version: "7.2.0", files: map[string]string{"usr/bin/redis": "b"}}),
	)
	addSyncedRepo(t, m, rs)

	pkgs, err := m.Search("ngin")
	require.NoError(t, err)
	require.Len(t, pkgs, 1)
	assert.Equal(t, "nginx", pkgs[0].Name)

	pkgs, err = m.Search("postgres")
	require.NoError(t, err)
	assert.Empty(t, pkgs)
}

func TestUpdateNothingToDo(t *testing.T) {
	m := newTestManager(t)
	rs := newRepoServer(t)
	v1 := rs.publishPackage(t, pkgSpec{
		name: "foo", version: "1.0",
		files: map[string]string{"usr/bin/foo": "binary"},
	})
	rs.putMetadata(t, v1)
	addSyncedRepo(t, m, rs)
	_, err := m.Install(context.Background(), "foo", InstallOptions{})
	require.NoError(t, err)

	summary, err := m.Update(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, summary.Updated)
}
