package delta

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgiedrius/pakt/internal/errdefs"
)

func hashOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestGenerateApplyRoundtrip(t *testing.T) {
	old := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog\n"), 200)
	new := append(append([]byte{}, old...), []byte("one extra line at the end\n")...)

	delta, ok, err := Generate(old, new)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Less(t, len(delta), len(new))

	content, err := Apply(delta, old, hashOf(new))
	require.NoError(t, err)
	assert.Equal(t, new, content)
}

func TestGenerateNotWorthwhile(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	old := make([]byte, 4096)
	new := make([]byte, 4096)
	rng.Read(old)
	rng.Read(new)

	_, ok, err := Generate(old, new)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGenerateEmptyNew(t *testing.T) {
	_, ok, err := Generate([]byte("old content"), nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApplyHashMismatch(t *testing.T) {
	old := bytes.Repeat([]byte("stable content "), 100)
	new := append(append([]byte{}, old...), []byte("tail")...)

	delta, ok, err := Generate(old, new)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = Apply(delta, old, hashOf([]byte("something else")))
	require.ErrorIs(t, err, errdefs.ErrDeltaFailure)
	assert.ErrorContains(t, err, "expected")
}

func TestApplyCorruptDelta(t *testing.T) {
	old := []byte("old content")
	_, err := Apply([]byte("not a zstd frame"), old, hashOf(old))
	require.ErrorIs(t, err, errdefs.ErrDeltaFailure)
}

func TestApplyWrongDictionary(t *testing.T) {
	old := bytes.Repeat([]byte("dictionary material, fairly repetitive "), 100)
	new := append(append([]byte{}, old...), []byte("appended")...)

	delta, ok, err := Generate(old, new)
	require.NoError(t, err)
	require.True(t, ok)

	wrong := bytes.Repeat([]byte("entirely different bytes here instead "), 100)
	_, err = Apply(delta, wrong, hashOf(new))
	require.ErrorIs(t, err, errdefs.ErrDeltaFailure)
}

func TestStats(t *testing.T) {
	var s Stats
	assert.True(t, s.Empty())

	s.RecordDelta(1000, 200)
	s.RecordDelta(500, 600)
	s.RecordFullDownload()
	s.RecordFailure()

	assert.False(t, s.Empty())
	assert.Equal(t, int64(800), s.BytesSaved)
	assert.Equal(t, int64(2), s.DeltasApplied)
	assert.Equal(t, int64(2), s.FullDownloads)
	assert.Equal(t, int64(1), s.DeltaFailures)

	m := s.Model(7)
	assert.Equal(t, int64(7), m.ChangesetID)
	assert.Equal(t, int64(800), m.BytesSaved)
	assert.Equal(t, int64(2), m.DeltasApplied)
	assert.Equal(t, int64(2), m.FullDownloads)
	assert.Equal(t, int64(1), m.DeltaFailures)
}
