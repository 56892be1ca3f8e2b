// Package delta generates and applies binary deltas between package file
// versions. A delta is the new content zstd-compressed against the old
// content as a dictionary, so only the changed regions cost bytes.
package delta

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/klauspost/compress/zstd"

	"github.com/mgiedrius/pakt/internal/errdefs"
	"github.com/mgiedrius/pakt/internal/models"
)

// compressionLevel trades a little ratio for fast delta generation.
const compressionLevel = 3

// worthwhileRatio is the cutoff above which shipping a delta saves too
// little over the full file to bother.
const worthwhileRatio = 0.9

// Generate produces a delta that rebuilds new from old. ok is false when the
// contents are too dissimilar for the delta to be worthwhile.
func Generate(old, new []byte) (delta []byte, ok bool, err error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)),
		zstd.WithEncoderDictRaw(0, old),
	)
	if err != nil {
		return nil, false, errdefs.Wrap(errdefs.KindDeltaFailure, err, "create delta encoder")
	}
	defer enc.Close()

	delta = enc.EncodeAll(new, nil)
	if len(new) == 0 || float64(len(delta))/float64(len(new)) > worthwhileRatio {
		return nil, false, nil
	}
	return delta, true, nil
}

// Apply rebuilds content from a delta and the old content it was generated
// against, then verifies the result against expectedHash. Both a corrupt
// delta and a wrong reconstruction surface as delta failures so callers can
// fall back to a full download.
func Apply(delta, old []byte, expectedHash string) ([]byte, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderDictRaw(0, old))
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindDeltaFailure, err, "create delta decoder")
	}
	defer dec.Close()

	content, err := dec.DecodeAll(delta, nil)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindDeltaFailure, err, "apply delta")
	}

	sum := sha256.Sum256(content)
	if actual := hex.EncodeToString(sum[:]); actual != expectedHash {
		return nil, errdefs.New(errdefs.KindDeltaFailure,
			"delta produced hash %s, expected %s", actual, expectedHash)
	}
	return content, nil
}

// Stats accumulates delta outcomes over one changeset.
type Stats struct {
	BytesSaved    int64
	DeltasApplied int64
	FullDownloads int64
	DeltaFailures int64
}

// RecordDelta notes one successful delta application.
func (s *Stats) RecordDelta(fullSize, deltaSize int64) {
	s.DeltasApplied++
	if fullSize > deltaSize {
		s.BytesSaved += fullSize - deltaSize
	}
}

// RecordFullDownload notes one package fetched whole.
func (s *Stats) RecordFullDownload() {
	s.FullDownloads++
}

// RecordFailure notes one delta that failed and fell back to a full download.
func (s *Stats) RecordFailure() {
	s.DeltaFailures++
	s.FullDownloads++
}

// Empty reports whether nothing was recorded.
func (s *Stats) Empty() bool {
	return s.DeltasApplied == 0 && s.FullDownloads == 0 && s.DeltaFailures == 0
}

// Model converts the accumulated counters into their persisted form.
func (s *Stats) Model(changesetID int64) *models.DeltaStats {
	return &models.DeltaStats{
		ChangesetID:   changesetID,
		BytesSaved:    s.BytesSaved,
		DeltasApplied: s.DeltasApplied,
		FullDownloads: s.FullDownloads,
		DeltaFailures: s.DeltaFailures,
	}
}
