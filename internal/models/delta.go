package models

import "time"

// PackageDelta advertises a binary delta between two versions of a package.
type PackageDelta struct {
	ID               int64
	RepositoryID     int64
	PackageName      string
	FromVersion      string
	ToVersion        string
	DeltaURL         string
	DeltaChecksum    string
	FromHash         string
	ToHash           string
	DeltaSize        int64
	FullSize         int64
	CompressionRatio float64
	SyncedAt         time.Time
}
