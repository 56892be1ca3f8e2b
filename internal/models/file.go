package models

import "time"

// FileRecord associates a trove with an absolute target path.
type FileRecord struct {
	ID          int64
	TroveID     int64
	Path        string
	SHA256      string
	Size        int64
	Mode        int64
	Owner       string
	Group       string
	InstalledAt time.Time
}

// ContentObject indexes a file body stored in the content-addressed store.
type ContentObject struct {
	SHA256      string
	ContentPath string
	Size        int64
	StoredAt    time.Time
}
