// Package models defines the row types persisted by the state store.
package models

import (
	"fmt"
	"time"
)

// TroveType distinguishes the unit of installation.
type TroveType string

const (
	TrovePackage    TroveType = "package"
	TroveComponent  TroveType = "component"
	TroveCollection TroveType = "collection"
)

// ParseTroveType validates a trove type string.
func ParseTroveType(s string) (TroveType, error) {
	switch TroveType(s) {
	case TrovePackage, TroveComponent, TroveCollection:
		return TroveType(s), nil
	}
	return "", fmt.Errorf("unknown trove type %q", s)
}

// Trove is the core unit of package metadata, identified by
// (name, version, architecture).
type Trove struct {
	ID           int64
	Name         string
	Version      string
	Type         TroveType
	Architecture string
	Description  string
	InstalledAt  time.Time
	ChangesetID  int64
}

// Spec returns the canonical name-version[-arch] display form.
func (t *Trove) Spec() string {
	if t.Architecture != "" {
		return fmt.Sprintf("%s-%s.%s", t.Name, t.Version, t.Architecture)
	}
	return fmt.Sprintf("%s-%s", t.Name, t.Version)
}

// Flavor is a build-time variation attached to a trove.
type Flavor struct {
	ID      int64
	TroveID int64
	Key     string
	Value   string
}

// Provenance records where a trove came from.
type Provenance struct {
	ID        int64
	TroveID   int64
	SourceURL string
	Branch    string
	Commit    string
	Builder   string
	BuildHost string
	Vendor    string
	License   string
}
