package core

import (
	"strings"

	"github.com/mgiedrius/pakt/internal/errdefs"
	"github.com/mgiedrius/pakt/internal/models"
	"github.com/mgiedrius/pakt/internal/store"
)

// Query lists installed troves. An empty pattern lists everything; otherwise
// names containing the pattern match.
func (m *Manager) Query(pattern string) ([]*models.Trove, error) {
	if pattern != "" {
		pattern = "%" + strings.Trim(pattern, "%*") + "%"
	}
	return store.ListTroves(m.store.DB(), pattern)
}

// Files lists the file records of one installed package.
func (m *Manager) Files(name string) ([]*models.FileRecord, error) {
	trove, err := m.singleTrove(name)
	if err != nil {
		return nil, err
	}
	return store.FilesForTrove(m.store.DB(), trove.ID)
}

// Depends lists the dependencies an installed package declares.
func (m *Manager) Depends(name string) ([]*models.Dependency, error) {
	trove, err := m.singleTrove(name)
	if err != nil {
		return nil, err
	}
	return store.DependenciesForTrove(m.store.DB(), trove.ID)
}

// RDepends lists the installed packages that declare a dependency on name.
func (m *Manager) RDepends(name string) ([]string, error) {
	deps, err := store.FindDependents(m.store.DB(), name)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var names []string
	for _, d := range deps {
		t, err := store.FindTroveByID(m.store.DB(), d.TroveID)
		if err != nil {
			return nil, err
		}
		if t != nil && !seen[t.Name] {
			seen[t.Name] = true
			names = append(names, t.Name)
		}
	}
	return names, nil
}

// WhatBreaks lists the installed packages that would stop working if name
// were removed, following dependencies transitively.
func (m *Manager) WhatBreaks(name string) ([]string, error) {
	return m.resolver().CheckRemoval(name)
}

// Search finds repository packages whose name or description matches the
// pattern.
func (m *Manager) Search(pattern string) ([]*models.RepositoryPackage, error) {
	return store.SearchRepositoryPackages(m.store.DB(), "%"+strings.Trim(pattern, "%*")+"%")
}

// History lists changesets newest first. A limit of zero lists all.
func (m *Manager) History(limit int) ([]*models.Changeset, error) {
	return store.ListChangesets(m.store.DB(), limit)
}

// DeltaSavings aggregates delta statistics across every update changeset.
func (m *Manager) DeltaSavings() (*models.DeltaStats, error) {
	return store.SumDeltaStats(m.store.DB())
}

func (m *Manager) singleTrove(name string) (*models.Trove, error) {
	troves, err := store.FindTrovesByName(m.store.DB(), name)
	if err != nil {
		return nil, err
	}
	if len(troves) == 0 {
		return nil, errdefs.New(errdefs.KindNotFound, "package %s is not installed", name)
	}
	return troves[0], nil
}
