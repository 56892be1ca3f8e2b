package core

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/mgiedrius/pakt/internal/cas"
	"github.com/mgiedrius/pakt/internal/errdefs"
	"github.com/mgiedrius/pakt/internal/models"
	"github.com/mgiedrius/pakt/internal/pkgfile"
	"github.com/mgiedrius/pakt/internal/resolver"
	"github.com/mgiedrius/pakt/internal/store"
)

// downloadWorkers bounds parallel package downloads.
const downloadWorkers = 4

// InstallOptions tunes one install request.
type InstallOptions struct {
	// InstallRoot overrides the manager's install root for this operation.
	InstallRoot string

	// Version pins the version when installing by name.
	Version string

	// Repository restricts resolution to one named repository.
	Repository string

	// DryRun validates and resolves without touching any state.
	DryRun bool

	// ForceOrphan overwrites on-disk files no installed trove owns.
	ForceOrphan bool
}

// Install installs a package from a local file path or, when source does not
// look like a package file, by name resolved against the enabled
// repositories. It returns the id of the applied changeset, or zero for a dry
// run.
func (m *Manager) Install(ctx context.Context, source string, opts InstallOptions) (changesetID int64, err error) {
	err = m.withLock(func() error {
		if _, detectErr := pkgfile.Detect(source); detectErr == nil {
			changesetID, err = m.installFile(ctx, source, opts)
		} else {
			changesetID, err = m.installByName(ctx, source, opts)
		}
		return err
	})
	return changesetID, err
}

func (m *Manager) installFile(ctx context.Context, path string, opts InstallOptions) (int64, error) {
	pkg, err := pkgfile.Read(path)
	if err != nil {
		return 0, err
	}
	if err := m.ensureDependencies(ctx, pkg.Name, pkg.Dependencies, opts); err != nil {
		return 0, err
	}
	return m.installPackage(pkg, opts)
}

func (m *Manager) installByName(ctx context.Context, name string, opts InstallOptions) (int64, error) {
	plan, err := m.resolver().PlanInstall(name, opts.Version)
	if err != nil {
		return 0, err
	}
	if !plan.OK() {
		return 0, plan.Err()
	}
	if opts.Repository != "" {
		if err := m.checkRepositoryPin(plan, name, opts.Repository); err != nil {
			return 0, err
		}
	}
	if opts.DryRun {
		for _, pkg := range plan.InstallOrder {
			m.log.Info().Str("package", pkg.Name).Str("version", pkg.Version).Msg("would install")
		}
		return 0, nil
	}
	return m.installPlan(ctx, plan, opts)
}

// checkRepositoryPin verifies the requested package resolved from the named
// repository.
func (m *Manager) checkRepositoryPin(plan *resolver.Plan, name, repoName string) error {
	repo, err := store.FindRepository(m.store.DB(), repoName)
	if err != nil {
		return err
	}
	if repo == nil {
		return errdefs.New(errdefs.KindNotFound, "repository %s is not configured", repoName)
	}
	for _, pkg := range plan.InstallOrder {
		if pkg.Name == name && pkg.RepositoryID != repo.ID {
			return errdefs.New(errdefs.KindNotFound,
				"repository %s does not advertise %s", repoName, name)
		}
	}
	return nil
}

// ensureDependencies resolves and installs the runtime dependencies of a
// local package file that no installed trove satisfies.
func (m *Manager) ensureDependencies(ctx context.Context, selfName string, deps []models.PackageDependency, opts InstallOptions) error {
	installed, err := m.installedVersions()
	if err != nil {
		return err
	}
	depOpts := InstallOptions{InstallRoot: opts.InstallRoot, DryRun: opts.DryRun, ForceOrphan: opts.ForceOrphan}
	for _, dep := range deps {
		if dep.Type != models.DepRuntime || dep.Name == selfName {
			continue
		}
		if v, ok := installed[dep.Name]; ok && resolver.Satisfies(v, dep.Constraint) {
			continue
		}
		plan, err := m.resolver().PlanInstall(dep.Name, "")
		if err != nil {
			return err
		}
		if !plan.OK() {
			return plan.Err()
		}
		if opts.DryRun {
			continue
		}
		if _, err := m.installPlan(ctx, plan, depOpts); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) installedVersions() (map[string]string, error) {
	troves, err := store.ListTroves(m.store.DB(), "")
	if err != nil {
		return nil, err
	}
	versions := make(map[string]string, len(troves))
	for _, t := range troves {
		versions[t.Name] = t.Version
	}
	return versions, nil
}

// installPlan downloads the plan's packages in parallel and installs them
// sequentially, dependencies first. It returns the changeset id of the last
// package, the one the plan was requested for.
func (m *Manager) installPlan(ctx context.Context, plan *resolver.Plan, opts InstallOptions) (int64, error) {
	paths, err := m.downloadPackages(ctx, plan.InstallOrder)
	defer func() {
		for _, p := range paths {
			os.Remove(p)
		}
	}()
	if err != nil {
		return 0, err
	}

	var last int64
	for _, rp := range plan.InstallOrder {
		pkg, err := pkgfile.Read(paths[rp.Name])
		if err != nil {
			return 0, err
		}
		id, err := m.installPackage(pkg, opts)
		if err != nil {
			return 0, err
		}
		last = id
	}
	return last, nil
}

// downloadPackages fetches each package into the scratch directory, verifying
// advertised checksums. Downloads run on a bounded worker pool.
func (m *Manager) downloadPackages(ctx context.Context, pkgs []*models.RepositoryPackage) (map[string]string, error) {
	paths := make(map[string]string, len(pkgs))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, downloadWorkers)
	errCh := make(chan error, len(pkgs))

	for _, pkg := range pkgs {
		wg.Add(1)
		go func(pkg *models.RepositoryPackage) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			dest := filepath.Join(m.tmpDir(), downloadName(pkg))
			expected := ""
			if pkg.ChecksumType == "sha256" {
				expected = pkg.Checksum
			}
			if err := m.fetcher.Download(ctx, pkg.DownloadURL, dest, expected); err != nil {
				errCh <- fmt.Errorf("download %s: %w", pkg.Name, err)
				return
			}
			mu.Lock()
			paths[pkg.Name] = dest
			mu.Unlock()
		}(pkg)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return paths, errs[0]
	}
	return paths, nil
}

func downloadName(pkg *models.RepositoryPackage) string {
	if u, err := url.Parse(pkg.DownloadURL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" {
			return base
		}
	}
	return pkg.Name + "-" + pkg.Version
}

// installPackage runs the changeset state machine for one parsed package:
// validate, mutate the database in a single transaction, deploy, and mark
// applied. Deployment failure compensates the filesystem and discards the
// changeset.
func (m *Manager) installPackage(pkg *pkgfile.Package, opts InstallOptions) (int64, error) {
	upgradeFrom, err := m.findUpgradeTarget(pkg)
	if err != nil {
		return 0, err
	}
	if err := m.checkRuntimeDeps(pkg); err != nil {
		return 0, err
	}

	d := m.deployer(opts.InstallRoot)
	ops, err := m.planFileOps(d, pkg, upgradeFrom, opts.ForceOrphan)
	if err != nil {
		return 0, err
	}
	if opts.DryRun {
		return 0, nil
	}

	// Content goes into the object store before the journal references it.
	for _, f := range pkg.Files {
		hash := hashBytes(f.Data)
		if _, err := m.objects.PutExpected(hash, bytes.NewReader(f.Data)); err != nil {
			return 0, err
		}
	}
	for i := range ops {
		if ops[i].oldHash != "" {
			ops[i].oldHash, err = m.ensureOldContent(d, ops[i].path, ops[i].oldHash)
			if err != nil {
				return 0, err
			}
		}
	}

	var snapshot *troveSnapshot
	if upgradeFrom != nil {
		if snapshot, err = m.snapshotTrove(upgradeFrom.ID); err != nil {
			return 0, err
		}
	}

	desc := fmt.Sprintf("install %s-%s", pkg.Name, pkg.Version)
	if upgradeFrom != nil {
		desc = fmt.Sprintf("upgrade %s %s -> %s", pkg.Name, upgradeFrom.Version, pkg.Version)
	}

	var changesetID, troveID int64
	err = m.store.WithTx(func(tx *sql.Tx) error {
		changesetID, err = store.CreateChangeset(tx, desc)
		if err != nil {
			return err
		}
		if upgradeFrom != nil {
			if err := store.DeleteTrove(tx, upgradeFrom.ID); err != nil {
				return err
			}
		}
		troveID, err = m.insertTroveRows(tx, pkg, changesetID, ops)
		if err != nil {
			return err
		}
		for _, op := range ops {
			if err := store.InsertFileHistory(tx, op.historyEntry(changesetID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, errdefs.Wrap(errdefs.KindStorage, err, "record changeset")
	}

	done, err := applyFiles(d, ops)
	if err != nil {
		m.compensateFiles(d, ops, done)
		m.discardChangeset(changesetID, troveID, snapshot)
		return 0, errdefs.Wrap(errdefs.KindStorage, err, "deploy %s", pkg.Name)
	}
	if err := store.MarkChangesetApplied(m.store.DB(), changesetID, time.Now()); err != nil {
		return 0, err
	}

	m.log.Info().Str("package", pkg.Name).Str("version", pkg.Version).
		Int64("changeset", changesetID).Msg("installed")
	return changesetID, nil
}

// findUpgradeTarget locates the installed trove the package replaces.
// Identical versions and downgrades are refused.
func (m *Manager) findUpgradeTarget(pkg *pkgfile.Package) (*models.Trove, error) {
	existing, err := store.FindTrovesByName(m.store.DB(), pkg.Name)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		return nil, nil
	}
	if len(existing) > 1 {
		return nil, errdefs.New(errdefs.KindConflict,
			"%s is installed %d times, cannot determine upgrade target", pkg.Name, len(existing))
	}
	current := existing[0]
	switch cmp := resolver.CompareVersions(pkg.Version, current.Version); {
	case cmp == 0:
		return nil, errdefs.New(errdefs.KindAlreadyExists,
			"%s %s is already installed", pkg.Name, current.Version)
	case cmp < 0:
		return nil, errdefs.New(errdefs.KindConflict,
			"installed %s %s is newer than %s", pkg.Name, current.Version, pkg.Version)
	}
	return current, nil
}

// checkRuntimeDeps verifies every runtime dependency is satisfied by an
// installed trove. Optional and build dependencies never block an install.
func (m *Manager) checkRuntimeDeps(pkg *pkgfile.Package) error {
	installed, err := m.installedVersions()
	if err != nil {
		return err
	}
	var missing []string
	for _, dep := range pkg.Dependencies {
		if dep.Type != models.DepRuntime || dep.Name == pkg.Name {
			continue
		}
		if v, ok := installed[dep.Name]; !ok || !resolver.Satisfies(v, dep.Constraint) {
			missing = append(missing, dep.Name)
		}
	}
	if len(missing) > 0 {
		return errdefs.New(errdefs.KindDependencyMissing,
			"missing dependencies: %v", missing)
	}
	return nil
}

// planFileOps classifies every file the package carries against current
// ownership: unowned paths are adds, paths owned by the trove being upgraded
// are modifies, paths owned by anything else conflict. On-disk files no
// trove owns abort unless forced, in which case the pre-image is captured so
// the overwrite stays reversible. For upgrades, files the new version no
// longer carries become deletes.
func (m *Manager) planFileOps(d *cas.Deployer, pkg *pkgfile.Package, upgradeFrom *models.Trove, forceOrphan bool) ([]fileOp, error) {
	var ops []fileOp
	newPaths := make(map[string]bool, len(pkg.Files))

	for _, f := range pkg.Files {
		newPaths[f.Path] = true
		op := fileOp{
			path:    f.Path,
			action:  models.FileAdd,
			newHash: hashBytes(f.Data),
			mode:    f.Mode,
			size:    f.Size,
			owner:   f.Owner,
			group:   f.Group,
		}

		owner, err := store.FindFileByPath(m.store.DB(), f.Path)
		if err != nil {
			return nil, err
		}
		switch {
		case owner == nil:
			exists, err := d.Exists(f.Path)
			if err != nil {
				return nil, err
			}
			if exists {
				if !forceOrphan {
					return nil, errdefs.New(errdefs.KindConflict,
						"%s exists on disk but no installed package owns it", f.Path)
				}
				hash, _, err := d.Capture(f.Path)
				if err != nil {
					return nil, err
				}
				op.action = models.FileModify
				op.oldHash = hash
			}
		case upgradeFrom != nil && owner.TroveID == upgradeFrom.ID:
			op.action = models.FileModify
			op.oldHash = owner.SHA256
		default:
			ownerTrove, err := store.FindTroveByID(m.store.DB(), owner.TroveID)
			if err != nil {
				return nil, err
			}
			ownerName := "another package"
			if ownerTrove != nil {
				ownerName = ownerTrove.Spec()
			}
			return nil, errdefs.New(errdefs.KindConflict,
				"%s is owned by %s", f.Path, ownerName)
		}
		ops = append(ops, op)
	}

	if upgradeFrom != nil {
		oldFiles, err := store.FilesForTrove(m.store.DB(), upgradeFrom.ID)
		if err != nil {
			return nil, err
		}
		for _, f := range oldFiles {
			if newPaths[f.Path] {
				continue
			}
			ops = append(ops, fileOp{
				path:    f.Path,
				action:  models.FileDelete,
				oldHash: f.SHA256,
				mode:    f.Mode,
			})
		}
	}
	return ops, nil
}

// ensureOldContent guarantees the pre-image of a modified or deleted file is
// in the object store so compensation and rollback can restore it. When the
// recorded hash has no object, the current disk content is captured instead.
func (m *Manager) ensureOldContent(d *cas.Deployer, path, recordedHash string) (string, error) {
	ok, err := m.objects.Has(recordedHash)
	if err != nil {
		return "", err
	}
	if ok {
		return recordedHash, nil
	}
	hash, _, err := d.Capture(path)
	if err != nil {
		return "", err
	}
	return hash, nil
}

// insertTroveRows writes the trove and everything hanging off it: file
// records, dependencies, flavors, provenance, and content-object index rows.
func (m *Manager) insertTroveRows(tx *sql.Tx, pkg *pkgfile.Package, changesetID int64, ops []fileOp) (int64, error) {
	trove := &models.Trove{
		Name:         pkg.Name,
		Version:      pkg.Version,
		Type:         models.TrovePackage,
		Architecture: pkg.Architecture,
		Description:  pkg.Description,
		ChangesetID:  changesetID,
	}
	troveID, err := store.InsertTrove(tx, trove)
	if err != nil {
		return 0, err
	}

	for _, op := range ops {
		if op.action == models.FileDelete {
			continue
		}
		if err := store.InsertFileRecord(tx, &models.FileRecord{
			TroveID: troveID,
			Path:    op.path,
			SHA256:  op.newHash,
			Size:    op.size,
			Mode:    op.mode,
			Owner:   op.owner,
			Group:   op.group,
		}); err != nil {
			return 0, err
		}
		if err := store.UpsertContentObject(tx, &models.ContentObject{
			SHA256:      op.newHash,
			ContentPath: cas.ObjectPath(op.newHash),
			Size:        op.size,
		}); err != nil {
			return 0, err
		}
	}

	for _, dep := range pkg.Dependencies {
		if err := store.InsertDependency(tx, &models.Dependency{
			TroveID:     troveID,
			Name:        dep.Name,
			Constraint:  dep.Constraint,
			Type:        dep.Type,
			Description: dep.Description,
		}); err != nil {
			return 0, err
		}
	}

	if err := store.SetFlavor(tx, troveID, "format", string(pkg.Format)); err != nil {
		return 0, err
	}
	if pkg.URL != "" || pkg.Vendor != "" || pkg.License != "" {
		if err := store.SetProvenance(tx, &models.Provenance{
			TroveID:   troveID,
			SourceURL: pkg.URL,
			Vendor:    pkg.Vendor,
			License:   pkg.License,
		}); err != nil {
			return 0, err
		}
	}
	return troveID, nil
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
