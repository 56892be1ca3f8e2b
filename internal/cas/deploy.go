package cas

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mgiedrius/pakt/internal/errdefs"
)

// Deployer materializes content objects into the live filesystem. All target
// paths are interpreted relative to the install root, so tests and staged
// installs can run against a scratch directory.
type Deployer struct {
	objects *Store
	root    string
}

// NewDeployer creates a deployer that writes under the given install root.
func NewDeployer(objects *Store, root string) *Deployer {
	return &Deployer{objects: objects, root: root}
}

// TargetPath resolves an absolute tracked path against the install root.
func (d *Deployer) TargetPath(path string) string {
	return filepath.Join(d.root, path)
}

// Deploy writes the object's content to the target path with the given mode,
// using a temp file and rename so a crash never leaves a half-written file.
func (d *Deployer) Deploy(hash, path string, mode os.FileMode) error {
	src, err := d.objects.Open(hash)
	if err != nil {
		return err
	}
	defer src.Close()

	target := d.TargetPath(path)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".pakt-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", target, err)
	}
	if err := os.Chmod(tmpPath, mode.Perm()); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod %s: %w", target, err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into place %s: %w", target, err)
	}
	return nil
}

// Remove deletes a deployed file. Missing files are not an error so removal
// stays idempotent across interrupted changesets. Emptied parent directories
// are pruned up to the install root.
func (d *Deployer) Remove(path string) error {
	target := d.TargetPath(path)
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", target, err)
	}
	d.pruneEmptyDirs(filepath.Dir(target))
	return nil
}

func (d *Deployer) pruneEmptyDirs(dir string) {
	root := filepath.Clean(d.root)
	for dir != root && len(dir) > len(root) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// Capture stores the current content of a deployed file into the object
// store, returning its hash and size. Used to preserve the pre-image of a
// file before a changeset overwrites it.
func (d *Deployer) Capture(path string) (string, int64, error) {
	return d.objects.PutFile(d.TargetPath(path))
}

// Verify compares a deployed file against its expected hash. It returns an
// errdefs.KindIntegrity error when the file is missing or its content has
// drifted, nil when the file matches.
func (d *Deployer) Verify(path, expectedHash string) error {
	target := d.TargetPath(path)
	actual, _, err := HashFile(target)
	if os.IsNotExist(err) {
		return errdefs.New(errdefs.KindIntegrity, "file %s is missing", path)
	}
	if err != nil {
		return fmt.Errorf("hash %s: %w", target, err)
	}
	if actual != expectedHash {
		return errdefs.New(errdefs.KindIntegrity, "file %s is modified", path)
	}
	return nil
}

// Exists reports whether a path already exists under the install root.
func (d *Deployer) Exists(path string) (bool, error) {
	_, err := os.Stat(d.TargetPath(path))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
