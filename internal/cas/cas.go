// Package cas implements the content-addressed object store. File bodies are
// stored once per SHA256 under objects/<2-hex>/<62-hex>; the state store's
// file_contents table indexes them.
package cas

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mgiedrius/pakt/internal/errdefs"
)

// validHash matches a lowercase hex-encoded SHA256 hash (64 characters).
var validHash = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Store is a filesystem-backed content-addressed object store. Objects are
// keyed by the SHA256 of their content, using the first two hash characters
// as a prefix directory.
type Store struct {
	root string
}

// New creates an object store rooted at the given directory.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create object root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the store's base directory.
func (s *Store) Root() string {
	return s.root
}

// ObjectPath returns the path of an object relative to the store root.
func ObjectPath(hash string) string {
	return filepath.Join("objects", hash[:2], hash[2:])
}

func (s *Store) objectPath(hash string) string {
	return filepath.Join(s.root, ObjectPath(hash))
}

// Has checks whether an object exists.
func (s *Store) Has(hash string) (bool, error) {
	if !validHash.MatchString(hash) {
		return false, nil
	}
	_, err := os.Stat(s.objectPath(hash))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat object %s: %w", hash, err)
	}
	return true, nil
}

// Put stores the bytes read from r and returns their hash and size.
// Idempotent: storing content that already exists is a no-op.
func (s *Store) Put(r io.Reader) (string, int64, error) {
	tmp, err := os.CreateTemp(s.root, ".obj-*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp object: %w", err)
	}
	tmpPath := tmp.Name()

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("write object data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("close temp object: %w", err)
	}

	hash := hex.EncodeToString(hasher.Sum(nil))
	if err := s.commit(tmpPath, hash); err != nil {
		return "", 0, err
	}
	return hash, size, nil
}

// PutExpected stores the bytes read from r, verifying they hash to expected.
// Returns the stored size, or errdefs.ErrChecksumMismatch when the content
// does not match.
func (s *Store) PutExpected(expected string, r io.Reader) (int64, error) {
	if !validHash.MatchString(expected) {
		return 0, errdefs.New(errdefs.KindInvalidUsage, "invalid object hash %q", expected)
	}
	if ok, err := s.Has(expected); err != nil {
		return 0, err
	} else if ok {
		// Drain so callers streaming from an archive stay positioned.
		return io.Copy(io.Discard, r)
	}

	tmp, err := os.CreateTemp(s.root, ".obj-*")
	if err != nil {
		return 0, fmt.Errorf("create temp object: %w", err)
	}
	tmpPath := tmp.Name()

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("write object data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("close temp object: %w", err)
	}

	computed := hex.EncodeToString(hasher.Sum(nil))
	if computed != expected {
		os.Remove(tmpPath)
		return 0, errdefs.New(errdefs.KindChecksumMismatch,
			"object content hashed to %s, expected %s", computed, expected)
	}
	if err := s.commit(tmpPath, expected); err != nil {
		return 0, err
	}
	return size, nil
}

// PutFile stores the contents of an existing file, returning hash and size.
func (s *Store) PutFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return s.Put(f)
}

// commit moves a fully written temp file into its content address.
func (s *Store) commit(tmpPath, hash string) error {
	objPath := s.objectPath(hash)
	if _, err := os.Stat(objPath); err == nil {
		os.Remove(tmpPath)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(objPath), 0o755); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("create object dir: %w", err)
	}
	if err := os.Rename(tmpPath, objPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename object: %w", err)
	}
	return nil
}

// Open opens an object for reading. Returns errdefs.ErrNotFound when the
// object is absent.
func (s *Store) Open(hash string) (io.ReadCloser, error) {
	if !validHash.MatchString(hash) {
		return nil, errdefs.New(errdefs.KindNotFound, "invalid object hash %q", hash)
	}
	f, err := os.Open(s.objectPath(hash))
	if os.IsNotExist(err) {
		return nil, errdefs.New(errdefs.KindNotFound, "object %s not in store", hash)
	}
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", hash, err)
	}
	return f, nil
}

// Delete removes an object. Missing objects are not an error.
func (s *Store) Delete(hash string) error {
	if !validHash.MatchString(hash) {
		return nil
	}
	err := os.Remove(s.objectPath(hash))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object %s: %w", hash, err)
	}
	return nil
}

// ListHashes returns every object hash in the store.
func (s *Store) ListHashes() ([]string, error) {
	var hashes []string
	objRoot := filepath.Join(s.root, "objects")
	err := filepath.Walk(objRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == objRoot {
				return filepath.SkipAll
			}
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(objRoot, path)
		if err != nil {
			return nil
		}
		parts := strings.Split(rel, string(filepath.Separator))
		if len(parts) == 2 && validHash.MatchString(parts[0]+parts[1]) {
			hashes = append(hashes, parts[0]+parts[1])
		}
		return nil
	})
	return hashes, err
}

// HashReader computes the SHA256 of everything in r.
func HashReader(r io.Reader) (string, int64, error) {
	hasher := sha256.New()
	n, err := io.Copy(hasher, r)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(hasher.Sum(nil)), n, nil
}

// HashFile computes the SHA256 of a file on disk.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	return HashReader(f)
}
