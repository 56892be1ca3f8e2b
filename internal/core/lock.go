package core

import (
	"fmt"
	"os"

	"github.com/mgiedrius/pakt/internal/errdefs"
)

// lockFile is an advisory lock serializing mutating operations per root.
// Creation with O_EXCL is the acquisition; the file records the holder's pid
// for diagnostics.
type lockFile struct {
	path string
}

func acquireLock(path string) (*lockFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if os.IsExist(err) {
		holder, _ := os.ReadFile(path)
		return nil, errdefs.New(errdefs.KindConflict,
			"another operation is in progress (lock held by %s)", string(holder))
	}
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, err, "acquire lock %s", path)
	}
	fmt.Fprintf(f, "pid %d", os.Getpid())
	f.Close()
	return &lockFile{path: path}, nil
}

func (l *lockFile) release() {
	os.Remove(l.path)
}

// withLock runs fn while holding the root's advisory lock.
func (m *Manager) withLock(fn func() error) error {
	lock, err := acquireLock(statePath(m.rootDir) + ".lock")
	if err != nil {
		return err
	}
	defer lock.release()
	return fn()
}
