package core

import (
	"github.com/mgiedrius/pakt/internal/store"
)

// Clean deletes content objects nothing references any more: no live file
// record and no changeset journal entry. Returns the number of bytes
// reclaimed.
func (m *Manager) Clean() (reclaimed int64, err error) {
	err = m.withLock(func() error {
		objs, err := store.ListUnreferencedObjects(m.store.DB())
		if err != nil {
			return err
		}
		for _, o := range objs {
			if err := m.objects.Delete(o.SHA256); err != nil {
				return err
			}
			if err := store.DeleteContentObject(m.store.DB(), o.SHA256); err != nil {
				return err
			}
			reclaimed += o.Size
		}
		if len(objs) > 0 {
			m.log.Info().Int("objects", len(objs)).Int64("bytes", reclaimed).Msg("cleaned object store")
		}
		return nil
	})
	return reclaimed, err
}
