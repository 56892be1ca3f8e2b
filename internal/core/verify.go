package core

import (
	"os"

	"github.com/mgiedrius/pakt/internal/cas"
	"github.com/mgiedrius/pakt/internal/errdefs"
	"github.com/mgiedrius/pakt/internal/models"
	"github.com/mgiedrius/pakt/internal/store"
)

// VerifyStatus classifies one file's reconciliation outcome.
type VerifyStatus string

const (
	VerifyOK       VerifyStatus = "ok"
	VerifyModified VerifyStatus = "modified"
	VerifyMissing  VerifyStatus = "missing"
)

// VerifyResult is the outcome for one tracked file.
type VerifyResult struct {
	Path   string
	Trove  string
	Status VerifyStatus
}

// VerifyReport summarizes a verification run.
type VerifyReport struct {
	Results  []VerifyResult
	OK       int
	Modified int
	Missing  int
}

// Clean reports whether every file matched its recorded hash.
func (r *VerifyReport) Clean() bool {
	return r.Modified == 0 && r.Missing == 0
}

// Verify reconciles the installed filesystem against the file records of the
// named package, or of everything installed when name is empty.
func (m *Manager) Verify(name string) (*VerifyReport, error) {
	var files []*models.FileRecord
	troveNames := make(map[int64]string)

	if name != "" {
		troves, err := store.FindTrovesByName(m.store.DB(), name)
		if err != nil {
			return nil, err
		}
		if len(troves) == 0 {
			return nil, errdefs.New(errdefs.KindNotFound, "package %s is not installed", name)
		}
		for _, t := range troves {
			troveNames[t.ID] = t.Name
			fs, err := store.FilesForTrove(m.store.DB(), t.ID)
			if err != nil {
				return nil, err
			}
			files = append(files, fs...)
		}
	} else {
		troves, err := store.ListTroves(m.store.DB(), "")
		if err != nil {
			return nil, err
		}
		for _, t := range troves {
			troveNames[t.ID] = t.Name
		}
		if files, err = store.ListFiles(m.store.DB()); err != nil {
			return nil, err
		}
	}

	d := m.deployer("")
	report := &VerifyReport{}
	for _, f := range files {
		status, err := m.verifyFile(d, f)
		if err != nil {
			return nil, err
		}
		switch status {
		case VerifyOK:
			report.OK++
		case VerifyModified:
			report.Modified++
		case VerifyMissing:
			report.Missing++
		}
		report.Results = append(report.Results, VerifyResult{
			Path:   f.Path,
			Trove:  troveNames[f.TroveID],
			Status: status,
		})
	}
	return report, nil
}

func (m *Manager) verifyFile(d *cas.Deployer, f *models.FileRecord) (VerifyStatus, error) {
	actual, _, err := cas.HashFile(d.TargetPath(f.Path))
	if os.IsNotExist(err) {
		return VerifyMissing, nil
	}
	if err != nil {
		return "", errdefs.Wrap(errdefs.KindStorage, err, "hash %s", f.Path)
	}
	if actual != f.SHA256 {
		return VerifyModified, nil
	}
	return VerifyOK, nil
}
