package pkgfile

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cavaliergopher/cpio"
	"github.com/cavaliergopher/rpm"

	"github.com/mgiedrius/pakt/internal/models"
)

// ReadRPM parses an RPM package: metadata from the header, file contents
// from the compressed cpio payload.
func ReadRPM(path string) (*Package, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rpm %s: %w", path, err)
	}
	defer f.Close()

	// rpm.Read consumes the lead and header sections, leaving f positioned
	// at the start of the payload.
	hdr, err := rpm.Read(f)
	if err != nil {
		return nil, fmt.Errorf("parse rpm %s: %w", path, err)
	}
	if format := hdr.PayloadFormat(); format != "cpio" {
		return nil, fmt.Errorf("unsupported rpm payload format %q", format)
	}

	version := hdr.Version()
	if rel := hdr.Release(); rel != "" {
		version += "-" + rel
	}
	if epoch := hdr.Epoch(); epoch != 0 {
		version = fmt.Sprintf("%d:%s", epoch, version)
	}

	pkg := &Package{
		Format:       FormatRPM,
		Name:         hdr.Name(),
		Version:      version,
		Architecture: hdr.Architecture(),
		Description:  hdr.Summary(),
		License:      hdr.License(),
		Vendor:       hdr.Vendor(),
		URL:          hdr.URL(),
		Dependencies: rpmDependencies(hdr),
	}

	payload, closePayload, err := Decompress(hdr.PayloadCompression(), f)
	if err != nil {
		return nil, fmt.Errorf("rpm payload: %w", err)
	}
	defer closePayload()

	cr := cpio.NewReader(payload)
	for {
		entry, err := cr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read rpm payload: %w", err)
		}
		if !entry.Mode.IsRegular() {
			continue
		}
		data, err := io.ReadAll(cr)
		if err != nil {
			return nil, fmt.Errorf("read rpm payload entry %s: %w", entry.Name, err)
		}
		pkg.Files = append(pkg.Files, File{
			Path: normalizeArchivePath(entry.Name),
			Mode: int64(entry.Mode.Perm()),
			Size: entry.Size,
			Data: data,
		})
	}
	return pkg, nil
}

// rpmDependencies converts header requires to wire dependencies, dropping
// rpmlib() capabilities and file-path requires the way rpm tooling does.
func rpmDependencies(hdr *rpm.Package) []models.PackageDependency {
	var deps []models.PackageDependency
	for _, req := range hdr.Requires() {
		name := req.Name()
		if strings.HasPrefix(name, "rpmlib(") || strings.HasPrefix(name, "/") {
			continue
		}
		deps = append(deps, models.PackageDependency{
			Name:       name,
			Constraint: rpmConstraint(req.Flags(), req.Version()),
			Type:       models.DepRuntime,
		})
	}
	return deps
}

// rpmConstraint renders a dependency's flags and version as an operator
// string, empty when the requirement is unversioned.
func rpmConstraint(flags int, version string) string {
	if version == "" {
		return ""
	}
	var op string
	switch {
	case flags&rpm.DepFlagLesser != 0 && flags&rpm.DepFlagEqual != 0:
		op = "<="
	case flags&rpm.DepFlagGreater != 0 && flags&rpm.DepFlagEqual != 0:
		op = ">="
	case flags&rpm.DepFlagLesser != 0:
		op = "<"
	case flags&rpm.DepFlagGreater != 0:
		op = ">"
	case flags&rpm.DepFlagEqual != 0:
		op = "="
	default:
		return ""
	}
	return op + " " + version
}

// normalizeArchivePath turns archive member names like "./usr/bin/x" into
// absolute tracked paths.
func normalizeArchivePath(name string) string {
	name = strings.TrimPrefix(name, ".")
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	return name
}
