package pkgfile

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/blakesmith/ar"

	"github.com/mgiedrius/pakt/internal/models"
)

// ReadDeb parses a Debian package: an ar archive carrying control.tar.* with
// package metadata and data.tar.* with the file payload.
func ReadDeb(path string) (*Package, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open deb %s: %w", path, err)
	}
	defer f.Close()

	var controlTar, dataTar []byte
	var controlComp, dataComp string

	rdr := ar.NewReader(f)
	for {
		hdr, err := rdr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read deb archive %s: %w", path, err)
		}
		name := strings.TrimRight(strings.TrimSpace(hdr.Name), "/")
		switch {
		case strings.HasPrefix(name, "control.tar"):
			controlTar, err = io.ReadAll(rdr)
			controlComp = tarCompression(name)
		case strings.HasPrefix(name, "data.tar"):
			dataTar, err = io.ReadAll(rdr)
			dataComp = tarCompression(name)
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read deb member %s: %w", name, err)
		}
	}
	if controlTar == nil {
		return nil, fmt.Errorf("deb %s has no control.tar member", path)
	}
	if dataTar == nil {
		return nil, fmt.Errorf("deb %s has no data.tar member", path)
	}

	pkg, err := parseDebControl(controlTar, controlComp)
	if err != nil {
		return nil, fmt.Errorf("deb %s: %w", path, err)
	}
	if err := readDebData(pkg, dataTar, dataComp); err != nil {
		return nil, fmt.Errorf("deb %s: %w", path, err)
	}
	return pkg, nil
}

// tarCompression maps a member name like data.tar.xz to its scheme.
func tarCompression(name string) string {
	switch {
	case strings.HasSuffix(name, ".gz"):
		return "gzip"
	case strings.HasSuffix(name, ".xz"):
		return "xz"
	case strings.HasSuffix(name, ".zst"):
		return "zstd"
	}
	return ""
}

func parseDebControl(data []byte, compression string) (*Package, error) {
	r, closeR, err := Decompress(compression, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer closeR()

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read control.tar: %w", err)
		}
		name := strings.TrimPrefix(hdr.Name, "./")
		if name != "control" {
			continue
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read control file: %w", err)
		}
		return parseControlFields(string(content))
	}
	return nil, fmt.Errorf("control.tar has no control file")
}

// parseControlFields parses RFC822-style control stanzas. Continuation lines
// begin with whitespace and attach to the preceding field.
func parseControlFields(content string) (*Package, error) {
	pkg := &Package{Format: FormatDeb}

	apply := func(field, value string) {
		switch field {
		case "Package":
			pkg.Name = value
		case "Version":
			pkg.Version = value
		case "Architecture":
			pkg.Architecture = value
		case "Description":
			// Short description is the first line.
			if i := strings.IndexByte(value, '\n'); i >= 0 {
				value = value[:i]
			}
			pkg.Description = value
		case "Homepage":
			pkg.URL = value
		case "Maintainer":
			pkg.Vendor = value
		case "Depends":
			pkg.Dependencies = append(pkg.Dependencies, ParseDebDependencies(value, models.DepRuntime)...)
		case "Recommends", "Suggests":
			pkg.Dependencies = append(pkg.Dependencies, ParseDebDependencies(value, models.DepOptional)...)
		case "Build-Depends":
			pkg.Dependencies = append(pkg.Dependencies, ParseDebDependencies(value, models.DepBuild)...)
		}
	}

	var field, value string
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			if field != "" {
				value += "\n" + strings.TrimSpace(line)
			}
			continue
		}
		if f, v, ok := strings.Cut(line, ":"); ok {
			if field != "" {
				apply(field, value)
			}
			field = strings.TrimSpace(f)
			value = strings.TrimSpace(v)
		}
	}
	if field != "" {
		apply(field, value)
	}

	if pkg.Name == "" || pkg.Version == "" {
		return nil, fmt.Errorf("control file missing Package or Version")
	}
	return pkg, nil
}

// ParseDebDependencies parses a comma-separated dependency field. For
// alternative groups (a | b) the first alternative wins.
func ParseDebDependencies(value string, typ models.DependencyType) []models.PackageDependency {
	var deps []models.PackageDependency
	for _, raw := range strings.Split(value, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		first, _, _ := strings.Cut(raw, "|")
		name, constraint := splitDebConstraint(strings.TrimSpace(first))
		if name == "" {
			continue
		}
		deps = append(deps, models.PackageDependency{
			Name:       name,
			Constraint: constraint,
			Type:       typ,
		})
	}
	return deps
}

// splitDebConstraint splits "pkg (>= 1.0)" into name and constraint.
func splitDebConstraint(dep string) (string, string) {
	open := strings.IndexByte(dep, '(')
	if open < 0 {
		return dep, ""
	}
	end := strings.IndexByte(dep, ')')
	if end < open {
		return strings.TrimSpace(dep[:open]), ""
	}
	return strings.TrimSpace(dep[:open]), strings.TrimSpace(dep[open+1 : end])
}

func readDebData(pkg *Package, data []byte, compression string) error {
	r, closeR, err := Decompress(compression, bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer closeR()

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read data.tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return fmt.Errorf("read data.tar entry %s: %w", hdr.Name, err)
		}
		pkg.Files = append(pkg.Files, File{
			Path:  normalizeArchivePath(hdr.Name),
			Mode:  hdr.Mode & 0o7777,
			Size:  hdr.Size,
			Owner: hdr.Uname,
			Group: hdr.Gname,
			Data:  content,
		})
	}
}
