package pkgfile

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mgiedrius/pakt/internal/models"
)

// archMetaFiles are pacman bookkeeping entries that never land on disk.
var archMetaFiles = map[string]bool{
	".PKGINFO":   true,
	".MTREE":     true,
	".BUILDINFO": true,
	".INSTALL":   true,
}

// ReadArch parses an Arch package: a compressed tar whose .PKGINFO member
// carries metadata as repeated key = value lines.
func ReadArch(path string) (*Package, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open arch package %s: %w", path, err)
	}
	defer f.Close()

	r, closeR, err := Decompress(tarCompression(path), f)
	if err != nil {
		return nil, fmt.Errorf("arch package %s: %w", path, err)
	}
	defer closeR()

	pkg := &Package{Format: FormatArch}
	var sawInfo bool

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read arch package %s: %w", path, err)
		}
		name := strings.TrimPrefix(hdr.Name, "./")
		if name == ".PKGINFO" {
			content, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("read .PKGINFO: %w", err)
			}
			parsePkgInfo(pkg, string(content))
			sawInfo = true
			continue
		}
		if hdr.Typeflag != tar.TypeReg || archMetaFiles[name] {
			continue
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read arch entry %s: %w", hdr.Name, err)
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

	if !sawInfo {
		return nil, fmt.Errorf("arch package %s has no .PKGINFO", path)
	}
	if pkg.Name == "" || pkg.Version == "" {
		return nil, fmt.Errorf("arch package %s: .PKGINFO missing pkgname or pkgver", path)
	}
	return pkg, nil
}

func parsePkgInfo(pkg *Package, content string) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "pkgname":
			pkg.Name = value
		case "pkgver":
			pkg.Version = value
		case "pkgdesc":
			pkg.Description = value
		case "arch":
			pkg.Architecture = value
		case "url":
			pkg.URL = value
		case "packager":
			pkg.Vendor = value
		case "license":
			if pkg.License == "" {
				pkg.License = value
			}
		case "depend":
			pkg.Dependencies = append(pkg.Dependencies, ParseArchDependency(value, models.DepRuntime))
		case "optdepend":
			pkg.Dependencies = append(pkg.Dependencies, ParseArchDependency(value, models.DepOptional))
		case "makedepend":
			pkg.Dependencies = append(pkg.Dependencies, ParseArchDependency(value, models.DepBuild))
		}
	}
}

// ParseArchDependency parses "glibc>=2.34", and for optional dependencies the
// "package: why you would want it" form.
func ParseArchDependency(value string, typ models.DependencyType) models.PackageDependency {
	dep := models.PackageDependency{Type: typ}
	if typ == models.DepOptional {
		if name, desc, ok := strings.Cut(value, ":"); ok {
			value = strings.TrimSpace(name)
			dep.Description = strings.TrimSpace(desc)
		}
	}
	if pos := strings.IndexAny(value, "><="); pos >= 0 {
		dep.Name = strings.TrimSpace(value[:pos])
		dep.Constraint = strings.TrimSpace(value[pos:])
	} else {
		dep.Name = strings.TrimSpace(value)
	}
	return dep
}
