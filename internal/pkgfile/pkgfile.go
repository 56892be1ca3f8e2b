// Package pkgfile reads package archives in RPM, Debian, and Arch formats
// and normalizes them into one metadata-plus-contents shape.
package pkgfile

import (
	"strings"

	"github.com/mgiedrius/pakt/internal/errdefs"
	"github.com/mgiedrius/pakt/internal/models"
)

// Format identifies a supported package file format.
type Format string

const (
	FormatRPM  Format = "rpm"
	FormatDeb  Format = "deb"
	FormatArch Format = "arch"
)

// File is one regular file carried by a package archive.
type File struct {
	Path  string
	Mode  int64
	Size  int64
	Owner string
	Group string
	Data  []byte
}

// Package is the normalized result of reading a package archive. Only regular
// files are carried; directories and special entries are dropped during read.
type Package struct {
	Format       Format
	Name         string
	Version      string
	Architecture string
	Description  string
	License      string
	Vendor       string
	URL          string
	Dependencies []models.PackageDependency
	Files        []File
}

// Detect determines the package format from a filename.
func Detect(name string) (Format, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".rpm"):
		return FormatRPM, nil
	case strings.HasSuffix(lower, ".deb"):
		return FormatDeb, nil
	case strings.HasSuffix(lower, ".pkg.tar.zst"),
		strings.HasSuffix(lower, ".pkg.tar.xz"),
		strings.HasSuffix(lower, ".pkg.tar.gz"):
		return FormatArch, nil
	}
	return "", errdefs.New(errdefs.KindInvalidUsage, "unrecognized package format: %s", name)
}

// Read detects the format of a package file and parses it.
func Read(path string) (*Package, error) {
	format, err := Detect(path)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatRPM:
		return ReadRPM(path)
	case FormatDeb:
		return ReadDeb(path)
	default:
		return ReadArch(path)
	}
}
