package repository

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mgiedrius/pakt/internal/errdefs"
	"github.com/mgiedrius/pakt/internal/models"
	"github.com/mgiedrius/pakt/internal/pkgfile"
	"github.com/mgiedrius/pakt/internal/store"
)

// DebianParser reads apt-style metadata: a Packages index of RFC822 stanzas
// under dists/<distribution>/<component>/binary-<architecture>/.
type DebianParser struct {
	Distribution string
	Component    string
	Architecture string
}

func (p *DebianParser) Name() string { return "debian" }

// packagesIndexVariants lists the index filenames to probe, preferred first.
var packagesIndexVariants = []struct {
	name        string
	compression string
}{
	{"Packages.gz", "gzip"},
	{"Packages.xz", "xz"},
	{"Packages", ""},
}

func (p *DebianParser) Fetch(ctx context.Context, f *Fetcher, baseURL string) (*Catalog, error) {
	dist := p.Distribution
	if dist == "" {
		dist = "stable"
	}
	component := p.Component
	if component == "" {
		component = "main"
	}
	arch := p.Architecture
	if arch == "" {
		arch = "amd64"
	}

	indexDir := fmt.Sprintf("dists/%s/%s/binary-%s", dist, component, arch)
	var lastErr error
	for _, variant := range packagesIndexVariants {
		raw, err := f.Get(ctx, joinURL(baseURL, indexDir+"/"+variant.name))
		if err != nil {
			if errors.Is(err, errdefs.ErrNotFound) {
				lastErr = err
				continue
			}
			return nil, err
		}
		r, closeR, err := pkgfile.Decompress(variant.compression, bytes.NewReader(raw))
		if err != nil {
			return nil, errdefs.Wrap(errdefs.KindInvalidUsage, err, "decompress %s", variant.name)
		}
		defer closeR()

		packages, err := parsePackagesIndex(r, baseURL, dist, component)
		if err != nil {
			return nil, err
		}
		return &Catalog{Packages: packages}, nil
	}
	return nil, errdefs.Wrap(errdefs.KindNotFound, lastErr,
		"no Packages index under %s", joinURL(baseURL, indexDir))
}

// parsePackagesIndex streams stanzas separated by blank lines. Continuation
// lines begin with whitespace and attach to the preceding field.
func parsePackagesIndex(r io.Reader, baseURL, dist, component string) ([]*models.RepositoryPackage, error) {
	var packages []*models.RepositoryPackage

	fields := make(map[string]string)
	var field string
	flush := func() error {
		if len(fields) == 0 {
			return nil
		}
		pkg, err := stanzaToPackage(fields, baseURL, dist, component)
		if err != nil {
			return err
		}
		if pkg != nil {
			packages = append(packages, pkg)
		}
		fields = make(map[string]string)
		field = ""
		return nil
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			if field != "" {
				fields[field] += "\n" + strings.TrimSpace(line)
			}
			continue
		}
		f, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		field = strings.TrimSpace(f)
		fields[field] = strings.TrimSpace(v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read Packages index: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return packages, nil
}

// stanzaToPackage converts one Packages stanza. Stanzas missing any of the
// fields needed to download and verify the package are skipped, not fatal:
// real mirrors carry the odd incomplete entry.
func stanzaToPackage(fields map[string]string, baseURL, dist, component string) (*models.RepositoryPackage, error) {
	name := fields["Package"]
	version := fields["Version"]
	filename := fields["Filename"]
	checksum := fields["SHA256"]
	if name == "" || version == "" || filename == "" || checksum == "" {
		return nil, nil
	}
	size, err := strconv.ParseInt(fields["Size"], 10, 64)
	if err != nil {
		return nil, nil
	}

	var deps []models.PackageDependency
	deps = append(deps, pkgfile.ParseDebDependencies(fields["Depends"], models.DepRuntime)...)
	deps = append(deps, pkgfile.ParseDebDependencies(fields["Recommends"], models.DepOptional)...)
	encoded, err := store.EncodeDependencies(deps)
	if err != nil {
		return nil, err
	}

	description := fields["Description"]
	if i := strings.IndexByte(description, '\n'); i >= 0 {
		description = description[:i]
	}

	metadata := map[string]any{
		"format":       "deb",
		"distribution": dist,
		"component":    component,
	}
	if v := fields["Homepage"]; v != "" {
		metadata["homepage"] = v
	}
	if v := fields["Section"]; v != "" {
		metadata["section"] = v
	}
	if v := fields["Installed-Size"]; v != "" {
		metadata["installed_size"] = v
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode package metadata: %w", err)
	}

	return &models.RepositoryPackage{
		Name:         name,
		Version:      version,
		Architecture: fields["Architecture"],
		Description:  description,
		Checksum:     checksum,
		ChecksumType: "sha256",
		Size:         size,
		DownloadURL:  joinURL(baseURL, filename),
		Dependencies: encoded,
		Metadata:     string(meta),
	}, nil
}
