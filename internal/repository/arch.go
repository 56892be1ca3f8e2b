package repository

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mgiedrius/pakt/internal/errdefs"
	"github.com/mgiedrius/pakt/internal/models"
	"github.com/mgiedrius/pakt/internal/pkgfile"
	"github.com/mgiedrius/pakt/internal/store"
)

// ArchParser reads pacman-style metadata: <repo>.db is a compressed tar
// holding one directory per package with desc and depends members in
// %FIELD% marker format.
type ArchParser struct {
	// DBName is the database basename, conventionally the repository name.
	DBName string
}

func (p *ArchParser) Name() string { return "arch" }

func (p *ArchParser) Fetch(ctx context.Context, f *Fetcher, baseURL string) (*Catalog, error) {
	raw, err := f.Get(ctx, fmt.Sprintf("%s/%s.db", strings.TrimRight(baseURL, "/"), p.DBName))
	if err != nil {
		return nil, err
	}
	db, err := decompressDB(raw)
	if err != nil {
		return nil, err
	}
	packages, err := parseArchDB(db, baseURL)
	if err != nil {
		return nil, err
	}
	return &Catalog{Packages: packages}, nil
}

// decompressDB tries gzip, xz, and zstd in turn. The .db suffix carries no
// compression hint, and mirrors use all three.
func decompressDB(raw []byte) ([]byte, error) {
	var lastErr error
	for _, scheme := range []string{"gzip", "xz", "zstd"} {
		r, closeR, err := pkgfile.Decompress(scheme, bytes.NewReader(raw))
		if err != nil {
			lastErr = err
			continue
		}
		data, err := io.ReadAll(r)
		closeR()
		if err == nil && len(data) > 0 {
			return data, nil
		}
		lastErr = err
	}
	return nil, errdefs.Wrap(errdefs.KindInvalidUsage, lastErr,
		"decompress package database (tried gzip, xz, zstd)")
}

type archDBEntry struct {
	desc    map[string][]string
	depends map[string][]string
}

func parseArchDB(db []byte, baseURL string) ([]*models.RepositoryPackage, error) {
	entries := make(map[string]*archDBEntry)
	var order []string

	tr := tar.NewReader(bytes.NewReader(db))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errdefs.Wrap(errdefs.KindInvalidUsage, err, "read package database")
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		dir, member, ok := strings.Cut(strings.Trim(hdr.Name, "/"), "/")
		if !ok || (member != "desc" && member != "depends") {
			continue
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return nil, errdefs.Wrap(errdefs.KindInvalidUsage, err, "read database entry %s", hdr.Name)
		}
		e := entries[dir]
		if e == nil {
			e = &archDBEntry{}
			entries[dir] = e
			order = append(order, dir)
		}
		if member == "desc" {
			e.desc = parseDBFields(string(content))
		} else {
			e.depends = parseDBFields(string(content))
		}
	}

	var packages []*models.RepositoryPackage
	for _, dir := range order {
		pkg, err := archEntryToPackage(entries[dir], baseURL)
		if err != nil {
			return nil, err
		}
		if pkg != nil {
			packages = append(packages, pkg)
		}
	}
	return packages, nil
}

// parseDBFields parses %FIELD% marker format: a %NAME% line starts a field
// whose values run until the next blank line.
func parseDBFields(content string) map[string][]string {
	fields := make(map[string][]string)
	var current string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			current = ""
			continue
		}
		if strings.HasPrefix(line, "%") && strings.HasSuffix(line, "%") && len(line) > 2 {
			current = line[1 : len(line)-1]
			continue
		}
		if current != "" {
			fields[current] = append(fields[current], line)
		}
	}
	return fields
}

func firstValue(fields map[string][]string, key string) string {
	if vs := fields[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func archEntryToPackage(e *archDBEntry, baseURL string) (*models.RepositoryPackage, error) {
	if e.desc == nil {
		return nil, nil
	}
	name := firstValue(e.desc, "NAME")
	version := firstValue(e.desc, "VERSION")
	filename := firstValue(e.desc, "FILENAME")
	checksum := firstValue(e.desc, "SHA256SUM")
	if name == "" || version == "" || filename == "" || checksum == "" {
		return nil, nil
	}
	size, err := strconv.ParseInt(firstValue(e.desc, "CSIZE"), 10, 64)
	if err != nil {
		return nil, nil
	}

	var deps []models.PackageDependency
	if e.depends != nil {
		for _, d := range e.depends["DEPENDS"] {
			deps = append(deps, pkgfile.ParseArchDependency(d, models.DepRuntime))
		}
		for _, d := range e.depends["OPTDEPENDS"] {
			deps = append(deps, pkgfile.ParseArchDependency(d, models.DepOptional))
		}
	}
	encoded, err := store.EncodeDependencies(deps)
	if err != nil {
		return nil, err
	}

	metadata := map[string]any{"format": "arch"}
	if v := firstValue(e.desc, "URL"); v != "" {
		metadata["homepage"] = v
	}
	if v := firstValue(e.desc, "LICENSE"); v != "" {
		metadata["license"] = v
	}
	if v := firstValue(e.desc, "BUILDDATE"); v != "" {
		metadata["build_date"] = v
	}
	if v := firstValue(e.desc, "ISIZE"); v != "" {
		metadata["installed_size"] = v
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode package metadata: %w", err)
	}

	return &models.RepositoryPackage{
		Name:         name,
		Version:      version,
		Architecture: firstValue(e.desc, "ARCH"),
		Description:  firstValue(e.desc, "DESC"),
		Checksum:     checksum,
		ChecksumType: "sha256",
		Size:         size,
		DownloadURL:  joinURL(baseURL, filename),
		Dependencies: encoded,
		Metadata:     string(meta),
	}, nil
}
