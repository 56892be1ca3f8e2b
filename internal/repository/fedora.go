package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/mgiedrius/pakt/internal/errdefs"
	"github.com/mgiedrius/pakt/internal/models"
	"github.com/mgiedrius/pakt/internal/pkgfile"
	"github.com/mgiedrius/pakt/internal/store"
)

// FedoraParser reads createrepo-style metadata: repodata/repomd.xml names a
// primary index, which is a compressed XML document with one <package>
// element per RPM.
type FedoraParser struct{}

func (p *FedoraParser) Name() string { return "fedora" }

type repomdData struct {
	Type     string `xml:"type,attr"`
	Location struct {
		Href string `xml:"href,attr"`
	} `xml:"location"`
}

type repomdDoc struct {
	Data []repomdData `xml:"data"`
}

type primaryPackage struct {
	Name    string `xml:"name"`
	Arch    string `xml:"arch"`
	Version struct {
		Epoch string `xml:"epoch,attr"`
		Ver   string `xml:"ver,attr"`
		Rel   string `xml:"rel,attr"`
	} `xml:"version"`
	Checksum struct {
		Type  string `xml:"type,attr"`
		Value string `xml:",chardata"`
	} `xml:"checksum"`
	Summary     string `xml:"summary"`
	Description string `xml:"description"`
	URL         string `xml:"url"`
	Size        struct {
		Package int64 `xml:"package,attr"`
	} `xml:"size"`
	Location struct {
		Href string `xml:"href,attr"`
	} `xml:"location"`
	Format struct {
		License  string `xml:"license"`
		Requires struct {
			Entries []struct {
				Name  string `xml:"name,attr"`
				Flags string `xml:"flags,attr"`
				Epoch string `xml:"epoch,attr"`
				Ver   string `xml:"ver,attr"`
				Rel   string `xml:"rel,attr"`
			} `xml:"entry"`
		} `xml:"requires"`
	} `xml:"format"`
}

func (p *FedoraParser) Fetch(ctx context.Context, f *Fetcher, baseURL string) (*Catalog, error) {
	repomd, err := f.Get(ctx, joinURL(baseURL, "repodata/repomd.xml"))
	if err != nil {
		return nil, err
	}
	location, err := primaryLocation(repomd)
	if err != nil {
		return nil, err
	}

	raw, err := f.Get(ctx, joinURL(baseURL, location))
	if err != nil {
		return nil, err
	}
	r, closeR, err := pkgfile.Decompress(primaryCompression(location), bytes.NewReader(raw))
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindInvalidUsage, err, "decompress %s", location)
	}
	defer closeR()

	packages, err := parsePrimaryXML(r, baseURL)
	if err != nil {
		return nil, err
	}
	return &Catalog{Packages: packages}, nil
}

// primaryLocation finds the href of the data block with type "primary".
func primaryLocation(repomd []byte) (string, error) {
	var doc repomdDoc
	if err := xml.Unmarshal(repomd, &doc); err != nil {
		return "", errdefs.Wrap(errdefs.KindInvalidUsage, err, "parse repomd.xml")
	}
	for _, d := range doc.Data {
		if d.Type == "primary" && d.Location.Href != "" {
			return d.Location.Href, nil
		}
	}
	return "", errdefs.New(errdefs.KindInvalidUsage, "repomd.xml has no primary data location")
}

func primaryCompression(location string) string {
	switch {
	case strings.HasSuffix(location, ".zst"):
		return "zstd"
	case strings.HasSuffix(location, ".gz"):
		return "gzip"
	case strings.HasSuffix(location, ".xz"):
		return "xz"
	}
	return ""
}

// parsePrimaryXML streams <package> elements out of a primary index so the
// whole document never has to live in memory at once.
func parsePrimaryXML(r io.Reader, baseURL string) ([]*models.RepositoryPackage, error) {
	dec := xml.NewDecoder(r)
	var packages []*models.RepositoryPackage
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errdefs.Wrap(errdefs.KindInvalidUsage, err, "parse primary index")
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "package" {
			continue
		}
		var pp primaryPackage
		if err := dec.DecodeElement(&pp, &start); err != nil {
			return nil, errdefs.Wrap(errdefs.KindInvalidUsage, err, "parse package element")
		}
		pkg, err := pp.toRepositoryPackage(baseURL)
		if err != nil {
			return nil, err
		}
		packages = append(packages, pkg)
	}
	return packages, nil
}

func (pp *primaryPackage) toRepositoryPackage(baseURL string) (*models.RepositoryPackage, error) {
	if pp.Name == "" || pp.Version.Ver == "" || pp.Location.Href == "" {
		return nil, errdefs.New(errdefs.KindInvalidUsage,
			"primary index package missing name, version, or location")
	}

	version := pp.Version.Ver
	if pp.Version.Rel != "" {
		version += "-" + pp.Version.Rel
	}
	if pp.Version.Epoch != "" && pp.Version.Epoch != "0" {
		version = pp.Version.Epoch + ":" + version
	}

	var deps []models.PackageDependency
	for _, e := range pp.Format.Requires.Entries {
		if e.Name == "" || strings.HasPrefix(e.Name, "rpmlib(") || strings.HasPrefix(e.Name, "/") {
			continue
		}
		deps = append(deps, models.PackageDependency{
			Name:       e.Name,
			Constraint: rpmEntryConstraint(e.Flags, e.Ver, e.Rel),
			Type:       models.DepRuntime,
		})
	}
	encoded, err := store.EncodeDependencies(deps)
	if err != nil {
		return nil, err
	}

	description := pp.Description
	if description == "" {
		description = pp.Summary
	}
	checksumType := pp.Checksum.Type
	if checksumType == "" {
		checksumType = "sha256"
	}

	metadata := map[string]any{"format": "rpm"}
	if pp.URL != "" {
		metadata["homepage"] = pp.URL
	}
	if pp.Summary != "" {
		metadata["summary"] = pp.Summary
	}
	if pp.Format.License != "" {
		metadata["license"] = pp.Format.License
	}
	if pp.Version.Epoch != "" {
		metadata["epoch"] = pp.Version.Epoch
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode package metadata: %w", err)
	}

	return &models.RepositoryPackage{
		Name:         pp.Name,
		Version:      version,
		Architecture: pp.Arch,
		Description:  description,
		Checksum:     pp.Checksum.Value,
		ChecksumType: checksumType,
		Size:         pp.Size.Package,
		DownloadURL:  joinURL(baseURL, pp.Location.Href),
		Dependencies: encoded,
		Metadata:     string(meta),
	}, nil
}

// rpmEntryConstraint renders createrepo flags GE/LE/EQ/LT/GT plus a version
// into the operator form the resolver understands.
func rpmEntryConstraint(flags, ver, rel string) string {
	if flags == "" || ver == "" {
		return ""
	}
	var op string
	switch flags {
	case "GE":
		op = ">="
	case "LE":
		op = "<="
	case "EQ":
		op = "="
	case "LT":
		op = "<"
	case "GT":
		op = ">"
	default:
		return ""
	}
	version := ver
	if rel != "" {
		version += "-" + rel
	}
	return op + " " + version
}
