package repository

import (
	"context"
	"strings"

	"github.com/mgiedrius/pakt/internal/models"
)

// Catalog is the parsed contents of one repository's metadata.
type Catalog struct {
	Packages []*models.RepositoryPackage
	Deltas   []*models.PackageDelta
}

// Parser fetches and decodes one repository metadata format into a Catalog.
type Parser interface {
	// Name identifies the format for logging.
	Name() string

	// Fetch downloads the repository's index from baseURL and parses it.
	Fetch(ctx context.Context, f *Fetcher, baseURL string) (*Catalog, error)
}

// DetectParser picks the metadata parser for a repository from its name and
// URL. Repositories that match no known layout fall back to the JSON index.
func DetectParser(name, url string) Parser {
	probe := strings.ToLower(name + " " + url)
	switch {
	case strings.Contains(probe, "arch") || strings.Contains(probe, "pkgbuild"):
		return &ArchParser{DBName: name}
	case strings.Contains(probe, "fedora") || strings.Contains(probe, "/releases/"):
		return &FedoraParser{}
	case strings.Contains(probe, "debian") || strings.Contains(probe, "ubuntu") || strings.Contains(probe, "/dists/"):
		return &DebianParser{}
	}
	return &JSONParser{}
}

// joinURL appends path to base with exactly one slash between them.
func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
