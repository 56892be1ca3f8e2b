package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mgiedrius/pakt/internal/errdefs"
	"github.com/mgiedrius/pakt/internal/models"
	"github.com/mgiedrius/pakt/internal/store"
)

// JSONParser reads the native index format: a single metadata.json document
// listing every package, and the only format that advertises binary deltas.
type JSONParser struct{}

func (p *JSONParser) Name() string { return "json" }

type jsonIndex struct {
	Name     string        `json:"name"`
	Version  string        `json:"version"`
	Packages []jsonPackage `json:"packages"`
}

type jsonPackage struct {
	Name         string      `json:"name"`
	Version      string      `json:"version"`
	Architecture string      `json:"architecture,omitempty"`
	Description  string      `json:"description,omitempty"`
	Checksum     string      `json:"checksum"`
	Size         int64       `json:"size"`
	DownloadURL  string      `json:"download_url"`
	Dependencies []string    `json:"dependencies,omitempty"`
	DeltaFrom    []jsonDelta `json:"delta_from,omitempty"`
}

type jsonDelta struct {
	Version   string `json:"version"`
	URL       string `json:"url"`
	Checksum  string `json:"checksum,omitempty"`
	FromHash  string `json:"from_hash"`
	ToHash    string `json:"to_hash"`
	DeltaSize int64  `json:"delta_size"`
}

func (p *JSONParser) Fetch(ctx context.Context, f *Fetcher, baseURL string) (*Catalog, error) {
	raw, err := f.Get(ctx, joinURL(baseURL, "metadata.json"))
	if err != nil {
		return nil, err
	}
	var index jsonIndex
	if err := json.Unmarshal(raw, &index); err != nil {
		return nil, errdefs.Wrap(errdefs.KindInvalidUsage, err, "parse metadata.json")
	}

	catalog := &Catalog{}
	for _, jp := range index.Packages {
		if jp.Name == "" || jp.Version == "" || jp.Checksum == "" || jp.DownloadURL == "" {
			continue
		}
		var deps []models.PackageDependency
		for _, d := range jp.Dependencies {
			if dep := parseJSONDependency(d); dep.Name != "" {
				deps = append(deps, dep)
			}
		}
		encoded, err := store.EncodeDependencies(deps)
		if err != nil {
			return nil, err
		}
		meta, err := json.Marshal(map[string]any{"format": "json", "index": index.Name})
		if err != nil {
			return nil, fmt.Errorf("encode package metadata: %w", err)
		}

		downloadURL := jp.DownloadURL
		if !strings.Contains(downloadURL, "://") {
			downloadURL = joinURL(baseURL, downloadURL)
		}
		catalog.Packages = append(catalog.Packages, &models.RepositoryPackage{
			Name:         jp.Name,
			Version:      jp.Version,
			Architecture: jp.Architecture,
			Description:  jp.Description,
			Checksum:     jp.Checksum,
			ChecksumType: "sha256",
			Size:         jp.Size,
			DownloadURL:  downloadURL,
			Dependencies: encoded,
			Metadata:     string(meta),
		})

		for _, jd := range jp.DeltaFrom {
			if jd.Version == "" || jd.URL == "" || jd.FromHash == "" || jd.ToHash == "" {
				continue
			}
			deltaURL := jd.URL
			if !strings.Contains(deltaURL, "://") {
				deltaURL = joinURL(baseURL, deltaURL)
			}
			var ratio float64
			if jp.Size > 0 {
				ratio = float64(jd.DeltaSize) / float64(jp.Size)
			}
			catalog.Deltas = append(catalog.Deltas, &models.PackageDelta{
				PackageName:      jp.Name,
				FromVersion:      jd.Version,
				ToVersion:        jp.Version,
				DeltaURL:         deltaURL,
				DeltaChecksum:    jd.Checksum,
				FromHash:         jd.FromHash,
				ToHash:           jd.ToHash,
				DeltaSize:        jd.DeltaSize,
				FullSize:         jp.Size,
				CompressionRatio: ratio,
			})
		}
	}
	return catalog, nil
}

// parseJSONDependency parses "name", "name >= 1.2", or "name>=1.2".
func parseJSONDependency(s string) models.PackageDependency {
	s = strings.TrimSpace(s)
	if pos := strings.IndexAny(s, "><="); pos >= 0 {
		return models.PackageDependency{
			Name:       strings.TrimSpace(s[:pos]),
			Constraint: strings.TrimSpace(s[pos:]),
			Type:       models.DepRuntime,
		}
	}
	return models.PackageDependency{Name: s, Type: models.DepRuntime}
}
