// Package fingerprint provides read access to the web application
// fingerprint corpus: product versions and the checksums of the static
// files each version ships.
package fingerprint

import (
	"context"
	"sort"

	"github.com/vulntor/wafp/pkg/likepattern"
)

// Version is one (product, version) pair of the corpus.
type Version struct {
	ID      int64  `json:"id" yaml:"id"`
	Product string `json:"product" yaml:"product"`
	Version string `json:"version" yaml:"version"`
}

// Label is the "product-version" form used in reports.
func (v Version) Label() string {
	return v.Product + "-" + v.Version
}

// Entry asserts that Path of VersionID has content with Checksum.
// Entries are not deduplicated; a repeated row counts twice when scoring.
type Entry struct {
	VersionID int64
	Path      string
	Checksum  string
}

// Filter restricts corpus queries to matching product names and version strings.
type Filter struct {
	Product likepattern.Matcher
	Version likepattern.Matcher
}

// NewFilter compiles LIKE patterns. Empty patterns match everything.
func NewFilter(product, version string) Filter {
	if product == "" {
		product = likepattern.Any
	}
	if version == "" {
		version = likepattern.Any
	}
	return Filter{
		Product: likepattern.Compile(product),
		Version: likepattern.Compile(version),
	}
}

// Matches reports whether v passes the filter. Nil matchers accept anything.
func (f Filter) Matches(v Version) bool {
	if f.Product != nil && !f.Product.Match(v.Product) {
		return false
	}
	if f.Version != nil && !f.Version.Match(v.Version) {
		return false
	}
	return true
}

// Stats summarizes corpus contents.
type Stats struct {
	Products     int   `json:"products" yaml:"products"`
	Versions     int   `json:"versions" yaml:"versions"`
	Fingerprints int64 `json:"fingerprints" yaml:"fingerprints"`
	Paths        int64 `json:"paths" yaml:"paths"`
}

// Store is the read-only corpus interface used by path selection,
// identification and scoring.
type Store interface {
	// Products returns the distinct product names, ascending.
	Products(ctx context.Context) ([]string, error)
	// Versions returns the versions passing f ordered by product, version and id.
	Versions(ctx context.Context, f Filter) ([]Version, error)
	// Fingerprints returns every entry of one version.
	Fingerprints(ctx context.Context, versionID int64) ([]Entry, error)
	// SelectPaths returns the distinct paths of every version passing f,
	// ascending. An empty result is ErrNoFingerprints.
	SelectPaths(ctx context.Context, f Filter) ([]string, error)
	// TopPaths returns up to limit paths of the named product ranked by how
	// many of its fingerprint rows reference them; ties break by path.
	TopPaths(ctx context.Context, product string, limit int) ([]string, error)
	// Stats counts corpus rows.
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// sortVersions orders versions the way every Store reports them.
func sortVersions(vs []Version) {
	sort.SliceStable(vs, func(i, j int) bool {
		if vs[i].Product != vs[j].Product {
			return vs[i].Product < vs[j].Product
		}
		if vs[i].Version != vs[j].Version {
			return vs[i].Version < vs[j].Version
		}
		return vs[i].ID < vs[j].ID
	})
}

// rankPaths turns per-path reference counts into a top-N list.
func rankPaths(counts map[string]int, limit int) []string {
	paths := make([]string, 0, len(counts))
	for p := range counts {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool {
		ci, cj := counts[paths[i]], counts[paths[j]]
		if ci != cj {
			return ci > cj
		}
		return paths[i] < paths[j]
	})
	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}
	return paths
}

func versionIDs(vs []Version) []int64 {
	ids := make([]int64, len(vs))
	for i, v := range vs {
		ids[i] = v.ID
	}
	return ids
}
