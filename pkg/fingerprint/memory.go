package fingerprint

import (
	"context"
	"sort"

	"github.com/vulntor/wafp/pkg/likepattern"
)

// MemoryStore is an immutable in-memory copy of the corpus.
type MemoryStore struct {
	versions []Version
	byID     map[int64]Version
	entries  map[int64][]Entry
	rows     int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore indexes versions and entries. Entries whose version is
// unknown are kept; they are simply never selected.
func NewMemoryStore(versions []Version, entries []Entry) *MemoryStore {
	m := &MemoryStore{
		versions: append([]Version(nil), versions...),
		byID:     make(map[int64]Version, len(versions)),
		entries:  make(map[int64][]Entry),
		rows:     int64(len(entries)),
	}
	sortVersions(m.versions)
	for _, v := range m.versions {
		m.byID[v.ID] = v
	}
	for _, e := range entries {
		m.entries[e.VersionID] = append(m.entries[e.VersionID], e)
	}
	return m
}

func (m *MemoryStore) Products(context.Context) ([]string, error) {
	var names []string
	for i, v := range m.versions {
		if i == 0 || m.versions[i-1].Product != v.Product {
			names = append(names, v.Product)
		}
	}
	return names, nil
}

func (m *MemoryStore) Versions(_ context.Context, f Filter) ([]Version, error) {
	var out []Version
	for _, v := range m.versions {
		if f.Matches(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *MemoryStore) Fingerprints(_ context.Context, versionID int64) ([]Entry, error) {
	return append([]Entry(nil), m.entries[versionID]...), nil
}

func (m *MemoryStore) SelectPaths(ctx context.Context, f Filter) ([]string, error) {
	versions, _ := m.Versions(ctx, f)
	seen := make(map[string]struct{})
	for _, v := range versions {
		for _, e := range m.entries[v.ID] {
			seen[e.Path] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil, NewNoFingerprintsError(f)
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) TopPaths(ctx context.Context, product string, limit int) ([]string, error) {
	versions, _ := m.Versions(ctx, Filter{Product: likepattern.Exact(product)})
	counts := make(map[string]int)
	for _, v := range versions {
		for _, e := range m.entries[v.ID] {
			counts[e.Path]++
		}
	}
	return rankPaths(counts, limit), nil
}

func (m *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	products, _ := m.Products(ctx)
	paths := make(map[string]struct{})
	for _, es := range m.entries {
		for _, e := range es {
			paths[e.Path] = struct{}{}
		}
	}
	return Stats{
		Products:     len(products),
		Versions:     len(m.versions),
		Fingerprints: m.rows,
		Paths:        int64(len(paths)),
	}, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
