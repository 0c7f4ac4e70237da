package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/vulntor/wafp/pkg/likepattern"
	"github.com/vulntor/wafp/pkg/storage"
)

// inChunk bounds the number of bound parameters in one IN (...) clause.
const inChunk = 500

type productRow struct {
	ID            int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Name          string `gorm:"column:name;index"`
	VersionString string `gorm:"column:versionstring"`
}

func (productRow) TableName() string { return "tbl_product" }

type fingerprintRow struct {
	ID        int64  `gorm:"column:id;primaryKey;autoIncrement"`
	ProductID int64  `gorm:"column:product_id;index"`
	Path      string `gorm:"column:path"`
	Csum      string `gorm:"column:csum"`
}

func (fingerprintRow) TableName() string { return "tbl_fprint" }

func (r productRow) version() Version {
	return Version{ID: r.ID, Product: r.Name, Version: r.VersionString}
}

// SQLStore reads the corpus from a SQLite database with the legacy
// tbl_product/tbl_fprint layout.
type SQLStore struct {
	db   *gorm.DB
	path string
}

var _ Store = (*SQLStore)(nil)

// Open opens an existing corpus database. A missing file is ErrCorpusMissing.
func Open(ctx context.Context, path string) (*SQLStore, error) {
	db, err := storage.Open(ctx, storage.Config{Path: path, MustExist: true})
	if err != nil {
		if storage.IsMissing(err) {
			return nil, NewCorpusMissingError(path, err)
		}
		return nil, err
	}
	return &SQLStore{db: db, path: path}, nil
}

// Create opens path for writing, creating the file and tables as needed.
// It is used by the corpus importer.
func Create(ctx context.Context, path string) (*SQLStore, error) {
	db, err := storage.Open(ctx, storage.Config{Path: path, MaxOpenConns: 1})
	if err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).AutoMigrate(&productRow{}, &fingerprintRow{}); err != nil {
		_ = storage.Close(db)
		return nil, fmt.Errorf("migrate corpus schema: %w", err)
	}
	return &SQLStore{db: db, path: path}, nil
}

// Path returns the database file backing the store.
func (s *SQLStore) Path() string { return s.path }

// Close releases the database handle.
func (s *SQLStore) Close() error {
	return storage.Close(s.db)
}

func (s *SQLStore) allVersions(ctx context.Context) ([]Version, error) {
	var rows []productRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	out := make([]Version, len(rows))
	for i, r := range rows {
		out[i] = r.version()
	}
	return out, nil
}

func (s *SQLStore) Products(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).
		Model(&productRow{}).
		Distinct("name").
		Order("name").
		Pluck("name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("query product names: %w", err)
	}
	return names, nil
}

// Versions filters in Go so LIKE semantics do not depend on the SQL engine.
func (s *SQLStore) Versions(ctx context.Context, f Filter) ([]Version, error) {
	all, err := s.allVersions(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, v := range all {
		if f.Matches(v) {
			out = append(out, v)
		}
	}
	sortVersions(out)
	return out, nil
}

func (s *SQLStore) Fingerprints(ctx context.Context, versionID int64) ([]Entry, error) {
	var rows []fingerprintRow
	if err := s.db.WithContext(ctx).Where("product_id = ?", versionID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query fingerprints of %d: %w", versionID, err)
	}
	out := make([]Entry, len(rows))
	for i, r := range rows {
		out[i] = Entry{VersionID: r.ProductID, Path: r.Path, Checksum: r.Csum}
	}
	return out, nil
}

func (s *SQLStore) SelectPaths(ctx context.Context, f Filter) ([]string, error) {
	versions, err := s.Versions(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, NewNoFingerprintsError(f)
	}

	seen := make(map[string]struct{})
	err = eachChunk(versionIDs(versions), func(ids []int64) error {
		var paths []string
		if err := s.db.WithContext(ctx).
			Model(&fingerprintRow{}).
			Distinct("path").
			Where("product_id IN ?", ids).
			Pluck("path", &paths).Error; err != nil {
			return err
		}
		for _, p := range paths {
			seen[p] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("select paths: %w", err)
	}
	if len(seen) == 0 {
		return nil, NewNoFingerprintsError(f)
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	log.Debug().Int("versions", len(versions)).Int("paths", len(out)).Msg("paths selected")
	return out, nil
}

type pathCount struct {
	Path string `gorm:"column:path"`
	Hits int    `gorm:"column:hits"`
}

func (s *SQLStore) TopPaths(ctx context.Context, product string, limit int) ([]string, error) {
	versions, err := s.Versions(ctx, Filter{Product: likepattern.Exact(product)})
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	err = eachChunk(versionIDs(versions), func(ids []int64) error {
		var rows []pathCount
		if err := s.db.WithContext(ctx).
			Model(&fingerprintRow{}).
			Select("path, count(path) AS hits").
			Where("product_id IN ?", ids).
			Group("path").
			Scan(&rows).Error; err != nil {
			return err
		}
		for _, r := range rows {
			counts[r.Path] += r.Hits
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rank paths of %s: %w", product, err)
	}
	return rankPaths(counts, limit), nil
}

func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	db := s.db.WithContext(ctx)

	var products, versions int64
	if err := db.Model(&productRow{}).Distinct("name").Count(&products).Error; err != nil {
		return st, fmt.Errorf("count products: %w", err)
	}
	if err := db.Model(&productRow{}).Count(&versions).Error; err != nil {
		return st, fmt.Errorf("count versions: %w", err)
	}
	if err := db.Model(&fingerprintRow{}).Count(&st.Fingerprints).Error; err != nil {
		return st, fmt.Errorf("count fingerprints: %w", err)
	}
	if err := db.Model(&fingerprintRow{}).Distinct("path").Count(&st.Paths).Error; err != nil {
		return st, fmt.Errorf("count paths: %w", err)
	}
	st.Products = int(products)
	st.Versions = int(versions)
	return st, nil
}

// LoadMemory copies the whole corpus into a MemoryStore. The copy is built
// before any fetching starts and is read-only afterwards.
func LoadMemory(ctx context.Context, s *SQLStore) (*MemoryStore, error) {
	versions, err := s.allVersions(ctx)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	var batch []fingerprintRow
	res := s.db.WithContext(ctx).Order("id").FindInBatches(&batch, 5000, func(_ *gorm.DB, _ int) error {
		for _, r := range batch {
			entries = append(entries, Entry{VersionID: r.ProductID, Path: r.Path, Checksum: r.Csum})
		}
		return ctx.Err()
	})
	if res.Error != nil && !errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load corpus into memory: %w", res.Error)
	}

	log.Debug().Int("versions", len(versions)).Int("fingerprints", len(entries)).Msg("corpus loaded into memory")
	return NewMemoryStore(versions, entries), nil
}

func eachChunk(ids []int64, fn func([]int64) error) error {
	for start := 0; start < len(ids); start += inChunk {
		end := min(start+inChunk, len(ids))
		if err := fn(ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}
