package fingerprint

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// Corpus is the YAML interchange form of a fingerprint database.
//
//	products:
//	  - name: wordpress
//	    version: 2.9.1
//	    fingerprints:
//	      - path: /wp-includes/js/tinymce/tiny_mce.js
//	        checksum: 0d3c7a9e3e8f5a2b6c1d4e7f8a9b0c1d
type Corpus struct {
	Products []CorpusVersion `yaml:"products"`
}

// CorpusVersion lists the fingerprints of one product version.
type CorpusVersion struct {
	Name         string            `yaml:"name"`
	Version      string            `yaml:"version"`
	Fingerprints []CorpusEntry     `yaml:"fingerprints"`
	Meta         map[string]string `yaml:"meta,omitempty"`
}

// CorpusEntry is one path/checksum pair.
type CorpusEntry struct {
	Path     string `yaml:"path"`
	Checksum string `yaml:"checksum"`
}

// ImportStats reports what an import changed.
type ImportStats struct {
	VersionsCreated int `json:"versions_created" yaml:"versions_created"`
	VersionsUpdated int `json:"versions_updated" yaml:"versions_updated"`
	Added           int `json:"fingerprints_added" yaml:"fingerprints_added"`
	Duplicates      int `json:"duplicates_skipped" yaml:"duplicates_skipped"`
}

// ParseCorpus decodes and validates a YAML corpus document.
func ParseCorpus(r io.Reader) (*Corpus, error) {
	var c Corpus
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		if err == io.EOF {
			return nil, NewInvalidCorpusError("document is empty")
		}
		return nil, NewInvalidCorpusError("decode: %v", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks required fields and normalizes checksums to lower-case hex.
func (c *Corpus) Validate() error {
	if len(c.Products) == 0 {
		return NewInvalidCorpusError("no products")
	}
	for i := range c.Products {
		p := &c.Products[i]
		if strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.Version) == "" {
			return NewInvalidCorpusError("product at index %d: name and version are required", i)
		}
		for j := range p.Fingerprints {
			e := &p.Fingerprints[j]
			if e.Path == "" {
				return NewInvalidCorpusError("%s-%s fingerprint %d: path is required", p.Name, p.Version, j)
			}
			e.Checksum = strings.ToLower(strings.TrimSpace(e.Checksum))
			if len(e.Checksum) != 32 {
				return NewInvalidCorpusError("%s-%s %s: checksum must be 32 hex characters", p.Name, p.Version, e.Path)
			}
			if _, err := hex.DecodeString(e.Checksum); err != nil {
				return NewInvalidCorpusError("%s-%s %s: checksum is not hex", p.Name, p.Version, e.Path)
			}
		}
	}
	return nil
}

// Import merges c into the store in one transaction. Existing versions are
// extended; a (path, checksum) pair already recorded for a version is skipped.
func (s *SQLStore) Import(ctx context.Context, c *Corpus) (ImportStats, error) {
	var st ImportStats
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range c.Products {
			row := productRow{Name: p.Name, VersionString: p.Version}
			res := tx.Where("name = ? AND versionstring = ?", p.Name, p.Version).Limit(1).Find(&row)
			if res.Error != nil {
				return fmt.Errorf("lookup %s-%s: %w", p.Name, p.Version, res.Error)
			}
			if res.RowsAffected == 0 {
				if err := tx.Create(&row).Error; err != nil {
					return fmt.Errorf("create %s-%s: %w", p.Name, p.Version, err)
				}
				st.VersionsCreated++
			} else {
				st.VersionsUpdated++
			}

			var existing []fingerprintRow
			if err := tx.Where("product_id = ?", row.ID).Find(&existing).Error; err != nil {
				return fmt.Errorf("load fingerprints of %s-%s: %w", p.Name, p.Version, err)
			}
			known := make(map[CorpusEntry]struct{}, len(existing))
			for _, e := range existing {
				known[CorpusEntry{Path: e.Path, Checksum: e.Csum}] = struct{}{}
			}

			var fresh []fingerprintRow
			for _, e := range p.Fingerprints {
				if _, ok := known[e]; ok {
					st.Duplicates++
					continue
				}
				known[e] = struct{}{}
				fresh = append(fresh, fingerprintRow{ProductID: row.ID, Path: e.Path, Csum: e.Checksum})
			}
			if len(fresh) > 0 {
				if err := tx.CreateInBatches(fresh, 500).Error; err != nil {
					return fmt.Errorf("insert fingerprints of %s-%s: %w", p.Name, p.Version, err)
				}
				st.Added += len(fresh)
			}
		}
		return nil
	})
	if err != nil {
		return ImportStats{}, err
	}

	log.Info().
		Int("created", st.VersionsCreated).
		Int("updated", st.VersionsUpdated).
		Int("added", st.Added).
		Int("duplicates", st.Duplicates).
		Msg("corpus imported")
	return st, nil
}
