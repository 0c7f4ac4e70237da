// Package match scores fetched checksums against the fingerprint corpus and
// identifies which product a target runs.
package match

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/vulntor/wafp/pkg/fingerprint"
)

// Checksums is the set of checksums observed for a target.
type Checksums interface {
	Contains(sum string) bool
}

// Score is the match result of one product version.
type Score struct {
	Product string  `json:"product" yaml:"product"`
	Version string  `json:"version" yaml:"version"`
	Label   string  `json:"label" yaml:"label"`
	Matched int     `json:"matched" yaml:"matched"`
	Total   int     `json:"total" yaml:"total"`
	Percent float64 `json:"percent" yaml:"percent"`
}

// Options tunes scoring.
type Options struct {
	// SampleSize, when positive, fixes every denominator to the sample size
	// instead of the version's fingerprint row count, and caps the matched
	// count at it. Product identification sets it.
	SampleSize int
}

// Matcher scores versions of the corpus.
type Matcher struct {
	store fingerprint.Store
}

// NewMatcher returns a Matcher reading from store.
func NewMatcher(store fingerprint.Store) *Matcher {
	return &Matcher{store: store}
}

// Match scores every version passing f against sums, best first.
//
// A version's matched count is the number of its fingerprint rows whose
// checksum is in sums; rows are not deduplicated. Ties on percent break by
// label so the order is stable across runs.
func (m *Matcher) Match(ctx context.Context, sums Checksums, f fingerprint.Filter, opts Options) ([]Score, error) {
	versions, err := m.store.Versions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("load versions: %w", err)
	}

	scores := make([]Score, 0, len(versions))
	for _, v := range versions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, err := m.store.Fingerprints(ctx, v.ID)
		if err != nil {
			return nil, fmt.Errorf("load fingerprints of %s: %w", v.Label(), err)
		}
		scores = append(scores, score(v, entries, sums, opts.SampleSize))
	}

	SortScores(scores)
	log.Debug().Int("versions", len(scores)).Int("sample_size", opts.SampleSize).Msg("versions scored")
	return scores, nil
}

func score(v fingerprint.Version, entries []fingerprint.Entry, sums Checksums, sampleSize int) Score {
	matched := 0
	for _, e := range entries {
		if sums.Contains(e.Checksum) {
			matched++
		}
	}

	total := len(entries)
	if sampleSize > 0 {
		total = sampleSize
		matched = min(matched, total)
	}

	return Score{
		Product: v.Product,
		Version: v.Version,
		Label:   v.Label(),
		Matched: matched,
		Total:   total,
		Percent: Percent(matched, total),
	}
}

// Percent is 100*matched/total, or 0 when total is 0.
func Percent(matched, total int) float64 {
	if total <= 0 {
		return 0
	}
	return 100 * float64(matched) / float64(total)
}

// SortScores orders by percent descending, then label ascending.
func SortScores(scores []Score) {
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Percent != scores[j].Percent {
			return scores[i].Percent > scores[j].Percent
		}
		return scores[i].Label < scores[j].Label
	})
}

// Top returns at most n scores. Non-positive n returns all of them.
func Top(scores []Score, n int) []Score {
	if n <= 0 || len(scores) <= n {
		return scores
	}
	return scores[:n]
}
