package match

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/vulntor/wafp/pkg/fetch"
	"github.com/vulntor/wafp/pkg/fingerprint"
	"github.com/vulntor/wafp/pkg/likepattern"
)

// DefaultSampleSize is the number of most referenced paths fetched per
// product during identification.
const DefaultSampleSize = 10

// ErrProductUnidentified means no product scored above zero.
var ErrProductUnidentified = errors.New("product could not be identified")

// PathFetcher is the part of fetch.Fetcher the identifier needs.
type PathFetcher interface {
	Fetch(ctx context.Context, target *url.URL, paths []string, sink fetch.Sink) (fetch.Summary, error)
}

// Identification is the outcome of product identification.
type Identification struct {
	Product string `json:"product" yaml:"product"`
	// Best is the winning version score.
	Best Score `json:"best" yaml:"best"`
	// Candidates holds the best score of every product, ranked.
	Candidates []Score `json:"candidates" yaml:"candidates"`
}

// Identifier guesses the product behind a target by sampling each
// product's most common paths.
type Identifier struct {
	store      fingerprint.Store
	fetcher    PathFetcher
	sampleSize int
}

// NewIdentifier returns an Identifier. A non-positive sampleSize selects
// DefaultSampleSize.
func NewIdentifier(store fingerprint.Store, fetcher PathFetcher, sampleSize int) *Identifier {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	return &Identifier{store: store, fetcher: fetcher, sampleSize: sampleSize}
}

// Identify fetches the sample paths of every product (nothing is persisted)
// and returns the product whose best version scored highest. Candidates are
// ranked by percent descending, then product name, then version. A best
// score of zero yields ErrProductUnidentified.
func (id *Identifier) Identify(ctx context.Context, target *url.URL) (Identification, error) {
	products, err := id.store.Products(ctx)
	if err != nil {
		return Identification{}, fmt.Errorf("list products: %w", err)
	}

	matcher := NewMatcher(id.store)
	var candidates []Score
	for _, product := range products {
		if err := ctx.Err(); err != nil {
			return Identification{}, err
		}

		paths, err := id.store.TopPaths(ctx, product, id.sampleSize)
		if err != nil {
			return Identification{}, fmt.Errorf("sample paths of %s: %w", product, err)
		}
		if len(paths) == 0 {
			continue
		}

		sums := fetch.NewChecksumSet()
		if _, err := id.fetcher.Fetch(ctx, target, paths, sums); err != nil {
			return Identification{}, fmt.Errorf("sample %s: %w", product, err)
		}

		filter := fingerprint.Filter{Product: likepattern.Exact(product)}
		scores, err := matcher.Match(ctx, sums, filter, Options{SampleSize: id.sampleSize})
		if err != nil {
			return Identification{}, err
		}
		if len(scores) == 0 {
			continue
		}
		log.Debug().Str("product", product).Float64("percent", scores[0].Percent).Msg("product sampled")
		candidates = append(candidates, scores[0])
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Percent != b.Percent {
			return a.Percent > b.Percent
		}
		if a.Product != b.Product {
			return a.Product < b.Product
		}
		return a.Version < b.Version
	})

	if len(candidates) == 0 || candidates[0].Percent <= 0 {
		return Identification{Candidates: candidates}, ErrProductUnidentified
	}

	best := candidates[0]
	log.Info().Str("product", best.Product).Float64("percent", best.Percent).Msg("product identified")
	return Identification{Product: best.Product, Best: best, Candidates: candidates}, nil
}
