package commands

import (
	"sort"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"

	"github.com/vulntor/wafp/cmd/wafp/internal/format"
	"github.com/vulntor/wafp/pkg/fingerprint"
	"github.com/vulntor/wafp/pkg/likepattern"
)

type productListing struct {
	Product  string   `json:"product" yaml:"product"`
	Versions []string `json:"versions" yaml:"versions"`
}

// NewProductsCommand lists the products in the fingerprint database.
func NewProductsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "products [pattern]",
		Aliases: []string{"dump"},
		Short:   "List fingerprinted products and their versions",
		Example: `  wafp products
  wafp products 'word%'`,
		GroupID: "data",
		Args:    usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := format.FromCommand(cmd)
			_, paths, err := runtimeFrom(cmd)
			if err != nil {
				return err
			}

			pattern := likepattern.Any
			if len(args) == 1 {
				pattern = args[0]
			}

			listings, err := listProducts(cmd, paths.Fingerprints, pattern)
			if err != nil {
				return fail(f, "list products", err)
			}

			if f.IsStructured() {
				return f.PrintData(listings)
			}
			if len(listings) == 0 {
				return f.PrintSummary("No products match " + strconv.Quote(pattern))
			}

			rows := make([][]string, 0, len(listings))
			for _, l := range listings {
				rows = append(rows, []string{l.Product, strconv.Itoa(len(l.Versions)), strings.Join(l.Versions, ", ")})
			}
			return f.PrintTable([]string{"Product", "Count", "Versions"}, rows)
		},
	}
}

func listProducts(cmd *cobra.Command, path, pattern string) ([]productListing, error) {
	ctx := cmd.Context()
	store, err := fingerprint.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	versions, err := store.Versions(ctx, fingerprint.Filter{Product: likepattern.Compile(pattern)})
	if err != nil {
		return nil, err
	}

	// Versions come ordered by product, so each product is one contiguous run.
	listings := []productListing{}
	for _, v := range versions {
		if n := len(listings); n == 0 || listings[n-1].Product != v.Product {
			listings = append(listings, productListing{Product: v.Product})
		}
		last := &listings[len(listings)-1]
		last.Versions = append(last.Versions, v.Version)
	}
	for i := range listings {
		sortVersionStrings(listings[i].Versions)
	}
	return listings, nil
}

// sortVersionStrings orders version strings by semantic version where they
// parse; the rest follow in lexical order.
func sortVersionStrings(vs []string) {
	sort.SliceStable(vs, func(i, j int) bool { return versionLess(vs[i], vs[j]) })
}

func versionLess(a, b string) bool {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	switch {
	case errA == nil && errB == nil:
		if !va.Equal(vb) {
			return va.LessThan(vb)
		}
		return a < b
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}
