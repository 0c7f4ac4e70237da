package commands

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vulntor/wafp/cmd/wafp/internal/format"
	"github.com/vulntor/wafp/pkg/fingerprint"
	"github.com/vulntor/wafp/pkg/scanstore"
)

type dbInfo struct {
	Fingerprints struct {
		Path  string            `json:"path" yaml:"path"`
		Stats fingerprint.Stats `json:"stats" yaml:"stats"`
	} `json:"fingerprints" yaml:"fingerprints"`
	Scans struct {
		Path  string          `json:"path" yaml:"path"`
		Stats scanstore.Stats `json:"stats" yaml:"stats"`
	} `json:"scans" yaml:"scans"`
}

// NewDBInfoCommand prints corpus and scan database statistics.
func NewDBInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "dbinfo",
		Aliases: []string{"stats"},
		Short:   "Show fingerprint and scan database statistics",
		GroupID: "data",
		Args:    usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			f := format.FromCommand(cmd)
			_, paths, err := runtimeFrom(cmd)
			if err != nil {
				return err
			}

			var info dbInfo
			info.Fingerprints.Path = paths.Fingerprints
			info.Scans.Path = paths.Scans

			corpus, err := fingerprint.Open(ctx, paths.Fingerprints)
			if err != nil {
				return fail(f, "read database statistics", err)
			}
			defer corpus.Close()
			if info.Fingerprints.Stats, err = corpus.Stats(ctx); err != nil {
				return fail(f, "read database statistics", err)
			}

			scans, err := scanstore.Open(ctx, paths.Scans)
			if err != nil {
				return fail(f, "read database statistics", err)
			}
			defer scans.Close()
			if info.Scans.Stats, err = scans.Stats(ctx); err != nil {
				return fail(f, "read database statistics", err)
			}

			if f.IsStructured() {
				return f.PrintData(info)
			}

			fs, ss := info.Fingerprints.Stats, info.Scans.Stats
			return f.PrintTable([]string{"Database", "Item", "Count"}, [][]string{
				{info.Fingerprints.Path, "products", strconv.Itoa(fs.Products)},
				{"", "versions", strconv.Itoa(fs.Versions)},
				{"", "fingerprints", strconv.FormatInt(fs.Fingerprints, 10)},
				{"", "distinct paths", strconv.FormatInt(fs.Paths, 10)},
				{info.Scans.Path, "stored scans", strconv.FormatInt(ss.Sessions, 10)},
				{"", "results", strconv.FormatInt(ss.Results, 10)},
			})
		},
	}
}
