package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vulntor/wafp/cmd/wafp/internal/format"
	"github.com/vulntor/wafp/pkg/fingerprint"
	"github.com/vulntor/wafp/pkg/workspace"
)

// NewCorpusCommand wires fingerprint corpus maintenance.
func NewCorpusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "corpus",
		Aliases: []string{"fp"},
		Short:   "Manage the fingerprint database",
		GroupID: "data",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newCorpusImportCommand())

	return cmd
}

func newCorpusImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create or extend the fingerprint database from a YAML corpus",
		Long: `Read product versions and their path checksums from a YAML document and
merge them into the fingerprint database, creating it when missing.
Fingerprints already recorded for a version are skipped.`,
		Example: `  wafp corpus import wordpress.yaml
  wafp --fingerprint-db ./fprints_wafp.db corpus import corpus.yaml`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f := format.FromCommand(cmd)
			_, paths, err := runtimeFrom(cmd)
			if err != nil {
				return err
			}

			file, err := os.Open(args[0])
			if err != nil {
				return fail(f, "import corpus", &usageError{err: err})
			}
			defer file.Close()

			corpus, err := fingerprint.ParseCorpus(file)
			if err != nil {
				return fail(f, "import corpus", err)
			}

			guard, err := workspace.Lock(paths.Workspace)
			if err != nil {
				return fail(f, "import corpus", err)
			}
			defer func() {
				if err := guard.Unlock(); err != nil {
					log.Warn().Err(err).Msg("release workspace lock")
				}
			}()

			store, err := fingerprint.Create(ctx, paths.Fingerprints)
			if err != nil {
				return fail(f, "import corpus", err)
			}
			defer store.Close()

			stats, err := store.Import(ctx, corpus)
			if err != nil {
				return fail(f, "import corpus", err)
			}

			if f.IsStructured() {
				return f.PrintData(stats)
			}
			return f.PrintSummary(fmt.Sprintf(
				"Imported into %s: %d versions created, %d extended, %d fingerprints added, %d duplicates skipped",
				paths.Fingerprints, stats.VersionsCreated, stats.VersionsUpdated, stats.Added, stats.Duplicates))
		},
	}
}
