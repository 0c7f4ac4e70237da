package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vulntor/wafp/cmd/wafp/internal/bind"
	"github.com/vulntor/wafp/cmd/wafp/internal/format"
	"github.com/vulntor/wafp/pkg/config"
	"github.com/vulntor/wafp/pkg/fingerprint"
	"github.com/vulntor/wafp/pkg/scanexec"
	"github.com/vulntor/wafp/pkg/scanstore"
	"github.com/vulntor/wafp/pkg/workspace"
)

// NewScanCommand builds the scan command: fetch a target's fingerprinted
// paths, or replay a stored scan, and rank the matching product versions.
func NewScanCommand() *cobra.Command {
	defaults := config.DefaultConfig().Scan

	cmd := &cobra.Command{
		Use:   "scan [URL]",
		Short: "Identify the product and version behind a URL",
		Long: `Fetch the paths fingerprinted for the selected products from URL, hash
every response and rank product versions by the share of their fingerprints
that matched.

Without --product the product is identified first from a small sample of
each product's most common paths. Use --any to fingerprint against every
product instead, or --dry to replay a scan kept with --store.

Corpus paths are requested below the path of URL, so
https://example.org/cms/ fetches /cms/readme.html. The original wafp
requested every path from the host root and ignored the URL path; pass the
bare host to reproduce that.`,
		Example: `  wafp scan https://blog.example.org/
  wafp scan https://example.org/cms/ -p wordpress -V '3.%'
  wafp scan https://example.org/ -p joomla -s weekly
  wafp scan --dry weekly_1700000000`,
		GroupID: "scan",
		Args:    usageArgs(cobra.MaximumNArgs(1)),
		RunE:    runScan,
	}

	flags := cmd.Flags()
	flags.StringP("product", "p", "", "Product name pattern (SQL LIKE, % and _ wildcards)")
	flags.StringP("pversion", "V", "", "Version pattern (SQL LIKE)")
	flags.StringP("store", "s", "", "Keep the scan results under this name prefix")
	flags.BoolP("fetch", "f", false, "Only fetch and record, skip scoring")
	flags.StringP("dry", "d", "", "Replay the stored scan with this name instead of fetching")
	flags.Bool("any", false, "Fingerprint against every product instead of identifying one")
	flags.IntP("threads", "t", defaults.Threads, "Concurrent requests (1-256)")
	flags.Int("timeout", defaults.Timeout, "Per-request timeout in seconds (1-300)")
	flags.Int("retries", defaults.Retries, "Retries per path after the first attempt (0-256)")
	flags.Int("sample-size", defaults.SampleSize, "Paths sampled per product when identifying")
	flags.Int("outlines", defaults.Outlines, "Number of ranked versions to print")
	flags.String("user-agent", defaults.UserAgent, "User-Agent header")
	flags.String("proxy", defaults.Proxy, "HTTP proxy URL")
	flags.Bool("low-mem", defaults.LowMem, "Query the fingerprint database instead of loading it into memory")
	flags.Bool("insecure", defaults.Insecure, "Skip TLS certificate verification")

	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	f := format.FromCommand(cmd)

	cfg, paths, err := runtimeFrom(cmd)
	if err != nil {
		return err
	}

	opts, err := bind.BindScanOptions(cmd, args, cfg)
	if err != nil {
		return fail(f, "scan", err)
	}

	guard, err := workspace.Lock(paths.Workspace)
	if err != nil {
		return fail(f, "scan", err)
	}
	defer func() {
		if err := guard.Unlock(); err != nil {
			log.Warn().Err(err).Msg("release workspace lock")
		}
	}()

	corpus, err := openCorpus(ctx, paths.Fingerprints, opts.LowMem)
	if err != nil {
		return fail(f, "scan", err)
	}
	defer corpus.Close()

	sessions, err := scanstore.Open(ctx, paths.Scans)
	if err != nil {
		return fail(f, "scan", err)
	}
	defer sessions.Close()

	logger := log.With().Str("command", "scan").Logger()
	svc := scanexec.NewService(corpus, sessions, opts.Fetch).
		WithProgressSink(&progressLogger{logger: logger}).
		WithCleanupOpener(func(ctx context.Context) (scanexec.SessionDeleter, error) {
			store, err := scanstore.Open(ctx, paths.Scans)
			if err != nil {
				return nil, err
			}
			return store, nil
		})
	if showProgress(cmd, f) {
		noColor, _ := cmd.Flags().GetBool("no-color")
		svc = svc.WithProgress(newProgressBars(cmd.ErrOrStderr(), !noColor))
	}

	res, err := svc.Run(ctx, opts.Params)
	switch {
	case err == nil:
		return f.PrintScan(res, opts.Outlines)
	case scanexec.IsWarning(err):
		logger.Debug().Err(err).Msg("product not identified")
		if f.IsStructured() && res != nil {
			return f.PrintScan(res, opts.Outlines)
		}
		return f.PrintWarning(err.Error(), scanexec.Suggestions(err))
	default:
		return fail(f, "scan", err)
	}
}

// openCorpus opens the fingerprint database and, unless lowMem is set,
// copies it into memory so scoring never touches the file.
func openCorpus(ctx context.Context, path string, lowMem bool) (fingerprint.Store, error) {
	db, err := fingerprint.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if lowMem {
		return db, nil
	}

	mem, err := fingerprint.LoadMemory(ctx, db)
	if closeErr := db.Close(); closeErr != nil {
		log.Debug().Err(closeErr).Msg("close fingerprint database")
	}
	if err != nil {
		return nil, fmt.Errorf("load fingerprints into memory: %w", err)
	}
	log.Debug().Str("path", path).Msg("fingerprints loaded into memory")
	return mem, nil
}
