package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vulntor/wafp/cmd/wafp/internal/format"
	"github.com/vulntor/wafp/pkg/appctx"
	"github.com/vulntor/wafp/pkg/config"
	"github.com/vulntor/wafp/pkg/logging"
	"github.com/vulntor/wafp/pkg/scanexec"
	"github.com/vulntor/wafp/pkg/workspace"
)

const cliExecutable = "wafp"

// NewCommand constructs the top-level wafp CLI command, wiring global flags,
// configuration loading and workspace preparation.
func NewCommand() *cobra.Command {
	var (
		configFile     string
		workspaceDir   string
		verbosityCount int
		quiet          bool
		output         string
		noColor        bool
	)

	cmd := &cobra.Command{
		Use:   cliExecutable,
		Short: "wafp identifies web applications and their versions by file checksums",
		Long: `wafp fetches static files from a web application, hashes them and
compares the checksums against a corpus of known product versions.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := format.ValidateMode(output); err != nil {
				return &usageError{err: err}
			}

			root, err := workspace.Prepare(workspaceDir)
			if err != nil {
				return fmt.Errorf("prepare workspace: %w", err)
			}

			cfgPath := configFile
			if cfgPath == "" {
				cfgPath = workspace.ConfigFile(root)
			} else if _, err := os.Stat(cfgPath); err != nil {
				return &usageError{err: fmt.Errorf("config file: %w", err)}
			}

			mgr := config.NewManager()
			if err := mgr.Load(cmd.Flags(), cfgPath); err != nil {
				return err
			}
			cfg := mgr.Get()

			if err := logging.ConfigureGlobalLogging(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format); err != nil {
				return &usageError{err: fmt.Errorf("log level: %w", err)}
			}

			paths := appctx.Paths{
				Workspace:    root,
				Config:       cfgPath,
				Fingerprints: orDefault(cfg.Database.Fingerprints, workspace.FingerprintDB(root)),
				Scans:        orDefault(cfg.Database.Scans, workspace.ScanDB(root)),
			}

			ctx := appctx.WithConfig(cmd.Context(), mgr)
			ctx = appctx.WithPaths(ctx, paths)

			cmd.SetContext(ctx)
			if r := cmd.Root(); r != nil && r != cmd {
				r.SetContext(ctx)
			}

			log.Debug().
				Str("workspace", root).
				Str("config", cfgPath).
				Str("fingerprints", paths.Fingerprints).
				Str("scans", paths.Scans).
				Msg("workspace ready")
			return nil
		},
	}

	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	cmd.PersistentFlags().StringVar(&workspaceDir, "workspace-dir", "", "Override workspace root directory")
	cmd.PersistentFlags().CountVarP(&verbosityCount, "verbosity", "v", "Increase logging verbosity (repeatable)")
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only print errors")
	cmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format: table, json or yaml")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	config.BindFlags(cmd.PersistentFlags())

	cmd.AddGroup(&cobra.Group{ID: "scan", Title: "Scan Commands"})
	cmd.AddGroup(&cobra.Group{ID: "data", Title: "Data Commands"})

	cmd.AddCommand(NewScanCommand())
	cmd.AddCommand(NewProductsCommand())
	cmd.AddCommand(NewStoresCommand())
	cmd.AddCommand(NewDBInfoCommand())
	cmd.AddCommand(NewCorpusCommand())
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// Execute runs the CLI against os.Args and returns the process exit code.
func Execute(ctx context.Context) int {
	return Run(ctx, NewCommand(), os.Args[1:], os.Stdout, os.Stderr)
}

// Run executes root with args. Errors not already summarized by a command
// are printed to stderr before the exit code is returned.
func Run(ctx context.Context, root *cobra.Command, args []string, stdout, stderr io.Writer) int {
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	cmd, err := root.ExecuteContextC(ctx)
	if err == nil {
		return scanexec.ExitOK
	}

	var reported *reportedError
	if !errors.As(err, &reported) {
		if cmd == nil {
			cmd = root
		}
		_ = format.FromCommand(cmd).PrintError(err)
	}
	return ExitCode(err)
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// runtimeFrom returns the configuration and paths prepared by the root command.
func runtimeFrom(cmd *cobra.Command) (config.Config, appctx.Paths, error) {
	ctx := cmd.Context()
	mgr, ok := appctx.Config(ctx)
	if !ok {
		return config.Config{}, appctx.Paths{}, errors.New("configuration not loaded")
	}
	paths, ok := appctx.PathsFrom(ctx)
	if !ok {
		return config.Config{}, appctx.Paths{}, errors.New("workspace not prepared")
	}
	return mgr.Get(), paths, nil
}
