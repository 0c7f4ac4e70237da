package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vulntor/wafp/cmd/wafp/internal/format"
	"github.com/vulntor/wafp/pkg/likepattern"
	"github.com/vulntor/wafp/pkg/scanstore"
	"github.com/vulntor/wafp/pkg/workspace"
)

// NewStoresCommand lists stored scans and removes them.
func NewStoresCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "stores [pattern]",
		Aliases: []string{"sessions"},
		Short:   "List stored scans",
		Example: `  wafp stores
  wafp stores 'weekly%'`,
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

			store, err := scanstore.Open(cmd.Context(), paths.Scans)
			if err != nil {
				return fail(f, "list stored scans", err)
			}
			defer store.Close()

			sessions, err := store.List(cmd.Context(), pattern)
			if err != nil {
				return fail(f, "list stored scans", err)
			}
			if sessions == nil {
				sessions = []scanstore.Session{}
			}

			if f.IsStructured() {
				return f.PrintData(sessions)
			}
			if len(sessions) == 0 {
				return f.PrintSummary("No stored scans match " + strconv.Quote(pattern))
			}

			rows := make([][]string, 0, len(sessions))
			for _, s := range sessions {
				rows = append(rows, []string{
					s.Name,
					s.CreatedAt.Local().Format(time.DateTime),
					strconv.FormatInt(s.Results, 10),
					s.Info,
				})
			}
			return f.PrintTable([]string{"Name", "Created", "Results", "Info"}, rows)
		},
	}

	cmd.AddCommand(newStoresRemoveCommand())
	return cmd
}

func newStoresRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <name>...",
		Aliases: []string{"delete"},
		Short:   "Delete stored scans and their results",
		Args:    usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f := format.FromCommand(cmd)
			_, paths, err := runtimeFrom(cmd)
			if err != nil {
				return err
			}

			guard, err := workspace.Lock(paths.Workspace)
			if err != nil {
				return fail(f, "remove stored scans", err)
			}
			defer func() {
				if err := guard.Unlock(); err != nil {
					log.Warn().Err(err).Msg("release workspace lock")
				}
			}()

			store, err := scanstore.Open(ctx, paths.Scans)
			if err != nil {
				return fail(f, "remove stored scans", err)
			}
			defer store.Close()

			removed := make([]string, 0, len(args))
			for _, name := range args {
				if _, err := store.Session(ctx, name); err != nil {
					return fail(f, "remove stored scans", err)
				}
				if err := store.DeleteSession(ctx, name); err != nil {
					return fail(f, "remove stored scans", err)
				}
				log.Info().Str("session", name).Msg("stored scan removed")
				removed = append(removed, name)
			}

			if f.IsStructured() {
				return f.PrintData(map[string]any{"removed": removed})
			}
			return f.PrintSummary(fmt.Sprintf("Removed %d stored scan(s)", len(removed)))
		},
	}
}
