package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"solarforecast.org/internal/config"
	"solarforecast.org/internal/migrate"
	"solarforecast.org/internal/store/pg"
	"solarforecast.org/migrations"
)

var (
	seedsDir       string
	migrateTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd, migrateSeedCmd)
	migrateCmd.PersistentFlags().DurationVar(&migrateTimeout, "timeout", 30*time.Second, "Overall timeout")
	migrateSeedCmd.Flags().StringVar(&seedsDir, "seeds", "", "Directory with *.sql seed files")
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the PostgreSQL schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd.Context(), func(ctx context.Context, m *migrate.Manager) error {
			return m.Up(ctx)
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert the most recent migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd.Context(), func(ctx context.Context, m *migrate.Manager) error {
			return m.Down(ctx)
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations and whether they are applied",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd.Context(), func(ctx context.Context, m *migrate.Manager) error {
			history, err := m.Status(ctx)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), history, func(w io.Writer) error {
				if len(history) == 0 {
					_, err := fmt.Fprintln(w, "No migrations found.")
					return err
				}
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED")
				for _, r := range history {
					state, at := "pending", "-"
					if r.Applied() {
						state, at = "applied", r.AppliedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Version, state, at)
				}
				return tw.Flush()
			})
		})
	},
}

var migrateSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Apply seed files that have not run yet",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if seedsDir == "" {
			return errors.New("--seeds is required")
		}
		return withManager(cmd.Context(), func(ctx context.Context, m *migrate.Manager) error {
			return m.Seed(ctx)
		}, migrate.WithSeeds(os.DirFS(seedsDir)))
	},
}

func withManager(parent context.Context, fn func(context.Context, *migrate.Manager) error, opts ...migrate.Option) error {
	if cfg.Store.Kind != config.StorePostgres {
		return errors.New("migrations require store.kind=postgres")
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, migrateTimeout)
	defer cancel()

	store, err := pg.Open(cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return fn(ctx, migrate.NewManager(store.DB(), migrations.FS, opts...))
}
