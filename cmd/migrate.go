package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/realtime-event-crawler/internal/config"
	pgstore "github.com/JakeFAU/realtime-event-crawler/internal/storage/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Apply, revert, or report the Postgres schema migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{pgstore.MigrateUp, pgstore.MigrateDown, pgstore.MigrateStatus},
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			if rt.cfg.Storage.Backend != config.BackendPostgres {
				return errors.New("migrate requires storage.backend=postgres")
			}
			direction := pgstore.MigrateUp
			if len(args) == 1 {
				direction = args[0]
			}

			tables := pgstore.Tables{Sites: rt.cfg.DB.SitesTable, Events: rt.cfg.DB.EventsTable}
			store, err := pgstore.Open(cmd.Context(), pgstore.Config{
				DSN:             rt.cfg.DB.DSN,
				MaxConns:        2,
				MaxConnLifetime: time.Duration(rt.cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
				Tables:          tables,
			})
			if err != nil {
				return fmt.Errorf("open postgres: %w", err)
			}
			defer store.Close()

			if err := pgstore.Migrate(cmd.Context(), store.Pool(), direction, tables, rt.logger.Named("migrate")); err != nil {
				return fmt.Errorf("migrate %s: %w", direction, err)
			}
			return nil
		},
	}
}
