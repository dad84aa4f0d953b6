package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-event-crawler/internal/storage/postgres/migrations"
)

// Migration directions accepted by Migrate.
const (
	MigrateUp     = "up"
	MigrateDown   = "down"
	MigrateStatus = "status"
)

// ErrCustomTables is returned when the configured table names differ from
// the ones the embedded migrations create.
var ErrCustomTables = errors.New("embedded migrations only manage the default sites and events tables")

// Migrate applies, reverts, or reports the embedded schema migrations. The
// migrations always target DefaultTables; stores configured with other table
// names must manage their schema out of band.
func Migrate(ctx context.Context, pool *pgxpool.Pool, direction string, tables Tables, logger *zap.Logger) error {
	switch direction {
	case MigrateUp, MigrateDown, MigrateStatus:
	default:
		return fmt.Errorf("unknown migration direction %q", direction)
	}
	tables, err := tables.withDefaults()
	if err != nil {
		return err
	}
	if tables != DefaultTables {
		return fmt.Errorf("%w: configured %s/%s", ErrCustomTables, tables.Sites, tables.Events)
	}
	if pool == nil {
		return errors.New("migrate: pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	db := stdlib.OpenDBFromPool(pool)
	defer func() {
		_ = db.Close()
	}()
	return runMigrations(ctx, db, direction, logger)
}

func runMigrations(ctx context.Context, db *sql.DB, direction string, logger *zap.Logger) error {
	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	defer func() {
		_ = provider.Close()
	}()

	switch direction {
	case MigrateUp:
		results, err := provider.Up(ctx)
		if err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		for _, res := range results {
			logger.Info("migration applied",
				zap.Int64("version", res.Source.Version),
				zap.String("path", res.Source.Path),
				zap.Duration("took", res.Duration),
			)
		}
		if len(results) == 0 {
			logger.Info("schema is up to date")
		}
	case MigrateDown:
		res, err := provider.Down(ctx)
		if err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		logger.Info("migration reverted", zap.Int64("version", res.Source.Version))
	case MigrateStatus:
		statuses, err := provider.Status(ctx)
		if err != nil {
			return fmt.Errorf("migration status: %w", err)
		}
		for _, st := range statuses {
			logger.Info("migration status",
				zap.Int64("version", st.Source.Version),
				zap.String("path", st.Source.Path),
				zap.String("state", string(st.State)),
				zap.Time("applied_at", st.AppliedAt),
			)
		}
	}
	return nil
}
