package postgres

import (
	"context"
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-event-crawler/internal/storage/postgres/migrations"
)

func TestMigrateRejectsUnknownDirection(t *testing.T) {
	t.Parallel()

	err := Migrate(context.Background(), nil, "sideways", Tables{}, nil)
	require.ErrorContains(t, err, "unknown migration direction")

	err = Migrate(context.Background(), nil, MigrateUp, Tables{}, nil)
	require.ErrorContains(t, err, "pool is required")
}

func TestMigrateRejectsCustomTables(t *testing.T) {
	t.Parallel()

	err := Migrate(context.Background(), nil, MigrateUp, Tables{Sites: "venues"}, nil)
	require.ErrorIs(t, err, ErrCustomTables)
	require.ErrorContains(t, err, "venues/events")

	err = Migrate(context.Background(), nil, MigrateStatus, Tables{Events: "events; DROP TABLE sites"}, nil)
	require.ErrorContains(t, err, "invalid table name")

	// Default names spelled out are accepted and reach the pool check.
	err = Migrate(context.Background(), nil, MigrateUp, DefaultTables, nil)
	require.ErrorContains(t, err, "pool is required")
}

func TestEmbeddedMigrations(t *testing.T) {
	t.Parallel()

	files, err := fs.Glob(migrations.FS, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	raw, err := fs.ReadFile(migrations.FS, files[0])
	require.NoError(t, err)
	sql := string(raw)
	require.Contains(t, sql, "-- +goose Up")
	require.Contains(t, sql, "-- +goose Down")
	require.Contains(t, sql, "ON DELETE CASCADE")
	require.Contains(t, sql, "WHERE deleted_at IS NULL")
	for _, status := range []string{"pending", "scraping", "success_no_events_found", "failed_exception"} {
		require.True(t, strings.Contains(sql, "'"+status+"'"), status)
	}
}
