package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-event-crawler/internal/crawler"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithDB(mock, Tables{})
	require.NoError(t, err)
	return store, mock
}

func strPtr(s string) *string { return &s }

func TestNewWithDBValidates(t *testing.T) {
	t.Parallel()

	_, err := NewWithDB(nil, Tables{})
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewWithDB(mock, Tables{Sites: "sites; DROP TABLE x"})
	require.ErrorContains(t, err, "invalid table name")
}

func TestListSitesScansCounts(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	created := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	scraped := created.Add(time.Hour)
	rows := mock.NewRows([]string{"id", "url", "organisation_title", "status", "error_message", "last_scraped_at", "created_at", "count"}).
		AddRow(int64(1), "https://a.example/", strPtr("A Org"), "success", nil, &scraped, created, int64(4)).
		AddRow(int64(2), "https://b.example/", nil, "pending", nil, nil, created, int64(0))
	mock.ExpectQuery(`SELECT .* FROM sites s\s+LEFT JOIN events e`).WillReturnRows(rows)

	sites, err := store.ListSites(context.Background())
	require.NoError(t, err)
	require.Len(t, sites, 2)
	require.Equal(t, crawler.StatusSuccess, sites[0].Status)
	require.Equal(t, "A Org", *sites[0].OrganisationTitle)
	require.Equal(t, 4, sites[0].EventCount)
	require.Equal(t, scraped, *sites[0].LastScrapedAt)
	require.Nil(t, sites[1].OrganisationTitle)
	require.Equal(t, crawler.StatusPending, sites[1].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSiteNotFound(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .* FROM sites s WHERE s.id = \$1`).WithArgs(int64(9)).WillReturnError(pgx.ErrNoRows)

	_, err := store.GetSite(context.Background(), 9)
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSite(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	created := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO sites \(url, status\)`).
		WithArgs("https://a.example/", "pending").
		WillReturnRows(mock.NewRows([]string{"id", "created_at"}).AddRow(int64(3), created))
	mock.ExpectQuery(`INSERT INTO sites \(url, status\)`).
		WithArgs("https://a.example/", "pending").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	site, err := store.CreateSite(context.Background(), "https://a.example/")
	require.NoError(t, err)
	require.Equal(t, int64(3), site.ID)
	require.Equal(t, crawler.StatusPending, site.Status)
	require.Equal(t, created, site.CreatedAt)

	_, err = store.CreateSite(context.Background(), "https://a.example/")
	require.ErrorIs(t, err, crawler.ErrDuplicateSite)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSiteCascades(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM events WHERE webpage_config_id = \$1`).WithArgs(int64(4)).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(`DELETE FROM sites WHERE id = \$1`).WithArgs(int64(4)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	require.NoError(t, store.DeleteSite(context.Background(), 4))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSiteMissingRollsBack(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM events`).WithArgs(int64(4)).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`DELETE FROM sites`).WithArgs(int64(4)).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectRollback()

	require.ErrorIs(t, store.DeleteSite(context.Background(), 4), crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkScraping(t *testing.T) {
	t.Parallel()

	t.Run("claims idle site", func(t *testing.T) {
		t.Parallel()
		store, mock := newMockStore(t)
		mock.ExpectExec(`UPDATE sites SET status = \$2, error_message = NULL\s+WHERE id = \$1 AND status <> \$2`).
			WithArgs(int64(1), "scraping").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		require.NoError(t, store.MarkScraping(context.Background(), 1))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("busy site", func(t *testing.T) {
		t.Parallel()
		store, mock := newMockStore(t)
		mock.ExpectExec(`UPDATE sites SET status`).WithArgs(int64(1), "scraping").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(`SELECT .* FROM sites s WHERE s.id`).WithArgs(int64(1)).
			WillReturnRows(mock.NewRows([]string{"id", "url", "organisation_title", "status", "error_message", "last_scraped_at", "created_at"}).
				AddRow(int64(1), "https://a.example/", nil, "scraping", nil, nil, time.Now()))
		require.ErrorIs(t, store.MarkScraping(context.Background(), 1), crawler.ErrSiteBusy)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing site", func(t *testing.T) {
		t.Parallel()
		store, mock := newMockStore(t)
		mock.ExpectExec(`UPDATE sites SET status`).WithArgs(int64(2), "scraping").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(`SELECT .* FROM sites s WHERE s.id`).WithArgs(int64(2)).WillReturnError(pgx.ErrNoRows)
		require.ErrorIs(t, store.MarkScraping(context.Background(), 2), crawler.ErrNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestFinishScrape(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	msg := "Failed to insert any events (2 failures)"
	mock.ExpectExec(`UPDATE sites\s+SET status = \$2`).
		WithArgs(int64(1), "failed_db_event_insert", &msg, false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE sites\s+SET status = \$2`).
		WithArgs(int64(1), "success", (*string)(nil), true).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.FinishScrape(context.Background(), 1, crawler.Completion{
		Status: crawler.StatusFailedDBEventInsert, ErrorMessage: &msg,
	}))
	require.NoError(t, store.FinishScrape(context.Background(), 1, crawler.Completion{
		Status: crawler.StatusSuccess, TouchLastScraped: true,
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOrganisationErrors(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE sites SET organisation_title`).WithArgs(int64(1), "Org").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec(`UPDATE sites SET organisation_title`).WithArgs(int64(2), "Org").
		WillReturnError(errors.New("conn closed"))

	require.ErrorIs(t, store.UpdateOrganisation(context.Background(), 1, "Org"), crawler.ErrNotFound)
	require.ErrorContains(t, store.UpdateOrganisation(context.Background(), 2, "Org"), "conn closed")
	require.NoError(t, mock.ExpectationsWereMet())
}
