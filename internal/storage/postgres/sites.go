package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/realtime-event-crawler/internal/crawler"
)

const siteColumns = "s.id, s.url, s.organisation_title, s.status, s.error_message, s.last_scraped_at, s.created_at"

// ListSites returns every site with its count of non-deleted events.
func (s *Store) ListSites(ctx context.Context) ([]crawler.Site, error) {
	query := fmt.Sprintf(`
SELECT %s, COUNT(e.id)
FROM %s s
LEFT JOIN %s e ON e.webpage_config_id = s.id AND e.deleted_at IS NULL
GROUP BY s.id
ORDER BY s.created_at, s.id`, siteColumns, s.tables.Sites, s.tables.Events)

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	var sites []crawler.Site
	for rows.Next() {
		var (
			site   crawler.Site
			status string
			count  int64
		)
		if err := rows.Scan(
			&site.ID,
			&site.URL,
			&site.OrganisationTitle,
			&status,
			&site.ErrorMessage,
			&site.LastScrapedAt,
			&site.CreatedAt,
			&count,
		); err != nil {
			return nil, fmt.Errorf("scan site row: %w", err)
		}
		if site.Status, err = crawler.ParseSiteStatus(status); err != nil {
			return nil, fmt.Errorf("site %d: %w", site.ID, err)
		}
		site.EventCount = int(count)
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sites: %w", err)
	}
	return sites, nil
}

// GetSite fetches one site.
func (s *Store) GetSite(ctx context.Context, id int64) (crawler.Site, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s s WHERE s.id = $1`, siteColumns, s.tables.Sites)
	var (
		site   crawler.Site
		status string
	)
	err := s.db.QueryRow(ctx, query, id).Scan(
		&site.ID,
		&site.URL,
		&site.OrganisationTitle,
		&status,
		&site.ErrorMessage,
		&site.LastScrapedAt,
		&site.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Site{}, fmt.Errorf("site %d: %w", id, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.Site{}, fmt.Errorf("get site: %w", err)
	}
	if site.Status, err = crawler.ParseSiteStatus(status); err != nil {
		return crawler.Site{}, fmt.Errorf("site %d: %w", id, err)
	}
	return site, nil
}

// CreateSite registers a URL in pending status.
func (s *Store) CreateSite(ctx context.Context, url string) (crawler.Site, error) {
	query := fmt.Sprintf(`
INSERT INTO %s (url, status) VALUES ($1, $2)
RETURNING id, created_at`, s.tables.Sites)

	site := crawler.Site{URL: url, Status: crawler.StatusPending}
	err := s.db.QueryRow(ctx, query, url, string(crawler.StatusPending)).Scan(&site.ID, &site.CreatedAt)
	if isUniqueViolation(err) {
		return crawler.Site{}, fmt.Errorf("site %q: %w", url, crawler.ErrDuplicateSite)
	}
	if err != nil {
		return crawler.Site{}, fmt.Errorf("create site: %w", err)
	}
	return site, nil
}

// DeleteSite removes a site and its events in one transaction.
func (s *Store) DeleteSite(ctx context.Context, id int64) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete site: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE webpage_config_id = $1`, s.tables.Events), id); err != nil {
		return fmt.Errorf("delete site events: %w", err)
	}
	tag, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.tables.Sites), id)
	if err != nil {
		return fmt.Errorf("delete site: %w", err)
	}
	if tag.RowsAffected() == 0 {
		err = fmt.Errorf("site %d: %w", id, crawler.ErrNotFound)
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete site: %w", err)
	}
	return nil
}

// MarkScraping moves a site into scraping unless a run is already in flight.
func (s *Store) MarkScraping(ctx context.Context, id int64) error {
	query := fmt.Sprintf(`
UPDATE %s SET status = $2, error_message = NULL
WHERE id = $1 AND status <> $2`, s.tables.Sites)

	tag, err := s.db.Exec(ctx, query, id, string(crawler.StatusScraping))
	if err != nil {
		return fmt.Errorf("mark scraping: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	// Distinguish a busy site from a missing one.
	if _, err := s.GetSite(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("site %d: %w", id, crawler.ErrSiteBusy)
}

// FinishScrape records the terminal state of a run.
func (s *Store) FinishScrape(ctx context.Context, id int64, completion crawler.Completion) error {
	query := fmt.Sprintf(`
UPDATE %s
SET status = $2,
	error_message = $3,
	last_scraped_at = CASE WHEN $4::boolean THEN now() ELSE last_scraped_at END
WHERE id = $1`, s.tables.Sites)

	tag, err := s.db.Exec(ctx, query, id, string(completion.Status), completion.ErrorMessage, completion.TouchLastScraped)
	if err != nil {
		return fmt.Errorf("finish scrape: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("site %d: %w", id, crawler.ErrNotFound)
	}
	return nil
}

// UpdateOrganisation stores the organisation title learned during extraction.
func (s *Store) UpdateOrganisation(ctx context.Context, id int64, title string) error {
	query := fmt.Sprintf(`UPDATE %s SET organisation_title = $2 WHERE id = $1`, s.tables.Sites)
	tag, err := s.db.Exec(ctx, query, id, title)
	if err != nil {
		return fmt.Errorf("update organisation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("site %d: %w", id, crawler.ErrNotFound)
	}
	return nil
}
