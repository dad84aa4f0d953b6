package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/realtime-event-crawler/internal/crawler"
)

const eventColumns = `id, title, to_char(event_date, 'YYYY-MM-DD'), event_time, location, location_city,
	description, source_url, event_url, webpage_config_id, scraped_at`

// FindActive returns the ID of a non-deleted event with the natural key.
func (s *Store) FindActive(ctx context.Context, key crawler.NaturalKey) (int64, error) {
	query := fmt.Sprintf(`
SELECT id FROM %s
WHERE title = $1 AND event_date = $2::date AND source_url = $3 AND deleted_at IS NULL
LIMIT 1`, s.tables.Events)

	var id int64
	err := s.db.QueryRow(ctx, query, key.Title, key.EventDate, key.SourceURL).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, crawler.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("find event: %w", err)
	}
	return id, nil
}

// Insert writes one event row and returns its ID.
func (s *Store) Insert(ctx context.Context, evt crawler.Event) (int64, error) {
	query := fmt.Sprintf(`
INSERT INTO %s (
	title,
	event_date,
	event_time,
	location,
	location_city,
	description,
	source_url,
	event_url,
	webpage_config_id,
	scraped_at
) VALUES (
	$1,$2::date,$3,$4,$5,$6,$7,$8,$9,$10
)
RETURNING id`, s.tables.Events)

	var id int64
	err := s.db.QueryRow(ctx, query,
		evt.Title,
		evt.EventDate,
		evt.EventTime,
		evt.Location,
		evt.LocationCity,
		evt.Description,
		evt.SourceURL,
		evt.EventURL,
		evt.SiteID,
		evt.ScrapedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	return id, nil
}

// ListEvents returns non-deleted events ordered by date and time.
func (s *Store) ListEvents(ctx context.Context, filter crawler.EventFilter) ([]crawler.Event, error) {
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE deleted_at IS NULL AND ($1::text = '' OR location_city = $1)
ORDER BY event_date, event_time NULLS FIRST, id`, eventColumns, s.tables.Events)

	rows, err := s.db.Query(ctx, query, filter.City)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []crawler.Event
	for rows.Next() {
		var evt crawler.Event
		if err := rows.Scan(
			&evt.ID,
			&evt.Title,
			&evt.EventDate,
			&evt.EventTime,
			&evt.Location,
			&evt.LocationCity,
			&evt.Description,
			&evt.SourceURL,
			&evt.EventURL,
			&evt.SiteID,
			&evt.ScrapedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// SoftDeleteEvent stamps deleted_at on an active event.
func (s *Store) SoftDeleteEvent(ctx context.Context, id int64) error {
	query := fmt.Sprintf(`UPDATE %s SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, s.tables.Events)
	tag, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("soft delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %d: %w", id, crawler.ErrNotFound)
	}
	return nil
}
