package extractor

import "github.com/JakeFAU/realtime-event-crawler/internal/crawler"

// EventsSchema is the fixed structured-output contract for extraction.
func EventsSchema() *crawler.Schema {
	optional := func(desc string) *crawler.Schema {
		return &crawler.Schema{Type: "string", Description: desc, Nullable: true}
	}
	return &crawler.Schema{
		Type: "object",
		Properties: map[string]*crawler.Schema{
			"organisation_title": optional("The name of the organisation hosting these events"),
			"events": {
				Type:        "array",
				Description: "List of future events found on the webpage",
				Items: &crawler.Schema{
					Type: "object",
					Properties: map[string]*crawler.Schema{
						"title":      {Type: "string", Description: "The title or name of the event"},
						"event_date": {Type: "string", Description: "The date of the event in YYYY-MM-DD format"},
						"event_time": optional("The time of the event in HH:MM format (24-hour)"),
						"location":   optional("The location of the event (physical address or 'Online' if virtual)"),
						"location_city": optional("The city where the event takes place, or 'Online' for virtual events. " +
							"No suffixes like 'QLD' or 'City'. Major cities only; consolidate suburbs into their major city."),
						"description": optional("A brief description of the event"),
						"event_url": optional("The direct link to this event's page, often found in brackets next to " +
							"the event title like 'Event Title [https://example.com/event]'"),
					},
					Required: []string{"title", "event_date"},
				},
			},
		},
		Required: []string{"events"},
	}
}
