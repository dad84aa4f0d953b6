package extractor

import (
	"fmt"
	"strings"
)

const promptTemplate = `Extract all upcoming events from the webpage content below.

Today's date is %[1]s. Only include events on or after %[1]s.
Only include events that are explicitly present in the content. DO NOT include or make up events.
If no events are found, return an empty events list.

Links in the content are written as "link text [URL]". When an event title has a link next to it,
use that URL as the event_url.

For location_city use the major city only (for example Brisbane, Sydney, Adelaide), consolidating
suburbs into their city, or "Online" for virtual events.

Also identify the name of the organisation that hosts these events, if stated.

Source page: %[2]s

Content:
%[3]s`

func buildPrompt(text, sourceURL, asOf string) string {
	return fmt.Sprintf(promptTemplate, asOf, sourceURL, strings.TrimSpace(text))
}
