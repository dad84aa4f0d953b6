package sinks

import (
	"context"
	"fmt"

	"github.com/JakeFAU/realtime-event-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-event-crawler/internal/progress"
)

// PublisherSink forwards each progress event to the message bus.
type PublisherSink struct {
	publisher crawler.Publisher
	topic     string
}

// NewPublisherSink publishes events to topic through publisher.
func NewPublisherSink(publisher crawler.Publisher, topic string) *PublisherSink {
	return &PublisherSink{publisher: publisher, topic: topic}
}

// Consume publishes every event in order and stops at the first failure.
// The hub logs the error and moves on; progress delivery is best-effort.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s.publisher == nil {
		return nil
	}
	for _, evt := range batch {
		if _, err := s.publisher.Publish(ctx, s.topic, evt); err != nil {
			return fmt.Errorf("publish progress for site %d: %w", evt.SiteID, err)
		}
	}
	return nil
}

// Close implements the Sink interface. The publisher is owned by the caller.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}

// Name labels the sink in hub warnings.
func (*PublisherSink) Name() string { return "publisher" }
