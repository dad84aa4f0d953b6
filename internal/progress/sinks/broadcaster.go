package sinks

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/realtime-event-crawler/internal/progress"
)

// DefaultSubscriberBuffer is the per-subscriber channel capacity.
const DefaultSubscriberBuffer = 64

// Broadcaster keeps the latest event per site and fans events out to live
// subscribers. A subscriber that falls behind misses events rather than
// stalling the hub.
type Broadcaster struct {
	mu     sync.RWMutex
	latest map[int64]progress.Event
	subs   map[int]chan progress.Event
	nextID int
	buffer int
	closed bool
}

// NewBroadcaster constructs an empty Broadcaster.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Broadcaster{
		latest: make(map[int64]progress.Event),
		subs:   make(map[int]chan progress.Event),
		buffer: buffer,
	}
}

// Consume records and fans out the batch.
func (b *Broadcaster) Consume(_ context.Context, batch []progress.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	for _, evt := range batch {
		if prev, ok := b.latest[evt.SiteID]; !ok || !evt.TS.Before(prev.TS) {
			b.latest[evt.SiteID] = evt
		}
		for _, ch := range b.subs {
			select {
			case ch <- evt:
			default:
			}
		}
	}
	return nil
}

// Latest returns the most recent event for every site, ordered by site ID.
func (b *Broadcaster) Latest() []progress.Event {
	b.mu.RLock()
	out := make([]progress.Event, 0, len(b.latest))
	for _, evt := range b.latest {
		out = append(out, evt)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SiteID < out[j].SiteID })
	return out
}

// LatestFor returns the most recent event for one site.
func (b *Broadcaster) LatestFor(siteID int64) (progress.Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	evt, ok := b.latest[siteID]
	return evt, ok
}

// Subscribe registers a live listener. The channel is closed by cancel or
// when the broadcaster shuts down.
func (b *Broadcaster) Subscribe() (<-chan progress.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan progress.Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Close disconnects every subscriber.
func (b *Broadcaster) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	return nil
}

// Name labels the sink in hub warnings.
func (*Broadcaster) Name() string { return "broadcaster" }
