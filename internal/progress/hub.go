package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-event-crawler/internal/metrics"
)

// Config tunes the Hub. Zero values fall back to the package defaults.
type Config struct {
	// BufferSize bounds the channel between Emit and the batching loop.
	BufferSize int
	// MaxBatchEvents flushes a batch once it holds this many events.
	MaxBatchEvents int
	// MaxBatchWait flushes a partial batch after the first event has waited
	// this long.
	MaxBatchWait time.Duration
	// SinkTimeout caps each Consume call.
	SinkTimeout time.Duration
	// BaseContext parents every sink call.
	BaseContext context.Context
	Logger      *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 64
	defaultMaxBatchWait   = 100 * time.Millisecond
	defaultSinkTimeout    = 5 * time.Second
	dropWarnEvery         = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub collects progress events from every worker and hands them to the sinks
// in emit order. A batch is delivered when it fills, when MaxBatchWait
// elapses, or as soon as a run reaches a terminal status, so subscribers see
// completions without waiting on the timer.
type Hub struct {
	cfg    Config
	sinks  []Sink
	logger *zap.Logger

	events chan Event
	stop   chan struct{}
	done   chan struct{}

	closing   atomic.Bool
	stopOnce  sync.Once
	closeCtx  context.Context
	pending   atomic.Int64 // drops since the last warning
	dropTotal atomic.Int64
	lastWarn  atomic.Int64 // unix nanos
}

// NewHub starts the batching goroutine and returns a Hub ready for Emit.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:    cfg,
		logger: cfg.Logger,
		events: make(chan Event, cfg.BufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, s := range sinks {
		if s != nil {
			h.sinks = append(h.sinks, s)
		}
	}
	go h.loop()
	return h
}

// Emit queues evt without blocking. Events without a timestamp are stamped
// here; invalid events and events emitted after Close are discarded. When the
// buffer is full the event is dropped and counted.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closing.Load() {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event",
			zap.Int64("site_id", evt.SiteID),
			zap.String("status", string(evt.Status)),
			zap.Error(err),
		)
		return
	}
	select {
	case h.events <- evt:
	default:
		h.recordDrop(evt)
	}
}

// Dropped reports how many events were lost to backpressure since start.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropTotal.Load()
}

// Close stops intake, flushes buffered events, closes every sink, and waits
// for the batching goroutine. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.stopOnce.Do(func() {
		h.closing.Store(true)
		h.closeCtx = ctx
		close(h.stop)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) recordDrop(evt Event) {
	h.dropTotal.Add(1)
	h.pending.Add(1)
	metrics.ObserveProgressDropped()

	now := time.Now().UnixNano()
	last := h.lastWarn.Load()
	if now-last < dropWarnEvery.Nanoseconds() || !h.lastWarn.CompareAndSwap(last, now) {
		return
	}
	h.logger.Warn("progress events dropped due to backpressure",
		zap.Int64("dropped", h.pending.Swap(0)),
		zap.Int64("site_id", evt.SiteID),
	)
}

// batcher owns the in-flight batch and its deadline. It is only touched by
// the loop goroutine.
type batcher struct {
	buf      []Event
	max      int
	wait     time.Duration
	timer    *time.Timer
	deadline bool
}

func newBatcher(size int, wait time.Duration) *batcher {
	t := time.NewTimer(wait)
	if !t.Stop() {
		<-t.C
	}
	return &batcher{buf: make([]Event, 0, size), max: size, wait: wait, timer: t}
}

// add appends evt and reports whether the batch should go out now.
func (b *batcher) add(evt Event) bool {
	b.buf = append(b.buf, evt)
	if len(b.buf) >= b.max || evt.Status.Terminal() {
		return true
	}
	if !b.deadline {
		b.timer.Reset(b.wait)
		b.deadline = true
	}
	return false
}

// take hands back the current batch and clears the deadline.
func (b *batcher) take() []Event {
	if b.deadline {
		if !b.timer.Stop() {
			select {
			case <-b.timer.C:
			default:
			}
		}
		b.deadline = false
	}
	out := append([]Event(nil), b.buf...)
	b.buf = b.buf[:0]
	return out
}

func (h *Hub) loop() {
	defer close(h.done)
	b := newBatcher(h.cfg.MaxBatchEvents, h.cfg.MaxBatchWait)
	for {
		select {
		case evt := <-h.events:
			if b.add(evt) {
				h.deliver(b.take())
			}
		case <-b.timer.C:
			b.deadline = false
			h.deliver(b.take())
		case <-h.stop:
			h.drain(b)
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) drain(b *batcher) {
	for {
		select {
		case evt := <-h.events:
			if b.add(evt) {
				h.deliver(b.take())
			}
		default:
			h.deliver(b.take())
			return
		}
	}
}

func (h *Hub) deliver(batch []Event) {
	if len(batch) == 0 {
		return
	}
	for _, s := range h.sinks {
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		err := s.Consume(ctx, batch)
		cancel()
		if err != nil {
			h.logger.Warn("progress sink consume failed",
				zap.String("sink", sinkName(s)),
				zap.Int("batch", len(batch)),
				zap.Int64("first_site_id", batch[0].SiteID),
				zap.Error(err),
			)
		}
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, s := range h.sinks {
		if err := s.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.String("sink", sinkName(s)), zap.Error(err))
		}
	}
}
