// Package eventbus implements the Event Bus: a typed publish/subscribe
// channel carrying lifecycle transitions to downstream collaborators
// (notification scheduler, analytics reader, WebRTC signaling room).
//
// It uses the same buffered-channel, batching, graceful-shutdown
// worker shape as an analytics ingestion pipeline, repointed from
// batched usage records onto the six lifecycle Event kinds, published
// at-least-once through a durable Outbox so a publish failure after a
// successful store write is never silently lost.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nellylemmy/talktime-meeting-engine/meeting"
)

// Subscriber receives published events. It must be safe for concurrent
// reuse across dispatches and should dedupe by Event.DedupeKey() since
// delivery is at-least-once.
type Subscriber interface {
	Handle(ctx context.Context, e meeting.Event) error
	Name() string
}

// Config controls the bus's buffering and retry behavior.
type Config struct {
	BufferSize    int
	MaxRetries    int
	RetryBaseDelay time.Duration
	FlushInterval time.Duration // how often the outbox flusher re-attempts stranded events
}

// DefaultConfig is the transient-failure retry budget: 3 attempts,
// waiting 50ms before the second and 200ms before the third.
func DefaultConfig() Config {
	return Config{
		BufferSize:     10000,
		MaxRetries:     3,
		RetryBaseDelay: 50 * time.Millisecond,
		FlushInterval:  5 * time.Second,
	}
}

// Bus is the in-process event bus. A single dispatch worker consumes
// the event channel so that events for any one meetingId — a
// subsequence of the global arrival order — are always delivered to
// every subscriber in the order they were published.
type Bus struct {
	logger zerolog.Logger
	cfg    Config
	ch     chan meeting.Event
	outbox *Outbox

	mu          sync.RWMutex
	subscribers []Subscriber

	wg     sync.WaitGroup
	cancel context.CancelFunc

	published int64
	delivered int64
	dropped   int64
	statsMu   sync.Mutex

	// OnDeliveryExhausted, if set, is called whenever a subscriber still
	// fails after MaxRetries attempts. The event remains in the outbox
	// for the flusher regardless; this is purely an alerting hook.
	OnDeliveryExhausted func(subscriber string, e meeting.Event)
}

// New creates a Bus backed by its own Outbox.
func New(logger zerolog.Logger, cfg Config) *Bus {
	if cfg.BufferSize <= 0 {
		cfg = DefaultConfig()
	}
	return &Bus{
		logger: logger.With().Str("component", "event_bus").Logger(),
		cfg:    cfg,
		ch:     make(chan meeting.Event, cfg.BufferSize),
		outbox: NewOutbox(),
	}
}

// Subscribe registers s to receive every future published event.
func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, s)
}

// Start launches the dispatch worker and the outbox flusher.
func (b *Bus) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(2)
	go b.dispatchLoop(ctx)
	go b.flushLoop(ctx)
	b.logger.Info().Int("buffer_size", b.cfg.BufferSize).Msg("event bus started")
}

// Stop drains any buffered events and waits for in-flight dispatch to
// finish.
func (b *Bus) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	b.logger.Info().
		Int64("published", b.published).
		Int64("delivered", b.delivered).
		Int64("dropped", b.dropped).
		Int("outbox_pending", b.outbox.Len()).
		Msg("event bus stopped")
}

// Publish enqueues e for at-least-once delivery. It records e in the
// outbox before attempting delivery, so a process crash mid-dispatch
// leaves the event recoverable by the flusher rather than lost.
// Publish never blocks callers on a full buffer — the event is still
// outbox-durable and will be picked up by the next flush.
func (b *Bus) Publish(e meeting.Event) {
	if e.TransitionAt.IsZero() {
		e.TransitionAt = time.Now().UTC()
	}
	b.outbox.Enqueue(e)
	b.statsMu.Lock()
	b.published++
	b.statsMu.Unlock()

	select {
	case b.ch <- e:
	default:
		b.logger.Warn().Str("meetingId", e.MeetingID).Str("kind", string(e.Kind)).Msg("event channel full; relying on outbox flusher")
	}
}

func (b *Bus) dispatchLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			b.drain()
			return
		case e := <-b.ch:
			b.dispatch(ctx, e)
		}
	}
}

func (b *Bus) drain() {
	for {
		select {
		case e := <-b.ch:
			b.dispatch(context.Background(), e)
		default:
			return
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, e meeting.Event) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subscribers...)
	b.mu.RUnlock()

	ok := true
	for _, s := range subs {
		if err := b.deliverWithRetry(ctx, s, e); err != nil {
			ok = false
			b.logger.Error().Err(err).Str("subscriber", s.Name()).Str("meetingId", e.MeetingID).Str("kind", string(e.Kind)).Msg("subscriber failed after retries; event remains in outbox")
			if b.OnDeliveryExhausted != nil {
				b.OnDeliveryExhausted(s.Name(), e)
			}
		}
	}
	if ok {
		b.outbox.Ack(e)
		b.statsMu.Lock()
		b.delivered++
		b.statsMu.Unlock()
	}
}

func (b *Bus) deliverWithRetry(ctx context.Context, s Subscriber, e meeting.Event) error {
	delay := b.cfg.RetryBaseDelay
	var err error
	for attempt := 0; attempt < b.cfg.MaxRetries; attempt++ {
		if err = s.Handle(ctx, e); err == nil {
			return nil
		}
		if attempt < b.cfg.MaxRetries-1 {
			time.Sleep(delay)
			delay *= 4 // 50ms, then 200ms between attempts
		}
	}
	return err
}

// flushLoop periodically re-attempts everything still in the outbox —
// the at-least-once fallback for events dropped by a full channel or
// left behind by a crash before this process restarted.
func (b *Bus) flushLoop(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, e := range b.outbox.Pending() {
				b.dispatch(ctx, e)
			}
		}
	}
}

// Stats reports bus counters for /metrics and tests.
type Stats struct {
	Published     int64
	Delivered     int64
	OutboxPending int
}

func (b *Bus) StatsSnapshot() Stats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return Stats{Published: b.published, Delivered: b.delivered, OutboxPending: b.outbox.Len()}
}
