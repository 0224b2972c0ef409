package eventbus

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nellylemmy/talktime-meeting-engine/meeting"
)

type recordingSubscriber struct {
	name string
	mu   sync.Mutex
	got  []meeting.Event
}

func (s *recordingSubscriber) Name() string { return s.name }

func (s *recordingSubscriber) Handle(ctx context.Context, e meeting.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, e)
	return nil
}

func (s *recordingSubscriber) snapshot() []meeting.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]meeting.Event(nil), s.got...)
}

type failNTimesSubscriber struct {
	name      string
	failCount int
	mu        sync.Mutex
	attempts  int
	delivered []meeting.Event
}

func (s *failNTimesSubscriber) Name() string { return s.name }

func (s *failNTimesSubscriber) Handle(ctx context.Context, e meeting.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.attempts <= s.failCount {
		return errors.New("transient failure")
	}
	s.delivered = append(s.delivered, e)
	return nil
}

func testConfig() Config {
	return Config{
		BufferSize:     100,
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
		FlushInterval:  20 * time.Millisecond,
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met before timeout")
	}
}

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	log := zerolog.New(io.Discard)
	bus := New(log, testConfig())
	sub1 := &recordingSubscriber{name: "sub1"}
	sub2 := &recordingSubscriber{name: "sub2"}
	bus.Subscribe(sub1)
	bus.Subscribe(sub2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop()

	e := meeting.Event{Kind: meeting.EventMeetingCreated, MeetingID: "m1", TransitionAt: time.Now().UTC()}
	bus.Publish(e)

	waitUntil(t, time.Second, func() bool { return len(sub1.snapshot()) == 1 && len(sub2.snapshot()) == 1 })
}

func TestPerMeetingEventOrderPreserved(t *testing.T) {
	log := zerolog.New(io.Discard)
	bus := New(log, testConfig())
	sub := &recordingSubscriber{name: "sub"}
	bus.Subscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop()

	base := time.Now().UTC()
	kinds := []meeting.EventKind{meeting.EventMeetingCreated, meeting.EventMeetingStarted, meeting.EventMeetingEnded}
	for i, k := range kinds {
		bus.Publish(meeting.Event{Kind: k, MeetingID: "m1", TransitionAt: base.Add(time.Duration(i) * time.Millisecond)})
	}

	waitUntil(t, time.Second, func() bool { return len(sub.snapshot()) == len(kinds) })

	got := sub.snapshot()
	for i, k := range kinds {
		if got[i].Kind != k {
			t.Fatalf("expected event %d to be %s, got %s", i, k, got[i].Kind)
		}
	}
}

func TestDeliveryRetriesOnSubscriberFailure(t *testing.T) {
	log := zerolog.New(io.Discard)
	bus := New(log, testConfig())
	sub := &failNTimesSubscriber{name: "flaky", failCount: 2}
	bus.Subscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop()

	bus.Publish(meeting.Event{Kind: meeting.EventMeetingCreated, MeetingID: "m1", TransitionAt: time.Now().UTC()})

	waitUntil(t, time.Second, func() bool {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		return len(sub.delivered) == 1
	})
}

func TestOutboxEnqueueIsIdempotentOnDedupeKey(t *testing.T) {
	o := NewOutbox()
	e := meeting.Event{Kind: meeting.EventMeetingCreated, MeetingID: "m1", TransitionAt: time.Unix(0, 0).UTC()}
	o.Enqueue(e)
	o.Enqueue(e)
	if o.Len() != 1 {
		t.Fatalf("expected duplicate enqueue to be a no-op, got len %d", o.Len())
	}
}

func TestOutboxAckRemovesPending(t *testing.T) {
	o := NewOutbox()
	e := meeting.Event{Kind: meeting.EventMeetingCreated, MeetingID: "m1", TransitionAt: time.Unix(0, 0).UTC()}
	o.Enqueue(e)
	o.Ack(e)
	if o.Len() != 0 {
		t.Fatalf("expected ack to remove the event, got len %d", o.Len())
	}
}

func TestOutboxPendingPreservesInsertionOrder(t *testing.T) {
	o := NewOutbox()
	e1 := meeting.Event{Kind: meeting.EventMeetingCreated, MeetingID: "m1", TransitionAt: time.Unix(0, 0).UTC()}
	e2 := meeting.Event{Kind: meeting.EventMeetingCreated, MeetingID: "m2", TransitionAt: time.Unix(1, 0).UTC()}
	o.Enqueue(e1)
	o.Enqueue(e2)

	pending := o.Pending()
	if len(pending) != 2 || pending[0].MeetingID != "m1" || pending[1].MeetingID != "m2" {
		t.Fatalf("expected insertion order preserved, got %+v", pending)
	}
}

func TestFlushLoopRedeliversStrandedEvent(t *testing.T) {
	log := zerolog.New(io.Discard)
	cfg := testConfig()
	cfg.FlushInterval = 10 * time.Millisecond
	bus := New(log, cfg)
	sub := &failNTimesSubscriber{name: "flaky", failCount: 100}
	bus.Subscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop()

	bus.Publish(meeting.Event{Kind: meeting.EventMeetingCreated, MeetingID: "m1", TransitionAt: time.Now().UTC()})

	waitUntil(t, time.Second, func() bool {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		return sub.attempts > 3
	})

	if bus.StatsSnapshot().OutboxPending == 0 {
		t.Fatal("expected the event to remain outbox-pending while the subscriber keeps failing")
	}
}
