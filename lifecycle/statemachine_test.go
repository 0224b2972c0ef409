package lifecycle

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nellylemmy/talktime-meeting-engine/admission"
	"github.com/nellylemmy/talktime-meeting-engine/configcache"
	"github.com/nellylemmy/talktime-meeting-engine/eventbus"
	"github.com/nellylemmy/talktime-meeting-engine/lockmanager"
	"github.com/nellylemmy/talktime-meeting-engine/meeting"
	"github.com/nellylemmy/talktime-meeting-engine/store"
)

type fakeDirectory struct {
	users map[string]meeting.User
}

func (d fakeDirectory) Find(ctx context.Context, id string) (meeting.User, bool, error) {
	u, ok := d.users[id]
	return u, ok, nil
}

func defaultDirectory() fakeDirectory {
	return fakeDirectory{users: map[string]meeting.User{
		"v1": {ID: "v1", Role: meeting.RoleVolunteer, Timezone: "America/New_York"},
		"s1": {ID: "s1", Role: meeting.RoleStudent, Timezone: "America/New_York"},
	}}
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestStateMachine(now time.Time) (*StateMachine, store.Store, *eventbus.Bus) {
	log := zerolog.New(io.Discard)
	st := store.NewMemoryStore(nil)
	cache := configcache.New(log, nil, time.Minute)
	locks := lockmanager.New()
	dir := defaultDirectory()
	ev := admission.New(st, dir, cache, locks, log).WithClock(fixedClock{now: now})
	bus := eventbus.New(log, eventbus.DefaultConfig())
	sm := New(st, ev, bus, cache, log).WithClock(fixedClock{now: now})
	return sm, st, bus
}

func TestCreatePublishesMeetingCreated(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	sm, _, bus := newTestStateMachine(now)

	m, err := sm.Create(context.Background(), admission.Request{
		VolunteerID: "v1", StudentID: "s1", ScheduledStart: now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("expected create to succeed, got: %v", err)
	}
	if m.Status != meeting.StatusScheduled {
		t.Fatalf("expected scheduled, got %s", m.Status)
	}
	if got := bus.StatsSnapshot().Published; got != 1 {
		t.Fatalf("expected create to publish exactly 1 event, got %d", got)
	}
}

func TestRescheduleMovesMeetingPreservingRoomID(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	sm, _, _ := newTestStateMachine(now)

	created, err := sm.Create(context.Background(), admission.Request{
		VolunteerID: "v1", StudentID: "s1", ScheduledStart: now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	newStart := now.Add(5 * time.Hour)
	updated, err := sm.Reschedule(context.Background(), created.ID, "", newStart, "v1")
	if err != nil {
		t.Fatalf("reschedule failed: %v", err)
	}
	if updated.RoomID != created.RoomID {
		t.Fatalf("expected roomId preserved across reschedule, got %s != %s", updated.RoomID, created.RoomID)
	}
	if updated.RescheduleCount != 1 {
		t.Fatalf("expected rescheduleCount 1, got %d", updated.RescheduleCount)
	}
	if !updated.OriginalScheduledStart.Equal(now.Add(time.Hour)) {
		t.Fatalf("expected originalScheduledStart set to the first scheduled time, got %v", updated.OriginalScheduledStart)
	}
	if !updated.ScheduledStart.Equal(newStart) {
		t.Fatalf("expected scheduledStart updated, got %v", updated.ScheduledStart)
	}
}

func TestRescheduleSecondTimeKeepsOriginalScheduledStart(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	sm, _, _ := newTestStateMachine(now)

	created, err := sm.Create(context.Background(), admission.Request{
		VolunteerID: "v1", StudentID: "s1", ScheduledStart: now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	first, err := sm.Reschedule(context.Background(), created.ID, "", now.Add(5*time.Hour), "v1")
	if err != nil {
		t.Fatalf("first reschedule failed: %v", err)
	}

	second, err := sm.Reschedule(context.Background(), created.ID, "", now.Add(10*time.Hour), "v1")
	if err != nil {
		t.Fatalf("second reschedule failed: %v", err)
	}
	if !second.OriginalScheduledStart.Equal(first.OriginalScheduledStart) {
		t.Fatalf("expected originalScheduledStart to stay fixed across repeated reschedules, got %v vs %v", second.OriginalScheduledStart, first.OriginalScheduledStart)
	}
	if second.RescheduleCount != 2 {
		t.Fatalf("expected rescheduleCount 2, got %d", second.RescheduleCount)
	}
}

func TestCancelFromTerminalStateIsIllegal(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	sm, _, _ := newTestStateMachine(now)

	created, err := sm.Create(context.Background(), admission.Request{
		VolunteerID: "v1", StudentID: "s1", ScheduledStart: now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := sm.Cancel(context.Background(), created.ID, "v1"); err != nil {
		t.Fatalf("first cancel failed: %v", err)
	}

	_, err = sm.Cancel(context.Background(), created.ID, "v1")
	if meeting.KindOf(err) != meeting.KindIllegalTransition {
		t.Fatalf("expected illegal_transition on double-cancel, got %s", meeting.KindOf(err))
	}
}

func TestHandlePeerJoinTransitionsToActive(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	sm, _, _ := newTestStateMachine(now)

	created, err := sm.Create(context.Background(), admission.Request{
		VolunteerID: "v1", StudentID: "s1", ScheduledStart: now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	active, err := sm.HandlePeerJoin(context.Background(), created.RoomID)
	if err != nil {
		t.Fatalf("peer join failed: %v", err)
	}
	if active.Status != meeting.StatusActive {
		t.Fatalf("expected active status, got %s", active.Status)
	}

	again, err := sm.HandlePeerJoin(context.Background(), created.RoomID)
	if err != nil {
		t.Fatalf("expected idempotent second join to succeed, got: %v", err)
	}
	if again.Status != meeting.StatusActive {
		t.Fatalf("expected still active, got %s", again.Status)
	}
}

func TestEndBelowMinimumDurationDoesNotCountAsCompleted(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	sm, st, _ := newTestStateMachine(now)

	created, err := sm.Create(context.Background(), admission.Request{
		VolunteerID: "v1", StudentID: "s1", ScheduledStart: now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := sm.HandlePeerJoin(context.Background(), created.RoomID); err != nil {
		t.Fatalf("peer join failed: %v", err)
	}

	// End almost immediately, well under MinDurationMinutes (5).
	later := fixedClock{now: now.Add(time.Minute)}
	sm.WithClock(later)
	updated, err := sm.End(context.Background(), created.ID, "v1", meeting.EndReasonParticipantLeft)
	if err != nil {
		t.Fatalf("end failed: %v", err)
	}
	if updated.Status != meeting.StatusCanceled {
		t.Fatalf("expected a too-short meeting to end as canceled (not counted), got %s", updated.Status)
	}

	stats, err := st.PerformanceStats(context.Background(), "v1", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("performance stats failed: %v", err)
	}
	if stats.CompletedCount != 0 {
		t.Fatalf("expected the short meeting not to count as completed, got %d", stats.CompletedCount)
	}
}

func TestRescheduleNonScheduledMeetingIsIllegal(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	sm, _, _ := newTestStateMachine(now)

	created, err := sm.Create(context.Background(), admission.Request{
		VolunteerID: "v1", StudentID: "s1", ScheduledStart: now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := sm.Cancel(context.Background(), created.ID, "v1"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	_, err = sm.Reschedule(context.Background(), created.ID, "", now.Add(5*time.Hour), "v1")
	if meeting.KindOf(err) != meeting.KindIllegalTransition {
		t.Fatalf("expected illegal_transition rescheduling a canceled meeting, got %s", meeting.KindOf(err))
	}
}
