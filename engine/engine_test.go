package engine

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nellylemmy/talktime-meeting-engine/admission"
	"github.com/nellylemmy/talktime-meeting-engine/configcache"
	"github.com/nellylemmy/talktime-meeting-engine/eventbus"
	"github.com/nellylemmy/talktime-meeting-engine/lifecycle"
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

func newTestEngine() (*Engine, time.Time) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	log := zerolog.New(io.Discard)
	st := store.NewMemoryStore(nil)
	cache := configcache.New(log, nil, time.Minute)
	locks := lockmanager.New()
	dir := fakeDirectory{users: map[string]meeting.User{
		"v1":    {ID: "v1", Role: meeting.RoleVolunteer},
		"s1":    {ID: "s1", Role: meeting.RoleStudent},
		"admin": {ID: "admin", Role: meeting.RoleAdmin},
	}}
	ev := admission.New(st, dir, cache, locks, log)
	bus := eventbus.New(log, eventbus.DefaultConfig())
	sm := lifecycle.New(st, ev, bus, cache, log)
	sched := lifecycle.NewScheduler(st, bus, cache, lifecycle.NoopWarningNotifier{}, log, time.Hour)
	sched.Attach(sm)
	return New(st, dir, cache, sm, sched, bus), now
}

func TestCreateMeetingThroughEngine(t *testing.T) {
	eng, now := newTestEngine()
	m, err := eng.CreateMeeting(context.Background(), "v1", "s1", now.Add(time.Hour), false)
	if err != nil {
		t.Fatalf("expected create to succeed, got: %v", err)
	}
	if m.Status != meeting.StatusScheduled {
		t.Fatalf("expected scheduled status, got %s", m.Status)
	}
}

func TestCancelMeetingRejectsNonParticipant(t *testing.T) {
	eng, now := newTestEngine()
	m, err := eng.CreateMeeting(context.Background(), "v1", "s1", now.Add(time.Hour), false)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	_, err = eng.CancelMeeting(context.Background(), m.ID, "stranger")
	if meeting.KindOf(err) != meeting.KindNotAuthorized {
		t.Fatalf("expected not_authorized for a non-participant canceler, got %s", meeting.KindOf(err))
	}
}

func TestCancelMeetingAllowsAdmin(t *testing.T) {
	eng, now := newTestEngine()
	m, err := eng.CreateMeeting(context.Background(), "v1", "s1", now.Add(time.Hour), false)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	updated, err := eng.CancelMeeting(context.Background(), m.ID, "admin")
	if err != nil {
		t.Fatalf("expected admin cancel to succeed, got: %v", err)
	}
	if updated.Status != meeting.StatusCanceled {
		t.Fatalf("expected canceled status, got %s", updated.Status)
	}
}

func TestCancelMeetingAllowsParticipant(t *testing.T) {
	eng, now := newTestEngine()
	m, err := eng.CreateMeeting(context.Background(), "v1", "s1", now.Add(time.Hour), false)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	updated, err := eng.CancelMeeting(context.Background(), m.ID, "s1")
	if err != nil {
		t.Fatalf("expected participant cancel to succeed, got: %v", err)
	}
	if updated.Status != meeting.StatusCanceled {
		t.Fatalf("expected canceled status, got %s", updated.Status)
	}
}

func TestListByStudentAggregatesPairSummary(t *testing.T) {
	eng, now := newTestEngine()
	if _, err := eng.CreateMeeting(context.Background(), "v1", "s1", now.AddDate(0, 0, 1), false); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := eng.CreateMeeting(context.Background(), "v1", "s1", now.AddDate(0, 0, 2), false); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	summary, err := eng.ListByStudent(context.Background(), "s1", "v1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Count != 2 {
		t.Fatalf("expected count 2, got %d", summary.Count)
	}
	if summary.Limit != configcache.Defaults().MeetingsPerVolunteerStudentPair {
		t.Fatalf("expected limit to match default pair limit, got %d", summary.Limit)
	}
	if !summary.CanScheduleMore {
		t.Fatal("expected more scheduling room to remain below the pair limit")
	}
}

func TestEndMeetingReportsActualDuration(t *testing.T) {
	eng, now := newTestEngine()
	m, err := eng.CreateMeeting(context.Background(), "v1", "s1", now.Add(time.Hour), false)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := eng.PeerJoin(context.Background(), m.RoomID); err != nil {
		t.Fatalf("peer join failed: %v", err)
	}

	result, err := eng.EndMeeting(context.Background(), m.ID, "v1", meeting.EndReasonParticipantLeft)
	if err != nil {
		t.Fatalf("end failed: %v", err)
	}
	if result.FinalStatus != result.Meeting.Status {
		t.Fatalf("expected FinalStatus to mirror the updated meeting's status")
	}
	if result.ActualDurationMinutes != 0 {
		t.Fatalf("expected 0 actual minutes for a meeting ended right after it started, got %d", result.ActualDurationMinutes)
	}
}

func TestRescheduleMeetingRejectsUnknownMeeting(t *testing.T) {
	eng, now := newTestEngine()
	_, err := eng.RescheduleMeeting(context.Background(), "missing", now.Add(2*time.Hour), "v1")
	if meeting.KindOf(err) != meeting.KindNotFound {
		t.Fatalf("expected not_found, got %s", meeting.KindOf(err))
	}
}
