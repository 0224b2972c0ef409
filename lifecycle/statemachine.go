// Package lifecycle implements the Lifecycle State Machine +
// Scheduler: the meeting status transitions, the per-meeting
// duration/warning timers, and the periodic auto-miss sweep.
package lifecycle

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/nellylemmy/talktime-meeting-engine/admission"
	"github.com/nellylemmy/talktime-meeting-engine/configcache"
	"github.com/nellylemmy/talktime-meeting-engine/eventbus"
	"github.com/nellylemmy/talktime-meeting-engine/meeting"
	"github.com/nellylemmy/talktime-meeting-engine/store"
)

// Clock abstracts "now" so tests can control it.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// StateMachine applies the explicit, caller-initiated transitions:
// reschedule, cancel, end, and peer-join. The wall-clock-driven
// transitions (auto-miss, duration expiry, instant timeout) live in
// Scheduler, which shares the same Store and Bus.
type StateMachine struct {
	store      store.Store
	admission  *admission.Evaluator
	bus        *eventbus.Bus
	cache      *configcache.Cache
	logger     zerolog.Logger
	clock      Clock
	scheduler  *Scheduler // set by Scheduler.Attach so End/Cancel/Reschedule can cancel timers
}

// New creates a StateMachine. Scheduler.Attach must be called once the
// Scheduler exists so timers can be canceled on explicit transitions.
func New(st store.Store, ev *admission.Evaluator, bus *eventbus.Bus, cache *configcache.Cache, logger zerolog.Logger) *StateMachine {
	return &StateMachine{
		store:     st,
		admission: ev,
		bus:       bus,
		cache:     cache,
		logger:    logger.With().Str("component", "lifecycle").Logger(),
		clock:     realClock{},
	}
}

// WithClock overrides the state machine's notion of "now"; used by
// tests.
func (sm *StateMachine) WithClock(c Clock) *StateMachine {
	sm.clock = c
	return sm
}

func (sm *StateMachine) attachScheduler(s *Scheduler) {
	sm.scheduler = s
}

// Create runs admission and, on acceptance, publishes meeting.created.
// It is the lifecycle package's entry point for the accept path so
// callers only ever go through one collaborator to create a meeting.
func (sm *StateMachine) Create(ctx context.Context, req admission.Request) (meeting.Meeting, error) {
	result, err := sm.admission.Evaluate(ctx, req)
	if err != nil {
		return meeting.Meeting{}, err
	}
	m := result.Meeting

	sm.bus.Publish(meeting.Event{
		Kind:         meeting.EventMeetingCreated,
		MeetingID:    m.ID,
		VolunteerID:  m.VolunteerID,
		StudentID:    m.StudentID,
		RoomID:       m.RoomID,
		TransitionAt: m.CreatedAt,
	})

	if sm.scheduler != nil {
		sm.scheduler.arm(m)
	}
	return m, nil
}

// Reschedule moves a scheduled meeting to newStart in place: roomId is
// preserved, rescheduleCount increments, originalScheduledStart is set
// only on the first reschedule, and the move must re-pass admission
// for (volunteer, student, newStart) excluding the meeting's own row.
func (sm *StateMachine) Reschedule(ctx context.Context, id, newStart string, newTime time.Time, byUserID string) (meeting.Meeting, error) {
	m, ok, err := sm.store.FindByID(ctx, id)
	if err != nil {
		return meeting.Meeting{}, serviceUnavailable(err)
	}
	if !ok || m.Status != meeting.StatusScheduled {
		return meeting.Meeting{}, meeting.NewError(meeting.KindIllegalTransition, "meeting is not in a reschedulable state", map[string]interface{}{"id": id})
	}

	if err := sm.admission.ValidateReschedule(ctx, admission.Request{
		VolunteerID:      m.VolunteerID,
		StudentID:        m.StudentID,
		ScheduledStart:   newTime,
		IsInstant:        m.IsInstant,
		ExcludeMeetingID: m.ID,
	}); err != nil {
		return meeting.Meeting{}, err
	}

	oldTime := m.ScheduledStart
	fields := store.Fields{}
	newStatus := meeting.StatusScheduled
	fields.Status = &newStatus
	fields.ScheduledStart = &newTime
	count := m.RescheduleCount + 1
	fields.RescheduleCount = &count
	now := sm.clock.Now()
	fields.LastRescheduledAt = &now
	fields.RescheduledBy = &byUserID
	if m.OriginalScheduledStart.IsZero() {
		fields.OriginalScheduledStart = &oldTime
	}

	updated, err := sm.store.Update(ctx, id, fields)
	if err != nil {
		return meeting.Meeting{}, serviceUnavailable(err)
	}

	sm.bus.Publish(meeting.Event{
		Kind:         meeting.EventMeetingRescheduled,
		MeetingID:    updated.ID,
		VolunteerID:  updated.VolunteerID,
		StudentID:    updated.StudentID,
		RoomID:       updated.RoomID,
		TransitionAt: now,
		OldTime:      oldTime,
		NewTime:      newTime,
	})

	if sm.scheduler != nil {
		sm.scheduler.reschedule(updated)
	}
	return updated, nil
}

// Cancel transitions a scheduled, pending or active meeting to canceled. Any
// other status is an illegal transition, including already-terminal
// states: this never silently succeeds.
func (sm *StateMachine) Cancel(ctx context.Context, id, byUserID string) (meeting.Meeting, error) {
	m, ok, err := sm.store.FindByID(ctx, id)
	if err != nil {
		return meeting.Meeting{}, serviceUnavailable(err)
	}
	if !ok || (m.Status != meeting.StatusScheduled && m.Status != meeting.StatusActive && m.Status != meeting.StatusPending) {
		return meeting.Meeting{}, meeting.NewError(meeting.KindIllegalTransition, "meeting cannot be canceled from its current state", map[string]interface{}{"id": id})
	}

	now := sm.clock.Now()
	newStatus := meeting.StatusCanceled
	reason := meeting.EndReasonCanceled
	updated, err := sm.store.Update(ctx, id, store.Fields{
		Status:    &newStatus,
		EndedAt:   &now,
		EndedBy:   &byUserID,
		EndReason: &reason,
	})
	if err != nil {
		return meeting.Meeting{}, serviceUnavailable(err)
	}

	sm.bus.Publish(meeting.Event{
		Kind:         meeting.EventMeetingCanceled,
		MeetingID:    updated.ID,
		VolunteerID:  updated.VolunteerID,
		StudentID:    updated.StudentID,
		RoomID:       updated.RoomID,
		TransitionAt: now,
		EndReason:    reason,
	})

	if sm.scheduler != nil {
		sm.scheduler.disarm(updated.ID)
	}
	return updated, nil
}

// End explicitly closes an active meeting. If the actual duration is
// below the configured minimum, the meeting still ends but does not
// count toward reputation — callers read endReason/finalStatus off the
// returned Meeting to distinguish the two cases.
func (sm *StateMachine) End(ctx context.Context, idOrRoomID, byUserID string, reason meeting.EndReason) (meeting.Meeting, error) {
	m, ok, err := sm.findByIDOrRoomID(ctx, idOrRoomID)
	if err != nil {
		return meeting.Meeting{}, serviceUnavailable(err)
	}
	if !ok || m.Status != meeting.StatusActive {
		return meeting.Meeting{}, meeting.NewError(meeting.KindIllegalTransition, "meeting is not active", map[string]interface{}{"id": idOrRoomID})
	}

	settings := sm.cache.Get(ctx)
	now := sm.clock.Now()
	actualMinutes := int(now.Sub(m.ActualStart).Minutes())

	finalStatus := meeting.StatusCompleted
	var cleared *bool
	if actualMinutes < settings.MinDurationMinutes {
		// Below the minimum countable duration; still terminal but
		// cleared from reputation bookkeeping automatically.
		finalStatus = meeting.StatusCanceled
		isCleared := true
		cleared = &isCleared
	}

	updated, err := sm.store.Update(ctx, m.ID, store.Fields{
		Status:         &finalStatus,
		EndedAt:        &now,
		EndedBy:        &byUserID,
		EndReason:      &reason,
		ClearedByAdmin: cleared,
	})
	if err != nil {
		return meeting.Meeting{}, serviceUnavailable(err)
	}

	sm.bus.Publish(meeting.Event{
		Kind:                  meeting.EventMeetingEnded,
		MeetingID:             updated.ID,
		VolunteerID:           updated.VolunteerID,
		StudentID:             updated.StudentID,
		RoomID:                updated.RoomID,
		TransitionAt:          now,
		DurationActualMinutes: actualMinutes,
		EndReason:             reason,
	})

	if sm.scheduler != nil {
		sm.scheduler.disarm(updated.ID)
	}
	return updated, nil
}

// HandlePeerJoin transitions scheduled/pending meetings to active once
// the signaling room reports both peers present. It is idempotent:
// joining an already-active meeting is a no-op.
func (sm *StateMachine) HandlePeerJoin(ctx context.Context, roomID string) (meeting.Meeting, error) {
	m, ok, err := sm.store.FindByRoomID(ctx, roomID)
	if err != nil {
		return meeting.Meeting{}, serviceUnavailable(err)
	}
	if !ok {
		return meeting.Meeting{}, meeting.NewError(meeting.KindNotFound, "room not found", map[string]interface{}{"roomId": roomID})
	}
	if m.Status == meeting.StatusActive {
		return m, nil
	}
	if m.Status != meeting.StatusScheduled && m.Status != meeting.StatusPending {
		return meeting.Meeting{}, meeting.NewError(meeting.KindIllegalTransition, "meeting is not joinable", map[string]interface{}{"roomId": roomID})
	}

	now := sm.clock.Now()
	newStatus := meeting.StatusActive
	updated, err := sm.store.Update(ctx, m.ID, store.Fields{
		Status:      &newStatus,
		ActualStart: &now,
	})
	if err != nil {
		return meeting.Meeting{}, serviceUnavailable(err)
	}

	sm.bus.Publish(meeting.Event{
		Kind:         meeting.EventMeetingStarted,
		MeetingID:    updated.ID,
		VolunteerID:  updated.VolunteerID,
		StudentID:    updated.StudentID,
		RoomID:       updated.RoomID,
		TransitionAt: now,
	})

	if sm.scheduler != nil {
		sm.scheduler.armActive(updated)
	}
	return updated, nil
}

func (sm *StateMachine) findByIDOrRoomID(ctx context.Context, idOrRoomID string) (meeting.Meeting, bool, error) {
	if m, ok, err := sm.store.FindByID(ctx, idOrRoomID); ok || err != nil {
		return m, ok, err
	}
	return sm.store.FindByRoomID(ctx, idOrRoomID)
}

func serviceUnavailable(err error) error {
	return meeting.NewError(meeting.KindServiceUnavailable, err.Error(), nil)
}
