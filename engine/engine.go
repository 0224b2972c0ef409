// Package engine wires the admission evaluator, lifecycle state
// machine, and scheduler into the single Engine facade the HTTP layer
// talks to, implementing the Admission API's seven operations.
package engine

import (
	"context"
	"time"

	"github.com/nellylemmy/talktime-meeting-engine/admission"
	"github.com/nellylemmy/talktime-meeting-engine/configcache"
	"github.com/nellylemmy/talktime-meeting-engine/eventbus"
	"github.com/nellylemmy/talktime-meeting-engine/lifecycle"
	"github.com/nellylemmy/talktime-meeting-engine/meeting"
	"github.com/nellylemmy/talktime-meeting-engine/store"
)

// Engine is the single entry point the transport layer depends on. It
// composes the Store, Admission Evaluator, Lifecycle State Machine, and
// Scheduler behind the Admission API's seven operations.
type Engine struct {
	store     store.Store
	directory store.ParticipantDirectory
	cache     *configcache.Cache
	sm        *lifecycle.StateMachine
	scheduler *lifecycle.Scheduler
	bus       *eventbus.Bus
}

// New assembles an Engine from its already-constructed collaborators.
func New(st store.Store, directory store.ParticipantDirectory, cache *configcache.Cache, sm *lifecycle.StateMachine, scheduler *lifecycle.Scheduler, bus *eventbus.Bus) *Engine {
	return &Engine{
		store:     st,
		directory: directory,
		cache:     cache,
		sm:        sm,
		scheduler: scheduler,
		bus:       bus,
	}
}

// CreateMeeting implements the createMeeting operation.
func (e *Engine) CreateMeeting(ctx context.Context, volunteerID, studentID string, scheduledStart time.Time, isInstant bool) (meeting.Meeting, error) {
	return e.sm.Create(ctx, admission.Request{
		VolunteerID:    volunteerID,
		StudentID:      studentID,
		ScheduledStart: scheduledStart,
		IsInstant:      isInstant,
	})
}

// RescheduleMeeting implements the rescheduleMeeting operation,
// re-validating byUserID against the meeting's participants before
// delegating to the state machine.
func (e *Engine) RescheduleMeeting(ctx context.Context, id string, newStart time.Time, byUserID string) (meeting.Meeting, error) {
	if err := e.authorize(ctx, id, byUserID); err != nil {
		return meeting.Meeting{}, err
	}
	return e.sm.Reschedule(ctx, id, newStart.Format(time.RFC3339), newStart, byUserID)
}

// CancelMeeting implements the cancelMeeting operation.
func (e *Engine) CancelMeeting(ctx context.Context, id, byUserID string) (meeting.Meeting, error) {
	if err := e.authorize(ctx, id, byUserID); err != nil {
		return meeting.Meeting{}, err
	}
	return e.sm.Cancel(ctx, id, byUserID)
}

// EndResult carries endMeeting's response shape: the updated meeting
// plus the two derived fields the response shape calls out explicitly.
type EndResult struct {
	Meeting               meeting.Meeting
	ActualDurationMinutes int
	FinalStatus           meeting.Status
}

// EndMeeting implements the endMeeting operation.
func (e *Engine) EndMeeting(ctx context.Context, idOrRoomID, byUserID string, reason meeting.EndReason) (EndResult, error) {
	if err := e.authorize(ctx, idOrRoomID, byUserID); err != nil {
		return EndResult{}, err
	}
	m, err := e.sm.End(ctx, idOrRoomID, byUserID, reason)
	if err != nil {
		return EndResult{}, err
	}
	actual := 0
	if !m.ActualStart.IsZero() && !m.EndedAt.IsZero() {
		actual = int(m.EndedAt.Sub(m.ActualStart).Minutes())
	}
	return EndResult{Meeting: m, ActualDurationMinutes: actual, FinalStatus: m.Status}, nil
}

// PeerJoin implements the signaling collaborator's peerJoin callback
// into the engine.
func (e *Engine) PeerJoin(ctx context.Context, roomID string) (meeting.Meeting, error) {
	return e.sm.HandlePeerJoin(ctx, roomID)
}

// PairSummary is listByStudent's response shape.
type PairSummary struct {
	ActiveMeeting *meeting.Meeting
	PairHistory   []meeting.Meeting
	Count         int
	Limit         int
	CanScheduleMore bool
}

// ListByStudent implements the listByStudent operation, scoped to
// the (volunteer, student) pair asVolunteerID is asking about.
func (e *Engine) ListByStudent(ctx context.Context, studentID, asVolunteerID string) (PairSummary, error) {
	all, err := e.store.ListByStudent(ctx, studentID)
	if err != nil {
		return PairSummary{}, serviceUnavailable(err)
	}

	settings := e.cache.Get(ctx)
	summary := PairSummary{Limit: settings.MeetingsPerVolunteerStudentPair}
	for i := range all {
		m := all[i]
		if m.VolunteerID != asVolunteerID {
			continue
		}
		if m.Status == meeting.StatusActive {
			cp := m
			summary.ActiveMeeting = &cp
		}
		summary.PairHistory = append(summary.PairHistory, m)
		if m.CountsAgainstPairLimit() {
			summary.Count++
		}
	}
	summary.CanScheduleMore = summary.Count < summary.Limit
	return summary, nil
}

// ListUpcoming implements the listUpcoming operation.
func (e *Engine) ListUpcoming(ctx context.Context, asUserID string, now time.Time) ([]meeting.Meeting, error) {
	ms, err := e.store.ListUpcoming(ctx, asUserID, now)
	if err != nil {
		return nil, serviceUnavailable(err)
	}
	return ms, nil
}

// ListPast implements the listPast operation.
func (e *Engine) ListPast(ctx context.Context, asUserID string, now time.Time) ([]meeting.Meeting, error) {
	ms, err := e.store.ListPast(ctx, asUserID, now)
	if err != nil {
		return nil, serviceUnavailable(err)
	}
	return ms, nil
}

// authorize re-validates byUserID against {volunteerId, studentId,
// anyAdmin} for the meeting named by idOrRoomID. The engine resolves
// "admin" role via the participant directory rather than trusting a
// client-asserted flag.
func (e *Engine) authorize(ctx context.Context, idOrRoomID, byUserID string) error {
	m, ok, err := e.store.FindByID(ctx, idOrRoomID)
	if err != nil {
		return serviceUnavailable(err)
	}
	if !ok {
		m, ok, err = e.store.FindByRoomID(ctx, idOrRoomID)
		if err != nil {
			return serviceUnavailable(err)
		}
		if !ok {
			return meeting.NewError(meeting.KindNotFound, "meeting not found", map[string]interface{}{"id": idOrRoomID})
		}
	}
	if byUserID == m.VolunteerID || byUserID == m.StudentID {
		return nil
	}
	if caller, found, err := e.directory.Find(ctx, byUserID); err == nil && found && caller.Role == meeting.RoleAdmin {
		return nil
	}
	return meeting.NewError(meeting.KindNotAuthorized, "caller is not a participant or admin on this meeting", map[string]interface{}{"meetingId": m.ID})
}

func serviceUnavailable(err error) error {
	return meeting.NewError(meeting.KindServiceUnavailable, err.Error(), nil)
}
