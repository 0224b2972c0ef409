// Package store defines the Meeting Store contract: an atomic store
// over Meeting rows with serializable semantics for the
// admission-critical queries.
package store

import (
	"context"
	"time"

	"github.com/nellylemmy/talktime-meeting-engine/meeting"
)

// MeetingWithParticipants pairs a Meeting with display info for both
// sides, the shape FindByRoomIDWithParticipants returns.
type MeetingWithParticipants struct {
	Meeting   meeting.Meeting
	Volunteer meeting.User
	Student   meeting.User
}

// Fields is a partial update: a nil field is left unchanged and every
// non-nil field is applied.
type Fields struct {
	Status                 *meeting.Status
	ScheduledStart         *time.Time
	OriginalScheduledStart *time.Time
	ActualStart            *time.Time
	RescheduleCount        *int
	LastRescheduledAt      *time.Time
	RescheduledBy          *string
	EndedAt                *time.Time
	EndedBy                *string
	EndReason              *meeting.EndReason
	ClearedByAdmin         *bool
}

// Store is the Meeting Store contract. Implementations must give the
// day-window read + insert and the pair-count read + insert sequences
// serializable isolation, either via a single transaction or an
// application-level advisory lock on (studentId, dayInStudentZone) /
// (volunteerId, studentId).
type Store interface {
	Insert(ctx context.Context, m meeting.Meeting) error
	Update(ctx context.Context, id string, fields Fields) (meeting.Meeting, error)

	FindByID(ctx context.Context, id string) (meeting.Meeting, bool, error)
	FindByRoomID(ctx context.Context, roomID string) (meeting.Meeting, bool, error)
	FindByRoomIDWithParticipants(ctx context.Context, roomID string) (MeetingWithParticipants, bool, error)

	// excludeMeetingID, if non-empty, omits that meeting from the count —
	// used by reschedule re-validation so a meeting doesn't collide with
	// its own pre-move row from before the reschedule.
	CountActivePair(ctx context.Context, volunteerID, studentID, excludeMeetingID string) (int, error)
	FindOverlappingDay(ctx context.Context, studentID string, utcStart, utcEnd time.Time, excludeMeetingID string) ([]meeting.Meeting, error)

	// MarkOverdueMissed sets status=missed on every scheduled row whose
	// scheduledStart plus timeout lies before now; pending rows are not
	// touched. It returns the rows it changed so the caller can fan
	// them out to the event bus. If volunteerID/studentID are non-empty
	// the sweep is restricted to that pair.
	MarkOverdueMissed(ctx context.Context, now time.Time, timeout time.Duration, volunteerID, studentID string) ([]meeting.Meeting, error)

	PerformanceStats(ctx context.Context, volunteerID string, now time.Time) (meeting.PerformanceStats, error)

	// ListByStatus returns every meeting currently in status, for the
	// scheduler's restart-time reconciliation scan and the
	// pending-instant-timeout sweep. Order is unspecified.
	ListByStatus(ctx context.Context, status meeting.Status) ([]meeting.Meeting, error)

	// ListByStudent returns every non-deleted meeting for a student,
	// newest scheduledStart first.
	ListByStudent(ctx context.Context, studentID string) ([]meeting.Meeting, error)

	// ListUpcoming/ListPast return meetings visible to asUserID (as
	// either volunteer or student). ListUpcoming holds non-terminal
	// meetings that start at or after now, plus active ones, soonest
	// first; ListPast holds every terminal meeting whatever its
	// scheduledStart, newest first. A scheduled meeting whose start has
	// passed appears in neither.
	ListUpcoming(ctx context.Context, asUserID string, now time.Time) ([]meeting.Meeting, error)
	ListPast(ctx context.Context, asUserID string, now time.Time) ([]meeting.Meeting, error)
}

// ParticipantDirectory resolves participant ids to Users. Owned by an
// identity collaborator out of scope for this engine; the store and
// admission packages only ever consume this narrow interface.
type ParticipantDirectory interface {
	Find(ctx context.Context, id string) (meeting.User, bool, error)
}
