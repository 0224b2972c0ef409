package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nellylemmy/talktime-meeting-engine/meeting"
)

// MemoryStore is an in-process Store implementation. A single mutex
// guards the whole table, which trivially gives every operation
// serializable isolation relative to every other operation on this
// process — the cross-call TOCTOU race a read-then-insert sequence
// would otherwise be exposed to is instead closed by the admission
// package holding a lockmanager lock across its own read-then-insert
// sequence (see admission.Evaluator).
type MemoryStore struct {
	mu        sync.RWMutex
	byID      map[string]meeting.Meeting
	byRoomID  map[string]string // roomID -> id
	directory ParticipantDirectory
}

// NewMemoryStore creates an empty store. directory resolves participant
// ids for FindByRoomIDWithParticipants; it may be nil if that method is
// unused.
func NewMemoryStore(directory ParticipantDirectory) *MemoryStore {
	return &MemoryStore{
		byID:      make(map[string]meeting.Meeting),
		byRoomID:  make(map[string]string),
		directory: directory,
	}
}

func (s *MemoryStore) Insert(ctx context.Context, m meeting.Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byRoomID[m.RoomID]; exists {
		return meeting.NewError(meeting.KindDuplicateRoomID, "roomId already exists", map[string]interface{}{"roomId": m.RoomID})
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.UpdatedAt = m.CreatedAt
	m.SetStatus(m.Status)
	s.byID[m.ID] = m
	s.byRoomID[m.RoomID] = m.ID
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, f Fields) (meeting.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return meeting.Meeting{}, meeting.NewError(meeting.KindNotFound, "meeting not found", map[string]interface{}{"id": id})
	}

	if f.Status != nil {
		m.SetStatus(*f.Status)
	}
	if f.ScheduledStart != nil {
		m.ScheduledStart = *f.ScheduledStart
	}
	if f.OriginalScheduledStart != nil {
		m.OriginalScheduledStart = *f.OriginalScheduledStart
	}
	if f.ActualStart != nil {
		m.ActualStart = *f.ActualStart
	}
	if f.RescheduleCount != nil {
		m.RescheduleCount = *f.RescheduleCount
	}
	if f.LastRescheduledAt != nil {
		m.LastRescheduledAt = *f.LastRescheduledAt
	}
	if f.RescheduledBy != nil {
		m.RescheduledBy = *f.RescheduledBy
	}
	if f.EndedAt != nil {
		m.EndedAt = *f.EndedAt
	}
	if f.EndedBy != nil {
		m.EndedBy = *f.EndedBy
	}
	if f.EndReason != nil {
		m.EndReason = *f.EndReason
	}
	if f.ClearedByAdmin != nil {
		m.ClearedByAdmin = *f.ClearedByAdmin
	}
	m.UpdatedAt = time.Now().UTC()

	s.byID[id] = m
	return m, nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (meeting.Meeting, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	return m, ok, nil
}

func (s *MemoryStore) FindByRoomID(ctx context.Context, roomID string) (meeting.Meeting, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byRoomID[roomID]
	if !ok {
		return meeting.Meeting{}, false, nil
	}
	return s.byID[id], true, nil
}

func (s *MemoryStore) FindByRoomIDWithParticipants(ctx context.Context, roomID string) (MeetingWithParticipants, bool, error) {
	m, ok, err := s.FindByRoomID(ctx, roomID)
	if err != nil || !ok {
		return MeetingWithParticipants{}, ok, err
	}
	var out MeetingWithParticipants
	out.Meeting = m
	if s.directory != nil {
		if v, ok, _ := s.directory.Find(ctx, m.VolunteerID); ok {
			out.Volunteer = v
		}
		if st, ok, _ := s.directory.Find(ctx, m.StudentID); ok {
			out.Student = st
		}
	}
	return out, true, nil
}

func (s *MemoryStore) CountActivePair(ctx context.Context, volunteerID, studentID, excludeMeetingID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, m := range s.byID {
		if excludeMeetingID != "" && m.ID == excludeMeetingID {
			continue
		}
		if m.VolunteerID == volunteerID && m.StudentID == studentID && m.CountsAgainstPairLimit() {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) FindOverlappingDay(ctx context.Context, studentID string, utcStart, utcEnd time.Time, excludeMeetingID string) ([]meeting.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []meeting.Meeting
	for _, m := range s.byID {
		if excludeMeetingID != "" && m.ID == excludeMeetingID {
			continue
		}
		if m.StudentID != studentID {
			continue
		}
		if m.Status != meeting.StatusScheduled && m.Status != meeting.StatusActive {
			continue
		}
		if !m.ScheduledStart.Before(utcStart) && m.ScheduledStart.Before(utcEnd) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledStart.Before(out[j].ScheduledStart) })
	return out, nil
}

func (s *MemoryStore) MarkOverdueMissed(ctx context.Context, now time.Time, timeout time.Duration, volunteerID, studentID string) ([]meeting.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []meeting.Meeting
	for id, m := range s.byID {
		if m.Status != meeting.StatusScheduled {
			continue
		}
		if volunteerID != "" && m.VolunteerID != volunteerID {
			continue
		}
		if studentID != "" && m.StudentID != studentID {
			continue
		}
		if !m.ScheduledStart.Add(timeout).Before(now) {
			continue
		}
		m.SetStatus(meeting.StatusMissed)
		m.EndedAt = now
		m.EndReason = meeting.EndReasonAutoMissed
		m.UpdatedAt = now
		s.byID[id] = m
		changed = append(changed, m)
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].ScheduledStart.Before(changed[j].ScheduledStart) })
	return changed, nil
}

func (s *MemoryStore) PerformanceStats(ctx context.Context, volunteerID string, now time.Time) (meeting.PerformanceStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := meeting.PerformanceStats{VolunteerID: volunteerID}
	for _, m := range s.byID {
		if m.VolunteerID != volunteerID || m.ClearedByAdmin {
			continue
		}
		if m.ScheduledStart.After(now) {
			continue // only past meetings count toward reputation
		}
		switch m.Status {
		case meeting.StatusCompleted:
			stats.CompletedCount++
		case meeting.StatusCanceled:
			stats.CanceledCount++
		case meeting.StatusMissed:
			stats.MissedCount++
		}
	}
	return stats, nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status meeting.Status) ([]meeting.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []meeting.Meeting
	for _, m := range s.byID {
		if m.Status == status {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledStart.Before(out[j].ScheduledStart) })
	return out, nil
}

func (s *MemoryStore) ListByStudent(ctx context.Context, studentID string) ([]meeting.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []meeting.Meeting
	for _, m := range s.byID {
		if m.StudentID == studentID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledStart.After(out[j].ScheduledStart) })
	return out, nil
}

func (s *MemoryStore) ListUpcoming(ctx context.Context, asUserID string, now time.Time) ([]meeting.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []meeting.Meeting
	for _, m := range s.byID {
		if m.VolunteerID != asUserID && m.StudentID != asUserID {
			continue
		}
		if m.Status.Terminal() {
			continue
		}
		if m.ScheduledStart.Before(now) && m.Status != meeting.StatusActive {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledStart.Before(out[j].ScheduledStart) })
	return out, nil
}

func (s *MemoryStore) ListPast(ctx context.Context, asUserID string, now time.Time) ([]meeting.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []meeting.Meeting
	for _, m := range s.byID {
		if m.VolunteerID != asUserID && m.StudentID != asUserID {
			continue
		}
		if !m.Status.Terminal() {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledStart.After(out[j].ScheduledStart) })
	return out, nil
}
