package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/nellylemmy/talktime-meeting-engine/engine"
	"github.com/nellylemmy/talktime-meeting-engine/meeting"
)

// MeetingsHandler exposes the Admission API as JSON over HTTP.
type MeetingsHandler struct {
	engine *engine.Engine
	logger zerolog.Logger
}

// NewMeetingsHandler creates a new meetings handler.
func NewMeetingsHandler(eng *engine.Engine, logger zerolog.Logger) *MeetingsHandler {
	return &MeetingsHandler{engine: eng, logger: logger.With().Str("handler", "meetings").Logger()}
}

type meetingDTO struct {
	ID                     string `json:"id"`
	RoomID                 string `json:"roomId"`
	Status                 string `json:"status"`
	VolunteerID            string `json:"volunteerId"`
	StudentID              string `json:"studentId"`
	ScheduledStart         string `json:"scheduledStart"`
	OriginalScheduledStart string `json:"originalScheduledStart,omitempty"`
	ActualStart            string `json:"actualStart,omitempty"`
	DurationMinutes        int    `json:"durationMinutes"`
	IsInstant              bool   `json:"isInstant"`
	RescheduleCount        int    `json:"rescheduleCount"`
	EndedAt                string `json:"endedAt,omitempty"`
	EndReason              string `json:"endReason,omitempty"`
	ClearedByAdmin         bool   `json:"clearedByAdmin"`
}

func toDTO(m meeting.Meeting) meetingDTO {
	dto := meetingDTO{
		ID:              m.ID,
		RoomID:          m.RoomID,
		Status:          string(m.Status),
		VolunteerID:     m.VolunteerID,
		StudentID:       m.StudentID,
		ScheduledStart:  m.ScheduledStart.UTC().Format(time.RFC3339),
		DurationMinutes: m.DurationMinutes,
		IsInstant:       m.IsInstant,
		RescheduleCount: m.RescheduleCount,
		ClearedByAdmin:  m.ClearedByAdmin,
	}
	if !m.OriginalScheduledStart.IsZero() {
		dto.OriginalScheduledStart = m.OriginalScheduledStart.UTC().Format(time.RFC3339)
	}
	if !m.ActualStart.IsZero() {
		dto.ActualStart = m.ActualStart.UTC().Format(time.RFC3339)
	}
	if !m.EndedAt.IsZero() {
		dto.EndedAt = m.EndedAt.UTC().Format(time.RFC3339)
	}
	if m.EndReason != "" {
		dto.EndReason = string(m.EndReason)
	}
	return dto
}

// CreateMeeting handles POST /v1/meetings.
func (h *MeetingsHandler) CreateMeeting(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VolunteerID    string `json:"volunteerId"`
		StudentID      string `json:"studentId"`
		ScheduledStart string `json:"scheduledStart"`
		IsInstant      bool   `json:"isInstant"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}

	var scheduledStart time.Time
	if req.IsInstant {
		scheduledStart = time.Now().UTC()
	} else {
		parsed, err := time.Parse(time.RFC3339, req.ScheduledStart)
		if err != nil {
			writeBadRequest(w, "scheduledStart must be RFC3339")
			return
		}
		scheduledStart = parsed
	}

	m, err := h.engine.CreateMeeting(r.Context(), req.VolunteerID, req.StudentID, scheduledStart, req.IsInstant)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"meeting": toDTO(m),
		"roomId":  m.RoomID,
	})
}

// RescheduleMeeting handles POST /v1/meetings/{id}/reschedule.
func (h *MeetingsHandler) RescheduleMeeting(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		NewStart string `json:"newStart"`
		ByUserID string `json:"byUserId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}
	newStart, err := time.Parse(time.RFC3339, req.NewStart)
	if err != nil {
		writeBadRequest(w, "newStart must be RFC3339")
		return
	}
	if req.ByUserID == "" {
		writeBadRequest(w, "byUserId is required")
		return
	}

	m, err := h.engine.RescheduleMeeting(r.Context(), id, newStart, req.ByUserID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"meeting": toDTO(m)})
}

// CancelMeeting handles POST /v1/meetings/{id}/cancel.
func (h *MeetingsHandler) CancelMeeting(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		ByUserID string `json:"byUserId"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.ByUserID == "" {
		writeBadRequest(w, "byUserId is required")
		return
	}

	m, err := h.engine.CancelMeeting(r.Context(), id, req.ByUserID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"meeting": toDTO(m)})
}

// EndMeeting handles POST /v1/meetings/{idOrRoomId}/end.
func (h *MeetingsHandler) EndMeeting(w http.ResponseWriter, r *http.Request) {
	idOrRoomID := chi.URLParam(r, "idOrRoomId")
	var req struct {
		ByUserID string `json:"byUserId"`
		Reason   string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.ByUserID == "" {
		writeBadRequest(w, "byUserId is required")
		return
	}
	reason := meeting.EndReason(req.Reason)
	if reason == "" {
		reason = meeting.EndReasonParticipantLeft
	}

	result, err := h.engine.EndMeeting(r.Context(), idOrRoomID, req.ByUserID, reason)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"meeting":               toDTO(result.Meeting),
		"actualDurationMinutes": result.ActualDurationMinutes,
		"finalStatus":           string(result.FinalStatus),
	})
}

// ListByStudent handles GET /v1/students/{studentId}/meetings, scoped
// by the requesting volunteer's own pair history via the
// ?asVolunteerId= query parameter.
func (h *MeetingsHandler) ListByStudent(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "studentId")
	asVolunteerID := r.URL.Query().Get("asVolunteerId")
	if asVolunteerID == "" {
		writeBadRequest(w, "asVolunteerId query parameter is required")
		return
	}

	summary, err := h.engine.ListByStudent(r.Context(), studentID, asVolunteerID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	history := make([]meetingDTO, 0, len(summary.PairHistory))
	for _, m := range summary.PairHistory {
		history = append(history, toDTO(m))
	}
	resp := map[string]interface{}{
		"pairHistory": history,
		"stats": map[string]interface{}{
			"count":           summary.Count,
			"limit":           summary.Limit,
			"canScheduleMore": summary.CanScheduleMore,
		},
	}
	if summary.ActiveMeeting != nil {
		resp["activeMeeting"] = toDTO(*summary.ActiveMeeting)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListUpcoming handles GET /v1/users/{userId}/meetings/upcoming.
func (h *MeetingsHandler) ListUpcoming(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	ms, err := h.engine.ListUpcoming(r.Context(), userID, time.Now().UTC())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"meetings": toDTOSlice(ms)})
}

// ListPast handles GET /v1/users/{userId}/meetings/past.
func (h *MeetingsHandler) ListPast(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	ms, err := h.engine.ListPast(r.Context(), userID, time.Now().UTC())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"meetings": toDTOSlice(ms)})
}

// PeerJoin handles POST /v1/rooms/{roomId}/join, the signaling
// collaborator's callback into the engine when both peers are present.
func (h *MeetingsHandler) PeerJoin(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")
	m, err := h.engine.PeerJoin(r.Context(), roomID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"meeting": toDTO(m)})
}

func toDTOSlice(ms []meeting.Meeting) []meetingDTO {
	out := make([]meetingDTO, 0, len(ms))
	for _, m := range ms {
		out = append(out, toDTO(m))
	}
	return out
}
