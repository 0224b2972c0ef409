// Package handler implements the thin JSON transport in front of the
// engine facade: the Admission API's operations, mapped onto HTTP by a
// rule fixed once here rather than per-handler. Engine errors carry a
// meeting.ErrorKind, and that kind decides the status code.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/nellylemmy/talktime-meeting-engine/meeting"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeEngineError maps a meeting.Error to its HTTP status using the
// engine's error-kind taxonomy and writes the standard error envelope.
func writeEngineError(w http.ResponseWriter, err error) {
	kind := meeting.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case meeting.KindTimeOutOfWindow, meeting.KindVolunteerRestricted,
		meeting.KindParticipantNotFound, meeting.KindDayConflict,
		meeting.KindPairLimitReached, meeting.KindIllegalTransition,
		meeting.KindDuplicateRoomID:
		status = http.StatusUnprocessableEntity
	case meeting.KindNotAuthorized:
		status = http.StatusForbidden
	case meeting.KindNotFound:
		status = http.StatusNotFound
	case meeting.KindServiceUnavailable:
		status = http.StatusServiceUnavailable
	case meeting.KindInternal:
		status = http.StatusInternalServerError
	}

	body := map[string]interface{}{
		"error": map[string]interface{}{
			"kind":    string(kind),
			"message": err.Error(),
		},
	}
	if e, ok := err.(*meeting.Error); ok && len(e.Details) > 0 {
		body["error"].(map[string]interface{})["details"] = e.Details
	}
	writeJSON(w, status, body)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error": map[string]interface{}{
			"kind":    "bad_request",
			"message": message,
		},
	})
}
