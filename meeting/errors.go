package meeting

import (
	"errors"
	"fmt"
)

// ErrorKind is the admission/lifecycle error taxonomy.
// Kinds in the first group are user-visible input failures mapped to 4xx
// by the HTTP collaborator; ServiceUnavailable and Internal are the
// transient-infrastructure and invariant-violation groups respectively.
type ErrorKind string

const (
	KindTimeOutOfWindow    ErrorKind = "time_out_of_window"
	KindVolunteerRestricted ErrorKind = "volunteer_restricted"
	KindParticipantNotFound ErrorKind = "participant_not_found"
	KindDayConflict        ErrorKind = "day_conflict"
	KindPairLimitReached   ErrorKind = "pair_limit_reached"
	KindIllegalTransition  ErrorKind = "illegal_transition"
	KindNotAuthorized      ErrorKind = "not_authorized"
	KindServiceUnavailable ErrorKind = "service_unavailable"
	KindInternal           ErrorKind = "internal_error"
	KindNotFound           ErrorKind = "not_found"
	KindDuplicateRoomID    ErrorKind = "duplicate_room_id"
)

// Error is the engine's single error type. Details carries structured,
// kind-specific fields (e.g. cancelRate/missedRate/reputation for
// volunteer_restricted) so a rejection message stays self-consistent
// with the values actually used during evaluation.
type Error struct {
	Kind    ErrorKind
	Message string
	Details map[string]interface{}
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

// NewError builds an *Error with the given kind, message, and details.
func NewError(kind ErrorKind, message string, details map[string]interface{}) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

// KindOf extracts the ErrorKind from err if it is (or wraps) an *Error,
// otherwise returns KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
