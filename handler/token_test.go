package handler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/nellylemmy/talktime-meeting-engine/meeting"
	"github.com/nellylemmy/talktime-meeting-engine/secretmanager"
	"github.com/nellylemmy/talktime-meeting-engine/store"
	"github.com/nellylemmy/talktime-meeting-engine/token"
)

type fixedDirectory struct{}

func (fixedDirectory) Find(ctx context.Context, id string) (meeting.User, bool, error) {
	return meeting.User{ID: id, Role: meeting.RoleStudent}, true, nil
}

func newTestTokenHandler(t *testing.T) (*TokenHandler, meeting.Meeting, string) {
	t.Helper()
	os.Setenv("TOKEN_SIGNING_SECRET", "test-secret")
	st := store.NewMemoryStore(fixedDirectory{})
	log := zerolog.New(io.Discard)

	m := meeting.Meeting{
		ID:             "m1",
		RoomID:         "room-1",
		Status:         meeting.StatusScheduled,
		VolunteerID:    "vol-1",
		StudentID:      "stu-1",
		ScheduledStart: time.Now().UTC().Add(time.Hour),
	}
	if err := st.Insert(context.Background(), m); err != nil {
		t.Fatalf("insert meeting: %v", err)
	}

	secrets := secretmanager.New(secretmanager.Config{Enabled: false})
	claims := token.Claims{
		MeetingID: m.ID,
		StudentID: m.StudentID,
		RoomID:    m.RoomID,
		IssuedAt:  time.Now().Unix(),
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	}
	tok, err := token.Sign(claims, "test-secret")
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	return NewTokenHandler(st, secrets, log), m, tok
}

func withIDParam(r *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestVerifyLinkTokenValid(t *testing.T) {
	h, m, tok := newTestTokenHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/meetings/"+m.ID+"/link-token/verify?token="+tok, nil)
	req = withIDParam(req, m.ID)
	rw := httptest.NewRecorder()
	h.VerifyLinkToken(rw, req)

	if rw.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Result().StatusCode, rw.Body.String())
	}
}

func TestVerifyLinkTokenMeetingMismatch(t *testing.T) {
	h, m, tok := newTestTokenHandler(t)

	other := meeting.Meeting{
		ID:             "m2",
		RoomID:         "room-2",
		Status:         meeting.StatusScheduled,
		VolunteerID:    "vol-1",
		StudentID:      "stu-2",
		ScheduledStart: time.Now().UTC().Add(time.Hour),
	}
	if err := h.store.Insert(context.Background(), other); err != nil {
		t.Fatalf("insert meeting: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/meetings/"+other.ID+"/link-token/verify?token="+tok, nil)
	req = withIDParam(req, other.ID)
	rw := httptest.NewRecorder()
	h.VerifyLinkToken(rw, req)

	_ = m
	if rw.Result().StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for meeting mismatch, got %d", rw.Result().StatusCode)
	}
}

func TestVerifyLinkTokenMissingQueryParam(t *testing.T) {
	h, m, _ := newTestTokenHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/meetings/"+m.ID+"/link-token/verify", nil)
	req = withIDParam(req, m.ID)
	rw := httptest.NewRecorder()
	h.VerifyLinkToken(rw, req)

	if rw.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Result().StatusCode)
	}
}
