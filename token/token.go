// Package token validates a secure meeting link token: three
// dot-separated base64url segments — header, payload, HMAC-SHA256
// signature — consumed from an external collaborator.
// This is a compatibility constraint on wire shape only; the engine
// does not otherwise depend on JWT semantics (no registered claims
// beyond the four listed, no alg negotiation).
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/nellylemmy/talktime-meeting-engine/meeting"
)

type header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// Claims is the payload of a meeting link token.
type Claims struct {
	MeetingID string `json:"meetingId"`
	StudentID string `json:"studentId"`
	RoomID    string `json:"roomId"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

var b64 = base64.URLEncoding.WithPadding(base64.NoPadding)

// Sign builds a token for claims, signed with secret. Provided for
// the collaborators that mint these tokens and for tests; the engine
// itself only ever calls Validate.
func Sign(claims Claims, secret string) (string, error) {
	headerJSON, err := json.Marshal(header{Alg: "HS256", Typ: "JWT"})
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	signingInput := b64.EncodeToString(headerJSON) + "." + b64.EncodeToString(payloadJSON)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingInput))
	sig := b64.EncodeToString(mac.Sum(nil))
	return signingInput + "." + sig, nil
}

// Validate checks signature (constant-time compare), exp, and that
// meetingId/studentId/roomId match m.
func Validate(tok, secret string, m meeting.Meeting, now time.Time) (Claims, error) {
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return Claims{}, meeting.NewError(meeting.KindNotAuthorized, "malformed token", nil)
	}

	signingInput := parts[0] + "." + parts[1]
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingInput))
	expectedSig := b64.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(expectedSig), []byte(parts[2])) != 1 {
		return Claims{}, meeting.NewError(meeting.KindNotAuthorized, "invalid token signature", nil)
	}

	headerJSON, err := b64.DecodeString(parts[0])
	if err != nil {
		return Claims{}, meeting.NewError(meeting.KindNotAuthorized, "malformed token header", nil)
	}
	var h header
	if err := json.Unmarshal(headerJSON, &h); err != nil || h.Alg != "HS256" || h.Typ != "JWT" {
		return Claims{}, meeting.NewError(meeting.KindNotAuthorized, "unsupported token header", nil)
	}

	payloadJSON, err := b64.DecodeString(parts[1])
	if err != nil {
		return Claims{}, meeting.NewError(meeting.KindNotAuthorized, "malformed token payload", nil)
	}
	var claims Claims
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return Claims{}, meeting.NewError(meeting.KindNotAuthorized, "malformed token claims", nil)
	}

	if now.Unix() >= claims.ExpiresAt {
		return Claims{}, meeting.NewError(meeting.KindNotAuthorized, "token expired", map[string]interface{}{"exp": claims.ExpiresAt})
	}

	if claims.MeetingID != m.ID || claims.StudentID != m.StudentID || claims.RoomID != m.RoomID {
		return Claims{}, meeting.NewError(meeting.KindNotAuthorized, "meeting_mismatch", map[string]interface{}{
			"tokenMeetingId": claims.MeetingID,
			"meetingId":      m.ID,
		})
	}

	return claims, nil
}
