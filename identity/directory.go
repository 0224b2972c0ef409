// Package identity implements the HTTP client side of the identity
// collaborator boundary: resolving a participant id to its display
// name, role and timezone lives in an external service; this package
// only ever calls out to it.
//
// Uses a single pooled http.Client over a small JSON request/response
// shape, the same connector pattern used for every other outbound
// dependency in this codebase.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/nellylemmy/talktime-meeting-engine/meeting"
)

// HTTPDirectory resolves participant ids against an external identity
// service over HTTP, implementing store.ParticipantDirectory.
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewHTTPDirectory creates a directory client pointed at baseURL.
func NewHTTPDirectory(baseURL string, logger zerolog.Logger) *HTTPDirectory {
	transport := &http.Transport{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPDirectory{
		baseURL: baseURL,
		client: &http.Client{
			Transport: transport,
			Timeout:   5 * time.Second,
		},
		logger: logger.With().Str("component", "identity_directory").Logger(),
	}
}

type directoryResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Timezone    string `json:"timezone"`
	Found       bool   `json:"found"`
}

// Find implements store.ParticipantDirectory.
func (d *HTTPDirectory) Find(ctx context.Context, id string) (meeting.User, bool, error) {
	url := fmt.Sprintf("%s/participants/%s", d.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return meeting.User{}, false, err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return meeting.User{}, false, fmt.Errorf("identity directory unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return meeting.User{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return meeting.User{}, false, fmt.Errorf("identity directory returned status %d", resp.StatusCode)
	}

	var body directoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return meeting.User{}, false, fmt.Errorf("decoding identity directory response: %w", err)
	}
	if !body.Found {
		return meeting.User{}, false, nil
	}

	return meeting.User{
		ID:          body.ID,
		DisplayName: body.DisplayName,
		Role:        meeting.Role(body.Role),
		Timezone:    body.Timezone,
	}, true, nil
}
