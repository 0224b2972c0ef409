// PagerDuty Events API v2 integration. Fires alerts on scheduler
// stalls, exhausted event-bus retries, and admission service
// unavailability spikes.

package observability

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// PagerDutyConfig holds configuration for PagerDuty Events API v2.
type PagerDutyConfig struct {
	// RoutingKey is the PagerDuty Events API v2 integration key.
	RoutingKey string
	// Enabled controls whether alerts are sent.
	Enabled bool
	// SourceName identifies this gateway instance (e.g., "meeting-engine-prod-01").
	SourceName string
	// HTTPTimeout for the PagerDuty API call.
	HTTPTimeout time.Duration
}

// DefaultPagerDutyConfig returns defaults.
func DefaultPagerDutyConfig() PagerDutyConfig {
	return PagerDutyConfig{
		RoutingKey:  "",
		Enabled:     false,
		SourceName:  "meeting-engine",
		HTTPTimeout: 10 * time.Second,
	}
}

// PagerDutySeverity maps to PagerDuty alert severity.
type PagerDutySeverity string

const (
	PDSeverityCritical PagerDutySeverity = "critical"
	PDSeverityError    PagerDutySeverity = "error"
	PDSeverityWarning  PagerDutySeverity = "warning"
	PDSeverityInfo     PagerDutySeverity = "info"
)

// PagerDutyClient sends incidents to PagerDuty Events API v2.
type PagerDutyClient struct {
	cfg    PagerDutyConfig
	client *http.Client
	logger zerolog.Logger
}

const pagerDutyEventsURL = "https://events.pagerduty.com/v2/enqueue"

// NewPagerDutyClient creates a PagerDuty alerting client.
func NewPagerDutyClient(cfg PagerDutyConfig, logger zerolog.Logger) *PagerDutyClient {
	return &PagerDutyClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		logger: logger.With().Str("component", "pagerduty").Logger(),
	}
}

// TriggerAlert fires a PagerDuty alert.
func (pd *PagerDutyClient) TriggerAlert(
	severity PagerDutySeverity,
	summary string,
	dedupKey string,
	details map[string]interface{},
) error {
	if !pd.cfg.Enabled || pd.cfg.RoutingKey == "" {
		pd.logger.Debug().Str("summary", summary).Msg("PagerDuty disabled — alert suppressed")
		return nil
	}

	payload := map[string]interface{}{
		"routing_key":  pd.cfg.RoutingKey,
		"event_action": "trigger",
		"dedup_key":    dedupKey,
		"payload": map[string]interface{}{
			"summary":   summary,
			"severity":  string(severity),
			"source":    pd.cfg.SourceName,
			"component": "meeting-engine",
			"group":     "ai-platform",
			"class":     "infrastructure",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"custom_details": details,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("pagerduty: marshal failed: %w", err)
	}

	resp, err := pd.client.Post(pagerDutyEventsURL, "application/json", bytes.NewReader(body))
	if err != nil {
		pd.logger.Error().Err(err).Str("dedup_key", dedupKey).Msg("PagerDuty API call failed")
		return fmt.Errorf("pagerduty: API call failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		pd.logger.Error().Int("status", resp.StatusCode).Str("dedup_key", dedupKey).Msg("PagerDuty API error")
		return fmt.Errorf("pagerduty: HTTP %d", resp.StatusCode)
	}

	pd.logger.Info().Str("dedup_key", dedupKey).Str("severity", string(severity)).Msg("PagerDuty alert triggered")
	return nil
}

// ResolveAlert resolves a previously triggered alert.
func (pd *PagerDutyClient) ResolveAlert(dedupKey string) error {
	if !pd.cfg.Enabled || pd.cfg.RoutingKey == "" {
		return nil
	}

	payload := map[string]interface{}{
		"routing_key":  pd.cfg.RoutingKey,
		"event_action": "resolve",
		"dedup_key":    dedupKey,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("pagerduty: marshal failed: %w", err)
	}

	resp, err := pd.client.Post(pagerDutyEventsURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("pagerduty: resolve call failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	pd.logger.Info().Str("dedup_key", dedupKey).Msg("PagerDuty alert resolved")
	return nil
}

// ─── Convenience Wrappers for Common Alerts ─────────────────

// AlertSchedulerStalled fires when the lifecycle scheduler has missed
// its expected tick cadence, meaning grace/timeout sweeps are not
// running and meetings may overrun undetected.
func (pd *PagerDutyClient) AlertSchedulerStalled(lastTickAgo time.Duration) error {
	return pd.TriggerAlert(
		PDSeverityCritical,
		fmt.Sprintf("meeting engine: scheduler has not ticked in %s", lastTickAgo),
		"meeting-engine-scheduler-stalled",
		map[string]interface{}{
			"last_tick_ago_seconds": lastTickAgo.Seconds(),
		},
	)
}

// AlertSchedulerRecovered resolves a scheduler-stalled alert.
func (pd *PagerDutyClient) AlertSchedulerRecovered() error {
	return pd.ResolveAlert("meeting-engine-scheduler-stalled")
}

// AlertEventDeliveryExhausted fires when an event has exhausted all
// retry attempts and been dropped from the outbox.
func (pd *PagerDutyClient) AlertEventDeliveryExhausted(eventKind, meetingID string) error {
	return pd.TriggerAlert(
		PDSeverityError,
		fmt.Sprintf("meeting engine: event %s for meeting %s dropped after exhausting retries", eventKind, meetingID),
		fmt.Sprintf("meeting-engine-event-dropped-%s", meetingID),
		map[string]interface{}{
			"event_kind": eventKind,
			"meeting_id": meetingID,
		},
	)
}

// AlertAdmissionUnavailable fires when the admission path is
// rejecting requests with service_unavailable at a rate suggesting a
// downstream dependency (store, config cache) is impaired.
func (pd *PagerDutyClient) AlertAdmissionUnavailable(rejectPct float64, window string) error {
	return pd.TriggerAlert(
		PDSeverityCritical,
		fmt.Sprintf("meeting engine: admission service_unavailable rate %.1f%% over %s", rejectPct, window),
		"meeting-engine-admission-unavailable",
		map[string]interface{}{
			"reject_percentage": rejectPct,
			"window":            window,
		},
	)
}
