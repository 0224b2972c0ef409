package observability

import (
	"context"
	"time"

	"github.com/nellylemmy/talktime-meeting-engine/eventbus"
	"github.com/nellylemmy/talktime-meeting-engine/meeting"
)

// DatadogEventSubscriber forwards every lifecycle event onto DogStatsD
// as a counter, so call volume and outcome mix show up in whichever
// dashboard already consumes the agent's metrics.
type DatadogEventSubscriber struct {
	exporter *DatadogExporter
}

// NewDatadogEventSubscriber wraps an existing exporter as an
// eventbus.Subscriber.
func NewDatadogEventSubscriber(exporter *DatadogExporter) *DatadogEventSubscriber {
	return &DatadogEventSubscriber{exporter: exporter}
}

func (d *DatadogEventSubscriber) Name() string { return "datadog" }

func (d *DatadogEventSubscriber) Handle(_ context.Context, e meeting.Event) error {
	d.exporter.Count("lifecycle_events_total", 1, "kind:"+string(e.Kind))
	if e.Kind == meeting.EventMeetingEnded && e.DurationActualMinutes > 0 {
		d.exporter.Histogram("meeting_duration_minutes", float64(e.DurationActualMinutes))
	}
	return nil
}

var _ eventbus.Subscriber = (*DatadogEventSubscriber)(nil)

// SplunkEventSubscriber forwards every lifecycle event to Splunk HEC
// as an audit record, for retention outside the local log stream.
type SplunkEventSubscriber struct {
	forwarder *SplunkForwarder
}

// NewSplunkEventSubscriber wraps an existing forwarder as an
// eventbus.Subscriber.
func NewSplunkEventSubscriber(forwarder *SplunkForwarder) *SplunkEventSubscriber {
	return &SplunkEventSubscriber{forwarder: forwarder}
}

func (s *SplunkEventSubscriber) Name() string { return "splunk" }

func (s *SplunkEventSubscriber) Handle(_ context.Context, e meeting.Event) error {
	s.forwarder.LogAudit(string(e.Kind), e.VolunteerID, e.MeetingID, map[string]interface{}{
		"studentId":     e.StudentID,
		"roomId":        e.RoomID,
		"transitionAt":  e.TransitionAt,
		"endReason":     string(e.EndReason),
	})
	return nil
}

var _ eventbus.Subscriber = (*SplunkEventSubscriber)(nil)

// SchedulerStaller is the narrow view of lifecycle.Scheduler the
// watchdog below needs — satisfied by *lifecycle.Scheduler without an
// import cycle.
type SchedulerStaller interface {
	LastTickAt() time.Time
}

// WatchScheduler polls sched every checkInterval and pages through pd
// once its last tick falls behind tickInterval by more than grace,
// resolving the page once the scheduler catches back up. It returns
// once ctx is canceled.
func WatchScheduler(ctx context.Context, sched SchedulerStaller, pd *PagerDutyClient, tickInterval, grace, checkInterval time.Duration) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	stalled := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			age := time.Since(sched.LastTickAt())
			switch {
			case age > tickInterval+grace && !stalled:
				stalled = true
				_ = pd.AlertSchedulerStalled(age)
			case age <= tickInterval+grace && stalled:
				stalled = false
				_ = pd.AlertSchedulerRecovered()
			}
		}
	}
}
