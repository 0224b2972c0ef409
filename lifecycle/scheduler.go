package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nellylemmy/talktime-meeting-engine/configcache"
	"github.com/nellylemmy/talktime-meeting-engine/eventbus"
	"github.com/nellylemmy/talktime-meeting-engine/meeting"
	"github.com/nellylemmy/talktime-meeting-engine/store"
)

// WarningNotifier is the narrow collaborator interface the scheduler
// calls into for the two pre-expiry warnings issued before a meeting's
// duration expires. Reminder delivery itself (push/email/etc.) is an
// external collaborator out of scope for this engine; the scheduler
// only ever calls this interface.
type WarningNotifier interface {
	NotifyWarning(ctx context.Context, m meeting.Meeting, minutesRemaining int)
}

// NoopWarningNotifier discards warnings; NewScheduler uses it when it
// is given a nil notifier.
type NoopWarningNotifier struct{}

func (NoopWarningNotifier) NotifyWarning(context.Context, meeting.Meeting, int) {}

// Scheduler owns two wall-clock-driven mechanisms: the periodic tick
// that sweeps scheduled/pending meetings past their grace or
// instant-response window, and the per-meeting in-memory timers
// (duration expiry + two warnings) for every active meeting.
//
// The tick loop is a standard ticker-driven background-loop: a single
// goroutine wakes on a fixed interval, sweeps, and reschedules. The
// per-meeting timer table layered on top of it has no equivalent in a
// simple health-check poller, since each active meeting needs its own
// independent expiry and warning timers rather than one shared one.
type Scheduler struct {
	sm       *StateMachine
	store    store.Store
	bus      *eventbus.Bus
	cache    *configcache.Cache
	notifier WarningNotifier
	logger   zerolog.Logger
	clock    Clock
	interval time.Duration

	mu     sync.Mutex
	timers map[string]*meetingTimers // meetingId -> active timers

	cancel context.CancelFunc
	done   chan struct{}

	lastTickMu sync.RWMutex
	lastTickAt time.Time
}

type meetingTimers struct {
	duration  *time.Timer
	warning1  *time.Timer
	warning2  *time.Timer
}

func (t *meetingTimers) stopAll() {
	if t.duration != nil {
		t.duration.Stop()
	}
	if t.warning1 != nil {
		t.warning1.Stop()
	}
	if t.warning2 != nil {
		t.warning2.Stop()
	}
}

// NewScheduler creates a Scheduler ticking at interval (once per
// minute is a reasonable default). Call Attach to bind it to a
// StateMachine before Start.
func NewScheduler(st store.Store, bus *eventbus.Bus, cache *configcache.Cache, notifier WarningNotifier, logger zerolog.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if notifier == nil {
		notifier = NoopWarningNotifier{}
	}
	return &Scheduler{
		store:      st,
		bus:        bus,
		cache:      cache,
		notifier:   notifier,
		logger:     logger.With().Str("component", "scheduler").Logger(),
		clock:      realClock{},
		interval:   interval,
		timers:     make(map[string]*meetingTimers),
		done:       make(chan struct{}),
		lastTickAt: time.Now().UTC(),
	}
}

// WithClock overrides the scheduler's notion of "now"; used by tests.
func (s *Scheduler) WithClock(c Clock) *Scheduler {
	s.clock = c
	return s
}

// Attach binds the scheduler to the StateMachine it drives transitions
// through, and lets the StateMachine reach back in to arm/disarm
// per-meeting timers on explicit operations.
func (s *Scheduler) Attach(sm *StateMachine) {
	s.sm = sm
	sm.attachScheduler(s)
}

// Start launches the tick loop and, to stay restart-safe, reconstructs
// every active meeting's timers by scanning the store and recomputing
// remaining time — any meeting that should already have expired
// transitions to completed immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	if err := s.reconcile(ctx); err != nil {
		return err
	}
	go s.tickLoop(ctx)
	s.logger.Info().Dur("interval", s.interval).Msg("lifecycle scheduler started")
	return nil
}

// LastTickAt reports when the sweep loop last ran, for an external
// liveness watchdog to compare against the configured interval.
func (s *Scheduler) LastTickAt() time.Time {
	s.lastTickMu.RLock()
	defer s.lastTickMu.RUnlock()
	return s.lastTickAt
}

// Stop cancels the tick loop and every outstanding per-meeting timer.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.timers {
		t.stopAll()
	}
	s.timers = make(map[string]*meetingTimers)
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick sweeps every pair's overdue scheduled meetings and emits
// meeting.missed for each. A store error leaves the affected meetings
// in their prior state; the next tick retries.
func (s *Scheduler) tick(ctx context.Context) {
	s.lastTickMu.Lock()
	s.lastTickAt = s.clock.Now()
	s.lastTickMu.Unlock()

	settings := s.cache.Get(ctx)
	now := s.clock.Now()

	missed, err := s.store.MarkOverdueMissed(ctx, now, time.Duration(settings.AutoTimeoutMinutes)*time.Minute, "", "")
	if err != nil {
		s.logger.Error().Err(err).Msg("auto-miss sweep failed; retrying next tick")
		return
	}
	for _, m := range missed {
		s.bus.Publish(meeting.Event{
			Kind:         meeting.EventMeetingMissed,
			MeetingID:    m.ID,
			VolunteerID:  m.VolunteerID,
			StudentID:    m.StudentID,
			RoomID:       m.RoomID,
			TransitionAt: now,
			EndReason:    meeting.EndReasonAutoMissed,
		})
		s.disarm(m.ID)
	}

	s.expirePendingInstant(ctx, settings)
}

// expirePendingInstant handles the pending->canceled instant-call
// timeout: no accept within instantResponseSeconds of createdAt.
func (s *Scheduler) expirePendingInstant(ctx context.Context, settings configcache.Settings) {
	// MarkOverdueMissed only ever inspects status=scheduled rows; pending
	// instant calls are swept separately here since their timeout window
	// and resulting status (canceled, not missed) differ.
	timeout := time.Duration(settings.InstantResponseTimeoutSeconds) * time.Second
	now := s.clock.Now()

	pending, err := s.store.ListByStatus(ctx, meeting.StatusPending)
	if err != nil {
		s.logger.Error().Err(err).Msg("pending instant scan failed")
		return
	}
	for _, m := range pending {
		if !m.CreatedAt.Add(timeout).Before(now) {
			continue
		}
		newStatus := meeting.StatusCanceled
		reason := meeting.EndReasonAutoMissed
		updated, err := s.store.Update(ctx, m.ID, store.Fields{Status: &newStatus, EndedAt: &now, EndReason: &reason})
		if err != nil {
			s.logger.Error().Err(err).Str("meetingId", m.ID).Msg("instant timeout transition failed; retrying next tick")
			continue
		}
		s.bus.Publish(meeting.Event{
			Kind:         meeting.EventMeetingCanceled,
			MeetingID:    updated.ID,
			VolunteerID:  updated.VolunteerID,
			StudentID:    updated.StudentID,
			RoomID:       updated.RoomID,
			TransitionAt: now,
			EndReason:    reason,
		})
		s.disarm(updated.ID)
	}
}

// reconcile reconstructs per-meeting timers for every currently active
// meeting, to stay restart-safe. Meetings whose duration already
// elapsed transition to completed immediately rather than waiting for
// a timer that would fire in the past.
func (s *Scheduler) reconcile(ctx context.Context) error {
	settings := s.cache.Get(ctx)
	now := s.clock.Now()

	active, err := s.store.ListByStatus(ctx, meeting.StatusActive)
	if err != nil {
		return err
	}
	for _, m := range active {
		duration := time.Duration(m.DurationMinutes) * time.Minute
		if m.ActualStart.IsZero() {
			duration = time.Duration(settings.MeetingDurationMinutes) * time.Minute
		}
		expiresAt := m.ActualStart.Add(duration)
		if !expiresAt.After(now) {
			s.completeExpired(ctx, m)
			continue
		}
		s.armActive(m)
	}
	return nil
}

func (s *Scheduler) completeExpired(ctx context.Context, m meeting.Meeting) {
	now := s.clock.Now()
	actualMinutes := int(now.Sub(m.ActualStart).Minutes())
	finalStatus := meeting.StatusCompleted
	reason := meeting.EndReasonTimerExpired
	updated, err := s.store.Update(ctx, m.ID, store.Fields{Status: &finalStatus, EndedAt: &now, EndReason: &reason})
	if err != nil {
		s.logger.Error().Err(err).Str("meetingId", m.ID).Msg("restart-time expiry transition failed")
		return
	}
	s.bus.Publish(meeting.Event{
		Kind:                  meeting.EventMeetingEnded,
		MeetingID:             updated.ID,
		VolunteerID:           updated.VolunteerID,
		StudentID:             updated.StudentID,
		RoomID:                updated.RoomID,
		TransitionAt:          now,
		DurationActualMinutes: actualMinutes,
		EndReason:             reason,
	})
}

// arm schedules nothing by itself for a freshly-created scheduled
// meeting — duration timers only start once the meeting becomes
// active (armActive). Present for symmetry with disarm/reschedule and
// as the hook Create calls so future scheduled-side timers (e.g. a
// pre-start reminder) have a natural home.
func (s *Scheduler) arm(meeting.Meeting) {}

// reschedule is a no-op for timer bookkeeping: a scheduled meeting has
// no active timers yet, and the grace sweep reads scheduledStart
// straight from the store on every tick.
func (s *Scheduler) reschedule(meeting.Meeting) {}

// armActive starts the duration-expiry and two warning timers for a
// meeting that just became active, using remaining = scheduledStart-
// equivalent (actualStart) + duration - now so the timers self-correct
// across wall-clock jumps rather than relying on a fixed sleep.
func (s *Scheduler) armActive(m meeting.Meeting) {
	settings := s.cache.Get(context.Background())
	duration := time.Duration(m.DurationMinutes) * time.Minute
	if duration <= 0 {
		duration = time.Duration(settings.MeetingDurationMinutes) * time.Minute
	}
	expiresAt := m.ActualStart.Add(duration)
	now := s.clock.Now()
	remaining := expiresAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}

	w1 := remaining - time.Duration(settings.Warning1Minutes)*time.Minute
	w2 := remaining - time.Duration(settings.Warning2Minutes)*time.Minute

	mt := &meetingTimers{}
	mt.duration = time.AfterFunc(remaining, func() { s.onDurationExpired(m.ID) })
	if w1 > 0 {
		mt.warning1 = time.AfterFunc(w1, func() { s.onWarning(m.ID, settings.Warning1Minutes) })
	}
	if w2 > 0 {
		mt.warning2 = time.AfterFunc(w2, func() { s.onWarning(m.ID, settings.Warning2Minutes) })
	}

	s.mu.Lock()
	if prev, ok := s.timers[m.ID]; ok {
		prev.stopAll()
	}
	s.timers[m.ID] = mt
	s.mu.Unlock()
}

// disarm cancels every outstanding timer for a meeting — called on
// cancel/end/missed and on any other transition that takes the
// meeting out of active, since those transitions must cancel any
// pending duration and warning timers.
func (s *Scheduler) disarm(meetingID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[meetingID]; ok {
		t.stopAll()
		delete(s.timers, meetingID)
	}
}

func (s *Scheduler) onDurationExpired(meetingID string) {
	ctx := context.Background()
	m, ok, err := s.store.FindByID(ctx, meetingID)
	if err != nil || !ok || m.Status != meeting.StatusActive {
		return // already transitioned by an explicit end/cancel; nothing to do
	}

	now := s.clock.Now()
	actualMinutes := int(now.Sub(m.ActualStart).Minutes())
	finalStatus := meeting.StatusCompleted
	reason := meeting.EndReasonTimerExpired
	updated, err := s.store.Update(ctx, meetingID, store.Fields{Status: &finalStatus, EndedAt: &now, EndReason: &reason})
	if err != nil {
		s.logger.Error().Err(err).Str("meetingId", meetingID).Msg("duration-expiry transition failed")
		return
	}

	s.bus.Publish(meeting.Event{
		Kind:                  meeting.EventMeetingEnded,
		MeetingID:             updated.ID,
		VolunteerID:           updated.VolunteerID,
		StudentID:             updated.StudentID,
		RoomID:                updated.RoomID,
		TransitionAt:          now,
		DurationActualMinutes: actualMinutes,
		EndReason:             reason,
	})
	s.disarm(meetingID)
}

func (s *Scheduler) onWarning(meetingID string, minutesRemaining int) {
	ctx := context.Background()
	m, ok, err := s.store.FindByID(ctx, meetingID)
	if err != nil || !ok || m.Status != meeting.StatusActive {
		return
	}
	s.notifier.NotifyWarning(ctx, m, minutesRemaining)
}
