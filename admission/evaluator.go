// Package admission implements the Admission Evaluator: the policy
// layer deciding whether a candidate (volunteer, student, time) may
// become a Meeting.
package admission

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/nellylemmy/talktime-meeting-engine/configcache"
	"github.com/nellylemmy/talktime-meeting-engine/lockmanager"
	"github.com/nellylemmy/talktime-meeting-engine/meeting"
	"github.com/nellylemmy/talktime-meeting-engine/store"
	"github.com/nellylemmy/talktime-meeting-engine/timezone"
)

// Request is a candidate meeting admission is asked to evaluate.
type Request struct {
	VolunteerID    string
	StudentID      string
	ScheduledStart time.Time
	IsInstant      bool

	// ExcludeMeetingID, if set, omits that meeting from the day-conflict
	// and pair-limit counts. Used when re-validating a reschedule so the
	// meeting being moved doesn't count against itself.
	ExcludeMeetingID string
}

// Result is the accepted outcome: the fresh RoomID and the Meeting row
// as inserted.
type Result struct {
	Meeting meeting.Meeting
	RoomID  string
}

// Clock abstracts "now" so tests can control it; production code uses
// realClock.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// DistributedLock optionally backs a second, cross-process advisory
// lock in front of the in-process lockmanager, for deployments running
// more than one Evaluator instance — lockmanager alone only closes the
// admission TOCTOU race within a single process. Nil (the default)
// leaves the in-process lock as the only serialization boundary.
type DistributedLock interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

const (
	distLockTTL        = 5 * time.Second
	distLockRetryDelay = 25 * time.Millisecond
	distLockMaxWait    = 2 * time.Second
)

// Evaluator applies the five ordered admission checks and, on
// acceptance, inserts the new Meeting inside the same serialization
// boundary as the checks that guarded it.
type Evaluator struct {
	store     store.Store
	directory store.ParticipantDirectory
	cache     *configcache.Cache
	locks     *lockmanager.Manager
	distLock  DistributedLock
	logger    zerolog.Logger
	clock     Clock
}

// New creates an Evaluator. directory resolves participant ids/roles;
// cache supplies the runtime thresholds.
func New(st store.Store, directory store.ParticipantDirectory, cache *configcache.Cache, locks *lockmanager.Manager, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		store:     st,
		directory: directory,
		cache:     cache,
		locks:     locks,
		logger:    logger.With().Str("component", "admission").Logger(),
		clock:     realClock{},
	}
}

// WithClock overrides the evaluator's notion of "now"; used by tests.
func (e *Evaluator) WithClock(c Clock) *Evaluator {
	e.clock = c
	return e
}

// WithDistributedLock enables the cross-process lock layer, used when
// more than one Evaluator instance runs against the same store.
func (e *Evaluator) WithDistributedLock(dl DistributedLock) *Evaluator {
	e.distLock = dl
	return e
}

// lockKey acquires the in-process lock for key and, if a
// DistributedLock is configured, the cross-process lock too, retrying
// the latter for up to distLockMaxWait before giving up. The returned
// unlock releases both, in reverse acquisition order.
func (e *Evaluator) lockKey(ctx context.Context, key string) (func(), error) {
	unlockLocal := e.locks.Lock(key)
	if e.distLock == nil {
		return unlockLocal, nil
	}

	deadline := e.clock.Now().Add(distLockMaxWait)
	for {
		token, ok, err := e.distLock.TryLock(ctx, key, distLockTTL)
		if err != nil {
			unlockLocal()
			return nil, err
		}
		if ok {
			return func() {
				_ = e.distLock.Unlock(ctx, key, token)
				unlockLocal()
			}, nil
		}
		if !e.clock.Now().Before(deadline) {
			unlockLocal()
			return nil, fmt.Errorf("distributed lock contended for key %s", key)
		}
		select {
		case <-ctx.Done():
			unlockLocal()
			return nil, ctx.Err()
		case <-time.After(distLockRetryDelay):
		}
	}
}

// Evaluate runs the five checks in order, the first failure winning,
// and inserts the Meeting on acceptance.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (Result, error) {
	unlock, settings, err := e.runChecks(ctx, req)
	if unlock != nil {
		defer unlock()
	}
	if err != nil {
		return Result{}, err
	}

	roomID, err := newOpaqueID()
	if err != nil {
		return Result{}, meeting.NewError(meeting.KindInternal, "failed to allocate room id", nil)
	}
	meetingID, err := newOpaqueID()
	if err != nil {
		return Result{}, meeting.NewError(meeting.KindInternal, "failed to allocate meeting id", nil)
	}

	status := meeting.StatusScheduled
	if req.IsInstant {
		status = meeting.StatusPending
	}

	m := meeting.Meeting{
		ID:              meetingID,
		RoomID:          roomID,
		Status:          status,
		VolunteerID:     req.VolunteerID,
		StudentID:       req.StudentID,
		ScheduledStart:  req.ScheduledStart,
		DurationMinutes: settings.MeetingDurationMinutes,
		IsInstant:       req.IsInstant,
		CreatedAt:       e.clock.Now(),
	}

	if err := e.store.Insert(ctx, m); err != nil {
		return Result{}, serviceUnavailable(err)
	}

	e.logger.Info().
		Str("meetingId", m.ID).
		Str("roomId", m.RoomID).
		Str("volunteerId", req.VolunteerID).
		Str("studentId", req.StudentID).
		Bool("instant", req.IsInstant).
		Msg("meeting admitted")

	return Result{Meeting: m, RoomID: roomID}, nil
}

// ValidateReschedule re-runs the admission checks for (volunteer,
// student, newStart) without inserting a row, as the reschedule
// transition requires. req.ExcludeMeetingID must be set to the meeting
// being moved so it doesn't count against its own day/pair limits.
func (e *Evaluator) ValidateReschedule(ctx context.Context, req Request) error {
	unlock, _, err := e.runChecks(ctx, req)
	if unlock != nil {
		unlock()
	}
	return err
}

// runChecks performs the five ordered admission checks and returns
// the unlock function for the lock(s) it acquired — callers must
// invoke it once done with the serialized section — along with the
// Settings snapshot used, so Evaluate can reuse it for the insert
// without a second cache read.
func (e *Evaluator) runChecks(ctx context.Context, req Request) (unlock func(), settings configcache.Settings, err error) {
	settings = e.cache.Get(ctx) // read once, reuse for the whole evaluation
	now := e.clock.Now()

	// Acquire the admission-critical locks up front so the whole
	// read-then-insert sequence below is serialized against any other
	// concurrent Evaluate call touching the same student/day or pair
	// Lock order is always pair-then-day so two Evaluate calls can never
	// deadlock against each other.
	unlockPair, lockErr := e.lockKey(ctx, pairKey(req.VolunteerID, req.StudentID))
	if lockErr != nil {
		err = serviceUnavailable(lockErr)
		return nil, settings, err
	}
	unlock = unlockPair

	// 1. Time window.
	if err = e.checkTimeWindow(req, settings, now); err != nil {
		return unlock, settings, err
	}

	// 2. Volunteer reputation.
	if err = e.checkReputation(ctx, req.VolunteerID, settings); err != nil {
		return unlock, settings, err
	}

	// 3. Existence and role.
	_, student, err := e.checkParticipants(ctx, req)
	if err != nil {
		return unlock, settings, err
	}

	// 4. One-call-per-day (students), non-instant only.
	var studentZone string
	if student.Timezone != "" && timezone.IsValidZone(student.Timezone) {
		studentZone = student.Timezone
	} else {
		studentZone = timezone.UTC
	}

	if !req.IsInstant {
		utcStart, utcEnd, localDate := timezone.DayBounds(req.ScheduledStart, studentZone)
		unlockDay, lockErr := e.lockKey(ctx, dayKey(req.StudentID, localDate))
		if lockErr != nil {
			err = serviceUnavailable(lockErr)
			return unlock, settings, err
		}
		prevUnlock := unlock
		unlock = func() { unlockDay(); prevUnlock() }

		existing, findErr := e.store.FindOverlappingDay(ctx, req.StudentID, utcStart, utcEnd, req.ExcludeMeetingID)
		if findErr != nil {
			err = serviceUnavailable(findErr)
			return unlock, settings, err
		}
		if len(existing) > 0 {
			conflict := existing[0]
			err = meeting.NewError(meeting.KindDayConflict, "student already has a meeting scheduled that local day", map[string]interface{}{
				"existingMeetingId": conflict.ID,
				"localDate":         localDate,
				"zone":              studentZone,
			})
			return unlock, settings, err
		}
	}

	// 5. Pair limit. Sweep auto-missed meetings for this pair first so a
	// previously-late meeting stops blocking scheduling.
	if _, sweepErr := e.store.MarkOverdueMissed(ctx, e.clock.Now(), time.Duration(settings.AutoTimeoutMinutes)*time.Minute, req.VolunteerID, req.StudentID); sweepErr != nil {
		err = serviceUnavailable(sweepErr)
		return unlock, settings, err
	}
	count, countErr := e.store.CountActivePair(ctx, req.VolunteerID, req.StudentID, req.ExcludeMeetingID)
	if countErr != nil {
		err = serviceUnavailable(countErr)
		return unlock, settings, err
	}
	if count >= settings.MeetingsPerVolunteerStudentPair {
		err = meeting.NewError(meeting.KindPairLimitReached, "volunteer/student pair has reached its concurrent meeting limit", map[string]interface{}{
			"count": count,
			"limit": settings.MeetingsPerVolunteerStudentPair,
		})
		return unlock, settings, err
	}

	return unlock, settings, nil
}

func (e *Evaluator) checkTimeWindow(req Request, settings configcache.Settings, now time.Time) error {
	if req.IsInstant {
		return nil // instant calls are treated as "now", bypassing the window check
	}
	if !req.ScheduledStart.After(now) {
		return meeting.NewError(meeting.KindTimeOutOfWindow, "scheduledStart must be strictly after now", map[string]interface{}{
			"scheduledStart": req.ScheduledStart,
			"now":            now,
		})
	}
	maxFuture := now.AddDate(0, settings.MaxFutureMonths, 0)
	if req.ScheduledStart.After(maxFuture) {
		return meeting.NewError(meeting.KindTimeOutOfWindow, "scheduledStart is beyond the scheduling horizon", map[string]interface{}{
			"scheduledStart": req.ScheduledStart,
			"maxFutureMonths": settings.MaxFutureMonths,
		})
	}
	return nil
}

func (e *Evaluator) checkReputation(ctx context.Context, volunteerID string, settings configcache.Settings) error {
	stats, err := e.store.PerformanceStats(ctx, volunteerID, e.clock.Now())
	if err != nil {
		return serviceUnavailable(err)
	}
	total := stats.Total()

	var cancelRate, missedRate int
	if total > 0 {
		cancelRate = int(math.Round(100 * float64(stats.CanceledCount) / float64(total)))
		missedRate = int(math.Round(100 * float64(stats.MissedCount) / float64(total)))
	}
	reputation := int(math.Round(100 - 1.5*float64(cancelRate) - 2*float64(missedRate)))
	if reputation < 0 {
		reputation = 0
	}

	if cancelRate >= settings.CancellationRateThreshold || missedRate >= settings.MissedRateThreshold || reputation < settings.MinReputationScore {
		return meeting.NewError(meeting.KindVolunteerRestricted, "volunteer does not meet the minimum reputation bar", map[string]interface{}{
			"cancelRate": cancelRate,
			"missedRate": missedRate,
			"reputation": reputation,
		})
	}
	return nil
}

func (e *Evaluator) checkParticipants(ctx context.Context, req Request) (volunteer, student meeting.User, err error) {
	volunteer, ok, err := e.directory.Find(ctx, req.VolunteerID)
	if err != nil {
		return meeting.User{}, meeting.User{}, serviceUnavailable(err)
	}
	if !ok || volunteer.Role != meeting.RoleVolunteer {
		return meeting.User{}, meeting.User{}, meeting.NewError(meeting.KindParticipantNotFound, "volunteer not found or not a volunteer", map[string]interface{}{"volunteerId": req.VolunteerID})
	}

	student, ok, err = e.directory.Find(ctx, req.StudentID)
	if err != nil {
		return meeting.User{}, meeting.User{}, serviceUnavailable(err)
	}
	if !ok || student.Role != meeting.RoleStudent {
		return meeting.User{}, meeting.User{}, meeting.NewError(meeting.KindParticipantNotFound, "student not found or not a student", map[string]interface{}{"studentId": req.StudentID})
	}
	return volunteer, student, nil
}

func pairKey(volunteerID, studentID string) string {
	return "pair:" + volunteerID + ":" + studentID
}

func dayKey(studentID, localDate string) string {
	return "day:" + studentID + ":" + localDate
}

func serviceUnavailable(err error) error {
	return meeting.NewError(meeting.KindServiceUnavailable, err.Error(), nil)
}

// newOpaqueID returns a base32-encoded 122+ bit random identifier,
// well above the entropy a roomId needs to resist guessing.
func newOpaqueID() (string, error) {
	buf := make([]byte, 16) // 128 bits
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate opaque id: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}
