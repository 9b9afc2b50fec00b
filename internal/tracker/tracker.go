package tracker

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/screentimed/internal/domain"
)

const (
	// suspendThreshold is the gap between two clock readings beyond which
	// the machine is assumed to have been suspended. Time inside the gap
	// is never credited as usage.
	suspendThreshold = 60 * time.Second

	// saveInterval throttles daily record writes during normal tracking.
	saveInterval = 30 * time.Second
)

// session is the single live tracking session. It becomes a persisted
// SessionRecord only when it ends.
type session struct {
	app        string
	start      time.Time
	checkpoint time.Time
}

// Tracker is the accounting engine. It exclusively owns today's record, the
// history ledger and the live session; all access goes through its mutex so
// the control loop and the IPC handler never observe a half-applied update.
type Tracker struct {
	policy  domain.PolicyQuerier
	history *HistoryLedger
	dataDir string
	logger  *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	record    *domain.DailyRecord
	session   *session
	lastSave  time.Time
	lastProbe time.Time
}

// New loads today's record from the data directory and returns a ready
// tracker. Load problems degrade to an empty record; New never fails.
func New(policy domain.PolicyQuerier, history *HistoryLedger, dataDir string, logger *zap.Logger) *Tracker {
	return NewWithClock(policy, history, dataDir, logger, time.Now)
}

// NewWithClock creates a tracker with an injected clock (for testing).
func NewWithClock(policy domain.PolicyQuerier, history *HistoryLedger, dataDir string, logger *zap.Logger, now func() time.Time) *Tracker {
	t := &Tracker{
		policy:  policy,
		history: history,
		dataDir: dataDir,
		logger:  logger,
		now:     now,
	}
	t.record = loadDailyRecord(dataDir, t.now(), logger)
	t.lastProbe = t.now()
	logger.Info("tracker started",
		zap.String("date", t.record.Date),
		zap.Float64("total_denylisted", t.record.TotalDenylisted),
		zap.Int("sessions", len(t.record.Sessions)))
	return t
}

// Update binds the tracker to the currently foregrounded app. Elapsed time
// since the last checkpoint is credited to the previously tracked app before
// any switch happens.
func (t *Tracker) Update(app, title string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.checkNewDayLocked()
	t.recordProgressLocked(false)

	if t.session != nil && t.session.app == app {
		return
	}

	t.endSessionLocked()
	now := t.now()
	t.session = &session{app: app, start: now, checkpoint: now}
	t.logger.Debug("session started",
		zap.String("app", app),
		zap.String("title", title))
}

// recordProgressLocked credits time elapsed since the last checkpoint to the
// live session's app. The suspend check runs before any crediting: a gap
// over the threshold advances the checkpoint without recording usage.
func (t *Tracker) recordProgressLocked(force bool) {
	if t.session == nil {
		return
	}
	now := t.now()
	elapsed := now.Sub(t.session.checkpoint)

	if elapsed > suspendThreshold {
		t.logger.Info("suspend gap in session, skipping usage",
			zap.String("app", t.session.app),
			zap.Duration("gap", elapsed))
		t.session.checkpoint = now
		return
	}

	if elapsed > 0 {
		t.creditLocked(t.session.app, elapsed.Seconds())
		t.session.checkpoint = now
		t.saveThrottledLocked()
		return
	}
	if force {
		t.session.checkpoint = now
	}
}

// creditLocked applies the increment rule: denylisted apps count against the
// limit, allowlisted apps are tracked separately, and apps matching neither
// list default to denylisted.
func (t *Tracker) creditLocked(app string, seconds float64) {
	if t.policy.IsDenylisted(app) || !t.policy.IsAllowlisted(app) {
		t.record.DenylistedUsage[app] += seconds
		t.record.TotalDenylisted += seconds
		return
	}
	t.record.AllowlistedUsage[app] += seconds
}

// CheckSuspend is the standalone suspend probe, called by the control loop
// on its own cadence. It protects against suspend independently of the
// inline check in progress recording; either alone prevents over-counting.
func (t *Tracker) CheckSuspend() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	gap := now.Sub(t.lastProbe)
	t.lastProbe = now
	if gap <= suspendThreshold {
		return
	}

	t.logger.Info("system suspend detected", zap.Duration("gap", gap))
	if t.session != nil {
		t.session.checkpoint = now
	}
}

// endSessionLocked closes the live session: final progress record, a session
// entry with the wall-clock span, cleared session state, a save.
func (t *Tracker) endSessionLocked() {
	if t.session == nil {
		return
	}
	t.recordProgressLocked(true)

	now := t.now()
	s := t.session
	t.record.Sessions = append(t.record.Sessions, domain.SessionRecord{
		App:      s.app,
		Start:    s.start.Format(domain.TimestampFormat),
		End:      now.Format(domain.TimestampFormat),
		Duration: now.Sub(s.start).Seconds(),
	})
	t.session = nil
	t.logger.Debug("session ended",
		zap.String("app", s.app),
		zap.Float64("duration", now.Sub(s.start).Seconds()))
	t.saveLocked()
}

// checkNewDayLocked performs the lazy day rollover: the outgoing day keeps
// the closing session and gets a final save and history flush, then a fresh
// record is loaded for the new day. Idempotent once the dates match again.
func (t *Tracker) checkNewDayLocked() {
	now := t.now()
	today := now.Format(domain.DateFormat)
	if t.record.Date == today {
		return
	}

	t.logger.Info("day rollover",
		zap.String("from", t.record.Date),
		zap.String("to", today))

	t.endSessionLocked()
	t.saveLocked()
	t.flushHistoryLocked()

	t.record = loadDailyRecord(t.dataDir, now, t.logger)
	t.lastSave = time.Time{}
}

func (t *Tracker) saveThrottledLocked() {
	if t.now().Sub(t.lastSave) < saveInterval {
		return
	}
	t.saveLocked()
}

// saveLocked persists the daily record. I/O failures are logged and the
// in-memory state stays authoritative.
func (t *Tracker) saveLocked() {
	t.lastSave = t.now()
	if err := saveDailyRecord(t.dataDir, t.record); err != nil {
		t.logger.Warn("failed to save daily record",
			zap.String("date", t.record.Date),
			zap.Error(err))
	}
}

// flushHistoryLocked folds today's combined usage into the ledger and
// requests a save.
func (t *Tracker) flushHistoryLocked() {
	combined := map[string]int{}
	for app, secs := range t.record.DenylistedUsage {
		combined[app] += int(secs)
	}
	for app, secs := range t.record.AllowlistedUsage {
		combined[app] += int(secs)
	}
	t.history.Record(t.record.Date, combined)
	t.history.TrySave()
}

// FlushHistory is the periodic history flush trigger for the control loop.
func (t *Tracker) FlushHistory() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkNewDayLocked()
	t.flushHistoryLocked()
}

// CurrentUsage returns today's denylisted and allowlisted seconds as of now:
// committed totals plus the uncommitted elapsed time of the live session.
// Live accrual for apps on neither list pauses during rest time; explicitly
// denylisted apps accrue regardless.
func (t *Tracker) CurrentUsage() (denylisted, allowlisted float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkNewDayLocked()
	return t.currentUsageLocked()
}

func (t *Tracker) currentUsageLocked() (denylisted, allowlisted float64) {
	denylisted = t.record.TotalDenylisted
	for _, secs := range t.record.AllowlistedUsage {
		allowlisted += secs
	}

	if t.session == nil {
		return denylisted, allowlisted
	}
	now := t.now()
	elapsed := now.Sub(t.session.checkpoint).Seconds()
	if elapsed <= 0 {
		return denylisted, allowlisted
	}

	switch {
	case t.policy.IsDenylisted(t.session.app):
		denylisted += elapsed
	case t.policy.IsAllowlisted(t.session.app):
		allowlisted += elapsed
	case !t.inRestTimeLocked(now):
		denylisted += elapsed
	}
	return denylisted, allowlisted
}

// InRestTime reports whether the instant is inside today's rest windows,
// honoring the day's rest-time modification when one exists.
func (t *Tracker) InRestTime(at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkNewDayLocked()
	return t.inRestTimeLocked(at)
}

func (t *Tracker) inRestTimeLocked(at time.Time) bool {
	if mod := t.record.RestTimeModification; mod != nil {
		return t.policy.InRestWindow(at, mod.NewRest)
	}
	return t.policy.IsRestTime(at)
}

// AdjustedDailyLimit computes today's effective limit: weekday limit times
// holiday multiplier, overridden by a rest-time modification's adjusted
// limit, shifted by the temporary adjustment, floored at zero.
func (t *Tracker) AdjustedDailyLimit() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkNewDayLocked()
	return t.adjustedDailyLimitLocked()
}

func (t *Tracker) adjustedDailyLimitLocked() int {
	now := t.now()
	limit := int(float64(t.policy.DailyLimit(now.Weekday())) * t.policy.HolidayMultiplier(now))
	if mod := t.record.RestTimeModification; mod != nil {
		limit = mod.AdjustedLimit
	}
	if adj := t.record.TemporaryAdjustment; adj != nil {
		limit += *adj
	}
	if limit < 0 {
		limit = 0
	}
	return limit
}

// RemainingTime returns the seconds left before the limit, never negative.
func (t *Tracker) RemainingTime() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkNewDayLocked()
	return t.remainingTimeLocked()
}

func (t *Tracker) remainingTimeLocked() int {
	denylisted, _ := t.currentUsageLocked()
	remaining := t.adjustedDailyLimitLocked() - int(denylisted)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsLimitExceeded reports whether today's denylisted usage has reached the
// adjusted limit.
func (t *Tracker) IsLimitExceeded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkNewDayLocked()
	return t.remainingTimeLocked() <= 0
}

// ModifyRestTime applies today's one-shot rest window override. The new
// combined rest duration scales the holiday-adjusted limit by its ratio to
// the original duration. A second call the same day is rejected.
func (t *Tracker) ModifyRestTime(newMorningEnd, newEveningStart string) (*domain.RestTimeModification, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkNewDayLocked()

	if t.record.RestTimeModification != nil {
		return nil, fmt.Errorf("rest time already modified today at %s",
			t.record.RestTimeModification.ModifiedAt)
	}
	if newMorningEnd == "" && newEveningStart == "" {
		return nil, fmt.Errorf("no rest time change requested")
	}
	for _, clock := range []string{newMorningEnd, newEveningStart} {
		if clock == "" {
			continue
		}
		if _, err := time.Parse("15:04", clock); err != nil {
			return nil, fmt.Errorf("invalid clock value %q: %w", clock, err)
		}
	}

	now := t.now()
	original := t.policy.RestTimes(now)
	modified := original
	if newMorningEnd != "" {
		modified.Morning.End = newMorningEnd
	}
	if newEveningStart != "" {
		modified.Evening.Start = newEveningStart
	}

	originalDuration := t.policy.RestDuration(original)
	newDuration := t.policy.RestDuration(modified)
	if originalDuration <= 0 {
		return nil, fmt.Errorf("original rest duration is zero, cannot scale limit")
	}
	ratio := float64(newDuration) / float64(originalDuration)

	base := int(float64(t.policy.DailyLimit(now.Weekday())) * t.policy.HolidayMultiplier(now))
	mod := &domain.RestTimeModification{
		OriginalRest:  original,
		NewRest:       modified,
		Ratio:         ratio,
		AdjustedLimit: int(float64(base) * ratio),
		ModifiedAt:    now.Format(domain.TimestampFormat),
	}
	t.record.RestTimeModification = mod
	t.logger.Info("rest time modified",
		zap.String("morning_end", modified.Morning.End),
		zap.String("evening_start", modified.Evening.Start),
		zap.Float64("ratio", ratio),
		zap.Int("adjusted_limit", mod.AdjustedLimit))
	t.saveLocked()
	return mod, nil
}

// SetTemporaryAdjustment overwrites today's limit adjustment with the given
// number of minutes. May be called repeatedly, last write wins.
func (t *Tracker) SetTemporaryAdjustment(minutes int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkNewDayLocked()

	seconds := minutes * 60
	t.record.TemporaryAdjustment = &seconds
	t.logger.Info("temporary limit adjustment set",
		zap.Int("minutes", minutes))
	t.saveLocked()
	return t.adjustedDailyLimitLocked()
}

// Stats returns a point-in-time snapshot of today's accounting.
func (t *Tracker) Stats() domain.Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkNewDayLocked()

	now := t.now()
	denylisted, allowlisted := t.currentUsageLocked()

	denyApps := make(map[string]float64, len(t.record.DenylistedUsage))
	for app, secs := range t.record.DenylistedUsage {
		denyApps[app] = secs
	}
	allowApps := make(map[string]float64, len(t.record.AllowlistedUsage))
	for app, secs := range t.record.AllowlistedUsage {
		allowApps[app] = secs
	}

	limit := t.adjustedDailyLimitLocked()
	remaining := t.remainingTimeLocked()
	return domain.Stats{
		Date:               t.record.Date,
		DenylistedSeconds:  int(denylisted),
		AllowlistedSeconds: int(allowlisted),
		DailyLimit:         limit,
		Remaining:          remaining,
		LimitExceeded:      remaining <= 0,
		InRestTime:         t.inRestTimeLocked(now),
		HolidayMode:        t.policy.HolidayMultiplier(now) != 1.0,
		TotalSessions:      len(t.record.Sessions),
		DenylistedApps:     denyApps,
		AllowlistedApps:    allowApps,
	}
}

// Stop ends the live session and force-persists record and history. Called
// once at daemon shutdown.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.endSessionLocked()
	t.saveLocked()
	t.flushHistoryLocked()
	t.logger.Info("tracker stopped",
		zap.String("date", t.record.Date),
		zap.Float64("total_denylisted", t.record.TotalDenylisted))
}
