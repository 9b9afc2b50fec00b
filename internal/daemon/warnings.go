// Package daemon implements the control loop and its warning emitters.
package daemon

import (
	"fmt"
	"time"

	"github.com/eliteGoblin/screentimed/internal/domain"
)

// notifyTimeout is the display time requested for warning notifications.
const notifyTimeout = 10 * time.Second

// RestWarning fires once per distinct upcoming rest-start instant when the
// start is within the lead time. It resets when rest time begins or when
// the instant leaves the warning window.
type RestWarning struct {
	notifier domain.Notifier
	lead     time.Duration

	warnedFor time.Time
}

// NewRestWarning creates a rest-approaching emitter with the given lead time.
func NewRestWarning(notifier domain.Notifier, lead time.Duration) *RestWarning {
	return &RestWarning{notifier: notifier, lead: lead}
}

// Lead returns the configured warning lead time.
func (w *RestWarning) Lead() time.Duration { return w.lead }

// Check evaluates the current rest proximity and fires at most once per
// upcoming start instant.
func (w *RestWarning) Check(inRest, approaching bool, start time.Time) {
	if inRest || !approaching {
		w.warnedFor = time.Time{}
		return
	}
	if start.Equal(w.warnedFor) {
		return
	}
	w.warnedFor = start
	// Timeout 0 keeps the notification on screen until dismissed.
	w.notifier.Notify("Rest Time Approaching",
		fmt.Sprintf("Rest time starts at %s. Denylisted applications will be closed.",
			start.Format("15:04")),
		domain.UrgencyNormal, 0)
}

// limitThresholds are the remaining-minutes marks warned about, descending.
var limitThresholds = []int{15, 10, 5, 4, 3, 2, 1}

// LimitWarning fires once per threshold crossing as remaining time descends.
// It resets when the limit is exceeded or remaining time climbs back above
// the largest threshold.
type LimitWarning struct {
	notifier domain.Notifier

	fired map[int]bool
}

// NewLimitWarning creates a limit-approaching emitter.
func NewLimitWarning(notifier domain.Notifier) *LimitWarning {
	return &LimitWarning{notifier: notifier, fired: map[int]bool{}}
}

// Check evaluates the remaining seconds against the thresholds. Warnings
// are suppressed during rest time; the fired set is left intact so they
// resume where they left off when rest ends.
func (w *LimitWarning) Check(remainingSeconds int, exceeded, inRest bool) {
	if exceeded || remainingSeconds > limitThresholds[0]*60 {
		if len(w.fired) > 0 {
			w.fired = map[int]bool{}
		}
		return
	}
	if inRest {
		return
	}

	// Find the tightest threshold the remaining time has crossed; larger
	// thresholds it skipped past are marked fired without notifying.
	crossed := -1
	for _, th := range limitThresholds {
		if remainingSeconds <= th*60 {
			crossed = th
		}
	}
	if crossed < 0 {
		return
	}

	fire := !w.fired[crossed]
	for _, th := range limitThresholds {
		if remainingSeconds <= th*60 {
			w.fired[th] = true
		}
	}
	if !fire {
		return
	}

	urgency := domain.UrgencyNormal
	if crossed <= 5 {
		urgency = domain.UrgencyCritical
	}
	w.notifier.Notify("Screen Time Limit Approaching",
		fmt.Sprintf("%d minute(s) of screen time remaining", crossed),
		urgency, notifyTimeout)
}
