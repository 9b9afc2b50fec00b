package domain

import (
	"context"
	"time"
)

// WindowMonitor reports the current foreground window.
// Implementation: X11 via the xgb wire protocol.
type WindowMonitor interface {
	// ActiveWindow returns the focused window, or (nil, nil) when there is
	// no focused window to report.
	ActiveWindow() (*WindowInfo, error)

	// Close releases the display connection.
	Close()
}

// ProcessManager handles OS process enforcement.
// Implementation: uses gopsutil for process inspection and signaling.
type ProcessManager interface {
	// Kill terminates a process with graceful-then-forceful escalation.
	// Returns true if a kill was attempted, false when skipped (cooldown,
	// unkillable process).
	Kill(ctx context.Context, pid int, appName, reason string) bool

	// IsRunning checks if a PID exists and is signalable.
	IsRunning(pid int) bool
}

// Notifier delivers desktop notifications. Fire-and-forget: delivery
// failures are logged, never propagated.
type Notifier interface {
	Notify(title, message string, urgency Urgency, timeout time.Duration)
}

// PolicyQuerier is the read side of the policy store consumed by the
// tracker and the control loop. Implementations are immutable per load;
// reload installs a whole new object.
type PolicyQuerier interface {
	// IsDenylisted reports whether the lowercased name matches any deny
	// pattern.
	IsDenylisted(name string) bool

	// IsAllowlisted reports whether the lowercased name matches any allow
	// pattern.
	IsAllowlisted(name string) bool

	// DailyLimit returns the limit in seconds for the given weekday.
	DailyLimit(weekday time.Weekday) int

	// RestTimes returns the (holiday-adjusted) rest schedule for the day.
	RestTimes(day time.Time) RestSchedule

	// IsRestTime reports whether the instant falls inside a rest window.
	IsRestTime(at time.Time) bool

	// InRestWindow evaluates an explicit schedule instead of the
	// configured one, for days with a rest-time modification.
	InRestWindow(at time.Time, sched RestSchedule) bool

	// NextRestStart returns the next upcoming rest window start, rolling
	// to tomorrow when both of today's starts have passed.
	NextRestStart(now time.Time) time.Time

	// IsRestApproaching reports whether the next rest start is within the
	// given lead time, along with that start instant.
	IsRestApproaching(now time.Time, within time.Duration) (bool, time.Time)

	// HolidayMultiplier returns the limit multiplier for the day, 1.0
	// outside holiday seasons.
	HolidayMultiplier(day time.Time) float64

	// RestDuration returns the combined seconds of the schedule's morning
	// and evening windows, midnight wrap included.
	RestDuration(schedule RestSchedule) int

	// TrackingInterval is the poll cadence of the control loop.
	TrackingInterval() time.Duration
}
