// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import "time"

// DateFormat is the canonical day key used in file names and record dates.
const DateFormat = "2006-01-02"

// TimestampFormat is used for human-readable timestamps in persisted records.
const TimestampFormat = "2006-01-02T15:04:05"

// ClockRange is a daily time window expressed as "HH:MM" strings.
// Start > End means the window wraps past midnight.
type ClockRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// RestSchedule holds the two rest windows of a day.
type RestSchedule struct {
	Morning ClockRange `json:"morning"`
	Evening ClockRange `json:"evening"`
}

// SessionRecord is a completed tracking session as persisted in a daily file.
// Duration is the wall-clock span of the session; it may exceed the usage
// credited to the app when suspend gaps were excluded from the counters.
type SessionRecord struct {
	App      string  `json:"app"`
	Start    string  `json:"start"`
	End      string  `json:"end"`
	Duration float64 `json:"duration"`
}

// RestTimeModification records the one-per-day rest window override.
// Once set it is immutable for the rest of the day.
type RestTimeModification struct {
	OriginalRest  RestSchedule `json:"original_rest_times"`
	NewRest       RestSchedule `json:"new_rest_times"`
	Ratio         float64      `json:"ratio"`
	AdjustedLimit int          `json:"adjusted_limit"`
	ModifiedAt    string       `json:"modified_at"`
}

// DailyRecord is the usage ledger for one calendar day.
// TotalDenylisted is maintained alongside DenylistedUsage for O(1) limit
// checks and must equal the sum of the map values at rest.
type DailyRecord struct {
	Date                 string                `json:"date"`
	DenylistedUsage      map[string]float64    `json:"denylisted_usage"`
	AllowlistedUsage     map[string]float64    `json:"allowlisted_usage"`
	TotalDenylisted      float64               `json:"total_denylisted"`
	Sessions             []SessionRecord       `json:"sessions"`
	RestTimeModification *RestTimeModification `json:"rest_time_modification,omitempty"`
	// TemporaryAdjustment shifts the day's limit by a signed number of
	// seconds. Settable any number of times per day, last write wins.
	TemporaryAdjustment *int `json:"temporary_denylisted_usage,omitempty"`
}

// NewDailyRecord returns an empty record for the given day.
func NewDailyRecord(day time.Time) *DailyRecord {
	return &DailyRecord{
		Date:             day.Format(DateFormat),
		DenylistedUsage:  map[string]float64{},
		AllowlistedUsage: map[string]float64{},
		Sessions:         []SessionRecord{},
	}
}

// History is the 30-day rolling usage ledger persisted as history.json.
// Each day maps app name to combined (denylisted + allowlisted) seconds.
type History struct {
	LastUpdated string                    `json:"last_updated"`
	Days        map[string]map[string]int `json:"days"`
}

// HistoryRetentionDays is the rolling window size of the history ledger.
const HistoryRetentionDays = 30

// WindowInfo describes the current foreground window. PID is 0 when the
// window manager did not expose a usable process id.
type WindowInfo struct {
	App   string
	Title string
	PID   int
}

// Stats is a point-in-time snapshot of today's accounting, served over IPC
// and rendered by the stats command.
type Stats struct {
	Date               string             `json:"date"`
	DenylistedSeconds  int                `json:"denylisted_usage"`
	AllowlistedSeconds int                `json:"allowlisted_usage"`
	DailyLimit         int                `json:"daily_limit"`
	Remaining          int                `json:"remaining"`
	LimitExceeded      bool               `json:"limit_exceeded"`
	InRestTime         bool               `json:"in_rest_time"`
	HolidayMode        bool               `json:"holiday_mode"`
	TotalSessions      int                `json:"total_sessions"`
	DenylistedApps     map[string]float64 `json:"denylisted_apps"`
	AllowlistedApps    map[string]float64 `json:"allowlisted_apps"`
}

// Urgency levels for desktop notifications.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyCritical Urgency = "critical"
)
