package policy

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/screentimed/internal/domain"
)

// Policy is the immutable compiled form of one configuration load. All
// query methods are pure; reload builds a whole new Policy.
type Policy struct {
	allow    []compiledPattern
	deny     []compiledPattern
	limits   map[time.Weekday]int
	defLimit int
	rest     map[time.Weekday]domain.RestSchedule
	holidays []holidaySeason

	trackingInterval time.Duration
	dataDirectory    string
}

type compiledPattern struct {
	raw string
	re  *regexp.Regexp
}

type holidaySeason struct {
	start      time.Time
	end        time.Time
	rest       *domain.RestSchedule
	multiplier float64
}

// weekdayByName maps config keys to time.Weekday.
var weekdayByName = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Compile builds a Policy from a normalized Config. Invalid list patterns
// and malformed holiday entries are logged and skipped.
func Compile(cfg *Config, logger *zap.Logger) *Policy {
	p := &Policy{
		limits:           make(map[time.Weekday]int, len(cfg.WeekdayLimits)),
		defLimit:         cfg.DailyLimit,
		rest:             make(map[time.Weekday]domain.RestSchedule, len(cfg.RestTimes)),
		trackingInterval: time.Duration(cfg.TrackingInterval) * time.Second,
		dataDirectory:    cfg.ResolveDataDirectory(),
	}

	p.allow = compilePatterns(cfg.Allowlist, "allowlist", logger)
	p.deny = compilePatterns(cfg.Denylist, "denylist", logger)

	for name, limit := range cfg.WeekdayLimits {
		if day, ok := weekdayByName[strings.ToLower(name)]; ok {
			p.limits[day] = limit
		}
	}
	for name, rc := range cfg.RestTimes {
		if day, ok := weekdayByName[strings.ToLower(name)]; ok {
			p.rest[day] = toSchedule(rc)
		}
	}

	for _, hc := range cfg.HolidaySeasons {
		start, err1 := time.ParseInLocation(domain.DateFormat, hc.StartDate, time.Local)
		end, err2 := time.ParseInLocation(domain.DateFormat, hc.EndDate, time.Local)
		if err1 != nil || err2 != nil {
			logger.Warn("invalid holiday season, skipping",
				zap.String("start_date", hc.StartDate),
				zap.String("end_date", hc.EndDate))
			continue
		}
		season := holidaySeason{start: start, end: end, multiplier: hc.ExtendedLimitMultiplier}
		if season.multiplier <= 0 {
			season.multiplier = 1.0
		}
		if hc.ExtendedRestMorning != nil || hc.ExtendedRestEvening != nil {
			sched := domain.RestSchedule{
				Morning: domain.ClockRange{Start: "00:00", End: "08:00"},
				Evening: domain.ClockRange{Start: "21:00", End: "23:59"},
			}
			if hc.ExtendedRestMorning != nil {
				sched.Morning = domain.ClockRange(*hc.ExtendedRestMorning)
			}
			if hc.ExtendedRestEvening != nil {
				sched.Evening = domain.ClockRange(*hc.ExtendedRestEvening)
			}
			season.rest = &sched
		}
		p.holidays = append(p.holidays, season)
	}

	return p
}

func compilePatterns(entries []string, listName string, logger *zap.Logger) []compiledPattern {
	out := make([]compiledPattern, 0, len(entries))
	for _, entry := range entries {
		re, err := regexp.Compile(strings.ToLower(entry))
		if err != nil {
			logger.Warn("invalid pattern, skipping",
				zap.String("list", listName),
				zap.String("pattern", entry),
				zap.Error(err))
			continue
		}
		out = append(out, compiledPattern{raw: entry, re: re})
	}
	return out
}

func toSchedule(rc RestConfig) domain.RestSchedule {
	return domain.RestSchedule{
		Morning: domain.ClockRange(rc.Morning),
		Evening: domain.ClockRange(rc.Evening),
	}
}

// matches tests the lowercased, regex-quoted candidate against the list.
// List entries are patterns; the app name is only ever the subject.
func matches(name string, patterns []compiledPattern) bool {
	subject := regexp.QuoteMeta(strings.ToLower(name))
	for _, p := range patterns {
		if p.re.MatchString(subject) {
			return true
		}
	}
	return false
}

// IsAllowlisted reports whether the name matches any allow pattern.
func (p *Policy) IsAllowlisted(name string) bool { return matches(name, p.allow) }

// IsDenylisted reports whether the name matches any deny pattern.
func (p *Policy) IsDenylisted(name string) bool { return matches(name, p.deny) }

// DailyLimit returns the limit in seconds for the weekday, falling back to
// the global default limit when the weekday has no entry.
func (p *Policy) DailyLimit(weekday time.Weekday) int {
	if limit, ok := p.limits[weekday]; ok {
		return limit
	}
	return p.defLimit
}

// holidayFor returns the first season covering the day, or nil.
// Overlapping ranges resolve to the first listed one.
func (p *Policy) holidayFor(day time.Time) *holidaySeason {
	d := truncateToDay(day)
	for i := range p.holidays {
		h := &p.holidays[i]
		if !d.Before(h.start) && !d.After(h.end) {
			return h
		}
	}
	return nil
}

// HolidayMultiplier returns the limit multiplier for the day, 1.0 outside
// holiday seasons.
func (p *Policy) HolidayMultiplier(day time.Time) float64 {
	if h := p.holidayFor(day); h != nil {
		return h.multiplier
	}
	return 1.0
}

// RestTimes returns the rest schedule for the day, substituting the
// holiday season's extended windows when one applies.
func (p *Policy) RestTimes(day time.Time) domain.RestSchedule {
	if h := p.holidayFor(day); h != nil && h.rest != nil {
		return *h.rest
	}
	if sched, ok := p.rest[day.Weekday()]; ok {
		return sched
	}
	return domain.RestSchedule{
		Morning: domain.ClockRange{Start: "00:00", End: "08:00"},
		Evening: domain.ClockRange{Start: "21:00", End: "23:59"},
	}
}

// IsRestTime reports whether the instant falls inside either of the day's
// rest windows. A window whose start is after its end wraps past midnight.
func (p *Policy) IsRestTime(at time.Time) bool {
	return p.InRestWindow(at, p.RestTimes(at))
}

// InRestWindow evaluates an explicit schedule instead of the configured one.
// Used when a daily rest-time modification overrides today's windows.
func (p *Policy) InRestWindow(at time.Time, sched domain.RestSchedule) bool {
	minute := at.Hour()*60 + at.Minute()
	return inClockRange(minute, sched.Morning) || inClockRange(minute, sched.Evening)
}

// NextRestStart returns the next upcoming rest window start. Starts that
// have already passed today roll over to tomorrow.
func (p *Policy) NextRestStart(now time.Time) time.Time {
	sched := p.RestTimes(now)
	morning := nextOccurrence(now, sched.Morning.Start)
	evening := nextOccurrence(now, sched.Evening.Start)
	if morning.Before(evening) {
		return morning
	}
	return evening
}

// IsRestApproaching reports whether the next rest start is within the lead
// time, along with that start instant.
func (p *Policy) IsRestApproaching(now time.Time, within time.Duration) (bool, time.Time) {
	next := p.NextRestStart(now)
	until := next.Sub(now)
	return until >= 0 && until <= within, next
}

// RestDuration returns the combined seconds of the schedule's windows.
// A window ending before it starts spans midnight and gains 24h.
func (p *Policy) RestDuration(sched domain.RestSchedule) int {
	return rangeSeconds(sched.Morning) + rangeSeconds(sched.Evening)
}

// TrackingInterval is the poll cadence of the control loop.
func (p *Policy) TrackingInterval() time.Duration { return p.trackingInterval }

// DataDirectory is the resolved data directory for this load.
func (p *Policy) DataDirectory() string { return p.dataDirectory }

// parseClock turns "HH:MM" into minutes since midnight; malformed input
// degrades to 00:00.
func parseClock(s string) int {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0
	}
	h, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	m, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0
	}
	return h*60 + m
}

func inClockRange(minute int, r domain.ClockRange) bool {
	start := parseClock(r.Start)
	end := parseClock(r.End)
	if start <= end {
		return minute >= start && minute <= end
	}
	// Spans midnight.
	return minute >= start || minute <= end
}

func rangeSeconds(r domain.ClockRange) int {
	start := parseClock(r.Start)
	end := parseClock(r.End)
	if end < start {
		end += 24 * 60
	}
	return (end - start) * 60
}

// nextOccurrence builds today's datetime for the clock string, rolling to
// tomorrow when it is not strictly in the future.
func nextOccurrence(now time.Time, clock string) time.Time {
	minute := parseClock(clock)
	at := time.Date(now.Year(), now.Month(), now.Day(), minute/60, minute%60, 0, 0, now.Location())
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

var _ domain.PolicyQuerier = (*Policy)(nil)
