package policy

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/screentimed/internal/domain"
)

// Store holds the current Policy and swaps it wholesale on reload. Readers
// racing a reload see either the old or the new policy, never a mix.
type Store struct {
	path    string
	logger  *zap.Logger
	current atomic.Pointer[Policy]
}

// NewStore loads the configuration at path and returns a ready store.
// Load problems degrade to defaults; NewStore never fails.
func NewStore(path string, logger *zap.Logger) *Store {
	s := &Store{path: path, logger: logger}
	s.current.Store(Compile(LoadConfig(path, logger), logger))
	return s
}

// Current returns the active immutable policy.
func (s *Store) Current() *Policy {
	return s.current.Load()
}

// Reload re-reads the configuration file and installs the new policy.
func (s *Store) Reload() {
	s.logger.Info("reloading configuration", zap.String("path", s.path))
	s.current.Store(Compile(LoadConfig(s.path, s.logger), s.logger))
}

// The delegating methods below make the store itself usable wherever a
// policy view is needed, so long-lived components pick up reloads without
// re-plumbing.

func (s *Store) IsAllowlisted(name string) bool { return s.Current().IsAllowlisted(name) }
func (s *Store) IsDenylisted(name string) bool  { return s.Current().IsDenylisted(name) }

func (s *Store) DailyLimit(weekday time.Weekday) int { return s.Current().DailyLimit(weekday) }

func (s *Store) RestTimes(day time.Time) domain.RestSchedule { return s.Current().RestTimes(day) }

func (s *Store) IsRestTime(at time.Time) bool { return s.Current().IsRestTime(at) }

func (s *Store) InRestWindow(at time.Time, sched domain.RestSchedule) bool {
	return s.Current().InRestWindow(at, sched)
}

func (s *Store) NextRestStart(now time.Time) time.Time { return s.Current().NextRestStart(now) }

func (s *Store) IsRestApproaching(now time.Time, within time.Duration) (bool, time.Time) {
	return s.Current().IsRestApproaching(now, within)
}

func (s *Store) HolidayMultiplier(day time.Time) float64 {
	return s.Current().HolidayMultiplier(day)
}

func (s *Store) RestDuration(sched domain.RestSchedule) int {
	return s.Current().RestDuration(sched)
}

func (s *Store) TrackingInterval() time.Duration { return s.Current().TrackingInterval() }

var _ domain.PolicyQuerier = (*Store)(nil)
