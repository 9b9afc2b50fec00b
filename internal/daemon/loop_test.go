package daemon

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/screentimed/internal/domain"
	"github.com/eliteGoblin/screentimed/internal/tracker"
)

// stubPolicy implements PolicyReloader with fixed answers.
type stubPolicy struct {
	deny    []string
	allow   []string
	limit   int
	restNow bool

	mu      sync.Mutex
	reloads int
}

func (s *stubPolicy) IsDenylisted(name string) bool {
	for _, d := range s.deny {
		if strings.Contains(name, d) {
			return true
		}
	}
	return false
}

func (s *stubPolicy) IsAllowlisted(name string) bool {
	for _, a := range s.allow {
		if strings.Contains(name, a) {
			return true
		}
	}
	return false
}

func (s *stubPolicy) DailyLimit(time.Weekday) int           { return s.limit }
func (s *stubPolicy) IsRestTime(time.Time) bool             { return s.restNow }
func (s *stubPolicy) HolidayMultiplier(time.Time) float64   { return 1.0 }
func (s *stubPolicy) TrackingInterval() time.Duration       { return time.Millisecond }
func (s *stubPolicy) NextRestStart(now time.Time) time.Time { return now.Add(time.Hour) }
func (s *stubPolicy) RestDuration(domain.RestSchedule) int  { return 0 }

func (s *stubPolicy) RestTimes(time.Time) domain.RestSchedule {
	return domain.RestSchedule{}
}

func (s *stubPolicy) InRestWindow(time.Time, domain.RestSchedule) bool {
	return s.restNow
}

func (s *stubPolicy) IsRestApproaching(time.Time, time.Duration) (bool, time.Time) {
	return false, time.Time{}
}

func (s *stubPolicy) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloads++
}

func (s *stubPolicy) reloadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloads
}

// stubMonitor returns a fixed window.
type stubMonitor struct {
	win *domain.WindowInfo
	err error
}

func (m *stubMonitor) ActiveWindow() (*domain.WindowInfo, error) { return m.win, m.err }
func (m *stubMonitor) Close()                                    {}

type killCall struct {
	pid    int
	app    string
	reason string
}

// mockProcs records kill requests.
type mockProcs struct {
	mu    sync.Mutex
	kills []killCall
}

func (p *mockProcs) Kill(ctx context.Context, pid int, appName, reason string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kills = append(p.kills, killCall{pid: pid, app: appName, reason: reason})
	return true
}

func (p *mockProcs) IsRunning(int) bool { return true }

func (p *mockProcs) killCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.kills)
}

func newTestLoop(t *testing.T, pol *stubPolicy, monitor domain.WindowMonitor) (*Loop, *mockProcs) {
	t.Helper()
	dir := t.TempDir()
	logger := zap.NewNop()
	hist := tracker.NewHistoryLedger(dir, logger)
	tr := tracker.New(pol, hist, dir, logger)
	procs := &mockProcs{}
	n := &mockNotifier{}
	l := NewLoop(pol, tr, monitor, procs,
		NewRestWarning(n, 15*time.Minute), NewLimitWarning(n), logger)
	l.running.Store(true)
	return l, procs
}

// TestTick_KillsDenylistedDuringRest verifies the kill decision fires for a
// denylisted foreground app inside a rest window
func TestTick_KillsDenylistedDuringRest(t *testing.T) {
	pol := &stubPolicy{deny: []string{"steam"}, limit: 7200, restNow: true}
	mon := &stubMonitor{win: &domain.WindowInfo{App: "steam", Title: "Store", PID: 4242}}
	l, procs := newTestLoop(t, pol, mon)

	l.tick(context.Background())

	require.Equal(t, 1, procs.killCount())
	assert.Equal(t, 4242, procs.kills[0].pid)
	assert.Equal(t, "rest time", procs.kills[0].reason)
}

// TestTick_AllowlistedSurvivesRest verifies the kill decision requires NOT
// matching the allow list even for denylisted names
func TestTick_AllowlistedSurvivesRest(t *testing.T) {
	pol := &stubPolicy{deny: []string{"zoom"}, allow: []string{"zoom"}, limit: 7200, restNow: true}
	mon := &stubMonitor{win: &domain.WindowInfo{App: "zoom", PID: 4242}}
	l, procs := newTestLoop(t, pol, mon)

	l.tick(context.Background())

	assert.Zero(t, procs.killCount())
}

func TestTick_NoKillUnderLimitOutsideRest(t *testing.T) {
	pol := &stubPolicy{deny: []string{"steam"}, limit: 7200}
	mon := &stubMonitor{win: &domain.WindowInfo{App: "steam", PID: 4242}}
	l, procs := newTestLoop(t, pol, mon)

	l.tick(context.Background())

	assert.Zero(t, procs.killCount())
}

// TestTick_KillsAfterLimitExceeded verifies enforcement outside rest time
// once the daily budget is spent
func TestTick_KillsAfterLimitExceeded(t *testing.T) {
	pol := &stubPolicy{deny: []string{"steam"}, limit: 0}
	mon := &stubMonitor{win: &domain.WindowInfo{App: "steam", PID: 4242}}
	l, procs := newTestLoop(t, pol, mon)

	l.tick(context.Background())

	require.Equal(t, 1, procs.killCount())
	assert.Equal(t, "daily limit reached", procs.kills[0].reason)
}

// TestTick_KillsOnTitleMatch verifies the kill classification covers the
// window title, so deny patterns can target site names shown in browser
// titles even when the app itself is not listed
func TestTick_KillsOnTitleMatch(t *testing.T) {
	pol := &stubPolicy{deny: []string{"badsite"}, limit: 7200, restNow: true}
	mon := &stubMonitor{win: &domain.WindowInfo{
		App: "firefox", Title: "badsite - Mozilla Firefox", PID: 4242,
	}}
	l, procs := newTestLoop(t, pol, mon)

	l.tick(context.Background())

	require.Equal(t, 1, procs.killCount())
	assert.Equal(t, "firefox", procs.kills[0].app)
}

// TestTick_UnknownAppNotKilled verifies default-deny applies to accounting
// only, never to process termination
func TestTick_UnknownAppNotKilled(t *testing.T) {
	pol := &stubPolicy{limit: 0, restNow: true}
	mon := &stubMonitor{win: &domain.WindowInfo{App: "mystery", PID: 4242}}
	l, procs := newTestLoop(t, pol, mon)

	l.tick(context.Background())

	assert.Zero(t, procs.killCount())
}

func TestTick_NoWindow(t *testing.T) {
	pol := &stubPolicy{limit: 7200}
	mon := &stubMonitor{win: nil}
	l, procs := newTestLoop(t, pol, mon)

	l.tick(context.Background())

	assert.Zero(t, procs.killCount())
}

// TestTick_ReloadFlag verifies the reload request is consumed exactly once
// at the tick boundary
func TestTick_ReloadFlag(t *testing.T) {
	pol := &stubPolicy{limit: 7200}
	l, _ := newTestLoop(t, pol, &stubMonitor{})

	l.RequestReload()
	l.tick(context.Background())
	l.tick(context.Background())

	assert.Equal(t, 1, pol.reloadCount())
}

// TestRun_StopsOnShutdownRequest verifies the loop exits promptly when the
// running flag is cleared
func TestRun_StopsOnShutdownRequest(t *testing.T) {
	pol := &stubPolicy{limit: 7200}
	l, _ := newTestLoop(t, pol, &stubMonitor{})

	done := make(chan struct{})
	go func() {
		l.Run(context.Background())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	l.RequestShutdown()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after shutdown request")
	}
	assert.False(t, l.IsRunning())
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	pol := &stubPolicy{limit: 7200}
	l, _ := newTestLoop(t, pol, &stubMonitor{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after context cancel")
	}
}
