package daemon

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/screentimed/internal/domain"
	"github.com/eliteGoblin/screentimed/internal/tracker"
)

const (
	// suspendProbeInterval is the cadence of the standalone suspend probe.
	suspendProbeInterval = 10 * time.Second

	// historyFlushInterval is the cadence of the periodic history save.
	historyFlushInterval = 120 * time.Second

	// sleepChunk bounds shutdown latency: the inter-tick sleep re-checks
	// the running flag at this granularity.
	sleepChunk = 100 * time.Millisecond
)

// PolicyReloader is the policy view of the control loop: queries plus the
// ability to swap in a freshly loaded policy.
type PolicyReloader interface {
	domain.PolicyQuerier
	Reload()
}

// Loop is the single control loop driving detection, accounting,
// enforcement and warnings sequentially each tick. External contexts (the
// IPC handler, signal handlers) communicate through the reload and running
// flags only; the loop picks them up at defined check-points.
type Loop struct {
	policy       PolicyReloader
	tracker      *tracker.Tracker
	monitor      domain.WindowMonitor
	procs        domain.ProcessManager
	restWarning  *RestWarning
	limitWarning *LimitWarning
	logger       *zap.Logger

	running atomic.Bool
	reload  atomic.Bool

	now   func() time.Time
	sleep func(time.Duration)

	lastProbe time.Time
	lastFlush time.Time
}

// NewLoop wires the control loop.
func NewLoop(
	pol PolicyReloader,
	tr *tracker.Tracker,
	monitor domain.WindowMonitor,
	procs domain.ProcessManager,
	restWarning *RestWarning,
	limitWarning *LimitWarning,
	logger *zap.Logger,
) *Loop {
	return &Loop{
		policy:       pol,
		tracker:      tr,
		monitor:      monitor,
		procs:        procs,
		restWarning:  restWarning,
		limitWarning: limitWarning,
		logger:       logger,
		now:          time.Now,
		sleep:        time.Sleep,
	}
}

// RequestReload asks the loop to reload configuration before its next tick.
func (l *Loop) RequestReload() {
	l.reload.Store(true)
}

// RequestShutdown clears the running flag; the loop exits within one sleep
// chunk of its current tick finishing.
func (l *Loop) RequestShutdown() {
	l.running.Store(false)
}

// IsRunning reports whether the loop is still active.
func (l *Loop) IsRunning() bool {
	return l.running.Load()
}

// Run drives the loop until the context is canceled or shutdown is
// requested. The tracker is stopped (session closed, state persisted) on
// the way out.
func (l *Loop) Run(ctx context.Context) {
	l.running.Store(true)
	now := l.now()
	l.lastProbe = now
	l.lastFlush = now

	l.logger.Info("control loop started",
		zap.Duration("interval", l.policy.TrackingInterval()))

	for l.running.Load() && ctx.Err() == nil {
		l.tick(ctx)
		l.sleepChunked(ctx, l.policy.TrackingInterval())
	}

	l.logger.Info("control loop stopping")
	l.tracker.Stop()
}

func (l *Loop) tick(ctx context.Context) {
	if l.reload.CompareAndSwap(true, false) {
		l.policy.Reload()
	}

	now := l.now()
	if now.Sub(l.lastProbe) >= suspendProbeInterval {
		l.lastProbe = now
		l.tracker.CheckSuspend()
	}

	win, err := l.monitor.ActiveWindow()
	if err != nil {
		l.logger.Warn("window detection failed", zap.Error(err))
		return
	}
	if !l.running.Load() || ctx.Err() != nil {
		return
	}
	if win != nil && win.App != "" {
		l.tracker.Update(win.App, win.Title)
	}

	now = l.now()
	inRest := l.tracker.InRestTime(now)
	exceeded := l.tracker.IsLimitExceeded()

	if win != nil && win.PID > 0 && (inRest || exceeded) {
		// Classification for enforcement covers the window title too, so
		// deny patterns can target title content. Accounting stays keyed
		// on the app name alone.
		subject := strings.TrimSpace(win.App + " " + win.Title)
		if l.policy.IsDenylisted(subject) && !l.policy.IsAllowlisted(subject) {
			reason := "daily limit reached"
			if inRest {
				reason = "rest time"
			}
			l.procs.Kill(ctx, win.PID, win.App, reason)
			if !l.running.Load() || ctx.Err() != nil {
				return
			}
		}
	}

	approaching, start := l.policy.IsRestApproaching(now, l.restWarning.Lead())
	l.restWarning.Check(inRest, approaching, start)
	l.limitWarning.Check(l.tracker.RemainingTime(), exceeded, inRest)

	if now.Sub(l.lastFlush) >= historyFlushInterval {
		l.lastFlush = now
		l.tracker.FlushHistory()
	}
}

// sleepChunked sleeps the tracking interval in small chunks, re-checking
// the running flag so shutdown requests are honored promptly.
func (l *Loop) sleepChunked(ctx context.Context, d time.Duration) {
	deadline := l.now().Add(d)
	for l.now().Before(deadline) {
		if !l.running.Load() || ctx.Err() != nil {
			return
		}
		remaining := deadline.Sub(l.now())
		if remaining > sleepChunk {
			remaining = sleepChunk
		}
		l.sleep(remaining)
	}
}
