// Package infra implements infrastructure concerns: process enforcement,
// X11 window detection, desktop notifications, file and lock handling.
package infra

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/eliteGoblin/screentimed/internal/domain"
)

const (
	// killCooldown is the minimum time between kill attempts per PID.
	killCooldown = 5 * time.Second

	// gracePeriod is how long a process gets to exit after SIGTERM before
	// escalation to SIGKILL.
	gracePeriod  = 15 * time.Second
	pollInterval = 500 * time.Millisecond
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct {
	notifier domain.Notifier
	logger   *zap.Logger

	mu          sync.Mutex
	lastAttempt map[int]time.Time

	now   func() time.Time
	sleep func(time.Duration)
}

// NewProcessManager creates a new process manager.
func NewProcessManager(notifier domain.Notifier, logger *zap.Logger) *ProcessManagerImpl {
	return &ProcessManagerImpl{
		notifier:    notifier,
		logger:      logger,
		lastAttempt: map[int]time.Time{},
		now:         time.Now,
		sleep:       time.Sleep,
	}
}

// Kill terminates a process with graceful-then-forceful escalation. Returns
// false when the attempt is skipped: cooldown still active, or the process
// does not exist or cannot be signaled. The cooldown timestamp is recorded
// at the first signal sent, so escalations share one cooldown window.
func (pm *ProcessManagerImpl) Kill(ctx context.Context, pid int, appName, reason string) bool {
	pm.mu.Lock()
	if last, ok := pm.lastAttempt[pid]; ok && pm.now().Sub(last) < killCooldown {
		pm.mu.Unlock()
		pm.logger.Debug("kill skipped, cooldown active",
			zap.Int("pid", pid),
			zap.String("app", appName))
		return false
	}
	pm.mu.Unlock()

	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		pm.logger.Debug("kill target does not exist",
			zap.Int("pid", pid),
			zap.String("app", appName))
		return false
	}
	if err := proc.SendSignal(syscall.Signal(0)); err != nil {
		pm.logger.Warn("kill target not signalable",
			zap.Int("pid", pid),
			zap.String("app", appName),
			zap.Error(err))
		pm.notifier.Notify("Screen Time",
			fmt.Sprintf("Cannot terminate %s: %v", appName, err),
			domain.UrgencyCritical, 5*time.Second)
		return false
	}

	pm.mu.Lock()
	pm.lastAttempt[pid] = pm.now()
	pm.mu.Unlock()

	pm.logger.Info("terminating process",
		zap.Int("pid", pid),
		zap.String("app", appName),
		zap.String("reason", reason))

	if err := proc.Terminate(); err != nil {
		if errors.Is(err, syscall.EPERM) {
			pm.logger.Warn("permission denied terminating process",
				zap.Int("pid", pid),
				zap.String("app", appName))
			pm.notifier.Notify("Screen Time",
				fmt.Sprintf("Permission denied terminating %s", appName),
				domain.UrgencyCritical, 5*time.Second)
			return true
		}
		pm.logger.Warn("SIGTERM failed",
			zap.Int("pid", pid),
			zap.Error(err))
	}

	if pm.waitForExit(ctx, pid, gracePeriod) {
		pm.notifier.Notify("Screen Time",
			fmt.Sprintf("%s was closed: %s", appName, reason),
			domain.UrgencyNormal, 5*time.Second)
		return true
	}

	pm.logger.Info("process survived SIGTERM, escalating",
		zap.Int("pid", pid),
		zap.String("app", appName))
	if err := proc.Kill(); err != nil {
		pm.logger.Warn("SIGKILL failed",
			zap.Int("pid", pid),
			zap.Error(err))
	}
	pm.waitForExit(ctx, pid, 2*pollInterval)

	pm.notifier.Notify("Screen Time",
		fmt.Sprintf("%s was closed: %s", appName, reason),
		domain.UrgencyNormal, 5*time.Second)
	return true
}

// waitForExit polls until the process is gone, the timeout expires, or the
// context is canceled.
func (pm *ProcessManagerImpl) waitForExit(ctx context.Context, pid int, timeout time.Duration) bool {
	deadline := pm.now().Add(timeout)
	for pm.now().Before(deadline) {
		if !pm.IsRunning(pid) {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		pm.sleep(pollInterval)
	}
	return !pm.IsRunning(pid)
}

// IsRunning checks if a PID exists and is signalable.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	// On Unix, FindProcess always succeeds
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
