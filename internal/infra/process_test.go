package infra

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/eliteGoblin/screentimed/internal/domain"
)

// mockNotifier records notifications for assertions.
type mockNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (m *mockNotifier) Notify(title, message string, urgency domain.Urgency, timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, message)
}

func newTestProcessManager() (*ProcessManagerImpl, *mockNotifier) {
	n := &mockNotifier{}
	pm := NewProcessManager(n, zap.NewNop())
	return pm, n
}

// TestKill_CooldownSkips verifies a recent attempt suppresses the next one
func TestKill_CooldownSkips(t *testing.T) {
	pm, _ := newTestProcessManager()
	now := time.Now()
	pm.now = func() time.Time { return now }
	pm.lastAttempt[4242] = now.Add(-2 * time.Second)

	assert.False(t, pm.Kill(context.Background(), 4242, "steam", "rest time"))
}

// TestKill_CooldownExpired verifies the attempt proceeds once the cooldown
// has passed; the dead test PID makes it a not-attempted result
func TestKill_CooldownExpired(t *testing.T) {
	pm, _ := newTestProcessManager()
	now := time.Now()
	pm.now = func() time.Time { return now }
	pm.lastAttempt[4242] = now.Add(-10 * time.Second)

	// PID 4242 does not exist in the test environment, so the attempt
	// stops at the existence probe rather than the cooldown check.
	assert.False(t, pm.Kill(context.Background(), 4242, "steam", "rest time"))
}

func TestKill_NonexistentProcess(t *testing.T) {
	pm, n := newTestProcessManager()

	// No such PID: not attempted, no notification.
	assert.False(t, pm.Kill(context.Background(), 999999, "ghost", "limit"))
	assert.Empty(t, n.calls)
}

func TestIsRunning(t *testing.T) {
	pm, _ := newTestProcessManager()

	assert.True(t, pm.IsRunning(os.Getpid()))
	assert.False(t, pm.IsRunning(999999))
}
