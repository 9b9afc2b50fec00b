package infra

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/screentimed/internal/domain"
)

// execTimeout bounds the notify-send subprocess so a hung notification
// daemon cannot stall the control loop.
const execTimeout = 2 * time.Second

// NotifierImpl delivers desktop notifications via notify-send.
type NotifierImpl struct {
	logger *zap.Logger

	// dbusAddress overrides DBUS_SESSION_BUS_ADDRESS for the subprocess.
	// Needed when the daemon dropped privileges and the session bus of the
	// target user is not in our environment.
	dbusAddress string
}

// NewNotifier creates a notify-send backed notifier.
func NewNotifier(logger *zap.Logger) *NotifierImpl {
	return &NotifierImpl{logger: logger}
}

// NewNotifierForUser creates a notifier that targets the session bus of the
// user with the given UID.
func NewNotifierForUser(uid int, logger *zap.Logger) *NotifierImpl {
	return &NotifierImpl{
		logger:      logger,
		dbusAddress: fmt.Sprintf("unix:path=/run/user/%d/bus", uid),
	}
}

// Notify sends a desktop notification. Fire-and-forget: failures are logged,
// never propagated.
func (n *NotifierImpl) Notify(title, message string, urgency domain.Urgency, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), execTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "notify-send",
		"--urgency", string(urgency),
		"--expire-time", fmt.Sprintf("%d", timeout.Milliseconds()),
		"--app-name", "screentimed",
		title, message)
	cmd.Env = os.Environ()
	if n.dbusAddress != "" {
		cmd.Env = append(cmd.Env, "DBUS_SESSION_BUS_ADDRESS="+n.dbusAddress)
	}

	if err := cmd.Run(); err != nil {
		n.logger.Warn("notification delivery failed",
			zap.String("title", title),
			zap.Error(err))
		return
	}
	n.logger.Debug("notification sent",
		zap.String("title", title),
		zap.String("urgency", string(urgency)))
}

var _ domain.Notifier = (*NotifierImpl)(nil)
