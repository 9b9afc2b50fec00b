package infra

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
	"go.uber.org/zap"

	"github.com/eliteGoblin/screentimed/internal/domain"
)

const (
	// pidCacheTTL is how long a resolved PID stays valid for an app name
	// before the pgrep fallback runs again.
	pidCacheTTL = 30 * time.Second

	// pgrepTimeout bounds the fallback subprocess.
	pgrepTimeout = time.Second
)

// X11Monitor implements domain.WindowMonitor over the X11 wire protocol.
type X11Monitor struct {
	conn   *xgb.Conn
	root   xproto.Window
	atoms  map[string]xproto.Atom
	logger *zap.Logger

	pidCache map[string]cachedPID
	now      func() time.Time
}

type cachedPID struct {
	pid      int
	resolved time.Time
}

// NewX11Monitor connects to the display named by DISPLAY.
func NewX11Monitor(logger *zap.Logger) (*X11Monitor, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X display: %w", err)
	}

	setup := xproto.Setup(conn)
	m := &X11Monitor{
		conn:     conn,
		root:     setup.DefaultScreen(conn).Root,
		atoms:    map[string]xproto.Atom{},
		logger:   logger,
		pidCache: map[string]cachedPID{},
		now:      time.Now,
	}

	for _, name := range []string{
		"_NET_ACTIVE_WINDOW",
		"_NET_WM_NAME",
		"_NET_WM_PID",
		"WM_NAME",
		"WM_CLASS",
		"UTF8_STRING",
	} {
		reply, err := xproto.InternAtom(conn, false, uint16(len(name)), name).Reply()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to intern atom %s: %w", name, err)
		}
		m.atoms[name] = reply.Atom
	}
	return m, nil
}

// ActiveWindow returns the focused window's sanitized class name, title and
// PID. Returns (nil, nil) when no window is focused.
func (m *X11Monitor) ActiveWindow() (*domain.WindowInfo, error) {
	window := m.activeWindowID()
	if window == 0 {
		return nil, nil
	}

	app := m.windowClass(window)
	if app == "" {
		return nil, nil
	}
	app = strings.ToLower(SanitizeName(app))

	info := &domain.WindowInfo{
		App:   app,
		Title: SanitizeName(m.windowTitle(window)),
	}
	info.PID = m.windowPID(window, app)
	return info, nil
}

// Close releases the display connection.
func (m *X11Monitor) Close() {
	m.conn.Close()
}

func (m *X11Monitor) property(window xproto.Window, atom, atomType xproto.Atom, length uint32) []byte {
	reply, err := xproto.GetProperty(m.conn, false, window, atom, atomType, 0, length).Reply()
	if err != nil {
		return nil
	}
	return reply.Value
}

func (m *X11Monitor) activeWindowID() xproto.Window {
	data := m.property(m.root, m.atoms["_NET_ACTIVE_WINDOW"], xproto.AtomWindow, 1)
	if len(data) < 4 {
		return 0
	}
	return xproto.Window(binary.LittleEndian.Uint32(data))
}

// windowClass returns the class part of WM_CLASS (instance\0class\0),
// falling back to the instance part.
func (m *X11Monitor) windowClass(window xproto.Window) string {
	data := m.property(window, m.atoms["WM_CLASS"], xproto.AtomString, 256)
	if len(data) == 0 {
		return ""
	}
	parts := strings.Split(strings.TrimRight(string(data), "\x00"), "\x00")
	if len(parts) >= 2 && parts[1] != "" {
		return parts[1]
	}
	return parts[0]
}

func (m *X11Monitor) windowTitle(window xproto.Window) string {
	data := m.property(window, m.atoms["_NET_WM_NAME"], m.atoms["UTF8_STRING"], 256)
	if len(data) == 0 {
		data = m.property(window, m.atoms["WM_NAME"], xproto.AtomString, 256)
	}
	return strings.TrimRight(string(data), "\x00")
}

// windowPID resolves the process behind the window: _NET_WM_PID when the
// window manager exposes a live one, otherwise a cached pgrep lookup by the
// app name. Returns 0 when nothing usable is found.
func (m *X11Monitor) windowPID(window xproto.Window, app string) int {
	data := m.property(window, m.atoms["_NET_WM_PID"], xproto.AtomCardinal, 1)
	if len(data) >= 4 {
		pid := int(binary.LittleEndian.Uint32(data))
		if pid > 0 && pidAlive(pid) {
			return pid
		}
	}

	if cached, ok := m.pidCache[app]; ok && m.now().Sub(cached.resolved) < pidCacheTTL {
		if pidAlive(cached.pid) {
			return cached.pid
		}
		delete(m.pidCache, app)
	}

	pid := pgrepPID(app)
	if pid > 0 {
		m.logger.Debug("resolved pid via pgrep",
			zap.String("app", app),
			zap.Int("pid", pid))
		m.pidCache[app] = cachedPID{pid: pid, resolved: m.now()}
	}
	return pid
}

func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// pgrepPID looks up the newest process matching the app name. Bounded so a
// hung pgrep cannot stall the poll loop.
func pgrepPID(app string) int {
	ctx, cancel := context.WithTimeout(context.Background(), pgrepTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "pgrep", "-n", "-i", app).Output()
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0
	}
	return pid
}

var _ domain.WindowMonitor = (*X11Monitor)(nil)
