package ipc

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/screentimed/internal/domain"
	"github.com/eliteGoblin/screentimed/internal/logbuf"
)

type mockController struct {
	mu        sync.Mutex
	reloads   int
	shutdowns int
}

func (m *mockController) RequestReload() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloads++
}

func (m *mockController) RequestShutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdowns++
}

type mockUsage struct {
	stats      domain.Stats
	modifyErr  error
	lastBonus  int
	limitAfter int
}

func (m *mockUsage) Stats() domain.Stats { return m.stats }

func (m *mockUsage) ModifyRestTime(morningEnd, eveningStart string) (*domain.RestTimeModification, error) {
	if m.modifyErr != nil {
		return nil, m.modifyErr
	}
	return &domain.RestTimeModification{
		NewRest: domain.RestSchedule{
			Morning: domain.ClockRange{Start: "00:00", End: morningEnd},
			Evening: domain.ClockRange{Start: eveningStart, End: "23:59"},
		},
		AdjustedLimit: 6000,
	}, nil
}

func (m *mockUsage) SetTemporaryAdjustment(minutes int) int {
	m.lastBonus = minutes
	return m.limitAfter
}

func startTestServer(t *testing.T) (string, *mockController, *mockUsage, *logbuf.Ring) {
	t.Helper()
	dir := t.TempDir()
	ring := logbuf.New(100)
	ctrl := &mockController{}
	usage := &mockUsage{stats: domain.Stats{Date: "2026-03-04", DailyLimit: 7200}, limitAfter: 9000}

	srv := NewServer(dir, ring, ctrl, usage, zap.NewNop())
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return dir, ctrl, usage, ring
}

func TestServer_Logs(t *testing.T) {
	dir, _, _, ring := startTestServer(t)
	for i := 0; i < 10; i++ {
		ring.Append(fmt.Sprintf("line %d", i))
	}

	resp, err := Send(dir, Request{Cmd: "logs", Lines: 3})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 3, resp.Lines)
	assert.Equal(t, 10, resp.Total)
	assert.Equal(t, []string{"line 7", "line 8", "line 9"}, resp.Logs)
}

func TestServer_Reload(t *testing.T) {
	dir, ctrl, _, _ := startTestServer(t)

	resp, err := Send(dir, Request{Cmd: "reload"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, ctrl.reloads)
}

// TestServer_TerminateAliases verifies all three shutdown spellings clear
// the running flag
func TestServer_TerminateAliases(t *testing.T) {
	dir, ctrl, _, _ := startTestServer(t)

	for _, cmd := range []string{"terminate", "stop", "shutdown"} {
		resp, err := Send(dir, Request{Cmd: cmd})
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Status)
	}
	assert.Equal(t, 3, ctrl.shutdowns)
}

func TestServer_Stats(t *testing.T) {
	dir, _, _, _ := startTestServer(t)

	resp, err := Send(dir, Request{Cmd: "stats"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	require.NotNil(t, resp.Stats)
	assert.Equal(t, "2026-03-04", resp.Stats.Date)
	assert.Equal(t, 7200, resp.Stats.DailyLimit)
}

func TestServer_ModifyRestTime(t *testing.T) {
	dir, _, _, _ := startTestServer(t)

	resp, err := Send(dir, Request{Cmd: "modify_rest_time", EveningStart: "22:00"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	require.NotNil(t, resp.Modification)
	assert.Equal(t, "22:00", resp.Modification.NewRest.Evening.Start)
	assert.Equal(t, 6000, resp.Modification.AdjustedLimit)
}

func TestServer_ModifyRestTime_Rejected(t *testing.T) {
	dir, _, usage, _ := startTestServer(t)
	usage.modifyErr = fmt.Errorf("rest time already modified today")

	resp, err := Send(dir, Request{Cmd: "modify_rest_time", MorningEnd: "07:00"})
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, resp.Message, "already modified")
}

func TestServer_SetBonusTime(t *testing.T) {
	dir, _, usage, _ := startTestServer(t)

	resp, err := Send(dir, Request{Cmd: "set_bonus_time", Minutes: 30})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 9000, resp.NewLimit)
	assert.Equal(t, 30, usage.lastBonus)
}

// TestServer_PlainTextCommand verifies a bare command name without JSON
// framing is dispatched like its JSON equivalent
func TestServer_PlainTextCommand(t *testing.T) {
	dir, ctrl, _, _ := startTestServer(t)

	conn, err := net.DialTimeout("unix", SocketPath(dir), dialTimeout)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("reload\n"))
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, ctrl.reloads)
}

// TestServer_CommandAliases verifies the get_/config alias spellings and
// case-insensitive command names
func TestServer_CommandAliases(t *testing.T) {
	dir, ctrl, _, ring := startTestServer(t)
	ring.Append("one line")

	resp, err := Send(dir, Request{Cmd: "get_logs", Lines: 1})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []string{"one line"}, resp.Logs)

	resp, err = Send(dir, Request{Cmd: "get_stats"})
	require.NoError(t, err)
	require.NotNil(t, resp.Stats)
	assert.Equal(t, "2026-03-04", resp.Stats.Date)

	resp, err = Send(dir, Request{Cmd: "Reload_Config"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, ctrl.reloads)
}

func TestServer_UnknownCommand(t *testing.T) {
	dir, _, _, _ := startTestServer(t)

	resp, err := Send(dir, Request{Cmd: "dance"})
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, resp.Message, "unknown command")
}

func TestSend_DaemonNotRunning(t *testing.T) {
	_, err := Send(t.TempDir(), Request{Cmd: "stats"})
	assert.Error(t, err)
}
