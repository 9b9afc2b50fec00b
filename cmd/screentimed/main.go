// Package main is the CLI entry point for screentimed.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	sdnotify "github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/eliteGoblin/screentimed/internal/daemon"
	"github.com/eliteGoblin/screentimed/internal/domain"
	"github.com/eliteGoblin/screentimed/internal/infra"
	"github.com/eliteGoblin/screentimed/internal/ipc"
	"github.com/eliteGoblin/screentimed/internal/logbuf"
	"github.com/eliteGoblin/screentimed/internal/policy"
	"github.com/eliteGoblin/screentimed/internal/tracker"
)

var (
	// Version info (set via ldflags)
	Version   = "0.3.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

const restWarningLead = 15 * time.Minute

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "screentimed",
	Short: "Per-day screen time budget enforcement daemon",
	Long: `screentimed tracks the foreground application, accounts its usage
against a per-day budget, enforces rest periods and daily limits by
terminating denylisted processes, and persists usage history.`,
	Version: Version,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the tracking daemon",
	Long: `Runs the tracker in the foreground. Under systemd, readiness is
signaled via sd_notify once the control socket is up.`,
	RunE: runDaemon,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show today's usage statistics",
	Long: `Queries the running daemon for today's accounting snapshot. Falls
back to reading today's usage file directly when the daemon is down.`,
	RunE: runStats,
}

var logsCmd = &cobra.Command{
	Use:   "logs [lines]",
	Short: "Show recent daemon log lines",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogs,
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the daemon's configuration",
	RunE:  runReload,
}

var terminateCmd = &cobra.Command{
	Use:   "terminate",
	Short: "Stop the running daemon",
	RunE:  runTerminate,
}

var restCmd = &cobra.Command{
	Use:   "rest",
	Short: "Modify today's rest windows (once per day)",
	Long: `Moves today's morning rest end and/or evening rest start. The daily
limit is rescaled by the ratio of new to original rest duration. Allowed
once per day.`,
	RunE: runRest,
}

var bonusCmd = &cobra.Command{
	Use:   "bonus <minutes>",
	Short: "Adjust today's limit by a number of minutes",
	Long: `Sets today's temporary limit adjustment in minutes. Negative values
shrink the budget. Repeated calls overwrite the previous adjustment.`,
	Args: cobra.ExactArgs(1),
	RunE: runBonus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("screentimed %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
	},
}

var (
	configPath   string
	verbose      bool
	notifyUID    int
	morningEnd   string
	eveningStart string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", policy.DefaultConfigPath(), "Configuration file path")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	runCmd.Flags().IntVar(&notifyUID, "user", -1, "UID whose session bus receives notifications")
	restCmd.Flags().StringVar(&morningEnd, "morning-end", "", "New morning rest end (HH:MM)")
	restCmd.Flags().StringVar(&eveningStart, "evening-start", "", "New evening rest start (HH:MM)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(terminateCmd)
	rootCmd.AddCommand(restCmd)
	rootCmd.AddCommand(bonusCmd)
	rootCmd.AddCommand(versionCmd)
}

// resolveDataDir reads the configuration once, only to locate the data
// directory shared by daemon and CLI commands.
func resolveDataDir() string {
	cfg := policy.LoadConfig(configPath, zap.NewNop())
	return cfg.ResolveDataDirectory()
}

func runDaemon(cmd *cobra.Command, args []string) error {
	dataDir := resolveDataDir()
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	ring := logbuf.New(logbuf.DefaultCapacity)
	logger := buildLogger(dataDir, ring, verbose)
	defer func() { _ = logger.Sync() }()

	lock := infra.NewInstanceLock(dataDir)
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer lock.Release()

	// X11 clients inherit a usable display when launched from a desktop
	// session; a service environment usually has none set.
	if os.Getenv("DISPLAY") == "" {
		os.Setenv("DISPLAY", ":0.0")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	monitor, err := connectDisplay(ctx, logger)
	if err != nil {
		return err
	}
	defer monitor.Close()

	store := policy.NewStore(configPath, logger)

	var notifier domain.Notifier
	if notifyUID >= 0 {
		notifier = infra.NewNotifierForUser(notifyUID, logger)
	} else {
		notifier = infra.NewNotifier(logger)
	}

	history := tracker.NewHistoryLedger(dataDir, logger)
	tr := tracker.New(store, history, dataDir, logger)
	procs := infra.NewProcessManager(notifier, logger)

	loop := daemon.NewLoop(store, tr, monitor, procs,
		daemon.NewRestWarning(notifier, restWarningLead),
		daemon.NewLimitWarning(notifier),
		logger)

	server := ipc.NewServer(dataDir, ring, loop, tr, logger)
	if err := server.Start(); err != nil {
		return err
	}
	defer server.Stop()

	if _, err := sdnotify.SdNotify(false, sdnotify.SdNotifyReady); err != nil {
		logger.Warn("sd_notify ready failed", zap.Error(err))
	}

	logger.Info("screentimed started",
		zap.String("version", Version),
		zap.String("config", configPath),
		zap.String("data_dir", dataDir))

	loop.Run(ctx)

	if _, err := sdnotify.SdNotify(false, sdnotify.SdNotifyStopping); err != nil {
		logger.Warn("sd_notify stopping failed", zap.Error(err))
	}
	logger.Info("screentimed stopped")
	return nil
}

// connectDisplay connects to X. Under systemd the display may come up after
// us, so we retry; interactively a missing display is fatal right away.
func connectDisplay(ctx context.Context, logger *zap.Logger) (domain.WindowMonitor, error) {
	monitor, err := infra.NewX11Monitor(logger)
	if err == nil {
		return monitor, nil
	}
	if os.Getenv("NOTIFY_SOCKET") == "" {
		return nil, fmt.Errorf("cannot reach X display: %w", err)
	}

	logger.Warn("X display unreachable, retrying", zap.Error(err))
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			monitor, err = infra.NewX11Monitor(logger)
			if err == nil {
				return monitor, nil
			}
			logger.Warn("X display still unreachable", zap.Error(err))
		}
	}
}

// buildLogger tees structured logs to a rotating file, stderr, and the in
// memory ring served by the logs command.
func buildLogger(dataDir string, ring *logbuf.Ring, verbose bool) *zap.Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	fileCfg := zap.NewProductionEncoderConfig()
	fileCfg.TimeKey = "time"
	fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	fileSink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(dataDir, "screentimed.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     30, // days
		Compress:   true,
	})

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), fileSink, level),
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.AddSync(os.Stderr), level),
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), ring, level),
	)
	return zap.New(core)
}

func runStats(cmd *cobra.Command, args []string) error {
	dataDir := resolveDataDir()

	resp, err := ipc.Send(dataDir, ipc.Request{Cmd: "stats"})
	if err == nil && resp.Stats != nil {
		printStats(resp.Stats)
		return nil
	}

	// Daemon down: read today's usage file directly.
	stats, ferr := statsFromFile(dataDir)
	if ferr != nil {
		return fmt.Errorf("daemon not reachable and no usage file: %w", ferr)
	}
	fmt.Println("(daemon not running, showing last persisted state)")
	printStats(stats)
	return nil
}

func statsFromFile(dataDir string) (*domain.Stats, error) {
	date := time.Now().Format(domain.DateFormat)
	raw, err := os.ReadFile(filepath.Join(dataDir, fmt.Sprintf("usage_%s.json", date)))
	if err != nil {
		return nil, err
	}
	var rec domain.DailyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("corrupt usage file: %w", err)
	}

	var allowlisted float64
	for _, secs := range rec.AllowlistedUsage {
		allowlisted += secs
	}
	return &domain.Stats{
		Date:               rec.Date,
		DenylistedSeconds:  int(rec.TotalDenylisted),
		AllowlistedSeconds: int(allowlisted),
		TotalSessions:      len(rec.Sessions),
		DenylistedApps:     rec.DenylistedUsage,
		AllowlistedApps:    rec.AllowlistedUsage,
	}, nil
}

func printStats(s *domain.Stats) {
	fmt.Printf("Date:            %s\n", s.Date)
	fmt.Printf("Screen time:     %s used", formatDuration(s.DenylistedSeconds))
	if s.DailyLimit > 0 {
		fmt.Printf(" of %s (%s remaining)", formatDuration(s.DailyLimit), formatDuration(s.Remaining))
	}
	fmt.Println()
	fmt.Printf("Allowlisted:     %s\n", formatDuration(s.AllowlistedSeconds))
	fmt.Printf("Sessions today:  %d\n", s.TotalSessions)
	if s.LimitExceeded {
		fmt.Println("Status:          LIMIT EXCEEDED")
	} else if s.InRestTime {
		fmt.Println("Status:          rest time")
	}
	if s.HolidayMode {
		fmt.Println("Holiday mode:    on")
	}

	if len(s.DenylistedApps) > 0 {
		fmt.Println("\nCounted apps:")
		for app, secs := range s.DenylistedApps {
			fmt.Printf("  %-24s %s\n", app, formatDuration(int(secs)))
		}
	}
	if len(s.AllowlistedApps) > 0 {
		fmt.Println("\nAllowlisted apps:")
		for app, secs := range s.AllowlistedApps {
			fmt.Printf("  %-24s %s\n", app, formatDuration(int(secs)))
		}
	}
}

func formatDuration(seconds int) string {
	d := time.Duration(seconds) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func runLogs(cmd *cobra.Command, args []string) error {
	lines := 50
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid line count %q", args[0])
		}
		lines = n
	}

	resp, err := ipc.Send(resolveDataDir(), ipc.Request{Cmd: "logs", Lines: lines})
	if err != nil {
		return err
	}
	for _, line := range resp.Logs {
		fmt.Println(line)
	}
	fmt.Printf("(%d of %d buffered lines)\n", resp.Lines, resp.Total)
	return nil
}

func runReload(cmd *cobra.Command, args []string) error {
	resp, err := ipc.Send(resolveDataDir(), ipc.Request{Cmd: "reload"})
	if err != nil {
		return err
	}
	fmt.Println(resp.Message)
	return nil
}

func runTerminate(cmd *cobra.Command, args []string) error {
	resp, err := ipc.Send(resolveDataDir(), ipc.Request{Cmd: "terminate"})
	if err != nil {
		return err
	}
	fmt.Println(resp.Message)
	return nil
}

func runRest(cmd *cobra.Command, args []string) error {
	if morningEnd == "" && eveningStart == "" {
		return fmt.Errorf("specify --morning-end and/or --evening-start")
	}

	resp, err := ipc.Send(resolveDataDir(), ipc.Request{
		Cmd:          "modify_rest_time",
		MorningEnd:   morningEnd,
		EveningStart: eveningStart,
	})
	if err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("%s", resp.Message)
	}
	fmt.Println(resp.Message)
	if resp.Modification != nil {
		fmt.Printf("Morning rest: %s - %s\n",
			resp.Modification.NewRest.Morning.Start, resp.Modification.NewRest.Morning.End)
		fmt.Printf("Evening rest: %s - %s\n",
			resp.Modification.NewRest.Evening.Start, resp.Modification.NewRest.Evening.End)
	}
	return nil
}

func runBonus(cmd *cobra.Command, args []string) error {
	minutes, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid minutes %q", args[0])
	}

	resp, err := ipc.Send(resolveDataDir(), ipc.Request{Cmd: "set_bonus_time", Minutes: minutes})
	if err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("%s", resp.Message)
	}
	fmt.Printf("Today's limit is now %s\n", formatDuration(resp.NewLimit))
	return nil
}
