package tracker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/screentimed/internal/domain"
	"github.com/eliteGoblin/screentimed/internal/infra"
)

const historyFileName = "history.json"

// HistoryLedger owns the 30-day rolling usage history. Callers interact
// through Record/TrySave/Snapshot only; the underlying maps are never shared.
type HistoryLedger struct {
	path   string
	logger *zap.Logger
	now    func() time.Time

	mu   sync.Mutex
	days map[string]map[string]int

	// saving guards against overlapping writers. A save requested while one
	// is in flight is skipped, not queued; the next periodic trigger retries.
	saving atomic.Bool
}

// NewHistoryLedger loads history.json from the data directory. A missing or
// corrupt file yields an empty ledger.
func NewHistoryLedger(dataDir string, logger *zap.Logger) *HistoryLedger {
	h := &HistoryLedger{
		path:   filepath.Join(dataDir, historyFileName),
		logger: logger,
		now:    time.Now,
		days:   map[string]map[string]int{},
	}
	h.load()
	h.prune()
	return h
}

func (h *HistoryLedger) load() {
	raw, err := os.ReadFile(h.path)
	if err != nil {
		if !os.IsNotExist(err) {
			h.logger.Warn("failed to read history, starting empty",
				zap.String("path", h.path),
				zap.Error(err))
		}
		return
	}

	var hist domain.History
	if err := json.Unmarshal(raw, &hist); err != nil {
		h.logger.Warn("corrupt history, starting empty",
			zap.String("path", h.path),
			zap.Error(err))
		return
	}
	if hist.Days != nil {
		h.days = hist.Days
	}
}

// Record replaces the entry for the given day with the combined per-app
// seconds and drops entries older than the retention window.
func (h *HistoryLedger) Record(date string, usage map[string]int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry := make(map[string]int, len(usage))
	for app, secs := range usage {
		entry[app] = secs
	}
	h.days[date] = entry
	h.pruneLocked()
}

func (h *HistoryLedger) prune() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pruneLocked()
}

func (h *HistoryLedger) pruneLocked() {
	cutoff := h.now().AddDate(0, 0, -domain.HistoryRetentionDays).Format(domain.DateFormat)
	for date := range h.days {
		if date < cutoff {
			delete(h.days, date)
		}
	}
}

// TrySave persists the ledger unless a save is already in progress, in which
// case it returns false and the caller retries on its next trigger.
func (h *HistoryLedger) TrySave() bool {
	if !h.saving.CompareAndSwap(false, true) {
		h.logger.Debug("history save already in progress, skipping")
		return false
	}
	defer h.saving.Store(false)

	h.mu.Lock()
	hist := domain.History{
		LastUpdated: h.now().Format(domain.TimestampFormat),
		Days:        make(map[string]map[string]int, len(h.days)),
	}
	for date, apps := range h.days {
		entry := make(map[string]int, len(apps))
		for app, secs := range apps {
			entry[app] = secs
		}
		hist.Days[date] = entry
	}
	h.mu.Unlock()

	data, err := json.MarshalIndent(&hist, "", "  ")
	if err != nil {
		h.logger.Warn("failed to encode history", zap.Error(err))
		return false
	}
	if err := infra.WriteFileAtomic(h.path, data, 0644); err != nil {
		h.logger.Warn("failed to save history", zap.Error(err))
		return false
	}
	return true
}

// Snapshot returns a deep copy of the ledger contents.
func (h *HistoryLedger) Snapshot() map[string]map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]map[string]int, len(h.days))
	for date, apps := range h.days {
		entry := make(map[string]int, len(apps))
		for app, secs := range apps {
			entry[app] = secs
		}
		out[date] = entry
	}
	return out
}
