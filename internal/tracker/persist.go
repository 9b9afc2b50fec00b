// Package tracker implements the usage accounting engine: the live session
// state machine, today's daily record, the rolling history ledger, and their
// durable persistence.
package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/screentimed/internal/domain"
	"github.com/eliteGoblin/screentimed/internal/infra"
)

// recordPath returns the per-day usage file for the given day key.
func recordPath(dataDir, date string) string {
	return filepath.Join(dataDir, fmt.Sprintf("usage_%s.json", date))
}

// loadDailyRecord reads the usage file for the given day. A missing file,
// corrupt JSON, or a record whose date disagrees with the expected day all
// yield a fresh empty record; loading never fails.
func loadDailyRecord(dataDir string, day time.Time, logger *zap.Logger) *domain.DailyRecord {
	date := day.Format(domain.DateFormat)
	path := recordPath(dataDir, date)

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("failed to read daily record, starting fresh",
				zap.String("path", path),
				zap.Error(err))
		}
		return domain.NewDailyRecord(day)
	}

	record, err := parseDailyRecord(raw)
	if err != nil {
		logger.Warn("corrupt daily record, starting fresh",
			zap.String("path", path),
			zap.Error(err))
		return domain.NewDailyRecord(day)
	}

	// The expected day is authoritative. A record for another date is
	// discarded, never merged.
	if record.Date != date {
		logger.Warn("daily record date mismatch, starting fresh",
			zap.String("path", path),
			zap.String("expected", date),
			zap.String("found", record.Date))
		return domain.NewDailyRecord(day)
	}

	normalizeRecord(record)
	return record
}

// parseDailyRecord decodes a usage file, migrating legacy key names at the
// deserialization boundary. Nothing outside this function knows the old
// names existed.
func parseDailyRecord(raw []byte) (*domain.DailyRecord, error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("failed to parse daily record: %w", err)
	}

	migrateKey(generic, "blacklisted_usage", "denylisted_usage")
	migrateKey(generic, "whitelisted_usage", "allowlisted_usage")
	migrateKey(generic, "total_blacklisted", "total_denylisted")
	migrateKey(generic, "total_denylisted_seconds", "total_denylisted")
	migrateKey(generic, "temporary_blacklisted_usage", "temporary_denylisted_usage")

	if sel, ok := generic["sessions"]; ok {
		generic["sessions"] = migrateSessions(sel)
	}

	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode daily record: %w", err)
	}

	var record domain.DailyRecord
	if err := json.Unmarshal(canonical, &record); err != nil {
		return nil, fmt.Errorf("failed to decode daily record: %w", err)
	}
	return &record, nil
}

// migrateKey renames old to new unless the canonical key is already present.
func migrateKey(m map[string]json.RawMessage, old, new string) {
	if v, ok := m[old]; ok {
		if _, exists := m[new]; !exists {
			m[new] = v
		}
		delete(m, old)
	}
}

// migrateSessions renames duration_seconds to duration inside each session
// entry. Malformed entries are passed through unchanged and left to the
// forward-compatible decode.
func migrateSessions(raw json.RawMessage) json.RawMessage {
	var sessions []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &sessions); err != nil {
		return raw
	}
	for _, s := range sessions {
		migrateKey(s, "duration_seconds", "duration")
	}
	out, err := json.Marshal(sessions)
	if err != nil {
		return raw
	}
	return out
}

// normalizeRecord fills keys a forward-compatible loader may find missing.
func normalizeRecord(r *domain.DailyRecord) {
	if r.DenylistedUsage == nil {
		r.DenylistedUsage = map[string]float64{}
	}
	if r.AllowlistedUsage == nil {
		r.AllowlistedUsage = map[string]float64{}
	}
	if r.Sessions == nil {
		r.Sessions = []domain.SessionRecord{}
	}
}

// saveDailyRecord persists the record via temp file and atomic rename.
func saveDailyRecord(dataDir string, record *domain.DailyRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode daily record: %w", err)
	}
	return infra.WriteFileAtomic(recordPath(dataDir, record.Date), data, 0644)
}
