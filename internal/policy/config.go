// Package policy loads the limit, allow/deny and rest-window configuration
// and answers classification and time-window queries over it.
package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Config is the canonical on-disk configuration shape. Legacy key variants
// are migrated in normalize; nothing outside this file knows they existed.
type Config struct {
	Allowlist        []string              `json:"allowlist"`
	Denylist         []string              `json:"denylist"`
	DailyLimit       int                   `json:"daily_limit"`
	WeekdayLimits    map[string]int        `json:"weekday_limits"`
	RestTimes        map[string]RestConfig `json:"rest_times"`
	HolidaySeasons   []HolidaySeasonConfig `json:"holiday_seasons"`
	TrackingInterval int                   `json:"tracking_interval"`
	DataDirectory    string                `json:"data_directory"`
}

// RestConfig mirrors domain.RestSchedule with JSON tags for the config file.
type RestConfig struct {
	Morning ClockRangeConfig `json:"morning"`
	Evening ClockRangeConfig `json:"evening"`
}

// ClockRangeConfig is a "HH:MM" window in the config file.
type ClockRangeConfig struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// HolidaySeasonConfig is one configured holiday date range.
type HolidaySeasonConfig struct {
	StartDate               string            `json:"start_date"`
	EndDate                 string            `json:"end_date"`
	ExtendedRestMorning     *ClockRangeConfig `json:"extended_rest_morning,omitempty"`
	ExtendedRestEvening     *ClockRangeConfig `json:"extended_rest_evening,omitempty"`
	ExtendedLimitMultiplier float64           `json:"extended_limit_multiplier,omitempty"`
}

var weekdayNames = []string{
	"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday",
}

const (
	defaultDailyLimit       = 7200
	defaultTrackingInterval = 1
	defaultDataDirectory    = "~/.screentime"
)

func defaultRestConfig() RestConfig {
	return RestConfig{
		Morning: ClockRangeConfig{Start: "00:00", End: "08:00"},
		Evening: ClockRangeConfig{Start: "21:00", End: "23:59"},
	}
}

// DefaultConfig returns the built-in fallback configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Allowlist:        []string{},
		Denylist:         []string{},
		DailyLimit:       defaultDailyLimit,
		WeekdayLimits:    map[string]int{},
		RestTimes:        map[string]RestConfig{},
		TrackingInterval: defaultTrackingInterval,
		DataDirectory:    defaultDataDirectory,
	}
	for _, day := range weekdayNames {
		cfg.WeekdayLimits[day] = defaultDailyLimit
		cfg.RestTimes[day] = defaultRestConfig()
	}
	return cfg
}

// DefaultConfigPath is where LoadConfig looks when no path is given.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".screentime/config.json"
	}
	return filepath.Join(home, ".screentime", "config.json")
}

// LoadConfig reads and normalizes the configuration file. A missing or
// unparseable file yields the built-in defaults; per-entry problems are
// logged and repaired, never fatal.
func LoadConfig(path string, logger *zap.Logger) *Config {
	if path == "" {
		path = DefaultConfigPath()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("config file not found, using defaults", zap.String("path", path))
		} else {
			logger.Error("failed to read config file, using defaults",
				zap.String("path", path), zap.Error(err))
		}
		return DefaultConfig()
	}

	cfg, err := parseConfig(raw)
	if err != nil {
		logger.Error("failed to parse config file, using defaults",
			zap.String("path", path), zap.Error(err))
		return DefaultConfig()
	}

	normalize(cfg, logger)
	logger.Info("loaded configuration",
		zap.String("path", path),
		zap.Int("allowlist_entries", len(cfg.Allowlist)),
		zap.Int("denylist_entries", len(cfg.Denylist)))
	return cfg
}

// parseConfig decodes the file and applies key migrations from older
// releases (blacklist/whitelist naming). Migration lives entirely at this
// boundary; runtime code only ever sees the canonical keys.
func parseConfig(raw []byte) (*Config, error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	migrateKey(generic, "blacklist", "denylist")
	migrateKey(generic, "whitelist", "allowlist")

	merged, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("re-encode config: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(merged, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// migrateKey renames old to new unless the new key is already present.
func migrateKey(m map[string]json.RawMessage, old, new string) {
	if v, ok := m[old]; ok {
		if _, exists := m[new]; !exists {
			m[new] = v
		}
		delete(m, old)
	}
}

// normalize fills every missing key with its documented default.
func normalize(cfg *Config, logger *zap.Logger) {
	if cfg.Allowlist == nil {
		cfg.Allowlist = []string{}
	}
	if cfg.Denylist == nil {
		cfg.Denylist = []string{}
	}
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = defaultDailyLimit
	}
	if cfg.WeekdayLimits == nil {
		cfg.WeekdayLimits = map[string]int{}
	}
	if cfg.RestTimes == nil {
		cfg.RestTimes = map[string]RestConfig{}
	}
	for _, day := range weekdayNames {
		if _, ok := cfg.WeekdayLimits[day]; !ok {
			logger.Warn("missing weekday limit, using default", zap.String("weekday", day))
			cfg.WeekdayLimits[day] = cfg.DailyLimit
		}
		if _, ok := cfg.RestTimes[day]; !ok {
			logger.Warn("missing rest times, using default", zap.String("weekday", day))
			cfg.RestTimes[day] = defaultRestConfig()
		}
	}
	if cfg.TrackingInterval <= 0 {
		cfg.TrackingInterval = defaultTrackingInterval
	}
	if strings.TrimSpace(cfg.DataDirectory) == "" {
		cfg.DataDirectory = defaultDataDirectory
	}
}

// ResolveDataDirectory expands a leading ~ in the configured data directory.
func (c *Config) ResolveDataDirectory() string {
	dir := c.DataDirectory
	if strings.HasPrefix(dir, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
		}
	}
	return dir
}
