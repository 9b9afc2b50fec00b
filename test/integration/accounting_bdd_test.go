//go:build integration

package integration

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/screentimed/internal/domain"
	"github.com/eliteGoblin/screentimed/internal/policy"
	"github.com/eliteGoblin/screentimed/internal/tracker"
)

const testConfig = `{
	"denylist": ["chrome", "steam.*"],
	"allowlist": ["code"],
	"daily_limit": 7200,
	"rest_times": {
		"monday":    {"morning": {"start": "00:00", "end": "08:00"}, "evening": {"start": "21:00", "end": "23:59"}},
		"tuesday":   {"morning": {"start": "00:00", "end": "08:00"}, "evening": {"start": "21:00", "end": "23:59"}},
		"wednesday": {"morning": {"start": "00:00", "end": "08:00"}, "evening": {"start": "21:00", "end": "23:59"}},
		"thursday":  {"morning": {"start": "00:00", "end": "08:00"}, "evening": {"start": "21:00", "end": "23:59"}},
		"friday":    {"morning": {"start": "00:00", "end": "08:00"}, "evening": {"start": "21:00", "end": "23:59"}},
		"saturday":  {"morning": {"start": "00:00", "end": "08:00"}, "evening": {"start": "21:00", "end": "23:59"}},
		"sunday":    {"morning": {"start": "00:00", "end": "08:00"}, "evening": {"start": "21:00", "end": "23:59"}}
	}
}`

var _ = Describe("Usage accounting", func() {
	var (
		tmpDir string
		pol    *policy.Policy
		clock  time.Time
		tr     *tracker.Tracker
	)

	now := func() time.Time { return clock }

	newTracker := func() *tracker.Tracker {
		logger := zap.NewNop()
		history := tracker.NewHistoryLedger(tmpDir, logger)
		return tracker.NewWithClock(pol, history, tmpDir, logger, now)
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "screentimed-integration-*")
		Expect(err).NotTo(HaveOccurred())

		configPath := filepath.Join(tmpDir, "config.json")
		Expect(os.WriteFile(configPath, []byte(testConfig), 0644)).To(Succeed())

		logger := zap.NewNop()
		pol = policy.Compile(policy.LoadConfig(configPath, logger), logger)

		// A weekday midday instant, well outside rest windows.
		clock = time.Date(time.Now().Year()+1, 3, 4, 12, 0, 0, 0, time.Local)
		tr = newTracker()
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Describe("a day of mixed usage", func() {
		It("accounts deny, allow and unknown apps against the right buckets", func() {
			tr.Update("google-chrome", "mail")
			clock = clock.Add(30 * time.Second)
			tr.Update("google-chrome", "mail")

			tr.Update("code", "editor")
			clock = clock.Add(45 * time.Second)
			tr.Update("code", "editor")

			tr.Update("somegame", "")
			clock = clock.Add(15 * time.Second)
			tr.Update("somegame", "")

			deny, allow := tr.CurrentUsage()
			Expect(deny).To(BeNumerically("~", 45, 0.01))
			Expect(allow).To(BeNumerically("~", 45, 0.01))
		})

		It("survives a restart without losing committed usage", func() {
			tr.Update("steamwebhelper", "")
			clock = clock.Add(90 * time.Second)
			tr.Update("steamwebhelper", "") // 90s gap: suspend, not credited
			clock = clock.Add(40 * time.Second)
			tr.Update("steamwebhelper", "")
			tr.Stop()

			reborn := newTracker()
			deny, _ := reborn.CurrentUsage()
			Expect(deny).To(BeNumerically("~", 40, 0.01))
		})
	})

	Describe("day rollover", func() {
		It("closes the session against the old day and starts fresh", func() {
			clock = time.Date(clock.Year(), 3, 4, 23, 58, 0, 0, time.Local)
			tr = newTracker()

			tr.Update("google-chrome", "")
			clock = clock.Add(30 * time.Second)
			tr.Update("google-chrome", "")

			clock = time.Date(clock.Year(), 3, 5, 0, 2, 0, 0, time.Local)
			tr.Update("google-chrome", "")

			deny, _ := tr.CurrentUsage()
			Expect(deny).To(BeZero())

			oldPath := filepath.Join(tmpDir, "usage_"+time.Date(clock.Year(), 3, 4, 0, 0, 0, 0, time.Local).Format("2006-01-02")+".json")
			raw, err := os.ReadFile(oldPath)
			Expect(err).NotTo(HaveOccurred())

			var old domain.DailyRecord
			Expect(json.Unmarshal(raw, &old)).To(Succeed())
			Expect(old.TotalDenylisted).To(BeNumerically("~", 30, 0.01))
			Expect(old.Sessions).To(HaveLen(1))
		})
	})

	Describe("rest time modification", func() {
		It("rescales the limit once and rejects a second change", func() {
			mod, err := tr.ModifyRestTime("", "22:00")
			Expect(err).NotTo(HaveOccurred())
			Expect(mod.Ratio).To(BeNumerically("<", 1))
			Expect(tr.AdjustedDailyLimit()).To(Equal(mod.AdjustedLimit))

			_, err = tr.ModifyRestTime("07:00", "")
			Expect(err).To(HaveOccurred())
		})

		It("persists the modification across a restart", func() {
			mod, err := tr.ModifyRestTime("06:30", "")
			Expect(err).NotTo(HaveOccurred())
			tr.Stop()

			reborn := newTracker()
			Expect(reborn.AdjustedDailyLimit()).To(Equal(mod.AdjustedLimit))
			_, err = reborn.ModifyRestTime("05:00", "")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("bonus time", func() {
		It("shifts the limit and composes with live usage", func() {
			Expect(tr.SetTemporaryAdjustment(-30)).To(Equal(5400))

			tr.Update("google-chrome", "")
			clock = clock.Add(10 * time.Second)
			Expect(tr.RemainingTime()).To(Equal(5390))

			// Overwrite, not add.
			Expect(tr.SetTemporaryAdjustment(15)).To(Equal(8100))
		})
	})

	Describe("limit enforcement threshold", func() {
		It("trips exactly at the adjusted limit", func() {
			Expect(tr.SetTemporaryAdjustment(-119)).To(Equal(60))

			tr.Update("google-chrome", "")
			clock = clock.Add(59 * time.Second)
			Expect(tr.IsLimitExceeded()).To(BeFalse())

			clock = clock.Add(1 * time.Second)
			Expect(tr.IsLimitExceeded()).To(BeTrue())
			Expect(tr.RemainingTime()).To(BeZero())
		})
	})
})
