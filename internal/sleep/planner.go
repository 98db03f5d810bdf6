// Package sleep computes how long a device should sleep before its
// next contact — the sole signal the server has to re-phase a client's
// wake schedule with its own render cadence.
package sleep

import (
	"time"

	"github.com/dfeldman/webink/internal/config"
	"github.com/dfeldman/webink/internal/devices"
)

// Planner computes sleep_seconds for a device given the current
// configuration and device registry state.
type Planner struct {
	cfg *config.Config
}

// New returns a Planner bound to cfg.
func New(cfg *config.Config) *Planner {
	return &Planner{cfg: cfg}
}

// Compute implements spec.md §4.6 exactly: sleep is disabled, then
// mandatory refresh times, then suppression windows, then falls back
// to the page's plain refresh_interval.
func (p *Planner) Compute(deviceName string, dev devices.Device, hasDevice bool, now time.Time) int {
	if hasDevice && dev.SleepDisabled {
		return 0
	}

	pageID := ""
	if hasDevice {
		pageID = dev.Page
	}
	if pageID == "" {
		if d, ok := p.cfg.DeviceOrDefault(deviceName); ok {
			pageID = d.Page
		}
	}

	page, ok := p.cfg.Pages[pageID]
	if !ok {
		return config.DefaultRefreshInterval
	}

	candidate := time.Duration(page.RefreshInterval) * time.Second

	for _, t := range page.MandatoryRefresh {
		next, err := nextInstant(t, now)
		if err != nil {
			continue
		}
		delta := next.Sub(now)
		if delta < candidate {
			candidate = delta
		}
	}

	if page.SuppressRefresh != nil {
		if adjusted, ok := applySuppression(*page.SuppressRefresh, now, candidate); ok {
			candidate = adjusted
		}
	}

	secs := int(candidate.Seconds())
	if secs < 0 {
		secs = 0
	}
	return secs
}

// nextInstant returns the next wall-clock instant of timeStr
// (HH:MM, local) strictly after now: today if timeStr is still ahead of
// now's time-of-day, otherwise (including an exact match) tomorrow.
func nextInstant(timeStr string, now time.Time) (time.Time, error) {
	t, err := time.ParseInLocation("15:04", timeStr, now.Location())
	if err != nil {
		return time.Time{}, err
	}
	candidate := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
	if !candidate.After(now) {
		candidate = candidate.Add(24 * time.Hour)
	}
	return candidate, nil
}

// applySuppression implements spec.md §4.6 step 5: if now falls inside
// the suppression window, sleep until it ends; otherwise, if the
// window's start occurs sooner than candidate, sleep until the window
// starts instead.
func applySuppression(w config.SuppressWindow, now time.Time, candidate time.Duration) (time.Duration, bool) {
	start, err := time.ParseInLocation("15:04", w.Start, now.Location())
	if err != nil {
		return 0, false
	}
	end, err := time.ParseInLocation("15:04", w.End, now.Location())
	if err != nil {
		return 0, false
	}
	if w.Start == w.End {
		return 0, false // zero-width window: no suppression
	}

	startToday := time.Date(now.Year(), now.Month(), now.Day(), start.Hour(), start.Minute(), 0, 0, now.Location())
	endToday := time.Date(now.Year(), now.Month(), now.Day(), end.Hour(), end.Minute(), 0, 0, now.Location())

	if !now.Before(startToday) && !now.After(endToday) {
		return endToday.Sub(now), true
	}

	suppressStart := startToday
	if !suppressStart.After(now) {
		suppressStart = suppressStart.Add(24 * time.Hour)
	}
	untilSuppress := suppressStart.Sub(now)
	if untilSuppress < candidate {
		return untilSuppress, true
	}
	return 0, false
}
