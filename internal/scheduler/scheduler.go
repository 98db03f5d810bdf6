// Package scheduler is the per-page state machine that decides when
// the next render should begin, honoring refresh_interval,
// suppress_refresh windows, and a dynamic lead time derived from
// observed render durations.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dfeldman/webink/internal/config"
)

// SlackSeconds is the fixed safety margin added to total observed
// render time to compute the scheduler's lead time (spec.md §4.4).
const SlackSeconds = 5

// DefaultRenderEstimateSeconds is used for any page with no observed
// render duration yet, including at startup.
const DefaultRenderEstimateSeconds = 30.0

// DurationSource reports the most recently observed render duration
// for a page, satisfied by render.Worker.
type DurationSource interface {
	LastRenderDuration(pageID string) (float64, bool)
}

// Enqueuer schedules a page for render, satisfied by render.Worker.
type Enqueuer interface {
	Enqueue(pageID string)
}

// HasAnyBitmap reports whether a page has at least one committed
// bitmap in any supported mode, satisfied directly by snapshot.Store.
type HasAnyBitmap interface {
	HasAny(pageID string, modes []string) bool
}

// Scheduler exclusively owns ScheduleState (spec.md §3 ownership).
type Scheduler struct {
	cfg      *config.Config
	durs     DurationSource
	enqueuer Enqueuer
	store    HasAnyBitmap
	log      zerolog.Logger

	mu           sync.Mutex
	nextRenderAt map[string]time.Time
}

// New builds a Scheduler and computes each page's initial
// next_render_at using the 30s/page estimate (spec.md §4.4 "Initial
// state").
func New(cfg *config.Config, durs DurationSource, enqueuer Enqueuer, store HasAnyBitmap, log zerolog.Logger) *Scheduler {
	s := &Scheduler{
		cfg:          cfg,
		durs:         durs,
		enqueuer:     enqueuer,
		store:        store,
		log:          log,
		nextRenderAt: map[string]time.Time{},
	}

	now := time.Now()
	lead0 := float64(len(cfg.Pages))*DefaultRenderEstimateSeconds + SlackSeconds
	for pageID, page := range cfg.Pages {
		s.nextRenderAt[pageID] = now.Add(time.Duration(float64(page.RefreshInterval)-lead0) * time.Second)
	}
	return s
}

// leadSeconds returns R_total + SLACK, where R_total sums the last
// observed render duration for every configured page (30s for any
// page with no observation yet). A single serialized worker means a
// page can be blocked behind all the others, so the total (not the
// per-page duration) is what must fit before the next wake.
func (s *Scheduler) leadSeconds() float64 {
	total := 0.0
	for pageID := range s.cfg.Pages {
		if d, ok := s.durs.LastRenderDuration(pageID); ok {
			total += d
		} else {
			total += DefaultRenderEstimateSeconds
		}
	}
	return total + SlackSeconds
}

// ShouldRender reports whether pageID is due for a render at now:
// now is at or past next_render_at and now does not fall inside the
// page's suppression window.
func (s *Scheduler) ShouldRender(pageID string, now time.Time) bool {
	s.mu.Lock()
	next, ok := s.nextRenderAt[pageID]
	s.mu.Unlock()
	if !ok {
		return false
	}

	page, ok := s.cfg.Pages[pageID]
	if !ok {
		return false
	}

	if page.SuppressRefresh != nil && inWindow(*page.SuppressRefresh, now) {
		return false
	}

	return !now.Before(next)
}

func inWindow(w config.SuppressWindow, now time.Time) bool {
	if w.Start == w.End {
		return false
	}
	start, err1 := time.ParseInLocation("15:04", w.Start, now.Location())
	end, err2 := time.ParseInLocation("15:04", w.End, now.Location())
	if err1 != nil || err2 != nil {
		return false
	}
	startToday := time.Date(now.Year(), now.Month(), now.Day(), start.Hour(), start.Minute(), 0, 0, now.Location())
	endToday := time.Date(now.Year(), now.Month(), now.Day(), end.Hour(), end.Minute(), 0, 0, now.Location())
	return !now.Before(startToday) && !now.After(endToday)
}

// OnRenderComplete updates next_render_at for pageID using the
// standard formula, whether the render was triggered by the regular
// loop or by a manual out-of-band request (spec.md §4.4 "Manual
// trigger").
func (s *Scheduler) OnRenderComplete(pageID string, now time.Time) {
	page, ok := s.cfg.Pages[pageID]
	if !ok {
		return
	}

	lead := s.leadSeconds()
	next := now.Add(time.Duration(float64(page.RefreshInterval)-lead) * time.Second)

	s.mu.Lock()
	s.nextRenderAt[pageID] = next
	s.mu.Unlock()

	s.log.Info().
		Str("page", pageID).
		Time("next_render_at", next).
		Float64("lead_s", lead).
		Msg("scheduled next render")
}

// NextRenderAt returns the currently scheduled next_render_at for
// pageID, for the dashboard status endpoint.
func (s *Scheduler) NextRenderAt(pageID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.nextRenderAt[pageID]
	return t, ok
}

// TotalRenderTime exposes R_total for the dashboard status endpoint.
func (s *Scheduler) TotalRenderTime() float64 {
	return s.leadSeconds() - SlackSeconds
}

// Run is the coordination loop: it wakes at least once per second,
// renders any page missing a bitmap on first pass, and otherwise
// enqueues any page whose ShouldRender is true.
func (s *Scheduler) Run(ctx context.Context) {
	s.renderMissing()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for pageID := range s.cfg.Pages {
				if s.ShouldRender(pageID, now) {
					s.log.Info().Str("page", pageID).Msg("triggering scheduled render")
					s.enqueuer.Enqueue(pageID)
				}
			}
		}
	}
}

// renderMissing immediately enqueues any page that has no bitmap yet
// in any supported mode, before the normal cadence takes over
// (spec.md §4.4 "Initial state").
func (s *Scheduler) renderMissing() {
	for pageID := range s.cfg.Pages {
		if !s.store.HasAny(pageID, s.cfg.SupportedModes) {
			s.log.Info().Str("page", pageID).Msg("no bitmap yet, rendering immediately")
			s.enqueuer.Enqueue(pageID)
		}
	}
}
