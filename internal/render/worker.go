package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dfeldman/webink/internal/config"
	"github.com/dfeldman/webink/internal/mode"
	"github.com/dfeldman/webink/internal/snapshot"
)

// Reporter is the narrow slice of notify.Reporter the Worker depends
// on, kept local to avoid an import cycle between render and notify.
type Reporter interface {
	ReportError(context.Context, string, error)
}

// noopReporter is used when the caller does not wire a Reporter.
type noopReporter struct{}

func (noopReporter) ReportError(context.Context, string, error) {}

// Worker is the sole writer of the snapshot store. At most one render
// runs at a time; the external browser driver is process-heavy enough
// that the source program and this implementation both serialize all
// rendering on a single worker rather than parallelizing across pages.
type Worker struct {
	cfg      *config.Config
	store    *snapshot.Store
	capturer Capturer
	log      zerolog.Logger
	reporter Reporter

	queue   chan string
	pending map[string]struct{}
	mu      sync.Mutex

	durations   map[string]float64
	durationsMu sync.RWMutex
}

// New constructs a Worker. queueSize bounds the number of distinct
// pages that may be queued ahead of the single render goroutine; it
// should be at least len(cfg.Pages).
func New(cfg *config.Config, store *snapshot.Store, capturer Capturer, log zerolog.Logger, reporter Reporter, queueSize int) *Worker {
	if reporter == nil {
		reporter = noopReporter{}
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Worker{
		cfg:       cfg,
		store:     store,
		capturer:  capturer,
		log:       log,
		reporter:  reporter,
		queue:     make(chan string, queueSize),
		pending:   map[string]struct{}{},
		durations: map[string]float64{},
	}
}

// Enqueue schedules pageID for render. A second enqueue while pageID
// is already queued or in-progress is a no-op (§5 back-pressure: no
// retry policy, no duplicate work).
func (w *Worker) Enqueue(pageID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, already := w.pending[pageID]; already {
		return
	}
	w.pending[pageID] = struct{}{}
	w.queue <- pageID
}

// Run consumes the render queue until ctx is canceled. It is meant to
// be the repo's one long-lived render goroutine.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case pageID := <-w.queue:
			if err := w.RenderPage(ctx, pageID); err != nil {
				w.log.Error().Err(err).Str("page", pageID).Msg("render failed")
			}

			w.mu.Lock()
			delete(w.pending, pageID)
			w.mu.Unlock()
		}
	}
}

// LastRenderDuration returns the most recently observed render
// duration for pageID in seconds, and whether one has been observed
// yet.
func (w *Worker) LastRenderDuration(pageID string) (float64, bool) {
	w.durationsMu.RLock()
	defer w.durationsMu.RUnlock()
	d, ok := w.durations[pageID]
	return d, ok
}

// RenderPage captures pageID in every supported mode, dithers each
// capture through the mode codec, and commits successful modes to the
// snapshot store. A browser-unavailable failure aborts the remaining
// modes for this page; a single mode's failure does not abort the
// others, and no failure ever clears an existing bitmap.
func (w *Worker) RenderPage(ctx context.Context, pageID string) error {
	page, ok := w.cfg.Pages[pageID]
	if !ok {
		return fmt.Errorf("render: unknown page %q", pageID)
	}

	start := time.Now()
	anyErr := error(nil)

	for _, modeStr := range w.cfg.SupportedModes {
		m, err := mode.Parse(modeStr)
		if err != nil {
			w.log.Error().Err(err).Str("mode", modeStr).Msg("skipping unparseable mode")
			continue
		}

		if err := w.renderMode(ctx, pageID, page, m); err != nil {
			anyErr = err
			w.log.Error().Err(err).Str("page", pageID).Str("mode", modeStr).Msg("capture failed")
			w.reporter.ReportError(ctx, fmt.Sprintf("render %s/%s", pageID, modeStr), err)

			if errors.Is(err, ErrBrowserUnavailable) {
				break // fatal for this page; retain whatever was already committed
			}
			continue // per-mode failure only; try the remaining modes
		}
	}

	duration := time.Since(start).Seconds()
	w.durationsMu.Lock()
	w.durations[pageID] = duration
	w.durationsMu.Unlock()

	w.log.Info().Str("page", pageID).Float64("duration_s", duration).Msg("render cycle complete")
	return anyErr
}

func (w *Worker) renderMode(ctx context.Context, pageID string, page config.Page, m mode.Mode) error {
	captureWidth := int(float64(m.Width) * page.ZoomLevel)
	captureHeight := int(float64(m.Height) * page.ZoomLevel)
	if page.Rotation == 90 || page.Rotation == -90 {
		captureWidth, captureHeight = captureHeight, captureWidth
	}

	shot, err := w.capturer.Capture(ctx, CaptureRequest{
		URL:             page.URL,
		Width:           captureWidth,
		Height:          captureHeight,
		ScrollToElement: page.ScrollToElement,
		SettleDelay:     2 * time.Second,
	})
	if err != nil {
		return err
	}

	img, err := decodePNG(shot)
	if err != nil {
		return fmt.Errorf("render: decoding screenshot: %w", err)
	}

	img = rotate(img, page.Rotation)

	if page.ZoomLevel > 1.0 || page.Rotation == 90 || page.Rotation == -90 {
		img = mode.Resample(img, m.Width, m.Height)
	}

	dithered, err := mode.Dither(img, m)
	if err != nil {
		return fmt.Errorf("render: dithering: %w", err)
	}

	if err := w.store.Put(pageID, m, dithered); err != nil {
		return fmt.Errorf("render: committing bitmap: %w", err)
	}
	return nil
}

func decodePNG(data []byte) (image.Image, error) {
	return png.Decode(bytes.NewReader(data))
}
