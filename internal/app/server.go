// Package app composes every component into one Server value,
// replacing the source program's module-scope mutable singletons
// (spec.md §9) with a single struct constructed at startup and passed
// by reference into every handler and background task.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/dfeldman/webink/internal/config"
	"github.com/dfeldman/webink/internal/devices"
	"github.com/dfeldman/webink/internal/httpapi"
	"github.com/dfeldman/webink/internal/notify"
	"github.com/dfeldman/webink/internal/render"
	"github.com/dfeldman/webink/internal/scheduler"
	"github.com/dfeldman/webink/internal/sleep"
	"github.com/dfeldman/webink/internal/snapshot"
	"github.com/dfeldman/webink/internal/tcpserver"
)

// Options configures Server construction.
type Options struct {
	ConfigPath      string
	ChromeURL       string
	SentryDSN       string
	SlackWebhookURL string
}

// Server owns every long-lived component: the snapshot store, device
// registry, render worker, scheduler, sleep planner, and the two wire
// surfaces. Nothing here is a package-level global.
type Server struct {
	cfg       *config.Config
	log       zerolog.Logger
	store     *snapshot.Store
	registry  *devices.Registry
	reporter  *notify.Reporter
	worker    *render.Worker
	capturer  *render.RodCapturer
	scheduler *scheduler.Scheduler
	planner   *sleep.Planner
	httpSrv   *http.Server
	tcpSrv    *tcpserver.Server
	tcpLn     net.Listener
}

// New loads configuration and wires every component together.
func New(opts Options, log zerolog.Logger) (*Server, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("app: loading config: %w", err)
	}

	store, err := snapshot.New(filepath.Join(cfg.DataDir, "bitmaps"))
	if err != nil {
		return nil, fmt.Errorf("app: initializing snapshot store: %w", err)
	}

	registry := devices.Load(filepath.Join(cfg.DataDir, "clients.json"), log)

	reporter, err := notify.New(notify.Config{
		SentryDSN:       opts.SentryDSN,
		SlackWebhookURL: opts.SlackWebhookURL,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("app: initializing error reporter: %w", err)
	}

	capturer, err := render.NewRodCapturer(opts.ChromeURL)
	if err != nil {
		return nil, fmt.Errorf("app: launching browser driver: %w", err)
	}

	worker := render.New(cfg, store, capturer, log, reporter, len(cfg.Pages)+1)
	planner := sleep.New(cfg)
	sched := scheduler.New(cfg, worker, worker, store, log)

	httpSrv := httpapi.New(cfg, store, registry, planner, &schedulerAdapter{worker: worker, sched: sched}, log)

	tcpSrv := tcpserver.New(cfg, store, registry, log, 0)

	return &Server{
		cfg:       cfg,
		log:       log,
		store:     store,
		registry:  registry,
		reporter:  reporter,
		worker:    worker,
		capturer:  capturer,
		scheduler: sched,
		planner:   planner,
		httpSrv:   &http.Server{Addr: fmt.Sprintf(":%d", cfg.HTTPPort), Handler: httpSrv.Handler()},
		tcpSrv:    tcpSrv,
	}, nil
}

// schedulerAdapter satisfies httpapi.Scheduler by combining the render
// worker's Enqueue with the scheduler's read-only status methods; the
// dashboard's manual-trigger endpoint enqueues directly on the worker,
// exactly as a scheduled tick does.
type schedulerAdapter struct {
	worker *render.Worker
	sched  *scheduler.Scheduler
}

func (a *schedulerAdapter) Enqueue(pageID string) { a.worker.Enqueue(pageID) }

func (a *schedulerAdapter) NextRenderAt(pageID string) (time.Time, bool) {
	return a.sched.NextRenderAt(pageID)
}

func (a *schedulerAdapter) TotalRenderTime() float64 { return a.sched.TotalRenderTime() }

// Run starts every background task and both wire surfaces, blocking
// until ctx is canceled. It is the repo's single entry point for
// steady-state operation.
func (s *Server) Run(ctx context.Context) error {
	defer s.capturer.Close()

	go s.worker.Run(ctx)
	go s.scheduler.Run(ctx)
	go s.runRenderCompletionTracker(ctx)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.SocketPort))
	if err != nil {
		return fmt.Errorf("app: binding tcp port: %w", err)
	}
	s.tcpLn = ln

	errCh := make(chan error, 2)

	go func() {
		s.log.Info().Int("port", s.cfg.HTTPPort).Msg("http surface listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("app: http server: %w", err)
		}
	}()

	go func() {
		s.log.Info().Int("port", s.cfg.SocketPort).Msg("tcp tile server listening")
		if err := s.tcpSrv.Serve(ctx, ln); err != nil {
			errCh <- fmt.Errorf("app: tcp server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		_ = ln.Close()
		return nil
	case err := <-errCh:
		return err
	}
}

// runRenderCompletionTracker watches render durations and advances the
// scheduler's next_render_at whenever a render finishes, whether it
// was triggered by the scheduler's own tick or a manual out-of-band
// request (spec.md §4.4 "Manual trigger").
func (s *Server) runRenderCompletionTracker(ctx context.Context) {
	lastSeen := map[string]float64{}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for pageID := range s.cfg.Pages {
				d, ok := s.worker.LastRenderDuration(pageID)
				if !ok {
					continue
				}
				if prev, seen := lastSeen[pageID]; seen && prev == d {
					continue
				}
				lastSeen[pageID] = d
				s.scheduler.OnRenderComplete(pageID, time.Now())
			}
		}
	}
}

// RenderPageNow performs a synchronous render of pageID, used by the
// CLI's one-shot "render" command.
func (s *Server) RenderPageNow(ctx context.Context, pageID string) error {
	return s.worker.RenderPage(ctx, pageID)
}
