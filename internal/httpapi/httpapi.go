// Package httpapi is the device-facing and dashboard HTTP surface.
// Handlers are plain func(http.ResponseWriter, *http.Request) writing
// their own JSON, matching the handler shape used throughout
// helixml-helix's api/pkg/server package.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/dfeldman/webink/internal/config"
	"github.com/dfeldman/webink/internal/devices"
	"github.com/dfeldman/webink/internal/mode"
	"github.com/dfeldman/webink/internal/snapshot"
)

// Planner computes a device's next sleep duration, satisfied by
// sleep.Planner.
type Planner interface {
	Compute(deviceName string, dev devices.Device, hasDevice bool, now time.Time) int
}

// Scheduler is what the dashboard surface needs to report page status
// and accept manual render triggers: scheduler.Scheduler's status
// methods plus an Enqueue, combined by app's schedulerAdapter.
type Scheduler interface {
	Enqueue(pageID string)
	NextRenderAt(pageID string) (time.Time, bool)
	TotalRenderTime() float64
}

// Server holds the dependencies every handler needs. It carries no
// package-level mutable state (spec.md §9 "Singleton globals").
type Server struct {
	cfg       *config.Config
	store     *snapshot.Store
	registry  *devices.Registry
	planner   Planner
	scheduler Scheduler
	log       zerolog.Logger
}

// New builds a Server. Callers mount the result's Handler() on an
// http.Server.
func New(cfg *config.Config, store *snapshot.Store, registry *devices.Registry, planner Planner, sched Scheduler, log zerolog.Logger) *Server {
	return &Server{cfg: cfg, store: store, registry: registry, planner: planner, scheduler: sched, log: log}
}

// Handler builds the gorilla/mux router with both the device-facing
// and dashboard subrouters mounted.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)

	device := r.NewRoute().Subrouter()
	device.HandleFunc("/get_hash", s.requireAPIKey(s.handleGetHash)).Methods(http.MethodGet)
	device.HandleFunc("/get_image", s.requireAPIKey(s.handleGetImage)).Methods(http.MethodGet)
	device.HandleFunc("/get_sleep", s.requireAPIKey(s.handleGetSleep)).Methods(http.MethodGet)
	device.HandleFunc("/post_log", s.requireAPIKey(s.handlePostLog)).Methods(http.MethodPost)
	device.HandleFunc("/post_metrics", s.requireAPIKey(s.handlePostMetrics)).Methods(http.MethodPost)

	dash := r.PathPrefix("/api").Subrouter()
	dash.HandleFunc("/config", s.handleDashConfig).Methods(http.MethodGet)
	dash.HandleFunc("/clients", s.handleDashClients).Methods(http.MethodGet)
	dash.HandleFunc("/preview/{page_id}", s.handleDashPreview).Methods(http.MethodGet)
	dash.HandleFunc("/page_status", s.handleDashPageStatus).Methods(http.MethodGet)
	dash.HandleFunc("/update_page", s.handleDashUpdatePage).Methods(http.MethodPost)
	dash.HandleFunc("/toggle_sleep", s.handleDashToggleSleep).Methods(http.MethodPost)

	return r
}

// loggingMiddleware logs each request under a generated request ID, the
// same correlation-ID-per-request pattern helixml-helix's server uses to
// tie a request's handler logs together in multi-request-at-once output.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.New().String()
		l := s.log.With().Str("request_id", reqID).Logger()
		l.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("request")
		next.ServeHTTP(w, r.WithContext(l.WithContext(r.Context())))
	})
}

// requireAPIKey wraps a handler with the api_key query-param check all
// five device endpoints share (spec.md §4.7).
func (s *Server) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api_key") != s.cfg.APIKey {
			writeError(w, http.StatusUnauthorized, "invalid api_key")
			return
		}
		next(w, r)
	}
}

// writeError writes the shared {"detail": "..."} error envelope.
func writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func parseIntQuery(r *http.Request, key string) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// resolvePage returns the page_id serving deviceName: the registry's
// record if one already names a page, otherwise the configured
// device (or synthetic "default") entry.
func (s *Server) resolvePage(deviceName string) (string, bool) {
	if d, ok := s.registry.Get(deviceName); ok && d.Page != "" {
		return d.Page, true
	}
	if d, ok := s.cfg.DeviceOrDefault(deviceName); ok && d.Page != "" {
		return d.Page, true
	}
	return "", false
}

func (s *Server) handleGetHash(w http.ResponseWriter, r *http.Request) {
	deviceName := r.URL.Query().Get("device")
	modeStr := r.URL.Query().Get("mode")

	s.registry.Upsert(deviceName, devices.Update{Mode: modeStr})

	m, err := mode.Parse(modeStr)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown mode")
		return
	}

	pageID, ok := s.resolvePage(deviceName)
	if !ok {
		writeError(w, http.StatusNotFound, "no page configured for device")
		return
	}

	hash, err := s.store.Hash(pageID, m)
	if err != nil {
		writeError(w, http.StatusNotFound, "no bitmap yet")
		return
	}

	writeJSON(w, map[string]string{"hash": hash})
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	deviceName := r.URL.Query().Get("device")
	modeStr := r.URL.Query().Get("mode")
	format := r.URL.Query().Get("format")

	s.registry.Upsert(deviceName, devices.Update{Mode: modeStr})

	m, err := mode.Parse(modeStr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "unknown mode")
		return
	}

	x, xok := parseIntQuery(r, "x")
	y, yok := parseIntQuery(r, "y")
	width, wok := parseIntQuery(r, "w")
	height, hok := parseIntQuery(r, "h")
	if !xok || !yok || !wok || !hok {
		writeError(w, http.StatusInternalServerError, "missing or invalid crop parameters")
		return
	}

	var enc snapshot.Encoding
	switch format {
	case "png":
		enc = snapshot.EncodingPNG
	case "pbm":
		enc = snapshot.EncodingPBM
	case "ppm":
		enc = snapshot.EncodingPPM
	default:
		writeError(w, http.StatusInternalServerError, "unsupported format")
		return
	}

	pageID, ok := s.resolvePage(deviceName)
	if !ok {
		writeError(w, http.StatusInternalServerError, "no page configured for device")
		return
	}

	data, mediaType, err := s.store.Crop(pageID, m, x, y, width, height, enc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", mediaType)
	_, _ = w.Write(data)
}

func (s *Server) handleGetSleep(w http.ResponseWriter, r *http.Request) {
	deviceName := r.URL.Query().Get("device")
	s.registry.Upsert(deviceName, devices.Update{})
	d, hasDevice := s.registry.Get(deviceName)

	now := time.Now()
	secs := s.planner.Compute(deviceName, d, hasDevice, now)
	if hasDevice {
		s.registry.SetNextRefresh(deviceName, now.Add(time.Duration(secs)*time.Second))
	}

	writeJSON(w, map[string]int{"sleep_seconds": secs})
}

func (s *Server) handlePostLog(w http.ResponseWriter, r *http.Request) {
	deviceName := r.URL.Query().Get("device")
	body, _ := io.ReadAll(r.Body)
	text := string(body)
	s.registry.Upsert(deviceName, devices.Update{LastLog: &text})
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handlePostMetrics(w http.ResponseWriter, r *http.Request) {
	deviceName := r.URL.Query().Get("device")
	var metrics map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&metrics); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	s.registry.Upsert(deviceName, devices.Update{Metrics: metrics})
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleDashConfig returns the loaded page/device configuration for
// the operator dashboard. No authentication, per spec.md §6 — the
// dashboard is deployed on a trusted network.
func (s *Server) handleDashConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"pages":           s.cfg.Pages,
		"devices":         s.cfg.Devices,
		"supported_modes": s.cfg.SupportedModes,
		"http_port":       s.cfg.HTTPPort,
		"socket_port":     s.cfg.SocketPort,
	})
}

func (s *Server) handleDashClients(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.registry.All())
}

// handleDashPreview streams the current bitmap for a page as PNG,
// for the dashboard's live preview panel.
func (s *Server) handleDashPreview(w http.ResponseWriter, r *http.Request) {
	pageID := mux.Vars(r)["page_id"]
	modeStr := r.URL.Query().Get("mode")

	m, err := mode.Parse(modeStr)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown mode")
		return
	}

	data, mediaType, err := s.store.Crop(pageID, m, 0, 0, m.Width, m.Height, snapshot.EncodingPNG)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	w.Header().Set("Content-Type", mediaType)
	_, _ = w.Write(data)
}

type pageStatus struct {
	PageID          string  `json:"page_id"`
	NextRenderAt    *string `json:"next_render_at,omitempty"`
	TotalRenderTime float64 `json:"total_render_time_s"`
}

func (s *Server) handleDashPageStatus(w http.ResponseWriter, r *http.Request) {
	statuses := make([]pageStatus, 0, len(s.cfg.Pages))
	for pageID := range s.cfg.Pages {
		st := pageStatus{PageID: pageID, TotalRenderTime: s.scheduler.TotalRenderTime()}
		if next, ok := s.scheduler.NextRenderAt(pageID); ok {
			formatted := next.Format(time.RFC3339)
			st.NextRenderAt = &formatted
		}
		statuses = append(statuses, st)
	}
	writeJSON(w, statuses)
}

type updatePageRequest struct {
	PageID string `json:"page_id"`
}

// handleDashUpdatePage enqueues an immediate out-of-band render for
// the named page (spec.md §4.4 "Manual trigger").
func (s *Server) handleDashUpdatePage(w http.ResponseWriter, r *http.Request) {
	var req updatePageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if _, ok := s.cfg.Pages[req.PageID]; !ok {
		writeError(w, http.StatusNotFound, "unknown page")
		return
	}
	s.scheduler.Enqueue(req.PageID)
	writeJSON(w, map[string]string{"status": "ok"})
}

type toggleSleepRequest struct {
	Device  string `json:"device"`
	Disable bool   `json:"disable"`
}

func (s *Server) handleDashToggleSleep(w http.ResponseWriter, r *http.Request) {
	var req toggleSleepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if !s.registry.SetSleepDisabled(req.Device, req.Disable) {
		writeError(w, http.StatusNotFound, "unknown device")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}
