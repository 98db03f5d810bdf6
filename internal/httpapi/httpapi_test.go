package httpapi

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfeldman/webink/internal/config"
	"github.com/dfeldman/webink/internal/devices"
	"github.com/dfeldman/webink/internal/mode"
	"github.com/dfeldman/webink/internal/snapshot"
)

type fakePlanner struct {
	secs int
}

func (f *fakePlanner) Compute(string, devices.Device, bool, time.Time) int {
	return f.secs
}

type fakeScheduler struct {
	enqueued []string
}

func (f *fakeScheduler) Enqueue(pageID string) { f.enqueued = append(f.enqueued, pageID) }
func (f *fakeScheduler) NextRenderAt(string) (time.Time, bool) {
	return time.Now(), true
}
func (f *fakeScheduler) TotalRenderTime() float64 { return 42 }

func testServer(t *testing.T) (*Server, *snapshot.Store) {
	t.Helper()
	store, err := snapshot.New(t.TempDir())
	require.NoError(t, err)

	cfg := &config.Config{
		APIKey:         "secret",
		SupportedModes: []string{"8x8x1xB"},
		Pages: map[string]config.Page{
			"p1": {URL: "https://example.com", RefreshInterval: 600},
		},
		Devices: map[string]config.Device{
			"default": {Page: "p1"},
		},
	}
	reg := devices.Load(filepath.Join(t.TempDir(), "clients.json"), zerolog.Nop())

	s := New(cfg, store, reg, &fakePlanner{secs: 123}, &fakeScheduler{}, zerolog.Nop())
	return s, store
}

func solidImage(w, h int) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.Gray{Y: 0})
		}
	}
	return img
}

func TestGetHashRequiresAPIKey(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/get_hash?device=d&mode=8x8x1xB", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetHashReturns404BeforeFirstRender(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/get_hash?api_key=secret&device=d&mode=8x8x1xB", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetHashAndGetImageAfterRender(t *testing.T) {
	s, store := testServer(t)
	m, err := mode.Parse("8x8x1xB")
	require.NoError(t, err)
	require.NoError(t, store.Put("p1", m, solidImage(8, 8)))

	req := httptest.NewRequest(http.MethodGet, "/get_hash?api_key=secret&device=d&mode=8x8x1xB", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body["hash"], 8)

	req2 := httptest.NewRequest(http.MethodGet, "/get_image?api_key=secret&device=d&mode=8x8x1xB&x=0&y=0&w=8&h=8&format=pbm", nil)
	rec2 := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
	assert.Equal(t, 8, rec2.Body.Len())
	assert.Equal(t, "image/x-portable-bitmap", rec2.Header().Get("Content-Type"))
}

func TestGetSleepReturnsPlannerValue(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/get_sleep?api_key=secret&device=d", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 123, body["sleep_seconds"])
}

func TestPostMetricsRejectsMalformedJSON(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/post_metrics?api_key=secret&device=d", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostLogRecordsText(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/post_log?api_key=secret&device=d", bytes.NewBufferString("hello"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	d, ok := s.registry.Get("d")
	require.True(t, ok)
	assert.Equal(t, "hello", d.LastLog)
}

func TestDashUpdatePageEnqueuesRender(t *testing.T) {
	s, _ := testServer(t)
	sched := s.scheduler.(*fakeScheduler)

	body, _ := json.Marshal(map[string]string{"page_id": "p1"})
	req := httptest.NewRequest(http.MethodPost, "/api/update_page", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"p1"}, sched.enqueued)
}

func TestDashUpdatePageUnknownPage(t *testing.T) {
	s, _ := testServer(t)
	body, _ := json.Marshal(map[string]string{"page_id": "nope"})
	req := httptest.NewRequest(http.MethodPost, "/api/update_page", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDashToggleSleepUnknownDevice(t *testing.T) {
	s, _ := testServer(t)
	body, _ := json.Marshal(map[string]interface{}{"device": "nope", "disable": true})
	req := httptest.NewRequest(http.MethodPost, "/api/toggle_sleep", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
