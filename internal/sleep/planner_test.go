package sleep

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfeldman/webink/internal/config"
	"github.com/dfeldman/webink/internal/devices"
)

func at(t *testing.T, hhmm string) time.Time {
	t.Helper()
	now := time.Now()
	parsed, err := time.ParseInLocation("15:04:05", hhmm, now.Location())
	require.NoError(t, err)
	return time.Date(now.Year(), now.Month(), now.Day(), parsed.Hour(), parsed.Minute(), parsed.Second(), 0, now.Location())
}

func TestSleepDisabledReturnsZero(t *testing.T) {
	cfg := &config.Config{Pages: map[string]config.Page{"p": {RefreshInterval: 600}}}
	p := New(cfg)
	secs := p.Compute("d", devices.Device{Page: "p", SleepDisabled: true}, true, time.Now())
	assert.Equal(t, 0, secs)
}

func TestMandatoryRefreshSooner(t *testing.T) {
	cfg := &config.Config{
		Pages: map[string]config.Page{
			"p": {RefreshInterval: 3600, MandatoryRefresh: []string{"08:00"}},
		},
	}
	p := New(cfg)

	secs := p.Compute("d", devices.Device{Page: "p"}, true, at(t, "07:55:00"))
	assert.Equal(t, 300, secs)
}

func TestMandatoryRefreshLaterThanInterval(t *testing.T) {
	cfg := &config.Config{
		Pages: map[string]config.Page{
			"p": {RefreshInterval: 3600, MandatoryRefresh: []string{"08:00"}},
		},
	}
	p := New(cfg)

	secs := p.Compute("d", devices.Device{Page: "p"}, true, at(t, "09:00:00"))
	assert.Equal(t, 3600, secs)
}

func TestSuppressionInsideWindow(t *testing.T) {
	cfg := &config.Config{
		Pages: map[string]config.Page{
			"p": {
				RefreshInterval: 600,
				SuppressRefresh: &config.SuppressWindow{Start: "01:00", End: "06:00"},
			},
		},
	}
	p := New(cfg)

	secs := p.Compute("d", devices.Device{Page: "p"}, true, at(t, "02:30:00"))
	assert.Equal(t, 12600, secs)
}

func TestSuppressionZeroWidthWindowNoOp(t *testing.T) {
	cfg := &config.Config{
		Pages: map[string]config.Page{
			"p": {
				RefreshInterval: 600,
				SuppressRefresh: &config.SuppressWindow{Start: "01:00", End: "01:00"},
			},
		},
	}
	p := New(cfg)

	secs := p.Compute("d", devices.Device{Page: "p"}, true, at(t, "01:00:00"))
	assert.Equal(t, 600, secs)
}

func TestUnknownDeviceFallsBackToDefaultPage(t *testing.T) {
	cfg := &config.Config{
		Pages:   map[string]config.Page{"p": {RefreshInterval: 123}},
		Devices: map[string]config.Device{"default": {Page: "p"}},
	}
	p := New(cfg)

	secs := p.Compute("unknown", devices.Device{}, false, time.Now())
	assert.Equal(t, 123, secs)
}

func TestNoPageResolvedFallsBackToDefaultInterval(t *testing.T) {
	cfg := &config.Config{Pages: map[string]config.Page{}}
	p := New(cfg)

	secs := p.Compute("unknown", devices.Device{}, false, time.Now())
	assert.Equal(t, config.DefaultRefreshInterval, secs)
}

func TestSleepNeverNegative(t *testing.T) {
	cfg := &config.Config{
		Pages: map[string]config.Page{
			"p": {RefreshInterval: 10},
		},
	}
	p := New(cfg)
	secs := p.Compute("d", devices.Device{Page: "p"}, true, time.Now())
	assert.GreaterOrEqual(t, secs, 0)
}
