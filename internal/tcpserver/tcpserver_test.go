package tcpserver

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfeldman/webink/internal/config"
	"github.com/dfeldman/webink/internal/devices"
	"github.com/dfeldman/webink/internal/mode"
	"github.com/dfeldman/webink/internal/snapshot"
)

func testServer(t *testing.T) *Server {
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

	m, err := mode.Parse("8x8x1xB")
	require.NoError(t, err)
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.Gray{Y: 0})
		}
	}
	require.NoError(t, store.Put("p1", m, img))

	return New(cfg, store, reg, zerolog.Nop(), 0)
}

func TestHandleLineSuccess(t *testing.T) {
	s := testServer(t)
	resp, isError := s.handleLine("webInkV1 secret d 8x8x1xB 0 0 8 8 pbm")
	require.False(t, isError)
	assert.Len(t, resp, 8)
}

func TestHandleLineWrongTokenCount8(t *testing.T) {
	s := testServer(t)
	_, isError := s.handleLine("webInkV1 secret d 8x8x1xB 0 0 8 pbm")
	assert.True(t, isError)
}

func TestHandleLineWrongTokenCount10(t *testing.T) {
	s := testServer(t)
	_, isError := s.handleLine("webInkV1 secret d 8x8x1xB 0 0 8 8 pbm extra")
	assert.True(t, isError)
}

func TestHandleLineWrongProtocolName(t *testing.T) {
	s := testServer(t)
	_, isError := s.handleLine("webInkV2 secret d 8x8x1xB 0 0 8 8 pbm")
	assert.True(t, isError)
}

func TestHandleLineWrongAPIKey(t *testing.T) {
	s := testServer(t)
	_, isError := s.handleLine("webInkV1 wrong d 8x8x1xB 0 0 8 8 pbm")
	assert.True(t, isError)
}

func TestHandleLineUnsupportedFormat(t *testing.T) {
	s := testServer(t)
	_, isError := s.handleLine("webInkV1 secret d 8x8x1xB 0 0 8 8 jpg")
	assert.True(t, isError)
}

func TestHandleLineFormatMismatchedToMode(t *testing.T) {
	s := testServer(t)
	_, isError := s.handleLine("webInkV1 secret d 8x8x1xB 0 0 8 8 ppm")
	assert.True(t, isError) // mode is 1xB, ppm needs 24-bit: rejected by the crop step
}

func TestHandleLineOutOfBounds(t *testing.T) {
	s := testServer(t)
	_, isError := s.handleLine("webInkV1 secret d 8x8x1xB 0 0 100 100 pbm")
	assert.True(t, isError)
}

func TestHandleLineParityWithHTTPCrop(t *testing.T) {
	s := testServer(t)
	resp, isError := s.handleLine("webInkV1 secret d 8x8x1xB 0 0 4 4 pbm")
	require.False(t, isError)

	m, err := mode.Parse("8x8x1xB")
	require.NoError(t, err)
	data, _, err := s.store.Crop("p1", m, 0, 0, 4, 4, snapshot.EncodingPBM)
	require.NoError(t, err)
	assert.Equal(t, string(data), resp)
}
