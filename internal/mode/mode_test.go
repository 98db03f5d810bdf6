package mode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	cases := []string{
		"800x480x1xB",
		"800x480x2xG",
		"800x480x8xG",
		"800x480x2xRGB",
		"800x480x8xRGB",
		"1600x1200x1xB",
	}

	for _, s := range cases {
		m, err := Parse(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, m.String())
	}
}

func TestParseRejectsBadShape(t *testing.T) {
	cases := []string{
		"800x480x1",
		"800x480x1xBxExtra",
		"0x480x1xB",
		"800x0x1xB",
		"800x480x3xB",
		"800x480x1xRGB",
		"notanumberx480x1xB",
	}

	for _, s := range cases {
		_, err := Parse(s)
		assert.Error(t, err, s)
	}
}

func TestBitsPerPixel(t *testing.T) {
	m, err := Parse("800x480x1xB")
	require.NoError(t, err)
	assert.Equal(t, 1, m.BitsPerPixel())

	m, err = Parse("800x480x2xG")
	require.NoError(t, err)
	assert.Equal(t, 8, m.BitsPerPixel())

	m, err = Parse("800x480x8xRGB")
	require.NoError(t, err)
	assert.Equal(t, 24, m.BitsPerPixel())
}

func TestRowStride(t *testing.T) {
	m, err := Parse("800x480x1xB")
	require.NoError(t, err)
	assert.Equal(t, 100, m.RowStride(800))
	assert.Equal(t, 25, m.RowStride(200))

	m, err = Parse("800x480x8xRGB")
	require.NoError(t, err)
	assert.Equal(t, 600, m.RowStride(200))
}
