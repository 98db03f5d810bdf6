package mode

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradientImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x * 255) / w)
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func TestDitherDeterministic(t *testing.T) {
	src := gradientImage(64, 32)
	m, err := Parse("64x32x1xB")
	require.NoError(t, err)

	out1, err := Dither(src, m)
	require.NoError(t, err)
	out2, err := Dither(src, m)
	require.NoError(t, err)

	raw1 := PackRaw(out1, m.BitsPerPixel())
	raw2 := PackRaw(out2, m.BitsPerPixel())
	assert.Equal(t, raw1, raw2)
}

func TestDitherTwoBitGrayLevels(t *testing.T) {
	src := gradientImage(256, 1)
	m, err := Parse("256x1x2xG")
	require.NoError(t, err)

	out, err := Dither(src, m)
	require.NoError(t, err)

	raw := PackRaw(out, m.BitsPerPixel())
	seen := map[byte]bool{}
	for _, b := range raw {
		seen[b] = true
	}
	for b := range seen {
		assert.Contains(t, []byte{0, 85, 170, 255}, b)
	}
}

func TestPackMonoBitsSetForBlack(t *testing.T) {
	img := image.NewPaletted(image.Rect(0, 0, 8, 1), monoPalette)
	// index 0 is black; set every pixel black.
	for x := 0; x < 8; x++ {
		img.SetColorIndex(x, 0, 0)
	}
	raw := PackRaw(img, 1)
	require.Len(t, raw, 1)
	assert.Equal(t, byte(0xFF), raw[0])
}
