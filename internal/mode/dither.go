package mode

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
)

// monoPalette is the 1-bit black/white palette used for Floyd-Steinberg
// dithering of B mode images, the same technique
// periph-devices/waveshare2in13v2 uses via image/draw against
// periph's packed 1-bit framebuffer.
var monoPalette = color.Palette{color.Black, color.White}

// rgbQuadPalette is the fixed four-color palette for 2-bit RGB mode:
// black, red, green, blue. Matches periph-devices/inky's approach of
// dithering against a fixed color.Palette with draw.FloydSteinberg.
var rgbQuadPalette = color.Palette{
	color.RGBA{R: 0, G: 0, B: 0, A: 255},
	color.RGBA{R: 255, G: 0, B: 0, A: 255},
	color.RGBA{R: 0, G: 255, B: 0, A: 255},
	color.RGBA{R: 0, G: 0, B: 255, A: 255},
}

// Dither converts src into the pixel format implied by m: luminance +
// Floyd-Steinberg for 1-bit B/W, quantized 4-level grayscale for 2-bit
// gray (no error diffusion), pass-through 8-bit gray, Floyd-Steinberg
// against a 4-color palette expanded back to 24-bit RGB for 2-bit RGB,
// and pass-through 24-bit RGB for 8-bit RGB. Dithering is deterministic:
// identical input bytes always produce bit-identical output.
func Dither(src image.Image, m Mode) (image.Image, error) {
	b := src.Bounds()

	switch {
	case m.Bits == 1 && m.Color == ColorBlack:
		dst := image.NewPaletted(b, monoPalette)
		draw.FloydSteinberg.Draw(dst, b, src, image.Point{})
		return dst, nil

	case m.Bits == 2 && m.Color == ColorGray:
		gray := toGray(src)
		dst := image.NewGray(b)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				v := gray.GrayAt(x, y).Y
				level := v / 64 // 0..3
				dst.SetGray(x, y, color.Gray{Y: level * 85})
			}
		}
		return dst, nil

	case m.Bits == 8 && m.Color == ColorGray:
		return toGray(src), nil

	case m.Bits == 2 && m.Color == ColorRGB:
		paletted := image.NewPaletted(b, rgbQuadPalette)
		draw.FloydSteinberg.Draw(paletted, b, src, image.Point{})
		rgba := image.NewRGBA(b)
		draw.Draw(rgba, b, paletted, b.Min, draw.Src)
		return rgba, nil

	case m.Bits == 8 && m.Color == ColorRGB:
		rgba := image.NewRGBA(b)
		draw.Draw(rgba, b, src, b.Min, draw.Src)
		return rgba, nil

	default:
		return nil, fmt.Errorf("mode: unsupported (bits=%d, color=%s) for dither", m.Bits, m.Color)
	}
}

func toGray(src image.Image) *image.Gray {
	if g, ok := src.(*image.Gray); ok {
		return g
	}
	b := src.Bounds()
	dst := image.NewGray(b)
	draw.Draw(dst, b, src, b.Min, draw.Src)
	return dst
}
