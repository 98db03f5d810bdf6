package mode

import (
	"image"

	"golang.org/x/image/draw"
)

// Resample scales src to exactly width x height using a high-quality
// low-pass filter. CatmullRom is the closest equivalent x/image/draw
// offers to Lanczos-3; no pure-Go Lanczos-3 scaler exists in the
// reference corpus. If src is already the target size, it is returned
// unchanged.
func Resample(src image.Image, width, height int) image.Image {
	b := src.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return src
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}
