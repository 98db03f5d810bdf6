package render

import "image"

// rotate applies the page's configured rotation to a freshly-captured
// screenshot before it is handed to the mode codec for
// resampling/dithering. Matches the source program's
// img.rotate(-rotation, expand=True): rotation=90 rotates the captured
// portrait viewport clockwise into landscape, rotation=-90 rotates it
// counter-clockwise, rotation=180 flips it.
func rotate(img image.Image, rotation int) image.Image {
	switch rotation {
	case 90:
		return rotateCW(img)
	case -90:
		return rotateCCW(img)
	case 180:
		return rotate180(img)
	default:
		return img
	}
}

func rotateCW(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(h-1-y, x, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

func rotateCCW(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(y, w-1-x, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

func rotate180(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(w-1-x, h-1-y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}
