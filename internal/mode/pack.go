package mode

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

// SubImage returns the w x h rectangle at (x, y) within img. The
// caller is responsible for bounds-checking against the owning Mode;
// SubImage itself only requires the rectangle to lie within img's
// bounds.
func SubImage(img image.Image, x, y, w, h int) (image.Image, error) {
	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}

	r := image.Rect(x, y, x+w, y+h)
	if si, ok := img.(subImager); ok {
		return si.SubImage(r), nil
	}

	// Fallback for image.Image implementations without SubImage: copy
	// the region into a fresh RGBA buffer.
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for dy := 0; dy < h; dy++ {
		for dx := 0; dx < w; dx++ {
			dst.Set(dx, dy, img.At(x+dx, y+dy))
		}
	}
	return dst, nil
}

// EncodePNG encodes img as a PNG file.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PackRaw renders img as the header-less raw pixel payload a device
// would read straight into its framebuffer: packed 1-bit MSB-first rows
// for 1-bit modes, one byte per pixel for 8-bit gray, three bytes per
// pixel for 24-bit RGB. Row stride is always byte-aligned per row,
// independent of any crop offset, which satisfies the crop alignment
// invariant without needing to realign a pre-packed source buffer.
func PackRaw(img image.Image, bitsPerPixel int) []byte {
	switch bitsPerPixel {
	case 1:
		return packMono(img)
	case 8:
		return packGray(img)
	default:
		return packRGB(img)
	}
}

func packMono(img image.Image) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	stride := (w + 7) / 8
	out := make([]byte, stride*h)

	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			g := color.GrayModel.Convert(img.At(b.Min.X+col, b.Min.Y+row)).(color.Gray)
			if g.Y < 128 {
				// Black pixel: set the bit (PBM convention: 1 = black).
				out[row*stride+col/8] |= 0x80 >> uint(col%8)
			}
		}
	}
	return out
}

func packGray(img image.Image) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]byte, w*h)

	i := 0
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			g := color.GrayModel.Convert(img.At(b.Min.X+col, b.Min.Y+row)).(color.Gray)
			out[i] = g.Y
			i++
		}
	}
	return out
}

func packRGB(img image.Image) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]byte, w*h*3)

	i := 0
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+col, b.Min.Y+row)).(color.NRGBA)
			out[i] = c.R
			out[i+1] = c.G
			out[i+2] = c.B
			i += 3
		}
	}
	return out
}
