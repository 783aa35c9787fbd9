// Package codec implements the decoded-buffer adapter of spec.md §6: the
// core exchanges `{format, width, height, stride, bytes}` with callers and
// never imports a file codec itself, so any image/png, image/jpeg or
// external decoder can sit on either side of Buffer.
package codec

import (
	"image"
	"image/color"

	"github.com/grayforge/engine/internal/pixfmt"
)

// Buffer is the external exchange representation spec.md §6 names.
type Buffer struct {
	Format pixfmt.Format
	Width  int
	Height int
	Stride int
	Bytes  []byte
}

// FromImage decodes any standard-library image.Image (the result of
// image/png.Decode, image/jpeg.Decode, ...) into a Buffer. Paletted and
// grayscale sources decode to RGBA8 and Mono8 respectively; everything
// else decodes to RGBA8, matching the "colour management beyond linear
// passthrough" non-goal by doing no gamma/profile conversion at all.
func FromImage(img image.Image) Buffer {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	if gray, ok := img.(*image.Gray); ok {
		buf := Buffer{Format: pixfmt.Mono8, Width: w, Height: h, Stride: w}
		buf.Bytes = make([]byte, w*h)
		for y := 0; y < h; y++ {
			copy(buf.Bytes[y*w:(y+1)*w], gray.Pix[y*gray.Stride:y*gray.Stride+w])
		}
		return buf
	}

	buf := Buffer{Format: pixfmt.RGBA8, Width: w, Height: h, Stride: w * 4}
	buf.Bytes = make([]byte, buf.Stride*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, a := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			off := y*buf.Stride + x*4
			buf.Bytes[off+0] = byte(r >> 8)
			buf.Bytes[off+1] = byte(g >> 8)
			buf.Bytes[off+2] = byte(b >> 8)
			buf.Bytes[off+3] = byte(a >> 8)
		}
	}
	return buf
}

// ToImage encodes a Buffer back into a standard-library image.Image
// (typically handed straight to image/png.Encode). Only Mono8 and RGBA8
// are supported directly; other formats should be converted to one of
// those via the core before reaching the codec boundary.
func (b Buffer) ToImage() image.Image {
	switch b.Format {
	case pixfmt.Mono8:
		img := image.NewGray(image.Rect(0, 0, b.Width, b.Height))
		for y := 0; y < b.Height; y++ {
			copy(img.Pix[y*img.Stride:y*img.Stride+b.Width], b.Bytes[y*b.Stride:y*b.Stride+b.Width])
		}
		return img
	default:
		img := image.NewRGBA(image.Rect(0, 0, b.Width, b.Height))
		for y := 0; y < b.Height; y++ {
			for x := 0; x < b.Width; x++ {
				off := y*b.Stride + x*4
				img.SetRGBA(x, y, color.RGBA{R: b.Bytes[off], G: b.Bytes[off+1], B: b.Bytes[off+2], A: b.Bytes[off+3]})
			}
		}
		return img
	}
}
