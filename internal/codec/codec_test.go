package codec

import (
	"image"
	"image/color"
	"testing"

	"github.com/grayforge/engine/internal/pixfmt"
)

func TestFromImageRGBARoundTrip(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 3, 2))
	src.SetRGBA(1, 1, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	buf := FromImage(src)
	if buf.Format != pixfmt.RGBA8 || buf.Width != 3 || buf.Height != 2 {
		t.Fatalf("unexpected buffer shape: %+v", buf)
	}

	out := buf.ToImage()
	r, g, b, a := out.At(1, 1).RGBA()
	if uint8(r>>8) != 10 || uint8(g>>8) != 20 || uint8(b>>8) != 30 || uint8(a>>8) != 255 {
		t.Fatalf("round trip mismatch at (1,1): %v %v %v %v", r, g, b, a)
	}
}

func TestFromImageGrayDecodesToMono8(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 4, 4))
	src.SetGray(2, 2, color.Gray{Y: 99})

	buf := FromImage(src)
	if buf.Format != pixfmt.Mono8 {
		t.Fatalf("expected Mono8, got %v", buf.Format)
	}
	if buf.Bytes[2*buf.Stride+2] != 99 {
		t.Fatalf("unexpected gray value at (2,2): %d", buf.Bytes[2*buf.Stride+2])
	}
}
