package kernel

import (
	"image"
	"testing"

	"github.com/grayforge/engine/internal/pixfmt"
)

func TestTilesCoversRectExactly(t *testing.T) {
	rect := image.Rect(0, 0, 300, 130)
	tiles := Tiles(rect, 128)

	covered := make(map[image.Point]bool)
	for _, tile := range tiles {
		if !tile.In(rect) {
			t.Fatalf("tile %v escapes rect %v", tile, rect)
		}
		for y := tile.Min.Y; y < tile.Max.Y; y++ {
			for x := tile.Min.X; x < tile.Max.X; x++ {
				covered[image.Pt(x, y)] = true
			}
		}
	}
	if len(covered) != rect.Dx()*rect.Dy() {
		t.Fatalf("tiles cover %d pixels, want %d", len(covered), rect.Dx()*rect.Dy())
	}
}

func TestMaxThresholdReturnsMaxAboveThreshold(t *testing.T) {
	got := MaxThreshold(200, 128, 255)
	if got != 255 {
		t.Errorf("MaxThreshold(200,128,255) = %v, want 255 (Open Question 3 resolution)", got)
	}
	got = MaxThreshold(50, 128, 255)
	if got != 50 {
		t.Errorf("MaxThreshold(50,128,255) = %v, want passthrough 50", got)
	}
}

func TestDivByZeroIntegerPassthrough(t *testing.T) {
	if got := Div(42, 0, 255); got != 42 {
		t.Errorf("Div(42,0,255) = %v, want 42 (integer passthrough)", got)
	}
}

func TestDivByZeroFloatPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on float-domain division by zero")
		}
	}()
	Div(0.5, 0, 1)
}

func TestGrainMergeRoundTripsWithExtract(t *testing.T) {
	max := 255.0
	base, grain := 120.0, 180.0
	merged := GrainMerge(base, grain, max)
	extracted := GrainExtract(merged, grain, max)
	if diff := extracted - base; diff > 0.001 || diff < -0.001 {
		t.Errorf("GrainExtract(GrainMerge(base,grain)) = %v, want %v", extracted, base)
	}
}

func TestAlphaBlendOpaqueAndTransparent(t *testing.T) {
	if got := AlphaBlend(10, 20, 1); got != 10 {
		t.Errorf("opaque src alpha should pass src through, got %v", got)
	}
	if got := AlphaBlend(10, 20, 0); got != 20 {
		t.Errorf("zero src alpha should pass dst through, got %v", got)
	}
}

func TestGaussian1DNormalised(t *testing.T) {
	for _, r := range []float64{0.3, 0.7, 2.8} {
		taps := Gaussian1D(r)
		var sum float64
		for _, w := range taps {
			sum += w
		}
		if sum < 0.999 || sum > 1.001 {
			t.Errorf("Gaussian1D(%v) sums to %v, want ~1", r, sum)
		}
	}
}

func TestBufferRoundTripRGBA8(t *testing.T) {
	b := NewBuffer(pixfmt.RGBA8, 2, 2)
	p := pixfmt.NewPixel(120, 60, 30, 255)
	b.Set(0, 0, p)
	got := b.At(0, 0)
	if got.V[0] != 120 || got.V[1] != 60 || got.V[2] != 30 || got.V[3] != 255 {
		t.Errorf("round trip got %+v, want %+v", got, p)
	}
}

func TestBufferRoundTripFloat(t *testing.T) {
	b := NewBuffer(pixfmt.RGB32F, 1, 1)
	p := pixfmt.NewPixel(0.25, 0.5, 0.75)
	b.Set(0, 0, p)
	got := b.At(0, 0)
	if got.V[0] != 0.25 || got.V[1] != 0.5 || got.V[2] != 0.75 {
		t.Errorf("float round trip got %+v, want %+v", got, p)
	}
}

func TestEqualDetectsDifference(t *testing.T) {
	a := NewBuffer(pixfmt.Mono8, 2, 2)
	b := NewBuffer(pixfmt.Mono8, 2, 2)
	if !Equal(a, b) {
		t.Fatal("two zeroed buffers should be equal")
	}
	b.Set(0, 0, pixfmt.NewPixel(1))
	if Equal(a, b) {
		t.Fatal("buffers differing by one pixel should not be equal")
	}
}

func TestHistogramTileOrderIndependent(t *testing.T) {
	b := NewBuffer(pixfmt.Mono8, 16, 16)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			b.Set(x, y, pixfmt.NewPixel(float32((x+y)%256)))
		}
	}
	h1, err := Histogram(b, b.Rect(), 16, 0)
	if err != nil {
		t.Fatal(err)
	}
	// Merge partial histograms of 8x8 sub-tiles in reverse tile order; the
	// result must match the single full-rect reduction.
	tiles := Tiles(b.Rect(), 8)
	h2 := make([]uint32, 16)
	for i := len(tiles) - 1; i >= 0; i-- {
		part, err := Histogram(b, tiles[i], 16, 0)
		if err != nil {
			t.Fatal(err)
		}
		for j := range h2 {
			h2[j] += part[j]
		}
	}
	for i := range h1 {
		if h1[i] != h2[i] {
			t.Fatalf("histogram merged in reverse tile order differs at bin %d: %d vs %d", i, h1[i], h2[i])
		}
	}
}

func TestDispatchFormatMismatch(t *testing.T) {
	dst := NewBuffer(pixfmt.RGB8, 4, 4)
	src := NewBuffer(pixfmt.Mono8, 4, 4)
	err := Dispatch(dst, src, nil, dst.Rect(), nil, false, func(v []float64, _ any) []float64 { return v })
	if err != ErrFormatMismatch {
		t.Fatalf("got %v, want ErrFormatMismatch", err)
	}
}

func TestDispatchOutOfBounds(t *testing.T) {
	dst := NewBuffer(pixfmt.RGB8, 4, 4)
	src := NewBuffer(pixfmt.RGB8, 4, 4)
	big := image.Rect(0, 0, 8, 8)
	err := Dispatch(dst, src, nil, big, nil, false, func(v []float64, _ any) []float64 { return v })
	if err != ErrOutOfBounds {
		t.Fatalf("got %v, want ErrOutOfBounds", err)
	}
}
