package kernel

import (
	"math"

	"github.com/grayforge/engine/internal/pixfmt"
)

// Gaussian1D returns a normalised 1-D Gaussian kernel with the half-width
// convention of spec §4.4.3: ceil(3*radius) taps each side of centre. For
// radius < 0.6 the filter degenerates to a 3-tap kernel with coefficients
// from the continuous Gaussian evaluated at integer offsets, renormalised
// to sum to 1 — this directly generalises the teacher's
// GenerateGaussianKernel (pkg/blur/blur.go), which built a dense 2-D kernel
// from a size parameter; the separable form here is evaluated once per
// pass instead of once per pixel-pair.
func Gaussian1D(radius float64) []float64 {
	if radius < 0.6 {
		w0 := math.Exp(0)
		w1 := math.Exp(-1 / (2 * radius * radius))
		sum := w0 + 2*w1
		return []float64{w1 / sum, w0 / sum, w1 / sum}
	}
	half := int(math.Ceil(3 * radius))
	taps := make([]float64, 2*half+1)
	var sum float64
	for i := -half; i <= half; i++ {
		v := math.Exp(-float64(i*i) / (2 * radius * radius))
		taps[i+half] = v
		sum += v
	}
	for i := range taps {
		taps[i] /= sum
	}
	return taps
}

// SeparableBlur applies a two-pass (horizontal then vertical) Gaussian blur
// of the given radius to the whole of src, writing the result into dst
// (which must already be sized to match src). Edge handling clamps to the
// source buffer's border, matching the teacher's boundary-clamping convention
// in ApplyBlurToTile.
func SeparableBlur(dst, src *Buffer, radius float64) {
	taps := Gaussian1D(radius)
	half := len(taps) / 2
	channels := src.Format.Channels()

	horiz := NewBuffer(src.Format, src.Width, src.Height)
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			var acc [4]float64
			for t, w := range taps {
				sx := clampInt(x+t-half, 0, src.Width-1)
				p := src.At(sx, y)
				for c := 0; c < channels; c++ {
					acc[c] += float64(p.V[c]) * w
				}
			}
			horiz.Set(x, y, vecToPixel(acc, channels))
		}
	}

	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			var acc [4]float64
			for t, w := range taps {
				sy := clampInt(y+t-half, 0, src.Height-1)
				p := horiz.At(x, sy)
				for c := 0; c < channels; c++ {
					acc[c] += float64(p.V[c]) * w
				}
			}
			dst.Set(x, y, vecToPixel(acc, channels))
		}
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func vecToPixel(v [4]float64, n int) pixfmt.Pixel {
	var p pixfmt.Pixel
	p.N = n
	for i := 0; i < n; i++ {
		p.V[i] = float32(v[i])
	}
	return p
}
