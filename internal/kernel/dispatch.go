package kernel

import (
	"errors"
	"image"

	"github.com/grayforge/engine/internal/pixfmt"
)

// ErrFormatMismatch and ErrOutOfBounds are the two kernel-dispatch-local
// failures of spec §4.1/§7. They are wrapped, never silently swallowed, as
// they bubble from a kernel through the owning filter to the scheduler.
var (
	ErrFormatMismatch = errors.New("kernel: format mismatch")
	ErrOutOfBounds    = errors.New("kernel: rectangle out of bounds")
)

// DefaultTileSide is the typical tile side named in spec §4.1. The CPU
// backend tiles with it; the GPU backend uses its own gpu.TileSide constant
// of the same value. Neither backend exposes a way to change it.
const DefaultTileSide = 256

// Tiles decomposes rect into a grid of tileSide x tileSide tiles (the last
// row/column may be smaller). Tiles are independent and callers must not
// assume any evaluation order — this is the tile-order-independence
// invariant of spec §8.
func Tiles(rect image.Rectangle, tileSide int) []image.Rectangle {
	if tileSide <= 0 {
		tileSide = DefaultTileSide
	}
	var out []image.Rectangle
	for y := rect.Min.Y; y < rect.Max.Y; y += tileSide {
		for x := rect.Min.X; x < rect.Max.X; x += tileSide {
			x1 := x + tileSide
			if x1 > rect.Max.X {
				x1 = rect.Max.X
			}
			y1 := y + tileSide
			if y1 > rect.Max.Y {
				y1 = rect.Max.Y
			}
			out = append(out, image.Rect(x, y, x1, y1))
		}
	}
	return out
}

// CheckCompatible validates the format-mismatch and out-of-bounds contract
// shared by every kernel dispatch: dst/src* must share a format, and rect
// must lie within dst's (and therefore every congruent source's) bounds.
func CheckCompatible(dst *Buffer, rect image.Rectangle, srcs ...*Buffer) error {
	for _, s := range srcs {
		if s == nil {
			continue
		}
		if s.Format != dst.Format {
			return ErrFormatMismatch
		}
	}
	if !rect.In(dst.Rect()) {
		return ErrOutOfBounds
	}
	return nil
}

// PixelKernel is the unary/binary per-pixel function evaluated tile-wise:
// K(dst-channel-count, src0-pixel, src1-pixel?, params) -> dst-pixel.
// Filters construct one closure per render and pass it to Dispatch.
type PixelKernel func(srcs []float64, params any) []float64

// ApplyTile evaluates fn over exactly one tile, writing into dst and
// reading from src0/src1 (src1 may be nil for unary kernels). It performs
// no bounds/format checks — callers (Dispatch, and backend/cpu's parallel
// worker pool) are expected to have validated the full rectangle with
// CheckCompatible first and to call ApplyTile once per independent tile.
func ApplyTile(dst, src0, src1 *Buffer, tile image.Rectangle, params any, crossChannel bool, fn PixelKernel) {
	channels := dst.Format.Channels()
	hasSrc1 := src1 != nil
	for y := tile.Min.Y; y < tile.Max.Y; y++ {
		for x := tile.Min.X; x < tile.Max.X; x++ {
			p0 := src0.At(x, y)
			var p1 pixfmt.Pixel
			if hasSrc1 {
				p1 = src1.At(x, y)
			}
			if crossChannel {
				in := make([]float64, 0, channels*2)
				for c := 0; c < channels; c++ {
					in = append(in, float64(p0.V[c]))
				}
				if hasSrc1 {
					for c := 0; c < channels; c++ {
						in = append(in, float64(p1.V[c]))
					}
				}
				out := fn(in, params)
				var op pixfmt.Pixel
				op.N = channels
				for c := 0; c < channels && c < len(out); c++ {
					op.V[c] = float32(out[c])
				}
				dst.Set(x, y, op)
			} else {
				var op pixfmt.Pixel
				op.N = channels
				for c := 0; c < channels; c++ {
					in := []float64{float64(p0.V[c])}
					if hasSrc1 {
						in = append(in, float64(p1.V[c]))
					}
					out := fn(in, params)
					op.V[c] = float32(out[0])
				}
				dst.Set(x, y, op)
			}
		}
	}
}

// Dispatch evaluates fn over rect, tile by tile, writing into dst and
// reading from src0/src1 (src1 may be nil for unary kernels). Channel
// iteration is per-channel unless crossChannel is true, in which case fn
// receives and must return a full pixel's worth of channels at once (used
// by the mixer's highlight/shadow interpolation, which needs all three
// input channels together). This sequential form is used by this
// package's own tests; the backends call ApplyTile per tile themselves
// (the GPU backend from its per-tile staging loop, the CPU backend from its
// own worker pool, to actually parallelize tile execution).
func Dispatch(dst, src0, src1 *Buffer, rect image.Rectangle, params any, crossChannel bool, fn PixelKernel) error {
	if err := CheckCompatible(dst, rect, src0, src1); err != nil {
		return err
	}
	for _, tile := range Tiles(rect, DefaultTileSide) {
		ApplyTile(dst, src0, src1, tile, params, crossChannel, fn)
	}
	return nil
}

// Histogram implements the reduce kernel of spec §4.1: per-tile partial
// histograms merged at the end, so the reduction carries no ordering
// dependency between tiles.
func Histogram(src *Buffer, rect image.Rectangle, bins int, channel int) ([]uint32, error) {
	if !rect.In(src.Rect()) {
		return nil, ErrOutOfBounds
	}
	max := src.Format.MaxValue()
	out := make([]uint32, bins)
	for _, tile := range Tiles(rect, DefaultTileSide) {
		partial := make([]uint32, bins)
		for y := tile.Min.Y; y < tile.Max.Y; y++ {
			for x := tile.Min.X; x < tile.Max.X; x++ {
				p := src.At(x, y)
				v := float64(p.V[channel])
				bin := int(v / max * float64(bins-1))
				if bin < 0 {
					bin = 0
				}
				if bin >= bins {
					bin = bins - 1
				}
				partial[bin]++
			}
		}
		for i := range out {
			out[i] += partial[i]
		}
	}
	return out, nil
}
