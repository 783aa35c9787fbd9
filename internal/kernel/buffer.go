// Package kernel implements the pixel-kernel dispatch engine (L1/L4): the
// tile decomposition, the per-pixel/small-stencil operator set of spec
// §4.1, and the reduce pass used for histograms. It is backend-agnostic —
// internal/backend/cpu drives it directly over a []byte slab, and
// internal/backend/gpu drives an equivalent pass per texture tile.
package kernel

import (
	"encoding/binary"
	"image"
	"math"

	"github.com/grayforge/engine/internal/pixfmt"
)

// Buffer is a decoded view over one format's worth of pixel bytes, honoring
// the engine's stride/rect conventions (inclusive origin, exclusive far
// edge, as image.Rectangle already expresses).
type Buffer struct {
	Format pixfmt.Format
	Width  int
	Height int
	Stride int // bytes per row; 0 means tightly packed
	Data   []byte
}

// NewBuffer allocates a zeroed, tightly packed Buffer for format over a
// width x height rectangle.
func NewBuffer(format pixfmt.Format, width, height int) *Buffer {
	stride := width * format.BytesPerPixel()
	return &Buffer{
		Format: format,
		Width:  width,
		Height: height,
		Stride: stride,
		Data:   make([]byte, stride*height),
	}
}

// Rect returns the buffer's full addressable rectangle.
func (b *Buffer) Rect() image.Rectangle {
	return image.Rect(0, 0, b.Width, b.Height)
}

func (b *Buffer) stride() int {
	if b.Stride != 0 {
		return b.Stride
	}
	return b.Width * b.Format.BytesPerPixel()
}

func (b *Buffer) offset(x, y int) int {
	return y*b.stride() + x*b.Format.BytesPerPixel()
}

// At reads the pixel at (x,y) in the format's native numeric domain: [0,
// MaxValue] for unorm, [-MaxValue, MaxValue] for snorm, [0,1] for float.
func (b *Buffer) At(x, y int) pixfmt.Pixel {
	d := pixfmt.Describe(b.Format)
	off := b.offset(x, y)
	var p pixfmt.Pixel
	p.N = d.Channels
	for c := 0; c < d.Channels; c++ {
		p.V[c] = float32(b.readChannel(off + c*d.ChannelWidth))
	}
	return p
}

// Set writes p (native domain) to (x,y), without any clamping — callers
// apply format saturation via kernel.Saturate before committing.
func (b *Buffer) Set(x, y int, p pixfmt.Pixel) {
	d := pixfmt.Describe(b.Format)
	off := b.offset(x, y)
	for c := 0; c < d.Channels; c++ {
		b.writeChannel(off+c*d.ChannelWidth, float64(p.V[c]))
	}
}

func (b *Buffer) readChannel(off int) float64 {
	d := pixfmt.Describe(b.Format)
	switch d.Kind {
	case pixfmt.Float:
		bits := binary.LittleEndian.Uint32(b.Data[off:])
		return float64(math.Float32frombits(bits))
	case pixfmt.Snorm:
		return float64(int16(binary.LittleEndian.Uint16(b.Data[off:])))
	default:
		if d.ChannelWidth == 1 {
			return float64(b.Data[off])
		}
		return float64(binary.LittleEndian.Uint16(b.Data[off:]))
	}
}

func (b *Buffer) writeChannel(off int, v float64) {
	d := pixfmt.Describe(b.Format)
	switch d.Kind {
	case pixfmt.Float:
		binary.LittleEndian.PutUint32(b.Data[off:], math.Float32bits(float32(v)))
	case pixfmt.Snorm:
		binary.LittleEndian.PutUint16(b.Data[off:], uint16(int16(v)))
	default:
		if d.ChannelWidth == 1 {
			b.Data[off] = byte(v)
		} else {
			binary.LittleEndian.PutUint16(b.Data[off:], uint16(v))
		}
	}
}

// SubRect copies the pixel data covered by r (relative to b) into a new,
// tightly packed Buffer of the same format — used to hand a single tile's
// worth of data to a kernel.
func (b *Buffer) SubRect(r image.Rectangle) *Buffer {
	out := NewBuffer(b.Format, r.Dx(), r.Dy())
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			out.Set(x, y, b.At(r.Min.X+x, r.Min.Y+y))
		}
	}
	return out
}

// BlitFrom writes src (whose size must equal r's) back into b at r's
// origin.
func (b *Buffer) BlitFrom(r image.Rectangle, src *Buffer) {
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			b.Set(r.Min.X+x, r.Min.Y+y, src.At(x, y))
		}
	}
}

// Saturate clamps every channel of every pixel in b to the format's valid
// range, in place. This is the dispatch-level saturation policy of spec
// §4.1: integer formats clamp to [0, max], signed-normal clamp
// symmetrically, float formats are left to callers that need [0,1]
// clamping explicitly (mixer, curves, grain composition).
func (b *Buffer) Saturate() {
	d := pixfmt.Describe(b.Format)
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			p := b.At(x, y)
			for c := 0; c < d.Channels; c++ {
				p.V[c] = float32(pixfmt.ClampToFormat(b.Format, float64(p.V[c])))
			}
			b.Set(x, y, p)
		}
	}
}

// Equal reports whether a and b have identical format, size and bytes —
// used by the identity-of-disabled-graph and tile-order-independence
// invariants.
func Equal(a, b *Buffer) bool {
	if a.Format != b.Format || a.Width != b.Width || a.Height != b.Height {
		return false
	}
	if len(a.Data) != len(b.Data) {
		return false
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			return false
		}
	}
	return true
}
