package gpu

import (
	"github.com/grayforge/engine/internal/kernel"
	"github.com/grayforge/engine/internal/pixfmt"
)

// Texture tiles are always staged through ebiten's native RGBA8 byte
// layout (4 bytes/pixel, straight alpha), regardless of the logical
// format carried by the owning Image. Every channel is round-tripped
// through the format's [0,1] unit domain (pixfmt.ToUnit/FromUnit) so an
// 8-bit quantization step is the only loss incurred — acceptable for the
// GPU backend's role as the interactive-preview device (spec §4.2); the
// CPU backend remains the precision path for float/16-bit formats.

func putRGBA(rgba []byte, x, y, side int, format pixfmt.Format, p pixfmt.Pixel) {
	off := (y*side + x) * 4
	switch {
	case pixfmt.IsMono(format):
		v := unitToByte(pixfmt.ToUnit(format, float64(p.V[0])))
		rgba[off+0] = v
		rgba[off+1] = v
		rgba[off+2] = v
		rgba[off+3] = 255
	case pixfmt.HasAlpha(format):
		rgba[off+0] = unitToByte(pixfmt.ToUnit(format, float64(p.V[0])))
		rgba[off+1] = unitToByte(pixfmt.ToUnit(format, float64(p.V[1])))
		rgba[off+2] = unitToByte(pixfmt.ToUnit(format, float64(p.V[2])))
		rgba[off+3] = unitToByte(pixfmt.ToUnit(format, float64(p.V[3])))
	default: // RGB, no alpha
		rgba[off+0] = unitToByte(pixfmt.ToUnit(format, float64(p.V[0])))
		rgba[off+1] = unitToByte(pixfmt.ToUnit(format, float64(p.V[1])))
		rgba[off+2] = unitToByte(pixfmt.ToUnit(format, float64(p.V[2])))
		rgba[off+3] = 255
	}
}

func getRGBA(rgba []byte, x, y, side int, format pixfmt.Format) pixfmt.Pixel {
	off := (y*side + x) * 4
	var p pixfmt.Pixel
	p.N = format.Channels()
	switch {
	case pixfmt.IsMono(format):
		p.V[0] = float32(pixfmt.FromUnit(format, byteToUnit(rgba[off])))
	case pixfmt.HasAlpha(format):
		p.V[0] = float32(pixfmt.FromUnit(format, byteToUnit(rgba[off+0])))
		p.V[1] = float32(pixfmt.FromUnit(format, byteToUnit(rgba[off+1])))
		p.V[2] = float32(pixfmt.FromUnit(format, byteToUnit(rgba[off+2])))
		p.V[3] = float32(pixfmt.FromUnit(format, byteToUnit(rgba[off+3])))
	default:
		p.V[0] = float32(pixfmt.FromUnit(format, byteToUnit(rgba[off+0])))
		p.V[1] = float32(pixfmt.FromUnit(format, byteToUnit(rgba[off+1])))
		p.V[2] = float32(pixfmt.FromUnit(format, byteToUnit(rgba[off+2])))
	}
	return p
}

func unitToByte(u float64) byte {
	v := pixfmt.ClampUnit(u)*255 + 0.5
	return byte(v)
}

func byteToUnit(b byte) float64 {
	return float64(b) / 255
}

// copyTileIntoBuffer decodes one tile's worth of raw RGBA8 bytes (as
// produced by ebiten's ReadPixels) into the matching region of out,
// clipping against out's bounds for edge tiles narrower than the tile
// side.
func copyTileIntoBuffer(out *kernel.Buffer, rgba []byte, originX, originY int, format pixfmt.Format) {
	maxX := originX + TileSide
	if maxX > out.Width {
		maxX = out.Width
	}
	maxY := originY + TileSide
	if maxY > out.Height {
		maxY = out.Height
	}
	for y := originY; y < maxY; y++ {
		for x := originX; x < maxX; x++ {
			p := getRGBA(rgba, x-originX, y-originY, TileSide, format)
			out.Set(x, y, p)
		}
	}
}
