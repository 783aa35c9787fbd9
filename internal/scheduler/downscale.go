package scheduler

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/grayforge/engine/internal/filter"
	"github.com/grayforge/engine/internal/kernel"
	"github.com/grayforge/engine/internal/layer"
	"github.com/grayforge/engine/internal/pixfmt"

	"github.com/grayforge/engine/internal/backend"
)

// downscaleFactor implements spec.md §4.6 step 1: the scale such that
// max(w, h) <= budget, or 1 if the source already fits.
func downscaleFactor(width, height, budget int) float64 {
	m := width
	if height > m {
		m = height
	}
	if m <= budget {
		return 1
	}
	return float64(budget) / float64(m)
}

// ensurePreview returns the cached downscaled source layer, rebuilding it
// only when the source layer, the computed factor, or the quality
// parameter changed since the last call (spec.md §4.6 step 1: "the
// scheduler caches the downscaled source layer and invalidates it only
// when the source or the factor changes").
func (s *Scheduler) ensurePreview(devs filter.Devices, dev backend.Device, source *layer.Layer, quality float64) (*layer.Layer, error) {
	factor := downscaleFactor(source.Width(), source.Height(), s.PreviewBudget)
	if factor == 1 {
		return source, nil
	}
	if s.previewSource == source && s.previewFactor == factor && s.previewQual == quality && s.previewLayer != nil {
		return s.previewLayer, nil
	}

	full := kernel.NewBuffer(source.Format(), source.Width(), source.Height())
	if err := source.Retrieve(devs, full, source.Rect()); err != nil {
		return nil, err
	}

	dstW := maxInt(1, int(float64(source.Width())*factor))
	dstH := maxInt(1, int(float64(source.Height())*factor))

	srcImg := bufferToRGBA(full)
	dstImg := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	scaler := draw.ApproxBiLinear
	if quality >= 0.5 {
		scaler = draw.CatmullRom
	}
	scaler.Scale(dstImg, dstImg.Bounds(), srcImg, srcImg.Bounds(), draw.Over, nil)

	scaledBuf := rgbaToBuffer(source.Format(), dstImg)
	preview := layer.New(source.Name()+" preview", source.Format(), dstW, dstH)
	if err := preview.WriteBuffer(devs, scaledBuf, image.Point{}); err != nil {
		return nil, err
	}

	s.previewSource = source
	s.previewFactor = factor
	s.previewQual = quality
	s.previewLayer = preview
	return preview, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// bufferToRGBA stages a kernel.Buffer into an image.RGBA so x/image/draw's
// scalers (which operate on image.Image/draw.Image) can run over it. This
// mirrors the GPU backend's choice to stage through RGBA8 for its own
// interactive-preview path (internal/backend/gpu/pixels.go): preview
// downscaling is a display-quality operation, not a precision-critical
// one, so the byte round trip is an accepted, documented tradeoff.
func bufferToRGBA(buf *kernel.Buffer) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, buf.Width, buf.Height))
	format := buf.Format
	channels := format.Channels()
	mono := pixfmt.IsMono(format)
	for y := 0; y < buf.Height; y++ {
		for x := 0; x < buf.Width; x++ {
			p := buf.At(x, y)
			c := color.RGBA{A: 255}
			if mono {
				v := unitToByte(pixfmt.ToUnit(format, float64(p.V[0])))
				c.R, c.G, c.B = v, v, v
				if channels > 1 {
					c.A = unitToByte(pixfmt.ToUnit(format, float64(p.V[1])))
				}
			} else {
				c.R = unitToByte(pixfmt.ToUnit(format, float64(p.V[0])))
				c.G = unitToByte(pixfmt.ToUnit(format, float64(p.V[1])))
				c.B = unitToByte(pixfmt.ToUnit(format, float64(p.V[2])))
				if channels > 3 {
					c.A = unitToByte(pixfmt.ToUnit(format, float64(p.V[3])))
				}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// rgbaToBuffer is bufferToRGBA's inverse, decoding the scaled RGBA image
// back into format's native domain.
func rgbaToBuffer(format pixfmt.Format, img *image.RGBA) *kernel.Buffer {
	bounds := img.Bounds()
	buf := kernel.NewBuffer(format, bounds.Dx(), bounds.Dy())
	channels := format.Channels()
	mono := pixfmt.IsMono(format)
	for y := 0; y < buf.Height; y++ {
		for x := 0; x < buf.Width; x++ {
			c := img.RGBAAt(bounds.Min.X+x, bounds.Min.Y+y)
			var p pixfmt.Pixel
			p.N = channels
			if mono {
				p.V[0] = float32(pixfmt.FromUnit(format, byteToUnit(c.R)))
				if channels > 1 {
					p.V[1] = float32(pixfmt.FromUnit(format, byteToUnit(c.A)))
				}
			} else {
				p.V[0] = float32(pixfmt.FromUnit(format, byteToUnit(c.R)))
				p.V[1] = float32(pixfmt.FromUnit(format, byteToUnit(c.G)))
				p.V[2] = float32(pixfmt.FromUnit(format, byteToUnit(c.B)))
				if channels > 3 {
					p.V[3] = float32(pixfmt.FromUnit(format, byteToUnit(c.A)))
				}
			}
			buf.Set(x, y, p)
		}
	}
	return buf
}

func unitToByte(u float64) uint8 {
	u = pixfmt.ClampUnit(u)
	return uint8(u*255 + 0.5)
}

func byteToUnit(b uint8) float64 { return float64(b) / 255 }
