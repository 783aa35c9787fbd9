// Package grain implements the film-grain filter of spec.md §4.4.4: a
// cached noise tile, blurred with the same separable Gaussian as cascaded
// sharpen, modulated by a luma-domain response curve, and composed onto
// the source with apply_grain_add.
package grain

import (
	"image"
	"math/rand/v2"

	"github.com/grayforge/engine/internal/backend"
	"github.com/grayforge/engine/internal/filter"
	"github.com/grayforge/engine/internal/filter/curves"
	"github.com/grayforge/engine/internal/kernel"
	"github.com/grayforge/engine/internal/layer"
	"github.com/grayforge/engine/internal/pixfmt"
	"github.com/grayforge/engine/internal/preset"
)

// Params is film grain's parameter record (spec.md §4.4.4).
type Params struct {
	BlurRadius float64 // [0, 10]
	Curve      []curves.Point
	Mono       bool
	Seed       uint64
}

// DefaultParams gives the grain a mild, midtone-weighted response: little
// grain in shadows and highlights, most in the middle of the tone range.
func DefaultParams() Params {
	return Params{
		BlurRadius: 0.6,
		Curve:      []curves.Point{{X: 0, Y: 0}, {X: 0.5, Y: 1}, {X: 1, Y: 0}},
		Mono:       false,
		Seed:       1,
	}
}

// tileCache holds the raw noise tile and, separately, its blurred
// derivative, each invalidated independently: the raw tile only depends on
// (backend, size, mono, seed), while the blur also depends on radius.
type tileCache struct {
	rawKey  filter.CacheKey
	raw     *kernel.Buffer
	blurKey filter.CacheKey
	blurred *kernel.Buffer
}

// Filter is the film-grain instance.
type Filter struct {
	name   string
	params Params
	lut    *curves.LUT
	tile   *tileCache
}

func New(name string) *Filter {
	f := &Filter{name: name, params: DefaultParams()}
	f.Precompute()
	return f
}

func (f *Filter) Kind() filter.Kind { return filter.FilmGrain }
func (f *Filter) Name() string      { return f.name }

func (f *Filter) SetParams(p Params) {
	if p.Mono != f.params.Mono {
		f.tile = nil
	}
	f.params = p
	f.Precompute()
}

func (f *Filter) Params() Params { return f.params }

// Precompute rebuilds the response LUT from the current curve (spec.md
// §4.4's update_curve hook); it does not touch the noise/blur tile cache,
// which Render rebuilds lazily against the actual source dimensions.
func (f *Filter) Precompute() {
	f.lut = curves.NewLUT(f.params.Curve, 4096)
}

// ReleaseCache drops both the response LUT and the noise/blur tile cache
// (spec.md §4.4's reset_grain hook).
func (f *Filter) ReleaseCache() {
	f.lut = nil
	f.tile = nil
}

func (f *Filter) ToPreset() *preset.Preset {
	p := preset.New("filmgrain", f.name, "")
	pts := make([]preset.Point, len(f.params.Curve))
	for i, c := range f.params.Curve {
		pts[i] = preset.Point{X: c.X, Y: c.Y}
	}
	p.Set("points", preset.PointList(pts))
	p.Set("radius", preset.Float(f.params.BlurRadius))
	return p
}

func (f *Filter) FromPreset(p *preset.Preset) bool {
	v, ok := p.Get("points")
	if !ok || v.Kind != preset.KindPointList {
		return false
	}
	r, ok := p.Get("radius")
	if !ok || r.Kind != preset.KindFloat {
		return false
	}
	pts := make([]curves.Point, len(v.Points))
	for i, pt := range v.Points {
		pts[i] = curves.Point{X: pt.X, Y: pt.Y}
	}
	f.params = Params{BlurRadius: r.Float, Curve: pts, Mono: f.params.Mono, Seed: f.params.Seed}
	f.name = p.Name
	f.Precompute()
	return true
}

// ensureTile returns the blurred noise tile for src's current size/format
// on dev, generating and/or re-blurring only the parts the cache key says
// are stale (spec.md §4.4.4 step 1: "cached ... and reused across repeated
// renders at unchanged size").
func (f *Filter) ensureTile(dev backend.Device, format pixfmt.Format, width, height int) *kernel.Buffer {
	channels := 1
	if !f.params.Mono {
		channels = format.Channels()
	}
	rawKey := filter.CacheKey{Backend: dev.ID(), Width: width, Height: height, Format: format, Extra: float64(f.params.Seed)}
	if f.tile == nil || f.tile.rawKey != rawKey {
		f.tile = &tileCache{rawKey: rawKey, raw: generateNoiseTile(format, width, height, channels, f.params.Seed)}
	}

	blurKey := filter.CacheKey{Backend: dev.ID(), Width: width, Height: height, Format: format, Extra: f.params.BlurRadius}
	if f.tile.blurKey != blurKey || f.tile.blurred == nil {
		blurred := kernel.NewBuffer(format, width, height)
		kernel.SeparableBlur(blurred, f.tile.raw, maxf(f.params.BlurRadius, 0.01))
		f.tile.blurKey = blurKey
		f.tile.blurred = blurred
	}
	return f.tile.blurred
}

// generateNoiseTile fills a buffer with uniform [0,1] noise in the format's
// native domain, seeded deterministically so the same (size, mono, seed)
// reproduces byte-identical grain across renders. When mono is requested
// every channel of a pixel shares one noise sample.
func generateNoiseTile(format pixfmt.Format, width, height, channels int, seed uint64) *kernel.Buffer {
	buf := kernel.NewBuffer(format, width, height)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	full := format.Channels()
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var p pixfmt.Pixel
			p.N = full
			if channels == 1 {
				v := float32(pixfmt.FromUnit(format, rng.Float64()))
				for c := 0; c < full; c++ {
					p.V[c] = v
				}
			} else {
				for c := 0; c < full; c++ {
					p.V[c] = float32(pixfmt.FromUnit(format, rng.Float64()))
				}
			}
			buf.Set(x, y, p)
		}
	}
	return buf
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// Render implements filter.Filter. Like cascaded sharpen, grain's compose
// step needs a cached auxiliary buffer keyed by more than (backend, size,
// format), so it reads the source into a CPU buffer directly and commits
// the composed result via layer.Layer.WriteBuffer instead of going through
// filter.RenderKernel2.
func (f *Filter) Render(devs filter.Devices, dev backend.Device, dst, src *layer.Layer, rect image.Rectangle) error {
	format := src.Format()
	full := kernel.NewBuffer(format, src.Width(), src.Height())
	if err := src.Retrieve(devs, full, src.Rect()); err != nil {
		return err
	}
	grain := f.ensureTile(dev, format, src.Width(), src.Height())

	out := kernel.NewBuffer(format, rect.Dx(), rect.Dy())
	channels := format.Channels()
	maxVal := format.MaxValue()
	lut := f.lut
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			sp := full.At(x, y)
			gp := grain.At(x, y)
			luma := 0.0
			for c := 0; c < channels && c < 3; c++ {
				luma += pixfmt.ToUnit(format, float64(sp.V[c]))
			}
			if channels >= 3 {
				luma /= 3
			}
			strength := lut.Sample(luma)

			var op pixfmt.Pixel
			op.N = sp.N
			for c := 0; c < channels; c++ {
				weighted := maxVal/2 + (float64(gp.V[c])-maxVal/2)*strength
				v := kernel.ApplyGrainAdd(float64(sp.V[c]), weighted, maxVal)
				op.V[c] = float32(pixfmt.ClampToFormat(format, v))
			}
			if sp.N > channels {
				op.V[channels] = sp.V[channels]
			}
			out.Set(x-rect.Min.X, y-rect.Min.Y, op)
		}
	}

	return dst.WriteBuffer(devs, out, rect.Min)
}
