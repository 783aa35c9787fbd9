// Package vignette implements the vignette filter of spec.md §4.4.6: a
// radial attenuation around a configurable centre, darkening or
// lightening the image edges.
package vignette

import (
	"image"
	"math"

	"github.com/grayforge/engine/internal/backend"
	"github.com/grayforge/engine/internal/filter"
	"github.com/grayforge/engine/internal/kernel"
	"github.com/grayforge/engine/internal/layer"
	"github.com/grayforge/engine/internal/pixfmt"
	"github.com/grayforge/engine/internal/preset"
)

// Params is vignette's parameter record (spec.md §4.4.6). Center is
// normalised to [0,1]^2; Radius is a distance in the same normalised
// coordinates, at and beyond which a pixel gets the full attenuation.
type Params struct {
	CenterX  float64 // [0, 1]
	CenterY  float64 // [0, 1]
	Radius   float64 // [0, 2]
	Strength float64 // [-1, 1]; positive darkens, negative lightens
}

func DefaultParams() Params {
	return Params{CenterX: 0.5, CenterY: 0.5, Radius: 0.75, Strength: 0.4}
}

// Filter is the vignette instance; it has no cache.
type Filter struct {
	name   string
	params Params
}

func New(name string) *Filter {
	return &Filter{name: name, params: DefaultParams()}
}

func (f *Filter) Kind() filter.Kind { return filter.Vignette }
func (f *Filter) Name() string      { return f.name }

func (f *Filter) SetParams(p Params) { f.params = p }
func (f *Filter) Params() Params     { return f.params }

func (f *Filter) Precompute()   {}
func (f *Filter) ReleaseCache() {}

func (f *Filter) ToPreset() *preset.Preset {
	p := preset.New("vignette", f.name, "")
	p.Set("center_x", preset.Float(f.params.CenterX))
	p.Set("center_y", preset.Float(f.params.CenterY))
	p.Set("radius", preset.Float(f.params.Radius))
	p.Set("strength", preset.Float(f.params.Strength))
	return p
}

func (f *Filter) FromPreset(p *preset.Preset) bool {
	cx, ok := p.Get("center_x")
	if !ok || cx.Kind != preset.KindFloat {
		return false
	}
	cy, ok := p.Get("center_y")
	if !ok || cy.Kind != preset.KindFloat {
		return false
	}
	r, ok := p.Get("radius")
	if !ok || r.Kind != preset.KindFloat {
		return false
	}
	s, ok := p.Get("strength")
	if !ok || s.Kind != preset.KindFloat {
		return false
	}
	f.params = Params{CenterX: cx.Float, CenterY: cy.Float, Radius: r.Float, Strength: s.Float}
	f.name = p.Name
	return true
}

func smoothstep(edge0, edge1, x float64) float64 {
	t := pixfmt.ClampUnit((x - edge0) / (edge1 - edge0))
	return t * t * (3 - 2*t)
}

// attenuationAt implements spec.md §4.4.6's distance/smoothstep formula at
// normalised position (px, py).
func (p Params) attenuationAt(px, py float64) float64 {
	dx := px - p.CenterX
	dy := py - p.CenterY
	d := math.Sqrt(dx*dx+dy*dy) / p.Radius
	s := smoothstep(0, 1, d)
	return s * s * p.Strength
}

// apply returns source scaled/lightened by attenuation per spec.md
// §4.4.6's darken/lighten branch: a positive attenuation pulls source
// towards 0, a negative one pulls it towards 1 by its magnitude.
func apply(source, attenuation float64) float64 {
	if attenuation >= 0 {
		return source * (1 - attenuation)
	}
	a := -attenuation
	return source*(1-a) + a
}

// Render implements filter.Filter. Vignette's kernel needs each pixel's
// normalised position, which the shared filter.RenderKernel's
// position-independent kernel.PixelKernel signature can't carry, so Render
// walks the destination rectangle directly (as sharpen and grain do for
// their own position/neighbourhood-dependent computations) rather than
// dispatching through filter.RenderKernel.
func (f *Filter) Render(devs filter.Devices, dev backend.Device, dst, src *layer.Layer, rect image.Rectangle) error {
	format := src.Format()
	full := src.Rect()
	w, h := float64(full.Dx()), float64(full.Dy())

	buf := kernel.NewBuffer(format, full.Dx(), full.Dy())
	if err := src.Retrieve(devs, buf, full); err != nil {
		return err
	}

	out := kernel.NewBuffer(format, rect.Dx(), rect.Dy())
	channels := format.Channels()
	params := f.params
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		py := (float64(y) + 0.5) / h
		for x := rect.Min.X; x < rect.Max.X; x++ {
			px := (float64(x) + 0.5) / w
			att := params.attenuationAt(px, py)
			sp := buf.At(x, y)
			var op pixfmt.Pixel
			op.N = sp.N
			for c := 0; c < channels; c++ {
				unit := pixfmt.ToUnit(format, float64(sp.V[c]))
				op.V[c] = float32(pixfmt.FromUnit(format, pixfmt.ClampUnit(apply(unit, att))))
			}
			if sp.N > channels {
				op.V[channels] = sp.V[channels]
			}
			out.Set(x-rect.Min.X, y-rect.Min.Y, op)
		}
	}

	return dst.WriteBuffer(devs, out, rect.Min)
}
