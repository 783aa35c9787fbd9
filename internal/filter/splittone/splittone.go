// Package splittone implements the split-tone filter of spec.md §4.4.5: a
// single cross-channel kernel tinting shadows and highlights independently
// by luma.
package splittone

import (
	"image"

	"github.com/grayforge/engine/internal/backend"
	"github.com/grayforge/engine/internal/filter"
	"github.com/grayforge/engine/internal/layer"
	"github.com/grayforge/engine/internal/pixfmt"
	"github.com/grayforge/engine/internal/preset"
)

// RGB is a plain weight triple, mirroring bwmixer's own local type so this
// package carries no dependency on the preset DSL's Color type.
type RGB struct {
	R, G, B float64
}

// Params is split tone's parameter record (spec.md §4.4.5).
type Params struct {
	Highlights RGB
	Shadows    RGB
	Balance    float64 // [0.75, 1.25]
}

// DefaultParams ties highlights/shadows to an untinted unit weight and
// centers balance, so a freshly-constructed filter is the identity.
func DefaultParams() Params {
	return Params{
		Highlights: RGB{1, 1, 1},
		Shadows:    RGB{1, 1, 1},
		Balance:    1,
	}
}

// Filter is the split-tone instance; like bwmixer it has no cache.
type Filter struct {
	name   string
	params Params
}

func New(name string) *Filter {
	return &Filter{name: name, params: DefaultParams()}
}

func (f *Filter) Kind() filter.Kind { return filter.SplitTone }
func (f *Filter) Name() string      { return f.name }

func (f *Filter) SetParams(p Params) { f.params = p }
func (f *Filter) Params() Params     { return f.params }

func (f *Filter) Precompute()   {}
func (f *Filter) ReleaseCache() {}

func (f *Filter) ToPreset() *preset.Preset {
	p := preset.New("splittone", f.name, "")
	p.Set("highlights", preset.ColorVal(preset.Color(f.params.Highlights)))
	p.Set("shadows", preset.ColorVal(preset.Color(f.params.Shadows)))
	p.Set("balance", preset.Float(f.params.Balance))
	return p
}

func (f *Filter) FromPreset(p *preset.Preset) bool {
	h, ok := p.Get("highlights")
	if !ok || h.Kind != preset.KindColor {
		return false
	}
	s, ok := p.Get("shadows")
	if !ok || s.Kind != preset.KindColor {
		return false
	}
	b, ok := p.Get("balance")
	if !ok || b.Kind != preset.KindFloat {
		return false
	}
	f.params = Params{Highlights: RGB(h.Color), Shadows: RGB(s.Color), Balance: b.Float}
	f.name = p.Name
	return true
}

type kernelParams struct {
	highlights, shadows RGB
	balance             float64
}

// tone implements spec.md §4.4.5: luma-weighted lerp between a
// shadow-tinted and highlight-tinted copy of the source colour.
func tone(v []float64, p any) []float64 {
	kp := p.(kernelParams)
	r, g, b := v[0], v[1], v[2]
	luma := (r + g + b) / 3
	t := pixfmt.ClampUnit(luma * kp.balance)

	shadowR, shadowG, shadowB := kp.shadows.R*r, kp.shadows.G*g, kp.shadows.B*b
	highR, highG, highB := kp.highlights.R*r, kp.highlights.G*g, kp.highlights.B*b

	out := make([]float64, len(v))
	out[0] = pixfmt.ClampUnit(lerp(shadowR, highR, t))
	out[1] = pixfmt.ClampUnit(lerp(shadowG, highG, t))
	out[2] = pixfmt.ClampUnit(lerp(shadowB, highB, t))
	if len(v) == 4 {
		out[3] = v[3]
	}
	return out
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }

// Render implements filter.Filter, converting to/from the format's unit
// domain around the cross-channel kernel the same way bwmixer does.
func (f *Filter) Render(devs filter.Devices, dev backend.Device, dst, src *layer.Layer, rect image.Rectangle) error {
	format := src.Format()
	kp := kernelParams{highlights: f.params.Highlights, shadows: f.params.Shadows, balance: f.params.Balance}
	fn := func(v []float64, _ any) []float64 {
		unit := make([]float64, len(v))
		for i, c := range v {
			unit[i] = pixfmt.ToUnit(format, c)
		}
		out := tone(unit, kp)
		native := make([]float64, len(out))
		for i, c := range out {
			native[i] = pixfmt.FromUnit(format, c)
		}
		return native
	}
	return filter.RenderKernel(devs, dev, dst, src, rect, true, nil, fn)
}
