// Package bwmixer implements the black-and-white adaptive mixer filter
// of spec.md §4.4.1: a single cross-channel pixel kernel, no auxiliary
// layers.
package bwmixer

import (
	"image"

	"github.com/grayforge/engine/internal/backend"
	"github.com/grayforge/engine/internal/filter"
	"github.com/grayforge/engine/internal/layer"
	"github.com/grayforge/engine/internal/pixfmt"
	"github.com/grayforge/engine/internal/preset"
)

// RGB is a plain weight triple, avoiding a dependency from this package
// on the preset DSL's Color type for its own computation.
type RGB struct {
	R, G, B float64
}

// Params is bwmixer's parameter record (spec.md §4.4.1).
type Params struct {
	HighlightWeights RGB
	ShadowWeights    RGB
	Balance          float64 // [-0.5, 0.5]
}

// DefaultParams uses the same Rec.601-style luma weights (0.3, 0.59, 0.11)
// for highlights and shadows, so there is no highlight/shadow split — the
// filter's identity-ish starting point.
func DefaultParams() Params {
	return Params{
		HighlightWeights: RGB{0.3, 0.59, 0.11},
		ShadowWeights:    RGB{0.3, 0.59, 0.11},
		Balance:          0,
	}
}

// Filter is the bwmixer instance; it has no cache since spec.md §4.4.1
// says the mixer needs none.
type Filter struct {
	name   string
	params Params
}

// New creates a bwmixer filter with the given display name.
func New(name string) *Filter {
	return &Filter{name: name, params: DefaultParams()}
}

func (f *Filter) Kind() filter.Kind { return filter.BWMixer }
func (f *Filter) Name() string      { return f.name }

// SetParams replaces the parameter record wholesale.
func (f *Filter) SetParams(p Params) { f.params = p }

// Params returns the current parameter record.
func (f *Filter) Params() Params { return f.params }

func (f *Filter) Precompute()   {} // no precomputed state
func (f *Filter) ReleaseCache() {} // no cache to release

func (f *Filter) ToPreset() *preset.Preset {
	p := preset.New("bwmixer", f.name, "")
	p.Set("highlights", preset.ColorVal(preset.Color(f.params.HighlightWeights)))
	p.Set("shadows", preset.ColorVal(preset.Color(f.params.ShadowWeights)))
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
	f.params = Params{
		HighlightWeights: RGB(h.Color),
		ShadowWeights:    RGB(s.Color),
		Balance:          b.Float,
	}
	f.name = p.Name
	return true
}

// kernelParams is the payload handed to the pixel kernel closure; it is
// copied by value into the filter.RenderKernel call, matching spec.md
// §5(c)'s copy-on-write parameter-record contract (a render snapshots
// the parameters at entry).
type kernelParams struct {
	highlight, shadow RGB
	balance           float64
}

func mix(v []float64, p any) []float64 {
	kp := p.(kernelParams)
	r, g, b := v[0], v[1], v[2]
	luma := (r + g + b) / 3
	t := pixfmt.ClampUnit(luma + kp.balance)
	wr := lerp(kp.shadow.R, kp.highlight.R, t)
	wg := lerp(kp.shadow.G, kp.highlight.G, t)
	wb := lerp(kp.shadow.B, kp.highlight.B, t)
	out := pixfmt.ClampUnit(wr*r + wg*g + wb*b)
	result := make([]float64, len(v))
	for i := range result {
		result[i] = out
	}
	if len(v) == 4 {
		result[3] = v[3] // preserve alpha
	}
	return result
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }

// Render implements filter.Filter. The kernel operates in the [0,1] unit
// domain regardless of storage format: src/dst pixel values arrive and
// leave in the format's native domain (handled by kernel.ApplyTile via
// Buffer.At/Set), but format.MaxValue() == 1 only for float formats, so
// bwmixer normalizes explicitly around the dispatch boundary by wrapping
// fn in unit conversion when the destination is an integer format.
func (f *Filter) Render(devs filter.Devices, dev backend.Device, dst, src *layer.Layer, rect image.Rectangle) error {
	format := src.Format()
	kp := kernelParams{highlight: f.params.HighlightWeights, shadow: f.params.ShadowWeights, balance: f.params.Balance}
	fn := func(v []float64, _ any) []float64 {
		unit := make([]float64, len(v))
		for i, c := range v {
			unit[i] = pixfmt.ToUnit(format, c)
		}
		out := mix(unit, kp)
		native := make([]float64, len(out))
		for i, c := range out {
			native[i] = pixfmt.FromUnit(format, c)
		}
		return native
	}
	return filter.RenderKernel(devs, dev, dst, src, rect, true, nil, fn)
}
