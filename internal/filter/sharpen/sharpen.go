// Package sharpen implements the cascaded unsharp-mask filter of spec.md
// §4.4.3: a small stack of Gaussian blurs at increasing radii, each
// contributing a strength-weighted (source - blur) term, gated by a
// threshold measured against the finest cascade.
package sharpen

import (
	"image"

	"github.com/grayforge/engine/internal/backend"
	"github.com/grayforge/engine/internal/filter"
	"github.com/grayforge/engine/internal/kernel"
	"github.com/grayforge/engine/internal/layer"
	"github.com/grayforge/engine/internal/pixfmt"
	"github.com/grayforge/engine/internal/preset"
)

// Cascade is one term of the unsharp sum: blur source at BlurRadius, weight
// the (source - blur) difference by Strength.
type Cascade struct {
	BlurRadius float64
	Strength   float64
}

// Params holds the cascade stack and the gating threshold (spec.md §4.4.3).
type Params struct {
	Cascades  []Cascade
	Threshold float64 // in the format's native domain
}

// DefaultParams matches spec.md §4.4.3's four default radii, tuned so the
// coarser cascades contribute progressively less.
func DefaultParams() Params {
	return Params{
		Cascades: []Cascade{
			{BlurRadius: 0.7, Strength: 0.6},
			{BlurRadius: 1.4, Strength: 0.3},
			{BlurRadius: 2.8, Strength: 0.15},
			{BlurRadius: 5.6, Strength: 0.08},
		},
		Threshold: 0,
	}
}

// blurCache holds one cascade's precomputed blur, keyed by the source
// dimensions/format it was built from so a resize or format change is
// detected without an explicit invalidation call.
type blurCache struct {
	key filter.CacheKey
	buf *kernel.Buffer
}

// Filter is the cascaded-sharpen instance. Unlike bwmixer/curves, its
// kernel needs more than one auxiliary source per pixel (one blur per
// cascade), which the two-source filter.RenderKernel2 contract can't
// express directly, so Render computes the whole result buffer on the CPU
// and commits it via layer.Layer.WriteBuffer instead of going through
// backend.Device.Dispatch.
type Filter struct {
	name   string
	params Params
	cache  []blurCache
}

func New(name string) *Filter {
	return &Filter{name: name, params: DefaultParams()}
}

func (f *Filter) Kind() filter.Kind { return filter.CascadedSharpen }
func (f *Filter) Name() string      { return f.name }

func (f *Filter) SetParams(p Params) {
	f.params = p
	f.ReleaseCache()
}

func (f *Filter) Params() Params { return f.params }

// Precompute is a no-op here: the blur cache is built lazily in Render
// against the actual source buffer, since it needs pixel data the
// parameter record alone doesn't carry.
func (f *Filter) Precompute() {}

func (f *Filter) ReleaseCache() { f.cache = nil }

func (f *Filter) ToPreset() *preset.Preset {
	p := preset.New("sharpen", f.name, "")
	pts := make([]preset.Point, len(f.params.Cascades))
	for i, c := range f.params.Cascades {
		pts[i] = preset.Point{X: float64(i), Y: c.BlurRadius}
	}
	p.Set("cascades", preset.PointList(pts))
	p.Set("threshold", preset.Float(f.params.Threshold))
	return p
}

func (f *Filter) FromPreset(p *preset.Preset) bool {
	v, ok := p.Get("cascades")
	if !ok || v.Kind != preset.KindPointList {
		return false
	}
	th, ok := p.Get("threshold")
	if !ok || th.Kind != preset.KindFloat {
		return false
	}
	defaults := DefaultParams().Cascades
	cascades := make([]Cascade, len(v.Points))
	for i, pt := range v.Points {
		strength := 0.0
		if i < len(defaults) {
			strength = defaults[i].Strength
		}
		cascades[i] = Cascade{BlurRadius: pt.Y, Strength: strength}
	}
	f.params = Params{Cascades: cascades, Threshold: th.Float}
	f.name = p.Name
	f.ReleaseCache()
	return true
}

// blurFor returns the cached blur buffer for one cascade over src, building
// it from scratch (and dropping any stale entry) if src's backend/size/
// format/radius don't match what's cached.
func (f *Filter) blurFor(devs filter.Devices, dev backend.Device, src *layer.Layer, srcBuf *kernel.Buffer, idx int, radius float64) *kernel.Buffer {
	key := filter.CacheKey{
		Backend: dev.ID(),
		Width:   src.Width(),
		Height:  src.Height(),
		Format:  src.Format(),
		Extra:   radius,
	}
	for len(f.cache) <= idx {
		f.cache = append(f.cache, blurCache{})
	}
	if f.cache[idx].key == key && f.cache[idx].buf != nil {
		return f.cache[idx].buf
	}
	blurred := kernel.NewBuffer(src.Format(), src.Width(), src.Height())
	kernel.SeparableBlur(blurred, srcBuf, radius)
	f.cache[idx] = blurCache{key: key, buf: blurred}
	return f.cache[idx].buf
}

// Render implements filter.Filter. It retrieves the full source layer into
// a CPU buffer (cascaded blurs need neighborhood access no single-tile
// kernel closure can express), builds or reuses one blur per cascade, sums
// the weighted differences pixel by pixel gated by the threshold measured
// against the finest cascade, and commits the result to dst's CPU mirror.
func (f *Filter) Render(devs filter.Devices, dev backend.Device, dst, src *layer.Layer, rect image.Rectangle) error {
	format := src.Format()
	full := kernel.NewBuffer(format, src.Width(), src.Height())
	if err := src.Retrieve(devs, full, src.Rect()); err != nil {
		return err
	}

	blurs := make([]*kernel.Buffer, len(f.params.Cascades))
	for i, c := range f.params.Cascades {
		blurs[i] = f.blurFor(devs, dev, src, full, i, c.BlurRadius)
	}

	out := kernel.NewBuffer(format, rect.Dx(), rect.Dy())
	channels := format.Channels()
	threshold := f.params.Threshold
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			sp := full.At(x, y)
			var op pixfmt.Pixel
			op.N = sp.N
			finest := blurs[0].At(x, y)
			gate := true
			if threshold > 0 {
				gate = false
				for c := 0; c < channels; c++ {
					if absf(float64(sp.V[c]-finest.V[c])) > threshold {
						gate = true
						break
					}
				}
			}
			for c := 0; c < channels; c++ {
				v := float64(sp.V[c])
				if gate {
					for i, casc := range f.params.Cascades {
						bv := float64(blurs[i].At(x, y).V[c])
						v += casc.Strength * (float64(sp.V[c]) - bv)
					}
				}
				op.V[c] = float32(pixfmt.ClampToFormat(format, v))
			}
			out.Set(x-rect.Min.X, y-rect.Min.Y, op)
		}
	}

	return dst.WriteBuffer(devs, out, rect.Min)
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
