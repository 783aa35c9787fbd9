// Package curves implements the tone-curve filter of spec.md §4.4.2: a
// monotone cubic interpolant through a sorted list of control points,
// precomputed into a fixed-length LUT and applied per channel.
package curves

import (
	"image"
	"sort"

	"github.com/grayforge/engine/internal/backend"
	"github.com/grayforge/engine/internal/filter"
	"github.com/grayforge/engine/internal/layer"
	"github.com/grayforge/engine/internal/pixfmt"
	"github.com/grayforge/engine/internal/preset"
)

// Point is a control point in [0,1]x[0,1].
type Point struct{ X, Y float64 }

// Params holds the control points; endpoints at x=0 and x=1 are clamped
// in if absent (spec.md §4.4.2).
type Params struct {
	ControlPoints []Point
}

func DefaultParams() Params {
	return Params{ControlPoints: []Point{{0, 0}, {1, 1}}}
}

// LUT is a precomputed lookup table over [0,1] with Length entries.
type LUT struct {
	Values []float64
}

// Sample looks up x (clamped into [0,1]) via linear interpolation between
// the table's two nearest entries. Exported so other filters needing a
// monotone-cubic response curve (film grain's luma-domain grain strength)
// can reuse the same LUT machinery instead of reimplementing it.
func (l *LUT) Sample(x float64) float64 { return l.sample(x) }

func (l *LUT) sample(x float64) float64 {
	x = pixfmt.ClampUnit(x)
	n := len(l.Values)
	pos := x * float64(n-1)
	i0 := int(pos)
	if i0 >= n-1 {
		return l.Values[n-1]
	}
	frac := pos - float64(i0)
	return l.Values[i0]*(1-frac) + l.Values[i0+1]*frac
}

// NewLUT builds a standalone LUT of length n from control points, using the
// same Fritsch-Carlson monotone cubic interpolant the Filter type uses
// internally.
func NewLUT(points []Point, n int) *LUT {
	if n <= 0 {
		n = 4096
	}
	pts := normalizeControlPoints(Params{ControlPoints: points}).ControlPoints
	return &LUT{Values: monotoneCubicLUT(pts, n)}
}

// Filter is the curves instance. The LUT is the filter's only cached
// precompute state; it is rebuilt whenever Precompute runs after a
// parameter change (no invalidation flag is needed since building the
// LUT is cheap — spec.md §4.4 calls precompute hooks "idempotent and
// cheap to call").
type Filter struct {
	name      string
	params    Params
	lut       *LUT
	lutLength int // 0 defaults to 4096, the float-format length of spec.md §4.4.2
}

func New(name string, lutLength int) *Filter {
	f := &Filter{name: name, params: DefaultParams(), lutLength: lutLength}
	f.Precompute()
	return f
}

func (f *Filter) Kind() filter.Kind { return filter.Curves }
func (f *Filter) Name() string      { return f.name }

func (f *Filter) SetParams(p Params) {
	f.params = normalizeControlPoints(p)
	f.Precompute()
}

func (f *Filter) Params() Params { return f.params }

// Precompute rebuilds the LUT from the current control points using a
// monotone cubic (Fritsch-Carlson) Hermite interpolant. The curve is
// C¹-continuous; its second derivative is not continuous at the control
// points.
func (f *Filter) Precompute() {
	n := f.lutLength
	if n <= 0 {
		n = 4096
	}
	pts := normalizeControlPoints(f.params).ControlPoints
	f.lut = &LUT{Values: monotoneCubicLUT(pts, n)}
}

func (f *Filter) ReleaseCache() { f.lut = nil }

func normalizeControlPoints(p Params) Params {
	pts := append([]Point(nil), p.ControlPoints...)
	sort.Slice(pts, func(i, j int) bool { return pts[i].X < pts[j].X })
	if len(pts) == 0 || pts[0].X > 0 {
		pts = append([]Point{{0, 0}}, pts...)
	}
	if pts[len(pts)-1].X < 1 {
		pts = append(pts, Point{1, 1})
	}
	return Params{ControlPoints: pts}
}

// monotoneCubicLUT evaluates the Fritsch-Carlson monotone cubic Hermite
// interpolant at n evenly spaced samples over [0,1].
func monotoneCubicLUT(pts []Point, n int) []float64 {
	m := len(pts)
	if m < 2 {
		out := make([]float64, n)
		for i := range out {
			out[i] = float64(i) / float64(n-1)
		}
		return out
	}

	dx := make([]float64, m-1)
	dy := make([]float64, m-1)
	slope := make([]float64, m-1)
	for i := 0; i < m-1; i++ {
		dx[i] = pts[i+1].X - pts[i].X
		dy[i] = pts[i+1].Y - pts[i].Y
		if dx[i] == 0 {
			slope[i] = 0
		} else {
			slope[i] = dy[i] / dx[i]
		}
	}

	tangent := make([]float64, m)
	tangent[0] = slope[0]
	tangent[m-1] = slope[m-2]
	for i := 1; i < m-1; i++ {
		if slope[i-1]*slope[i] <= 0 {
			tangent[i] = 0
		} else {
			tangent[i] = (slope[i-1] + slope[i]) / 2
		}
	}
	// Fritsch-Carlson monotonicity limiter.
	for i := 0; i < m-1; i++ {
		if slope[i] == 0 {
			tangent[i] = 0
			tangent[i+1] = 0
			continue
		}
		a := tangent[i] / slope[i]
		b := tangent[i+1] / slope[i]
		s := a*a + b*b
		if s > 9 {
			scale := 3 / sqrt(s)
			tangent[i] = scale * a * slope[i]
			tangent[i+1] = scale * b * slope[i]
		}
	}

	out := make([]float64, n)
	seg := 0
	for i := 0; i < n; i++ {
		x := float64(i) / float64(n-1)
		for seg < m-2 && x > pts[seg+1].X {
			seg++
		}
		x0, x1 := pts[seg].X, pts[seg+1].X
		h := x1 - x0
		var t float64
		if h == 0 {
			t = 0
		} else {
			t = (x - x0) / h
		}
		h00 := 2*t*t*t - 3*t*t + 1
		h10 := t*t*t - 2*t*t + t
		h01 := -2*t*t*t + 3*t*t
		h11 := t*t*t - t*t
		out[i] = h00*pts[seg].Y + h10*h*tangent[seg] + h01*pts[seg+1].Y + h11*h*tangent[seg+1]
	}
	return out
}

func sqrt(v float64) float64 {
	if v <= 0 {
		return 0
	}
	x := v
	for i := 0; i < 20; i++ {
		x = 0.5 * (x + v/x)
	}
	return x
}

func (f *Filter) ToPreset() *preset.Preset {
	p := preset.New("curves", f.name, "")
	pts := make([]preset.Point, len(f.params.ControlPoints))
	for i, cp := range f.params.ControlPoints {
		pts[i] = preset.Point{X: cp.X, Y: cp.Y}
	}
	p.Set("points", preset.PointList(pts))
	return p
}

func (f *Filter) FromPreset(p *preset.Preset) bool {
	v, ok := p.Get("points")
	if !ok || v.Kind != preset.KindPointList {
		return false
	}
	pts := make([]Point, len(v.Points))
	for i, pt := range v.Points {
		pts[i] = Point{X: pt.X, Y: pt.Y}
	}
	f.SetParams(Params{ControlPoints: pts})
	f.name = p.Name
	return true
}

func (f *Filter) Render(devs filter.Devices, dev backend.Device, dst, src *layer.Layer, rect image.Rectangle) error {
	format := src.Format()
	lut := f.lut
	fn := func(v []float64, _ any) []float64 {
		out := make([]float64, len(v))
		for i, c := range v {
			unit := pixfmt.ToUnit(format, c)
			out[i] = pixfmt.FromUnit(format, lut.sample(unit))
		}
		return out
	}
	return filter.RenderKernel(devs, dev, dst, src, rect, false, nil, fn)
}
