// Package preset implements the FilterPreset model and DSL of spec.md
// §3/§4.5: a typed, serialisable snapshot of a filter's parameter record,
// a hand-written recursive-descent parser/printer for the textual
// grammar, and round-trip equality. No parser-generator dependency
// appears anywhere in the retained pack, so none is introduced here
// either — the lexer/parser below is written the same direct,
// switch-on-rune way the teacher writes its own small state machines
// (see cmd/worker's frame-reassembly bookkeeping).
package preset

import "math"

// Kind is the closed set of value kinds a preset parameter can hold.
type Kind uint8

const (
	KindBool Kind = iota
	KindInt
	KindFloat
	KindColor
	KindPoint
	KindPointList
	KindString
	KindIdentifier
)

// Point is a 2-D control point, used both for tone-curve control points
// and for raw `x:y` tuples in the DSL.
type Point struct {
	X, Y float64
}

// Color is a named or literal RGB triple in [0,1] per channel.
type Color struct {
	R, G, B float64
}

// Value is a typed parameter value. Only one of the typed fields is
// meaningful, selected by Kind — a small closed tagged union rather than
// an interface{}, so Equal can be exact without type assertions leaking
// into every filter.
type Value struct {
	Kind   Kind
	Bool   bool
	Int    int64
	Float  float64
	Color  Color
	Point  Point
	Points []Point
	Str    string
}

func Bool(b bool) Value      { return Value{Kind: KindBool, Bool: b} }
func Int(n int64) Value      { return Value{Kind: KindInt, Int: n} }
func Float(f float64) Value  { return Value{Kind: KindFloat, Float: f} }
func ColorVal(c Color) Value { return Value{Kind: KindColor, Color: c} }
func PointVal(p Point) Value { return Value{Kind: KindPoint, Point: p} }
func PointList(pts []Point) Value {
	return Value{Kind: KindPointList, Points: append([]Point(nil), pts...)}
}
func Str(s string) Value        { return Value{Kind: KindString, Str: s} }
func Identifier(s string) Value { return Value{Kind: KindIdentifier, Str: s} }

// Equal implements the type-aware equality of spec.md §3: values compare
// equal only when their Kind matches, and floats compare with a small
// epsilon to tolerate the DSL's decimal round-trip.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindBool:
		return v.Bool == o.Bool
	case KindInt:
		return v.Int == o.Int
	case KindFloat:
		return approxEqual(v.Float, o.Float)
	case KindColor:
		return approxEqual(v.Color.R, o.Color.R) && approxEqual(v.Color.G, o.Color.G) && approxEqual(v.Color.B, o.Color.B)
	case KindPoint:
		return approxEqual(v.Point.X, o.Point.X) && approxEqual(v.Point.Y, o.Point.Y)
	case KindPointList:
		if len(v.Points) != len(o.Points) {
			return false
		}
		for i := range v.Points {
			if !approxEqual(v.Points[i].X, o.Points[i].X) || !approxEqual(v.Points[i].Y, o.Points[i].Y) {
				return false
			}
		}
		return true
	case KindString, KindIdentifier:
		return v.Str == o.Str
	default:
		return false
	}
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// NamedColors is the whitelist of spec.md §4.5's named colours.
var NamedColors = map[string]Color{
	"red":    {1, 0, 0},
	"green":  {0, 1, 0},
	"blue":   {0, 0, 1},
	"yellow": {1, 1, 0},
	"white":  {1, 1, 1},
	"grey":   {0.5, 0.5, 0.5},
	"black":  {0, 0, 0},
}
