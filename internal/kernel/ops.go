package kernel

import "math"

// Op is a binary per-channel operator: given a source-channel value, an
// optional second operand (from a second source image or a scalar already
// expanded to native domain) and the format's max value, it returns the
// unclamped result in the format's native domain. Saturation is applied by
// the caller (Buffer.Saturate), matching spec §4.1's dispatch-level
// saturation policy.
type Op func(a, b, max float64) float64

// Unary is a single-operand operator (e.g. Negate).
type Unary func(a, max float64) float64

// Add, Sub, Mul, Div implement the elementwise/scalar arithmetic family.
func Add(a, b, _ float64) float64 { return a + b }
func Sub(a, b, _ float64) float64 { return a - b }
func Mul(a, b, _ float64) float64 { return a * b }

// Div implements the "divide" operator. Division by zero passes the
// dividend through unchanged for integer-domain formats (max > 1); for the
// float domain (max == 1) spec §4.1 requires an assertion, realized here as
// a panic — float division by zero is a contract violation, not a
// recoverable runtime condition.
func Div(a, b, max float64) float64 {
	if b == 0 {
		if max == 1 {
			panic("kernel: division by zero on float-domain operand")
		}
		return a
	}
	return a / b
}

// Min, Max implement the elementwise/scalar min/max family.
func Min(a, b, _ float64) float64 {
	if a < b {
		return a
	}
	return b
}

func Max(a, b, _ float64) float64 {
	if a > b {
		return a
	}
	return b
}

// MinThreshold zeroes values below the threshold, passing values at or
// above it through unchanged.
func MinThreshold(a, threshold, _ float64) float64 {
	if a < threshold {
		return 0
	}
	return a
}

// MaxThreshold returns max on above-threshold input and passes values at
// or below the threshold through unchanged — resolving spec §9's Open Question
// 3 (the reference implementation's op_max_threshold returns min_value on
// above-threshold input, which its own naming shows is a bug).
func MaxThreshold(a, threshold, max float64) float64 {
	if a > threshold {
		return max
	}
	return a
}

// Negate implements the unary "negate" operator: max - x (or 1 - x for
// float formats, since their max is 1).
func Negate(a, max float64) float64 { return max - a }

// Normalise reduces a per-pixel vector to its magnitude, normalised back
// into the format's native domain: each component is divided by max, and
// the Euclidean norm of the results is scaled back by max. It takes all of
// a pixel's channel values at once, so it does not have the per-channel
// Unary signature.
func Normalise(components []float64, max float64) float64 {
	var sumSq float64
	for _, c := range components {
		n := c / max
		sumSq += n * n
	}
	return math.Sqrt(sumSq) * max
}

// Difference implements |a - b|.
func Difference(a, b, _ float64) float64 {
	d := a - b
	if d < 0 {
		return -d
	}
	return d
}

// --- GIMP-style blending family. The reference implementation rounds
// using the (max+1) convention for integer formats; we reproduce that
// convention exactly so the round-trip behaviour at saturation boundaries
// matches the original tool.

func blendMax(max float64) float64 {
	if max == 1 {
		return 1 // float domain: no (max+1) rounding convention
	}
	return max + 1
}

// Screen implements the "screen" blend mode.
func Screen(a, b, max float64) float64 {
	bm := blendMax(max)
	return max - (max-a)*(max-b)/bm
}

// Overlay implements the "overlay" blend mode (hard-light with operands
// swapped).
func Overlay(a, b, max float64) float64 {
	return HardLight(b, a, max)
}

// Dodge implements the "color dodge" blend mode.
func Dodge(a, b, max float64) float64 {
	if b >= max {
		return max
	}
	return a * max / (max - b)
}

// Burn implements the "color burn" blend mode.
func Burn(a, b, max float64) float64 {
	if b <= 0 {
		return 0
	}
	return max - (max-a)*max/b
}

// HardLight implements the "hard light" blend mode.
func HardLight(a, b, max float64) float64 {
	bm := blendMax(max)
	half := max / 2
	if b <= half {
		return 2 * a * b / bm
	}
	return max - 2*(max-a)*(max-b)/bm
}

// --- Grain composition family: operates centred at max/2 so a grain layer
// can be carried as a signed quantity encoded in an unsigned image.

// GrainMultiply implements the "grain merge" multiplicative variant.
func GrainMultiply(a, b, max float64) float64 {
	if max == 0 {
		return a
	}
	return a * b / (max / 2)
}

// GrainMerge composes a base value with a grain value centred at max/2,
// producing a + b - max/2. spec §9 Open Question 2 flags the reference's
// 16-bit RGB specialisation as reusing the 8-bit operator; this package has
// exactly one GrainMerge shared by every format's dispatch entry, so that
// aliasing bug has no equivalent here.
func GrainMerge(a, b, max float64) float64 {
	return a + b - max/2
}

// GrainExtract is GrainMerge's inverse: a - b + max/2.
func GrainExtract(a, b, max float64) float64 {
	return a - b + max/2
}

// ApplyGrainAdd composes a source value with a grain value centred at
// max/2, adding only the grain's deviation from its midpoint.
func ApplyGrainAdd(source, grain, max float64) float64 {
	return source + (grain - max/2)
}

// ApplyGrainSubtract is the subtractive counterpart of ApplyGrainAdd.
func ApplyGrainSubtract(source, grain, max float64) float64 {
	return source - (grain - max/2)
}

// AlphaBlend implements standard source-over compositing: out = src*srcA +
// dst*(1-srcA). This resolves spec §9 Open Question 1 — the reference
// implementation asserts false here, leaving the semantics undefined; the
// operator's name and position alongside the other compositing operators
// admit no reading other than source-over.
func AlphaBlend(src, dst, srcAlpha float64) float64 {
	return src*srcAlpha + dst*(1-srcAlpha)
}
