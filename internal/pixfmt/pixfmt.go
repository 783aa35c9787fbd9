// Package pixfmt implements the closed pixel-format registry (L1): channel
// counts, channel widths, saturation points and the conversion/clamp helpers
// every other layer of the engine builds on.
package pixfmt

import "fmt"

// Format is the closed set of pixel formats the engine understands.
type Format uint8

const (
	Mono8 Format = iota
	Mono16
	Mono16S
	Mono32F
	RGB8
	RGB16
	RGB16S
	RGB32F
	RGBA8
	RGBA16
	RGBA16S
	RGBA32F
)

// Kind is the channel storage kind.
type Kind uint8

const (
	Unorm Kind = iota
	Snorm
	Float
)

// Descriptor carries the derived attributes of a Format.
type Descriptor struct {
	Channels     int
	ChannelWidth int // bytes
	Kind         Kind
	MaxValue     float64
	Name         string
}

var descriptors = [...]Descriptor{
	Mono8:   {1, 1, Unorm, 255, "Mono8"},
	Mono16:  {1, 2, Unorm, 65535, "Mono16"},
	Mono16S: {1, 2, Snorm, 32767, "Mono16S"},
	Mono32F: {1, 4, Float, 1, "Mono32F"},
	RGB8:    {3, 1, Unorm, 255, "RGB8"},
	RGB16:   {3, 2, Unorm, 65535, "RGB16"},
	RGB16S:  {3, 2, Snorm, 32767, "RGB16S"},
	RGB32F:  {3, 4, Float, 1, "RGB32F"},
	RGBA8:   {4, 1, Unorm, 255, "RGBA8"},
	RGBA16:  {4, 2, Unorm, 65535, "RGBA16"},
	RGBA16S: {4, 2, Snorm, 32767, "RGBA16S"},
	RGBA32F: {4, 4, Float, 1, "RGBA32F"},
}

// Describe returns the Descriptor for f. It panics on an invalid format —
// the format enum is closed and any out-of-range value is a contract
// violation, not a recoverable runtime condition.
func Describe(f Format) Descriptor {
	if int(f) >= len(descriptors) {
		panic(fmt.Sprintf("pixfmt: invalid format %d", f))
	}
	return descriptors[f]
}

func (f Format) String() string { return Describe(f).Name }

// Channels is a convenience accessor for Describe(f).Channels.
func (f Format) Channels() int { return Describe(f).Channels }

// ChannelWidth is a convenience accessor for Describe(f).ChannelWidth.
func (f Format) ChannelWidth() int { return Describe(f).ChannelWidth }

// BytesPerPixel returns the per-pixel stride contribution of f.
func (f Format) BytesPerPixel() int {
	d := Describe(f)
	return d.Channels * d.ChannelWidth
}

// MaxValue is a convenience accessor for Describe(f).MaxValue.
func (f Format) MaxValue() float64 { return Describe(f).MaxValue }

// Kind is a convenience accessor for Describe(f).Kind.
func (f Format) Kind() Kind { return Describe(f).Kind }

// IsFloat reports whether f stores float32 channel samples.
func (f Format) IsFloat() bool { return Describe(f).Kind == Float }

// ClampUnit clamps a normalised [0,1] value, as used internally by every
// float-domain operator regardless of the destination format's storage kind.
func ClampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ClampToFormat clamps v (already in the format's native numeric domain) to
// the format's valid range: [0, MaxValue] for unorm/float, [-MaxValue,
// MaxValue] for snorm.
func ClampToFormat(f Format, v float64) float64 {
	d := Describe(f)
	switch d.Kind {
	case Snorm:
		if v < -d.MaxValue {
			return -d.MaxValue
		}
		if v > d.MaxValue {
			return d.MaxValue
		}
		return v
	default:
		if v < 0 {
			return 0
		}
		if v > d.MaxValue {
			return d.MaxValue
		}
		return v
	}
}

// ToUnit converts a native-domain sample to [0,1] (or [-1,1] for snorm).
func ToUnit(f Format, v float64) float64 {
	d := Describe(f)
	if d.Kind == Float {
		return v
	}
	return v / d.MaxValue
}

// FromUnit converts a [0,1] (or [-1,1] for snorm) sample back to the
// format's native domain, rounding to the nearest integer for non-float
// kinds.
func FromUnit(f Format, v float64) float64 {
	d := Describe(f)
	if d.Kind == Float {
		return v
	}
	return roundHalfAwayFromZero(v * d.MaxValue)
}

func roundHalfAwayFromZero(v float64) float64 {
	if v >= 0 {
		return float64(int64(v + 0.5))
	}
	return float64(int64(v - 0.5))
}

// HasAlpha reports whether f carries a dedicated alpha channel.
func HasAlpha(f Format) bool {
	switch f {
	case RGBA8, RGBA16, RGBA16S, RGBA32F:
		return true
	default:
		return false
	}
}

// IsMono reports whether f is a single-channel format.
func IsMono(f Format) bool { return Describe(f).Channels == 1 }
