// Package filter implements the common filter framework of spec.md §4.4:
// a closed-set filter kind, a Filter interface every concrete filter
// (bwmixer, curves, sharpen, grain, splittone, vignette) implements, and
// the cache-key type used to keep auxiliary layers (blurs, grain tiles)
// keyed by the backend/size/format they were computed for.
package filter

import (
	"image"

	"github.com/grayforge/engine/internal/backend"
	"github.com/grayforge/engine/internal/kernel"
	"github.com/grayforge/engine/internal/layer"
	"github.com/grayforge/engine/internal/pixfmt"
	"github.com/grayforge/engine/internal/preset"
)

// Kind is the closed set of filter kinds spec.md §3 enumerates.
type Kind uint8

const (
	BWMixer Kind = iota
	Curves
	CascadedSharpen
	FilmGrain
	SplitTone
	Vignette
)

func (k Kind) String() string {
	switch k {
	case BWMixer:
		return "bwmixer"
	case Curves:
		return "curves"
	case CascadedSharpen:
		return "sharpen"
	case FilmGrain:
		return "filmgrain"
	case SplitTone:
		return "splittone"
	case Vignette:
		return "vignette"
	default:
		return "unknown"
	}
}

// Devices is the per-backend device registry every render needs to
// reach a layer's mirror table or drive a Dispatch directly. It is a
// type alias over the same map type layer.Layer's synchronization
// methods accept, so no conversion is needed at the call boundary.
type Devices = map[backend.ID]backend.Device

// Filter is the interface spec.md §4.4 describes: identity, preset
// round-trip, and the render contract (read source_layer, write a new
// image of the same format/size into destination_layer, over rect).
type Filter interface {
	Kind() Kind
	Name() string
	ToPreset() *preset.Preset
	FromPreset(p *preset.Preset) bool
	Render(devs Devices, dev backend.Device, dst, src *layer.Layer, rect image.Rectangle) error
	// Precompute runs every filter-specific idempotent precompute hook
	// (update_curve, update_cascades, reset_grain, ...); it is safe and
	// cheap to call even when nothing has changed.
	Precompute()
	// ReleaseCache drops any auxiliary layers/buffers cached on this
	// instance, used when the filter is disabled or its parameters
	// invalidate the cache.
	ReleaseCache()
}

// CacheKey identifies one auxiliary-layer cache entry, keyed exactly as
// spec.md §4.4 specifies: "(backend_id, width, height, format)" plus an
// optional filter-specific discriminant (a blur radius, a grain seed).
type CacheKey struct {
	Backend backend.ID
	Width   int
	Height  int
	Format  pixfmt.Format
	Extra   float64
}

// RenderKernel is the single-source-image render path shared by the
// filters whose output pixel depends only on the same source pixel
// (bwmixer, curves, splittone): it ensures both layers are realized on
// dev, dispatches fn over rect, and marks dst dirty on every other
// backend.
func RenderKernel(devs Devices, dev backend.Device, dst, src *layer.Layer, rect image.Rectangle, crossChannel bool, params any, fn kernel.PixelKernel) error {
	if err := src.UpdateDataForBackend(devs, dev.ID()); err != nil {
		return err
	}
	if err := dst.UpdateDataForBackend(devs, dev.ID()); err != nil {
		return err
	}
	srcObj, _ := src.BackendObject(dev.ID())
	dstObj, _ := dst.BackendObject(dev.ID())
	if err := dev.Dispatch(dstObj, srcObj, nil, rect, params, crossChannel, fn); err != nil {
		return err
	}
	dst.MarkDirtyExcept(dev.ID())
	return nil
}

// RenderKernel2 is RenderKernel's two-source variant, for kernels that
// read a second layer pixel by pixel. None of the six filters calls it:
// film grain composes its cached grain tile on the CPU instead.
func RenderKernel2(devs Devices, dev backend.Device, dst, src0, src1 *layer.Layer, rect image.Rectangle, crossChannel bool, params any, fn kernel.PixelKernel) error {
	if err := src0.UpdateDataForBackend(devs, dev.ID()); err != nil {
		return err
	}
	if err := src1.UpdateDataForBackend(devs, dev.ID()); err != nil {
		return err
	}
	if err := dst.UpdateDataForBackend(devs, dev.ID()); err != nil {
		return err
	}
	src0Obj, _ := src0.BackendObject(dev.ID())
	src1Obj, _ := src1.BackendObject(dev.ID())
	dstObj, _ := dst.BackendObject(dev.ID())
	if err := dev.Dispatch(dstObj, src0Obj, src1Obj, rect, params, crossChannel, fn); err != nil {
		return err
	}
	dst.MarkDirtyExcept(dev.ID())
	return nil
}
