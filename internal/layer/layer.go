// Package layer implements the tiled image/layer data model (L3): a
// logical image backed by zero or more per-backend realizations kept
// coherent under an explicit mirror-table discipline, as spec.md §3/§4.3
// describe. Grounded on the teacher's tile/assembly bookkeeping
// (ImageTile/ProcessedImageTile in pkg/common/types.go track a tile's
// (x, y, width, height) identity across a network hop; Layer tracks a
// whole image's identity across backend realizations) generalized from
// "one struct per wire message" to "one struct per mirror table".
package layer

import (
	"image"
	"sync"

	"github.com/grayforge/engine/internal/backend"
	"github.com/grayforge/engine/internal/engineerr"
	"github.com/grayforge/engine/internal/kernel"
	"github.com/grayforge/engine/internal/pixfmt"
)

// MaskMode selects how a layer's mask modulates its content; the engine
// treats it as an opaque enum that filters/scheduler interpret.
type MaskMode uint8

const (
	MaskNone MaskMode = iota
	MaskMultiply
	MaskReplace
)

// realization is one backend's mirror of a layer's pixel content.
type realization struct {
	obj   backend.Image
	dirty bool
}

// Layer is a logical image: a name, a format/size, and a mirror table
// mapping backend.ID to its realization. Per spec.md §3, all
// realizations of one layer share format/width/height, and at least one
// realization is clean whenever the layer is observable.
type Layer struct {
	mu   sync.RWMutex
	name string

	format pixfmt.Format
	width  int
	height int

	mirrors map[backend.ID]*realization

	mask     *Layer
	maskMode MaskMode
}

// New creates an empty layer of the given format/size with no backend
// realizations. The layer is not observable (no clean realization) until
// a realization is created via UpdateDataForBackend, Fill, or Reset.
func New(name string, format pixfmt.Format, width, height int) *Layer {
	return &Layer{
		name:    name,
		format:  format,
		width:   width,
		height:  height,
		mirrors: make(map[backend.ID]*realization),
	}
}

func (l *Layer) Name() string          { return l.name }
func (l *Layer) Format() pixfmt.Format { return l.format }
func (l *Layer) Width() int            { return l.width }
func (l *Layer) Height() int           { return l.height }
func (l *Layer) Rect() image.Rectangle { return image.Rect(0, 0, l.width, l.height) }

// SetMask installs mask as this layer's mask under the given mode. mask
// must share this layer's width/height and be single-channel; passing a
// nil mask clears it. Per spec.md §3, masks follow the same mirror
// discipline — they are ordinary Layers.
func (l *Layer) SetMask(mask *Layer, mode MaskMode) error {
	if mask != nil {
		if mask.width != l.width || mask.height != l.height {
			return engineerr.ErrOutOfBounds
		}
		if !pixfmt.IsMono(mask.format) {
			return engineerr.Raise("mask layer must be single-channel")
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mask = mask
	l.maskMode = mode
	return nil
}

func (l *Layer) Mask() (*Layer, MaskMode) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.mask, l.maskMode
}

// devices is the registry of backend devices a session has attached,
// passed explicitly to every operation that might need to synchronize a
// mirror — Layer itself never reaches for a package-global device table.
// It is a type alias (not a defined type) so callers elsewhere in the
// engine can pass their own identically-aliased map type without an
// explicit conversion at every call site.
type devices = map[backend.ID]backend.Device

// anyClean returns the backend.ID of an arbitrary clean realization, or
// ok=false if the layer has none. Caller must hold at least a read lock.
func (l *Layer) anyClean() (backend.ID, bool) {
	for id, r := range l.mirrors {
		if !r.dirty {
			return id, true
		}
	}
	return 0, false
}

// markAllDirtyExcept sets every realization's dirty flag except keep.
// Caller must hold the write lock. This is the "mutation through one
// backend invalidates the others" invariant of spec.md §3.
func (l *Layer) markAllDirtyExcept(keep backend.ID) {
	for id, r := range l.mirrors {
		if id != keep {
			r.dirty = true
		}
	}
}

// UpdateDataForBackend is the only operation that may perform a GPU↔CPU
// transfer (spec.md §4.3): it ensures target's realization exists and is
// clean, synchronizing from any clean realization if one exists, or
// allocating a fresh (undefined-content) realization if the layer has
// none at all yet.
func (l *Layer) UpdateDataForBackend(devs devices, target backend.ID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.synchronizeLocked(devs, target)
}

func (l *Layer) synchronizeLocked(devs devices, target backend.ID) error {
	r, exists := l.mirrors[target]
	if exists && !r.dirty {
		return nil // already clean; idempotent
	}

	dev, ok := devs[target]
	if !ok {
		return engineerr.Raise("no device registered for target backend")
	}

	if !exists {
		obj, err := dev.Allocate(l.format, l.width, l.height)
		if err != nil {
			return err
		}
		r = &realization{obj: obj, dirty: true}
		l.mirrors[target] = r
	}

	srcID, hasClean := l.anyClean()
	if !hasClean {
		// No realization anywhere yet: the target becomes authoritative
		// with whatever the device returned for a fresh allocation.
		r.dirty = false
		return nil
	}
	if srcID == target {
		r.dirty = false
		return nil
	}

	srcDev, ok := devs[srcID]
	if !ok {
		return engineerr.Raise("no device registered for source backend")
	}
	srcObj := l.mirrors[srcID].obj

	if err := transfer(srcDev, srcObj, dev, r.obj, l.format, l.width, l.height); err != nil {
		return err
	}
	r.dirty = false
	return nil
}

// transfer moves the full rectangle of src into dst. If src and dst are
// the same device it is a within-backend Copy; otherwise it stages
// through a CPU byte buffer (spec.md §4.2: "cross-backend copies go
// through CPU staging").
func transfer(srcDev backend.Device, src backend.Image, dstDev backend.Device, dst backend.Image, format pixfmt.Format, width, height int) error {
	rect := image.Rect(0, 0, width, height)
	if srcDev.ID() == dstDev.ID() {
		return dstDev.Copy(src, rect, dst, image.Point{})
	}
	buf := make([]byte, width*height*format.BytesPerPixel())
	if err := srcDev.Download(src, buf, rect); err != nil {
		return err
	}
	return dstDev.Upload(dst, buf, rect)
}

// Retrieve copies the layer's content over rect into dst, a caller-owned
// kernel.Buffer of the same format/size as rect. Per spec.md §4.3 it
// prefers the CPU realization, synchronizing CPU first if necessary.
func (l *Layer) Retrieve(devs devices, dst *kernel.Buffer, rect image.Rectangle) error {
	l.mu.Lock()
	if err := l.synchronizeLocked(devs, backend.CPU); err != nil {
		l.mu.Unlock()
		return err
	}
	r := l.mirrors[backend.CPU]
	l.mu.Unlock()

	rb, ok := r.obj.(backend.Readback)
	if !ok {
		return engineerr.Raise("CPU realization does not support readback")
	}
	src := rb.Buffer()
	if !rect.In(src.Rect()) {
		return engineerr.ErrOutOfBounds
	}
	sub := src.SubRect(rect)
	dst.BlitFrom(image.Rect(0, 0, rect.Dx(), rect.Dy()), sub)
	return nil
}

// Copy copies srcRect of src into this layer at dstOrigin, preferring a
// backend both layers already hold clean (spec.md §4.3), and otherwise
// synchronizing this layer's CPU realization from src's CPU realization.
func (l *Layer) Copy(devs devices, src *Layer, srcRect image.Rectangle, dstOrigin image.Point) error {
	if src.format != l.format {
		return engineerr.ErrFormatMismatch
	}

	src.mu.RLock()
	shared, ok := sharedClean(src, l)
	src.mu.RUnlock()

	if ok {
		l.mu.Lock()
		defer l.mu.Unlock()
		if err := l.synchronizeLocked(devs, shared); err != nil {
			return err
		}
		src.mu.RLock()
		srcObj := src.mirrors[shared].obj
		src.mu.RUnlock()
		dev := devs[shared]
		dstRect := image.Rectangle{Min: dstOrigin, Max: dstOrigin.Add(srcRect.Size())}
		if !dstRect.In(l.Rect()) {
			return engineerr.ErrOutOfBounds
		}
		if err := dev.Copy(srcObj, srcRect, l.mirrors[shared].obj, dstOrigin); err != nil {
			return err
		}
		l.markAllDirtyExcept(shared)
		return nil
	}

	buf := kernel.NewBuffer(src.format, srcRect.Dx(), srcRect.Dy())
	if err := src.Retrieve(devs, buf, srcRect); err != nil {
		return err
	}
	return l.writeCPU(devs, buf, dstOrigin)
}

// sharedClean returns a backend.ID both a and b hold a clean realization
// on, if any. Caller holds src's read lock; dst is locked separately by
// the caller as needed.
func sharedClean(a, b *Layer) (backend.ID, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ra := range a.mirrors {
		if ra.dirty {
			continue
		}
		if rb, ok := b.mirrors[id]; ok && !rb.dirty {
			return id, true
		}
	}
	return 0, false
}

// WriteBuffer uploads buf into this layer's CPU realization at origin,
// marking every other backend dirty. Used by filters whose computation
// can't be expressed as the two-source kernel.Dispatch contract
// (cascaded sharpen's N-cascade sum, film grain's noise/blur/curve
// pipeline) and instead compute a full result buffer directly before
// committing it.
func (l *Layer) WriteBuffer(devs devices, buf *kernel.Buffer, origin image.Point) error {
	return l.writeCPU(devs, buf, origin)
}

func (l *Layer) writeCPU(devs devices, buf *kernel.Buffer, dstOrigin image.Point) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.synchronizeLocked(devs, backend.CPU); err != nil {
		return err
	}
	r := l.mirrors[backend.CPU]
	rect := image.Rectangle{Min: dstOrigin, Max: dstOrigin.Add(image.Pt(buf.Width, buf.Height))}
	if !rect.In(l.Rect()) {
		return engineerr.ErrOutOfBounds
	}
	dev := devs[backend.CPU]
	if err := dev.Upload(r.obj, buf.Data, rect); err != nil {
		return err
	}
	l.markAllDirtyExcept(backend.CPU)
	return nil
}

// Fill sets every pixel in rect to value on target, marking every other
// backend dirty.
func (l *Layer) Fill(devs devices, target backend.ID, rect image.Rectangle, value pixfmt.Pixel) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.synchronizeLocked(devs, target); err != nil {
		return err
	}
	dev := devs[target]
	r := l.mirrors[target]
	if err := dev.Fill(r.obj, rect, value); err != nil {
		return err
	}
	l.markAllDirtyExcept(target)
	return nil
}

// Reset clears the whole layer to the zero pixel on target.
func (l *Layer) Reset(devs devices, target backend.ID) error {
	return l.Fill(devs, target, l.Rect(), pixfmt.Pixel{N: l.format.Channels()})
}

// DeleteDataForBackend drops one realization. The layer remains
// observable as long as another realization is clean (spec.md §4.3); it
// is a contract violation to delete the last clean realization.
func (l *Layer) DeleteDataForBackend(devs devices, id backend.ID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.mirrors[id]
	if !ok {
		return nil
	}
	if !r.dirty {
		stillObservable := false
		for other, or := range l.mirrors {
			if other != id && !or.dirty {
				stillObservable = true
				break
			}
		}
		if !stillObservable {
			return engineerr.Raise("cannot delete the last clean realization")
		}
	}
	dev, ok := devs[id]
	if ok {
		dev.Deallocate(r.obj)
	}
	delete(l.mirrors, id)
	return nil
}

// Duplicate returns a new Layer with the same format/size and content,
// realized on whichever backend this layer already has clean.
func (l *Layer) Duplicate(devs devices) (*Layer, error) {
	l.mu.RLock()
	srcID, ok := l.anyClean()
	l.mu.RUnlock()
	if !ok {
		return New(l.name+" copy", l.format, l.width, l.height), nil
	}

	out := New(l.name+" copy", l.format, l.width, l.height)
	dev := devs[srcID]
	obj, err := dev.Allocate(l.format, l.width, l.height)
	if err != nil {
		return nil, err
	}
	l.mu.RLock()
	srcObj := l.mirrors[srcID].obj
	l.mu.RUnlock()
	if err := dev.Copy(srcObj, l.Rect(), obj, image.Point{}); err != nil {
		dev.Deallocate(obj)
		return nil, err
	}
	out.mirrors[srcID] = &realization{obj: obj, dirty: false}
	return out, nil
}

// HasClean reports whether any backend realization is currently clean —
// used by tests and the scheduler's "is this layer observable" checks.
func (l *Layer) HasClean() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.anyClean()
	return ok
}

// IsDirty reports whether id's realization is absent or dirty.
func (l *Layer) IsDirty(id backend.ID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.mirrors[id]
	return !ok || r.dirty
}

// BackendObject exposes the raw backend.Image for id, for callers (the
// scheduler, filters) that already hold the matching backend.Device and
// want to drive Dispatch directly rather than going through Retrieve.
// Returns nil, false if id has no realization.
func (l *Layer) BackendObject(id backend.ID) (backend.Image, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.mirrors[id]
	if !ok {
		return nil, false
	}
	return r.obj, true
}

// MarkDirtyExcept is exported for the scheduler/filter layer, which
// mutates a backend object directly via Dispatch and must then tell the
// mirror table every other realization is now stale.
func (l *Layer) MarkDirtyExcept(keep backend.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.markAllDirtyExcept(keep)
}

// MarkClean clears id's dirty flag without touching any other
// realization — used once a Dispatch into id's object has completed.
func (l *Layer) MarkClean(id backend.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.mirrors[id]; ok {
		r.dirty = false
	}
}
