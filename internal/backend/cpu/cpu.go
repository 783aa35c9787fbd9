// Package cpu implements the CPU tile kernel backend of spec §4.2: a slab
// allocator sized to the working layer's byte footprint, and a
// work-stealing-flavoured worker pool (via golang.org/x/sync/errgroup)
// that dispatches one goroutine per tile — a direct generalisation of the
// teacher's b_tile_parallel.go worker pool (fixed NUM_WORKERS draining a
// tileQueue channel) into a reusable backend rather than a one-shot
// benchmark harness.
package cpu

import (
	"image"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/grayforge/engine/internal/backend"
	"github.com/grayforge/engine/internal/engineerr"
	"github.com/grayforge/engine/internal/kernel"
	"github.com/grayforge/engine/internal/pixfmt"
)

// Image is the CPU realization of backend.Image: a kernel.Buffer view
// plus the immutable identity (format, width, height) spec §3 requires.
type Image struct {
	buf *kernel.Buffer
}

func (img *Image) Format() pixfmt.Format { return img.buf.Format }
func (img *Image) Width() int            { return img.buf.Width }
func (img *Image) Height() int           { return img.buf.Height }

// Buffer implements backend.Readback.
func (img *Image) Buffer() *kernel.Buffer { return img.buf }

// Device implements backend.Device over kernel.Buffer-backed images, with
// a slab allocator and a bounded tile worker pool.
type Device struct {
	mu       sync.Mutex
	slabs    *slabPool
	workers  int
	tileSide int
	live     map[*Image]bool
}

// New creates a CPU backend. workers <= 0 defaults to GOMAXPROCS.
func New(workers int) *Device {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Device{
		slabs:    newSlabPool(),
		workers:  workers,
		tileSide: kernel.DefaultTileSide,
		live:     make(map[*Image]bool),
	}
}

func (d *Device) ID() backend.ID { return backend.CPU }

// Allocate pulls a buffer from the slab pool if one of matching size is
// free, otherwise allocates fresh — spec §4.2's "pre-reserves N buffers...
// to avoid per-render allocator churn".
func (d *Device) Allocate(format pixfmt.Format, width, height int) (backend.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf := d.slabs.take(format, width, height)
	img := &Image{buf: buf}
	d.live[img] = true
	return img, nil
}

func (d *Device) Deallocate(obj backend.Image) {
	img, ok := obj.(*Image)
	if !ok {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.live, img)
	d.slabs.release(img.buf)
}

// ReleaseUnused drops slabs not referenced by any live object, matching
// spec §4.2's release_unused().
func (d *Device) ReleaseUnused() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slabs.trim()
}

func (d *Device) Upload(obj backend.Image, src []byte, rect image.Rectangle) error {
	img, err := asImage(obj)
	if err != nil {
		return err
	}
	if !rect.In(img.buf.Rect()) {
		return engineerr.ErrOutOfBounds
	}
	sub := &kernel.Buffer{Format: img.buf.Format, Width: rect.Dx(), Height: rect.Dy(), Data: src}
	img.buf.BlitFrom(rect, sub)
	return nil
}

func (d *Device) Download(obj backend.Image, dst []byte, rect image.Rectangle) error {
	img, err := asImage(obj)
	if err != nil {
		return err
	}
	if !rect.In(img.buf.Rect()) {
		return engineerr.ErrOutOfBounds
	}
	sub := img.buf.SubRect(rect)
	copy(dst, sub.Data)
	return nil
}

func (d *Device) Copy(src backend.Image, srcRect image.Rectangle, dst backend.Image, dstOrigin image.Point) error {
	s, err := asImage(src)
	if err != nil {
		return err
	}
	t, err := asImage(dst)
	if err != nil {
		return err
	}
	if s.buf.Format != t.buf.Format {
		return engineerr.ErrFormatMismatch
	}
	dstRect := image.Rectangle{Min: dstOrigin, Max: dstOrigin.Add(srcRect.Size())}
	if !dstRect.In(t.buf.Rect()) || !srcRect.In(s.buf.Rect()) {
		return engineerr.ErrOutOfBounds
	}
	sub := s.buf.SubRect(srcRect)
	t.buf.BlitFrom(dstRect, sub)
	return nil
}

func (d *Device) Fill(obj backend.Image, rect image.Rectangle, value pixfmt.Pixel) error {
	img, err := asImage(obj)
	if err != nil {
		return err
	}
	if !rect.In(img.buf.Rect()) {
		return engineerr.ErrOutOfBounds
	}
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			img.buf.Set(x, y, value)
		}
	}
	return nil
}

// Dispatch decomposes rect into tiles and fans them out across an
// errgroup-bounded worker pool — the CPU backend's realisation of spec
// §4.1's "tiles are scheduled to a worker pool". Tiles touch disjoint
// pixel regions, so no synchronisation beyond the errgroup's own
// completion barrier is needed.
func (d *Device) Dispatch(dstObj, src0Obj, src1Obj backend.Image, rect image.Rectangle, params any, crossChannel bool, fn kernel.PixelKernel) error {
	dst, err := asImage(dstObj)
	if err != nil {
		return err
	}
	src0, err := asImage(src0Obj)
	if err != nil {
		return err
	}
	var src1 *kernel.Buffer
	if src1Obj != nil {
		s1, err := asImage(src1Obj)
		if err != nil {
			return err
		}
		src1 = s1.buf
	}
	if err := kernel.CheckCompatible(dst.buf, rect, src0.buf, src1); err != nil {
		return err
	}

	tiles := kernel.Tiles(rect, d.tileSide)
	g := new(errgroup.Group)
	g.SetLimit(d.workers)
	for _, tile := range tiles {
		tile := tile
		g.Go(func() error {
			kernel.ApplyTile(dst.buf, src0.buf, src1, tile, params, crossChannel, fn)
			return nil
		})
	}
	return g.Wait()
}

func (d *Device) QueryMemoryUsage() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	var total int64
	for img := range d.live {
		total += int64(len(img.buf.Data))
	}
	return total + d.slabs.freeBytes()
}

func (d *Device) ReservePool(n int, bytesEach int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slabs.reserve(n, bytesEach)
	return nil
}

func asImage(obj backend.Image) (*Image, error) {
	img, ok := obj.(*Image)
	if !ok {
		return nil, engineerr.ErrFormatMismatch
	}
	return img, nil
}
