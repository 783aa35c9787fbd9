// Package backend declares the capability set shared by the CPU tile
// kernel backend and the GPU tile texture backend (spec §4.2): allocate,
// free, upload/download, blit, fill and kernel dispatch, behind one
// interface so the filter graph and scheduler never special-case which
// backend they're talking to.
package backend

import (
	"image"

	"github.com/grayforge/engine/internal/kernel"
	"github.com/grayforge/engine/internal/pixfmt"
)

// ID identifies a backend kind. The engine ships exactly two.
type ID uint8

const (
	CPU ID = iota
	GPU
)

func (id ID) String() string {
	if id == GPU {
		return "gpu"
	}
	return "cpu"
}

// Set is the set of backends a session has selected; sessions typically
// run CPU-only, GPU-only, or both (for live preview on GPU with a CPU
// fallback on device loss).
type Set map[ID]bool

// Image is the opaque BackendImageObject of spec §3: immutable format/
// size after construction, mutable pixel data, always addressable by its
// owning Device.
type Image interface {
	Format() pixfmt.Format
	Width() int
	Height() int
}

// Device is the capability set of spec §4.2, implemented by
// internal/backend/cpu and internal/backend/gpu.
type Device interface {
	ID() ID
	Allocate(format pixfmt.Format, width, height int) (Image, error)
	Deallocate(obj Image)
	Upload(obj Image, src []byte, rect image.Rectangle) error
	Download(obj Image, dst []byte, rect image.Rectangle) error
	Copy(src Image, srcRect image.Rectangle, dst Image, dstOrigin image.Point) error
	Fill(obj Image, rect image.Rectangle, value pixfmt.Pixel) error
	Dispatch(dst, src0 Image, src1 Image, rect image.Rectangle, params any, crossChannel bool, fn kernel.PixelKernel) error
	QueryMemoryUsage() int64
	ReservePool(n int, bytesEach int64) error
}

// Readback is implemented by images whose backend can hand back a CPU-side
// Buffer view directly (the CPU backend always can; the GPU backend can
// after a ReadPixels staging round trip). Layer.Retrieve uses this to
// implement spec §4.3's "prefers the CPU realization" rule without a type
// switch over concrete backend packages.
type Readback interface {
	Buffer() *kernel.Buffer
}
